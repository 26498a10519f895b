package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dirwatch/dirwatch"
)

// StatusCommand is a command for displaying the watches of a running daemon.
type StatusCommand struct {
	Stdout io.Writer
}

// Run executes the command.
func (c *StatusCommand) Run(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("dirwatch-status", flag.ContinueOnError)
	socketPath := registerSocketFlag(fs)
	fs.Usage = c.Usage
	if err := fs.Parse(args); err != nil {
		return err
	}

	// If a specific directory is provided, filter to just that one.
	var filterPath string
	if fs.NArg() > 1 {
		return fmt.Errorf("too many arguments")
	} else if fs.NArg() == 1 {
		if filterPath, err = expand(fs.Arg(0)); err != nil {
			return err
		}
	}

	client := newSocketClient(*socketPath, 30*time.Second)

	var resp dirwatch.StatusResponse
	if err := doJSON(ctx, client, "GET", "/status", "status", nil, &resp); err != nil {
		return err
	}

	out := c.Stdout
	if out == nil {
		out = os.Stdout
	}
	writeStatuses(out, resp.Watches, filterPath, time.Now())
	return nil
}

// writeStatuses prints one row per watch relative to now.
func writeStatuses(out io.Writer, statuses []dirwatch.WatchStatus, filterPath string, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "path\tstate\tstarted\tstopped\tevents\terror")
	for _, status := range statuses {
		if filterPath != "" && status.Path != filterPath {
			continue
		}

		errMsg := status.Error
		if errMsg == "" {
			errMsg = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			status.Path,
			status.State,
			relativeTime(status.StartedAt, now),
			relativeTime(status.StoppedAt, now),
			humanize.Comma(int64(status.Events)),
			errMsg,
		)
	}
}

func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// Usage prints the help screen to STDOUT.
func (c *StatusCommand) Usage() {
	fmt.Printf(`
The status command lists running and recently ended watches of a running
daemon.

Usage:

	dirwatch status [arguments] [DIR]

Arguments:

	-socket PATH
	    Path to control socket.
	    Defaults to %s

If a directory is provided, only that watch's status is shown.

Output columns:
  path          Watched directory
  state         idle, running, stopping, stopped or failed
  started       Time since the watch started
  stopped       Time since the watch ended
  events        Number of events published
  error         Error that ended the watch, if any

`[1:],
		defaultSocketPath,
	)
}
