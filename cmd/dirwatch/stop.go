package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dirwatch/dirwatch"
)

// StopCommand represents the command to stop watching a directory on a
// running daemon.
type StopCommand struct {
	Stdout io.Writer
}

// Run executes the stop command.
func (c *StopCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("dirwatch-stop", flag.ContinueOnError)
	timeout := fs.Int("timeout", 30, "timeout in seconds")
	socketPath := registerSocketFlag(fs)
	fs.Usage = c.Usage
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() == 0 {
		return fmt.Errorf("directory path required")
	} else if fs.NArg() > 1 {
		return fmt.Errorf("too many arguments")
	}

	path, err := expand(fs.Arg(0))
	if err != nil {
		return err
	}

	// Leave the client headroom over the daemon's own stop wait.
	clientTimeout := time.Duration(*timeout)*time.Second + 5*time.Second
	client := newSocketClient(*socketPath, clientTimeout)

	var resp dirwatch.StopResponse
	req := dirwatch.StopRequest{Path: path, Timeout: *timeout}
	if err := doJSON(ctx, client, "POST", "/stop", "stop", req, &resp); err != nil {
		return err
	}

	w := c.Stdout
	if w == nil {
		w = os.Stdout
	}
	return printJSON(w, resp)
}

// Usage prints the help text for the stop command.
func (c *StopCommand) Usage() {
	fmt.Printf(`
usage: dirwatch stop [OPTIONS] DIR

Stop watching a directory on a running daemon.

Options:
  -timeout SECONDS
      Maximum time to wait for the watch to stop (default: 30).

  -socket PATH
      Path to control socket (default: %s).
`[1:], defaultSocketPath)
}
