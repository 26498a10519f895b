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

// StartCommand represents the command to start watching a directory on a
// running daemon.
type StartCommand struct {
	Stdout io.Writer
}

// Run executes the start command.
func (c *StartCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("dirwatch-start", flag.ContinueOnError)
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

	// Resolve relative paths against the caller's working directory.
	path, err := expand(fs.Arg(0))
	if err != nil {
		return err
	}

	client := newSocketClient(*socketPath, time.Duration(*timeout)*time.Second)

	var resp dirwatch.StartResponse
	if err := doJSON(ctx, client, "POST", "/start", "start", dirwatch.StartRequest{Path: path}, &resp); err != nil {
		return err
	}

	w := c.Stdout
	if w == nil {
		w = os.Stdout
	}
	return printJSON(w, resp)
}

// Usage prints the help text for the start command.
func (c *StartCommand) Usage() {
	fmt.Printf(`
usage: dirwatch start [OPTIONS] DIR

Start watching a directory on a running daemon.

Options:
  -timeout SECONDS
      Maximum time to wait in seconds (default: 30).

  -socket PATH
      Path to control socket (default: %s).
`[1:], defaultSocketPath)
}
