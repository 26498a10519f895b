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

// ClearCommand represents the command to drop the event history retained by
// a running daemon.
type ClearCommand struct {
	Stdout io.Writer
}

// Run executes the clear command.
func (c *ClearCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("dirwatch-clear", flag.ContinueOnError)
	socketPath := registerSocketFlag(fs)
	fs.Usage = c.Usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() > 0 {
		return fmt.Errorf("too many arguments")
	}

	client := newSocketClient(*socketPath, 30*time.Second)

	var resp dirwatch.ClearResponse
	if err := doJSON(ctx, client, "POST", "/clear", "clear", struct{}{}, &resp); err != nil {
		return err
	}

	w := c.Stdout
	if w == nil {
		w = os.Stdout
	}
	_, err := fmt.Fprintf(w, "cleared %d event(s)\n", resp.Cleared)
	return err
}

// Usage prints the help text for the clear command.
func (c *ClearCommand) Usage() {
	fmt.Printf(`
usage: dirwatch clear [OPTIONS]

Clear the event history retained by a running daemon. Live monitors are not
affected.

Options:
  -socket PATH
      Path to control socket (default: %s).
`[1:], defaultSocketPath)
}
