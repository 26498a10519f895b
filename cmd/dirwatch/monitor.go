package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/markusmobius/go-dateparser"

	"github.com/dirwatch/dirwatch"
)

// MonitorCommand represents the command to stream events from a running
// daemon.
type MonitorCommand struct {
	Stdout io.Writer
}

// Run executes the monitor command.
func (c *MonitorCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("dirwatch-monitor", flag.ContinueOnError)
	socketPath := registerSocketFlag(fs)
	pathFilter := fs.String("path", "", "filter to specific directory")
	since := fs.String("since", "", "replay history since time")
	rawOutput := fs.Bool("raw", false, "output raw NDJSON without formatting")
	fs.Usage = c.Usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() > 0 {
		return fmt.Errorf("too many arguments")
	}

	q := url.Values{}
	if *pathFilter != "" {
		path, err := expand(*pathFilter)
		if err != nil {
			return err
		}
		q.Set("path", path)
	}
	if *since != "" {
		t, err := parseTimeValue(*since, time.Now())
		if err != nil {
			return err
		}
		q.Set("since", t.Format(time.RFC3339Nano))
	}

	u := "http://localhost/monitor"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := newSocketClient(*socketPath, 0).Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to control socket: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("monitor failed: %s", resp.Status)
	}

	w := c.Stdout
	if w == nil {
		w = os.Stdout
	}

	// Stream NDJSON events
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		if *rawOutput {
			fmt.Fprintln(w, line)
			continue
		}

		var event dirwatch.Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to parse event: %v\n", err)
			continue
		}
		fmt.Fprintln(w, event.Line())
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("error reading stream: %w", err)
	}

	return nil
}

// parseTimeValue parses a timestamp string, trying RFC3339 first, then
// relative expressions such as "5 minutes ago" evaluated against now.
func parseTimeValue(value string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}

	cfg := &dateparser.Configuration{
		CurrentTime: now.UTC(),
	}
	result, err := dateparser.Parse(cfg, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp (expected RFC3339 or relative time like '5 minutes ago'): %s", value)
	}
	if result.Time.IsZero() {
		return time.Time{}, fmt.Errorf("could not parse time: %s", value)
	}
	return result.Time.UTC(), nil
}

// Usage prints the help text for the monitor command.
func (c *MonitorCommand) Usage() {
	fmt.Printf(`
usage: dirwatch monitor [OPTIONS]

Stream events from a running daemon in real-time.

Connects to the dirwatch control socket, replays the retained history and
then prints events as they occur until interrupted.

Options:
  -socket PATH
      Path to control socket (default: %s).

  -path DIR
      Filter events to a specific directory.

  -since TIME
      Only replay history at or after TIME. Accepts RFC3339 timestamps or
      relative expressions such as "5 minutes ago".

  -raw
      Output raw NDJSON without formatting.

Examples:
  # Monitor all directories
  dirwatch monitor

  # Monitor a specific directory
  dirwatch monitor -path /srv/inbox

  # Output raw NDJSON (for piping to other tools)
  dirwatch monitor -raw | jq .
`[1:], defaultSocketPath)
}
