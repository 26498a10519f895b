package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dirwatch/dirwatch"
)

// WatchCommand watches a single directory in the foreground and writes its
// events to STDOUT until interrupted.
type WatchCommand struct {
	Config Config

	// Stdout receives event lines.
	Stdout io.Writer

	// Stderr receives log output so it never interleaves with events.
	Stderr io.Writer
}

// NewWatchCommand returns a new instance of WatchCommand.
func NewWatchCommand() *WatchCommand {
	return &WatchCommand{
		Config: DefaultConfig(),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run executes the command. It returns once the watch ends, either on its own
// or after ctx is canceled or a signal is received.
func (c *WatchCommand) Run(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("dirwatch-watch", flag.ContinueOnError)
	configPath, noExpandEnv := registerConfigFlag(fs)
	pollInterval := fs.Duration("poll-interval", 0, "maximum wait per poll")
	stopTimeout := fs.Duration("stop-timeout", 0, "maximum wait for the watch to stop")
	backend := fs.String("backend", "", "notification backend: native or fsnotify")
	format := fs.String("format", "", "output format: text or json")
	fs.Usage = c.Usage
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() == 0 {
		return fmt.Errorf("directory path required")
	} else if fs.NArg() > 1 {
		return fmt.Errorf("too many arguments")
	}

	// The config file is optional; flags override its settings.
	if *configPath != "" {
		if c.Config, err = ReadConfigFile(*configPath, !*noExpandEnv); err != nil {
			return err
		}
	}
	if *pollInterval != 0 {
		c.Config.PollInterval = pollInterval
	}
	if *stopTimeout != 0 {
		c.Config.StopTimeout = stopTimeout
	}
	if *backend != "" {
		c.Config.Backend = *backend
	}
	if *format != "" {
		c.Config.Output.Format = *format
	}
	if err := c.Config.Validate(); err != nil {
		return err
	}
	logOutput := c.Stderr
	if logOutput == nil {
		logOutput = os.Stderr
	}
	initLog(logOutput, c.Config.Logging.Level, c.Config.Logging.Type)

	path, err := expand(fs.Arg(0))
	if err != nil {
		return err
	}

	notifier, err := c.Config.Notifier()
	if err != nil {
		return err
	}

	sink := dirwatch.NewWriterSink(c.Stdout, c.Config.Output.Format)
	engine, err := dirwatch.NewEngine(path, sink, notifier)
	if err != nil {
		return err
	}
	engine.OverflowAdvisory = c.Config.OverflowAdvisory == nil || *c.Config.OverflowAdvisory
	if c.Config.PollInterval != nil {
		engine.PollInterval = *c.Config.PollInterval
	}

	timeout := dirwatch.DefaultStopTimeout
	if c.Config.StopTimeout != nil {
		timeout = *c.Config.StopTimeout
	}

	signalCh := signalChan()

	errCh := make(chan error, 1)
	go func() { errCh <- engine.Run() }()

	select {
	case err := <-errCh:
		return c.finish(engine, err)
	case <-ctx.Done():
		slog.Info("context done, stopping watch", "path", path)
	case <-signalCh:
		slog.Info("signal received, stopping watch", "path", path)
	}

	engine.RequestStop()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return c.finish(engine, err)
	case <-timer.C:
		slog.Error("watch did not stop in time, abandoning", "path", path, "timeout", timeout)
		return fmt.Errorf("%w: %s", dirwatch.ErrStopTimeout, path)
	}
}

// finish reports how the engine ended.
func (c *WatchCommand) finish(engine *dirwatch.Engine, err error) error {
	if err != nil {
		return err
	}
	if errors.Is(engine.Err(), dirwatch.ErrWatchInvalidated) {
		slog.Warn("watch invalidated", "path", engine.Path())
	}
	return nil
}

// Usage prints the help screen to STDOUT.
func (c *WatchCommand) Usage() {
	fmt.Printf(`
The watch command watches a single directory and prints one line for each
file created, modified or deleted in it until interrupted.

Usage:

	dirwatch watch [arguments] DIR

Arguments:

	-config PATH
	    Specifies an optional configuration file.

	-no-expand-env
	    Disables environment variable expansion in configuration file.

	-poll-interval DURATION
	    Maximum time to wait for notifications before checking for a stop
	    request. Must be less than 1s. Defaults to %s.

	-stop-timeout DURATION
	    Maximum time to wait for the watch to stop. Defaults to %s.

	-backend NAME
	    Notification backend: native or fsnotify.

	-format FORMAT
	    Output format: text or json. Defaults to text.

`[1:], dirwatch.DefaultPollInterval, dirwatch.DefaultStopTimeout)
}
