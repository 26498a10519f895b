package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dirwatch/dirwatch"
	"github.com/dirwatch/dirwatch/nats"
)

// ServeCommand represents a daemon that watches the configured directories
// and accepts control commands over a Unix socket.
type ServeCommand struct {
	metrics  *http.Server
	natsSink *nats.Sink
	hooks    []*HookSink

	Config Config

	// Output receives event lines. Defaults to STDOUT or STDERR per config.
	Output io.Writer

	// Sinks receive every event in addition to the configured sinks.
	Sinks []dirwatch.EventSink

	Manager *dirwatch.Manager
	Server  *dirwatch.Server
	Monitor *dirwatch.Monitor
	History *dirwatch.MemorySink
}

// NewServeCommand returns a new instance of ServeCommand.
func NewServeCommand() *ServeCommand {
	return &ServeCommand{Config: DefaultConfig()}
}

// ParseFlags parses the CLI flags and loads the configuration file.
func (c *ServeCommand) ParseFlags(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("dirwatch-serve", flag.ContinueOnError)
	configPath, noExpandEnv := registerConfigFlag(fs)
	fs.Usage = c.Usage
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Load configuration or use CLI args as the watch list.
	if fs.NArg() > 0 {
		if *configPath != "" {
			return fmt.Errorf("cannot specify a directory and the -config flag")
		}

		c.Config = DefaultConfig()
		for _, arg := range fs.Args() {
			path, err := expand(arg)
			if err != nil {
				return err
			}
			c.Config.Watches = append(c.Config.Watches, &WatchConfig{Path: path})
		}
		return c.Config.Validate()
	}

	if *configPath == "" {
		*configPath = DefaultConfigPath()
	}
	if c.Config, err = ReadConfigFile(*configPath, !*noExpandEnv); err != nil {
		return err
	}
	return nil
}

// Run starts the sinks, the control socket and the configured watches.
func (c *ServeCommand) Run(ctx context.Context) (err error) {
	// Display version information.
	slog.Info("dirwatch", "version", Version)

	notifier, err := c.Config.Notifier()
	if err != nil {
		return err
	}

	sinks, err := c.openSinks(ctx)
	if err != nil {
		return err
	}

	c.Manager = dirwatch.NewManager(sinks)
	c.Manager.Notifier = notifier
	c.Manager.OverflowAdvisory = c.Config.OverflowAdvisory == nil || *c.Config.OverflowAdvisory
	if c.Config.PollInterval != nil {
		c.Manager.PollInterval = *c.Config.PollInterval
	}
	if c.Config.StopTimeout != nil {
		c.Manager.StopTimeout = *c.Config.StopTimeout
	}

	// Start control server, if enabled.
	if c.Config.Socket.Enabled {
		c.Server = dirwatch.NewServer(c.Manager, c.Monitor, c.History)
		c.Server.SocketPath = c.Config.Socket.Path
		c.Server.SocketPerms = c.Config.Socket.Permissions
		c.Server.PathExpander = expand
		if err := c.Server.Start(); err != nil {
			return fmt.Errorf("start control server: %w", err)
		}
	}

	// Serve metrics over HTTP if enabled.
	if c.Config.Addr != "" {
		hostport := c.Config.Addr
		if host, port, _ := net.SplitHostPort(c.Config.Addr); port == "" {
			return fmt.Errorf("must specify port for bind address: %q", c.Config.Addr)
		} else if host == "" {
			hostport = net.JoinHostPort("localhost", port)
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		c.metrics = &http.Server{Addr: c.Config.Addr, Handler: mux}

		slog.Info("serving metrics on", "url", fmt.Sprintf("http://%s/metrics", hostport))
		go func() {
			if err := c.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("cannot start metrics server", "error", err)
			}
		}()
	}

	// Start configured watches. A directory that cannot be watched is
	// reported but does not prevent the others from starting.
	if len(c.Config.Watches) == 0 && !c.Config.Socket.Enabled {
		slog.Error("no watches specified in configuration")
	}
	for _, wc := range c.Config.Watches {
		if _, err := c.Manager.Start(wc.Path); err != nil {
			slog.Error("cannot start watch", "path", wc.Path, "error", err)
			continue
		}
		slog.Info("watching", "path", wc.Path)
	}

	return nil
}

// openSinks builds the sink chain shared by every engine.
func (c *ServeCommand) openSinks(ctx context.Context) (dirwatch.MultiSink, error) {
	var sinks dirwatch.MultiSink

	if c.Config.History > 0 {
		c.History = dirwatch.NewMemorySink(c.Config.History)
		sinks = append(sinks, c.History)
	}

	c.Monitor = dirwatch.NewMonitor()
	sinks = append(sinks, c.Monitor)

	output := c.Output
	if output == nil {
		output = os.Stdout
		if c.Config.Output.Stderr {
			output = os.Stderr
		}
	}
	sinks = append(sinks, dirwatch.NewWriterSink(output, c.Config.Output.Format))

	if nc := c.Config.NATS; nc != nil {
		s := nats.NewSink()
		s.URL = nc.URL
		s.Creds = nc.Creds
		s.Username = nc.Username
		s.Password = nc.Password
		s.Token = nc.Token
		if nc.Subject != "" {
			s.Subject = nc.Subject
		}
		if err := s.Open(ctx); err != nil {
			return nil, err
		}
		c.natsSink = s
		sinks = append(sinks, s)
	}

	sinks = append(sinks, c.Sinks...)

	for _, hc := range c.Config.Hooks {
		s, err := NewHookSink(hc)
		if err != nil {
			return nil, err
		}
		c.hooks = append(c.hooks, s)
		sinks = append(sinks, s)
	}

	return sinks, nil
}

// Close stops all watches and releases the sinks.
func (c *ServeCommand) Close(ctx context.Context) (err error) {
	if c.Server != nil {
		if e := c.Server.Close(); e != nil && err == nil {
			err = e
		}
	}

	if c.Manager != nil {
		if e := c.Manager.Close(ctx); e != nil {
			slog.Error("error stopping watches", "error", e)
			if err == nil {
				err = e
			}
		}
	}

	for _, s := range c.hooks {
		_ = s.Close()
	}

	if c.natsSink != nil {
		if e := c.natsSink.Close(); e != nil && err == nil {
			err = e
		}
	}

	if c.metrics != nil {
		if e := c.metrics.Shutdown(ctx); e != nil && err == nil {
			err = e
		}
	}

	return err
}

// Usage prints the help screen to STDOUT.
func (c *ServeCommand) Usage() {
	fmt.Printf(`
The serve command runs a daemon that watches directories for changes and
accepts start, stop, status, monitor & clear commands over a Unix socket.
You can specify your directories in a configuration file or pass them as
command line arguments.

Usage:

	dirwatch serve [arguments]

	dirwatch serve DIR [DIR...]

Arguments:

	-config PATH
	    Specifies the configuration file.
	    Defaults to %s

	-no-expand-env
	    Disables environment variable expansion in configuration file.

`[1:], DefaultConfigPath())
}
