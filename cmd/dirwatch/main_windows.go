//go:build windows

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/eventlog"

	"github.com/dirwatch/dirwatch"
)

const defaultConfigPath = `C:\Dirwatch\dirwatch.yml`

// serviceName is the Windows Service name.
const serviceName = "Dirwatch"

// isWindowsService returns true if currently executing within a Windows service.
func isWindowsService() (bool, error) {
	return svc.IsWindowsService()
}

func runWindowsService(ctx context.Context) error {
	// Registration fails when the source already exists, and there is no
	// log to report it to until the event log is open.
	_ = eventlog.InstallAsEventCreate(serviceName, eventlog.Error|eventlog.Warning|eventlog.Info)

	elog, err := eventlog.Open(serviceName)
	if err != nil {
		return err
	}
	defer elog.Close()

	slog.SetDefault(slog.New(newEventlogHandler(elog, slog.LevelInfo)))
	defer slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := svc.Run(serviceName, &windowsService{ctx: ctx, elog: elog}); err != nil {
		slog.Error("dirwatch service failed", "error", err)
		return errStop
	}
	return nil
}

// windowsService runs the daemon under the service control manager. The
// control socket is disabled; watches come from the configuration file and
// their lifecycle events are reported to the event log.
type windowsService struct {
	ctx  context.Context
	elog *eventlog.Log
}

func (s *windowsService) Execute(args []string, r <-chan svc.ChangeRequest, statusCh chan<- svc.Status) (svcSpecificEC bool, exitCode uint32) {
	statusCh <- svc.Status{State: svc.StartPending}

	c := NewServeCommand()
	config, err := ReadConfigFile(DefaultConfigPath(), true)
	if err != nil {
		slog.Error("cannot load configuration", "path", DefaultConfigPath(), "error", err)
		return true, 1
	}
	c.Config = config
	c.Config.Socket.Enabled = false

	// ReadConfigFile points the default logger at STDOUT; keep the event log
	// but honor the configured level.
	slog.SetDefault(slog.New(newEventlogHandler(s.elog, parseLogLevel(c.Config.Logging.Level))))

	// Services have no console, so event lines only reach the event log.
	c.Output = io.Discard
	c.Sinks = append(c.Sinks, &dirwatch.LogSink{Logger: slog.Default()})

	if err := c.Run(s.ctx); err != nil {
		slog.Error("cannot start watches", "error", err)
		_ = c.Close(s.ctx)
		return true, 2
	}
	slog.Info("dirwatch service started", "watches", len(c.Config.Watches))

	statusCh <- svc.Status{State: svc.Running, Accepts: svc.AcceptStop | svc.AcceptShutdown}

	for {
		select {
		case <-s.ctx.Done():
			s.stop(c, statusCh)
			return false, windows.NO_ERROR
		case req := <-r:
			switch req.Cmd {
			case svc.Stop, svc.Shutdown:
				s.stop(c, statusCh)
				return false, windows.NO_ERROR
			case svc.Interrogate:
				statusCh <- req.CurrentStatus
			default:
				slog.Warn("dirwatch service received unexpected change request", "cmd", req.Cmd)
			}
		}
	}
}

// stop closes the daemon within the configured stop timeout and tells the
// service control manager how long to wait.
func (s *windowsService) stop(c *ServeCommand, statusCh chan<- svc.Status) {
	timeout := dirwatch.DefaultStopTimeout
	if c.Config.StopTimeout != nil {
		timeout = *c.Config.StopTimeout
	}
	statusCh <- svc.Status{State: svc.StopPending, WaitHint: uint32((timeout + time.Second) / time.Millisecond)}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		slog.Error("dirwatch service stopped with errors", "error", err)
		return
	}
	slog.Info("dirwatch service stopped")
}

func signalChan() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	return ch
}
