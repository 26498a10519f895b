package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/dirwatch/dirwatch"
	"github.com/dirwatch/dirwatch/internal"
)

// Default hook settings.
const (
	DefaultHookConcurrency = 4
	DefaultHookTimeout     = 30 * time.Second
)

var _ dirwatch.EventSink = (*HookSink)(nil)

// HookSink executes a command for each matching event. The event kind and
// path are appended to the command's arguments and exported as DIRWATCH_*
// environment variables.
//
// Commands run in the background. When Concurrency commands are already
// running, further events are dropped rather than delaying the engine.
type HookSink struct {
	args  []string
	kinds map[dirwatch.Kind]struct{}
	sem   chan struct{}
	wg    sync.WaitGroup

	Timeout time.Duration
	Stdout  io.Writer
	Stderr  io.Writer
	Logger  *slog.Logger
}

// NewHookSink returns a sink for the hook configuration.
func NewHookSink(hc *HookConfig) (*HookSink, error) {
	args, err := shellwords.Parse(hc.Exec)
	if err != nil {
		return nil, fmt.Errorf("cannot parse hook command: %w", err)
	} else if len(args) == 0 {
		return nil, ErrHookExecRequired
	}

	s := &HookSink{
		args:    args,
		sem:     make(chan struct{}, DefaultHookConcurrency),
		Timeout: DefaultHookTimeout,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Logger:  slog.Default().With("hook", args[0]),
	}

	if len(hc.Kinds) > 0 {
		s.kinds = make(map[dirwatch.Kind]struct{}, len(hc.Kinds))
		for _, name := range hc.Kinds {
			kind, err := dirwatch.ParseKind(name)
			if err != nil {
				return nil, err
			}
			s.kinds[kind] = struct{}{}
		}
	}
	return s, nil
}

// Accepts returns true if the hook runs for events of kind.
func (s *HookSink) Accepts(kind dirwatch.Kind) bool {
	if s.kinds == nil {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

func (s *HookSink) Publish(e dirwatch.Event) {
	if !s.Accepts(e.Kind) {
		return
	}

	select {
	case s.sem <- struct{}{}:
	default:
		internal.SinkErrorCounterVec.WithLabelValues("hook").Inc()
		s.Logger.Warn("hook busy, event dropped", "kind", e.Kind, "name", e.Name)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()

		if err := s.run(e); err != nil {
			internal.SinkErrorCounterVec.WithLabelValues("hook").Inc()
			s.Logger.Error("hook failed", "kind", e.Kind, "name", e.Name, "error", err)
		}
	}()
}

func (s *HookSink) run(e dirwatch.Event) error {
	ctx := context.Background()
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	path := e.Dir
	if e.Name != "" {
		path = filepath.Join(e.Dir, e.Name)
	}

	args := append(s.args[1:len(s.args):len(s.args)], e.Kind.String(), path)
	cmd := exec.CommandContext(ctx, s.args[0], args...)
	cmd.Env = append(os.Environ(),
		"DIRWATCH_KIND="+e.Kind.String(),
		"DIRWATCH_DIR="+e.Dir,
		"DIRWATCH_NAME="+e.Name,
		"DIRWATCH_TIMESTAMP="+e.Timestamp.Format(time.RFC3339Nano),
	)
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr

	s.Logger.Log(ctx, internal.LevelTrace, "running hook", "kind", e.Kind, "path", path)
	return cmd.Run()
}

// Close waits for running commands to finish.
func (s *HookSink) Close() error {
	s.wg.Wait()
	return nil
}
