package dirwatch

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

// Default manager settings.
const (
	DefaultStopTimeout   = 5 * time.Second
	DefaultRecentWatches = 64
)

// WatchStatus is a point-in-time report of one watch.
type WatchStatus struct {
	Path      string    `json:"path"`
	State     State     `json:"state"`
	StartedAt time.Time `json:"started_at,omitempty"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
	Events    uint64    `json:"events"`
	Error     string    `json:"error,omitempty"`
}

// Manager runs one engine per directory and publishes all of their events to
// a shared sink.
type Manager struct {
	mu      sync.Mutex
	watches map[string]*watch
	recent  *lru.Cache[string, WatchStatus]
	closed  bool

	sink EventSink

	// Notifier used by new engines. Nil uses the operating system.
	Notifier Notifier

	// Engine settings applied on Start.
	PollInterval     time.Duration
	OverflowAdvisory bool

	// Maximum time Stop and Close wait for an engine before abandoning it.
	StopTimeout time.Duration

	Logger *slog.Logger
}

// watch tracks a running engine. done is closed once the manager has
// recorded the engine's outcome.
type watch struct {
	engine *Engine
	done   chan struct{}
}

// NewManager returns a manager publishing to sink.
func NewManager(sink EventSink) *Manager {
	recent, err := lru.New[string, WatchStatus](DefaultRecentWatches)
	if err != nil {
		panic(err)
	}

	return &Manager{
		watches: make(map[string]*watch),
		recent:  recent,
		sink:    sink,

		PollInterval:     DefaultPollInterval,
		OverflowAdvisory: true,
		StopTimeout:      DefaultStopTimeout,
		Logger:           slog.Default(),
	}
}

// Start begins watching path. It returns once the watch has been registered
// with the notifier, or with the registration error if it could not be.
func (m *Manager) Start(path string) (*Engine, error) {
	engine, err := NewEngine(path, m.sink, m.Notifier)
	if err != nil {
		return nil, err
	}
	engine.PollInterval = m.PollInterval
	engine.OverflowAdvisory = m.OverflowAdvisory
	engine.Logger = m.Logger.With("dir", engine.Path())

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	} else if _, ok := m.watches[engine.Path()]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyWatching, engine.Path())
	}

	w := &watch{engine: engine, done: make(chan struct{})}
	m.watches[engine.Path()] = w
	m.recent.Remove(engine.Path())
	m.mu.Unlock()

	go m.run(w)

	<-engine.Ready()
	if engine.State() == StateFailed {
		<-w.done
		return nil, engine.Err()
	}

	m.Logger.Info("watch started", "path", engine.Path())
	return engine, nil
}

func (m *Manager) run(w *watch) {
	defer close(w.done)

	if err := w.engine.Run(); err != nil {
		m.Logger.Warn("watch ended", "path", w.engine.Path(), "state", w.engine.State(), "error", err)
	}
	m.forget(w)
}

// forget removes w from the running set and records its final status.
func (m *Manager) forget(w *watch) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := w.engine.Path()
	if m.watches[path] == w {
		delete(m.watches, path)
	}
	m.recent.Add(path, w.engine.Status())
}

// Stop requests the engine watching path to stop and waits for it for at
// most StopTimeout. An engine that does not stop in time is abandoned and
// ErrStopTimeout is returned.
func (m *Manager) Stop(ctx context.Context, path string) error {
	path = CleanPath(path)

	m.mu.Lock()
	w := m.watches[path]
	m.mu.Unlock()

	if w == nil {
		return fmt.Errorf("%w: %s", ErrNotWatching, path)
	}
	return m.stop(ctx, w)
}

func (m *Manager) stop(ctx context.Context, w *watch) error {
	w.engine.RequestStop()

	timeout := m.StopTimeout
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-w.done:
		m.Logger.Info("watch stopped", "path", w.engine.Path())
		return nil
	case <-ctx.Done():
		m.Logger.Error("watch did not stop in time, abandoning", "path", w.engine.Path(), "timeout", timeout)
		m.forget(w)
		return fmt.Errorf("%w: %s", ErrStopTimeout, w.engine.Path())
	}
}

// Engine returns the running engine for path, if any.
func (m *Manager) Engine(path string) *Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w := m.watches[CleanPath(path)]; w != nil {
		return w.engine
	}
	return nil
}

// Statuses returns running watches followed by recently ended ones, each
// sorted by path.
func (m *Manager) Statuses() []WatchStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	running := make([]WatchStatus, 0, len(m.watches))
	for _, w := range m.watches {
		running = append(running, w.engine.Status())
	}

	var ended []WatchStatus
	for _, path := range m.recent.Keys() {
		if _, ok := m.watches[path]; ok {
			continue
		}
		if status, ok := m.recent.Peek(path); ok {
			ended = append(ended, status)
		}
	}

	byPath := func(a, b WatchStatus) int { return strings.Compare(a.Path, b.Path) }
	slices.SortFunc(running, byPath)
	slices.SortFunc(ended, byPath)
	return append(running, ended...)
}

// Close stops every running engine concurrently and rejects further starts.
// Engines that do not stop within StopTimeout are abandoned.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	watches := make([]*watch, 0, len(m.watches))
	for _, w := range m.watches {
		watches = append(watches, w)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, w := range watches {
		g.Go(func() error { return m.stop(ctx, w) })
	}
	return g.Wait()
}
