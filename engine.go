package dirwatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dirwatch/dirwatch/internal"
)

// Default engine settings.
const (
	DefaultPollInterval = 250 * time.Millisecond
)

// eventSeq numbers events published by all engines.
var eventSeq atomic.Uint64

// Engine watches a single directory and publishes its changes to a sink.
//
// Run must be called exactly once, on its own goroutine. RequestStop may be
// called from any goroutine at any time.
type Engine struct {
	target   Target
	sink     EventSink
	notifier Notifier

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	stopAt   atomic.Int64 // unix nanos of the first stop request
	ready    chan struct{}
	done     chan struct{}
	events   atomic.Uint64

	mu        sync.Mutex
	state     State
	err       error
	startedAt time.Time
	stoppedAt time.Time

	// Maximum time a single poll blocks. Bounds the stop latency.
	PollInterval time.Duration

	// If true, the first overflow of a run publishes one advisory event.
	// Overflows are otherwise skipped silently.
	OverflowAdvisory bool

	Logger *slog.Logger
}

// NewEngine returns an engine for the directory at path. The path is
// validated immediately and an *InvalidTargetError is returned if it is not
// an existing directory. A nil notifier uses the operating system notifier.
func NewEngine(path string, sink EventSink, notifier Notifier) (*Engine, error) {
	if sink == nil {
		return nil, errors.New("event sink required")
	}

	target, err := NewTarget(path)
	if err != nil {
		return nil, err
	}

	if notifier == nil {
		notifier = &OSNotifier{}
	}

	return &Engine{
		target:   target,
		sink:     sink,
		notifier: notifier,
		stop:     make(chan struct{}),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),

		PollInterval:     DefaultPollInterval,
		OverflowAdvisory: true,
		Logger:           slog.With("dir", target.Path()),
	}, nil
}

// Path returns the absolute path of the watched directory.
func (e *Engine) Path() string { return e.target.Path() }

// Target returns the validated directory.
func (e *Engine) Target() Target { return e.target }

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the error that ended the run, if any. An invalidated watch
// reports ErrWatchInvalidated even though its state is Stopped.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// StartedAt returns the time the engine entered the Running state.
func (e *Engine) StartedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startedAt
}

// StoppedAt returns the time the engine reached a terminal state.
func (e *Engine) StoppedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stoppedAt
}

// EventCount returns the number of events published by this engine.
func (e *Engine) EventCount() uint64 { return e.events.Load() }

// Ready returns a channel that is closed once the engine has left the Idle
// state, either by registering its watch or by failing to.
func (e *Engine) Ready() <-chan struct{} { return e.ready }

// Done returns a channel that is closed when Run returns.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Wait blocks until Run returns or ctx is done. It blocks until ctx is done
// if Run is never called.
func (e *Engine) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestStop signals the engine to stop. It does not wait for the engine
// and never touches the watch handle.
func (e *Engine) RequestStop() {
	e.stopOnce.Do(func() {
		e.stopAt.Store(time.Now().UnixNano())
		close(e.stop)
	})
}

// Status returns a snapshot of the engine for reporting.
func (e *Engine) Status() WatchStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	status := WatchStatus{
		Path:      e.target.Path(),
		State:     e.state,
		StartedAt: e.startedAt,
		StoppedAt: e.stoppedAt,
		Events:    e.events.Load(),
	}
	if e.err != nil {
		status.Error = e.err.Error()
	}
	return status
}

// Run registers the watch and publishes events until RequestStop is called,
// the watch is invalidated, or an unexpected error occurs.
func (e *Engine) Run() error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrEngineStarted
	}
	defer close(e.done)

	handle, err := e.notifier.Register(e.target.Path())
	if err != nil {
		err = &WatchRegistrationError{Path: e.target.Path(), Err: err}
		e.Logger.Error("cannot register watch", "error", err)
		e.setState(StateFailed, err)
		e.publishSafely(KindError, "", err.Error())
		return err
	}
	closer := internal.OnceCloser(handle)
	defer func() { _ = closer.Close() }()

	e.setState(StateRunning, nil)
	internal.EngineRunningGauge.Inc()
	defer internal.EngineRunningGauge.Dec()

	e.Logger.Debug("watch started", "poll_interval", e.PollInterval)

	err = e.safely(func() error {
		e.publish(KindStarted, "", "")
		return e.loop(handle)
	})

	switch {
	case err == nil:
		e.shutdown(closer, nil)
		return nil
	case errors.Is(err, ErrWatchInvalidated):
		e.shutdown(closer, err)
		return nil
	default:
		return e.fault(closer, err)
	}
}

// loop polls the handle until stop is requested or an error occurs.
func (e *Engine) loop(handle WatchHandle) error {
	var advised bool
	for {
		select {
		case <-e.stop:
			return nil
		default:
		}

		batch, err := handle.Poll(e.PollInterval)

		for _, raw := range batch {
			switch {
			case raw.Kind == KindOverflow:
				internal.EngineOverflowCounterVec.WithLabelValues(e.target.Path()).Inc()
				e.Logger.Warn("event queue overflow, some events were lost")
				if e.OverflowAdvisory && !advised {
					advised = true
					e.publish(KindOverflow, "", "some events were lost")
				}
			case raw.Kind.IsEntry():
				e.publish(raw.Kind, raw.Name, "")
			default:
				return fmt.Errorf("unexpected event kind: %s", raw.Kind)
			}
		}

		if errors.Is(err, ErrWatchInvalidated) {
			e.Logger.Warn("watched directory is no longer available")
			e.publish(KindInvalidated, "", "directory is no longer available")
			return err
		} else if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
	}
}

// shutdown moves a running engine to Stopped. cause is recorded but the run
// is not considered failed.
func (e *Engine) shutdown(closer io.Closer, cause error) {
	e.setState(StateStopping, nil)
	e.release(closer)
	e.setState(StateStopped, cause)

	if at := e.stopAt.Load(); at > 0 {
		elapsed := time.Since(time.Unix(0, at))
		internal.EngineStopSecondsHistogram.Observe(elapsed.Seconds())
		e.Logger.Debug("watch stopped", "elapsed", internal.TruncateDuration(elapsed))
	} else {
		e.Logger.Debug("watch stopped")
	}
}

// fault moves a running engine to Failed and returns the fault.
func (e *Engine) fault(closer io.Closer, cause error) error {
	err := &RuntimeFault{Path: e.target.Path(), Err: cause}
	e.Logger.Error("watch failed", "error", cause)

	e.setState(StateStopping, nil)
	e.publishSafely(KindError, "", cause.Error())
	e.release(closer)
	e.setState(StateFailed, err)
	return err
}

func (e *Engine) release(closer io.Closer) {
	if err := closer.Close(); err != nil {
		e.Logger.Warn("cannot release watch", "error", err)
	}
}

// publish formats an event and hands it to the sink.
func (e *Engine) publish(kind Kind, name, message string) {
	ev := Event{
		Kind:      kind,
		Dir:       e.target.Path(),
		Name:      name,
		Message:   message,
		Timestamp: time.Now(),
		Seq:       eventSeq.Add(1),
	}
	e.Logger.Log(context.Background(), internal.LevelTrace, "event", "kind", kind, "name", name)

	e.sink.Publish(ev)
	e.events.Add(1)
	internal.EngineEventsCounterVec.WithLabelValues(e.target.Path(), kind.String()).Inc()
}

// publishSafely publishes a diagnostic event, discarding any panic raised by
// the sink since the engine is already failing.
func (e *Engine) publishSafely(kind Kind, name, message string) {
	if err := e.safely(func() error {
		e.publish(kind, name, message)
		return nil
	}); err != nil {
		e.Logger.Error("cannot publish event", "kind", kind, "error", err)
	}
}

// safely calls fn and converts a panic into an error.
func (e *Engine) safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// setState moves the engine to state. Invalid transitions indicate a bug.
func (e *Engine) setState(state State, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !CanTransition(e.state, state) {
		panic(fmt.Sprintf("dirwatch: invalid state transition: %s -> %s", e.state, state))
	}

	prev := e.state
	e.state = state
	if err != nil {
		e.err = err
	}

	now := time.Now()
	switch {
	case state == StateRunning:
		e.startedAt = now
	case state.Terminal():
		e.stoppedAt = now
		internal.EngineTerminationCounterVec.WithLabelValues(state.String()).Inc()
	}

	if prev == StateIdle {
		close(e.ready)
	}
}
