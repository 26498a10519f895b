package dirwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dirwatch/dirwatch/internal"
)

// Output formats supported by WriterSink.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// EventSink consumes events published by an engine. Publish must return
// quickly and must absorb its own failures. Sinks shared between engines
// must be safe for concurrent use.
type EventSink interface {
	Publish(Event)
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(Event)

func (fn SinkFunc) Publish(e Event) { fn(e) }

// MultiSink publishes each event to every sink in order.
type MultiSink []EventSink

func (a MultiSink) Publish(e Event) {
	for _, sink := range a {
		sink.Publish(e)
	}
}

var _ EventSink = (*WriterSink)(nil)

// WriterSink writes one line per event to a writer. Write errors are
// counted and logged once until a write succeeds again.
type WriterSink struct {
	mu     sync.Mutex
	w      io.Writer
	format string
	failed bool

	Logger *slog.Logger
}

// NewWriterSink returns a sink writing to w in format (FormatText or FormatJSON).
func NewWriterSink(w io.Writer, format string) *WriterSink {
	if format == "" {
		format = FormatText
	}
	return &WriterSink{
		w:      w,
		format: format,
		Logger: slog.Default(),
	}
}

func (s *WriterSink) Publish(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	switch s.format {
	case FormatJSON:
		err = json.NewEncoder(s.w).Encode(e)
	default:
		_, err = fmt.Fprintln(s.w, e.Line())
	}

	if err != nil {
		internal.SinkErrorCounterVec.WithLabelValues("writer").Inc()
		if !s.failed {
			s.Logger.Error("cannot write event", "error", err)
		}
		s.failed = true
		return
	}
	s.failed = false
}

var _ EventSink = (*LogSink)(nil)

// LogSink writes events to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) Publish(e Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	level := slog.LevelInfo
	switch e.Kind {
	case KindError:
		level = slog.LevelError
	case KindOverflow, KindInvalidated:
		level = slog.LevelWarn
	}

	attrs := []any{"dir", e.Dir, "kind", e.Kind}
	if e.Name != "" {
		attrs = append(attrs, "name", e.Name)
	}
	if e.Message != "" {
		attrs = append(attrs, "message", e.Message)
	}
	logger.Log(context.Background(), level, e.Text(), attrs...)
}

var _ EventSink = (*MemorySink)(nil)

// MemorySink keeps the most recent events in memory. It backs the in-session
// history of the daemon and is used as a collector in tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

// NewMemorySink returns a sink that retains up to limit events. A limit of
// zero or less retains every event.
func NewMemorySink(limit int) *MemorySink {
	return &MemorySink{limit: limit}
}

func (s *MemorySink) Publish(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, e)
	if s.limit > 0 && len(s.events) > s.limit {
		n := copy(s.events, s.events[len(s.events)-s.limit:])
		clear(s.events[n:])
		s.events = s.events[:n]
	}
}

// Events returns a copy of the retained events in publish order.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

// Since returns retained events with a timestamp at or after t. A zero t
// returns every retained event.
func (s *MemorySink) Since(t time.Time) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var a []Event
	for _, e := range s.events {
		if t.IsZero() || !e.Timestamp.Before(t) {
			a = append(a, e)
		}
	}
	return a
}

// Len returns the number of retained events.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Clear drops every retained event and returns how many were dropped.
func (s *MemorySink) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.events)
	s.events = nil
	return n
}
