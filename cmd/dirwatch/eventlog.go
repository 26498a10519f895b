package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/dirwatch/dirwatch/internal"
)

// Event IDs used for event log entries.
const (
	eventIDService uint32 = 1
	eventIDWatch   uint32 = 2
)

// eventLogger is the subset of the Windows event log used by the service.
type eventLogger interface {
	Info(eid uint32, msg string) error
	Warning(eid uint32, msg string) error
	Error(eid uint32, msg string) error
}

var _ slog.Handler = (*eventlogHandler)(nil)

// eventlogHandler writes each record as a single event log entry whose
// severity follows the record level. Records carrying a "dir" attribute come
// from watches and use a separate event ID.
type eventlogHandler struct {
	log   eventLogger
	mu    *sync.Mutex
	buf   *bytes.Buffer
	text  slog.Handler
	watch bool
}

func newEventlogHandler(log eventLogger, level slog.Leveler) *eventlogHandler {
	buf := &bytes.Buffer{}
	return &eventlogHandler{
		log: log,
		mu:  &sync.Mutex{},
		buf: buf,
		text: slog.NewTextHandler(buf, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: internal.ReplaceAttr,
		}),
	}
}

func (h *eventlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.text.Enabled(ctx, level)
}

func (h *eventlogHandler) Handle(ctx context.Context, r slog.Record) error {
	watch := h.watch
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "dir" {
			watch = true
			return false
		}
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf.Reset()
	if err := h.text.Handle(ctx, r); err != nil {
		return err
	}
	msg := strings.TrimSuffix(h.buf.String(), "\n")

	eid := eventIDService
	if watch {
		eid = eventIDWatch
	}

	switch {
	case r.Level >= slog.LevelError:
		return h.log.Error(eid, msg)
	case r.Level >= slog.LevelWarn:
		return h.log.Warning(eid, msg)
	default:
		return h.log.Info(eid, msg)
	}
}

func (h *eventlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	other := *h
	other.text = h.text.WithAttrs(attrs)
	for _, a := range attrs {
		if a.Key == "dir" {
			other.watch = true
		}
	}
	return &other
}

func (h *eventlogHandler) WithGroup(name string) slog.Handler {
	other := *h
	other.text = h.text.WithGroup(name)
	return &other
}
