package dirwatch

import (
	"fmt"
	"io"
	"time"

	"github.com/dirwatch/dirwatch/internal"
)

// Notifier backends.
const (
	BackendNative   = "native"
	BackendFsnotify = "fsnotify"
)

// RawEvent is a change reported by the notification facility. Name is
// relative to the watched directory and empty for Overflow.
type RawEvent struct {
	Kind Kind
	Name string
}

// Notifier registers interest in a directory with a change-notification
// facility.
type Notifier interface {
	Register(dir string) (WatchHandle, error)
}

// WatchHandle is an active registration for one directory. A handle is owned
// by a single goroutine.
type WatchHandle interface {
	// Poll waits at most timeout for the next batch of events. It may return
	// events together with ErrWatchInvalidated, in which case the events
	// precede the loss of the watch.
	Poll(timeout time.Duration) ([]RawEvent, error)

	// Close releases the registration. Closing more than once is a no-op.
	Close() error
}

var _ Notifier = (*OSNotifier)(nil)

// OSNotifier registers watches with the operating system.
type OSNotifier struct {
	// Backend is BackendNative or BackendFsnotify. Empty means native, which
	// falls back to fsnotify on platforms without a native backend.
	Backend string
}

// NewOSNotifier returns a notifier for backend after validating its name.
func NewOSNotifier(backend string) (*OSNotifier, error) {
	switch backend {
	case "", BackendNative, BackendFsnotify:
		return &OSNotifier{Backend: backend}, nil
	default:
		return nil, fmt.Errorf("unknown notifier backend: %q", backend)
	}
}

// Register opens a watch on dir.
func (n *OSNotifier) Register(dir string) (WatchHandle, error) {
	var w internal.DirWatcher
	switch n.Backend {
	case "", BackendNative:
		w = internal.NewDirWatcher()
	case BackendFsnotify:
		w = internal.NewFsnotifyDirWatcher()
	default:
		return nil, fmt.Errorf("unknown notifier backend: %q", n.Backend)
	}

	if err := w.Open(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &osWatchHandle{watcher: w, closer: internal.OnceCloser(w)}, nil
}

type osWatchHandle struct {
	watcher internal.DirWatcher
	closer  io.Closer
}

func (h *osWatchHandle) Poll(timeout time.Duration) ([]RawEvent, error) {
	events, err := h.watcher.Wait(timeout)

	var a []RawEvent
	for _, e := range events {
		a = appendRawEvents(a, e)
	}
	return a, err
}

func (h *osWatchHandle) Close() error {
	return h.closer.Close()
}

// appendRawEvents expands a file event mask into one raw event per kind.
// A single notification can carry several kinds, e.g. a file created with
// content by the fsnotify backend.
func appendRawEvents(a []RawEvent, e internal.FileEvent) []RawEvent {
	if e.Mask&internal.FileEventOverflow != 0 {
		a = append(a, RawEvent{Kind: KindOverflow})
	}
	if e.Mask&internal.FileEventCreated != 0 {
		a = append(a, RawEvent{Kind: KindCreated, Name: e.Name})
	}
	if e.Mask&internal.FileEventModified != 0 {
		a = append(a, RawEvent{Kind: KindModified, Name: e.Name})
	}
	if e.Mask&internal.FileEventDeleted != 0 {
		a = append(a, RawEvent{Kind: KindDeleted, Name: e.Name})
	}
	return a
}
