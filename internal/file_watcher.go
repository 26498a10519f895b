package internal

import (
	"errors"
	"time"
)

// File event mask constants.
const (
	FileEventCreated = 1 << iota
	FileEventModified
	FileEventDeleted
	FileEventOverflow
)

// FileEvent represents an event on an entry of a watched directory.
// Name is relative to the watched directory and is empty for overflow events.
type FileEvent struct {
	Name string
	Mask int
}

var (
	// ErrFileEventQueueOverflow is returned when the file event queue has overflowed.
	ErrFileEventQueueOverflow = errors.New("file event queue overflow")

	// ErrWatchInvalidated is returned once the watched directory itself has
	// been removed, moved or unmounted. No further events will be delivered.
	ErrWatchInvalidated = errors.New("watch invalidated")

	// ErrDirWatcherClosed is returned when waiting on a closed watcher.
	ErrDirWatcherClosed = errors.New("dir watcher closed")
)

// DirWatcher watches the entries of a single directory.
//
// It is not safe for concurrent use: Open, Wait and Close are expected to be
// called from the same goroutine. Close may be called more than once.
type DirWatcher interface {
	// Registers interest in create, modify & delete events on dir.
	Open(dir string) error

	// Waits at most timeout for the next batch of events. Returns a nil
	// slice if nothing arrived in time. Events may be returned alongside
	// ErrWatchInvalidated when the batch ends with the loss of the watch.
	Wait(timeout time.Duration) ([]FileEvent, error)

	// Releases the OS resources held by the watcher.
	Close() error
}

// NewFsnotifyDirWatcher returns the portable watcher backend.
func NewFsnotifyDirWatcher() DirWatcher {
	return &FsnotifyDirWatcher{}
}
