package internal

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

var _ DirWatcher = (*FsnotifyDirWatcher)(nil)

// FsnotifyDirWatcher implements DirWatcher on top of fsnotify. It is the
// default on platforms without a native backend.
type FsnotifyDirWatcher struct {
	watcher *fsnotify.Watcher
	dir     string
	closed  bool
}

// Open creates the fsnotify watcher and adds dir to it.
func (w *FsnotifyDirWatcher) Open(dir string) error {
	if w.closed {
		return ErrDirWatcherClosed
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("cannot create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("cannot add fsnotify watch: %w", err)
	}

	w.watcher, w.dir = watcher, filepath.Clean(dir)
	return nil
}

// Close closes the underlying fsnotify watcher.
func (w *FsnotifyDirWatcher) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}

// Wait returns the first event to arrive within timeout along with every
// other event already queued behind it.
func (w *FsnotifyDirWatcher) Wait(timeout time.Duration) (events []FileEvent, err error) {
	if w.closed || w.watcher == nil {
		return nil, ErrDirWatcherClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil, nil
	case event, ok := <-w.watcher.Events:
		if !ok {
			return nil, ErrDirWatcherClosed
		}
		if events, err = w.appendEvent(events, event); err != nil {
			return events, err
		}
	case e, ok := <-w.watcher.Errors:
		if !ok {
			return nil, ErrDirWatcherClosed
		}
		if events, err = w.appendError(events, e); err != nil {
			return events, err
		}
	}

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return events, ErrDirWatcherClosed
			}
			if events, err = w.appendEvent(events, event); err != nil {
				return events, err
			}
		case e, ok := <-w.watcher.Errors:
			if !ok {
				return events, ErrDirWatcherClosed
			}
			if events, err = w.appendError(events, e); err != nil {
				return events, err
			}
		default:
			return events, nil
		}
	}
}

func (w *FsnotifyDirWatcher) appendEvent(events []FileEvent, event fsnotify.Event) ([]FileEvent, error) {
	name := filepath.Clean(event.Name)
	if name == w.dir {
		if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
			return events, ErrWatchInvalidated
		}
		return events, nil
	}

	rel, err := filepath.Rel(w.dir, name)
	if err != nil {
		rel = filepath.Base(name)
	}

	var mask int
	if event.Has(fsnotify.Create) {
		mask |= FileEventCreated
	}
	if event.Has(fsnotify.Write) || event.Has(fsnotify.Chmod) {
		mask |= FileEventModified
	}
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		mask |= FileEventDeleted
	}
	if mask == 0 {
		return events, nil
	}
	return append(events, FileEvent{Name: rel, Mask: mask}), nil
}

func (w *FsnotifyDirWatcher) appendError(events []FileEvent, err error) ([]FileEvent, error) {
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		return append(events, FileEvent{Mask: FileEventOverflow}), nil
	}
	return events, fmt.Errorf("fsnotify: %w", err)
}
