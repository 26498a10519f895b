package dirwatch

import (
	"errors"
	"fmt"

	"github.com/dirwatch/dirwatch/internal"
)

var (
	// ErrNotDirectory is wrapped by InvalidTargetError when the path exists
	// but is not a directory.
	ErrNotDirectory = errors.New("not a directory")

	// ErrEngineStarted is returned when Run is called more than once.
	ErrEngineStarted = errors.New("engine already started")

	// ErrWatchInvalidated is returned by WatchHandle.Poll once the watched
	// directory has been deleted, moved or unmounted.
	ErrWatchInvalidated = internal.ErrWatchInvalidated

	ErrAlreadyWatching = errors.New("already watching")
	ErrNotWatching     = errors.New("not watching")
	ErrStopTimeout     = errors.New("timed out waiting for watch to stop")
	ErrManagerClosed   = errors.New("manager closed")
)

// InvalidTargetError is returned when a path is empty, missing or not a
// directory. No watch is registered in this case.
type InvalidTargetError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *InvalidTargetError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("path is not a valid directory: %v", e.Err)
	}
	return fmt.Sprintf("path is not a valid directory: %s: %v", e.Path, e.Err)
}

func (e *InvalidTargetError) Unwrap() error { return e.Err }

// WatchRegistrationError is returned when the notification facility refuses
// to watch a directory, e.g. on permission or resource limits.
type WatchRegistrationError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *WatchRegistrationError) Error() string {
	return fmt.Sprintf("cannot watch %s: %v", e.Path, e.Err)
}

func (e *WatchRegistrationError) Unwrap() error { return e.Err }

// RuntimeFault is returned when a running engine stops because of an
// unexpected failure while polling or publishing.
type RuntimeFault struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *RuntimeFault) Error() string {
	return fmt.Sprintf("watch %s failed: %v", e.Path, e.Err)
}

func (e *RuntimeFault) Unwrap() error { return e.Err }
