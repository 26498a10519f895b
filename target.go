package dirwatch

import (
	"errors"
	"os"
	"path/filepath"
)

// Target is a validated directory path. The zero value is not valid.
type Target struct {
	path string
}

// NewTarget returns a target for path after checking that it names an
// existing directory. The path is made absolute.
func NewTarget(path string) (Target, error) {
	if path == "" {
		return Target{}, &InvalidTargetError{Err: errors.New("path required")}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return Target{}, &InvalidTargetError{Path: path, Err: err}
	}

	fi, err := os.Stat(abs)
	if err != nil {
		return Target{}, &InvalidTargetError{Path: abs, Err: err}
	} else if !fi.IsDir() {
		return Target{}, &InvalidTargetError{Path: abs, Err: ErrNotDirectory}
	}
	return Target{path: abs}, nil
}

// Path returns the absolute directory path.
func (t Target) Path() string { return t.path }

func (t Target) String() string { return t.path }

// CleanPath returns the absolute, cleaned form of path without checking that
// it exists. It is used to look up targets by the path a user typed.
func CleanPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
