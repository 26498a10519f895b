//go:build !linux

package internal

// NewDirWatcher returns the fsnotify-backed watcher on platforms without a
// native backend.
func NewDirWatcher() DirWatcher {
	return NewFsnotifyDirWatcher()
}
