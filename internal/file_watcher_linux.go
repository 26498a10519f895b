//go:build linux

package internal

import (
	"fmt"
	"strings"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

var _ DirWatcher = (*InotifyDirWatcher)(nil)

// inotifyDirMask is the set of inotify events requested for a watched directory.
const inotifyDirMask = unix.IN_CREATE | unix.IN_MOVED_TO |
	unix.IN_MODIFY | unix.IN_ATTRIB |
	unix.IN_DELETE | unix.IN_MOVED_FROM |
	unix.IN_DELETE_SELF | unix.IN_MOVE_SELF |
	unix.IN_ONLYDIR

// InotifyDirWatcher watches a directory and is notified of events on its entries.
//
// Watcher code based on https://github.com/fsnotify/fsnotify
type InotifyDirWatcher struct {
	inotify struct {
		fd  int
		wd  int
		buf []byte
	}
	epoll struct {
		fd     int // epoll_create1() file descriptor
		events []unix.EpollEvent
	}

	dir    string
	closed bool
}

// NewInotifyDirWatcher returns a new instance of InotifyDirWatcher.
func NewInotifyDirWatcher() *InotifyDirWatcher {
	w := &InotifyDirWatcher{}
	w.inotify.fd, w.inotify.wd = -1, -1
	w.epoll.fd = -1

	w.inotify.buf = make([]byte, 4096*unix.SizeofInotifyEvent)
	w.epoll.events = make([]unix.EpollEvent, 1)

	return w
}

// NewDirWatcher returns an instance of InotifyDirWatcher on Linux systems.
func NewDirWatcher() DirWatcher {
	return NewInotifyDirWatcher()
}

// Open initializes inotify & epoll and adds a watch on dir.
func (w *InotifyDirWatcher) Open(dir string) (err error) {
	if w.closed {
		return ErrDirWatcherClosed
	}

	if w.inotify.fd, err = unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK); err != nil {
		return fmt.Errorf("cannot init inotify: %w", err)
	}
	defer func() {
		if err != nil {
			_ = w.Close()
		}
	}()

	if w.epoll.fd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC); err != nil {
		return fmt.Errorf("cannot create epoll: %w", err)
	}

	// Register inotify fd with epoll
	if err := unix.EpollCtl(w.epoll.fd, unix.EPOLL_CTL_ADD, w.inotify.fd, &unix.EpollEvent{
		Fd:     int32(w.inotify.fd),
		Events: unix.EPOLLIN,
	}); err != nil {
		return fmt.Errorf("cannot add inotify to epoll: %w", err)
	}

	wd, err := unix.InotifyAddWatch(w.inotify.fd, dir, inotifyDirMask)
	if err != nil {
		return fmt.Errorf("cannot add inotify watch: %w", err)
	}
	w.inotify.wd, w.dir = wd, dir

	return nil
}

// Close releases the inotify & epoll descriptors. Closing the inotify
// descriptor drops its watch as well.
func (w *InotifyDirWatcher) Close() (err error) {
	if w.closed {
		return nil
	}
	w.closed = true

	if w.inotify.fd >= 0 {
		if e := unix.Close(w.inotify.fd); e != nil && err == nil {
			err = e
		}
		w.inotify.fd, w.inotify.wd = -1, -1
	}
	if w.epoll.fd >= 0 {
		if e := unix.Close(w.epoll.fd); e != nil && err == nil {
			err = e
		}
		w.epoll.fd = -1
	}
	return err
}

// Wait blocks on epoll for at most timeout and then drains the inotify queue.
func (w *InotifyDirWatcher) Wait(timeout time.Duration) ([]FileEvent, error) {
	if w.closed || w.inotify.fd < 0 {
		return nil, ErrDirWatcherClosed
	}

	msec := int(timeout / time.Millisecond)
	if msec <= 0 && timeout > 0 {
		msec = 1
	}

	n, err := unix.EpollWait(w.epoll.fd, w.epoll.events, msec)
	if err == unix.EINTR {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("epoll wait: %w", err)
	} else if n == 0 {
		return nil, nil
	}

	return w.read()
}

// read reads from the inotify file descriptor. Automatically retry on EINTR.
func (w *InotifyDirWatcher) read() ([]FileEvent, error) {
	for {
		n, err := unix.Read(w.inotify.fd, w.inotify.buf)
		if err == unix.EINTR {
			continue
		} else if err == unix.EAGAIN {
			return nil, nil
		} else if err != nil {
			return nil, fmt.Errorf("read inotify: %w", err)
		} else if n <= 0 {
			return nil, nil
		}

		return w.recv(w.inotify.buf[:n])
	}
}

// recv decodes one read's worth of inotify records in kernel order.
func (w *InotifyDirWatcher) recv(b []byte) (events []FileEvent, err error) {
	for len(b) > 0 {
		if len(b) < unix.SizeofInotifyEvent {
			return events, fmt.Errorf("inotify short record: n=%d", len(b))
		}

		event := (*unix.InotifyEvent)(unsafe.Pointer(&b[0]))
		end := unix.SizeofInotifyEvent + int(event.Len)
		if len(b) < end {
			return events, fmt.Errorf("inotify short name: n=%d, want %d", len(b), end)
		}

		// The filename is padded with NULL bytes.
		name := strings.TrimRight(string(b[unix.SizeofInotifyEvent:end]), "\x00")
		mask := event.Mask

		// Move to next event.
		b = b[end:]

		if mask&unix.IN_Q_OVERFLOW != 0 {
			events = append(events, FileEvent{Mask: FileEventOverflow})
			continue
		}

		// The directory itself went away; nothing after this record applies.
		if mask&(unix.IN_DELETE_SELF|unix.IN_MOVE_SELF|unix.IN_UNMOUNT|unix.IN_IGNORED) != 0 {
			return events, ErrWatchInvalidated
		}

		// Records without a name describe the directory itself, such as a
		// chmod or touch of the watched directory.
		if name == "" {
			continue
		}

		if m := inotifyFileEventMask(mask); m != 0 {
			events = append(events, FileEvent{Name: name, Mask: m})
		}
	}
	return events, nil
}

// inotifyFileEventMask converts an inotify mask to a generic file event mask.
func inotifyFileEventMask(mask uint32) (m int) {
	if mask&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0 {
		m |= FileEventCreated
	}
	if mask&(unix.IN_MODIFY|unix.IN_ATTRIB) != 0 {
		m |= FileEventModified
	}
	if mask&(unix.IN_DELETE|unix.IN_MOVED_FROM) != 0 {
		m |= FileEventDeleted
	}
	return m
}
