package mock

import (
	"sync/atomic"
	"time"

	"github.com/dirwatch/dirwatch"
)

var _ dirwatch.Notifier = (*Notifier)(nil)

type Notifier struct {
	RegisterFunc func(dir string) (dirwatch.WatchHandle, error)

	registered atomic.Int64
}

func (n *Notifier) Register(dir string) (dirwatch.WatchHandle, error) {
	n.registered.Add(1)
	return n.RegisterFunc(dir)
}

// RegisterCount returns the number of calls to Register.
func (n *Notifier) RegisterCount() int {
	return int(n.registered.Load())
}

var _ dirwatch.WatchHandle = (*WatchHandle)(nil)

type WatchHandle struct {
	PollFunc  func(timeout time.Duration) ([]dirwatch.RawEvent, error)
	CloseFunc func() error
}

func (h *WatchHandle) Poll(timeout time.Duration) ([]dirwatch.RawEvent, error) {
	return h.PollFunc(timeout)
}

func (h *WatchHandle) Close() error {
	return h.CloseFunc()
}
