package dirwatch

import (
	"sync"

	"github.com/dirwatch/dirwatch/internal"
)

// DefaultMonitorBufferSize is the channel buffer of each subscriber.
const DefaultMonitorBufferSize = 64

var _ EventSink = (*Monitor)(nil)

// Monitor fans events out to live subscribers such as streaming clients.
// Publish never blocks: events are dropped for subscribers whose buffer is
// full.
type Monitor struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}

	// Channel buffer size for new subscribers.
	BufferSize int
}

// NewMonitor returns a new monitor with no subscribers.
func NewMonitor() *Monitor {
	return &Monitor{
		subscribers: make(map[chan Event]struct{}),
		BufferSize:  DefaultMonitorBufferSize,
	}
}

// Subscribe returns a channel receiving every event published from now on.
// The caller must call Unsubscribe when done to avoid resource leaks.
func (m *Monitor) Subscribe() chan Event {
	ch := make(chan Event, m.BufferSize)
	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	m.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it. Unknown channels
// are ignored.
func (m *Monitor) Unsubscribe(ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subscribers[ch]; !ok {
		return
	}
	delete(m.subscribers, ch)
	close(ch)
}

// SubscriberCount returns the number of active subscribers.
func (m *Monitor) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}

// Publish sends e to every subscriber.
func (m *Monitor) Publish(e Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- e:
		default:
			internal.MonitorDroppedCounter.Inc()
		}
	}
}
