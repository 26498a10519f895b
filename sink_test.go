package dirwatch_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirwatch/dirwatch"
	"github.com/dirwatch/dirwatch/internal"
)

func TestWriterSink(t *testing.T) {
	e := dirwatch.Event{
		Kind:      dirwatch.KindCreated,
		Dir:       "/srv/inbox",
		Name:      "a.txt",
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	t.Run("Text", func(t *testing.T) {
		var buf internal.LockingBuffer
		dirwatch.NewWriterSink(&buf, dirwatch.FormatText).Publish(e)
		if got, want := buf.String(), "2024-01-02T03:04:05Z Event: Created; File: a.txt\n"; got != want {
			t.Fatalf("output=%q, want %q", got, want)
		}
	})

	t.Run("JSON", func(t *testing.T) {
		var buf internal.LockingBuffer
		sink := dirwatch.NewWriterSink(&buf, dirwatch.FormatJSON)
		sink.Publish(e)
		sink.Publish(e)

		lines := buf.Lines()
		require.Len(t, lines, 2)

		var other dirwatch.Event
		require.NoError(t, json.Unmarshal([]byte(lines[1]), &other))
		assert.Equal(t, e, other)
	})

	t.Run("ErrWriteAbsorbed", func(t *testing.T) {
		var logs bytes.Buffer
		sink := dirwatch.NewWriterSink(errWriter{}, dirwatch.FormatText)
		sink.Logger = slog.New(slog.NewTextHandler(&logs, nil))

		sink.Publish(e)
		sink.Publish(e)
		if got, want := strings.Count(logs.String(), "cannot write event"), 1; got != want {
			t.Fatalf("logged %d times, want %d", got, want)
		}
	})
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := &dirwatch.LogSink{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	sink.Publish(dirwatch.Event{Kind: dirwatch.KindError, Dir: "/srv/inbox", Message: "marker"})

	s := buf.String()
	assert.Contains(t, s, "level=ERROR")
	assert.Contains(t, s, "kind=error")
	assert.Contains(t, s, "message=marker")
}

func TestMultiSink(t *testing.T) {
	var order []string
	sink := dirwatch.MultiSink{
		dirwatch.SinkFunc(func(e dirwatch.Event) { order = append(order, "a:"+e.Name) }),
		dirwatch.SinkFunc(func(e dirwatch.Event) { order = append(order, "b:"+e.Name) }),
	}
	sink.Publish(dirwatch.Event{Name: "x"})
	sink.Publish(dirwatch.Event{Name: "y"})
	assert.Equal(t, []string{"a:x", "b:x", "a:y", "b:y"}, order)
}

func TestMemorySink(t *testing.T) {
	t.Run("Limit", func(t *testing.T) {
		sink := dirwatch.NewMemorySink(2)
		for _, name := range []string{"a", "b", "c"} {
			sink.Publish(dirwatch.Event{Kind: dirwatch.KindCreated, Name: name})
		}
		assertEvents(t, sink.Events(),
			dirwatch.Event{Kind: dirwatch.KindCreated, Name: "b"},
			dirwatch.Event{Kind: dirwatch.KindCreated, Name: "c"},
		)
	})

	t.Run("Since", func(t *testing.T) {
		t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		sink := dirwatch.NewMemorySink(0)
		for i, name := range []string{"a", "b", "c"} {
			sink.Publish(dirwatch.Event{Kind: dirwatch.KindCreated, Name: name, Timestamp: t0.Add(time.Duration(i) * time.Minute)})
		}

		assert.Len(t, sink.Since(time.Time{}), 3)
		assertEvents(t, sink.Since(t0.Add(time.Minute)),
			dirwatch.Event{Kind: dirwatch.KindCreated, Name: "b"},
			dirwatch.Event{Kind: dirwatch.KindCreated, Name: "c"},
		)
		assert.Empty(t, sink.Since(t0.Add(time.Hour)))
	})

	t.Run("Clear", func(t *testing.T) {
		sink := dirwatch.NewMemorySink(0)
		sink.Publish(dirwatch.Event{})
		sink.Publish(dirwatch.Event{})
		assert.Equal(t, 2, sink.Clear())
		assert.Equal(t, 0, sink.Len())
	})

	t.Run("EventsCopied", func(t *testing.T) {
		sink := dirwatch.NewMemorySink(0)
		sink.Publish(dirwatch.Event{Name: "a"})
		events := sink.Events()
		events[0].Name = "b"
		assert.Equal(t, "a", sink.Events()[0].Name)
	})
}

func TestMonitor(t *testing.T) {
	t.Run("Broadcast", func(t *testing.T) {
		m := dirwatch.NewMonitor()
		ch0, ch1 := m.Subscribe(), m.Subscribe()
		defer m.Unsubscribe(ch0)
		defer m.Unsubscribe(ch1)

		m.Publish(dirwatch.Event{Name: "a"})
		assert.Equal(t, "a", (<-ch0).Name)
		assert.Equal(t, "a", (<-ch1).Name)
	})

	t.Run("DropsForSlowSubscriber", func(t *testing.T) {
		m := dirwatch.NewMonitor()
		m.BufferSize = 1
		ch := m.Subscribe()
		defer m.Unsubscribe(ch)

		m.Publish(dirwatch.Event{Name: "a"})
		m.Publish(dirwatch.Event{Name: "b"})
		assert.Equal(t, "a", (<-ch).Name)

		select {
		case e := <-ch:
			t.Fatalf("unexpected event: %+v", e)
		default:
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		m := dirwatch.NewMonitor()
		ch := m.Subscribe()
		assert.Equal(t, 1, m.SubscriberCount())

		m.Unsubscribe(ch)
		m.Unsubscribe(ch)
		assert.Equal(t, 0, m.SubscriberCount())

		_, ok := <-ch
		assert.False(t, ok)
	})
}

type errWriter struct{}

func (errWriter) Write(p []byte) (int, error) { return 0, errors.New("marker") }
