package internal

import (
	"io"
	"log/slog"
	"sync"
	"time"
)

// LevelTrace is the slog level used for per-event logging.
const LevelTrace = slog.LevelDebug - 4

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr that renders LevelTrace
// as "TRACE" instead of "DEBUG-4".
func ReplaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok && level == LevelTrace {
			return slog.String(slog.LevelKey, "TRACE")
		}
	}
	return a
}

// TruncateDuration truncates d to the nearest major unit (s, ms, µs, ns).
func TruncateDuration(d time.Duration) time.Duration {
	if d < 0 {
		if d < -10*time.Second {
			return d.Truncate(time.Second)
		} else if d < -time.Second {
			return d.Truncate(time.Second / 10)
		} else if d < -time.Millisecond {
			return d.Truncate(time.Millisecond)
		} else if d < -time.Microsecond {
			return d.Truncate(time.Microsecond)
		}
		return d
	}

	if d > 10*time.Second {
		return d.Truncate(time.Second)
	} else if d > time.Second {
		return d.Truncate(time.Second / 10)
	} else if d > time.Millisecond {
		return d.Truncate(time.Millisecond)
	} else if d > time.Microsecond {
		return d.Truncate(time.Microsecond)
	}
	return d
}

// OnceCloser returns a closer that will only ignore duplicate closes.
func OnceCloser(c io.Closer) io.Closer {
	return &onceCloser{Closer: c}
}

type onceCloser struct {
	sync.Once
	io.Closer
}

func (c *onceCloser) Close() (err error) {
	c.Once.Do(func() { err = c.Closer.Close() })
	return err
}
