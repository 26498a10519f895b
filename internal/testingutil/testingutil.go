package testingutil

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dirwatch/dirwatch"
	"github.com/dirwatch/dirwatch/internal"
	"github.com/dirwatch/dirwatch/nats"
)

var (
	// Enables integration tests.
	integration = flag.Bool("integration", false, "")
	// Sets the log level for the tests.
	logLevel = flag.String("log.level", "debug", "")
)

// NATS settings
var (
	natsURL      = flag.String("nats-url", os.Getenv("DIRWATCH_NATS_URL"), "")
	natsSubject  = flag.String("nats-subject", os.Getenv("DIRWATCH_NATS_SUBJECT"), "")
	natsCreds    = flag.String("nats-creds", os.Getenv("DIRWATCH_NATS_CREDS"), "")
	natsUsername = flag.String("nats-username", os.Getenv("DIRWATCH_NATS_USERNAME"), "")
	natsPassword = flag.String("nats-password", os.Getenv("DIRWATCH_NATS_PASSWORD"), "")
)

// DefaultTimeout is how long the wait helpers poll before failing a test.
const DefaultTimeout = 10 * time.Second

func Integration() bool {
	return *integration
}

// NewLogger returns a logger at the level set by the -log.level flag.
func NewLogger(tb testing.TB) *slog.Logger {
	tb.Helper()

	level := slog.LevelDebug
	switch strings.ToLower(*logLevel) {
	case "trace":
		level = internal.LevelTrace
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: internal.ReplaceAttr,
	}))
}

// ShortSocketPath returns a unix socket path short enough for sun_path.
// t.TempDir() paths can exceed the 104 byte limit on macOS.
func ShortSocketPath(tb testing.TB) string {
	tb.Helper()
	dir, err := os.MkdirTemp("/tmp", "dw")
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

// MustCreateFile creates an empty file at path.
func MustCreateFile(tb testing.TB, path string) {
	tb.Helper()
	f, err := os.Create(path)
	if err != nil {
		tb.Fatal(err)
	} else if err := f.Close(); err != nil {
		tb.Fatal(err)
	}
}

// WaitForEvent polls sink until an event satisfying fn has been published.
func WaitForEvent(tb testing.TB, sink *dirwatch.MemorySink, fn func(dirwatch.Event) bool) dirwatch.Event {
	tb.Helper()

	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		for _, e := range sink.Events() {
			if fn(e) {
				return e
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	tb.Fatalf("timeout waiting for event; have %d events", sink.Len())
	return dirwatch.Event{}
}

// WaitForEntry waits for an entry event of the given kind and name.
func WaitForEntry(tb testing.TB, sink *dirwatch.MemorySink, kind dirwatch.Kind, name string) dirwatch.Event {
	tb.Helper()
	return WaitForEvent(tb, sink, func(e dirwatch.Event) bool {
		return e.Kind == kind && e.Name == name
	})
}

// WaitForState polls until engine reaches state.
func WaitForState(tb testing.TB, engine *dirwatch.Engine, state dirwatch.State) {
	tb.Helper()

	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		if engine.State() == state {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	tb.Fatalf("timeout waiting for state %s; have %s", state, engine.State())
}

// NewNATSSink returns a sink configured for integration testing.
func NewNATSSink(tb testing.TB) *nats.Sink {
	tb.Helper()

	s := nats.NewSink()
	s.URL = *natsURL
	s.Subject = *natsSubject
	if s.Subject == "" {
		s.Subject = "dirwatch.test"
	}
	s.Creds = *natsCreds
	s.Username = *natsUsername
	s.Password = *natsPassword
	return s
}
