package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/dirwatch/dirwatch"
)

func TestParseTimeValue(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("RFC3339", func(t *testing.T) {
		got, err := parseTimeValue("2024-02-29T08:30:00Z", now)
		if err != nil {
			t.Fatal(err)
		} else if want := time.Date(2024, 2, 29, 8, 30, 0, 0, time.UTC); !got.Equal(want) {
			t.Fatalf("got %s, want %s", got, want)
		}
	})

	t.Run("RFC3339Nano", func(t *testing.T) {
		got, err := parseTimeValue("2024-02-29T08:30:00.123456789+02:00", now)
		if err != nil {
			t.Fatal(err)
		} else if got.Nanosecond() != 123456789 {
			t.Fatalf("nanoseconds=%d, want 123456789", got.Nanosecond())
		}
	})

	t.Run("Relative", func(t *testing.T) {
		got, err := parseTimeValue("5 minutes ago", now)
		if err != nil {
			t.Fatal(err)
		} else if want := now.Add(-5 * time.Minute); got.Sub(want).Abs() > time.Second {
			t.Fatalf("got %s, want %s", got, want)
		}
	})

	t.Run("ErrInvalid", func(t *testing.T) {
		if _, err := parseTimeValue("not a time at all", now); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestWriteStatuses(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	statuses := []dirwatch.WatchStatus{
		{Path: "/srv/inbox", State: dirwatch.StateRunning, StartedAt: now.Add(-2 * time.Hour), Events: 12345},
		{Path: "/srv/gone", State: dirwatch.StateFailed, StartedAt: now.Add(-time.Hour), StoppedAt: now.Add(-time.Minute), Error: "boom"},
	}

	t.Run("All", func(t *testing.T) {
		var buf bytes.Buffer
		writeStatuses(&buf, statuses, "", now)

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if got, want := len(lines), 3; got != want {
			t.Fatalf("len(lines)=%d, want %d", got, want)
		}
		for _, s := range []string{"/srv/inbox", "running", "2 hours ago", "12,345"} {
			if !strings.Contains(lines[1], s) {
				t.Fatalf("row %q missing %q", lines[1], s)
			}
		}
		for _, s := range []string{"/srv/gone", "failed", "1 minute ago", "boom"} {
			if !strings.Contains(lines[2], s) {
				t.Fatalf("row %q missing %q", lines[2], s)
			}
		}
	})

	t.Run("Filtered", func(t *testing.T) {
		var buf bytes.Buffer
		writeStatuses(&buf, statuses, "/srv/gone", now)
		if strings.Contains(buf.String(), "/srv/inbox") {
			t.Fatalf("unexpected row for filtered path:\n%s", buf.String())
		}
	})
}
