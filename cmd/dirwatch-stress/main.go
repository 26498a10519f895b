package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dirwatch/dirwatch"
)

type Config struct {
	Dirs          int
	WritesPerDir  int
	Duration      time.Duration
	Dir           string
	Backend       string
	PollInterval  time.Duration
	StopTimeout   time.Duration
	MaxStopWindow time.Duration
	Verbose       bool
}

// Metrics counts file operations and the events they produced.
type Metrics struct {
	startTime time.Time
	writes    atomic.Int64
	events    [dirwatch.KindError + 1]atomic.Int64
	stopTime  time.Duration
}

func (m *Metrics) Publish(e dirwatch.Event) {
	if e.Kind >= 0 && int(e.Kind) < len(m.events) {
		m.events[e.Kind].Add(1)
	}
}

func (m *Metrics) Events(kind dirwatch.Kind) int64 { return m.events[kind].Load() }

func main() {
	cfg := parseFlags()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n[SIGNAL] Interrupt received, shutting down...")
		cancel()
	}()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() *Config {
	cfg := &Config{}

	flag.IntVar(&cfg.Dirs, "dirs", 50, "Number of watched directories")
	flag.IntVar(&cfg.WritesPerDir, "writes-per-dir", 20, "File operations per directory per second")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "Write phase duration")
	flag.StringVar(&cfg.Dir, "dir", "", "Parent directory (default: temp dir)")
	flag.StringVar(&cfg.Backend, "backend", dirwatch.BackendNative, "Notification backend: native or fsnotify")
	flag.DurationVar(&cfg.PollInterval, "poll-interval", dirwatch.DefaultPollInterval, "Engine poll interval")
	flag.DurationVar(&cfg.StopTimeout, "stop-timeout", dirwatch.DefaultStopTimeout, "Per-watch stop timeout")
	flag.DurationVar(&cfg.MaxStopWindow, "max-stop", 0, "Fail if stopping all watches takes longer (default: 2x poll interval + 1s)")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Enable verbose output")

	flag.Parse()

	return cfg
}

// run watches cfg.Dirs directories while writers churn files in each, then
// stops every watch and checks that stop latency stayed bounded.
func run(ctx context.Context, cfg *Config, w io.Writer) error {
	if cfg.Dir == "" {
		tmpDir, err := os.MkdirTemp("", "dirwatch-stress-*")
		if err != nil {
			return fmt.Errorf("create temp dir: %w", err)
		}
		cfg.Dir = tmpDir
		defer os.RemoveAll(tmpDir)
	}
	if cfg.MaxStopWindow <= 0 {
		cfg.MaxStopWindow = 2*cfg.PollInterval + time.Second
	}

	fmt.Fprintf(w, "=== Directory Watch Stress Test ===\n")
	fmt.Fprintf(w, "Directories:   %d\n", cfg.Dirs)
	fmt.Fprintf(w, "Parent dir:    %s\n", cfg.Dir)
	fmt.Fprintf(w, "Backend:       %s\n", cfg.Backend)
	fmt.Fprintf(w, "Poll interval: %s\n", cfg.PollInterval)
	fmt.Fprintln(w)

	notifier, err := dirwatch.NewOSNotifier(cfg.Backend)
	if err != nil {
		return err
	}

	metrics := &Metrics{startTime: time.Now()}
	sinks := dirwatch.MultiSink{metrics}
	if cfg.Verbose {
		sinks = append(sinks, dirwatch.NewWriterSink(w, dirwatch.FormatText))
	}

	manager := dirwatch.NewManager(sinks)
	manager.Notifier = notifier
	manager.PollInterval = cfg.PollInterval
	manager.StopTimeout = cfg.StopTimeout

	fmt.Fprintf(w, "[PHASE 1] Starting %d watches...\n", cfg.Dirs)

	dirs := make([]string, cfg.Dirs)
	for i := range dirs {
		dirs[i] = filepath.Join(cfg.Dir, fmt.Sprintf("dir-%04d", i))
		if err := os.MkdirAll(dirs[i], 0o755); err != nil {
			_ = manager.Close(context.Background())
			return fmt.Errorf("create directory: %w", err)
		}
		if _, err := manager.Start(dirs[i]); err != nil {
			_ = manager.Close(context.Background())
			return fmt.Errorf("start watch: %w", err)
		}
	}

	fmt.Fprintf(w, "[PHASE 2] Churning files (%d ops/dir/sec for %v)...\n", cfg.WritesPerDir, cfg.Duration)

	writeCtx, writeCancel := context.WithTimeout(ctx, cfg.Duration)
	var wg sync.WaitGroup
	for _, dir := range dirs {
		wg.Add(1)
		go func(dir string) {
			defer wg.Done()
			runWrites(writeCtx, dir, cfg.WritesPerDir, metrics)
		}(dir)
	}
	wg.Wait()
	writeCancel()

	fmt.Fprintln(w, "[PHASE 3] Stopping watches...")

	start := time.Now()
	closeErr := manager.Close(context.Background())
	metrics.stopTime = time.Since(start)

	var reason string
	switch {
	case closeErr != nil:
		reason = closeErr.Error()
	case metrics.stopTime > cfg.MaxStopWindow:
		reason = fmt.Sprintf("stopping took %v, limit %v", metrics.stopTime.Round(time.Millisecond), cfg.MaxStopWindow)
	case metrics.Events(dirwatch.KindError) > 0:
		reason = fmt.Sprintf("%d watch error(s)", metrics.Events(dirwatch.KindError))
	}

	printFinalReport(w, metrics, manager.Statuses(), reason)
	if reason != "" {
		return fmt.Errorf("stress test failed: %s", reason)
	}
	return nil
}

// runWrites creates, rewrites & deletes files in dir at opsPerSec.
func runWrites(ctx context.Context, dir string, opsPerSec int, metrics *Metrics) {
	if opsPerSec <= 0 {
		return
	}
	ticker := time.NewTicker(time.Second / time.Duration(opsPerSec))
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		path := filepath.Join(dir, fmt.Sprintf("file-%d", i%8))
		var err error
		switch i % 3 {
		case 0, 1:
			err = os.WriteFile(path, []byte(time.Now().String()), 0o644)
		case 2:
			err = os.Remove(path)
		}
		if err == nil {
			metrics.writes.Add(1)
		}
	}
}

func printFinalReport(w io.Writer, metrics *Metrics, statuses []dirwatch.WatchStatus, failReason string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "="+strings.Repeat("=", 50))
	fmt.Fprintln(w, "                    FINAL REPORT")
	fmt.Fprintln(w, "="+strings.Repeat("=", 50))

	elapsed := time.Since(metrics.startTime)
	fmt.Fprintf(w, "Duration:        %v\n", elapsed.Round(time.Second))
	fmt.Fprintf(w, "Watches:         %d\n", len(statuses))
	fmt.Fprintf(w, "File operations: %s\n", humanize.Comma(metrics.writes.Load()))
	fmt.Fprintf(w, "Created:         %s\n", humanize.Comma(metrics.Events(dirwatch.KindCreated)))
	fmt.Fprintf(w, "Modified:        %s\n", humanize.Comma(metrics.Events(dirwatch.KindModified)))
	fmt.Fprintf(w, "Deleted:         %s\n", humanize.Comma(metrics.Events(dirwatch.KindDeleted)))
	fmt.Fprintf(w, "Overflows:       %s\n", humanize.Comma(metrics.Events(dirwatch.KindOverflow)))
	fmt.Fprintf(w, "Stop time:       %v\n", metrics.stopTime.Round(time.Millisecond))

	var stopped int
	for _, status := range statuses {
		if status.State == dirwatch.StateStopped {
			stopped++
		}
	}
	fmt.Fprintf(w, "Stopped cleanly: %d/%d\n", stopped, len(statuses))

	fmt.Fprintln(w)
	if failReason == "" {
		fmt.Fprintln(w, "Result:          PASSED")
	} else {
		fmt.Fprintln(w, "Result:          FAILED")
		fmt.Fprintf(w, "Reason:          %s\n", failReason)
	}
	fmt.Fprintln(w, "="+strings.Repeat("=", 50))
}
