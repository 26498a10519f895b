package dirwatch_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirwatch/dirwatch"
	"github.com/dirwatch/dirwatch/internal/testingutil"
)

type testServer struct {
	*dirwatch.Server
	Manager *dirwatch.Manager
	History *dirwatch.MemorySink
	Monitor *dirwatch.Monitor
	Client  *http.Client
}

func newTestServer(tb testing.TB) *testServer {
	tb.Helper()

	history := dirwatch.NewMemorySink(100)
	monitor := dirwatch.NewMonitor()
	manager := newTestManager(tb, dirwatch.MultiSink{history, monitor})

	socketPath := testingutil.ShortSocketPath(tb)
	server := dirwatch.NewServer(manager, monitor, history)
	server.SocketPath = socketPath
	server.Logger = testingutil.NewLogger(tb)
	if err := server.Start(); err != nil {
		tb.Fatalf("start server: %v", err)
	}
	tb.Cleanup(func() { _ = server.Close() })

	return &testServer{
		Server:  server,
		Manager: manager,
		History: history,
		Monitor: monitor,
		Client: &http.Client{
			Transport: &http.Transport{
				DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
					return net.Dial("unix", socketPath)
				},
			},
		},
	}
}

func (s *testServer) post(tb testing.TB, path string, body, resp any) int {
	tb.Helper()

	b, err := json.Marshal(body)
	require.NoError(tb, err)

	r, err := s.Client.Post("http://localhost"+path, "application/json", bytes.NewReader(b))
	require.NoError(tb, err)
	defer r.Body.Close()

	require.NoError(tb, json.NewDecoder(r.Body).Decode(resp))
	return r.StatusCode
}

func TestServer_HandleStart(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		s := newTestServer(t)
		dir := t.TempDir()

		var resp dirwatch.StartResponse
		code := s.post(t, "/start", dirwatch.StartRequest{Path: dir}, &resp)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "started", resp.Status)
		assert.Equal(t, dir, resp.Path)
		assert.Equal(t, dirwatch.StartedMessage, resp.Message)
		assert.NotNil(t, s.Manager.Engine(dir))
	})

	t.Run("ErrInvalidTarget", func(t *testing.T) {
		s := newTestServer(t)

		var resp dirwatch.ErrorResponse
		code := s.post(t, "/start", dirwatch.StartRequest{Path: filepath.Join(t.TempDir(), "missing")}, &resp)
		require.Equal(t, http.StatusBadRequest, code)
		assert.Contains(t, resp.Error, "path is not a valid directory")
	})

	t.Run("ErrPathRequired", func(t *testing.T) {
		s := newTestServer(t)

		var resp dirwatch.ErrorResponse
		code := s.post(t, "/start", dirwatch.StartRequest{}, &resp)
		require.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "path required", resp.Error)
	})

	t.Run("ErrAlreadyWatching", func(t *testing.T) {
		s := newTestServer(t)
		dir := t.TempDir()

		var resp dirwatch.ErrorResponse
		require.Equal(t, http.StatusOK, s.post(t, "/start", dirwatch.StartRequest{Path: dir}, &dirwatch.StartResponse{}))
		require.Equal(t, http.StatusConflict, s.post(t, "/start", dirwatch.StartRequest{Path: dir}, &resp))
	})
}

func TestServer_HandleStop(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		s := newTestServer(t)
		dir := t.TempDir()
		require.Equal(t, http.StatusOK, s.post(t, "/start", dirwatch.StartRequest{Path: dir}, &dirwatch.StartResponse{}))

		var resp dirwatch.StopResponse
		code := s.post(t, "/stop", dirwatch.StopRequest{Path: dir}, &resp)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "stopped", resp.Status)
		assert.Equal(t, dirwatch.StateStopped, resp.State)
		assert.Equal(t, dirwatch.StoppedMessage, resp.Message)
		assert.Nil(t, s.Manager.Engine(dir))
	})

	t.Run("ErrNotWatching", func(t *testing.T) {
		s := newTestServer(t)

		var resp dirwatch.ErrorResponse
		code := s.post(t, "/stop", dirwatch.StopRequest{Path: t.TempDir()}, &resp)
		require.Equal(t, http.StatusNotFound, code)
	})
}

func TestServer_HandleStatus(t *testing.T) {
	s := newTestServer(t)
	dir0, dir1 := t.TempDir(), t.TempDir()
	require.Equal(t, http.StatusOK, s.post(t, "/start", dirwatch.StartRequest{Path: dir0}, &dirwatch.StartResponse{}))
	require.Equal(t, http.StatusOK, s.post(t, "/start", dirwatch.StartRequest{Path: dir1}, &dirwatch.StartResponse{}))
	require.Equal(t, http.StatusOK, s.post(t, "/stop", dirwatch.StopRequest{Path: dir1}, &dirwatch.StopResponse{}))

	r, err := s.Client.Get("http://localhost/status")
	require.NoError(t, err)
	defer r.Body.Close()
	require.Equal(t, http.StatusOK, r.StatusCode)

	var resp dirwatch.StatusResponse
	require.NoError(t, json.NewDecoder(r.Body).Decode(&resp))
	require.Len(t, resp.Watches, 2)
	assert.Equal(t, dir0, resp.Watches[0].Path)
	assert.Equal(t, dirwatch.StateRunning, resp.Watches[0].State)
	assert.Equal(t, dir1, resp.Watches[1].Path)
	assert.Equal(t, dirwatch.StateStopped, resp.Watches[1].State)
}

func TestServer_HandleClear(t *testing.T) {
	s := newTestServer(t)
	s.History.Publish(dirwatch.Event{Kind: dirwatch.KindCreated, Name: "a.txt"})

	var resp dirwatch.ClearResponse
	require.Equal(t, http.StatusOK, s.post(t, "/clear", struct{}{}, &resp))
	assert.Equal(t, 1, resp.Cleared)
	assert.Equal(t, 0, s.History.Len())
}

func TestServer_HandleMonitor(t *testing.T) {
	t.Run("ReplaysHistoryThenStreams", func(t *testing.T) {
		s := newTestServer(t)
		dir := t.TempDir()
		require.Equal(t, http.StatusOK, s.post(t, "/start", dirwatch.StartRequest{Path: dir}, &dirwatch.StartResponse{}))

		ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, "GET", "http://localhost/monitor?path="+dir, nil)
		require.NoError(t, err)
		resp, err := s.Client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

		scanner := bufio.NewScanner(resp.Body)
		next := func() dirwatch.Event {
			t.Helper()
			require.True(t, scanner.Scan(), "expected event: %v", scanner.Err())
			var e dirwatch.Event
			require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
			return e
		}

		// The start marker is replayed from history.
		assert.Equal(t, dirwatch.KindStarted, next().Kind)

		testingutil.MustCreateFile(t, filepath.Join(dir, "a.txt"))
		for {
			e := next()
			if e.Kind == dirwatch.KindCreated {
				assert.Equal(t, "a.txt", e.Name)
				assert.Equal(t, dir, e.Dir)
				break
			}
		}
	})

	t.Run("FiltersByPath", func(t *testing.T) {
		s := newTestServer(t)
		s.History.Publish(dirwatch.Event{Kind: dirwatch.KindCreated, Dir: "/a", Name: "x", Timestamp: time.Now()})
		s.History.Publish(dirwatch.Event{Kind: dirwatch.KindCreated, Dir: "/b", Name: "y", Timestamp: time.Now()})

		ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, "GET", "http://localhost/monitor?path=/b", nil)
		require.NoError(t, err)
		resp, err := s.Client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		require.True(t, scanner.Scan())
		var e dirwatch.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		assert.Equal(t, "y", e.Name)
	})

	t.Run("StreamsEventsOutOfTimestampOrder", func(t *testing.T) {
		s := newTestServer(t)
		t0 := time.Now()

		// Published by a later engine but stamped after the event that follows.
		s.History.Publish(dirwatch.Event{Kind: dirwatch.KindCreated, Dir: "/b", Name: "y", Timestamp: t0.Add(time.Second), Seq: 2})

		ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, "GET", "http://localhost/monitor", nil)
		require.NoError(t, err)
		resp, err := s.Client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		next := func() dirwatch.Event {
			t.Helper()
			require.True(t, scanner.Scan(), "expected event: %v", scanner.Err())
			var e dirwatch.Event
			require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
			return e
		}
		if got, want := next().Seq, uint64(2); got != want {
			t.Fatalf("replayed seq=%d, want %d", got, want)
		}
		require.Eventually(t, func() bool { return s.Monitor.SubscriberCount() == 1 }, 5*time.Second, 10*time.Millisecond)

		// The replayed event arriving live again is skipped; the earlier
		// stamped event is not.
		s.Monitor.Publish(dirwatch.Event{Kind: dirwatch.KindCreated, Dir: "/b", Name: "y", Timestamp: t0.Add(time.Second), Seq: 2})
		live := dirwatch.Event{Kind: dirwatch.KindCreated, Dir: "/a", Name: "x", Timestamp: t0, Seq: 1}
		s.History.Publish(live)
		s.Monitor.Publish(live)

		e := next()
		assert.Equal(t, "x", e.Name)
		assert.Equal(t, uint64(1), e.Seq)
	})

	t.Run("ErrInvalidSince", func(t *testing.T) {
		s := newTestServer(t)

		resp, err := s.Client.Get("http://localhost/monitor?since=yesterday")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestServer_Start(t *testing.T) {
	t.Run("ErrNotSocket", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(path, nil, 0o600))

		server := dirwatch.NewServer(dirwatch.NewManager(dirwatch.NewMemorySink(0)), dirwatch.NewMonitor(), nil)
		server.SocketPath = path
		require.ErrorContains(t, server.Start(), "not a socket")
	})

	t.Run("ErrSocketPathRequired", func(t *testing.T) {
		server := dirwatch.NewServer(dirwatch.NewManager(dirwatch.NewMemorySink(0)), dirwatch.NewMonitor(), nil)
		require.Error(t, server.Start())
	})
}
