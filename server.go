package dirwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/MadAppGang/httplog"
)

// Status messages returned by the start and stop endpoints.
const (
	StartedMessage = "Monitoring..."
	StoppedMessage = "Stopped monitoring!"
)

// SocketConfig configures the Unix socket for control commands.
type SocketConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	Permissions uint32 `yaml:"permissions"`
}

// DefaultSocketConfig returns the default socket configuration.
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		Enabled:     true,
		Path:        "/var/run/dirwatch.sock",
		Permissions: 0600,
	}
}

// Server exposes a Manager over HTTP on a Unix socket.
type Server struct {
	manager *Manager
	monitor *Monitor
	history *MemorySink

	// SocketPath is the path to the Unix socket.
	SocketPath string

	// SocketPerms is the file permissions for the socket.
	SocketPerms uint32

	// PathExpander optionally expands paths (e.g., ~ expansion).
	// If nil, paths are used as-is.
	PathExpander func(string) (string, error)

	socketListener net.Listener
	httpServer     *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	Logger *slog.Logger
}

// NewServer returns a server controlling manager. Live events are streamed
// from monitor and replayed from history, which may be nil.
func NewServer(manager *Manager, monitor *Monitor, history *MemorySink) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		manager:     manager,
		monitor:     monitor,
		history:     history,
		SocketPerms: 0600,
		ctx:         ctx,
		cancel:      cancel,
		Logger:      slog.Default(),
	}

	mux := http.NewServeMux()
	mux.Handle("POST /start", httplog.Logger(http.HandlerFunc(s.handleStart)))
	mux.Handle("POST /stop", httplog.Logger(http.HandlerFunc(s.handleStop)))
	mux.Handle("POST /clear", httplog.Logger(http.HandlerFunc(s.handleClear)))
	mux.Handle("GET /status", httplog.Logger(http.HandlerFunc(s.handleStatus)))
	mux.HandleFunc("GET /monitor", s.handleMonitor)

	s.httpServer = &http.Server{Handler: mux}

	return s
}

// Handler returns the HTTP handler serving the control API.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for control connections.
func (s *Server) Start() error {
	if s.SocketPath == "" {
		return fmt.Errorf("socket path required")
	}

	// Only replace a stale socket, never a regular file.
	if info, err := os.Lstat(s.SocketPath); err == nil {
		if info.Mode()&os.ModeSocket != 0 {
			if err := os.Remove(s.SocketPath); err != nil {
				return fmt.Errorf("remove existing socket: %w", err)
			}
		} else {
			return fmt.Errorf("socket path exists but is not a socket: %s", s.SocketPath)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("check socket path: %w", err)
	}

	listener, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on unix socket: %w", err)
	}
	s.socketListener = listener

	if err := os.Chmod(s.SocketPath, os.FileMode(s.SocketPerms)); err != nil {
		listener.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.Logger.Info("control socket listening", "path", s.SocketPath)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.Logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Close ends open monitor streams and shuts down the control server.
func (s *Server) Close() error {
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.Logger.Error("http server shutdown error", "error", err)
		}
	}
	s.wg.Wait()
	return nil
}

// expandPath expands the path using PathExpander if set.
func (s *Server) expandPath(path string) (string, error) {
	if s.PathExpander != nil {
		return s.PathExpander(path)
	}
	return path, nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if req.Path == "" {
		writeJSONError(w, http.StatusBadRequest, "path required", nil)
		return
	}

	expandedPath, err := s.expandPath(req.Path)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid path: %v", err), nil)
		return
	}

	engine, err := s.manager.Start(expandedPath)
	if err != nil {
		var targetErr *InvalidTargetError
		switch {
		case errors.As(err, &targetErr):
			writeJSONError(w, http.StatusBadRequest, err.Error(), nil)
		case errors.Is(err, ErrAlreadyWatching):
			writeJSONError(w, http.StatusConflict, err.Error(), nil)
		case errors.Is(err, ErrManagerClosed):
			writeJSONError(w, http.StatusServiceUnavailable, err.Error(), nil)
		default:
			writeJSONError(w, http.StatusInternalServerError, err.Error(), nil)
		}
		return
	}

	writeJSON(w, http.StatusOK, StartResponse{
		Status:  "started",
		Path:    engine.Path(),
		Message: StartedMessage,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req StopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if req.Path == "" {
		writeJSONError(w, http.StatusBadRequest, "path required", nil)
		return
	}

	expandedPath, err := s.expandPath(req.Path)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid path: %v", err), nil)
		return
	}

	ctx := s.ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, time.Duration(req.Timeout)*time.Second)
		defer cancel()
	}

	engine := s.manager.Engine(expandedPath)
	if err := s.manager.Stop(ctx, expandedPath); err != nil {
		switch {
		case errors.Is(err, ErrNotWatching):
			writeJSONError(w, http.StatusNotFound, err.Error(), nil)
		case errors.Is(err, ErrStopTimeout):
			writeJSONError(w, http.StatusGatewayTimeout, err.Error(), nil)
		default:
			writeJSONError(w, http.StatusInternalServerError, err.Error(), nil)
		}
		return
	}

	resp := StopResponse{
		Status:  "stopped",
		Path:    CleanPath(expandedPath),
		Message: StoppedMessage,
	}
	if engine != nil {
		resp.State = engine.State()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Watches: s.manager.Statuses()})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var n int
	if s.history != nil {
		n = s.history.Clear()
	}
	writeJSON(w, http.StatusOK, ClearResponse{Status: "cleared", Cleared: n})
}

// handleMonitor streams events as NDJSON. Retained history is replayed
// first, filtered by the optional path and since parameters.
func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported", nil)
		return
	}

	var dir string
	if v := r.URL.Query().Get("path"); v != "" {
		expandedPath, err := s.expandPath(v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid path: %v", err), nil)
			return
		}
		dir = CleanPath(expandedPath)
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid since timestamp", err.Error())
			return
		}
		since = t
	}

	ch := s.monitor.Subscribe()
	defer s.monitor.Unsubscribe(ch)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)

	// Events published while the history is replayed are delivered by both.
	// The history sink precedes the monitor in the sink chain, so anything
	// missing from the replay still arrives live.
	replayed := make(map[uint64]struct{})
	if s.history != nil {
		for _, e := range s.history.Since(since) {
			if !e.Match(dir) {
				continue
			}
			if e.Seq != 0 {
				replayed[e.Seq] = struct{}{}
			}
			if err := enc.Encode(e); err != nil {
				return
			}
		}
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if !e.Match(dir) {
				continue
			}
			if _, ok := replayed[e.Seq]; ok && e.Seq != 0 {
				delete(replayed, e.Seq)
				continue
			}
			if err := enc.Encode(e); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   message,
		Details: details,
	})
}

// StartRequest is the request body for the /start endpoint.
type StartRequest struct {
	Path string `json:"path"`
}

// StartResponse is the response body for the /start endpoint.
type StartResponse struct {
	Status  string `json:"status"`
	Path    string `json:"path"`
	Message string `json:"message,omitempty"`
}

// StopRequest is the request body for the /stop endpoint.
type StopRequest struct {
	Path    string `json:"path"`
	Timeout int    `json:"timeout,omitempty"`
}

// StopResponse is the response body for the /stop endpoint.
type StopResponse struct {
	Status  string `json:"status"`
	Path    string `json:"path"`
	State   State  `json:"state"`
	Message string `json:"message,omitempty"`
}

// StatusResponse is the response body for the /status endpoint.
type StatusResponse struct {
	Watches []WatchStatus `json:"watches"`
}

// ClearResponse is the response body for the /clear endpoint.
type ClearResponse struct {
	Status  string `json:"status"`
	Cleared int    `json:"cleared"`
}

// ErrorResponse is returned when an error occurs.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}
