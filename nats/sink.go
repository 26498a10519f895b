package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dirwatch/dirwatch"
	"github.com/dirwatch/dirwatch/internal"
)

// SinkType is the sink type for this package.
const SinkType = "nats"

// HeaderKeyDir is the header key holding the watched directory.
const HeaderKeyDir = "Dirwatch-Dir"

// DefaultSubject is the subject prefix used when none is configured.
const DefaultSubject = "dirwatch.events"

var _ dirwatch.EventSink = (*Sink)(nil)

// Sink publishes events as JSON messages to NATS. Each event is sent to
// "<Subject>.<kind>" so subscribers can filter with subject wildcards.
type Sink struct {
	mu     sync.Mutex
	nc     *nats.Conn
	failed atomic.Bool

	// Configuration
	URL      string // NATS server URL
	Subject  string // Subject prefix
	Creds    string // Credentials file path
	Username string // Username for authentication
	Password string // Password for authentication
	Token    string // Token for authentication
	RootCAs  []string

	// Connection options
	MaxReconnects int           // Maximum reconnection attempts (-1 for unlimited)
	ReconnectWait time.Duration // Wait time between reconnection attempts
	Timeout       time.Duration // Connection timeout

	Logger *slog.Logger
}

// NewSink returns a new instance of Sink.
func NewSink() *Sink {
	return &Sink{
		Subject:       DefaultSubject,
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       10 * time.Second,
		Logger:        slog.Default().WithGroup(SinkType),
	}
}

// NewSinkFromURL returns a sink from a URL of the form
// nats://[user:pass@]host[:port]/subject.
func NewSinkFromURL(rawURL string) (*Sink, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse nats url: %w", err)
	} else if u.Scheme != "nats" && u.Scheme != "tls" {
		return nil, fmt.Errorf("unsupported nats url scheme: %q", u.Scheme)
	} else if u.Host == "" {
		return nil, fmt.Errorf("host required for nats url")
	}

	s := NewSink()
	s.URL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	if u.User != nil {
		s.Username = u.User.Username()
		s.Password, _ = u.User.Password()
	}
	if subject := strings.Trim(u.Path, "/"); subject != "" {
		s.Subject = strings.ReplaceAll(subject, "/", ".")
	}
	return s, nil
}

// Open connects to the NATS server.
func (s *Sink) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nc != nil {
		return nil
	}

	opts := []nats.Option{
		nats.Name("dirwatch"),
		nats.MaxReconnects(s.MaxReconnects),
		nats.ReconnectWait(s.ReconnectWait),
		nats.Timeout(s.Timeout),
	}

	// Authentication options
	switch {
	case s.Creds != "":
		opts = append(opts, nats.UserCredentials(s.Creds))
	case s.Username != "" && s.Password != "":
		opts = append(opts, nats.UserInfo(s.Username, s.Password))
	case s.Token != "":
		opts = append(opts, nats.Token(s.Token))
	}

	if len(s.RootCAs) > 0 {
		opts = append(opts, nats.RootCAs(s.RootCAs...))
	}

	url := s.URL
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return fmt.Errorf("nats: failed to connect: %w", err)
	}
	s.nc = nc

	s.Logger.Info("connected", "url", nc.ConnectedUrlRedacted(), "subject", s.Subject)
	return nil
}

// Close drains pending messages and closes the connection.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nc == nil {
		return nil
	}
	err := s.nc.Drain()
	s.nc = nil
	return err
}

// Publish sends e to NATS. Failures are counted and logged once until a
// publish succeeds again; they are never returned to the engine.
func (s *Sink) Publish(e dirwatch.Event) {
	s.mu.Lock()
	nc := s.nc
	s.mu.Unlock()

	if err := s.publish(nc, e); err != nil {
		internal.SinkErrorCounterVec.WithLabelValues(SinkType).Inc()
		if !s.failed.Swap(true) {
			s.Logger.Error("cannot publish event", "subject", s.EventSubject(e), "error", err)
		}
		return
	}
	s.failed.Store(false)
}

func (s *Sink) publish(nc *nats.Conn, e dirwatch.Event) error {
	if nc == nil {
		return fmt.Errorf("nats: not connected")
	}

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(s.EventSubject(e))
	msg.Header.Set(HeaderKeyDir, e.Dir)
	msg.Data = data
	return nc.PublishMsg(msg)
}

// EventSubject returns the subject an event is published to.
func (s *Sink) EventSubject(e dirwatch.Event) string {
	subject := s.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	return subject + "." + e.Kind.String()
}
