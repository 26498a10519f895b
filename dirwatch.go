// Package dirwatch watches a single directory for entry changes and
// publishes each change as an Event to a sink.
package dirwatch

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies the type of an event.
type Kind int

const (
	KindUnknown Kind = iota

	// Entry events.
	KindCreated
	KindModified
	KindDeleted

	// Lifecycle and diagnostic events.
	KindStarted
	KindOverflow
	KindInvalidated
	KindError
)

var kindNames = [...]string{
	KindUnknown:     "unknown",
	KindCreated:     "created",
	KindModified:    "modified",
	KindDeleted:     "deleted",
	KindStarted:     "started",
	KindOverflow:    "overflow",
	KindInvalidated: "invalidated",
	KindError:       "error",
}

// ParseKind returns the kind for a case-insensitive name.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if k != int(KindUnknown) && strings.EqualFold(s, name) {
			return Kind(k), nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown event kind: %q", s)
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

// IsEntry returns true for kinds that describe a change to a directory entry.
func (k Kind) IsEntry() bool {
	return k == KindCreated || k == KindModified || k == KindDeleted
}

// label is the capitalized name used in event lines.
func (k Kind) label() string {
	s := k.String()
	return strings.ToUpper(s[:1]) + s[1:]
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) (err error) {
	*k, err = ParseKind(string(b))
	return err
}

// Event is a single notification delivered to a sink.
type Event struct {
	Kind      Kind      `json:"kind"`
	Dir       string    `json:"dir"`
	Name      string    `json:"name,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Seq is assigned in publish order across every engine of the process.
	// Zero for events not published by an engine.
	Seq uint64 `json:"seq,omitempty"`
}

// Text returns the human-readable form of the event without a timestamp.
//
//	Directory='/srv/inbox'
//	Event: Created; File: a.txt
func (e Event) Text() string {
	switch {
	case e.Kind == KindStarted:
		return fmt.Sprintf("Directory='%s'", e.Dir)
	case e.Kind.IsEntry():
		return fmt.Sprintf("Event: %s; File: %s", e.Kind.label(), e.Name)
	case e.Message != "":
		return fmt.Sprintf("Event: %s; %s", e.Kind.label(), e.Message)
	default:
		return fmt.Sprintf("Event: %s", e.Kind.label())
	}
}

// Line returns the event text prefixed by its timestamp.
func (e Event) Line() string {
	return e.Timestamp.Format(time.RFC3339) + " " + e.Text()
}

// Match returns true if the event was produced for dir. An empty dir matches
// every event.
func (e Event) Match(dir string) bool {
	return dir == "" || e.Dir == dir
}
