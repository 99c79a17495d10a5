package diagnostics

import (
	"context"
	"time"
)

// Journal records operational events of one process run.
type Journal interface {
	Record(ctx context.Context, event *Event) error
	Recent(limit int) ([]Event, error)
	Session() string
	Close() error
}

// Repository stores events.
type Repository interface {
	Record(event *Event) error
	Recent(limit int) ([]Event, error)
	Close() error
}

// Source names the subsystem an event came from.
type Source string

const (
	SourceTelemetry Source = "telemetry"
	SourceHistory   Source = "history"
)

// Kind classifies an event.
type Kind string

const (
	KindState        Kind = "state"
	KindDecodeFailed Kind = "decode_failed"
	KindReconnect    Kind = "reconnect"
	KindFetchFailed  Kind = "fetch_failed"
	KindFetchOK      Kind = "fetch_ok"
	KindStale        Kind = "stale_response"
)

// Event is one journal entry. It never carries measured values.
type Event struct {
	Timestamp time.Time     `json:"timestamp"`
	Session   string        `json:"session"`
	Source    Source        `json:"source"`
	Kind      Kind          `json:"kind"`
	Detail    string        `json:"detail,omitempty"`
	Duration  time.Duration `json:"duration_ns,omitempty"`
}
