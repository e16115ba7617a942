package domain

import (
	"context"
	"time"
)

// Event record kinds.
const (
	KindInbound   = "inbound"
	KindOutbound  = "outbound"
	KindLifecycle = "lifecycle"
)

// Send sources.
const (
	SourceAPI       = "api"
	SourceResponder = "responder"
	SourceCLI       = "cli"
)

// EventStore persists the audit trail of session lifecycle and messages.
type EventStore interface {
	Record(ctx context.Context, rec EventRecord) error
	Recent(ctx context.Context, kind string, limit int) ([]EventRecord, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

type EventRecord struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Source    string    `json:"source,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Chat      string    `json:"chat,omitempty"`
	Type      string    `json:"type,omitempty"` // message type tag or lifecycle event
	Body      string    `json:"body,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	LatencyMs int64     `json:"latency_ms,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SendRecord describes one attempted send, successful or not.
type SendRecord struct {
	RequestID string
	Source    string
	To        string
	Kind      string // "text" or "media"
	Body      string // text or caption
	MessageID string
	Err       error
	Latency   time.Duration
}

// SendObserver is told about every attempted send. Implementations must not block.
type SendObserver interface {
	ObserveSend(rec SendRecord)
}

// SendObservers fans a record out to several observers; nil entries are skipped.
type SendObservers []SendObserver

func (o SendObservers) ObserveSend(rec SendRecord) {
	for _, obs := range o {
		if obs != nil {
			obs.ObserveSend(rec)
		}
	}
}
