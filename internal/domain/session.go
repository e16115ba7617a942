package domain

import (
	"context"
	"errors"
)

var (
	// ErrNotReady is returned when a send is attempted before the session is paired and connected.
	ErrNotReady = errors.New("session not ready")
	// ErrInvalidDestination is returned when an address cannot be parsed by the backend.
	ErrInvalidDestination = errors.New("invalid destination")
)

// Session is the capability surface of a WhatsApp session client.
// Implementations own pairing, persistence and transport; callers only
// initialize, observe events and send.
type Session interface {
	// Initialize connects the session, pairing if needed. Lifecycle and
	// message events are delivered to handlers registered with On.
	Initialize(ctx context.Context) error
	// On registers an event handler. Handlers must not block.
	On(handler func(SessionEvent))
	// SendMessage delivers content to a destination address ("<user>@c.us" or "<group>@g.us").
	SendMessage(ctx context.Context, to string, content Content, opts SendOptions) (*SendResult, error)
	Close() error
}

// SessionState is a coarse view of the session lifecycle.
type SessionState string

const (
	StateStarting      SessionState = "starting"
	StatePairing       SessionState = "pairing"
	StateAuthenticated SessionState = "authenticated"
	StateReady         SessionState = "ready"
	StateDisconnected  SessionState = "disconnected"
)
