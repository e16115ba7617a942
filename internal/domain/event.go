package domain

import "time"

// SessionEventType names a session lifecycle or message event.
type SessionEventType string

const (
	EventQR            SessionEventType = "qr"
	EventAuthenticated SessionEventType = "authenticated"
	EventAuthFailure   SessionEventType = "auth_failure"
	EventReady         SessionEventType = "ready"
	EventChangeState   SessionEventType = "change_state"
	EventDisconnected  SessionEventType = "disconnected"
	EventMessage       SessionEventType = "message"
)

// SessionEvent is emitted by a Session to its handlers.
type SessionEvent struct {
	Type      SessionEventType
	QRCode    string          // EventQR: pairing payload to encode as a QR image
	State     string          // EventChangeState
	Reason    string          // EventDisconnected, EventAuthFailure
	Message   *InboundMessage // EventMessage
	Timestamp time.Time
}
