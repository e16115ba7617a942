package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"isazap/internal/domain"
)

// DefaultWait is how long Publish holds a message when the inbox is full.
const DefaultWait = 10 * time.Second

// Inbox carries inbound WhatsApp messages from the session callback to the
// responder loop. It is a single-consumer queue.
type Inbox struct {
	ch      chan domain.InboundMessage
	wait    time.Duration
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	logger  *slog.Logger
}

// New creates an inbox holding up to size messages.
func New(size int, logger *slog.Logger) *Inbox {
	if size <= 0 {
		size = 100
	}
	return &Inbox{
		ch:     make(chan domain.InboundMessage, size),
		wait:   DefaultWait,
		logger: logger,
	}
}

// Publish queues msg. When the inbox is full it waits up to DefaultWait for
// the responder to catch up, then drops the message and counts it.
func (b *Inbox) Publish(msg domain.InboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Debug("inbox closed, message ignored", "from", msg.From, "id", msg.ID)
		return
	}

	select {
	case b.ch <- msg:
		return
	default:
	}

	b.logger.Warn("inbox full, holding message", "from", msg.From, "queued", len(b.ch))
	timer := time.NewTimer(b.wait)
	defer timer.Stop()
	select {
	case b.ch <- msg:
	case <-timer.C:
		n := b.dropped.Add(1)
		b.logger.Error("inbound message dropped", "from", msg.From, "id", msg.ID, "dropped_total", n)
	}
}

// Subscribe returns the receive side. It is closed by Close.
func (b *Inbox) Subscribe() <-chan domain.InboundMessage {
	return b.ch
}

// Dropped reports how many messages were discarded on a full inbox.
func (b *Inbox) Dropped() int64 { return b.dropped.Load() }

// Close stops accepting messages. It is safe to call more than once.
func (b *Inbox) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.ch)
	}
}
