package eventlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"isazap/internal/domain"
)

const (
	recorderBuffer = 256
	writeTimeout   = 5 * time.Second
)

// Recorder turns sends and session events into event log rows. Writes happen
// on a single background goroutine so callers never wait on disk.
type Recorder struct {
	store  domain.EventStore
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan domain.EventRecord
	done   chan struct{}
}

func NewRecorder(store domain.EventStore, logger *slog.Logger) *Recorder {
	r := &Recorder{
		store:  store,
		logger: logger,
		queue:  make(chan domain.EventRecord, recorderBuffer),
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Recorder) loop() {
	defer close(r.done)
	for rec := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.store.Record(ctx, rec); err != nil {
			r.logger.Error("event log write failed", "kind", rec.Kind, "err", err)
		}
		cancel()
	}
}

func (r *Recorder) enqueue(rec domain.EventRecord) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.logger.Warn("event log queue full, record dropped", "kind", rec.Kind, "chat", rec.Chat)
	}
}

// ObserveSend records an outbound attempt.
func (r *Recorder) ObserveSend(s domain.SendRecord) {
	rec := domain.EventRecord{
		Kind:      domain.KindOutbound,
		Source:    s.Source,
		RequestID: s.RequestID,
		Chat:      s.To,
		Type:      s.Kind,
		Body:      s.Body,
		MessageID: s.MessageID,
		LatencyMs: s.Latency.Milliseconds(),
	}
	if s.Err != nil {
		rec.Error = s.Err.Error()
	}
	r.enqueue(rec)
}

// HandleEvent is an event bus handler recording inbound messages and
// lifecycle transitions.
func (r *Recorder) HandleEvent(ev domain.SessionEvent) {
	if ev.Type == domain.EventMessage {
		if ev.Message == nil {
			return
		}
		m := ev.Message
		r.enqueue(domain.EventRecord{
			Kind:      domain.KindInbound,
			Chat:      m.From,
			Type:      m.Type,
			Body:      m.Body,
			MessageID: m.ID,
			CreatedAt: ev.Timestamp,
		})
		return
	}

	body := ev.Reason
	if ev.Type == domain.EventChangeState {
		body = ev.State
	}
	r.enqueue(domain.EventRecord{
		Kind:      domain.KindLifecycle,
		Type:      string(ev.Type),
		Body:      body,
		CreatedAt: ev.Timestamp,
	})
}

// PruneLoop deletes rows older than retention every interval until ctx ends.
func (r *Recorder) PruneLoop(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 {
		return
	}
	prune := func() {
		n, err := r.store.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			r.logger.Error("event log prune failed", "err", err)
			return
		}
		if n > 0 {
			r.logger.Info("event log pruned", "rows", n)
		}
	}

	prune()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// Close flushes queued records and stops the writer. The store stays open.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
}
