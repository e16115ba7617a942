package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"isazap/internal/domain"
)

// Factory builds a fresh backend session.
type Factory func() domain.Session

// Supervisor owns the live backend session and rebuilds it whenever the
// backend reports a disconnect. It implements domain.Session so callers
// never hold a stale client.
type Supervisor struct {
	factory    Factory
	retryDelay time.Duration
	logger     *slog.Logger

	mu         sync.RWMutex
	current    domain.Session
	generation int
	state      domain.SessionState
	handlers   []func(domain.SessionEvent)
	restarts   int
	restarting bool
	pending    bool // a disconnect arrived while restarting

	ctx    context.Context
	cancel context.CancelFunc
}

type SupervisorConfig struct {
	Factory Factory
	// RetryDelay is the pause between failed Initialize attempts. Reconnects
	// after a disconnect start immediately.
	RetryDelay time.Duration
	Logger     *slog.Logger
}

func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &Supervisor{
		factory:    cfg.Factory,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
		state:      domain.StateStarting,
	}
}

func (s *Supervisor) On(handler func(domain.SessionEvent)) {
	s.mu.Lock()
	s.handlers = append(s.handlers, handler)
	s.mu.Unlock()
}

// State returns the lifecycle state observed from the current backend.
func (s *Supervisor) State() domain.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Restarts returns how many times the backend has been rebuilt.
func (s *Supervisor) Restarts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restarts
}

// Initialize builds and starts the first backend. If that fails the error is
// returned and the supervisor keeps retrying in the background. Later
// rebuilds run in the background until Close.
func (s *Supervisor) Initialize(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	err := s.start(ctx)
	if err == nil {
		return nil
	}
	s.discard()
	s.mu.Lock()
	s.restarting = true
	s.mu.Unlock()
	go s.restart("initial start failed")
	return err
}

// discard closes the current backend and drops its later events.
func (s *Supervisor) discard() {
	s.mu.Lock()
	failed := s.current
	s.current = nil
	s.generation++
	s.mu.Unlock()
	if failed != nil {
		failed.Close()
	}
}

func (s *Supervisor) start(ctx context.Context) error {
	sess := s.factory()

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.current = sess
	s.state = domain.StateStarting
	s.mu.Unlock()

	sess.On(func(evt domain.SessionEvent) { s.forward(gen, evt) })
	return sess.Initialize(ctx)
}

// forward relays backend events, dropping those of replaced backends.
func (s *Supervisor) forward(gen int, evt domain.SessionEvent) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	switch evt.Type {
	case domain.EventQR:
		s.state = domain.StatePairing
	case domain.EventAuthenticated:
		s.state = domain.StateAuthenticated
	case domain.EventReady:
		s.state = domain.StateReady
	}
	restart := false
	if evt.Type == domain.EventDisconnected {
		s.state = domain.StateDisconnected
		// Later events of this backend are stale.
		s.generation++
		if s.restarting {
			s.pending = true
		} else {
			restart = true
			s.restarting = true
		}
	}
	handlers := make([]func(domain.SessionEvent), len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, h := range handlers {
		h(evt)
	}

	if restart {
		go s.restart(evt.Reason)
	}
}

// restart rebuilds the backend until no further disconnect is pending.
func (s *Supervisor) restart(reason string) {
	for {
		s.rebuild(reason)

		s.mu.Lock()
		again := s.pending && s.ctx.Err() == nil
		s.pending = false
		if !again {
			s.restarting = false
		}
		s.mu.Unlock()
		if !again {
			return
		}
		reason = "disconnected during restart"
	}
}

// rebuild closes the dead backend and builds a new one, retrying forever.
func (s *Supervisor) rebuild(reason string) {
	s.mu.Lock()
	ctx := s.ctx
	old := s.current
	s.current = nil
	s.restarts++
	s.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	if old != nil {
		if err := old.Close(); err != nil {
			s.logger.Warn("close disconnected session", "err", err)
		}
	}

	s.logger.Info("reinitializing session", "reason", reason)
	for {
		err := s.start(ctx)
		if err == nil {
			if ctx.Err() != nil {
				s.Close()
			}
			return
		}
		s.logger.Error("session reinitialize failed", "err", err)

		s.discard()
		s.mu.Lock()
		s.pending = false
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.retryDelay):
		}
	}
}

func (s *Supervisor) SendMessage(ctx context.Context, to string, content domain.Content, opts domain.SendOptions) (*domain.SendResult, error) {
	s.mu.RLock()
	sess := s.current
	s.mu.RUnlock()

	if sess == nil {
		return nil, domain.ErrNotReady
	}
	return sess.SendMessage(ctx, to, content, opts)
}

func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	sess := s.current
	s.current = nil
	s.generation++
	s.mu.Unlock()

	if sess != nil {
		return sess.Close()
	}
	return nil
}
