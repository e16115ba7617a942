package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"isazap/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSession struct {
	mu       sync.Mutex
	handlers []func(domain.SessionEvent)
	initErr  error
	inits    int
	closed   bool
	sent     []string
}

func (f *fakeSession) Initialize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	return f.initErr
}

func (f *fakeSession) On(h func(domain.SessionEvent)) {
	f.mu.Lock()
	f.handlers = append(f.handlers, h)
	f.mu.Unlock()
}

func (f *fakeSession) emit(evt domain.SessionEvent) {
	f.mu.Lock()
	hs := append([]func(domain.SessionEvent){}, f.handlers...)
	f.mu.Unlock()
	for _, h := range hs {
		h(evt)
	}
}

func (f *fakeSession) SendMessage(ctx context.Context, to string, content domain.Content, opts domain.SendOptions) (*domain.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	return &domain.SendResult{ID: "id-1", To: to}, nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) initialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inits > 0
}

func (f *fakeSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// factoryOf hands out the given sessions in order, then fresh healthy ones.
type factoryOf struct {
	mu       sync.Mutex
	sessions []*fakeSession
	built    []*fakeSession
}

func (f *factoryOf) build() domain.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	var s *fakeSession
	if len(f.sessions) > 0 {
		s, f.sessions = f.sessions[0], f.sessions[1:]
	} else {
		s = &fakeSession{}
	}
	f.built = append(f.built, s)
	return s
}

func (f *factoryOf) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.built)
}

func (f *factoryOf) get(i int) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built[i]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSupervisor_ReinitializesOnDisconnect(t *testing.T) {
	f := &factoryOf{}
	sup := NewSupervisor(SupervisorConfig{Factory: f.build, Logger: testLogger()})
	defer sup.Close()

	if err := sup.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	first := f.get(0)
	first.emit(domain.SessionEvent{Type: domain.EventReady})
	if sup.State() != domain.StateReady {
		t.Fatalf("expected ready, got %s", sup.State())
	}

	first.emit(domain.SessionEvent{Type: domain.EventDisconnected, Reason: "NAVIGATION"})

	waitFor(t, func() bool { return f.count() == 2 })
	waitFor(t, first.isClosed)
	if sup.Restarts() != 1 {
		t.Errorf("expected 1 restart, got %d", sup.Restarts())
	}
}

func TestSupervisor_ForwardsEventsAndDropsStaleOnes(t *testing.T) {
	f := &factoryOf{}
	sup := NewSupervisor(SupervisorConfig{Factory: f.build, Logger: testLogger()})
	defer sup.Close()

	var mu sync.Mutex
	var got []domain.SessionEventType
	sup.On(func(evt domain.SessionEvent) {
		mu.Lock()
		got = append(got, evt.Type)
		mu.Unlock()
	})

	sup.Initialize(context.Background())
	first := f.get(0)
	first.emit(domain.SessionEvent{Type: domain.EventQR, QRCode: "abc"})
	first.emit(domain.SessionEvent{Type: domain.EventDisconnected})
	waitFor(t, func() bool { return f.count() == 2 })
	waitFor(t, f.get(1).initialized)

	// The replaced backend keeps talking; nobody should hear it.
	first.emit(domain.SessionEvent{Type: domain.EventReady})
	f.get(1).emit(domain.SessionEvent{Type: domain.EventAuthenticated})

	mu.Lock()
	defer mu.Unlock()
	want := []domain.SessionEventType{domain.EventQR, domain.EventDisconnected, domain.EventAuthenticated}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestSupervisor_RetriesFailedInitialize(t *testing.T) {
	f := &factoryOf{sessions: []*fakeSession{
		{},
		{initErr: errors.New("chrome crashed")},
		{initErr: errors.New("chrome crashed")},
	}}
	sup := NewSupervisor(SupervisorConfig{Factory: f.build, RetryDelay: time.Millisecond, Logger: testLogger()})
	defer sup.Close()

	sup.Initialize(context.Background())
	f.get(0).emit(domain.SessionEvent{Type: domain.EventDisconnected})

	waitFor(t, func() bool { return f.count() == 4 })
	waitFor(t, f.get(1).isClosed)
	waitFor(t, f.get(2).isClosed)
}

func TestSupervisor_SendMessage(t *testing.T) {
	f := &factoryOf{}
	sup := NewSupervisor(SupervisorConfig{Factory: f.build, Logger: testLogger()})

	if _, err := sup.SendMessage(context.Background(), "5511988887777@c.us", domain.Text("hi"), domain.SendOptions{}); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("expected ErrNotReady before initialize, got %v", err)
	}

	sup.Initialize(context.Background())
	res, err := sup.SendMessage(context.Background(), "5511988887777@c.us", domain.Text("hi"), domain.SendOptions{})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.To != "5511988887777@c.us" {
		t.Errorf("unexpected result %+v", res)
	}

	sup.Close()
	if !f.get(0).isClosed() {
		t.Error("close should close the backend")
	}
	if _, err := sup.SendMessage(context.Background(), "x@c.us", domain.Text("hi"), domain.SendOptions{}); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("expected ErrNotReady after close, got %v", err)
	}
}

func TestSupervisor_NoRestartAfterClose(t *testing.T) {
	f := &factoryOf{}
	sup := NewSupervisor(SupervisorConfig{Factory: f.build, Logger: testLogger()})
	sup.Initialize(context.Background())
	first := f.get(0)

	sup.Close()
	first.emit(domain.SessionEvent{Type: domain.EventDisconnected})

	time.Sleep(50 * time.Millisecond)
	if f.count() != 1 {
		t.Errorf("expected no rebuild after close, got %d sessions", f.count())
	}
}

func TestSupervisor_FirstInitializeFailureRetriesInBackground(t *testing.T) {
	f := &factoryOf{sessions: []*fakeSession{{initErr: errors.New("no network")}}}
	sup := NewSupervisor(SupervisorConfig{Factory: f.build, RetryDelay: time.Millisecond, Logger: testLogger()})
	defer sup.Close()

	if err := sup.Initialize(context.Background()); err == nil {
		t.Fatal("expected the first Initialize error to be returned")
	}
	waitFor(t, func() bool { return f.count() == 2 })
	waitFor(t, f.get(1).initialized)
	if !f.get(0).isClosed() {
		t.Error("failed backend should be closed")
	}
	waitFor(t, func() bool {
		_, err := sup.SendMessage(context.Background(), "1@c.us", domain.Text("x"), domain.SendOptions{})
		return err == nil
	})
}
