package bus

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"isazap/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEventBus_DeliveryOrder(t *testing.T) {
	eb := NewEventBus(quietLogger())

	var got []string
	eb.On(Wildcard, func(e domain.SessionEvent) { got = append(got, "any:"+string(e.Type)) })
	eb.On(domain.EventReady, func(e domain.SessionEvent) { got = append(got, "ready") })

	eb.Emit(domain.SessionEvent{Type: domain.EventQR, QRCode: "abc"})
	eb.Emit(domain.SessionEvent{Type: domain.EventReady})

	want := []string{"any:qr", "ready", "any:ready"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delivery %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEventBus_LastSkipsMessages(t *testing.T) {
	eb := NewEventBus(quietLogger())

	if _, ok := eb.Last(); ok {
		t.Fatal("fresh bus should have no last event")
	}

	eb.Emit(domain.SessionEvent{Type: domain.EventQR, QRCode: "code-1"})
	eb.Emit(domain.SessionEvent{Type: domain.EventReady})
	eb.Emit(domain.SessionEvent{Type: domain.EventMessage, Message: &domain.InboundMessage{Body: "1"}})

	last, ok := eb.Last()
	if !ok || last.Type != domain.EventReady {
		t.Errorf("expected ready as last event, got %+v", last)
	}
	if last.Timestamp.IsZero() {
		t.Error("timestamp should be set on emit")
	}
}

func TestEventBus_KeepsGivenTimestamp(t *testing.T) {
	eb := NewEventBus(quietLogger())
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	var seen time.Time
	eb.On(domain.EventDisconnected, func(e domain.SessionEvent) { seen = e.Timestamp })
	eb.Emit(domain.SessionEvent{Type: domain.EventDisconnected, Timestamp: at})

	if !seen.Equal(at) {
		t.Errorf("timestamp rewritten: %v", seen)
	}
}

func TestEventBus_PanicDoesNotStopOthers(t *testing.T) {
	eb := NewEventBus(quietLogger())

	called := false
	eb.On(domain.EventReady, func(e domain.SessionEvent) { panic("boom") })
	eb.On(Wildcard, func(e domain.SessionEvent) { called = true })

	eb.Emit(domain.SessionEvent{Type: domain.EventReady})
	if !called {
		t.Error("wildcard handler skipped after panic")
	}
}

func TestInbox_PublishSubscribe(t *testing.T) {
	b := New(2, quietLogger())

	b.Publish(domain.InboundMessage{ID: "m1", Body: "1"})
	msg := <-b.Subscribe()
	if msg.ID != "m1" {
		t.Errorf("expected m1, got %q", msg.ID)
	}

	b.Close()
	b.Close()
	b.Publish(domain.InboundMessage{ID: "m2"})

	if _, ok := <-b.Subscribe(); ok {
		t.Error("closed inbox should not deliver")
	}
}

func TestInbox_DropsWhenFull(t *testing.T) {
	b := New(1, quietLogger())
	b.wait = 10 * time.Millisecond

	b.Publish(domain.InboundMessage{ID: "a"})
	b.Publish(domain.InboundMessage{ID: "b"})

	if b.Dropped() != 1 {
		t.Errorf("expected 1 dropped, got %d", b.Dropped())
	}
	if msg := <-b.Subscribe(); msg.ID != "a" {
		t.Errorf("expected first message kept, got %q", msg.ID)
	}
}

func TestInbox_WaitsForRoom(t *testing.T) {
	b := New(1, quietLogger())
	b.wait = time.Second

	b.Publish(domain.InboundMessage{ID: "a"})
	go func() {
		time.Sleep(20 * time.Millisecond)
		<-b.Subscribe()
	}()
	b.Publish(domain.InboundMessage{ID: "b"})

	if b.Dropped() != 0 {
		t.Errorf("message dropped despite room: %d", b.Dropped())
	}
	if msg := <-b.Subscribe(); msg.ID != "b" {
		t.Errorf("expected b, got %q", msg.ID)
	}
}
