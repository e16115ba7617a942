package responder

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_FiresAndForgets(t *testing.T) {
	clock := &fakeClock{}
	s := NewScheduler(clock.After)

	var ran int32
	s.Schedule("e1", time.Second, func() { atomic.AddInt32(&ran, 1) })
	s.Schedule("e1", 2*time.Second, func() { atomic.AddInt32(&ran, 1) })
	if s.Pending() != 2 {
		t.Fatalf("expected 2 pending, got %d", s.Pending())
	}
	clock.FireAll()
	if atomic.LoadInt32(&ran) != 2 || s.Pending() != 0 {
		t.Errorf("ran=%d pending=%d", ran, s.Pending())
	}
}

func TestScheduler_CancelOneEvent(t *testing.T) {
	clock := &fakeClock{}
	s := NewScheduler(clock.After)

	var a, b int32
	s.Schedule("a", time.Second, func() { atomic.AddInt32(&a, 1) })
	s.Schedule("a", time.Second, func() { atomic.AddInt32(&a, 1) })
	s.Schedule("b", time.Second, func() { atomic.AddInt32(&b, 1) })

	if n := s.Cancel("a"); n != 2 {
		t.Errorf("expected 2 cancelled, got %d", n)
	}
	clock.FireAll()
	if a != 0 || b != 1 {
		t.Errorf("a=%d b=%d", a, b)
	}
}

func TestScheduler_StopRefusesNewTasks(t *testing.T) {
	clock := &fakeClock{}
	s := NewScheduler(clock.After)
	s.Schedule("a", time.Second, func() { t.Error("stopped task ran") })

	if n := s.Stop(); n != 1 {
		t.Errorf("expected 1 cancelled, got %d", n)
	}
	if s.Schedule("b", time.Second, func() {}) {
		t.Error("Schedule should refuse after Stop")
	}
	clock.FireAll()
}

func TestScheduler_RealTimers(t *testing.T) {
	s := NewScheduler(nil)
	done := make(chan struct{})
	s.Schedule("a", time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not fire")
	}
	time.Sleep(10 * time.Millisecond)
	if s.Pending() != 0 {
		t.Errorf("expected no pending tasks, got %d", s.Pending())
	}
}
