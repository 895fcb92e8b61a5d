package scheduler

import (
	"sync"
	"testing"
	"time"
)

type fireRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *fireRecorder) fire(id string) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
}

func (r *fireRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
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
	t.Fatalf("condition not met within deadline")
}

func TestTimerFires(t *testing.T) {
	rec := &fireRecorder{}
	s := New(rec.fire, nil)
	defer s.Close()

	s.Schedule("a1", 10*time.Millisecond)
	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })
	if ids := rec.snapshot(); ids[0] != "a1" {
		t.Fatalf("expected a1, got %v", ids)
	}
	if s.Pending("a1") {
		t.Fatalf("expected fired timer to be forgotten")
	}
}

func TestScheduleReArms(t *testing.T) {
	rec := &fireRecorder{}
	s := New(rec.fire, nil)
	defer s.Close()

	s.Schedule("a1", time.Hour)
	s.Schedule("a1", 10*time.Millisecond)
	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })

	// The hour-long original must not fire a second time.
	time.Sleep(30 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 1 {
		t.Fatalf("expected single fire after re-arm, got %v", got)
	}
}

func TestForgetDropsTimer(t *testing.T) {
	rec := &fireRecorder{}
	s := New(rec.fire, nil)
	defer s.Close()

	s.Schedule("a1", 20*time.Millisecond)
	s.Forget("a1")
	if s.Pending("a1") {
		t.Fatalf("expected no pending timer after Forget")
	}
	time.Sleep(50 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("expected no fires, got %v", got)
	}
}

func TestSweepOnceDispatchesOverdue(t *testing.T) {
	rec := &fireRecorder{}
	s := New(rec.fire, nil)
	defer s.Close()

	s.StartSweep(time.Hour, func(now time.Time) ([]string, error) {
		return []string{"a1", "b2"}, nil
	})
	s.SweepOnce(time.Now())
	got := rec.snapshot()
	if len(got) != 2 || got[0] != "a1" || got[1] != "b2" {
		t.Fatalf("expected [a1 b2], got %v", got)
	}
}

func TestCloseStopsTimers(t *testing.T) {
	rec := &fireRecorder{}
	s := New(rec.fire, nil)
	s.Schedule("a1", 20*time.Millisecond)
	s.Close()
	time.Sleep(50 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("expected no fires after Close, got %v", got)
	}
}
