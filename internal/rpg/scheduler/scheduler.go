// Package scheduler fires one-shot completion callbacks when entity
// deadlines arrive. In-process timers give low latency; a periodic sweep
// over "deadline already passed" rows in the durable store backs them up,
// so completion does not depend on the process staying alive between start
// and deadline.
package scheduler

import (
	"log"
	"sync"
	"time"
)

// FireFunc handles a due entity. It must re-load the entity fresh from the
// durable store — never act on closure-captured state — and do nothing if
// the entity is already terminal (the stale-timer no-op).
type FireFunc func(entityID string)

// OverdueFunc lists entity ids whose deadline has passed; used by the sweep.
type OverdueFunc func(now time.Time) ([]string, error)

type Scheduler struct {
	fire FireFunc
	log  *log.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool

	sweepEvery time.Duration
	overdue    []OverdueFunc
	stop       chan struct{}
	done       chan struct{}
}

func New(fire FireFunc, logger *log.Logger) *Scheduler {
	return &Scheduler{
		fire:   fire,
		log:    logger,
		timers: map[string]*time.Timer{},
	}
}

// Schedule arms (or re-arms) the one-shot timer for entityID.
func (s *Scheduler) Schedule(entityID string, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if t, ok := s.timers[entityID]; ok {
		t.Stop()
	}
	s.timers[entityID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, entityID)
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		s.fire(entityID)
	})
}

// Forget drops the pending timer for entityID, if any. The caller is
// responsible for the durable side (marking the entity terminal); a timer
// that already fired will see the terminal row and no-op.
func (s *Scheduler) Forget(entityID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[entityID]; ok {
		t.Stop()
		delete(s.timers, entityID)
	}
}

// Pending reports whether a timer is armed for entityID.
func (s *Scheduler) Pending(entityID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[entityID]
	return ok
}

// StartSweep launches the periodic overdue scan. Each due id goes through
// the same FireFunc as a timer would, so double delivery is harmless.
func (s *Scheduler) StartSweep(every time.Duration, overdue ...OverdueFunc) {
	if every <= 0 || len(overdue) == 0 {
		return
	}
	s.mu.Lock()
	if s.closed || s.stop != nil {
		s.mu.Unlock()
		return
	}
	s.sweepEvery = every
	s.overdue = overdue
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.sweepLoop()
}

func (s *Scheduler) sweepLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.SweepOnce(time.Now())
		}
	}
}

// SweepOnce runs a single overdue pass; exposed for recovery and tests.
func (s *Scheduler) SweepOnce(now time.Time) {
	s.mu.Lock()
	overdue := s.overdue
	s.mu.Unlock()
	for _, fn := range overdue {
		ids, err := fn(now)
		if err != nil {
			if s.log != nil {
				s.log.Printf("sweep: overdue scan: %v", err)
			}
			continue
		}
		for _, id := range ids {
			s.fire(id)
		}
	}
}

// Close stops the sweep and every pending timer.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	stop, done := s.stop, s.done
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}
