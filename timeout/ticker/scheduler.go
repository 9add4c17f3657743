// Package ticker provides the default filequeue.Scheduler, built on
// time.Ticker. It is the concrete TimeoutScheduler external collaborator
// referenced throughout spec §4 — a free-running goroutine-per-registration
// scheduler suitable for a process that isn't already driving its own event
// loop.
package ticker

import (
	"sync"
	"time"

	"github.com/filequeue/filequeue"
)

// Scheduler implements filequeue.Scheduler with one goroutine per
// registration. Zero value is ready to use.
type Scheduler struct {
	mu      sync.Mutex
	tickets map[*ticket]struct{}
}

type ticket struct {
	stop chan struct{}
	once sync.Once
}

// New returns a ready-to-use Scheduler.
func New() *Scheduler {
	return &Scheduler{tickets: make(map[*ticket]struct{})}
}

// Register starts a goroutine that calls fn every interval until Unregister
// is called. interval must be positive.
func (s *Scheduler) Register(interval time.Duration, fn func()) filequeue.TimeoutTicket {
	if interval <= 0 {
		panic("ticker: non-positive interval")
	}
	if fn == nil {
		panic("ticker: nil fn")
	}

	t := &ticket{stop: make(chan struct{})}

	s.mu.Lock()
	if s.tickets == nil {
		s.tickets = make(map[*ticket]struct{})
	}
	s.tickets[t] = struct{}{}
	s.mu.Unlock()

	go func() {
		tk := time.NewTicker(interval)
		defer tk.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-tk.C:
				fn()
			}
		}
	}()

	return t
}

// Unregister stops the goroutine started by Register. Safe to call more
// than once and with tickets from other schedulers (a no-op in that case).
func (s *Scheduler) Unregister(ticketValue filequeue.TimeoutTicket) {
	t, ok := ticketValue.(*ticket)
	if !ok || t == nil {
		return
	}

	s.mu.Lock()
	_, tracked := s.tickets[t]
	delete(s.tickets, t)
	s.mu.Unlock()

	if tracked {
		t.once.Do(func() { close(t.stop) })
	}
}
