/*
Package scheduler runs the engine's periodic sweeps: session settlement
and cancellation, booking completion, and stale-booking expiry.

PURPOSE:
  Each sweep is a named Job with a Run(ctx, now) method. The Scheduler
  owns a single ticker and runs every registered job each tick, reading
  `now` from an injected Clock so tests can drive time with a ManualClock
  instead of sleeping.

DESIGN:
  - One failing job never blocks the others; errors are logged per job.
  - Inside a job, one failing item never blocks the rest of the sweep.
  - Jobs are idempotent: every state change goes through a store-level
    check-and-set (status transition, revenue flag), so a sweep that runs
    twice, or two jobs that overlap, cannot double-apply.

USAGE:
  s := scheduler.New(clock, time.Minute, jobs...)
  s.Start()
  defer s.Stop()

SEE ALSO:
  - jobs.go: the sweep implementations
  - booking/clock.go: Clock / ManualClock
*/
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/warp/booking-engine/booking"
)

// Job is one periodic sweep.
type Job interface {
	Name() string
	Run(ctx context.Context, now time.Time) error
}

type Scheduler struct {
	clock    booking.Clock
	interval time.Duration
	jobs     []Job

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func New(clock booking.Clock, interval time.Duration, jobs ...Job) *Scheduler {
	return &Scheduler{
		clock:    clock,
		interval: interval,
		jobs:     jobs,
	}
}

// Start begins the tick loop. The first sweep runs immediately. Starting
// an already-running scheduler is a no-op; a stopped one may start again.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.ticker = time.NewTicker(s.interval)
	s.stop = make(chan struct{})
	s.running = true
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	log.Printf("[Scheduler] Started with %d jobs, interval %v", len(s.jobs), s.interval)
}

// Stop halts the tick loop and waits for an in-flight sweep to finish.
// Stopping an already-stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	log.Println("[Scheduler] Stopped")
}

func (s *Scheduler) run(ticker *time.Ticker, stop chan struct{}) {
	defer s.wg.Done()

	s.RunAll(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunAll(context.Background())
		case <-stop:
			return
		}
	}
}

// RunAll executes every job once at the clock's current time. Exposed for
// the admin trigger endpoint.
func (s *Scheduler) RunAll(ctx context.Context) {
	now := s.clock.Now()
	for _, j := range s.jobs {
		if err := j.Run(ctx, now); err != nil {
			log.Printf("[Scheduler] Job %s: %v", j.Name(), err)
		}
	}
}

// RunJob executes a single job by name at the given time.
func (s *Scheduler) RunJob(ctx context.Context, name string, now time.Time) error {
	for _, j := range s.jobs {
		if j.Name() == name {
			return j.Run(ctx, now)
		}
	}
	return fmt.Errorf("unknown job %q", name)
}
