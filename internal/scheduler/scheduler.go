// Package scheduler runs one cooperative drain loop per queue on an
// injectable clock, replacing ad-hoc per-queue timers so that ordering
// guarantees hold and tests can drive ticks deterministically.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

// Ticker is the minimal ticker surface a loop needs.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// Clock abstracts time for drain loops.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// realClock implements Clock on the wall clock.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker { return &realTicker{t: time.NewTicker(d)} }

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) Chan() <-chan time.Time { return r.t.C }

func (r *realTicker) Stop() { r.t.Stop() }

// Real returns the wall-clock Clock.
func Real() Clock { return realClock{} }

// Scheduler owns a set of named loops and waits for them on shutdown.
type Scheduler struct {
	clock  Clock
	logger *log.Logger
	wg     sync.WaitGroup
}

// New creates a Scheduler. A nil clock means the wall clock.
func New(clock Clock, logger *log.Logger) *Scheduler {
	if clock == nil {
		clock = Real()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{clock: clock, logger: logger}
}

// Clock returns the scheduler's clock.
func (s *Scheduler) Clock() Clock { return s.clock }

// Loop runs fn every interval until ctx is cancelled. A receive on kick runs
// fn immediately without waiting for the next tick (the low-latency ingest
// path); kick may be nil. fn runs on a single goroutine, never concurrently
// with itself, preserving FIFO processing within the loop.
func (s *Scheduler) Loop(ctx context.Context, name string, interval time.Duration, kick <-chan struct{}, fn func(context.Context)) {
	// Create the ticker before the goroutine starts so a tick issued right
	// after Loop returns is never lost.
	ticker := s.clock.NewTicker(interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()

		s.logger.Printf("loop %s started, interval %v", name, interval)
		for {
			select {
			case <-ctx.Done():
				s.logger.Printf("loop %s stopping", name)
				return
			case <-ticker.Chan():
				fn(ctx)
			case <-kick:
				fn(ctx)
			}
		}
	}()
}

// Wait blocks until every loop has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
