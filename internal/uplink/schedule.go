package uplink

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/uplink/log2"
)

type Cycler interface {
	Cycle(context.Context) Outcome
}

type CycleFunc func(context.Context) Outcome

func (f CycleFunc) Cycle(ctx context.Context) Outcome { return f(ctx) }

// Scheduler fires first cycle immediately, then every Interval measured
// from previous cycle start. Cycles never overlap: timer is rearmed only
// after cycle returns, whatever the outcome.
type Scheduler struct {
	Interval time.Duration
	Log      *log2.Log
	// OnOutcome is optional observer, called synchronously after each cycle.
	OnOutcome func(Outcome)

	// test hooks
	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	alive *alive.Alive
}

func NewScheduler(interval time.Duration, log *log2.Log) *Scheduler {
	return &Scheduler{
		Interval: interval,
		Log:      log,
		now:      time.Now,
		after:    time.After,
		alive:    alive.NewAlive(),
	}
}

// Run blocks until Stop() or ctx is done.
func (s *Scheduler) Run(ctx context.Context, c Cycler) error {
	if s.Interval <= 0 {
		return errors.NotValidf("schedule interval=%v", s.Interval)
	}
	if !s.alive.Add(1) {
		return errors.Errorf("scheduler stopped")
	}
	defer s.alive.Done()
	stopCh := s.alive.StopChan()

	var delay time.Duration // first cycle without delay
	for {
		select {
		case <-s.after(delay):
		case <-stopCh:
			return nil
		case <-ctx.Done():
			return nil
		}

		start := s.now()
		o := c.Cycle(ctx)
		elapsed := s.now().Sub(start)
		s.Log.Debugf("cycle outcome=%s duration=%v", o.String(), elapsed)
		if s.OnOutcome != nil {
			s.OnOutcome(o)
		}

		delay = s.Interval - elapsed
		if delay < 0 {
			s.Log.Infof("cycle overrun duration=%v interval=%v", elapsed, s.Interval)
			delay = 0
		}
	}
}

// Stop is for process shutdown, returns after running cycle completes.
func (s *Scheduler) Stop() {
	s.alive.Stop()
	s.alive.Wait()
}
