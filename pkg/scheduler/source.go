package scheduler

import (
	"context"
	"fmt"
	"time"
)

// CheckFunc polls a schedule and returns the jobs that are due.
type CheckFunc func(ctx context.Context, now time.Time) ([]Job, error)

type Schedule struct {
	Interval time.Duration
	// RunOnStart makes the first check due at registration instead of one interval later.
	RunOnStart bool
	Check      CheckFunc
}

// Emitter pushes jobs to the scheduler as they happen. Subscribe is called once
// when the scheduler starts; emit may be called from any goroutine.
type Emitter interface {
	Subscribe(emit func(jobs ...Job))
}

// Source produces jobs through a schedule, an emitter, or both.
type Source struct {
	Name           string
	MaxConcurrency int
	Schedule       *Schedule
	Emitter        Emitter
}

func (s Source) validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidSource)
	}
	if s.MaxConcurrency < 1 {
		return fmt.Errorf("%w: source '%s' needs a max concurrency of at least 1", ErrInvalidSource, s.Name)
	}
	if s.Schedule == nil && s.Emitter == nil {
		return fmt.Errorf("%w: source '%s' has neither schedule nor emitter", ErrInvalidSource, s.Name)
	}
	if s.Schedule != nil {
		if s.Schedule.Interval <= 0 {
			return fmt.Errorf("%w: source '%s' has a non-positive interval", ErrInvalidSource, s.Name)
		}
		if s.Schedule.Check == nil {
			return fmt.Errorf("%w: source '%s' has no schedule check", ErrInvalidSource, s.Name)
		}
	}
	return nil
}

// Status is a snapshot of a source's tracker.
type Status struct {
	Running int
	Queued  int
	Slots   int
	LastRun time.Time
	// NextRun is zero for sources without a schedule.
	NextRun time.Time
}
