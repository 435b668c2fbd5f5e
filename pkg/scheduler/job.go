package scheduler

import "context"

// Job is a unit of work identified by an id that is unique among the jobs of its
// source while it is tracked.
type Job interface {
	ID() string
	Run(ctx context.Context) error
}

type funcJob struct {
	id string
	fn func(ctx context.Context) error
}

// NewJob wraps fn as a Job with the given id.
func NewJob(id string, fn func(ctx context.Context) error) Job {
	return &funcJob{id: id, fn: fn}
}

func (j *funcJob) ID() string {
	return j.id
}

func (j *funcJob) Run(ctx context.Context) error {
	return j.fn(ctx)
}
