// Package scheduler runs jobs produced by polled schedules and pushing emitters,
// bounded per source by a concurrency limit and de-duplicated by job id.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mwantia/gamevault/pkg/log"
)

type Option func(*Scheduler)

// WithClock replaces the clock used to decide which schedules are due.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

type Scheduler struct {
	mutex sync.Mutex
	wait  sync.WaitGroup

	log log.LoggerService
	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	sources map[string]*tracker
	order   []string
	started bool
	closed  bool
}

type tracker struct {
	source  Source
	tracked map[string]*entry
	queue   []queued
	slots   int

	checking bool
	lastRun  time.Time
	nextRun  time.Time
}

type queued struct {
	job   Job
	entry *entry
}

// entry is the outcome of a tracked job, shared by every caller waiting on it.
type entry struct {
	done     chan struct{}
	err      error
	resolved bool
}

func newEntry() *entry {
	return &entry{done: make(chan struct{})}
}

// resolve must be called with the scheduler mutex held.
func (e *entry) resolve(err error) {
	if e.resolved {
		return
	}
	e.resolved = true
	e.err = err
	close(e.done)
}

func New(logger log.LoggerService, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		log:     logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		sources: make(map[string]*tracker),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a source. Sources registered after Start are subscribed immediately.
func (s *Scheduler) Register(src Source) error {
	if err := src.validate(); err != nil {
		return err
	}

	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return ErrTransportClosed
	}
	if _, exists := s.sources[src.Name]; exists {
		s.mutex.Unlock()
		return fmt.Errorf("%w: '%s'", ErrDuplicateSource, src.Name)
	}

	t := &tracker{
		source:  src,
		tracked: make(map[string]*entry),
		slots:   src.MaxConcurrency,
	}
	if src.Schedule != nil {
		now := s.now()
		t.nextRun = now.Add(src.Schedule.Interval)
		if src.Schedule.RunOnStart {
			t.nextRun = now
		}
	}
	s.sources[src.Name] = t
	s.order = append(s.order, src.Name)
	started := s.started
	s.mutex.Unlock()

	s.log.Debug("Registered source '%s' with max concurrency %d", src.Name, src.MaxConcurrency)
	if started && src.Emitter != nil {
		s.subscribe(src)
	}
	return nil
}

// Start subscribes to the emitters of all registered sources.
func (s *Scheduler) Start() error {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return ErrTransportClosed
	}
	if s.started {
		s.mutex.Unlock()
		return nil
	}
	s.started = true

	var emitters []Source
	for _, name := range s.order {
		if src := s.sources[name].source; src.Emitter != nil {
			emitters = append(emitters, src)
		}
	}
	s.mutex.Unlock()

	for _, src := range emitters {
		s.subscribe(src)
	}
	return nil
}

func (s *Scheduler) subscribe(src Source) {
	name := src.Name
	src.Emitter.Subscribe(func(jobs ...Job) {
		if err := s.Queue(name, jobs...); err != nil {
			s.log.Warn("Dropped %d emitted jobs of source '%s': %v", len(jobs), name, err)
		}
	})
}

// Tick polls every schedule that is due and queues the returned jobs. Checks run
// concurrently; failures are collected into an AggregateError once all checks have
// settled. A failed check stays due and is retried on the next tick.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()

	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return ErrTransportClosed
	}
	var due []*tracker
	for _, name := range s.order {
		t := s.sources[name]
		if t.source.Schedule == nil || t.checking || now.Before(t.nextRun) {
			continue
		}
		t.checking = true
		due = append(due, t)
	}
	s.mutex.Unlock()

	if len(due) == 0 {
		return nil
	}

	type outcome struct {
		jobs []Job
		err  error
	}
	outcomes := make([]outcome, len(due))

	var wg sync.WaitGroup
	for i, t := range due {
		wg.Add(1)
		go func() {
			defer wg.Done()
			jobs, err := check(ctx, t.source.Schedule.Check, now)
			outcomes[i] = outcome{jobs: jobs, err: err}
		}()
	}
	wg.Wait()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	var errs []error
	for i, t := range due {
		t.checking = false
		if err := outcomes[i].err; err != nil {
			s.log.Warn("Schedule check of source '%s' failed: %v", t.source.Name, err)
			errs = append(errs, fmt.Errorf("source '%s': %w", t.source.Name, err))
			continue
		}

		t.lastRun = now
		t.nextRun = now.Add(t.source.Schedule.Interval)
		if s.closed {
			continue
		}
		for _, job := range outcomes[i].jobs {
			s.queueLocked(t, job)
		}
	}

	if len(errs) > 0 {
		return &AggregateError{Errors: errs}
	}
	return nil
}

func check(ctx context.Context, fn CheckFunc, now time.Time) (jobs []Job, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("schedule check panicked: %v", r)
		}
	}()
	return fn(ctx, now)
}

// Queue tracks and starts jobs for the named source. Jobs whose id is already
// tracked are skipped.
func (s *Scheduler) Queue(name string, jobs ...Job) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	t, err := s.trackerLocked(name)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		s.queueLocked(t, job)
	}
	return nil
}

// Trigger queues job and waits for its outcome. If a job with the same id is
// already tracked, Trigger waits for that one instead.
func (s *Scheduler) Trigger(ctx context.Context, name string, job Job) error {
	s.mutex.Lock()
	t, err := s.trackerLocked(name)
	if err != nil {
		s.mutex.Unlock()
		return err
	}
	e := s.queueLocked(t, job)
	s.mutex.Unlock()

	select {
	case <-e.done:
		return e.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) trackerLocked(name string) (*tracker, error) {
	if s.closed {
		return nil, ErrTransportClosed
	}
	t, ok := s.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownSource, name)
	}
	return t, nil
}

func (s *Scheduler) queueLocked(t *tracker, job Job) *entry {
	id := job.ID()
	if e, exists := t.tracked[id]; exists {
		s.log.Debug("Job '%s' of source '%s' is already tracked, skipping", id, t.source.Name)
		return e
	}

	e := newEntry()
	t.tracked[id] = e
	if t.slots > 0 {
		t.slots--
		s.startLocked(t, job, e)
	} else {
		t.queue = append(t.queue, queued{job: job, entry: e})
		s.log.Debug("Queued job '%s' of source '%s' (%d waiting)", id, t.source.Name, len(t.queue))
	}
	return e
}

func (s *Scheduler) startLocked(t *tracker, job Job, e *entry) {
	s.wait.Add(1)
	go s.runJob(t, job, e)
}

func (s *Scheduler) runJob(t *tracker, job Job, e *entry) {
	defer s.wait.Done()

	id := job.ID()
	s.log.Debug("Running job '%s' of source '%s'", id, t.source.Name)

	err := run(s.ctx, job)
	if err != nil {
		s.log.Error("Job '%s' of source '%s' failed: %v", id, t.source.Name, err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	t.slots++
	if t.tracked[id] == e {
		delete(t.tracked, id)
	}
	if err != nil && s.closed {
		err = errors.Join(ErrTransportClosed, err)
	}
	e.resolve(err)

	if s.closed {
		return
	}
	if len(t.queue) > 0 {
		next := t.queue[0]
		t.queue = t.queue[1:]
		t.slots--
		s.startLocked(t, next.job, next.entry)
		return
	}
	if t.slots == t.source.MaxConcurrency {
		s.log.Debug("Source '%s' drained", t.source.Name)
	}
}

func run(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Run(ctx)
}

// Status returns a snapshot of the named source.
func (s *Scheduler) Status(name string) (Status, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	t, ok := s.sources[name]
	if !ok {
		return Status{}, fmt.Errorf("%w: '%s'", ErrUnknownSource, name)
	}
	return Status{
		Running: t.source.MaxConcurrency - t.slots,
		Queued:  len(t.queue),
		Slots:   t.slots,
		LastRun: t.lastRun,
		NextRun: t.nextRun,
	}, nil
}

// Run ticks once immediately and then every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	tick := func() {
		if err := s.Tick(ctx); err != nil && !errors.Is(err, ErrTransportClosed) {
			s.log.Error("Scheduler tick failed: %v", err)
		}
	}

	tick()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tick()
		}
	}
}

// Shutdown stops accepting jobs, drops every waiting job and cancels the running
// ones. Callers still waiting on an unfinished job receive ErrTransportClosed.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return nil
	}
	s.closed = true

	dropped := 0
	for _, t := range s.sources {
		for _, q := range t.queue {
			delete(t.tracked, q.job.ID())
			q.entry.resolve(ErrTransportClosed)
		}
		dropped += len(t.queue)
		t.queue = nil
	}
	s.mutex.Unlock()

	if dropped > 0 {
		s.log.Warn("Dropped %d waiting jobs during shutdown", dropped)
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wait.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mutex.Lock()
		for _, t := range s.sources {
			for _, e := range t.tracked {
				e.resolve(ErrTransportClosed)
			}
		}
		s.mutex.Unlock()
		return fmt.Errorf("%w: jobs did not complete: %w", ErrTransportClosed, ctx.Err())
	}
}

// Cleanup is an alias for Shutdown.
func (s *Scheduler) Cleanup(ctx context.Context) error {
	return s.Shutdown(ctx)
}
