package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"seedrelay/internal/store"
	"seedrelay/model"
)

// Job names. Cron timers and manual triggers share these entries.
const (
	JobPull     = "pull"
	JobTransfer = "transfer"
	JobSweep    = "sweep"
)

var ErrNotStarted = errors.New("scheduler not started")
var ErrUnknownJob = errors.New("unknown job")

// JobFunc runs one job and returns a human-readable outcome summary.
type JobFunc func(ctx context.Context) (string, error)

type run struct {
	done   chan struct{}
	detail string
	err    error
}

type job struct {
	name string
	spec string
	fn   JobFunc

	mu       sync.Mutex
	inflight *run
}

// Scheduler owns the named-job registry. Each job has a coalescing guard:
// triggering a job that is already running joins the in-flight run instead
// of starting a second one. Different jobs run independently.
type Scheduler struct {
	store *store.Store
	cron  *cron.Cron

	mu      sync.Mutex
	jobs    map[string]*job
	baseCtx context.Context
	started bool
}

// New builds an empty scheduler; jobs are added with Register.
func New(st *store.Store) *Scheduler {
	return &Scheduler{
		store: st,
		cron:  cron.New(),
		jobs:  map[string]*job{},
	}
}

// Register adds a named job. A non-empty cron spec also schedules it; an
// empty spec makes the job trigger-only.
func (s *Scheduler) Register(name, spec string, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[name] = &job{name: name, spec: spec, fn: fn}
}

// Start runs the sweep job once, synchronously, before wiring cron timers
// or admitting triggers, so a crash-interrupted claim is resolved before
// any new work begins.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	sweep := s.jobs[JobSweep]
	s.mu.Unlock()

	if sweep != nil {
		if _, err := s.execute(sweep); err != nil {
			// Startup sweep failure is not fatal; the periodic sweep retries.
			log.Printf("scheduler: startup sweep: %v", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.spec == "" {
			continue
		}
		name := j.name
		if _, err := s.cron.AddFunc(j.spec, func() {
			if _, err := s.Trigger(name); err != nil {
				log.Printf("scheduler: scheduled %s: %v", name, err)
			}
		}); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", j.name, j.spec, err)
		}
	}
	s.cron.Start()
	s.started = true
	return nil
}

// Stop halts cron timers. In-flight runs finish on their own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.cron.Stop()
		s.started = false
	}
}

// Trigger runs the named job, or joins its in-flight run, and returns the
// run's outcome summary.
func (s *Scheduler) Trigger(name string) (string, error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return "", ErrNotStarted
	}
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(j)
}

// execute starts the job unless one is already running, in which case the
// caller waits for that run's completion and shares its result.
func (s *Scheduler) execute(j *job) (string, error) {
	j.mu.Lock()
	if j.inflight != nil {
		r := j.inflight
		j.mu.Unlock()
		<-r.done
		return r.detail, r.err
	}
	r := &run{done: make(chan struct{})}
	j.inflight = r
	j.mu.Unlock()

	s.runOne(j, r)

	<-r.done
	return r.detail, r.err
}

func (s *Scheduler) runOne(j *job, r *run) {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	started := time.Now()
	r.detail, r.err = s.safeRun(ctx, j)
	finished := time.Now()

	outcome := model.JobOutcomeOK
	detail := r.detail
	if r.err != nil {
		outcome = model.JobOutcomeError
		detail = r.err.Error()
		log.Printf("scheduler: job %s failed: %v", j.name, r.err)
	} else {
		log.Printf("scheduler: job %s: %s", j.name, r.detail)
	}
	if err := s.store.RecordJobRun(j.name, started, finished, outcome, detail); err != nil {
		log.Printf("scheduler: record job run %s: %v", j.name, err)
	}

	j.mu.Lock()
	j.inflight = nil
	j.mu.Unlock()
	close(r.done)
}

// safeRun contains panics so one broken job cannot take the process down.
func (s *Scheduler) safeRun(ctx context.Context, j *job) (detail string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job %s panicked: %v", j.name, rec)
		}
	}()
	return j.fn(ctx)
}
