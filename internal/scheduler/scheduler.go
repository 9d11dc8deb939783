// Package scheduler drives periodic re-ingestion, retention cleanup, and
// backups: a job_id -> running task map with cancel-before-reschedule
// semantics and a panic-recovered handler loop, so one failing tick never
// kills its series.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is the handler invoked on every tick. ctx is cancelled promptly when
// the job is stopped or rescheduled, so handlers should check ctx.Err() at
// suspension points.
type Job func(ctx context.Context) error

// Status reports one job's current state.
type Status struct {
	Interval time.Duration
	LastRun  *time.Time
	Running  bool
}

type task struct {
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}

	mu      sync.Mutex
	lastRun *time.Time
	running bool
}

// Scheduler keeps a job_id -> running task map. Re-scheduling an existing
// job_id cancels the prior task before starting the new one.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*task
	log  zerolog.Logger
}

// New constructs an empty Scheduler.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{jobs: make(map[string]*task), log: log}
}

// ScheduleEvery registers job to run every interval. If startImmediately is
// true the first run happens right away rather than after the first tick.
// A handler that returns an error is logged and the series continues on its
// next tick; a handler that panics is recovered the same way.
func (s *Scheduler) ScheduleEvery(jobID string, interval time.Duration, job Job, startImmediately bool) {
	s.mu.Lock()
	if prior, ok := s.jobs[jobID]; ok {
		prior.cancel()
		<-prior.done
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{interval: interval, cancel: cancel, done: make(chan struct{})}
	s.jobs[jobID] = t
	s.mu.Unlock()

	go s.run(ctx, jobID, t, job, startImmediately)
}

func (s *Scheduler) run(ctx context.Context, jobID string, t *task, job Job, startImmediately bool) {
	defer close(t.done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	if startImmediately {
		s.fire(ctx, jobID, t, job)
	}

	for {
		select {
		case <-ticker.C:
			s.fire(ctx, jobID, t, job)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, jobID string, t *task, job Job) {
	t.mu.Lock()
	t.running = true
	t.mu.Unlock()

	err := s.safeRun(ctx, job)

	now := time.Now().UTC()
	t.mu.Lock()
	t.running = false
	t.lastRun = &now
	t.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Str("job_id", jobID).Msg("scheduled job failed, retrying next tick")
	}
}

func (s *Scheduler) safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicErr{r}
		}
	}()
	return job(ctx)
}

type panicErr struct{ v any }

func (p panicErr) Error() string { return "job panicked: " + toString(p.v) }

func toString(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "unknown panic"
}

// Cancel stops jobID's task, if present, and waits for its goroutine to
// exit. Cancellation interrupts the job's current suspension at its next
// ctx.Done() check.
func (s *Scheduler) Cancel(jobID string) {
	s.mu.Lock()
	t, ok := s.jobs[jobID]
	if ok {
		delete(s.jobs, jobID)
	}
	s.mu.Unlock()

	if ok {
		t.cancel()
		<-t.done
	}
}

// JobStatus returns jobID's current interval, last run time, and whether a
// run is in flight. ok is false if jobID is not scheduled.
func (s *Scheduler) JobStatus(jobID string) (st Status, ok bool) {
	s.mu.Lock()
	t, found := s.jobs[jobID]
	s.mu.Unlock()
	if !found {
		return Status{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{Interval: t.interval, LastRun: t.lastRun, Running: t.running}, true
}

// StopAll cancels every scheduled job and waits for each to exit.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Cancel(id)
	}
}
