package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// shutdownGrace is how long Stop waits for in-flight jobs before giving up.
const shutdownGrace = 30 * time.Second

// Default job intervals.
const (
	DefaultBaselineInterval  = 300 * time.Second
	DefaultScoringInterval   = 300 * time.Second
	DefaultRetentionInterval = 86400 * time.Second
)

// JobFunc is the body of a scheduled job.
type JobFunc func(ctx context.Context) error

// JobState is the run-state record of one job.
type JobState struct {
	IsRunning bool      `json:"isRunning"`
	LastRun   time.Time `json:"lastRun"`
	LastError string    `json:"lastError,omitempty"`
	RunCount  int64     `json:"runCount"`
}

// JobObserver is notified after every job run with its outcome and duration.
type JobObserver func(job, status string, d time.Duration)

type job struct {
	name      string
	interval  time.Duration
	immediate bool
	fn        JobFunc

	mu    sync.Mutex // guards state; the IsRunning check-and-set is atomic
	state JobState
}

// Scheduler drives the background jobs on fixed intervals. A job never
// overlaps itself; if a tick fires while the previous run is still going, the
// tick is skipped. Distinct jobs run concurrently.
type Scheduler struct {
	jobs    []*job
	observe JobObserver
	logger  *slog.Logger
	tracer  trace.Tracer

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewScheduler creates an empty scheduler. observe may be nil.
func NewScheduler(logger *slog.Logger, observe JobObserver) *Scheduler {
	return &Scheduler{logger: logger, observe: observe, tracer: otel.Tracer("driftline/scheduler")}
}

// AddJob registers a job. Immediate jobs fire once at Start before their
// first interval elapses. Must be called before Start.
func (s *Scheduler) AddJob(name string, interval time.Duration, immediate bool, fn JobFunc) {
	s.jobs = append(s.jobs, &job{name: name, interval: interval, immediate: immediate, fn: fn})
}

// Start launches one goroutine per job. The jobs stop when Stop is called or
// ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for _, j := range s.jobs {
		s.wg.Add(1)
		go func(j *job) {
			defer s.wg.Done()

			if j.immediate {
				s.runJob(ctx, j)
			}

			ticker := time.NewTicker(j.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.runJob(ctx, j)
				}
			}
		}(j)
	}
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop cancels new ticks and waits up to 30 seconds for in-flight jobs.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			s.logger.Info("scheduler stopped")
		case <-time.After(shutdownGrace):
			s.logger.Warn("scheduler shutdown grace period elapsed with jobs still running")
		}
	})
}

// JobStates returns a snapshot of every job's run state, keyed by job name.
func (s *Scheduler) JobStates() map[string]JobState {
	out := make(map[string]JobState, len(s.jobs))
	for _, j := range s.jobs {
		j.mu.Lock()
		out[j.name] = j.state
		j.mu.Unlock()
	}
	return out
}

// runJob executes one run unless the previous run is still in flight.
func (s *Scheduler) runJob(ctx context.Context, j *job) {
	j.mu.Lock()
	if j.state.IsRunning {
		j.mu.Unlock()
		s.logger.Warn("job tick skipped, previous run still in flight", "job", j.name)
		return
	}
	j.state.IsRunning = true
	j.mu.Unlock()

	runCtx, span := s.tracer.Start(ctx, "job."+j.name)
	start := time.Now()
	err := j.fn(runCtx)
	elapsed := time.Since(start)
	span.End()

	j.mu.Lock()
	j.state.IsRunning = false
	j.state.LastRun = start.UTC()
	j.state.RunCount++
	j.state.LastError = ""
	if err != nil {
		j.state.LastError = err.Error()
	}
	j.mu.Unlock()

	status := "ok"
	if err != nil {
		status = "error"
		s.logger.Warn("job run failed", "job", j.name, "duration", elapsed, "error", err)
	} else {
		s.logger.Debug("job run complete", "job", j.name, "duration", elapsed)
	}
	if s.observe != nil {
		s.observe(j.name, status, elapsed)
	}
}
