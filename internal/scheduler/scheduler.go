// Package scheduler runs the periodic maintenance jobs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dukerupert/perkup/internal/metrics"
)

var (
	ErrJobRunning = errors.New("job is already running")
	ErrUnknownJob = errors.New("unknown job")
)

type job struct {
	name    string
	spec    string
	run     func(ctx context.Context) error
	running atomic.Bool
	entry   cron.EntryID
}

// Scheduler wraps a cron runner. A job never overlaps itself, whether it
// was started by its schedule or by RunNow; different jobs may overlap.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   map[string]*job
	timers []*time.Timer
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

func New(loc *time.Location, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Add registers fn under name on the cron spec.
func (s *Scheduler) Add(name, spec string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("add job %s: already registered", name)
	}
	j := &job{name: name, spec: spec, run: fn}
	id, err := s.cron.AddFunc(spec, func() {
		if err := s.execute(s.ctx, j); errors.Is(err, ErrJobRunning) {
			s.logger.Info("job skipped, previous run still active", "job", name)
		}
	})
	if err != nil {
		return fmt.Errorf("add job %s: %w", name, err)
	}
	j.entry = id
	s.jobs[name] = j
	return nil
}

// Jobs returns the registered job names mapped to their cron specs.
func (s *Scheduler) Jobs() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.jobs))
	for name, j := range s.jobs {
		out[name] = j.spec
	}
	return out
}

// RunNow runs the named job synchronously under the same overlap guard as
// its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, j)
}

// RunAfter runs the named job once after d. Pending runs are dropped by Stop.
func (s *Scheduler) RunAfter(name string, d time.Duration) {
	t := time.AfterFunc(d, func() {
		if err := s.RunNow(s.ctx, name); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("delayed job run", "job", name, "error", err)
		}
	})
	s.mu.Lock()
	s.timers = append(s.timers, t)
	s.mu.Unlock()
}

func (s *Scheduler) execute(ctx context.Context, j *job) error {
	if !j.running.CompareAndSwap(false, true) {
		metrics.RecordJobRun(j.name, "skipped", 0)
		return ErrJobRunning
	}
	defer j.running.Store(false)

	start := time.Now()
	err := j.run(ctx)
	duration := time.Since(start)

	if err != nil {
		metrics.RecordJobRun(j.name, "error", duration)
		s.logger.Error("job failed", "job", j.name, "duration", duration, "error", err)
		return err
	}
	metrics.RecordJobRun(j.name, "success", duration)
	s.logger.Debug("job finished", "job", j.name, "duration", duration)
	return nil
}

// Start begins running jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	s.mu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
