// Package scheduler drives monitoring cycles on a fixed interval, stretching
// the interval with exponential backoff while cycles keep failing.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"healthwatch/internal/logger"
	"healthwatch/pkg/models"
)

// ErrNotRunning is returned by RunNow while the scheduler is stopped.
var ErrNotRunning = errors.New("scheduler is not running")

// Runner executes one monitoring cycle.
type Runner interface {
	RunCycle(ctx context.Context) models.RunRecord
}

// BackoffConfig controls interval stretching after repeated failures.
type BackoffConfig struct {
	Enabled     bool
	After       int
	MaxInterval time.Duration
	Multiplier  float64
	Jitter      float64
}

// Config holds scheduler settings.
type Config struct {
	Interval time.Duration
	Backoff  BackoffConfig
	Now      func() time.Time
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running           bool              `json:"isRunning"`
	LastRun           *time.Time        `json:"lastRun,omitempty"`
	NextRun           *time.Time        `json:"nextRun,omitempty"`
	LastSuccessAt     *time.Time        `json:"lastSuccessAt,omitempty"`
	ConsecutiveErrors int               `json:"consecutiveErrors"`
	IntervalSeconds   int               `json:"intervalSeconds"`
	LastRecord        *models.RunRecord `json:"lastRecord,omitempty"`
}

// Scheduler owns the polling loop. Create one per process with New.
type Scheduler struct {
	cfg    Config
	runner Runner

	mu                sync.Mutex
	running           bool
	cancel            context.CancelFunc
	done              chan struct{}
	lastRun           *time.Time
	nextRun           *time.Time
	lastSuccess       *time.Time
	lastRecord        *models.RunRecord
	consecutiveErrors int
	bo                *backoff.ExponentialBackOff
}

// New creates a stopped scheduler.
func New(cfg Config, runner Runner) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Backoff.After <= 0 {
		cfg.Backoff.After = 3
	}
	if cfg.Backoff.MaxInterval <= 0 {
		cfg.Backoff.MaxInterval = 10 * time.Minute
	}
	if cfg.Backoff.MaxInterval < cfg.Interval {
		cfg.Backoff.MaxInterval = cfg.Interval
	}
	if cfg.Backoff.Multiplier <= 1 {
		cfg.Backoff.Multiplier = 2
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.Interval
	bo.MaxInterval = cfg.Backoff.MaxInterval
	bo.Multiplier = cfg.Backoff.Multiplier
	bo.RandomizationFactor = cfg.Backoff.Jitter
	bo.MaxElapsedTime = 0
	bo.Reset()

	return &Scheduler{cfg: cfg, runner: runner, bo: bo}
}

// Start launches the loop. The first cycle runs immediately. Calling Start
// on a running scheduler does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	logger.Infof("Monitoring scheduler started (interval %s)", s.cfg.Interval)
	go s.loop(ctx, s.done)
}

// Stop cancels the loop and waits for an in-flight cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	done := s.done
	s.mu.Unlock()

	<-done

	s.mu.Lock()
	s.nextRun = nil
	s.mu.Unlock()
	logger.Infof("Monitoring scheduler stopped")
}

// RunNow executes one cycle outside the timer. Cycles never overlap because
// the runner serialises them.
func (s *Scheduler) RunNow(ctx context.Context) (models.RunRecord, error) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return models.RunRecord{}, ErrNotRunning
	}
	logger.Infof("Manual monitoring cycle requested")
	return s.execute(ctx), nil
}

// Status reports the scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Running:           s.running,
		LastRun:           copyTime(s.lastRun),
		NextRun:           copyTime(s.nextRun),
		LastSuccessAt:     copyTime(s.lastSuccess),
		ConsecutiveErrors: s.consecutiveErrors,
		IntervalSeconds:   int(s.cfg.Interval / time.Second),
	}
	if s.lastRecord != nil {
		rec := s.lastRecord.Clone()
		st.LastRecord = &rec
	}
	return st
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		// An in-flight cycle is not interrupted by Stop.
		s.execute(context.WithoutCancel(ctx))

		delay := s.nextDelay()
		next := s.cfg.Now().Add(delay)
		s.mu.Lock()
		s.nextRun = &next
		s.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Scheduler) execute(ctx context.Context) models.RunRecord {
	run := s.runner.RunCycle(ctx)
	s.observe(run)
	return run
}

func (s *Scheduler) observe(run models.RunRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := run.RunAt
	if at.IsZero() {
		at = s.cfg.Now()
	}
	s.lastRun = &at
	rec := run.Clone()
	s.lastRecord = &rec

	if isErrorCycle(run) {
		s.consecutiveErrors++
		logger.Warnf("Monitoring cycle %s unhealthy (%d consecutive)", run.ID, s.consecutiveErrors)
		return
	}
	s.consecutiveErrors = 0
	s.lastSuccess = &at
}

// nextDelay returns the wait before the next scheduled cycle.
func (s *Scheduler) nextDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Backoff.Enabled || s.consecutiveErrors < s.cfg.Backoff.After {
		s.bo.Reset()
		return s.cfg.Interval
	}
	d := s.bo.NextBackOff()
	if d == backoff.Stop || d <= 0 {
		return s.cfg.Backoff.MaxInterval
	}
	logger.Warnf("Backing off monitoring for %s after %d consecutive errors", d, s.consecutiveErrors)
	return d
}

// isErrorCycle is true for failed cycles and for partial cycles in which no
// source could be checked.
func isErrorCycle(run models.RunRecord) bool {
	switch run.Status {
	case models.RunFailed:
		return true
	case models.RunPartial:
		if len(run.ServiceTimings) == 0 {
			return false
		}
		for _, t := range run.ServiceTimings {
			if t.Checked {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
