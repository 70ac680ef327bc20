package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopraq/shopraq-backend/pkg/logger"
	"github.com/shopraq/shopraq-backend/pkg/metrics"
)

const defaultInterval = time.Hour

// LockFactory builds a distributed lock for one named job. The TTL bounds how
// long a crashed worker can block the next run.
type LockFactory func(jobName string, ttl time.Duration) (Lock, error)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger      *logger.Logger
	Registry    *Registry
	LockFactory LockFactory
	Metrics     *metrics.CronJobMetrics
}

// Service executes registered cron jobs, each on its own cadence, with a
// per-job Redis lock so concurrent workers never double-run a task.
type Service struct {
	logg        *logger.Logger
	registry    *Registry
	lockFactory LockFactory
	metrics     *metrics.CronJobMetrics
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.LockFactory == nil {
		return nil, fmt.Errorf("lock factory required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	return &Service{
		logg:        params.Logger,
		registry:    registry,
		lockFactory: params.LockFactory,
		metrics:     params.Metrics,
	}, nil
}

// Run starts every job's ticker loop and blocks until the context is
// canceled. Each job runs once at startup, then on its interval.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	jobs := s.registry.Jobs()
	locks := make(map[string]Lock, len(jobs))
	for _, job := range jobs {
		lock, err := s.lockFactory(job.Name(), lockTTLFor(jobInterval(job)))
		if err != nil {
			return fmt.Errorf("building lock for %s: %w", job.Name(), err)
		}
		locks[job.Name()] = lock
	}

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.runLoop(ctx, job, locks[job.Name()])
		}(job)
	}
	wg.Wait()

	s.logg.Info(ctx, "cron service stopped")
	return ctx.Err()
}

func (s *Service) runLoop(ctx context.Context, job Job, lock Lock) {
	interval := jobInterval(job)
	s.runJob(ctx, job, lock)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runJob(ctx, job, lock)
		}
	}
}

func (s *Service) runJob(ctx context.Context, job Job, lock Lock) {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	jobCtx = s.logg.WithField(jobCtx, "event", "cron.job")

	locked, err := lock.Acquire(jobCtx)
	if err != nil {
		s.logg.Error(jobCtx, "lock acquire failed", err)
		return
	}
	if !locked {
		s.logg.Info(jobCtx, "another worker holds the lock; skipping this cycle")
		return
	}
	defer func() {
		if relErr := lock.Release(jobCtx); relErr != nil {
			s.logg.Error(jobCtx, "failed to release job lock", relErr)
		}
	}()

	s.logg.Info(jobCtx, "job start")
	start := time.Now()
	runErr := job.Run(jobCtx)
	duration := time.Since(start)
	s.observeDuration(job.Name(), duration)

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if runErr != nil {
		s.logg.Error(jobCtx, "job failed", runErr)
		s.recordFailure(job.Name())
		return
	}
	s.logg.Info(jobCtx, "job completed")
	s.recordSuccess(job.Name())
}

func jobInterval(job Job) time.Duration {
	if interval := job.Interval(); interval > 0 {
		return interval
	}
	return defaultInterval
}

// lockTTLFor keeps the lock alive a bit past the cadence so a crashed worker
// cannot block more than one extra cycle.
func lockTTLFor(interval time.Duration) time.Duration {
	return interval + interval/2
}

func (s *Service) observeDuration(job string, duration time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveDuration(job, duration)
}

func (s *Service) recordSuccess(job string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncSuccess(job)
}

func (s *Service) recordFailure(job string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncFailure(job)
}
