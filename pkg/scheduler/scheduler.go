// Package scheduler finds enrollments whose next_run_at has elapsed and hands
// them to the step executor. The scan loop is the only place in the engine
// that intentionally sleeps; everything downstream runs to completion.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eduprism/journey/pkg/lease"
	"github.com/eduprism/journey/pkg/models"
	"github.com/eduprism/journey/pkg/persistence"
)

const (
	DefaultScanInterval = 10 * time.Second
	DefaultBatchSize    = 100
	DefaultWorkers      = 10
	DefaultLeaseTTL     = 30 * time.Second
)

// StepRunner advances one enrollment by one step.
type StepRunner interface {
	RunStep(ctx context.Context, enrollment *models.Enrollment) error
}

// Config tunes the scan loop. Zero values fall back to the defaults.
type Config struct {
	ScanInterval time.Duration
	BatchSize    int
	Workers      int
	LeaseTTL     time.Duration
}

func (c Config) withDefaults() Config {
	if c.ScanInterval <= 0 {
		c.ScanInterval = DefaultScanInterval
	}

	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}

	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}

	if c.LeaseTTL <= 0 {
		c.LeaseTTL = DefaultLeaseTTL
	}

	return c
}

// Scheduler runs the recurring due-work scan. Each due enrollment is executed
// on a bounded worker pool under a per-enrollment lease, so overlapping scans
// and concurrent scheduler instances never run the same enrollment twice. No
// ordering is guaranteed across enrollments.
type Scheduler struct {
	enrollments persistence.EnrollmentRepository
	runner      StepRunner
	leases      lease.Store
	logger      *slog.Logger
	config      Config
	workerID    string

	ticker  *time.Ticker
	done    chan struct{}
	started bool
	mu      sync.Mutex
}

func NewScheduler(
	logger *slog.Logger,
	enrollments persistence.EnrollmentRepository,
	runner StepRunner,
	leases lease.Store,
	config Config,
) *Scheduler {
	workerID := uuid.New().String()

	return &Scheduler{
		enrollments: enrollments,
		runner:      runner,
		leases:      leases,
		config:      config.withDefaults(),
		workerID:    workerID,
		logger:      logger.With("module", "scheduler", "worker_id", workerID),
	}
}

// Start launches the scan loop. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.ticker = time.NewTicker(s.config.ScanInterval)
	s.done = make(chan struct{})
	s.started = true

	go s.loop(ctx)

	s.logger.InfoContext(ctx, "scheduler started",
		"scan_interval", s.config.ScanInterval,
		"workers", s.config.Workers,
	)

	return nil
}

// Stop halts the scan loop. In-flight step executions finish on their own.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.ticker.Stop()
	close(s.done)
	s.started = false

	s.logger.InfoContext(ctx, "scheduler stopped")

	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-s.ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan processes one batch of due enrollments and blocks until the batch is
// finished. Exported so deployments without a background loop, and tests, can
// drive the scheduler directly.
func (s *Scheduler) Scan(ctx context.Context) {
	due, err := s.enrollments.Due(ctx, time.Now().UTC(), s.config.BatchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "due scan failed", "error", err)

		return
	}

	if len(due) == 0 {
		return
	}

	s.logger.DebugContext(ctx, "processing due enrollments", "count", len(due))

	var wg sync.WaitGroup

	slots := make(chan struct{}, s.config.Workers)

	for _, enrollment := range due {
		select {
		case <-ctx.Done():
			wg.Wait()

			return
		case slots <- struct{}{}:
		}

		wg.Add(1)

		go func(enrollment *models.Enrollment) {
			defer wg.Done()
			defer func() { <-slots }()

			s.process(ctx, enrollment)
		}(enrollment)
	}

	wg.Wait()
}

// process runs one enrollment under its execution lease. A lease held by
// another worker means someone else is already on it: skip silently, the next
// scan will pick the enrollment up if it is still due.
func (s *Scheduler) process(ctx context.Context, enrollment *models.Enrollment) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "step execution panicked",
				"enrollment_id", enrollment.ID, "panic", r)
		}
	}()

	err := s.leases.Acquire(ctx, enrollment.ID, s.workerID, s.config.LeaseTTL)
	if err != nil {
		s.logger.DebugContext(ctx, "enrollment leased elsewhere, skipping",
			"enrollment_id", enrollment.ID)

		return
	}

	defer func() {
		err := s.leases.Release(ctx, enrollment.ID, s.workerID)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to release lease",
				"enrollment_id", enrollment.ID, "error", err)
		}
	}()

	stopRenewal := s.keepLeaseAlive(ctx, enrollment.ID)
	defer stopRenewal()

	err = s.runner.RunStep(ctx, enrollment)
	if err != nil {
		s.logger.ErrorContext(ctx, "step execution failed",
			"enrollment_id", enrollment.ID, "error", err)
	}
}

// keepLeaseAlive renews the lease at half its TTL so a slow step execution
// never loses ownership mid-run.
func (s *Scheduler) keepLeaseAlive(ctx context.Context, enrollmentID string) func() {
	stop := make(chan struct{})

	go func() {
		ticker := time.NewTicker(s.config.LeaseTTL / 2)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := s.leases.Renew(ctx, enrollmentID, s.workerID, s.config.LeaseTTL)
				if err != nil {
					s.logger.ErrorContext(ctx, "failed to renew lease",
						"enrollment_id", enrollmentID, "error", err)

					return
				}
			}
		}
	}()

	return func() { close(stop) }
}
