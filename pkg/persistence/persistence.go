// Package persistence provides the data storage abstraction for journey
// definitions, enrollments and aggregate stats.
package persistence

import (
	"context"
	"time"

	"github.com/eduprism/journey/pkg/models"
)

// Counter names the scalar fields of JourneyStats that repositories can
// increment atomically.
type Counter string

const (
	CounterEnrolled  Counter = "enrolled"
	CounterActive    Counter = "active" // The only counter that may be decremented
	CounterCompleted Counter = "completed"
	CounterFailed    Counter = "failed"
	CounterExited    Counter = "exited"
)

// ChannelCounter names the per-channel counter maps of JourneyStats.
type ChannelCounter string

const (
	ChannelCounterTriggered ChannelCounter = "triggered"
	ChannelCounterDelivered ChannelCounter = "delivered"
)

type JourneyRepository interface {
	GetAll(ctx context.Context) ([]*models.Journey, error)
	GetActive(ctx context.Context) ([]*models.Journey, error)
	GetByID(ctx context.Context, id string) (*models.Journey, error)
	Save(ctx context.Context, journey *models.Journey) error
	Delete(ctx context.Context, id string) error
}

type EnrollmentRepository interface {
	GetByID(ctx context.Context, id string) (*models.Enrollment, error)

	// Create persists a new enrollment. Implementations enforce the
	// single-active-enrollment invariant atomically and return
	// ErrDuplicateEnrollment when a non-terminal enrollment already exists
	// for the same (subject, journey) pair.
	Create(ctx context.Context, enrollment *models.Enrollment) error

	// Update commits a mutation through an optimistic concurrency check
	// against enrollment.Version and bumps the version on success. A stale
	// version returns ErrVersionConflict and the store is left untouched.
	Update(ctx context.Context, enrollment *models.Enrollment) error

	// FindActive returns the non-terminal enrollment for the pair, or
	// ErrEnrollmentNotFound when none exists.
	FindActive(ctx context.Context, subjectID, journeyID string) (*models.Enrollment, error)

	// HasEnrolled reports whether any enrollment, terminal or not, ever
	// existed for the pair. Used by the deny re-entry policy.
	HasEnrolled(ctx context.Context, subjectID, journeyID string) (bool, error)

	ListByJourney(ctx context.Context, journeyID string) ([]*models.Enrollment, error)

	// Due returns enrollments eligible for execution: status active or
	// waiting with next_run_at at or before now, capped at limit.
	Due(ctx context.Context, now time.Time, limit int) ([]*models.Enrollment, error)
}

type StatsRepository interface {
	Get(ctx context.Context, journeyID string) (*models.JourneyStats, error)

	// Increment atomically adds delta to one counter. Deltas may be negative
	// only for CounterActive.
	Increment(ctx context.Context, journeyID string, counter Counter, delta int64) error

	// IncrementChannel atomically adds delta to a per-channel counter.
	IncrementChannel(ctx context.Context, journeyID string, counter ChannelCounter, channel models.Channel, delta int64) error
}

type Persistence interface {
	JourneyRepository() JourneyRepository
	EnrollmentRepository() EnrollmentRepository
	StatsRepository() StatsRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
