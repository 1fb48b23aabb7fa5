// Package enrollment owns the enrollment lifecycle: admitting subjects into
// journeys under the configured re-entry policy and terminating enrollments
// on request. All writes to enrollment records outside step execution go
// through the Manager.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/eduprism/journey/pkg/analytics"
	"github.com/eduprism/journey/pkg/eventbus"
	"github.com/eduprism/journey/pkg/events"
	"github.com/eduprism/journey/pkg/models"
	"github.com/eduprism/journey/pkg/persistence"
)

// ErrEnrollmentRejected indicates a trigger match that the manager refused:
// the journey is not active or the re-entry policy denied the subject.
// Rejections are reported to the caller and never retried.
var ErrEnrollmentRejected = errors.New("enrollment rejected")

type Manager struct {
	enrollments persistence.EnrollmentRepository
	aggregator  *analytics.Aggregator
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
}

func NewManager(
	logger *slog.Logger,
	enrollments persistence.EnrollmentRepository,
	aggregator *analytics.Aggregator,
	publisher eventbus.EventPublisher,
) *Manager {
	return &Manager{
		enrollments: enrollments,
		aggregator:  aggregator,
		publisher:   publisher,
		logger:      logger.With("module", "enrollment_manager"),
	}
}

// Enroll admits a subject into a journey. The single-active invariant holds
// regardless of policy: at most one non-terminal enrollment ever exists per
// (subject, journey). The re-entry policy decides what happens when the
// subject has been through the journey before.
func (m *Manager) Enroll(ctx context.Context, journey *models.Journey, subjectID string, enrollContext map[string]any) (*models.Enrollment, error) {
	if !journey.IsActive() {
		return nil, m.reject(ctx, journey, subjectID, "journey is not active")
	}

	switch journey.Reentry() {
	case models.ReentryDeny:
		enrolled, err := m.enrollments.HasEnrolled(ctx, subjectID, journey.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check prior enrollment: %w", err)
		}

		if enrolled {
			return nil, m.reject(ctx, journey, subjectID, "re-entry denied")
		}
	case models.ReentryRestart:
		err := m.restart(ctx, journey, subjectID)
		if err != nil {
			return nil, err
		}
	case models.ReentryAllow:
		// Nothing to check here, Create still rejects a concurrent enrollment.
	}

	enrollment := models.NewEnrollment(subjectID, journey, enrollContext)

	err := m.enrollments.Create(ctx, enrollment)
	if err != nil {
		if persistence.IsDuplicateEnrollment(err) {
			return nil, m.reject(ctx, journey, subjectID, "subject already enrolled")
		}

		return nil, fmt.Errorf("failed to create enrollment: %w", err)
	}

	m.aggregator.OnTransition(ctx, journey.ID, analytics.TransitionEnrolled)

	m.publish(ctx, journey.ID, events.EnrollmentCreated{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentCreatedType, journey.ID),
		EnrollmentID: enrollment.ID,
		SubjectID:    subjectID,
	})

	m.logger.InfoContext(ctx, "subject enrolled",
		"journey_id", journey.ID,
		"subject_id", subjectID,
		"enrollment_id", enrollment.ID,
	)

	return enrollment, nil
}

// restart exits the subject's in-flight enrollment so a fresh one can start.
func (m *Manager) restart(ctx context.Context, journey *models.Journey, subjectID string) error {
	current, err := m.enrollments.FindActive(ctx, subjectID, journey.ID)
	if err != nil {
		if errors.Is(err, persistence.ErrEnrollmentNotFound) {
			return nil
		}

		return fmt.Errorf("failed to find active enrollment: %w", err)
	}

	err = m.Terminate(ctx, current.ID, "restarted by re-entry")
	if err != nil {
		return fmt.Errorf("failed to restart enrollment %s: %w", current.ID, err)
	}

	return nil
}

// Terminate exits an enrollment externally. Terminating an already terminal
// enrollment is a no-op so callers may retry freely.
func (m *Manager) Terminate(ctx context.Context, enrollmentID, reason string) error {
	enrollment, err := m.enrollments.GetByID(ctx, enrollmentID)
	if err != nil {
		return err
	}

	if enrollment.Terminal() {
		return nil
	}

	enrollment.Record(enrollment.CurrentStepID, models.OutcomeExited, reason)
	enrollment.Finish(models.EnrollmentStatusExited)

	err = m.enrollments.Update(ctx, enrollment)
	if err != nil {
		return fmt.Errorf("failed to terminate enrollment %s: %w", enrollmentID, err)
	}

	m.aggregator.OnTransition(ctx, enrollment.JourneyID, analytics.TransitionExited)

	m.publish(ctx, enrollment.JourneyID, events.EnrollmentExited{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentExitedType, enrollment.JourneyID),
		EnrollmentID: enrollment.ID,
		Reason:       reason,
	})

	m.logger.InfoContext(ctx, "enrollment terminated",
		"enrollment_id", enrollment.ID,
		"journey_id", enrollment.JourneyID,
		"reason", reason,
	)

	return nil
}

func (m *Manager) reject(ctx context.Context, journey *models.Journey, subjectID, reason string) error {
	m.publish(ctx, journey.ID, events.EnrollmentRejected{
		BaseEvent: events.NewBaseEvent(events.EnrollmentRejectedType, journey.ID),
		SubjectID: subjectID,
		Reason:    reason,
	})

	m.logger.InfoContext(ctx, "enrollment rejected",
		"journey_id", journey.ID,
		"subject_id", subjectID,
		"reason", reason,
	)

	return fmt.Errorf("%w: %s", ErrEnrollmentRejected, reason)
}

func (m *Manager) publish(ctx context.Context, journeyID string, event eventbus.Event) {
	err := m.publisher.Publish(ctx, events.EngineTopic, journeyID, event)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to publish engine event",
			"journey_id", journeyID, "error", err)
	}
}
