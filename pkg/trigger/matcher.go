// Package trigger matches inbound subject activity against the triggers of
// active journeys. Matching is stateless and read-only: the matcher reports
// which (journey, subject) pairs should enroll and the enrollment manager
// decides whether they actually do.
package trigger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eduprism/journey/pkg/events"
	"github.com/eduprism/journey/pkg/models"
	"github.com/eduprism/journey/pkg/persistence"
)

// Match is one (journey, subject) pair eligible for enrollment, plus the
// initial enrollment context taken from the triggering signal.
type Match struct {
	Journey   *models.Journey
	SubjectID string
	Context   map[string]any
}

// Matcher scans active journeys for triggers satisfied by an inbound signal.
// Only journeys in active status match; paused journeys keep executing
// existing enrollments but never produce new matches.
type Matcher struct {
	journeys persistence.JourneyRepository
	logger   *slog.Logger
}

func NewMatcher(logger *slog.Logger, journeys persistence.JourneyRepository) *Matcher {
	return &Matcher{
		journeys: journeys,
		logger:   logger.With("module", "trigger_matcher"),
	}
}

// OnEvent matches a subject domain event against event triggers. A journey
// matches when the trigger's event name equals the event's and its optional
// filter accepts the payload. A filter that fails to evaluate is logged and
// treated as a non-match, never as an engine error.
func (m *Matcher) OnEvent(ctx context.Context, event events.SubjectEvent) ([]Match, error) {
	journeys, err := m.journeys.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active journeys: %w", err)
	}

	matches := make([]Match, 0)

	for _, journey := range journeys {
		if journey.Trigger == nil || journey.Trigger.Type != models.TriggerTypeEvent {
			continue
		}

		config, err := journey.Trigger.EventConfig()
		if err != nil {
			m.logger.ErrorContext(ctx, "skipping journey with undecodable trigger config",
				"journey_id", journey.ID, "error", err)

			continue
		}

		if config.EventName != event.Name {
			continue
		}

		if len(config.Filter) > 0 {
			ok, err := models.EvaluateFilter(config.Filter, event.Payload)
			if err != nil {
				m.logger.ErrorContext(ctx, "trigger filter evaluation failed, treating as non-match",
					"journey_id", journey.ID, "event", event.Name, "error", err)

				continue
			}

			if !ok {
				continue
			}
		}

		matches = append(matches, Match{
			Journey:   journey,
			SubjectID: event.SubjectID,
			Context:   event.Payload,
		})
	}

	return matches, nil
}

// OnSegmentChange matches a segment membership change against segment
// triggers. Only joins trigger enrollment; leaving a segment never does.
func (m *Matcher) OnSegmentChange(ctx context.Context, change events.SegmentChanged) ([]Match, error) {
	if !change.Joined {
		return nil, nil
	}

	journeys, err := m.journeys.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active journeys: %w", err)
	}

	matches := make([]Match, 0)

	for _, journey := range journeys {
		if journey.Trigger == nil || journey.Trigger.Type != models.TriggerTypeSegment {
			continue
		}

		config, err := journey.Trigger.SegmentConfig()
		if err != nil {
			m.logger.ErrorContext(ctx, "skipping journey with undecodable trigger config",
				"journey_id", journey.ID, "error", err)

			continue
		}

		if config.SegmentID != change.SegmentID {
			continue
		}

		matches = append(matches, Match{
			Journey:   journey,
			SubjectID: change.SubjectID,
			Context:   map[string]any{"segment_id": change.SegmentID},
		})
	}

	return matches, nil
}

// OnWebhook matches an inbound webhook invocation against webhook triggers by
// key. The webhook payload becomes the initial enrollment context.
func (m *Matcher) OnWebhook(ctx context.Context, call events.WebhookCalled) ([]Match, error) {
	journeys, err := m.journeys.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active journeys: %w", err)
	}

	matches := make([]Match, 0)

	for _, journey := range journeys {
		if journey.Trigger == nil || journey.Trigger.Type != models.TriggerTypeWebhook {
			continue
		}

		config, err := journey.Trigger.WebhookTrigger()
		if err != nil {
			m.logger.ErrorContext(ctx, "skipping journey with undecodable trigger config",
				"journey_id", journey.ID, "error", err)

			continue
		}

		if config.Key != call.Key {
			continue
		}

		matches = append(matches, Match{
			Journey:   journey,
			SubjectID: call.SubjectID,
			Context:   call.Payload,
		})
	}

	return matches, nil
}

// OnScheduleTick expands an external scheduler tick into one match per listed
// subject. The tick names the journey directly; the matcher only verifies it
// is still active and schedule-triggered, since the journey may have been
// paused between tick emission and delivery.
func (m *Matcher) OnScheduleTick(ctx context.Context, tick events.ScheduleTick) ([]Match, error) {
	journey, err := m.journeys.GetByID(ctx, tick.JourneyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load journey %s: %w", tick.JourneyID, err)
	}

	if !journey.IsActive() {
		m.logger.InfoContext(ctx, "ignoring schedule tick for inactive journey",
			"journey_id", journey.ID, "status", string(journey.Status))

		return nil, nil
	}

	if journey.Trigger == nil || journey.Trigger.Type != models.TriggerTypeSchedule {
		return nil, nil
	}

	matches := make([]Match, 0, len(tick.SubjectIDs))

	for _, subjectID := range tick.SubjectIDs {
		matches = append(matches, Match{
			Journey:   journey,
			SubjectID: subjectID,
		})
	}

	return matches, nil
}
