package trigger_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduprism/journey/pkg/events"
	"github.com/eduprism/journey/pkg/models"
	"github.com/eduprism/journey/pkg/persistence"
	"github.com/eduprism/journey/pkg/trigger"
)

type stubJourneyRepository struct {
	journeys []*models.Journey
}

func (s *stubJourneyRepository) GetAll(_ context.Context) ([]*models.Journey, error) {
	return s.journeys, nil
}

func (s *stubJourneyRepository) GetActive(_ context.Context) ([]*models.Journey, error) {
	active := make([]*models.Journey, 0)

	for _, journey := range s.journeys {
		if journey.IsActive() {
			active = append(active, journey)
		}
	}

	return active, nil
}

func (s *stubJourneyRepository) GetByID(_ context.Context, id string) (*models.Journey, error) {
	for _, journey := range s.journeys {
		if journey.ID == id {
			return journey, nil
		}
	}

	return nil, persistence.ErrJourneyNotFound
}

func (s *stubJourneyRepository) Save(_ context.Context, _ *models.Journey) error { return nil }
func (s *stubJourneyRepository) Delete(_ context.Context, _ string) error        { return nil }

func newMatcher(journeys ...*models.Journey) *trigger.Matcher {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	return trigger.NewMatcher(logger, &stubJourneyRepository{journeys: journeys})
}

func eventJourney(id string, status models.JourneyStatus, eventName string, filter map[string]any) *models.Journey {
	config := map[string]any{"event_name": eventName}
	if filter != nil {
		config["filter"] = filter
	}

	return &models.Journey{
		ID:     id,
		Name:   "Journey " + id,
		Status: status,
		Trigger: &models.Trigger{
			Type:   models.TriggerTypeEvent,
			Config: config,
		},
		Steps: []*models.StepDefinition{
			{ID: "send", Type: models.StepTypeEmail, Config: map[string]any{"template_id": "t-1"}},
		},
	}
}

func TestMatcher_OnEvent_NameMatch(t *testing.T) {
	matcher := newMatcher(
		eventJourney("signup-journey", models.JourneyStatusActive, "user.signup", nil),
		eventJourney("order-journey", models.JourneyStatusActive, "order.completed", nil),
	)

	matches, err := matcher.OnEvent(context.Background(), events.SubjectEvent{
		Name:      "user.signup",
		SubjectID: "student-1",
		Payload:   map[string]any{"plan": "premium"},
	})

	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "signup-journey", matches[0].Journey.ID)
	assert.Equal(t, "student-1", matches[0].SubjectID)
	assert.Equal(t, "premium", matches[0].Context["plan"])
}

func TestMatcher_OnEvent_Filter(t *testing.T) {
	journey := eventJourney("big-orders", models.JourneyStatusActive, "order.completed",
		map[string]any{"total": map[string]any{"$gt": 100}})

	tests := []struct {
		name    string
		payload map[string]any
		matched bool
	}{
		{name: "above threshold", payload: map[string]any{"total": 150}, matched: true},
		{name: "below threshold", payload: map[string]any{"total": 50}, matched: false},
		{name: "at threshold", payload: map[string]any{"total": 100}, matched: false},
		{name: "field missing", payload: map[string]any{"items": 3}, matched: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matcher := newMatcher(journey)

			matches, err := matcher.OnEvent(context.Background(), events.SubjectEvent{
				Name:      "order.completed",
				SubjectID: "student-1",
				Payload:   tt.payload,
			})

			require.NoError(t, err)

			if tt.matched {
				assert.Len(t, matches, 1)
			} else {
				assert.Empty(t, matches)
			}
		})
	}
}

func TestMatcher_OnEvent_MalformedFilterIsNonMatch(t *testing.T) {
	journey := eventJourney("broken", models.JourneyStatusActive, "order.completed",
		map[string]any{"total": map[string]any{"$unknown": 10}})

	matcher := newMatcher(journey)

	matches, err := matcher.OnEvent(context.Background(), events.SubjectEvent{
		Name:    "order.completed",
		Payload: map[string]any{"total": 50},
	})

	require.NoError(t, err, "a broken filter must not fail event processing")
	assert.Empty(t, matches)
}

func TestMatcher_OnEvent_IgnoresInactiveJourneys(t *testing.T) {
	matcher := newMatcher(
		eventJourney("paused", models.JourneyStatusPaused, "user.signup", nil),
		eventJourney("draft", models.JourneyStatusDraft, "user.signup", nil),
	)

	matches, err := matcher.OnEvent(context.Background(), events.SubjectEvent{Name: "user.signup"})

	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMatcher_OnSegmentChange(t *testing.T) {
	journey := &models.Journey{
		ID:     "at-risk",
		Name:   "At Risk Outreach",
		Status: models.JourneyStatusActive,
		Trigger: &models.Trigger{
			Type:   models.TriggerTypeSegment,
			Config: map[string]any{"segment_id": "at-risk-students"},
		},
	}

	matcher := newMatcher(journey)

	matches, err := matcher.OnSegmentChange(context.Background(), events.SegmentChanged{
		SubjectID: "student-1",
		SegmentID: "at-risk-students",
		Joined:    true,
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "at-risk", matches[0].Journey.ID)

	// Leaving a segment never enrolls.
	matches, err = matcher.OnSegmentChange(context.Background(), events.SegmentChanged{
		SubjectID: "student-1",
		SegmentID: "at-risk-students",
		Joined:    false,
	})
	require.NoError(t, err)
	assert.Empty(t, matches)

	// A different segment does not match.
	matches, err = matcher.OnSegmentChange(context.Background(), events.SegmentChanged{
		SubjectID: "student-1",
		SegmentID: "power-users",
		Joined:    true,
	})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMatcher_OnWebhook(t *testing.T) {
	journey := &models.Journey{
		ID:     "crm-import",
		Name:   "CRM Import",
		Status: models.JourneyStatusActive,
		Trigger: &models.Trigger{
			Type:   models.TriggerTypeWebhook,
			Config: map[string]any{"key": "crm-hook-1"},
		},
	}

	matcher := newMatcher(journey)

	matches, err := matcher.OnWebhook(context.Background(), events.WebhookCalled{
		Key:       "crm-hook-1",
		SubjectID: "student-1",
		Payload:   map[string]any{"source": "crm"},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "crm", matches[0].Context["source"])

	matches, err = matcher.OnWebhook(context.Background(), events.WebhookCalled{Key: "other"})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMatcher_OnScheduleTick(t *testing.T) {
	journey := &models.Journey{
		ID:     "weekly-digest",
		Name:   "Weekly Digest",
		Status: models.JourneyStatusActive,
		Trigger: &models.Trigger{
			Type: models.TriggerTypeSchedule,
			Config: map[string]any{
				"cron_expression": "0 9 * * 1",
				"segment_id":      "all-students",
			},
		},
	}

	matcher := newMatcher(journey)

	tick := events.ScheduleTick{
		BaseEvent:  events.NewBaseEvent(events.ScheduleTickType, "weekly-digest"),
		SubjectIDs: []string{"student-1", "student-2", "student-3"},
	}

	matches, err := matcher.OnScheduleTick(context.Background(), tick)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "student-2", matches[1].SubjectID)

	// The journey was paused after the tick was emitted.
	journey.Status = models.JourneyStatusPaused

	matches, err = matcher.OnScheduleTick(context.Background(), tick)
	require.NoError(t, err)
	assert.Empty(t, matches)
}
