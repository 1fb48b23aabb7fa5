package main

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduprism/journey/pkg/channels/gochannel"
	"github.com/eduprism/journey/pkg/dispatch"
	"github.com/eduprism/journey/pkg/eventbus"
	"github.com/eduprism/journey/pkg/events"
	"github.com/eduprism/journey/pkg/lease"
	"github.com/eduprism/journey/pkg/models"
	"github.com/eduprism/journey/pkg/persistence"
	"github.com/eduprism/journey/pkg/persistence/file"
	"github.com/eduprism/journey/pkg/scheduler"
)

func setupEngine(t *testing.T) (*Engine, persistence.Persistence) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	engine := NewEngine(
		"engine-test",
		store,
		bus,
		lease.NewMemoryStore(),
		dispatch.NewLogDispatcher(logger),
		logger,
		scheduler.Config{},
	)

	return engine, store
}

func signupJourney() *models.Journey {
	return &models.Journey{
		ID:     "welcome-series",
		Name:   "Welcome Series",
		Status: models.JourneyStatusActive,
		Trigger: &models.Trigger{
			Type:   models.TriggerTypeEvent,
			Config: map[string]any{"event_name": "user.signed_up"},
		},
		Steps: []*models.StepDefinition{
			{
				ID:     "welcome-email",
				Type:   models.StepTypeEmail,
				Config: map[string]any{"template_id": "welcome-01"},
			},
		},
	}
}

func TestEngine_HandleSubjectEvent_EnrollsMatch(t *testing.T) {
	ctx := context.Background()
	engine, store := setupEngine(t)

	require.NoError(t, store.JourneyRepository().Save(ctx, signupJourney()))

	event := &events.SubjectEvent{
		BaseEvent: events.NewBaseEvent(events.SubjectEventType, ""),
		Name:      "user.signed_up",
		SubjectID: "user-1",
		Payload:   map[string]any{"plan": "premium"},
	}

	require.NoError(t, engine.handleSubjectEvent(ctx, event))

	enrolled, err := store.EnrollmentRepository().FindActive(ctx, "user-1", "welcome-series")
	require.NoError(t, err)
	assert.Equal(t, "welcome-email", enrolled.CurrentStepID)
	assert.Equal(t, "premium", enrolled.Context["plan"])
}

func TestEngine_HandleSubjectEvent_RejectionIsAcked(t *testing.T) {
	ctx := context.Background()
	engine, store := setupEngine(t)

	require.NoError(t, store.JourneyRepository().Save(ctx, signupJourney()))

	event := &events.SubjectEvent{
		BaseEvent: events.NewBaseEvent(events.SubjectEventType, ""),
		Name:      "user.signed_up",
		SubjectID: "user-1",
	}

	require.NoError(t, engine.handleSubjectEvent(ctx, event))
	// Redelivery of the same event must not error: the duplicate enrollment
	// is rejected and the message acked.
	require.NoError(t, engine.handleSubjectEvent(ctx, event))

	enrollments, err := store.EnrollmentRepository().ListByJourney(ctx, "welcome-series")
	require.NoError(t, err)
	assert.Len(t, enrollments, 1)
}

func TestEngine_HandleSegmentChanged(t *testing.T) {
	ctx := context.Background()
	engine, store := setupEngine(t)

	journey := signupJourney()
	journey.ID = "win-back"
	journey.Trigger = &models.Trigger{
		Type:   models.TriggerTypeSegment,
		Config: map[string]any{"segment_id": "churn-risk"},
	}
	require.NoError(t, store.JourneyRepository().Save(ctx, journey))

	change := &events.SegmentChanged{
		BaseEvent: events.NewBaseEvent(events.SegmentChangedType, ""),
		SubjectID: "user-2",
		SegmentID: "churn-risk",
		Joined:    true,
	}

	require.NoError(t, engine.handleSegmentChanged(ctx, change))

	enrolled, err := store.EnrollmentRepository().FindActive(ctx, "user-2", "win-back")
	require.NoError(t, err)
	assert.Equal(t, "churn-risk", enrolled.Context["segment_id"])
}
