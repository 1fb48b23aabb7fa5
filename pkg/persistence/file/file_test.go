package file

import (
	"context"
	"testing"
	"time"

	"github.com/eduprism/journey/pkg/models"
	"github.com/eduprism/journey/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJourney(id string) *models.Journey {
	return &models.Journey{
		ID:     id,
		Name:   "Welcome Series",
		Status: models.JourneyStatusActive,
		Trigger: &models.Trigger{
			Type:   models.TriggerTypeEvent,
			Config: map[string]any{"event_name": "user.signup"},
		},
		Steps: []*models.StepDefinition{
			{ID: "step-1", Type: models.StepTypeEmail, Config: map[string]any{"template_id": "welcome"}},
		},
	}
}

func TestJourneyRepository(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	ctx := context.Background()

	journey := testJourney("j-1")
	require.NoError(t, fp.JourneyRepository().Save(ctx, journey))

	loaded, err := fp.JourneyRepository().GetByID(ctx, "j-1")
	require.NoError(t, err)
	assert.Equal(t, journey.Name, loaded.Name)
	assert.Equal(t, journey.Trigger.Type, loaded.Trigger.Type)
	require.Len(t, loaded.Steps, 1)
	assert.Equal(t, "step-1", loaded.Steps[0].ID)

	_, err = fp.JourneyRepository().GetByID(ctx, "missing")
	require.ErrorIs(t, err, persistence.ErrJourneyNotFound)

	paused := testJourney("j-2")
	paused.Status = models.JourneyStatusPaused
	require.NoError(t, fp.JourneyRepository().Save(ctx, paused))

	active, err := fp.JourneyRepository().GetActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "j-1", active[0].ID)

	require.NoError(t, fp.JourneyRepository().Delete(ctx, "j-2"))
	require.ErrorIs(t, fp.JourneyRepository().Delete(ctx, "j-2"), persistence.ErrJourneyNotFound)
}

func TestEnrollmentCreateEnforcesSingleActive(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	ctx := context.Background()
	journey := testJourney("j-1")

	first := models.NewEnrollment("subject-1", journey, nil)
	require.NoError(t, fp.EnrollmentRepository().Create(ctx, first))

	second := models.NewEnrollment("subject-1", journey, nil)
	err := fp.EnrollmentRepository().Create(ctx, second)
	require.ErrorIs(t, err, persistence.ErrDuplicateEnrollment)

	// A different subject can still enroll.
	other := models.NewEnrollment("subject-2", journey, nil)
	require.NoError(t, fp.EnrollmentRepository().Create(ctx, other))

	// Once the first enrollment finishes, the subject may re-enter.
	first.Finish(models.EnrollmentStatusCompleted)
	require.NoError(t, fp.EnrollmentRepository().Update(ctx, first))

	again := models.NewEnrollment("subject-1", journey, nil)
	require.NoError(t, fp.EnrollmentRepository().Create(ctx, again))
}

func TestEnrollmentUpdateVersionConflict(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	ctx := context.Background()
	journey := testJourney("j-1")

	enrollment := models.NewEnrollment("subject-1", journey, nil)
	require.NoError(t, fp.EnrollmentRepository().Create(ctx, enrollment))

	stale, err := fp.EnrollmentRepository().GetByID(ctx, enrollment.ID)
	require.NoError(t, err)

	enrollment.Attempts = 1
	require.NoError(t, fp.EnrollmentRepository().Update(ctx, enrollment))

	stale.Attempts = 99
	err = fp.EnrollmentRepository().Update(ctx, stale)
	require.ErrorIs(t, err, persistence.ErrVersionConflict)

	current, err := fp.EnrollmentRepository().GetByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, current.Attempts)
}

func TestEnrollmentDue(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	ctx := context.Background()
	journey := testJourney("j-1")
	now := time.Now().UTC()

	due := models.NewEnrollment("subject-1", journey, nil)
	past := now.Add(-time.Minute)
	due.NextRunAt = &past
	require.NoError(t, fp.EnrollmentRepository().Create(ctx, due))

	waiting := models.NewEnrollment("subject-2", journey, nil)
	future := now.Add(time.Hour)
	waiting.Status = models.EnrollmentStatusWaiting
	waiting.NextRunAt = &future
	require.NoError(t, fp.EnrollmentRepository().Create(ctx, waiting))

	finished := models.NewEnrollment("subject-3", journey, nil)
	finished.Finish(models.EnrollmentStatusCompleted)
	require.NoError(t, fp.EnrollmentRepository().Create(ctx, finished))

	dueList, err := fp.EnrollmentRepository().Due(ctx, now, 100)
	require.NoError(t, err)
	require.Len(t, dueList, 1)
	assert.Equal(t, due.ID, dueList[0].ID)

	// The waiting enrollment becomes due once its resume time passes.
	dueList, err = fp.EnrollmentRepository().Due(ctx, now.Add(2*time.Hour), 100)
	require.NoError(t, err)
	assert.Len(t, dueList, 2)
}

func TestStatsIncrements(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	ctx := context.Background()

	repo := fp.StatsRepository()
	require.NoError(t, repo.Increment(ctx, "j-1", persistence.CounterEnrolled, 1))
	require.NoError(t, repo.Increment(ctx, "j-1", persistence.CounterEnrolled, 1))
	require.NoError(t, repo.Increment(ctx, "j-1", persistence.CounterActive, 2))
	require.NoError(t, repo.Increment(ctx, "j-1", persistence.CounterActive, -1))
	require.NoError(t, repo.Increment(ctx, "j-1", persistence.CounterCompleted, 1))
	require.NoError(t, repo.IncrementChannel(ctx, "j-1", persistence.ChannelCounterTriggered, models.ChannelEmail, 1))
	require.NoError(t, repo.IncrementChannel(ctx, "j-1", persistence.ChannelCounterDelivered, models.ChannelEmail, 1))

	stats, err := repo.Get(ctx, "j-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Enrolled)
	assert.EqualValues(t, 1, stats.Active)
	assert.EqualValues(t, 1, stats.Completed)
	assert.EqualValues(t, 1, stats.ChannelTriggered[models.ChannelEmail])
	assert.EqualValues(t, 1, stats.ChannelDelivered[models.ChannelEmail])
	assert.InDelta(t, 0.5, stats.ConversionRate(), 1e-9)

	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, persistence.ErrStatsNotFound)
}
