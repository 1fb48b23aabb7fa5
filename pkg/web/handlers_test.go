package web_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduprism/journey/pkg/models"
	"github.com/eduprism/journey/pkg/persistence"
	"github.com/eduprism/journey/pkg/persistence/file"
	"github.com/eduprism/journey/pkg/web"
)

func setupTestApp(t *testing.T) (*fiber.App, persistence.Persistence) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	app := fiber.New()
	web.NewAPIHandlers(logger, store).Register(app)

	return app, store
}

func welcomeJourney(status models.JourneyStatus) *models.Journey {
	return &models.Journey{
		ID:     "welcome-series",
		Name:   "Welcome Series",
		Status: status,
		Trigger: &models.Trigger{
			Type:   models.TriggerTypeEvent,
			Config: map[string]any{"event_name": "user.signed_up"},
		},
		Steps: []*models.StepDefinition{
			{
				ID:        "welcome-email",
				Name:      "Welcome email",
				Type:      models.StepTypeEmail,
				Config:    map[string]any{"template_id": "welcome-01"},
				NextSteps: []string{"pause"},
			},
			{
				ID:     "pause",
				Name:   "Wait a day",
				Type:   models.StepTypeWait,
				Config: map[string]any{"amount": 1, "unit": "days"},
			},
		},
	}
}

func getJSON(t *testing.T, app *fiber.App, url string, expectedStatus int, out any) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, url, nil)

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, expectedStatus, resp.StatusCode)

	if out != nil {
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, out))
	}
}

func TestAPIHandlers_GetJourneys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	app, store := setupTestApp(t)

	active := welcomeJourney(models.JourneyStatusActive)
	require.NoError(t, store.JourneyRepository().Save(ctx, active))

	archived := welcomeJourney(models.JourneyStatusArchived)
	archived.ID = "old-campaign"
	require.NoError(t, store.JourneyRepository().Save(ctx, archived))

	t.Run("archived hidden by default", func(t *testing.T) {
		var result web.JourneyListResponse
		getJSON(t, app, "/journeys/", http.StatusOK, &result)

		require.Equal(t, 1, result.Total)
		assert.Equal(t, "welcome-series", result.Journeys[0].ID)
	})

	t.Run("explicit status filter", func(t *testing.T) {
		var result web.JourneyListResponse
		getJSON(t, app, "/journeys/?status=archived", http.StatusOK, &result)

		require.Equal(t, 1, result.Total)
		assert.Equal(t, "old-campaign", result.Journeys[0].ID)
	})

	t.Run("unknown status rejected", func(t *testing.T) {
		getJSON(t, app, "/journeys/?status=bogus", http.StatusBadRequest, nil)
	})
}

func TestAPIHandlers_GetJourney(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	app, store := setupTestApp(t)
	require.NoError(t, store.JourneyRepository().Save(ctx, welcomeJourney(models.JourneyStatusActive)))

	t.Run("found", func(t *testing.T) {
		var journey models.Journey
		getJSON(t, app, "/journeys/welcome-series", http.StatusOK, &journey)

		assert.Equal(t, "Welcome Series", journey.Name)
		require.Len(t, journey.Steps, 2)
		assert.Equal(t, models.StepTypeEmail, journey.Steps[0].Type)
	})

	t.Run("not found", func(t *testing.T) {
		getJSON(t, app, "/journeys/missing", http.StatusNotFound, nil)
	})
}

func TestAPIHandlers_GetJourneyStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	app, store := setupTestApp(t)
	require.NoError(t, store.JourneyRepository().Save(ctx, welcomeJourney(models.JourneyStatusActive)))

	stats := store.StatsRepository()
	require.NoError(t, stats.Increment(ctx, "welcome-series", persistence.CounterEnrolled, 4))
	require.NoError(t, stats.Increment(ctx, "welcome-series", persistence.CounterCompleted, 3))
	require.NoError(t, stats.IncrementChannel(ctx, "welcome-series", persistence.ChannelCounterTriggered, models.ChannelEmail, 4))

	t.Run("stats with conversion rate", func(t *testing.T) {
		var result web.StatsResponse
		getJSON(t, app, "/journeys/welcome-series/stats", http.StatusOK, &result)

		assert.Equal(t, int64(4), result.Enrolled)
		assert.Equal(t, int64(3), result.Completed)
		assert.InDelta(t, 0.75, result.ConversionRate, 0.0001)
		assert.Equal(t, int64(4), result.ChannelTriggered[models.ChannelEmail])
	})

	t.Run("zero stats for untouched journey", func(t *testing.T) {
		fresh := welcomeJourney(models.JourneyStatusActive)
		fresh.ID = "fresh"
		require.NoError(t, store.JourneyRepository().Save(ctx, fresh))

		var result web.StatsResponse
		getJSON(t, app, "/journeys/fresh/stats", http.StatusOK, &result)

		assert.Equal(t, int64(0), result.Enrolled)
		assert.Equal(t, float64(0), result.ConversionRate)
	})

	t.Run("unknown journey", func(t *testing.T) {
		getJSON(t, app, "/journeys/missing/stats", http.StatusNotFound, nil)
	})
}

func TestAPIHandlers_GetJourneyFunnel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	app, store := setupTestApp(t)

	journey := welcomeJourney(models.JourneyStatusActive)
	require.NoError(t, store.JourneyRepository().Save(ctx, journey))

	enrollment := models.NewEnrollment("alice", journey, nil)
	enrollment.Record("welcome-email", models.OutcomeSent, "")
	require.NoError(t, store.EnrollmentRepository().Create(ctx, enrollment))

	var result web.FunnelResponse
	getJSON(t, app, "/journeys/welcome-series/funnel", http.StatusOK, &result)

	require.Len(t, result.Stages, 2)
	assert.Equal(t, "welcome-email", result.Stages[0].StepID)
	assert.Equal(t, int64(1), result.Stages[0].Reached)
	assert.Equal(t, int64(0), result.Stages[1].Reached)

	getJSON(t, app, "/journeys/missing/funnel", http.StatusNotFound, nil)
}

func TestAPIHandlers_GetJourneyEnrollments(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	app, store := setupTestApp(t)

	journey := welcomeJourney(models.JourneyStatusActive)
	require.NoError(t, store.JourneyRepository().Save(ctx, journey))

	healthy := models.NewEnrollment("alice", journey, nil)
	require.NoError(t, store.EnrollmentRepository().Create(ctx, healthy))

	failed := models.NewEnrollment("bob", journey, nil)
	failed.Record("welcome-email", models.OutcomeFailed, "mailbox unavailable")
	failed.Finish(models.EnrollmentStatusFailed)
	require.NoError(t, store.EnrollmentRepository().Create(ctx, failed))

	t.Run("all enrollments", func(t *testing.T) {
		var result web.EnrollmentListResponse
		getJSON(t, app, "/journeys/welcome-series/enrollments", http.StatusOK, &result)

		assert.Equal(t, 2, result.Total)
	})

	t.Run("failed with reason", func(t *testing.T) {
		var result web.EnrollmentListResponse
		getJSON(t, app, "/journeys/welcome-series/enrollments?status=failed", http.StatusOK, &result)

		require.Equal(t, 1, result.Total)
		assert.Equal(t, "bob", result.Enrollments[0].SubjectID)
		require.NotEmpty(t, result.Enrollments[0].History)
		assert.Equal(t, "mailbox unavailable", result.Enrollments[0].History[0].Detail)
	})

	t.Run("unknown status rejected", func(t *testing.T) {
		getJSON(t, app, "/journeys/welcome-series/enrollments?status=bogus", http.StatusBadRequest, nil)
	})

	t.Run("unknown journey", func(t *testing.T) {
		getJSON(t, app, "/journeys/missing/enrollments", http.StatusNotFound, nil)
	})
}

func TestAPIHandlers_GetEnrollment(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	app, store := setupTestApp(t)

	journey := welcomeJourney(models.JourneyStatusActive)
	require.NoError(t, store.JourneyRepository().Save(ctx, journey))

	enrollment := models.NewEnrollment("alice", journey, map[string]any{"plan": "premium"})
	enrollment.Record("welcome-email", models.OutcomeSent, "")
	require.NoError(t, store.EnrollmentRepository().Create(ctx, enrollment))

	t.Run("found with history", func(t *testing.T) {
		var result models.Enrollment
		getJSON(t, app, "/enrollments/"+enrollment.ID, http.StatusOK, &result)

		assert.Equal(t, "alice", result.SubjectID)
		assert.Equal(t, "premium", result.Context["plan"])
		require.Len(t, result.History, 1)
		assert.Equal(t, models.OutcomeSent, result.History[0].Outcome)
	})

	t.Run("not found", func(t *testing.T) {
		getJSON(t, app, "/enrollments/missing", http.StatusNotFound, nil)
	})
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	var result map[string]any
	getJSON(t, app, "/health", http.StatusOK, &result)

	assert.Equal(t, "healthy", result["status"])
}
