package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduprism/journey/pkg/models"
	"github.com/eduprism/journey/pkg/persistence/file"
)

func TestAPI_App(t *testing.T) {
	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	require.NoError(t, store.JourneyRepository().Save(ctx, &models.Journey{
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
	}))

	app := NewAPI(logger, store).App()

	t.Run("root", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
		require.NoError(t, err)

		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "Journey API", string(body))
	})

	t.Run("journey routes mounted", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/journeys/welcome-series", nil))
		require.NoError(t, err)

		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("health", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
		require.NoError(t, err)

		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}
