// Package web serves the read-only analytics and inspection API. The
// engine owns all writes; dashboards poll these endpoints for journey
// definitions, enrollment state and aggregate stats.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/eduprism/journey/pkg/analytics"
	"github.com/eduprism/journey/pkg/models"
	"github.com/eduprism/journey/pkg/persistence"
)

type APIHandlers struct {
	persistence persistence.Persistence
	aggregator  *analytics.Aggregator
	logger      *slog.Logger
}

func NewAPIHandlers(logger *slog.Logger, p persistence.Persistence) *APIHandlers {
	return &APIHandlers{
		persistence: p,
		aggregator:  analytics.NewAggregator(logger, p),
		logger:      logger.With("module", "api"),
	}
}

// Register mounts all routes on the app. Called by the API binary and by
// handler tests so both serve the same route table.
func (h *APIHandlers) Register(app *fiber.App) {
	j := app.Group("/journeys")
	j.Get("/", h.GetJourneys)
	j.Get("/:id", h.GetJourney)
	j.Get("/:id/stats", h.GetJourneyStats)
	j.Get("/:id/funnel", h.GetJourneyFunnel)
	j.Get("/:id/enrollments", h.GetJourneyEnrollments)

	app.Get("/enrollments/:id", h.GetEnrollment)
	app.Get("/health", h.HealthCheck)
}

var journeyStatuses = map[models.JourneyStatus]bool{
	models.JourneyStatusDraft:     true,
	models.JourneyStatusActive:    true,
	models.JourneyStatusPaused:    true,
	models.JourneyStatusCompleted: true,
	models.JourneyStatusArchived:  true,
}

var enrollmentStatuses = map[models.EnrollmentStatus]bool{
	models.EnrollmentStatusActive:    true,
	models.EnrollmentStatusWaiting:   true,
	models.EnrollmentStatusCompleted: true,
	models.EnrollmentStatusExited:    true,
	models.EnrollmentStatusFailed:    true,
}

// GetJourneys lists journey definitions, optionally filtered by status.
// Archived journeys only appear when asked for explicitly.
func (h *APIHandlers) GetJourneys(c fiber.Ctx) error {
	var status models.JourneyStatus

	if statusStr := c.Query("status"); statusStr != "" {
		status = models.JourneyStatus(statusStr)
		if !journeyStatuses[status] {
			return badRequest(c, "Unknown journey status: "+statusStr)
		}
	}

	journeys, err := h.persistence.JourneyRepository().GetAll(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	filtered := make([]*models.Journey, 0, len(journeys))

	for _, journey := range journeys {
		if status == "" && journey.Status == models.JourneyStatusArchived {
			continue
		}

		if status != "" && journey.Status != status {
			continue
		}

		filtered = append(filtered, journey)
	}

	return c.JSON(JourneyListResponse{Journeys: filtered, Total: len(filtered)})
}

func (h *APIHandlers) GetJourney(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Journey ID is required")
	}

	journey, err := h.persistence.JourneyRepository().GetByID(c.Context(), id)
	if err != nil {
		if errors.Is(err, persistence.ErrJourneyNotFound) {
			return notFound(c, "Journey not found")
		}

		return internalError(c, err)
	}

	return c.JSON(journey)
}

func (h *APIHandlers) GetJourneyStats(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Journey ID is required")
	}

	if err := h.requireJourney(c.Context(), id); err != nil {
		if errors.Is(err, persistence.ErrJourneyNotFound) {
			return notFound(c, "Journey not found")
		}

		return internalError(c, err)
	}

	stats, err := h.aggregator.Summary(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(StatsResponse{
		JourneyStats:   stats,
		ConversionRate: stats.ConversionRate(),
	})
}

func (h *APIHandlers) GetJourneyFunnel(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Journey ID is required")
	}

	stages, err := h.aggregator.Funnel(c.Context(), id)
	if err != nil {
		if errors.Is(err, persistence.ErrJourneyNotFound) {
			return notFound(c, "Journey not found")
		}

		return internalError(c, err)
	}

	return c.JSON(FunnelResponse{JourneyID: id, Stages: stages})
}

// GetJourneyEnrollments lists a journey's enrollments, optionally filtered
// by status. Failed enrollments carry the failure reason in their history.
func (h *APIHandlers) GetJourneyEnrollments(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Journey ID is required")
	}

	var status models.EnrollmentStatus

	if statusStr := c.Query("status"); statusStr != "" {
		status = models.EnrollmentStatus(statusStr)
		if !enrollmentStatuses[status] {
			return badRequest(c, "Unknown enrollment status: "+statusStr)
		}
	}

	if err := h.requireJourney(c.Context(), id); err != nil {
		if errors.Is(err, persistence.ErrJourneyNotFound) {
			return notFound(c, "Journey not found")
		}

		return internalError(c, err)
	}

	enrollments, err := h.persistence.EnrollmentRepository().ListByJourney(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	filtered := make([]*models.Enrollment, 0, len(enrollments))

	for _, enrollment := range enrollments {
		if status != "" && enrollment.Status != status {
			continue
		}

		filtered = append(filtered, enrollment)
	}

	return c.JSON(EnrollmentListResponse{Enrollments: filtered, Total: len(filtered)})
}

func (h *APIHandlers) GetEnrollment(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Enrollment ID is required")
	}

	enrollment, err := h.persistence.EnrollmentRepository().GetByID(c.Context(), id)
	if err != nil {
		if errors.Is(err, persistence.ErrEnrollmentNotFound) {
			return notFound(c, "Enrollment not found")
		}

		return internalError(c, err)
	}

	return c.JSON(enrollment)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Journey API is healthy"
	httpStatus := http.StatusOK

	err := h.persistence.HealthCheck(c.Context())
	if err != nil {
		h.logger.ErrorContext(c.Context(), "persistence health check failed", "error", err)

		status = "unhealthy"
		message = "Journey API is unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) requireJourney(ctx context.Context, id string) error {
	_, err := h.persistence.JourneyRepository().GetByID(ctx, id)

	return err
}
