package web

import (
	"github.com/eduprism/journey/pkg/analytics"
	"github.com/eduprism/journey/pkg/models"
)

// StatsResponse wraps the raw counters with the derived conversion rate so
// the analytics views never compute it client side.
type StatsResponse struct {
	*models.JourneyStats

	ConversionRate float64 `json:"conversion_rate"`
}

type FunnelResponse struct {
	JourneyID string            `json:"journey_id"`
	Stages    []analytics.Stage `json:"stages"`
}

type JourneyListResponse struct {
	Journeys []*models.Journey `json:"journeys"`
	Total    int               `json:"total"`
}

type EnrollmentListResponse struct {
	Enrollments []*models.Enrollment `json:"enrollments"`
	Total       int                  `json:"total"`
}
