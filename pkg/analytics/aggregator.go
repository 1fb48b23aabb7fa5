// Package analytics maintains the per-journey aggregate counters and serves
// the derived read models. Counters move together with the enrollment
// transition that causes them; funnels are derived by scanning enrollment
// history so looping revisits never double count.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/eduprism/journey/pkg/models"
	"github.com/eduprism/journey/pkg/persistence"
)

// Transition names an enrollment state change that moves aggregate counters.
type Transition string

const (
	TransitionEnrolled  Transition = "enrolled"
	TransitionCompleted Transition = "completed"
	TransitionExited    Transition = "exited"
	TransitionFailed    Transition = "failed"
)

// Aggregator is the single owner of JourneyStats mutation. Counter updates
// are atomic increments, never read-modify-write, so concurrent enrollment
// completions cannot lose updates. Failures are logged and swallowed: stats
// are eventually consistent and must never fail the transition that caused
// them.
type Aggregator struct {
	journeys    persistence.JourneyRepository
	enrollments persistence.EnrollmentRepository
	stats       persistence.StatsRepository
	logger      *slog.Logger
}

func NewAggregator(logger *slog.Logger, p persistence.Persistence) *Aggregator {
	return &Aggregator{
		journeys:    p.JourneyRepository(),
		enrollments: p.EnrollmentRepository(),
		stats:       p.StatsRepository(),
		logger:      logger.With("module", "analytics_aggregator"),
	}
}

// OnTransition moves the scalar counters for one enrollment state change.
// Every terminal transition decrements the active count it once incremented.
func (a *Aggregator) OnTransition(ctx context.Context, journeyID string, transition Transition) {
	switch transition {
	case TransitionEnrolled:
		a.increment(ctx, journeyID, persistence.CounterEnrolled, 1)
		a.increment(ctx, journeyID, persistence.CounterActive, 1)
	case TransitionCompleted:
		a.increment(ctx, journeyID, persistence.CounterActive, -1)
		a.increment(ctx, journeyID, persistence.CounterCompleted, 1)
	case TransitionExited:
		a.increment(ctx, journeyID, persistence.CounterActive, -1)
		a.increment(ctx, journeyID, persistence.CounterExited, 1)
	case TransitionFailed:
		a.increment(ctx, journeyID, persistence.CounterActive, -1)
		a.increment(ctx, journeyID, persistence.CounterFailed, 1)
	default:
		a.logger.ErrorContext(ctx, "unknown transition", "transition", string(transition))
	}
}

// OnDelivery counts an outbound dispatch on a channel. Triggered always
// moves; delivered only when the gateway acknowledged delivery.
func (a *Aggregator) OnDelivery(ctx context.Context, journeyID string, channel models.Channel, delivered bool) {
	a.incrementChannel(ctx, journeyID, persistence.ChannelCounterTriggered, channel)

	if delivered {
		a.incrementChannel(ctx, journeyID, persistence.ChannelCounterDelivered, channel)
	}
}

func (a *Aggregator) increment(ctx context.Context, journeyID string, counter persistence.Counter, delta int64) {
	err := a.stats.Increment(ctx, journeyID, counter, delta)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to update journey counter",
			"journey_id", journeyID, "counter", string(counter), "error", err)
	}
}

func (a *Aggregator) incrementChannel(ctx context.Context, journeyID string, counter persistence.ChannelCounter, channel models.Channel) {
	err := a.stats.IncrementChannel(ctx, journeyID, counter, channel, 1)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to update channel counter",
			"journey_id", journeyID, "counter", string(counter), "error", err)
	}
}

// Summary returns the journey's running counters. A journey that never
// enrolled anyone has a zero summary, not an error.
func (a *Aggregator) Summary(ctx context.Context, journeyID string) (*models.JourneyStats, error) {
	stats, err := a.stats.Get(ctx, journeyID)
	if err != nil {
		if errors.Is(err, persistence.ErrStatsNotFound) {
			return &models.JourneyStats{JourneyID: journeyID}, nil
		}

		return nil, fmt.Errorf("failed to load stats for journey %s: %w", journeyID, err)
	}

	return stats, nil
}

// Stage is one step of a journey's funnel.
type Stage struct {
	StepID  string          `json:"step_id"`
	Name    string          `json:"name,omitempty"`
	Type    models.StepType `json:"type"`
	Reached int64           `json:"reached"` // Enrollments whose history touches the step
	Failed  int64           `json:"failed"`  // Enrollments that failed on the step
}

// Funnel derives per-step volumes in graph order by scanning enrollment
// history. Each enrollment counts at most once per stage no matter how its
// history looks, which keeps branch-and-merge graphs honest.
func (a *Aggregator) Funnel(ctx context.Context, journeyID string) ([]Stage, error) {
	journey, err := a.journeys.GetByID(ctx, journeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load journey %s: %w", journeyID, err)
	}

	enrollments, err := a.enrollments.ListByJourney(ctx, journeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments for journey %s: %w", journeyID, err)
	}

	reached := make(map[string]int64, len(journey.Steps))
	failed := make(map[string]int64, len(journey.Steps))

	for _, enrollment := range enrollments {
		seen := make(map[string]bool, len(enrollment.History))

		for _, entry := range enrollment.History {
			if !seen[entry.StepID] {
				seen[entry.StepID] = true
				reached[entry.StepID]++
			}

			if entry.Outcome == models.OutcomeFailed {
				failed[entry.StepID]++
			}
		}
	}

	stages := make([]Stage, 0, len(journey.Steps))

	for _, step := range journey.Steps {
		stages = append(stages, Stage{
			StepID:  step.ID,
			Name:    step.Name,
			Type:    step.Type,
			Reached: reached[step.ID],
			Failed:  failed[step.ID],
		})
	}

	return stages, nil
}
