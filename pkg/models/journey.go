// Package models defines the core domain models for lifecycle journey automation.
package models

import "time"

// JourneyStatus represents the lifecycle state of a journey definition.
type JourneyStatus string

const (
	JourneyStatusDraft     JourneyStatus = "draft"     // Editable, never matched
	JourneyStatusActive    JourneyStatus = "active"    // Matching and executing
	JourneyStatusPaused    JourneyStatus = "paused"    // Existing enrollments run, no new matches
	JourneyStatusCompleted JourneyStatus = "completed" // Campaign ended by its owner
	JourneyStatusArchived  JourneyStatus = "archived"  // Historical, hidden from listings
)

// ReentryPolicy governs whether a subject who has been through a journey may
// be enrolled in it again. At most one non-terminal enrollment exists per
// (subject, journey) under every policy.
type ReentryPolicy string

const (
	ReentryDeny    ReentryPolicy = "deny"    // One enrollment per subject, ever
	ReentryAllow   ReentryPolicy = "allow"   // Re-enroll after the prior enrollment finishes
	ReentryRestart ReentryPolicy = "restart" // Exit the in-flight enrollment, start fresh
)

// TriggerType identifies what kind of external signal starts a journey.
type TriggerType string

const (
	TriggerTypeEvent    TriggerType = "event"
	TriggerTypeSchedule TriggerType = "schedule"
	TriggerTypeSegment  TriggerType = "segment"
	TriggerTypeWebhook  TriggerType = "webhook"
)

// Trigger combines a trigger type with its type-specific configuration.
// The config is kept as a raw map on the wire and decoded into the typed
// config structs during activation validation.
type Trigger struct {
	Type   TriggerType    `json:"type"   validate:"required,oneof=event schedule segment webhook"`
	Config map[string]any `json:"config"`
}

// Journey represents a marketing automation journey: one trigger plus an
// ordered step graph. The first step is the implicit entry point.
type Journey struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"           validate:"required,min=3"`
	Description   string            `json:"description"`
	Status        JourneyStatus     `json:"status"         validate:"required"`
	Trigger       *Trigger          `json:"trigger"`
	Steps         []*StepDefinition `json:"steps"`
	ReentryPolicy ReentryPolicy     `json:"reentry_policy"`
	MaxAttempts   int               `json:"max_attempts"` // Dispatch retries per step before the enrollment fails
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	ActivatedAt   *time.Time        `json:"activated_at,omitempty"`
}

// DefaultMaxAttempts is applied when a journey does not configure a retry budget.
const DefaultMaxAttempts = 3

// IsActive reports whether the journey accepts new enrollments.
func (j *Journey) IsActive() bool {
	return j.Status == JourneyStatusActive
}

// Executable reports whether existing enrollments of this journey may keep
// running. Paused journeys stop matching but do not freeze in-flight subjects.
func (j *Journey) Executable() bool {
	return j.Status == JourneyStatusActive || j.Status == JourneyStatusPaused
}

// EntryStep returns the implicit entry point of the step graph.
func (j *Journey) EntryStep() *StepDefinition {
	if len(j.Steps) == 0 {
		return nil
	}

	return j.Steps[0]
}

// Step looks a step up by id in the step arena.
func (j *Journey) Step(id string) (*StepDefinition, bool) {
	for _, step := range j.Steps {
		if step.ID == id {
			return step, true
		}
	}

	return nil, false
}

// Reentry returns the configured re-entry policy, defaulting to deny.
func (j *Journey) Reentry() ReentryPolicy {
	if j.ReentryPolicy == "" {
		return ReentryDeny
	}

	return j.ReentryPolicy
}

// RetryBudget returns the configured per-step dispatch attempt limit.
func (j *Journey) RetryBudget() int {
	if j.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}

	return j.MaxAttempts
}
