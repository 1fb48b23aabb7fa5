package models

import (
	"time"

	"github.com/google/uuid"
)

// EnrollmentStatus represents the state of one subject's traversal of a journey.
//
// State machine: active -> (wait step) -> waiting -> active -> ... until one of
// the terminal states completed, exited or failed. Terminal enrollments accept
// no further transitions.
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusWaiting   EnrollmentStatus = "waiting"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusExited    EnrollmentStatus = "exited"
	EnrollmentStatusFailed    EnrollmentStatus = "failed"
)

// Terminal reports whether the status accepts no further transitions.
func (s EnrollmentStatus) Terminal() bool {
	return s == EnrollmentStatusCompleted || s == EnrollmentStatusExited || s == EnrollmentStatusFailed
}

// StepOutcome records what happened when a step completed in the history log.
type StepOutcome string

const (
	OutcomeSent     StepOutcome = "sent"     // Side effect dispatched
	OutcomeWaiting  StepOutcome = "waiting"  // Wait started
	OutcomeResumed  StepOutcome = "resumed"  // Wait elapsed
	OutcomeBranched StepOutcome = "branched" // Condition or split resolved, detail names the branch
	OutcomeFailed   StepOutcome = "failed"   // Retries exhausted, detail carries the reason
	OutcomeExited   StepOutcome = "exited"   // Terminated externally, detail carries the reason
)

// HistoryEntry is one completed step in an enrollment's ordered history log.
type HistoryEntry struct {
	StepID  string      `json:"step_id"`
	Outcome StepOutcome `json:"outcome"`
	Detail  string      `json:"detail,omitempty"`
	At      time.Time   `json:"at"`
}

// Enrollment is one subject's in-progress or finished traversal of a journey's
// step graph. It is exclusively owned by the enrollment manager; the step
// executor mutates it only while holding the per-enrollment execution lease,
// and every mutation commits through an optimistic version check.
type Enrollment struct {
	ID            string           `json:"id"`
	JourneyID     string           `json:"journey_id" validate:"required"`
	SubjectID     string           `json:"subject_id" validate:"required"`
	Status        EnrollmentStatus `json:"status"`
	CurrentStepID string           `json:"current_step_id"`
	NextRunAt     *time.Time       `json:"next_run_at,omitempty"` // Set while due or waiting, cleared on terminal states
	EnteredAt     time.Time        `json:"entered_at"`
	FinishedAt    *time.Time       `json:"finished_at,omitempty"`
	Attempts      int              `json:"attempts"` // Dispatch attempts for the current step
	Context       map[string]any   `json:"context,omitempty"`
	History       []HistoryEntry   `json:"history,omitempty"`
	Version       int64            `json:"version"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// NewEnrollment creates an active enrollment positioned at the journey's entry
// step and immediately eligible for execution.
func NewEnrollment(subjectID string, journey *Journey, context map[string]any) *Enrollment {
	now := time.Now().UTC()

	enrollment := &Enrollment{
		ID:        uuid.New().String(),
		JourneyID: journey.ID,
		SubjectID: subjectID,
		Status:    EnrollmentStatusActive,
		EnteredAt: now,
		NextRunAt: &now,
		Context:   context,
		Version:   1,
		UpdatedAt: now,
	}

	if entry := journey.EntryStep(); entry != nil {
		enrollment.CurrentStepID = entry.ID
	}

	return enrollment
}

// Terminal reports whether the enrollment reached a terminal state.
func (e *Enrollment) Terminal() bool {
	return e.Status.Terminal()
}

// Record appends a history entry.
func (e *Enrollment) Record(stepID string, outcome StepOutcome, detail string) {
	e.History = append(e.History, HistoryEntry{
		StepID:  stepID,
		Outcome: outcome,
		Detail:  detail,
		At:      time.Now().UTC(),
	})
}

// Finish moves the enrollment into a terminal state and clears scheduling state.
func (e *Enrollment) Finish(status EnrollmentStatus) {
	now := time.Now().UTC()
	e.Status = status
	e.NextRunAt = nil
	e.FinishedAt = &now
}

// Visited reports whether the history already contains an entry for the step
// with the given outcome. Used to keep split assignment stable across retries.
func (e *Enrollment) Visited(stepID string, outcome StepOutcome) (HistoryEntry, bool) {
	for _, entry := range e.History {
		if entry.StepID == stepID && entry.Outcome == outcome {
			return entry, true
		}
	}

	return HistoryEntry{}, false
}
