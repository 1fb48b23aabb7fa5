// Package events defines the event types flowing through the journey engine:
// inbound subject activity consumed by the trigger matcher and outbound
// lifecycle notifications published on every enrollment transition.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topics.
const SubjectTopic = "journey.subject.events" // Inbound domain events from the platform
const EngineTopic = "journey.engine.events"   // Outbound enrollment transition events

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Inbound subject activity.
	SubjectEventType   EventType = "subject.event"
	SegmentChangedType EventType = "subject.segment.changed"
	WebhookCalledType  EventType = "trigger.webhook.called"
	ScheduleTickType   EventType = "trigger.schedule.tick"

	// Outbound enrollment lifecycle.
	EnrollmentCreatedType   EventType = "enrollment.created"
	EnrollmentRejectedType  EventType = "enrollment.rejected"
	StepCompletedType       EventType = "enrollment.step.completed"
	EnrollmentWaitingType   EventType = "enrollment.waiting"
	EnrollmentCompletedType EventType = "enrollment.completed"
	EnrollmentExitedType    EventType = "enrollment.exited"
	EnrollmentFailedType    EventType = "enrollment.failed"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	JourneyID string         `json:"journey_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, journeyID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		JourneyID: journeyID,
		Metadata:  make(map[string]any),
	}
}

// SubjectEvent is a domain event emitted by the platform (order.completed,
// user.signup, ...) that event triggers match against.
type SubjectEvent struct {
	BaseEvent

	Name      string         `json:"name"`
	SubjectID string         `json:"subject_id"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func (e SubjectEvent) GetType() EventType {
	return SubjectEventType
}

// SegmentChanged notifies that a subject joined or left a segment.
type SegmentChanged struct {
	BaseEvent

	SubjectID string `json:"subject_id"`
	SegmentID string `json:"segment_id"`
	Joined    bool   `json:"joined"`
}

func (e SegmentChanged) GetType() EventType {
	return SegmentChangedType
}

// WebhookCalled carries an inbound webhook trigger invocation. The payload is
// passed through as the initial enrollment context.
type WebhookCalled struct {
	BaseEvent

	Key       string         `json:"key"`
	SubjectID string         `json:"subject_id"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func (e WebhookCalled) GetType() EventType {
	return WebhookCalledType
}

// ScheduleTick is emitted by the external tick service when a schedule-triggered
// journey becomes due. The engine decides whether each listed subject enrolls;
// it never decides when ticks occur.
type ScheduleTick struct {
	BaseEvent

	SubjectIDs []string `json:"subject_ids"`
}

func (e ScheduleTick) GetType() EventType {
	return ScheduleTickType
}

// EnrollmentCreated is published when a trigger match enrolls a subject.
type EnrollmentCreated struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	SubjectID    string `json:"subject_id"`
}

func (e EnrollmentCreated) GetType() EventType {
	return EnrollmentCreatedType
}

// EnrollmentRejected is published when a trigger matched but the enrollment
// manager refused the enrollment (journey inactive, re-entry denied).
type EnrollmentRejected struct {
	BaseEvent

	SubjectID string `json:"subject_id"`
	Reason    string `json:"reason"`
}

func (e EnrollmentRejected) GetType() EventType {
	return EnrollmentRejectedType
}

// StepCompleted is published after each successfully executed step.
type StepCompleted struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	SubjectID    string `json:"subject_id"`
	StepID       string `json:"step_id"`
	StepType     string `json:"step_type"`
	Outcome      string `json:"outcome"`
	NextStepID   string `json:"next_step_id,omitempty"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedType
}

// EnrollmentWaiting is published when a wait step parks an enrollment.
type EnrollmentWaiting struct {
	BaseEvent

	EnrollmentID string    `json:"enrollment_id"`
	StepID       string    `json:"step_id"`
	ResumeAt     time.Time `json:"resume_at"`
}

func (e EnrollmentWaiting) GetType() EventType {
	return EnrollmentWaitingType
}

// EnrollmentCompleted is published when an enrollment reaches the end of its
// step graph (including condition soft exits).
type EnrollmentCompleted struct {
	BaseEvent

	EnrollmentID string        `json:"enrollment_id"`
	SubjectID    string        `json:"subject_id"`
	Duration     time.Duration `json:"duration"`
}

func (e EnrollmentCompleted) GetType() EventType {
	return EnrollmentCompletedType
}

// EnrollmentExited is published when an enrollment is terminated externally.
type EnrollmentExited struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	Reason       string `json:"reason"`
}

func (e EnrollmentExited) GetType() EventType {
	return EnrollmentExitedType
}

// EnrollmentFailed is published when dispatch retries are exhausted.
type EnrollmentFailed struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	StepID       string `json:"step_id"`
	Error        string `json:"error"`
}

func (e EnrollmentFailed) GetType() EventType {
	return EnrollmentFailedType
}
