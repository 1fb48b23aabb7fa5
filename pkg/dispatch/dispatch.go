// Package dispatch abstracts the outbound side effects of journey steps.
// The engine never talks to email or SMS gateways directly; it hands a
// delivery request to a Dispatcher and records the outcome. Implementations
// must be safe for concurrent use.
package dispatch

import (
	"context"

	"github.com/eduprism/journey/pkg/models"
)

// Delivery describes one outbound side effect for a subject.
type Delivery struct {
	SubjectID    string
	JourneyID    string
	EnrollmentID string
	StepID       string
	TemplateID   string
	Subject      string         // Email subject or notification title
	Context      map[string]any // Enrollment context for template rendering
}

// WebhookCall describes an outbound webhook request.
type WebhookCall struct {
	SubjectID    string
	JourneyID    string
	EnrollmentID string
	StepID       string
	URL          string
	Method       string
	Payload      map[string]any
}

// TagChange describes a profile tag mutation.
type TagChange struct {
	SubjectID string
	Tag       string
	Op        models.TagOp
}

// Result reports what an attempted dispatch did.
type Result struct {
	Delivered bool   // Gateway acknowledged delivery, not mere acceptance
	Detail    string // Provider message id, response status, etc.
}

// Dispatcher performs the outbound side effects of journey steps. Errors are
// retryable from the engine's point of view; a dispatcher that knows an error
// is permanent should still return it and let the retry budget run out.
type Dispatcher interface {
	SendEmail(ctx context.Context, delivery Delivery) (Result, error)
	SendSMS(ctx context.Context, delivery Delivery) (Result, error)
	SendNotification(ctx context.Context, delivery Delivery) (Result, error)
	CallWebhook(ctx context.Context, call WebhookCall) (Result, error)
	SetTag(ctx context.Context, change TagChange) (Result, error)
}
