// Package executor advances enrollments through their journey's step graph.
// RunStep is the state machine transition function: it executes exactly one
// step of one due enrollment, dispatches any side effect, resolves branching
// and computes when the enrollment is due next.
package executor

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/eduprism/journey/pkg/analytics"
	"github.com/eduprism/journey/pkg/dispatch"
	"github.com/eduprism/journey/pkg/eventbus"
	"github.com/eduprism/journey/pkg/events"
	"github.com/eduprism/journey/pkg/models"
	"github.com/eduprism/journey/pkg/otelhelper"
	"github.com/eduprism/journey/pkg/persistence"
)

const (
	retryInitialInterval = 30 * time.Second
	retryMaxInterval     = time.Hour
)

// Executor runs one step of one enrollment at a time. It never mutates a
// terminal enrollment and commits every mutation through the optimistic
// version check, so a concurrent Terminate always wins.
type Executor struct {
	journeys    persistence.JourneyRepository
	enrollments persistence.EnrollmentRepository
	aggregator  *analytics.Aggregator
	dispatcher  dispatch.Dispatcher
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

func NewExecutor(
	logger *slog.Logger,
	p persistence.Persistence,
	dispatcher dispatch.Dispatcher,
	publisher eventbus.EventPublisher,
) *Executor {
	return &Executor{
		journeys:    p.JourneyRepository(),
		enrollments: p.EnrollmentRepository(),
		aggregator:  analytics.NewAggregator(logger, p),
		dispatcher:  dispatcher,
		publisher:   publisher,
		logger:      logger.With("module", "step_executor"),
		tracer:      otel.Tracer("journey-engine"),
		now:         time.Now,
	}
}

// RunStep executes the enrollment's current step. Running a terminal
// enrollment is a no-op: no state change, no counter movement, no events.
func (e *Executor) RunStep(ctx context.Context, enrollment *models.Enrollment) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "executor.run_step",
		attribute.String(otelhelper.EnrollmentIDKey, enrollment.ID),
		attribute.String(otelhelper.JourneyIDKey, enrollment.JourneyID),
		attribute.String(otelhelper.StepIDKey, enrollment.CurrentStepID),
	)
	defer span.End()

	if enrollment.Terminal() {
		return nil
	}

	journey, err := e.journeys.GetByID(ctx, enrollment.JourneyID)
	if err != nil {
		if errors.Is(err, persistence.ErrJourneyNotFound) {
			return e.fail(ctx, enrollment, enrollment.CurrentStepID, "journey no longer exists")
		}

		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to load journey %s: %w", enrollment.JourneyID, err)
	}

	// Completed and archived journeys stop executing; their in-flight
	// enrollments exit rather than hang forever.
	if !journey.Executable() {
		return e.exit(ctx, enrollment, "journey deactivated")
	}

	step, ok := journey.Step(enrollment.CurrentStepID)
	if !ok {
		return e.fail(ctx, enrollment, enrollment.CurrentStepID, fmt.Sprintf("step %s not found in journey", enrollment.CurrentStepID))
	}

	span.SetAttributes(attribute.String(otelhelper.StepTypeKey, string(step.Type)))

	switch step.Type {
	case models.StepTypeEmail, models.StepTypeSMS, models.StepTypeNotification,
		models.StepTypeTag, models.StepTypeWebhook:
		return e.runDispatchStep(ctx, journey, enrollment, step)
	case models.StepTypeWait:
		return e.runWaitStep(ctx, journey, enrollment, step)
	case models.StepTypeCondition:
		return e.runConditionStep(ctx, journey, enrollment, step)
	case models.StepTypeSplit:
		return e.runSplitStep(ctx, journey, enrollment, step)
	default:
		return e.fail(ctx, enrollment, step.ID, fmt.Sprintf("unsupported step type %s", step.Type))
	}
}

// runDispatchStep executes a side-effecting step. The dispatcher call carries
// a hard timeout; a timed-out call counts as a failure for retry purposes.
func (e *Executor) runDispatchStep(ctx context.Context, journey *models.Journey, enrollment *models.Enrollment, step *models.StepDefinition) error {
	result, err := e.dispatchStep(ctx, enrollment, step)
	if err != nil {
		return e.retry(ctx, journey, enrollment, step, err)
	}

	enrollment.Attempts = 0
	enrollment.Record(step.ID, models.OutcomeSent, result.Detail)

	channel, hasChannel := step.Channel()

	nextStepID := e.advance(enrollment, step.NextSteps)

	committed, err := e.commit(ctx, enrollment)
	if err != nil || !committed {
		return err
	}

	if hasChannel {
		e.aggregator.OnDelivery(ctx, journey.ID, channel, result.Delivered)
	}

	e.afterStep(ctx, enrollment, step, models.OutcomeSent, nextStepID)

	return nil
}

func (e *Executor) dispatchStep(ctx context.Context, enrollment *models.Enrollment, step *models.StepDefinition) (dispatch.Result, error) {
	switch step.Type {
	case models.StepTypeEmail:
		config, err := step.EmailConfig()
		if err != nil {
			return dispatch.Result{}, err
		}

		return e.dispatcher.SendEmail(ctx, dispatch.Delivery{
			SubjectID:    enrollment.SubjectID,
			JourneyID:    enrollment.JourneyID,
			EnrollmentID: enrollment.ID,
			StepID:       step.ID,
			TemplateID:   config.TemplateID,
			Subject:      config.Subject,
			Context:      enrollment.Context,
		})
	case models.StepTypeSMS:
		config, err := step.SMSConfig()
		if err != nil {
			return dispatch.Result{}, err
		}

		return e.dispatcher.SendSMS(ctx, dispatch.Delivery{
			SubjectID:    enrollment.SubjectID,
			JourneyID:    enrollment.JourneyID,
			EnrollmentID: enrollment.ID,
			StepID:       step.ID,
			TemplateID:   config.TemplateID,
			Context:      enrollment.Context,
		})
	case models.StepTypeNotification:
		config, err := step.NotificationConfig()
		if err != nil {
			return dispatch.Result{}, err
		}

		return e.dispatcher.SendNotification(ctx, dispatch.Delivery{
			SubjectID:    enrollment.SubjectID,
			JourneyID:    enrollment.JourneyID,
			EnrollmentID: enrollment.ID,
			StepID:       step.ID,
			TemplateID:   config.TemplateID,
			Subject:      config.Title,
			Context:      enrollment.Context,
		})
	case models.StepTypeTag:
		config, err := step.TagConfig()
		if err != nil {
			return dispatch.Result{}, err
		}

		return e.dispatcher.SetTag(ctx, dispatch.TagChange{
			SubjectID: enrollment.SubjectID,
			Tag:       config.Tag,
			Op:        config.Op,
		})
	case models.StepTypeWebhook:
		config, err := step.WebhookConfig()
		if err != nil {
			return dispatch.Result{}, err
		}

		return e.dispatcher.CallWebhook(ctx, dispatch.WebhookCall{
			SubjectID:    enrollment.SubjectID,
			JourneyID:    enrollment.JourneyID,
			EnrollmentID: enrollment.ID,
			StepID:       step.ID,
			URL:          config.URL,
			Method:       config.Method,
			Payload:      enrollment.Context,
		})
	default:
		return dispatch.Result{}, fmt.Errorf("step type %s has no dispatch channel", step.Type)
	}
}

// runWaitStep parks an active enrollment until the wait elapses. The
// scheduler re-delivers the enrollment at that time, still positioned on the
// wait step but now in waiting status, and the second visit advances it.
func (e *Executor) runWaitStep(ctx context.Context, journey *models.Journey, enrollment *models.Enrollment, step *models.StepDefinition) error {
	if enrollment.Status == models.EnrollmentStatusWaiting {
		enrollment.Status = models.EnrollmentStatusActive
		enrollment.Record(step.ID, models.OutcomeResumed, "")

		nextStepID := e.advance(enrollment, step.NextSteps)

		committed, err := e.commit(ctx, enrollment)
		if err != nil || !committed {
			return err
		}

		e.afterStep(ctx, enrollment, step, models.OutcomeResumed, nextStepID)

		return nil
	}

	config, err := step.WaitConfig()
	if err != nil {
		return e.fail(ctx, enrollment, step.ID, err.Error())
	}

	resumeAt := e.now().UTC().Add(config.Duration())

	enrollment.Status = models.EnrollmentStatusWaiting
	enrollment.NextRunAt = &resumeAt
	enrollment.Record(step.ID, models.OutcomeWaiting, config.Duration().String())

	committed, err := e.commit(ctx, enrollment)
	if err != nil || !committed {
		return err
	}

	e.publish(ctx, enrollment.JourneyID, events.EnrollmentWaiting{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentWaitingType, enrollment.JourneyID),
		EnrollmentID: enrollment.ID,
		StepID:       step.ID,
		ResumeAt:     resumeAt,
	})

	return nil
}

// runConditionStep routes on a predicate over the enrollment context. A false
// result with no false branch completes the enrollment: a soft exit, never a
// failure. A filter that cannot be evaluated is logged and treated as false.
func (e *Executor) runConditionStep(ctx context.Context, journey *models.Journey, enrollment *models.Enrollment, step *models.StepDefinition) error {
	config, err := step.ConditionConfig()
	if err != nil {
		return e.fail(ctx, enrollment, step.ID, err.Error())
	}

	matched, err := models.EvaluateFilter(config.Filter, enrollment.Context)
	if err != nil {
		e.logger.ErrorContext(ctx, "condition filter evaluation failed, taking false branch",
			"enrollment_id", enrollment.ID, "step_id", step.ID, "error", err)

		matched = false
	}

	var branch string

	switch {
	case matched && len(step.NextSteps) > 0:
		branch = step.NextSteps[0]
		enrollment.Record(step.ID, models.OutcomeBranched, "true")
	case !matched && len(step.NextSteps) > 1:
		branch = step.NextSteps[1]
		enrollment.Record(step.ID, models.OutcomeBranched, "false")
	default:
		enrollment.Record(step.ID, models.OutcomeBranched, fmt.Sprintf("%t", matched))
	}

	nextStepID := e.advance(enrollment, branchList(branch))

	committed, err := e.commit(ctx, enrollment)
	if err != nil || !committed {
		return err
	}

	e.afterStep(ctx, enrollment, step, models.OutcomeBranched, nextStepID)

	return nil
}

// runSplitStep assigns the enrollment to one weighted branch. The assignment
// is deterministic in (enrollment, step) and recorded in history on first
// visit, so a retried split always resolves to the same branch.
func (e *Executor) runSplitStep(ctx context.Context, journey *models.Journey, enrollment *models.Enrollment, step *models.StepDefinition) error {
	var branch string

	if previous, visited := enrollment.Visited(step.ID, models.OutcomeBranched); visited {
		branch = previous.Detail
	} else {
		config, err := step.SplitConfig()
		if err != nil {
			return e.fail(ctx, enrollment, step.ID, err.Error())
		}

		index := splitBranch(enrollment.ID, step.ID, config.Ratios)
		if index >= len(step.NextSteps) {
			return e.fail(ctx, enrollment, step.ID, "split ratios do not match branches")
		}

		branch = step.NextSteps[index]
		enrollment.Record(step.ID, models.OutcomeBranched, branch)
	}

	nextStepID := e.advance(enrollment, branchList(branch))

	committed, err := e.commit(ctx, enrollment)
	if err != nil || !committed {
		return err
	}

	e.afterStep(ctx, enrollment, step, models.OutcomeBranched, nextStepID)

	return nil
}

// splitBranch buckets the enrollment into [0, 100) by hashing its identity
// and walks the cumulative ratios. The hash never changes across retries.
func splitBranch(enrollmentID, stepID string, ratios []int) int {
	h := fnv.New32a()
	h.Write([]byte(enrollmentID))
	h.Write([]byte{'/'})
	h.Write([]byte(stepID))

	bucket := int(h.Sum32() % 100)

	cumulative := 0

	for i, ratio := range ratios {
		cumulative += ratio
		if bucket < cumulative {
			return i
		}
	}

	return len(ratios) - 1
}

func branchList(branch string) []string {
	if branch == "" {
		return nil
	}

	return []string{branch}
}

// advance positions the enrollment on the next step, immediately due, or
// completes it when the graph has no successor. Returns the next step id.
func (e *Executor) advance(enrollment *models.Enrollment, nextSteps []string) string {
	if len(nextSteps) == 0 {
		now := e.now().UTC()
		enrollment.Status = models.EnrollmentStatusCompleted
		enrollment.NextRunAt = nil
		enrollment.FinishedAt = &now

		return ""
	}

	now := e.now().UTC()
	enrollment.Status = models.EnrollmentStatusActive
	enrollment.CurrentStepID = nextSteps[0]
	enrollment.NextRunAt = &now

	return nextSteps[0]
}

// retry reschedules a failed dispatch with exponential backoff, failing the
// enrollment once the journey's retry budget is exhausted.
func (e *Executor) retry(ctx context.Context, journey *models.Journey, enrollment *models.Enrollment, step *models.StepDefinition, cause error) error {
	enrollment.Attempts++

	e.logger.WarnContext(ctx, "step dispatch failed",
		"enrollment_id", enrollment.ID,
		"step_id", step.ID,
		"attempt", enrollment.Attempts,
		"max_attempts", journey.RetryBudget(),
		"error", cause,
	)

	if enrollment.Attempts >= journey.RetryBudget() {
		return e.fail(ctx, enrollment, step.ID, fmt.Sprintf("dispatch failed after %d attempts: %v", enrollment.Attempts, cause))
	}

	nextRun := e.now().UTC().Add(retryDelay(enrollment.Attempts))
	enrollment.NextRunAt = &nextRun

	_, err := e.commit(ctx, enrollment)

	return err
}

// retryDelay derives the wait before the given retry attempt from an
// exponential backoff schedule with jitter disabled, so retry timing is
// predictable in tests and operations.
func retryDelay(attempt int) time.Duration {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval
	policy.MaxInterval = retryMaxInterval
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	delay := policy.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = policy.NextBackOff()
	}

	return delay
}

// fail transitions the enrollment to failed with the reason attached to its
// history. Failed enrollments never count as completed.
func (e *Executor) fail(ctx context.Context, enrollment *models.Enrollment, stepID, reason string) error {
	enrollment.Record(stepID, models.OutcomeFailed, reason)
	enrollment.Finish(models.EnrollmentStatusFailed)

	committed, err := e.commit(ctx, enrollment)
	if err != nil || !committed {
		return err
	}

	e.aggregator.OnTransition(ctx, enrollment.JourneyID, analytics.TransitionFailed)

	e.publish(ctx, enrollment.JourneyID, events.EnrollmentFailed{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentFailedType, enrollment.JourneyID),
		EnrollmentID: enrollment.ID,
		StepID:       stepID,
		Error:        reason,
	})

	return nil
}

func (e *Executor) exit(ctx context.Context, enrollment *models.Enrollment, reason string) error {
	enrollment.Record(enrollment.CurrentStepID, models.OutcomeExited, reason)
	enrollment.Finish(models.EnrollmentStatusExited)

	committed, err := e.commit(ctx, enrollment)
	if err != nil || !committed {
		return err
	}

	e.aggregator.OnTransition(ctx, enrollment.JourneyID, analytics.TransitionExited)

	e.publish(ctx, enrollment.JourneyID, events.EnrollmentExited{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentExitedType, enrollment.JourneyID),
		EnrollmentID: enrollment.ID,
		Reason:       reason,
	})

	return nil
}

// commit persists the mutated enrollment and reports whether the write
// landed. Immediately before writing it re-checks the stored record: a
// terminate that landed during execution wins and this run's work is
// discarded. The version check catches the rest of the race window.
func (e *Executor) commit(ctx context.Context, enrollment *models.Enrollment) (bool, error) {
	current, err := e.enrollments.GetByID(ctx, enrollment.ID)
	if err != nil {
		return false, fmt.Errorf("failed to re-check enrollment %s: %w", enrollment.ID, err)
	}

	if current.Terminal() {
		e.logger.InfoContext(ctx, "discarding step result, enrollment terminated concurrently",
			"enrollment_id", enrollment.ID)

		*enrollment = *current

		return false, nil
	}

	err = e.enrollments.Update(ctx, enrollment)
	if err != nil {
		if persistence.IsVersionConflict(err) {
			e.logger.InfoContext(ctx, "discarding step result, enrollment changed concurrently",
				"enrollment_id", enrollment.ID)

			return false, nil
		}

		return false, fmt.Errorf("failed to commit enrollment %s: %w", enrollment.ID, err)
	}

	return true, nil
}

// afterStep publishes the step transition and, when the step completed the
// enrollment, moves the aggregate counters.
func (e *Executor) afterStep(ctx context.Context, enrollment *models.Enrollment, step *models.StepDefinition, outcome models.StepOutcome, nextStepID string) {
	e.publish(ctx, enrollment.JourneyID, events.StepCompleted{
		BaseEvent:    events.NewBaseEvent(events.StepCompletedType, enrollment.JourneyID),
		EnrollmentID: enrollment.ID,
		SubjectID:    enrollment.SubjectID,
		StepID:       step.ID,
		StepType:     string(step.Type),
		Outcome:      string(outcome),
		NextStepID:   nextStepID,
	})

	if enrollment.Status == models.EnrollmentStatusCompleted {
		e.aggregator.OnTransition(ctx, enrollment.JourneyID, analytics.TransitionCompleted)

		e.publish(ctx, enrollment.JourneyID, events.EnrollmentCompleted{
			BaseEvent:    events.NewBaseEvent(events.EnrollmentCompletedType, enrollment.JourneyID),
			EnrollmentID: enrollment.ID,
			SubjectID:    enrollment.SubjectID,
			Duration:     e.now().UTC().Sub(enrollment.EnteredAt),
		})
	}
}

func (e *Executor) publish(ctx context.Context, journeyID string, event eventbus.Event) {
	err := e.publisher.Publish(ctx, events.EngineTopic, journeyID, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to publish engine event",
			"journey_id", journeyID, "error", err)
	}
}
