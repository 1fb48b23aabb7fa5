package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/eduprism/journey/pkg/analytics"
	"github.com/eduprism/journey/pkg/dispatch"
	"github.com/eduprism/journey/pkg/enrollment"
	"github.com/eduprism/journey/pkg/eventbus"
	"github.com/eduprism/journey/pkg/events"
	"github.com/eduprism/journey/pkg/executor"
	"github.com/eduprism/journey/pkg/lease"
	"github.com/eduprism/journey/pkg/persistence"
	"github.com/eduprism/journey/pkg/scheduler"
	"github.com/eduprism/journey/pkg/trigger"
)

// Engine wires the trigger matcher, enrollment manager, step executor and
// due-work scheduler into one process. Inbound platform events arrive on the
// subject topic; the scheduler drives everything else from the store.
type Engine struct {
	id        string
	logger    *slog.Logger
	eventBus  eventbus.EventBus
	matcher   *trigger.Matcher
	manager   *enrollment.Manager
	scheduler *scheduler.Scheduler
}

func NewEngine(
	id string,
	p persistence.Persistence,
	eventBus eventbus.EventBus,
	leases lease.Store,
	dispatcher dispatch.Dispatcher,
	logger *slog.Logger,
	config scheduler.Config,
) *Engine {
	matcher := trigger.NewMatcher(logger, p.JourneyRepository())
	manager := enrollment.NewManager(logger, p.EnrollmentRepository(), analytics.NewAggregator(logger, p), eventBus)
	runner := executor.NewExecutor(logger, p, dispatcher, eventBus)

	return &Engine{
		id:        id,
		logger:    logger.With("module", "journey-engine"),
		eventBus:  eventBus,
		matcher:   matcher,
		manager:   manager,
		scheduler: scheduler.NewScheduler(logger, p.EnrollmentRepository(), runner, leases, config),
	}
}

// Start subscribes to the subject topic, runs the scheduler loop and blocks
// until SIGINT or SIGTERM.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.InfoContext(ctx, "Starting journey engine", "engine_id", e.id)

	handlers := map[events.EventType]eventbus.EventHandler{
		events.SubjectEventType:   e.handleSubjectEvent,
		events.SegmentChangedType: e.handleSegmentChanged,
		events.WebhookCalledType:  e.handleWebhookCalled,
		events.ScheduleTickType:   e.handleScheduleTick,
	}

	for eventType, handler := range handlers {
		err := e.eventBus.Handle(eventType, handler)
		if err != nil {
			return err
		}
	}

	err := e.eventBus.Subscribe(ctx, events.SubjectTopic)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to subscribe to subject topic", "error", err)

		return err
	}

	err = e.scheduler.Start(ctx)
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Journey engine started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	e.logger.InfoContext(ctx, "Shutting down journey engine...")

	return e.scheduler.Stop(ctx)
}

func (e *Engine) handleSubjectEvent(ctx context.Context, event any) error {
	subjectEvent, ok := event.(*events.SubjectEvent)
	if !ok {
		e.logger.ErrorContext(ctx, "Invalid event type for SubjectEvent")

		return nil
	}

	matches, err := e.matcher.OnEvent(ctx, *subjectEvent)
	if err != nil {
		return err
	}

	e.enrollMatches(ctx, matches)

	return nil
}

func (e *Engine) handleSegmentChanged(ctx context.Context, event any) error {
	change, ok := event.(*events.SegmentChanged)
	if !ok {
		e.logger.ErrorContext(ctx, "Invalid event type for SegmentChanged")

		return nil
	}

	matches, err := e.matcher.OnSegmentChange(ctx, *change)
	if err != nil {
		return err
	}

	e.enrollMatches(ctx, matches)

	return nil
}

func (e *Engine) handleWebhookCalled(ctx context.Context, event any) error {
	call, ok := event.(*events.WebhookCalled)
	if !ok {
		e.logger.ErrorContext(ctx, "Invalid event type for WebhookCalled")

		return nil
	}

	matches, err := e.matcher.OnWebhook(ctx, *call)
	if err != nil {
		return err
	}

	e.enrollMatches(ctx, matches)

	return nil
}

func (e *Engine) handleScheduleTick(ctx context.Context, event any) error {
	tick, ok := event.(*events.ScheduleTick)
	if !ok {
		e.logger.ErrorContext(ctx, "Invalid event type for ScheduleTick")

		return nil
	}

	matches, err := e.matcher.OnScheduleTick(ctx, *tick)
	if err != nil {
		return err
	}

	e.enrollMatches(ctx, matches)

	return nil
}

// enrollMatches hands every trigger match to the enrollment manager.
// Rejections are expected outcomes, not delivery failures, so the inbound
// message is always acked.
func (e *Engine) enrollMatches(ctx context.Context, matches []trigger.Match) {
	for _, match := range matches {
		_, err := e.manager.Enroll(ctx, match.Journey, match.SubjectID, match.Context)
		if err != nil {
			if errors.Is(err, enrollment.ErrEnrollmentRejected) {
				continue
			}

			e.logger.ErrorContext(ctx, "Failed to enroll matched subject",
				"journey_id", match.Journey.ID,
				"subject_id", match.SubjectID,
				"error", err,
			)
		}
	}
}
