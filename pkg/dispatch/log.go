package dispatch

import (
	"context"
	"fmt"
	"log/slog"
)

// LogDispatcher writes every delivery to the structured log instead of a real
// gateway. Used in development and as the inner dispatcher in tests.
type LogDispatcher struct {
	logger *slog.Logger
}

func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.With("module", "log_dispatcher")}
}

func (d *LogDispatcher) send(ctx context.Context, channel string, delivery Delivery) (Result, error) {
	d.logger.InfoContext(ctx, "delivery dispatched",
		"channel", channel,
		"subject_id", delivery.SubjectID,
		"journey_id", delivery.JourneyID,
		"step_id", delivery.StepID,
		"template_id", delivery.TemplateID,
	)

	return Result{Delivered: true, Detail: fmt.Sprintf("logged %s %s", channel, delivery.TemplateID)}, nil
}

func (d *LogDispatcher) SendEmail(ctx context.Context, delivery Delivery) (Result, error) {
	return d.send(ctx, "email", delivery)
}

func (d *LogDispatcher) SendSMS(ctx context.Context, delivery Delivery) (Result, error) {
	return d.send(ctx, "sms", delivery)
}

func (d *LogDispatcher) SendNotification(ctx context.Context, delivery Delivery) (Result, error) {
	return d.send(ctx, "notification", delivery)
}

func (d *LogDispatcher) CallWebhook(ctx context.Context, call WebhookCall) (Result, error) {
	d.logger.InfoContext(ctx, "webhook dispatched",
		"url", call.URL,
		"subject_id", call.SubjectID,
		"journey_id", call.JourneyID,
	)

	return Result{Delivered: true, Detail: "logged webhook " + call.URL}, nil
}

func (d *LogDispatcher) SetTag(ctx context.Context, change TagChange) (Result, error) {
	d.logger.InfoContext(ctx, "tag changed",
		"subject_id", change.SubjectID,
		"tag", change.Tag,
		"op", string(change.Op),
	)

	return Result{Delivered: true, Detail: fmt.Sprintf("%s tag %s", change.Op, change.Tag)}, nil
}
