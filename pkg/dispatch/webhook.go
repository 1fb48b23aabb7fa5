package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultWebhookTimeout = 30 * time.Second

// WebhookDispatcher performs outbound webhook calls over HTTP. The other
// channels are delegated to an inner dispatcher, so it composes with whatever
// gateway integration the deployment uses.
type WebhookDispatcher struct {
	Dispatcher

	client *http.Client
	logger *slog.Logger
}

func NewWebhookDispatcher(logger *slog.Logger, inner Dispatcher) *WebhookDispatcher {
	return &WebhookDispatcher{
		Dispatcher: inner,
		client:     &http.Client{Timeout: defaultWebhookTimeout},
		logger:     logger.With("module", "webhook_dispatcher"),
	}
}

func (d *WebhookDispatcher) CallWebhook(ctx context.Context, call WebhookCall) (Result, error) {
	method := strings.ToUpper(call.Method)
	if method == "" {
		method = http.MethodPost
	}

	body, err := json.Marshal(map[string]any{
		"subject_id":    call.SubjectID,
		"journey_id":    call.JourneyID,
		"enrollment_id": call.EnrollmentID,
		"step_id":       call.StepID,
		"payload":       call.Payload,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, call.URL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("webhook request failed: %w", err)
	}

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			d.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode >= 400 {
		return Result{}, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	d.logger.InfoContext(ctx, "webhook dispatched",
		"url", call.URL,
		"status", resp.StatusCode,
		"enrollment_id", call.EnrollmentID,
	)

	return Result{Delivered: true, Detail: resp.Status}, nil
}
