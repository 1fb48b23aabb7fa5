package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// EventTriggerConfig configures an event trigger. The optional filter is a
// predicate over the event payload in the grammar of EvaluateFilter.
type EventTriggerConfig struct {
	EventName string         `json:"event_name" validate:"required"`
	Filter    map[string]any `json:"filter,omitempty"`
}

// ScheduleTriggerConfig configures a schedule trigger. The tick source is an
// external scheduler; the cron expression documents cadence and is validated
// at activation so a broken expression never reaches the tick service.
type ScheduleTriggerConfig struct {
	CronExpression string `json:"cron_expression" validate:"required"`
	SegmentID      string `json:"segment_id"      validate:"required"`
}

// Validate parses the cron expression with the standard 5-field parser.
func (c *ScheduleTriggerConfig) Validate() error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	_, err := parser.Parse(c.CronExpression)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", c.CronExpression, err)
	}

	return nil
}

// NextTick returns the first schedule occurrence strictly after the given
// time. Used by operators and the external tick service to preview cadence.
func (c *ScheduleTriggerConfig) NextTick(after time.Time) (time.Time, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	schedule, err := parser.Parse(c.CronExpression)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", c.CronExpression, err)
	}

	return schedule.Next(after), nil
}

// SegmentTriggerConfig configures a segment-entry trigger.
type SegmentTriggerConfig struct {
	SegmentID string `json:"segment_id" validate:"required"`
}

// WebhookTriggerConfig configures a webhook trigger matched on an opaque key.
type WebhookTriggerConfig struct {
	Key string `json:"key" validate:"required"`
}

// EventConfig decodes the trigger config as an event trigger configuration.
func (t *Trigger) EventConfig() (*EventTriggerConfig, error) {
	cfg := &EventTriggerConfig{}

	return cfg, t.decodeConfig(cfg)
}

// ScheduleConfig decodes the trigger config as a schedule trigger configuration.
func (t *Trigger) ScheduleConfig() (*ScheduleTriggerConfig, error) {
	cfg := &ScheduleTriggerConfig{}

	return cfg, t.decodeConfig(cfg)
}

// SegmentConfig decodes the trigger config as a segment trigger configuration.
func (t *Trigger) SegmentConfig() (*SegmentTriggerConfig, error) {
	cfg := &SegmentTriggerConfig{}

	return cfg, t.decodeConfig(cfg)
}

// WebhookTrigger decodes the trigger config as a webhook trigger configuration.
func (t *Trigger) WebhookTrigger() (*WebhookTriggerConfig, error) {
	cfg := &WebhookTriggerConfig{}

	return cfg, t.decodeConfig(cfg)
}

func (t *Trigger) decodeConfig(target any) error {
	raw, err := json.Marshal(t.Config)
	if err != nil {
		return fmt.Errorf("failed to encode %s trigger config: %w", t.Type, err)
	}

	err = json.Unmarshal(raw, target)
	if err != nil {
		return fmt.Errorf("invalid %s trigger config: %w", t.Type, err)
	}

	return nil
}
