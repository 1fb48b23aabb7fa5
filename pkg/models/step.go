package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// StepType identifies the behavior of a step in the journey graph.
type StepType string

const (
	StepTypeEmail        StepType = "email"
	StepTypeSMS          StepType = "sms"
	StepTypeWait         StepType = "wait"
	StepTypeCondition    StepType = "condition"
	StepTypeSplit        StepType = "split"
	StepTypeTag          StepType = "tag"
	StepTypeWebhook      StepType = "webhook"
	StepTypeNotification StepType = "notification"
)

// StepDefinition is one node of a journey's step graph. Steps are stored as an
// arena keyed by id with explicit successor id lists, so the graph carries no
// object cycles regardless of its shape. NextSteps has length 1 for linear
// steps, 2 for condition steps (true branch first) and N for split steps.
type StepDefinition struct {
	ID        string         `json:"id"   validate:"required"`
	Type      StepType       `json:"type" validate:"required"`
	Name      string         `json:"name"`
	Config    map[string]any `json:"config"`
	NextSteps []string       `json:"next_steps"`
}

// Channel maps side-effecting step types onto the delivery channel used for
// per-channel analytics counters. The second return is false for steps that
// produce no outbound delivery (wait, condition, split).
func (s *StepDefinition) Channel() (Channel, bool) {
	switch s.Type {
	case StepTypeEmail:
		return ChannelEmail, true
	case StepTypeSMS:
		return ChannelSMS, true
	case StepTypeWebhook:
		return ChannelWebhook, true
	case StepTypeTag:
		return ChannelTag, true
	case StepTypeNotification:
		return ChannelNotification, true
	case StepTypeWait, StepTypeCondition, StepTypeSplit:
		return "", false
	default:
		return "", false
	}
}

// WaitUnit is the time unit of a wait step duration.
type WaitUnit string

const (
	WaitUnitMinutes WaitUnit = "minutes"
	WaitUnitHours   WaitUnit = "hours"
	WaitUnitDays    WaitUnit = "days"
)

// EmailStepConfig configures an email step.
type EmailStepConfig struct {
	TemplateID string `json:"template_id" validate:"required"`
	Subject    string `json:"subject"`
}

// SMSStepConfig configures an SMS step.
type SMSStepConfig struct {
	TemplateID string `json:"template_id" validate:"required"`
}

// WaitStepConfig configures a wait step.
type WaitStepConfig struct {
	Amount int      `json:"amount" validate:"required,gt=0"`
	Unit   WaitUnit `json:"unit"   validate:"required,oneof=minutes hours days"`
}

// Duration converts the configured amount and unit into a time.Duration.
func (c *WaitStepConfig) Duration() time.Duration {
	switch c.Unit {
	case WaitUnitMinutes:
		return time.Duration(c.Amount) * time.Minute
	case WaitUnitHours:
		return time.Duration(c.Amount) * time.Hour
	case WaitUnitDays:
		return time.Duration(c.Amount) * 24 * time.Hour
	default:
		return 0
	}
}

// ConditionStepConfig configures a condition step. The filter uses the same
// predicate grammar as event triggers and is evaluated against the subject's
// enrollment context.
type ConditionStepConfig struct {
	Filter map[string]any `json:"filter" validate:"required"`
}

// SplitStepConfig configures a split step. Ratios are percentages, one per
// successor branch, summing to 100.
type SplitStepConfig struct {
	Ratios []int `json:"ratios" validate:"required,min=2"`
}

// TagOp is the operation of a tag step.
type TagOp string

const (
	TagOpAdd    TagOp = "add"
	TagOpRemove TagOp = "remove"
)

// TagStepConfig configures a tag step.
type TagStepConfig struct {
	Tag string `json:"tag" validate:"required"`
	Op  TagOp  `json:"op"  validate:"required,oneof=add remove"`
}

// WebhookStepConfig configures an outbound webhook step.
type WebhookStepConfig struct {
	URL    string `json:"url" validate:"required,url"`
	Method string `json:"method"`
}

// NotificationStepConfig configures an in-app notification step.
type NotificationStepConfig struct {
	TemplateID string `json:"template_id" validate:"required"`
	Title      string `json:"title"`
}

// EmailConfig decodes the step config as an email configuration.
func (s *StepDefinition) EmailConfig() (*EmailStepConfig, error) {
	cfg := &EmailStepConfig{}

	return cfg, s.decodeConfig(cfg)
}

// SMSConfig decodes the step config as an SMS configuration.
func (s *StepDefinition) SMSConfig() (*SMSStepConfig, error) {
	cfg := &SMSStepConfig{}

	return cfg, s.decodeConfig(cfg)
}

// WaitConfig decodes the step config as a wait configuration.
func (s *StepDefinition) WaitConfig() (*WaitStepConfig, error) {
	cfg := &WaitStepConfig{}

	return cfg, s.decodeConfig(cfg)
}

// ConditionConfig decodes the step config as a condition configuration.
func (s *StepDefinition) ConditionConfig() (*ConditionStepConfig, error) {
	cfg := &ConditionStepConfig{}

	return cfg, s.decodeConfig(cfg)
}

// SplitConfig decodes the step config as a split configuration.
func (s *StepDefinition) SplitConfig() (*SplitStepConfig, error) {
	cfg := &SplitStepConfig{}

	return cfg, s.decodeConfig(cfg)
}

// TagConfig decodes the step config as a tag configuration.
func (s *StepDefinition) TagConfig() (*TagStepConfig, error) {
	cfg := &TagStepConfig{}

	return cfg, s.decodeConfig(cfg)
}

// WebhookConfig decodes the step config as a webhook configuration.
func (s *StepDefinition) WebhookConfig() (*WebhookStepConfig, error) {
	cfg := &WebhookStepConfig{}

	return cfg, s.decodeConfig(cfg)
}

// NotificationConfig decodes the step config as a notification configuration.
func (s *StepDefinition) NotificationConfig() (*NotificationStepConfig, error) {
	cfg := &NotificationStepConfig{}

	return cfg, s.decodeConfig(cfg)
}

func (s *StepDefinition) decodeConfig(target any) error {
	raw, err := json.Marshal(s.Config)
	if err != nil {
		return fmt.Errorf("failed to encode config for step %s: %w", s.ID, err)
	}

	err = json.Unmarshal(raw, target)
	if err != nil {
		return fmt.Errorf("invalid %s config for step %s: %w", s.Type, s.ID, err)
	}

	return nil
}
