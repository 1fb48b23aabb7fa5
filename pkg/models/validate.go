package models

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

// ErrDefinitionInvalid marks a journey definition rejected at activation time.
// Runtime components never see invalid definitions; all graph and config
// problems surface here.
var ErrDefinitionInvalid = errors.New("journey definition invalid")

var validate = validator.New()

// Per-type JSON schemas applied to the raw config maps before the typed
// decode. Schema validation catches wrong shapes early with readable errors;
// the struct decode plus validator tags then enforce required fields.
var stepConfigSchemas = map[StepType]map[string]any{
	StepTypeEmail: {
		"type":       "object",
		"required":   []string{"template_id"},
		"properties": map[string]any{"template_id": map[string]any{"type": "string"}, "subject": map[string]any{"type": "string"}},
	},
	StepTypeSMS: {
		"type":       "object",
		"required":   []string{"template_id"},
		"properties": map[string]any{"template_id": map[string]any{"type": "string"}},
	},
	StepTypeWait: {
		"type":     "object",
		"required": []string{"amount", "unit"},
		"properties": map[string]any{
			"amount": map[string]any{"type": "integer", "minimum": 1},
			"unit":   map[string]any{"type": "string", "enum": []string{"minutes", "hours", "days"}},
		},
	},
	StepTypeCondition: {
		"type":       "object",
		"required":   []string{"filter"},
		"properties": map[string]any{"filter": map[string]any{"type": "object"}},
	},
	StepTypeSplit: {
		"type":     "object",
		"required": []string{"ratios"},
		"properties": map[string]any{
			"ratios": map[string]any{"type": "array", "items": map[string]any{"type": "integer", "minimum": 1}},
		},
	},
	StepTypeTag: {
		"type":     "object",
		"required": []string{"tag", "op"},
		"properties": map[string]any{
			"tag": map[string]any{"type": "string"},
			"op":  map[string]any{"type": "string", "enum": []string{"add", "remove"}},
		},
	},
	StepTypeWebhook: {
		"type":       "object",
		"required":   []string{"url"},
		"properties": map[string]any{"url": map[string]any{"type": "string"}, "method": map[string]any{"type": "string"}},
	},
	StepTypeNotification: {
		"type":       "object",
		"required":   []string{"template_id"},
		"properties": map[string]any{"template_id": map[string]any{"type": "string"}, "title": map[string]any{"type": "string"}},
	},
}

var triggerConfigSchemas = map[TriggerType]map[string]any{
	TriggerTypeEvent: {
		"type":       "object",
		"required":   []string{"event_name"},
		"properties": map[string]any{"event_name": map[string]any{"type": "string"}, "filter": map[string]any{"type": "object"}},
	},
	TriggerTypeSchedule: {
		"type":       "object",
		"required":   []string{"cron_expression", "segment_id"},
		"properties": map[string]any{"cron_expression": map[string]any{"type": "string"}, "segment_id": map[string]any{"type": "string"}},
	},
	TriggerTypeSegment: {
		"type":       "object",
		"required":   []string{"segment_id"},
		"properties": map[string]any{"segment_id": map[string]any{"type": "string"}},
	},
	TriggerTypeWebhook: {
		"type":       "object",
		"required":   []string{"key"},
		"properties": map[string]any{"key": map[string]any{"type": "string"}},
	},
}

// ValidateForActivation checks everything that must hold before a journey may
// become active: struct-level fields, trigger and step configs, and the shape
// of the step graph (resolvable successors, full reachability from the entry
// step, acyclicity). Runtime execution relies on these checks and performs no
// graph validation of its own.
func (j *Journey) ValidateForActivation() error {
	err := validate.Struct(j)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDefinitionInvalid, err)
	}

	if j.Trigger == nil {
		return fmt.Errorf("%w: trigger is required", ErrDefinitionInvalid)
	}

	err = j.validateTrigger()
	if err != nil {
		return err
	}

	if len(j.Steps) == 0 {
		return fmt.Errorf("%w: step sequence must be non-empty", ErrDefinitionInvalid)
	}

	err = j.validateSteps()
	if err != nil {
		return err
	}

	return j.validateGraph()
}

func (j *Journey) validateTrigger() error {
	err := validateConfigSchema(triggerConfigSchemas[j.Trigger.Type], j.Trigger.Config)
	if err != nil {
		return fmt.Errorf("%w: %s trigger: %w", ErrDefinitionInvalid, j.Trigger.Type, err)
	}

	switch j.Trigger.Type {
	case TriggerTypeEvent:
		cfg, err := j.Trigger.EventConfig()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDefinitionInvalid, err)
		}

		return wrapInvalid(validate.Struct(cfg))
	case TriggerTypeSchedule:
		cfg, err := j.Trigger.ScheduleConfig()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDefinitionInvalid, err)
		}

		if err := validate.Struct(cfg); err != nil {
			return wrapInvalid(err)
		}

		return wrapInvalid(cfg.Validate())
	case TriggerTypeSegment:
		cfg, err := j.Trigger.SegmentConfig()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDefinitionInvalid, err)
		}

		return wrapInvalid(validate.Struct(cfg))
	case TriggerTypeWebhook:
		cfg, err := j.Trigger.WebhookTrigger()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDefinitionInvalid, err)
		}

		return wrapInvalid(validate.Struct(cfg))
	default:
		return fmt.Errorf("%w: unknown trigger type %q", ErrDefinitionInvalid, j.Trigger.Type)
	}
}

func (j *Journey) validateSteps() error {
	seen := make(map[string]bool, len(j.Steps))

	for _, step := range j.Steps {
		if err := validate.Struct(step); err != nil {
			return wrapInvalid(err)
		}

		if seen[step.ID] {
			return fmt.Errorf("%w: duplicate step id %q", ErrDefinitionInvalid, step.ID)
		}

		seen[step.ID] = true

		if err := j.validateStepConfig(step); err != nil {
			return err
		}
	}

	return nil
}

func (j *Journey) validateStepConfig(step *StepDefinition) error {
	schema, known := stepConfigSchemas[step.Type]
	if !known {
		return fmt.Errorf("%w: step %s has unknown type %q", ErrDefinitionInvalid, step.ID, step.Type)
	}

	err := validateConfigSchema(schema, step.Config)
	if err != nil {
		return fmt.Errorf("%w: step %s: %w", ErrDefinitionInvalid, step.ID, err)
	}

	switch step.Type {
	case StepTypeEmail:
		_, err = step.EmailConfig()
	case StepTypeSMS:
		_, err = step.SMSConfig()
	case StepTypeWait:
		_, err = step.WaitConfig()
	case StepTypeCondition:
		if len(step.NextSteps) < 1 || len(step.NextSteps) > 2 {
			return fmt.Errorf("%w: condition step %s needs one or two successors, has %d",
				ErrDefinitionInvalid, step.ID, len(step.NextSteps))
		}

		_, err = step.ConditionConfig()
	case StepTypeSplit:
		var cfg *SplitStepConfig

		cfg, err = step.SplitConfig()
		if err == nil {
			err = validateSplit(step, cfg)
		}
	case StepTypeTag:
		_, err = step.TagConfig()
	case StepTypeWebhook:
		_, err = step.WebhookConfig()
	case StepTypeNotification:
		_, err = step.NotificationConfig()
	}

	if err != nil {
		return fmt.Errorf("%w: %w", ErrDefinitionInvalid, err)
	}

	if step.Type != StepTypeCondition && step.Type != StepTypeSplit && len(step.NextSteps) > 1 {
		return fmt.Errorf("%w: linear step %s cannot have %d successors",
			ErrDefinitionInvalid, step.ID, len(step.NextSteps))
	}

	return nil
}

func validateSplit(step *StepDefinition, cfg *SplitStepConfig) error {
	if len(cfg.Ratios) != len(step.NextSteps) {
		return fmt.Errorf("split step %s has %d ratios for %d branches",
			step.ID, len(cfg.Ratios), len(step.NextSteps))
	}

	total := 0
	for _, ratio := range cfg.Ratios {
		total += ratio
	}

	if total != 100 {
		return fmt.Errorf("split step %s ratios sum to %d, want 100", step.ID, total)
	}

	return nil
}

// validateGraph checks successor resolution, reachability from the entry step
// and acyclicity. The graph must be a DAG; acyclicity is enforced only here,
// never re-checked at runtime.
func (j *Journey) validateGraph() error {
	index := make(map[string]*StepDefinition, len(j.Steps))
	for _, step := range j.Steps {
		index[step.ID] = step
	}

	for _, step := range j.Steps {
		for _, next := range step.NextSteps {
			if _, ok := index[next]; !ok {
				return fmt.Errorf("%w: step %s references unknown successor %q",
					ErrDefinitionInvalid, step.ID, next)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)

	state := make(map[string]int, len(j.Steps))

	var visit func(id string) error

	visit = func(id string) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("%w: step graph contains a cycle through %q", ErrDefinitionInvalid, id)
		case done:
			return nil
		}

		state[id] = visiting

		for _, next := range index[id].NextSteps {
			if err := visit(next); err != nil {
				return err
			}
		}

		state[id] = done

		return nil
	}

	err := visit(j.EntryStep().ID)
	if err != nil {
		return err
	}

	for _, step := range j.Steps {
		if state[step.ID] != done {
			return fmt.Errorf("%w: step %q is unreachable from the entry step",
				ErrDefinitionInvalid, step.ID)
		}
	}

	return nil
}

func validateConfigSchema(schema map[string]any, config map[string]any) error {
	if schema == nil {
		return errors.New("no config schema registered")
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		return fmt.Errorf("config does not match schema: %v", result.Errors())
	}

	return nil
}

func wrapInvalid(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrDefinitionInvalid, err)
}
