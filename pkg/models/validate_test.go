package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validJourney() *Journey {
	return &Journey{
		ID:     "j-1",
		Name:   "Welcome Series",
		Status: JourneyStatusDraft,
		Trigger: &Trigger{
			Type:   TriggerTypeEvent,
			Config: map[string]any{"event_name": "user.signup"},
		},
		Steps: []*StepDefinition{
			{
				ID:        "welcome-email",
				Type:      StepTypeEmail,
				Config:    map[string]any{"template_id": "welcome_1"},
				NextSteps: []string{"pause"},
			},
			{
				ID:        "pause",
				Type:      StepTypeWait,
				Config:    map[string]any{"amount": 2, "unit": "days"},
				NextSteps: []string{"followup-email"},
			},
			{
				ID:     "followup-email",
				Type:   StepTypeEmail,
				Config: map[string]any{"template_id": "welcome_2"},
			},
		},
	}
}

func TestValidateForActivation(t *testing.T) {
	t.Run("valid linear journey", func(t *testing.T) {
		require.NoError(t, validJourney().ValidateForActivation())
	})

	t.Run("empty step sequence rejected", func(t *testing.T) {
		journey := validJourney()
		journey.Steps = nil

		err := journey.ValidateForActivation()
		require.ErrorIs(t, err, ErrDefinitionInvalid)
	})

	t.Run("missing trigger rejected", func(t *testing.T) {
		journey := validJourney()
		journey.Trigger = nil

		require.ErrorIs(t, journey.ValidateForActivation(), ErrDefinitionInvalid)
	})

	t.Run("unknown successor rejected", func(t *testing.T) {
		journey := validJourney()
		journey.Steps[2].NextSteps = []string{"no-such-step"}

		err := journey.ValidateForActivation()
		require.ErrorIs(t, err, ErrDefinitionInvalid)
		assert.Contains(t, err.Error(), "unknown successor")
	})

	t.Run("cycle rejected", func(t *testing.T) {
		journey := validJourney()
		journey.Steps[2].NextSteps = []string{"welcome-email"}

		err := journey.ValidateForActivation()
		require.ErrorIs(t, err, ErrDefinitionInvalid)
		assert.Contains(t, err.Error(), "cycle")
	})

	t.Run("unreachable step rejected", func(t *testing.T) {
		journey := validJourney()
		journey.Steps = append(journey.Steps, &StepDefinition{
			ID:     "orphan",
			Type:   StepTypeEmail,
			Config: map[string]any{"template_id": "orphan"},
		})

		err := journey.ValidateForActivation()
		require.ErrorIs(t, err, ErrDefinitionInvalid)
		assert.Contains(t, err.Error(), "unreachable")
	})

	t.Run("duplicate step id rejected", func(t *testing.T) {
		journey := validJourney()
		journey.Steps[2].ID = "welcome-email"
		journey.Steps[1].NextSteps = []string{"welcome-email"}

		require.ErrorIs(t, journey.ValidateForActivation(), ErrDefinitionInvalid)
	})

	t.Run("wait step without unit rejected", func(t *testing.T) {
		journey := validJourney()
		journey.Steps[1].Config = map[string]any{"amount": 2}

		require.ErrorIs(t, journey.ValidateForActivation(), ErrDefinitionInvalid)
	})

	t.Run("linear step with two successors rejected", func(t *testing.T) {
		journey := validJourney()
		journey.Steps[0].NextSteps = []string{"pause", "followup-email"}

		require.ErrorIs(t, journey.ValidateForActivation(), ErrDefinitionInvalid)
	})

	t.Run("invalid cron expression rejected", func(t *testing.T) {
		journey := validJourney()
		journey.Trigger = &Trigger{
			Type:   TriggerTypeSchedule,
			Config: map[string]any{"cron_expression": "not a cron", "segment_id": "seg-1"},
		}

		require.ErrorIs(t, journey.ValidateForActivation(), ErrDefinitionInvalid)
	})

	t.Run("valid schedule trigger", func(t *testing.T) {
		journey := validJourney()
		journey.Trigger = &Trigger{
			Type:   TriggerTypeSchedule,
			Config: map[string]any{"cron_expression": "0 9 * * 1", "segment_id": "seg-1"},
		}

		require.NoError(t, journey.ValidateForActivation())
	})
}

func TestValidateSplit(t *testing.T) {
	journey := validJourney()
	journey.Steps = []*StepDefinition{
		{
			ID:        "ab-test",
			Type:      StepTypeSplit,
			Config:    map[string]any{"ratios": []any{50, 50}},
			NextSteps: []string{"variant-a", "variant-b"},
		},
		{ID: "variant-a", Type: StepTypeEmail, Config: map[string]any{"template_id": "a"}},
		{ID: "variant-b", Type: StepTypeEmail, Config: map[string]any{"template_id": "b"}},
	}

	require.NoError(t, journey.ValidateForActivation())

	t.Run("ratio count must match branches", func(t *testing.T) {
		journey.Steps[0].Config = map[string]any{"ratios": []any{100}}
		require.ErrorIs(t, journey.ValidateForActivation(), ErrDefinitionInvalid)
	})

	t.Run("ratios must sum to 100", func(t *testing.T) {
		journey.Steps[0].Config = map[string]any{"ratios": []any{60, 60}}
		require.ErrorIs(t, journey.ValidateForActivation(), ErrDefinitionInvalid)
	})
}

func TestConditionSuccessorArity(t *testing.T) {
	journey := validJourney()
	journey.Steps = []*StepDefinition{
		{
			ID:        "check-plan",
			Type:      StepTypeCondition,
			Config:    map[string]any{"filter": map[string]any{"plan": "premium"}},
			NextSteps: []string{"thanks", "upsell", "thanks"},
		},
		{ID: "thanks", Type: StepTypeEmail, Config: map[string]any{"template_id": "thanks"}},
		{ID: "upsell", Type: StepTypeEmail, Config: map[string]any{"template_id": "upsell"}},
	}

	require.ErrorIs(t, journey.ValidateForActivation(), ErrDefinitionInvalid)
}

func TestJourneyRoundTrip(t *testing.T) {
	journey := validJourney()
	journey.Steps = append(journey.Steps[:2:2], &StepDefinition{
		ID:        "followup-email",
		Type:      StepTypeCondition,
		Config:    map[string]any{"filter": map[string]any{"opened": true}},
		NextSteps: []string{"welcome-email2", "pause2"},
	})
	journey.Steps = append(journey.Steps,
		&StepDefinition{ID: "welcome-email2", Type: StepTypeEmail, Config: map[string]any{"template_id": "x"}},
		&StepDefinition{ID: "pause2", Type: StepTypeWait, Config: map[string]any{"amount": 1, "unit": "hours"}},
	)

	raw, err := json.Marshal(journey)
	require.NoError(t, err)

	var reloaded Journey

	require.NoError(t, json.Unmarshal(raw, &reloaded))

	require.Len(t, reloaded.Steps, len(journey.Steps))

	for i, step := range journey.Steps {
		assert.Equal(t, step.ID, reloaded.Steps[i].ID)
		assert.Equal(t, step.Type, reloaded.Steps[i].Type)
		assert.Equal(t, step.NextSteps, reloaded.Steps[i].NextSteps)
	}

	assert.Equal(t, journey.Trigger.Type, reloaded.Trigger.Type)
}
