package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitStepConfigDuration(t *testing.T) {
	tests := []struct {
		name   string
		config WaitStepConfig
		want   time.Duration
	}{
		{"minutes", WaitStepConfig{Amount: 30, Unit: WaitUnitMinutes}, 30 * time.Minute},
		{"hours", WaitStepConfig{Amount: 2, Unit: WaitUnitHours}, 2 * time.Hour},
		{"days", WaitStepConfig{Amount: 1, Unit: WaitUnitDays}, 24 * time.Hour},
		{"unknown unit", WaitStepConfig{Amount: 5, Unit: "weeks"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.Duration())
		})
	}
}

func TestStepChannel(t *testing.T) {
	channel, ok := (&StepDefinition{Type: StepTypeEmail}).Channel()
	require.True(t, ok)
	assert.Equal(t, ChannelEmail, channel)

	_, ok = (&StepDefinition{Type: StepTypeWait}).Channel()
	assert.False(t, ok)

	_, ok = (&StepDefinition{Type: StepTypeSplit}).Channel()
	assert.False(t, ok)
}

func TestStepConfigDecode(t *testing.T) {
	step := &StepDefinition{
		ID:     "s1",
		Type:   StepTypeEmail,
		Config: map[string]any{"template_id": "welcome_1", "subject": "Hi"},
	}

	cfg, err := step.EmailConfig()
	require.NoError(t, err)
	assert.Equal(t, "welcome_1", cfg.TemplateID)
	assert.Equal(t, "Hi", cfg.Subject)

	split := &StepDefinition{
		ID:     "s2",
		Type:   StepTypeSplit,
		Config: map[string]any{"ratios": []any{30, 70}},
	}

	splitCfg, err := split.SplitConfig()
	require.NoError(t, err)
	assert.Equal(t, []int{30, 70}, splitCfg.Ratios)
}

func TestNewEnrollment(t *testing.T) {
	journey := validJourney()
	journey.ID = "j-9"

	enrollment := NewEnrollment("subject-1", journey, map[string]any{"plan": "premium"})

	assert.NotEmpty(t, enrollment.ID)
	assert.Equal(t, "j-9", enrollment.JourneyID)
	assert.Equal(t, "subject-1", enrollment.SubjectID)
	assert.Equal(t, EnrollmentStatusActive, enrollment.Status)
	assert.Equal(t, "welcome-email", enrollment.CurrentStepID)
	require.NotNil(t, enrollment.NextRunAt)
	assert.False(t, enrollment.Terminal())
	assert.EqualValues(t, 1, enrollment.Version)
}

func TestEnrollmentFinish(t *testing.T) {
	journey := validJourney()
	enrollment := NewEnrollment("subject-1", journey, nil)

	enrollment.Finish(EnrollmentStatusCompleted)

	assert.True(t, enrollment.Terminal())
	assert.Nil(t, enrollment.NextRunAt)
	require.NotNil(t, enrollment.FinishedAt)
}

func TestEnrollmentVisited(t *testing.T) {
	journey := validJourney()
	enrollment := NewEnrollment("subject-1", journey, nil)

	enrollment.Record("ab-test", OutcomeBranched, "variant-a")

	entry, ok := enrollment.Visited("ab-test", OutcomeBranched)
	require.True(t, ok)
	assert.Equal(t, "variant-a", entry.Detail)

	_, ok = enrollment.Visited("ab-test", OutcomeSent)
	assert.False(t, ok)
}
