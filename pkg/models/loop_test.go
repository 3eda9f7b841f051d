package models_test

import (
	"testing"
	"time"

	"github.com/flowork/flowcore/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func seconds(value float64) *float64 {
	return &value
}

func TestLoopConfig_ActiveAndMaxIterations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		config        *models.LoopConfig
		active        bool
		maxIterations int
	}{
		{name: "nil", config: nil, active: false, maxIterations: 1},
		{name: "disabled single", config: &models.LoopConfig{Iterations: 1}, active: false, maxIterations: 1},
		{name: "enabled", config: &models.LoopConfig{Enabled: true, Iterations: 3}, active: true, maxIterations: 3},
		{name: "iterations without flag", config: &models.LoopConfig{Iterations: 4}, active: true, maxIterations: 4},
		{name: "enabled without iterations", config: &models.LoopConfig{Enabled: true}, active: true, maxIterations: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.active, tt.config.Active())
			assert.Equal(t, tt.maxIterations, tt.config.MaxIterations())
		})
	}
}

func TestLoopConfig_Delay(t *testing.T) {
	t.Parallel()

	half := func() float64 { return 0.5 }

	tests := []struct {
		name     string
		config   *models.LoopConfig
		expected time.Duration
	}{
		{name: "nil", config: nil, expected: 0},
		{name: "delay disabled", config: &models.LoopConfig{DelayStatic: seconds(3)}, expected: 0},
		{name: "static default", config: &models.LoopConfig{DelayEnabled: true}, expected: time.Second},
		{
			name:     "static",
			config:   &models.LoopConfig{DelayEnabled: true, DelayType: models.DelayTypeStatic, DelayStatic: seconds(2.5)},
			expected: 2500 * time.Millisecond,
		},
		{
			name:     "negative static",
			config:   &models.LoopConfig{DelayEnabled: true, DelayStatic: seconds(-1)},
			expected: 0,
		},
		{
			name:     "random range defaults",
			config:   &models.LoopConfig{DelayEnabled: true, DelayType: models.DelayTypeRandomRange},
			expected: 3 * time.Second,
		},
		{
			name: "random range swapped bounds",
			config: &models.LoopConfig{
				DelayEnabled: true, DelayType: models.DelayTypeRandomRange,
				DelayRandomMin: seconds(6), DelayRandomMax: seconds(2),
			},
			expected: 4 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, tt.config.Delay(half))
		})
	}
}

func TestLoopConfig_RandomDelayStaysInRange(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		low := rapid.Float64Range(0, 60).Draw(t, "low")
		high := rapid.Float64Range(0, 60).Draw(t, "high")
		u := rapid.Float64Range(0, 0.999).Draw(t, "u")

		config := &models.LoopConfig{
			DelayEnabled:   true,
			DelayType:      models.DelayTypeRandomRange,
			DelayRandomMin: &low,
			DelayRandomMax: &high,
		}

		delay := config.Delay(func() float64 { return u })

		lower := time.Duration(min(low, high) * float64(time.Second))
		upper := time.Duration(max(low, high) * float64(time.Second))

		if delay < lower-time.Nanosecond || delay > upper+time.Nanosecond {
			t.Fatalf("delay %v outside [%v, %v]", delay, lower, upper)
		}
	})
}

func TestLoopConfigFromPayload(t *testing.T) {
	t.Parallel()

	config, ok := models.LoopConfigFromPayload(models.Payload{
		models.RuntimeLoopConfigKey: map[string]any{
			"isEnabled":      true,
			"iterations":     3,
			"isDelayEnabled": true,
			"delayType":      "static",
			"delayStatic":    0.25,
		},
	})
	require.True(t, ok)
	assert.True(t, config.Active())
	assert.Equal(t, 3, config.MaxIterations())
	assert.Equal(t, 250*time.Millisecond, config.Delay(nil))

	_, ok = models.LoopConfigFromPayload(models.Payload{"data": 1})
	assert.False(t, ok)

	_, ok = models.LoopConfigFromPayload(models.Payload{models.RuntimeLoopConfigKey: "three times"})
	assert.False(t, ok)
}
