package models

import (
	"encoding/json"
	"time"
)

// DelayType selects how the pause between loop iterations is computed.
type DelayType string

const (
	DelayTypeStatic      DelayType = "static"
	DelayTypeRandomRange DelayType = "random_range"
)

const (
	defaultDelayStatic    = 1.0
	defaultDelayRandomMin = 1.0
	defaultDelayRandomMax = 5.0
)

// LoopConfig requests that a whole execution be re-run a number of times.
// Delay values are in seconds.
type LoopConfig struct {
	Enabled        bool      `json:"isEnabled"`
	Iterations     int       `json:"iterations"`
	DelayEnabled   bool      `json:"isDelayEnabled"`
	DelayType      DelayType `json:"delayType,omitempty"`
	DelayStatic    *float64  `json:"delayStatic,omitempty"`
	DelayRandomMin *float64  `json:"delayRandomMin,omitempty"`
	DelayRandomMax *float64  `json:"delayRandomMax,omitempty"`
}

// Active reports whether the configuration asks for loop tracking at all.
func (c *LoopConfig) Active() bool {
	return c != nil && (c.Enabled || c.Iterations > 1)
}

// MaxIterations returns the number of full cycles to run, at least one.
func (c *LoopConfig) MaxIterations() int {
	if c == nil || c.Iterations < 1 {
		return 1
	}

	return c.Iterations
}

// Delay returns the pause before the next iteration. uniform must return a value in [0, 1).
func (c *LoopConfig) Delay(uniform func() float64) time.Duration {
	if c == nil || !c.DelayEnabled {
		return 0
	}

	var seconds float64

	switch c.DelayType {
	case DelayTypeRandomRange:
		low := valueOr(c.DelayRandomMin, defaultDelayRandomMin)
		high := valueOr(c.DelayRandomMax, defaultDelayRandomMax)

		if low > high {
			low, high = high, low
		}

		seconds = low + (high-low)*uniform()
	case DelayTypeStatic, "":
		seconds = valueOr(c.DelayStatic, defaultDelayStatic)
	}

	if seconds <= 0 {
		return 0
	}

	return time.Duration(seconds * float64(time.Second))
}

// LoopConfigFromPayload extracts a loop configuration embedded in an initial payload.
func LoopConfigFromPayload(payload Payload) (*LoopConfig, bool) {
	raw, ok := payload[RuntimeLoopConfigKey]
	if !ok || raw == nil {
		return nil, false
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}

	var config LoopConfig

	err = json.Unmarshal(encoded, &config)
	if err != nil {
		return nil, false
	}

	return &config, true
}

func valueOr(value *float64, fallback float64) float64 {
	if value == nil {
		return fallback
	}

	return *value
}
