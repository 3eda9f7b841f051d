package models

import (
	"encoding/json"
	"fmt"
)

const (
	PayloadDataKey    = "data"
	PayloadHistoryKey = "history"

	// RuntimeLoopConfigKey carries a loop configuration inside an initial payload.
	RuntimeLoopConfigKey = "_runtime_loop_config"
)

// Payload is the JSON object passed between nodes.
type Payload map[string]any

// History returns the history carried by the payload, never nil.
func (p Payload) History() []any {
	history, ok := p[PayloadHistoryKey].([]any)
	if !ok || history == nil {
		return []any{}
	}

	return history
}

// Envelope wraps a node output into the {data, history} shape consumed by downstream nodes.
// An output that already has both keys is taken as is; otherwise the input history is carried forward.
func Envelope(output any, input Payload) Payload {
	var asMap map[string]any

	switch value := output.(type) {
	case Payload:
		asMap = value
	case map[string]any:
		asMap = value
	}

	if asMap != nil {
		data, hasData := asMap[PayloadDataKey]
		history, hasHistory := asMap[PayloadHistoryKey]

		if hasData && hasHistory {
			if history == nil {
				history = []any{}
			}

			return Payload{PayloadDataKey: data, PayloadHistoryKey: history}
		}
	}

	return Payload{PayloadDataKey: output, PayloadHistoryKey: input.History()}
}

// DecodePayload parses serialized job input. Empty or non-object input yields an empty payload.
func DecodePayload(raw []byte) (Payload, error) {
	payload := Payload{}
	if len(raw) == 0 {
		return payload, nil
	}

	var decoded any

	err := json.Unmarshal(raw, &decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	if object, ok := decoded.(map[string]any); ok {
		return object, nil
	}

	if decoded != nil {
		payload[PayloadDataKey] = decoded
	}

	return payload, nil
}

// EncodePayload serializes a payload for storage. Values that cannot be represented
// (channels, functions, cycles) are reported as errors rather than truncated.
func EncodePayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage("{}"), nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize payload: %w", err)
	}

	return raw, nil
}
