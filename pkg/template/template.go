// Package template renders node configuration strings against the job input.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/flowork/flowcore/pkg/models"
)

// Scope is what a node template can see.
type Scope struct {
	Input       models.Payload
	NodeID      string
	ExecutionID string
	WorkflowID  string
}

// RenderWithScope renders input with .data, .history, .input, .env and .execution available.
func RenderWithScope(input string, scope Scope) (any, error) {
	data := map[string]any{
		"data":    scope.Input[models.PayloadDataKey],
		"history": scope.Input.History(),
		"input":   map[string]any(scope.Input),
		"env":     getEnvVars(),
		"execution": map[string]any{
			"id":          scope.ExecutionID,
			"workflow_id": scope.WorkflowID,
			"node_id":     scope.NodeID,
		},
	}

	return Render(input, data)
}

var funcs = template.FuncMap{
	"now": func() string {
		return time.Now().UTC().Format(time.RFC3339)
	},
	"rand": func(upper int) int {
		if upper <= 0 {
			return 0
		}

		num := make([]byte, 1)

		_, err := rand.Read(num)
		if err != nil {
			return 0
		}

		return int(num[0]) % upper
	},
	"json": func(value any) (string, error) {
		encoded, err := json.Marshal(value)

		return string(encoded), err
	},
	"default": func(fallback, value any) any {
		if value == nil || value == "" {
			return fallback
		}

		return value
	},
}

// Render executes a Go template and coerces the text result into JSON, a number, a bool, or a string.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.New("node").Funcs(funcs).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return coerce(templateStr, strings.TrimSpace(buf.String()))
}

func coerce(templateStr, result string) (any, error) {
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

func getEnvVars() map[string]any {
	envMap := make(map[string]any)

	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if ok {
			envMap[key] = value
		}
	}

	return envMap
}
