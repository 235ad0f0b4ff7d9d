package notify

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// DefaultTemplate is used by targets that do not set their own.
const DefaultTemplate = `{{cycle.status_emoji}} program {{cycle.program}} on {{cycle.host}}: {{cycle.status | upper}}`

// TemplateData holds all data available to notification templates.
type TemplateData struct {
	Result map[string]any
	Cycle  map[string]any
}

// BuildTemplateData constructs template data from a result document and the
// cycle it came from.
func BuildTemplateData(fields map[string]any, cycleID string, program int, host string, pass bool) TemplateData {
	status := "fail"
	if pass {
		status = "pass"
	}

	result := make(map[string]any, len(fields))
	for k, v := range fields {
		result[k] = v
	}

	return TemplateData{
		Result: result,
		Cycle: map[string]any{
			"id":           cycleID,
			"program":      program,
			"host":         host,
			"status":       status,
			"status_emoji": statusEmoji(status),
		},
	}
}

func statusEmoji(status string) string {
	switch status {
	case "pass":
		return "\U0001f7e2" // 🟢
	case "fail":
		return "\U0001f534" // 🔴
	default:
		return "\u2753" // ❓
	}
}

// Render executes a Go text/template string with Sprig functions and the
// accessor functions result and cycle, so {{result.Area}} reads a field.
func Render(tmplStr string, data TemplateData) (string, error) {
	funcMap := sprig.TxtFuncMap()
	funcMap["result"] = func() map[string]any { return data.Result }
	funcMap["cycle"] = func() map[string]any { return data.Cycle }

	t, err := template.New("notify").Funcs(funcMap).Option("missingkey=zero").Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template: %w", err)
	}

	return buf.String(), nil
}
