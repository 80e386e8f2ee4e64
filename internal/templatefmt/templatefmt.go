package templatefmt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/shopspring/decimal"
)

// FuncMap returns shared alert and notification template helpers.
// Params: none.
// Returns: deterministic helper map.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"fmtDuration": FormatDuration,
		"fmtDecimal":  FormatDecimal,
		"json":        MarshalJSON,
		"default":     Default,
		"upper":       strings.ToUpper,
	}
}

// Parse compiles one template with shared helpers and strict key lookup.
// Params: template name and body.
// Returns: compiled template or parse error.
func Parse(name, body string) (*template.Template, error) {
	return template.New(name).Funcs(FuncMap()).Option("missingkey=error").Parse(body)
}

// Execute renders compiled template into a trimmed string.
// Params: compiled template and data.
// Returns: rendered text or execution error.
func Execute(tpl *template.Template, data any) (string, error) {
	var out bytes.Buffer
	if err := tpl.Execute(&out, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}

// FormatDuration renders duration in compact human form with one decimal precision.
// Params: template value expected as time.Duration or *time.Duration.
// Returns: formatted duration string.
func FormatDuration(value any) string {
	var duration time.Duration
	switch typed := value.(type) {
	case time.Duration:
		duration = typed
	case *time.Duration:
		if typed == nil {
			return "0.0s"
		}
		duration = *typed
	default:
		return "0.0s"
	}

	if duration < 0 {
		duration = -duration
	}
	seconds := duration.Seconds()
	switch {
	case seconds >= 3600:
		return fmt.Sprintf("%.1fh", seconds/3600)
	case seconds >= 60:
		return fmt.Sprintf("%.1fm", seconds/60)
	default:
		return fmt.Sprintf("%.1fs", seconds)
	}
}

// FormatDecimal renders metric values without trailing zeros, rounded to two places.
// Params: decimal, *decimal, string or numeric template value.
// Returns: formatted number, or fmt default for unknown types.
func FormatDecimal(value any) string {
	switch typed := value.(type) {
	case decimal.Decimal:
		return typed.Round(2).String()
	case *decimal.Decimal:
		if typed == nil {
			return "0"
		}
		return typed.Round(2).String()
	case string:
		parsed, err := decimal.NewFromString(typed)
		if err != nil {
			return typed
		}
		return parsed.Round(2).String()
	case float64:
		return decimal.NewFromFloat(typed).Round(2).String()
	case int:
		return decimal.NewFromInt(int64(typed)).String()
	default:
		return fmt.Sprint(value)
	}
}

// Default returns fallback when value is empty.
// Params: fallback and candidate string.
// Returns: candidate or fallback.
func Default(fallback, value string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// MarshalJSON renders value into JSON string for template embedding.
// Params: template value of any type.
// Returns: marshaled JSON string or "null" on marshal failure.
func MarshalJSON(value any) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "null"
	}
	return string(encoded)
}
