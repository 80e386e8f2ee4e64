package templatefmt

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestFormatDecimal(t *testing.T) {
	t.Parallel()

	cases := map[string]any{
		"12.35": decimal.RequireFromString("12.345"),
		"5":     decimal.RequireFromString("5.000"),
		"-3.5":  "-3.50",
		"n/a":   "n/a",
		"7":     7,
	}
	for want, input := range cases {
		if got := FormatDecimal(input); got != want {
			t.Fatalf("FormatDecimal(%v) = %q, want %q", input, got, want)
		}
	}
}

func TestParseAndExecute(t *testing.T) {
	t.Parallel()

	tpl, err := Parse("title", `{{ default "item" .Name }} below {{ fmtDecimal .Value }} for {{ fmtDuration .For }}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got, err := Execute(tpl, map[string]any{
		"Name":  "",
		"Value": decimal.RequireFromString("9.999"),
		"For":   90 * time.Second,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got != "item below 10 for 1.5m" {
		t.Fatalf("unexpected render: %q", got)
	}
}

func TestExecuteMissingKeyFails(t *testing.T) {
	t.Parallel()

	tpl, err := Parse("body", `{{ .Missing }}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := Execute(tpl, map[string]any{}); err == nil {
		t.Fatalf("expected missing key error")
	}
}
