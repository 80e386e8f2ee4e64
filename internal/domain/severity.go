package domain

import (
	"fmt"
	"strings"
)

// Severity classifies alerts and gates channel delivery.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Rank returns position in the severity total order, higher is more severe.
// Params: none.
// Returns: 1..5 for known severities, 0 for unknown.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as minimum or more.
func (s Severity) AtLeast(minimum Severity) bool {
	return s.Rank() >= minimum.Rank()
}

// ParseSeverity normalizes a severity name.
// Params: case-insensitive severity name.
// Returns: severity constant or error.
func ParseSeverity(value string) (Severity, error) {
	severity := Severity(strings.ToLower(strings.TrimSpace(value)))
	if severity.Rank() == 0 {
		return "", fmt.Errorf("unsupported severity %q", value)
	}
	return severity, nil
}
