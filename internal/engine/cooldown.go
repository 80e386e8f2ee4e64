package engine

import (
	"time"

	"sitealert/internal/domain"
)

// InCooldown reports whether rule must be skipped because it fired recently.
// Params: rule, last-trigger map of the site, and evaluation time.
// Returns: true while now-last < cooldown.
func InCooldown(rule domain.AlertRule, lastTriggered map[string]time.Time, now time.Time) bool {
	if rule.Cooldown <= 0 {
		return false
	}
	last, ok := lastTriggered[rule.RuleID]
	if !ok {
		return false
	}
	return now.Sub(last) < rule.Cooldown
}
