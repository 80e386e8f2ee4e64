package engine

import (
	"fmt"

	"sitealert/internal/domain"

	"github.com/shopspring/decimal"
)

// Result is one rule evaluation outcome.
type Result struct {
	Triggered      bool
	ActualValue    decimal.Decimal
	ThresholdValue decimal.Decimal
	Message        string
}

// Evaluate decides whether rule triggers for snapshot.
// A secondary metric present in the snapshot either yields a delta (changed_by)
// or replaces the static threshold for every other operator.
// Params: rule and metrics snapshot.
// Returns: outcome, plus ErrMetricMissing when the primary metric is absent.
func Evaluate(rule domain.AlertRule, snapshot domain.MetricsSnapshot) (Result, error) {
	op, err := domain.ParseOperator(string(rule.Operator))
	if err != nil {
		return Result{Message: err.Error()}, fmt.Errorf("%w: %v", domain.ErrInvalidRule, err)
	}

	primary, ok := snapshot.Metric(rule.Metric)
	if !ok {
		message := fmt.Sprintf("metric %q not present for %s %s", rule.Metric, snapshot.EntityType, snapshot.EntityID)
		return Result{ThresholdValue: rule.Threshold, Message: message}, fmt.Errorf("%w: %s", domain.ErrMetricMissing, rule.Metric)
	}

	if rule.SecondaryMetric != "" {
		if secondary, present := snapshot.Metric(rule.SecondaryMetric); present {
			if op == domain.OperatorChangedBy {
				return changedBy(rule, primary, secondary), nil
			}
			triggered, err := compare(op, primary, secondary)
			if err != nil {
				return Result{}, err
			}
			return Result{
				Triggered:      triggered,
				ActualValue:    primary,
				ThresholdValue: secondary,
				Message:        fmt.Sprintf("%s %s %s %s (%s)", rule.Metric, primary, op.Symbol(), secondary, rule.SecondaryMetric),
			}, nil
		}
	}

	if op == domain.OperatorChangedBy {
		return Result{
			ActualValue:    primary,
			ThresholdValue: rule.Threshold,
			Message:        fmt.Sprintf("secondary metric %q not present, change of %s not computed", rule.SecondaryMetric, rule.Metric),
		}, nil
	}

	triggered, err := compare(op, primary, rule.Threshold)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Triggered:      triggered,
		ActualValue:    primary,
		ThresholdValue: rule.Threshold,
		Message:        fmt.Sprintf("%s %s %s %s", rule.Metric, primary, op.Symbol(), rule.Threshold),
	}, nil
}

// changedBy compares primary-secondary delta against a signed threshold.
// Negative threshold detects decreases (delta <= threshold), otherwise increases (delta >= threshold).
func changedBy(rule domain.AlertRule, primary, secondary decimal.Decimal) Result {
	delta := primary.Sub(secondary)
	var triggered bool
	if rule.Threshold.IsNegative() {
		triggered = delta.LessThanOrEqual(rule.Threshold)
	} else {
		triggered = delta.GreaterThanOrEqual(rule.Threshold)
	}
	return Result{
		Triggered:      triggered,
		ActualValue:    delta,
		ThresholdValue: rule.Threshold,
		Message:        fmt.Sprintf("%s changed by %s against %s (threshold %s)", rule.Metric, delta, rule.SecondaryMetric, rule.Threshold),
	}
}

// compare applies a static operator with exact decimal semantics.
func compare(op domain.Operator, value, threshold decimal.Decimal) (bool, error) {
	switch op {
	case domain.OperatorGT:
		return value.GreaterThan(threshold), nil
	case domain.OperatorGTE:
		return value.GreaterThanOrEqual(threshold), nil
	case domain.OperatorLT:
		return value.LessThan(threshold), nil
	case domain.OperatorLTE:
		return value.LessThanOrEqual(threshold), nil
	case domain.OperatorEQ:
		return value.Equal(threshold), nil
	case domain.OperatorNEQ:
		return !value.Equal(threshold), nil
	default:
		return false, fmt.Errorf("%w: operator %q has no static comparison", domain.ErrInvalidRule, op)
	}
}
