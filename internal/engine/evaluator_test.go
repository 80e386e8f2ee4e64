package engine

import (
	"errors"
	"testing"

	"sitealert/internal/domain"

	"github.com/shopspring/decimal"
)

func snapshotOf(metrics map[string]string) domain.MetricsSnapshot {
	values := make(map[string]decimal.Decimal, len(metrics))
	for name, raw := range metrics {
		values[name] = decimal.RequireFromString(raw)
	}
	return domain.MetricsSnapshot{EntityID: "item-1", EntityType: "inventory_item", Metrics: values}
}

func TestEvaluateGTIsStrict(t *testing.T) {
	t.Parallel()

	rule := domain.AlertRule{RuleID: "r", Metric: "void_rate_pct", Operator: domain.OperatorGT, Threshold: decimal.NewFromInt(5)}

	result, err := Evaluate(rule, snapshotOf(map[string]string{"void_rate_pct": "5"}))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Triggered {
		t.Fatalf("equal value must not trigger gt")
	}

	result, err = Evaluate(rule, snapshotOf(map[string]string{"void_rate_pct": "5.01"}))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !result.Triggered || !result.ActualValue.Equal(decimal.RequireFromString("5.01")) {
		t.Fatalf("expected trigger with actual 5.01, got %+v", result)
	}
}

func TestEvaluateStaticOperators(t *testing.T) {
	t.Parallel()

	cases := []struct {
		op    domain.Operator
		value string
		want  bool
	}{
		{domain.OperatorGTE, "10", true},
		{domain.OperatorLT, "10", false},
		{domain.OperatorLT, "9.99", true},
		{domain.OperatorLTE, "10", true},
		{domain.OperatorEQ, "10.000", true},
		{domain.OperatorEQ, "10.0001", false},
		{domain.OperatorNEQ, "10.0001", true},
		{"<", "3", true},
	}
	for _, tc := range cases {
		rule := domain.AlertRule{RuleID: "r", Metric: "m", Operator: tc.op, Threshold: decimal.NewFromInt(10)}
		result, err := Evaluate(rule, snapshotOf(map[string]string{"m": tc.value}))
		if err != nil {
			t.Fatalf("%s %s: %v", tc.op, tc.value, err)
		}
		if result.Triggered != tc.want {
			t.Fatalf("%s %s: triggered=%v, want %v", tc.op, tc.value, result.Triggered, tc.want)
		}
	}
}

func TestEvaluateChangedBySignSelectsDirection(t *testing.T) {
	t.Parallel()

	decrease := domain.AlertRule{
		RuleID:          "drop",
		Metric:          "revenue",
		SecondaryMetric: "revenue_prev",
		Operator:        domain.OperatorChangedBy,
		Threshold:       decimal.NewFromInt(-10),
	}
	result, err := Evaluate(decrease, snapshotOf(map[string]string{"revenue": "85", "revenue_prev": "100"}))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !result.Triggered || !result.ActualValue.Equal(decimal.NewFromInt(-15)) {
		t.Fatalf("delta -15 must trigger threshold -10, got %+v", result)
	}
	result, _ = Evaluate(decrease, snapshotOf(map[string]string{"revenue": "95", "revenue_prev": "100"}))
	if result.Triggered {
		t.Fatalf("delta -5 must not trigger threshold -10")
	}

	increase := decrease
	increase.Threshold = decimal.NewFromInt(10)
	result, _ = Evaluate(increase, snapshotOf(map[string]string{"revenue": "115", "revenue_prev": "100"}))
	if !result.Triggered {
		t.Fatalf("delta +15 must trigger threshold +10")
	}
	result, _ = Evaluate(increase, snapshotOf(map[string]string{"revenue": "85", "revenue_prev": "100"}))
	if result.Triggered {
		t.Fatalf("delta -15 must not trigger positive threshold")
	}
}

func TestEvaluateChangedByWithoutSecondaryDoesNotTrigger(t *testing.T) {
	t.Parallel()

	rule := domain.AlertRule{
		RuleID:          "drop",
		Metric:          "revenue",
		SecondaryMetric: "revenue_prev",
		Operator:        domain.OperatorChangedBy,
		Threshold:       decimal.NewFromInt(-10),
	}
	result, err := Evaluate(rule, snapshotOf(map[string]string{"revenue": "0"}))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Triggered || result.Message == "" {
		t.Fatalf("expected non-triggered result with diagnostic, got %+v", result)
	}
}

func TestEvaluateSecondaryReplacesThreshold(t *testing.T) {
	t.Parallel()

	rule := domain.AlertRule{
		RuleID:          "low",
		Metric:          "stock_level",
		SecondaryMetric: "reorder_point",
		Operator:        domain.OperatorLT,
		Threshold:       decimal.NewFromInt(1000),
	}
	result, err := Evaluate(rule, snapshotOf(map[string]string{"stock_level": "12", "reorder_point": "10"}))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Triggered {
		t.Fatalf("12 < reorder point 10 must not trigger even though static threshold is 1000")
	}
	if !result.ThresholdValue.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("threshold must be the secondary value, got %s", result.ThresholdValue)
	}

	result, _ = Evaluate(rule, snapshotOf(map[string]string{"stock_level": "12"}))
	if !result.Triggered {
		t.Fatalf("absent secondary must fall back to static threshold")
	}
}

func TestEvaluateMissingMetric(t *testing.T) {
	t.Parallel()

	rule := domain.AlertRule{RuleID: "r", Metric: "stock", Operator: domain.OperatorLT, Threshold: decimal.NewFromInt(10)}
	result, err := Evaluate(rule, snapshotOf(map[string]string{"other": "1"}))
	if !errors.Is(err, domain.ErrMetricMissing) {
		t.Fatalf("expected ErrMetricMissing, got %v", err)
	}
	if result.Triggered || result.Message == "" {
		t.Fatalf("expected diagnostic non-triggered result, got %+v", result)
	}
}

func TestEvaluateRejectsUnknownOperator(t *testing.T) {
	t.Parallel()

	rule := domain.AlertRule{RuleID: "r", Metric: "m", Operator: "between"}
	if _, err := Evaluate(rule, snapshotOf(map[string]string{"m": "1"})); !errors.Is(err, domain.ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
}
