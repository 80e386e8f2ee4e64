package engine

import (
	"time"

	"sitealert/internal/domain"

	"github.com/shopspring/decimal"
)

// DefaultRules returns the rule set seeded into a new site catalog.
func DefaultRules() []domain.AlertRule {
	return []domain.AlertRule{
		{
			RuleID:          "low-stock",
			Type:            domain.AlertTypeLowStock,
			Name:            "Low stock",
			Description:     "Stock level fell below the item reorder point.",
			Enabled:         true,
			Severity:        domain.SeverityMedium,
			Metric:          "stock_level",
			Operator:        domain.OperatorLT,
			Threshold:       decimal.Zero,
			SecondaryMetric: "reorder_point",
			Cooldown:        time.Hour,
		},
		{
			RuleID:      "out-of-stock",
			Type:        domain.AlertTypeOutOfStock,
			Name:        "Out of stock",
			Description: "Item has no stock left.",
			Enabled:     true,
			Severity:    domain.SeverityHigh,
			Metric:      "stock_level",
			Operator:    domain.OperatorLTE,
			Threshold:   decimal.Zero,
			Cooldown:    time.Hour,
		},
		{
			RuleID:      "expiring-stock",
			Type:        domain.AlertTypeExpiringStock,
			Name:        "Expiring stock",
			Description: "Stock batch expires within two days.",
			Enabled:     true,
			Severity:    domain.SeverityMedium,
			Metric:      "days_to_expiry",
			Operator:    domain.OperatorLTE,
			Threshold:   decimal.NewFromInt(2),
			Cooldown:    12 * time.Hour,
		},
		{
			RuleID:      "high-void-rate",
			Type:        domain.AlertTypeHighVoidRate,
			Name:        "High void rate",
			Description: "Voided items exceed 5% of sales.",
			Enabled:     true,
			Severity:    domain.SeverityMedium,
			Metric:      "void_rate_pct",
			Operator:    domain.OperatorGT,
			Threshold:   decimal.NewFromInt(5),
			Cooldown:    30 * time.Minute,
		},
		{
			RuleID:      "high-discount-rate",
			Type:        domain.AlertTypeHighDiscountRate,
			Name:        "High discount rate",
			Description: "Discounts exceed 15% of gross sales.",
			Enabled:     true,
			Severity:    domain.SeverityLow,
			Metric:      "discount_rate_pct",
			Operator:    domain.OperatorGT,
			Threshold:   decimal.NewFromInt(15),
			Cooldown:    time.Hour,
		},
		{
			RuleID:          "sales-drop",
			Type:            domain.AlertTypeSalesDrop,
			Name:            "Sales drop",
			Description:     "Revenue is well below the same day last week.",
			Enabled:         true,
			Severity:        domain.SeverityHigh,
			Metric:          "revenue_today",
			Operator:        domain.OperatorChangedBy,
			Threshold:       decimal.NewFromInt(-1000),
			SecondaryMetric: "revenue_same_day_last_week",
			Cooldown:        4 * time.Hour,
		},
		{
			RuleID:      "high-labor-cost",
			Type:        domain.AlertTypeHighLaborCost,
			Name:        "High labor cost",
			Description: "Labor cost exceeds 35% of sales.",
			Enabled:     true,
			Severity:    domain.SeverityMedium,
			Metric:      "labor_cost_pct",
			Operator:    domain.OperatorGT,
			Threshold:   decimal.NewFromInt(35),
			Cooldown:    2 * time.Hour,
		},
		{
			RuleID:      "long-ticket-time",
			Type:        domain.AlertTypeLongTicketTime,
			Name:        "Long ticket times",
			Description: "Average kitchen ticket time exceeds 20 minutes.",
			Enabled:     true,
			Severity:    domain.SeverityMedium,
			Metric:      "avg_ticket_time_min",
			Operator:    domain.OperatorGT,
			Threshold:   decimal.NewFromInt(20),
			Cooldown:    15 * time.Minute,
		},
		{
			RuleID:      "cash-variance",
			Type:        domain.AlertTypeCashVariance,
			Name:        "Cash variance",
			Description: "Drawer count differs from expected cash.",
			Enabled:     true,
			Severity:    domain.SeverityHigh,
			Metric:      "cash_variance_abs",
			Operator:    domain.OperatorGT,
			Threshold:   decimal.NewFromInt(10),
		},
	}
}

// UpsertRule replaces rule with the same id or appends it.
// Params: current catalog and validated rule.
// Returns: updated catalog and true when rule was inserted.
func UpsertRule(rules []domain.AlertRule, rule domain.AlertRule) ([]domain.AlertRule, bool) {
	for i := range rules {
		if rules[i].RuleID == rule.RuleID {
			rules[i] = rule.Clone()
			return rules, false
		}
	}
	return append(rules, rule.Clone()), true
}
