package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Operator is rule comparison operator.
type Operator string

const (
	OperatorGT        Operator = "gt"
	OperatorGTE       Operator = "gte"
	OperatorLT        Operator = "lt"
	OperatorLTE       Operator = "lte"
	OperatorEQ        Operator = "eq"
	OperatorNEQ       Operator = "neq"
	OperatorChangedBy Operator = "changed_by"
)

var operatorSymbols = map[string]Operator{
	">":  OperatorGT,
	">=": OperatorGTE,
	"<":  OperatorLT,
	"<=": OperatorLTE,
	"==": OperatorEQ,
	"=":  OperatorEQ,
	"!=": OperatorNEQ,
}

// ParseOperator accepts operator names or comparison symbols.
// Params: raw operator such as "gt", "GTE", ">=", "changed_by".
// Returns: normalized operator or error.
func ParseOperator(value string) (Operator, error) {
	trimmed := strings.TrimSpace(value)
	if op, ok := operatorSymbols[trimmed]; ok {
		return op, nil
	}
	normalized := Operator(strings.ToLower(trimmed))
	switch normalized {
	case OperatorGT, OperatorGTE, OperatorLT, OperatorLTE, OperatorEQ, OperatorNEQ, OperatorChangedBy:
		return normalized, nil
	case "changedby":
		return OperatorChangedBy, nil
	default:
		return "", fmt.Errorf("unsupported operator %q", value)
	}
}

// Symbol returns human form used in alert text.
func (o Operator) Symbol() string {
	switch o {
	case OperatorGT:
		return ">"
	case OperatorGTE:
		return ">="
	case OperatorLT:
		return "<"
	case OperatorLTE:
		return "<="
	case OperatorEQ:
		return "=="
	case OperatorNEQ:
		return "!="
	case OperatorChangedBy:
		return "changed by"
	default:
		return string(o)
	}
}

// AlertRule is one threshold rule in a site catalog.
type AlertRule struct {
	RuleID             string           `json:"rule_id"`
	Type               AlertType        `json:"type"`
	Name               string           `json:"name"`
	Description        string           `json:"description,omitempty"`
	Enabled            bool             `json:"enabled"`
	Severity           Severity         `json:"severity"`
	Metric             string           `json:"metric"`
	Operator           Operator         `json:"operator"`
	Threshold          decimal.Decimal  `json:"threshold"`
	SecondaryMetric    string           `json:"secondary_metric,omitempty"`
	SecondaryThreshold *decimal.Decimal `json:"secondary_threshold,omitempty"`
	Cooldown           time.Duration    `json:"cooldown,omitempty"`
}

// Validate checks rule shape before it enters a catalog.
// Params: none.
// Returns: error wrapping ErrInvalidRule.
func (r AlertRule) Validate() error {
	if strings.TrimSpace(r.RuleID) == "" {
		return fmt.Errorf("%w: rule_id is required", ErrInvalidRule)
	}
	if strings.TrimSpace(r.Metric) == "" {
		return fmt.Errorf("%w: rule %q metric is required", ErrInvalidRule, r.RuleID)
	}
	if _, err := ParseOperator(string(r.Operator)); err != nil {
		return fmt.Errorf("%w: rule %q: %v", ErrInvalidRule, r.RuleID, err)
	}
	if _, err := ParseAlertType(string(r.Type)); err != nil {
		return fmt.Errorf("%w: rule %q: %v", ErrInvalidRule, r.RuleID, err)
	}
	if r.Severity.Rank() == 0 {
		return fmt.Errorf("%w: rule %q: unsupported severity %q", ErrInvalidRule, r.RuleID, r.Severity)
	}
	if r.Operator == OperatorChangedBy && strings.TrimSpace(r.SecondaryMetric) == "" {
		return fmt.Errorf("%w: rule %q: changed_by requires secondary_metric", ErrInvalidRule, r.RuleID)
	}
	if r.Cooldown < 0 {
		return fmt.Errorf("%w: rule %q: cooldown must be >=0", ErrInvalidRule, r.RuleID)
	}
	return nil
}

// Clone returns deep copy of rule.
func (r AlertRule) Clone() AlertRule {
	out := r
	if r.SecondaryThreshold != nil {
		copied := *r.SecondaryThreshold
		out.SecondaryThreshold = &copied
	}
	return out
}
