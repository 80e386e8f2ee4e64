package engine

import (
	"fmt"
	"strings"
	"text/template"

	"sitealert/internal/domain"
	"sitealert/internal/templatefmt"
)

type alertText struct {
	title   string
	message string
}

// alertTextTable holds title/message templates per alert type.
// Types absent here render from the rule itself.
var alertTextTable = map[domain.AlertType]alertText{
	domain.AlertTypeLowStock: {
		title:   `Low stock: {{ .Entity }}`,
		message: `{{ .Entity }} is at {{ fmtDecimal .Actual }}, below the reorder point of {{ fmtDecimal .Threshold }}.`,
	},
	domain.AlertTypeOutOfStock: {
		title:   `Out of stock: {{ .Entity }}`,
		message: `{{ .Entity }} has run out (stock level {{ fmtDecimal .Actual }}).`,
	},
	domain.AlertTypeExpiringStock: {
		title:   `Expiring soon: {{ .Entity }}`,
		message: `{{ .Entity }} expires in {{ fmtDecimal .Actual }} day(s).`,
	},
	domain.AlertTypeHighVoidRate: {
		title:   `High void rate at {{ .Entity }}`,
		message: `Void rate reached {{ fmtDecimal .Actual }}% (limit {{ fmtDecimal .Threshold }}%).`,
	},
	domain.AlertTypeHighDiscountRate: {
		title:   `High discount rate at {{ .Entity }}`,
		message: `Discounts reached {{ fmtDecimal .Actual }}% of gross sales (limit {{ fmtDecimal .Threshold }}%).`,
	},
	domain.AlertTypeSalesDrop: {
		title:   `Sales drop at {{ .Entity }}`,
		message: `Revenue changed by {{ fmtDecimal .Actual }} against the comparison period (threshold {{ fmtDecimal .Threshold }}).`,
	},
	domain.AlertTypeHighLaborCost: {
		title:   `High labor cost at {{ .Entity }}`,
		message: `Labor cost is {{ fmtDecimal .Actual }}% of sales (limit {{ fmtDecimal .Threshold }}%).`,
	},
	domain.AlertTypeLongTicketTime: {
		title:   `Long ticket times at {{ .Entity }}`,
		message: `Average ticket time is {{ fmtDecimal .Actual }} min (limit {{ fmtDecimal .Threshold }} min).`,
	},
	domain.AlertTypeCashVariance: {
		title:   `Cash variance at {{ .Entity }}`,
		message: `Drawer variance of {{ fmtDecimal .Actual }} exceeds {{ fmtDecimal .Threshold }}.`,
	},
}

type compiledText struct {
	title   *template.Template
	message *template.Template
}

var compiledTextTable = mustCompileTextTable()

func mustCompileTextTable() map[domain.AlertType]compiledText {
	out := make(map[domain.AlertType]compiledText, len(alertTextTable))
	for alertType, text := range alertTextTable {
		title, err := templatefmt.Parse(string(alertType)+".title", text.title)
		if err != nil {
			panic(fmt.Sprintf("alert title template %s: %v", alertType, err))
		}
		message, err := templatefmt.Parse(string(alertType)+".message", text.message)
		if err != nil {
			panic(fmt.Sprintf("alert message template %s: %v", alertType, err))
		}
		out[alertType] = compiledText{title: title, message: message}
	}
	return out
}

// textData is the template view of one triggered rule.
type textData struct {
	Entity    string
	EntityID  string
	RuleName  string
	Metric    string
	Actual    string
	Threshold string
	Operator  string
	Context   map[string]string
}

// RenderAlertText builds alert title and message for a triggered rule.
// Unmapped types, and render failures, fall back to rule name and description,
// then to the evaluator message.
// Params: rule, evaluation result, and snapshot.
// Returns: non-empty title and message.
func RenderAlertText(rule domain.AlertRule, result Result, snapshot domain.MetricsSnapshot) (string, string) {
	fallbackTitle, fallbackMessage := fallbackText(rule, result)

	compiled, ok := compiledTextTable[rule.Type]
	if !ok {
		return fallbackTitle, fallbackMessage
	}

	data := textData{
		Entity:    entityLabel(snapshot),
		EntityID:  snapshot.EntityID,
		RuleName:  rule.Name,
		Metric:    rule.Metric,
		Actual:    result.ActualValue.String(),
		Threshold: result.ThresholdValue.String(),
		Operator:  rule.Operator.Symbol(),
		Context:   snapshot.Context,
	}
	title, err := templatefmt.Execute(compiled.title, data)
	if err != nil || title == "" {
		title = fallbackTitle
	}
	message, err := templatefmt.Execute(compiled.message, data)
	if err != nil || message == "" {
		message = fallbackMessage
	}
	return title, message
}

func fallbackText(rule domain.AlertRule, result Result) (string, string) {
	title := strings.TrimSpace(rule.Name)
	if title == "" {
		title = strings.ReplaceAll(string(rule.Type), "_", " ")
	}
	message := strings.TrimSpace(rule.Description)
	if message == "" {
		message = result.Message
	}
	return title, message
}

func entityLabel(snapshot domain.MetricsSnapshot) string {
	if name := strings.TrimSpace(snapshot.EntityName); name != "" {
		return name
	}
	return snapshot.EntityID
}

// BuildMetadata returns diagnostic metadata of a triggered rule.
// Snapshot context is merged last and replaces fixed keys on collision.
// Params: rule, evaluation result, and snapshot.
// Returns: flattened string map stored on the alert.
func BuildMetadata(rule domain.AlertRule, result Result, snapshot domain.MetricsSnapshot) map[string]string {
	metadata := map[string]string{
		"ruleId":         rule.RuleID,
		"ruleName":       rule.Name,
		"metric":         rule.Metric,
		"actualValue":    result.ActualValue.String(),
		"thresholdValue": result.ThresholdValue.String(),
		"operator":       string(rule.Operator),
		"entityName":     snapshot.EntityName,
	}
	for key, value := range snapshot.Context {
		metadata[key] = value
	}
	return metadata
}
