package domain

import (
	"fmt"
	"strings"
	"time"
)

// AlertType is the business condition an alert reports.
type AlertType string

const (
	AlertTypeLowStock         AlertType = "low_stock"
	AlertTypeOutOfStock       AlertType = "out_of_stock"
	AlertTypeExpiringStock    AlertType = "expiring_stock"
	AlertTypeHighVoidRate     AlertType = "high_void_rate"
	AlertTypeHighDiscountRate AlertType = "high_discount_rate"
	AlertTypeSalesDrop        AlertType = "sales_drop"
	AlertTypeHighLaborCost    AlertType = "high_labor_cost"
	AlertTypeLongTicketTime   AlertType = "long_ticket_time"
	AlertTypeCashVariance     AlertType = "cash_variance"
	AlertTypeCustom           AlertType = "custom"
)

// AlertTypes lists every known alert type in display order.
func AlertTypes() []AlertType {
	return []AlertType{
		AlertTypeLowStock,
		AlertTypeOutOfStock,
		AlertTypeExpiringStock,
		AlertTypeHighVoidRate,
		AlertTypeHighDiscountRate,
		AlertTypeSalesDrop,
		AlertTypeHighLaborCost,
		AlertTypeLongTicketTime,
		AlertTypeCashVariance,
		AlertTypeCustom,
	}
}

// ParseAlertType normalizes an alert type name.
// Params: case-insensitive alert type.
// Returns: known alert type or error.
func ParseAlertType(value string) (AlertType, error) {
	normalized := AlertType(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range AlertTypes() {
		if known == normalized {
			return known, nil
		}
	}
	return "", fmt.Errorf("unsupported alert type %q", value)
}

// AlertStatus is stored alert lifecycle state.
type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
	AlertStatusSnoozed      AlertStatus = "snoozed"
	AlertStatusDismissed    AlertStatus = "dismissed"
)

var alertTransitions = map[AlertStatus][]AlertStatus{
	AlertStatusActive:       {AlertStatusAcknowledged, AlertStatusResolved, AlertStatusSnoozed, AlertStatusDismissed},
	AlertStatusAcknowledged: {AlertStatusResolved, AlertStatusDismissed},
	AlertStatusSnoozed:      {AlertStatusAcknowledged, AlertStatusResolved, AlertStatusSnoozed, AlertStatusDismissed},
}

// Terminal reports whether no further transition is possible.
func (s AlertStatus) Terminal() bool {
	return s == AlertStatusResolved || s == AlertStatusDismissed
}

// CanTransition reports whether lifecycle allows from -> to.
// Params: current and requested status.
// Returns: true when transition table permits it.
func CanTransition(from, to AlertStatus) bool {
	for _, allowed := range alertTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Alert is one materialized alert record owned by a site.
type Alert struct {
	AlertID         string            `json:"alert_id"`
	Type            AlertType         `json:"type"`
	Severity        Severity          `json:"severity"`
	Title           string            `json:"title"`
	Message         string            `json:"message"`
	EntityID        string            `json:"entity_id"`
	EntityType      string            `json:"entity_type"`
	TriggeredAt     time.Time         `json:"triggered_at"`
	Status          AlertStatus       `json:"status"`
	AcknowledgedAt  *time.Time        `json:"acknowledged_at,omitempty"`
	AcknowledgedBy  string            `json:"acknowledged_by,omitempty"`
	ResolvedAt      *time.Time        `json:"resolved_at,omitempty"`
	ResolvedBy      string            `json:"resolved_by,omitempty"`
	ResolutionNotes string            `json:"resolution_notes,omitempty"`
	SnoozedUntil    *time.Time        `json:"snoozed_until,omitempty"`
	DismissedAt     *time.Time        `json:"dismissed_at,omitempty"`
	DismissedBy     string            `json:"dismissed_by,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// EffectiveStatus returns status as observed at now.
// A snoozed alert whose snooze elapsed reads as active without being rewritten.
// Params: observation time.
// Returns: derived status.
func (a Alert) EffectiveStatus(now time.Time) AlertStatus {
	if a.Status == AlertStatusSnoozed && a.SnoozedUntil != nil && !a.SnoozedUntil.After(now) {
		return AlertStatusActive
	}
	return a.Status
}

// IsActiveAt reports whether alert counts as active at now.
func (a Alert) IsActiveAt(now time.Time) bool {
	return a.EffectiveStatus(now) == AlertStatusActive
}

// Clone returns deep copy safe to hand to callers.
func (a Alert) Clone() Alert {
	out := a
	out.AcknowledgedAt = cloneTime(a.AcknowledgedAt)
	out.ResolvedAt = cloneTime(a.ResolvedAt)
	out.SnoozedUntil = cloneTime(a.SnoozedUntil)
	out.DismissedAt = cloneTime(a.DismissedAt)
	out.Metadata = cloneStrings(a.Metadata)
	return out
}

// NewAlert describes an alert to create directly or from evaluation.
type NewAlert struct {
	Type       AlertType
	Severity   Severity
	Title      string
	Message    string
	EntityID   string
	EntityType string
	Metadata   map[string]string
}

// Normalize validates type and severity and detaches metadata from the caller.
// Returns: normalized copy or error wrapping ErrInvalidAlert.
func (n NewAlert) Normalize() (NewAlert, error) {
	alertType, err := ParseAlertType(string(n.Type))
	if err != nil {
		return NewAlert{}, fmt.Errorf("%w: %v", ErrInvalidAlert, err)
	}
	severity, err := ParseSeverity(string(n.Severity))
	if err != nil {
		return NewAlert{}, fmt.Errorf("%w: %v", ErrInvalidAlert, err)
	}
	out := n
	out.Type = alertType
	out.Severity = severity
	out.Metadata = cloneStrings(n.Metadata)
	return out, nil
}

// AlertFilter narrows GetAlerts results. Zero values match everything.
type AlertFilter struct {
	Status AlertStatus
	Type   AlertType
	Limit  int
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func cloneStrings(values map[string]string) map[string]string {
	if values == nil {
		return nil
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		out[key] = value
	}
	return out
}
