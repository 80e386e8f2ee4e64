package events

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"sitealert/internal/domain"
)

// Kind identifies a lifecycle or delivery event.
type Kind string

const (
	KindAlertTriggered    Kind = "alert.triggered"
	KindAlertAcknowledged Kind = "alert.acknowledged"
	KindAlertResolved     Kind = "alert.resolved"
	KindAlertSnoozed      Kind = "alert.snoozed"
	KindAlertDismissed    Kind = "alert.dismissed"

	KindNotificationQueued  Kind = "notification.queued"
	KindNotificationSent    Kind = "notification.sent"
	KindNotificationFailed  Kind = "notification.failed"
	KindNotificationRetried Kind = "notification.retried"
)

const metadataPrefix = "meta."

// Event is one flattened downstream event. Ids are strings and timestamps RFC 3339.
type Event struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	OrgID      string            `json:"org_id"`
	SiteID     string            `json:"site_id,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Fields     map[string]string `json:"fields"`
}

// Publisher delivers events fire-and-forget to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Handler consumes one event. Returning a permanent error stops redelivery.
type Handler func(ctx context.Context, event Event) error

// BuildEventID derives a stable id used for broker-side deduplication.
// Params: event without id.
// Returns: SHA1 hex digest of identity fields.
func BuildEventID(event Event) string {
	keys := make([]string, 0, len(event.Fields))
	for key := range event.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var builder strings.Builder
	builder.WriteString(string(event.Kind))
	builder.WriteByte('|')
	builder.WriteString(event.OrgID)
	builder.WriteByte('|')
	builder.WriteString(event.SiteID)
	builder.WriteByte('|')
	builder.WriteString(strconv.FormatInt(event.OccurredAt.UnixNano(), 10))
	for _, key := range keys {
		builder.WriteByte('|')
		builder.WriteString(key)
		builder.WriteByte('=')
		builder.WriteString(event.Fields[key])
	}
	sum := sha1.Sum([]byte(builder.String()))
	return hex.EncodeToString(sum[:])
}

// AlertEvent flattens alert into an event of kind.
// Params: kind, site key, alert, and emission time.
// Returns: event with id assigned.
func AlertEvent(kind Kind, key domain.SiteKey, alert domain.Alert, at time.Time) Event {
	fields := map[string]string{
		"alert_id":     alert.AlertID,
		"type":         string(alert.Type),
		"severity":     string(alert.Severity),
		"title":        alert.Title,
		"message":      alert.Message,
		"entity_id":    alert.EntityID,
		"entity_type":  alert.EntityType,
		"status":       string(alert.Status),
		"triggered_at": formatTime(&alert.TriggeredAt),
	}
	putTime(fields, "acknowledged_at", alert.AcknowledgedAt)
	putString(fields, "acknowledged_by", alert.AcknowledgedBy)
	putTime(fields, "resolved_at", alert.ResolvedAt)
	putString(fields, "resolved_by", alert.ResolvedBy)
	putString(fields, "resolution_notes", alert.ResolutionNotes)
	putTime(fields, "snoozed_until", alert.SnoozedUntil)
	putTime(fields, "dismissed_at", alert.DismissedAt)
	putString(fields, "dismissed_by", alert.DismissedBy)
	for name, value := range alert.Metadata {
		fields[metadataPrefix+name] = value
	}
	return withID(Event{Kind: kind, OrgID: key.OrgID, SiteID: key.SiteID, OccurredAt: at.UTC(), Fields: fields})
}

// NotificationEvent flattens notification record into an event of kind.
// Params: kind, organization id, record, and emission time.
// Returns: event with id assigned.
func NotificationEvent(kind Kind, orgID string, record domain.NotificationRecord, at time.Time) Event {
	fields := map[string]string{
		"notification_id": record.NotificationID,
		"type":            string(record.Type),
		"recipient":       record.Recipient,
		"subject":         record.Subject,
		"status":          string(record.Status),
		"created_at":      formatTime(&record.CreatedAt),
		"retry_count":     strconv.Itoa(record.RetryCount),
	}
	putTime(fields, "sent_at", record.SentAt)
	putString(fields, "error_message", record.ErrorMessage)
	putString(fields, "external_message_id", record.ExternalMessageID)
	putString(fields, "triggered_by_alert_id", record.TriggeredByAlertID)
	for name, value := range record.Metadata {
		fields[metadataPrefix+name] = value
	}
	return withID(Event{Kind: kind, OrgID: orgID, OccurredAt: at.UTC(), Fields: fields})
}

// AlertFromEvent rebuilds the alert carried by an alert event.
// Params: alert event.
// Returns: alert or error when required fields are absent.
func AlertFromEvent(event Event) (domain.Alert, error) {
	if !strings.HasPrefix(string(event.Kind), "alert.") {
		return domain.Alert{}, fmt.Errorf("event kind %q does not carry an alert", event.Kind)
	}
	alertID := event.Fields["alert_id"]
	if alertID == "" {
		return domain.Alert{}, fmt.Errorf("event %s: alert_id is missing", event.ID)
	}
	triggeredAt, err := time.Parse(time.RFC3339Nano, event.Fields["triggered_at"])
	if err != nil {
		return domain.Alert{}, fmt.Errorf("event %s: triggered_at: %w", event.ID, err)
	}
	alert := domain.Alert{
		AlertID:     alertID,
		Type:        domain.AlertType(event.Fields["type"]),
		Severity:    domain.Severity(event.Fields["severity"]),
		Title:       event.Fields["title"],
		Message:     event.Fields["message"],
		EntityID:    event.Fields["entity_id"],
		EntityType:  event.Fields["entity_type"],
		Status:      domain.AlertStatus(event.Fields["status"]),
		TriggeredAt: triggeredAt,
	}
	for key, value := range event.Fields {
		if name, ok := strings.CutPrefix(key, metadataPrefix); ok {
			if alert.Metadata == nil {
				alert.Metadata = make(map[string]string)
			}
			alert.Metadata[name] = value
		}
	}
	return alert, nil
}

func withID(event Event) Event {
	event.ID = BuildEventID(event)
	return event
}

func formatTime(value *time.Time) string {
	if value == nil || value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func putTime(fields map[string]string, key string, value *time.Time) {
	if formatted := formatTime(value); formatted != "" {
		fields[key] = formatted
	}
}

func putString(fields map[string]string, key, value string) {
	if value != "" {
		fields[key] = value
	}
}
