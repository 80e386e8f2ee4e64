package domain

import (
	"fmt"
	"strings"
	"time"
)

// ChannelType is a notification delivery medium.
type ChannelType string

const (
	ChannelEmail   ChannelType = "email"
	ChannelSMS     ChannelType = "sms"
	ChannelPush    ChannelType = "push"
	ChannelSlack   ChannelType = "slack"
	ChannelWebhook ChannelType = "webhook"
)

// ParseChannelType matches a channel type case-insensitively against the fixed set.
// Params: raw channel type.
// Returns: channel type or error wrapping ErrInvalidChannel.
func ParseChannelType(value string) (ChannelType, error) {
	switch ChannelType(strings.ToLower(strings.TrimSpace(value))) {
	case ChannelEmail:
		return ChannelEmail, nil
	case ChannelSMS:
		return ChannelSMS, nil
	case ChannelPush:
		return ChannelPush, nil
	case ChannelSlack:
		return ChannelSlack, nil
	case ChannelWebhook:
		return ChannelWebhook, nil
	default:
		return "", fmt.Errorf("%w: unsupported channel type %q", ErrInvalidChannel, value)
	}
}

// ChannelConfig is one org-level notification channel definition.
type ChannelConfig struct {
	ChannelID       string            `json:"channel_id"`
	Type            ChannelType       `json:"type"`
	Target          string            `json:"target"`
	Enabled         bool              `json:"enabled"`
	AlertTypes      []AlertType       `json:"alert_types,omitempty"`
	MinimumSeverity Severity          `json:"minimum_severity,omitempty"`
	Configuration   map[string]string `json:"configuration,omitempty"`
}

// Validate normalizes channel type and checks required fields.
// Params: none.
// Returns: normalized channel or error wrapping ErrInvalidChannel.
func (c ChannelConfig) Validate() (ChannelConfig, error) {
	if strings.TrimSpace(c.ChannelID) == "" {
		return ChannelConfig{}, fmt.Errorf("%w: channel_id is required", ErrInvalidChannel)
	}
	channelType, err := ParseChannelType(string(c.Type))
	if err != nil {
		return ChannelConfig{}, err
	}
	if strings.TrimSpace(c.Target) == "" {
		return ChannelConfig{}, fmt.Errorf("%w: channel %q target is required", ErrInvalidChannel, c.ChannelID)
	}
	if c.MinimumSeverity != "" && c.MinimumSeverity.Rank() == 0 {
		return ChannelConfig{}, fmt.Errorf("%w: channel %q minimum severity %q", ErrInvalidChannel, c.ChannelID, c.MinimumSeverity)
	}
	out := c.Clone()
	out.Type = channelType
	return out, nil
}

// Accepts reports whether alert passes channel filters.
// Params: alert to deliver.
// Returns: true when deliverable, otherwise false and skip reason.
func (c ChannelConfig) Accepts(alert Alert) (bool, string) {
	if !c.Enabled {
		return false, "disabled"
	}
	if c.MinimumSeverity != "" && !alert.Severity.AtLeast(c.MinimumSeverity) {
		return false, "below_minimum_severity"
	}
	if len(c.AlertTypes) > 0 {
		for _, allowed := range c.AlertTypes {
			if allowed == alert.Type {
				return true, ""
			}
		}
		return false, "alert_type_filtered"
	}
	return true, ""
}

// Clone returns deep copy of channel config.
func (c ChannelConfig) Clone() ChannelConfig {
	out := c
	if c.AlertTypes != nil {
		out.AlertTypes = append([]AlertType(nil), c.AlertTypes...)
	}
	out.Configuration = cloneStrings(c.Configuration)
	return out
}

// NotificationStatus is delivery state of a notification record.
type NotificationStatus string

const (
	NotificationQueued   NotificationStatus = "queued"
	NotificationSent     NotificationStatus = "sent"
	NotificationFailed   NotificationStatus = "failed"
	NotificationRetrying NotificationStatus = "retrying"
)

// MaxRetries bounds record-level retries per notification.
const MaxRetries = 3

// Metadata keys written on notification records.
const (
	MetaChannelID = "channel_id"
	MetaAlertType = "alert_type"
	MetaSeverity  = "severity"
)

// NotificationRecord is one delivery attempt history entry.
type NotificationRecord struct {
	NotificationID        string             `json:"notification_id"`
	Type                  ChannelType        `json:"type"`
	Recipient             string             `json:"recipient"`
	Subject               string             `json:"subject,omitempty"`
	Body                  string             `json:"body"`
	Status                NotificationStatus `json:"status"`
	CreatedAt             time.Time          `json:"created_at"`
	SentAt                *time.Time         `json:"sent_at,omitempty"`
	RetryCount            int                `json:"retry_count"`
	ErrorMessage          string             `json:"error_message,omitempty"`
	ExternalMessageID     string             `json:"external_message_id,omitempty"`
	Metadata              map[string]string  `json:"metadata,omitempty"`
	TriggeredByAlertID    string             `json:"triggered_by_alert_id,omitempty"`
	// DeliveryConfiguration is the transport configuration of the original send, reused by retries.
	DeliveryConfiguration map[string]string  `json:"delivery_configuration,omitempty"`
}

// Clone returns deep copy of record.
func (n NotificationRecord) Clone() NotificationRecord {
	out := n
	out.SentAt = cloneTime(n.SentAt)
	out.Metadata = cloneStrings(n.Metadata)
	out.DeliveryConfiguration = cloneStrings(n.DeliveryConfiguration)
	return out
}

// SendRequest describes one single-channel send.
type SendRequest struct {
	Recipient          string
	Subject            string
	Body               string
	Metadata           map[string]string
	TriggeredByAlertID string
	Configuration      map[string]string
}

// NotificationFilter narrows GetNotifications results. Zero values match everything.
type NotificationFilter struct {
	Status NotificationStatus
	Type   ChannelType
	Limit  int
}
