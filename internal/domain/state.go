package domain

import (
	"errors"
	"strings"
	"time"
)

// SiteKey identifies one site tenant.
type SiteKey struct {
	OrgID  string `json:"org_id"`
	SiteID string `json:"site_id"`
}

// String renders key as org/site.
func (k SiteKey) String() string {
	return k.OrgID + "/" + k.SiteID
}

// Validate checks both identifiers are set.
func (k SiteKey) Validate() error {
	if strings.TrimSpace(k.OrgID) == "" {
		return errors.New("org_id is required")
	}
	if strings.TrimSpace(k.SiteID) == "" {
		return errors.New("site_id is required")
	}
	return nil
}

// AlertSiteState is durable alert state of one site.
type AlertSiteState struct {
	OrgID             string               `json:"org_id"`
	SiteID            string               `json:"site_id"`
	Initialized       bool                 `json:"initialized"`
	Rules             []AlertRule          `json:"rules"`
	Alerts            []Alert              `json:"alerts"`
	RuleLastTriggered map[string]time.Time `json:"rule_last_triggered"`
	Version           int64                `json:"version"`
}

// FindAlert returns index of alert id or -1.
func (s *AlertSiteState) FindAlert(alertID string) int {
	for i := range s.Alerts {
		if s.Alerts[i].AlertID == alertID {
			return i
		}
	}
	return -1
}

// NotificationOrgState is durable notification state of one organization.
type NotificationOrgState struct {
	OrgID         string               `json:"org_id"`
	Initialized   bool                 `json:"initialized"`
	Channels      []ChannelConfig      `json:"channels"`
	Notifications []NotificationRecord `json:"notifications"`
	Version       int64                `json:"version"`
}

// FindChannel returns index of channel id or -1.
func (s *NotificationOrgState) FindChannel(channelID string) int {
	for i := range s.Channels {
		if s.Channels[i].ChannelID == channelID {
			return i
		}
	}
	return -1
}

// FindNotification returns index of notification id or -1.
func (s *NotificationOrgState) FindNotification(notificationID string) int {
	for i := range s.Notifications {
		if s.Notifications[i].NotificationID == notificationID {
			return i
		}
	}
	return -1
}

// PushNotification prepends record and trims history to max entries.
// Params: new record and history bound; max<=0 keeps everything.
// Returns: none.
func (s *NotificationOrgState) PushNotification(record NotificationRecord, max int) {
	s.Notifications = append([]NotificationRecord{record}, s.Notifications...)
	if max > 0 && len(s.Notifications) > max {
		for i := max; i < len(s.Notifications); i++ {
			s.Notifications[i] = NotificationRecord{}
		}
		s.Notifications = s.Notifications[:max]
	}
}
