package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"sitealert/internal/clock"
	"sitealert/internal/domain"
	"sitealert/internal/events"
	"sitealert/internal/logging"
	"sitealert/internal/metrics"
	"sitealert/internal/notify"
	"sitealert/internal/state"
	"sitealert/internal/tenant"

	"github.com/google/uuid"
)

// NotificationManager owns per-org channel configs, notification history, and delivery.
type NotificationManager struct {
	store      state.Store
	executor   *tenant.Executor
	publisher  events.Publisher
	clock      clock.Clock
	logger     *slog.Logger
	historyMax atomic.Int64
	dispatcher atomic.Pointer[notify.Dispatcher]

	mu   sync.Mutex
	orgs map[string]*domain.NotificationOrgState
}

// NewNotificationManager creates notification manager.
// Params: store, executor, dispatcher, publisher, clock, logger, and history bound.
// Returns: manager with empty org cache.
func NewNotificationManager(
	store state.Store,
	executor *tenant.Executor,
	dispatcher *notify.Dispatcher,
	publisher events.Publisher,
	clk clock.Clock,
	logger *slog.Logger,
	historyMax int,
) *NotificationManager {
	if logger == nil {
		logger = logging.Discard()
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	manager := &NotificationManager{
		store:     store,
		executor:  executor,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
		orgs:      make(map[string]*domain.NotificationOrgState),
	}
	manager.SetDispatcher(dispatcher)
	manager.SetHistoryMax(historyMax)
	return manager
}

// SetDispatcher swaps channel transports for subsequent sends.
func (m *NotificationManager) SetDispatcher(dispatcher *notify.Dispatcher) {
	if dispatcher == nil {
		dispatcher = notify.NewDispatcherWithSenders(m.logger)
	}
	m.dispatcher.Store(dispatcher)
}

// SetHistoryMax changes per-org history bound; values <=0 keep everything.
func (m *NotificationManager) SetHistoryMax(historyMax int) {
	m.historyMax.Store(int64(historyMax))
}

// Initialize marks org as ready. Repeated calls are no-ops.
func (m *NotificationManager) Initialize(ctx context.Context, orgID string) error {
	if strings.TrimSpace(orgID) == "" {
		return errors.New("org_id is required")
	}
	return m.withOrg(ctx, orgID, func(org *domain.NotificationOrgState) (bool, error) {
		if org.Initialized {
			return false, nil
		}
		org.Initialized = true
		org.Version++
		logging.ForOrg(m.logger, orgID).Info("notification org initialized")
		return true, nil
	})
}

// SendEmail delivers one email and records the outcome.
func (m *NotificationManager) SendEmail(ctx context.Context, orgID string, request domain.SendRequest) (domain.NotificationRecord, error) {
	return m.send(ctx, orgID, domain.ChannelEmail, request)
}

// SendSMS delivers one SMS and records the outcome.
func (m *NotificationManager) SendSMS(ctx context.Context, orgID string, request domain.SendRequest) (domain.NotificationRecord, error) {
	return m.send(ctx, orgID, domain.ChannelSMS, request)
}

// SendPush delivers one push message and records the outcome.
func (m *NotificationManager) SendPush(ctx context.Context, orgID string, request domain.SendRequest) (domain.NotificationRecord, error) {
	return m.send(ctx, orgID, domain.ChannelPush, request)
}

// SendSlack posts one Slack message and records the outcome.
func (m *NotificationManager) SendSlack(ctx context.Context, orgID string, request domain.SendRequest) (domain.NotificationRecord, error) {
	return m.send(ctx, orgID, domain.ChannelSlack, request)
}

// SendWebhook posts one webhook payload and records the outcome.
func (m *NotificationManager) SendWebhook(ctx context.Context, orgID string, request domain.SendRequest) (domain.NotificationRecord, error) {
	return m.send(ctx, orgID, domain.ChannelWebhook, request)
}

// SendForAlert fans one alert out to every accepting channel.
// A failure or panic on one channel is logged and the remaining channels still run.
// Params: context, org id, alert, and candidate channels.
// Returns: records created for delivered-to channels, or ErrNotInitialized.
func (m *NotificationManager) SendForAlert(ctx context.Context, orgID string, alert domain.Alert, channels []domain.ChannelConfig) ([]domain.NotificationRecord, error) {
	if err := m.requireInitialized(ctx, orgID); err != nil {
		return nil, err
	}
	logger := logging.ForOrg(m.logger, orgID).With("alert_id", alert.AlertID)

	records := make([]domain.NotificationRecord, 0, len(channels))
	for _, channel := range channels {
		if ok, reason := channel.Accepts(alert); !ok {
			logger.Debug("channel skipped", "channel_id", channel.ChannelID, "reason", reason)
			continue
		}
		record, err := m.sendToChannel(ctx, orgID, alert, channel)
		if err != nil {
			logger.Error("channel fan-out failed", "channel_id", channel.ChannelID, "type", channel.Type, "error", err.Error())
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// SendForAlertToConfigured fans alert out to the org's stored channels.
func (m *NotificationManager) SendForAlertToConfigured(ctx context.Context, orgID string, alert domain.Alert) ([]domain.NotificationRecord, error) {
	channels, err := m.GetChannels(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return m.SendForAlert(ctx, orgID, alert, channels)
}

// sendToChannel runs one fan-out leg with panic isolation.
func (m *NotificationManager) sendToChannel(ctx context.Context, orgID string, alert domain.Alert, channel domain.ChannelConfig) (record domain.NotificationRecord, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("channel %s panicked: %v", channel.ChannelID, recovered)
		}
	}()

	channelType, err := domain.ParseChannelType(string(channel.Type))
	if err != nil {
		return domain.NotificationRecord{}, err
	}
	metadata := map[string]string{
		domain.MetaChannelID: channel.ChannelID,
		domain.MetaAlertType: string(alert.Type),
		domain.MetaSeverity:  string(alert.Severity),
	}
	return m.send(ctx, orgID, channelType, domain.SendRequest{
		Recipient:          channel.Target,
		Subject:            alert.Title,
		Body:               alert.Message,
		Metadata:           metadata,
		TriggeredByAlertID: alert.AlertID,
		Configuration:      channel.Configuration,
	})
}

// Retry resends a failed notification using stored fields.
// Params: context, org id, and notification id.
// Returns: updated record, NotFound, InvalidStateTransition, or ErrRetryBudgetExceeded.
func (m *NotificationManager) Retry(ctx context.Context, orgID, notificationID string) (domain.NotificationRecord, error) {
	var out domain.NotificationRecord
	err := m.withInitializedOrg(ctx, orgID, func(org *domain.NotificationOrgState) (bool, error) {
		index := org.FindNotification(notificationID)
		if index < 0 {
			return false, fmt.Errorf("notification %q: %w", notificationID, domain.ErrNotFound)
		}
		record := &org.Notifications[index]
		if record.Status != domain.NotificationFailed {
			return false, fmt.Errorf("notification %q is %s: %w", notificationID, record.Status, domain.ErrInvalidStateTransition)
		}
		if record.RetryCount >= domain.MaxRetries {
			return false, fmt.Errorf("notification %q retried %d times: %w", notificationID, record.RetryCount, domain.ErrRetryBudgetExceeded)
		}

		record.Status = domain.NotificationRetrying
		record.RetryCount++
		record.ErrorMessage = ""
		org.Version++
		if err := m.save(ctx, org); err != nil {
			return false, err
		}
		m.publishRecord(ctx, orgID, events.KindNotificationRetried, *record)
		metrics.Notifications.WithLabelValues(string(record.Type), string(domain.NotificationRetrying)).Inc()

		configuration := record.DeliveryConfiguration
		if configuration == nil {
			// records saved before delivery configuration was kept on the record
			if channelIndex := org.FindChannel(record.Metadata[domain.MetaChannelID]); channelIndex >= 0 {
				configuration = org.Channels[channelIndex].Configuration
			}
		}
		out = m.deliver(ctx, orgID, org, notificationID, cloneMetadata(configuration))
		return false, nil
	})
	return out, err
}

// GetChannels returns configured channels.
func (m *NotificationManager) GetChannels(ctx context.Context, orgID string) ([]domain.ChannelConfig, error) {
	var out []domain.ChannelConfig
	err := m.readOrg(ctx, orgID, func(org *domain.NotificationOrgState) error {
		out = make([]domain.ChannelConfig, 0, len(org.Channels))
		for _, channel := range org.Channels {
			out = append(out, channel.Clone())
		}
		return nil
	})
	return out, err
}

// AddChannel stores a new channel.
// Returns: ErrInvalidChannel, ErrAlreadyExists, or persistence error.
func (m *NotificationManager) AddChannel(ctx context.Context, orgID string, channel domain.ChannelConfig) (domain.ChannelConfig, error) {
	normalized, err := channel.Validate()
	if err != nil {
		return domain.ChannelConfig{}, err
	}
	err = m.withInitializedOrg(ctx, orgID, func(org *domain.NotificationOrgState) (bool, error) {
		if org.FindChannel(normalized.ChannelID) >= 0 {
			return false, fmt.Errorf("channel %q: %w", normalized.ChannelID, domain.ErrAlreadyExists)
		}
		org.Channels = append(org.Channels, normalized.Clone())
		org.Version++
		return true, nil
	})
	if err != nil {
		return domain.ChannelConfig{}, err
	}
	return normalized, nil
}

// UpdateChannel replaces an existing channel.
func (m *NotificationManager) UpdateChannel(ctx context.Context, orgID string, channel domain.ChannelConfig) (domain.ChannelConfig, error) {
	normalized, err := channel.Validate()
	if err != nil {
		return domain.ChannelConfig{}, err
	}
	err = m.withInitializedOrg(ctx, orgID, func(org *domain.NotificationOrgState) (bool, error) {
		index := org.FindChannel(normalized.ChannelID)
		if index < 0 {
			return false, fmt.Errorf("channel %q: %w", normalized.ChannelID, domain.ErrNotFound)
		}
		org.Channels[index] = normalized.Clone()
		org.Version++
		return true, nil
	})
	if err != nil {
		return domain.ChannelConfig{}, err
	}
	return normalized, nil
}

// RemoveChannel deletes a channel by id.
func (m *NotificationManager) RemoveChannel(ctx context.Context, orgID, channelID string) error {
	return m.withInitializedOrg(ctx, orgID, func(org *domain.NotificationOrgState) (bool, error) {
		index := org.FindChannel(channelID)
		if index < 0 {
			return false, fmt.Errorf("channel %q: %w", channelID, domain.ErrNotFound)
		}
		org.Channels = append(org.Channels[:index], org.Channels[index+1:]...)
		org.Version++
		return true, nil
	})
}

// SetChannelEnabled toggles a channel.
func (m *NotificationManager) SetChannelEnabled(ctx context.Context, orgID, channelID string, enabled bool) error {
	return m.withInitializedOrg(ctx, orgID, func(org *domain.NotificationOrgState) (bool, error) {
		index := org.FindChannel(channelID)
		if index < 0 {
			return false, fmt.Errorf("channel %q: %w", channelID, domain.ErrNotFound)
		}
		if org.Channels[index].Enabled == enabled {
			return false, nil
		}
		org.Channels[index].Enabled = enabled
		org.Version++
		return true, nil
	})
}

// GetNotification returns one record by id.
func (m *NotificationManager) GetNotification(ctx context.Context, orgID, notificationID string) (domain.NotificationRecord, error) {
	var out domain.NotificationRecord
	err := m.readOrg(ctx, orgID, func(org *domain.NotificationOrgState) error {
		index := org.FindNotification(notificationID)
		if index < 0 {
			return fmt.Errorf("notification %q: %w", notificationID, domain.ErrNotFound)
		}
		out = org.Notifications[index].Clone()
		return nil
	})
	return out, err
}

// GetNotifications returns history, most recent first, filtered and truncated.
func (m *NotificationManager) GetNotifications(ctx context.Context, orgID string, filter domain.NotificationFilter) ([]domain.NotificationRecord, error) {
	var out []domain.NotificationRecord
	err := m.readOrg(ctx, orgID, func(org *domain.NotificationOrgState) error {
		for _, record := range org.Notifications {
			if filter.Status != "" && record.Status != filter.Status {
				continue
			}
			if filter.Type != "" && record.Type != filter.Type {
				continue
			}
			out = append(out, record.Clone())
			if filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// GetNotificationsForAlert returns records triggered by one alert, most recent first.
func (m *NotificationManager) GetNotificationsForAlert(ctx context.Context, orgID, alertID string) ([]domain.NotificationRecord, error) {
	var out []domain.NotificationRecord
	err := m.readOrg(ctx, orgID, func(org *domain.NotificationOrgState) error {
		for _, record := range org.Notifications {
			if record.TriggeredByAlertID == alertID {
				out = append(out, record.Clone())
			}
		}
		return nil
	})
	return out, err
}

// send records a queued notification, delivers it, and records the outcome.
func (m *NotificationManager) send(ctx context.Context, orgID string, channel domain.ChannelType, request domain.SendRequest) (domain.NotificationRecord, error) {
	var out domain.NotificationRecord
	err := m.withInitializedOrg(ctx, orgID, func(org *domain.NotificationOrgState) (bool, error) {
		record := domain.NotificationRecord{
			NotificationID:        uuid.NewString(),
			Type:                  channel,
			Recipient:             request.Recipient,
			Subject:               request.Subject,
			Body:                  request.Body,
			Status:                domain.NotificationQueued,
			CreatedAt:             m.clock.Now(),
			Metadata:              cloneMetadata(request.Metadata),
			TriggeredByAlertID:    request.TriggeredByAlertID,
			DeliveryConfiguration: cloneMetadata(request.Configuration),
		}
		org.PushNotification(record, int(m.historyMax.Load()))
		org.Version++
		if err := m.save(ctx, org); err != nil {
			return false, err
		}
		m.publishRecord(ctx, orgID, events.KindNotificationQueued, record)
		metrics.Notifications.WithLabelValues(string(channel), string(domain.NotificationQueued)).Inc()

		out = m.deliver(ctx, orgID, org, record.NotificationID, cloneMetadata(record.DeliveryConfiguration))
		return false, nil
	})
	return out, err
}

// deliver calls the channel sender for a stored record and persists the outcome.
// Runs inside the org writer slot; send failures become record data.
func (m *NotificationManager) deliver(ctx context.Context, orgID string, org *domain.NotificationOrgState, notificationID string, configuration map[string]string) domain.NotificationRecord {
	index := org.FindNotification(notificationID)
	if index < 0 {
		return domain.NotificationRecord{}
	}
	snapshot := org.Notifications[index]
	outcome := m.dispatcher.Load().Deliver(ctx, notify.Message{
		NotificationID: snapshot.NotificationID,
		Channel:        snapshot.Type,
		Recipient:      snapshot.Recipient,
		Subject:        snapshot.Subject,
		Body:           snapshot.Body,
		Configuration:  configuration,
		Metadata:       snapshot.Metadata,
	})

	record := &org.Notifications[index]
	kind := events.KindNotificationSent
	if outcome.Success {
		sentAt := m.clock.Now()
		record.Status = domain.NotificationSent
		record.SentAt = &sentAt
		record.ExternalMessageID = outcome.MessageID
		record.ErrorMessage = ""
	} else {
		kind = events.KindNotificationFailed
		record.Status = domain.NotificationFailed
		record.ErrorMessage = outcome.ErrorMessage
		logging.ForOrg(m.logger, orgID).Warn("notification failed",
			"notification_id", notificationID,
			"channel", record.Type,
			"code", outcome.ErrorCode,
			"error", outcome.ErrorMessage,
		)
	}
	org.Version++
	if err := m.save(ctx, org); err != nil {
		logging.ForOrg(m.logger, orgID).Error("save notification outcome failed", "notification_id", notificationID, "error", err.Error())
	}
	metrics.Notifications.WithLabelValues(string(record.Type), string(record.Status)).Inc()
	m.publishRecord(ctx, orgID, kind, *record)
	return record.Clone()
}

func (m *NotificationManager) publishRecord(ctx context.Context, orgID string, kind events.Kind, record domain.NotificationRecord) {
	publish(ctx, m.publisher, m.logger, events.NotificationEvent(kind, orgID, record, m.clock.Now()))
}

func (m *NotificationManager) requireInitialized(ctx context.Context, orgID string) error {
	return m.readOrg(ctx, orgID, func(*domain.NotificationOrgState) error { return nil })
}

func (m *NotificationManager) withInitializedOrg(ctx context.Context, orgID string, fn func(org *domain.NotificationOrgState) (bool, error)) error {
	return m.withOrg(ctx, orgID, func(org *domain.NotificationOrgState) (bool, error) {
		if !org.Initialized {
			return false, fmt.Errorf("org %s: %w", orgID, domain.ErrNotInitialized)
		}
		return fn(org)
	})
}

func (m *NotificationManager) readOrg(ctx context.Context, orgID string, fn func(org *domain.NotificationOrgState) error) error {
	return m.withInitializedOrg(ctx, orgID, func(org *domain.NotificationOrgState) (bool, error) {
		return false, fn(org)
	})
}

// withOrg loads cached org state under the org writer slot and saves when fn reports a change.
func (m *NotificationManager) withOrg(ctx context.Context, orgID string, fn func(org *domain.NotificationOrgState) (bool, error)) error {
	stateKey := tenant.NotificationStateKey(orgID)
	return m.executor.Do(ctx, stateKey, func(ctx context.Context) error {
		org, err := m.loadOrg(ctx, stateKey, orgID)
		if err != nil {
			return err
		}
		changed, err := fn(org)
		if err != nil || !changed {
			return err
		}
		return m.save(ctx, org)
	})
}

func (m *NotificationManager) save(ctx context.Context, org *domain.NotificationOrgState) error {
	stateKey := tenant.NotificationStateKey(org.OrgID)
	if _, err := m.store.Save(ctx, stateKey, org); err != nil {
		m.mu.Lock()
		delete(m.orgs, stateKey)
		m.mu.Unlock()
		return fmt.Errorf("save org %s: %w", org.OrgID, err)
	}
	return nil
}

func (m *NotificationManager) loadOrg(ctx context.Context, stateKey, orgID string) (*domain.NotificationOrgState, error) {
	m.mu.Lock()
	org, ok := m.orgs[stateKey]
	m.mu.Unlock()
	if ok {
		return org, nil
	}

	org = &domain.NotificationOrgState{OrgID: orgID}
	if _, err := m.store.Load(ctx, stateKey, org); err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			return nil, fmt.Errorf("load org %s: %w", orgID, err)
		}
		org = &domain.NotificationOrgState{OrgID: orgID}
	}

	m.mu.Lock()
	m.orgs[stateKey] = org
	m.mu.Unlock()
	return org, nil
}

func cloneMetadata(values map[string]string) map[string]string {
	if values == nil {
		return nil
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		out[key] = value
	}
	return out
}
