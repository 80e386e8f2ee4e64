package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"sitealert/internal/clock"
	"sitealert/internal/domain"
	"sitealert/internal/engine"
	"sitealert/internal/events"
	"sitealert/internal/logging"
	"sitealert/internal/metrics"
	"sitealert/internal/state"
	"sitealert/internal/tenant"

	"github.com/google/uuid"
)

// AlertManager owns per-site rule catalogs and alert lifecycle.
// Every operation for one site runs through the tenant executor, so a site has one writer at a time.
type AlertManager struct {
	store     state.Store
	executor  *tenant.Executor
	publisher events.Publisher
	clock     clock.Clock
	logger    *slog.Logger

	mu    sync.Mutex
	sites map[string]*domain.AlertSiteState
}

// NewAlertManager creates alert manager.
// Params: state store, tenant executor, event publisher, clock, and logger.
// Returns: manager with empty site cache.
func NewAlertManager(store state.Store, executor *tenant.Executor, publisher events.Publisher, clk clock.Clock, logger *slog.Logger) *AlertManager {
	if logger == nil {
		logger = logging.Discard()
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &AlertManager{
		store:     store,
		executor:  executor,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
		sites:     make(map[string]*domain.AlertSiteState),
	}
}

// Initialize seeds default rules for a site. Repeated calls are no-ops.
// Params: context and site key.
// Returns: validation or persistence error.
func (m *AlertManager) Initialize(ctx context.Context, key domain.SiteKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	return m.withSite(ctx, key, func(site *domain.AlertSiteState) (bool, error) {
		if site.Initialized {
			return false, nil
		}
		site.Initialized = true
		site.Rules = engine.DefaultRules()
		if site.RuleLastTriggered == nil {
			site.RuleLastTriggered = make(map[string]time.Time)
		}
		site.Version++
		logging.ForSite(m.logger, key.OrgID, key.SiteID).Info("site initialized", "rules", len(site.Rules))
		return true, nil
	})
}

// CreateAlert appends a new active alert and publishes alert.triggered.
// Params: context, site key, and alert description.
// Returns: created alert, ErrInvalidAlert, ErrNotInitialized, or persistence error.
func (m *AlertManager) CreateAlert(ctx context.Context, key domain.SiteKey, input domain.NewAlert) (domain.Alert, error) {
	input, err := input.Normalize()
	if err != nil {
		return domain.Alert{}, err
	}
	var created domain.Alert
	err = m.withInitializedSite(ctx, key, func(site *domain.AlertSiteState) (bool, error) {
		created = m.appendAlert(site, input, m.clock.Now())
		site.Version++
		return true, nil
	})
	if err != nil {
		return domain.Alert{}, err
	}
	m.publishAlert(ctx, events.KindAlertTriggered, key, created)
	return created, nil
}

// Acknowledge marks alert as acknowledged by actor.
// Params: context, site key, alert id, and actor.
// Returns: updated alert or NotFound/InvalidStateTransition error.
func (m *AlertManager) Acknowledge(ctx context.Context, key domain.SiteKey, alertID, actor string) (domain.Alert, error) {
	return m.transition(ctx, key, alertID, domain.AlertStatusAcknowledged, events.KindAlertAcknowledged, func(alert *domain.Alert, now time.Time) {
		alert.AcknowledgedAt = &now
		alert.AcknowledgedBy = actor
		alert.SnoozedUntil = nil
	})
}

// Resolve marks alert as resolved with optional notes.
// Params: context, site key, alert id, actor, and resolution notes.
// Returns: updated alert or NotFound/InvalidStateTransition error.
func (m *AlertManager) Resolve(ctx context.Context, key domain.SiteKey, alertID, actor, notes string) (domain.Alert, error) {
	return m.transition(ctx, key, alertID, domain.AlertStatusResolved, events.KindAlertResolved, func(alert *domain.Alert, now time.Time) {
		alert.ResolvedAt = &now
		alert.ResolvedBy = actor
		alert.ResolutionNotes = notes
		alert.SnoozedUntil = nil
	})
}

// Snooze hides alert until now+duration.
// Only active or snoozed alerts may be snoozed; acknowledged, resolved and
// dismissed alerts return ErrInvalidStateTransition. Re-snoozing replaces the deadline.
// Params: context, site key, alert id, and positive duration.
// Returns: updated alert or NotFound/InvalidStateTransition error.
func (m *AlertManager) Snooze(ctx context.Context, key domain.SiteKey, alertID string, duration time.Duration) (domain.Alert, error) {
	if duration <= 0 {
		return domain.Alert{}, fmt.Errorf("snooze duration must be positive, got %s", duration)
	}
	return m.transition(ctx, key, alertID, domain.AlertStatusSnoozed, events.KindAlertSnoozed, func(alert *domain.Alert, now time.Time) {
		until := now.Add(duration)
		alert.SnoozedUntil = &until
	})
}

// Dismiss marks alert as dismissed by actor.
// Params: context, site key, alert id, and actor.
// Returns: updated alert or NotFound/InvalidStateTransition error.
func (m *AlertManager) Dismiss(ctx context.Context, key domain.SiteKey, alertID, actor string) (domain.Alert, error) {
	return m.transition(ctx, key, alertID, domain.AlertStatusDismissed, events.KindAlertDismissed, func(alert *domain.Alert, now time.Time) {
		alert.DismissedAt = &now
		alert.DismissedBy = actor
		alert.SnoozedUntil = nil
	})
}

// GetAlert returns one alert by id.
func (m *AlertManager) GetAlert(ctx context.Context, key domain.SiteKey, alertID string) (domain.Alert, error) {
	var out domain.Alert
	err := m.readSite(ctx, key, func(site *domain.AlertSiteState) error {
		index := site.FindAlert(alertID)
		if index < 0 {
			return fmt.Errorf("alert %q: %w", alertID, domain.ErrNotFound)
		}
		out = site.Alerts[index].Clone()
		return nil
	})
	return out, err
}

// GetAlerts filters by stored status and type, newest first, truncated to limit.
// Params: context, site key, and filter (zero fields match all, limit 0 is unlimited).
// Returns: matching alerts.
func (m *AlertManager) GetAlerts(ctx context.Context, key domain.SiteKey, filter domain.AlertFilter) ([]domain.Alert, error) {
	var out []domain.Alert
	err := m.readSite(ctx, key, func(site *domain.AlertSiteState) error {
		out = make([]domain.Alert, 0, len(site.Alerts))
		for _, alert := range site.Alerts {
			if filter.Status != "" && alert.Status != filter.Status {
				continue
			}
			if filter.Type != "" && alert.Type != filter.Type {
				continue
			}
			out = append(out, alert.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TriggeredAt.After(out[j].TriggeredAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// GetActiveAlerts returns active alerts plus snoozed alerts whose snooze elapsed.
// Ordered by severity descending, then newest first.
func (m *AlertManager) GetActiveAlerts(ctx context.Context, key domain.SiteKey) ([]domain.Alert, error) {
	now := m.clock.Now()
	var out []domain.Alert
	err := m.readSite(ctx, key, func(site *domain.AlertSiteState) error {
		for _, alert := range site.Alerts {
			if alert.IsActiveAt(now) {
				out = append(out, alert.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		left, right := out[i].Severity.Rank(), out[j].Severity.Rank()
		if left != right {
			return left > right
		}
		return out[i].TriggeredAt.After(out[j].TriggeredAt)
	})
	return out, nil
}

// GetCountsByType counts effectively active alerts per type.
func (m *AlertManager) GetCountsByType(ctx context.Context, key domain.SiteKey) (map[domain.AlertType]int, error) {
	now := m.clock.Now()
	counts := make(map[domain.AlertType]int)
	err := m.readSite(ctx, key, func(site *domain.AlertSiteState) error {
		for _, alert := range site.Alerts {
			if alert.IsActiveAt(now) {
				counts[alert.Type]++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// GetRules returns site rule catalog in evaluation order.
func (m *AlertManager) GetRules(ctx context.Context, key domain.SiteKey) ([]domain.AlertRule, error) {
	var out []domain.AlertRule
	err := m.readSite(ctx, key, func(site *domain.AlertSiteState) error {
		out = make([]domain.AlertRule, 0, len(site.Rules))
		for _, rule := range site.Rules {
			out = append(out, rule.Clone())
		}
		return nil
	})
	return out, err
}

// UpdateRule replaces rule with the same id or appends it.
// Params: context, site key, and rule definition.
// Returns: ErrInvalidRule, ErrNotInitialized, or persistence error.
func (m *AlertManager) UpdateRule(ctx context.Context, key domain.SiteKey, rule domain.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	return m.withInitializedSite(ctx, key, func(site *domain.AlertSiteState) (bool, error) {
		var inserted bool
		site.Rules, inserted = engine.UpsertRule(site.Rules, rule.Clone())
		site.Version++
		logging.ForSite(m.logger, key.OrgID, key.SiteID).Info("rule updated", "rule_id", rule.RuleID, "inserted", inserted)
		return true, nil
	})
}

// EvaluateRules runs every enabled rule against one snapshot and creates alerts for triggered rules.
// A rule that errors or panics is logged and skipped; state is saved once when anything was created.
// Params: context, site key, and metrics snapshot.
// Returns: created alerts.
func (m *AlertManager) EvaluateRules(ctx context.Context, key domain.SiteKey, snapshot domain.MetricsSnapshot) ([]domain.Alert, error) {
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}
	var created []domain.Alert
	err := m.withInitializedSite(ctx, key, func(site *domain.AlertSiteState) (bool, error) {
		now := m.clock.Now()
		logger := logging.ForSite(m.logger, key.OrgID, key.SiteID)
		if site.RuleLastTriggered == nil {
			site.RuleLastTriggered = make(map[string]time.Time)
		}
		for _, rule := range site.Rules {
			if !rule.Enabled {
				continue
			}
			alert, ok := m.evaluateRule(logger, site, rule, snapshot, now)
			if ok {
				created = append(created, alert)
			}
		}
		if len(created) == 0 {
			return false, nil
		}
		site.Version++
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	for _, alert := range created {
		metrics.AlertsTriggered.WithLabelValues(string(alert.Type), string(alert.Severity)).Inc()
		m.publishAlert(ctx, events.KindAlertTriggered, key, alert)
	}
	return created, nil
}

// evaluateRule runs one rule in isolation.
// Returns: created alert and true when the rule fired.
func (m *AlertManager) evaluateRule(logger *slog.Logger, site *domain.AlertSiteState, rule domain.AlertRule, snapshot domain.MetricsSnapshot, now time.Time) (created domain.Alert, fired bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("rule evaluation panicked", "rule_id", rule.RuleID, "panic", recovered)
			metrics.RulesSkipped.WithLabelValues("panic").Inc()
			created, fired = domain.Alert{}, false
		}
	}()

	if engine.InCooldown(rule, site.RuleLastTriggered, now) {
		metrics.RulesSkipped.WithLabelValues("cooldown").Inc()
		return domain.Alert{}, false
	}
	result, err := engine.Evaluate(rule, snapshot)
	if err != nil {
		reason := "error"
		if errors.Is(err, domain.ErrMetricMissing) {
			reason = "metric_missing"
			logger.Debug("rule skipped", "rule_id", rule.RuleID, "reason", err.Error())
		} else {
			logger.Warn("rule evaluation failed", "rule_id", rule.RuleID, "error", err.Error())
		}
		metrics.RulesSkipped.WithLabelValues(reason).Inc()
		return domain.Alert{}, false
	}
	if !result.Triggered {
		metrics.RulesSkipped.WithLabelValues("not_triggered").Inc()
		return domain.Alert{}, false
	}

	title, message := engine.RenderAlertText(rule, result, snapshot)
	alert := m.appendAlert(site, domain.NewAlert{
		Type:       rule.Type,
		Severity:   rule.Severity,
		Title:      title,
		Message:    message,
		EntityID:   snapshot.EntityID,
		EntityType: snapshot.EntityType,
		Metadata:   engine.BuildMetadata(rule, result, snapshot),
	}, now)
	site.RuleLastTriggered[rule.RuleID] = now
	logger.Info("alert triggered", "rule_id", rule.RuleID, "alert_id", alert.AlertID, "severity", alert.Severity)
	return alert, true
}

// appendAlert takes ownership of input.Metadata; callers pass a map nobody else holds.
func (m *AlertManager) appendAlert(site *domain.AlertSiteState, input domain.NewAlert, now time.Time) domain.Alert {
	alert := domain.Alert{
		AlertID:     uuid.NewString(),
		Type:        input.Type,
		Severity:    input.Severity,
		Title:       input.Title,
		Message:     input.Message,
		EntityID:    input.EntityID,
		EntityType:  input.EntityType,
		TriggeredAt: now,
		Status:      domain.AlertStatusActive,
		Metadata:    input.Metadata,
	}
	site.Alerts = append(site.Alerts, alert)
	return alert.Clone()
}

// transition applies one lifecycle command checked against the effective status.
func (m *AlertManager) transition(
	ctx context.Context,
	key domain.SiteKey,
	alertID string,
	to domain.AlertStatus,
	kind events.Kind,
	apply func(alert *domain.Alert, now time.Time),
) (domain.Alert, error) {
	var updated domain.Alert
	err := m.withInitializedSite(ctx, key, func(site *domain.AlertSiteState) (bool, error) {
		index := site.FindAlert(alertID)
		if index < 0 {
			return false, fmt.Errorf("alert %q: %w", alertID, domain.ErrNotFound)
		}
		now := m.clock.Now()
		alert := &site.Alerts[index]
		from := alert.EffectiveStatus(now)
		if !domain.CanTransition(from, to) {
			return false, fmt.Errorf("alert %q %s -> %s: %w", alertID, from, to, domain.ErrInvalidStateTransition)
		}
		apply(alert, now)
		alert.Status = to
		site.Version++
		updated = alert.Clone()
		return true, nil
	})
	if err != nil {
		return domain.Alert{}, err
	}
	m.publishAlert(ctx, kind, key, updated)
	return updated, nil
}

func (m *AlertManager) publishAlert(ctx context.Context, kind events.Kind, key domain.SiteKey, alert domain.Alert) {
	publish(ctx, m.publisher, m.logger, events.AlertEvent(kind, key, alert, m.clock.Now()))
}

// withInitializedSite runs a mutation only after Initialize.
func (m *AlertManager) withInitializedSite(ctx context.Context, key domain.SiteKey, fn func(site *domain.AlertSiteState) (bool, error)) error {
	return m.withSite(ctx, key, func(site *domain.AlertSiteState) (bool, error) {
		if !site.Initialized {
			return false, fmt.Errorf("site %s: %w", key, domain.ErrNotInitialized)
		}
		return fn(site)
	})
}

// readSite runs a read-only view under the site writer slot.
func (m *AlertManager) readSite(ctx context.Context, key domain.SiteKey, fn func(site *domain.AlertSiteState) error) error {
	return m.withInitializedSite(ctx, key, func(site *domain.AlertSiteState) (bool, error) {
		return false, fn(site)
	})
}

// withSite loads cached site state, runs fn, and saves when fn reports a change.
// A failed save evicts the cached copy so the next call reloads durable state.
func (m *AlertManager) withSite(ctx context.Context, key domain.SiteKey, fn func(site *domain.AlertSiteState) (bool, error)) error {
	stateKey := tenant.AlertStateKey(key.OrgID, key.SiteID)
	return m.executor.Do(ctx, stateKey, func(ctx context.Context) error {
		site, err := m.loadSite(ctx, stateKey, key)
		if err != nil {
			return err
		}
		changed, err := fn(site)
		if err != nil || !changed {
			return err
		}
		if _, err := m.store.Save(ctx, stateKey, site); err != nil {
			m.evict(stateKey)
			return fmt.Errorf("save site %s: %w", key, err)
		}
		return nil
	})
}

func (m *AlertManager) loadSite(ctx context.Context, stateKey string, key domain.SiteKey) (*domain.AlertSiteState, error) {
	m.mu.Lock()
	site, ok := m.sites[stateKey]
	m.mu.Unlock()
	if ok {
		return site, nil
	}

	site = &domain.AlertSiteState{OrgID: key.OrgID, SiteID: key.SiteID}
	if _, err := m.store.Load(ctx, stateKey, site); err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			return nil, fmt.Errorf("load site %s: %w", key, err)
		}
		site = &domain.AlertSiteState{OrgID: key.OrgID, SiteID: key.SiteID}
	}

	m.mu.Lock()
	m.sites[stateKey] = site
	m.mu.Unlock()
	return site, nil
}

func (m *AlertManager) evict(stateKey string) {
	m.mu.Lock()
	delete(m.sites, stateKey)
	m.mu.Unlock()
}
