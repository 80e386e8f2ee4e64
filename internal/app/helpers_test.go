package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sitealert/internal/clock"
	"sitealert/internal/domain"
	"sitealert/internal/events"
	"sitealert/internal/logging"
	"sitealert/internal/notify"
	"sitealert/internal/state"
	"sitealert/internal/tenant"

	"github.com/shopspring/decimal"
)

var (
	testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	testSite  = domain.SiteKey{OrgID: "org-1", SiteID: "site-1"}
)

type testEnv struct {
	clock         *clock.Manual
	recorder      *events.Recorder
	alerts        *AlertManager
	notifications *NotificationManager
}

func newTestEnv(t *testing.T, historyMax int, senders ...notify.ChannelSender) *testEnv {
	t.Helper()

	clk := clock.NewManual(testStart)
	recorder := events.NewRecorder()
	store := state.NewMemoryStore()
	executor := tenant.NewExecutor()
	logger := logging.Discard()
	dispatcher := notify.NewDispatcherWithSenders(logger, senders...)
	return &testEnv{
		clock:         clk,
		recorder:      recorder,
		alerts:        NewAlertManager(store, executor, recorder, clk, logger),
		notifications: NewNotificationManager(store, executor, dispatcher, recorder, clk, logger, historyMax),
	}
}

func (e *testEnv) initSite(t *testing.T) {
	t.Helper()
	if err := e.alerts.Initialize(context.Background(), testSite); err != nil {
		t.Fatalf("initialize site: %v", err)
	}
}

func (e *testEnv) initOrg(t *testing.T) {
	t.Helper()
	if err := e.notifications.Initialize(context.Background(), testSite.OrgID); err != nil {
		t.Fatalf("initialize org: %v", err)
	}
}

func stockRule(cooldown time.Duration) domain.AlertRule {
	return domain.AlertRule{
		RuleID:    "shelf-stock",
		Type:      domain.AlertTypeCustom,
		Name:      "Shelf stock",
		Enabled:   true,
		Severity:  domain.SeverityHigh,
		Metric:    "shelf_stock",
		Operator:  domain.OperatorLT,
		Threshold: decimal.NewFromInt(10),
		Cooldown:  cooldown,
	}
}

func stockSnapshot(value int64) domain.MetricsSnapshot {
	return domain.MetricsSnapshot{
		EntityID:   "sku-42",
		EntityType: "product",
		EntityName: "Oat milk",
		Metrics:    map[string]decimal.Decimal{"shelf_stock": decimal.NewFromInt(value)},
	}
}

type stubSender struct {
	channel domain.ChannelType
	fail    bool
	panics  bool

	mu       sync.Mutex
	messages []notify.Message
}

func (s *stubSender) Channel() domain.ChannelType {
	return s.channel
}

func (s *stubSender) Send(_ context.Context, message notify.Message) (notify.SendResult, error) {
	if s.panics {
		panic("transport exploded")
	}
	s.mu.Lock()
	s.messages = append(s.messages, message)
	s.mu.Unlock()
	if s.fail {
		return notify.SendResult{}, errors.New("gateway unavailable")
	}
	return notify.SendResult{MessageID: "ext-" + message.NotificationID}, nil
}

func (s *stubSender) sent() []notify.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Message(nil), s.messages...)
}
