package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sitealert/internal/domain"
	"sitealert/internal/permanent"
)

func sampleAlert() domain.Alert {
	return domain.Alert{
		AlertID:     "a-1",
		Type:        domain.AlertTypeOutOfStock,
		Severity:    domain.SeverityHigh,
		Title:       "Out of stock: Oat milk",
		Message:     "Oat milk has run out.",
		EntityID:    "item-7",
		EntityType:  "inventory_item",
		Status:      domain.AlertStatusActive,
		TriggeredAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Metadata:    map[string]string{"ruleId": "out-of-stock"},
	}
}

func TestAlertEventRoundTripsAlert(t *testing.T) {
	t.Parallel()

	key := domain.SiteKey{OrgID: "org-1", SiteID: "site-1"}
	event := AlertEvent(KindAlertTriggered, key, sampleAlert(), time.Date(2026, 3, 1, 9, 0, 1, 0, time.UTC))
	if event.ID == "" || event.OrgID != "org-1" || event.SiteID != "site-1" {
		t.Fatalf("unexpected envelope: %+v", event)
	}
	if event.Fields["triggered_at"] != "2026-03-01T09:00:00Z" {
		t.Fatalf("timestamps must be RFC 3339, got %q", event.Fields["triggered_at"])
	}
	if event.Fields["meta.ruleId"] != "out-of-stock" {
		t.Fatalf("metadata must be flattened, got %+v", event.Fields)
	}

	alert, err := AlertFromEvent(event)
	if err != nil {
		t.Fatalf("alert from event: %v", err)
	}
	if alert.AlertID != "a-1" || alert.Severity != domain.SeverityHigh || alert.Metadata["ruleId"] != "out-of-stock" {
		t.Fatalf("unexpected rebuilt alert: %+v", alert)
	}
}

func TestBuildEventIDDeterministic(t *testing.T) {
	t.Parallel()

	at := time.Unix(1700000000, 0).UTC()
	key := domain.SiteKey{OrgID: "org-1", SiteID: "site-1"}
	first := AlertEvent(KindAlertTriggered, key, sampleAlert(), at)
	second := AlertEvent(KindAlertTriggered, key, sampleAlert(), at)
	if first.ID != second.ID {
		t.Fatalf("expected deterministic ids: %q != %q", first.ID, second.ID)
	}
	other := AlertEvent(KindAlertResolved, key, sampleAlert(), at)
	if other.ID == first.ID {
		t.Fatalf("kind must be part of the id")
	}
}

func TestNotificationEventFields(t *testing.T) {
	t.Parallel()

	record := domain.NotificationRecord{
		NotificationID:     "n-1",
		Type:               domain.ChannelSMS,
		Recipient:          "+15550100",
		Status:             domain.NotificationFailed,
		CreatedAt:          time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		RetryCount:         2,
		ErrorMessage:       "gateway 503",
		TriggeredByAlertID: "a-1",
	}
	event := NotificationEvent(KindNotificationFailed, "org-1", record, record.CreatedAt)
	if event.Fields["retry_count"] != "2" || event.Fields["error_message"] != "gateway 503" || event.Fields["triggered_by_alert_id"] != "a-1" {
		t.Fatalf("unexpected fields: %+v", event.Fields)
	}
	if _, ok := event.Fields["sent_at"]; ok {
		t.Fatalf("unset timestamps must be omitted")
	}
	if _, err := AlertFromEvent(event); err == nil {
		t.Fatalf("notification event must not decode as alert")
	}
}

func TestRecorder(t *testing.T) {
	t.Parallel()

	recorder := NewRecorder()
	_ = recorder.Publish(context.Background(), Event{Kind: KindNotificationQueued})
	recorder.FailWith(errors.New("broker down"))
	if err := recorder.Publish(context.Background(), Event{Kind: KindNotificationSent}); err == nil {
		t.Fatalf("expected configured failure")
	}
	if recorder.Count(KindNotificationQueued) != 1 || len(recorder.Events()) != 1 {
		t.Fatalf("unexpected recorded events: %v", recorder.Kinds())
	}
}

func TestLocalBusDeliversInOrderAndIsolatesHandlers(t *testing.T) {
	t.Parallel()

	bus := NewLocalBus(8, nil)
	var (
		mu  sync.Mutex
		ids []string
	)
	bus.Subscribe(KindAlertTriggered, func(_ context.Context, event Event) error {
		panic("boom")
	})
	bus.Subscribe(KindAlertTriggered, func(_ context.Context, event Event) error {
		mu.Lock()
		ids = append(ids, event.ID)
		mu.Unlock()
		return permanent.Mark(errors.New("ignored"))
	})

	for _, id := range []string{"e1", "e2", "e3"} {
		if err := bus.Publish(context.Background(), Event{ID: id, Kind: KindAlertTriggered}); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}
	_ = bus.Publish(context.Background(), Event{ID: "other", Kind: KindAlertResolved})
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if len(ids) != 3 || ids[0] != "e1" || ids[2] != "e3" {
		t.Fatalf("unexpected delivery order: %v", ids)
	}
	if err := bus.Publish(context.Background(), Event{Kind: KindAlertTriggered}); !errors.Is(err, ErrBusClosed) {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}
}
