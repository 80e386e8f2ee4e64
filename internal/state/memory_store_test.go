package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"sitealert/internal/domain"
)

// exerciseStore runs the shared Load/Save contract against one backend.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	var missing domain.AlertSiteState
	if _, err := store.Load(ctx, "alerts.org-1.site-1", &missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	triggered := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	doc := domain.AlertSiteState{
		OrgID:       "org-1",
		SiteID:      "site-1",
		Initialized: true,
		Alerts: []domain.Alert{{
			AlertID:     "a-1",
			Type:        domain.AlertTypeLowStock,
			Severity:    domain.SeverityMedium,
			Status:      domain.AlertStatusActive,
			TriggeredAt: triggered,
			Metadata:    map[string]string{"ruleId": "low-stock"},
		}},
		RuleLastTriggered: map[string]time.Time{"low-stock": triggered},
		Version:           1,
	}
	rev1, err := store.Save(ctx, "alerts.org-1.site-1", doc)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	var loaded domain.AlertSiteState
	rev, err := store.Load(ctx, "alerts.org-1.site-1", &loaded)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rev != rev1 {
		t.Fatalf("revision mismatch: load=%d save=%d", rev, rev1)
	}
	if len(loaded.Alerts) != 1 || loaded.Alerts[0].Metadata["ruleId"] != "low-stock" {
		t.Fatalf("unexpected loaded alerts: %+v", loaded.Alerts)
	}
	if !loaded.RuleLastTriggered["low-stock"].Equal(triggered) {
		t.Fatalf("cooldown timestamp not preserved: %v", loaded.RuleLastTriggered)
	}

	loaded.Version = 2
	rev2, err := store.Save(ctx, "alerts.org-1.site-1", loaded)
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if rev2 <= rev1 {
		t.Fatalf("expected revision to grow: %d -> %d", rev1, rev2)
	}
}

func TestMemoryStoreContract(t *testing.T) {
	t.Parallel()

	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreIsolatesCallerCopies(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	doc := domain.NotificationOrgState{OrgID: "org-1", Channels: []domain.ChannelConfig{{ChannelID: "c1"}}}
	if _, err := store.Save(context.Background(), "notifications.org-1", doc); err != nil {
		t.Fatalf("save: %v", err)
	}
	doc.Channels[0].ChannelID = "mutated"

	var loaded domain.NotificationOrgState
	if _, err := store.Load(context.Background(), "notifications.org-1", &loaded); err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Channels[0].ChannelID != "c1" {
		t.Fatalf("store must not alias caller state, got %q", loaded.Channels[0].ChannelID)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one document, got %d", store.Len())
	}
}
