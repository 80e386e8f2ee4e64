package state

import (
	"context"
	"path/filepath"
	"testing"

	"sitealert/internal/config"
	"sitealert/internal/domain"
)

func TestSQLiteStoreContract(t *testing.T) {
	t.Parallel()

	store, err := NewSQLiteStore(config.SQLiteStateConfig{Path: filepath.Join(t.TempDir(), "state", "sitealert.db")})
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	defer store.Close()

	exerciseStore(t, store)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sitealert.db")
	store, err := NewSQLiteStore(config.SQLiteStateConfig{Path: path})
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	if _, err := store.Save(context.Background(), "notifications.org-1", domain.NotificationOrgState{OrgID: "org-1", Initialized: true}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewSQLiteStore(config.SQLiteStateConfig{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	var loaded domain.NotificationOrgState
	rev, err := reopened.Load(context.Background(), "notifications.org-1", &loaded)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rev != 1 || !loaded.Initialized {
		t.Fatalf("unexpected reopened state rev=%d %+v", rev, loaded)
	}
}
