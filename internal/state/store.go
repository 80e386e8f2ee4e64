package state

import (
	"context"
	"errors"
)

// ErrNotFound indicates absent tenant state document.
var ErrNotFound = errors.New("state not found")

// Store persists per-tenant state documents as JSON.
// Save returns only after the write is durable for the backend.
type Store interface {
	Load(ctx context.Context, key string, dst any) (uint64, error)
	Save(ctx context.Context, key string, src any) (uint64, error)
	Close() error
}
