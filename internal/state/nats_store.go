package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"sitealert/internal/config"

	"github.com/nats-io/nats.go"
)

// NATSStore persists tenant state in one JetStream KV bucket.
type NATSStore struct {
	nc *nats.Conn
	kv nats.KeyValue
}

// NewNATSStore opens or creates KV bucket and returns NATS state backend.
// Params: NATS state settings from config.
// Returns: initialized NATS store or setup error.
func NewNATSStore(settings config.NATSStateConfig) (*NATSStore, error) {
	nc, err := nats.Connect(strings.Join(settings.URL, ","), nats.Name("sitealert-state"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	kv, err := js.KeyValue(settings.Bucket)
	if err != nil {
		if !settings.AllowCreateBuckets {
			nc.Close()
			return nil, fmt.Errorf("open state bucket %q: %w", settings.Bucket, err)
		}
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      settings.Bucket,
			Description: "sitealert tenant state",
			History:     uint8(settings.History),
			Replicas:    settings.Replicas,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create state bucket %q: %w", settings.Bucket, err)
		}
	}

	return &NATSStore{nc: nc, kv: kv}, nil
}

// Load reads one document and its KV revision.
// Params: tenant key and decode target pointer.
// Returns: revision or ErrNotFound.
func (s *NATSStore) Load(_ context.Context, key string, dst any) (uint64, error) {
	entry, err := s.kv.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("get state %q: %w", key, err)
	}
	if err := json.Unmarshal(entry.Value(), dst); err != nil {
		return 0, fmt.Errorf("decode state %q: %w", key, err)
	}
	return entry.Revision(), nil
}

// Save writes document unconditionally.
// Params: tenant key and document.
// Returns: new KV revision.
func (s *NATSStore) Save(_ context.Context, key string, src any) (uint64, error) {
	body, err := json.Marshal(src)
	if err != nil {
		return 0, fmt.Errorf("encode state %q: %w", key, err)
	}
	rev, err := s.kv.Put(key, body)
	if err != nil {
		return 0, fmt.Errorf("put state %q: %w", key, err)
	}
	return rev, nil
}

// Close closes underlying NATS connection.
func (s *NATSStore) Close() error {
	s.nc.Close()
	return nil
}
