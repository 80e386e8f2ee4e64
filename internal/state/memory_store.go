package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore keeps tenant state in process memory for single-instance mode.
// Documents are stored encoded so callers never share mutable state with the store.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]memoryDoc
}

type memoryDoc struct {
	body     []byte
	revision uint64
}

// NewMemoryStore creates in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]memoryDoc)}
}

// Load decodes stored document into dst.
// Params: tenant key and decode target pointer.
// Returns: revision or ErrNotFound.
func (s *MemoryStore) Load(_ context.Context, key string, dst any) (uint64, error) {
	s.mu.RLock()
	doc, ok := s.docs[key]
	s.mu.RUnlock()
	if !ok {
		return 0, ErrNotFound
	}
	if err := json.Unmarshal(doc.body, dst); err != nil {
		return 0, fmt.Errorf("decode state %q: %w", key, err)
	}
	return doc.revision, nil
}

// Save encodes src and replaces stored document.
// Params: tenant key and document.
// Returns: new revision.
func (s *MemoryStore) Save(_ context.Context, key string, src any) (uint64, error) {
	body, err := json.Marshal(src)
	if err != nil {
		return 0, fmt.Errorf("encode state %q: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rev := s.docs[key].revision + 1
	s.docs[key] = memoryDoc{body: body, revision: rev}
	return rev, nil
}

// Len returns number of stored documents.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Close releases memory store resources.
func (s *MemoryStore) Close() error {
	return nil
}
