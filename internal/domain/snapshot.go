package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MetricsSnapshot is point-in-time metrics of one entity, the evaluation input.
type MetricsSnapshot struct {
	EntityID   string                     `json:"entity_id"`
	EntityType string                     `json:"entity_type"`
	EntityName string                     `json:"entity_name,omitempty"`
	Metrics    map[string]decimal.Decimal `json:"metrics"`
	Context    map[string]string          `json:"context,omitempty"`
}

// Metric returns named metric value.
// Params: metric name.
// Returns: value and presence flag.
func (s MetricsSnapshot) Metric(name string) (decimal.Decimal, bool) {
	value, ok := s.Metrics[name]
	return value, ok
}

// Validate checks snapshot identity and metric names.
// Params: none.
// Returns: validation error.
func (s MetricsSnapshot) Validate() error {
	if strings.TrimSpace(s.EntityID) == "" {
		return errors.New("entity_id is required")
	}
	if strings.TrimSpace(s.EntityType) == "" {
		return errors.New("entity_type is required")
	}
	if len(s.Metrics) == 0 {
		return errors.New("metrics are required")
	}
	for name := range s.Metrics {
		if strings.TrimSpace(name) == "" {
			return errors.New("metric name must not be empty")
		}
	}
	return nil
}

// SnapshotEnvelope routes one snapshot to its site tenant on ingest transports.
type SnapshotEnvelope struct {
	OrgID    string          `json:"org_id"`
	SiteID   string          `json:"site_id"`
	Snapshot MetricsSnapshot `json:"snapshot"`
}

// Key returns site tenant key of envelope.
func (e SnapshotEnvelope) Key() SiteKey {
	return SiteKey{OrgID: e.OrgID, SiteID: e.SiteID}
}

// Validate checks tenant ids and nested snapshot.
func (e SnapshotEnvelope) Validate() error {
	if err := e.Key().Validate(); err != nil {
		return err
	}
	if err := e.Snapshot.Validate(); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	return nil
}

// DecodeEnvelope decodes and validates one envelope.
// Params: JSON document bytes.
// Returns: validated envelope or decode/validation error.
func DecodeEnvelope(raw []byte) (SnapshotEnvelope, error) {
	var envelope SnapshotEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return SnapshotEnvelope{}, fmt.Errorf("decode snapshot envelope: %w", err)
	}
	if err := envelope.Validate(); err != nil {
		return SnapshotEnvelope{}, err
	}
	return envelope, nil
}

// DecodeEnvelopeReader decodes and validates one envelope from stream.
// Params: decoder positioned at one JSON object.
// Returns: validated envelope or decode/validation error.
func DecodeEnvelopeReader(reader *json.Decoder) (SnapshotEnvelope, error) {
	var envelope SnapshotEnvelope
	if err := reader.Decode(&envelope); err != nil {
		return SnapshotEnvelope{}, fmt.Errorf("decode snapshot envelope: %w", err)
	}
	if err := envelope.Validate(); err != nil {
		return SnapshotEnvelope{}, err
	}
	return envelope, nil
}

// DecodeEnvelopesReader decodes and validates one batch of envelopes.
// Params: decoder positioned at one JSON array.
// Returns: validated envelopes or decode/validation error.
func DecodeEnvelopesReader(reader *json.Decoder) ([]SnapshotEnvelope, error) {
	var envelopes []SnapshotEnvelope
	if err := reader.Decode(&envelopes); err != nil {
		return nil, fmt.Errorf("decode snapshot batch: %w", err)
	}
	if len(envelopes) == 0 {
		return nil, errors.New("snapshot batch must contain at least one envelope")
	}
	for i := range envelopes {
		if err := envelopes[i].Validate(); err != nil {
			return nil, fmt.Errorf("snapshot[%d]: %w", i, err)
		}
	}
	return envelopes, nil
}
