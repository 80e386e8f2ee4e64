package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"sitealert/internal/domain"
	"sitealert/internal/metrics"
)

// SnapshotSink evaluates one snapshot for one site.
type SnapshotSink interface {
	EvaluateRules(ctx context.Context, key domain.SiteKey, snapshot domain.MetricsSnapshot) ([]domain.Alert, error)
}

// decodePayload auto-detects batch vs single envelope payload.
// Params: raw JSON bytes with one object or array.
// Returns: validated envelopes.
func decodePayload(raw []byte) ([]domain.SnapshotEnvelope, error) {
	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()

	var envelopes []domain.SnapshotEnvelope
	if payload[0] == '[' {
		batch, err := domain.DecodeEnvelopesReader(decoder)
		if err != nil {
			return nil, err
		}
		envelopes = batch
	} else {
		envelope, err := domain.DecodeEnvelopeReader(decoder)
		if err != nil {
			return nil, err
		}
		envelopes = []domain.SnapshotEnvelope{envelope}
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return nil, err
	}
	return envelopes, nil
}

// ensureJSONEOF rejects trailing tokens after a decoded JSON payload.
// Params: decoder positioned after primary decode.
// Returns: nil on EOF or error on trailing tokens.
func ensureJSONEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	err := decoder.Decode(&extra)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decode trailing json: %w", err)
	}
	return errors.New("unexpected trailing json tokens")
}

// batchResult summarizes evaluation of one payload.
type batchResult struct {
	Accepted int
	Alerts   int
	Err      error
}

// evaluateEnvelopes evaluates every envelope; one failing site does not stop the rest.
// Params: context, sink, envelopes, and transport label for metrics.
// Returns: counts plus first error.
func evaluateEnvelopes(ctx context.Context, sink SnapshotSink, envelopes []domain.SnapshotEnvelope, transport string) batchResult {
	var result batchResult
	for i := range envelopes {
		envelope := envelopes[i]
		created, err := sink.EvaluateRules(ctx, envelope.Key(), envelope.Snapshot)
		if err != nil {
			if result.Err == nil {
				result.Err = fmt.Errorf("site %s: %w", envelope.Key(), err)
			}
			continue
		}
		result.Accepted++
		result.Alerts += len(created)
		metrics.SnapshotsIngested.WithLabelValues(transport).Inc()
	}
	return result
}
