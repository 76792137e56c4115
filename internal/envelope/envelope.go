// Package envelope implements the wire-visible EventEnvelope contract
// (spec.md §6), including the backward-compatible field aliases.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope wraps a subject-specific payload with idempotency and causation
// metadata. Alternate field names (producer/source_module, etc.) are
// accepted on decode for backward compatibility, per spec.md §6.
type Envelope[T any] struct {
	EventID       string    `json:"event_id"`
	OccurredAt    time.Time `json:"occurred_at"`
	TenantID      string    `json:"tenant_id"`
	SourceModule  string    `json:"source_module"`
	SourceVersion string    `json:"source_version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	CausationID   string    `json:"causation_id,omitempty"`
	Payload       T         `json:"payload"`
}

// wireAlias mirrors Envelope but accepts every alternate field name so
// UnmarshalJSON can merge whichever set the producer used.
type wireAlias[T any] struct {
	EventID       string          `json:"event_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	TenantID      string          `json:"tenant_id"`
	SourceModule  string          `json:"source_module"`
	Producer      string          `json:"producer"`
	SourceVersion string          `json:"source_version"`
	SchemaVersion string          `json:"schema_version"`
	CorrelationID string          `json:"correlation_id"`
	TraceID       string          `json:"trace_id"`
	CausationID   string          `json:"causation_id"`
	Payload       json.RawMessage `json:"payload"`
	Data          json.RawMessage `json:"data"`
}

// UnmarshalJSON decodes the envelope, preferring the canonical field name
// and falling back to its alias when the canonical one is absent.
func (e *Envelope[T]) UnmarshalJSON(b []byte) error {
	var w wireAlias[T]
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("envelope: decode: %w", err)
	}

	e.EventID = w.EventID
	e.OccurredAt = w.OccurredAt
	e.TenantID = w.TenantID
	e.SourceModule = firstNonEmpty(w.SourceModule, w.Producer)
	e.SourceVersion = firstNonEmpty(w.SourceVersion, w.SchemaVersion)
	e.CorrelationID = firstNonEmpty(w.CorrelationID, w.TraceID)
	e.CausationID = w.CausationID

	raw := w.Payload
	if len(raw) == 0 {
		raw = w.Data
	}
	if len(raw) == 0 {
		return fmt.Errorf("envelope: missing payload/data")
	}
	if err := json.Unmarshal(raw, &e.Payload); err != nil {
		return fmt.Errorf("envelope: decode payload: %w", err)
	}

	if e.EventID == "" {
		return fmt.Errorf("envelope: missing event_id")
	}
	if e.TenantID == "" {
		return fmt.Errorf("envelope: missing tenant_id")
	}
	if e.SourceModule == "" {
		return fmt.Errorf("envelope: missing source_module")
	}
	if e.SourceVersion == "" {
		return fmt.Errorf("envelope: missing source_version")
	}
	return nil
}

// MarshalJSON always emits the canonical field names.
func (e Envelope[T]) MarshalJSON() ([]byte, error) {
	type out struct {
		EventID       string    `json:"event_id"`
		OccurredAt    time.Time `json:"occurred_at"`
		TenantID      string    `json:"tenant_id"`
		SourceModule  string    `json:"source_module"`
		SourceVersion string    `json:"source_version"`
		CorrelationID string    `json:"correlation_id,omitempty"`
		CausationID   string    `json:"causation_id,omitempty"`
		Payload       T         `json:"payload"`
	}
	return json.Marshal(out{
		EventID:       e.EventID,
		OccurredAt:    e.OccurredAt,
		TenantID:      e.TenantID,
		SourceModule:  e.SourceModule,
		SourceVersion: e.SourceVersion,
		CorrelationID: e.CorrelationID,
		CausationID:   e.CausationID,
		Payload:       e.Payload,
	})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
