package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Action indicates the type of modification performed on an audited entity.
type Action string

// Change actions captured in the audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Change captures one mutation inside a transaction, before rule evaluation
// and audit serialization.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// AuditPayload wraps a JSON snapshot of an audited record's state. The bytes
// are cloned on construction and on read so shared payloads stay immutable.
type AuditPayload struct {
	defined bool
	raw     json.RawMessage
}

// NewAuditPayload builds a payload wrapper from raw JSON. Passing nil yields
// a defined but empty payload; the zero value means "not set" (e.g. no
// before-image on create).
func NewAuditPayload(raw json.RawMessage) AuditPayload {
	payload := AuditPayload{defined: true}
	if raw != nil {
		payload.raw = cloneRawMessage(raw)
	}
	return payload
}

// NewAuditPayloadFromValue marshals a typed value into an AuditPayload.
func NewAuditPayloadFromValue[T any](value T) (AuditPayload, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return AuditPayload{}, err
	}
	return NewAuditPayload(raw), nil
}

// Defined reports whether the payload has been initialized.
func (p AuditPayload) Defined() bool { return p.defined }

// Raw returns a cloned copy of the underlying JSON bytes, or nil when the
// payload is undefined or empty.
func (p AuditPayload) Raw() json.RawMessage {
	if !p.defined || len(p.raw) == 0 {
		return nil
	}
	return cloneRawMessage(p.raw)
}

// MarshalJSON encodes the payload as its raw snapshot (null when unset).
func (p AuditPayload) MarshalJSON() ([]byte, error) {
	if !p.defined || len(p.raw) == 0 {
		return []byte("null"), nil
	}
	return cloneRawMessage(p.raw), nil
}

// UnmarshalJSON restores a payload from its raw snapshot.
func (p *AuditPayload) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = AuditPayload{}
		return nil
	}
	*p = NewAuditPayload(data)
	return nil
}

func cloneRawMessage(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	cloned := make(json.RawMessage, len(raw))
	copy(cloned, raw)
	return cloned
}

// AuditEntry is one append-only record of a mutation to an audited entity.
// Before and after images are serialized snapshots: both for updates, a
// single image for creates (after) and deletes (before).
type AuditEntry struct {
	Seq       uint64       `json:"seq"`
	Table     EntityType   `json:"table"`
	Operation Action       `json:"operation"`
	Before    AuditPayload `json:"before"`
	After     AuditPayload `json:"after"`
	ChangedBy string       `json:"changed_by"`
	ChangedAt time.Time    `json:"changed_at"`
}

// HistoryEntry is one as-of snapshot of a superseded parcel version. ValidTo
// is set only when the parcel was deleted, closing the record in the same
// transaction that removed it. History entries are never updated or deleted.
type HistoryEntry struct {
	Seq       uint64       `json:"seq"`
	BAUnitID  string       `json:"ba_unit_id"`
	APN       string       `json:"assessor_parcel_number"`
	ValidFrom time.Time    `json:"valid_from"`
	ValidTo   *time.Time   `json:"valid_to"`
	Snapshot  AuditPayload `json:"snapshot"`
}

// AuditFilter selects audit entries by table, operation kind, and time range.
// Zero values match everything.
type AuditFilter struct {
	Table     EntityType
	Operation Action
	From      time.Time
	To        time.Time
}

// Matches reports whether an entry satisfies the filter.
func (f AuditFilter) Matches(entry AuditEntry) bool {
	if f.Table != "" && entry.Table != f.Table {
		return false
	}
	if f.Operation != "" && entry.Operation != f.Operation {
		return false
	}
	if !f.From.IsZero() && entry.ChangedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !entry.ChangedAt.Before(f.To) {
		return false
	}
	return true
}

// AuditSink receives the audit entries of a committing transaction. The call
// is synchronous within the transaction boundary: an error aborts the commit
// and the mutation is not applied.
type AuditSink interface {
	RecordAudit(ctx context.Context, entries []AuditEntry) error
}

// HistorySink receives parcel history snapshots under the same contract as
// AuditSink.
type HistorySink interface {
	RecordHistory(ctx context.Context, entries []HistoryEntry) error
}

type actorKey struct{}

// WithActor attaches the acting principal to the context for audit
// attribution.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the acting principal, defaulting to "system".
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return "system"
}
