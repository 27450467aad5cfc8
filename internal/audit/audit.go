package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Action names an auditable change.
type Action string

const (
	ActionEdgeAdded        Action = "edge_added"
	ActionEdgeSubsumed     Action = "edge_subsumed"
	ActionThresholdChanged Action = "threshold_changed"
	ActionAlertSuppressed  Action = "alert_suppressed"
	ActionAlertDelivered   Action = "alert_delivered"
	ActionSegmentFailed    Action = "segment_failed"
)

// Record is one append-only audit entry. Hash chains the record to the
// previous one written by the same sink; sinks without a chain leave both
// hash fields empty.
type Record struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"ts"`
	RunID     string                 `json:"run_id,omitempty"`
	Segment   string                 `json:"segment,omitempty"`
	Action    Action                 `json:"action"`
	Actor     string                 `json:"actor"`
	Diff      map[string]interface{} `json:"diff,omitempty"`
	PrevHash  string                 `json:"prev_hash,omitempty"`
	Hash      string                 `json:"hash,omitempty"`
}

// NewRecord stamps a record with a fresh ID and the given time.
func NewRecord(ts time.Time, runID, segment string, action Action, actor string, diff map[string]interface{}) Record {
	return Record{
		ID:        uuid.New().String(),
		Timestamp: ts.UTC(),
		RunID:     runID,
		Segment:   segment,
		Action:    action,
		Actor:     actor,
		Diff:      diff,
	}
}

// Sink accepts audit records. Implementations must be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, rec Record) error
}

// Reader returns the most recent records, oldest first.
type Reader interface {
	Tail(ctx context.Context, limit int) ([]Record, error)
}

// ComputeHash returns the SHA-256 over the record's canonical JSON, which
// covers every field except Hash itself.
func ComputeHash(rec Record) (string, error) {
	payload := struct {
		ID       string                 `json:"id"`
		TS       string                 `json:"ts"`
		RunID    string                 `json:"run_id"`
		Segment  string                 `json:"segment"`
		Action   Action                 `json:"action"`
		Actor    string                 `json:"actor"`
		Diff     map[string]interface{} `json:"diff"`
		PrevHash string                 `json:"prev_hash"`
	}{
		ID:       rec.ID,
		TS:       rec.Timestamp.UTC().Format(time.RFC3339Nano),
		RunID:    rec.RunID,
		Segment:  rec.Segment,
		Action:   rec.Action,
		Actor:    rec.Actor,
		Diff:     rec.Diff,
		PrevHash: rec.PrevHash,
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

// ─── MultiSink ──────────────────────────────────────────────────────────────

// MultiSink writes every record to each of its sinks.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink fans out to the non-nil sinks given.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *MultiSink) Record(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Tail reads from the first sink that supports reading.
func (m *MultiSink) Tail(ctx context.Context, limit int) ([]Record, error) {
	for _, s := range m.sinks {
		if r, ok := s.(Reader); ok {
			return r.Tail(ctx, limit)
		}
	}
	return nil, nil
}

// ─── MemorySink ─────────────────────────────────────────────────────────────

// MemorySink keeps records in memory.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) Record(_ context.Context, rec Record) error {
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
	return nil
}

// Records returns a copy of everything recorded so far.
func (m *MemorySink) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

func (m *MemorySink) Tail(_ context.Context, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return tail(m.records, limit), nil
}

func tail(records []Record, limit int) []Record {
	if limit <= 0 {
		return nil
	}
	if len(records) > limit {
		records = records[len(records)-limit:]
	}
	out := make([]Record, len(records))
	copy(out, records)
	return out
}
