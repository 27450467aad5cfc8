package discovery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ValueKind tags the variant held by a SignalValue.
type ValueKind uint8

const (
	KindMissing ValueKind = iota
	KindNumeric
	KindCategorical
)

func (k ValueKind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindCategorical:
		return "categorical"
	default:
		return "missing"
	}
}

// SignalValue is a raw per-event observation: Numeric, Categorical or
// Missing. The zero value is Missing.
type SignalValue struct {
	kind ValueKind
	num  float64
	cat  string
}

// Numeric returns a numeric signal value.
func Numeric(v float64) SignalValue { return SignalValue{kind: KindNumeric, num: v} }

// Categorical returns a categorical signal value.
func Categorical(v string) SignalValue { return SignalValue{kind: KindCategorical, cat: v} }

// Missing returns the missing signal value.
func Missing() SignalValue { return SignalValue{} }

func (v SignalValue) Kind() ValueKind { return v.kind }

// Float returns the numeric payload and whether the value is Numeric.
func (v SignalValue) Float() (float64, bool) { return v.num, v.kind == KindNumeric }

// Text returns the categorical payload and whether the value is Categorical.
func (v SignalValue) Text() (string, bool) { return v.cat, v.kind == KindCategorical }

// Label renders the value for segment identifiers.
func (v SignalValue) Label() string {
	switch v.kind {
	case KindNumeric:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindCategorical:
		return v.cat
	default:
		return ""
	}
}

func (v SignalValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumeric:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.num)
	case KindCategorical:
		return json.Marshal(v.cat)
	default:
		return []byte("null"), nil
	}
}

func (v *SignalValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		*v = Missing()
		return nil
	}
	switch data[0] {
	case 'n':
		*v = Missing()
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Categorical(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Categorical(strconv.FormatBool(b))
	case '{', '[':
		return fmt.Errorf("signal value must be scalar, got %s", data)
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		*v = Numeric(f)
	}
	return nil
}

// Event is one normalized telemetry record. Values holds the flat signal
// map; segment dimensions are read from the same map.
type Event struct {
	Timestamp time.Time
	EntityID  string
	Source    string
	Values    map[string]SignalValue
}

// Value returns the named value, or Missing when absent.
func (e Event) Value(name string) SignalValue {
	if e.Values == nil {
		return Missing()
	}
	return e.Values[name]
}

const (
	fieldTimestamp   = "timestamp"
	fieldTimestampTS = "ts"
	fieldEntityID    = "entity_id"
	fieldSource      = "source"
)

// MarshalJSON writes the event as a flat object.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(e.Values)+3)
	for k, v := range e.Values {
		out[k] = v
	}
	if !e.Timestamp.IsZero() {
		out[fieldTimestamp] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if e.EntityID != "" {
		out[fieldEntityID] = e.EntityID
	}
	if e.Source != "" {
		out[fieldSource] = e.Source
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a flat object. "timestamp" (or "ts") accepts RFC3339
// strings and unix seconds; "entity_id" and "source" are identifiers; every
// other key becomes a signal value.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ev := Event{Values: make(map[string]SignalValue, len(raw))}
	for key, msg := range raw {
		switch key {
		case fieldTimestamp, fieldTimestampTS:
			ts, err := parseTimestamp(msg)
			if err != nil {
				return fmt.Errorf("field %s: %w", key, err)
			}
			ev.Timestamp = ts
		case fieldEntityID:
			if err := json.Unmarshal(msg, &ev.EntityID); err != nil {
				return fmt.Errorf("field %s: %w", key, err)
			}
		case fieldSource:
			if err := json.Unmarshal(msg, &ev.Source); err != nil {
				return fmt.Errorf("field %s: %w", key, err)
			}
		default:
			var v SignalValue
			if err := v.UnmarshalJSON(msg); err != nil {
				return fmt.Errorf("field %s: %w", key, err)
			}
			ev.Values[key] = v
		}
	}
	*e = ev
	return nil
}

func parseTimestamp(msg json.RawMessage) (time.Time, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 || msg[0] == 'n' {
		return time.Time{}, nil
	}
	if msg[0] == '"' {
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			return time.Time{}, err
		}
		return time.Parse(time.RFC3339Nano, s)
	}
	var secs float64
	if err := json.Unmarshal(msg, &secs); err != nil {
		return time.Time{}, err
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
}
