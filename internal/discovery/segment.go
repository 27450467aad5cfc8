package discovery

import (
	"sort"
	"strings"
	"time"
)

const (
	// SegmentAll identifies the single segment produced without keys.
	SegmentAll = "_all"
	// TimeWindowKey is the reserved segment key that buckets events by
	// truncated timestamp.
	TimeWindowKey = "time_window"

	labelMissing = "_missing"
	labelOther   = "_other"
)

// SegmentSpec describes how a batch is partitioned.
type SegmentSpec struct {
	Keys          []string
	AllowedValues map[string][]string
	Window        time.Duration
}

// Segment is one partition of a batch.
type Segment struct {
	ID     string
	Events []Event
}

// segmentLabel resolves the label of one key for one event. Values outside
// a non-empty allow-list collapse into _other so rare values cannot create
// unbounded segments.
func (spec SegmentSpec) segmentLabel(key string, ev Event) string {
	if key == TimeWindowKey {
		if ev.Timestamp.IsZero() {
			return labelMissing
		}
		return ev.Timestamp.UTC().Truncate(spec.Window).Format(time.RFC3339)
	}
	v := ev.Value(key)
	label := v.Label()
	if v.Kind() == KindMissing {
		switch key {
		case fieldSource:
			label = ev.Source
		case fieldEntityID:
			label = ev.EntityID
		}
	}
	if label == "" {
		return labelMissing
	}
	if allowed := spec.AllowedValues[key]; len(allowed) > 0 {
		for _, a := range allowed {
			if a == label {
				return label
			}
		}
		return labelOther
	}
	return label
}

// SegmentID renders the segment identifier of ev.
func (spec SegmentSpec) SegmentID(ev Event) string {
	if len(spec.Keys) == 0 {
		return SegmentAll
	}
	var b strings.Builder
	for i, key := range spec.Keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(spec.segmentLabel(key, ev))
	}
	return b.String()
}

// Partition splits events into segments ordered by ID. Event order inside a
// segment follows the input. Without keys the whole batch is one segment.
func Partition(events []Event, spec SegmentSpec) []Segment {
	if len(spec.Keys) == 0 {
		return []Segment{{ID: SegmentAll, Events: events}}
	}
	byID := make(map[string][]Event)
	for _, ev := range events {
		id := spec.SegmentID(ev)
		byID[id] = append(byID[id], ev)
	}
	out := make([]Segment, 0, len(byID))
	for id, evs := range byID {
		out = append(out, Segment{ID: id, Events: evs})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}
