package discovery

import (
	"math"
	"sort"
	"time"
)

var testStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

// repeat returns count events carrying vals. NaN marks a missing value.
func repeat(count int, vals map[string]float64) []Event {
	out := make([]Event, 0, count)
	for i := 0; i < count; i++ {
		values := make(map[string]SignalValue, len(vals))
		for k, v := range vals {
			if math.IsNaN(v) {
				continue
			}
			values[k] = Numeric(v)
		}
		out = append(out, Event{Timestamp: testStart.Add(time.Duration(i) * time.Second), Values: values})
	}
	return out
}

func concat(parts ...[]Event) []Event {
	var out []Event
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// withLabel sets a categorical segment value on every event.
func withLabel(events []Event, key, value string) []Event {
	for i := range events {
		events[i].Values[key] = Categorical(value)
	}
	return events
}

func numericThresholds(names ...string) map[string]Threshold {
	out := make(map[string]Threshold, len(names))
	for _, n := range names {
		out[n] = Threshold{Kind: ThresholdNumeric, A: 0.5}
	}
	return out
}

func testConfig(eps float64, names ...string) Config {
	cfg := DefaultConfig()
	cfg.Thresholds = numericThresholds(names...)
	cfg.Epsilon = eps
	return cfg
}

func edgeSet(edges []Edge) map[EdgeRef]bool {
	out := make(map[EdgeRef]bool, len(edges))
	for _, e := range edges {
		out[e.Ref()] = true
	}
	return out
}

// acceptedSet is every edge that survived FDR, before reduction.
func acceptedSet(g *Graph) map[EdgeRef]bool {
	out := edgeSet(g.Edges)
	for _, s := range g.Subsumed {
		out[s.Ref()] = true
	}
	return out
}

func refs(m map[EdgeRef]bool) []string {
	out := make([]string, 0, len(m))
	for r := range m {
		out = append(out, r.String())
	}
	sort.Strings(out)
	return out
}

// chainEvents builds the X -> Y -> Z dataset: 200 events each of
// (1,1,1), (0,1,1), (0,0,1) and (0,0,0).
func chainEvents() []Event {
	return concat(
		repeat(200, map[string]float64{"X": 1, "Y": 1, "Z": 1}),
		repeat(200, map[string]float64{"X": 0, "Y": 1, "Z": 1}),
		repeat(200, map[string]float64{"X": 0, "Y": 0, "Z": 1}),
		repeat(200, map[string]float64{"X": 0, "Y": 0, "Z": 0}),
	)
}
