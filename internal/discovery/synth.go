package discovery

import (
	"fmt"
	"time"
)

// SyntheticChain generates n events over names[0] -> names[1] -> names[2]
// with zero counterexamples along the chain while every reverse direction
// has some. Missing names are filled as m0, m1, m2; signals beyond the
// third stay 0. Events are one second apart starting at start.
func SyntheticChain(names []string, n int, start time.Time) []Event {
	names = append([]string(nil), names...)
	for i := len(names); i < 3; i++ {
		names = append(names, fmt.Sprintf("m%d", i))
	}
	x, y, z := names[0], names[1], names[2]

	n1 := n / 2
	n2 := n / 3
	n3 := n / 6
	n4 := n - n1 - n2 - n3
	if n4 < 0 {
		n4 = 0
	}
	rows := []struct {
		count   int
		x, y, z float64
	}{
		{n1, 1, 1, 1},
		{n2, 0, 1, 1},
		{n3, 0, 0, 1},
		{n4, 0, 0, 0},
	}

	events := make([]Event, 0, n)
	for _, r := range rows {
		for i := 0; i < r.count; i++ {
			values := map[string]SignalValue{x: Numeric(r.x), y: Numeric(r.y), z: Numeric(r.z)}
			for _, extra := range names[3:] {
				values[extra] = Numeric(0)
			}
			events = append(events, Event{
				Timestamp: start.Add(time.Duration(len(events)) * time.Second),
				Source:    "synthetic",
				Values:    values,
			})
		}
	}
	return events
}

// SyntheticThresholds returns numeric thresholds at 0.5 for names, padded
// the same way as SyntheticChain.
func SyntheticThresholds(names []string) map[string]Threshold {
	out := make(map[string]Threshold)
	for i := 0; i < len(names) || i < 3; i++ {
		name := fmt.Sprintf("m%d", i)
		if i < len(names) {
			name = names[i]
		}
		out[name] = Threshold{Kind: ThresholdNumeric, A: 0.5}
	}
	return out
}
