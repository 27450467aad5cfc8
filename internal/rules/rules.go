// Package rules turns transitively subsumed edges into SIEM suppression
// rules. An edge A->C that is implied by a surviving path A->B->...->C is
// redundant as an alert: when A already fired for the entity, C adds no
// new information.
package rules

import (
	"sort"
	"strings"

	"github.com/bolcd/bolcd/internal/discovery"
)

// Detector is the engine-neutral form of a rule.
type Detector struct {
	Rule    string   `json:"rule" yaml:"rule"`
	Src     string   `json:"src" yaml:"src"`
	Dst     string   `json:"dst" yaml:"dst"`
	Via     []string `json:"via" yaml:"via"`
	Segment string   `json:"segment" yaml:"segment"`
}

// Rule is one suppression rule in Splunk, Sentinel and neutral form.
type Rule struct {
	Name     string   `json:"name" yaml:"name"`
	Segment  string   `json:"segment" yaml:"segment"`
	SPL      string   `json:"spl" yaml:"spl"`
	KQL      string   `json:"kql" yaml:"kql"`
	Detector Detector `json:"detector" yaml:"detector"`
	QValue   float64  `json:"q_value" yaml:"q_value"`
	NSrc1    uint64   `json:"n_src1" yaml:"n_src1"`
}

// Build produces one rule per subsumed edge of every graph, ordered by
// segment then (src, dst).
func Build(graphs ...*discovery.Graph) []Rule {
	var out []Rule
	for _, g := range graphs {
		if g == nil {
			continue
		}
		for _, s := range g.Subsumed {
			out = append(out, fromSubsumed(g.Segment, s))
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Segment != out[b].Segment {
			return out[a].Segment < out[b].Segment
		}
		if out[a].Detector.Src != out[b].Detector.Src {
			return out[a].Detector.Src < out[b].Detector.Src
		}
		return out[a].Detector.Dst < out[b].Detector.Dst
	})
	if out == nil {
		out = []Rule{}
	}
	return out
}

func fromSubsumed(segment string, s discovery.SubsumedEdge) Rule {
	if s.Segment != "" {
		segment = s.Segment
	}
	var mid []string
	if len(s.Via) > 2 {
		mid = append(mid, s.Via[1:len(s.Via)-1]...)
	}
	via := strings.Join(mid, " -> ")
	return Rule{
		Name:    "bolcd_suppress_" + sanitize(s.Src) + "_" + sanitize(s.Dst) + "_" + sanitize(segment),
		Segment: segment,
		SPL:     "search " + s.Src + "=* " + s.Dst + "=* | eval suppressed='via " + via + "'",
		KQL:     s.Src + ":* and " + s.Dst + ":* | project suppressed='via " + via + "'",
		Detector: Detector{
			Rule:    "suppress",
			Src:     s.Src,
			Dst:     s.Dst,
			Via:     mid,
			Segment: segment,
		},
		QValue: s.QValue,
		NSrc1:  s.NSrc1,
	}
}

// sanitize keeps rule names to [A-Za-z0-9_].
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, s)
}
