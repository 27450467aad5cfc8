// Package condense decides whether an alert should be delivered or
// suppressed because a stronger upstream alert for the same entity already
// implies it.
package condense

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bolcd/bolcd/internal/audit"
	"github.com/bolcd/bolcd/internal/core"
	"github.com/bolcd/bolcd/internal/discovery"
	"github.com/bolcd/bolcd/internal/metrics"
)

// Decision values.
const (
	Deliver  = "deliver"
	Suppress = "suppress"
)

// Reasons.
const (
	ReasonHighSeverity      = "high_severity_protection"
	ReasonAllowlist         = "allowlist"
	ReasonCriticalSignature = "critical_signature"
	ReasonRootPass          = "root_pass"
	ReasonEdge              = "edge"
	ReasonNoEdge            = "no_edge"
)

// criticalSignatures are never suppressed when they appear anywhere in an
// alert's signature.
var criticalSignatures = []string{
	"privilege_escalation", "data_exfiltration", "malware_detected",
	"unauthorized_access", "sql_injection", "command_injection",
	"ransomware", "backdoor", "rootkit",
}

// ErrInvalidAlert is returned for alerts missing a signal or entity.
var ErrInvalidAlert = errors.New("invalid alert")

// Alert is one SIEM alert, keyed by the signal that fired.
type Alert struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"ts"`
	EntityID  string        `json:"entity_id"`
	Signal    string        `json:"signal"`
	Segment   string        `json:"segment,omitempty"`
	Severity  core.Severity `json:"severity"`
	Signature string        `json:"signature,omitempty"`
}

// Decision is the outcome for one alert. Trigger and Edge are set when an
// upstream alert suppressed it.
type Decision struct {
	AlertID    string          `json:"alert_id"`
	Signal     string          `json:"signal"`
	EntityID   string          `json:"entity_id"`
	Segment    string          `json:"segment"`
	Decision   string          `json:"decision"`
	Reason     string          `json:"reason"`
	Confidence float64         `json:"confidence"`
	Trigger    string          `json:"trigger,omitempty"`
	Edge       *discovery.Edge `json:"edge,omitempty"`
}

// GraphSource looks up the reduced graph of a segment. *core.Engine
// satisfies it.
type GraphSource interface {
	Graph(segment string) (*discovery.Graph, error)
}

// Decider applies the suppression policy. It is safe for concurrent use.
type Decider struct {
	graphs GraphSource
	policy func() core.CondenseConfig
	sink   audit.Sink
	logger zerolog.Logger
	recent *recentAlerts

	mu     sync.Mutex
	counts map[string]int
}

// NewDecider creates a Decider. policy is read on every decision so a
// config reload takes effect immediately. sink may be nil.
func NewDecider(graphs GraphSource, policy func() core.CondenseConfig, sink audit.Sink, logger zerolog.Logger) *Decider {
	return &Decider{
		graphs: graphs,
		policy: policy,
		sink:   sink,
		logger: logger.With().Str("component", "condense").Logger(),
		recent: newRecentAlerts(policy().MaxRecent),
		counts: make(map[string]int),
	}
}

// Decide returns the decision for a, records a as a potential trigger for
// later alerts, and audits the decision.
func (d *Decider) Decide(ctx context.Context, a Alert) (Decision, error) {
	if a.Signal == "" || a.EntityID == "" {
		return Decision{}, fmt.Errorf("%w: signal and entity_id are required", ErrInvalidAlert)
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	if a.Segment == "" {
		a.Segment = discovery.SegmentAll
	}

	cfg := d.policy()
	dec := d.decide(a, cfg)
	d.recent.observe(a.EntityID, a.Signal, a.Timestamp, cfg.NearWindow)

	d.mu.Lock()
	d.counts[dec.Decision]++
	d.mu.Unlock()
	metrics.Decisions.WithLabelValues(dec.Decision, dec.Reason).Inc()

	d.logger.Debug().
		Str("alert_id", a.ID).
		Str("signal", a.Signal).
		Str("entity_id", a.EntityID).
		Str("decision", dec.Decision).
		Str("reason", dec.Reason).
		Msg("alert decided")

	if err := d.audit(ctx, a, dec); err != nil {
		d.logger.Error().Err(err).Str("alert_id", a.ID).Msg("failed to audit decision")
	}
	return dec, nil
}

// DecideBatch decides alerts in timestamp order so earlier alerts can
// suppress later ones in the same batch. Results follow the input order.
func (d *Decider) DecideBatch(ctx context.Context, alerts []Alert) ([]Decision, error) {
	order := make([]int, len(alerts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool {
		return alerts[order[x]].Timestamp.Before(alerts[order[y]].Timestamp)
	})
	out := make([]Decision, len(alerts))
	for _, i := range order {
		dec, err := d.Decide(ctx, alerts[i])
		if err != nil {
			return nil, fmt.Errorf("alert %d: %w", i, err)
		}
		out[i] = dec
	}
	return out, nil
}

func (d *Decider) decide(a Alert, cfg core.CondenseConfig) Decision {
	dec := Decision{
		AlertID:    a.ID,
		Signal:     a.Signal,
		EntityID:   a.EntityID,
		Segment:    a.Segment,
		Decision:   Deliver,
		Confidence: 1,
	}

	if reason, ok := alwaysPass(a, cfg); ok {
		dec.Reason = reason
		return dec
	}

	g, err := d.graphs.Graph(a.Segment)
	if err != nil {
		g = nil
	}
	if cfg.RootPass && (g == nil || g.InDegree(a.Signal) == 0) {
		dec.Reason = ReasonRootPass
		return dec
	}
	if g == nil {
		dec.Reason = ReasonNoEdge
		return dec
	}

	for _, r := range d.recent.lookup(a.EntityID) {
		if r.signal == a.Signal {
			continue
		}
		e, ok := implication(g, r.signal, a.Signal)
		if !ok {
			continue
		}
		dt := a.Timestamp.Sub(r.ts)
		if dt < 0 || dt > cfg.NearWindow {
			continue
		}
		if !strong(e, cfg) {
			continue
		}
		dec.Decision = Suppress
		dec.Reason = ReasonEdge
		dec.Trigger = r.signal
		dec.Edge = &e
		dec.Confidence = confidence(a.Severity, e, cfg)
		return dec
	}

	dec.Reason = ReasonNoEdge
	return dec
}

// alwaysPass applies the safety guards that no edge can override.
func alwaysPass(a Alert, cfg core.CondenseConfig) (string, bool) {
	if cfg.HighSeverityProtection && a.Severity >= core.SeverityHigh {
		return ReasonHighSeverity, true
	}
	for _, s := range cfg.Allowlist {
		if s == a.Signal {
			return ReasonAllowlist, true
		}
	}
	if a.Signature != "" {
		sig := strings.ToLower(a.Signature)
		for _, crit := range criticalSignatures {
			if strings.Contains(sig, crit) {
				return ReasonCriticalSignature, true
			}
		}
	}
	return "", false
}

// implication finds src->dst as a kept or a subsumed edge.
func implication(g *discovery.Graph, src, dst string) (discovery.Edge, bool) {
	if e, ok := g.Edge(src, dst); ok {
		return e, true
	}
	if s, ok := g.Subsumption(src, dst); ok {
		return s.Edge, true
	}
	return discovery.Edge{}, false
}

func strong(e discovery.Edge, cfg core.CondenseConfig) bool {
	return e.QValue <= cfg.Alpha && e.NSrc1 >= cfg.SupportMin
}

// confidence scores a suppression in [0, 1]: severity weight times the
// mean of q and support strength.
func confidence(sev core.Severity, e discovery.Edge, cfg core.CondenseConfig) float64 {
	weight := 0.5
	switch sev {
	case core.SeverityCritical:
		weight = 0.1
	case core.SeverityHigh:
		weight = 0.3
	case core.SeverityMedium:
		weight = 0.7
	case core.SeverityLow, core.SeverityInfo:
		weight = 1
	}
	q := 1 - e.QValue
	if q < 0 {
		q = 0
	}
	support := 1.0
	if cfg.SupportMin > 0 {
		support = float64(e.NSrc1) / float64(2*cfg.SupportMin)
		if support > 1 {
			support = 1
		}
	}
	return weight * (q + support) / 2
}

func (d *Decider) audit(ctx context.Context, a Alert, dec Decision) error {
	if d.sink == nil {
		return nil
	}
	action := audit.ActionAlertDelivered
	if dec.Decision == Suppress {
		action = audit.ActionAlertSuppressed
	}
	diff := map[string]interface{}{
		"alert_id":  a.ID,
		"signal":    a.Signal,
		"entity_id": a.EntityID,
		"severity":  a.Severity.String(),
		"reason":    dec.Reason,
	}
	if dec.Edge != nil {
		diff["trigger"] = dec.Trigger
		diff["q_value"] = dec.Edge.QValue
		diff["n_src1"] = dec.Edge.NSrc1
		diff["confidence"] = dec.Confidence
	}
	rec := audit.NewRecord(time.Now(), "", a.Segment, action, "condense", diff)
	return d.sink.Record(ctx, rec)
}

// Stats returns decision counts and the size of the recent-alert cache.
func (d *Decider) Stats() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int, len(d.counts)+1)
	for k, v := range d.counts {
		out[k] = v
	}
	out["recent"] = d.recent.len()
	return out
}
