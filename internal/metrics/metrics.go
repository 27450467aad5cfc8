package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bolcd/bolcd/internal/discovery"
)

// Discovery and condensation metrics
var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bolcd_runs_total",
			Help: "Total number of recompute runs",
		},
		[]string{"status"}, // ok, partial, failed
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bolcd_run_duration_seconds",
			Help:    "Recompute run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
	)

	EventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bolcd_events_processed_total",
			Help: "Total number of events fed to recompute runs",
		},
	)

	SegmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bolcd_segments_total",
			Help: "Segments processed, by outcome",
		},
		[]string{"outcome"}, // ok, failed
	)

	CandidatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bolcd_candidate_edges_total",
			Help: "Candidate edges produced by the implication tester",
		},
	)

	PairsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bolcd_pairs_skipped_total",
			Help: "Signal pairs that produced no candidate, by reason",
		},
		[]string{"reason"},
	)

	EdgesAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bolcd_edges_accepted_total",
			Help: "Edges accepted by FDR control",
		},
	)

	EdgesReduced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bolcd_edges_reduced_total",
			Help: "Edges kept after transitive reduction",
		},
	)

	EdgesSubsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bolcd_edges_subsumed_total",
			Help: "Edges removed by transitive reduction",
		},
	)

	GraphEdges = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bolcd_graph_edges",
			Help: "Edges in the latest reduced graph per segment",
		},
		[]string{"segment"},
	)

	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bolcd_condense_decisions_total",
			Help: "Alert condensation decisions",
		},
		[]string{"decision", "reason"},
	)

	EventsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bolcd_events_deduplicated_total",
			Help: "Bus events dropped as duplicates",
		},
	)
)

// ObserveRun records the outcome of a segmented run. A non-nil res replaces
// the per-segment edge gauges.
func ObserveRun(res *discovery.Result, events int, took time.Duration, err error) {
	status := "ok"
	switch {
	case res == nil:
		status = "failed"
	case err != nil && len(res.Graphs) == 0:
		status = "failed"
	case err != nil:
		status = "partial"
	}
	RunsTotal.WithLabelValues(status).Inc()
	RunDuration.Observe(took.Seconds())
	EventsProcessed.Add(float64(events))
	if res == nil {
		return
	}
	SegmentsTotal.WithLabelValues("failed").Add(float64(len(res.Failures)))
	SegmentsTotal.WithLabelValues("ok").Add(float64(len(res.Graphs)))
	// The result replaces every stored graph, so segments it lacks are gone.
	GraphEdges.Reset()
	for _, g := range res.Graphs {
		GraphEdges.WithLabelValues(g.Segment).Set(float64(len(g.Edges)))
		d := g.Diagnostics
		if d == nil {
			continue
		}
		CandidatesTotal.Add(float64(d.Candidates))
		EdgesAccepted.Add(float64(d.Accepted))
		EdgesReduced.Add(float64(d.Reduced))
		EdgesSubsumed.Add(float64(d.Subsumed))
		for reason, n := range d.Skipped {
			PairsSkipped.WithLabelValues(reason).Add(float64(n))
		}
	}
}
