package discovery

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/bolcd/bolcd/internal/audit"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// UnionSegment is the segment name of a graph merged across segments.
const UnionSegment = "_union"

// Diagnostics summarizes how one segment's graph was produced.
type Diagnostics struct {
	Events        int            `json:"events"`
	Signals       int            `json:"signals"`
	PairsTested   int            `json:"pairs_tested"`
	Candidates    int            `json:"candidates"`
	Skipped       map[string]int `json:"skipped,omitempty"`
	Instabilities []EdgeRef      `json:"instabilities,omitempty"`
	Labels        LabelStats     `json:"labels"`
	FDRM          int            `json:"fdr_m"`
	FDRMStar      int            `json:"fdr_m_star"`
	FDRThreshold  float64        `json:"fdr_p_threshold"`
	Accepted      int            `json:"accepted"`
	Rejected      int            `json:"rejected"`
	Reduced       int            `json:"reduced"`
	Subsumed      int            `json:"subsumed"`
}

// SegmentFailure records a segment that produced no graph.
type SegmentFailure struct {
	Segment string `json:"segment"`
	Error   string `json:"error"`
}

// Result is the outcome of a segmented run. Graphs are ordered by segment.
type Result struct {
	RunID    string           `json:"run_id"`
	Graphs   []*Graph         `json:"graphs"`
	Failures []SegmentFailure `json:"failures,omitempty"`
}

// Graph returns the graph of a segment, or nil.
func (r *Result) Graph(segment string) *Graph {
	for _, g := range r.Graphs {
		if g.Segment == segment {
			return g
		}
	}
	return nil
}

// SegmentIDs lists the segments that produced a graph.
func (r *Result) SegmentIDs() []string {
	out := make([]string, len(r.Graphs))
	for i, g := range r.Graphs {
		out[i] = g.Segment
	}
	return out
}

// Union merges all segment graphs. Every edge keeps its segment label, so
// the same (src, dst) may appear once per segment.
func (r *Result) Union() *Graph {
	u := &Graph{Segment: UnionSegment}
	seen := make(map[string]bool)
	for _, g := range r.Graphs {
		for _, n := range g.Nodes {
			if !seen[n] {
				seen[n] = true
				u.Nodes = append(u.Nodes, n)
			}
		}
		u.Edges = append(u.Edges, g.Edges...)
		u.Subsumed = append(u.Subsumed, g.Subsumed...)
	}
	sort.Strings(u.Nodes)
	sort.SliceStable(u.Edges, func(a, b int) bool {
		if u.Edges[a].Src != u.Edges[b].Src {
			return u.Edges[a].Src < u.Edges[b].Src
		}
		return u.Edges[a].Dst < u.Edges[b].Dst
	})
	return u
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithAuditSink records every accepted and subsumed edge. Records of a
// segment are written only after the segment completes.
func WithAuditSink(s audit.Sink) Option {
	return func(p *Pipeline) { p.sink = s }
}

// WithLogger sets the pipeline logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithActor names who triggered the run in audit records.
func WithActor(actor string) Option {
	return func(p *Pipeline) { p.actor = actor }
}

// WithClock overrides the audit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline runs binarize, test, FDR, build, and reduce over batches of
// events under one immutable Config.
type Pipeline struct {
	cfg       Config
	spec      SegmentSpec
	binarizer *Binarizer
	tester    *Tester
	sink      audit.Sink
	actor     string
	now       func() time.Time
	logger    zerolog.Logger
	workers   int
}

// NewPipeline validates cfg and prepares a pipeline. Invalid parameters
// yield a *ConfigurationError before any computation.
func NewPipeline(cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.Clone()
	p := &Pipeline{
		cfg:    cfg,
		actor:  "system",
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With().Str("component", "discovery").Logger()
	var err error
	if p.binarizer, err = NewBinarizer(cfg.Thresholds); err != nil {
		return nil, err
	}
	if p.spec, err = cfg.SegmentSpec(); err != nil {
		return nil, err
	}
	p.tester = NewTester(cfg, p.logger)
	p.workers = cfg.Workers
	if p.workers <= 0 {
		p.workers = runtime.GOMAXPROCS(0)
	}
	return p, nil
}

// Config returns a copy of the pipeline's parameters.
func (p *Pipeline) Config() Config { return p.cfg.Clone() }

// Run computes the reduced implication graph of one segment.
func (p *Pipeline) Run(ctx context.Context, segment string, events []Event) (*Graph, error) {
	runID := uuid.New().String()
	g, records, err := p.runSegment(ctx, runID, segment, events)
	if err != nil {
		p.recordFailure(ctx, runID, segment, err)
		return nil, err
	}
	p.flush(ctx, segment, records)
	return g, nil
}

// RunSegmented partitions events and runs every segment concurrently. A
// failing segment does not stop the others: it is listed in Failures and
// its error is joined into the returned error, while successful graphs are
// still returned.
func (p *Pipeline) RunSegmented(ctx context.Context, events []Event) (*Result, error) {
	runID := uuid.New().String()
	segments := Partition(events, p.spec)
	graphs := make([]*Graph, len(segments))
	errs := make([]error, len(segments))

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, seg := range segments {
		i, seg := i, seg
		g.Go(func() error {
			graph, records, err := p.runSegment(ctx, runID, seg.ID, seg.Events)
			if err != nil {
				errs[i] = fmt.Errorf("segment %q: %w", seg.ID, err)
				p.recordFailure(ctx, runID, seg.ID, err)
				return nil
			}
			p.flush(ctx, seg.ID, records)
			graphs[i] = graph
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{RunID: runID}
	for i, seg := range segments {
		if errs[i] != nil {
			res.Failures = append(res.Failures, SegmentFailure{Segment: seg.ID, Error: errs[i].Error()})
			continue
		}
		res.Graphs = append(res.Graphs, graphs[i])
	}
	return res, errors.Join(errs...)
}

func (p *Pipeline) runSegment(ctx context.Context, runID, segment string, events []Event) (*Graph, []audit.Record, error) {
	start := time.Now()
	store, err := BuildStore(p.binarizer, events)
	if err != nil {
		return nil, nil, fmt.Errorf("build store: %w", err)
	}
	tr, err := p.tester.TestAll(ctx, store)
	if err != nil {
		return nil, nil, err
	}
	fdr := BenjaminiHochberg(tr.Candidates, p.cfg.FDRQ, p.cfg.Epsilon)

	diag := &Diagnostics{
		Events:       store.Len(),
		Signals:      len(store.Signals()),
		PairsTested:  tr.PairsTested,
		Candidates:   len(tr.Candidates),
		Skipped:      make(map[string]int, len(tr.Skipped)),
		Labels:       store.Stats(),
		FDRM:         fdr.M,
		FDRMStar:     fdr.MStar,
		FDRThreshold: fdr.Threshold,
		Accepted:     len(fdr.Accepted),
		Rejected:     len(fdr.Rejected),
	}
	for reason, n := range tr.Skipped {
		diag.Skipped[reason.String()] = n
	}
	for _, nie := range tr.Instabilities {
		diag.Instabilities = append(diag.Instabilities, EdgeRef{Src: nie.Src, Dst: nie.Dst})
	}

	built := BuildGraph(segment, fdr.Accepted)
	graph, err := Reduce(built)
	if err != nil {
		var cyc *CyclicGraphError
		if errors.As(err, &cyc) {
			p.logger.Error().Str("segment", segment).Str("run_id", runID).Err(err).Msg("accepted edges contain a cycle")
		}
		return nil, nil, err
	}
	diag.Reduced = len(graph.Edges)
	diag.Subsumed = len(graph.Subsumed)
	graph.Diagnostics = diag

	p.logger.Info().
		Str("segment", segment).
		Str("run_id", runID).
		Int("events", diag.Events).
		Int("candidates", diag.Candidates).
		Int("accepted", diag.Accepted).
		Int("edges", diag.Reduced).
		Int("subsumed", diag.Subsumed).
		Dur("took", time.Since(start)).
		Msg("segment graph computed")

	return graph, p.auditRecords(runID, graph), nil
}

func (p *Pipeline) auditRecords(runID string, g *Graph) []audit.Record {
	if p.sink == nil {
		return nil
	}
	ts := p.now()
	records := make([]audit.Record, 0, len(g.Edges)+len(g.Subsumed))
	for _, e := range g.Edges {
		records = append(records, audit.NewRecord(ts, runID, g.Segment, audit.ActionEdgeAdded, p.actor, edgeDiff(e)))
	}
	for _, s := range g.Subsumed {
		diff := edgeDiff(s.Edge)
		diff["via"] = s.Via
		records = append(records, audit.NewRecord(ts, runID, g.Segment, audit.ActionEdgeSubsumed, p.actor, diff))
	}
	return records
}

func edgeDiff(e Edge) map[string]interface{} {
	return map[string]interface{}{
		"src":           e.Src,
		"dst":           e.Dst,
		"n_src1":        e.NSrc1,
		"k_counterex":   e.K,
		"ci95_upper":    e.CI95Upper,
		"p_value":       e.PValue,
		"q_value":       e.QValue,
		"rule_of_three": e.RuleOfThree,
	}
}

func (p *Pipeline) flush(ctx context.Context, segment string, records []audit.Record) {
	for _, rec := range records {
		if err := p.sink.Record(ctx, rec); err != nil {
			p.logger.Warn().Err(err).Str("segment", segment).Str("action", string(rec.Action)).Msg("audit write failed")
			return
		}
	}
}

func (p *Pipeline) recordFailure(ctx context.Context, runID, segment string, cause error) {
	if p.sink == nil {
		return
	}
	rec := audit.NewRecord(p.now(), runID, segment, audit.ActionSegmentFailed, p.actor,
		map[string]interface{}{"error": cause.Error()})
	if err := p.sink.Record(ctx, rec); err != nil {
		p.logger.Warn().Err(err).Str("segment", segment).Msg("audit write failed")
	}
}
