package discovery

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"
)

func storeFor(t *testing.T, cfg Config, events []Event) *Store {
	t.Helper()
	b, err := NewBinarizer(cfg.Thresholds)
	if err != nil {
		t.Fatal(err)
	}
	s, err := BuildStore(b, events)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func pair(t *testing.T, cfg Config, events []Event, src, dst string) PairOutcome {
	t.Helper()
	s := storeFor(t, cfg, events)
	i, _ := s.Index(src)
	j, _ := s.Index(dst)
	return NewTester(cfg, zerolog.Nop()).TestPair(s, i, j)
}

func TestTestPair_RuleOfThree(t *testing.T) {
	cfg := testConfig(0.005, "X", "Y")
	events := concat(
		repeat(600, map[string]float64{"X": 1, "Y": 1}),
		repeat(100, map[string]float64{"X": 0, "Y": 0}),
	)
	out := pair(t, cfg, events, "X", "Y")
	if out.Edge == nil {
		t.Fatalf("no edge, skip = %v", out.Skip)
	}
	e := out.Edge
	if e.NSrc1 != 600 || e.K != 0 {
		t.Errorf("n, k = %d, %d; want 600, 0", e.NSrc1, e.K)
	}
	if !e.RuleOfThree || e.PValue != 0 {
		t.Errorf("rule_of_three = %v, p = %v; want true, 0", e.RuleOfThree, e.PValue)
	}
	if !approx(e.CI95Upper, 0.005, 1e-15) {
		t.Errorf("ci95_upper = %v, want 0.005", e.CI95Upper)
	}
}

func TestTestPair_RuleOfThreeBoundExceeded(t *testing.T) {
	cfg := testConfig(0.005, "X", "Y")
	out := pair(t, cfg, repeat(599, map[string]float64{"X": 1, "Y": 1}), "X", "Y")
	if out.Edge != nil || out.Skip != SkipBoundExceedsEpsilon {
		t.Errorf("edge = %v, skip = %v; want nil, %v", out.Edge, out.Skip, SkipBoundExceedsEpsilon)
	}
}

func TestTestPair_UnknownDestinationExcluded(t *testing.T) {
	cfg := testConfig(0.005, "X", "Y")
	events := concat(
		repeat(700, map[string]float64{"X": 1, "Y": 1}),
		repeat(50, map[string]float64{"X": 1, "Y": math.NaN()}),
	)
	out := pair(t, cfg, events, "X", "Y")
	if out.Edge == nil {
		t.Fatalf("no edge, skip = %v", out.Skip)
	}
	if out.Edge.NSrc1 != 700 {
		t.Errorf("n_src1 = %d, want 700 (unknown Y excluded)", out.Edge.NSrc1)
	}
	if out.Edge.K != 0 {
		t.Errorf("k = %d, want 0", out.Edge.K)
	}
}

func TestTestPair_InsufficientSupport(t *testing.T) {
	cfg := testConfig(0.005, "X", "Y")
	out := pair(t, cfg, repeat(10, map[string]float64{"X": 0, "Y": 1}), "X", "Y")
	if out.Skip != SkipInsufficientSupport {
		t.Errorf("skip = %v, want %v", out.Skip, SkipInsufficientSupport)
	}
}

func TestTestPair_Counterexamples(t *testing.T) {
	cfg := testConfig(0.005, "X", "Y")
	events := concat(
		repeat(995, map[string]float64{"X": 1, "Y": 1}),
		repeat(5, map[string]float64{"X": 1, "Y": 0}),
	)
	out := pair(t, cfg, events, "X", "Y")
	if out.Edge == nil {
		t.Fatalf("no edge, skip = %v", out.Skip)
	}
	e := out.Edge
	if e.NSrc1 != 1000 || e.K != 5 {
		t.Errorf("n, k = %d, %d; want 1000, 5", e.NSrc1, e.K)
	}
	if e.RuleOfThree {
		t.Error("rule_of_three should be false when k > 0")
	}
	want, _ := BinomialLowerTail(5, 1000, 0.005)
	if !approx(e.PValue, want, 1e-12) {
		t.Errorf("p = %v, want %v", e.PValue, want)
	}
	if e.CI95Upper <= 0.005 || e.CI95Upper >= 1 {
		t.Errorf("ci95_upper = %v, want in (0.005, 1)", e.CI95Upper)
	}
}

func TestTestPair_NullRateOverride(t *testing.T) {
	cfg := testConfig(0.005, "X", "Y")
	cfg.NullRate = 0.01
	events := concat(
		repeat(995, map[string]float64{"X": 1, "Y": 1}),
		repeat(5, map[string]float64{"X": 1, "Y": 0}),
	)
	out := pair(t, cfg, events, "X", "Y")
	want, _ := BinomialLowerTail(5, 1000, 0.01)
	if out.Edge == nil || !approx(out.Edge.PValue, want, 1e-12) {
		t.Errorf("edge = %+v, want p = %v", out.Edge, want)
	}
}

func TestTestAll_OrderAndCounts(t *testing.T) {
	cfg := testConfig(0.02, "X", "Y", "Z")
	res, err := NewTester(cfg, zerolog.Nop()).TestAll(context.Background(), storeFor(t, cfg, chainEvents()))
	if err != nil {
		t.Fatal(err)
	}
	if res.PairsTested != 6 {
		t.Errorf("pairs tested = %d, want 6", res.PairsTested)
	}
	for i := 1; i < len(res.Candidates); i++ {
		a, b := res.Candidates[i-1], res.Candidates[i]
		if a.Src > b.Src || (a.Src == b.Src && a.Dst >= b.Dst) {
			t.Errorf("candidates out of order: %s before %s", a.Ref(), b.Ref())
		}
	}
	got := edgeSet(res.Candidates)
	for _, want := range []EdgeRef{{"X", "Y"}, {"Y", "Z"}, {"X", "Z"}} {
		if !got[want] {
			t.Errorf("missing candidate %s", want)
		}
	}
}

func TestTestAll_CandidateRestriction(t *testing.T) {
	cfg := testConfig(0.02, "X", "Y", "Z")
	cfg.Candidates = []EdgeRef{{Src: "X", Dst: "Y"}}
	res, err := NewTester(cfg, zerolog.Nop()).TestAll(context.Background(), storeFor(t, cfg, chainEvents()))
	if err != nil {
		t.Fatal(err)
	}
	if res.PairsTested != 1 {
		t.Errorf("pairs tested = %d, want 1", res.PairsTested)
	}
	if res.Skipped[SkipNotCandidate] != 5 {
		t.Errorf("not_candidate = %d, want 5", res.Skipped[SkipNotCandidate])
	}
	if len(res.Candidates) != 1 || res.Candidates[0].Ref() != (EdgeRef{"X", "Y"}) {
		t.Errorf("candidates = %v", res.Candidates)
	}
}

func TestTestAll_CancelledContext(t *testing.T) {
	cfg := testConfig(0.02, "X", "Y", "Z")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewTester(cfg, zerolog.Nop()).TestAll(ctx, storeFor(t, cfg, chainEvents())); err == nil {
		t.Error("expected context error")
	}
}

// unstableTail fails every binomial evaluation the way gonum does on
// extreme inputs, leaving zero-counterexample pairs untouched.
func unstableTail(k, n uint64, p0 float64) (float64, error) {
	return checkProbability("binomial_cdf", math.NaN())
}

// instabilityEvents yields A -> B -> C with zero counterexamples, while the
// reverse pairs all carry counterexamples and reach the binomial test.
func instabilityEvents() []Event {
	return concat(
		repeat(1000, map[string]float64{"A": 1, "B": 1, "C": 1}),
		repeat(500, map[string]float64{"A": 0, "B": 1, "C": 1}),
		repeat(500, map[string]float64{"A": 0, "B": 0, "C": 1}),
		repeat(1000, map[string]float64{"A": 0, "B": 0, "C": 0}),
	)
}

func TestTestAll_NumericalInstabilityExcluded(t *testing.T) {
	cfg := testConfig(0.01, "A", "B", "C")
	tester := NewTester(cfg, zerolog.Nop())
	tester.lowerTail = unstableTail

	res, err := tester.TestAll(context.Background(), storeFor(t, cfg, instabilityEvents()))
	if err != nil {
		t.Fatalf("TestAll() error: %v", err)
	}
	if res.PairsTested != 6 {
		t.Errorf("pairs tested = %d, want 6", res.PairsTested)
	}
	if res.Skipped[SkipNumericalInstability] != 3 {
		t.Errorf("numerical_instability = %d, want 3", res.Skipped[SkipNumericalInstability])
	}
	want := []EdgeRef{{"B", "A"}, {"C", "A"}, {"C", "B"}}
	if len(res.Instabilities) != len(want) {
		t.Fatalf("instabilities = %d, want %d", len(res.Instabilities), len(want))
	}
	for i, w := range want {
		nie := res.Instabilities[i]
		if got := (EdgeRef{Src: nie.Src, Dst: nie.Dst}); got != w {
			t.Errorf("instabilities[%d] = %s, want %s", i, got, w)
		}
		if nie.K == 0 || nie.N == 0 || nie.Stage != "binomial_cdf" {
			t.Errorf("instabilities[%d] = %+v, want n, k and stage set", i, nie)
		}
	}
	got := edgeSet(res.Candidates)
	if len(got) != 3 || !got[EdgeRef{"A", "B"}] || !got[EdgeRef{"A", "C"}] || !got[EdgeRef{"B", "C"}] {
		t.Errorf("candidates = %v, want A->B, A->C, B->C", refs(got))
	}
}

func TestPipeline_NumericalInstabilityInDiagnostics(t *testing.T) {
	p, err := NewPipeline(testConfig(0.01, "A", "B", "C"))
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	p.tester.lowerTail = unstableTail

	g, err := p.Run(context.Background(), SegmentAll, instabilityEvents())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if n := g.Diagnostics.Skipped[SkipNumericalInstability.String()]; n != 3 {
		t.Errorf("skipped[numerical_instability] = %d, want 3", n)
	}
	if len(g.Diagnostics.Instabilities) != 3 {
		t.Errorf("instabilities = %v, want 3 pairs", g.Diagnostics.Instabilities)
	}
	if len(g.Edges) != 2 || !g.Reachable("A", "C") {
		t.Errorf("edges = %+v, want A->B, B->C", g.Edges)
	}
	if _, ok := g.Subsumption("A", "C"); !ok {
		t.Error("A->C not recorded as subsumed")
	}
}
