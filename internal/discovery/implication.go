package discovery

import (
	"context"
	"errors"
	"runtime"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Edge is a candidate or accepted implication src -> dst with the
// statistics that justify it.
type Edge struct {
	Src         string  `json:"src"`
	Dst         string  `json:"dst"`
	NSrc1       uint64  `json:"n_src1"`
	K           uint64  `json:"k_counterex"`
	CI95Upper   float64 `json:"ci95_upper"`
	PValue      float64 `json:"p_value"`
	QValue      float64 `json:"q_value"`
	RuleOfThree bool    `json:"rule_of_three"`
	Segment     string  `json:"segment,omitempty"`
}

// Ref returns the edge's endpoints.
func (e Edge) Ref() EdgeRef { return EdgeRef{Src: e.Src, Dst: e.Dst} }

// PairOutcome is the result of testing one ordered pair: either a candidate
// Edge or a Skip reason. Err is set only for numerical instability.
type PairOutcome struct {
	Src  string
	Dst  string
	Edge *Edge
	Skip SkipReason
	Err  error
}

// TestResult aggregates the outcomes of a full pairwise pass.
type TestResult struct {
	Candidates    []Edge
	PairsTested   int
	Skipped       map[SkipReason]int
	Instabilities []*NumericalInstabilityError
}

// Tester evaluates ordered signal pairs against a sealed Store.
type Tester struct {
	epsilon    float64
	nullRate   float64
	workers    int
	candidates map[EdgeRef]struct{}
	logger     zerolog.Logger

	lowerTail  func(k, n uint64, p0 float64) (float64, error)
	upperBound func(k, n uint64, confidence float64) (float64, error)
}

// NewTester creates a tester for the given configuration. cfg must already
// be valid.
func NewTester(cfg Config, logger zerolog.Logger) *Tester {
	t := &Tester{
		epsilon:  cfg.Epsilon,
		nullRate: cfg.EffectiveNullRate(),
		workers:  cfg.Workers,
		logger:   logger.With().Str("component", "implication_tester").Logger(),

		lowerTail:  BinomialLowerTail,
		upperBound: ClopperPearsonUpper,
	}
	if t.workers <= 0 {
		t.workers = runtime.GOMAXPROCS(0)
	}
	if len(cfg.Candidates) > 0 {
		t.candidates = make(map[EdgeRef]struct{}, len(cfg.Candidates))
		for _, ref := range cfg.Candidates {
			t.candidates[ref] = struct{}{}
		}
	}
	return t
}

// allowed reports whether a pair is in the candidate restriction, if any.
func (t *Tester) allowed(src, dst string) bool {
	if t.candidates == nil {
		return true
	}
	_, ok := t.candidates[EdgeRef{Src: src, Dst: dst}]
	return ok
}

// TestPair computes counterexample statistics for i -> j.
func (t *Tester) TestPair(s *Store, i, j int) PairOutcome {
	src, dst := s.signals[i], s.signals[j]
	out := PairOutcome{Src: src, Dst: dst}

	// Conditioning universe: i known-1 and j known.
	n := PopcountAndNot(s.ones[i], s.unknown[j])
	if n == 0 {
		out.Skip = SkipInsufficientSupport
		return out
	}
	// ONE_j is a subset of known_j, so counterexamples are the remainder.
	k := n - PopcountAnd(s.ones[i], s.ones[j])

	if k == 0 {
		ci := RuleOfThreeUpper(n)
		if ci > t.epsilon {
			out.Skip = SkipBoundExceedsEpsilon
			return out
		}
		out.Edge = &Edge{Src: src, Dst: dst, NSrc1: n, CI95Upper: ci, PValue: 0, RuleOfThree: true}
		return out
	}

	p, err := t.lowerTail(k, n, t.nullRate)
	if err == nil {
		var ci float64
		ci, err = t.upperBound(k, n, upperConfidence)
		if err == nil {
			out.Edge = &Edge{Src: src, Dst: dst, NSrc1: n, K: k, CI95Upper: ci, PValue: p}
			return out
		}
	}
	var nie *NumericalInstabilityError
	if errors.As(err, &nie) {
		nie.Src, nie.Dst, nie.N, nie.K = src, dst, n, k
	}
	out.Skip = SkipNumericalInstability
	out.Err = err
	return out
}

// TestAll evaluates every allowed ordered pair of distinct signals. Source
// signals are fanned out across workers; each worker only reads the sealed
// store, and results are merged in (src, dst) index order so the output is
// independent of scheduling.
func (t *Tester) TestAll(ctx context.Context, s *Store) (*TestResult, error) {
	s.Seal()
	d := len(s.signals)
	perSrc := make([][]PairOutcome, d)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers)
	for i := 0; i < d; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outs := make([]PairOutcome, 0, d-1)
			for j := 0; j < d; j++ {
				if i == j {
					continue
				}
				if !t.allowed(s.signals[i], s.signals[j]) {
					outs = append(outs, PairOutcome{Src: s.signals[i], Dst: s.signals[j], Skip: SkipNotCandidate})
					continue
				}
				outs = append(outs, t.TestPair(s, i, j))
			}
			perSrc[i] = outs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return t.aggregate(perSrc), nil
}

// aggregate folds per-source outcomes into a TestResult. Unstable pairs are
// excluded, logged and counted; they never fail the batch.
func (t *Tester) aggregate(perSrc [][]PairOutcome) *TestResult {
	res := &TestResult{Skipped: make(map[SkipReason]int)}
	for _, outs := range perSrc {
		for _, out := range outs {
			if out.Skip == SkipNotCandidate {
				res.Skipped[SkipNotCandidate]++
				continue
			}
			res.PairsTested++
			if out.Edge != nil {
				res.Candidates = append(res.Candidates, *out.Edge)
				continue
			}
			res.Skipped[out.Skip]++
			var nie *NumericalInstabilityError
			if errors.As(out.Err, &nie) {
				res.Instabilities = append(res.Instabilities, nie)
				t.logger.Warn().
					Str("src", nie.Src).
					Str("dst", nie.Dst).
					Uint64("n", nie.N).
					Uint64("k", nie.K).
					Str("stage", nie.Stage).
					Msg("pair excluded: binomial statistics not finite")
			}
		}
	}
	return res
}
