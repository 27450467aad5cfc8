package discovery

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration is wrapped by every *ConfigurationError.
	ErrConfiguration = errors.New("configuration error")
	// ErrCyclicGraph is wrapped by every *CyclicGraphError.
	ErrCyclicGraph = errors.New("cyclic accepted-edge graph")
	// ErrNumericalInstability is wrapped by every *NumericalInstabilityError.
	ErrNumericalInstability = errors.New("numerical instability")
)

// ConfigurationError reports a missing or invalid threshold, signal, or
// statistical parameter. It is fatal and surfaced before any computation.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

func configErrorf(field, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// EdgeRef names a directed edge without its statistics.
type EdgeRef struct {
	Src string `json:"src" yaml:"src"`
	Dst string `json:"dst" yaml:"dst"`
}

func (r EdgeRef) String() string { return r.Src + "->" + r.Dst }

// CyclicGraphError is returned by Reduce when the accepted edges contain a
// cycle. Cycle lists the offending edges in traversal order.
type CyclicGraphError struct {
	Segment string
	Cycle   []EdgeRef
}

func (e *CyclicGraphError) Error() string {
	parts := make([]string, 0, len(e.Cycle))
	for _, ref := range e.Cycle {
		parts = append(parts, ref.String())
	}
	if e.Segment == "" {
		return fmt.Sprintf("cyclic accepted-edge graph: %s", strings.Join(parts, ", "))
	}
	return fmt.Sprintf("segment %q: cyclic accepted-edge graph: %s", e.Segment, strings.Join(parts, ", "))
}

func (e *CyclicGraphError) Unwrap() error { return ErrCyclicGraph }

// NumericalInstabilityError marks a pair whose binomial statistics did not
// produce a finite result. The pair is excluded; the batch continues.
type NumericalInstabilityError struct {
	Src   string
	Dst   string
	N     uint64
	K     uint64
	Stage string
	Value float64
}

func (e *NumericalInstabilityError) Error() string {
	return fmt.Sprintf("%s->%s: %s produced %v for n=%d k=%d", e.Src, e.Dst, e.Stage, e.Value, e.N, e.K)
}

func (e *NumericalInstabilityError) Unwrap() error { return ErrNumericalInstability }

// SkipReason explains why a tested pair produced no candidate edge.
type SkipReason uint8

const (
	SkipNone SkipReason = iota
	SkipInsufficientSupport
	SkipBoundExceedsEpsilon
	SkipNumericalInstability
	SkipNotCandidate
)

func (r SkipReason) String() string {
	switch r {
	case SkipNone:
		return "none"
	case SkipInsufficientSupport:
		return "insufficient_support"
	case SkipBoundExceedsEpsilon:
		return "bound_exceeds_epsilon"
	case SkipNumericalInstability:
		return "numerical_instability"
	case SkipNotCandidate:
		return "not_candidate"
	default:
		return "unknown"
	}
}
