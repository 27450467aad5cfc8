package discovery

import (
	"math"
	"sort"
	"time"
)

const (
	// DefaultEpsilon is the tolerated counterexample rate P(dst=0 | src=1).
	DefaultEpsilon = 0.005
	// DefaultFDRQ is the Benjamini–Hochberg target false discovery rate.
	DefaultFDRQ = 0.01
)

// Config is the immutable parameter set for one pipeline invocation.
// Hot reload means building a new Config and passing it to the next batch.
type Config struct {
	Thresholds           map[string]Threshold `yaml:"thresholds" json:"thresholds"`
	Epsilon              float64              `yaml:"epsilon" json:"epsilon"`
	FDRQ                 float64              `yaml:"fdr_q" json:"fdr_q"`
	NullRate             float64              `yaml:"null_rate,omitempty" json:"null_rate,omitempty"`
	SegmentKeys          []string             `yaml:"segment_keys,omitempty" json:"segment_keys,omitempty"`
	SegmentAllowedValues map[string][]string  `yaml:"segment_allowed_values,omitempty" json:"segment_allowed_values,omitempty"`
	SegmentWindow        string               `yaml:"segment_window,omitempty" json:"segment_window,omitempty"`
	Candidates           []EdgeRef            `yaml:"candidates,omitempty" json:"candidates,omitempty"`
	Workers              int                  `yaml:"workers,omitempty" json:"workers,omitempty"`
}

// DefaultConfig returns a Config with the default statistical policy and no
// signals. Thresholds must be supplied before it validates.
func DefaultConfig() Config {
	return Config{
		Thresholds: map[string]Threshold{},
		Epsilon:    DefaultEpsilon,
		FDRQ:       DefaultFDRQ,
	}
}

// Validate checks every parameter and returns a *ConfigurationError for the
// first problem found.
func (c Config) Validate() error {
	if _, err := NewBinarizer(c.Thresholds); err != nil {
		return err
	}
	if !inOpenUnit(c.Epsilon) {
		return configErrorf("epsilon", "must be in (0, 1), got %v", c.Epsilon)
	}
	if math.IsNaN(c.FDRQ) || c.FDRQ <= 0 || c.FDRQ > 1 {
		return configErrorf("fdr_q", "must be in (0, 1], got %v", c.FDRQ)
	}
	if c.NullRate != 0 && !inOpenUnit(c.NullRate) {
		return configErrorf("null_rate", "must be in (0, 1), got %v", c.NullRate)
	}
	if c.Workers < 0 {
		return configErrorf("workers", "must not be negative")
	}
	for _, ref := range c.Candidates {
		if _, ok := c.Thresholds[ref.Src]; !ok {
			return configErrorf("candidates", "unknown source signal %q", ref.Src)
		}
		if _, ok := c.Thresholds[ref.Dst]; !ok {
			return configErrorf("candidates", "unknown destination signal %q", ref.Dst)
		}
		if ref.Src == ref.Dst {
			return configErrorf("candidates", "self pair %q", ref.Src)
		}
	}
	if _, err := c.SegmentSpec(); err != nil {
		return err
	}
	return nil
}

func inOpenUnit(v float64) bool {
	return !math.IsNaN(v) && v > 0 && v < 1
}

// Signals returns the configured signal names in sorted order.
func (c Config) Signals() []string {
	out := make([]string, 0, len(c.Thresholds))
	for name := range c.Thresholds {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// EffectiveNullRate is the binomial null failure rate; it defaults to epsilon.
func (c Config) EffectiveNullRate() float64 {
	if c.NullRate > 0 {
		return c.NullRate
	}
	return c.Epsilon
}

// SegmentSpec resolves the segmentation parameters.
func (c Config) SegmentSpec() (SegmentSpec, error) {
	spec := SegmentSpec{
		Keys:          append([]string(nil), c.SegmentKeys...),
		AllowedValues: c.SegmentAllowedValues,
	}
	if c.SegmentWindow != "" {
		d, err := time.ParseDuration(c.SegmentWindow)
		if err != nil || d <= 0 {
			return spec, configErrorf("segment_window", "invalid duration %q", c.SegmentWindow)
		}
		spec.Window = d
	}
	seen := make(map[string]bool, len(spec.Keys))
	for _, key := range spec.Keys {
		if key == "" {
			return spec, configErrorf("segment_keys", "empty key")
		}
		if seen[key] {
			return spec, configErrorf("segment_keys", "duplicate key %q", key)
		}
		seen[key] = true
		if key == TimeWindowKey && spec.Window == 0 {
			return spec, configErrorf("segment_window", "required when segmenting by %s", TimeWindowKey)
		}
	}
	return spec, nil
}

// Clone returns a deep copy so callers cannot mutate a running snapshot.
func (c Config) Clone() Config {
	out := c
	out.Thresholds = make(map[string]Threshold, len(c.Thresholds))
	for k, v := range c.Thresholds {
		out.Thresholds[k] = v
	}
	out.SegmentKeys = append([]string(nil), c.SegmentKeys...)
	if c.SegmentAllowedValues != nil {
		out.SegmentAllowedValues = make(map[string][]string, len(c.SegmentAllowedValues))
		for k, v := range c.SegmentAllowedValues {
			out.SegmentAllowedValues[k] = append([]string(nil), v...)
		}
	}
	out.Candidates = append([]EdgeRef(nil), c.Candidates...)
	return out
}
