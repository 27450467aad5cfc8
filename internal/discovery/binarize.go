package discovery

import (
	"math"
	"sort"
)

// Label is the ternary binarization of a raw signal value.
type Label uint8

const (
	LabelZero Label = iota
	LabelOne
	LabelUnknown
)

func (l Label) String() string {
	switch l {
	case LabelOne:
		return "1"
	case LabelZero:
		return "0"
	default:
		return "unknown"
	}
}

// ThresholdKind selects how a signal is binarized.
type ThresholdKind string

const (
	ThresholdNumeric     ThresholdKind = "numeric"
	ThresholdCategorical ThresholdKind = "categorical"
	ThresholdBoolean     ThresholdKind = "boolean"
)

// Threshold is the per-signal binarization rule: threshold a_i with margin
// δ_i for numeric signals, or an exact Match for categorical and boolean ones.
type Threshold struct {
	Kind  ThresholdKind `yaml:"kind,omitempty" json:"kind,omitempty"`
	A     float64       `yaml:"threshold" json:"threshold"`
	Delta float64       `yaml:"margin,omitempty" json:"margin,omitempty"`
	Match string        `yaml:"match,omitempty" json:"match,omitempty"`
}

func (t Threshold) kind() ThresholdKind {
	if t.Kind == "" {
		return ThresholdNumeric
	}
	return t.Kind
}

func (t Threshold) match() string {
	if t.kind() == ThresholdBoolean && t.Match == "" {
		return "true"
	}
	return t.Match
}

func (t Threshold) validate(signal string) error {
	field := "thresholds." + signal
	switch t.kind() {
	case ThresholdNumeric:
		if math.IsNaN(t.A) || math.IsInf(t.A, 0) {
			return configErrorf(field, "threshold must be finite")
		}
		if math.IsNaN(t.Delta) || math.IsInf(t.Delta, 0) || t.Delta < 0 {
			return configErrorf(field, "margin must be a finite non-negative number, got %v", t.Delta)
		}
	case ThresholdCategorical:
		if t.Match == "" {
			return configErrorf(field, "categorical signal requires match")
		}
		if t.Delta != 0 {
			return configErrorf(field, "categorical signal must have zero margin")
		}
	case ThresholdBoolean:
		if m := t.match(); m != "true" && m != "false" {
			return configErrorf(field, "boolean match must be true or false, got %q", m)
		}
		if t.Delta != 0 {
			return configErrorf(field, "boolean signal must have zero margin")
		}
	default:
		return configErrorf(field, "unknown kind %q", t.Kind)
	}
	return nil
}

// Binarize maps a raw value to ONE, ZERO or UNKNOWN. Missing values and
// values whose variant does not fit the threshold kind are UNKNOWN.
func Binarize(t Threshold, v SignalValue) Label {
	label, _ := binarize(t, v)
	return label
}

// binarize also reports whether the value variant mismatched the threshold.
func binarize(t Threshold, v SignalValue) (Label, bool) {
	if v.Kind() == KindMissing {
		return LabelUnknown, false
	}
	switch t.kind() {
	case ThresholdNumeric:
		x, ok := v.Float()
		if !ok {
			return LabelUnknown, true
		}
		if math.IsNaN(x) {
			return LabelUnknown, false
		}
		switch {
		case x > t.A+t.Delta:
			return LabelOne, false
		case x < t.A-t.Delta:
			return LabelZero, false
		default:
			return LabelUnknown, false
		}
	case ThresholdCategorical:
		s, ok := v.Text()
		if !ok {
			return LabelUnknown, true
		}
		if s == t.Match {
			return LabelOne, false
		}
		return LabelZero, false
	case ThresholdBoolean:
		var b string
		if x, ok := v.Float(); ok {
			switch x {
			case 1:
				b = "true"
			case 0:
				b = "false"
			default:
				return LabelUnknown, true
			}
		} else {
			s, _ := v.Text()
			if s != "true" && s != "false" {
				return LabelUnknown, true
			}
			b = s
		}
		if b == t.match() {
			return LabelOne, false
		}
		return LabelZero, false
	}
	return LabelUnknown, true
}

// Binarizer resolves signals against an immutable threshold table.
type Binarizer struct {
	thresholds map[string]Threshold
	signals    []string
}

// NewBinarizer validates the thresholds and returns a Binarizer over them.
func NewBinarizer(thresholds map[string]Threshold) (*Binarizer, error) {
	if len(thresholds) == 0 {
		return nil, configErrorf("thresholds", "no signals configured")
	}
	b := &Binarizer{
		thresholds: make(map[string]Threshold, len(thresholds)),
		signals:    make([]string, 0, len(thresholds)),
	}
	for name, t := range thresholds {
		if name == "" {
			return nil, configErrorf("thresholds", "empty signal name")
		}
		if err := t.validate(name); err != nil {
			return nil, err
		}
		b.thresholds[name] = t
		b.signals = append(b.signals, name)
	}
	sort.Strings(b.signals)
	return b, nil
}

// Signals returns the configured signal names in sorted order.
func (b *Binarizer) Signals() []string {
	out := make([]string, len(b.signals))
	copy(out, b.signals)
	return out
}

// Label binarizes v for the named signal. A signal absent from the
// threshold table is a configuration error.
func (b *Binarizer) Label(signal string, v SignalValue) (Label, error) {
	t, ok := b.thresholds[signal]
	if !ok {
		return LabelUnknown, configErrorf("thresholds."+signal, "signal not configured")
	}
	return Binarize(t, v), nil
}
