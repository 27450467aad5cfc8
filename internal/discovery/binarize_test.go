package discovery

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// ─── Binarize ───────────────────────────────────────────────────────────────

func TestBinarize_NumericStrictMargin(t *testing.T) {
	th := Threshold{Kind: ThresholdNumeric, A: 10, Delta: 2}
	tests := []struct {
		x    float64
		want Label
	}{
		{12.5, LabelOne},
		{12, LabelUnknown},
		{10, LabelUnknown},
		{8, LabelUnknown},
		{7.9, LabelZero},
		{-100, LabelZero},
	}
	for _, tt := range tests {
		if got := Binarize(th, Numeric(tt.x)); got != tt.want {
			t.Errorf("Binarize(%v) = %v, want %v", tt.x, got, tt.want)
		}
	}
}

func TestBinarize_ZeroMarginAtThresholdIsUnknown(t *testing.T) {
	th := Threshold{A: 0.5}
	if got := Binarize(th, Numeric(0.5)); got != LabelUnknown {
		t.Errorf("at threshold = %v, want unknown", got)
	}
	if got := Binarize(th, Numeric(1)); got != LabelOne {
		t.Errorf("above = %v, want 1", got)
	}
	if got := Binarize(th, Numeric(0)); got != LabelZero {
		t.Errorf("below = %v, want 0", got)
	}
}

func TestBinarize_MissingIsUnknown(t *testing.T) {
	for _, th := range []Threshold{
		{A: 1},
		{Kind: ThresholdCategorical, Match: "admin"},
		{Kind: ThresholdBoolean},
	} {
		if got := Binarize(th, Missing()); got != LabelUnknown {
			t.Errorf("%s: missing = %v, want unknown", th.kind(), got)
		}
	}
}

func TestBinarize_Categorical(t *testing.T) {
	th := Threshold{Kind: ThresholdCategorical, Match: "admin"}
	if got := Binarize(th, Categorical("admin")); got != LabelOne {
		t.Errorf("match = %v, want 1", got)
	}
	if got := Binarize(th, Categorical("Admin")); got != LabelZero {
		t.Errorf("case differs = %v, want 0", got)
	}
}

func TestBinarize_TypeMismatchIsUnknown(t *testing.T) {
	label, mismatch := binarize(Threshold{A: 1}, Categorical("high"))
	if label != LabelUnknown || !mismatch {
		t.Errorf("numeric threshold on text = (%v, %v), want (unknown, true)", label, mismatch)
	}
	label, mismatch = binarize(Threshold{Kind: ThresholdCategorical, Match: "1"}, Numeric(1))
	if label != LabelUnknown || !mismatch {
		t.Errorf("categorical threshold on number = (%v, %v), want (unknown, true)", label, mismatch)
	}
}

func TestBinarize_Boolean(t *testing.T) {
	th := Threshold{Kind: ThresholdBoolean}
	tests := []struct {
		v    SignalValue
		want Label
	}{
		{Categorical("true"), LabelOne},
		{Categorical("false"), LabelZero},
		{Numeric(1), LabelOne},
		{Numeric(0), LabelZero},
		{Numeric(2), LabelUnknown},
		{Categorical("yes"), LabelUnknown},
	}
	for _, tt := range tests {
		if got := Binarize(th, tt.v); got != tt.want {
			t.Errorf("Binarize(%v) = %v, want %v", tt.v.Label(), got, tt.want)
		}
	}
	inverted := Threshold{Kind: ThresholdBoolean, Match: "false"}
	if got := Binarize(inverted, Categorical("false")); got != LabelOne {
		t.Errorf("match=false on false = %v, want 1", got)
	}
}

// ─── Binarizer ──────────────────────────────────────────────────────────────

func TestNewBinarizer_Errors(t *testing.T) {
	tests := []struct {
		name string
		th   map[string]Threshold
	}{
		{"empty", nil},
		{"categorical without match", map[string]Threshold{"role": {Kind: ThresholdCategorical}}},
		{"negative margin", map[string]Threshold{"cpu": {A: 1, Delta: -1}}},
		{"unknown kind", map[string]Threshold{"cpu": {Kind: "fuzzy"}}},
		{"boolean bad match", map[string]Threshold{"flag": {Kind: ThresholdBoolean, Match: "maybe"}}},
		{"empty name", map[string]Threshold{"": {A: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBinarizer(tt.th)
			var ce *ConfigurationError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want *ConfigurationError", err)
			}
			if !errors.Is(err, ErrConfiguration) {
				t.Error("should wrap ErrConfiguration")
			}
		})
	}
}

func TestBinarizer_LabelUnknownSignal(t *testing.T) {
	b, err := NewBinarizer(numericThresholds("X", "Y"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Label("Q", Numeric(1)); !errors.Is(err, ErrConfiguration) {
		t.Errorf("err = %v, want configuration error", err)
	}
	got, err := b.Label("X", Numeric(1))
	if err != nil || got != LabelOne {
		t.Errorf("Label(X) = %v, %v; want 1, nil", got, err)
	}
	if s := b.Signals(); len(s) != 2 || s[0] != "X" || s[1] != "Y" {
		t.Errorf("Signals = %v, want [X Y]", s)
	}
}

// ─── Event JSON ─────────────────────────────────────────────────────────────

func TestEvent_UnmarshalJSON(t *testing.T) {
	raw := `{"timestamp":"2026-03-01T10:00:00Z","entity_id":"host-1","source":"edr",
		"cpu":93.5,"role":"admin","mfa":false,"gone":null}`
	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !ev.Timestamp.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("Timestamp = %v", ev.Timestamp)
	}
	if ev.EntityID != "host-1" || ev.Source != "edr" {
		t.Errorf("ids = %q/%q", ev.EntityID, ev.Source)
	}
	if x, ok := ev.Value("cpu").Float(); !ok || x != 93.5 {
		t.Errorf("cpu = %v, %v", x, ok)
	}
	if s, ok := ev.Value("role").Text(); !ok || s != "admin" {
		t.Errorf("role = %q, %v", s, ok)
	}
	if s, _ := ev.Value("mfa").Text(); s != "false" {
		t.Errorf("mfa = %q, want false", s)
	}
	if ev.Value("gone").Kind() != KindMissing {
		t.Error("null should be missing")
	}
	if ev.Value("absent").Kind() != KindMissing {
		t.Error("absent should be missing")
	}
}

func TestEvent_UnixTimestampAndRoundTrip(t *testing.T) {
	var ev Event
	if err := json.Unmarshal([]byte(`{"ts":1772359200,"x":1}`), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Timestamp.Unix() != 1772359200 {
		t.Errorf("unix = %d", ev.Timestamp.Unix())
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	var back Event
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if !back.Timestamp.Equal(ev.Timestamp) {
		t.Errorf("timestamp = %v, want %v", back.Timestamp, ev.Timestamp)
	}
	if x, _ := back.Value("x").Float(); x != 1 {
		t.Errorf("x = %v, want 1", x)
	}
}

func TestEvent_RejectsNestedValues(t *testing.T) {
	var ev Event
	if err := json.Unmarshal([]byte(`{"x":{"a":1}}`), &ev); err == nil {
		t.Error("expected error for object value")
	}
}
