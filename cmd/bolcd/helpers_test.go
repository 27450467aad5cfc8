package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bolcd/bolcd/internal/discovery"
)

// ─── suggest ──────────────────────────────────────────────────────────────────

func TestSuggest_PrefixMatch(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"reco", "recompute"},
		{"ser", "serve"},
		{"sta", "status"},
		{"gra", "graphs"},
		{"rul", "rules"},
		{"aud", "audit"},
		{"con", "config"},
		{"syn", "synth"},
		{"ver", "version"},
	}
	for _, tc := range tests {
		if got := suggest(tc.input); got != tc.want {
			t.Errorf("suggest(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestSuggest_TypoCorrection(t *testing.T) {
	if got := suggest("statux"); got != "status" {
		t.Errorf("suggest(statux) = %q, want status", got)
	}
	if got := suggest("rulez"); got != "rules" {
		t.Errorf("suggest(rulez) = %q, want rules", got)
	}
}

func TestSuggest_NoMatch(t *testing.T) {
	if got := suggest("zzzzzzzzz"); got != "" {
		t.Errorf("suggest(zzzzzzzzz) = %q, want empty", got)
	}
	if got := suggest(""); got != "" {
		t.Errorf("suggest(\"\") = %q, want empty", got)
	}
}

func TestSuggest_CaseInsensitive(t *testing.T) {
	if got := suggest("GRAPHS"); got != "graphs" {
		t.Errorf("suggest(GRAPHS) = %q, want graphs", got)
	}
}

// ─── parseValue ───────────────────────────────────────────────────────────────

func TestParseValue(t *testing.T) {
	tests := []struct {
		input string
		want  interface{}
	}{
		{"true", true},
		{"FALSE", false},
		{"42", 42},
		{"0.01", 0.01},
		{"debug", "debug"},
		{"1.2.3", "1.2.3"},
	}
	for _, tc := range tests {
		if got := parseValue(tc.input); got != tc.want {
			t.Errorf("parseValue(%q) = %v (%T), want %v (%T)", tc.input, got, got, tc.want, tc.want)
		}
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" A, B,,C ")
	if strings.Join(got, "|") != "A|B|C" {
		t.Errorf("splitList = %v, want [A B C]", got)
	}
}

// ─── setNestedValue ───────────────────────────────────────────────────────────

func TestSetNestedValue(t *testing.T) {
	m := map[string]interface{}{
		"discovery": map[string]interface{}{"epsilon": 0.005},
	}
	if err := setNestedValue(m, []string{"discovery", "epsilon"}, "0.01"); err != nil {
		t.Fatalf("setNestedValue() error: %v", err)
	}
	if got := m["discovery"].(map[string]interface{})["epsilon"]; got != 0.01 {
		t.Errorf("epsilon = %v, want 0.01", got)
	}

	if err := setNestedValue(m, []string{"bus", "enabled"}, "true"); err != nil {
		t.Fatalf("setNestedValue() error: %v", err)
	}
	if got := m["bus"].(map[string]interface{})["enabled"]; got != true {
		t.Errorf("bus.enabled = %v, want true", got)
	}
}

func TestSetNestedValue_NotAMap(t *testing.T) {
	m := map[string]interface{}{"logging": "info"}
	if err := setNestedValue(m, []string{"logging", "level"}, "debug"); err == nil {
		t.Error("expected error when traversing a scalar")
	}
	if err := setNestedValue(m, nil, "x"); err == nil {
		t.Error("expected error for empty path")
	}
}

// ─── parseFormat ──────────────────────────────────────────────────────────────

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input string
		want  OutputFormat
	}{
		{"json", FormatJSON},
		{" JSON ", FormatJSON},
		{"yaml", FormatYAML},
		{"yml", FormatYAML},
		{"graphml", FormatGraphML},
		{"table", FormatTable},
		{"bogus", FormatTable},
	}
	for _, tc := range tests {
		if got := parseFormat(tc.input); got != tc.want {
			t.Errorf("parseFormat(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

// ─── Table ────────────────────────────────────────────────────────────────────

func TestTable_Render(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTable(&buf, "SRC", "DST")
	tbl.AddRow("alpha", "B")
	tbl.AddRow("C")
	tbl.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 6 {
		t.Fatalf("lines = %d, want 6:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "┌") || !strings.HasPrefix(lines[5], "└") {
		t.Errorf("missing borders:\n%s", buf.String())
	}
	if !strings.Contains(lines[1], "SRC  ") {
		t.Errorf("header not padded to widest cell: %q", lines[1])
	}
	if !strings.Contains(lines[4], "│ C     │") {
		t.Errorf("short row not padded: %q", lines[4])
	}
}

func TestTable_NoHeaders(t *testing.T) {
	var buf bytes.Buffer
	NewTable(&buf).Render()
	if buf.Len() != 0 {
		t.Errorf("empty table rendered %q", buf.String())
	}
}

func TestRenderGraph(t *testing.T) {
	g := &discovery.Graph{
		Segment: discovery.SegmentAll,
		Nodes:   []string{"A", "B", "C"},
		Edges: []discovery.Edge{
			{Src: "A", Dst: "B", NSrc1: 1500, QValue: 0.001},
			{Src: "B", Dst: "C", NSrc1: 2500, QValue: 0.001},
		},
		Subsumed: []discovery.SubsumedEdge{
			{Edge: discovery.Edge{Src: "A", Dst: "C", NSrc1: 1500}, Via: []string{"A", "B", "C"}},
		},
	}
	var buf bytes.Buffer
	renderGraph(&buf, g)
	out := buf.String()
	for _, want := range []string{"3 nodes, 2 edges, 1 subsumed", "1500", "A -> C", "A -> B -> C"} {
		if !strings.Contains(out, want) {
			t.Errorf("renderGraph output missing %q:\n%s", want, out)
		}
	}
}

// ─── diffSummary ──────────────────────────────────────────────────────────────

func TestDiffSummary_SortedAndTruncated(t *testing.T) {
	got := diffSummary(map[string]interface{}{
		"src": "A",
		"dst": "B",
		"via": strings.Repeat("x", 60),
	})
	if !strings.HasPrefix(got, "dst=B src=A via=") {
		t.Errorf("diffSummary = %q, want sorted keys", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("long value not truncated: %q", got)
	}
}
