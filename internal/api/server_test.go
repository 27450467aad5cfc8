package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bolcd/bolcd/internal/audit"
	"github.com/bolcd/bolcd/internal/condense"
	"github.com/bolcd/bolcd/internal/core"
	"github.com/bolcd/bolcd/internal/discovery"
	"github.com/bolcd/bolcd/internal/rules"
)

var chainSignals = []string{"A", "B", "C"}

func testConfig(t *testing.T) *core.Config {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.Discovery.Thresholds = discovery.SyntheticThresholds(chainSignals)
	cfg.Audit.JSONLPath = filepath.Join(t.TempDir(), "audit.jsonl")
	cfg.Logging.Level = "error"
	cfg.Server.RateLimit = 0
	return cfg
}

func newTestServer(t *testing.T, cfg *core.Config, configPath string) *Server {
	t.Helper()
	engine, err := core.NewEngine(cfg, core.WithLogOutput(io.Discard))
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}
	t.Cleanup(func() { _ = engine.Shutdown() })
	return NewServer(engine, configPath)
}

func chainBody(t *testing.T) []byte {
	t.Helper()
	events := discovery.SyntheticChain(chainSignals, 3000, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	data, err := json.Marshal(events)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func do(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func recomputed(t *testing.T) *Server {
	t.Helper()
	s := newTestServer(t, testConfig(t), "")
	w := do(s, http.MethodPost, "/api/v1/recompute", chainBody(t))
	if w.Code != http.StatusOK {
		t.Fatalf("recompute status = %d, body = %s", w.Code, w.Body.String())
	}
	return s
}

// ─── writeJSON ────────────────────────────────────────────────────────────────

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusCreated, map[string]string{"key": "value"})

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["key"] != "value" {
		t.Errorf("body[key] = %q, want value", body["key"])
	}
}

// ─── Health and status ────────────────────────────────────────────────────────

func TestHandleHealth_GET(t *testing.T) {
	s := newTestServer(t, testConfig(t), "")
	w := do(s, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]interface{}
	_ = json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
}

func TestHandleHealth_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t, testConfig(t), "")
	w := do(s, http.MethodPost, "/health", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleStatus_AfterRecompute(t *testing.T) {
	s := recomputed(t)
	w := do(s, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["bus_connected"] != false {
		t.Errorf("bus_connected = %v, want false", body["bus_connected"])
	}
	if body["edges"] != float64(2) {
		t.Errorf("edges = %v, want 2", body["edges"])
	}
	if body["runs"] != float64(1) {
		t.Errorf("runs = %v, want 1", body["runs"])
	}
	if body["signals"] != float64(3) {
		t.Errorf("signals = %v, want 3", body["signals"])
	}
	if _, ok := body["last_run"]; !ok {
		t.Error("status missing last_run")
	}
}

func TestHandleConfig_GET(t *testing.T) {
	s := newTestServer(t, testConfig(t), "")
	w := do(s, http.MethodGet, "/api/v1/config", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"discovery"`) {
		t.Errorf("config body missing discovery section: %s", w.Body.String())
	}
}

// ─── Recompute and graphs ─────────────────────────────────────────────────────

func TestHandleRecompute_Chain(t *testing.T) {
	s := newTestServer(t, testConfig(t), "")
	w := do(s, http.MethodPost, "/api/v1/recompute", chainBody(t))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res discovery.Result
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.RunID == "" {
		t.Error("run_id is empty")
	}
	if len(res.Graphs) != 1 || len(res.Graphs[0].Edges) != 2 {
		t.Fatalf("graphs = %+v, want one graph with 2 edges", res.Graphs)
	}
}

func TestHandleRecompute_JSONLBody(t *testing.T) {
	s := newTestServer(t, testConfig(t), "")
	body := `{"ts":"2026-01-01T00:00:00Z","entity_id":"h1","A":1,"B":1,"C":1}
{"ts":"2026-01-01T00:00:01Z","entity_id":"h1","A":0,"B":1,"C":1}
`
	w := do(s, http.MethodPost, "/api/v1/recompute", []byte(body))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestHandleRecompute_BadBody(t *testing.T) {
	s := newTestServer(t, testConfig(t), "")
	w := do(s, http.MethodPost, "/api/v1/recompute", []byte("{not json"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleRecompute_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t, testConfig(t), "")
	w := do(s, http.MethodGet, "/api/v1/recompute", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleGraphs_Summary(t *testing.T) {
	s := recomputed(t)
	w := do(s, http.MethodGet, "/api/v1/graphs?summary=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var out []map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0]["segment"] != discovery.SegmentAll || out[0]["subsumed"] != float64(1) {
		t.Errorf("summary = %v", out)
	}
}

func TestHandleGraphBySegment(t *testing.T) {
	s := recomputed(t)

	w := do(s, http.MethodGet, "/api/v1/graphs/"+discovery.SegmentAll, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var g discovery.Graph
	if err := json.NewDecoder(w.Body).Decode(&g); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(g.Subsumed) != 1 || g.Subsumed[0].Src != "A" || g.Subsumed[0].Dst != "C" {
		t.Errorf("subsumed = %+v, want A->C", g.Subsumed)
	}

	w = do(s, http.MethodGet, "/api/v1/graphs/"+discovery.SegmentAll+"?format=graphml", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("graphml status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<graphml") {
		t.Errorf("graphml body = %q", w.Body.String())
	}

	if w := do(s, http.MethodGet, "/api/v1/graphs/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown segment status = %d, want 404", w.Code)
	}
	if w := do(s, http.MethodGet, "/api/v1/graphs/"+discovery.SegmentAll+"?format=dot", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad format status = %d, want 400", w.Code)
	}
}

// ─── Rules, audit, runs ───────────────────────────────────────────────────────

func TestHandleRules(t *testing.T) {
	s := recomputed(t)
	w := do(s, http.MethodGet, "/api/v1/rules", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var out []rules.Rule
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].Detector.Src != "A" || out[0].Detector.Dst != "C" {
		t.Errorf("rules = %+v, want one A->C rule", out)
	}

	w = do(s, http.MethodGet, "/api/v1/rules?format=yaml", nil)
	if ct := w.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Errorf("Content-Type = %q, want application/yaml", ct)
	}
	if !strings.Contains(w.Body.String(), "spl:") {
		t.Errorf("yaml body missing spl: %s", w.Body.String())
	}
}

func TestHandleRules_EmptyIsArray(t *testing.T) {
	s := newTestServer(t, testConfig(t), "")
	w := do(s, http.MethodGet, "/api/v1/rules", nil)
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("body = %q, want []", w.Body.String())
	}
}

func TestHandleAudit(t *testing.T) {
	s := recomputed(t)
	w := do(s, http.MethodGet, "/api/v1/audit?limit=50", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var records []audit.Record
	if err := json.NewDecoder(w.Body).Decode(&records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	added := 0
	for _, r := range records {
		if r.Action == audit.ActionEdgeAdded {
			added++
		}
	}
	if added != 2 {
		t.Errorf("edge_added records = %d, want 2", added)
	}
}

func TestHandleAudit_BadLimit(t *testing.T) {
	s := newTestServer(t, testConfig(t), "")
	if w := do(s, http.MethodGet, "/api/v1/audit?limit=-3", nil); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleAudit_NoReader(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audit.JSONLPath = ""
	s := newTestServer(t, cfg, "")
	if w := do(s, http.MethodGet, "/api/v1/audit", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestHandleRuns(t *testing.T) {
	s := recomputed(t)
	w := do(s, http.MethodGet, "/api/v1/runs", nil)
	var runs []core.RunSummary
	if err := json.NewDecoder(w.Body).Decode(&runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(runs) != 1 || runs[0].Actor != "api" || runs[0].Edges != 2 {
		t.Errorf("runs = %+v", runs)
	}
}

// ─── Decide ───────────────────────────────────────────────────────────────────

func TestHandleDecide_SingleAndBatch(t *testing.T) {
	s := recomputed(t)
	t0 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	a := condense.Alert{ID: "a1", Timestamp: t0, EntityID: "h1", Signal: "A", Severity: core.SeverityLow}
	data, _ := json.Marshal(a)
	w := do(s, http.MethodPost, "/api/v1/decide", data)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var dec condense.Decision
	_ = json.NewDecoder(w.Body).Decode(&dec)
	if dec.Decision != condense.Deliver || dec.Reason != condense.ReasonRootPass {
		t.Errorf("A = %s/%s, want deliver/root_pass", dec.Decision, dec.Reason)
	}

	batch := []condense.Alert{
		{ID: "b1", Timestamp: t0.Add(time.Minute), EntityID: "h1", Signal: "B", Severity: core.SeverityLow},
		{ID: "c1", Timestamp: t0.Add(2 * time.Minute), EntityID: "h2", Signal: "C", Severity: core.SeverityLow},
	}
	data, _ = json.Marshal(batch)
	w = do(s, http.MethodPost, "/api/v1/decide", data)
	var decs []condense.Decision
	if err := json.NewDecoder(w.Body).Decode(&decs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decs) != 2 {
		t.Fatalf("decisions = %d, want 2", len(decs))
	}
	if decs[0].Decision != condense.Suppress || decs[0].Trigger != "A" {
		t.Errorf("b1 = %+v, want suppressed by A", decs[0])
	}
	if decs[1].Decision != condense.Deliver {
		t.Errorf("c1 = %+v, want delivered", decs[1])
	}
}

func TestHandleDecide_InvalidAlert(t *testing.T) {
	s := newTestServer(t, testConfig(t), "")
	if w := do(s, http.MethodPost, "/api/v1/decide", []byte(`{"id":"x"}`)); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if w := do(s, http.MethodPost, "/api/v1/decide", []byte(`[{"id":`)); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// ─── Reload ───────────────────────────────────────────────────────────────────

func TestHandleReload_NoConfigPath(t *testing.T) {
	s := newTestServer(t, testConfig(t), "")
	if w := do(s, http.MethodPost, "/api/v1/reload", nil); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleReload_AppliesChanges(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "bolcd.yaml")
	if err := core.SaveConfig(cfg, path); err != nil {
		t.Fatal(err)
	}
	s := newTestServer(t, cfg, path)

	next := cfg.Clone()
	next.Discovery.FDRQ = 0.05
	if err := core.SaveConfig(next, path); err != nil {
		t.Fatal(err)
	}

	w := do(s, http.MethodPost, "/api/v1/reload", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "fdr_q") {
		t.Errorf("changes missing fdr_q: %s", w.Body.String())
	}
	if got := s.engine.Config().Discovery.FDRQ; got != 0.05 {
		t.Errorf("FDRQ after reload = %v, want 0.05", got)
	}
}

// ─── Metrics ──────────────────────────────────────────────────────────────────

func TestHandleMetrics_Exposition(t *testing.T) {
	s := recomputed(t)
	w := do(s, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "bolcd_") {
		t.Error("metrics body has no bolcd_ series")
	}
}

// ─── CORS middleware ──────────────────────────────────────────────────────────

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func origins(o ...string) func() []string { return func() []string { return o } }

func TestCORSMiddleware_NoOrigins(t *testing.T) {
	handler := corsMiddleware(okHandler(), origins())
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Errorf("ACAO = %q, want empty", w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestCORSMiddleware_AllowedOrigin(t *testing.T) {
	handler := corsMiddleware(okHandler(), origins("http://example.com"))
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") != "http://example.com" {
		t.Errorf("ACAO = %q, want http://example.com", w.Header().Get("Access-Control-Allow-Origin"))
	}
	if w.Header().Get("Vary") != "Origin" {
		t.Error("missing Vary: Origin")
	}
}

func TestCORSMiddleware_BlockedOrigin(t *testing.T) {
	handler := corsMiddleware(okHandler(), origins("http://allowed.com"))
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Origin", "http://evil.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Errorf("blocked origin got ACAO %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	handler := corsMiddleware(okHandler(), origins("*"))
	req := httptest.NewRequest(http.MethodOptions, "/test", nil)
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

// ─── Rate limiting ────────────────────────────────────────────────────────────

func TestTokenBucket_Allow(t *testing.T) {
	tb := &tokenBucket{tokens: 10, maxTokens: 10, lastTime: time.Now()}
	if !tb.allow(10) {
		t.Error("expected first request to be allowed")
	}
}

func TestTokenBucket_Exhausted(t *testing.T) {
	tb := &tokenBucket{tokens: 1, maxTokens: 10, lastTime: time.Now()}
	tb.allow(0)
	if tb.allow(0) {
		t.Error("expected exhausted bucket to deny")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	// 60/min gives a burst of 6.
	handler := rateLimitMiddleware(okHandler(), 60)
	limited := 0
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/graphs", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited == 0 {
		t.Error("expected some requests to be rate limited")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200 despite limit", w.Code)
	}
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	next := okHandler()
	if got := rateLimitMiddleware(next, 0); got == nil {
		t.Fatal("rateLimitMiddleware returned nil")
	}
	handler := rateLimitMiddleware(next, 0)
	for i := 0; i < 50; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, w.Code)
		}
	}
}
