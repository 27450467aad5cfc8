package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/bolcd/bolcd/internal/condense"
	"github.com/bolcd/bolcd/internal/core"
	"github.com/bolcd/bolcd/internal/discovery"
	"github.com/bolcd/bolcd/internal/ingest"
	"github.com/bolcd/bolcd/internal/rules"
)

// Version is reported by /api/v1/status.
var Version = "dev"

const (
	maxBodyBytes = 64 << 20
	defaultLimit = 100
	maxLimit     = 10000
)

// Server is the bolcd REST API server.
type Server struct {
	engine     *core.Engine
	decider    *condense.Decider
	configPath string
	server     *http.Server
	logger     zerolog.Logger
	started    time.Time
}

// NewServer creates a new API server. configPath is used by the reload
// endpoint; an empty path disables reloads.
func NewServer(engine *core.Engine, configPath string) *Server {
	s := &Server{
		engine:     engine,
		configPath: configPath,
		logger:     engine.Logger.With().Str("component", "api_server").Logger(),
		started:    time.Now(),
	}
	s.decider = condense.NewDecider(engine, func() core.CondenseConfig {
		return engine.Config().Condense
	}, engine.AuditSink(), engine.Logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/config", s.handleConfig)
	mux.HandleFunc("/api/v1/graphs", s.handleGraphs)
	mux.HandleFunc("/api/v1/graphs/", s.handleGraphBySegment)
	mux.HandleFunc("/api/v1/recompute", s.handleRecompute)
	mux.HandleFunc("/api/v1/rules", s.handleRules)
	mux.HandleFunc("/api/v1/audit", s.handleAudit)
	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.HandleFunc("/api/v1/decide", s.handleDecide)
	mux.HandleFunc("/api/v1/reload", s.handleReload)
	mux.Handle("/metrics", promhttp.Handler())

	// Middleware chain: CORS -> logging -> rate limit -> handler
	handler := corsMiddleware(
		loggingMiddleware(
			rateLimitMiddleware(mux, engine.Config().Server.RateLimit),
			s.logger,
		),
		func() []string { return engine.Config().Server.CORSOrigins },
	)

	cfg := engine.Config()
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the full middleware chain.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Decider is the alert condensation policy served by /api/v1/decide.
func (s *Server) Decider() *condense.Decider { return s.decider }

// Start begins serving the API.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("API server starting")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	cfg := s.engine.Config()

	segments := make([]string, 0)
	edges := 0
	for _, g := range s.engine.Graphs() {
		segments = append(segments, g.Segment)
		if g.Segment != discovery.UnionSegment {
			edges += len(g.Edges)
		}
	}

	body := map[string]interface{}{
		"version":        Version,
		"status":         "running",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"bus_connected":  s.engine.Bus != nil && s.engine.Bus.IsConnected(),
		"signals":        len(cfg.Discovery.Thresholds),
		"epsilon":        cfg.Discovery.Epsilon,
		"fdr_q":          cfg.Discovery.FDRQ,
		"segments":       segments,
		"edges":          edges,
		"runs":           s.engine.Runs.Len(),
		"decisions":      s.decider.Stats(),
		"timestamp":      time.Now().UTC(),
	}
	if last, ok := s.engine.Runs.Last(); ok {
		body["last_run"] = last
	}
	if s.engine.Bus != nil {
		body["bus"] = s.engine.Bus.GetMetrics()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	cfg := s.engine.Config()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"discovery": cfg.Discovery,
		"condense":  cfg.Condense,
	})
}

func (s *Server) handleGraphs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	graphs := s.engine.Graphs()
	if r.URL.Query().Get("summary") == "true" {
		out := make([]map[string]interface{}, 0, len(graphs))
		for _, g := range graphs {
			out = append(out, map[string]interface{}{
				"segment":  g.Segment,
				"nodes":    len(g.Nodes),
				"edges":    len(g.Edges),
				"subsumed": len(g.Subsumed),
			})
		}
		writeJSON(w, http.StatusOK, out)
		return
	}
	writeJSON(w, http.StatusOK, graphs)
}

func (s *Server) handleGraphBySegment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	segment, err := url.PathUnescape(strings.TrimPrefix(r.URL.EscapedPath(), "/api/v1/graphs/"))
	if err != nil || segment == "" {
		writeError(w, http.StatusBadRequest, "segment is required")
		return
	}
	g, err := s.engine.Graph(segment)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "json":
		writeJSON(w, http.StatusOK, g)
	case "graphml":
		var buf bytes.Buffer
		if err := discovery.WriteGraphML(&buf, g); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/graphml+xml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	default:
		writeError(w, http.StatusBadRequest, "format must be json or graphml")
	}
}

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	events, err := ingest.DecodeBody(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.engine.Recompute(r.Context(), events, actorOf(r))
	switch {
	case errors.Is(err, discovery.ErrConfiguration):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case res == nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	case len(res.Graphs) == 0 && len(res.Failures) > 0:
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	segment := r.URL.Query().Get("segment")
	var graphs []*discovery.Graph
	for _, g := range s.engine.Graphs() {
		if g.Segment == discovery.UnionSegment {
			continue
		}
		if segment != "" && g.Segment != segment {
			continue
		}
		graphs = append(graphs, g)
	}
	out := rules.Build(graphs...)

	if r.URL.Query().Get("format") == "yaml" {
		data, err := yaml.Marshal(out)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	reader := s.engine.AuditReader()
	if reader == nil {
		writeError(w, http.StatusServiceUnavailable, "no readable audit sink configured")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := reader.Tail(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Runs.Recent(limit))
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	body = bytes.TrimSpace(body)

	if len(body) > 0 && body[0] == '[' {
		var alerts []condense.Alert
		if err := json.Unmarshal(body, &alerts); err != nil {
			writeError(w, http.StatusBadRequest, "invalid alert array: "+err.Error())
			return
		}
		decisions, err := s.decider.DecideBatch(r.Context(), alerts)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, decisions)
		return
	}

	var alert condense.Alert
	if err := json.Unmarshal(body, &alert); err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert: "+err.Error())
		return
	}
	dec, err := s.decider.Decide(r.Context(), alert)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dec)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.configPath == "" {
		writeError(w, http.StatusBadRequest, "server was started without a config file")
		return
	}
	changes, err := core.ReloadConfig(s.engine, s.configPath, s.logger)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "reloaded",
		"changes": changes,
	})
}

func actorOf(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	if a := r.URL.Query().Get("actor"); a != "" {
		return a
	}
	return "api"
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}
