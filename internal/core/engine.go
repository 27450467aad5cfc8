package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bolcd/bolcd/internal/audit"
	"github.com/bolcd/bolcd/internal/discovery"
	"github.com/bolcd/bolcd/internal/metrics"
)

// ErrNoGraph is returned when a segment has no graph yet.
var ErrNoGraph = errors.New("no graph for segment")

// Engine owns the current configuration snapshot, the latest graphs and
// the ingest path from the event bus into recompute runs.
type Engine struct {
	Bus     *EventBus
	Runs    *RunLog
	Dedup   *EventDedup
	Batcher *EventBatcher
	Logger  zerolog.Logger

	cfg atomic.Pointer[Config]

	sinkMu  sync.RWMutex
	sinks   []audit.Sink
	reader  audit.Reader
	closers []io.Closer

	mu     sync.RWMutex
	result *discovery.Result
	graphs map[string]*discovery.Graph

	runMu sync.Mutex

	stopCleanup func()
	ctx         context.Context
	cancel      context.CancelFunc
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	logOutput io.Writer
	sinks     []audit.Sink
}

// WithLogOutput sends engine logs to w instead of stdout.
func WithLogOutput(w io.Writer) EngineOption {
	return func(o *engineOptions) { o.logOutput = w }
}

// WithExtraAuditSink adds a sink next to the configured ones.
func WithExtraAuditSink(s audit.Sink) EngineOption {
	return func(o *engineOptions) { o.sinks = append(o.sinks, s) }
}

// NewLogger builds the process logger from the logging config.
func NewLogger(cfg LoggingConfig, w io.Writer) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.Format == "json" {
		logger = zerolog.New(w).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	return logger
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug", "DEBUG":
		return zerolog.DebugLevel
	case "warn", "WARN":
		return zerolog.WarnLevel
	case "error", "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewEngine validates cfg and opens the configured audit sinks.
func NewEngine(cfg *Config, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := engineOptions{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}
	logger := NewLogger(cfg.Logging, o.logOutput)

	ctx, cancel := context.WithCancel(context.Background())
	engine := &Engine{
		Runs:   NewRunLog(cfg.Server.RunHistory),
		Dedup:  NewEventDedup(cfg.Ingest.DedupTTL, cfg.Ingest.DedupMaxSize),
		Logger: logger.With().Str("component", "engine").Logger(),
		graphs: make(map[string]*discovery.Graph),
		ctx:    ctx,
		cancel: cancel,
	}
	engine.cfg.Store(cfg.Clone())

	if err := engine.openAudit(cfg.Audit); err != nil {
		cancel()
		return nil, err
	}
	for _, s := range o.sinks {
		engine.addSink(s)
	}
	return engine, nil
}

func (e *Engine) openAudit(cfg AuditConfig) error {
	if cfg.JSONLPath != "" {
		s, err := audit.NewJSONLSink(cfg.JSONLPath)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		e.addSink(s)
		e.closers = append(e.closers, s)
	}
	if cfg.SQLitePath != "" {
		s, err := audit.NewSQLiteSink(cfg.SQLitePath)
		if err != nil {
			e.closeSinks()
			return fmt.Errorf("opening audit database: %w", err)
		}
		e.addSink(s)
		e.closers = append(e.closers, s)
	}
	return nil
}

func (e *Engine) addSink(s audit.Sink) {
	e.sinkMu.Lock()
	defer e.sinkMu.Unlock()
	e.sinks = append(e.sinks, s)
	if r, ok := s.(audit.Reader); ok && e.reader == nil {
		e.reader = r
	}
}

// AuditSink fans records out to every configured sink.
func (e *Engine) AuditSink() audit.Sink {
	e.sinkMu.RLock()
	defer e.sinkMu.RUnlock()
	return audit.NewMultiSink(e.sinks...)
}

// AuditReader is the first sink that can be read back, or nil.
func (e *Engine) AuditReader() audit.Reader {
	e.sinkMu.RLock()
	defer e.sinkMu.RUnlock()
	return e.reader
}

// Config returns the current configuration snapshot. Callers must not
// mutate it.
func (e *Engine) Config() *Config {
	return e.cfg.Load()
}

// SetConfig swaps the configuration snapshot. Runs already in flight keep
// the snapshot they started with.
func (e *Engine) SetConfig(cfg *Config) {
	e.cfg.Store(cfg.Clone())
}

// Recompute runs the discovery pipeline over events with the current
// snapshot and replaces the stored graphs with the result. Segment
// failures leave the other segments' graphs in place and are reported
// through the returned error.
func (e *Engine) Recompute(ctx context.Context, events []discovery.Event, actor string) (*discovery.Result, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	cfg := e.Config()
	start := time.Now()

	p, err := discovery.NewPipeline(cfg.Discovery,
		discovery.WithAuditSink(e.AuditSink()),
		discovery.WithLogger(e.Logger),
		discovery.WithActor(actor),
	)
	if err != nil {
		took := time.Since(start)
		metrics.ObserveRun(nil, len(events), took, err)
		e.Runs.Add(summarize(uuid.New().String(), actor, start, took, len(events), nil, err))
		return nil, err
	}

	res, runErr := p.RunSegmented(ctx, events)
	took := time.Since(start)
	metrics.ObserveRun(res, len(events), took, runErr)
	e.Runs.Add(summarize("", actor, start, took, len(events), res, runErr))

	e.mu.Lock()
	e.result = res
	e.graphs = make(map[string]*discovery.Graph, len(res.Graphs)+1)
	for _, g := range res.Graphs {
		e.graphs[g.Segment] = g
	}
	if len(res.Graphs) > 1 {
		e.graphs[discovery.UnionSegment] = res.Union()
	}
	e.mu.Unlock()

	if e.Bus != nil && e.Bus.IsConnected() {
		for _, g := range res.Graphs {
			if err := e.Bus.PublishGraph(g); err != nil {
				e.Logger.Error().Err(err).Str("segment", g.Segment).Msg("failed to publish graph")
			}
		}
	}

	ev := e.Logger.Info()
	if runErr != nil {
		ev = e.Logger.Warn().Err(runErr)
	}
	ev.Str("run_id", res.RunID).
		Str("actor", actor).
		Int("events", len(events)).
		Int("segments", len(res.Graphs)).
		Int("failed", len(res.Failures)).
		Dur("took", took).
		Msg("recompute finished")
	return res, runErr
}

// Result returns the last recompute result, or nil.
func (e *Engine) Result() *discovery.Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.result
}

// Graphs returns the stored graphs ordered by segment.
func (e *Engine) Graphs() []*discovery.Graph {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*discovery.Graph, 0, len(e.graphs))
	for _, g := range e.graphs {
		out = append(out, g)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Segment < out[b].Segment })
	return out
}

// Graph returns the stored graph of one segment.
func (e *Engine) Graph(segment string) (*discovery.Graph, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	g, ok := e.graphs[segment]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrNoGraph, segment)
	}
	return g, nil
}

// Start connects the event bus when enabled and feeds bus events through
// dedup and the batcher into recompute runs.
func (e *Engine) Start() error {
	cfg := e.Config()
	if !cfg.Bus.Enabled {
		e.Logger.Info().Msg("event bus disabled; recompute is API driven")
		return nil
	}

	bus, err := NewEventBus(&cfg.Bus, e.Logger)
	if err != nil {
		return fmt.Errorf("starting event bus: %w", err)
	}
	e.Bus = bus
	if cfg.Audit.Publish {
		e.addSink(NewBusAuditSink(bus))
	}

	e.Batcher = NewEventBatcher(e.Logger, cfg.Ingest, func(batch []discovery.Event) {
		if _, err := e.Recompute(e.ctx, batch, "ingest"); err != nil {
			e.Logger.Error().Err(err).Int("events", len(batch)).Msg("batch recompute failed")
		}
	})
	e.stopCleanup = e.Dedup.StartCleanup(time.Minute)

	if err := bus.SubscribeEvents(e.Ingest); err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}

	e.Logger.Info().Str("url", bus.URL()).Msg("bolcd engine started")
	return nil
}

// Ingest queues one event for the next batch. Duplicates are dropped.
func (e *Engine) Ingest(ev discovery.Event) {
	if e.Dedup.IsDuplicate(ev) {
		metrics.EventsDeduplicated.Inc()
		return
	}
	if e.Batcher == nil {
		return
	}
	e.Batcher.Add(ev)
}

// Run starts the engine and blocks until shutdown signal is received.
func (e *Engine) Run() error {
	if err := e.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		e.Logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-e.ctx.Done():
		e.Logger.Info().Msg("context cancelled")
	}

	return e.Shutdown()
}

// Shutdown flushes pending events and closes the bus and audit sinks.
func (e *Engine) Shutdown() error {
	e.Logger.Info().Msg("shutting down bolcd engine")

	if e.Batcher != nil {
		e.Batcher.Stop()
	}
	if e.stopCleanup != nil {
		e.stopCleanup()
	}
	e.cancel()

	if e.Bus != nil {
		if err := e.Bus.Close(); err != nil {
			e.Logger.Error().Err(err).Msg("error closing event bus")
		}
	}
	err := e.closeSinks()

	e.Logger.Info().Msg("bolcd engine stopped")
	return err
}

func (e *Engine) closeSinks() error {
	var errs []error
	for _, c := range e.closers {
		errs = append(errs, c.Close())
	}
	e.closers = nil
	return errors.Join(errs...)
}

// Context returns the engine's context.
func (e *Engine) Context() context.Context {
	return e.ctx
}
