package main

// ---------------------------------------------------------------------------
// cmd_recompute.go — offline discovery over a JSONL event file
// ---------------------------------------------------------------------------

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/bolcd/bolcd/internal/core"
	"github.com/bolcd/bolcd/internal/discovery"
	"github.com/bolcd/bolcd/internal/ingest"
)

func cmdRecompute(args []string) {
	fs := flag.NewFlagSet("recompute", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	eventsPath := fs.String("events", "", "JSONL event file (- for stdin)")
	format := fs.String("format", "json", "Output format: json, graphml, table")
	segment := fs.String("segment", "", "Only output this segment")
	segmentKeys := fs.String("segment-keys", "", "Comma-separated segment keys (overrides config)")
	epsilon := fs.Float64("epsilon", 0, "Override discovery.epsilon")
	fdrQ := fs.Float64("fdr-q", 0, "Override discovery.fdr_q")
	workers := fs.Int("workers", 0, "Override discovery.workers")
	output := fs.String("output", "", "Write output to file")
	logLevel := fs.String("log-level", "warn", "Log level: debug, info, warn, error")
	fs.Parse(args)

	if *eventsPath == "" {
		errorf("--events is required\n\n  usage: bolcd recompute --events events.jsonl")
	}
	*configPath = envConfig(*configPath)

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		errorf("loading config: %v", err)
	}
	cfg.Bus.Enabled = false
	cfg.Logging.Level = *logLevel
	if *segmentKeys != "" {
		cfg.Discovery.SegmentKeys = splitList(*segmentKeys)
	}
	if *epsilon > 0 {
		cfg.Discovery.Epsilon = *epsilon
	}
	if *fdrQ > 0 {
		cfg.Discovery.FDRQ = *fdrQ
	}
	if *workers > 0 {
		cfg.Discovery.Workers = *workers
	}

	events, err := ingest.ReadFile(*eventsPath)
	if err != nil {
		errorf("reading events: %v", err)
	}

	engine, err := core.NewEngine(cfg, core.WithLogOutput(os.Stderr))
	if err != nil {
		if errors.Is(err, discovery.ErrConfiguration) {
			errorf("%v\n\n  Thresholds are required for every signal. Run %s for a starter file.", err, bold("bolcd config init"))
		}
		errorf("creating engine: %v", err)
	}
	defer engine.Shutdown()

	start := time.Now()
	res, err := engine.Recompute(context.Background(), events, "cli")
	if err != nil && res == nil {
		errorf("recompute: %v", err)
	}
	for _, f := range res.Failures {
		warnf("segment %s failed: %s", f.Segment, f.Error)
	}
	if len(res.Graphs) == 0 && len(res.Failures) > 0 {
		errorf("no segment produced a graph")
	}

	graphs := res.Graphs
	if *segment != "" {
		g := res.Graph(*segment)
		if g == nil {
			errorf("segment %q not in result", *segment)
		}
		graphs = []*discovery.Graph{g}
	}

	w, cleanup := outputWriter(*output)
	defer cleanup()

	switch parseFormat(*format) {
	case FormatJSON:
		out := *res
		out.Graphs = graphs
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			errorf("marshaling result: %v", err)
		}
		fmt.Fprintln(w, string(data))
	case FormatGraphML:
		if len(graphs) != 1 {
			errorf("graphml holds one segment; pass --segment (have %d graphs)", len(graphs))
		}
		if err := discovery.WriteGraphML(w, graphs[0]); err != nil {
			errorf("writing graphml: %v", err)
		}
	default:
		for _, g := range graphs {
			renderGraph(w, g)
		}
		fmt.Fprintf(os.Stderr, "%s %d events, %d segment(s), run %s in %s\n",
			green("✓"), len(events), len(res.Graphs), res.RunID, time.Since(start).Round(time.Millisecond))
	}
}
