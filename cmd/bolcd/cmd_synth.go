package main

// ---------------------------------------------------------------------------
// cmd_synth.go — synthetic chain batches for demos and smoke tests
// ---------------------------------------------------------------------------

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/bolcd/bolcd/internal/discovery"
	"github.com/bolcd/bolcd/internal/ingest"
)

func cmdSynth(args []string) {
	fs := flag.NewFlagSet("synth", flag.ExitOnError)
	signals := fs.String("signals", "A,B,C", "Comma-separated chain of signal names, upstream first")
	rows := fs.Int("rows", 3000, "Number of events")
	startStr := fs.String("start", "2026-01-01T00:00:00Z", "Timestamp of the first event (RFC3339)")
	output := fs.String("output", "", "Write events to file")
	fs.Parse(args)

	if *rows <= 0 {
		errorf("--rows must be positive")
	}
	start, err := time.Parse(time.RFC3339, *startStr)
	if err != nil {
		errorf("invalid --start: %v", err)
	}
	names := splitList(*signals)

	w, cleanup := outputWriter(*output)
	defer cleanup()

	events := discovery.SyntheticChain(names, *rows, start)
	if err := ingest.WriteAll(w, events); err != nil {
		errorf("writing events: %v", err)
	}
	if *output != "" {
		fmt.Fprintf(os.Stderr, "%s Wrote %d events to %s\n", green("✓"), len(events), *output)
	}
}
