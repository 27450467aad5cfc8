package main

// ---------------------------------------------------------------------------
// cmd_serve.go — run the engine, REST API, and event listener
// ---------------------------------------------------------------------------

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bolcd/bolcd/internal/api"
	"github.com/bolcd/bolcd/internal/core"
	"github.com/bolcd/bolcd/internal/ingest"
)

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	logLevel := fs.String("log-level", "", "Log level override: debug, info, warn, error")
	bootstrap := fs.String("events", "", "JSONL event file to recompute once at startup")
	dryRun := fs.Bool("dry-run", false, "Validate config, then exit")
	quiet := fs.Bool("quiet", false, "Suppress non-essential output")
	fs.BoolVar(quiet, "q", false, "Suppress non-essential output")
	noColor := fs.Bool("no-color", false, "Disable color output")
	fs.Parse(args)

	*configPath = envConfig(*configPath)
	if *noColor {
		os.Setenv("NO_COLOR", "1")
	}

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		errorf("loading config: %v", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		errorf("config validation failed: %v", err)
	}

	if *dryRun {
		fmt.Fprintf(os.Stdout, "%s Config valid. %d signals, bus %s.\n",
			green("✓"), len(cfg.Discovery.Thresholds), onOff(cfg.Bus.Enabled))
		os.Exit(0)
	}

	engine, err := core.NewEngine(cfg)
	if err != nil {
		errorf("creating engine: %v", err)
	}
	if err := engine.Start(); err != nil {
		errorf("starting engine: %v", err)
	}

	if *bootstrap != "" {
		events, err := ingest.ReadFile(*bootstrap)
		if err != nil {
			errorf("reading bootstrap events: %v", err)
		}
		res, err := engine.Recompute(engine.Context(), events, "bootstrap")
		if err != nil && res == nil {
			errorf("bootstrap recompute: %v", err)
		}
		if !*quiet {
			fmt.Fprintf(os.Stderr, "%s Bootstrap: %d events, %d graph(s)\n", green("✓"), len(events), len(res.Graphs))
		}
	}

	api.Version = version
	srv := api.NewServer(engine, *configPath)
	if err := srv.Start(); err != nil {
		errorf("starting API server: %v", err)
	}

	var listener *ingest.Listener
	if cfg.Ingest.Listen.Enabled {
		listener = ingest.NewListener(cfg.Ingest.Listen, engine.Bus, engine.Logger)
		if err := listener.Start(engine.Context()); err != nil {
			errorf("starting event listener: %v", err)
		}
		if !*quiet {
			fmt.Fprintf(os.Stderr, "%s Event listener on :%d (%s)\n",
				green("✓"), cfg.Ingest.Listen.Port, cfg.Ingest.Listen.Protocol)
		}
	}

	tails := ingest.NewTailManager(engine.Logger)
	if len(cfg.Ingest.Tail) > 0 {
		n := tails.StartAll(engine.Context(), cfg.Ingest.Tail, engine.Bus)
		if !*quiet {
			fmt.Fprintf(os.Stderr, "%s Following %d/%d event file(s)\n", green("✓"), n, len(cfg.Ingest.Tail))
		}
	}

	if !*quiet {
		fmt.Fprintf(os.Stderr, "%s bolcd running, %d signals, API on :%d, bus %s\n",
			green("✓"), len(cfg.Discovery.Thresholds), cfg.Server.Port, onOff(cfg.Bus.Enabled))
		fmt.Fprintf(os.Stderr, "%s Press Ctrl+C to stop, send SIGHUP to reload %s\n", dim("▸"), *configPath)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			changes, err := core.ReloadConfig(engine, *configPath, engine.Logger)
			if err != nil {
				warnf("reload failed, keeping current config: %v", err)
				continue
			}
			if !*quiet {
				for _, c := range changes {
					fmt.Fprintf(os.Stderr, "%s %s\n", dim("▸"), c)
				}
			}
			continue
		}
		if !*quiet {
			fmt.Fprintf(os.Stderr, "\n%s Received %s, shutting down...\n", dim("▸"), sig)
		}
		break
	}

	tails.StopAll()
	if listener != nil {
		listener.Stop()
	}
	srv.Stop()
	engine.Shutdown()

	if !*quiet {
		fmt.Fprintf(os.Stderr, "%s bolcd stopped.\n", green("✓"))
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
