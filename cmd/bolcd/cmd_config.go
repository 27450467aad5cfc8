package main

// ---------------------------------------------------------------------------
// cmd_config.go — show, validate, initialize, or modify configuration
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bolcd/bolcd/internal/core"
)

func cmdConfig(args []string) {
	sub := "show"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}
	switch sub {
	case "show":
		cmdConfigShow(args)
	case "validate":
		cmdConfigValidate(args)
	case "init":
		cmdConfigInit(args)
	case "set":
		cmdConfigSet(args)
	default:
		errorf("unknown config subcommand %q (show, validate, init, set)", sub)
	}
}

func cmdConfigShow(args []string) {
	fs := flag.NewFlagSet("config-show", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	format := fs.String("format", "yaml", "Output format: yaml, json")
	output := fs.String("output", "", "Write output to file")
	fs.Parse(args)

	cfg, err := core.LoadConfig(envConfig(*configPath))
	if err != nil {
		errorf("loading config: %v", err)
	}

	w, cleanup := outputWriter(*output)
	defer cleanup()

	if parseFormat(*format) == FormatJSON {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			errorf("marshaling config: %v", err)
		}
		fmt.Fprintln(w, string(data))
		return
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		errorf("marshaling config: %v", err)
	}
	fmt.Fprint(w, string(data))
}

func cmdConfigValidate(args []string) {
	fs := flag.NewFlagSet("config-validate", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	fs.Parse(args)

	path := envConfig(*configPath)
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(os.Stderr, "%s Config not found: %v\n", red("✗"), err)
		os.Exit(1)
	}
	cfg, err := core.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s Config invalid: %v\n", red("✗"), err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%s Config invalid: %v\n", red("✗"), err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "%s Config valid (%s). %d signals, epsilon %v, fdr_q %v.\n",
		green("✓"), path, len(cfg.Discovery.Thresholds), cfg.Discovery.Epsilon, cfg.Discovery.FDRQ)
}

func cmdConfigInit(args []string) {
	fs := flag.NewFlagSet("config-init", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	force := fs.Bool("force", false, "Overwrite an existing file")
	fs.Parse(args)

	path := envConfig(*configPath)
	if _, err := os.Stat(path); err == nil && !*force {
		errorf("%s already exists (use --force to overwrite)", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			errorf("creating %s: %v", dir, err)
		}
	}
	if err := core.SaveConfig(core.ExampleConfig(), path); err != nil {
		errorf("writing config: %v", err)
	}
	fmt.Fprintf(os.Stdout, "%s Wrote %s. Edit discovery.thresholds to match your signals.\n", green("✓"), path)
}

func cmdConfigSet(args []string) {
	fs := flag.NewFlagSet("config-set", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	fs.Parse(args)

	path := envConfig(*configPath)
	remaining := fs.Args()
	if len(remaining) < 2 {
		errorf("usage: bolcd config set <key> <value>\n\nExamples:\n  bolcd config set discovery.epsilon 0.01\n  bolcd config set logging.level debug\n  bolcd config set bus.enabled true")
	}
	key, value := remaining[0], remaining[1]

	data, err := os.ReadFile(path)
	if err != nil {
		errorf("reading config: %v", err)
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		errorf("parsing config: %v", err)
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}

	if err := setNestedValue(raw, strings.Split(key, "."), value); err != nil {
		errorf("setting %s: %v", key, err)
	}

	out, err := yaml.Marshal(raw)
	if err != nil {
		errorf("marshaling config: %v", err)
	}

	// Refuse to write a file that would no longer load.
	var check core.Config
	if err := yaml.Unmarshal(out, &check); err != nil {
		errorf("%s = %s produces an unreadable config: %v", key, value, err)
	}

	if err := os.WriteFile(path, out, 0644); err != nil {
		errorf("writing config: %v", err)
	}
	fmt.Fprintf(os.Stdout, "%s Set %s = %s in %s\n", green("✓"), bold(key), value, path)
}

func setNestedValue(m map[string]interface{}, path []string, value string) error {
	if len(path) == 0 {
		return fmt.Errorf("empty key path")
	}
	if len(path) == 1 {
		m[path[0]] = parseValue(value)
		return nil
	}

	next, ok := m[path[0]]
	if !ok {
		next = map[string]interface{}{}
		m[path[0]] = next
	}
	nextMap, ok := next.(map[string]interface{})
	if !ok {
		return fmt.Errorf("key %q is not a map", path[0])
	}
	return setNestedValue(nextMap, path[1:], value)
}
