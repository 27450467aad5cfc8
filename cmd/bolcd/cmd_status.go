package main

// ---------------------------------------------------------------------------
// cmd_status.go — fetch status from a running instance, trigger reloads
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"time"
)

// clientFlags are shared by every command that talks to a running server.
type clientFlags struct {
	configPath *string
	host       *string
	port       *int
	timeout    *time.Duration
	format     *string
	output     *string
}

func addClientFlags(fs *flag.FlagSet, defaultFormat string) *clientFlags {
	return &clientFlags{
		configPath: fs.String("config", defaultConfigPath, "Config file path"),
		host:       fs.String("host", "", "API host override"),
		port:       fs.Int("port", 0, "API port override"),
		timeout:    fs.Duration("timeout", 10*time.Second, "Request timeout"),
		format:     fs.String("format", defaultFormat, "Output format"),
		output:     fs.String("output", "", "Write output to file"),
	}
}

func (c *clientFlags) base() string {
	return apiBase(envConfig(*c.configPath), envHost(*c.host), envPort(*c.port))
}

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cf := addClientFlags(fs, "table")
	fs.Parse(args)

	body, err := apiGet(cf.base()+"/api/v1/status", *cf.timeout)
	if err != nil {
		errorf("%v", err)
	}

	w, cleanup := outputWriter(*cf.output)
	defer cleanup()

	if parseFormat(*cf.format) == FormatJSON {
		fmt.Fprintln(w, string(body))
		return
	}

	var status map[string]interface{}
	if err := json.Unmarshal(body, &status); err != nil {
		errorf("parsing response: %v", err)
	}

	fmt.Fprintf(w, "%s bolcd Status\n\n", bold("●"))
	fmt.Fprintf(w, "  %-18s %s\n", "Version:", green(fmt.Sprintf("%v", status["version"])))
	fmt.Fprintf(w, "  %-18s %s\n", "Status:", green(fmt.Sprintf("%v", status["status"])))
	fmt.Fprintf(w, "  %-18s %v\n", "Uptime (s):", status["uptime_seconds"])
	fmt.Fprintf(w, "  %-18s %v\n", "Bus Connected:", status["bus_connected"])
	fmt.Fprintf(w, "  %-18s %v\n", "Signals:", status["signals"])
	fmt.Fprintf(w, "  %-18s %v\n", "Epsilon:", status["epsilon"])
	fmt.Fprintf(w, "  %-18s %v\n", "FDR q:", status["fdr_q"])
	fmt.Fprintf(w, "  %-18s %v\n", "Segments:", status["segments"])
	fmt.Fprintf(w, "  %-18s %v\n", "Edges:", status["edges"])
	fmt.Fprintf(w, "  %-18s %v\n", "Runs:", status["runs"])

	if last, ok := status["last_run"].(map[string]interface{}); ok {
		fmt.Fprintf(w, "\n  %s\n", bold("Last run:"))
		fmt.Fprintf(w, "    %-16s %v\n", "ID:", last["run_id"])
		fmt.Fprintf(w, "    %-16s %v\n", "Actor:", last["actor"])
		fmt.Fprintf(w, "    %-16s %v\n", "Started:", last["started_at"])
		fmt.Fprintf(w, "    %-16s %v ms\n", "Took:", last["took_ms"])
		fmt.Fprintf(w, "    %-16s %v\n", "Events:", last["events"])
		if failures, ok := last["failures"].([]interface{}); ok && len(failures) > 0 {
			fmt.Fprintf(w, "    %-16s %s\n", "Failures:", red(fmt.Sprintf("%d", len(failures))))
		}
	}

	if decisions, ok := status["decisions"].(map[string]interface{}); ok && len(decisions) > 0 {
		fmt.Fprintf(w, "\n  %s\n", bold("Decisions:"))
		for k, v := range decisions {
			fmt.Fprintf(w, "    %-16s %v\n", k+":", v)
		}
	}
	fmt.Fprintln(w)
}

func cmdReload(args []string) {
	fs := flag.NewFlagSet("reload", flag.ExitOnError)
	cf := addClientFlags(fs, "table")
	fs.Parse(args)

	body, err := apiPost(cf.base()+"/api/v1/reload", nil, *cf.timeout)
	if err != nil {
		errorf("%v", err)
	}
	if parseFormat(*cf.format) == FormatJSON {
		fmt.Println(string(body))
		return
	}
	var resp struct {
		Changes []string `json:"changes"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		errorf("parsing response: %v", err)
	}
	fmt.Printf("%s Config reloaded\n", green("✓"))
	for _, c := range resp.Changes {
		fmt.Printf("  %s %s\n", dim("▸"), c)
	}
}
