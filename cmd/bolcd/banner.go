package main

// ---------------------------------------------------------------------------
// banner.go — version, usage, and per-command help
// ---------------------------------------------------------------------------

import (
	"fmt"
	"io"
	"os"
	goruntime "runtime"
	"runtime/debug"
)

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "bolcd v%s", version)
	if commit != "dev" {
		fmt.Fprintf(w, " (%s)", commit[:min(7, len(commit))])
	}
	if buildDate != "unknown" {
		fmt.Fprintf(w, " built %s", buildDate)
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fmt.Fprintf(w, " %s", bi.GoVersion)
	}
	fmt.Fprintf(w, " %s/%s", goruntime.GOOS, goruntime.GOARCH)
	fmt.Fprintln(w)
}

type commandHelp struct {
	name    string
	summary string
	usage   string
}

var commands = []commandHelp{
	{"recompute", "Discover the implication graph from a JSONL event file",
		"bolcd recompute --events events.jsonl [--config path] [--format json|graphml|table] [--segment id] [--output file]"},
	{"serve", "Run the engine with the REST API, bus ingestion, and listener",
		"bolcd serve [--config path] [--log-level level] [--dry-run]"},
	{"status", "Show status of a running bolcd instance",
		"bolcd status [--host h] [--port p] [--format table|json]"},
	{"graphs", "List graphs, or fetch one segment's graph",
		"bolcd graphs [segment] [--format table|json|graphml] [--output file]"},
	{"rules", "Emit SIEM suppression rules for subsumed edges",
		"bolcd rules [--graph graph.json] [--segment id] [--format table|json|yaml]"},
	{"decide", "Submit alerts to the condensation policy",
		"bolcd decide --alerts alerts.json [--format table|json]"},
	{"audit", "Tail, query, or verify the audit log",
		"bolcd audit tail [--limit n] | audit query --db audit.db [--action a] [--run id] | audit verify --file audit.jsonl"},
	{"reload", "Ask a running instance to reload its config file",
		"bolcd reload [--host h] [--port p]"},
	{"config", "Show, validate, initialize, or set configuration",
		"bolcd config [show|validate|init|set <key> <value>] [--config path]"},
	{"synth", "Generate a synthetic A->B->C event chain as JSONL",
		"bolcd synth [--signals A,B,C] [--rows 3000] [--output file]"},
	{"version", "Print version and build info", "bolcd version"},
	{"help", "Show help for a command", "bolcd help <command>"},
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "%s %s\n", bold("bolcd"), dim("v"+version))
	fmt.Fprintf(w, "Boolean implication discovery for alert condensation\n\n")
	fmt.Fprintf(w, "%s\n\n", bold("USAGE"))
	fmt.Fprintf(w, "  bolcd <command> [flags]\n\n")
	fmt.Fprintf(w, "%s\n\n", bold("COMMANDS"))
	for _, c := range commands {
		fmt.Fprintf(w, "  %-14s  %s\n", bold(c.name), c.summary)
	}
	fmt.Fprintf(w, "\n%s\n\n", bold("ENVIRONMENT VARIABLES"))
	fmt.Fprintf(w, "  %-22s  %s\n", "BOLCD_CONFIG", "Default config file path")
	fmt.Fprintf(w, "  %-22s  %s\n", "BOLCD_HOST", "API host override")
	fmt.Fprintf(w, "  %-22s  %s\n", "BOLCD_PORT", "API port override")
	fmt.Fprintf(w, "  %-22s  %s\n", "BOLCD_EPSILON", "Override discovery.epsilon")
	fmt.Fprintf(w, "  %-22s  %s\n", "BOLCD_FDR_Q", "Override discovery.fdr_q")
	fmt.Fprintf(w, "\n%s\n\n", bold("EXAMPLES"))
	fmt.Fprintf(w, "  %s\n", dim("# Write a starter config and a synthetic batch"))
	fmt.Fprintf(w, "  bolcd config init && bolcd synth --output chain.jsonl\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Discover the graph offline"))
	fmt.Fprintf(w, "  bolcd recompute --events chain.jsonl --format table\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Export one segment as GraphML"))
	fmt.Fprintf(w, "  bolcd graphs _all --format graphml --output all.graphml\n\n")
	fmt.Fprintf(w, "Run %s for detailed help on any command.\n\n", bold("bolcd help <command>"))
}

func cmdHelp(name string) {
	for _, c := range commands {
		if c.name == name {
			fmt.Fprintf(os.Stdout, "%s\n\n  %s\n\n", c.summary, c.usage)
			return
		}
	}
	fmt.Fprintf(os.Stderr, red("error: ")+"no help for %q\n", name)
	if s := suggest(name); s != "" {
		fmt.Fprintf(os.Stderr, "       Did you mean %s?\n", bold(s))
	}
	os.Exit(1)
}
