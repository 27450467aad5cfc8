package main

// ---------------------------------------------------------------------------
// cmd_audit.go — tail, query, and verify the audit log
// ---------------------------------------------------------------------------

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/bolcd/bolcd/internal/audit"
)

func cmdAudit(args []string) {
	sub := "tail"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}
	switch sub {
	case "tail":
		cmdAuditTail(args)
	case "query":
		cmdAuditQuery(args)
	case "verify":
		cmdAuditVerify(args)
	default:
		errorf("unknown audit subcommand %q (tail, query, verify)", sub)
	}
}

func cmdAuditTail(args []string) {
	fs := flag.NewFlagSet("audit-tail", flag.ExitOnError)
	cf := addClientFlags(fs, "table")
	limit := fs.Int("limit", 50, "Number of records")
	fs.Parse(args)

	body, err := apiGet(fmt.Sprintf("%s/api/v1/audit?limit=%d", cf.base(), *limit), *cf.timeout)
	if err != nil {
		errorf("%v", err)
	}
	w, cleanup := outputWriter(*cf.output)
	defer cleanup()
	if parseFormat(*cf.format) == FormatJSON {
		fmt.Fprintln(w, string(body))
		return
	}
	var records []audit.Record
	if err := json.Unmarshal(body, &records); err != nil {
		errorf("parsing response: %v", err)
	}
	renderRecords(w, records)
}

func cmdAuditQuery(args []string) {
	fs := flag.NewFlagSet("audit-query", flag.ExitOnError)
	dbPath := fs.String("db", "", "SQLite audit database")
	action := fs.String("action", "", "Filter by action")
	runID := fs.String("run", "", "Filter by run ID")
	segment := fs.String("segment", "", "Filter by segment")
	limit := fs.Int("limit", 100, "Maximum records")
	format := fs.String("format", "table", "Output format: table, json")
	fs.Parse(args)

	if *dbPath == "" {
		errorf("--db is required")
	}
	if _, err := os.Stat(*dbPath); err != nil {
		errorf("audit database: %v", err)
	}
	store, err := audit.NewSQLiteSink(*dbPath)
	if err != nil {
		errorf("opening audit database: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	records, err := store.Query(ctx, audit.Query{
		Action:  audit.Action(*action),
		RunID:   *runID,
		Segment: *segment,
		Limit:   *limit,
	})
	if err != nil {
		errorf("querying audit log: %v", err)
	}

	if parseFormat(*format) == FormatJSON {
		data, _ := json.MarshalIndent(records, "", "  ")
		fmt.Println(string(data))
		return
	}
	renderRecords(os.Stdout, records)
}

func cmdAuditVerify(args []string) {
	fs := flag.NewFlagSet("audit-verify", flag.ExitOnError)
	file := fs.String("file", "", "JSONL audit log")
	fs.Parse(args)

	if *file == "" {
		errorf("--file is required")
	}
	if _, err := os.Stat(*file); err != nil {
		errorf("audit log: %v", err)
	}
	sink, err := audit.NewJSONLSink(*file)
	if err != nil {
		errorf("opening audit log: %v", err)
	}
	defer sink.Close()

	n, err := sink.Verify()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s Hash chain broken after %d record(s): %v\n", red("✗"), n, err)
		os.Exit(1)
	}
	fmt.Printf("%s Hash chain intact, %d record(s) in %s\n", green("✓"), n, *file)
}

func renderRecords(w io.Writer, records []audit.Record) {
	if len(records) == 0 {
		fmt.Fprintf(w, "%s No audit records.\n", dim("▸"))
		return
	}
	tbl := NewTable(w, "TIME", "ACTION", "SEGMENT", "ACTOR", "DETAIL")
	for _, r := range records {
		tbl.AddRow(r.Timestamp.Format(time.RFC3339), string(r.Action), r.Segment, r.Actor, diffSummary(r.Diff))
	}
	tbl.Render()
}

func diffSummary(diff map[string]interface{}) string {
	keys := make([]string, 0, len(diff))
	for k := range diff {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := fmt.Sprint(diff[k])
		if len(v) > 40 {
			v = v[:40] + "..."
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}
