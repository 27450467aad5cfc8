package main

// ---------------------------------------------------------------------------
// cmd_rules.go — SIEM suppression rules from a graph file or a server
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bolcd/bolcd/internal/discovery"
	"github.com/bolcd/bolcd/internal/rules"
)

func cmdRules(args []string) {
	fs := flag.NewFlagSet("rules", flag.ExitOnError)
	cf := addClientFlags(fs, "table")
	graphPath := fs.String("graph", "", "Read a graph JSON file instead of querying a server")
	segment := fs.String("segment", "", "Only rules for this segment")
	fs.Parse(args)

	var out []rules.Rule
	if *graphPath != "" {
		g := readGraphFile(*graphPath)
		if *segment != "" && g.Segment != *segment {
			errorf("graph file holds segment %q, not %q", g.Segment, *segment)
		}
		out = rules.Build(g)
	} else {
		path := cf.base() + "/api/v1/rules"
		if *segment != "" {
			path += "?segment=" + url.QueryEscape(*segment)
		}
		body, err := apiGet(path, *cf.timeout)
		if err != nil {
			errorf("%v", err)
		}
		if err := json.Unmarshal(body, &out); err != nil {
			errorf("parsing response: %v", err)
		}
	}

	w, cleanup := outputWriter(*cf.output)
	defer cleanup()
	writeRules(w, out, parseFormat(*cf.format))
}

func readGraphFile(path string) *discovery.Graph {
	f, err := os.Open(path)
	if err != nil {
		errorf("opening graph: %v", err)
	}
	defer f.Close()
	g, err := discovery.ReadGraph(f)
	if err != nil {
		errorf("reading graph %s: %v", path, err)
	}
	return g
}

func writeRules(w io.Writer, out []rules.Rule, format OutputFormat) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			errorf("marshaling rules: %v", err)
		}
		fmt.Fprintln(w, string(data))
	case FormatYAML:
		data, err := yaml.Marshal(out)
		if err != nil {
			errorf("marshaling rules: %v", err)
		}
		fmt.Fprint(w, string(data))
	default:
		if len(out) == 0 {
			fmt.Fprintf(w, "%s No subsumed edges, nothing to suppress.\n", dim("▸"))
			return
		}
		tbl := NewTable(w, "RULE", "SEGMENT", "SUPPRESS", "VIA", "Q_VALUE")
		for _, r := range out {
			tbl.AddRow(r.Name, r.Segment, r.Detector.Src+" -> "+r.Detector.Dst,
				strings.Join(r.Detector.Via, " -> "), fmtFloat(r.QValue))
		}
		tbl.Render()
	}
}
