package main

// ---------------------------------------------------------------------------
// cmd_graphs.go — list graphs or fetch one segment from a running instance
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"

	"github.com/bolcd/bolcd/internal/discovery"
)

func cmdGraphs(args []string) {
	fs := flag.NewFlagSet("graphs", flag.ExitOnError)
	cf := addClientFlags(fs, "table")

	var segment string
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		segment, args = args[0], args[1:]
	}
	fs.Parse(args)

	w, cleanup := outputWriter(*cf.output)
	defer cleanup()
	format := parseFormat(*cf.format)

	if segment == "" {
		body, err := apiGet(cf.base()+"/api/v1/graphs", *cf.timeout)
		if err != nil {
			errorf("%v", err)
		}
		if format == FormatJSON {
			fmt.Fprintln(w, string(body))
			return
		}
		var graphs []*discovery.Graph
		if err := json.Unmarshal(body, &graphs); err != nil {
			errorf("parsing response: %v", err)
		}
		if len(graphs) == 0 {
			fmt.Fprintf(w, "%s No graphs yet. Submit events or run a recompute.\n", dim("▸"))
			return
		}
		tbl := NewTable(w, "SEGMENT", "NODES", "EDGES", "SUBSUMED")
		for _, g := range graphs {
			tbl.AddRow(g.Segment, fmt.Sprint(len(g.Nodes)), fmt.Sprint(len(g.Edges)), fmt.Sprint(len(g.Subsumed)))
		}
		tbl.Render()
		return
	}

	path := cf.base() + "/api/v1/graphs/" + url.PathEscape(segment)
	if format == FormatGraphML {
		path += "?format=graphml"
	}
	body, err := apiGet(path, *cf.timeout)
	if err != nil {
		errorf("%v", err)
	}
	switch format {
	case FormatJSON, FormatGraphML:
		fmt.Fprintln(w, string(body))
	default:
		var g discovery.Graph
		if err := json.Unmarshal(body, &g); err != nil {
			errorf("parsing response: %v", err)
		}
		renderGraph(w, &g)
	}
}
