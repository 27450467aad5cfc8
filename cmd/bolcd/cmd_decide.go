package main

// ---------------------------------------------------------------------------
// cmd_decide.go — submit alerts to a running instance's condensation policy
// ---------------------------------------------------------------------------

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/bolcd/bolcd/internal/condense"
)

func cmdDecide(args []string) {
	fs := flag.NewFlagSet("decide", flag.ExitOnError)
	cf := addClientFlags(fs, "table")
	alertsPath := fs.String("alerts", "-", "JSON file with one alert or an array of alerts (- for stdin)")
	fs.Parse(args)

	var payload []byte
	var err error
	if *alertsPath == "-" {
		payload, err = io.ReadAll(os.Stdin)
	} else {
		payload, err = os.ReadFile(*alertsPath)
	}
	if err != nil {
		errorf("reading alerts: %v", err)
	}
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		errorf("no alerts given")
	}
	if payload[0] != '[' {
		payload = append(append([]byte("["), payload...), ']')
	}

	body, err := apiPost(cf.base()+"/api/v1/decide", payload, *cf.timeout)
	if err != nil {
		errorf("%v", err)
	}

	w, cleanup := outputWriter(*cf.output)
	defer cleanup()

	if parseFormat(*cf.format) == FormatJSON {
		fmt.Fprintln(w, string(body))
		return
	}

	var decisions []condense.Decision
	if err := json.Unmarshal(body, &decisions); err != nil {
		errorf("parsing response: %v", err)
	}
	suppressed := 0
	tbl := NewTable(w, "ALERT", "ENTITY", "SIGNAL", "DECISION", "REASON", "TRIGGER", "CONFIDENCE")
	for _, d := range decisions {
		if d.Decision == condense.Suppress {
			suppressed++
		}
		tbl.AddRow(d.AlertID, d.EntityID, d.Signal, d.Decision, d.Reason, d.Trigger, fmtFloat(d.Confidence))
	}
	tbl.Render()
	fmt.Fprintf(w, "%d alerts, %s\n", len(decisions), yellow(fmt.Sprintf("%d suppressed", suppressed)))
}
