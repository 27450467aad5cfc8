package main

// ---------------------------------------------------------------------------
// output.go — format flag, table rendering, output helpers
// ---------------------------------------------------------------------------

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/bolcd/bolcd/internal/discovery"
)

// OutputFormat enumerates supported output formats.
type OutputFormat int

const (
	FormatTable OutputFormat = iota
	FormatJSON
	FormatYAML
	FormatGraphML
)

// parseFormat converts a --format string to an OutputFormat.
func parseFormat(s string) OutputFormat {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON
	case "yaml", "yml":
		return FormatYAML
	case "graphml":
		return FormatGraphML
	default:
		return FormatTable
	}
}

// ---------------------------------------------------------------------------
// Table renderer — auto-sized columns with box-drawing borders
// ---------------------------------------------------------------------------

// Table renders aligned, bordered tables to a writer.
type Table struct {
	headers []string
	rows    [][]string
	w       io.Writer
}

// NewTable creates a table with the given column headers.
func NewTable(w io.Writer, headers ...string) *Table {
	return &Table{headers: headers, w: w}
}

// AddRow appends a row. Values are matched positionally to headers.
func (t *Table) AddRow(values ...string) {
	row := make([]string, len(t.headers))
	for i := range row {
		if i < len(values) {
			row[i] = values[i]
		}
	}
	t.rows = append(t.rows, row)
}

func (t *Table) line(widths []int, left, mid, right string) string {
	var b strings.Builder
	b.WriteString(left)
	for i, w := range widths {
		b.WriteString(strings.Repeat("─", w+2))
		if i < len(widths)-1 {
			b.WriteString(mid)
		}
	}
	b.WriteString(right)
	return b.String()
}

// Render writes the table with box-drawing borders.
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = len(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow := func(cells []string) {
		fmt.Fprint(t.w, "│")
		for i, cell := range cells {
			fmt.Fprintf(t.w, " %-*s │", widths[i], cell)
		}
		fmt.Fprintln(t.w)
	}

	fmt.Fprintln(t.w, t.line(widths, "┌", "┬", "┐"))
	printRow(t.headers)
	fmt.Fprintln(t.w, t.line(widths, "├", "┼", "┤"))
	for _, row := range t.rows {
		printRow(row)
	}
	fmt.Fprintln(t.w, t.line(widths, "└", "┴", "┘"))
}

// renderGraph prints a graph's kept and subsumed edges as tables.
func renderGraph(w io.Writer, g *discovery.Graph) {
	fmt.Fprintf(w, "%s segment %s: %d nodes, %d edges, %d subsumed\n",
		bold("●"), bold(g.Segment), len(g.Nodes), len(g.Edges), len(g.Subsumed))

	tbl := NewTable(w, "SRC", "DST", "N_SRC1", "K", "CI95_UPPER", "Q_VALUE")
	for _, e := range g.Edges {
		tbl.AddRow(e.Src, e.Dst,
			strconv.FormatUint(e.NSrc1, 10), strconv.FormatUint(e.K, 10),
			fmtFloat(e.CI95Upper), fmtFloat(e.QValue))
	}
	tbl.Render()

	if len(g.Subsumed) > 0 {
		sub := NewTable(w, "SUBSUMED", "VIA", "Q_VALUE")
		for _, s := range g.Subsumed {
			sub.AddRow(s.Src+" -> "+s.Dst, strings.Join(s.Via, " -> "), fmtFloat(s.QValue))
		}
		sub.Render()
	}
	fmt.Fprintln(w)
}

func fmtFloat(v float64) string { return strconv.FormatFloat(v, 'g', 4, 64) }

// outputWriter writes to file if --output is set, otherwise stdout.
func outputWriter(path string) (*os.File, func()) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}
	}
	f, err := os.Create(path)
	if err != nil {
		errorf("opening output file %q: %v", path, err)
	}
	return f, func() { f.Close() }
}
