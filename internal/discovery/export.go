package discovery

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteJSON writes g as indented JSON.
func WriteJSON(w io.Writer, g *Graph) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(g)
}

// ReadGraph decodes a graph written by WriteJSON.
func ReadGraph(r io.Reader) (*Graph, error) {
	var g Graph
	if err := json.NewDecoder(r).Decode(&g); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	return &g, nil
}

const graphMLNamespace = "http://graphml.graphdrawing.org/xmlns"

type graphML struct {
	XMLName xml.Name `xml:"graphml"`
	XMLNS   string   `xml:"xmlns,attr"`
	Keys    []gmlKey `xml:"key"`
	Graph   gmlGraph `xml:"graph"`
}

type gmlKey struct {
	ID   string `xml:"id,attr"`
	For  string `xml:"for,attr"`
	Name string `xml:"attr.name,attr"`
	Type string `xml:"attr.type,attr"`
}

type gmlGraph struct {
	ID          string    `xml:"id,attr,omitempty"`
	EdgeDefault string    `xml:"edgedefault,attr"`
	Nodes       []gmlNode `xml:"node"`
	Edges       []gmlEdge `xml:"edge"`
}

type gmlNode struct {
	ID string `xml:"id,attr"`
}

type gmlEdge struct {
	ID     string    `xml:"id,attr"`
	Source string    `xml:"source,attr"`
	Target string    `xml:"target,attr"`
	Data   []gmlData `xml:"data"`
}

type gmlData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

var graphMLKeys = []gmlKey{
	{ID: "d0", For: "edge", Name: "n_src1", Type: "long"},
	{ID: "d1", For: "edge", Name: "k_counterex", Type: "long"},
	{ID: "d2", For: "edge", Name: "ci95_upper", Type: "double"},
	{ID: "d3", For: "edge", Name: "p_value", Type: "double"},
	{ID: "d4", For: "edge", Name: "q_value", Type: "double"},
	{ID: "d5", For: "edge", Name: "segment", Type: "string"},
	{ID: "d6", For: "edge", Name: "rule_of_three", Type: "boolean"},
	{ID: "d7", For: "edge", Name: "subsumed", Type: "boolean"},
	{ID: "d8", For: "edge", Name: "via", Type: "string"},
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func gmlEdgeOf(id int, e Edge, subsumed bool, via []string) gmlEdge {
	out := gmlEdge{
		ID:     "e" + strconv.Itoa(id),
		Source: e.Src,
		Target: e.Dst,
		Data: []gmlData{
			{Key: "d0", Value: strconv.FormatUint(e.NSrc1, 10)},
			{Key: "d1", Value: strconv.FormatUint(e.K, 10)},
			{Key: "d2", Value: formatFloat(e.CI95Upper)},
			{Key: "d3", Value: formatFloat(e.PValue)},
			{Key: "d4", Value: formatFloat(e.QValue)},
			{Key: "d5", Value: e.Segment},
			{Key: "d6", Value: strconv.FormatBool(e.RuleOfThree)},
			{Key: "d7", Value: strconv.FormatBool(subsumed)},
		},
	}
	if len(via) > 0 {
		out.Data = append(out.Data, gmlData{Key: "d8", Value: strings.Join(via, " ")})
	}
	return out
}

// WriteGraphML writes g as directed GraphML. Reduced edges come first,
// followed by subsumed edges flagged with subsumed=true and their path.
func WriteGraphML(w io.Writer, g *Graph) error {
	doc := graphML{
		XMLNS: graphMLNamespace,
		Keys:  graphMLKeys,
		Graph: gmlGraph{ID: g.Segment, EdgeDefault: "directed"},
	}
	for _, n := range g.Nodes {
		doc.Graph.Nodes = append(doc.Graph.Nodes, gmlNode{ID: n})
	}
	id := 0
	for _, e := range g.Edges {
		doc.Graph.Edges = append(doc.Graph.Edges, gmlEdgeOf(id, e, false, nil))
		id++
	}
	for _, s := range g.Subsumed {
		doc.Graph.Edges = append(doc.Graph.Edges, gmlEdgeOf(id, s.Edge, true, s.Via))
		id++
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
