package discovery

import (
	"sort"
)

// SubsumedEdge is an accepted edge removed by transitive reduction. Its
// statistics are kept; Via is the surviving path (src ... dst) that
// implies it.
type SubsumedEdge struct {
	Edge
	Via []string `json:"via"`
}

// Graph is the implication graph of one segment.
type Graph struct {
	Segment     string         `json:"segment"`
	Nodes       []string       `json:"nodes"`
	Edges       []Edge         `json:"edges"`
	Subsumed    []SubsumedEdge `json:"subsumed,omitempty"`
	Diagnostics *Diagnostics   `json:"diagnostics,omitempty"`
}

// BuildGraph assembles the accepted edges of a segment into a graph. Nodes
// are the signals appearing in any edge. Cycles are passed through.
func BuildGraph(segment string, accepted []Edge) *Graph {
	g := &Graph{Segment: segment, Edges: make([]Edge, 0, len(accepted))}
	seen := make(map[string]bool)
	for _, e := range accepted {
		e.Segment = segment
		g.Edges = append(g.Edges, e)
		for _, n := range []string{e.Src, e.Dst} {
			if !seen[n] {
				seen[n] = true
				g.Nodes = append(g.Nodes, n)
			}
		}
	}
	sort.Strings(g.Nodes)
	sortEdges(g.Edges)
	return g
}

func sortEdges(edges []Edge) {
	sort.Slice(edges, func(a, b int) bool {
		if edges[a].Src != edges[b].Src {
			return edges[a].Src < edges[b].Src
		}
		return edges[a].Dst < edges[b].Dst
	})
}

// Edge looks up a direct edge.
func (g *Graph) Edge(src, dst string) (Edge, bool) {
	for _, e := range g.Edges {
		if e.Src == src && e.Dst == dst {
			return e, true
		}
	}
	return Edge{}, false
}

// Subsumption looks up a removed edge and the path that subsumes it.
func (g *Graph) Subsumption(src, dst string) (SubsumedEdge, bool) {
	for _, s := range g.Subsumed {
		if s.Src == src && s.Dst == dst {
			return s, true
		}
	}
	return SubsumedEdge{}, false
}

// InDegree counts direct edges into node.
func (g *Graph) InDegree(node string) int {
	n := 0
	for _, e := range g.Edges {
		if e.Dst == node {
			n++
		}
	}
	return n
}

// Reachable reports whether dst can be reached from src over the graph's
// direct edges. A node reaches itself only through a cycle.
func (g *Graph) Reachable(src, dst string) bool {
	adj := newAdjacency(g.Nodes, g.Edges)
	u, ok := adj.index[src]
	if !ok {
		return false
	}
	v, ok := adj.index[dst]
	if !ok {
		return false
	}
	return adj.reachable(u, v)
}
