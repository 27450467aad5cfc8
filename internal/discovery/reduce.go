package discovery

import (
	"github.com/bits-and-blooms/bitset"
)

// adjacency is a dense directed graph whose rows are bitsets over node
// indices. Indices follow the sorted node order.
type adjacency struct {
	names []string
	index map[string]int
	rows  []*bitset.BitSet
}

func newAdjacency(nodes []string, edges []Edge) *adjacency {
	n := uint(len(nodes))
	a := &adjacency{
		names: nodes,
		index: make(map[string]int, len(nodes)),
		rows:  make([]*bitset.BitSet, len(nodes)),
	}
	for i, name := range nodes {
		a.index[name] = i
		a.rows[i] = bitset.New(n)
	}
	for _, e := range edges {
		u, ok := a.index[e.Src]
		if !ok {
			continue
		}
		v, ok := a.index[e.Dst]
		if !ok {
			continue
		}
		a.rows[u].Set(uint(v))
	}
	return a
}

// reachable runs a breadth-first search from u where each level is the OR
// of the adjacency rows of the current frontier.
func (a *adjacency) reachable(u, v int) bool {
	n := uint(len(a.names))
	reached := bitset.New(n)
	frontier := a.rows[u].Clone()
	for {
		if frontier.Test(uint(v)) {
			return true
		}
		frontier.InPlaceDifference(reached)
		if frontier.None() {
			return false
		}
		reached.InPlaceUnion(frontier)
		next := bitset.New(n)
		for i, ok := frontier.NextSet(0); ok; i, ok = frontier.NextSet(i + 1) {
			next.InPlaceUnion(a.rows[i])
		}
		frontier = next
	}
}

// path returns a shortest path u ... v, visiting neighbors in index order.
func (a *adjacency) path(u, v int) []int {
	parent := make([]int, len(a.names))
	for i := range parent {
		parent[i] = -1
	}
	visited := bitset.New(uint(len(a.names)))
	visited.Set(uint(u))
	queue := []int{u}
	for len(queue) > 0 {
		x := queue[0]
		queue = queue[1:]
		for w, ok := a.rows[x].NextSet(0); ok; w, ok = a.rows[x].NextSet(w + 1) {
			if visited.Test(w) {
				continue
			}
			visited.Set(w)
			parent[w] = x
			if int(w) == v {
				var rev []int
				for c := v; c != -1; c = parent[c] {
					rev = append(rev, c)
				}
				out := make([]int, len(rev))
				for i, c := range rev {
					out[len(rev)-1-i] = c
				}
				return out
			}
			queue = append(queue, int(w))
		}
	}
	return nil
}

// findCycle returns the nodes of one directed cycle in traversal order, or
// nil when the graph is acyclic.
func (a *adjacency) findCycle() []int {
	const (
		white = iota
		gray
		black
	)
	type frame struct {
		node int
		next uint
	}
	color := make([]uint8, len(a.names))
	for root := range a.names {
		if color[root] != white {
			continue
		}
		color[root] = gray
		stack := []frame{{node: root}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			w, ok := a.rows[top.node].NextSet(top.next)
			if !ok {
				color[top.node] = black
				stack = stack[:len(stack)-1]
				continue
			}
			top.next = w + 1
			switch color[w] {
			case white:
				color[w] = gray
				stack = append(stack, frame{node: int(w)})
			case gray:
				for k := range stack {
					if stack[k].node == int(w) {
						cycle := make([]int, 0, len(stack)-k)
						for _, f := range stack[k:] {
							cycle = append(cycle, f.node)
						}
						return cycle
					}
				}
			}
		}
	}
	return nil
}

func (a *adjacency) namesOf(idx []int) []string {
	out := make([]string, len(idx))
	for i, x := range idx {
		out[i] = a.names[x]
	}
	return out
}

// Reduce returns the transitive reduction of g: every edge u->v for which v
// stays reachable from u without it is moved to Subsumed, with the
// surviving path recorded as Via. Reachability between every pair of nodes
// is unchanged. A cyclic input yields *CyclicGraphError.
func Reduce(g *Graph) (*Graph, error) {
	adj := newAdjacency(g.Nodes, g.Edges)
	if cycle := adj.findCycle(); cycle != nil {
		refs := make([]EdgeRef, len(cycle))
		for i, u := range cycle {
			v := cycle[(i+1)%len(cycle)]
			refs[i] = EdgeRef{Src: adj.names[u], Dst: adj.names[v]}
		}
		return nil, &CyclicGraphError{Segment: g.Segment, Cycle: refs}
	}

	edges := make([]Edge, len(g.Edges))
	copy(edges, g.Edges)
	sortEdges(edges)

	removed := make([]bool, len(edges))
	for i, e := range edges {
		u, v := adj.index[e.Src], adj.index[e.Dst]
		adj.rows[u].Clear(uint(v))
		if adj.reachable(u, v) {
			removed[i] = true
			continue
		}
		adj.rows[u].Set(uint(v))
	}

	out := &Graph{
		Segment:     g.Segment,
		Nodes:       append([]string(nil), g.Nodes...),
		Edges:       make([]Edge, 0, len(edges)),
		Diagnostics: g.Diagnostics,
	}
	for i, e := range edges {
		if !removed[i] {
			out.Edges = append(out.Edges, e)
			continue
		}
		via := adj.path(adj.index[e.Src], adj.index[e.Dst])
		out.Subsumed = append(out.Subsumed, SubsumedEdge{Edge: e, Via: adj.namesOf(via)})
	}
	return out, nil
}
