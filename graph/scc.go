package graph

import "sort"

// SCC is a strongly connected component: a set of node ids, all
// mutually reachable from one another.
type SCC struct {
	Nodes []NodeID // ascending order
}

// Contains reports whether n is a member of the component.
func (s SCC) Contains(n NodeID) bool {
	i := sort.SearchInts(s.Nodes, n)
	return i < len(s.Nodes) && s.Nodes[i] == n
}

// StronglyConnectedComponents partitions g via Tarjan's algorithm,
// restricted to nodes with at least one outgoing and one incoming edge;
// trivial components (a singleton with no self-loop) are dropped
// (spec.md §3, Testable Property 5: every cycle lies within exactly one
// SCC). Components are returned in ascending order of their lowest-index
// member, and each component's Nodes are themselves ascending, so the
// result is fully deterministic.
func StronglyConnectedComponents(g *Labeled) []SCC {
	t := &tarjan{
		g:       g,
		index:   make(map[NodeID]int),
		low:     make(map[NodeID]int),
		onStack: make(map[NodeID]bool),
	}

	for _, n := range g.Nodes() {
		if g.OutDegree(n) == 0 || g.InDegree(n) == 0 {
			continue
		}
		if _, visited := t.index[n]; !visited {
			t.strongConnect(n)
		}
	}

	out := make([]SCC, 0, len(t.result))
	for _, nodes := range t.result {
		sort.Ints(nodes)
		if len(nodes) == 1 && !g.HasSelfLoop(nodes[0]) {
			continue // trivial component
		}
		out = append(out, SCC{Nodes: nodes})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nodes[0] < out[j].Nodes[0] })
	return out
}

// tarjan implements the standard iterative-free (recursive) Tarjan SCC
// algorithm. Recursion depth is bounded by the number of nodes reachable
// from a single call to strongConnect, which is fine for histories sized
// for an in-memory batch analyzer.
type tarjan struct {
	g       *Labeled
	counter int
	index   map[NodeID]int
	low     map[NodeID]int
	onStack map[NodeID]bool
	stack   []NodeID
	result  [][]NodeID
}

func (t *tarjan) strongConnect(v NodeID) {
	t.index[v] = t.counter
	t.low[v] = t.counter
	t.counter++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	for _, w := range t.g.OutNeighbors(v) {
		if _, visited := t.index[w]; !visited {
			t.strongConnect(w)
			if t.low[w] < t.low[v] {
				t.low[v] = t.low[w]
			}
		} else if t.onStack[w] {
			if t.index[w] < t.low[v] {
				t.low[v] = t.index[w]
			}
		}
	}

	if t.low[v] == t.index[v] {
		var component []NodeID
		for {
			n := len(t.stack) - 1
			w := t.stack[n]
			t.stack = t.stack[:n]
			t.onStack[w] = false
			component = append(component, w)
			if w == v {
				break
			}
		}
		t.result = append(t.result, component)
	}
}
