package graph

import (
	"context"
	"sort"
)

// Cycle is a closed, ordered sequence of edges: Edges[i].To ==
// Edges[i+1].From for every i, and the last edge's To equals the first
// edge's From.
type Cycle struct {
	Edges []Edge
}

// Canonicalize rotates the cycle to start at its lowest-index node, so that
// two equivalent cycles discovered via different traversal orders compare
// equal (spec.md §9, Testable Property 1).
func (c Cycle) Canonicalize() Cycle {
	if len(c.Edges) == 0 {
		return c
	}
	minIdx := 0
	minNode := c.Edges[0].From
	for i, e := range c.Edges {
		if e.From < minNode {
			minNode, minIdx = e.From, i
		}
	}
	rotated := make([]Edge, len(c.Edges))
	copy(rotated, c.Edges[minIdx:])
	copy(rotated[len(c.Edges)-minIdx:], c.Edges[:minIdx])
	return Cycle{Edges: rotated}
}

// everyNNodes is how often search primitives poll the deadline captured in
// ctx, per spec.md §9 "have the graph primitives poll a deadline flag every
// N nodes visited" (preferred over cooperative interrupt-based cancellation).
const everyNNodes = 256

func deadlineExceeded(ctx context.Context, visited int) bool {
	if visited%everyNNodes != 0 {
		return false
	}
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// FindCycle returns the shortest cycle in scc, found by BFS from the
// component's lowest-index node — "shortest cycle through a fixed vertex"
// in an unweighted digraph (spec.md §4.5).
func FindCycle(ctx context.Context, g *Labeled, scc SCC) (Cycle, bool) {
	if len(scc.Nodes) == 0 {
		return Cycle{}, false
	}
	start := scc.Nodes[0]

	if g.HasSelfLoop(start) {
		labels, _ := g.EdgeLabels(start, start)
		return Cycle{Edges: []Edge{{From: start, To: start, Labels: labels}}}, true
	}

	visited := map[NodeID]bool{start: true}
	parent := make(map[NodeID]NodeID)
	queue := []NodeID{start}

	n := 0
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]

		for _, v := range inSCCNeighbors(g, u, scc) {
			n++
			if deadlineExceeded(ctx, n) {
				return Cycle{}, false
			}
			if v == start && u != start {
				return reconstructCycle(g, parent, start, u, v).Canonicalize(), true
			}
			if !visited[v] {
				visited[v] = true
				parent[v] = u
				queue = append(queue, v)
			}
		}
	}
	return Cycle{}, false
}

// FindCycleStartingWith finds a cycle whose first edge is present in
// gFirst and whose remaining edges are present in gRest, trying candidate
// start nodes in ascending order (spec.md §4.5). This is how e.g. G-single
// anchors its single required rw edge.
func FindCycleStartingWith(ctx context.Context, gFirst, gRest *Labeled, scc SCC) (Cycle, bool) {
	n := 0
	for _, u := range scc.Nodes {
		for _, v := range inSCCNeighbors(gFirst, u, scc) {
			n++
			if deadlineExceeded(ctx, n) {
				return Cycle{}, false
			}
			firstLabels, _ := gFirst.EdgeLabels(u, v)
			firstEdge := Edge{From: u, To: v, Labels: firstLabels}

			if v == u {
				continue // a self-loop first edge trivially closes; not useful here
			}

			rest, ok := bfsPath(ctx, gRest, v, u, scc)
			if !ok {
				continue
			}
			edges := append([]Edge{firstEdge}, rest...)
			return Cycle{Edges: edges}.Canonicalize(), true
		}
	}
	return Cycle{}, false
}

// PathState is the caller-supplied accumulator threaded through
// FindCycleWith.
type PathState any

// InitFn produces the initial accumulator for a path starting at v.
type InitFn func(v NodeID) PathState

// StepFn extends an accumulator by one edge, or reports the step invalid.
type StepFn func(acc PathState, path []Edge, edge Edge) (next PathState, ok bool)

// FilterFn gates acceptance of a closed cycle by its final accumulator.
type FilterFn func(final PathState) bool

// FindCycleWith performs a DFS cycle search driven by a user-supplied
// (init, step) path-predicate, accepting a closed cycle only if
// filterFinal(finalState) holds. This is the primitive powering
// G-nonadjacent, whose accumulator tracks (rw-count, last-edge-was-rw)
// (spec.md §4.5, §4.6).
func FindCycleWith(ctx context.Context, init InitFn, step StepFn, filterFinal FilterFn, g *Labeled, scc SCC) (Cycle, bool) {
	visits := 0
	for _, start := range scc.Nodes {
		onPath := map[NodeID]bool{start: true}
		path := make([]Edge, 0, len(scc.Nodes))
		acc := init(start)

		cycle, found, aborted := dfsWith(ctx, g, scc, start, start, onPath, path, acc, step, filterFinal, &visits)
		if aborted {
			return Cycle{}, false
		}
		if found {
			return cycle.Canonicalize(), true
		}
	}
	return Cycle{}, false
}

func dfsWith(ctx context.Context, g *Labeled, scc SCC, start, cur NodeID, onPath map[NodeID]bool, path []Edge, acc PathState, step StepFn, filterFinal FilterFn, visits *int) (Cycle, bool, bool) {
	for _, next := range inSCCNeighbors(g, cur, scc) {
		*visits++
		if deadlineExceeded(ctx, *visits) {
			return Cycle{}, false, true
		}

		labels, _ := g.EdgeLabels(cur, next)
		edge := Edge{From: cur, To: next, Labels: labels}

		nextAcc, ok := step(acc, path, edge)
		if !ok {
			continue
		}

		newPath := append(append([]Edge{}, path...), edge)

		if next == start {
			if filterFinal(nextAcc) {
				return Cycle{Edges: newPath}, true, false
			}
			continue
		}

		if onPath[next] {
			continue // would revisit a node already on this simple path
		}

		onPath[next] = true
		cycle, found, aborted := dfsWith(ctx, g, scc, start, next, onPath, newPath, nextAcc, step, filterFinal, visits)
		onPath[next] = false
		if aborted {
			return Cycle{}, false, true
		}
		if found {
			return cycle, true, false
		}
	}
	return Cycle{}, false, false
}

// FallbackCycle returns any cycle within scc via a guaranteed-terminating
// DFS. Because an SCC with at least one edge always contains a cycle, this
// never fails to find one, and it is the last resort the anomaly
// interpreter falls back to after a per-SCC search timeout (spec.md §4.5,
// §4.6 step 3).
func FallbackCycle(g *Labeled, scc SCC) (Cycle, bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[NodeID]int, len(scc.Nodes))
	parent := make(map[NodeID]NodeID)

	var found []Edge
	var dfs func(u NodeID) bool
	dfs = func(u NodeID) bool {
		color[u] = gray
		for _, v := range inSCCNeighbors(g, u, scc) {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				// Back edge u -> v closes a cycle through the DFS tree.
				path := []NodeID{v}
				for n := u; n != v; n = parent[n] {
					path = append(path, n)
				}
				// path is currently [v, u, parent(u), ..., child of v]; reverse the
				// tail so it reads v -> ... -> u, then close with u -> v.
				for i, j := 1, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				for i := 0; i < len(path); i++ {
					from := path[i]
					to := path[(i+1)%len(path)]
					labels, _ := g.EdgeLabels(from, to)
					found = append(found, Edge{From: from, To: to, Labels: labels})
				}
				return true
			}
		}
		color[u] = black
		return false
	}

	for _, n := range scc.Nodes {
		if color[n] == white {
			if dfs(n) {
				return Cycle{Edges: found}.Canonicalize(), true
			}
		}
	}
	return Cycle{}, false
}

// inSCCNeighbors returns u's out-neighbors restricted to scc membership,
// in ascending order — the deterministic tie-break every primitive uses.
func inSCCNeighbors(g *Labeled, u NodeID, scc SCC) []NodeID {
	all := g.OutNeighbors(u)
	out := make([]NodeID, 0, len(all))
	for _, v := range all {
		if scc.Contains(v) {
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}

// bfsPath finds the shortest path from -> to within scc using g's edges,
// or reports none exists.
func bfsPath(ctx context.Context, g *Labeled, from, to NodeID, scc SCC) ([]Edge, bool) {
	if from == to {
		return nil, true
	}
	visited := map[NodeID]bool{from: true}
	parent := make(map[NodeID]NodeID)
	queue := []NodeID{from}

	n := 0
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, v := range inSCCNeighbors(g, u, scc) {
			n++
			if deadlineExceeded(ctx, n) {
				return nil, false
			}
			if v == to {
				return reconstructCycle(g, parent, from, u, v).Edges, true
			}
			if !visited[v] {
				visited[v] = true
				parent[v] = u
				queue = append(queue, v)
			}
		}
	}
	return nil, false
}

// reconstructCycle rebuilds the path start -> ... -> last -> closing using
// the BFS parent map, returning it as a Cycle's edge list.
func reconstructCycle(g *Labeled, parent map[NodeID]NodeID, start, last, closing NodeID) Cycle {
	var nodes []NodeID
	for n := last; n != start; n = parent[n] {
		nodes = append([]NodeID{n}, nodes...)
	}
	nodes = append([]NodeID{start}, nodes...)
	nodes = append(nodes, closing)

	edges := make([]Edge, 0, len(nodes)-1)
	for i := 0; i < len(nodes)-1; i++ {
		from, to := nodes[i], nodes[i+1]
		labels, _ := g.EdgeLabels(from, to)
		edges = append(edges, Edge{From: from, To: to, Labels: labels})
	}
	return Cycle{Edges: edges}
}
