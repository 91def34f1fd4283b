// Package graph implements the unified directed multigraph over
// transaction completions (spec.md §3 "Graph (G)"), its label-set
// projections, strongly-connected-component decomposition, and the cycle
// search primitives that the anomaly interpreter drives.
package graph

import (
	"sort"

	"github.com/hciniramy/elle/history"
)

// Label identifies an edge relationship.
type Label string

const (
	WW       Label = "ww"
	WR       Label = "wr"
	RW       Label = "rw"
	Process  Label = "process"
	Realtime Label = "realtime"
)

// LabelSet is an (unordered) set of edge labels. Parallel edges between the
// same two nodes are merged by unioning their label sets.
type LabelSet map[Label]struct{}

// NewLabelSet builds a LabelSet from the given labels.
func NewLabelSet(labels ...Label) LabelSet {
	s := make(LabelSet, len(labels))
	for _, l := range labels {
		s[l] = struct{}{}
	}
	return s
}

// Contains reports whether l is in s.
func (s LabelSet) Contains(l Label) bool {
	_, ok := s[l]
	return ok
}

// Intersects reports whether s and o share any label.
func (s LabelSet) Intersects(o LabelSet) bool {
	small, big := s, o
	if len(big) < len(small) {
		small, big = big, small
	}
	for l := range small {
		if big.Contains(l) {
			return true
		}
	}
	return false
}

// Union returns a new LabelSet containing every label in s or o.
func (s LabelSet) Union(o LabelSet) LabelSet {
	out := make(LabelSet, len(s)+len(o))
	for l := range s {
		out[l] = struct{}{}
	}
	for l := range o {
		out[l] = struct{}{}
	}
	return out
}

// Sorted returns the labels in s in a stable, deterministic order — used as
// the canonical form for projection cache keys.
func (s LabelSet) Sorted() []Label {
	out := make([]Label, 0, len(s))
	for l := range s {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Key renders s as a canonical cache key.
func (s LabelSet) Key() string {
	var out []byte
	for i, l := range s.Sorted() {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, l...)
	}
	return string(out)
}

// NodeID is an op's index, used as the graph's node identity.
type NodeID = int

// Edge is a directed arc from one op to another, carrying the set of
// relationships that justify it.
type Edge struct {
	From, To NodeID
	Labels   LabelSet
}

// Labeled is a directed multigraph over op indices, with parallel edges
// merged by label-set union (spec.md §3).
type Labeled struct {
	nodes map[NodeID]history.Op
	out   map[NodeID]map[NodeID]LabelSet
	in    map[NodeID]map[NodeID]LabelSet
}

// New returns an empty labeled multigraph.
func New() *Labeled {
	return &Labeled{
		nodes: make(map[NodeID]history.Op),
		out:   make(map[NodeID]map[NodeID]LabelSet),
		in:    make(map[NodeID]map[NodeID]LabelSet),
	}
}

// AddNode registers an op as a node, even if it ends up with no edges (a
// trivial, unconnected node is dropped later at SCC time, not here).
func (g *Labeled) AddNode(op history.Op) {
	if _, ok := g.nodes[op.Index]; !ok {
		g.nodes[op.Index] = op
	}
}

// AddEdge adds a directed edge from -> to carrying the given labels,
// merging with any existing parallel edge by label-set union.
func (g *Labeled) AddEdge(from, to history.Op, labels ...Label) {
	g.AddNode(from)
	g.AddNode(to)

	ls := NewLabelSet(labels...)
	if g.out[from.Index] == nil {
		g.out[from.Index] = make(map[NodeID]LabelSet)
	}
	if existing, ok := g.out[from.Index][to.Index]; ok {
		ls = existing.Union(ls)
	}
	g.out[from.Index][to.Index] = ls

	if g.in[to.Index] == nil {
		g.in[to.Index] = make(map[NodeID]LabelSet)
	}
	g.in[to.Index][from.Index] = ls
}

// Union merges the given graphs into a freshly allocated graph containing
// every node and edge of each (parallel edges merged by label-set union).
func Union(graphs ...*Labeled) *Labeled {
	out := New()
	for _, g := range graphs {
		if g == nil {
			continue
		}
		for _, op := range g.nodes {
			out.AddNode(op)
		}
		for from, tos := range g.out {
			fromOp := g.nodes[from]
			for to, labels := range tos {
				toOp := g.nodes[to]
				out.AddEdge(fromOp, toOp, labels.Sorted()...)
			}
		}
	}
	return out
}

// Nodes returns every node id in ascending order.
func (g *Labeled) Nodes() []NodeID {
	out := make([]NodeID, 0, len(g.nodes))
	for n := range g.nodes {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Op returns the op for a node id.
func (g *Labeled) Op(n NodeID) (history.Op, bool) {
	op, ok := g.nodes[n]
	return op, ok
}

// OutNeighbors returns the out-neighbors of n in ascending order — the
// tie-break order every search primitive uses (spec.md §4.5).
func (g *Labeled) OutNeighbors(n NodeID) []NodeID {
	neighbors := g.out[n]
	out := make([]NodeID, 0, len(neighbors))
	for to := range neighbors {
		out = append(out, to)
	}
	sort.Ints(out)
	return out
}

// EdgeLabels returns the label set of the edge from -> to, if any.
func (g *Labeled) EdgeLabels(from, to NodeID) (LabelSet, bool) {
	labels, ok := g.out[from][to]
	return labels, ok
}

// OutDegree and InDegree are used by SCC decomposition to drop trivial
// components (spec.md §3).
func (g *Labeled) OutDegree(n NodeID) int { return len(g.out[n]) }
func (g *Labeled) InDegree(n NodeID) int  { return len(g.in[n]) }

// HasSelfLoop reports whether n has an edge to itself.
func (g *Labeled) HasSelfLoop(n NodeID) bool {
	_, ok := g.out[n][n]
	return ok
}
