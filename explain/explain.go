// Package explain implements the pair explainer (spec.md §4.10, C10): for
// any edge in the unified graph, it reconstructs which mop(s) on the source
// and destination transactions justify it. It is a pure function over each
// analyzer's per-key index maps — it performs no graph traversal of its own.
package explain

import (
	"fmt"

	"github.com/hciniramy/elle/graph"
	"github.com/hciniramy/elle/history"
)

// Explanation is why one edge between two ops exists on one key.
type Explanation struct {
	Key    history.Key
	Label  graph.Label
	Detail string
}

type edgeKey struct {
	from, to graph.NodeID
	label    graph.Label
}

// PerKeyExplainer accumulates explanations as an analyzer builds its edges,
// so that looking one up later is a map read, not a re-derivation.
type PerKeyExplainer struct {
	entries map[edgeKey]Explanation
}

// NewPerKeyExplainer returns an empty explainer ready to be filled in
// alongside edge construction.
func NewPerKeyExplainer() *PerKeyExplainer {
	return &PerKeyExplainer{entries: make(map[edgeKey]Explanation)}
}

// Add records why the from->to edge on label exists.
func (e *PerKeyExplainer) Add(from, to history.Op, key history.Key, label graph.Label, detail string) {
	e.entries[edgeKey{from.Index, to.Index, label}] = Explanation{Key: key, Label: label, Detail: detail}
}

// Explain returns the stored explanation for from->to on label, if any.
func (e *PerKeyExplainer) Explain(from, to graph.NodeID, label graph.Label) (Explanation, bool) {
	ex, ok := e.entries[edgeKey{from, to, label}]
	return ex, ok
}

// Combined merges several per-analyzer explainers (the checker passes the
// list-append and rw-register ones) into the single explainer the anomaly
// interpreter consults while classifying a cycle. Process and real-time
// edges have no explainer and get the generic fallback detail.
type Combined struct {
	sources []*PerKeyExplainer
}

// Combine builds a Combined explainer over the given sources, queried in
// order (first match wins — two analyzers can both record the same label
// between the same pair of ops, in which case the earlier source's
// explanation is returned).
func Combine(sources ...*PerKeyExplainer) *Combined {
	return &Combined{sources: sources}
}

// ExplainEdge returns one Explanation per label present on the from->to
// edge, in label-sorted order, so a merged ww+wr edge yields two steps.
func (c *Combined) ExplainEdge(from, to graph.NodeID, labels graph.LabelSet) []Explanation {
	out := make([]Explanation, 0, len(labels))
	for _, label := range labels.Sorted() {
		found := false
		for _, src := range c.sources {
			if ex, ok := src.Explain(from, to, label); ok {
				out = append(out, ex)
				found = true
				break
			}
		}
		if !found {
			out = append(out, Explanation{Label: label, Detail: fmt.Sprintf("%s edge (no further detail recorded)", label)})
		}
	}
	return out
}
