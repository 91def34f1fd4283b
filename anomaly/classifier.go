package anomaly

import (
	"fmt"

	"github.com/hciniramy/elle/explain"
	"github.com/hciniramy/elle/graph"
)

// Classify implements the cycle explainer (C7, spec.md §4.7): it computes
// label-type frequencies over the cycle using only the edges present in
// it, and derives the base anomaly type plus its -process/-realtime
// suffix.
func Classify(c graph.Cycle) (Tag, error) {
	n := len(c.Edges)
	if n == 0 {
		return "", fmt.Errorf("anomaly: cannot classify an empty cycle")
	}

	var ww, wr, rw int
	var hasRealtime, hasProcess, rwAdjacent bool

	for i, e := range c.Edges {
		if e.Labels.Contains(graph.WW) {
			ww++
		}
		if e.Labels.Contains(graph.WR) {
			wr++
		}
		if e.Labels.Contains(graph.RW) {
			rw++
			if c.Edges[(i+1)%n].Labels.Contains(graph.RW) {
				rwAdjacent = true
			}
		}
		if e.Labels.Contains(graph.Realtime) {
			hasRealtime = true
		}
		if e.Labels.Contains(graph.Process) {
			hasProcess = true
		}
	}

	var base Tag
	switch {
	case rw == 1:
		base = TagGSingle
	case rw > 1:
		if rwAdjacent {
			base = TagG2Item
		} else {
			base = TagGNonadjacent
		}
	case wr > 0:
		base = TagG1c
	case ww > 0:
		base = TagG0
	default:
		return "", fmt.Errorf("anomaly: cycle has no ww/wr/rw edges, only %v", c.Edges[0].Labels.Sorted())
	}

	suffix := SuffixNone
	switch {
	case hasRealtime:
		suffix = SuffixRealtime
	case hasProcess:
		suffix = SuffixProcess
	}

	return base.WithSuffix(suffix), nil
}

// Explain attaches a pair-explainer justification to each edge of a
// classified cycle (spec.md §4.10, §6).
func Explain(typ Tag, c graph.Cycle, g *graph.Labeled, explainer *explain.Combined) CycleExplanation {
	steps := make([]CycleStep, 0, len(c.Edges))
	for _, e := range c.Edges {
		fromOp, _ := g.Op(e.From)
		toOp, _ := g.Op(e.To)
		for _, ex := range explainer.ExplainEdge(e.From, e.To, e.Labels) {
			steps = append(steps, CycleStep{
				From:   fromOp,
				To:     toOp,
				Label:  ex.Label,
				Key:    ex.Key,
				Detail: ex.Detail,
			})
		}
	}
	return CycleExplanation{Type: typ, Steps: steps}
}
