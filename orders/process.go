// Package orders builds the two order graphs the unified multigraph can
// include alongside the analyzer-inferred ww/wr/rw edges: the per-process
// completion order and the real-time (wall-clock) order (spec.md §4.3).
package orders

import (
	"sort"

	"github.com/hciniramy/elle/graph"
	"github.com/hciniramy/elle/history"
)

// BuildProcessGraph totally orders each process's ok/info completions by
// index and links consecutive ones with a process edge (spec.md §4.3).
func BuildProcessGraph(h *history.History) *graph.Labeled {
	byProcess := make(map[string][]history.Op)
	for _, op := range h.Oks() {
		byProcess[op.Process] = append(byProcess[op.Process], op)
	}
	for _, op := range h.Infos() {
		byProcess[op.Process] = append(byProcess[op.Process], op)
	}

	g := graph.New()
	for _, ops := range byProcess {
		sort.Slice(ops, func(i, j int) bool { return ops[i].Index < ops[j].Index })
		for i := 0; i+1 < len(ops); i++ {
			g.AddEdge(ops[i], ops[i+1], graph.Process)
		}
	}
	return g
}
