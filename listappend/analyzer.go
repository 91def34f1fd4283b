// Package listappend implements the list-append edge-inference analyzer
// (spec.md §4.2.1): reconstructing each key's append-only version order from
// the prefixes that reads observe, and deriving ww/wr/rw edges from it.
package listappend

import (
	"context"
	"fmt"
	"sort"

	"github.com/hciniramy/elle/anomaly"
	"github.com/hciniramy/elle/explain"
	"github.com/hciniramy/elle/graph"
	"github.com/hciniramy/elle/history"
	"github.com/hciniramy/elle/internal/fold"
)

// Result is everything the list-append analyzer contributes to an analysis.
type Result struct {
	Graph     *graph.Labeled
	Explainer *explain.PerKeyExplainer
	Findings  []anomaly.Finding
}

// Analyze builds ww/wr/rw edges for every key touched by an append or a
// list-valued read, processing keys in parallel (spec.md §5 "the history is
// scanned by a fold framework that splits into chunks ... per-key edge
// tables").
func Analyze(ctx context.Context, h *history.History, workers int) (Result, error) {
	byKey := collectByKey(h)
	keys := make([]history.Key, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j]) })

	acc, err := fold.Parallel(ctx, keys, workers, keyAcc{explanations: make(map[explainEdgeKey]string)},
		func(k history.Key) keyAcc {
			r := analyzeKey(k, byKey[k])
			return keyAcc{graphs: []*graph.Labeled{r.graph}, findings: r.findings, explanations: r.explanations}
		},
		mergeKeyAcc,
	)
	if err != nil {
		return Result{}, err
	}

	out := Result{Graph: graph.Union(acc.graphs...), Explainer: explain.NewPerKeyExplainer(), Findings: acc.findings}
	for edge, detail := range acc.explanations {
		out.Explainer.Add(edge.from, edge.to, edge.key, edge.label, detail)
	}
	return out, nil
}

// keyAcc is the partial fold result fold.Parallel threads through
// per-key analysis and merge.
type keyAcc struct {
	graphs       []*graph.Labeled
	findings     []anomaly.Finding
	explanations map[explainEdgeKey]string
}

func mergeKeyAcc(a, b keyAcc) keyAcc {
	out := keyAcc{
		graphs:       append(append([]*graph.Labeled{}, a.graphs...), b.graphs...),
		findings:     append(append([]anomaly.Finding{}, a.findings...), b.findings...),
		explanations: make(map[explainEdgeKey]string, len(a.explanations)+len(b.explanations)),
	}
	for k, v := range a.explanations {
		out.explanations[k] = v
	}
	for k, v := range b.explanations {
		out.explanations[k] = v
	}
	return out
}

// keyData is every append and read touching one key, gathered from the
// whole history before per-key analysis begins.
type keyData struct {
	appends []appendEvent // in history order; maps each element to its appending op, never used as the version order itself
	reads   []readEvent
}

type appendEvent struct {
	Op   history.Op
	Elem any
}

type readEvent struct {
	Op   history.Op
	List []any
}

func collectByKey(h *history.History) map[history.Key]*keyData {
	byKey := make(map[history.Key]*keyData)
	get := func(k history.Key) *keyData {
		d, ok := byKey[k]
		if !ok {
			d = &keyData{}
			byKey[k] = d
		}
		return d
	}

	// First pass: collect ok appends directly. info appends are folded in
	// only if some ok read (at any index) witnesses their element (spec.md §9 open
	// question, resolved in SPEC_FULL.md §3).
	witnessed := make(map[history.Key]map[any]bool)
	for _, op := range h.Oks() {
		for _, m := range op.Value {
			if m.Kind != history.MopAppend {
				continue
			}
			get(m.Key).appends = append(get(m.Key).appends, appendEvent{Op: op, Elem: m.Value})
		}
		for _, m := range op.Value {
			if m.Kind != history.MopRead {
				continue
			}
			list, ok := m.Value.([]any)
			if !ok || list == nil {
				continue
			}
			get(m.Key).reads = append(get(m.Key).reads, readEvent{Op: op, List: list})
			if witnessed[m.Key] == nil {
				witnessed[m.Key] = make(map[any]bool)
			}
			for _, e := range list {
				witnessed[m.Key][e] = true
			}
		}
	}
	for _, op := range h.Infos() {
		for _, m := range op.Value {
			if m.Kind != history.MopAppend {
				continue
			}
			if witnessed[m.Key] != nil && witnessed[m.Key][m.Value] {
				get(m.Key).appends = append(get(m.Key).appends, appendEvent{Op: op, Elem: m.Value})
			}
		}
	}

	return byKey
}

type explainEdgeKey struct {
	from, to graph.NodeID
	label    graph.Label
	key      history.Key
}

type keyResult struct {
	graph        *graph.Labeled
	findings     []anomaly.Finding
	explanations map[explainEdgeKey]string
}

// analyzeKey runs rules 1-5 of spec.md §4.2.1 for a single key.
func analyzeKey(k history.Key, data *keyData) keyResult {
	res := keyResult{graph: graph.New(), explanations: make(map[explainEdgeKey]string)}

	elemOp := make(map[any]history.Op, len(data.appends))
	for _, a := range data.appends {
		elemOp[a.Elem] = a.Op
	}

	// Rule 1: combine every read's asserted total order (e1 < e2 < ... <
	// em) into one directed element graph, via adjacent-pair constraints.
	succ := make(map[any]map[any]bool)
	addEdge := func(a, b any) {
		if succ[a] == nil {
			succ[a] = make(map[any]bool)
		}
		succ[a][b] = true
	}
	for _, r := range data.reads {
		for i := 0; i+1 < len(r.List); i++ {
			addEdge(r.List[i], r.List[i+1])
		}
	}

	if cycle := findElementCycle(succ); cycle {
		res.findings = append(res.findings, anomaly.Finding{
			Tag:    anomaly.TagIncompatibleOrder,
			Fields: map[string]any{"key": k},
		})
		return res // skip k entirely: no ww/wr/rw edges once the order is contradictory
	}

	// Rule 2: ww edges for every directly-determined consecutive pair
	// (the transitive reduction of the combined constraint graph).
	reduced := reduceElementGraph(succ)
	for a, bs := range reduced {
		opA, ok := elemOp[a]
		if !ok {
			continue
		}
		for b := range bs {
			opB, ok := elemOp[b]
			if !ok {
				continue
			}
			res.graph.AddEdge(opA, opB, graph.WW)
			res.explanations[explainEdgeKey{opA.Index, opB.Index, graph.WW, k}] =
				fmt.Sprintf("key %v: appended %v immediately before %v", k, a, b)
		}
	}

	// Rule 3 (wr) and Rule 4 (rw).
	for _, r := range data.reads {
		if len(r.List) == 0 {
			continue // empty read: no wr edge on k (spec.md §4.2.1 rule 3)
		}
		last := r.List[len(r.List)-1]
		writer, ok := elemOp[last]
		if !ok {
			// Rule 5: the read's final element doesn't correspond to any
			// successful append.
			res.findings = append(res.findings, anomaly.Finding{
				Tag:    anomaly.TagDirtyRead,
				Fields: map[string]any{"key": k, "value": last, "op": r.Op},
			})
			continue
		}
		if writer.Index != r.Op.Index {
			// A transaction reading its own immediately-prior append isn't a
			// cross-transaction wr dependency.
			res.graph.AddEdge(writer, r.Op, graph.WR)
			res.explanations[explainEdgeKey{writer.Index, r.Op.Index, graph.WR, k}] =
				fmt.Sprintf("key %v: read observed the list ending in %v, appended by this op", k, last)
		}

		for succElem := range reduced[last] {
			succOp, ok := elemOp[succElem]
			if !ok || succOp.Index == r.Op.Index {
				continue
			}
			res.graph.AddEdge(r.Op, succOp, graph.RW)
			res.explanations[explainEdgeKey{r.Op.Index, succOp.Index, graph.RW, k}] =
				fmt.Sprintf("key %v: read stopped at %v, but %v was appended later in the version order", k, last, succElem)
		}

		if inconsistency := checkInternalConsistency(k, r); inconsistency {
			res.findings = append(res.findings, anomaly.Finding{
				Tag:    anomaly.TagInternalInconsistency,
				Fields: map[string]any{"key": k, "op": r.Op},
			})
		}
	}

	return res
}

// checkInternalConsistency implements rule 5's second clause: a
// transaction's own read of k must include, as a suffix, every element the
// same transaction already appended to k earlier in its own mop sequence.
func checkInternalConsistency(k history.Key, r readEvent) bool {
	var ownAppends []any
	for _, m := range r.Op.Value {
		if m.Kind == history.MopAppend && m.Key == k {
			ownAppends = append(ownAppends, m.Value)
		}
		if m.Kind == history.MopRead && m.Key == k && sameRead(m, r) {
			break
		}
	}
	if len(ownAppends) == 0 {
		return false
	}
	if len(ownAppends) > len(r.List) {
		return true
	}
	suffix := r.List[len(r.List)-len(ownAppends):]
	for i, e := range ownAppends {
		if suffix[i] != e {
			return true
		}
	}
	return false
}

func sameRead(m history.Mop, r readEvent) bool {
	list, ok := m.Value.([]any)
	if !ok {
		return false
	}
	if len(list) != len(r.List) {
		return false
	}
	for i := range list {
		if list[i] != r.List[i] {
			return false
		}
	}
	return true
}

// findElementCycle reports whether the combined per-key constraint graph
// contains a cycle (a contradiction between two reads' asserted orders).
func findElementCycle(succ map[any]map[any]bool) bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[any]int)
	var visit func(n any) bool
	visit = func(n any) bool {
		color[n] = gray
		for next := range succ[n] {
			switch color[next] {
			case gray:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[n] = black
		return false
	}
	for n := range succ {
		if color[n] == white {
			if visit(n) {
				return true
			}
		}
	}
	return false
}

// reduceElementGraph computes the transitive reduction of the (acyclic,
// already-checked) constraint graph, so each node's reduced successors are
// its immediate version-order successors.
func reduceElementGraph(succ map[any]map[any]bool) map[any]map[any]bool {
	reach := make(map[any]map[any]bool, len(succ))
	var reachable func(n any) map[any]bool
	reachable = func(n any) map[any]bool {
		if r, ok := reach[n]; ok {
			return r
		}
		r := make(map[any]bool)
		reach[n] = r // guard against revisiting mid-computation on shared nodes
		for next := range succ[n] {
			r[next] = true
			for t := range reachable(next) {
				r[t] = true
			}
		}
		return r
	}
	for n := range succ {
		reachable(n)
	}

	reduced := make(map[any]map[any]bool, len(succ))
	for n, directs := range succ {
		keep := make(map[any]bool)
		for d := range directs {
			implied := false
			for other := range directs {
				if other == d {
					continue
				}
				if reach[other][d] {
					implied = true
					break
				}
			}
			if !implied {
				keep[d] = true
			}
		}
		reduced[n] = keep
	}
	return reduced
}
