// Package rwregister implements the read-write register edge-inference
// analyzer (spec.md §4.2.2): unlike list-append, register values are opaque
// and often non-unique, so version order can only be partially recovered
// from wr observations and each transaction's own read-then-write
// sequencing on a key.
package rwregister

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

// Result is everything the register analyzer contributes to an analysis.
type Result struct {
	Graph     *graph.Labeled
	Explainer *explain.PerKeyExplainer
	Findings  []anomaly.Finding
}

// Analyze builds ww/wr/rw edges for every key touched by a scalar
// read/write, processing keys in parallel.
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

type writeEvent struct {
	Op    history.Op
	Value any
	Seq   int // position of this mop within Op.Value
}

type readEvent struct {
	Op    history.Op
	Value any
	Seq   int
}

type keyData struct {
	writes []writeEvent
	reads  []readEvent
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
	for _, op := range h.Oks() {
		for seq, m := range op.Value {
			switch m.Kind {
			case history.MopWrite:
				get(m.Key).writes = append(get(m.Key).writes, writeEvent{Op: op, Value: m.Value, Seq: seq})
			case history.MopRead:
				if _, isList := m.Value.([]any); isList {
					continue // list-append reads belong to the listappend analyzer
				}
				get(m.Key).reads = append(get(m.Key).reads, readEvent{Op: op, Value: m.Value, Seq: seq})
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

// analyzeKey implements spec.md §4.2.2's three rules for a single key.
func analyzeKey(k history.Key, data *keyData) keyResult {
	res := keyResult{graph: graph.New(), explanations: make(map[explainEdgeKey]string)}

	writersOf := make(map[any][]history.Op)
	for _, w := range data.writes {
		writersOf[w.Value] = append(writersOf[w.Value], w.Op)
	}
	for v, ops := range writersOf {
		sort.Slice(ops, func(i, j int) bool { return ops[i].Index < ops[j].Index })
		writersOf[v] = ops
	}

	// Rule 1: wr edges, linking the *most recent* write of v that precedes
	// the read (spec.md §4.2.2 rule 1). Op.Index is this model's total
	// commit order, so among writes of v preceding the read the max-index
	// one is always an unambiguous choice — there is no remaining case for
	// AmbiguousVersionOrder once candidates are restricted this way. A
	// write of v with no predecessor at all (every candidate commits after
	// the read, or v was never written) is a DirtyRead, never a backward
	// wr edge.
	writerOfRead := make(map[int]history.Op, len(data.reads)) // read op index -> resolved writer
	for _, r := range data.reads {
		var writer history.Op
		found := false
		for _, w := range writersOf[r.Value] {
			if w.Index < r.Op.Index {
				writer, found = w, true // writersOf[v] is sorted ascending; keep advancing to the most recent
			}
		}
		if !found {
			res.findings = append(res.findings, anomaly.Finding{
				Tag:    anomaly.TagDirtyRead,
				Fields: map[string]any{"key": k, "value": r.Value, "op": r.Op},
			})
			continue
		}
		writerOfRead[r.Op.Index] = writer
		res.graph.AddEdge(writer, r.Op, graph.WR)
		res.explanations[explainEdgeKey{writer.Index, r.Op.Index, graph.WR, k}] =
			fmt.Sprintf("key %v: read observed value %v, written by this op", k, r.Value)
	}

	// Rule 2: ww edges, conservatively — only where a single transaction's
	// own sequencing on k proves an order (it read v1 then wrote v2, so
	// v1's writer must precede this op). Everything else stays undetermined
	// rather than guessed (spec.md §4.2.2 rule 2 "conservative").
	ww := make(map[int]map[int]bool) // writer op index -> directly-ordered-before writer op indices
	addWW := func(before, after history.Op) {
		if before.Index == after.Index {
			return
		}
		if ww[before.Index] == nil {
			ww[before.Index] = make(map[int]bool)
		}
		ww[before.Index][after.Index] = true
	}
	for _, op := range sameOpOwnSequence(data) {
		if writer, ok := writerOfRead[op.readIndex]; ok {
			addWW(writer, op.writer)
			res.graph.AddEdge(writer, op.writer, graph.WW)
			res.explanations[explainEdgeKey{writer.Index, op.writer.Index, graph.WW, k}] =
				fmt.Sprintf("key %v: transaction read the value written by this op, then itself wrote a new value", k)
		}
	}

	// Rule 3: rw edges, using only the ww edges rule 2 actually established.
	for _, r := range data.reads {
		writer, ok := writerOfRead[r.Op.Index]
		if !ok {
			continue
		}
		for succIdx := range ww[writer.Index] {
			if succIdx == r.Op.Index {
				continue // the successor write is this same transaction's own write, not an anti-dependency
			}
			succOp := findOpByIndex(data.writes, succIdx)
			res.graph.AddEdge(r.Op, succOp, graph.RW)
			res.explanations[explainEdgeKey{r.Op.Index, succOp.Index, graph.RW, k}] =
				fmt.Sprintf("key %v: read a version superseded by a later write", k)
		}
	}

	return res
}

type ownSequence struct {
	readIndex int // the reading op's own index
	writer    history.Op
}

// sameOpOwnSequence finds every (read, write) pair within the same
// transaction on the same key where the read happened strictly before the
// write in that transaction's own mop order.
func sameOpOwnSequence(data *keyData) []ownSequence {
	writesByOp := make(map[int][]writeEvent)
	for _, w := range data.writes {
		writesByOp[w.Op.Index] = append(writesByOp[w.Op.Index], w)
	}

	var out []ownSequence
	for _, r := range data.reads {
		for _, w := range writesByOp[r.Op.Index] {
			if w.Seq > r.Seq {
				out = append(out, ownSequence{readIndex: r.Op.Index, writer: w.Op})
			}
		}
	}
	return out
}

func findOpByIndex(writes []writeEvent, index int) history.Op {
	for _, w := range writes {
		if w.Op.Index == index {
			return w.Op
		}
	}
	return history.Op{}
}
