package listappend_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hciniramy/elle/graph"
	"github.com/hciniramy/elle/history"
	"github.com/hciniramy/elle/listappend"
)

func txn(index int, process string, mops ...history.Mop) history.Op {
	return history.Op{Index: index, Process: process, Type: history.OK, F: "txn", Value: mops}
}

func TestAnalyze_WwAndWrFromConsecutiveAppends(t *testing.T) {
	t1 := txn(0, "p0", history.Append("x", 1))
	t2 := txn(1, "p1", history.Append("x", 2))
	t3 := txn(2, "p2", history.Read("x", []any{1, 2}))
	h, err := history.New([]history.Op{t1, t2, t3})
	require.NoError(t, err)

	res, err := listappend.Analyze(context.Background(), h, 2)
	require.NoError(t, err)
	require.Empty(t, res.Findings)

	ww, ok := res.Graph.EdgeLabels(t1.Index, t2.Index)
	require.True(t, ok)
	require.True(t, ww.Contains(graph.WW))

	wr, ok := res.Graph.EdgeLabels(t2.Index, t3.Index)
	require.True(t, ok)
	require.True(t, wr.Contains(graph.WR))

	// rule 3 only wires wr from the writer of the read's *final* element,
	// never from every element the read observed.
	_, fromFirstAppender := res.Graph.EdgeLabels(t1.Index, t3.Index)
	require.False(t, fromFirstAppender)
}

func TestAnalyze_RwFromStalePrefixRead(t *testing.T) {
	t1 := txn(0, "p0", history.Append("x", 1))
	// t2's own read establishes the 1-before-2 version order.
	t2 := txn(1, "p1", history.Append("x", 2), history.Read("x", []any{1, 2}))
	// t3 observes only the prefix ending in 1, missing t2's later append.
	t3 := txn(2, "p2", history.Read("x", []any{1}))
	h, err := history.New([]history.Op{t1, t2, t3})
	require.NoError(t, err)

	res, err := listappend.Analyze(context.Background(), h, 2)
	require.NoError(t, err)
	require.Empty(t, res.Findings)

	rw, ok := res.Graph.EdgeLabels(t3.Index, t2.Index)
	require.True(t, ok)
	require.True(t, rw.Contains(graph.RW))
}

func TestAnalyze_IncompatibleOrderOnContradictoryReads(t *testing.T) {
	t1 := txn(0, "p0", history.Append("x", 1))
	t2 := txn(1, "p1", history.Append("x", 2), history.Read("x", []any{1, 2}))
	// t3 appends a third element and observes an order that places 2
	// first, then it, then 1 -- contradicting t2's 1-before-2 reading and
	// closing a cycle in x's combined element-order constraint graph.
	t3 := txn(2, "p2", history.Append("x", 3), history.Read("x", []any{2, 3, 1}))
	h, err := history.New([]history.Op{t1, t2, t3})
	require.NoError(t, err)

	res, err := listappend.Analyze(context.Background(), h, 2)
	require.NoError(t, err)

	found := false
	for _, f := range res.Findings {
		if f.Tag == "IncompatibleOrder" {
			found = true
		}
	}
	require.True(t, found)

	// key x is skipped entirely once its order is contradictory: no ww/wr/rw
	// edges at all for any op touching it.
	require.Empty(t, res.Graph.Nodes())
}

func TestAnalyze_DirtyReadOnUnknownFinalElement(t *testing.T) {
	// t1 reads a list ending in an element nothing ever appended.
	t1 := txn(0, "p0", history.Read("x", []any{99}))
	h, err := history.New([]history.Op{t1})
	require.NoError(t, err)

	res, err := listappend.Analyze(context.Background(), h, 1)
	require.NoError(t, err)

	found := false
	for _, f := range res.Findings {
		if f.Tag == "DirtyRead" {
			found = true
		}
	}
	require.True(t, found)
}

func TestAnalyze_InternalInconsistencyOnOwnPriorAppendMismatch(t *testing.T) {
	// t1 appends 1 to x, then reads back a list that doesn't carry its own
	// just-appended element as a suffix.
	t1 := txn(0, "p0", history.Append("x", 1), history.Read("x", []any{2}))
	t2 := txn(1, "p1", history.Append("x", 2))
	h, err := history.New([]history.Op{t1, t2})
	require.NoError(t, err)

	res, err := listappend.Analyze(context.Background(), h, 2)
	require.NoError(t, err)

	found := false
	for _, f := range res.Findings {
		if f.Tag == "InternalInconsistency" {
			found = true
		}
	}
	require.True(t, found)
}

func TestAnalyze_EmptyReadProducesNoWrEdge(t *testing.T) {
	t1 := txn(0, "p0", history.Append("x", 1))
	t2 := txn(1, "p1", history.Read("x", []any{}))
	h, err := history.New([]history.Op{t1, t2})
	require.NoError(t, err)

	res, err := listappend.Analyze(context.Background(), h, 2)
	require.NoError(t, err)
	require.Empty(t, res.Findings)

	_, ok := res.Graph.EdgeLabels(t1.Index, t2.Index)
	require.False(t, ok)
}

func TestAnalyze_OwnImmediatelyPriorAppendIsNotACrossTxnWrEdge(t *testing.T) {
	// t1 appends then, within the same transaction, reads back its own
	// write: this must not register as a self-loop wr edge.
	t1 := txn(0, "p0", history.Append("x", 1), history.Read("x", []any{1}))
	h, err := history.New([]history.Op{t1})
	require.NoError(t, err)

	res, err := listappend.Analyze(context.Background(), h, 1)
	require.NoError(t, err)
	require.Empty(t, res.Findings)

	_, ok := res.Graph.EdgeLabels(t1.Index, t1.Index)
	require.False(t, ok)
}
