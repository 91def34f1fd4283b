package history_test

import (
	"testing"

	"github.com/hciniramy/elle/history"
	"github.com/stretchr/testify/require"
)

func txn(index int, process string, typ history.OpType, mops ...history.Mop) history.Op {
	return history.Op{Index: index, Process: process, Type: typ, F: "txn", Value: mops}
}

func TestNew_PairsInvocations(t *testing.T) {
	ops := []history.Op{
		txn(0, "p0", history.Invoke, history.Append(1, 1)),
		txn(1, "p0", history.OK, history.Append(1, 1)),
	}
	h, err := history.New(ops)
	require.NoError(t, err)

	ok := h.Oks()
	require.Len(t, ok, 1)

	inv, found := h.InvocationOf(ok[0])
	require.True(t, found)
	require.Equal(t, 0, inv.Index)
}

func TestNew_RejectsDoubleInvoke(t *testing.T) {
	ops := []history.Op{
		txn(0, "p0", history.Invoke, history.Write(1, 1)),
		txn(1, "p0", history.Invoke, history.Write(1, 2)),
	}
	_, err := history.New(ops)
	require.Error(t, err)

	var pe *history.PreconditionError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, history.MalformedOp, pe.Kind)
}

func TestNew_RejectsUnmatchedCompletion(t *testing.T) {
	ops := []history.Op{
		txn(0, "p0", history.OK, history.Write(1, 1)),
	}
	_, err := history.New(ops)
	require.Error(t, err)
}

func TestCheckTypeSanity_RejectsMixedKeyKinds(t *testing.T) {
	ops := []history.Op{
		txn(0, "p0", history.OK, history.Write(1, 1), history.Write("x", 2)),
	}
	err := history.CheckTypeSanity(ops)
	require.Error(t, err)

	var pe *history.PreconditionError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, history.HistoryTypeMismatch, pe.Kind)
}

func TestCheckTypeSanity_RejectsMixedIntWidths(t *testing.T) {
	ops := []history.Op{
		txn(0, "p0", history.OK, history.Write(1, int32(1)), history.Write(2, int64(2))),
	}
	err := history.CheckTypeSanity(ops)
	require.Error(t, err)
}

func TestCheckTypeSanity_AcceptsListAppendReads(t *testing.T) {
	ops := []history.Op{
		txn(0, "p0", history.OK, history.Append(1, 1), history.Read(1, []any{1})),
	}
	require.NoError(t, history.CheckTypeSanity(ops))
}

func TestOpMops_PreservesOrder(t *testing.T) {
	op := txn(0, "p0", history.OK, history.Write(1, 1), history.Read(2, 2))
	pairs := history.OpMops([]history.Op{op})
	require.Len(t, pairs, 2)
	require.Equal(t, history.MopWrite, pairs[0].Mop.Kind)
	require.Equal(t, history.MopRead, pairs[1].Mop.Kind)
}
