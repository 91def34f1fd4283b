package checker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hciniramy/elle/anomaly"
	"github.com/hciniramy/elle/checker"
	"github.com/hciniramy/elle/history"
)

func txn(index int, process string, typ history.OpType, mops ...history.Mop) history.Op {
	return history.Op{Index: index, Process: process, Type: typ, F: "txn", Value: mops}
}

// S1 — G0 over list-append: no cycle, valid under serializable.
func TestAnalyze_S1_ListAppendNoCycle(t *testing.T) {
	t1 := txn(0, "p0", history.OK, history.Append("x", 1))
	t2 := txn(1, "p1", history.OK, history.Append("x", 2), history.Read("x", []any{1, 2}))
	t3 := txn(2, "p2", history.OK, history.Read("x", []any{1, 2}))

	h, err := history.New([]history.Op{t1, t2, t3})
	require.NoError(t, err)

	res, err := checker.Analyze(context.Background(), h, checker.Options{})
	require.NoError(t, err)
	require.Equal(t, checker.Valid, res.Verdict)
}

// S2 — a key whose reads assert contradictory version orders must surface
// as IncompatibleOrder for that key, never as a classified G1c cycle
// (spec.md §8 "Under conflicting evidence the analyzer emits
// IncompatibleOrder for key x and no G1c").
func TestAnalyze_S2_IncompatibleOrderNotG1c(t *testing.T) {
	t1 := txn(0, "p0", history.OK, history.Append("x", 1))
	t2 := txn(1, "p1", history.OK, history.Append("x", 2), history.Read("x", []any{1, 2}))
	// t3 appends a third element and reads an order that puts 2 first, then
	// it, then 1 — contradicting t2's 1-before-2 reading and closing a cycle
	// in x's combined element-order constraint graph (1<2 from t2, 2<3<1
	// from t3).
	t3 := txn(2, "p2", history.OK, history.Append("x", 3), history.Read("x", []any{2, 3, 1}))

	h, err := history.New([]history.Op{t1, t2, t3})
	require.NoError(t, err)

	res, err := checker.Analyze(context.Background(), h, checker.Options{})
	require.NoError(t, err)
	require.Contains(t, res.AnomalyTypes, anomaly.TagIncompatibleOrder)
	require.NotContains(t, res.AnomalyTypes, anomaly.TagG1c)
}

// S3 — read skew across two rw-register keys: T2 reads x's stale version
// (missing T1's overwrite, a rw anti-dependency) and reads y's version
// written by T1 (a wr dependency), closing a 2-cycle with exactly one rw
// edge — a G-single, the anomaly snapshot-isolation (and nothing weaker)
// prohibits. This is the only scenario exercising a non-default
// ConsistencyModels option.
func TestAnalyze_S3_ReadSkewUnderSnapshotIsolation(t *testing.T) {
	t0 := txn(0, "p0", history.OK, history.Write("x", 0))
	t1 := txn(1, "p1", history.OK, history.Read("x", 0), history.Write("x", 1), history.Write("y", 1))
	t2 := txn(2, "p2", history.OK, history.Read("x", 0), history.Read("y", 1))

	h, err := history.New([]history.Op{t0, t1, t2})
	require.NoError(t, err)

	res, err := checker.Analyze(context.Background(), h, checker.Options{
		ConsistencyModels: []anomaly.Model{anomaly.ModelSnapshotIsolation},
	})
	require.NoError(t, err)
	require.Equal(t, checker.Invalid, res.Verdict)
	require.Contains(t, res.AnomalyTypes, anomaly.TagGSingle)
}

// S4 — lost update over an rw-register: T1 and T2 both read x=0 then write x.
func TestAnalyze_S4_LostUpdate(t *testing.T) {
	t0 := txn(0, "p0", history.OK, history.Write("x", 0))
	t1 := txn(1, "p1", history.OK, history.Read("x", 0), history.Write("x", 1))
	t2 := txn(2, "p2", history.OK, history.Read("x", 0), history.Write("x", 2))

	h, err := history.New([]history.Op{t0, t1, t2})
	require.NoError(t, err)

	res, err := checker.Analyze(context.Background(), h, checker.Options{})
	require.NoError(t, err)
	require.Equal(t, checker.Invalid, res.Verdict)
	require.Contains(t, res.AnomalyTypes, anomaly.TagLostUpdate)
}

// S5 — aborted read: T1 fails a write of (x,7), T2 reads it anyway.
func TestAnalyze_S5_AbortedRead(t *testing.T) {
	failed := txn(0, "p0", history.Fail, history.Write("x", 7))
	reader := txn(1, "p1", history.OK, history.Read("x", 7))

	h, err := history.New([]history.Op{failed, reader})
	require.NoError(t, err)

	res, err := checker.Analyze(context.Background(), h, checker.Options{})
	require.NoError(t, err)
	require.Equal(t, checker.Invalid, res.Verdict)
	require.Contains(t, res.AnomalyTypes, anomaly.TagAbortedRead)
}

// S6 — real-time violation: T1 completes before T2 invokes, yet the
// inferred version order runs T2 -ww-> T1 (a later reader T3 observes x as
// [2, 1], so T2's append precedes T1's) -- a G0-realtime cycle.
func TestAnalyze_S6_RealtimeViolation(t *testing.T) {
	t1Invoke := history.Op{Index: 0, Process: "p1", Type: history.Invoke, Time: 0}
	t1OK := history.Op{Index: 1, Process: "p1", Type: history.OK, F: "txn", Time: 5 * time.Millisecond,
		Value: []history.Mop{history.Append("x", 1)}}

	t2Invoke := history.Op{Index: 2, Process: "p2", Type: history.Invoke, Time: 10 * time.Millisecond}
	t2OK := history.Op{Index: 3, Process: "p2", Type: history.OK, F: "txn", Time: 20 * time.Millisecond,
		Value: []history.Mop{history.Append("x", 2)}}

	t3Invoke := history.Op{Index: 4, Process: "p3", Type: history.Invoke, Time: 30 * time.Millisecond}
	t3OK := history.Op{Index: 5, Process: "p3", Type: history.OK, F: "txn", Time: 40 * time.Millisecond,
		Value: []history.Mop{history.Read("x", []any{2, 1})}}

	h, err := history.New([]history.Op{t1Invoke, t1OK, t2Invoke, t2OK, t3Invoke, t3OK})
	require.NoError(t, err)

	res, err := checker.Analyze(context.Background(), h, checker.Options{})
	require.NoError(t, err)
	require.Equal(t, checker.Invalid, res.Verdict)

	foundRealtimeG0 := false
	for _, tag := range res.AnomalyTypes {
		if tag == "G0-realtime" {
			foundRealtimeG0 = true
		}
	}
	require.True(t, foundRealtimeG0)
}
