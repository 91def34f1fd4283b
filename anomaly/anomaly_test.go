package anomaly_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hciniramy/elle/anomaly"
	"github.com/hciniramy/elle/explain"
	"github.com/hciniramy/elle/graph"
	"github.com/hciniramy/elle/history"
)

func op(index int) history.Op {
	return history.Op{Index: index, Process: "p0", Type: history.OK, F: "txn"}
}

func TestClassify_G0(t *testing.T) {
	t1, t2 := op(0), op(1)
	cycle := graph.Cycle{Edges: []graph.Edge{
		{From: t1.Index, To: t2.Index, Labels: graph.NewLabelSet(graph.WW)},
		{From: t2.Index, To: t1.Index, Labels: graph.NewLabelSet(graph.WW)},
	}}
	tag, err := anomaly.Classify(cycle)
	require.NoError(t, err)
	require.Equal(t, anomaly.TagG0, tag)
}

func TestClassify_GSingleVsG2Item(t *testing.T) {
	single := graph.Cycle{Edges: []graph.Edge{
		{From: 0, To: 1, Labels: graph.NewLabelSet(graph.RW)},
		{From: 1, To: 0, Labels: graph.NewLabelSet(graph.WW)},
	}}
	tag, err := anomaly.Classify(single)
	require.NoError(t, err)
	require.Equal(t, anomaly.TagGSingle, tag)

	adjacent := graph.Cycle{Edges: []graph.Edge{
		{From: 0, To: 1, Labels: graph.NewLabelSet(graph.RW)},
		{From: 1, To: 0, Labels: graph.NewLabelSet(graph.RW)},
	}}
	tag, err = anomaly.Classify(adjacent)
	require.NoError(t, err)
	require.Equal(t, anomaly.TagG2Item, tag)
}

func TestClassify_GNonadjacent(t *testing.T) {
	// rw -> ww -> rw -> ww: two rw edges, neither adjacent to the other.
	cycle := graph.Cycle{Edges: []graph.Edge{
		{From: 0, To: 1, Labels: graph.NewLabelSet(graph.RW)},
		{From: 1, To: 2, Labels: graph.NewLabelSet(graph.WW)},
		{From: 2, To: 3, Labels: graph.NewLabelSet(graph.RW)},
		{From: 3, To: 0, Labels: graph.NewLabelSet(graph.WW)},
	}}
	tag, err := anomaly.Classify(cycle)
	require.NoError(t, err)
	require.Equal(t, anomaly.TagGNonadjacent, tag)
}

func TestClassify_SuffixPriority(t *testing.T) {
	cycle := graph.Cycle{Edges: []graph.Edge{
		{From: 0, To: 1, Labels: graph.NewLabelSet(graph.WW, graph.Process)},
		{From: 1, To: 0, Labels: graph.NewLabelSet(graph.WW, graph.Realtime)},
	}}
	tag, err := anomaly.Classify(cycle)
	require.NoError(t, err)
	require.Equal(t, anomaly.Tag("G0-realtime"), tag)
}

func TestClassify_EmptyCycleErrors(t *testing.T) {
	_, err := anomaly.Classify(graph.Cycle{})
	require.Error(t, err)
}

func buildG0Graph() *graph.Labeled {
	g := graph.New()
	t0, t1 := op(0), op(1)
	g.AddEdge(t0, t1, graph.WW)
	g.AddEdge(t1, t0, graph.WW)
	return g
}

func TestSearchSCC_FindsG0(t *testing.T) {
	g := buildG0Graph()
	sccs := graph.StronglyConnectedComponents(g)
	require.Len(t, sccs, 1)

	cache := graph.NewProjectionCache(g)
	explainer := explain.Combine()
	findings := anomaly.SearchSCC(context.Background(), g, cache, sccs[0], explainer, anomaly.Options{
		PerSCCTimeout: time.Second,
	})

	require.NotEmpty(t, findings)
	require.Equal(t, anomaly.TagG0, findings[0].Tag)
	require.NotNil(t, findings[0].Cycle)
}

func TestSearchSCC_TimeoutProducesFallback(t *testing.T) {
	g := buildG0Graph()
	sccs := graph.StronglyConnectedComponents(g)
	cache := graph.NewProjectionCache(g)
	explainer := explain.Combine()

	findings := anomaly.SearchSCC(context.Background(), g, cache, sccs[0], explainer, anomaly.Options{
		PerSCCTimeout: 0, // expires immediately
	})

	require.NotEmpty(t, findings)
	require.Equal(t, anomaly.TagCycleSearchTimeout, findings[0].Tag)
	require.Len(t, findings, 2)
	require.NotNil(t, findings[1].Cycle)
}

func TestAnomaliesProhibitedBy_Serializable(t *testing.T) {
	tags := anomaly.AnomaliesProhibitedBy(anomaly.ModelSerializable)
	require.Contains(t, tags, anomaly.TagG0)
	require.Contains(t, tags, anomaly.TagGSingle)
	require.Contains(t, tags, anomaly.TagG2Item)
}

func TestAnomaliesProhibitedBy_StrictSerializableIncludesRealtime(t *testing.T) {
	tags := anomaly.AnomaliesProhibitedBy(anomaly.ModelStrictSerializable)
	require.Contains(t, tags, anomaly.TagG0.WithSuffix(anomaly.SuffixRealtime))
}

func TestModelsRuledOutBy(t *testing.T) {
	candidates := []anomaly.Model{anomaly.ModelReadCommitted, anomaly.ModelSerializable, anomaly.ModelStrictSerializable}
	ruledOut := anomaly.ModelsRuledOutBy(anomaly.TagG0, candidates)
	require.Contains(t, ruledOut, anomaly.ModelSerializable)
	require.Contains(t, ruledOut, anomaly.ModelStrictSerializable)
	require.NotContains(t, ruledOut, anomaly.ModelReadCommitted)
}

func TestBaseTag_StripsSuffix(t *testing.T) {
	require.Equal(t, anomaly.TagG0, anomaly.BaseTag(anomaly.TagG0.WithSuffix(anomaly.SuffixRealtime)))
	require.Equal(t, anomaly.TagGSingle, anomaly.BaseTag(anomaly.TagGSingle.WithSuffix(anomaly.SuffixProcess)))
}
