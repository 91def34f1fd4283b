// Package checker implements the result aggregator (C9) and exposes
// Analyze, the module's single public entry point: it wires the history
// core (C1), the list-append and rw-register analyzers (C2), the
// process/real-time order builders (C3), the unified graph and projection
// cache (C4), SCC decomposition (C5), the anomaly interpreter and
// classifier (C6/C7), the non-cycle detectors (C8), and the pair explainer
// (C10) into one verdict.
package checker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/hciniramy/elle/anomaly"
	"github.com/hciniramy/elle/detect"
	"github.com/hciniramy/elle/explain"
	"github.com/hciniramy/elle/graph"
	"github.com/hciniramy/elle/history"
	"github.com/hciniramy/elle/listappend"
	"github.com/hciniramy/elle/orders"
	"github.com/hciniramy/elle/rwregister"
)

// Verdict is the analysis' three-valued outcome (spec.md §6).
type Verdict string

const (
	Valid   Verdict = "true"
	Invalid Verdict = "false"
	Unknown Verdict = "unknown"
)

// AdditionalGraph lets an external caller contribute extra edges to the
// unified graph before SCC decomposition (spec.md §6 "additional_graphs",
// resolved in SPEC_FULL.md §3).
type AdditionalGraph func(h *history.History) (*graph.Labeled, error)

// Options configures one run of Analyze (spec.md §6 "Options").
type Options struct {
	ConsistencyModels  []anomaly.Model
	Anomalies          []anomaly.Tag
	CycleSearchTimeout time.Duration
	AdditionalGraphs   []AdditionalGraph
	Logger             hclog.Logger
	MaxSearchWorkers   int
}

func (o Options) withDefaults() Options {
	if o.CycleSearchTimeout <= 0 {
		o.CycleSearchTimeout = time.Second
	}
	if o.MaxSearchWorkers < 1 {
		o.MaxSearchWorkers = 4
	}
	if o.Logger == nil {
		o.Logger = hclog.NewNullLogger()
	}
	if len(o.ConsistencyModels) == 0 {
		o.ConsistencyModels = []anomaly.Model{anomaly.ModelStrictSerializable}
	}
	return o
}

// Result is the outcome of one analysis (spec.md §6 "Analysis result").
type Result struct {
	Verdict          Verdict
	AnomalyTypes     []anomaly.Tag
	Anomalies        map[anomaly.Tag][]anomaly.Finding
	ImpossibleModels []anomaly.Model
}

// ErrAnalysisAborted is returned, never mixed into Result.Anomalies, when
// the context is cancelled mid-analysis (spec.md §7 "Operational
// failures").
var ErrAnalysisAborted = errors.New("checker: analysis aborted")

// Analyze runs the full pipeline over h and returns the aggregated
// verdict. Input precondition failures propagate as errors (never a
// partial Result); anomalies are always returned via Result.
func Analyze(ctx context.Context, h *history.History, opts Options) (Result, error) {
	opts = opts.withDefaults()
	log := opts.Logger

	prohibited := prohibitedAnomalies(opts)
	reportable := reportableSet(prohibited)
	tiers := requiredTiers(reportable)

	log.Debug("checker: starting analysis", "prohibited", len(prohibited), "tiers", len(tiers))

	laRes, err := listappend.Analyze(ctx, h, opts.MaxSearchWorkers)
	if err != nil {
		return Result{}, wrapAborted(ctx, err)
	}
	rwRes, err := rwregister.Analyze(ctx, h, opts.MaxSearchWorkers)
	if err != nil {
		return Result{}, wrapAborted(ctx, err)
	}

	graphs := []*graph.Labeled{laRes.Graph, rwRes.Graph}

	if tiers.process || tiers.realtime {
		procGraph := orders.BuildProcessGraph(h)
		graphs = append(graphs, procGraph)
	}
	if tiers.realtime {
		rtGraph, err := orders.BuildRealtimeGraph(ctx, h, opts.MaxSearchWorkers)
		if err != nil {
			return Result{}, err // malformed interleaving is a precondition failure, not an anomaly
		}
		graphs = append(graphs, rtGraph)
	}

	var merr *multierror.Error
	for _, ag := range opts.AdditionalGraphs {
		g, err := ag(h)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		graphs = append(graphs, g)
	}
	if merr.ErrorOrNil() != nil {
		return Result{}, merr
	}

	unified := graph.Union(graphs...)

	detectRes, err := detect.Detect(ctx, h)
	if err != nil {
		return Result{}, wrapAborted(ctx, err)
	}

	combinedExplainer := explain.Combine(laRes.Explainer, rwRes.Explainer)

	var findings []anomaly.Finding
	findings = append(findings, laRes.Findings...)
	findings = append(findings, rwRes.Findings...)
	findings = append(findings, detectRes.Findings...)

	if !hasTransactionalOps(h) {
		findings = append(findings, anomaly.Finding{Tag: anomaly.TagEmptyTransactionGraph})
	}

	sccs := graph.StronglyConnectedComponents(unified)

	cache := graph.NewProjectionCache(unified)
	tierList := tiers.list()
	if err := cache.PreWarm(ctx, anomaly.RelSetsForTiers(tierList)); err != nil {
		return Result{}, wrapAborted(ctx, err)
	}

	searchOpts := anomaly.Options{
		Tiers:         tierList,
		PerSCCTimeout: opts.CycleSearchTimeout,
		Logger:        log,
	}
	cycleFindings := anomaly.Search(ctx, unified, cache, sccs, combinedExplainer, searchOpts)
	findings = append(findings, cycleFindings...)

	select {
	case <-ctx.Done():
		return Result{}, fmt.Errorf("%w: %v", ErrAnalysisAborted, context.Cause(ctx))
	default:
	}

	return aggregate(findings, prohibited, reportable, opts.ConsistencyModels), nil
}

func wrapAborted(ctx context.Context, err error) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrAnalysisAborted, err)
	default:
		return err
	}
}

func hasTransactionalOps(h *history.History) bool {
	return len(h.Oks()) > 0
}

// prohibitedAnomalies implements C9 step 1.
func prohibitedAnomalies(opts Options) map[anomaly.Tag]bool {
	out := make(map[anomaly.Tag]bool)
	for _, t := range opts.Anomalies {
		out[t] = true
	}
	for _, m := range opts.ConsistencyModels {
		for _, t := range anomaly.AnomaliesProhibitedBy(m) {
			out[t] = true
		}
	}
	return out
}

// reportableSet implements C9 step 2. The four "Analysis anomalies
// (unknown class)" tags (spec.md §6) are unconditionally reportable
// regardless of which consistency models or anomaly tags were requested —
// they describe the analysis itself, not a workload-specific violation.
func reportableSet(prohibited map[anomaly.Tag]bool) map[anomaly.Tag]bool {
	out := make(map[anomaly.Tag]bool, len(prohibited)+4)
	for t := range prohibited {
		out[t] = true
	}
	out[anomaly.TagEmptyTransactionGraph] = true
	out[anomaly.TagCycleSearchTimeout] = true
	out[anomaly.TagIncompatibleOrder] = true
	out[anomaly.TagAmbiguousVersionOrder] = true
	return out
}

type requiredTierSet struct {
	process  bool
	realtime bool
}

func (r requiredTierSet) list() []anomaly.Tier {
	tiers := []anomaly.Tier{anomaly.TierCore}
	if r.process {
		tiers = append(tiers, anomaly.TierProcess)
	}
	if r.realtime {
		tiers = append(tiers, anomaly.TierRealtime)
	}
	return tiers
}

// requiredTiers implements C9 step 3.
func requiredTiers(reportable map[anomaly.Tag]bool) requiredTierSet {
	var r requiredTierSet
	for t := range reportable {
		if hasSuffix(t, anomaly.SuffixRealtime) {
			r.realtime = true
		}
		if hasSuffix(t, anomaly.SuffixProcess) {
			r.process = true
		}
	}
	if r.realtime {
		r.process = true // realtime implies process (spec.md §4.9 step 3)
	}
	return r
}

func hasSuffix(t anomaly.Tag, s anomaly.Suffix) bool {
	ts, ss := string(t), string(s)
	return len(ts) > len(ss) && ts[len(ts)-len(ss):] == ss
}

// aggregate implements C9 steps 4-5.
func aggregate(findings []anomaly.Finding, prohibited, reportable map[anomaly.Tag]bool, models []anomaly.Model) Result {
	grouped := make(map[anomaly.Tag][]anomaly.Finding)
	anyProhibited := false
	onlyUnknown := true

	for _, f := range findings {
		if !reportable[f.Tag] {
			continue
		}
		grouped[f.Tag] = append(grouped[f.Tag], f)
		if prohibited[f.Tag] {
			anyProhibited = true
			onlyUnknown = false
		} else if f.Tag != anomaly.TagCycleSearchTimeout && f.Tag != anomaly.TagEmptyTransactionGraph &&
			f.Tag != anomaly.TagIncompatibleOrder && f.Tag != anomaly.TagAmbiguousVersionOrder {
			onlyUnknown = false
		}
	}

	verdict := Valid
	if len(grouped) > 0 {
		if anyProhibited {
			verdict = Invalid
		} else if onlyUnknown {
			verdict = Unknown
		}
	}

	types := make([]anomaly.Tag, 0, len(grouped))
	for t := range grouped {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	var impossible []anomaly.Model
	for _, m := range models {
		for t := range grouped {
			if anomaly.ModelsRuledOutBy(t, []anomaly.Model{m}) != nil {
				impossible = append(impossible, m)
				break
			}
		}
	}
	sort.Slice(impossible, func(i, j int) bool { return impossible[i] < impossible[j] })

	return Result{
		Verdict:          verdict,
		AnomalyTypes:     types,
		Anomalies:        grouped,
		ImpossibleModels: impossible,
	}
}
