package anomaly

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/hciniramy/elle/explain"
	"github.com/hciniramy/elle/graph"
)

// cycleSignature renders an already-canonicalized cycle's edge sequence as
// a comparable string, so the same cycle found via two different specs
// (e.g. a search run "for G-single" that actually resolves to G2-item, and
// the later G2-item search proper) is only reported once.
func cycleSignature(c graph.Cycle) string {
	var b strings.Builder
	for _, e := range c.Edges {
		fmt.Fprintf(&b, "%d>%d|", e.From, e.To)
	}
	return b.String()
}

// Tier is a relationship-set escalation step: the interpreter runs the
// whole catalogue at TierCore first, and only escalates to TierProcess or
// TierRealtime if the caller asked for process/realtime-suffixed anomalies
// (spec.md §4.6 "process-suffixed set ... realtime-suffixed set").
type Tier int

const (
	TierCore Tier = iota
	TierProcess
	TierRealtime
)

// Options configures one run of the interpreter over a graph's SCCs.
type Options struct {
	Tiers         []Tier
	PerSCCTimeout time.Duration
	Logger        hclog.Logger
}

// RelSetsForTiers returns every label set the catalogue could project at
// any of the given tiers, so a caller can pre-warm graph.ProjectionCache
// before search begins (spec.md §4.4 "pre-warms every label set it will
// need ... in parallel", avoiding spending timeout budget on graph
// materialization once SCC search starts).
func RelSetsForTiers(tiers []Tier) []graph.LabelSet {
	var out []graph.LabelSet
	for _, tier := range tiers {
		for _, spec := range Catalogue {
			if spec.CoreRels != nil {
				out = append(out, augmentedRels(spec.CoreRels, tier))
			}
			if spec.FirstRels != nil {
				out = append(out, augmentedRels(spec.FirstRels, tier))
			}
			if spec.RestRels != nil {
				out = append(out, augmentedRels(spec.RestRels, tier))
			}
		}
	}
	return out
}

func augmentedRels(rels []graph.Label, tier Tier) graph.LabelSet {
	ls := graph.NewLabelSet(rels...)
	if tier >= TierProcess {
		ls = ls.Union(graph.NewLabelSet(graph.Process))
	}
	if tier >= TierRealtime {
		ls = ls.Union(graph.NewLabelSet(graph.Process, graph.Realtime))
	}
	return ls
}

// nonadjacentRWState is the accumulator WithNonadjacentRW drives: how many
// rw edges the path has crossed, and whether the most recently added edge
// was one (to reject adjacent rw pairs as they're added, not just at the
// end).
type nonadjacentRWState struct {
	rwCount    int
	lastWasRW  bool
	firstWasRW bool
	sawAnyEdge bool
}

func nonadjacentRWInit(graph.NodeID) graph.PathState {
	return nonadjacentRWState{}
}

func nonadjacentRWStep(acc graph.PathState, path []graph.Edge, edge graph.Edge) (graph.PathState, bool) {
	s := acc.(nonadjacentRWState)
	isRW := edge.Labels.Contains(graph.RW)
	if isRW && s.lastWasRW {
		return nil, false // two rw edges back-to-back: not what G-nonadjacent looks for
	}
	if !s.sawAnyEdge {
		s.firstWasRW = isRW
		s.sawAnyEdge = true
	}
	if isRW {
		s.rwCount++
	}
	s.lastWasRW = isRW
	_ = path
	return s, true
}

func nonadjacentRWFilter(final graph.PathState) bool {
	s := final.(nonadjacentRWState)
	if s.rwCount < 2 {
		return false
	}
	if s.lastWasRW && s.firstWasRW {
		return false // the closing edge would make the first and last rw edges adjacent
	}
	return true
}

// runSpec dispatches one catalogue entry to the graph primitive its shape
// selects (spec.md §4.6 step 2): with wins, then rels, else
// first-rels/rest-rels.
func runSpec(ctx context.Context, cache *graph.ProjectionCache, scc graph.SCC, spec BaseSpec, tier Tier) (graph.Cycle, bool) {
	switch {
	case spec.With != WithNone:
		g := cache.Project(augmentedRels(spec.CoreRels, tier))
		switch spec.With {
		case WithNonadjacentRW:
			return graph.FindCycleWith(ctx, nonadjacentRWInit, nonadjacentRWStep, nonadjacentRWFilter, g, scc)
		}
		return graph.Cycle{}, false

	case spec.CoreRels != nil:
		g := cache.Project(augmentedRels(spec.CoreRels, tier))
		return graph.FindCycle(ctx, g, scc)

	default:
		gFirst := cache.Project(augmentedRels(spec.FirstRels, tier))
		gRest := cache.Project(augmentedRels(spec.RestRels, tier))
		return graph.FindCycleStartingWith(ctx, gFirst, gRest, scc)
	}
}

// SearchSCC runs the full priority-ordered, tiered catalogue against a
// single SCC, implementing the per-SCC search protocol of spec.md §4.6:
// specs are tried in priority order within a tier, tiers escalate from
// core to +process to +realtime, and a deadline exceeded mid-search yields
// a CycleSearchTimeout finding plus a guaranteed FallbackCycle explanation
// rather than silently reporting nothing.
func SearchSCC(ctx context.Context, g *graph.Labeled, cache *graph.ProjectionCache, scc graph.SCC, explainer *explain.Combined, opts Options) []Finding {
	deadline, cancel := context.WithTimeout(ctx, opts.PerSCCTimeout)
	defer cancel()

	log := opts.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}

	var findings []Finding
	var completed []Tag
	seen := make(map[string]bool) // canonicalized-cycle signature, to skip re-reporting the same cycle under a later spec

	tiers := opts.Tiers
	if len(tiers) == 0 {
		tiers = []Tier{TierCore}
	}

	for _, tier := range tiers {
		for i := 0; i < len(Catalogue); i++ {
			spec := Catalogue[i]
			select {
			case <-deadline.Done():
				log.Warn("cycle search timed out", "scc_size", len(scc.Nodes), "in_flight", spec.Name, "completed", completed)
				findings = append(findings, Finding{
					Tag: TagCycleSearchTimeout,
					Fields: map[string]any{
						"scc":       append([]int{}, scc.Nodes...),
						"in_flight": spec.Name,
						"completed": append([]Tag{}, completed...),
					},
				})
				if fb, ok := graph.FallbackCycle(g, scc); ok {
					if typ, err := Classify(fb); err == nil {
						ex := Explain(typ, fb, g, explainer)
						findings = append(findings, Finding{Tag: typ, Cycle: &ex})
					}
				}
				return findings
			default:
			}

			cycle, found := runSpec(deadline, cache, scc, spec, tier)
			if !found && deadline.Err() != nil {
				i-- // the primitive gave up at the deadline: revisit this spec so the timeout names it as in flight
				continue
			}
			completed = append(completed, spec.Name)
			if !found {
				continue
			}

			typ, err := Classify(cycle)
			if err != nil {
				continue
			}
			if spec.FilterEx == FilterExStrictG2Item && BaseTag(typ) != TagG2Item {
				continue
			}

			sig := cycleSignature(cycle)
			if seen[sig] {
				continue
			}
			seen[sig] = true

			ex := Explain(typ, cycle, g, explainer)
			findings = append(findings, Finding{Tag: typ, Cycle: &ex})
		}
	}

	return findings
}

// Search runs SearchSCC over every strongly connected component of g in
// parallel (spec.md §5 "SCC-level cycle searches are performed in
// parallel across SCCs"), returning every anomaly found across the whole
// graph. Each SCC's search gets its own fresh, independent per-SCC timeout
// budget (spec.md §4.6 "per-SCC wall clock timeout") — one SCC timing out
// never affects another's budget.
func Search(ctx context.Context, g *graph.Labeled, cache *graph.ProjectionCache, sccs []graph.SCC, explainer *explain.Combined, opts Options) []Finding {
	perSCC := make([][]Finding, len(sccs))
	eg, _ := errgroup.WithContext(ctx)
	for i, scc := range sccs {
		i, scc := i, scc
		eg.Go(func() error {
			perSCC[i] = SearchSCC(ctx, g, cache, scc, explainer, opts)
			return nil
		})
	}
	_ = eg.Wait() // SearchSCC never returns an error; each goroutine always succeeds

	var all []Finding
	for _, findings := range perSCC {
		all = append(all, findings...)
	}
	return all
}
