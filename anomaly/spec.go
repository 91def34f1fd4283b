package anomaly

import "github.com/hciniramy/elle/graph"

// WithKind is a closed enum of the stateful search predicates the
// interpreter knows how to run — keeping the anomaly catalogue pure data
// rather than an open-ended set of callbacks (spec.md §9 "Spec interpreter
// as data").
type WithKind string

const (
	WithNone          WithKind = ""
	WithNonadjacentRW WithKind = "nonadjacent-rw"
)

// FilterExKind is a closed enum of the "reject mis-typed matches"
// predicates the interpreter applies to a classified cycle before
// accepting it.
type FilterExKind string

const (
	FilterExNone         FilterExKind = ""
	FilterExStrictG2Item FilterExKind = "strict-g2-item"
)

// BaseSpec is one entry of the declarative anomaly catalogue (spec.md
// §4.6). CoreRels is used when the primitive is plain find_cycle;
// FirstRels/RestRels when it is find_cycle_starting_with; With selects
// find_cycle_with. Exactly one of {CoreRels, With, FirstRels+RestRels}
// drives primitive selection (spec.md §4.6 step 2): "with" wins, then
// "rels", else "first-rels"/"rest-rels".
type BaseSpec struct {
	Name      Tag
	CoreRels  []graph.Label
	FirstRels []graph.Label
	RestRels  []graph.Label
	With      WithKind
	FilterEx  FilterExKind
}

// Catalogue is the priority-ordered anomaly specification table (spec.md
// §4.6): G0, G1c, G-single, G-nonadjacent, G2-item. The interpreter runs
// this same catalogue across three relationship tiers (core, +process,
// +realtime); the resulting -process/-realtime suffix comes from C7's
// classifier looking at which edges the found cycle actually used, not
// from a separate catalogue entry.
var Catalogue = []BaseSpec{
	{
		Name:     TagG0,
		CoreRels: []graph.Label{graph.WW},
	},
	{
		Name:     TagG1c,
		CoreRels: []graph.Label{graph.WW, graph.WR},
	},
	{
		Name:      TagGSingle,
		FirstRels: []graph.Label{graph.RW},
		RestRels:  []graph.Label{graph.WW, graph.WR, graph.RW},
	},
	{
		Name:     TagGNonadjacent,
		CoreRels: []graph.Label{graph.WW, graph.WR, graph.RW},
		With:     WithNonadjacentRW,
	},
	{
		Name:     TagG2Item,
		CoreRels: []graph.Label{graph.WW, graph.WR, graph.RW},
		FilterEx: FilterExStrictG2Item,
	},
}

// BaseTag strips any -process/-realtime suffix, for comparing a
// classified tag against a spec's declared Name.
func BaseTag(t Tag) Tag {
	for _, s := range []Suffix{SuffixRealtime, SuffixProcess} {
		if suffixed := string(t); len(suffixed) > len(s) && suffixed[len(suffixed)-len(s):] == string(s) {
			return Tag(suffixed[:len(suffixed)-len(s)])
		}
	}
	return t
}
