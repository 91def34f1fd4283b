// Package anomaly implements the declarative anomaly specification
// interpreter (C6), the cycle classifier (C7), and the shared anomaly-tag
// enumeration and consistency-model prohibition table (feeding C9).
package anomaly

import (
	"github.com/hciniramy/elle/graph"
	"github.com/hciniramy/elle/history"
)

// Tag is a symbolic anomaly or result-class name, preserved as a typed
// enumeration rather than a free-form string (spec.md §9 "Dynamic tagging").
type Tag string

const (
	// Cycle anomalies (C7), in search-priority order (spec.md §4.6).
	TagG0           Tag = "G0"
	TagG1c          Tag = "G1c"
	TagGSingle      Tag = "G-single"
	TagGNonadjacent Tag = "G-nonadjacent"
	TagG2Item       Tag = "G2-item"

	// History anomalies (non-cycle, C2/C8).
	TagAbortedRead           Tag = "AbortedRead"
	TagIntermediateRead      Tag = "IntermediateRead"
	TagDirtyRead             Tag = "DirtyRead"
	TagInternalInconsistency Tag = "InternalInconsistency"
	TagLostUpdate            Tag = "LostUpdate"

	// Analysis anomalies (unknown class, C6/C9).
	TagEmptyTransactionGraph Tag = "EmptyTransactionGraph"
	TagCycleSearchTimeout    Tag = "CycleSearchTimeout"
	TagIncompatibleOrder     Tag = "IncompatibleOrder"
	TagAmbiguousVersionOrder Tag = "AmbiguousVersionOrder"
)

// Suffix is appended to a base cycle tag when the cycle also carries a
// process or real-time edge (spec.md §4.7).
type Suffix string

const (
	SuffixNone     Suffix = ""
	SuffixProcess  Suffix = "-process"
	SuffixRealtime Suffix = "-realtime"
)

// WithSuffix renders a base tag with its classified suffix, e.g.
// "G0" + "-realtime" => "G0-realtime".
func (t Tag) WithSuffix(s Suffix) Tag {
	if s == SuffixNone {
		return t
	}
	return Tag(string(t) + string(s))
}

// CycleStep is one edge of a classified cycle, carrying the pair
// explainer's justification (spec.md §4.10, §6 "steps").
type CycleStep struct {
	From, To history.Op
	Label    graph.Label
	Key      history.Key
	Detail   string
}

// CycleExplanation is a fully classified cycle (spec.md §6): its final
// type, and the ordered, explained edges that make it up.
type CycleExplanation struct {
	Type  Tag
	Steps []CycleStep
}

// Finding is one reportable anomaly: a classified cycle, or a non-cycle
// anomaly carrying free-form structured fields (spec.md §6 "Non-cycle
// anomalies contain the structured fields named in C8").
type Finding struct {
	Tag    Tag
	Cycle  *CycleExplanation
	Fields map[string]any
}
