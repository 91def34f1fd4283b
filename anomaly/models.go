package anomaly

// Model is a named consistency model (spec.md §4.9 "Consistency model
// table").
type Model string

const (
	ModelReadUncommitted    Model = "read-uncommitted"
	ModelReadCommitted      Model = "read-committed"
	ModelCursorStability    Model = "cursor-stability"
	ModelMonotonicAtomic    Model = "monotonic-atomic-view"
	ModelRepeatableRead     Model = "repeatable-read"
	ModelSnapshotIsolation  Model = "snapshot-isolation"
	ModelSerializable       Model = "serializable"
	ModelStrictSerializable Model = "strict-serializable"
)

// modelProhibits is the direct "what this model rules out" table (spec.md
// §4.9): each model forbids a base set of anomalies, plus everything
// forbidden by every model it implies/strengthens.
var modelProhibits = map[Model][]Tag{
	ModelReadUncommitted: {
		TagAbortedRead,
	},
	ModelReadCommitted: {
		TagIntermediateRead,
	},
	ModelCursorStability: {
		TagLostUpdate,
	},
	ModelMonotonicAtomic: {
		TagG0,
	},
	ModelRepeatableRead: {
		TagGSingle,
	},
	ModelSnapshotIsolation: {
		TagG1c,
		TagGSingle,
	},
	ModelSerializable: {
		TagG1c,
		TagGSingle,
		TagGNonadjacent,
		TagG2Item,
	},
	ModelStrictSerializable: {
		TagG1c,
		TagGSingle,
		TagGNonadjacent,
		TagG2Item,
		// the -realtime suffixed forms are checked separately: a
		// strict-serializable history also forbids any cycle that closes
		// only once real-time edges are added.
	},
}

// modelStrengthens records the direct "implies" edges of the hierarchy
// (spec.md §4.9): a history satisfying the key model also satisfies
// everything its value models satisfy.
var modelStrengthens = map[Model][]Model{
	ModelReadCommitted:      {ModelReadUncommitted},
	ModelCursorStability:    {ModelReadCommitted},
	ModelMonotonicAtomic:    {ModelReadCommitted},
	ModelRepeatableRead:     {ModelMonotonicAtomic, ModelCursorStability},
	ModelSnapshotIsolation:  {ModelMonotonicAtomic},
	ModelSerializable:       {ModelRepeatableRead, ModelSnapshotIsolation},
	ModelStrictSerializable: {ModelSerializable},
}

// AnomaliesProhibitedBy returns every anomaly tag m's consistency model
// rules out, transitively through the models it strengthens.
func AnomaliesProhibitedBy(m Model) []Tag {
	seen := make(map[Tag]bool)
	visitedModels := make(map[Model]bool)
	var visit func(mm Model)
	visit = func(mm Model) {
		if visitedModels[mm] {
			return
		}
		visitedModels[mm] = true
		for _, t := range modelProhibits[mm] {
			seen[t] = true
		}
		for _, stronger := range modelStrengthens[mm] {
			visit(stronger)
		}
	}
	visit(m)

	if m == ModelStrictSerializable {
		seen[TagG0.WithSuffix(SuffixRealtime)] = true
		seen[TagG1c.WithSuffix(SuffixRealtime)] = true
		seen[TagGSingle.WithSuffix(SuffixRealtime)] = true
		seen[TagGNonadjacent.WithSuffix(SuffixRealtime)] = true
		seen[TagG2Item.WithSuffix(SuffixRealtime)] = true
	}

	out := make([]Tag, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	return out
}

// AllAnomaliesImplying returns the anomaly tags listed directly for m in
// modelProhibits, without walking the strengthens hierarchy (so a tag that
// m forbids only through a weaker model is not included).
func AllAnomaliesImplying(m Model) []Tag {
	return append([]Tag{}, modelProhibits[m]...)
}

// ModelsRuledOutBy returns every requested model that anomaly t would
// invalidate, given the full candidate set. Used by the checker to compute
// C9's "impossible_models" (spec.md §6).
func ModelsRuledOutBy(t Tag, candidates []Model) []Model {
	var out []Model
	for _, m := range candidates {
		for _, p := range AnomaliesProhibitedBy(m) {
			if p == t {
				out = append(out, m)
				break
			}
		}
	}
	return out
}
