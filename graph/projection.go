package graph

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ProjectionCache memoizes project(G, R) for a fixed base graph G, keyed by
// R's canonical label-set form, with compute-if-absent/single-flight
// semantics: concurrent requests for the same R block on one computation
// rather than duplicating it (spec.md §4.4, §5 "Shared resource policy").
type ProjectionCache struct {
	base *Labeled

	mu    sync.Mutex
	done  map[string]*Labeled
	inFly map[string]chan struct{}
}

// NewProjectionCache wraps base in a memoizing projector. base must not be
// mutated after this call — the graph is frozen before search (spec.md §3
// "Lifecycle").
func NewProjectionCache(base *Labeled) *ProjectionCache {
	return &ProjectionCache{
		base:  base,
		done:  make(map[string]*Labeled),
		inFly: make(map[string]chan struct{}),
	}
}

// Project returns the view of the base graph containing only edges whose
// label set intersects rels, computing it at most once per distinct rels
// (spec.md §4.4). Idempotent: Project(Project(rels)) == Project(rels),
// because the underlying computation only ever reads g.base.
func (c *ProjectionCache) Project(rels LabelSet) *Labeled {
	key := rels.Key()

	c.mu.Lock()
	if g, ok := c.done[key]; ok {
		c.mu.Unlock()
		return g
	}
	if wait, ok := c.inFly[key]; ok {
		c.mu.Unlock()
		<-wait
		c.mu.Lock()
		g := c.done[key]
		c.mu.Unlock()
		return g
	}
	wait := make(chan struct{})
	c.inFly[key] = wait
	c.mu.Unlock()

	g := projectOnce(c.base, rels)

	c.mu.Lock()
	c.done[key] = g
	delete(c.inFly, key)
	c.mu.Unlock()
	close(wait)

	return g
}

func projectOnce(base *Labeled, rels LabelSet) *Labeled {
	out := New()
	for _, n := range base.Nodes() {
		out.AddNode(base.nodes[n])
	}
	for _, from := range base.Nodes() {
		for _, to := range base.OutNeighbors(from) {
			labels, _ := base.EdgeLabels(from, to)
			if labels.Intersects(rels) {
				out.AddEdge(base.nodes[from], base.nodes[to], labels.Sorted()...)
			}
		}
	}
	return out
}

// PreWarm computes every distinct label set in relSets in parallel before
// cycle search begins, so SCC search never spends timeout budget building
// graph views on demand (spec.md §4.4, §9 "Memoized graph projections").
func (c *ProjectionCache) PreWarm(ctx context.Context, relSets []LabelSet) error {
	seen := make(map[string]struct{}, len(relSets))
	g, _ := errgroup.WithContext(ctx)
	for _, rels := range relSets {
		key := rels.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		rels := rels
		g.Go(func() error {
			c.Project(rels)
			return nil
		})
	}
	return g.Wait()
}
