// Package lineage traverses the derivation graph between entries.
//
// Traversal is a level-synchronous breadth-first search bounded by a hop
// count: each level costs one edge query and one entry lookup regardless of
// frontier size. Both relationship types are followed. An entry reachable
// along several paths is reported once per path.
package lineage

import (
	"context"
	"fmt"

	"github.com/yangwenmai/labnotebook/internal/metrics"
	"github.com/yangwenmai/labnotebook/internal/model"
)

// Depth bounds accepted by Graph.
const (
	MinDepth     = 1
	MaxDepth     = 10
	DefaultDepth = 3
)

// EdgeSource answers one BFS level per call.
type EdgeSource interface {
	EdgesByChild(ctx context.Context, childIDs []string) ([]model.LineageEdge, error)
	EdgesByParent(ctx context.Context, parentIDs []string) ([]model.LineageEdge, error)
}

// EntrySource resolves entry ids in bulk.
type EntrySource interface {
	GetEntries(ctx context.Context, ids []string) (map[string]model.Entry, error)
}

// Direction selects which side of an edge the frontier moves to.
type Direction int

const (
	Up   Direction = iota // towards parents
	Down                  // towards children
)

func (d Direction) String() string {
	if d == Up {
		return "ancestors"
	}
	return "descendants"
}

// Graph traverses lineage edges.
type Graph struct {
	edges   EdgeSource
	entries EntrySource
	metrics *metrics.Metrics
}

// New creates a Graph. m may be nil.
func New(edges EdgeSource, entries EntrySource, m *metrics.Metrics) *Graph {
	return &Graph{edges: edges, entries: entries, metrics: m}
}

// ValidateDepth rejects depths outside [MinDepth, MaxDepth].
func ValidateDepth(depth int) error {
	if depth < MinDepth || depth > MaxDepth {
		return model.InvalidInput("depth %d outside %d..%d", depth, MinDepth, MaxDepth)
	}
	return nil
}

// Ancestors returns entries reachable from id by following edges towards
// parents, at most depth hops away, in BFS level order.
func (g *Graph) Ancestors(ctx context.Context, id string, depth int) ([]model.Entry, error) {
	return g.walk(ctx, id, depth, Up)
}

// Descendants returns entries reachable from id by following edges towards
// children, at most depth hops away, in BFS level order.
func (g *Graph) Descendants(ctx context.Context, id string, depth int) ([]model.Entry, error) {
	return g.walk(ctx, id, depth, Down)
}

func (g *Graph) walk(ctx context.Context, id string, depth int, dir Direction) ([]model.Entry, error) {
	if err := ValidateDepth(depth); err != nil {
		return nil, err
	}
	out := []model.Entry{}
	frontier := []string{id}
	levels := 0
	for level := 0; level < depth && len(frontier) > 0; level++ {
		next, err := g.step(ctx, frontier, dir)
		if err != nil {
			return nil, fmt.Errorf("%s level %d: %w", dir, level+1, err)
		}
		if len(next) == 0 {
			break
		}
		levels++

		found, err := g.entries.GetEntries(ctx, unique(next))
		if err != nil {
			return nil, fmt.Errorf("%s level %d: %w", dir, level+1, err)
		}
		for _, nid := range next {
			if e, ok := found[nid]; ok {
				out = append(out, e)
			}
		}
		frontier = next
	}
	g.metrics.LineageTraversed(levels)
	return out, nil
}

// step returns the ids one hop away from frontier, in edge order.
func (g *Graph) step(ctx context.Context, frontier []string, dir Direction) ([]string, error) {
	var (
		edges []model.LineageEdge
		err   error
	)
	if dir == Up {
		edges, err = g.edges.EdgesByChild(ctx, unique(frontier))
	} else {
		edges, err = g.edges.EdgesByParent(ctx, unique(frontier))
	}
	if err != nil {
		return nil, err
	}
	next := make([]string, 0, len(edges))
	for _, e := range edges {
		if dir == Up {
			next = append(next, e.ParentID)
		} else {
			next = append(next, e.ChildID)
		}
	}
	return next, nil
}

func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
