package store

import (
	"context"
	"fmt"

	"github.com/yangwenmai/labnotebook/internal/model"
)

// ---------------------------------------------------------------------------
// Lineage edges
// ---------------------------------------------------------------------------

// AddEdge inserts a lineage edge. At most one edge exists per (parent, child)
// pair; inserting a second one is a no-op and reports false.
func (s *Store) AddEdge(ctx context.Context, edge model.LineageEdge) (bool, error) {
	return insertEdge(ctx, s.db, edge)
}

func insertEdge(ctx context.Context, db execer, edge model.LineageEdge) (bool, error) {
	if !model.ValidRelationship(edge.RelationshipType) {
		return false, model.InvalidInput("relationship type %q", edge.RelationshipType)
	}
	if edge.CreatedAt == "" {
		edge.CreatedAt = model.Now()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO entry_lineage (parent_id, child_id, relationship_type, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(parent_id, child_id) DO NOTHING`,
		edge.ParentID, edge.ChildID, edge.RelationshipType, edge.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert edge: %w", err)
	}
	return affected(res, nil)
}

// EdgesByChild returns every edge whose child is in childIDs, ordered by
// creation.
func (s *Store) EdgesByChild(ctx context.Context, childIDs []string) ([]model.LineageEdge, error) {
	return s.queryEdges(ctx, "child_id", childIDs)
}

// EdgesByParent returns every edge whose parent is in parentIDs, ordered by
// creation.
func (s *Store) EdgesByParent(ctx context.Context, parentIDs []string) ([]model.LineageEdge, error) {
	return s.queryEdges(ctx, "parent_id", parentIDs)
}

func (s *Store) queryEdges(ctx context.Context, column string, ids []string) ([]model.LineageEdge, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT parent_id, child_id, relationship_type, created_at
		FROM entry_lineage WHERE `+column+` IN (`+placeholders(len(ids))+`)
		ORDER BY created_at ASC, rowid ASC`,
		stringArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var edges []model.LineageEdge
	for rows.Next() {
		var e model.LineageEdge
		if err := rows.Scan(&e.ParentID, &e.ChildID, &e.RelationshipType, &e.CreatedAt); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
