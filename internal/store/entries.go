package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/yangwenmai/labnotebook/internal/model"
)

// ---------------------------------------------------------------------------
// Entries
// ---------------------------------------------------------------------------

const entryColumns = `e.id, e.page_id, e.entry_type, e.title, e.status, e.parent_id, e.inputs, e.outputs, e.execution, e.metrics, e.metadata, e.created_at, e.updated_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreateEntry inserts an entry with its tags. When the entry has a parent, a
// derives_from edge from the parent is inserted in the same transaction.
func (s *Store) CreateEntry(ctx context.Context, e model.Entry) error {
	cols, err := entryJSON(e)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO entries (id, page_id, entry_type, title, status, parent_id, inputs, outputs, execution, metrics, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PageID, e.EntryType, e.Title, e.Status, e.ParentID,
		cols.inputs, cols.outputs, cols.execution, cols.metrics, cols.metadata,
		e.CreatedAt, e.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	if err := replaceTags(ctx, tx, e.ID, e.Tags); err != nil {
		return err
	}
	if e.ParentID != nil {
		if _, err := insertEdge(ctx, tx, model.LineageEdge{
			ParentID:         *e.ParentID,
			ChildID:          e.ID,
			RelationshipType: model.RelDerivesFrom,
			CreatedAt:        e.CreatedAt,
		}); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetEntry returns an entry with its tags, or a not-found error.
func (s *Store) GetEntry(ctx context.Context, id string) (*model.Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries e WHERE e.id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("entry", id)
	}
	if err != nil {
		return nil, err
	}
	tags, err := s.loadTags(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	e.Tags = nonNil(tags[id])
	return e, nil
}

// GetEntries resolves a set of ids in one query. Missing ids are absent from
// the result.
func (s *Store) GetEntries(ctx context.Context, ids []string) (map[string]model.Entry, error) {
	out := make(map[string]model.Entry, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	list, err := s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM entries e WHERE e.id IN (`+placeholders(len(ids))+`)`,
		stringArgs(ids)...)
	if err != nil {
		return nil, err
	}
	for _, e := range list {
		out[e.ID] = e
	}
	return out, nil
}

// ListEntries returns the entries of a page in creation order.
func (s *Store) ListEntries(ctx context.Context, pageID string) ([]model.Entry, error) {
	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM entries e WHERE e.page_id = ? ORDER BY e.created_at ASC, e.rowid ASC`, pageID)
}

// SearchEntries returns entries matching every set filter field, newest first.
func (s *Store) SearchEntries(ctx context.Context, f model.EntryFilter) ([]model.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries e JOIN pages p ON p.id = e.page_id`
	var conditions []string
	var args []any

	if f.NotebookID != "" {
		conditions = append(conditions, "p.notebook_id = ?")
		args = append(args, f.NotebookID)
	}
	if f.PageID != "" {
		conditions = append(conditions, "e.page_id = ?")
		args = append(args, f.PageID)
	}
	if f.EntryType != "" {
		conditions = append(conditions, "e.entry_type = ?")
		args = append(args, f.EntryType)
	}
	if f.Status != "" {
		conditions = append(conditions, "e.status = ?")
		args = append(args, f.Status)
	}
	if f.Since != "" {
		conditions = append(conditions, "e.created_at >= ?")
		args = append(args, f.Since)
	}
	if f.Until != "" {
		conditions = append(conditions, "e.created_at <= ?")
		args = append(args, f.Until)
	}
	if f.Query != "" {
		conditions = append(conditions, "e.title LIKE ?")
		args = append(args, "%"+f.Query+"%")
	}
	if tags := model.NormalizeTags(f.Tags); len(tags) > 0 {
		conditions = append(conditions, `e.id IN (
			SELECT entry_id FROM entry_tags WHERE tag IN (`+placeholders(len(tags))+`)
			GROUP BY entry_id HAVING COUNT(DISTINCT tag) = ?)`)
		args = append(args, stringArgs(tags)...)
		args = append(args, len(tags))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY e.created_at DESC, e.rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return s.queryEntries(ctx, query, args...)
}

// UpdateEntry persists every mutable field of e, including parent_id and
// tags. Inputs are persisted too so callers can rewrite them explicitly.
func (s *Store) UpdateEntry(ctx context.Context, e model.Entry) error {
	cols, err := entryJSON(e)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE entries SET title = ?, status = ?, parent_id = ?, inputs = ?, outputs = ?, execution = ?,
			metrics = ?, metadata = ?, updated_at = ?
		WHERE id = ?`,
		e.Title, e.Status, e.ParentID, cols.inputs, cols.outputs, cols.execution,
		cols.metrics, cols.metadata, e.UpdatedAt, e.ID,
	)
	if err := requireRow(res, err, "entry", e.ID); err != nil {
		return err
	}
	if err := replaceTags(ctx, tx, e.ID, e.Tags); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordExecution persists the execution-owned fields of e: status,
// outputs, execution, metrics and updated_at. Title, tags, metadata, inputs
// and parent_id are left as stored so edits made while an entry runs survive.
func (s *Store) RecordExecution(ctx context.Context, e model.Entry) error {
	cols, err := entryJSON(e)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE entries SET status = ?, outputs = ?, execution = ?, metrics = ?, updated_at = ?
		WHERE id = ?`,
		e.Status, cols.outputs, cols.execution, cols.metrics, e.UpdatedAt, e.ID,
	)
	return requireRow(res, err, "entry", e.ID)
}

// DeleteEntry removes an entry. Tags, lineage edges, artifact links and
// queued executions cascade; children keep existing with parent_id cleared.
// Artifact records the entry owns pass to another linked entry when one
// exists and are removed otherwise.
func (s *Store) DeleteEntry(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id)
	return affected(res, err)
}

// queryEntries runs query, then loads tags for the result in one more query.
func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]model.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var entries []model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(entries) == 0 {
		return entries, nil
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	tags, err := s.loadTags(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Tags = nonNil(tags[entries[i].ID])
	}
	return entries, nil
}

func (s *Store) loadTags(ctx context.Context, ids []string) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, tag FROM entry_tags WHERE entry_id IN (`+placeholders(len(ids))+`) ORDER BY entry_id, tag`,
		stringArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]string)
	for rows.Next() {
		var id, tag string
		if err := rows.Scan(&id, &tag); err != nil {
			return nil, err
		}
		out[id] = append(out[id], tag)
	}
	return out, rows.Err()
}

func replaceTags(ctx context.Context, tx execer, entryID string, tags []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM entry_tags WHERE entry_id = ?`, entryID); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	for _, tag := range model.NormalizeTags(tags) {
		if _, err := tx.ExecContext(ctx, `INSERT INTO entry_tags (entry_id, tag) VALUES (?, ?)`, entryID, tag); err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
	}
	return nil
}

type entryCols struct {
	inputs, outputs, metrics, metadata string
	execution                          *string
}

func entryJSON(e model.Entry) (entryCols, error) {
	var c entryCols
	var err error
	if c.inputs, err = encode(e.Inputs); err != nil {
		return c, err
	}
	if c.outputs, err = encode(e.Outputs); err != nil {
		return c, err
	}
	if c.metrics, err = encode(e.Metrics); err != nil {
		return c, err
	}
	if c.metadata, err = encode(e.Metadata); err != nil {
		return c, err
	}
	if e.Execution != nil {
		b, err := json.Marshal(e.Execution)
		if err != nil {
			return c, fmt.Errorf("encode execution: %w", err)
		}
		s := string(b)
		c.execution = &s
	}
	return c, nil
}

func scanEntry(row scanner) (*model.Entry, error) {
	var e model.Entry
	var inputs, outputs, metrics, metadata string
	var execution sql.NullString
	err := row.Scan(&e.ID, &e.PageID, &e.EntryType, &e.Title, &e.Status, &e.ParentID,
		&inputs, &outputs, &execution, &metrics, &metadata, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeInto(&e.Inputs, inputs, "inputs"); err != nil {
		return nil, err
	}
	if err := decodeInto(&e.Outputs, outputs, "outputs"); err != nil {
		return nil, err
	}
	if err := decodeInto(&e.Metrics, metrics, "metrics"); err != nil {
		return nil, err
	}
	if err := decodeInto(&e.Metadata, metadata, "metadata"); err != nil {
		return nil, err
	}
	if execution.Valid && execution.String != "" {
		var x model.Execution
		if err := json.Unmarshal([]byte(execution.String), &x); err != nil {
			return nil, fmt.Errorf("execution: %w", err)
		}
		e.Execution = &x
	}
	e.Tags = []string{}
	return &e, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
