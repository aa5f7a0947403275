package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/yangwenmai/labnotebook/internal/model"
)

// ---------------------------------------------------------------------------
// Artifacts
// ---------------------------------------------------------------------------

const artifactColumns = `id, entry_id, type, hash, size_bytes, path, thumbnail_path, archived, archive_strategy, original_size_bytes, metadata, created_at`

// linkedArtifactColumns reads an artifact through an entry_artifacts link,
// reporting the linked entry and the metadata it attached.
const linkedArtifactColumns = `a.id, ea.entry_id, a.type, a.hash, a.size_bytes, a.path, a.thumbnail_path, a.archived, a.archive_strategy, a.original_size_bytes, ea.metadata, ea.created_at`

// InsertArtifact records an artifact and links it to a.EntryID. Hashes are
// unique: when a record for the same hash already exists it is kept, a link
// from a.EntryID to it is added, and the returned artifact is that record as
// seen from a.EntryID.
func (s *Store) InsertArtifact(ctx context.Context, a model.Artifact) (model.Artifact, error) {
	meta, err := encode(a.Metadata)
	if err != nil {
		return a, err
	}
	if a.ArchiveStrategy == "" {
		a.ArchiveStrategy = model.ArchiveNone
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return a, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO artifacts (`+artifactColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING`,
		a.ID, a.EntryID, a.Type, a.Hash, a.Size, a.Path, a.ThumbnailPath,
		a.Archived, a.ArchiveStrategy, a.OriginalSizeBytes, meta, a.CreatedAt,
	); err != nil {
		return a, fmt.Errorf("insert artifact: %w", err)
	}
	stored, err := scanArtifact(tx.QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE hash = ?`, a.Hash))
	if err != nil {
		return a, fmt.Errorf("load artifact: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO entry_artifacts (entry_id, artifact_id, metadata, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entry_id, artifact_id) DO NOTHING`,
		a.EntryID, stored.ID, meta, a.CreatedAt,
	); err != nil {
		return a, fmt.Errorf("link artifact: %w", err)
	}
	linked, err := scanArtifact(tx.QueryRowContext(ctx,
		`SELECT `+linkedArtifactColumns+` FROM entry_artifacts ea JOIN artifacts a ON a.id = ea.artifact_id
		WHERE ea.entry_id = ? AND ea.artifact_id = ?`, a.EntryID, stored.ID))
	if err != nil {
		return a, fmt.Errorf("load artifact link: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return *linked, nil
}

// GetArtifact returns an artifact by id. EntryID is the owning entry.
func (s *Store) GetArtifact(ctx context.Context, id string) (*model.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, id)
	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("artifact", id)
	}
	return a, err
}

// GetArtifactByHash returns the artifact recorded for a content reference.
func (s *Store) GetArtifactByHash(ctx context.Context, hash string) (*model.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE hash = ?`, hash)
	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("artifact", hash)
	}
	return a, err
}

// ListArtifacts returns the artifacts linked to an entry in the order they
// were added, whether or not the entry owns the shared record.
func (s *Store) ListArtifacts(ctx context.Context, entryID string) ([]model.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+linkedArtifactColumns+` FROM entry_artifacts ea JOIN artifacts a ON a.id = ea.artifact_id
		WHERE ea.entry_id = ? ORDER BY ea.created_at ASC, ea.rowid ASC`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	artifacts := []model.Artifact{}
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, *a)
	}
	return artifacts, rows.Err()
}

// HashReferenced reports whether any entry still links to an artifact with
// the given hash.
func (s *Store) HashReferenced(ctx context.Context, hash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entry_artifacts ea JOIN artifacts a ON a.id = ea.artifact_id
		WHERE a.hash = ?`, hash).Scan(&n)
	return n > 0, err
}

func scanArtifact(row scanner) (*model.Artifact, error) {
	var a model.Artifact
	var meta string
	err := row.Scan(&a.ID, &a.EntryID, &a.Type, &a.Hash, &a.Size, &a.Path, &a.ThumbnailPath,
		&a.Archived, &a.ArchiveStrategy, &a.OriginalSizeBytes, &meta, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeInto(&a.Metadata, meta, "metadata"); err != nil {
		return nil, err
	}
	return &a, nil
}
