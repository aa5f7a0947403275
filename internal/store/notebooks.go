package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/yangwenmai/labnotebook/internal/model"
)

// ---------------------------------------------------------------------------
// Notebooks
// ---------------------------------------------------------------------------

const notebookColumns = `id, title, description, metadata, created_at, updated_at`

// CreateNotebook inserts a new notebook.
func (s *Store) CreateNotebook(ctx context.Context, nb model.Notebook) error {
	meta, err := encode(nb.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notebooks (`+notebookColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		nb.ID, nb.Title, nb.Description, meta, nb.CreatedAt, nb.UpdatedAt,
	)
	return err
}

// GetNotebook returns a notebook or a not-found error.
func (s *Store) GetNotebook(ctx context.Context, id string) (*model.Notebook, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+notebookColumns+` FROM notebooks WHERE id = ?`, id)
	nb, err := scanNotebook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("notebook", id)
	}
	return nb, err
}

// ListNotebooks returns all notebooks, oldest first.
func (s *Store) ListNotebooks(ctx context.Context) ([]model.Notebook, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+notebookColumns+` FROM notebooks ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Notebook
	for rows.Next() {
		nb, err := scanNotebook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *nb)
	}
	return out, rows.Err()
}

// UpdateNotebook persists title, description and metadata.
func (s *Store) UpdateNotebook(ctx context.Context, nb model.Notebook) error {
	meta, err := encode(nb.Metadata)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE notebooks SET title = ?, description = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		nb.Title, nb.Description, meta, nb.UpdatedAt, nb.ID,
	)
	return requireRow(res, err, "notebook", nb.ID)
}

// DeleteNotebook removes a notebook with its pages and entries.
func (s *Store) DeleteNotebook(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notebooks WHERE id = ?`, id)
	return affected(res, err)
}

func scanNotebook(row scanner) (*model.Notebook, error) {
	var nb model.Notebook
	var meta string
	if err := row.Scan(&nb.ID, &nb.Title, &nb.Description, &meta, &nb.CreatedAt, &nb.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeInto(&nb.Metadata, meta, "metadata"); err != nil {
		return nil, err
	}
	return &nb, nil
}

// ---------------------------------------------------------------------------
// Pages
// ---------------------------------------------------------------------------

const pageColumns = `id, notebook_id, title, description, narrative, created_at, updated_at`

// CreatePage inserts a new page.
func (s *Store) CreatePage(ctx context.Context, p model.Page) error {
	narrative, err := encode(p.Narrative)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pages (`+pageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.NotebookID, p.Title, p.Description, narrative, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

// GetPage returns a page or a not-found error.
func (s *Store) GetPage(ctx context.Context, id string) (*model.Page, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE id = ?`, id)
	p, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("page", id)
	}
	return p, err
}

// ListPages returns the pages of a notebook, oldest first.
func (s *Store) ListPages(ctx context.Context, notebookID string) ([]model.Page, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE notebook_id = ? ORDER BY created_at ASC, rowid ASC`, notebookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpdatePage persists title, description and narrative.
func (s *Store) UpdatePage(ctx context.Context, p model.Page) error {
	narrative, err := encode(p.Narrative)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE pages SET title = ?, description = ?, narrative = ?, updated_at = ? WHERE id = ?`,
		p.Title, p.Description, narrative, p.UpdatedAt, p.ID,
	)
	return requireRow(res, err, "page", p.ID)
}

// DeletePage removes a page with its entries.
func (s *Store) DeletePage(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pages WHERE id = ?`, id)
	return affected(res, err)
}

func scanPage(row scanner) (*model.Page, error) {
	var p model.Page
	var narrative string
	if err := row.Scan(&p.ID, &p.NotebookID, &p.Title, &p.Description, &narrative, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeInto(&p.Narrative, narrative, "narrative"); err != nil {
		return nil, err
	}
	return &p, nil
}

func requireRow(res sql.Result, err error, kind, id string) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.NotFound(kind, id)
	}
	return nil
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
