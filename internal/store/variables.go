package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/yangwenmai/labnotebook/internal/model"
)

// ---------------------------------------------------------------------------
// Integration variables
// ---------------------------------------------------------------------------

const variableColumns = `integration_type, name, value, description, is_secret, created_at, updated_at`

// SetVariable inserts or replaces the default variable keyed by
// (integration_type, name). Values are stored as JSON.
func (s *Store) SetVariable(ctx context.Context, v model.IntegrationVariable) error {
	value, err := json.Marshal(v.Value)
	if err != nil {
		return fmt.Errorf("encode variable value: %w", err)
	}
	now := model.Now()
	if v.CreatedAt == "" {
		v.CreatedAt = now
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO integration_variables (`+variableColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(integration_type, name) DO UPDATE SET
			value = excluded.value,
			description = excluded.description,
			is_secret = excluded.is_secret,
			updated_at = excluded.updated_at`,
		v.IntegrationType, v.Name, string(value), v.Description, v.IsSecret, v.CreatedAt, now,
	)
	return err
}

// GetVariable returns one variable.
func (s *Store) GetVariable(ctx context.Context, integrationType, name string) (*model.IntegrationVariable, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+variableColumns+` FROM integration_variables WHERE integration_type = ? AND name = ?`,
		integrationType, name)
	v, err := scanVariable(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("variable", integrationType+"/"+name)
	}
	return v, err
}

// ListVariables returns the variables of one integration type, or of all
// types when integrationType is empty.
func (s *Store) ListVariables(ctx context.Context, integrationType string) ([]model.IntegrationVariable, error) {
	query := `SELECT ` + variableColumns + ` FROM integration_variables`
	var args []any
	if integrationType != "" {
		query += ` WHERE integration_type = ?`
		args = append(args, integrationType)
	}
	query += ` ORDER BY integration_type, name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	vars := []model.IntegrationVariable{}
	for rows.Next() {
		v, err := scanVariable(rows)
		if err != nil {
			return nil, err
		}
		vars = append(vars, *v)
	}
	return vars, rows.Err()
}

// DeleteVariable removes one variable.
func (s *Store) DeleteVariable(ctx context.Context, integrationType, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM integration_variables WHERE integration_type = ? AND name = ?`, integrationType, name)
	return affected(res, err)
}

// scanVariable decodes the stored JSON value. Values written by other tools
// that are not valid JSON are returned as plain strings.
func scanVariable(row scanner) (*model.IntegrationVariable, error) {
	var v model.IntegrationVariable
	var raw string
	if err := row.Scan(&v.IntegrationType, &v.Name, &raw, &v.Description, &v.IsSecret, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	value, err := model.DecodeValue([]byte(raw))
	if err != nil {
		value = raw
	}
	v.Value = value
	return &v, nil
}
