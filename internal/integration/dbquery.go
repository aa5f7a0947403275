package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/yangwenmai/labnotebook/internal/model"
)

// defaultMaxRows caps the rows returned by a query.
const defaultMaxRows = 1000

// DatabaseQuery runs one SQL statement against SQLite or PostgreSQL.
type DatabaseQuery struct {
	vars VariableSource
	log  *slog.Logger
}

// NewDatabaseQuery creates the database_query integration.
func NewDatabaseQuery(d Deps) *DatabaseQuery {
	d = d.withFallbacks()
	return &DatabaseQuery{vars: d.Variables, log: d.Logger}
}

func (q *DatabaseQuery) Description() string {
	return "SQL statement against sqlite or postgres; records columns and rows"
}

type dbQueryInputs struct {
	ConnectionString string `json:"connection_string" validate:"required"`
	Driver           string `json:"driver" validate:"omitempty,oneof=sqlite postgres"`
	Query            string `json:"query" validate:"required"`
	Parameters       []any  `json:"parameters"`
	MaxRows          int    `json:"max_rows" validate:"gte=0"`
}

func (q *DatabaseQuery) parse(ctx context.Context, inputs model.Object) (dbQueryInputs, error) {
	var in dbQueryInputs
	merged, err := withDefaults(ctx, q.vars, TypeDatabaseQuery, inputs)
	if err != nil {
		return in, err
	}
	if err := decodeInputs(merged, &in); err != nil {
		return in, err
	}
	if in.MaxRows == 0 {
		in.MaxRows = defaultMaxRows
	}
	return in, nil
}

// ValidateInputs merges defaults and checks connection and query.
func (q *DatabaseQuery) ValidateInputs(ctx context.Context, inputs model.Object) error {
	_, err := q.parse(ctx, inputs)
	return err
}

// resolveDriver picks the database/sql driver name and DSN from the
// connection string, honouring an explicit driver.
func resolveDriver(driver, conn string) (string, string) {
	switch {
	case driver == "postgres",
		strings.HasPrefix(conn, "postgres://"),
		strings.HasPrefix(conn, "postgresql://"):
		return "pgx", conn
	case strings.HasPrefix(conn, "sqlite:///"):
		return "sqlite", "/" + strings.TrimPrefix(conn, "sqlite:///")
	case strings.HasPrefix(conn, "sqlite://"):
		return "sqlite", strings.TrimPrefix(conn, "sqlite://")
	}
	return "sqlite", conn
}

// returnsRows reports whether a statement produces a result set.
func returnsRows(query string) bool {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH", "PRAGMA", "EXPLAIN", "SHOW", "VALUES", "TABLE":
		return true
	}
	return strings.Contains(strings.ToUpper(query), " RETURNING ")
}

// Execute opens a short-lived connection and runs the statement.
func (q *DatabaseQuery) Execute(ctx context.Context, inputs model.Object) (*Result, error) {
	in, err := q.parse(ctx, inputs)
	if err != nil {
		return nil, err
	}
	driver, dsn := resolveDriver(in.Driver, in.ConnectionString)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	defer db.Close()

	args := make([]any, len(in.Parameters))
	for i, p := range in.Parameters {
		args[i] = sqlArg(p)
	}

	start := time.Now()
	if !returnsRows(in.Query) {
		res, err := db.ExecContext(ctx, in.Query, args...)
		if err != nil {
			return nil, fmt.Errorf("exec: %w", err)
		}
		n, _ := res.RowsAffected()
		return &Result{Outputs: model.Object{
			"columns":          []string{},
			"rows":             []any{},
			"row_count":        0,
			"affected_rows":    n,
			"truncated":        false,
			"duration_seconds": time.Since(start).Seconds(),
		}}, nil
	}

	rows, err := db.QueryContext(ctx, in.Query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []any{}
	truncated := false
	for rows.Next() {
		if len(out) >= in.MaxRows {
			truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = jsonValue(vals[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	q.log.Debug("database query finished", "driver", driver, "rows", len(out), "truncated", truncated)

	res := &Result{Outputs: model.Object{
		"columns":          cols,
		"rows":             out,
		"row_count":        len(out),
		"affected_rows":    0,
		"truncated":        truncated,
		"duration_seconds": time.Since(start).Seconds(),
	}}
	if len(out) > 0 {
		art, err := jsonArtifact(map[string]any{"columns": cols, "rows": out}, model.Object{"kind": "results"})
		if err != nil {
			return nil, err
		}
		res.Artifacts = append(res.Artifacts, art)
	}
	return res, nil
}

// sqlArg converts decoded JSON parameters into driver-friendly values.
func sqlArg(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
	return v
}

// jsonValue converts a scanned column value into something JSON-encodable.
func jsonValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	}
	return v
}
