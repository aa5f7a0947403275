package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/yangwenmai/labnotebook/internal/model"
)

// Verify at compile time that Store implements all interfaces.
var (
	_ NotebookStore  = (*Store)(nil)
	_ PageStore      = (*Store)(nil)
	_ EntryReader    = (*Store)(nil)
	_ EntryWriter    = (*Store)(nil)
	_ LineageStore   = (*Store)(nil)
	_ ArtifactStore  = (*Store)(nil)
	_ VariableStore  = (*Store)(nil)
	_ ExecutionQueue = (*Store)(nil)
)

// Store provides data access to the SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and initialises the schema.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the database handle for tests and maintenance commands.
func (s *Store) DB() *sql.DB { return s.db }

// currentSchemaVersion is bumped whenever the schema changes.
// Add a new migration function in the migrations slice below.
const currentSchemaVersion = 4

// SchemaVersion returns the schema version recorded in the database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	return v, err
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema version: %w", err)
		}
		version = 0
	} else if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema v%d is newer than supported v%d", version, currentSchemaVersion)
	}

	// Index 0 = migration from v0 to v1, etc.
	migrations := []func() error{
		s.migrateV1, // v0 → v1: notebooks, pages, entries, tags, artifacts, lineage
		s.migrateV2, // v1 → v2: integration default variables
		s.migrateV3, // v2 → v3: execution queue
		s.migrateV4, // v3 → v4: per-entry artifact links
	}

	for i := version; i < len(migrations); i++ {
		if err := migrations[i](); err != nil {
			return fmt.Errorf("migration v%d→v%d: %w", i, i+1, err)
		}
		if _, err := s.db.Exec(`UPDATE schema_version SET version = ?`, i+1); err != nil {
			return fmt.Errorf("update schema version to %d: %w", i+1, err)
		}
	}
	return nil
}

// migrateV1 creates the initial schema (v0 → v1).
func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS notebooks (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		metadata    TEXT NOT NULL DEFAULT '{}',
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pages (
		id          TEXT PRIMARY KEY,
		notebook_id TEXT NOT NULL REFERENCES notebooks(id) ON DELETE CASCADE,
		title       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		narrative   TEXT NOT NULL DEFAULT '{}',
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pages_notebook ON pages(notebook_id, created_at);

	CREATE TABLE IF NOT EXISTS entries (
		id         TEXT PRIMARY KEY,
		page_id    TEXT NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
		entry_type TEXT NOT NULL,
		title      TEXT NOT NULL,
		status     TEXT NOT NULL,
		parent_id  TEXT REFERENCES entries(id) ON DELETE SET NULL,
		inputs     TEXT NOT NULL DEFAULT '{}',
		outputs    TEXT NOT NULL DEFAULT '{}',
		execution  TEXT,
		metrics    TEXT NOT NULL DEFAULT '{}',
		metadata   TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_page ON entries(page_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_entries_parent ON entries(parent_id);
	CREATE INDEX IF NOT EXISTS idx_entries_type ON entries(entry_type, status);

	CREATE TABLE IF NOT EXISTS entry_tags (
		entry_id TEXT NOT NULL REFERENCES entries(id) ON DELETE CASCADE,
		tag      TEXT NOT NULL,
		PRIMARY KEY (entry_id, tag)
	);
	CREATE INDEX IF NOT EXISTS idx_entry_tags_tag ON entry_tags(tag);

	CREATE TABLE IF NOT EXISTS artifacts (
		id                  TEXT PRIMARY KEY,
		entry_id            TEXT NOT NULL REFERENCES entries(id) ON DELETE CASCADE,
		type                TEXT NOT NULL,
		hash                TEXT NOT NULL UNIQUE,
		size_bytes          INTEGER NOT NULL,
		path                TEXT NOT NULL,
		thumbnail_path      TEXT,
		archived            INTEGER NOT NULL DEFAULT 0,
		archive_strategy    TEXT NOT NULL DEFAULT 'none',
		original_size_bytes INTEGER,
		metadata            TEXT NOT NULL DEFAULT '{}',
		created_at          TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_entry ON artifacts(entry_id, created_at);

	CREATE TABLE IF NOT EXISTS entry_lineage (
		parent_id         TEXT NOT NULL REFERENCES entries(id) ON DELETE CASCADE,
		child_id          TEXT NOT NULL REFERENCES entries(id) ON DELETE CASCADE,
		relationship_type TEXT NOT NULL CHECK (relationship_type IN ('derives_from', 'variation_of')),
		created_at        TEXT NOT NULL,
		PRIMARY KEY (parent_id, child_id)
	);
	CREATE INDEX IF NOT EXISTS idx_lineage_child ON entry_lineage(child_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// migrateV2 adds integration default variables (v1 → v2).
func (s *Store) migrateV2() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS integration_variables (
		integration_type TEXT NOT NULL,
		name             TEXT NOT NULL,
		value            TEXT NOT NULL,
		description      TEXT NOT NULL DEFAULT '',
		is_secret        INTEGER NOT NULL DEFAULT 0,
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL,
		PRIMARY KEY (integration_type, name)
	);`)
	return err
}

// migrateV3 adds the background execution queue (v2 → v3).
func (s *Store) migrateV3() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS execution_queue (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		entry_id    TEXT NOT NULL REFERENCES entries(id) ON DELETE CASCADE,
		state       TEXT NOT NULL,
		error       TEXT,
		enqueued_at TEXT NOT NULL,
		claimed_at  TEXT,
		finished_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_queue_state ON execution_queue(state, id);`)
	return err
}

// migrateV4 links artifacts to every entry that produced their bytes
// (v3 → v4). An artifact record is shared by hash; when its owning entry is
// deleted, ownership moves to the oldest other linked entry so the record
// and its blob stay referenced. Records with no other link cascade away.
func (s *Store) migrateV4() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS entry_artifacts (
		entry_id    TEXT NOT NULL REFERENCES entries(id) ON DELETE CASCADE,
		artifact_id TEXT NOT NULL REFERENCES artifacts(id) ON DELETE CASCADE,
		metadata    TEXT NOT NULL DEFAULT '{}',
		created_at  TEXT NOT NULL,
		PRIMARY KEY (entry_id, artifact_id)
	);
	CREATE INDEX IF NOT EXISTS idx_entry_artifacts_artifact ON entry_artifacts(artifact_id, created_at);

	INSERT OR IGNORE INTO entry_artifacts (entry_id, artifact_id, metadata, created_at)
	SELECT entry_id, id, metadata, created_at FROM artifacts;

	CREATE TRIGGER IF NOT EXISTS entries_artifact_handoff
	BEFORE DELETE ON entries
	BEGIN
		UPDATE artifacts SET entry_id = (
			SELECT ea.entry_id FROM entry_artifacts ea
			WHERE ea.artifact_id = artifacts.id AND ea.entry_id <> OLD.id
			ORDER BY ea.created_at ASC, ea.rowid ASC LIMIT 1
		)
		WHERE entry_id = OLD.id AND EXISTS (
			SELECT 1 FROM entry_artifacts ea
			WHERE ea.artifact_id = artifacts.id AND ea.entry_id <> OLD.id
		);
	END;`)
	return err
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...any) error
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func encode(o model.Object) (string, error) {
	return o.Encode()
}

func decodeInto(dst *model.Object, raw string, field string) error {
	o, err := model.DecodeObject([]byte(raw))
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if o == nil {
		o = model.Object{}
	}
	*dst = o
	return nil
}
