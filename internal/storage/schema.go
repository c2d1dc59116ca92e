package storage

import (
	"database/sql"
	"fmt"

	cieerrors "github.com/kodecortex/cie/internal/errors"
)

func cieerrorsSchemaIncompatible(storedVersion, codeVersion int) error {
	return cieerrors.New(cieerrors.KindSchemaIncompatible,
		fmt.Sprintf("store schema_version %d is newer than this build's %d", storedVersion, codeVersion),
		cieerrors.Context{},
		[]string{"upgrade codecortex to a version that understands this store's schema"},
		nil)
}

func cieerrorsMigrationFailed(version int, cause error) error {
	return cieerrors.New(cieerrors.KindMigrationFailed,
		fmt.Sprintf("migration to schema_version %d failed", version),
		cieerrors.Context{},
		nil, cause)
}

// currentSchemaVersion is the monotonically increasing schema_version
// this build of the code understands, per spec.md §4.4.
const currentSchemaVersion = 2

// migration is one forward step, applied inside a single transaction.
type migration struct {
	version int
	apply   func(tx *sql.Tx) error
}

var migrations = []migration{
	{version: 1, apply: migrateV1},
	{version: 2, apply: migrateV2},
}

func migrateV1(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cie_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cie_file (
			path TEXT PRIMARY KEY,
			language TEXT,
			content_hash TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			last_modified INTEGER NOT NULL,
			parse_status TEXT NOT NULL,
			parse_error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS cie_symbol (
			symbol_id TEXT PRIMARY KEY,
			file_path TEXT NOT NULL,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			qualified_name TEXT NOT NULL,
			start_line INTEGER,
			end_line INTEGER,
			start_col INTEGER,
			end_col INTEGER,
			signature TEXT,
			visibility TEXT,
			docstring TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cie_symbol_file ON cie_symbol(file_path)`,
		`CREATE TABLE IF NOT EXISTS cie_reference (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			from_symbol_id TEXT NOT NULL,
			to_symbol_id TEXT,
			to_unresolved_name TEXT,
			kind TEXT NOT NULL,
			file_path TEXT NOT NULL,
			line INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cie_reference_from ON cie_reference(from_symbol_id)`,
		`CREATE INDEX IF NOT EXISTS idx_cie_reference_to ON cie_reference(to_symbol_id)`,
		`CREATE INDEX IF NOT EXISTS idx_cie_reference_file ON cie_reference(file_path)`,
		`CREATE TABLE IF NOT EXISTS cie_pack (
			pack_id TEXT PRIMARY KEY,
			pack_type TEXT NOT NULL,
			target_id TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			content_hash TEXT NOT NULL,
			summary TEXT,
			key_facts TEXT,
			code_snippets TEXT,
			related_files TEXT,
			invalidation_triggers TEXT,
			confidence REAL,
			version_string TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cie_pack_target ON cie_pack(pack_type, target_id)`,
		`CREATE TABLE IF NOT EXISTS cie_pack_trigger (
			pack_id TEXT NOT NULL,
			trigger_kind TEXT NOT NULL,
			trigger_key TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cie_pack_trigger_key ON cie_pack_trigger(trigger_kind, trigger_key)`,
		`CREATE TABLE IF NOT EXISTS cie_embedding (
			owner_kind TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			model_name TEXT NOT NULL,
			model_dim INTEGER NOT NULL,
			model_revision TEXT,
			vector BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (owner_kind, owner_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cie_embedding_model ON cie_embedding(model_name, model_dim)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return nil
}

// migrateV2 adds the indexes backing the Query Pipeline's lexical
// candidate-generation stage (spec.md §4.7 stage 4a), added once that
// stage needed to search cie_symbol by name/qualified_name rather than
// only by file_path.
func migrateV2(tx *sql.Tx) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_cie_symbol_name ON cie_symbol(name)`,
		`CREATE INDEX IF NOT EXISTS idx_cie_symbol_qualified_name ON cie_symbol(qualified_name)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return nil
}

// readSchemaVersion returns the store's recorded schema_version, or 0 if
// cie_meta does not yet exist (fresh store).
func readSchemaVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='cie_meta'`).Scan(&exists)
	if err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, nil
	}

	var raw string
	err = db.QueryRow(`SELECT value FROM cie_meta WHERE key = 'schema_version'`).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var version int
	if _, err := fmt.Sscanf(raw, "%d", &version); err != nil {
		return 0, err
	}
	return version, nil
}

func writeSchemaVersion(tx *sql.Tx, version int) error {
	_, err := tx.Exec(`INSERT INTO cie_meta(key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, fmt.Sprintf("%d", version))
	return err
}

// migrate brings db up to currentSchemaVersion, applying each pending
// migration inside its own transaction, per spec.md §4.4's "apply
// migrations in order inside a single transaction" rule — refusing to
// open when the store is newer than this build understands.
func migrate(db *sql.DB) error {
	storedVersion, err := readSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if storedVersion > currentSchemaVersion {
		return cieerrorsSchemaIncompatible(storedVersion, currentSchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= storedVersion {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration tx: %w", err)
		}
		if err := m.apply(tx); err != nil {
			tx.Rollback()
			return cieerrorsMigrationFailed(m.version, err)
		}
		if err := writeSchemaVersion(tx, m.version); err != nil {
			tx.Rollback()
			return cieerrorsMigrationFailed(m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return cieerrorsMigrationFailed(m.version, err)
		}
	}
	return nil
}
