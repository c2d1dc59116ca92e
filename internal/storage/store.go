package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	cieerrors "github.com/kodecortex/cie/internal/errors"
)

// Store is the SQLite-backed Backend implementation — the default,
// standalone engine for codecortex. Grounded on 0xcro3dile-localrag-go's
// LanceDBStore (database/sql + mattn/go-sqlite3, BLOB-encoded vectors,
// transactional writes) and the teacher's pkg/storage/embedded.go
// (schema-as-code, idempotent EnsureSchema).
type Store struct {
	mu            sync.RWMutex
	db            *sql.DB
	lock          *processLock
	uncleanMarker string
	closed        bool
}

// Config configures Open.
type Config struct {
	StateDir string // directory holding cie.db and the lock file
}

// Open acquires the process lock, opens (creating if needed) the SQLite
// file under cfg.StateDir, runs recovery if the prior session did not
// close cleanly, and migrates the schema. Per spec.md §4.4's state
// machine: Closed -> Opening -> {Recovering -> Open | Open | Failed}.
func Open(cfg Config) (*Store, error) {
	if cfg.StateDir == "" {
		return nil, fmt.Errorf("storage: StateDir is required")
	}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	lock, err := acquireProcessLock(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	dbPath := filepath.Join(cfg.StateDir, "cie.db")
	uncleanMarker := filepath.Join(cfg.StateDir, "cie.db.dirty")

	needsRecovery := fileExists(uncleanMarker)

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		lock.release()
		return nil, cieerrors.New(cieerrors.KindIOError, "open sqlite store", cieerrors.Context{}, nil, err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		lock.release()
		return nil, err
	}

	s := &Store{db: db, lock: lock}

	if needsRecovery {
		if err := s.recover(context.Background()); err != nil {
			db.Close()
			lock.release()
			return nil, cieerrors.New(cieerrors.KindCorruptedIndex, "recovery failed", cieerrors.Context{}, nil, err)
		}
	}

	if err := os.WriteFile(uncleanMarker, []byte("1"), 0o644); err != nil {
		db.Close()
		lock.release()
		return nil, fmt.Errorf("write dirty marker: %w", err)
	}
	s.uncleanMarker = uncleanMarker

	return s, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// PutFile upserts a File Record, created on first sight and mutated only
// when content_hash changes, per spec.md §3.
func (s *Store) PutFile(ctx context.Context, f FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("storage: closed")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cie_file(path, language, content_hash, size_bytes, last_modified, parse_status, parse_error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			language = excluded.language,
			content_hash = excluded.content_hash,
			size_bytes = excluded.size_bytes,
			last_modified = excluded.last_modified,
			parse_status = excluded.parse_status,
			parse_error = excluded.parse_error
	`, f.Path, f.Language, f.ContentHash, f.SizeBytes, f.LastModified.Unix(), f.ParseStatus, f.ParseError)
	if err != nil {
		return fmt.Errorf("put_file: %w", err)
	}
	return nil
}

// GetFile returns the File Record at path, or nil if absent — used by the
// Ingestion Pipeline's skip-if-unchanged content-hash check.
func (s *Store) GetFile(ctx context.Context, path string) (*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("storage: closed")
	}

	var f FileRecord
	var language, parseError sql.NullString
	var lastModifiedUnix int64
	err := s.db.QueryRowContext(ctx, `
		SELECT path, language, content_hash, size_bytes, last_modified, parse_status, parse_error
		FROM cie_file WHERE path = ?
	`, path).Scan(&f.Path, &language, &f.ContentHash, &f.SizeBytes, &lastModifiedUnix, &f.ParseStatus, &parseError)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	f.Language = language.String
	f.ParseError = parseError.String
	f.LastModified = time.Unix(lastModifiedUnix, 0)
	return &f, nil
}

// DeleteFile removes a file and, per spec.md §4.4's orphan-cleanup
// invariant, its symbols, any packs whose invalidation_triggers include
// it, and those packs' embeddings.
func (s *Store) DeleteFile(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("storage: closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cie_reference WHERE file_path = ?`, path); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cie_symbol WHERE file_path = ?`, path); err != nil {
		return err
	}
	if err := evictByTriggerTx(ctx, tx, []InvalidationTrigger{{Kind: TriggerKindFile, Key: path}}); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cie_file WHERE path = ?`, path); err != nil {
		return err
	}

	return tx.Commit()
}

// UpsertSymbols replaces all symbols and outgoing references for
// filePath with facts/edges, within one transaction to bound write
// amplification per spec.md §4.4.
func (s *Store) UpsertSymbols(ctx context.Context, filePath string, facts []SymbolFact, edges []ReferenceEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("storage: closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cie_symbol WHERE file_path = ?`, filePath); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cie_reference WHERE file_path = ?`, filePath); err != nil {
		return err
	}

	symStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cie_symbol(symbol_id, file_path, kind, name, qualified_name, start_line, end_line, start_col, end_col, signature, visibility, docstring)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer symStmt.Close()

	for _, f := range facts {
		if _, err := symStmt.ExecContext(ctx, f.SymbolID, f.FilePath, f.Kind, f.Name, f.QualifiedName,
			f.StartLine, f.EndLine, f.StartCol, f.EndCol, f.Signature, f.Visibility, f.Docstring); err != nil {
			return fmt.Errorf("upsert_symbols: insert fact %s: %w", f.SymbolID, err)
		}
	}

	refStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cie_reference(from_symbol_id, to_symbol_id, to_unresolved_name, kind, file_path, line)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer refStmt.Close()

	for _, e := range edges {
		var toSymbolID, toUnresolved sql.NullString
		if e.ToSymbolID != "" {
			toSymbolID = sql.NullString{String: e.ToSymbolID, Valid: true}
		}
		if e.ToUnresolvedName != "" {
			toUnresolved = sql.NullString{String: e.ToUnresolvedName, Valid: true}
		}
		if _, err := refStmt.ExecContext(ctx, e.FromSymbolID, toSymbolID, toUnresolved, e.Kind, e.FilePath, e.Line); err != nil {
			return fmt.Errorf("upsert_symbols: insert edge: %w", err)
		}
	}

	return tx.Commit()
}

// GetCallers returns the inverse callers(symbol_id) -> [edge] index,
// required by spec.md §3's Reference Edge invariant.
func (s *Store) GetCallers(ctx context.Context, symbolID string) ([]CallerEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("storage: closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT from_symbol_id, file_path, line FROM cie_reference
		WHERE to_symbol_id = ? AND kind = 'calls'
	`, symbolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallerEdge
	for rows.Next() {
		var c CallerEdge
		if err := rows.Scan(&c.CallerSymbolID, &c.FilePath, &c.Line); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertPack stores pack, idempotent by content_hash per spec.md §4.4(b):
// re-upserting identical content is a no-op except for created_at.
func (s *Store) UpsertPack(ctx context.Context, pack ContextPack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("storage: closed")
	}

	keyFacts, err := json.Marshal(pack.KeyFacts)
	if err != nil {
		return err
	}
	snippets, err := json.Marshal(pack.CodeSnippets)
	if err != nil {
		return err
	}
	related, err := json.Marshal(pack.RelatedFiles)
	if err != nil {
		return err
	}
	triggers, err := json.Marshal(pack.InvalidationTriggers)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existingHash string
	err = tx.QueryRowContext(ctx, `SELECT content_hash FROM cie_pack WHERE pack_id = ?`, pack.PackID).Scan(&existingHash)
	if err == nil && existingHash == pack.ContentHash {
		// Same content: only created_at is refreshed, and only when the
		// caller supplied one.
		if !pack.CreatedAt.IsZero() {
			if _, err := tx.ExecContext(ctx, `UPDATE cie_pack SET created_at = ? WHERE pack_id = ?`, pack.CreatedAt.Unix(), pack.PackID); err != nil {
				return err
			}
		}
		return tx.Commit()
	}
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	createdAt := pack.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Unix(0, 0)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cie_pack(pack_id, pack_type, target_id, schema_version, content_hash, summary, key_facts, code_snippets, related_files, invalidation_triggers, confidence, version_string, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pack_id) DO UPDATE SET
			pack_type = excluded.pack_type,
			target_id = excluded.target_id,
			schema_version = excluded.schema_version,
			content_hash = excluded.content_hash,
			summary = excluded.summary,
			key_facts = excluded.key_facts,
			code_snippets = excluded.code_snippets,
			related_files = excluded.related_files,
			invalidation_triggers = excluded.invalidation_triggers,
			confidence = excluded.confidence,
			version_string = excluded.version_string
	`, pack.PackID, pack.PackType, pack.TargetID, pack.SchemaVersion, pack.ContentHash, pack.Summary,
		string(keyFacts), string(snippets), string(related), string(triggers), pack.Confidence, pack.VersionString, createdAt.Unix())
	if err != nil {
		return fmt.Errorf("upsert_pack: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cie_pack_trigger WHERE pack_id = ?`, pack.PackID); err != nil {
		return err
	}
	trigStmt, err := tx.PrepareContext(ctx, `INSERT INTO cie_pack_trigger(pack_id, trigger_kind, trigger_key) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer trigStmt.Close()
	for _, t := range pack.InvalidationTriggers {
		if _, err := trigStmt.ExecContext(ctx, pack.PackID, t.Kind, t.Key); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func scanPack(row interface {
	Scan(dest ...any) error
}) (*ContextPack, error) {
	var p ContextPack
	var keyFacts, snippets, related, triggers string
	var createdAtUnix int64
	err := row.Scan(&p.PackID, &p.PackType, &p.TargetID, &p.SchemaVersion, &p.ContentHash, &p.Summary,
		&keyFacts, &snippets, &related, &triggers, &p.Confidence, &p.VersionString, &createdAtUnix)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = time.Unix(createdAtUnix, 0)
	_ = json.Unmarshal([]byte(keyFacts), &p.KeyFacts)
	_ = json.Unmarshal([]byte(snippets), &p.CodeSnippets)
	_ = json.Unmarshal([]byte(related), &p.RelatedFiles)
	_ = json.Unmarshal([]byte(triggers), &p.InvalidationTriggers)
	return &p, nil
}

// GetPackByID returns the pack with the given id, or nil if absent.
func (s *Store) GetPackByID(ctx context.Context, packID string) (*ContextPack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("storage: closed")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT pack_id, pack_type, target_id, schema_version, content_hash, summary, key_facts, code_snippets, related_files, invalidation_triggers, confidence, version_string, created_at
		FROM cie_pack WHERE pack_id = ?
	`, packID)
	pack, err := scanPack(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pack, nil
}

// FindPacksByTarget returns packs matching (pack_type, target_id), per
// spec.md §4.4's "at most one pack per (pack_type, target_id) at a given
// content_hash" invariant — multiple content_hash generations may coexist
// until evicted.
func (s *Store) FindPacksByTarget(ctx context.Context, packType, targetID string) ([]ContextPack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("storage: closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT pack_id, pack_type, target_id, schema_version, content_hash, summary, key_facts, code_snippets, related_files, invalidation_triggers, confidence, version_string, created_at
		FROM cie_pack WHERE pack_type = ? AND target_id = ?
	`, packType, targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ContextPack
	for rows.Next() {
		p, err := scanPack(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpsertEmbedding stores rec, keyed by (owner_kind, owner_id) — a record
// is owned by exactly one owner, per spec.md §3's Embedding Record.
func (s *Store) UpsertEmbedding(ctx context.Context, rec EmbeddingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("storage: closed")
	}

	blob, err := encodeVector(rec.Vector)
	if err != nil {
		return err
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Unix(0, 0)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cie_embedding(owner_kind, owner_id, model_name, model_dim, model_revision, vector, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_kind, owner_id) DO UPDATE SET
			model_name = excluded.model_name,
			model_dim = excluded.model_dim,
			model_revision = excluded.model_revision,
			vector = excluded.vector,
			created_at = excluded.created_at
	`, rec.OwnerKind, rec.OwnerID, rec.ModelName, rec.ModelDim, rec.ModelRevision, blob, createdAt.Unix())
	if err != nil {
		return fmt.Errorf("upsert_embedding: %w", err)
	}
	return nil
}

// DeleteEmbeddingsForOwner removes all embeddings owned by (ownerKind, ownerID).
func (s *Store) DeleteEmbeddingsForOwner(ctx context.Context, ownerKind, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("storage: closed")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM cie_embedding WHERE owner_kind = ? AND owner_id = ?`, ownerKind, ownerID)
	return err
}

// ScanEmbeddings returns all embeddings for a given model identity,
// feeding the Vector Index's rebuild/projection.
func (s *Store) ScanEmbeddings(ctx context.Context, modelName string, modelDim int) ([]EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("storage: closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_kind, owner_id, model_name, model_dim, model_revision, vector, created_at
		FROM cie_embedding WHERE model_name = ? AND model_dim = ?
	`, modelName, modelDim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EmbeddingRecord
	for rows.Next() {
		var rec EmbeddingRecord
		var blob []byte
		var createdAtUnix int64
		var revision sql.NullString
		if err := rows.Scan(&rec.OwnerKind, &rec.OwnerID, &rec.ModelName, &rec.ModelDim, &revision, &blob, &createdAtUnix); err != nil {
			return nil, err
		}
		rec.ModelRevision = revision.String
		rec.CreatedAt = time.Unix(createdAtUnix, 0)
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, err
		}
		rec.Vector = vec
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SymbolQuery narrows FindSymbols, grounded on the teacher's
// SearchTextArgs/FindFunctionArgs field sets (pkg/tools/search.go),
// retargeted from Datalog condition-building to a typed SQL WHERE clause.
type SymbolQuery struct {
	NamePattern string // SQL LIKE pattern against name or qualified_name; empty matches all
	Kind        string // empty matches all kinds
	FilePath    string // empty matches all files
	Limit       int
}

// FindSymbols is the Storage Engine's lexical symbol search, backing the
// Query Pipeline's lexical candidate stage (spec.md §4.7 stage 4a) —
// grounded on the teacher's SearchText/FindFunction (pkg/tools/search.go),
// which build a CozoDB Datalog condition from the same field set this
// builds a SQL WHERE clause from.
func (s *Store) FindSymbols(ctx context.Context, q SymbolQuery) ([]SymbolFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("storage: closed")
	}

	where := []string{"1 = 1"}
	args := []any{}
	if q.NamePattern != "" {
		where = append(where, "(name LIKE ? OR qualified_name LIKE ?)")
		args = append(args, q.NamePattern, q.NamePattern)
	}
	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, q.Kind)
	}
	if q.FilePath != "" {
		where = append(where, "file_path = ?")
		args = append(args, q.FilePath)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT symbol_id, file_path, kind, name, qualified_name, start_line, end_line, start_col, end_col, signature, visibility, docstring
		FROM cie_symbol WHERE %s ORDER BY name LIMIT ?
	`, strings.Join(where, " AND "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SymbolFact
	for rows.Next() {
		var f SymbolFact
		if err := rows.Scan(&f.SymbolID, &f.FilePath, &f.Kind, &f.Name, &f.QualifiedName,
			&f.StartLine, &f.EndLine, &f.StartCol, &f.EndCol, &f.Signature, &f.Visibility, &f.Docstring); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetSymbol fetches a single symbol fact by its stable symbol_id, grounded
// on the teacher's GetFunction (pkg/tools/search.go). Used by the Query
// Pipeline's rank stage to resolve a symbol pack's qualified_name for the
// spec's confidence/qualified_name/pack_id tie-break order (spec.md §4.7
// stage 5), since a ContextPack only carries the symbol_id as TargetID.
func (s *Store) GetSymbol(ctx context.Context, symbolID string) (*SymbolFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("storage: closed")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT symbol_id, file_path, kind, name, qualified_name, start_line, end_line, start_col, end_col, signature, visibility, docstring
		FROM cie_symbol WHERE symbol_id = ?
	`, symbolID)

	var f SymbolFact
	err := row.Scan(&f.SymbolID, &f.FilePath, &f.Kind, &f.Name, &f.QualifiedName,
		&f.StartLine, &f.EndLine, &f.StartCol, &f.EndCol, &f.Signature, &f.Visibility, &f.Docstring)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListFiles returns file records whose path matches pathPattern (a SQL
// LIKE pattern; empty matches all), grounded on the teacher's
// ListFiles (pkg/tools/search.go).
func (s *Store) ListFiles(ctx context.Context, pathPattern string, limit int) ([]FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("storage: closed")
	}
	if limit <= 0 {
		limit = 500
	}

	var rows *sql.Rows
	var err error
	if pathPattern == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT path, language, content_hash, size_bytes, last_modified, parse_status, parse_error
			FROM cie_file ORDER BY path LIMIT ?
		`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT path, language, content_hash, size_bytes, last_modified, parse_status, parse_error
			FROM cie_file WHERE path LIKE ? ORDER BY path LIMIT ?
		`, pathPattern, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var f FileRecord
		var lastModifiedUnix int64
		var language, parseError sql.NullString
		if err := rows.Scan(&f.Path, &language, &f.ContentHash, &f.SizeBytes, &lastModifiedUnix, &f.ParseStatus, &parseError); err != nil {
			return nil, err
		}
		f.Language = language.String
		f.ParseError = parseError.String
		f.LastModified = time.Unix(lastModifiedUnix, 0)
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetStats reports table row counts and the store's schema_version.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Stats{}, fmt.Errorf("storage: closed")
	}

	var stats Stats
	version, err := readSchemaVersion(s.db)
	if err != nil {
		return Stats{}, err
	}
	stats.SchemaVersion = version

	for table, dest := range map[string]*int{
		"cie_file":      &stats.FileCount,
		"cie_symbol":    &stats.SymbolCount,
		"cie_pack":      &stats.PackCount,
		"cie_embedding": &stats.EmbeddingCount,
	} {
		if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, table)).Scan(dest); err != nil {
			return Stats{}, fmt.Errorf("count %s: %w", table, err)
		}
	}
	needsReembed, err := s.needsReembedLocked(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats.NeedsReembed = needsReembed
	return stats, nil
}

// metaKeyModelIdentity and metaKeyNeedsReembed are the cie_meta rows
// backing needs_reembed detection (spec.md §4.3(e)): the store's own
// record of the last embedding model identity it wrote packs under, and
// whether that identity has since drifted out from under it.
const (
	metaKeyModelIdentity = "model_identity"
	metaKeyNeedsReembed  = "needs_reembed"
)

// GetModelIdentity returns the model identity the store last recorded
// embeddings under, or nil if no pack has ever been embedded in this
// store.
func (s *Store) GetModelIdentity(ctx context.Context) (*ModelIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("storage: closed")
	}
	return s.getModelIdentityLocked(ctx)
}

func (s *Store) getModelIdentityLocked(ctx context.Context) (*ModelIdentity, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM cie_meta WHERE key = ?`, metaKeyModelIdentity).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var identity ModelIdentity
	if err := json.Unmarshal([]byte(raw), &identity); err != nil {
		return nil, fmt.Errorf("unmarshal model_identity: %w", err)
	}
	return &identity, nil
}

// SetModelIdentity records identity as the store's current embedding
// model identity, implicitly clearing any needs_reembed marker — callers
// set it after either embedding under identity for the first time, or
// completing a full re-embed pass that brings every pack's vector up to
// identity.
func (s *Store) SetModelIdentity(ctx context.Context, identity ModelIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("storage: closed")
	}
	raw, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("marshal model_identity: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, metaUpsertSQL, metaKeyModelIdentity, string(raw)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, metaUpsertSQL, metaKeyNeedsReembed, "false"); err != nil {
		return err
	}
	return tx.Commit()
}

// SetNeedsReembed persists the needs_reembed marker, per spec.md §4.3(e):
// set when the Embedding Service detects its current provider's model
// identity no longer matches the store's last-recorded one, so every
// session (not just the one that noticed) surfaces the drift until an
// explicit re-embed pass calls SetModelIdentity.
func (s *Store) SetNeedsReembed(ctx context.Context, needsReembed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("storage: closed")
	}
	value := "false"
	if needsReembed {
		value = "true"
	}
	_, err := s.db.ExecContext(ctx, metaUpsertSQL, metaKeyNeedsReembed, value)
	return err
}

// NeedsReembed reports the persisted needs_reembed marker.
func (s *Store) NeedsReembed(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, fmt.Errorf("storage: closed")
	}
	return s.needsReembedLocked(ctx)
}

func (s *Store) needsReembedLocked(ctx context.Context) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM cie_meta WHERE key = ?`, metaKeyNeedsReembed).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return raw == "true", nil
}

const metaUpsertSQL = `INSERT INTO cie_meta(key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`

// ListPackContentHashes returns every pack's content_hash, in no
// particular order, backing the Query Pipeline's pack_snapshot_hash
// computation (spec.md §4.7 caching; DESIGN.md Open Question decision 1 —
// ContentHash of the canonical-JSON-encoded sorted list of these values).
func (s *Store) ListPackContentHashes(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("storage: closed")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT content_hash FROM cie_pack`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// EvictByTriggers removes every pack (and its embeddings) whose
// invalidation_triggers intersect triggers.
func (s *Store) EvictByTriggers(ctx context.Context, triggers []InvalidationTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("storage: closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := evictByTriggerTx(ctx, tx, triggers); err != nil {
		return err
	}
	return tx.Commit()
}

func evictByTriggerTx(ctx context.Context, tx *sql.Tx, triggers []InvalidationTrigger) error {
	for _, t := range triggers {
		rows, err := tx.QueryContext(ctx, `SELECT DISTINCT pack_id FROM cie_pack_trigger WHERE trigger_kind = ? AND trigger_key = ?`, t.Kind, t.Key)
		if err != nil {
			return err
		}
		var packIDs []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			packIDs = append(packIDs, id)
		}
		rows.Close()

		for _, id := range packIDs {
			if _, err := tx.ExecContext(ctx, `DELETE FROM cie_embedding WHERE owner_kind = 'pack' AND owner_id = ?`, id); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM cie_pack_trigger WHERE pack_id = ?`, id); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM cie_pack WHERE pack_id = ?`, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close marks the store cleanly closed (removing the dirty marker so the
// next Open skips recovery), releases the process lock, and closes the
// underlying database handle. Idempotent and guaranteed to release the
// lock, per spec.md §3's Session lifecycle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.uncleanMarker != "" {
		if err := os.Remove(s.uncleanMarker); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.lock.release(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("close storage: %v", errs)
	}
	return nil
}
