// Package storage implements the Storage Engine: a single-file durable
// store for symbols, packs, and embeddings, per spec.md §4.4. Grounded on
// the teacher's pkg/storage/backend.go Backend interface shape, retargeted
// from Datalog query strings to typed Go operations, with the underlying
// engine substituted from CozoDB (CGO, unfetchable in this environment)
// to SQLite via database/sql + mattn/go-sqlite3 — grounded on
// 0xcro3dile-localrag-go's LanceDBStore.
package storage

import "time"

// FileRecord is a File Record per spec.md §3.
type FileRecord struct {
	Path         string
	Language     string
	ContentHash  string
	SizeBytes    int64
	LastModified time.Time
	ParseStatus  string // ok, skipped, error
	ParseError   string
}

const (
	ParseStatusOK      = "ok"
	ParseStatusSkipped = "skipped"
	ParseStatusError   = "error"
)

// SymbolFact is a Symbol Fact per spec.md §3.
type SymbolFact struct {
	SymbolID      string
	FilePath      string
	Kind          string
	Name          string
	QualifiedName string
	StartLine     int
	EndLine       int
	StartCol      int
	EndCol        int
	Signature     string
	Visibility    string
	Docstring     string
}

// ReferenceEdge is a Reference Edge per spec.md §3. Either ToSymbolID is
// set (resolved) or ToUnresolvedName is set (unresolved), never both.
type ReferenceEdge struct {
	FromSymbolID     string
	ToSymbolID       string
	ToUnresolvedName string
	Kind             string
	FilePath         string
	Line             int
}

// CodeSnippet is one element of a ContextPack's code_snippets.
type CodeSnippet struct {
	FilePath  string
	StartLine int
	EndLine   int
	Content   string
}

// InvalidationTrigger names a file or symbol whose change must evict the
// owning pack.
type InvalidationTrigger struct {
	Kind string // "file" or "symbol"
	Key  string
}

const (
	TriggerKindFile   = "file"
	TriggerKindSymbol = "symbol"
)

// ContextPack is a Context Pack per spec.md §3.
type ContextPack struct {
	PackID               string
	PackType             string // symbol, module, topic
	TargetID             string
	SchemaVersion        int
	ContentHash          string
	Summary              string
	KeyFacts             []string
	CodeSnippets         []CodeSnippet
	RelatedFiles         []string
	InvalidationTriggers []InvalidationTrigger
	Confidence           float64
	VersionString        string
	CreatedAt            time.Time
}

const (
	PackTypeSymbol = "symbol"
	PackTypeModule = "module"
	PackTypeTopic  = "topic"
)

// EmbeddingRecord is an Embedding Record per spec.md §3.
type EmbeddingRecord struct {
	OwnerKind     string // pack, symbol, chunk
	OwnerID       string
	ModelName     string
	ModelDim      int
	ModelRevision string
	Vector        []float32
	CreatedAt     time.Time
}

const (
	OwnerKindPack   = "pack"
	OwnerKindSymbol = "symbol"
	OwnerKindChunk  = "chunk"
)

// Stats summarizes store contents, per get_stats.
type Stats struct {
	SchemaVersion  int
	FileCount      int
	SymbolCount    int
	PackCount      int
	EmbeddingCount int
	NeedsReembed   bool
}

// ModelIdentity is the store's own (name, dim, revision) record of the
// embedding model it last embedded packs with, mirroring
// internal/embed.ModelIdentity's shape without importing that package
// (EmbeddingRecord already duplicates these three fields rather than
// taking a dependency on internal/embed). Persisted under cie_meta so it
// survives process restarts, per spec.md §4.3(e)'s "model identity is
// reported and never silently changes mid-session" guarantee extended
// across sessions.
type ModelIdentity struct {
	Name     string
	Dim      int
	Revision string
}

// Equal compares all three fields, unlike internal/embed.ModelIdentity's
// Equal (Name+Dim only, Revision changes tolerated within a process's
// lifetime): a Revision bump still marks the persisted record stale, since
// it means the provider re-trained or re-quantized the same named model.
func (m ModelIdentity) Equal(other ModelIdentity) bool {
	return m.Name == other.Name && m.Dim == other.Dim && m.Revision == other.Revision
}

// CallerEdge is one row of the inverse callers(symbol_id) -> [edge] index.
type CallerEdge struct {
	CallerSymbolID string
	FilePath       string
	Line           int
}
