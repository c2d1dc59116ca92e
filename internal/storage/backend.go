package storage

import "context"

// Backend is the interface every Storage Engine implementation satisfies.
// Grounded on the teacher's storage.Backend (Query/Execute/Close), expanded
// to spec.md §4.4's named operation set now that the engine speaks typed
// Go rather than Datalog strings.
type Backend interface {
	PutFile(ctx context.Context, f FileRecord) error
	GetFile(ctx context.Context, path string) (*FileRecord, error)
	DeleteFile(ctx context.Context, path string) error

	UpsertSymbols(ctx context.Context, filePath string, facts []SymbolFact, edges []ReferenceEdge) error

	UpsertPack(ctx context.Context, pack ContextPack) error
	GetPackByID(ctx context.Context, packID string) (*ContextPack, error)
	FindPacksByTarget(ctx context.Context, packType, targetID string) ([]ContextPack, error)

	UpsertEmbedding(ctx context.Context, rec EmbeddingRecord) error
	DeleteEmbeddingsForOwner(ctx context.Context, ownerKind, ownerID string) error
	ScanEmbeddings(ctx context.Context, modelName string, modelDim int) ([]EmbeddingRecord, error)

	GetModelIdentity(ctx context.Context) (*ModelIdentity, error)
	SetModelIdentity(ctx context.Context, identity ModelIdentity) error
	NeedsReembed(ctx context.Context) (bool, error)
	SetNeedsReembed(ctx context.Context, needsReembed bool) error

	GetCallers(ctx context.Context, symbolID string) ([]CallerEdge, error)

	FindSymbols(ctx context.Context, q SymbolQuery) ([]SymbolFact, error)
	GetSymbol(ctx context.Context, symbolID string) (*SymbolFact, error)
	ListFiles(ctx context.Context, pathPattern string, limit int) ([]FileRecord, error)

	ListPackContentHashes(ctx context.Context) ([]string, error)

	GetStats(ctx context.Context) (Stats, error)
	EvictByTriggers(ctx context.Context, triggers []InvalidationTrigger) error

	Close() error
}
