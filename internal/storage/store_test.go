package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cieerrors "github.com/kodecortex/cie/internal/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(Config{StateDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_SecondOpenFailsWithStorageLocked(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(Config{StateDir: dir})
	require.NoError(t, err)
	defer s1.Close()

	_, err = Open(Config{StateDir: dir})
	require.Error(t, err)
	var ce *cieerrors.CieError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, cieerrors.KindStorageLocked, ce.Kind)
}

func TestPutFileAndDeleteFile(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	f := FileRecord{Path: "main.go", Language: "go", ContentHash: "abc", SizeBytes: 100, LastModified: time.Now(), ParseStatus: ParseStatusOK}
	require.NoError(t, s.PutFile(ctx, f))

	facts := []SymbolFact{{SymbolID: "sym:1", FilePath: "main.go", Kind: "function", Name: "main", QualifiedName: "main.go::main"}}
	require.NoError(t, s.UpsertSymbols(ctx, "main.go", facts, nil))

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FileCount)
	assert.Equal(t, 1, stats.SymbolCount)

	require.NoError(t, s.DeleteFile(ctx, "main.go"))
	stats, err = s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.FileCount)
	assert.Equal(t, 0, stats.SymbolCount)
}

func TestUpsertPack_IdempotentByContentHash(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	pack := ContextPack{
		PackID: "pack:1", PackType: PackTypeSymbol, TargetID: "sym:1",
		SchemaVersion: 1, ContentHash: "hash-a", Summary: "first",
		InvalidationTriggers: []InvalidationTrigger{{Kind: TriggerKindFile, Key: "main.go"}},
	}
	require.NoError(t, s.UpsertPack(ctx, pack))

	got, err := s.GetPackByID(ctx, "pack:1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "first", got.Summary)

	pack.Summary = "changed but same hash"
	require.NoError(t, s.UpsertPack(ctx, pack))
	got, err = s.GetPackByID(ctx, "pack:1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Summary, "re-upsert with same content_hash must be a no-op")

	pack.ContentHash = "hash-b"
	pack.Summary = "updated"
	require.NoError(t, s.UpsertPack(ctx, pack))
	got, err = s.GetPackByID(ctx, "pack:1")
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Summary)
}

func TestFindPacksByTarget(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertPack(ctx, ContextPack{PackID: "p1", PackType: PackTypeSymbol, TargetID: "sym:1", ContentHash: "h1"}))
	require.NoError(t, s.UpsertPack(ctx, ContextPack{PackID: "p2", PackType: PackTypeSymbol, TargetID: "sym:2", ContentHash: "h2"}))

	packs, err := s.FindPacksByTarget(ctx, PackTypeSymbol, "sym:1")
	require.NoError(t, err)
	require.Len(t, packs, 1)
	assert.Equal(t, "p1", packs[0].PackID)
}

func TestEmbedding_UpsertScanDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := EmbeddingRecord{OwnerKind: OwnerKindSymbol, OwnerID: "sym:1", ModelName: "nomic-embed-text", ModelDim: 4, Vector: []float32{0.1, 0.2, 0.3, 0.4}}
	require.NoError(t, s.UpsertEmbedding(ctx, rec))

	scanned, err := s.ScanEmbeddings(ctx, "nomic-embed-text", 4)
	require.NoError(t, err)
	require.Len(t, scanned, 1)
	assert.InDeltaSlice(t, []float64{0.1, 0.2, 0.3, 0.4}, float32sToFloat64s(scanned[0].Vector), 1e-6)

	require.NoError(t, s.DeleteEmbeddingsForOwner(ctx, OwnerKindSymbol, "sym:1"))
	scanned, err = s.ScanEmbeddings(ctx, "nomic-embed-text", 4)
	require.NoError(t, err)
	assert.Empty(t, scanned)
}

func TestEvictByTriggers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	pack := ContextPack{
		PackID: "p1", PackType: PackTypeSymbol, TargetID: "sym:1", ContentHash: "h1",
		InvalidationTriggers: []InvalidationTrigger{{Kind: TriggerKindFile, Key: "main.go"}},
	}
	require.NoError(t, s.UpsertPack(ctx, pack))
	require.NoError(t, s.UpsertEmbedding(ctx, EmbeddingRecord{OwnerKind: OwnerKindPack, OwnerID: "p1", ModelName: "m", ModelDim: 2, Vector: []float32{1, 2}}))

	require.NoError(t, s.EvictByTriggers(ctx, []InvalidationTrigger{{Kind: TriggerKindFile, Key: "main.go"}}))

	got, err := s.GetPackByID(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, got)

	scanned, err := s.ScanEmbeddings(ctx, "m", 2)
	require.NoError(t, err)
	assert.Empty(t, scanned)
}

func TestGetCallers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	facts := []SymbolFact{{SymbolID: "sym:caller", FilePath: "a.go", Kind: "function", Name: "caller"}}
	edges := []ReferenceEdge{{FromSymbolID: "sym:caller", ToSymbolID: "sym:callee", Kind: "calls", FilePath: "a.go", Line: 10}}
	require.NoError(t, s.UpsertSymbols(ctx, "a.go", facts, edges))

	callers, err := s.GetCallers(ctx, "sym:callee")
	require.NoError(t, err)
	require.Len(t, callers, 1)
	assert.Equal(t, "sym:caller", callers[0].CallerSymbolID)
}

func TestFindSymbols_MatchesByNamePatternAndKind(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	facts := []SymbolFact{
		{SymbolID: "sym:1", FilePath: "a.go", Kind: "function", Name: "ParseFile", QualifiedName: "a.go::ParseFile"},
		{SymbolID: "sym:2", FilePath: "a.go", Kind: "function", Name: "ParseDir", QualifiedName: "a.go::ParseDir"},
		{SymbolID: "sym:3", FilePath: "a.go", Kind: "method", Name: "Server.Parse", QualifiedName: "a.go::Server.Parse"},
	}
	require.NoError(t, s.UpsertSymbols(ctx, "a.go", facts, nil))

	got, err := s.FindSymbols(ctx, SymbolQuery{NamePattern: "Parse%", Kind: "function"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ParseDir", got[0].Name, "ordered by name")
	assert.Equal(t, "ParseFile", got[1].Name)
}

func TestFindSymbols_RespectsLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var facts []SymbolFact
	for i := 0; i < 5; i++ {
		facts = append(facts, SymbolFact{SymbolID: fmt.Sprintf("sym:%d", i), FilePath: "a.go", Kind: "function", Name: fmt.Sprintf("Fn%d", i)})
	}
	require.NoError(t, s.UpsertSymbols(ctx, "a.go", facts, nil))

	got, err := s.FindSymbols(ctx, SymbolQuery{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestListFiles_FiltersByPathPattern(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutFile(ctx, FileRecord{Path: "pkg/a.go", Language: "go", ContentHash: "h1", ParseStatus: ParseStatusOK}))
	require.NoError(t, s.PutFile(ctx, FileRecord{Path: "pkg/b.go", Language: "go", ContentHash: "h2", ParseStatus: ParseStatusOK}))
	require.NoError(t, s.PutFile(ctx, FileRecord{Path: "docs/readme.md", Language: "", ContentHash: "h3", ParseStatus: ParseStatusOK}))

	got, err := s.ListFiles(ctx, "pkg/%", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "pkg/a.go", got[0].Path)
}

func TestVectorCodec_RoundTrip(t *testing.T) {
	vec := []float32{-1.5, 0, 0.333, 42.0}
	blob, err := encodeVector(vec)
	require.NoError(t, err)
	decoded, err := decodeVector(blob)
	require.NoError(t, err)
	assert.Equal(t, vec, decoded)
}

func TestOpen_CreatesDBFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{StateDir: dir})
	require.NoError(t, err)
	defer s.Close()
	assert.FileExists(t, filepath.Join(dir, "cie.db"))
}

func TestModelIdentity_NilWhenNeverSet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	identity, err := s.GetModelIdentity(ctx)
	require.NoError(t, err)
	assert.Nil(t, identity)

	needsReembed, err := s.NeedsReembed(ctx)
	require.NoError(t, err)
	assert.False(t, needsReembed)
}

func TestModelIdentity_SetAndGetRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	want := ModelIdentity{Name: "nomic-embed-text", Dim: 768, Revision: "v1.5"}
	require.NoError(t, s.SetModelIdentity(ctx, want))

	got, err := s.GetModelIdentity(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)
}

func TestSetModelIdentity_ClearsNeedsReembed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetNeedsReembed(ctx, true))
	needsReembed, err := s.NeedsReembed(ctx)
	require.NoError(t, err)
	assert.True(t, needsReembed)

	require.NoError(t, s.SetModelIdentity(ctx, ModelIdentity{Name: "m", Dim: 8}))
	needsReembed, err = s.NeedsReembed(ctx)
	require.NoError(t, err)
	assert.False(t, needsReembed, "recording a fresh identity should clear the marker")
}

func TestModelIdentity_Equal(t *testing.T) {
	base := ModelIdentity{Name: "m", Dim: 8, Revision: "r1"}
	assert.True(t, base.Equal(ModelIdentity{Name: "m", Dim: 8, Revision: "r1"}))
	assert.False(t, base.Equal(ModelIdentity{Name: "m", Dim: 8, Revision: "r2"}), "a revision change alone must be considered drift")
	assert.False(t, base.Equal(ModelIdentity{Name: "other", Dim: 8, Revision: "r1"}))
}

func float32sToFloat64s(vec []float32) []float64 {
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}
