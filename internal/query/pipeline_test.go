package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodecortex/cie/internal/embed"
	cieerrors "github.com/kodecortex/cie/internal/errors"
	"github.com/kodecortex/cie/internal/fingerprint"
	"github.com/kodecortex/cie/internal/storage"
	"github.com/kodecortex/cie/internal/vectorindex"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(storage.Config{StateDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seedParseFile populates a store with one symbol, its symbol pack, and a
// pack embedding, so candidate generation across all three engines has
// something real to find — grounded on internal/ingest/pack.go's
// BuildSymbolPack (PackID = fingerprint.PackID(PackTypeSymbol, symbolID)).
func seedParseFile(t *testing.T, ctx context.Context, s *storage.Store, identity embed.ModelIdentity) (symbolID, packID string) {
	t.Helper()
	symbolID = fingerprint.SymbolID("parser.go", "function", "ParseFile", fingerprint.Span{StartLine: 1, EndLine: 10})
	packID = fingerprint.PackID(storage.PackTypeSymbol, symbolID)

	require.NoError(t, s.PutFile(ctx, storage.FileRecord{Path: "parser.go", Language: "go", ContentHash: "h1", ParseStatus: storage.ParseStatusOK}))
	require.NoError(t, s.UpsertSymbols(ctx, "parser.go", []storage.SymbolFact{
		{SymbolID: symbolID, FilePath: "parser.go", Kind: "function", Name: "ParseFile", QualifiedName: "parser.go::ParseFile"},
	}, nil))
	require.NoError(t, s.UpsertPack(ctx, storage.ContextPack{
		PackID: packID, PackType: storage.PackTypeSymbol, TargetID: symbolID, ContentHash: "pack-hash-1",
		Summary:              "function ParseFile defined in parser.go at line 1",
		Confidence:           1.0,
		InvalidationTriggers: []storage.InvalidationTrigger{{Kind: storage.TriggerKindFile, Key: "parser.go"}},
	}))
	require.NoError(t, s.UpsertEmbedding(ctx, storage.EmbeddingRecord{
		OwnerKind: storage.OwnerKindPack, OwnerID: packID,
		ModelName: identity.Name, ModelDim: identity.Dim, Vector: mustEmbed(t, identity, "parser.go::ParseFile"),
	}))
	return symbolID, packID
}

func mustEmbed(t *testing.T, identity embed.ModelIdentity, text string) []float32 {
	t.Helper()
	provider := &embed.MockProvider{DimSize: identity.Dim}
	vec, err := provider.Embed(context.Background(), text)
	require.NoError(t, err)
	return vec
}

func newTestPipeline(t *testing.T, s *storage.Store) (*Pipeline, embed.ModelIdentity) {
	t.Helper()
	provider := &embed.MockProvider{DimSize: 8}
	gen := embed.NewGenerator(provider, 1, nil)
	identity := gen.Identity()

	idx := vectorindex.New()
	return New(Config{Backend: s, VectorIndex: idx, EmbedGen: gen}), identity
}

func TestQuery_FindsSeededSymbolPackByLexicalMatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p, identity := newTestPipeline(t, s)
	_, packID := seedParseFile(t, ctx, s, identity)

	resp, err := p.Query(ctx, Request{
		Intent:               "find ParseFile",
		Depth:                DepthFull,
		LLMRequirement:       RequirementDisabled,
		EmbeddingRequirement: RequirementOptional,
	})
	require.NoError(t, err)
	assert.Contains(t, resp.PackIDs, packID)
	assert.Equal(t, CacheStateMiss, resp.Diagnostics.CacheState)
}

func TestQuery_CacheHitOnRepeatedRequest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p, identity := newTestPipeline(t, s)
	seedParseFile(t, ctx, s, identity)

	req := Request{Intent: "find ParseFile", Depth: DepthFull, LLMRequirement: RequirementDisabled}

	first, err := p.Query(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, CacheStateMiss, first.Diagnostics.CacheState)

	second, err := p.Query(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, CacheStateHit, second.Diagnostics.CacheState)
	assert.Equal(t, first.PackIDs, second.PackIDs)
}

func TestQuery_CacheInvalidatedByNewPack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p, identity := newTestPipeline(t, s)
	seedParseFile(t, ctx, s, identity)

	req := Request{Intent: "find ParseFile", Depth: DepthFull, LLMRequirement: RequirementDisabled}
	first, err := p.Query(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, CacheStateMiss, first.Diagnostics.CacheState)

	require.NoError(t, s.UpsertPack(ctx, storage.ContextPack{
		PackID: "pack:unrelated", PackType: storage.PackTypeTopic, TargetID: "file:other.go", ContentHash: "different-hash",
	}))

	second, err := p.Query(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, CacheStateMiss, second.Diagnostics.CacheState, "new pack changes pack_snapshot_hash, must miss")
}

func TestQuery_DepthIDsOmitsPackBodies(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p, identity := newTestPipeline(t, s)
	_, packID := seedParseFile(t, ctx, s, identity)

	resp, err := p.Query(ctx, Request{Intent: "find ParseFile", Depth: DepthIDs, LLMRequirement: RequirementDisabled})
	require.NoError(t, err)
	assert.Contains(t, resp.PackIDs, packID)
	assert.Empty(t, resp.Packs, "DepthIDs must not include pack bodies")
}

func TestQuery_RequiredEmbeddingProviderMissingFailsGate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := New(Config{Backend: s})

	_, err := p.Query(ctx, Request{Intent: "find ParseFile", EmbeddingRequirement: RequirementRequired})
	require.Error(t, err)

	cerr, ok := err.(*cieerrors.CieError)
	require.True(t, ok, "expected *cieerrors.CieError, got %T", err)
	assert.Equal(t, cieerrors.KindProviderUnavailable, cerr.Kind)
	assert.NotEmpty(t, cerr.Remediation, "provider_unavailable error must carry a remediation list")
}

func TestQuery_DeterministicSynthesisWithoutProvider(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p, identity := newTestPipeline(t, s)
	seedParseFile(t, ctx, s, identity)

	resp, err := p.Query(ctx, Request{
		Intent: "find ParseFile", Depth: DepthFull,
		ForceSummarySynthesis: true, LLMRequirement: RequirementOptional,
	})
	require.NoError(t, err)
	assert.Equal(t, "deterministic", resp.Diagnostics.SynthesisMode)
	assert.NotEmpty(t, resp.Summary)
}
