package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodecortex/cie/internal/embed"
	"github.com/kodecortex/cie/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(storage.Config{StateDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIndex_Search_ReturnsTopKByCosineSimilarity(t *testing.T) {
	idx := New()
	identity := embed.ModelIdentity{Name: "m", Dim: 3}

	require.NoError(t, idx.Add("pack", "p1", []float32{1, 0, 0}, identity))
	require.NoError(t, idx.Add("pack", "p2", []float32{0, 1, 0}, identity))
	require.NoError(t, idx.Add("pack", "p3", []float32{0.9, 0.1, 0}, identity))

	results := idx.Search([]float32{1, 0, 0}, SearchOptions{K: 2})
	require.Len(t, results, 2)
	assert.Equal(t, "p1", results[0].OwnerID)
	assert.Equal(t, "p3", results[1].OwnerID)
	assert.Greater(t, results[0].Similarity, results[1].Similarity)
}

func TestIndex_Add_RejectsMixedModelIdentity(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Add("pack", "p1", []float32{1, 0}, embed.ModelIdentity{Name: "model-a", Dim: 2}))

	err := idx.Add("pack", "p2", []float32{0, 1}, embed.ModelIdentity{Name: "model-b", Dim: 2})
	assert.ErrorIs(t, err, ErrIdentityChanged)
	assert.Equal(t, 1, idx.Len(), "rejected add must not mutate the index")
}

func TestIndex_Remove_DecrementsLenAndBumpsGeneration(t *testing.T) {
	idx := New()
	identity := embed.ModelIdentity{Name: "m", Dim: 2}
	require.NoError(t, idx.Add("symbol", "s1", []float32{1, 0}, identity))
	genAfterAdd := idx.Generation()

	idx.Remove("symbol", "s1")
	assert.Equal(t, 0, idx.Len())
	assert.Greater(t, idx.Generation(), genAfterAdd)

	idx.Remove("symbol", "never-added")
	assert.Equal(t, genAfterAdd+1, idx.Generation(), "removing a missing owner must not bump generation again")
}

func TestIndex_Search_FilterExcludesNonMatching(t *testing.T) {
	idx := New()
	identity := embed.ModelIdentity{Name: "m", Dim: 2}
	require.NoError(t, idx.Add("pack", "p1", []float32{1, 0}, identity))
	require.NoError(t, idx.Add("symbol", "s1", []float32{1, 0}, identity))

	results := idx.Search([]float32{1, 0}, SearchOptions{K: 10, Filter: func(ownerKind, ownerID string) bool {
		return ownerKind == "pack"
	}})
	require.Len(t, results, 1)
	assert.Equal(t, "p1", results[0].OwnerID)
}

func TestIndex_RebuildFromScan_ReplacesContentsAndAdoptsIdentity(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	identity := embed.ModelIdentity{Name: "nomic-embed-text", Dim: 4}
	require.NoError(t, store.UpsertEmbedding(ctx, storage.EmbeddingRecord{
		OwnerKind: storage.OwnerKindPack, OwnerID: "p1", ModelName: identity.Name, ModelDim: identity.Dim,
		Vector: []float32{1, 0, 0, 0},
	}))
	require.NoError(t, store.UpsertEmbedding(ctx, storage.EmbeddingRecord{
		OwnerKind: storage.OwnerKindSymbol, OwnerID: "s1", ModelName: identity.Name, ModelDim: identity.Dim,
		Vector: []float32{0, 1, 0, 0},
	}))

	idx := New()
	require.NoError(t, idx.RebuildFromScan(ctx, store, identity))
	assert.Equal(t, 2, idx.Len())

	gotIdentity, has := idx.Identity()
	assert.True(t, has)
	assert.Equal(t, identity, gotIdentity)

	require.NoError(t, idx.RebuildFromScan(ctx, store, identity))
	assert.Equal(t, 2, idx.Len(), "rebuild must replace, not accumulate")
}

func TestCosineSimilarity_OrthogonalVectorsAreZero(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}))
}

func TestCosineSimilarity_MismatchedLengthsAreZero(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}))
}
