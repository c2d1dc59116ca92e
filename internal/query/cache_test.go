package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodecortex/cie/internal/storage"
)

func TestToCanonicalRequest_OrderIndependentOverAffectedFilesAndEngines(t *testing.T) {
	a := toCanonicalRequest(Request{
		Intent:         "find X",
		AffectedFiles:  []string{"b.go", "a.go"},
		IncludeEngines: []string{"vector", "lexical"},
	})
	b := toCanonicalRequest(Request{
		Intent:         "find X",
		AffectedFiles:  []string{"a.go", "b.go"},
		IncludeEngines: []string{"lexical", "vector"},
	})
	assert.Equal(t, a, b)
}

func TestPackSnapshotHash_OrderIndependentOverInsertOrder(t *testing.T) {
	ctx := context.Background()
	s1 := newTestStore(t)
	require.NoError(t, s1.UpsertPack(ctx, storage.ContextPack{PackID: "p1", PackType: storage.PackTypeModule, TargetID: "t1", ContentHash: "hash-a"}))
	require.NoError(t, s1.UpsertPack(ctx, storage.ContextPack{PackID: "p2", PackType: storage.PackTypeModule, TargetID: "t2", ContentHash: "hash-b"}))

	s2 := newTestStore(t)
	require.NoError(t, s2.UpsertPack(ctx, storage.ContextPack{PackID: "p2", PackType: storage.PackTypeModule, TargetID: "t2", ContentHash: "hash-b"}))
	require.NoError(t, s2.UpsertPack(ctx, storage.ContextPack{PackID: "p1", PackType: storage.PackTypeModule, TargetID: "t1", ContentHash: "hash-a"}))

	h1, err := packSnapshotHash(ctx, s1)
	require.NoError(t, err)
	h2, err := packSnapshotHash(ctx, s2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestPackSnapshotHash_ChangesWhenPackSetChanges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.UpsertPack(ctx, storage.ContextPack{PackID: "p1", PackType: storage.PackTypeModule, TargetID: "t1", ContentHash: "hash-a"}))

	before, err := packSnapshotHash(ctx, s)
	require.NoError(t, err)

	require.NoError(t, s.UpsertPack(ctx, storage.ContextPack{PackID: "p2", PackType: storage.PackTypeModule, TargetID: "t2", ContentHash: "hash-b"}))
	after, err := packSnapshotHash(ctx, s)
	require.NoError(t, err)

	assert.NotEqual(t, before, after)
}

func TestResponseCache_EvictsOldestBeyondMaxEntries(t *testing.T) {
	c := newResponseCache()
	policy := CachePolicy{Read: true, Write: true, MaxEntries: 2}

	c.put("k1", Response{Summary: "one"}, policy)
	c.put("k2", Response{Summary: "two"}, policy)
	c.put("k3", Response{Summary: "three"}, policy)

	_, ok := c.get("k1")
	assert.False(t, ok, "oldest entry should be evicted once MaxEntries is exceeded")
	_, ok = c.get("k3")
	assert.True(t, ok)
}
