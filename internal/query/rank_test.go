package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodecortex/cie/internal/storage"
)

func TestRank_OrdersByCombinedScoreThenConfidenceThenPackID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	set := newCandidateSet()
	set.merge(storage.ContextPack{PackID: "pack:b", PackType: storage.PackTypeModule, TargetID: "file:b", Confidence: 0.8,
		InvalidationTriggers: []storage.InvalidationTrigger{{Kind: storage.TriggerKindFile, Key: "b.go"}}}, "lexical", 1.0)
	set.merge(storage.ContextPack{PackID: "pack:a", PackType: storage.PackTypeModule, TargetID: "file:a", Confidence: 1.0,
		InvalidationTriggers: []storage.InvalidationTrigger{{Kind: storage.TriggerKindFile, Key: "a.go"}}}, "lexical", 1.0)

	results := rank(ctx, s, set)
	require.Len(t, results, 2)
	assert.Equal(t, "pack:a", results[0].PackID, "higher confidence ranks first when combined score ties")
	assert.Equal(t, "pack:b", results[1].PackID)
}

func TestRank_TieBreaksOnPackIDWhenScoreAndConfidenceEqual(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	set := newCandidateSet()
	set.merge(storage.ContextPack{PackID: "pack:z", PackType: storage.PackTypeModule, TargetID: "file:z", Confidence: 1.0}, "lexical", 1.0)
	set.merge(storage.ContextPack{PackID: "pack:a", PackType: storage.PackTypeModule, TargetID: "file:a", Confidence: 1.0}, "lexical", 1.0)

	results := rank(ctx, s, set)
	require.Len(t, results, 2)
	assert.Equal(t, "pack:a", results[0].PackID, "lexicographically smaller pack_id ranks first on a full tie")
}

func TestRank_CombinesEnginesWithFixedWeights(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	set := newCandidateSet()
	pack := storage.ContextPack{PackID: "pack:x", PackType: storage.PackTypeModule, TargetID: "file:x"}
	set.merge(pack, "lexical", 1.0)
	set.merge(pack, "vector", 1.0)

	results := rank(ctx, s, set)
	require.Len(t, results, 1)
	assert.InDelta(t, lexicalWeight+vectorWeight, results[0].CombinedScore, 1e-9)
	assert.ElementsMatch(t, []string{"lexical", "vector"}, results[0].MatchedEngines)
}
