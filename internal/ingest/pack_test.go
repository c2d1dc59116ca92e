package ingest

import (
	"strings"
	"testing"

	"github.com/kodecortex/cie/internal/fingerprint"
	"github.com/kodecortex/cie/internal/lang"
	"github.com/kodecortex/cie/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeSource(lines int) []string {
	out := make([]string, lines)
	for i := range out {
		out[i] = "line"
	}
	return out
}

func TestBuildSymbolPack_SetsRelatedFilesAndTriggers(t *testing.T) {
	sym := lang.Symbol{
		FilePath: "pkg/a.go", Kind: lang.KindFunction, Name: "Do",
		Visibility: "public", Span: fingerprint.Span{StartLine: 1, EndLine: 5},
	}
	oneHop := []storage.ReferenceEdge{
		{FromSymbolID: sym.ID(), ToSymbolID: "sym:other", Kind: lang.RefCalls, FilePath: "pkg/b.go", Line: 3},
	}
	pack, err := BuildSymbolPack(sym, fakeSource(10), oneHop)
	require.NoError(t, err)

	assert.Equal(t, storage.PackTypeSymbol, pack.PackType)
	assert.Equal(t, sym.ID(), pack.TargetID)
	assert.Contains(t, pack.RelatedFiles, "pkg/b.go")
	assert.NotEmpty(t, pack.ContentHash)

	foundFileTrigger, foundSymbolTrigger := false, false
	for _, trig := range pack.InvalidationTriggers {
		if trig.Kind == storage.TriggerKindFile && trig.Key == "pkg/b.go" {
			foundFileTrigger = true
		}
		if trig.Kind == storage.TriggerKindSymbol && trig.Key == sym.ID() {
			foundSymbolTrigger = true
		}
	}
	assert.True(t, foundFileTrigger)
	assert.True(t, foundSymbolTrigger)
}

func TestBuildSymbolPack_ContentHashStableAcrossCalls(t *testing.T) {
	sym := lang.Symbol{FilePath: "pkg/a.go", Kind: lang.KindFunction, Name: "Do", Span: fingerprint.Span{StartLine: 1, EndLine: 2}}
	p1, err := BuildSymbolPack(sym, fakeSource(5), nil)
	require.NoError(t, err)
	p2, err := BuildSymbolPack(sym, fakeSource(5), nil)
	require.NoError(t, err)
	assert.Equal(t, p1.ContentHash, p2.ContentHash)
}

func TestBuildModulePack_ListsExportedSymbolsAsKeyFacts(t *testing.T) {
	exported := []lang.Symbol{
		{FilePath: "pkg/a.go", Kind: lang.KindFunction, Name: "Zeta", Visibility: "public", Span: fingerprint.Span{StartLine: 10, EndLine: 12}},
		{FilePath: "pkg/a.go", Kind: lang.KindFunction, Name: "Alpha", Visibility: "public", Span: fingerprint.Span{StartLine: 20, EndLine: 22}},
	}
	pack, err := BuildModulePack("pkg/a.go", exported, fakeSource(50))
	require.NoError(t, err)

	require.Len(t, pack.KeyFacts, 2)
	assert.Equal(t, "exports Alpha", pack.KeyFacts[0], "key facts are sorted by name")
	assert.Equal(t, "exports Zeta", pack.KeyFacts[1])
}

func TestMergeOverlappingSnippets_MergesAdjacentAndOverlapping(t *testing.T) {
	snippets := []storage.CodeSnippet{
		{FilePath: "a.go", StartLine: 1, EndLine: 5},
		{FilePath: "a.go", StartLine: 4, EndLine: 10},
		{FilePath: "a.go", StartLine: 20, EndLine: 25},
	}
	merged := mergeOverlappingSnippets(snippets, nil)
	require.Len(t, merged, 2)
	assert.Equal(t, 1, merged[0].StartLine)
	assert.Equal(t, 10, merged[0].EndLine)
	assert.Equal(t, 20, merged[1].StartLine)
	assert.Equal(t, 25, merged[1].EndLine)
}

func TestClampSnippet_EnforcesMaxLineBudget(t *testing.T) {
	s := storage.CodeSnippet{FilePath: "a.go", StartLine: 1, EndLine: maxSnippetLines + 100}
	clamped := clampSnippet(s, nil)
	assert.Equal(t, maxSnippetLines, clamped.EndLine-clamped.StartLine+1)
}

func TestIsEntryPoint_DetectsTestFilesAndMainCmd(t *testing.T) {
	assert.True(t, isEntryPoint("pkg/foo_test.go", nil))
	assert.True(t, isEntryPoint("cmd/app/cmd/main.go", nil))
	assert.False(t, isEntryPoint("pkg/foo.go", nil))
	assert.True(t, isEntryPoint("pkg/foo.go", []lang.Symbol{{Kind: lang.KindEntryPoint}}))
}

func TestBuildTopicPack_SummaryNamesFile(t *testing.T) {
	pack, err := BuildTopicPack("cmd/app/main.go", []lang.Symbol{{Name: "main"}}, fakeSource(10))
	require.NoError(t, err)
	assert.True(t, strings.Contains(pack.Summary, "cmd/app/main.go"))
	assert.Equal(t, storage.PackTypeTopic, pack.PackType)
}
