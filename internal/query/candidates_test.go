package query

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kodecortex/cie/internal/storage"
)

func TestApplyFilter_AffectedFilesNarrowsToMatchingPacksOnly(t *testing.T) {
	set := newCandidateSet()
	set.merge(storage.ContextPack{
		PackID: "pack:a", PackType: storage.PackTypeModule,
		CodeSnippets: []storage.CodeSnippet{{FilePath: "a.go"}},
	}, "lexical", 1.0)
	set.merge(storage.ContextPack{
		PackID: "pack:b", PackType: storage.PackTypeModule,
		CodeSnippets: []storage.CodeSnippet{{FilePath: "b.go"}},
	}, "lexical", 1.0)
	set.merge(storage.ContextPack{
		PackID: "pack:c", PackType: storage.PackTypeSymbol,
		CodeSnippets: []storage.CodeSnippet{{FilePath: "c.go"}},
		RelatedFiles: []string{"a.go"},
	}, "lexical", 1.0)

	applyFilter(set, Filter{}, []string{"a.go"})

	_, hasA := set["pack:a"]
	_, hasB := set["pack:b"]
	_, hasC := set["pack:c"]
	assert.True(t, hasA, "pack targeting an affected file must survive")
	assert.False(t, hasB, "pack targeting an unaffected file must be dropped")
	assert.True(t, hasC, "pack related to an affected file must survive")
}

func TestApplyFilter_ExcludeTestsDropsTestFilePacks(t *testing.T) {
	set := newCandidateSet()
	set.merge(storage.ContextPack{
		PackID: "pack:impl", PackType: storage.PackTypeModule,
		CodeSnippets: []storage.CodeSnippet{{FilePath: "foo.go"}},
	}, "lexical", 1.0)
	set.merge(storage.ContextPack{
		PackID: "pack:test", PackType: storage.PackTypeModule,
		CodeSnippets: []storage.CodeSnippet{{FilePath: "foo_test.go"}},
	}, "lexical", 1.0)

	applyFilter(set, Filter{ExcludeTests: true}, nil)

	_, hasImpl := set["pack:impl"]
	_, hasTest := set["pack:test"]
	assert.True(t, hasImpl)
	assert.False(t, hasTest)
}

func TestApplyFilter_NoOpWhenUnset(t *testing.T) {
	set := newCandidateSet()
	set.merge(storage.ContextPack{
		PackID: "pack:a", PackType: storage.PackTypeModule,
		CodeSnippets: []storage.CodeSnippet{{FilePath: "a.go"}},
	}, "lexical", 1.0)

	applyFilter(set, Filter{}, nil)

	assert.Len(t, set, 1)
}
