package query

import (
	"context"
	"sort"
	"strings"

	"github.com/kodecortex/cie/internal/embed"
	"github.com/kodecortex/cie/internal/storage"
	"github.com/kodecortex/cie/internal/vectorindex"
)

// candidate accumulates per-engine scores for a single pack across the
// lexical/structural/vector candidate-generation stages (spec.md §4.7
// stage 4), keyed by pack id so the same pack surfaced by more than one
// engine gets its scores merged rather than appearing twice.
type candidate struct {
	pack            storage.ContextPack
	lexicalScore    float64
	structuralScore float64
	vectorScore     float64
	engines         map[string]bool
}

// candidateSet accumulates candidates keyed by pack id across engines.
type candidateSet map[string]*candidate

func newCandidateSet() candidateSet {
	return make(candidateSet)
}

func (c candidateSet) merge(pack storage.ContextPack, engine string, score float64) {
	cand, ok := c[pack.PackID]
	if !ok {
		cand = &candidate{pack: pack, engines: make(map[string]bool)}
		c[pack.PackID] = cand
	}
	cand.engines[engine] = true
	switch engine {
	case "lexical":
		if score > cand.lexicalScore {
			cand.lexicalScore = score
		}
	case "structural":
		if score > cand.structuralScore {
			cand.structuralScore = score
		}
	case "vector":
		if score > cand.vectorScore {
			cand.vectorScore = score
		}
	}
}

// lexicalCandidates implements spec.md §4.7 stage 4a: search cie_symbol by
// name/qualified_name and return the matched symbol facts. Pipeline.Query
// attaches each match's own symbol pack; the module and topic packs of its
// file are not attached. Grounded on the teacher's
// SearchText (pkg/tools/search.go), retargeted from a regex Datalog
// condition to storage.FindSymbols' typed SQL LIKE query.
func lexicalCandidates(ctx context.Context, backend storage.Backend, intent string, filter Filter, limit int) ([]storage.SymbolFact, error) {
	terms := extractKeyTerms(intent)
	if len(terms) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool)
	var out []storage.SymbolFact
	for _, term := range terms {
		facts, err := backend.FindSymbols(ctx, storage.SymbolQuery{
			NamePattern: "%" + term + "%",
			Kind:        filter.Kind,
			FilePath:    filter.PathPattern,
			Limit:       limit,
		})
		if err != nil {
			return nil, err
		}
		for _, f := range facts {
			if seen[f.SymbolID] {
				continue
			}
			seen[f.SymbolID] = true
			out = append(out, f)
		}
	}
	return out, nil
}

// extractKeyTerms pulls searchable identifier-like tokens out of free text,
// grounded on the teacher's ExtractKeyTerms (pkg/tools, referenced from
// semantic.go's fallback path) — here reimplemented directly since
// pkg/tools itself is not imported by internal/query.
func extractKeyTerms(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	})
	stop := map[string]bool{
		"the": true, "a": true, "an": true, "is": true, "are": true, "of": true,
		"to": true, "in": true, "for": true, "and": true, "or": true, "does": true,
		"do": true, "what": true, "how": true, "where": true, "who": true, "find": true,
		"show": true, "me": true, "list": true, "calls": true, "call": true, "callers": true,
	}
	var terms []string
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if stop[strings.ToLower(f)] {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

// structuralCandidates implements spec.md §4.7 stage 4b: resolve the
// matched symbols' callers via the Storage Engine's inverse call index.
// Grounded on the teacher's graph-traversal tools (find callers via
// *cie_function_call Datalog rules), retargeted to storage.GetCallers.
func structuralCandidates(ctx context.Context, backend storage.Backend, seedSymbolIDs []string) ([]storage.CallerEdge, error) {
	var out []storage.CallerEdge
	for _, id := range seedSymbolIDs {
		edges, err := backend.GetCallers(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, edges...)
	}
	return out, nil
}

// vectorCandidates implements spec.md §4.7 stage 4c: embed the intent text
// with the same model identity the Ingestion Pipeline used, then search
// the Vector Index for the nearest pack embeddings. Embeddings only ever
// exist for owner_kind=pack (internal/ingest never embeds symbols/chunks
// individually), so every hit is already a pack owner id. Grounded on the
// teacher's executeHNSWQuery (pkg/tools/semantic.go) — the k/ef query
// shape is mirrored by vectorindex.SearchOptions.
func vectorCandidates(ctx context.Context, idx *vectorindex.Index, gen *embed.Generator, intent string, k int) ([]vectorindex.Result, error) {
	if gen == nil || idx == nil || idx.Len() == 0 {
		return nil, nil
	}
	results, err := gen.Embed(ctx, []string{intent})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 || results[0].Err != nil || results[0].ZeroNorm {
		return nil, nil
	}
	hits := idx.Search(results[0].Vector, vectorindex.SearchOptions{
		K: k,
		Filter: func(ownerKind, ownerID string) bool {
			return ownerKind == storage.OwnerKindPack
		},
	})
	return hits, nil
}

// applyFilter implements spec.md §4.7 stage 5's "apply filter (e.g.,
// exclude_tests, affected_files)": it drops candidates in place rather
// than merely threading the fields through the cache key. affectedFiles,
// when non-empty, narrows the set to packs whose primary file or any
// related file is in the set; excludeTests drops packs whose primary
// file looks like a test file regardless of affectedFiles.
func applyFilter(set candidateSet, filter Filter, affectedFiles []string) {
	if len(affectedFiles) == 0 && !filter.ExcludeTests {
		return
	}
	affected := make(map[string]bool, len(affectedFiles))
	for _, f := range affectedFiles {
		affected[f] = true
	}
	for id, cand := range set {
		primary := packPrimaryFile(cand.pack)
		if filter.ExcludeTests && isTestFile(primary) {
			delete(set, id)
			continue
		}
		if len(affected) > 0 && !packMatchesAffectedFiles(cand.pack, primary, affected) {
			delete(set, id)
		}
	}
}

// packPrimaryFile returns the file path the pack is most directly about:
// every pack type's first code snippet is always drawn from its own
// target file (BuildSymbolPack's single snippet, BuildModulePack's
// file-head snippet, BuildTopicPack's representative snippet).
func packPrimaryFile(pack storage.ContextPack) string {
	if len(pack.CodeSnippets) == 0 {
		return ""
	}
	return pack.CodeSnippets[0].FilePath
}

// packMatchesAffectedFiles reports whether pack's primary file or any of
// its related files is in the affected set.
func packMatchesAffectedFiles(pack storage.ContextPack, primary string, affected map[string]bool) bool {
	if primary != "" && affected[primary] {
		return true
	}
	for _, f := range pack.RelatedFiles {
		if affected[f] {
			return true
		}
	}
	return false
}

// isTestFile mirrors internal/ingest's entry-point test-filename
// conventions, narrowed to just the "is this a test file" question
// (internal/ingest.isEntryPoint also fires on cmd/main.go entrypoints,
// which aren't test files).
func isTestFile(filePath string) bool {
	base := strings.ToLower(filePath)
	return strings.HasSuffix(base, "_test.go") ||
		strings.HasSuffix(base, ".test.ts") ||
		strings.HasSuffix(base, ".test.js") ||
		strings.HasSuffix(base, ".spec.ts") ||
		strings.HasSuffix(base, ".spec.js")
}

// sortedPackIDs returns a candidate set's keys sorted lexicographically,
// giving a deterministic iteration order over the set. Nothing in the
// package calls it; pack_snapshot_hash is computed from the store's
// content hashes instead.
func sortedPackIDs(set candidateSet) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
