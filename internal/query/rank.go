package query

import (
	"context"
	"sort"

	"github.com/kodecortex/cie/internal/storage"
)

// Fixed rank weights, decided under spec.md §9's Open Question on how the
// three candidate-generation engines combine into one score — recorded in
// DESIGN.md's Open Question decisions. Lexical dominates since an exact
// name/qualified_name match is the strongest signal a query can get;
// structural (call-graph) facts are next; vector similarity is weighted
// lowest since it is the only approximate signal of the three.
const (
	lexicalWeight    = 0.4
	structuralWeight = 0.35
	vectorWeight     = 0.25
)

// rank implements spec.md §4.7 stage 5: combine per-engine scores into one
// ordering with a fixed weighting, filter out packs no requested engine
// matched, and tie-break deterministically (higher confidence first, then
// shorter qualified_name, then lexicographic pack_id) so repeated queries
// against an unchanged snapshot always return packs in the same order.
func rank(ctx context.Context, backend storage.Backend, set candidateSet) []PackResult {
	results := make([]PackResult, 0, len(set))
	for _, c := range set {
		engines := make([]string, 0, len(c.engines))
		for e := range c.engines {
			engines = append(engines, e)
		}
		sort.Strings(engines)

		combined := c.lexicalScore*lexicalWeight + c.structuralScore*structuralWeight + c.vectorScore*vectorWeight
		results = append(results, PackResult{
			PackID:           c.pack.PackID,
			PackType:         c.pack.PackType,
			TargetID:         c.pack.TargetID,
			Summary:          c.pack.Summary,
			KeyFacts:         c.pack.KeyFacts,
			CodeSnippets:     toPackSnippets(c.pack.CodeSnippets),
			RelatedFiles:     c.pack.RelatedFiles,
			Confidence:       c.pack.Confidence,
			LexicalScore:     c.lexicalScore,
			StructuralScore:  c.structuralScore,
			VectorScore:      c.vectorScore,
			CombinedScore:    combined,
			MatchedEngines:   engines,
			QualifiedNameLen: qualifiedNameLen(ctx, backend, c.pack),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.CombinedScore != b.CombinedScore {
			return a.CombinedScore > b.CombinedScore
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.QualifiedNameLen != b.QualifiedNameLen {
			return a.QualifiedNameLen < b.QualifiedNameLen
		}
		return a.PackID < b.PackID
	})
	return results
}

// qualifiedNameLen resolves the tie-break length input for a pack: for a
// symbol pack, the symbol's actual qualified_name (looked up since a
// ContextPack only stores the symbol_id as TargetID); for module/topic
// packs, the length of the file path named by their single file-kind
// invalidation trigger — the closest analogous unique name a file-scoped
// pack has, since its TargetID is an opaque content hash rather than a
// human-readable identifier.
func qualifiedNameLen(ctx context.Context, backend storage.Backend, pack storage.ContextPack) int {
	if pack.PackType == storage.PackTypeSymbol {
		sym, err := backend.GetSymbol(ctx, pack.TargetID)
		if err == nil && sym != nil {
			return len(sym.QualifiedName)
		}
		return len(pack.TargetID)
	}
	for _, t := range pack.InvalidationTriggers {
		if t.Kind == storage.TriggerKindFile {
			return len(t.Key)
		}
	}
	return len(pack.TargetID)
}

func toPackSnippets(snips []storage.CodeSnippet) []PackSnippet {
	out := make([]PackSnippet, len(snips))
	for i, s := range snips {
		out[i] = PackSnippet{FilePath: s.FilePath, StartLine: s.StartLine, EndLine: s.EndLine, Content: s.Content}
	}
	return out
}
