package query

import (
	"context"
	"sort"

	"github.com/kodecortex/cie/internal/fingerprint"
	"github.com/kodecortex/cie/internal/storage"
)

// defaultTopN bounds how many ranked packs a DepthIDs/DepthFull response
// carries, per spec.md §4.7 stage 6's "top-N pack ids" wording for L0.
const defaultTopN = 20

// escalate implements spec.md §4.7 stage 6: depth controls how far past
// the directly ranked packs a response reaches, and each level is a
// strict superset of the one below with no re-ranking — escalation only
// ever appends, it never reorders what rank already decided.
func escalate(ctx context.Context, backend storage.Backend, ranked []PackResult, depth Depth) []PackResult {
	if len(ranked) > defaultTopN {
		ranked = ranked[:defaultTopN]
	}
	if depth == DepthIDs || depth == DepthFull {
		return ranked
	}

	// DepthExpanded: for every ranked symbol pack, fetch the module/topic
	// packs of each related file one hop out. Grounded on
	// internal/ingest/pack.go's BuildSymbolPack, which sets RelatedFiles to
	// the files referenced by the symbol's one-hop call edges, and whose
	// TargetID for a module/topic pack is fingerprint.FileID(filePath) —
	// so expansion is FindPacksByTarget(packType, FileID(relatedFile)).
	seen := make(map[string]bool, len(ranked))
	for _, r := range ranked {
		seen[r.PackID] = true
	}

	var expanded []PackResult
	relatedFiles := make(map[string]bool)
	for _, r := range ranked {
		for _, f := range r.RelatedFiles {
			relatedFiles[f] = true
		}
	}

	files := make([]string, 0, len(relatedFiles))
	for f := range relatedFiles {
		files = append(files, f)
	}
	sort.Strings(files)

	for _, f := range files {
		targetID := fingerprint.FileID(f)
		for _, packType := range []string{storage.PackTypeModule, storage.PackTypeTopic} {
			packs, err := backend.FindPacksByTarget(ctx, packType, targetID)
			if err != nil {
				continue
			}
			for _, p := range packs {
				if seen[p.PackID] {
					continue
				}
				seen[p.PackID] = true
				expanded = append(expanded, PackResult{
					PackID:         p.PackID,
					PackType:       p.PackType,
					TargetID:       p.TargetID,
					Summary:        p.Summary,
					KeyFacts:       p.KeyFacts,
					CodeSnippets:   toPackSnippets(p.CodeSnippets),
					RelatedFiles:   p.RelatedFiles,
					Confidence:     p.Confidence,
					MatchedEngines: []string{"escalated"},
				})
			}
		}
	}

	sort.Slice(expanded, func(i, j int) bool { return expanded[i].PackID < expanded[j].PackID })
	return append(ranked, expanded...)
}
