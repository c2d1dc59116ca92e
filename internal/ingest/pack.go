package ingest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kodecortex/cie/internal/fingerprint"
	"github.com/kodecortex/cie/internal/lang"
	"github.com/kodecortex/cie/internal/storage"
)

// maxSnippetLines is the per-pack line budget for a symbol's code snippet,
// per spec.md §4.5 ("clamped to a max line budget"). Kept a fixed constant
// rather than a config knob since the corpus gives no guidance on where
// this should be tunable.
const maxSnippetLines = 200

// packInput wraps a storage.ContextPack so that its WithoutContentHash
// projection leaves ContentHash out, so fingerprint.PackContentHash(p)
// never hashes the pack's own output — satisfies fingerprint.PackHashable.
type packInput struct {
	pack storage.ContextPack
}

func (p packInput) WithoutContentHash() any {
	cp := p.pack
	cp.ContentHash = ""
	return struct {
		PackID               string
		PackType             string
		TargetID             string
		SchemaVersion        int
		Summary              string
		KeyFacts             []string
		CodeSnippets         []storage.CodeSnippet
		RelatedFiles         []string
		InvalidationTriggers []storage.InvalidationTrigger
		Confidence           float64
		VersionString        string
	}{
		PackID: cp.PackID, PackType: cp.PackType, TargetID: cp.TargetID,
		SchemaVersion: cp.SchemaVersion, Summary: cp.Summary, KeyFacts: cp.KeyFacts,
		CodeSnippets: cp.CodeSnippets, RelatedFiles: cp.RelatedFiles,
		InvalidationTriggers: cp.InvalidationTriggers, Confidence: cp.Confidence,
		VersionString: cp.VersionString,
	}
}

// finalizePack computes and sets content_hash, per spec.md §3's Context
// Pack invariant (a).
func finalizePack(p storage.ContextPack) (storage.ContextPack, error) {
	hash, err := fingerprint.PackContentHash(packInput{pack: p})
	if err != nil {
		return p, fmt.Errorf("compute pack content hash: %w", err)
	}
	p.ContentHash = hash
	return p, nil
}

// mergeOverlappingSnippets implements the Open Question #2 decision
// (DESIGN.md): snippets in the same file whose [start_line,end_line]
// ranges overlap or are adjacent (next start <= current end + 1) are
// merged into one spanning the union, before the max-line-budget clamp is
// applied.
func mergeOverlappingSnippets(snippets []storage.CodeSnippet, source map[string][]string) []storage.CodeSnippet {
	byFile := make(map[string][]storage.CodeSnippet)
	var order []string
	for _, s := range snippets {
		if _, ok := byFile[s.FilePath]; !ok {
			order = append(order, s.FilePath)
		}
		byFile[s.FilePath] = append(byFile[s.FilePath], s)
	}

	var merged []storage.CodeSnippet
	for _, file := range order {
		group := byFile[file]
		sort.Slice(group, func(i, j int) bool { return group[i].StartLine < group[j].StartLine })

		var current storage.CodeSnippet
		started := false
		for _, s := range group {
			if !started {
				current = s
				started = true
				continue
			}
			if s.StartLine <= current.EndLine+1 {
				if s.EndLine > current.EndLine {
					current.EndLine = s.EndLine
				}
				continue
			}
			merged = append(merged, clampSnippet(current, source[file]))
			current = s
		}
		if started {
			merged = append(merged, clampSnippet(current, source[file]))
		}
	}
	return merged
}

// clampSnippet enforces maxSnippetLines and re-slices Content from the
// file's lines, since merging spans can change a snippet's extent.
func clampSnippet(s storage.CodeSnippet, lines []string) storage.CodeSnippet {
	if s.EndLine-s.StartLine+1 > maxSnippetLines {
		s.EndLine = s.StartLine + maxSnippetLines - 1
	}
	if lines != nil {
		start := s.StartLine - 1
		end := s.EndLine
		if start < 0 {
			start = 0
		}
		if end > len(lines) {
			end = len(lines)
		}
		if start < end {
			s.Content = strings.Join(lines[start:end], "\n")
		}
	}
	return s
}

// symbolSummary produces the pack's deterministic one-line summary, per
// spec.md §4.5.
func symbolSummary(sym lang.Symbol) string {
	kind := sym.Kind
	switch kind {
	case lang.KindFunction:
		kind = "function"
	case lang.KindMethod:
		kind = "method"
	case lang.KindClass:
		kind = "class"
	}
	vis := sym.Visibility
	if vis == "" {
		vis = "private"
	}
	return fmt.Sprintf("%s %s %s defined in %s at line %d", vis, kind, sym.Name, sym.FilePath, sym.Span.StartLine)
}

// BuildSymbolPack assembles a symbol pack per spec.md §4.5: summary,
// the symbol's own snippet (clamped), related_files reached through one
// hop of references, and invalidation_triggers covering the file and
// each directly referenced file.
func BuildSymbolPack(sym lang.Symbol, source []string, oneHopRefs []storage.ReferenceEdge) (storage.ContextPack, error) {
	symbolID := sym.ID()
	snippet := clampSnippet(storage.CodeSnippet{
		FilePath:  sym.FilePath,
		StartLine: sym.Span.StartLine,
		EndLine:   sym.Span.EndLine,
	}, source)

	relatedSet := map[string]bool{}
	triggerSet := map[string]bool{sym.FilePath: true}
	for _, ref := range oneHopRefs {
		if ref.FilePath != "" && ref.FilePath != sym.FilePath {
			relatedSet[ref.FilePath] = true
			triggerSet[ref.FilePath] = true
		}
	}

	related := sortedKeys(relatedSet)
	var triggers []storage.InvalidationTrigger
	for _, f := range sortedKeys(triggerSet) {
		triggers = append(triggers, storage.InvalidationTrigger{Kind: storage.TriggerKindFile, Key: f})
	}
	triggers = append(triggers, storage.InvalidationTrigger{Kind: storage.TriggerKindSymbol, Key: symbolID})

	pack := storage.ContextPack{
		PackID:               fingerprint.PackID(storage.PackTypeSymbol, symbolID),
		PackType:             storage.PackTypeSymbol,
		TargetID:             symbolID,
		SchemaVersion:        1,
		Summary:              symbolSummary(sym),
		CodeSnippets:         []storage.CodeSnippet{snippet},
		RelatedFiles:         related,
		InvalidationTriggers: triggers,
		Confidence:           1.0,
		VersionString:        "v1",
	}
	return finalizePack(pack)
}

// BuildModulePack aggregates a file's exported symbols plus a file-level
// snippet head, per spec.md §4.5's "module packs aggregate the module's
// exported symbols and a file-level snippet head."
func BuildModulePack(filePath string, exported []lang.Symbol, source []string) (storage.ContextPack, error) {
	headEnd := 40
	if len(source) < headEnd {
		headEnd = len(source)
	}
	sourceByFile := map[string][]string{filePath: source}

	snippets := []storage.CodeSnippet{{FilePath: filePath, StartLine: 1, EndLine: headEnd}}
	for _, sym := range exported {
		snippets = append(snippets, storage.CodeSnippet{FilePath: filePath, StartLine: sym.Span.StartLine, EndLine: sym.Span.EndLine})
	}
	merged := mergeOverlappingSnippets(snippets, sourceByFile)

	var keyFacts []string
	names := make([]string, 0, len(exported))
	for _, sym := range exported {
		names = append(names, sym.Name)
	}
	sort.Strings(names)
	for _, n := range names {
		keyFacts = append(keyFacts, fmt.Sprintf("exports %s", n))
	}

	targetID := fingerprint.FileID(filePath)
	pack := storage.ContextPack{
		PackID:        fingerprint.PackID(storage.PackTypeModule, targetID),
		PackType:      storage.PackTypeModule,
		TargetID:      targetID,
		SchemaVersion: 1,
		Summary:       fmt.Sprintf("module %s exports %d symbol(s)", filePath, len(exported)),
		KeyFacts:      keyFacts,
		CodeSnippets:  merged,
		RelatedFiles:  nil,
		InvalidationTriggers: []storage.InvalidationTrigger{
			{Kind: storage.TriggerKindFile, Key: filePath},
		},
		Confidence:    1.0,
		VersionString: "v1",
	}
	return finalizePack(pack)
}

// isEntryPoint implements spec.md §4.5's "entry-point heuristic" for
// emitting topic packs: main files, CLI registrations, test entry points.
// Delegates to the Language Facade's own KindEntryPoint symbol marker
// where the extractor set one (goTreeSitterExtractor.hasMain and
// equivalents), falling back to filename conventions.
func isEntryPoint(filePath string, symbols []lang.Symbol) bool {
	for _, sym := range symbols {
		if sym.Kind == lang.KindEntryPoint {
			return true
		}
	}
	base := strings.ToLower(filePath)
	return strings.HasSuffix(base, "_test.go") ||
		strings.HasSuffix(base, ".test.ts") ||
		strings.HasSuffix(base, ".test.js") ||
		strings.Contains(base, "test_") ||
		strings.HasSuffix(base, "cmd/main.go")
}

// BuildTopicPack emits a topic pack when the entry-point heuristic fires,
// per spec.md §4.5.
func BuildTopicPack(filePath string, symbols []lang.Symbol, source []string) (storage.ContextPack, error) {
	var names []string
	for _, sym := range symbols {
		names = append(names, sym.Name)
	}
	sort.Strings(names)

	headEnd := 30
	if len(source) < headEnd {
		headEnd = len(source)
	}
	head := clampSnippet(storage.CodeSnippet{FilePath: filePath, StartLine: 1, EndLine: headEnd}, source)

	targetID := fingerprint.FileID(filePath)
	pack := storage.ContextPack{
		PackID:        fingerprint.PackID(storage.PackTypeTopic, targetID),
		PackType:      storage.PackTypeTopic,
		TargetID:      targetID,
		SchemaVersion: 1,
		Summary:       fmt.Sprintf("entry point %s", filePath),
		KeyFacts:      names,
		CodeSnippets:  []storage.CodeSnippet{head},
		InvalidationTriggers: []storage.InvalidationTrigger{
			{Kind: storage.TriggerKindFile, Key: filePath},
		},
		Confidence:    0.8,
		VersionString: "v1",
	}
	return finalizePack(pack)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
