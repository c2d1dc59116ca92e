package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/kodecortex/cie/internal/llm"
)

// synthesize implements spec.md §4.7 stage 7: when llm_requirement allows
// it and force_summary_synthesis is set, produce a natural-language
// summary via a chat-completion Provider; otherwise fall back to a
// deterministic concatenation of the ranked packs' summaries, which is
// always available and never depends on an external provider being up.
func synthesize(ctx context.Context, provider llm.Provider, req Request, results []PackResult) (summary string, mode string) {
	deterministic := deterministicSummary(results)

	if req.Deterministic || req.LLMRequirement == RequirementDisabled || !req.ForceSummarySynthesis {
		return deterministic, "deterministic"
	}

	text, err := llm.Synthesize(ctx, provider, toSynthesisRequest(req.Intent, results))
	if err != nil {
		return deterministic, "deterministic"
	}
	return text, "llm"
}

// toSynthesisRequest adapts this pipeline's ranked packs into the
// provider-facing shape internal/llm.Synthesize expects, so prompt
// construction lives in one place (internal/llm.BuildSynthesisPrompt)
// instead of being duplicated against query.PackResult here.
func toSynthesisRequest(intent string, results []PackResult) llm.SynthesisRequest {
	packs := make([]llm.ContextPack, len(results))
	for i, r := range results {
		packs[i] = llm.ContextPack{
			PackType: r.PackType,
			Summary:  r.Summary,
			KeyFacts: r.KeyFacts,
		}
	}
	return llm.SynthesisRequest{Intent: intent, Packs: packs}
}

// deterministicSummary concatenates each ranked pack's summary line in
// rank order, grounded on the teacher's formatSemanticResults/
// formatSemanticResultRow (pkg/tools/semantic.go) numbered-list style.
func deterministicSummary(results []PackResult) string {
	if len(results) == 0 {
		return "No matching context packs found."
	}
	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, r.PackType, r.Summary)
		for _, fact := range r.KeyFacts {
			fmt.Fprintf(&sb, "   - %s\n", fact)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
