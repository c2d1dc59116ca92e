package query

import "regexp"

// IntentKind classifies a free-text Request.Intent into one of a fixed set
// of shapes, per spec.md §4.7 stage 1. Classification only influences
// which candidate-generation engines run; rank weights are fixed and do
// not depend on the intent (spec.md §9 Open Question — unclassifiable intents degrade to running
// every engine rather than failing the query); it never changes the
// pipeline's correctness.
type IntentKind string

const (
	IntentStructural    IntentKind = "structural"    // "who calls X", "callers of Y"
	IntentNavigational  IntentKind = "navigational"  // "find X", "where is Y defined"
	IntentExplanatory   IntentKind = "explanatory"   // "how does X work", "what does Y do"
	IntentUnclassified  IntentKind = "unclassified"
)

// Compiled fixed patterns, grounded on the teacher's
// testFilePattern/generatedFilePattern/anonymousFunctionPattern style
// (package-level compiled regexps, case-insensitive, matched against a
// single string).
var (
	structuralPattern   = regexp.MustCompile(`(?i)\b(who calls|callers? of|calls to|references? to|who (uses|imports)|call graph|dependents? of)\b`)
	navigationalPattern = regexp.MustCompile(`(?i)\b(where is|find|locate|show me|list|definition of|defined in)\b`)
	explanatoryPattern  = regexp.MustCompile(`(?i)\b(how does|what does|explain|why does|what is the purpose of|summarize|describe)\b`)
)

// ClassifyIntent maps free text to an IntentKind. A blank or pattern-free
// intent classifies as IntentUnclassified rather than erroring — the
// caller decides whether that is fatal (spec.md §7: intent_unclassifiable
// is non-fatal, falling back to lexical+vector candidate generation).
func ClassifyIntent(text string) IntentKind {
	switch {
	case structuralPattern.MatchString(text):
		return IntentStructural
	case navigationalPattern.MatchString(text):
		return IntentNavigational
	case explanatoryPattern.MatchString(text):
		return IntentExplanatory
	default:
		return IntentUnclassified
	}
}

// enginesForIntent returns which candidate-generation engines to run for a
// classified intent. Unclassified and explanatory intents run every
// engine since neither implies a dominant signal; structural intents skip
// the vector engine (callers/callees are exact graph facts, not semantic
// matches); navigational intents skip the vector engine and favor lexical.
func enginesForIntent(kind IntentKind, requested []string) []string {
	if len(requested) > 0 {
		return requested
	}
	switch kind {
	case IntentStructural:
		return []string{"structural", "lexical"}
	case IntentNavigational:
		return []string{"lexical", "structural"}
	default:
		return []string{"lexical", "structural", "vector"}
	}
}

func engineEnabled(engines []string, name string) bool {
	for _, e := range engines {
		if e == name {
			return true
		}
	}
	return false
}
