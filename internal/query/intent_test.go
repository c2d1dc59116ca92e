package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyIntent(t *testing.T) {
	cases := []struct {
		text string
		want IntentKind
	}{
		{"who calls ParseFile", IntentStructural},
		{"callers of Store.Open", IntentStructural},
		{"where is ParseFile defined", IntentNavigational},
		{"find the Store type", IntentNavigational},
		{"how does the ingestion pipeline work", IntentExplanatory},
		{"explain the vector index", IntentExplanatory},
		{"xyzzy plugh", IntentUnclassified},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ClassifyIntent(c.text), c.text)
	}
}

func TestEnginesForIntent_RequestedOverridesClassification(t *testing.T) {
	got := enginesForIntent(IntentStructural, []string{"vector"})
	assert.Equal(t, []string{"vector"}, got)
}

func TestEnginesForIntent_StructuralSkipsVector(t *testing.T) {
	got := enginesForIntent(IntentStructural, nil)
	assert.NotContains(t, got, "vector")
	assert.Contains(t, got, "structural")
}

func TestEnginesForIntent_UnclassifiedRunsEverything(t *testing.T) {
	got := enginesForIntent(IntentUnclassified, nil)
	assert.ElementsMatch(t, []string{"lexical", "structural", "vector"}, got)
}
