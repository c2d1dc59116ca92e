package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"./a/b.go":   "a/b.go",
		"a//b/../c":  "a/c",
		"/abs/d.go":  "abs/d.go",
		"plain.go":   "plain.go",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePath(in), "input %q", in)
	}
}

func TestSymbolID_StableAcrossRuns(t *testing.T) {
	span := Span{StartLine: 10, EndLine: 20, StartCol: 1, EndCol: 2}
	id1 := SymbolID("a.go", "function", "Foo", span)
	id2 := SymbolID("a.go", "function", "Foo", span)
	assert.Equal(t, id1, id2)
}

func TestSymbolID_ExcludesSignature(t *testing.T) {
	// Signature isn't even a parameter: changing nothing but call shape
	// (same path/kind/name/span) must always produce the same ID.
	span := Span{StartLine: 1, EndLine: 5, StartCol: 0, EndCol: 1}
	id1 := SymbolID("x.go", "function", "Bar", span)
	id2 := SymbolID("x.go", "function", "Bar", span)
	assert.Equal(t, id1, id2)
}

func TestSymbolID_DiffersOnColumns(t *testing.T) {
	id1 := SymbolID("x.go", "function", "Bar", Span{StartLine: 1, EndLine: 1, StartCol: 0, EndCol: 3})
	id2 := SymbolID("x.go", "function", "Bar", Span{StartLine: 1, EndLine: 1, StartCol: 4, EndCol: 7})
	assert.NotEqual(t, id1, id2)
}

func TestFileID_LongPathIsHashed(t *testing.T) {
	long := ""
	for i := 0; i < 300; i++ {
		long += "a"
	}
	id := FileID(long)
	assert.Less(t, len(id), len(long))
}

func TestCanonicalJSON_KeysSorted(t *testing.T) {
	v := map[string]any{"b": 1, "a": 2}
	out, err := CanonicalJSON(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1}`, string(out))
}

func TestCanonicalJSON_MinimalNumberForm(t *testing.T) {
	out, err := CanonicalJSON(3.0)
	require.NoError(t, err)
	assert.Equal(t, "3", string(out))
}

func TestCanonicalJSON_DeterministicAcrossCalls(t *testing.T) {
	type payload struct {
		Name string   `json:"name"`
		Tags []string `json:"tags"`
	}
	v := payload{Name: "x", Tags: []string{"b", "a"}}
	out1, err1 := CanonicalJSON(v)
	out2, err2 := CanonicalJSON(v)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, out1, out2)
}

func TestCanonicalJSON_CycleDetected(t *testing.T) {
	type node struct {
		Next *node
	}
	n := &node{}
	n.Next = n
	_, err := CanonicalJSON(n)
	require.Error(t, err)
	var encErr *EncodeError
	assert.ErrorAs(t, err, &encErr)
}

func TestContentHash_Deterministic(t *testing.T) {
	h1 := ContentHash([]byte("hello"))
	h2 := ContentHash([]byte("hello"))
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}
