package embed

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_Embed_OrderPreserved(t *testing.T) {
	provider := &MockProvider{ModelName: "test", DimSize: 16}
	gen := NewGenerator(provider, 4, nil)

	texts := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	results, err := gen.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, results, len(texts))

	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.NoError(t, r.Err)
		assert.Len(t, r.Vector, 16)
	}
}

func TestGenerator_Embed_L2Normalized(t *testing.T) {
	provider := &MockProvider{ModelName: "test", DimSize: 8}
	gen := NewGenerator(provider, 1, nil)

	results, err := gen.Embed(context.Background(), []string{"hello world"})
	require.NoError(t, err)
	require.Len(t, results, 1)

	norm := l2Norm(results[0].Vector)
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestGenerator_Embed_Deterministic(t *testing.T) {
	provider := &MockProvider{ModelName: "test", DimSize: 8}
	gen := NewGenerator(provider, 1, nil)

	r1, err := gen.Embed(context.Background(), []string{"same text"})
	require.NoError(t, err)
	r2, err := gen.Embed(context.Background(), []string{"same text"})
	require.NoError(t, err)

	assert.Equal(t, r1[0].Vector, r2[0].Vector)
}

type flakyProvider struct {
	calls int
	dim   int
}

func (f *flakyProvider) Name() string { return "flaky" }
func (f *flakyProvider) Dim() int     { return f.dim }
func (f *flakyProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.calls < 2 {
		return nil, errors.New("connection reset by peer")
	}
	vec := make([]float32, f.dim)
	vec[0] = 1.0
	return vec, nil
}

func TestGenerator_Embed_RetriesTransientError(t *testing.T) {
	provider := &flakyProvider{dim: 4}
	gen := NewGenerator(provider, 1, nil)
	gen.SetRetryPolicy(RetryPolicy{MaxAttempts: 3, BaseDelay: 1, MaxDelay: 2, Jitter: false})

	results, err := gen.Embed(context.Background(), []string{"retry me"})
	require.NoError(t, err)
	assert.NoError(t, results[0].Err)
	assert.GreaterOrEqual(t, provider.calls, 2)
}

type wrongDimProvider struct{}

func (w *wrongDimProvider) Name() string { return "wrongdim" }
func (w *wrongDimProvider) Dim() int     { return 16 }
func (w *wrongDimProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, 4), nil
}

func TestGenerator_Embed_DimensionMismatch(t *testing.T) {
	gen := NewGenerator(&wrongDimProvider{}, 1, nil)
	results, err := gen.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	require.Error(t, results[0].Err)
}

type zeroNormProvider struct{ dim int }

func (z *zeroNormProvider) Name() string { return "zero" }
func (z *zeroNormProvider) Dim() int     { return z.dim }
func (z *zeroNormProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, z.dim), nil
}

func TestGenerator_Embed_ZeroNorm(t *testing.T) {
	gen := NewGenerator(&zeroNormProvider{dim: 8}, 1, nil)
	results, err := gen.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.True(t, results[0].ZeroNorm)
}

func TestModelIdentity_Equal(t *testing.T) {
	a := ModelIdentity{Name: "nomic-embed-text", Dim: 768, Revision: "v1"}
	b := ModelIdentity{Name: "nomic-embed-text", Dim: 768, Revision: "v2"}
	c := ModelIdentity{Name: "nomic-embed-text", Dim: 384}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestGenerator_Embed_BatchChunking(t *testing.T) {
	provider := &MockProvider{ModelName: "test", DimSize: 4}
	gen := NewGenerator(provider, 2, nil)
	gen.SetBatchLimits(BatchLimits{MaxItems: 2, MaxBytes: 1 << 20})

	texts := []string{"a", "b", "c", "d", "e"}
	results, err := gen.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
	}
}
