package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodecortex/cie/internal/embed"
	"github.com/kodecortex/cie/internal/llm"
	"github.com/kodecortex/cie/internal/query"
)

const sampleGoSource = `package sample

func Greet() string {
	return "hello"
}
`

func newTestWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sample.go"), []byte(sampleGoSource), 0o644))
	return dir
}

func testOptions() Options {
	return Options{
		Silent:      true,
		SkipWatcher: true,
		LLMProvider: &llm.MockProvider{},
		EmbedProvider: &embed.MockProvider{DimSize: 8},
	}
}

func TestInitialize_ReturnsReadyBeforeBootstrapCompletes(t *testing.T) {
	ctx := context.Background()
	ws := newTestWorkspace(t)

	s, err := Initialize(ctx, ws, testOptions())
	require.NoError(t, err)
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	// Query is already servable the instant Initialize returns, per
	// spec.md §4.8 even though bootstrap content may still be running.
	_, err = s.Query(ctx, query.Request{Intent: "find Greet", LLMRequirement: query.RequirementDisabled})
	assert.NoError(t, err)
}

func TestInitialize_BootstrapIngestsWorkspaceFiles(t *testing.T) {
	ctx := context.Background()
	ws := newTestWorkspace(t)

	s, err := Initialize(ctx, ws, testOptions())
	require.NoError(t, err)
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, s.WaitBootstrap(waitCtx))

	result, bootErr := s.LastBootstrap()
	require.NoError(t, bootErr)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.FilesProcessed)

	resp, err := s.Query(ctx, query.Request{Intent: "find Greet", LLMRequirement: query.RequirementDisabled, Depth: query.DepthFull})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.PackIDs)
}

func TestShutdown_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	ws := newTestWorkspace(t)

	s, err := Initialize(ctx, ws, testOptions())
	require.NoError(t, err)

	require.NoError(t, s.Shutdown(context.Background()))
	require.NoError(t, s.Shutdown(context.Background()))
}

func TestInitialize_ReopeningAfterShutdownSucceeds(t *testing.T) {
	ctx := context.Background()
	ws := newTestWorkspace(t)

	s1, err := Initialize(ctx, ws, testOptions())
	require.NoError(t, err)
	require.NoError(t, s1.Shutdown(context.Background()))

	s2, err := Initialize(ctx, ws, testOptions())
	require.NoError(t, err)
	require.NoError(t, s2.Shutdown(context.Background()))
}
