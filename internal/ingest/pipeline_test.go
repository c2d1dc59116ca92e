package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodecortex/cie/internal/config"
	"github.com/kodecortex/cie/internal/embed"
	"github.com/kodecortex/cie/internal/storage"
)

const sampleHelperGo = `package helper

// DoThing does a thing.
func DoThing() int {
	return 42
}
`

const sampleMainGo = `package main

import "example.com/app/helper"

func main() {
	helper.DoThing()
}
`

func newTestPipeline(t *testing.T) (*Pipeline, storage.Backend, string) {
	t.Helper()
	stateDir := t.TempDir()
	store, err := storage.Open(storage.Config{StateDir: stateDir})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	gen := embed.NewGenerator(&embed.MockProvider{ModelName: "test", DimSize: 8}, 4, nil)

	cfg := config.Default()
	workspaceRoot := t.TempDir()
	cfg.WorkspaceRoot = workspaceRoot

	p := NewPipeline(cfg, store, gen, t.TempDir(), nil)
	return p, store, workspaceRoot
}

func TestPipeline_Bootstrap_ParsesAndPersistsSymbols(t *testing.T) {
	p, store, root := newTestPipeline(t)

	require.NoError(t, os.WriteFile(filepath.Join(root, "helper.go"), []byte(sampleHelperGo), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte(sampleMainGo), 0o644))

	result, err := p.Bootstrap(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 2, result.FilesProcessed)
	assert.Zero(t, result.FilesErrored)
	assert.Greater(t, result.SymbolsUpserted, 0)
	assert.Greater(t, result.PacksWritten, 0)

	stats, err := store.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FileCount)
}

func TestPipeline_Bootstrap_SkipsUnchangedFileOnSecondPass(t *testing.T) {
	p, _, root := newTestPipeline(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "helper.go"), []byte(sampleHelperGo), 0o644))

	first, err := p.Bootstrap(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 1, first.FilesProcessed)

	second, err := p.Bootstrap(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 0, second.FilesProcessed)
	assert.Equal(t, 1, second.FilesSkipped)
}

func TestPipeline_Incremental_DeletesFileNoLongerOnDisk(t *testing.T) {
	p, store, root := newTestPipeline(t)
	helperPath := filepath.Join(root, "helper.go")
	require.NoError(t, os.WriteFile(helperPath, []byte(sampleHelperGo), 0o644))

	_, err := p.Bootstrap(context.Background(), root)
	require.NoError(t, err)

	require.NoError(t, os.Remove(helperPath))
	_, err = p.Incremental(context.Background(), root, []string{"helper.go"})
	require.NoError(t, err)

	stats, err := store.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.FileCount)
}

func TestPipeline_Incremental_ReparsesChangedFile(t *testing.T) {
	p, store, root := newTestPipeline(t)
	helperPath := filepath.Join(root, "helper.go")
	require.NoError(t, os.WriteFile(helperPath, []byte(sampleHelperGo), 0o644))

	_, err := p.Bootstrap(context.Background(), root)
	require.NoError(t, err)

	updated := sampleHelperGo + "\nfunc AnotherThing() {}\n"
	require.NoError(t, os.WriteFile(helperPath, []byte(updated), 0o644))

	result, err := p.Incremental(context.Background(), root, []string{"helper.go"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesProcessed)

	rec, err := store.GetFile(context.Background(), "helper.go")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, storage.ParseStatusOK, rec.ParseStatus)
}

func TestPipeline_Bootstrap_FlagsNeedsReembedOnModelIdentityDrift(t *testing.T) {
	stateDir := t.TempDir()
	store, err := storage.Open(storage.Config{StateDir: stateDir})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	root := t.TempDir()
	cfg.WorkspaceRoot = root
	helperPath := filepath.Join(root, "helper.go")
	require.NoError(t, os.WriteFile(helperPath, []byte(sampleHelperGo), 0o644))

	gen8 := embed.NewGenerator(&embed.MockProvider{ModelName: "test", DimSize: 8}, 1, nil)
	p1 := NewPipeline(cfg, store, gen8, t.TempDir(), nil)
	first, err := p1.Bootstrap(context.Background(), root)
	require.NoError(t, err)
	assert.False(t, first.NeedsReembed)
	assert.Greater(t, first.EmbeddingsWritten, 0)

	identity, err := store.GetModelIdentity(context.Background())
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, 8, identity.Dim)

	updated := sampleHelperGo + "\nfunc AnotherThing() {}\n"
	require.NoError(t, os.WriteFile(helperPath, []byte(updated), 0o644))

	gen16 := embed.NewGenerator(&embed.MockProvider{ModelName: "test", DimSize: 16}, 1, nil)
	p2 := NewPipeline(cfg, store, gen16, t.TempDir(), nil)
	second, err := p2.Incremental(context.Background(), root, []string{"helper.go"})
	require.NoError(t, err)
	assert.True(t, second.NeedsReembed, "a changed embedding dim must be flagged rather than mixed into the store")
	assert.Zero(t, second.EmbeddingsWritten)

	needsReembed, err := store.NeedsReembed(context.Background())
	require.NoError(t, err)
	assert.True(t, needsReembed)
}

func TestPipeline_RunCoalesced_OverlappingCallsShareOneOutcome(t *testing.T) {
	p, _, root := newTestPipeline(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "helper.go"), []byte(sampleHelperGo), 0o644))

	type outcome struct {
		res *RunResult
		err error
	}
	results := make(chan outcome, 2)
	for i := 0; i < 2; i++ {
		go func() {
			res, err := p.Bootstrap(context.Background(), root)
			results <- outcome{res, err}
		}()
	}
	first := <-results
	second := <-results
	require.NoError(t, first.err)
	require.NoError(t, second.err)
}
