package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsBadParserMode(t *testing.T) {
	cfg := Default()
	cfg.Ingestion.ParserMode = "bogus"
	assert.Error(t, cfg.Validate())
}

func TestValidate_AggregatesProblems(t *testing.T) {
	cfg := Default()
	cfg.EmbeddingModel.Dim = 0
	cfg.ParsePoolSize = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding_model.dim")
	assert.Contains(t, err.Error(), "parse_pool_size")
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "project.yaml")

	cfg := Default()
	cfg.WorkspaceRoot = dir
	cfg.EmbeddingModel.Name = "test-model"

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test-model", loaded.EmbeddingModel.Name)
	assert.Equal(t, dir, loaded.WorkspaceRoot)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "project.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workspace_root: /ws\nbogus_key: true\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/ws", DefaultStateDirName, "project.yaml"), Path("/ws"))
}
