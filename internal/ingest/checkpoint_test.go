package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointManager_SaveLoadClear(t *testing.T) {
	dir := t.TempDir()
	cm := NewCheckpointManager(dir)

	loaded, err := cm.Load("ws1")
	require.NoError(t, err)
	assert.Nil(t, loaded, "no checkpoint yet must return nil, nil")

	cp := &Checkpoint{
		WorkspaceRoot:  "ws1",
		FilesProcessed: 42,
		FileHashes:     map[string]string{"main.go": "abc123"},
		StartTime:      time.Now(),
		LastUpdateTime: time.Now(),
	}
	require.NoError(t, cm.Save(cp))

	loaded, err = cm.Load("ws1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 42, loaded.FilesProcessed)
	assert.Equal(t, "abc123", loaded.FileHashes["main.go"])

	require.NoError(t, cm.Clear("ws1"))
	loaded, err = cm.Load("ws1")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestCheckpointManager_ClearNonexistentIsNotAnError(t *testing.T) {
	cm := NewCheckpointManager(t.TempDir())
	assert.NoError(t, cm.Clear("never-existed"))
}
