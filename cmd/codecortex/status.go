package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kodecortex/cie/internal/config"
	"github.com/kodecortex/cie/internal/output"
	"github.com/kodecortex/cie/internal/storage"
	"github.com/kodecortex/cie/internal/ui"
)

// runStatus opens the store directly (bypassing the Orchestrator's
// watcher/bootstrap) to report its current contents, grounded on the
// teacher's runStatus (cmd/cie/status.go) read-only status command.
func runStatus(args []string, workspace string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	fs.Parse(args)

	cfg := config.Default()
	if path := config.Path(workspace); fileExists(path) {
		loaded, err := config.Load(path)
		if err == nil {
			cfg = loaded
		}
	}

	stateDir := filepath.Join(workspace, cfg.StateDirName)
	store, err := storage.Open(storage.Config{StateDir: stateDir})
	if err != nil {
		if *jsonOutput {
			output.JSONError(err)
		} else {
			ui.Error(err.Error())
		}
		os.Exit(1)
	}
	defer store.Close()

	stats, err := store.GetStats(context.Background())
	if err != nil {
		if *jsonOutput {
			output.JSONError(err)
		} else {
			ui.Error(err.Error())
		}
		os.Exit(1)
	}

	if *jsonOutput {
		output.JSON(stats)
		return
	}

	ui.Header("codecortex status")
	fmt.Printf("workspace:        %s\n", workspace)
	fmt.Printf("schema version:   %d\n", stats.SchemaVersion)
	fmt.Printf("files indexed:    %d\n", stats.FileCount)
	fmt.Printf("symbols indexed:  %d\n", stats.SymbolCount)
	fmt.Printf("packs:            %d\n", stats.PackCount)
	fmt.Printf("embeddings:       %d\n", stats.EmbeddingCount)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
