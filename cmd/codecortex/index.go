package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kodecortex/cie/internal/session"
	"github.com/kodecortex/cie/internal/ui"
)

// runIndex opens a Session with the watcher disabled, waits for the
// background Bootstrap pass to finish, prints a summary, and shuts down —
// grounded on the teacher's runIndex (cmd/cie/index.go) one-shot
// indexing command, retargeted from a Docker Compose + CozoDB RPC flow to
// an in-process internal/session.Session.
func runIndex(args []string, workspace string) {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	timeout := fs.Duration("timeout", 5*time.Minute, "Maximum time to wait for bootstrap to finish")
	fs.Parse(args)

	ui.Header("Indexing workspace")

	ctx := context.Background()
	s, err := session.Initialize(ctx, workspace, session.Options{SkipWatcher: true})
	if err != nil {
		ui.Error(err.Error())
		os.Exit(1)
	}
	defer s.Shutdown(context.Background())

	waitCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	progressCfg := NewProgressConfig(false, false)
	bar := NewSpinner(progressCfg, "waiting for bootstrap")
	waitDone := make(chan struct{})
	go func() {
		defer close(waitDone)
		err = s.WaitBootstrap(waitCtx)
	}()
	runSpinner(bar, waitDone)
	if err != nil {
		ui.Error(fmt.Sprintf("bootstrap did not finish: %v", err))
		os.Exit(1)
	}

	result, bootErr := s.LastBootstrap()
	if bootErr != nil {
		ui.Error(bootErr.Error())
		os.Exit(1)
	}

	ui.Success(fmt.Sprintf("Processed %d files, wrote %d packs, %d embeddings",
		result.FilesProcessed, result.PacksWritten, result.EmbeddingsWritten))
	if result.FilesSkipped > 0 {
		ui.Info(fmt.Sprintf("Skipped %d unchanged files", result.FilesSkipped))
	}
	if len(result.ErroredPaths) > 0 {
		ui.Warning(fmt.Sprintf("%d files failed to parse", len(result.ErroredPaths)))
	}
	if result.NeedsReembed {
		ui.Warning("embedding model identity changed since the last index; run a full re-embed to refresh vector search results")
	}
}
