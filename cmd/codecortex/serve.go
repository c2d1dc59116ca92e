package main

import (
	"context"
	"flag"

	"github.com/kodecortex/cie/internal/session"
	"github.com/kodecortex/cie/internal/ui"
)

// runServe starts a long-lived Session with the file watcher enabled and
// blocks until a termination signal arrives, grounded on the teacher's
// daemon lifecycle in cmd/cie/start.go and standardbeagle-lci's
// serverCommand signal-wait loop — this is the Orchestrator's primary
// entrypoint (spec.md §4.8's initialize -> run -> shutdown).
func runServe(args []string, workspace string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	skipLLM := fs.Bool("skip-llm", false, "Disable LLM-backed synthesis for this session")
	fs.Parse(args)

	ctx := context.Background()
	s, err := session.Initialize(ctx, workspace, session.Options{SkipLLM: *skipLLM})
	if err != nil {
		ui.Error(err.Error())
		return
	}

	ui.Success("Session ready, watching for changes (Ctrl-C to stop)")
	if err := s.Run(ctx); err != nil {
		ui.Error(err.Error())
	}
}
