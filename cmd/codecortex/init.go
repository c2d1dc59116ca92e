package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kodecortex/cie/internal/config"
	"github.com/kodecortex/cie/internal/ui"
)

// runInit creates workspace/.codecortex/project.yaml with default settings,
// grounded on the teacher's runInit (cmd/cie/init.go) trimmed to the
// non-interactive path: SPEC_FULL.md's configuration surface is a single
// YAML file, not the teacher's multi-provider Tailscale/hub setup wizard.
func runInit(args []string, workspace string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "Overwrite an existing configuration")
	fs.Parse(args)

	path := config.Path(workspace)
	if _, err := os.Stat(path); err == nil && !*force {
		ui.Warning(fmt.Sprintf("%s already exists (use --force to overwrite)", path))
		os.Exit(1)
	}

	cfg := config.Default()
	cfg.WorkspaceRoot = workspace
	if err := config.Save(path, cfg); err != nil {
		ui.Error(err.Error())
		os.Exit(1)
	}

	ui.Success(fmt.Sprintf("Created %s", path))
}
