// Package main implements the codecortex CLI: a thin ambient-stack
// exercise of the Orchestrator (internal/session), grounded on the
// teacher's cmd/cie dispatcher (cmd/cie/main.go's switch-on-subcommand
// shape) and its per-command file layout. Global flags use pflag
// (aliased to "flag", matching cmd/cie/start.go and stop.go); per-command
// flags use the standard flag package, matching cmd/cie/query.go.
//
// Usage:
//
//	codecortex init                 Create .codecortex/project.yaml
//	codecortex index [--timeout=5m] Run a one-shot bootstrap pass
//	codecortex query <text> [--json] [--depth=ids|full|expanded]
//	codecortex status [--json]      Show workspace/session status
//	codecortex serve                Run the Orchestrator until signaled
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kodecortex/cie/internal/ui"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version and exit")
		workspace   = flag.String("workspace", ".", "Workspace root")
		noColor     = flag.Bool("no-color", false, "Disable colored output")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `codecortex - per-workspace code intelligence engine

Usage:
  codecortex <command> [options]

Commands:
  init      Create .codecortex/project.yaml
  index     Run a one-shot bootstrap ingestion pass
  query     Run one query against the workspace
  status    Show workspace and storage status
  serve     Run the Orchestrator (watcher + background ingestion) until signaled

Global Options:
  --workspace   Workspace root (default ".")
  --no-color    Disable colored output
  --version     Show version and exit
`)
		flag.PrintDefaults()
	}

	flag.Parse()
	ui.InitColors(*noColor)

	if *showVersion {
		fmt.Printf("codecortex version %s (%s)\n", version, commit)
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command, cmdArgs := args[0], args[1:]
	switch command {
	case "init":
		runInit(cmdArgs, *workspace)
	case "index":
		runIndex(cmdArgs, *workspace)
	case "query":
		runQuery(cmdArgs, *workspace)
	case "status":
		runStatus(cmdArgs, *workspace)
	case "serve":
		runServe(cmdArgs, *workspace)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}
