package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kodecortex/cie/internal/output"
	"github.com/kodecortex/cie/internal/query"
	"github.com/kodecortex/cie/internal/session"
	"github.com/kodecortex/cie/internal/ui"
)

// runQuery opens a Session and runs one Query Pipeline request, grounded
// on the teacher's runQuery (cmd/cie/query.go) flag shape (--json,
// --timeout) and table-printing style, retargeted from raw CozoScript text
// to a query.Request built from flags.
func runQuery(args []string, workspace string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	depthFlag := fs.String("depth", "full", "Result depth: ids|full|expanded")
	timeout := fs.Duration("timeout", 30*time.Second, "Query timeout")
	waitForIndexMs := fs.Int("wait-for-index-ms", 0, "Wait up to this many ms for in-flight ingestion before querying")
	fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: query text required")
		os.Exit(1)
	}
	intent := strings.Join(fs.Args(), " ")

	depth, err := parseDepth(*depthFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	ctx := context.Background()
	s, err := session.Initialize(ctx, workspace, session.Options{SkipWatcher: true, Silent: true})
	if err != nil {
		ui.Error(err.Error())
		os.Exit(1)
	}
	defer s.Shutdown(context.Background())

	queryCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	resp, err := s.Query(queryCtx, query.Request{
		Intent:         intent,
		Depth:          depth,
		TimeoutMs:      int(timeout.Milliseconds()),
		WaitForIndexMs: *waitForIndexMs,
	})
	if err != nil {
		if *jsonOutput {
			output.JSONError(err)
		} else {
			ui.Error(err.Error())
		}
		os.Exit(1)
	}

	if *jsonOutput {
		output.JSON(resp)
		return
	}
	printQueryResponse(resp)
}

func parseDepth(s string) (query.Depth, error) {
	switch strings.ToLower(s) {
	case "ids":
		return query.DepthIDs, nil
	case "full", "":
		return query.DepthFull, nil
	case "expanded":
		return query.DepthExpanded, nil
	default:
		return 0, fmt.Errorf("unknown depth %q (want ids|full|expanded)", s)
	}
}

func printQueryResponse(resp query.Response) {
	if len(resp.PackIDs) == 0 {
		fmt.Println("No results")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PACK ID\tTYPE\tCONFIDENCE\tSCORE\tENGINES")
	for _, r := range resp.Packs {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%.3f\t%s\n",
			r.PackID, r.PackType, r.Confidence, r.CombinedScore, strings.Join(r.MatchedEngines, ","))
	}
	w.Flush()

	fmt.Printf("\n(%d packs, cache=%s)\n", len(resp.PackIDs), resp.Diagnostics.CacheState)
	if resp.Summary != "" {
		fmt.Println()
		fmt.Println(resp.Summary)
	}
}
