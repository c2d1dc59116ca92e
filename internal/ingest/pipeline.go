package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kodecortex/cie/internal/config"
	"github.com/kodecortex/cie/internal/embed"
	"github.com/kodecortex/cie/internal/fingerprint"
	"github.com/kodecortex/cie/internal/lang"
	"github.com/kodecortex/cie/internal/storage"
)

// RunResult summarizes one Bootstrap or Incremental pass, grounded on the
// teacher's local_pipeline.go IngestionResult — trimmed to what a
// single-store, no-replication-log pipeline reports.
type RunResult struct {
	FilesProcessed    int
	FilesSkipped      int
	FilesErrored      int
	SymbolsUpserted   int
	CallsResolved     int
	PacksWritten      int
	EmbeddingsWritten int
	EmbeddingErrors   int
	NeedsReembed      bool // set when the embedding provider's model identity drifted from the store's last-recorded one; no new embeddings were written this pass
	TopSkipReasons    map[string]int
	ErroredPaths      []string
	ParseDuration     time.Duration
	EmbedDuration     time.Duration
	TotalDuration     time.Duration
}

// Pipeline orchestrates ingestion into an internal/storage.Backend,
// grounded on the teacher's LocalPipeline composition (repo loader,
// parser, embedding generator, backend, checkpoint manager) retargeted
// from CozoDB Datalog mutations to typed Backend calls.
type Pipeline struct {
	cfg           config.Config
	logger        *slog.Logger
	facade        *lang.Facade
	store         storage.Backend
	embedGen      *embed.Generator
	walker        *Walker
	resolver      *CallResolver
	checkpointMgr *CheckpointManager

	mu      sync.Mutex
	current *inflightPass
}

type inflightPass struct {
	done chan struct{}
	res  *RunResult
	err  error
}

// NewPipeline builds a Pipeline over an already-open store and embedding
// generator, selecting the Language Facade's Mode from cfg.Ingestion.ParserMode.
func NewPipeline(cfg config.Config, store storage.Backend, embedGen *embed.Generator, checkpointDir string, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	ingMetrics.init()

	mode := lang.Mode(cfg.Ingestion.ParserMode)
	return &Pipeline{
		cfg:           cfg,
		logger:        logger,
		facade:        lang.NewFacade(mode),
		store:         store,
		embedGen:      embedGen,
		walker:        NewWalker(cfg.Exclusions, logger),
		resolver:      NewCallResolver(),
		checkpointMgr: NewCheckpointManager(checkpointDir),
	}
}

// checkpointKey derives a filesystem-safe checkpoint identifier from a
// workspace root, since the teacher's project_id is absent here.
func checkpointKey(workspaceRoot string) string {
	return fingerprint.ContentHash([]byte(workspaceRoot))[:16]
}

// runCoalesced implements spec.md §4.5's "at most one bootstrap or
// incremental pass executes per session at a time; overlapping requests
// are coalesced to the running pass and return its outcome."
func (p *Pipeline) runCoalesced(fn func() (*RunResult, error)) (*RunResult, error) {
	p.mu.Lock()
	if p.current != nil {
		inflight := p.current
		p.mu.Unlock()
		ingMetrics.passesCoalesced.Inc()
		<-inflight.done
		return inflight.res, inflight.err
	}
	inflight := &inflightPass{done: make(chan struct{})}
	p.current = inflight
	p.mu.Unlock()

	res, err := fn()

	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()
	inflight.res, inflight.err = res, err
	close(inflight.done)
	return res, err
}

// Idle blocks until no Bootstrap or Incremental pass is in flight, or ctx is
// done. It is the adapter point for internal/query's IndexWaiter: a query's
// wait_for_index_ms budget calls this to avoid racing a running ingestion
// pass, without internal/query importing this package directly.
func (p *Pipeline) Idle(ctx context.Context) error {
	p.mu.Lock()
	inflight := p.current
	p.mu.Unlock()
	if inflight == nil {
		return nil
	}
	select {
	case <-inflight.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Bootstrap runs the cold-start pass: enumerate every file under
// workspaceRoot, skip unchanged content hashes, parse the rest, resolve
// cross-file calls, assemble packs, and schedule embeddings. Parsing runs
// on a bounded worker pool; embedding starts only after every file has
// been parsed and committed, and runs on the embed.Generator's own worker
// pool. There is no channel between the two stages, so parsing gets no
// backpressure from embedding.
func (p *Pipeline) Bootstrap(ctx context.Context, workspaceRoot string) (*RunResult, error) {
	return p.runCoalesced(func() (*RunResult, error) {
		return p.runPass(ctx, workspaceRoot, nil)
	})
}

// Incremental re-ingests a specific set of paths (watch-driven or staged),
// per spec.md §4.5 — paths that no longer exist on disk are treated as
// deletions.
func (p *Pipeline) Incremental(ctx context.Context, workspaceRoot string, paths []string) (*RunResult, error) {
	return p.runCoalesced(func() (*RunResult, error) {
		return p.runPass(ctx, workspaceRoot, paths)
	})
}

// parsedFile is one file's Language Facade output plus the bytes it was
// parsed from, carried through resolution and pack assembly.
type parsedFile struct {
	path     string
	language string
	source   []byte
	symbols  []lang.Symbol
	refs     []storage.ReferenceEdge
	imports  []importEdge
	pkgName  string
	skipped  bool // true when the Language Facade reported SkippedUnsupportedLanguage
}

// runPass implements the shared body of Bootstrap and Incremental: the
// only difference is how the file list is produced (full walk vs. an
// explicit path set with deletion handling).
func (p *Pipeline) runPass(ctx context.Context, workspaceRoot string, explicitPaths []string) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{TopSkipReasons: make(map[string]int)}
	isBootstrap := explicitPaths == nil
	ckptKey := checkpointKey(workspaceRoot)

	if isBootstrap && p.cfg.Ingestion.CheckpointEnabled {
		if prior, err := p.checkpointMgr.Load(ckptKey); err == nil && prior != nil {
			p.logger.Info("ingest.bootstrap.resuming", "prior_files_processed", prior.FilesProcessed, "prior_start", prior.StartTime)
		}
		_ = p.checkpointMgr.Save(&Checkpoint{WorkspaceRoot: ckptKey, StartTime: start, LastUpdateTime: start, FileHashes: map[string]string{}})
	}

	files, deletions, err := p.resolveFileSet(workspaceRoot, explicitPaths)
	if err != nil {
		return nil, fmt.Errorf("resolve file set: %w", err)
	}

	for _, path := range deletions {
		if err := p.store.DeleteFile(ctx, path); err != nil {
			p.logger.Warn("ingest.delete_file.error", "path", path, "err", err)
			continue
		}
	}

	parseStart := time.Now()
	parsed, parseErrors := p.parseFiles(ctx, workspaceRoot, files, result)
	result.ParseDuration = time.Since(parseStart)
	result.FilesErrored = parseErrors

	p.buildResolverIndex(parsed)
	p.resolveCrossFileCalls(parsed, result)

	if err := p.commitFilesAndSymbols(ctx, parsed, result); err != nil {
		return nil, fmt.Errorf("commit files and symbols: %w", err)
	}

	embedStart := time.Now()
	if err := p.assemblePacksAndEmbed(ctx, parsed, result); err != nil {
		return nil, fmt.Errorf("assemble packs: %w", err)
	}
	result.EmbedDuration = time.Since(embedStart)

	result.TotalDuration = time.Since(start)
	ingMetrics.totalDuration.Observe(result.TotalDuration.Seconds())
	ingMetrics.parseDuration.Observe(result.ParseDuration.Seconds())
	ingMetrics.embedDuration.Observe(result.EmbedDuration.Seconds())

	if isBootstrap && p.cfg.Ingestion.CheckpointEnabled {
		if err := p.checkpointMgr.Clear(ckptKey); err != nil {
			p.logger.Warn("ingest.checkpoint.clear.error", "err", err)
		}
	}

	p.logger.Info("ingest.pass.complete",
		"files_processed", result.FilesProcessed,
		"files_skipped", result.FilesSkipped,
		"files_errored", result.FilesErrored,
		"symbols_upserted", result.SymbolsUpserted,
		"packs_written", result.PacksWritten,
		"duration_ms", result.TotalDuration.Milliseconds(),
	)

	return result, nil
}

// resolveFileSet returns the candidate files to (re)parse and the paths to
// delete. For Bootstrap (explicitPaths == nil) it walks the whole
// workspace. For Incremental it statlses each given path: files that no
// longer exist are deletions.
func (p *Pipeline) resolveFileSet(workspaceRoot string, explicitPaths []string) ([]WorkspaceFile, []string, error) {
	if explicitPaths == nil {
		walkResult, err := p.walker.Walk(workspaceRoot, p.cfg.MaxFileBytes)
		if err != nil {
			return nil, nil, err
		}
		return walkResult.Files, nil, nil
	}

	var files []WorkspaceFile
	var deletions []string
	for _, rel := range explicitPaths {
		full := joinWorkspacePath(workspaceRoot, rel)
		info, err := os.Stat(full)
		if err != nil {
			if os.IsNotExist(err) {
				deletions = append(deletions, fingerprint.NormalizePath(rel))
				continue
			}
			return nil, nil, err
		}
		if info.IsDir() {
			continue
		}
		normalized := fingerprint.NormalizePath(rel)
		if p.walker.shouldExclude(normalized) {
			continue
		}
		if p.cfg.MaxFileBytes > 0 && info.Size() > p.cfg.MaxFileBytes {
			continue
		}
		files = append(files, WorkspaceFile{
			Path:     normalized,
			FullPath: full,
			Size:     info.Size(),
			Language: lang.DetectLanguage(normalized),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, deletions, nil
}

func joinWorkspacePath(root, rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(root, rel)
}

// parseFiles runs the bounded parse-worker pool, per spec.md §4.5's
// "bounded worker pool (CPU-bound parsing)". Per-file errors are
// non-fatal: they increment FilesErrored and the file is recorded with
// parse_status=error, without aborting the pass.
func (p *Pipeline) parseFiles(ctx context.Context, workspaceRoot string, files []WorkspaceFile, result *RunResult) ([]*parsedFile, int) {
	workers := p.cfg.ParsePoolSize
	if workers <= 0 {
		workers = 4
	}
	if len(files) < workers {
		workers = len(files)
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan WorkspaceFile, len(files))
	type outcome struct {
		parsed *parsedFile
		err    error
		path   string
		lang   string
		hash   string
		size   int64
	}
	results := make(chan outcome, len(files))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				pf, err := p.parseOneFile(f)
				results <- outcome{parsed: pf, err: err, path: f.Path}
			}
		}()
	}
	for _, f := range files {
		jobs <- f
	}
	close(jobs)
	go func() {
		wg.Wait()
		close(results)
	}()

	var parsed []*parsedFile
	errCount := 0
	for o := range results {
		if o.err != nil {
			errCount++
			result.ErroredPaths = append(result.ErroredPaths, o.path)
			ingMetrics.filesErrored.Inc()
			p.logger.Warn("ingest.parse.error", "path", o.path, "err", o.err)
			continue
		}
		if o.parsed == nil {
			result.FilesSkipped++
			ingMetrics.filesSkipped.Inc()
			continue
		}
		parsed = append(parsed, o.parsed)
		result.FilesProcessed++
		ingMetrics.filesParsed.Inc()
	}
	return parsed, errCount
}

// parseOneFile reads and hashes a file, skips it if unchanged from the
// store's recorded content_hash, and otherwise runs it through the
// Language Facade. Returns (nil, nil) for a content-hash skip.
//
// A read or parse failure is recoverable per spec.md §4.2: it is
// recorded as a File Record with parse_status=error (and parse_error
// set to the failure detail) before returning, so the file is never
// silently dropped from the store — only its symbols are withheld.
func (p *Pipeline) parseOneFile(f WorkspaceFile) (*parsedFile, error) {
	source, err := os.ReadFile(f.FullPath)
	if err != nil {
		readErr := fmt.Errorf("read %s: %w", f.Path, err)
		p.recordParseError(f, "", readErr)
		return nil, readErr
	}
	contentHash := fingerprint.ContentHash(source)

	existing, err := p.store.GetFile(context.Background(), f.Path)
	if err == nil && existing != nil && existing.ContentHash == contentHash && existing.ParseStatus == storage.ParseStatusOK {
		return nil, nil // unchanged, skip per spec.md §4.5
	}

	extracted, err := p.facade.Extract(f.Path, source, f.Language)
	if err != nil {
		p.recordParseError(f, contentHash, err)
		return nil, err
	}

	pf := &parsedFile{path: f.Path, language: f.Language, source: source}
	if extracted.SkippedReason != "" {
		pf.skipped = true
		return pf, nil
	}
	pf.symbols = extracted.Symbols
	for _, ref := range extracted.References {
		if ref.Kind == lang.RefImports {
			pf.imports = append(pf.imports, importEdge{FilePath: f.Path, ImportPath: ref.ToUnresolvedName})
			continue
		}
		pf.refs = append(pf.refs, storage.ReferenceEdge{
			FromSymbolID:     ref.FromSymbolID,
			ToUnresolvedName: ref.ToUnresolvedName,
			Kind:             ref.Kind,
			FilePath:         ref.FilePath,
			Line:             ref.Line,
		})
	}
	return pf, nil
}

// recordParseError persists a File Record with parse_status=error for a
// file that failed to read or parse. contentHash is empty when the file
// could not even be read. Best-effort: a failure to write the record is
// logged, not propagated, since the caller already has the original
// parse error to report.
func (p *Pipeline) recordParseError(f WorkspaceFile, contentHash string, parseErr error) {
	if err := p.store.PutFile(context.Background(), storage.FileRecord{
		Path:         f.Path,
		Language:     f.Language,
		ContentHash:  contentHash,
		SizeBytes:    f.Size,
		LastModified: time.Now(),
		ParseStatus:  storage.ParseStatusError,
		ParseError:   parseErr.Error(),
	}); err != nil {
		p.logger.Warn("ingest.parse.record_error_failed", "path", f.Path, "err", err)
	}
}

func (p *Pipeline) buildResolverIndex(parsed []*parsedFile) {
	for _, pf := range parsed {
		p.resolver.BuildIndex(pf.path, pf.symbols, pf.imports, pf.pkgName)
	}
}

func (p *Pipeline) resolveCrossFileCalls(parsed []*parsedFile, result *RunResult) {
	var allRefs []storage.ReferenceEdge
	for _, pf := range parsed {
		allRefs = append(allRefs, pf.refs...)
	}
	resolved := p.resolver.ResolveCalls(allRefs)
	if len(resolved) == 0 {
		return
	}
	byFile := make(map[string][]storage.ReferenceEdge)
	for _, r := range resolved {
		byFile[r.FilePath] = append(byFile[r.FilePath], r)
	}
	for _, pf := range parsed {
		if extra, ok := byFile[pf.path]; ok {
			pf.refs = mergeResolvedEdges(pf.refs, extra)
		}
	}
	result.CallsResolved = len(resolved)
	ingMetrics.callsResolved.Add(float64(len(resolved)))
}

// mergeResolvedEdges replaces unresolved edges with their resolved
// counterpart (matched by from_symbol_id + line), leaving any edge that
// never resolved as-is with ToUnresolvedName still set.
func mergeResolvedEdges(original, resolved []storage.ReferenceEdge) []storage.ReferenceEdge {
	byKey := make(map[string]storage.ReferenceEdge, len(resolved))
	for _, r := range resolved {
		byKey[r.FromSymbolID+"|"+fmt.Sprint(r.Line)] = r
	}
	out := make([]storage.ReferenceEdge, len(original))
	for i, e := range original {
		if r, ok := byKey[e.FromSymbolID+"|"+fmt.Sprint(e.Line)]; ok {
			out[i] = r
			continue
		}
		out[i] = e
	}
	return out
}

func (p *Pipeline) commitFilesAndSymbols(ctx context.Context, parsed []*parsedFile, result *RunResult) error {
	for _, pf := range parsed {
		status := storage.ParseStatusOK
		if pf.skipped {
			status = storage.ParseStatusSkipped
		}
		if err := p.store.PutFile(ctx, storage.FileRecord{
			Path:         pf.path,
			Language:     pf.language,
			ContentHash:  fingerprint.ContentHash(pf.source),
			SizeBytes:    int64(len(pf.source)),
			LastModified: time.Now(),
			ParseStatus:  status,
		}); err != nil {
			return err
		}

		var facts []storage.SymbolFact
		for _, sym := range pf.symbols {
			facts = append(facts, storage.SymbolFact{
				SymbolID:      sym.ID(),
				FilePath:      sym.FilePath,
				Kind:          sym.Kind,
				Name:          sym.Name,
				QualifiedName: sym.QualifiedName,
				StartLine:     sym.Span.StartLine,
				EndLine:       sym.Span.EndLine,
				StartCol:      sym.Span.StartCol,
				EndCol:        sym.Span.EndCol,
				Signature:     sym.Signature,
				Visibility:    sym.Visibility,
				Docstring:     sym.Docstring,
			})
		}
		if err := p.store.UpsertSymbols(ctx, pf.path, facts, pf.refs); err != nil {
			return err
		}
		result.SymbolsUpserted += len(facts)
		ingMetrics.symbolsUpserted.Add(float64(len(facts)))
	}
	return nil
}

// assemblePacksAndEmbed builds symbol/module/topic packs per spec.md
// §4.5's pack assembly policy, writes them, and schedules embeddings for
// each pack's summary text. Provider unavailability demotes embedding
// population to "missing" without blocking symbol ingestion, per
// spec.md §4.5's failure semantics.
func (p *Pipeline) assemblePacksAndEmbed(ctx context.Context, parsed []*parsedFile, result *RunResult) error {
	var packs []storage.ContextPack

	for _, pf := range parsed {
		lines := strings.Split(string(pf.source), "\n")

		var exported []lang.Symbol
		for _, sym := range pf.symbols {
			if sym.Kind != lang.KindFunction && sym.Kind != lang.KindMethod && sym.Kind != lang.KindClass {
				continue
			}
			oneHop := refsForSymbol(pf.refs, sym.ID())
			pack, err := BuildSymbolPack(sym, lines, oneHop)
			if err != nil {
				return err
			}
			packs = append(packs, pack)
			if sym.Visibility == "public" || sym.Visibility == "exported" {
				exported = append(exported, sym)
			}
		}

		if len(exported) > 0 {
			modPack, err := BuildModulePack(pf.path, exported, lines)
			if err != nil {
				return err
			}
			packs = append(packs, modPack)
		}

		if isEntryPoint(pf.path, pf.symbols) {
			topicPack, err := BuildTopicPack(pf.path, pf.symbols, lines)
			if err != nil {
				return err
			}
			packs = append(packs, topicPack)
		}
	}

	texts := make([]string, len(packs))
	for i, pk := range packs {
		texts[i] = pk.Summary
	}

	var embedResults []embed.Result
	embeddedThisPass := false
	if p.embedGen != nil && len(texts) > 0 {
		staleIdentity, err := p.checkModelIdentity(ctx)
		if err != nil {
			return fmt.Errorf("check model identity: %w", err)
		}
		if staleIdentity {
			result.NeedsReembed = true
			ingMetrics.needsReembed.Set(1)
			p.logger.Warn("ingest.embed.needs_reembed",
				"msg", "embedding model identity changed since this store's last embed pass; skipping new embeddings until a full re-embed runs")
		} else {
			embedResults, err = p.embedGen.Embed(ctx, texts)
			if err != nil {
				return fmt.Errorf("embed packs: %w", err)
			}
			embeddedThisPass = true
		}
	}

	for i, pack := range packs {
		pack.CreatedAt = time.Now()
		if err := p.store.UpsertPack(ctx, pack); err != nil {
			return err
		}
		result.PacksWritten++
		ingMetrics.packsWritten.Inc()

		if i >= len(embedResults) {
			continue
		}
		er := embedResults[i]
		if er.Err != nil {
			result.EmbeddingErrors++
			ingMetrics.embedErrors.Inc()
			p.logger.Warn("ingest.embed.error", "pack_id", pack.PackID, "err", er.Err)
			continue
		}
		if er.ZeroNorm {
			ingMetrics.embedSkipped.Inc()
			continue
		}
		identity := p.embedGen.Identity()
		if err := p.store.UpsertEmbedding(ctx, storage.EmbeddingRecord{
			OwnerKind: storage.OwnerKindPack,
			OwnerID:   pack.PackID,
			ModelName: identity.Name,
			ModelDim:  identity.Dim,
			ModelRevision: identity.Revision,
			Vector:    er.Vector,
			CreatedAt: time.Now(),
		}); err != nil {
			return err
		}
		result.EmbeddingsWritten++
		ingMetrics.embedComputed.Inc()
	}

	if embeddedThisPass {
		identity := p.embedGen.Identity()
		if err := p.store.SetModelIdentity(ctx, storage.ModelIdentity{
			Name: identity.Name, Dim: identity.Dim, Revision: identity.Revision,
		}); err != nil {
			return fmt.Errorf("record model identity: %w", err)
		}
		ingMetrics.needsReembed.Set(0)
	}
	return nil
}

// checkModelIdentity implements spec.md §4.3(e)'s needs_reembed marker: it
// compares the Embedding Service's current model identity against the
// store's last-recorded one (persisted across process restarts, unlike
// vectorindex.Index's in-memory, process-lifetime-only identity check) and
// reports true when they differ on any of name/dim/revision. A store with
// no recorded identity yet (first embed pass ever) is never stale.
func (p *Pipeline) checkModelIdentity(ctx context.Context) (bool, error) {
	current := p.embedGen.Identity()
	recorded, err := p.store.GetModelIdentity(ctx)
	if err != nil {
		return false, err
	}
	if recorded == nil {
		return false, nil
	}
	drifted := !recorded.Equal(storage.ModelIdentity{Name: current.Name, Dim: current.Dim, Revision: current.Revision})
	if drifted {
		if err := p.store.SetNeedsReembed(ctx, true); err != nil {
			return false, err
		}
	}
	return drifted, nil
}

func refsForSymbol(refs []storage.ReferenceEdge, symbolID string) []storage.ReferenceEdge {
	var out []storage.ReferenceEdge
	for _, r := range refs {
		if r.FromSymbolID == symbolID {
			out = append(out, r)
		}
	}
	return out
}
