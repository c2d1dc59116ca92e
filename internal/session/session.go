// Package session implements the Orchestrator: spec.md §4.8's Session
// lifecycle (initialize -> query* -> shutdown), grounded on the teacher's
// internal/bootstrap/bootstrap.go InitProject/OpenProject idempotent-open
// pattern, generalized from "open CozoDB, ensure schema, create HNSW
// index" to "acquire the storage lock, migrate schema, rebuild the vector
// index, subscribe the file watcher, and start background ingestion."
//
// Signal handling for graceful shutdown is grounded on the teacher's
// cmd/cie/start.go daemon lifecycle and standardbeagle-lci's
// cmd/lci/main_server.go serverCommand (os/signal.Notify + a context
// cancelled on SIGINT/SIGTERM, draining in-flight work before release).
package session

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/kodecortex/cie/internal/config"
	"github.com/kodecortex/cie/internal/embed"
	"github.com/kodecortex/cie/internal/errors"
	"github.com/kodecortex/cie/internal/ingest"
	"github.com/kodecortex/cie/internal/llm"
	"github.com/kodecortex/cie/internal/query"
	"github.com/kodecortex/cie/internal/storage"
	"github.com/kodecortex/cie/internal/vectorindex"
)

// Options mirrors spec.md §4.8's initialize(workspace, options) field for
// field: { silent, skip_watcher, skip_healing, skip_llm,
// bootstrap_timeout_ms, backup_max_bytes }.
type Options struct {
	Silent              bool
	SkipWatcher         bool
	SkipHealing         bool
	SkipLLM             bool
	BootstrapTimeoutMs  int
	BackupMaxBytes      int64

	// Logger overrides slog.Default(). EmbedProvider/LLMProvider override
	// the environment-derived default providers — used by tests and by a
	// caller that already holds a configured provider.
	Logger        *slog.Logger
	EmbedProvider embed.Provider
	LLMProvider   llm.Provider
}

// Session is process-wide state bound to a single workspace, per spec.md
// §9's glossary entry — the Orchestrator's lifetime-managed unit.
type Session struct {
	workspaceRoot string
	cfg           config.Config
	logger        *slog.Logger

	store      *storage.Store
	embedGen   *embed.Generator
	vectorIdx  *vectorindex.Index
	ingestPipe *ingest.Pipeline
	queryPipe  *query.Pipeline
	watcher    *watcher

	mu           sync.Mutex
	shutdownOnce sync.Once
	lastBoot     *ingest.RunResult
	bootErr      error
	bootDone     chan struct{}

	stopSignals context.CancelFunc
}

// Initialize opens a Session over workspaceRoot: it is synchronous-to-
// ready per spec.md §4.8 — returns only after storage is open, migrations
// are applied, and the vector index is rebuilt from the existing
// embedding table (a warm-start session immediately serves queries over
// whatever was already ingested). Background content bootstrap then runs
// in a goroutine; Query's wait_for_index_ms synchronizes with it.
func Initialize(ctx context.Context, workspaceRoot string, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Silent {
		logger = slog.New(slog.NewTextHandler(discardWriter{}, nil))
	}

	cfg, err := loadOrDefaultConfig(workspaceRoot)
	if err != nil {
		return nil, err
	}

	stateDir := filepath.Join(workspaceRoot, cfg.StateDirName)
	logger.Info("session.init.start", "workspace", workspaceRoot, "state_dir", stateDir)

	store, err := storage.Open(storage.Config{StateDir: stateDir})
	if err != nil {
		return nil, err
	}

	embedProvider := opts.EmbedProvider
	if embedProvider == nil {
		embedProvider, err = embed.NewProvider(embed.ProviderConfig{
			Type:         embed.DefaultProviderType(),
			DefaultModel: cfg.EmbeddingModel.Name,
			Dim:          cfg.EmbeddingModel.Dim,
		})
		if err != nil {
			store.Close()
			return nil, err
		}
	}
	embedGen := embed.NewGenerator(embedProvider, cfg.EmbedPoolSize, logger)
	embedGen.SetBatchLimits(embed.BatchLimits{
		MaxItems: cfg.EmbeddingBatchMaxItems,
		MaxBytes: cfg.EmbeddingBatchMaxBytes,
	})

	vectorIdx := vectorindex.New()
	if err := vectorIdx.RebuildFromScan(ctx, store, embedGen.Identity()); err != nil {
		store.Close()
		return nil, errors.New(errors.KindCorruptedIndex, "rebuild vector index", errors.Context{Workspace: workspaceRoot}, nil, err)
	}
	logger.Info("session.init.vector_index_rebuilt", "len", vectorIdx.Len(), "generation", vectorIdx.Generation())

	var llmProvider llm.Provider
	if opts.SkipLLM || cfg.SynthesisDisabled {
		llmProvider = nil
	} else if opts.LLMProvider != nil {
		llmProvider = opts.LLMProvider
	} else {
		llmProvider, err = llm.DefaultProvider()
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	checkpointDir := filepath.Join(stateDir, "checkpoints")
	ingestPipe := ingest.NewPipeline(cfg, store, embedGen, checkpointDir, logger)

	s := &Session{
		workspaceRoot: workspaceRoot,
		cfg:           cfg,
		logger:        logger,
		store:         store,
		embedGen:      embedGen,
		vectorIdx:     vectorIdx,
		ingestPipe:    ingestPipe,
		bootDone:      make(chan struct{}),
	}

	s.queryPipe = query.New(query.Config{
		Backend:     store,
		VectorIndex: vectorIdx,
		EmbedGen:    embedGen,
		LLMProvider: llmProvider,
		Waiter:      waiterAdapter{s},
		Logger:      logger,
	})

	if !opts.SkipWatcher {
		w, err := newWatcher(cfg, workspaceRoot, logger, s.onWatchedPaths)
		if err != nil {
			logger.Warn("session.watcher.disabled", "err", err)
		} else {
			s.watcher = w
			if err := s.watcher.Start(); err != nil {
				logger.Warn("session.watcher.start_error", "err", err)
				s.watcher = nil
			}
		}
	}

	s.runBootstrap(opts)

	logger.Info("session.init.ready", "workspace", workspaceRoot)
	return s, nil
}

func loadOrDefaultConfig(workspaceRoot string) (config.Config, error) {
	path := config.Path(workspaceRoot)
	if _, err := os.Stat(path); err != nil {
		cfg := config.Default()
		cfg.WorkspaceRoot = workspaceRoot
		return cfg, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	cfg.WorkspaceRoot = workspaceRoot
	return cfg, nil
}

// runBootstrap launches the cold-start ingestion pass in the background,
// bounded by opts.BootstrapTimeoutMs (falling back to cfg.BootstrapTimeoutMs),
// and rebuilds the vector index once it completes so newly-written
// embeddings become searchable.
func (s *Session) runBootstrap(opts Options) {
	timeoutMs := opts.BootstrapTimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = s.cfg.BootstrapTimeoutMs
	}

	go func() {
		ctx := context.Background()
		if timeoutMs > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
			defer cancel()
		}

		result, err := s.ingestPipe.Bootstrap(ctx, s.workspaceRoot)

		s.mu.Lock()
		s.lastBoot, s.bootErr = result, err
		s.mu.Unlock()

		if err != nil {
			s.logger.Error("session.bootstrap.error", "err", err)
		} else {
			s.logger.Info("session.bootstrap.complete",
				"files_processed", result.FilesProcessed,
				"packs_written", result.PacksWritten,
				"errored", len(result.ErroredPaths))
			if rebuildErr := s.vectorIdx.RebuildFromScan(ctx, s.store, s.embedGen.Identity()); rebuildErr != nil {
				s.logger.Warn("session.bootstrap.vector_rebuild_error", "err", rebuildErr)
			}
			if !opts.SkipHealing && s.cfg.Ingestion.HealRetriesParseErrors && len(result.ErroredPaths) > 0 {
				s.heal(result.ErroredPaths)
			}
		}
		close(s.bootDone)
	}()
}

// heal retries files that errored during the last ingestion pass exactly
// once, per spec.md §4.8's "healing" concern — a transient read or parse
// failure (file briefly locked by another process, a tool writing it
// mid-save) often succeeds on a second attempt without operator action.
func (s *Session) heal(paths []string) {
	sessionMetrics.healAttempts.Inc()
	s.logger.Info("session.heal.retry", "count", len(paths))
	result, err := s.ingestPipe.Incremental(context.Background(), s.workspaceRoot, paths)
	if err != nil {
		s.logger.Warn("session.heal.error", "err", err)
		return
	}
	s.logger.Info("session.heal.complete", "healed", result.FilesProcessed, "still_errored", len(result.ErroredPaths))
}

// onWatchedPaths is the watcher's debounced-batch callback: it runs an
// Incremental pass over the changed paths and refreshes the vector index.
func (s *Session) onWatchedPaths(paths []string) {
	sessionMetrics.watchBatches.Inc()
	sessionMetrics.watchPaths.Add(float64(len(paths)))
	ctx := context.Background()
	result, err := s.ingestPipe.Incremental(ctx, s.workspaceRoot, paths)
	if err != nil {
		s.logger.Warn("session.watch.incremental.error", "err", err)
		return
	}
	if rebuildErr := s.vectorIdx.RebuildFromScan(ctx, s.store, s.embedGen.Identity()); rebuildErr != nil {
		s.logger.Warn("session.watch.vector_rebuild_error", "err", rebuildErr)
	}
	s.logger.Debug("session.watch.incremental.complete", "paths", len(paths), "files_processed", result.FilesProcessed)
}

// Query runs req through the Query Pipeline. It is safe to call
// concurrently from many goroutines; queries never block each other or
// an in-flight ingestion pass, per spec.md §5's concurrency caps.
func (s *Session) Query(ctx context.Context, req query.Request) (query.Response, error) {
	return s.queryPipe.Query(ctx, req)
}

// Shutdown drains in-flight ingestion, stops the watcher, and releases
// the storage lock. Idempotent and safe to call from a signal handler,
// per spec.md §4.8.
func (s *Session) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.logger.Info("session.shutdown.start")

		if s.watcher != nil {
			if err := s.watcher.Stop(); err != nil {
				s.logger.Warn("session.shutdown.watcher_error", "err", err)
			}
		}

		if err := s.ingestPipe.Idle(ctx); err != nil {
			s.logger.Warn("session.shutdown.drain_error", "err", err)
		}

		if s.stopSignals != nil {
			s.stopSignals()
		}

		if err := s.store.Close(); err != nil {
			shutdownErr = err
			return
		}
		sessionMetrics.shutdowns.Inc()
		s.logger.Info("session.shutdown.complete")
	})
	return shutdownErr
}

// Run blocks until ctx is done or a termination signal (SIGINT/SIGTERM)
// arrives, then calls Shutdown with a bounded grace period — grounded on
// standardbeagle-lci's cmd/lci/main_server.go serverCommand signal-select
// loop and the teacher's guarantee that lock release happens even on an
// unclean exit.
func (s *Session) Run(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	s.mu.Lock()
	s.stopSignals = stop
	s.mu.Unlock()
	defer stop()

	<-sigCtx.Done()
	s.logger.Info("session.run.signal_received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// LastBootstrap returns the most recently completed Bootstrap RunResult
// and error, or (nil, nil) if bootstrap has not yet finished.
func (s *Session) LastBootstrap() (*ingest.RunResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBoot, s.bootErr
}

// WaitBootstrap blocks until the background Bootstrap pass started during
// Initialize completes, or ctx is done — a narrower synchronization point
// than Query's wait_for_index_ms, useful to callers (and tests) that need
// the initial cold-start pass done before doing anything else.
func (s *Session) WaitBootstrap(ctx context.Context) error {
	select {
	case <-s.bootDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waiterAdapter implements query.IndexWaiter over *ingest.Pipeline's
// Idle method, resolving the IndexWaiter gap left open in internal/query:
// the Query Pipeline never imports internal/ingest directly, so this
// adapter — owned by the Orchestrator, which already depends on both —
// supplies the concrete wiring.
type waiterAdapter struct{ s *Session }

func (w waiterAdapter) WaitIdle(ctx context.Context) error {
	return w.s.ingestPipe.Idle(ctx)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
