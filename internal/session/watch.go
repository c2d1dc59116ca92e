package session

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/kodecortex/cie/internal/config"
)

// watcher subscribes to filesystem change events under a workspace root
// and debounces them into batched Incremental passes. Grounded on
// standardbeagle-lci's internal/indexing/watcher.go (recursive directory
// registration, symlink-cycle guard, a single debounce timer coalescing
// bursts of events into one callback) — this is the file-watcher supplement
// SPEC_FULL.md §4 adds, since the teacher itself has none.
type watcher struct {
	fsw    *fsnotify.Watcher
	cfg    config.Config
	root   string
	logger *slog.Logger
	onBatch func(paths []string)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	pending  map[string]struct{}
	timer    *time.Timer
	debounce time.Duration
}

func newWatcher(cfg config.Config, root string, logger *slog.Logger, onBatch func(paths []string)) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &watcher{
		fsw:      fsw,
		cfg:      cfg,
		root:     root,
		logger:   logger,
		onBatch:  onBatch,
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]struct{}),
		debounce: 500 * time.Millisecond,
	}, nil
}

// Start recursively registers every non-excluded directory under root and
// begins the event-processing goroutine.
func (w *watcher) Start() error {
	visited := make(map[string]bool)
	err := filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		real, err := filepath.EvalSymlinks(path)
		if err != nil {
			return nil
		}
		if visited[real] {
			return filepath.SkipDir
		}
		visited[real] = true

		if w.isExcludedDir(path) {
			return filepath.SkipDir
		}
		if addErr := w.fsw.Add(path); addErr != nil {
			w.logger.Warn("session.watcher.add_error", "path", path, "err", addErr)
		}
		return nil
	})
	if err != nil {
		return err
	}

	w.wg.Add(1)
	go w.processEvents()
	w.logger.Info("session.watcher.started", "root", w.root)
	return nil
}

// Stop cancels the event loop and closes the underlying fsnotify watcher.
// Pending debounced events are dropped, matching the teacher-adjacent
// standardbeagle-lci watcher's documented choice not to flush on shutdown
// (the session is tearing down storage anyway).
func (w *watcher) Stop() error {
	w.cancel()
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *watcher) isExcludedDir(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range w.cfg.Exclusions {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, filepath.Base(path)); ok {
			return true
		}
	}
	return false
}

func (w *watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("session.watcher.error", "err", err)
		}
	}
}

func (w *watcher) handleEvent(ev fsnotify.Event) {
	info, statErr := os.Stat(ev.Name)
	if statErr == nil && info.IsDir() {
		if ev.Op&fsnotify.Create != 0 && !w.isExcludedDir(ev.Name) {
			if err := w.fsw.Add(ev.Name); err != nil {
				w.logger.Warn("session.watcher.add_error", "path", ev.Name, "err", err)
			}
		}
		return
	}
	if w.isExcludedDir(filepath.Dir(ev.Name)) {
		return
	}
	w.addPending(ev.Name)
}

func (w *watcher) addPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	paths := make([]string, 0, len(pending))
	for p := range pending {
		rel, err := filepath.Rel(w.root, p)
		if err != nil {
			rel = p
		}
		paths = append(paths, rel)
	}
	w.onBatch(paths)
}
