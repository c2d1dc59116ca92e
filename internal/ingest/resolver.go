package ingest

import (
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/kodecortex/cie/internal/lang"
	"github.com/kodecortex/cie/internal/storage"
)

// importEdge is one parsed import statement, carried alongside symbols and
// references from the Language Facade's per-file extraction.
type importEdge struct {
	FilePath   string
	ImportPath string
	Alias      string
}

// CallResolver resolves cross-file call references left unresolved by the
// Language Facade (spec.md §4.2's ToUnresolvedName), adapted from the
// teacher's pkg/ingestion/resolver.go CallResolver — the package-path
// index and import-alias bookkeeping are unchanged in shape, retargeted
// from FunctionEntity/ImportEntity to lang.Symbol/importEdge.
type CallResolver struct {
	mu sync.RWMutex

	// exportedByPackage: package directory -> exported symbol name -> symbol_id
	exportedByPackage map[string]map[string]string

	// fileImports: file path -> alias -> import path
	fileImports map[string]map[string]string

	// importPathToPackage: import path (or package name) -> local package dir
	importPathToPackage map[string]string
}

func NewCallResolver() *CallResolver {
	return &CallResolver{
		exportedByPackage:   make(map[string]map[string]string),
		fileImports:         make(map[string]map[string]string),
		importPathToPackage: make(map[string]string),
	}
}

// BuildIndex registers one file's extracted symbols and imports. Called
// once per file as bootstrap/incremental parsing completes, so the index
// can be built incrementally rather than requiring every file up front.
func (r *CallResolver) BuildIndex(filePath string, symbols []lang.Symbol, imports []importEdge, packageName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pkgDir := filepath.Dir(filePath)

	for _, sym := range symbols {
		if sym.Kind != lang.KindFunction && sym.Kind != lang.KindMethod {
			continue
		}
		if sym.Visibility != "public" && sym.Visibility != "exported" {
			continue
		}
		if _, ok := r.exportedByPackage[pkgDir]; !ok {
			r.exportedByPackage[pkgDir] = make(map[string]string)
		}
		r.exportedByPackage[pkgDir][sym.Name] = sym.ID()
	}

	for _, imp := range imports {
		alias := imp.Alias
		if alias == "" || alias == "_" {
			alias = filepath.Base(imp.ImportPath)
		}
		if alias == "_" {
			continue
		}
		if _, ok := r.fileImports[filePath]; !ok {
			r.fileImports[filePath] = make(map[string]string)
		}
		r.fileImports[filePath][alias] = imp.ImportPath
	}

	r.importPathToPackage[pkgDir] = pkgDir
	if packageName != "" {
		r.importPathToPackage[packageName] = pkgDir
	}
}

// ResolveCalls resolves a batch of unresolved reference edges (ToSymbolID
// empty, ToUnresolvedName set) into edges with ToSymbolID populated.
// References that remain unresolved are omitted from the result; the
// caller keeps its own unresolved copy for edges that never resolve.
func (r *CallResolver) ResolveCalls(edges []storage.ReferenceEdge) []storage.ReferenceEdge {
	if len(edges) < 1000 {
		return r.resolveSequential(edges)
	}
	return r.resolveParallel(edges)
}

func (r *CallResolver) resolveSequential(edges []storage.ReferenceEdge) []storage.ReferenceEdge {
	var resolved []storage.ReferenceEdge
	for _, edge := range edges {
		if id := r.resolveOne(edge); id != "" {
			edge.ToSymbolID = id
			edge.ToUnresolvedName = ""
			resolved = append(resolved, edge)
		}
	}
	return resolved
}

func (r *CallResolver) resolveParallel(edges []storage.ReferenceEdge) []storage.ReferenceEdge {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan int, len(edges))
	results := make(chan storage.ReferenceEdge, len(edges))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				edge := edges[i]
				if id := r.resolveOne(edge); id != "" {
					edge.ToSymbolID = id
					edge.ToUnresolvedName = ""
					results <- edge
				}
			}
		}()
	}
	for i := range edges {
		jobs <- i
	}
	close(jobs)
	go func() {
		wg.Wait()
		close(results)
	}()

	var resolved []storage.ReferenceEdge
	for e := range results {
		resolved = append(resolved, e)
	}
	return resolved
}

// resolveOne attempts to resolve a single unresolved call reference,
// mirroring the teacher's resolveCall: qualified "pkg.Func" references
// resolve through the file's import aliases; dot-imports are checked as
// a fallback.
func (r *CallResolver) resolveOne(edge storage.ReferenceEdge) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name := edge.ToUnresolvedName
	if name == "" {
		return ""
	}

	if strings.Contains(name, ".") {
		lastDot := strings.LastIndex(name, ".")
		alias := name[:lastDot]
		if idx := strings.LastIndex(alias, "."); idx >= 0 {
			alias = alias[idx+1:]
		}
		funcName := name[lastDot+1:]
		if funcName == "" || funcName[0] < 'A' || funcName[0] > 'Z' {
			return ""
		}

		imports, ok := r.fileImports[edge.FilePath]
		if !ok {
			return ""
		}
		importPath, ok := imports[alias]
		if !ok {
			return ""
		}
		pkgDir := r.findPackage(importPath)
		if pkgDir == "" {
			return ""
		}
		if syms, ok := r.exportedByPackage[pkgDir]; ok {
			if id, ok := syms[funcName]; ok {
				return id
			}
		}
		return ""
	}

	if imports, ok := r.fileImports[edge.FilePath]; ok {
		for alias, importPath := range imports {
			if alias != "." {
				continue
			}
			pkgDir := r.findPackage(importPath)
			if pkgDir == "" {
				continue
			}
			if syms, ok := r.exportedByPackage[pkgDir]; ok {
				if id, ok := syms[name]; ok {
					return id
				}
			}
		}
	}
	return ""
}

func (r *CallResolver) findPackage(importPath string) string {
	if pkg, ok := r.importPathToPackage[importPath]; ok {
		return pkg
	}
	for pkgDir := range r.exportedByPackage {
		if strings.HasSuffix(importPath, pkgDir) {
			return pkgDir
		}
	}
	base := filepath.Base(importPath)
	for pkgDir := range r.exportedByPackage {
		if filepath.Base(pkgDir) == base {
			return pkgDir
		}
	}
	return ""
}

// Stats reports index size, grounded on the teacher's CallResolver.Stats.
func (r *CallResolver) Stats() (packages, symbols, imports int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	packages = len(r.exportedByPackage)
	for _, syms := range r.exportedByPackage {
		symbols += len(syms)
	}
	for _, imps := range r.fileImports {
		imports += len(imps)
	}
	return
}
