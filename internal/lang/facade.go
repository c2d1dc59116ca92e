// Package lang implements the Language Facade: a uniform capability set
// (list symbols, list references, detect entry points) polymorphic over
// language family, per spec.md §4.2. Variants are selected by Mode:
// "treesitter" for AST-accurate extraction (grounded on the teacher's
// parser_go.go/parser_typescript.go), "simplified" for a regex-based
// fallback that needs no grammar bindings (grounded on parser_protobuf.go),
// and "auto" to prefer tree-sitter where a grammar is registered.
package lang

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kodecortex/cie/internal/fingerprint"
)

// Mode selects which extractor variant the Facade dispatches to.
type Mode string

const (
	ModeTreeSitter Mode = "treesitter"
	ModeSimplified Mode = "simplified"
	ModeAuto       Mode = "auto"
)

// Symbol kinds, per spec.md §3's Symbol Fact.
const (
	KindFunction   = "function"
	KindMethod     = "method"
	KindClass      = "class"
	KindModule     = "module"
	KindExport     = "export"
	KindImport     = "import"
	KindEntryPoint = "entry_point"
)

// Reference kinds, per spec.md §3's Reference Edge.
const (
	RefCalls      = "calls"
	RefReferences = "references"
	RefImports    = "imports"
	RefExports    = "exports"
)

// SkippedUnsupportedLanguage is returned when no extractor handles the
// file's language, per spec.md §4.2's explicit rule.
const SkippedUnsupportedLanguage = "unsupported_language"

// Symbol is a Symbol Fact as produced by the Language Facade, before the
// Ingestion Pipeline assigns it a stable symbol_id via fingerprint.SymbolID.
type Symbol struct {
	FilePath      string
	Kind          string
	Name          string
	QualifiedName string
	Span          fingerprint.Span
	Signature     string
	Visibility    string
	Docstring     string
}

// ID computes this symbol's stable symbol_id.
func (s Symbol) ID() string {
	return fingerprint.SymbolID(s.FilePath, s.Kind, s.Name, s.Span)
}

// Reference is a Reference Edge as produced by the Language Facade. The
// target is always carried as ToUnresolvedName; the Ingestion Pipeline's
// CallResolver later resolves it to another symbol where it can.
type Reference struct {
	FromSymbolID     string
	ToUnresolvedName string
	Kind             string
	FilePath         string
	Line             int
}

// ExtractResult is the Language Facade's output for one file.
type ExtractResult struct {
	Symbols       []Symbol
	References    []Reference
	SkippedReason string
}

// Extractor is the capability set spec.md §4.2 requires of every language
// variant: list_symbols, list_references, detect_entry_points, unified
// into one Extract call since a single AST walk naturally produces all
// three for most grammars.
type Extractor interface {
	Extract(filePath string, source []byte) (*ExtractResult, error)
}

// Facade dispatches to the right Extractor for a file's language and mode.
type Facade struct {
	mode        Mode
	treeSitter  map[string]Extractor // language -> tree-sitter extractor
	simplified  map[string]Extractor // language -> regex extractor
}

// NewFacade builds a Facade with the standard extractor set: tree-sitter
// for Go/TypeScript/JavaScript/Python, regex-based simplified extractors
// for the same languages plus Protocol Buffers.
func NewFacade(mode Mode) *Facade {
	if mode == "" {
		mode = ModeAuto
	}
	return &Facade{
		mode: mode,
		treeSitter: map[string]Extractor{
			"go":         &goTreeSitterExtractor{},
			"typescript": &tsTreeSitterExtractor{dialect: "typescript"},
			"javascript": &tsTreeSitterExtractor{dialect: "javascript"},
			"python":     &pyTreeSitterExtractor{},
		},
		simplified: map[string]Extractor{
			"go":         &regexExtractor{lang: "go"},
			"typescript": &regexExtractor{lang: "typescript"},
			"javascript": &regexExtractor{lang: "javascript"},
			"python":     &regexExtractor{lang: "python"},
			"protobuf":   &protobufExtractor{},
		},
	}
}

// DetectLanguage maps a file extension to a language identifier, or ""
// if unsupported.
func DetectLanguage(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return "go"
	case ".ts", ".tsx":
		return "typescript"
	case ".js", ".jsx", ".mjs", ".cjs":
		return "javascript"
	case ".py":
		return "python"
	case ".proto":
		return "protobuf"
	default:
		return ""
	}
}

// Extract runs the Facade against one file, selecting the extractor
// variant per the Facade's Mode, and returns skipped_reason=
// unsupported_language when no extractor handles the language.
func (f *Facade) Extract(filePath string, source []byte, languageHint string) (*ExtractResult, error) {
	language := languageHint
	if language == "" {
		language = DetectLanguage(filePath)
	}
	if language == "" {
		return &ExtractResult{SkippedReason: SkippedUnsupportedLanguage}, nil
	}

	extractor := f.selectExtractor(language)
	if extractor == nil {
		return &ExtractResult{SkippedReason: SkippedUnsupportedLanguage}, nil
	}

	result, err := extractor.Extract(filePath, source)
	if err != nil {
		// Parse errors are recoverable per spec.md §4.2: caller marks
		// parse_status=error and emits no symbols, ingestion continues.
		return nil, fmt.Errorf("extract %s: %w", filePath, err)
	}
	return result, nil
}

func (f *Facade) selectExtractor(language string) Extractor {
	switch f.mode {
	case ModeTreeSitter:
		return f.treeSitter[language]
	case ModeSimplified:
		return f.simplified[language]
	default: // ModeAuto
		if e, ok := f.treeSitter[language]; ok {
			return e
		}
		return f.simplified[language]
	}
}

// QualifiedName builds a name following spec.md §4.2's fixed scheme:
// file_path::(namespace::)*name.
func QualifiedName(filePath string, namespaces []string, name string) string {
	var b strings.Builder
	b.WriteString(fingerprint.NormalizePath(filePath))
	b.WriteString("::")
	for _, ns := range namespaces {
		b.WriteString(ns)
		b.WriteString("::")
	}
	b.WriteString(name)
	return b.String()
}
