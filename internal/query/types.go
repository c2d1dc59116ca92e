// Package query implements the Query Pipeline: spec.md §4.7's staged
// intent -> gate providers -> wait for index -> candidates -> rank ->
// escalate -> synthesize flow, with deterministic response caching.
// Grounded on the teacher's pkg/tools/search.go (lexical candidate
// generation, role/noise filtering) and pkg/tools/semantic.go (vector
// candidate generation, graceful fallback on provider failure, min-
// similarity post-filter).
package query

import "time"

// Requirement gates whether a provider (embedding or chat-completion) must
// be available for a query to proceed, per spec.md §4.7/§4.8.
type Requirement string

const (
	RequirementRequired Requirement = "required"
	RequirementOptional Requirement = "optional"
	RequirementDisabled Requirement = "disabled"
)

// Depth controls how far past the directly-matched packs a query expands,
// per spec.md §4.7 stage 6 (depth escalation).
type Depth int

const (
	// DepthIDs returns only matched pack ids, no pack bodies.
	DepthIDs Depth = iota
	// DepthFull returns the full bodies of every directly matched pack.
	DepthFull
	// DepthExpanded additionally includes packs for files one hop out via
	// RelatedFiles, a strict superset of DepthFull with no re-ranking.
	DepthExpanded
)

// Filter narrows candidate generation to a subset of the workspace, per
// spec.md §4.7 stage 5's "apply filter (e.g., exclude_tests,
// affected_files)".
type Filter struct {
	PathPattern  string // SQL LIKE pattern against file_path; empty matches all
	Kind         string // restrict lexical/structural candidates to a symbol kind
	ExcludeTests bool   // drop candidates whose primary file is a test file
}

// Request is one call to Session.query (spec.md §4.8), fully specifying
// everything the pipeline needs with no implicit session state beyond the
// Storage Engine and Vector Index snapshots it reads.
type Request struct {
	Intent                string
	Depth                 Depth
	AffectedFiles         []string
	Filter                Filter
	LLMRequirement        Requirement
	EmbeddingRequirement  Requirement
	Deterministic         bool // force deterministic synthesis, never call an LLM
	ForceSummarySynthesis bool
	IncludeEngines        []string // subset of "lexical","structural","vector"; empty means the engines enginesForIntent picks for the classified intent
	CachePolicyOverride   *CachePolicy
	WaitForIndexMs        int
	TimeoutMs             int
}

// CachePolicy mirrors config.CachePolicy's shape without importing
// internal/config, so internal/query has no dependency on the config
// package's YAML tags — the Orchestrator translates config.CachePolicy
// into this at call time.
type CachePolicy struct {
	Read       bool
	Write      bool
	MaxEntries int
	TTLMs      int
}

// CacheState reports whether a Response was served from cache, and is
// always present in Diagnostics regardless of hit/miss so a cache hit is
// indistinguishable from a miss except for latency and this field,
// per spec.md §4.7's caching section.
type CacheState string

const (
	CacheStateDisabled CacheState = "disabled"
	CacheStateMiss     CacheState = "miss"
	CacheStateHit      CacheState = "hit"
)

// Diagnostics surfaces everything about how a Response was produced that
// isn't itself pack content, per spec.md §4.7/§8.
type Diagnostics struct {
	CacheState           CacheState
	TimedOut             bool
	IntentUnclassifiable bool
	EnginesUsed          []string
	EscalatedTo          Depth
	VectorIndexGen       uint64
	PackSnapshotHash     string
	SynthesisMode        string // "llm" or "deterministic"
	NeedsReembed         bool   // store's persisted needs_reembed marker is set, per spec.md §4.3(e)
	Warnings             []string
}

// Response is the result of Session.query.
type Response struct {
	PackIDs     []string
	Packs       []PackResult
	Summary     string
	Diagnostics Diagnostics
	LatencyMs   int64
}

// PackResult is one ranked pack in a Response, carrying the per-engine
// signal scores that produced its rank, per spec.md §4.7 stage 5.
type PackResult struct {
	PackID           string
	PackType         string
	TargetID         string
	Summary          string
	KeyFacts         []string
	CodeSnippets     []PackSnippet
	RelatedFiles     []string
	Confidence       float64
	LexicalScore     float64
	StructuralScore  float64
	VectorScore      float64
	CombinedScore    float64
	MatchedEngines   []string
	QualifiedNameLen int // tie-break input, per stage 5
}

// PackSnippet mirrors storage.CodeSnippet without importing the storage
// package's full surface into the response shape consumers see.
type PackSnippet struct {
	FilePath  string
	StartLine int
	EndLine   int
	Content   string
}

// cacheEntry is one row of the Query Pipeline's response cache.
type cacheEntry struct {
	response  Response
	expiresAt time.Time
}
