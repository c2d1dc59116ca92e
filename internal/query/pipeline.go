package query

import (
	"context"
	"log/slog"
	"time"

	"github.com/kodecortex/cie/internal/embed"
	cieerrors "github.com/kodecortex/cie/internal/errors"
	"github.com/kodecortex/cie/internal/llm"
	"github.com/kodecortex/cie/internal/storage"
	"github.com/kodecortex/cie/internal/vectorindex"
)

// IndexWaiter is the narrow interface the Orchestrator's Ingestion
// Pipeline satisfies so Query can implement spec.md §4.7 stage 3 ("wait
// for index, bounded") without internal/query importing internal/ingest
// directly — a pass-coalescing in-flight signal belongs to the ingestion
// side, Query only needs to block on it.
type IndexWaiter interface {
	// WaitIdle blocks until no ingestion pass is in flight, or until ctx is
	// done, whichever comes first. A nil IndexWaiter means there is
	// nothing to wait for (e.g. bootstrap already completed synchronously).
	WaitIdle(ctx context.Context) error
}

// Pipeline is the Query Pipeline: spec.md §4.7's staged
// intent -> gate providers -> wait for index -> candidates -> rank ->
// escalate -> synthesize flow, backed by a session's already-open Storage
// Engine and Vector Index.
type Pipeline struct {
	backend     storage.Backend
	vectorIndex *vectorindex.Index
	embedGen    *embed.Generator
	llmProvider llm.Provider
	waiter      IndexWaiter
	cache       *responseCache
	logger      *slog.Logger
}

// Config configures a Pipeline.
type Config struct {
	Backend     storage.Backend
	VectorIndex *vectorindex.Index
	EmbedGen    *embed.Generator // nil means embedding_requirement=disabled is the only valid setting
	LLMProvider llm.Provider     // nil means synthesis always falls back to deterministic
	Waiter      IndexWaiter      // nil means nothing to wait for
	Logger      *slog.Logger
}

func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		backend:     cfg.Backend,
		vectorIndex: cfg.VectorIndex,
		embedGen:    cfg.EmbedGen,
		llmProvider: cfg.LLMProvider,
		waiter:      cfg.Waiter,
		cache:       newResponseCache(),
		logger:      logger,
	}
}

// Query runs the full pipeline for req, per spec.md §4.7.
func (p *Pipeline) Query(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	queryMetrics.queries.Inc()
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	diag := Diagnostics{}

	intentKind := ClassifyIntent(req.Intent)
	if intentKind == IntentUnclassified {
		diag.IntentUnclassifiable = true
	}

	if err := p.gateProviders(req); err != nil {
		queryMetrics.gateFailures.Inc()
		return Response{Diagnostics: diag}, err
	}

	if err := p.waitForIndex(ctx, req); err != nil {
		if ctx.Err() != nil {
			diag.TimedOut = true
			queryMetrics.timeouts.Inc()
		}
	}

	if needsReembed, err := p.backend.NeedsReembed(ctx); err == nil && needsReembed {
		diag.NeedsReembed = true
		diag.Warnings = append(diag.Warnings, "needs_reembed: the store's embedding model identity has drifted since its last embed pass; vector candidates may be served from a stale index until a full re-embed runs")
	}

	snapshotHash, err := packSnapshotHash(ctx, p.backend)
	if err != nil {
		return Response{Diagnostics: diag}, cieerrors.New(cieerrors.KindStorageUnavailable,
			"failed to compute pack snapshot for caching", cieerrors.Context{}, nil, err)
	}
	vectorGen := uint64(0)
	if p.vectorIndex != nil {
		vectorGen = p.vectorIndex.Generation()
	}
	diag.VectorIndexGen = vectorGen
	diag.PackSnapshotHash = snapshotHash

	policy := effectiveCachePolicy(req)
	canonical := toCanonicalRequest(req)
	key, err := cacheKey(canonical, vectorGen, snapshotHash)
	if err != nil {
		return Response{Diagnostics: diag}, err
	}

	if policy.Read {
		if cached, ok := p.cache.get(key); ok {
			cached.Diagnostics.CacheState = CacheStateHit
			cached.LatencyMs = time.Since(start).Milliseconds()
			queryMetrics.cacheHits.Inc()
			return cached, nil
		}
	}
	diag.CacheState = CacheStateMiss
	if !policy.Read && !policy.Write {
		diag.CacheState = CacheStateDisabled
	}

	engines := enginesForIntent(intentKind, req.IncludeEngines)
	diag.EnginesUsed = engines

	set := newCandidateSet()

	var seedSymbolIDs []string
	if engineEnabled(engines, "lexical") || engineEnabled(engines, "structural") {
		facts, err := lexicalCandidates(ctx, p.backend, req.Intent, req.Filter, 50)
		if err == nil {
			for _, f := range facts {
				seedSymbolIDs = append(seedSymbolIDs, f.SymbolID)
				if engineEnabled(engines, "lexical") {
					p.attachSymbolPack(ctx, set, f.SymbolID, "lexical", 1.0)
				}
			}
		}
	}

	if engineEnabled(engines, "structural") && len(seedSymbolIDs) > 0 {
		edges, err := structuralCandidates(ctx, p.backend, seedSymbolIDs)
		if err == nil {
			for _, e := range edges {
				p.attachSymbolPack(ctx, set, e.CallerSymbolID, "structural", 1.0)
			}
		}
	}

	if engineEnabled(engines, "vector") && req.EmbeddingRequirement != RequirementDisabled {
		hits, err := vectorCandidates(ctx, p.vectorIndex, p.embedGen, req.Intent, 20)
		if err != nil && req.EmbeddingRequirement == RequirementRequired {
			return Response{Diagnostics: diag}, cieerrors.ProviderUnavailable(
				"embedding", "embed(intent) for vector candidate generation failed", err)
		}
		if len(hits) == 0 && p.vectorIndex != nil && p.vectorIndex.Len() == 0 {
			diag.Warnings = append(diag.Warnings, "empty_index: vector index has no embeddings yet")
		}
		for _, h := range hits {
			pack, err := p.backend.GetPackByID(ctx, h.OwnerID)
			if err != nil || pack == nil {
				continue
			}
			set.merge(*pack, "vector", h.Similarity)
		}
	}

	applyFilter(set, req.Filter, req.AffectedFiles)

	ranked := rank(ctx, p.backend, set)
	results := escalate(ctx, p.backend, ranked, req.Depth)
	diag.EscalatedTo = req.Depth

	if ctx.Err() != nil && !diag.TimedOut {
		diag.TimedOut = true
		queryMetrics.timeouts.Inc()
	}

	summary, mode := synthesize(ctx, p.llmProvider, req, results)
	diag.SynthesisMode = mode

	packIDs := make([]string, len(results))
	for i, r := range results {
		packIDs[i] = r.PackID
	}

	resp := Response{
		PackIDs:     packIDs,
		Packs:       results,
		Summary:     summary,
		Diagnostics: diag,
		LatencyMs:   time.Since(start).Milliseconds(),
	}
	if req.Depth == DepthIDs {
		resp.Packs = nil
	}

	if policy.Write {
		p.cache.put(key, resp, policy)
	}

	queryMetrics.latencySeconds.Observe(time.Since(start).Seconds())
	return resp, nil
}

// attachSymbolPack looks up the symbol pack owned by symbolID and, if
// found, merges it into set under engine with the given score. Every
// BuildSymbolPack's PackID is fingerprint.PackID(PackTypeSymbol, symbolID)
// (internal/ingest/pack.go), so FindPacksByTarget resolves it directly.
func (p *Pipeline) attachSymbolPack(ctx context.Context, set candidateSet, symbolID, engine string, score float64) {
	packs, err := p.backend.FindPacksByTarget(ctx, storage.PackTypeSymbol, symbolID)
	if err != nil {
		return
	}
	for _, pack := range packs {
		set.merge(pack, engine, score)
	}
}

// gateProviders implements spec.md §4.7 stage 2: required providers must
// actually be usable before candidate generation starts; optional
// providers degrade silently; disabled providers are never consulted.
func (p *Pipeline) gateProviders(req Request) error {
	if req.EmbeddingRequirement == RequirementRequired && p.embedGen == nil {
		return cieerrors.ProviderUnavailable(
			"embedding", "embedding_requirement=required but no embedding provider is configured", nil)
	}
	if req.LLMRequirement == RequirementRequired && p.llmProvider == nil {
		return cieerrors.ProviderUnavailable(
			"chat-completion", "llm_requirement=required but no chat-completion provider is configured", nil)
	}
	return nil
}

// waitForIndex implements spec.md §4.7 stage 3: bounded wait for any
// in-flight ingestion pass to settle, so a query issued immediately after
// a file change sees the freshest possible snapshot without blocking
// indefinitely. A zero WaitForIndexMs or nil waiter skips this entirely.
func (p *Pipeline) waitForIndex(ctx context.Context, req Request) error {
	if p.waiter == nil || req.WaitForIndexMs <= 0 {
		return nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(req.WaitForIndexMs)*time.Millisecond)
	defer cancel()
	return p.waiter.WaitIdle(waitCtx)
}

func effectiveCachePolicy(req Request) CachePolicy {
	if req.CachePolicyOverride != nil {
		return *req.CachePolicyOverride
	}
	return CachePolicy{Read: true, Write: true, MaxEntries: 1000, TTLMs: 5 * 60 * 1000}
}
