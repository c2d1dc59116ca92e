package query

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kodecortex/cie/internal/fingerprint"
	"github.com/kodecortex/cie/internal/storage"
)

// canonicalRequest is the subset of Request whose values can change what a
// query returns — used to build the cache key's first component. Fields
// that only bound execution (TimeoutMs, WaitForIndexMs, CachePolicyOverride)
// are excluded: two requests differing only in timeout budget must hit the
// same cache entry.
type canonicalRequest struct {
	Intent                string
	Depth                 Depth
	AffectedFiles         []string
	Filter                Filter
	LLMRequirement        Requirement
	EmbeddingRequirement  Requirement
	Deterministic         bool
	ForceSummarySynthesis bool
	IncludeEngines        []string
}

func toCanonicalRequest(req Request) canonicalRequest {
	files := append([]string(nil), req.AffectedFiles...)
	sort.Strings(files)
	engines := append([]string(nil), req.IncludeEngines...)
	sort.Strings(engines)
	return canonicalRequest{
		Intent:                req.Intent,
		Depth:                 req.Depth,
		AffectedFiles:         files,
		Filter:                req.Filter,
		LLMRequirement:        req.LLMRequirement,
		EmbeddingRequirement:  req.EmbeddingRequirement,
		Deterministic:         req.Deterministic,
		ForceSummarySynthesis: req.ForceSummarySynthesis,
		IncludeEngines:        engines,
	}
}

// packSnapshotHash computes spec.md §4.7's pack_snapshot_hash: the
// ContentHash of the canonical-JSON-encoded sorted list of every pack's
// content_hash currently in the store (DESIGN.md Open Question decision 1).
// Two queries against an unchanged store always compute the same hash,
// even though cie_pack rows aren't read in a fixed order.
func packSnapshotHash(ctx context.Context, backend storage.Backend) (string, error) {
	hashes, err := backend.ListPackContentHashes(ctx)
	if err != nil {
		return "", err
	}
	sort.Strings(hashes)
	encoded, err := fingerprint.CanonicalJSON(hashes)
	if err != nil {
		return "", err
	}
	return fingerprint.ContentHash(encoded), nil
}

// cacheKey is the full three-part key spec.md §4.7 specifies:
// (canonical_request, vector_index_generation, pack_snapshot_hash).
func cacheKey(req canonicalRequest, vectorGen uint64, snapshotHash string) (string, error) {
	encoded, err := fingerprint.CanonicalJSON(struct {
		Request      canonicalRequest
		VectorGen    uint64
		SnapshotHash string
	}{Request: req, VectorGen: vectorGen, SnapshotHash: snapshotHash})
	if err != nil {
		return "", err
	}
	return fingerprint.ContentHash(encoded), nil
}

// responseCache is the Query Pipeline's bounded, TTL-evicting response
// cache. A cache hit is indistinguishable from a miss to the caller except
// for latency and Diagnostics.CacheState, per spec.md §4.7.
type responseCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	order   []string // insertion order, for MaxEntries eviction (oldest first)
}

func newResponseCache() *responseCache {
	return &responseCache{entries: make(map[string]cacheEntry)}
}

func (c *responseCache) get(key string) (Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Response{}, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return Response{}, false
	}
	return e.response, true
}

func (c *responseCache) put(key string, resp Response, policy CachePolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if policy.TTLMs > 0 {
		expiresAt = time.Now().Add(time.Duration(policy.TTLMs) * time.Millisecond)
	}
	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = cacheEntry{response: resp, expiresAt: expiresAt}

	maxEntries := policy.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	for len(c.order) > maxEntries {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}
