// Package vectorindex implements the Vector Index: an in-memory
// owner_id -> unit vector map with a generation counter, per spec.md
// §4.6. Grounded on 0xcro3dile-localrag-go's InMemoryStore/
// cosineSimilarity (brute-force cosine top-k) and conceptually on the
// teacher's pkg/tools/semantic.go executeHNSWQuery (k/ef/bind_distance
// query shape) — the search surface mirrors an ANN query even though
// the implementation underneath is exact cosine, which spec.md §4.6
// explicitly permits for small corpora.
package vectorindex

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kodecortex/cie/internal/embed"
	"github.com/kodecortex/cie/internal/storage"
)

// ErrIdentityChanged is returned by Add when the vector's model
// identity differs from the index's current identity, per spec.md
// §4.6's "mixed model identities are never indexed". The caller must
// call RebuildFromScan to adopt the new identity.
var ErrIdentityChanged = errors.New("vectorindex: model identity changed, rebuild required")

// Result is one ranked hit from Search.
type Result struct {
	OwnerKind  string
	OwnerID    string
	Similarity float64
}

// SearchOptions mirrors the teacher's HNSW query parameters (k, ef) for
// API-shape continuity with pkg/tools/semantic.go's executeHNSWQuery,
// even though EF has no effect in this brute-force implementation — a
// future ANN backend can honor it without changing the call signature.
type SearchOptions struct {
	K      int
	EF     int
	Filter func(ownerKind, ownerID string) bool
}

type entry struct {
	ownerKind string
	ownerID   string
	vector    []float32
}

// Index is the Vector Index: a reader-writer snapshot over
// owner_id -> unit vector, rebuildable from Store.ScanEmbeddings.
type Index struct {
	mu         sync.RWMutex
	entries    map[string]entry // key: ownerKind+":"+ownerID
	identity   embed.ModelIdentity
	hasIdentity bool
	generation uint64
}

func New() *Index {
	return &Index{entries: make(map[string]entry)}
}

func key(ownerKind, ownerID string) string {
	return ownerKind + ":" + ownerID
}

// Generation returns the current mutation counter, recorded by the
// Query Pipeline alongside every cache key per spec.md §4.6/§4.7.
func (idx *Index) Generation() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.generation
}

// Identity reports the model identity currently indexed, and whether
// the index has been populated at all.
func (idx *Index) Identity() (embed.ModelIdentity, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.identity, idx.hasIdentity
}

// Len reports the number of indexed vectors.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Add applies an add mutation, per spec.md §4.6's "writes go through
// the Storage Engine; the Vector Index exposes apply(add|remove) called
// transactionally after commit." Returns ErrIdentityChanged without
// mutating the index if identity differs from what is already indexed.
func (idx *Index) Add(ownerKind, ownerID string, vector []float32, identity embed.ModelIdentity) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.hasIdentity && !idx.identity.Equal(identity) {
		return ErrIdentityChanged
	}
	idx.identity = identity
	idx.hasIdentity = true
	idx.entries[key(ownerKind, ownerID)] = entry{ownerKind: ownerKind, ownerID: ownerID, vector: vector}
	idx.generation++
	vecMetrics.generation.Set(float64(idx.generation))
	vecMetrics.size.Set(float64(len(idx.entries)))
	return nil
}

// Remove applies a remove mutation. A no-op if the owner was never
// indexed.
func (idx *Index) Remove(ownerKind, ownerID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	k := key(ownerKind, ownerID)
	if _, ok := idx.entries[k]; !ok {
		return
	}
	delete(idx.entries, k)
	idx.generation++
	vecMetrics.generation.Set(float64(idx.generation))
	vecMetrics.size.Set(float64(len(idx.entries)))
}

// RemoveAllForOwnerKind removes every entry of a given owner kind.
func (idx *Index) RemoveAllForOwnerKind(ownerKind string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	removed := false
	for k, e := range idx.entries {
		if e.ownerKind == ownerKind {
			delete(idx.entries, k)
			removed = true
		}
	}
	if removed {
		idx.generation++
		vecMetrics.generation.Set(float64(idx.generation))
		vecMetrics.size.Set(float64(len(idx.entries)))
	}
}

// RebuildFromScan discards the current contents and reloads every
// embedding matching identity from the store, per spec.md §4.6's
// "rebuildable from scan_embeddings(model_identity) without loss."
func (idx *Index) RebuildFromScan(ctx context.Context, backend storage.Backend, identity embed.ModelIdentity) error {
	recs, err := backend.ScanEmbeddings(ctx, identity.Name, identity.Dim)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = make(map[string]entry, len(recs))
	for _, r := range recs {
		idx.entries[key(r.OwnerKind, r.OwnerID)] = entry{ownerKind: r.OwnerKind, ownerID: r.OwnerID, vector: r.Vector}
	}
	idx.identity = identity
	idx.hasIdentity = true
	idx.generation++
	vecMetrics.generation.Set(float64(idx.generation))
	vecMetrics.size.Set(float64(len(idx.entries)))
	vecMetrics.rebuilds.Inc()
	return nil
}

// Search returns the top-k owners by cosine similarity to query, in
// descending similarity order, per spec.md §4.6. An empty index returns
// an empty, non-error result (the Query Pipeline treats this as
// empty_index rather than a Search failure).
func (idx *Index) Search(query []float32, opts SearchOptions) []Result {
	start := time.Now()
	defer func() {
		vecMetrics.searches.Inc()
		vecMetrics.searchSeconds.Observe(time.Since(start).Seconds())
	}()

	k := opts.K
	if k <= 0 {
		k = 10
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	results := make([]Result, 0, len(idx.entries))
	for _, e := range idx.entries {
		if opts.Filter != nil && !opts.Filter(e.ownerKind, e.ownerID) {
			continue
		}
		sim := cosineSimilarity(query, e.vector)
		results = append(results, Result{OwnerKind: e.ownerKind, OwnerID: e.ownerID, Similarity: sim})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		// Deterministic tie-break, mirroring spec.md §4.7's rank stage
		// tie-break rule (lexicographic id) rather than map-iteration order.
		return results[i].OwnerID < results[j].OwnerID
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}

// cosineSimilarity is grounded directly on 0xcro3dile-localrag-go's
// vectordb.cosineSimilarity.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
