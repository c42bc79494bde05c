// Package contextgraph assembles the bounded per-query context bundle:
// facts, semantic hits, module/health status, recent events, and an
// optional remote excerpt merged in from the cloud bridge's last pull.
// Bundles are cached by a crypto/md5 digest of the user, query, and
// options.
package contextgraph

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/modsuite/runtime/internal/eventbus"
	"github.com/modsuite/runtime/internal/factstore"
	"github.com/modsuite/runtime/internal/process"
	"github.com/modsuite/runtime/internal/vectorstore"
	"github.com/modsuite/runtime/pkg/models"
)

// Config bounds bundle assembly.
type Config struct {
	TopKFacts        int
	TopKSemantic     int
	MinConfidence    float64
	MaxAgeRemote     time.Duration
	CacheTTL         time.Duration
	MaxBundleBytes   int
	RecentEventLimit int
}

type cacheEntry struct {
	bundle    models.ContextBundle
	expiresAt time.Time
}

// Graph assembles and caches context bundles.
type Graph struct {
	cfg     Config
	facts   *factstore.Store
	vectors vectorstore.Driver
	embed   Embedder
	reg     *process.Registry
	bus     *eventbus.Bus
	log     zerolog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// Embedder turns a query string into a vector for semantic search. The
// suite's own embedding backend is out of scope (see Non-goals); callers
// wire in whichever embedding module they run.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// New creates a context graph over the given stores.
func New(cfg Config, facts *factstore.Store, vectors vectorstore.Driver, embed Embedder, reg *process.Registry, bus *eventbus.Bus, log zerolog.Logger) *Graph {
	return &Graph{cfg: cfg, facts: facts, vectors: vectors, embed: embed, reg: reg, bus: bus, log: log, cache: make(map[string]cacheEntry)}
}

// Build assembles (or returns a cached) bundle for user/query. remote, if
// non-nil, is the most recent bundle pulled from a cloud peer and is
// merged in as RemoteExcerpt if still fresh enough per MaxAgeRemote.
func (g *Graph) Build(ctx context.Context, user, query string, remote *models.ContextBundle) (models.ContextBundle, error) {
	key := g.cacheKey(user, query, remote)

	g.mu.Lock()
	if entry, ok := g.cache[key]; ok && time.Now().Before(entry.expiresAt) {
		g.mu.Unlock()
		return entry.bundle, nil
	}
	g.mu.Unlock()

	bundle := models.ContextBundle{
		User:      user,
		Query:     query,
		Timestamp: time.Now().UTC(),
	}

	facts, err := g.facts.RecallAll(user)
	if err != nil {
		return bundle, fmt.Errorf("recall facts: %w", err)
	}
	bundle.Facts = filterAndCapFacts(facts, g.cfg.MinConfidence, g.cfg.TopKFacts)

	if g.embed != nil && query != "" {
		vec, err := g.embed.Embed(ctx, query)
		if err != nil {
			g.log.Warn().Err(err).Msg("embedding query failed, skipping semantic hits")
		} else {
			hits, err := g.vectors.Search(ctx, user, vec, g.cfg.TopKSemantic, nil)
			if err != nil {
				g.log.Warn().Err(err).Msg("semantic search failed")
			} else {
				bundle.SemanticHits = hits
			}
		}
	}

	for _, rt := range g.reg.List() {
		age := time.Since(rt.LastProbeAt).Seconds()
		if rt.LastProbeAt.IsZero() {
			age = 0
		}
		bundle.ModuleStatus = append(bundle.ModuleStatus, models.ModuleStatus{
			ModuleID:      rt.ModuleID,
			State:         string(rt.State),
			Port:          rt.AssignedPort,
			LastProbeAgeS: age,
		})
	}

	bundle.RecentEvents = g.bus.Recent(g.cfg.RecentEventLimit)

	if remote != nil && time.Since(remote.Timestamp) <= g.cfg.MaxAgeRemote {
		bundle.RemoteExcerpt = mergeRemote(remote)
	}

	trimToBudget(&bundle, g.cfg.MaxBundleBytes)

	g.mu.Lock()
	g.cache[key] = cacheEntry{bundle: bundle, expiresAt: time.Now().Add(g.cfg.CacheTTL)}
	g.mu.Unlock()

	return bundle, nil
}

// Invalidate drops any cached bundle for user. Build does not watch the
// fact store, so a bundle cached before a fact or semantic fact write is
// served until CacheTTL expires or Invalidate is called.
func (g *Graph) Invalidate(user string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prefix := user + "|"
	for k := range g.cache {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(g.cache, k)
		}
	}
}

func (g *Graph) cacheKey(user, query string, remote *models.ContextBundle) string {
	h := md5.New()
	h.Write([]byte(user))
	h.Write([]byte{0})
	h.Write([]byte(query))
	if remote != nil {
		h.Write([]byte{0})
		h.Write([]byte(remote.Timestamp.String()))
	}
	return user + "|" + hex.EncodeToString(h.Sum(nil))
}

// filterAndCapFacts drops low-confidence facts and caps the bundle to the
// top K. facts is expected pre-sorted by recall recency/confidence, so the
// cap keeps the most relevant ones rather than an arbitrary prefix.
func filterAndCapFacts(facts []models.Fact, minConfidence float64, topK int) []models.Fact {
	var kept []models.Fact
	for _, f := range facts {
		if f.Confidence >= minConfidence {
			kept = append(kept, f)
		}
	}
	if topK > 0 && len(kept) > topK {
		kept = kept[:topK]
	}
	return kept
}

// mergeRemote returns a copy of a peer's excerpt with its own nested
// excerpt cleared, to be attached beside the local facts. Facts are not
// merged one by one: no updated_at or confidence comparison is made, and
// remote facts are kept whatever their age.
func mergeRemote(remote *models.ContextBundle) *models.ContextBundle {
	cp := *remote
	cp.RemoteExcerpt = nil // excerpts do not nest
	return &cp
}

// trimToBudget drops sections in priority order (remote excerpt, recent
// events, semantic hits, facts) until the serialized bundle fits maxBytes.
func trimToBudget(bundle *models.ContextBundle, maxBytes int) {
	if maxBytes <= 0 {
		return
	}
	for size(bundle) > maxBytes {
		switch {
		case bundle.RemoteExcerpt != nil:
			bundle.RemoteExcerpt = nil
		case len(bundle.RecentEvents) > 0:
			bundle.RecentEvents = bundle.RecentEvents[:len(bundle.RecentEvents)-1]
		case len(bundle.SemanticHits) > 0:
			bundle.SemanticHits = bundle.SemanticHits[:len(bundle.SemanticHits)-1]
		case len(bundle.Facts) > 0:
			bundle.Facts = bundle.Facts[:len(bundle.Facts)-1]
		default:
			return
		}
	}
}

func size(bundle *models.ContextBundle) int {
	data, err := json.Marshal(bundle)
	if err != nil {
		return 0
	}
	return len(data)
}
