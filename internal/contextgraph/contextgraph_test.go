package contextgraph

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/modsuite/runtime/internal/eventbus"
	"github.com/modsuite/runtime/internal/factstore"
	"github.com/modsuite/runtime/internal/process"
	"github.com/modsuite/runtime/internal/vectorstore"
	"github.com/modsuite/runtime/pkg/models"
)

type stubEmbedder struct {
	vec []float64
	err error
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return e.vec, e.err
}

func newTestGraph(t *testing.T, cfg Config, embed Embedder) *Graph {
	t.Helper()
	fs, err := factstore.Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })

	vectors := vectorstore.NewEmbeddedStore(zerolog.Nop())
	reg := process.NewRegistry(process.Config{ModulesDir: t.TempDir()}, eventbus.New(10, zerolog.Nop()), zerolog.Nop())
	bus := eventbus.New(10, zerolog.Nop())

	return New(cfg, fs, vectors, embed, reg, bus, zerolog.Nop())
}

func TestBuildFiltersLowConfidenceAndCapsFacts(t *testing.T) {
	g := newTestGraph(t, Config{MinConfidence: 0.5, TopKFacts: 1}, nil)

	_, err := g.facts.Remember("alice", "a", "1", 0.9, "")
	require.NoError(t, err)
	_, err = g.facts.Remember("alice", "b", "2", 0.9, "")
	require.NoError(t, err)
	_, err = g.facts.Remember("alice", "c", "3", 0.1, "")
	require.NoError(t, err)

	bundle, err := g.Build(context.Background(), "alice", "", nil)
	require.NoError(t, err)
	require.Len(t, bundle.Facts, 1)
}

func TestBuildCachesByUserAndQuery(t *testing.T) {
	g := newTestGraph(t, Config{CacheTTL: time.Minute}, nil)

	_, err := g.facts.Remember("alice", "a", "1", 1, "")
	require.NoError(t, err)

	first, err := g.Build(context.Background(), "alice", "q", nil)
	require.NoError(t, err)

	_, err = g.facts.Remember("alice", "b", "2", 1, "")
	require.NoError(t, err)

	second, err := g.Build(context.Background(), "alice", "q", nil)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestInvalidateDropsCacheForUser(t *testing.T) {
	g := newTestGraph(t, Config{CacheTTL: time.Minute}, nil)

	_, err := g.facts.Remember("alice", "a", "1", 1, "")
	require.NoError(t, err)
	_, err = g.Build(context.Background(), "alice", "q", nil)
	require.NoError(t, err)

	g.Invalidate("alice")

	_, err = g.facts.Remember("alice", "b", "2", 1, "")
	require.NoError(t, err)
	second, err := g.Build(context.Background(), "alice", "q", nil)
	require.NoError(t, err)
	require.Len(t, second.Facts, 2)
}

func TestBuildSkipsSemanticHitsOnEmbedError(t *testing.T) {
	g := newTestGraph(t, Config{TopKSemantic: 5}, &stubEmbedder{err: context.Canceled})

	bundle, err := g.Build(context.Background(), "alice", "what color", nil)
	require.NoError(t, err)
	require.Empty(t, bundle.SemanticHits)
}

func TestBuildMergesFreshRemoteExcerptOnly(t *testing.T) {
	g := newTestGraph(t, Config{MaxAgeRemote: time.Minute}, nil)

	fresh := &models.ContextBundle{User: "alice", Timestamp: time.Now().UTC()}
	bundle, err := g.Build(context.Background(), "alice", "q1", fresh)
	require.NoError(t, err)
	require.NotNil(t, bundle.RemoteExcerpt)

	stale := &models.ContextBundle{User: "alice", Timestamp: time.Now().UTC().Add(-time.Hour)}
	bundle, err = g.Build(context.Background(), "alice", "q2", stale)
	require.NoError(t, err)
	require.Nil(t, bundle.RemoteExcerpt)
}

func TestTrimToBudgetDropsSectionsInPriorityOrder(t *testing.T) {
	bundle := &models.ContextBundle{
		User:          "alice",
		RemoteExcerpt: &models.ContextBundle{User: "alice"},
		RecentEvents:  []models.Event{{Type: "a"}, {Type: "b"}},
		Facts:         []models.Fact{{Key: "k", Value: "v"}},
	}

	trimToBudget(bundle, 10)

	require.Nil(t, bundle.RemoteExcerpt)
	require.Empty(t, bundle.RecentEvents)
	require.Empty(t, bundle.Facts)
}

func TestTrimToBudgetNoopWhenZero(t *testing.T) {
	bundle := &models.ContextBundle{
		RemoteExcerpt: &models.ContextBundle{},
	}
	trimToBudget(bundle, 0)
	require.NotNil(t, bundle.RemoteExcerpt)
}
