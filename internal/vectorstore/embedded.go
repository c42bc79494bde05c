package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/modsuite/runtime/pkg/models"
)

// DefaultMaxVectors is the default cap for the embedded store.
const DefaultMaxVectors = 50_000

// EmbeddedStore is an in-memory brute-force cosine similarity index.
// Suitable for development and small deployments; production installs
// should register a pgvector-backed Driver instead.
type EmbeddedStore struct {
	mu         sync.RWMutex
	facts      map[string]*models.SemanticFact // key: user:id
	maxVectors int
	log        zerolog.Logger
}

// EmbeddedOption configures the embedded store.
type EmbeddedOption func(*EmbeddedStore)

// WithMaxVectors overrides the default vector cap.
func WithMaxVectors(max int) EmbeddedOption {
	return func(s *EmbeddedStore) { s.maxVectors = max }
}

// NewEmbeddedStore creates an in-memory vector store.
func NewEmbeddedStore(log zerolog.Logger, opts ...EmbeddedOption) *EmbeddedStore {
	s := &EmbeddedStore{
		facts:      make(map[string]*models.SemanticFact),
		maxVectors: DefaultMaxVectors,
		log:        log,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log.Info().Int("max_vectors", s.maxVectors).Msg("embedded vector store initialized")
	return s
}

func (s *EmbeddedStore) Kind() string { return "embedded" }

func (s *EmbeddedStore) Upsert(_ context.Context, user string, facts []models.SemanticFact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newCount := 0
	for _, f := range facts {
		if _, exists := s.facts[key(user, f.ID)]; !exists {
			newCount++
		}
	}
	total := len(s.facts) + newCount
	if total > s.maxVectors {
		return fmt.Errorf("embedded vector store capacity exceeded: %d > %d", total, s.maxVectors)
	}
	if total > int(float64(s.maxVectors)*0.9) {
		s.log.Warn().Int("count", total).Int("max", s.maxVectors).Msg("embedded vector store nearing capacity")
	}

	now := time.Now()
	for _, f := range facts {
		cp := f
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		s.facts[key(user, cp.ID)] = &cp
	}
	return nil
}

func (s *EmbeddedStore) Search(_ context.Context, user string, vector []float64, topK int, filter map[string]string) ([]models.SemanticHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		fact  *models.SemanticFact
		score float64
	}
	var candidates []scored
	prefix := user + ":"
	category := filter["category"]
	for k, f := range s.facts {
		if len(k) < len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		if len(f.Embedding) != len(vector) {
			continue
		}
		if category != "" && f.Category != category {
			continue
		}
		candidates = append(candidates, scored{fact: f, score: cosineSimilarity(vector, f.Embedding)})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	if topK > len(candidates) {
		topK = len(candidates)
	}
	hits := make([]models.SemanticHit, topK)
	for i := 0; i < topK; i++ {
		f := candidates[i].fact
		hits[i] = models.SemanticHit{
			ID:    f.ID,
			Text:  f.Text,
			Score: candidates[i].score,
			Key:   f.Key,
			Metadata: map[string]string{
				"category": f.Category,
			},
		}
	}
	return hits, nil
}

func (s *EmbeddedStore) Delete(_ context.Context, user string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.facts, key(user, id))
	}
	return nil
}

func (s *EmbeddedStore) Count(_ context.Context, user string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	prefix := user + ":"
	for k := range s.facts {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			count++
		}
	}
	return count, nil
}

func (s *EmbeddedStore) HealthCheck(_ context.Context) error {
	return nil
}

func key(user, id string) string {
	return user + ":" + id
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
