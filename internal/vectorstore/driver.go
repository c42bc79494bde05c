// Package vectorstore adapts the suite's semantic facts onto a pluggable
// nearest-neighbour backend: an in-memory brute-force driver for
// development, and pgvector for production.
package vectorstore

import (
	"context"

	"github.com/modsuite/runtime/pkg/models"
)

// Driver is the contract every vector store backend implements, scoped
// per-user rather than per-tenant.
type Driver interface {
	Kind() string
	Upsert(ctx context.Context, user string, facts []models.SemanticFact) error
	Search(ctx context.Context, user string, vector []float64, topK int, filter map[string]string) ([]models.SemanticHit, error)
	Delete(ctx context.Context, user string, ids []string) error
	Count(ctx context.Context, user string) (int, error)
	HealthCheck(ctx context.Context) error
}
