// Package embeddings provides pluggable text embedding drivers (Ollama,
// OpenAI) and a registry for the Context Graph's semantic search path.
package embeddings

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Driver embeds batches of text into vectors for the vector index adapter.
type Driver interface {
	Kind() string
	Dimensions() int
	MaxBatchSize() int
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	HealthCheck(ctx context.Context) error
}

// Registry holds named embedding drivers. Thread-safe.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
	log     zerolog.Logger
}

// NewRegistry creates an empty embedding registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{drivers: make(map[string]Driver), log: log}
}

// Register adds a driver under the given name. Overwrites if exists.
func (r *Registry) Register(name string, driver Driver) {
	r.mu.Lock()
	r.drivers[name] = driver
	r.mu.Unlock()
	r.log.Info().Str("name", name).Str("kind", driver.Kind()).Int("dims", driver.Dimensions()).Msg("embedding driver registered")
}

// Get returns the driver by name, or error if not found.
func (r *Registry) Get(name string) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[name]
	if !ok {
		return nil, fmt.Errorf("embedding driver not found: %s", name)
	}
	return d, nil
}

// List returns all registered driver names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	return names
}

// HealthCheckAll pings every registered driver and returns errors keyed by name.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	snapshot := make(map[string]Driver, len(r.drivers))
	for k, v := range r.drivers {
		snapshot[k] = v
	}
	r.mu.RUnlock()

	results := make(map[string]error, len(snapshot))
	for name, driver := range snapshot {
		results[name] = driver.HealthCheck(ctx)
	}
	return results
}

// SingleTextEmbedder adapts a batch Driver to the Context Graph's
// single-text Embedder interface.
type SingleTextEmbedder struct {
	driver Driver
}

// NewSingleTextEmbedder wraps driver for single-query embedding calls.
func NewSingleTextEmbedder(driver Driver) *SingleTextEmbedder {
	return &SingleTextEmbedder{driver: driver}
}

// Embed embeds a single piece of text, used for a context query vector.
func (e *SingleTextEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	vectors, err := e.driver.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedding driver returned no vectors")
	}
	return vectors[0], nil
}
