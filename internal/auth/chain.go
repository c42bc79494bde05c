package auth

import (
	"context"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// ProviderChain walks registered providers in order until one returns an
// Identity.
type ProviderChain struct {
	mu        sync.RWMutex
	providers []Provider
	log       zerolog.Logger
}

// NewProviderChain creates an empty auth provider chain.
func NewProviderChain(log zerolog.Logger) *ProviderChain {
	return &ProviderChain{log: log}
}

// RegisterProvider adds a provider to the end of the chain.
func (c *ProviderChain) RegisterProvider(p Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers = append(c.providers, p)
	c.log.Info().Str("provider", p.Name()).Bool("enabled", p.Enabled()).Msg("auth provider registered")
}

// Authenticate walks the chain; see Provider's doc comment for the
// tri-state contract each provider follows.
func (c *ProviderChain) Authenticate(ctx context.Context, r *http.Request) (*Identity, error) {
	c.mu.RLock()
	providers := make([]Provider, len(c.providers))
	copy(providers, c.providers)
	c.mu.RUnlock()

	for _, p := range providers {
		if !p.Enabled() {
			continue
		}
		identity, err := p.Authenticate(ctx, r)
		if err != nil {
			c.log.Debug().Str("provider", p.Name()).Err(err).Msg("auth provider rejected request")
			return nil, err
		}
		if identity != nil {
			c.log.Debug().Str("provider", p.Name()).Str("subject", identity.Subject).Msg("request authenticated")
			return identity, nil
		}
	}
	return nil, nil
}

// ListProviders returns the names of every registered provider.
func (c *ProviderChain) ListProviders() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}
