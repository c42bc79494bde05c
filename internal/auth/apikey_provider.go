package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// BearerTokenProvider validates the suite's single shared bearer token,
// carried in Authorization: Bearer, X-Suite-Token, or an auth_token query
// parameter (for SSE connections that can't set headers).
type BearerTokenProvider struct {
	mu      sync.RWMutex
	token   string
	enabled bool
	role    string
}

// NewBearerTokenProvider creates a provider validating against token. If
// token is empty, the provider stays disabled (auth is off).
func NewBearerTokenProvider(token string) *BearerTokenProvider {
	return &BearerTokenProvider{token: token, enabled: token != "", role: "operator"}
}

// GenerateToken returns a new random 32-byte token, hex-encoded, suitable
// for persisting via the config store's secret-wrapping path.
func GenerateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (p *BearerTokenProvider) Name() string { return "bearer_token" }

func (p *BearerTokenProvider) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

// Authenticate validates the request's bearer token.
func (p *BearerTokenProvider) Authenticate(_ context.Context, r *http.Request) (*Identity, error) {
	candidate := extractBearerToken(r)
	if candidate == "" {
		return nil, nil
	}
	if !p.validate(candidate) {
		return nil, fmt.Errorf("invalid bearer token")
	}

	digest := sha256.Sum256([]byte(candidate))
	return &Identity{
		Subject:     "token:" + hex.EncodeToString(digest[:])[:16],
		Provider:    "bearer_token",
		Role:        p.role,
		DisplayName: "suite operator",
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}, nil
}

func (p *BearerTokenProvider) validate(candidate string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(p.token)) == 1
}

// Rotate replaces the active token, e.g. after the config store persists a
// freshly generated one.
func (p *BearerTokenProvider) Rotate(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = token
	p.enabled = token != ""
}

func extractBearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if tok := r.Header.Get("X-Suite-Token"); tok != "" {
		return tok
	}
	if tok := r.URL.Query().Get("auth_token"); tok != "" {
		return tok
	}
	return ""
}
