// Package auth authenticates the suite's HTTP surface and inter-module
// calls through an ordered chain of providers (ProviderChain,
// BearerTokenProvider, CloudPeerTokenProvider). Identity and Provider are
// defined here directly rather than implementing an external interface.
package auth

import (
	"context"
	"net/http"
	"time"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	Subject     string
	Provider    string
	Role        string
	DisplayName string
	ExpiresAt   time.Time
}

// Provider authenticates one kind of credential. Its tri-state return
// contract:
//
//	(*Identity, nil) -> authenticated, stop walking the chain
//	(nil, nil)       -> this provider doesn't apply, try the next one
//	(nil, err)       -> credential present but invalid, reject immediately
type Provider interface {
	Name() string
	Enabled() bool
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}
