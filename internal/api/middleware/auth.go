package middleware

import (
	"net/http"

	"github.com/modsuite/runtime/internal/auth"
	pkgmw "github.com/modsuite/runtime/pkg/middleware"
)

// AuthMiddleware authenticates every request through a provider chain,
// rejecting requests no provider accepts with 401.
type AuthMiddleware struct {
	chain *auth.ProviderChain
}

// NewAuthMiddleware wraps chain as HTTP middleware.
func NewAuthMiddleware(chain *auth.ProviderChain) *AuthMiddleware {
	return &AuthMiddleware{chain: chain}
}

// Handler authenticates the request and rejects it with 401 if no
// registered provider accepts the presented credential. Requests with no
// credential at all are also rejected — the suite's HTTP surface has no
// anonymous access tier.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := m.chain.Authenticate(r.Context(), r)
		if err != nil {
			http.Error(w, "unauthorized: "+err.Error(), http.StatusUnauthorized)
			return
		}
		if identity == nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := pkgmw.SetIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
