package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/modsuite/runtime/internal/auth"
)

func TestAuthMiddlewareRejectsMissingCredential(t *testing.T) {
	chain := auth.NewProviderChain(zerolog.Nop())
	chain.RegisterProvider(auth.NewBearerTokenProvider("s3cret"))
	mw := NewAuthMiddleware(chain)

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareRejectsInvalidCredential(t *testing.T) {
	chain := auth.NewProviderChain(zerolog.Nop())
	chain.RegisterProvider(auth.NewBearerTokenProvider("s3cret"))
	mw := NewAuthMiddleware(chain)

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareAllowsValidCredential(t *testing.T) {
	chain := auth.NewProviderChain(zerolog.Nop())
	chain.RegisterProvider(auth.NewBearerTokenProvider("s3cret"))
	mw := NewAuthMiddleware(chain)

	called := false
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, called)
}
