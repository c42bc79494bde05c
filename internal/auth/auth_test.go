package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestBearerTokenProviderAcceptsValidToken(t *testing.T) {
	p := NewBearerTokenProvider("s3cret")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer s3cret")

	id, err := p.Authenticate(req.Context(), req)
	require.NoError(t, err)
	require.NotNil(t, id)
	require.Equal(t, "bearer_token", id.Provider)
}

func TestBearerTokenProviderRejectsWrongToken(t *testing.T) {
	p := NewBearerTokenProvider("s3cret")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer wrong")

	_, err := p.Authenticate(req.Context(), req)
	require.Error(t, err)
}

func TestBearerTokenProviderPassesThroughWhenAbsent(t *testing.T) {
	p := NewBearerTokenProvider("s3cret")
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	id, err := p.Authenticate(req.Context(), req)
	require.NoError(t, err)
	require.Nil(t, id)
}

func TestBearerTokenProviderAcceptsHeaderAndQueryVariants(t *testing.T) {
	p := NewBearerTokenProvider("s3cret")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Suite-Token", "s3cret")
	id, err := p.Authenticate(req.Context(), req)
	require.NoError(t, err)
	require.NotNil(t, id)

	req2 := httptest.NewRequest(http.MethodGet, "/?auth_token=s3cret", nil)
	id2, err := p.Authenticate(req2.Context(), req2)
	require.NoError(t, err)
	require.NotNil(t, id2)
}

func TestBearerTokenProviderDisabledWithEmptyToken(t *testing.T) {
	p := NewBearerTokenProvider("")
	require.False(t, p.Enabled())
}

func TestBearerTokenProviderRotate(t *testing.T) {
	p := NewBearerTokenProvider("old")
	p.Rotate("new")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer old")
	_, err := p.Authenticate(req.Context(), req)
	require.Error(t, err)

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.Header.Set("Authorization", "Bearer new")
	id, err := p.Authenticate(req2.Context(), req2)
	require.NoError(t, err)
	require.NotNil(t, id)
}

func TestGenerateTokenProducesDistinctHexTokens(t *testing.T) {
	a, err := GenerateToken()
	require.NoError(t, err)
	b, err := GenerateToken()
	require.NoError(t, err)
	require.Len(t, a, 64)
	require.NotEqual(t, a, b)
}

func TestCloudPeerTokenProviderRoundTrip(t *testing.T) {
	secret := []byte("peer-secret")
	token, err := GeneratePeerToken(secret, "peer-prod-1", "cloud_peer", time.Hour)
	require.NoError(t, err)

	p := NewCloudPeerTokenProvider("peer-secret")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Suite-Peer-Token", token)

	id, err := p.Authenticate(req.Context(), req)
	require.NoError(t, err)
	require.Equal(t, "peer:peer-prod-1", id.Subject)
}

func TestCloudPeerTokenProviderRejectsExpiredToken(t *testing.T) {
	secret := []byte("peer-secret")
	token, err := GeneratePeerToken(secret, "peer-prod-1", "cloud_peer", -time.Hour)
	require.NoError(t, err)

	p := NewCloudPeerTokenProvider("peer-secret")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Suite-Peer-Token", token)

	_, err = p.Authenticate(req.Context(), req)
	require.Error(t, err)
}

func TestCloudPeerTokenProviderRejectsTamperedSignature(t *testing.T) {
	token, err := GeneratePeerToken([]byte("peer-secret"), "peer-prod-1", "cloud_peer", time.Hour)
	require.NoError(t, err)

	p := NewCloudPeerTokenProvider("different-secret")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Suite-Peer-Token", token)

	_, err = p.Authenticate(req.Context(), req)
	require.Error(t, err)
}

func TestCloudPeerTokenProviderDisabledWithEmptySecret(t *testing.T) {
	p := NewCloudPeerTokenProvider("")
	require.False(t, p.Enabled())
}

func TestProviderChainStopsAtFirstMatch(t *testing.T) {
	chain := NewProviderChain(zerolog.Nop())
	chain.RegisterProvider(NewBearerTokenProvider("first"))
	chain.RegisterProvider(NewBearerTokenProvider("second"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer first")

	id, err := chain.Authenticate(req.Context(), req)
	require.NoError(t, err)
	require.NotNil(t, id)
}

func TestProviderChainSkipsDisabledProviders(t *testing.T) {
	chain := NewProviderChain(zerolog.Nop())
	chain.RegisterProvider(NewBearerTokenProvider(""))
	chain.RegisterProvider(NewBearerTokenProvider("active"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer active")

	id, err := chain.Authenticate(req.Context(), req)
	require.NoError(t, err)
	require.NotNil(t, id)
	require.Equal(t, []string{"bearer_token", "bearer_token"}, chain.ListProviders())
}

func TestProviderChainNoMatchReturnsNilNil(t *testing.T) {
	chain := NewProviderChain(zerolog.Nop())
	chain.RegisterProvider(NewBearerTokenProvider("active"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	id, err := chain.Authenticate(req.Context(), req)
	require.NoError(t, err)
	require.Nil(t, id)
}
