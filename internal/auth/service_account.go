package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// CloudPeerTokenProvider validates HMAC-signed tokens presented by a paired
// cloud peer, distinct from the suite's own bearer token (see
// BearerTokenProvider).
//
// Token format: base64(JSON payload) + "." + base64(HMAC-SHA256 signature)
// Payload: {"sub": "peer-prod-1", "role": "cloud_peer", "exp": 1234567890}
//
// Config: SUITE_CLOUD_PEER_SECRET env var (HMAC secret key).
type CloudPeerTokenProvider struct {
	secret  []byte
	enabled bool
}

// peerTokenPayload is the JWT-like payload for cloud peer tokens.
type peerTokenPayload struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	Exp     int64  `json:"exp"` // Unix timestamp
}

// NewCloudPeerTokenProvider creates a provider validating tokens signed with
// secret. If secret is empty, the provider stays disabled.
func NewCloudPeerTokenProvider(secret string) *CloudPeerTokenProvider {
	if secret == "" {
		return &CloudPeerTokenProvider{enabled: false}
	}
	return &CloudPeerTokenProvider{secret: []byte(secret), enabled: true}
}

// NewCloudPeerTokenProviderFromEnv reads SUITE_CLOUD_PEER_SECRET.
func NewCloudPeerTokenProviderFromEnv() *CloudPeerTokenProvider {
	return NewCloudPeerTokenProvider(os.Getenv("SUITE_CLOUD_PEER_SECRET"))
}

func (p *CloudPeerTokenProvider) Name() string { return "cloud_peer_token" }
func (p *CloudPeerTokenProvider) Enabled() bool { return p.enabled }

// Authenticate validates the X-Suite-Peer-Token header. Returns (nil, nil)
// if no peer token is present, (nil, err) if one is present but invalid.
func (p *CloudPeerTokenProvider) Authenticate(_ context.Context, r *http.Request) (*Identity, error) {
	token := r.Header.Get("X-Suite-Peer-Token")
	if token == "" {
		return nil, nil
	}

	payload, err := p.validateToken(token)
	if err != nil {
		return nil, fmt.Errorf("invalid cloud peer token: %w", err)
	}

	return &Identity{
		Subject:     "peer:" + payload.Subject,
		Provider:    "cloud_peer_token",
		Role:        payload.Role,
		DisplayName: payload.Subject,
		ExpiresAt:   time.Unix(payload.Exp, 0),
	}, nil
}

func (p *CloudPeerTokenProvider) validateToken(token string) (*peerTokenPayload, error) {
	parts := splitToken(token)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed token: expected payload.signature")
	}
	payloadB64, sigB64 := parts[0], parts[1]

	mac := hmac.New(sha256.New, p.secret)
	mac.Write([]byte(payloadB64))
	expectedSig := mac.Sum(nil)

	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if !hmac.Equal(sig, expectedSig) {
		return nil, fmt.Errorf("signature mismatch")
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, fmt.Errorf("invalid payload encoding: %w", err)
	}

	var payload peerTokenPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, fmt.Errorf("invalid payload JSON: %w", err)
	}

	if payload.Exp > 0 && time.Now().Unix() > payload.Exp {
		return nil, fmt.Errorf("token expired")
	}
	if payload.Subject == "" {
		return nil, fmt.Errorf("missing subject")
	}
	if payload.Role == "" {
		payload.Role = "cloud_peer"
	}

	return &payload, nil
}

func splitToken(token string) []string {
	for i := len(token) - 1; i >= 0; i-- {
		if token[i] == '.' {
			return []string{token[:i], token[i+1:]}
		}
	}
	return []string{token}
}

// GeneratePeerToken creates a signed cloud peer token for subject and role,
// valid for ttl.
func GeneratePeerToken(secret []byte, subject, role string, ttl time.Duration) (string, error) {
	payload := peerTokenPayload{
		Subject: subject,
		Role:    role,
		Exp:     time.Now().Add(ttl).Unix(),
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	payloadB64 := base64.RawURLEncoding.EncodeToString(payloadBytes)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payloadB64))
	sig := mac.Sum(nil)
	sigB64 := base64.RawURLEncoding.EncodeToString(sig)

	return payloadB64 + "." + sigB64, nil
}
