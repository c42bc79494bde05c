// Package cloudbridge is the suite's encrypted, bidirectional sync client
// to an optional cloud peer. Retries use github.com/cenkalti/backoff/v4.
// Payloads are authenticated-encrypted with golang.org/x/crypto/nacl/secretbox
// and gzip-compressed above a threshold before encryption.
package cloudbridge

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/modsuite/runtime/internal/eventbus"
	"github.com/modsuite/runtime/pkg/models"
)

// transientServerError wraps a 5xx response, which retries on its own
// fixed-spacing policy distinct from the connection-level backoff.
type transientServerError struct{ err error }

func (e transientServerError) Error() string { return e.err.Error() }
func (e transientServerError) Unwrap() error { return e.err }

// connectionBackoff is the exponential schedule for dial/TLS/transport
// failures: 10s, 20s, 40s, 80s, capped at 120s, growing until ctx expires.
func connectionBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 120 * time.Second
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	return bo
}

// serverErrorBackoff is the policy for transient 5xx responses: 3 attempts
// total, spaced 2s apart, independent of the connection backoff schedule.
func serverErrorBackoff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 2)
}

// sendWithRetry retries fn: a 5xx response counts as the first of
// serverErrorBackoff's attempts, the remaining ones follow at its 2s
// spacing, and only once that's exhausted does the attempt count
// against the outer connection backoff (so a flapping connection backs off
// exponentially while a momentarily overloaded peer gets quick, bounded
// retries instead).
func sendWithRetry(ctx context.Context, fn func() error) error {
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		var tse transientServerError
		if errors.As(err, &tse) {
			bo := backoff.WithContext(serverErrorBackoff(), ctx)
			for errors.As(err, &tse) {
				wait := bo.NextBackOff()
				if wait == backoff.Stop {
					return err
				}
				select {
				case <-ctx.Done():
					return err
				case <-time.After(wait):
				}
				err = fn()
			}
			return err
		}
		return err
	}, backoff.WithContext(connectionBackoff(), ctx))
}

// Config controls the bridge's peer, auth, and crypto parameters.
type Config struct {
	Enabled        bool
	PeerURL        string
	AuthToken      string
	SyncInterval   time.Duration
	VerifyTLS      bool
	Encrypt        bool
	KeyFile        string
	CompressAboveB int
}

// Bridge syncs local context bundles with a cloud peer.
type Bridge struct {
	cfg    Config
	client *http.Client
	bus    *eventbus.Bus
	log    zerolog.Logger
	key    *[32]byte

	mu       sync.Mutex
	interval time.Duration // adaptive; extends on repeated failure, capped at 2x cfg.SyncInterval
}

// New constructs a bridge. If cfg.Encrypt is set, it loads (or creates) the
// shared symmetric key at cfg.KeyFile.
func New(cfg Config, bus *eventbus.Bus, log zerolog.Logger) (*Bridge, error) {
	b := &Bridge{
		cfg:      cfg,
		bus:      bus,
		log:      log,
		interval: cfg.SyncInterval,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig(cfg.VerifyTLS),
			},
		},
	}
	if cfg.Encrypt {
		key, err := loadOrCreateKey(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load bridge key: %w", err)
		}
		b.key = key
	}
	return b, nil
}

// Run performs a sync every cfg.SyncInterval, until ctx is cancelled. Each
// consecutive sync failure doubles the wait before the next attempt, capped
// at twice the configured interval; a successful sync resets it.
func (b *Bridge) Run(ctx context.Context, buildPush func() (models.ContextBundle, error), applyPull func(models.ContextBundle)) {
	if !b.cfg.Enabled {
		return
	}
	timer := time.NewTimer(b.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := b.SyncNow(ctx, buildPush, applyPull); err != nil {
				b.log.Warn().Err(err).Msg("cloud sync failed")
				b.extendInterval()
			} else {
				b.resetInterval()
			}
			timer.Reset(b.currentInterval())
		}
	}
}

func (b *Bridge) currentInterval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interval
}

func (b *Bridge) extendInterval() {
	b.mu.Lock()
	defer b.mu.Unlock()
	max := b.cfg.SyncInterval * 2
	next := b.interval * 2
	if next > max {
		next = max
	}
	b.interval = next
}

func (b *Bridge) resetInterval() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interval = b.cfg.SyncInterval
}

// SyncNow performs one push-then-pull cycle immediately, retrying each leg
// with exponential backoff bounded by ctx.
func (b *Bridge) SyncNow(ctx context.Context, buildPush func() (models.ContextBundle, error), applyPull func(models.ContextBundle)) error {
	bundle, err := buildPush()
	if err != nil {
		return fmt.Errorf("build push payload: %w", err)
	}

	pushErr := sendWithRetry(ctx, func() error {
		return b.push(ctx, bundle)
	})

	var pulled models.ContextBundle
	pullErr := sendWithRetry(ctx, func() error {
		p, err := b.pull(ctx)
		if err != nil {
			return err
		}
		pulled = p
		return nil
	})

	if pushErr != nil || pullErr != nil {
		b.bus.Publish(models.Event{
			Type:   models.EventSyncFailure,
			Source: "cloudbridge",
			Payload: map[string]interface{}{
				"push_error": errString(pushErr),
				"pull_error": errString(pullErr),
			},
		})
		if pushErr != nil {
			return pushErr
		}
		return pullErr
	}

	if applyPull != nil {
		applyPull(pulled)
	}
	b.bus.Publish(models.Event{Type: models.EventSyncSuccess, Source: "cloudbridge"})
	return nil
}

func (b *Bridge) push(ctx context.Context, bundle models.ContextBundle) error {
	plain, err := json.Marshal(bundle)
	if err != nil {
		return backoff.Permanent(err)
	}

	envelope, err := b.encode(plain, "push")
	if err != nil {
		return backoff.Permanent(err)
	}

	req, err := b.newRequest(ctx, http.MethodPost, "/sync/push", envelope)
	if err != nil {
		return backoff.Permanent(err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return transientServerError{fmt.Errorf("peer returned %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(fmt.Errorf("peer rejected push: %d", resp.StatusCode))
	}
	return nil
}

func (b *Bridge) pull(ctx context.Context) (models.ContextBundle, error) {
	var bundle models.ContextBundle

	req, err := b.newRequest(ctx, http.MethodGet, "/sync/pull", nil)
	if err != nil {
		return bundle, backoff.Permanent(err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return bundle, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return bundle, transientServerError{fmt.Errorf("peer returned %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return bundle, backoff.Permanent(fmt.Errorf("peer rejected pull: %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return bundle, err
	}
	plain, err := b.decode(body)
	if err != nil {
		return bundle, backoff.Permanent(err)
	}
	if err := json.Unmarshal(plain, &bundle); err != nil {
		return bundle, backoff.Permanent(err)
	}
	return bundle, nil
}

func (b *Bridge) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, b.cfg.PeerURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+b.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/octet-stream")
	return req, nil
}

// encode gzip-compresses plain above CompressAboveB, then encrypts it if
// configured, returning the wire payload.
func (b *Bridge) encode(plain []byte, direction string) ([]byte, error) {
	payload := plain
	if len(payload) > b.cfg.CompressAboveB {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(payload); err != nil {
			return nil, err
		}
		if err := gz.Close(); err != nil {
			return nil, err
		}
		payload = buf.Bytes()
	}

	if b.key == nil {
		return payload, nil
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], payload, &nonce, b.key), nil
}

func (b *Bridge) decode(wire []byte) ([]byte, error) {
	payload := wire
	if b.key != nil {
		if len(wire) < 24 {
			return nil, fmt.Errorf("ciphertext too short")
		}
		var nonce [24]byte
		copy(nonce[:], wire[:24])
		opened, ok := secretbox.Open(nil, wire[24:], &nonce, b.key)
		if !ok {
			return nil, fmt.Errorf("decrypt failed: auth mismatch")
		}
		payload = opened
	}

	if isGzip(payload) {
		gz, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		return io.ReadAll(gz)
	}
	return payload, nil
}

func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func loadOrCreateKey(path string) (*[32]byte, error) {
	var key [32]byte
	data, err := os.ReadFile(path)
	if err == nil && len(data) == 32 {
		copy(key[:], data)
		return &key, nil
	}
	if _, err := rand.Read(key[:]); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key[:], 0600); err != nil {
		return nil, err
	}
	return &key, nil
}
