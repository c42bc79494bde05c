package cloudbridge

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/modsuite/runtime/internal/eventbus"
	"github.com/modsuite/runtime/pkg/models"
)

func TestEncodeDecodeRoundTripPlain(t *testing.T) {
	b := &Bridge{cfg: Config{CompressAboveB: 1 << 20}}

	wire, err := b.encode([]byte("hello"), "push")
	require.NoError(t, err)

	plain, err := b.decode(wire)
	require.NoError(t, err)
	require.Equal(t, "hello", string(plain))
}

func TestEncodeCompressesAboveThreshold(t *testing.T) {
	b := &Bridge{cfg: Config{CompressAboveB: 4}}

	payload := []byte("this payload is definitely longer than four bytes")
	wire, err := b.encode(payload, "push")
	require.NoError(t, err)
	require.True(t, isGzip(wire))

	plain, err := b.decode(wire)
	require.NoError(t, err)
	require.Equal(t, payload, plain)
}

func TestEncodeDecodeRoundTripEncrypted(t *testing.T) {
	key, err := loadOrCreateKey(filepath.Join(t.TempDir(), "key.bin"))
	require.NoError(t, err)
	b := &Bridge{cfg: Config{CompressAboveB: 1 << 20}, key: key}

	wire, err := b.encode([]byte("secret"), "push")
	require.NoError(t, err)
	require.NotEqual(t, "secret", string(wire))

	plain, err := b.decode(wire)
	require.NoError(t, err)
	require.Equal(t, "secret", string(plain))
}

func TestDecodeRejectsTamperedCiphertext(t *testing.T) {
	key, err := loadOrCreateKey(filepath.Join(t.TempDir(), "key.bin"))
	require.NoError(t, err)
	b := &Bridge{cfg: Config{CompressAboveB: 1 << 20}, key: key}

	wire, err := b.encode([]byte("secret"), "push")
	require.NoError(t, err)
	wire[len(wire)-1] ^= 0xFF

	_, err = b.decode(wire)
	require.Error(t, err)
}

func TestLoadOrCreateKeyPersistsAcrossCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.bin")

	first, err := loadOrCreateKey(path)
	require.NoError(t, err)

	second, err := loadOrCreateKey(path)
	require.NoError(t, err)
	require.Equal(t, *first, *second)
}

func TestSyncNowPushesAndPullsSuccessfully(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sync/push", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/sync/pull", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"user":"alice"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b, err := New(Config{Enabled: true, PeerURL: srv.URL, CompressAboveB: 1 << 20}, eventbus.New(10, zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)

	var pulled models.ContextBundle
	err = b.SyncNow(context.Background(), func() (models.ContextBundle, error) {
		return models.ContextBundle{User: "alice"}, nil
	}, func(bundle models.ContextBundle) {
		pulled = bundle
	})
	require.NoError(t, err)
	require.Equal(t, "alice", pulled.User)
}

func TestSyncNowReturnsPermanentErrorOn4xxWithoutRetryHang(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sync/push", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	bus := eventbus.New(10, zerolog.Nop())
	b, err := New(Config{Enabled: true, PeerURL: srv.URL, CompressAboveB: 1 << 20}, bus, zerolog.Nop())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- b.SyncNow(context.Background(), func() (models.ContextBundle, error) {
			return models.ContextBundle{User: "alice"}, nil
		}, nil)
	}()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("SyncNow did not return promptly on a permanent error")
	}

	recent := bus.Recent(10)
	require.NotEmpty(t, recent)
	require.Equal(t, models.EventSyncFailure, recent[len(recent)-1].Type)
}

func TestSendWithRetryRetriesTransientServerErrorThreeTimesThenGivesUp(t *testing.T) {
	var attempts int32
	ctx, cancel := context.WithTimeout(context.Background(), 4500*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := sendWithRetry(ctx, func() error {
		atomic.AddInt32(&attempts, 1)
		return transientServerError{fmt.Errorf("boom")}
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	require.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	require.GreaterOrEqual(t, elapsed, 4*time.Second)
}

func TestPushSucceedsAfterTransientServerErrorsWithinThreeAttempts(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/sync/push", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/sync/pull", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"user":"alice"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b, err := New(Config{Enabled: true, PeerURL: srv.URL, CompressAboveB: 1 << 20}, eventbus.New(10, zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)

	err = b.SyncNow(context.Background(), func() (models.ContextBundle, error) {
		return models.ContextBundle{User: "alice"}, nil
	}, nil)
	require.NoError(t, err)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestAdaptiveIntervalExtendsAndCapsAtTwiceConfigured(t *testing.T) {
	b := &Bridge{cfg: Config{SyncInterval: 10 * time.Second}, interval: 10 * time.Second}

	b.extendInterval()
	require.Equal(t, 20*time.Second, b.currentInterval())

	b.extendInterval()
	require.Equal(t, 20*time.Second, b.currentInterval(), "must not grow past 2x the configured interval")

	b.resetInterval()
	require.Equal(t, 10*time.Second, b.currentInterval())
}

func TestRunReturnsImmediatelyWhenDisabled(t *testing.T) {
	b, err := New(Config{Enabled: false}, eventbus.New(10, zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		b.Run(context.Background(), nil, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return immediately when disabled")
	}
}
