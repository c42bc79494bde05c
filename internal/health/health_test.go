package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/modsuite/runtime/internal/eventbus"
	"github.com/modsuite/runtime/internal/process"
	"github.com/modsuite/runtime/pkg/models"
)

func TestNewAppliesDefaultMaxInFlight(t *testing.T) {
	m := New(Config{}, nil, zerolog.Nop())
	require.Equal(t, 8, m.cfg.MaxInFlight)
}

func TestNewKeepsExplicitMaxInFlight(t *testing.T) {
	m := New(Config{MaxInFlight: 3}, nil, zerolog.Nop())
	require.Equal(t, 3, m.cfg.MaxInFlight)
}

func TestProbeReturnsHealthyOn2xxMatchingModuleID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(healthPayload{Status: "ok", ModuleID: "notes"})
	}))
	defer srv.Close()

	m := New(Config{ProbeTimeout: time.Second}, nil, zerolog.Nop())
	require.Equal(t, models.ProbeHealthy, m.probe(context.Background(), srv.URL, "notes"))
}

func TestProbeReturnsFailedOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := New(Config{ProbeTimeout: time.Second}, nil, zerolog.Nop())
	require.Equal(t, models.ProbeFailed, m.probe(context.Background(), srv.URL, "notes"))
}

func TestProbeReturnsFailedOnUnreachable(t *testing.T) {
	m := New(Config{ProbeTimeout: 100 * time.Millisecond}, nil, zerolog.Nop())
	require.Equal(t, models.ProbeFailed, m.probe(context.Background(), "http://127.0.0.1:1", "notes"))
}

func TestProbeReturnsFailedOnModuleIDMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(healthPayload{Status: "ok", ModuleID: "someone-else"})
	}))
	defer srv.Close()

	m := New(Config{ProbeTimeout: time.Second}, nil, zerolog.Nop())
	require.Equal(t, models.ProbeFailed, m.probe(context.Background(), srv.URL, "notes"))
}

func TestProbeReturnsDegradedOnSelfReportedDegradedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(healthPayload{Status: "degraded", ModuleID: "notes"})
	}))
	defer srv.Close()

	m := New(Config{ProbeTimeout: time.Second}, nil, zerolog.Nop())
	require.Equal(t, models.ProbeDegraded, m.probe(context.Background(), srv.URL, "notes"))
}

func TestProbeSkipsModuleIDCheckWhenExpectedIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	m := New(Config{ProbeTimeout: time.Second}, nil, zerolog.Nop())
	require.Equal(t, models.ProbeHealthy, m.probe(context.Background(), srv.URL, ""))
}

func TestRunSweepsOnIntervalAndStopsOnCancel(t *testing.T) {
	registry := process.NewRegistry(process.Config{ModulesDir: t.TempDir()}, eventbus.New(10, zerolog.Nop()), zerolog.Nop())
	require.NoError(t, registry.Discover())

	m := New(Config{Interval: 10 * time.Millisecond, ProbeTimeout: 100 * time.Millisecond}, registry, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
