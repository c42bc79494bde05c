// Package health runs the suite's periodic, bounded-concurrency health
// sweep over every registered module (and an optional external dependency
// probe), using golang.org/x/sync/errgroup to bound concurrency.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/modsuite/runtime/internal/process"
	"github.com/modsuite/runtime/pkg/models"
)

// Config controls sweep cadence, concurrency, and failure thresholds.
type Config struct {
	Interval      time.Duration
	ProbeTimeout  time.Duration
	MaxInFlight   int
	FailThreshold int
	OllamaURL     string
}

// Monitor runs the sweep loop. It holds no state of its own beyond the
// registry reference; module health state lives in the registry so
// concurrent readers (the HTTP surface, context graph) see a single
// source of truth.
type Monitor struct {
	cfg      Config
	registry *process.Registry
	client   *http.Client
	log      zerolog.Logger
}

// New creates a health monitor sweeping registry's modules per cfg.
func New(cfg Config, registry *process.Registry, log zerolog.Logger) *Monitor {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 8
	}
	return &Monitor{
		cfg:      cfg,
		registry: registry,
		client:   &http.Client{Timeout: cfg.ProbeTimeout},
		log:      log,
	}
}

// Run blocks, sweeping every cfg.Interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Monitor) sweep(ctx context.Context) {
	modules := m.registry.List()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.MaxInFlight)

	for _, rt := range modules {
		rt := rt
		if rt.State == models.ModuleRegistered || rt.State == models.ModuleStopped || rt.State == models.ModuleStopping {
			continue
		}
		g.Go(func() error {
			result := m.probe(gctx, rt.Endpoint+rt.Manifest.HealthRoute, rt.ModuleID)
			m.registry.MarkProbe(rt.ModuleID, result, m.cfg.FailThreshold)
			return nil
		})
	}
	_ = g.Wait()

	if m.cfg.OllamaURL != "" {
		if result := m.probe(ctx, m.cfg.OllamaURL, ""); result != models.ProbeHealthy {
			m.log.Warn().Str("url", m.cfg.OllamaURL).Str("result", string(result)).Msg("external model endpoint unreachable")
		}
	}
}

// healthPayload is the module contract's /health response body.
type healthPayload struct {
	Status   string `json:"status"`
	ModuleID string `json:"module_id"`
}

// probe issues GET url and classifies the result per the documented
// contract: non-2xx, a transport error, a mismatched module_id in the
// response body, or (when a module_id is expected) a body that is not
// valid JSON counts as failed; a 2xx body self-reporting
// status=degraded counts as degraded; everything else is healthy.
// expectedModuleID == "" skips the module_id check, for probing external
// dependencies (e.g. an Ollama endpoint) that don't speak this contract.
func (m *Monitor) probe(ctx context.Context, url, expectedModuleID string) models.ProbeResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.ProbeFailed
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return models.ProbeFailed
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.ProbeFailed
	}

	var payload healthPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		if expectedModuleID == "" {
			return models.ProbeHealthy
		}
		return models.ProbeFailed
	}

	if expectedModuleID != "" && payload.ModuleID != "" && payload.ModuleID != expectedModuleID {
		return models.ProbeFailed
	}
	if payload.Status == "degraded" {
		return models.ProbeDegraded
	}
	return models.ProbeHealthy
}
