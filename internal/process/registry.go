// Package process discovers modules, allocates them ports, and supervises
// their lifecycle as subprocesses — the suite's Module Registry.
package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/modsuite/runtime/internal/eventbus"
	"github.com/modsuite/runtime/pkg/models"
)

// Config controls registry discovery, port allocation, and startup budgets.
type Config struct {
	ModulesDir     string
	PortRangeStart int
	PortRangeEnd   int
	StartupBudget  time.Duration
	GracePeriod    time.Duration
	StateFile      string
	AuthToken      string
}

// Registry is the Module Registry: it owns discovery, port allocation, and
// process supervision for every module under ModulesDir.
type Registry struct {
	mu       sync.RWMutex
	cfg      Config
	runtimes map[string]*models.ModuleRuntime
	ports    *portAllocator
	executor *Executor
	bus      *eventbus.Bus
	log      zerolog.Logger
}

// NewRegistry creates a registry. Call Discover then StartAll to boot.
func NewRegistry(cfg Config, bus *eventbus.Bus, log zerolog.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		runtimes: make(map[string]*models.ModuleRuntime),
		ports:    newPortAllocator(cfg.PortRangeStart, cfg.PortRangeEnd),
		executor: NewExecutor(log),
		bus:      bus,
		log:      log,
	}
}

// Discover scans ModulesDir and registers every valid manifest found,
// in Registered state, without starting anything.
func (r *Registry) Discover() error {
	manifests, err := Discover(r.cfg.ModulesDir)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range manifests {
		r.runtimes[m.ModuleID] = &models.ModuleRuntime{
			ModuleID: m.ModuleID,
			Manifest: m,
			State:    models.ModuleRegistered,
		}
	}
	return nil
}

// StartAll starts every auto_start module in depends_on topological order,
// within the configured per-module startup budget.
func (r *Registry) StartAll() error {
	r.mu.RLock()
	manifests := make([]models.ModuleManifest, 0, len(r.runtimes))
	for _, rt := range r.runtimes {
		manifests = append(manifests, rt.Manifest)
	}
	r.mu.RUnlock()

	order, err := TopologicalOrder(manifests)
	if err != nil {
		return fmt.Errorf("resolve start order: %w", err)
	}

	for _, id := range order {
		r.mu.RLock()
		rt := r.runtimes[id]
		r.mu.RUnlock()
		if rt == nil || !rt.Manifest.AutoStart {
			continue
		}
		if err := r.Start(id); err != nil {
			r.log.Warn().Err(err).Str("module_id", id).Msg("module failed to start")
		}
	}
	return r.persistState()
}

// Start launches a single module by ID, allocating a port (preferring its
// requested_port, falling back to a scanned free port and publishing
// module.port_conflict on collision), then polling health until the
// startup budget elapses.
func (r *Registry) Start(moduleID string) error {
	r.mu.Lock()
	rt, ok := r.runtimes[moduleID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown module: %s", moduleID)
	}
	if rt.State == models.ModuleHealthy || rt.State == models.ModuleStarting {
		r.mu.Unlock()
		return nil
	}
	rt.State = models.ModuleStarting
	r.mu.Unlock()
	r.publishState(moduleID, models.ModuleStarting)

	port, conflicted, err := r.ports.Allocate(rt.Manifest.RequestedPort)
	if err != nil {
		r.setError(moduleID, err)
		return err
	}
	if conflicted {
		r.bus.Publish(models.Event{
			Type:   models.EventModulePortConflict,
			Source: moduleID,
			Payload: map[string]interface{}{
				"requested_port": rt.Manifest.RequestedPort,
				"assigned_port":  port,
			},
		})
	}

	endpoint := fmt.Sprintf("http://127.0.0.1:%d", port)
	env := map[string]string{
		"SUITE_MODULE_ID":      moduleID,
		"SUITE_ASSIGNED_PORT":  fmt.Sprintf("%d", port),
		"SUITE_AUTH_TOKEN":     r.cfg.AuthToken,
		"SUITE_MODULE_ENDPOINT": endpoint,
	}

	pid, startErr := r.executor.Start(moduleID, rt.Manifest.Dir, rt.Manifest.EntryPoint, env, endpoint+rt.Manifest.HealthRoute, r.cfg.StartupBudget)

	r.mu.Lock()
	rt.AssignedPort = port
	rt.PID = pid
	rt.Endpoint = endpoint
	rt.StartedAt = time.Now().UTC()
	if startErr != nil {
		rt.State = models.ModuleUnhealthy
		rt.Error = startErr.Error()
	} else {
		rt.State = models.ModuleHealthy
		rt.Error = ""
	}
	r.mu.Unlock()

	r.publishState(moduleID, rt.State)
	if startErr != nil {
		return fmt.Errorf("start module %s: %w", moduleID, startErr)
	}
	return nil
}

// Stop stops a single module, releasing its port.
func (r *Registry) Stop(moduleID string) error {
	r.mu.Lock()
	rt, ok := r.runtimes[moduleID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown module: %s", moduleID)
	}
	rt.State = models.ModuleStopping
	port := rt.AssignedPort
	r.mu.Unlock()
	r.publishState(moduleID, models.ModuleStopping)

	err := r.executor.Stop(moduleID, r.cfg.GracePeriod)
	r.ports.Release(port)

	r.mu.Lock()
	rt.State = models.ModuleStopped
	if err != nil {
		rt.Error = err.Error()
	}
	r.mu.Unlock()
	r.publishState(moduleID, models.ModuleStopped)
	return err
}

// StopAll stops every running module, in reverse dependency order where
// determinable, best-effort otherwise. Called during suite shutdown.
func (r *Registry) StopAll() error {
	r.mu.RLock()
	ids := make([]string, 0, len(r.runtimes))
	manifests := make([]models.ModuleManifest, 0, len(r.runtimes))
	for id, rt := range r.runtimes {
		manifests = append(manifests, rt.Manifest)
		if rt.State == models.ModuleHealthy || rt.State == models.ModuleDegraded || rt.State == models.ModuleUnhealthy {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	if order, err := TopologicalOrder(manifests); err == nil {
		running := make(map[string]bool, len(ids))
		for _, id := range ids {
			running[id] = true
		}
		ids = ids[:0]
		for i := len(order) - 1; i >= 0; i-- {
			if running[order[i]] {
				ids = append(ids, order[i])
			}
		}
	}

	var lastErr error
	for _, id := range ids {
		if err := r.Stop(id); err != nil {
			lastErr = err
		}
	}
	_ = r.persistState()
	return lastErr
}

// Get returns a snapshot of a module's runtime record.
func (r *Registry) Get(moduleID string) (models.ModuleRuntime, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.runtimes[moduleID]
	if !ok {
		return models.ModuleRuntime{}, false
	}
	return *rt, true
}

// List returns a snapshot of every known module's runtime record.
func (r *Registry) List() []models.ModuleRuntime {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ModuleRuntime, 0, len(r.runtimes))
	for _, rt := range r.runtimes {
		out = append(out, *rt)
	}
	return out
}

// MarkProbe records the outcome of a health probe against moduleID.
// Degraded is reached only via the module's own self-reported payload
// signal, never as an interim reading on the way to unhealthy: a
// sub-threshold run of failures leaves the current state untouched, and
// only the K-th consecutive failure (K = failThreshold) transitions the
// module to unhealthy.
func (r *Registry) MarkProbe(moduleID string, result models.ProbeResult, failThreshold int) {
	r.mu.Lock()
	rt, ok := r.runtimes[moduleID]
	if !ok {
		r.mu.Unlock()
		return
	}
	rt.LastProbeAt = time.Now().UTC()
	prevState := rt.State

	switch result {
	case models.ProbeHealthy:
		rt.ConsecutiveFails = 0
		rt.LastHealth = "ok"
		rt.State = models.ModuleHealthy
	case models.ProbeDegraded:
		rt.ConsecutiveFails = 0
		rt.LastHealth = "degraded"
		rt.State = models.ModuleDegraded
	case models.ProbeFailed:
		rt.ConsecutiveFails++
		rt.LastHealth = "unreachable"
		if rt.ConsecutiveFails >= failThreshold {
			rt.State = models.ModuleUnhealthy
		}
	}
	newState := rt.State
	r.mu.Unlock()

	if newState != prevState {
		r.publishState(moduleID, newState)
		if prevState == models.ModuleUnhealthy && newState == models.ModuleHealthy {
			r.bus.Publish(models.Event{Type: models.EventModuleFixed, Source: moduleID})
		}
	}
}

// Logs returns recent captured stdout/stderr lines for a running module.
func (r *Registry) Logs(moduleID string, n int) []LogEntry {
	if buf := r.executor.Logs(moduleID); buf != nil {
		return buf.Recent(n)
	}
	return nil
}

func (r *Registry) setError(moduleID string, err error) {
	r.mu.Lock()
	if rt, ok := r.runtimes[moduleID]; ok {
		rt.State = models.ModuleUnhealthy
		rt.Error = err.Error()
	}
	r.mu.Unlock()
	r.publishState(moduleID, models.ModuleUnhealthy)
}

func (r *Registry) publishState(moduleID string, state models.ModuleState) {
	r.bus.Publish(models.Event{
		Type:    models.EventModuleStateChanged,
		Source:  moduleID,
		Payload: map[string]interface{}{"state": string(state)},
	})
}

// persistState writes the current runtime snapshot to cfg.StateFile
// atomically, so a restart can observe prior port assignments.
func (r *Registry) persistState() error {
	if r.cfg.StateFile == "" {
		return nil
	}
	r.mu.RLock()
	snapshot := make(map[string]models.ModuleRuntime, len(r.runtimes))
	for id, rt := range r.runtimes {
		snapshot[id] = *rt
	}
	r.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.cfg.StateFile), 0755); err != nil {
		return err
	}
	tmp := r.cfg.StateFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, r.cfg.StateFile)
}
