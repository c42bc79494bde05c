// Package api exposes the suite's own HTTP surface: health, module status,
// context preview, and manual sync.
package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/modsuite/runtime/internal/api/middleware"
	"github.com/modsuite/runtime/internal/auth"
	"github.com/modsuite/runtime/internal/cloudbridge"
	"github.com/modsuite/runtime/internal/config"
	"github.com/modsuite/runtime/internal/contextgraph"
	"github.com/modsuite/runtime/internal/eventbus"
	"github.com/modsuite/runtime/internal/process"
	"github.com/modsuite/runtime/pkg/models"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// Deps bundles the services the HTTP surface routes against.
type Deps struct {
	Config    *config.Config
	Registry  *process.Registry
	Bus       *eventbus.Bus
	Context   *contextgraph.Graph
	Bridge    *cloudbridge.Bridge
	AuthChain *auth.ProviderChain
	Log       zerolog.Logger

	// ShutdownFunc is invoked by POST /shutdown to begin a graceful stop.
	ShutdownFunc func()
}

// NewRouter builds the suite's HTTP router with all routes and middleware.
func NewRouter(d *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger(d.Log))
	r.Use(middleware.Telemetry)

	if d.AuthChain != nil && len(d.AuthChain.ListProviders()) > 0 {
		authMW := middleware.NewAuthMiddleware(d.AuthChain)
		r.Use(authMW.Handler)
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://127.0.0.1:*", "http://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Suite-Token"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", d.handleHealth)
	r.Get("/health/full", d.handleHealthFull)
	r.Get("/health/{moduleID}", d.handleHealthModule)

	r.Get("/modules", d.handleListModules)
	r.Post("/modules/{moduleID}/start", d.handleModuleStart)
	r.Post("/modules/{moduleID}/stop", d.handleModuleStop)
	r.Get("/modules/{moduleID}/logs", d.handleModuleLogs)

	r.Post("/context/preview", d.handleContextPreview)

	r.Post("/sync/now", d.handleSyncNow)

	r.Post("/shutdown", d.handleShutdown)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleHealth reports the suite's own liveness, independent of any module.
func (d *Deps) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": d.Config.Version,
	})
}

// handleHealthFull reports the suite's health plus every module's runtime state.
func (d *Deps) handleHealthFull(w http.ResponseWriter, r *http.Request) {
	runtimes := d.Registry.List()
	overall := "healthy"
	for _, rt := range runtimes {
		if rt.State == models.ModuleUnhealthy || rt.State == models.ModuleDegraded {
			overall = "degraded"
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  overall,
		"version": d.Config.Version,
		"modules": runtimes,
	})
}

func (d *Deps) handleHealthModule(w http.ResponseWriter, r *http.Request) {
	moduleID := chi.URLParam(r, "moduleID")
	rt, ok := d.Registry.Get(moduleID)
	if !ok {
		writeErr(w, http.StatusNotFound, errNotFound("module", moduleID))
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (d *Deps) handleListModules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.Registry.List())
}

func (d *Deps) handleModuleStart(w http.ResponseWriter, r *http.Request) {
	moduleID := chi.URLParam(r, "moduleID")
	if err := d.Registry.Start(moduleID); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	rt, _ := d.Registry.Get(moduleID)
	writeJSON(w, http.StatusOK, rt)
}

func (d *Deps) handleModuleStop(w http.ResponseWriter, r *http.Request) {
	moduleID := chi.URLParam(r, "moduleID")
	if err := d.Registry.Stop(moduleID); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	rt, _ := d.Registry.Get(moduleID)
	writeJSON(w, http.StatusOK, rt)
}

func (d *Deps) handleModuleLogs(w http.ResponseWriter, r *http.Request) {
	moduleID := chi.URLParam(r, "moduleID")
	writeJSON(w, http.StatusOK, d.Registry.Logs(moduleID, 200))
}

type contextPreviewRequest struct {
	User  string `json:"user"`
	Query string `json:"query"`
}

func (d *Deps) handleContextPreview(w http.ResponseWriter, r *http.Request) {
	var req contextPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.User) == "" {
		writeErr(w, http.StatusBadRequest, errMissingField("user"))
		return
	}

	bundle, err := d.Context.Build(r.Context(), req.User, req.Query, nil)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (d *Deps) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	if d.Bridge == nil {
		writeErr(w, http.StatusServiceUnavailable, errBridgeDisabled)
		return
	}

	err := d.Bridge.SyncNow(r.Context(),
		func() (models.ContextBundle, error) { return models.ContextBundle{}, nil },
		func(models.ContextBundle) {},
	)
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}

func (d *Deps) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "shutting down"})
	if d.ShutdownFunc != nil {
		go d.ShutdownFunc()
	}
}
