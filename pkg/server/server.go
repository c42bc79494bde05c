// Package server provides the public entry point for initializing the
// suite runtime: config, logging, storage, eventing, module supervision,
// health monitoring, the cloud bridge, and the HTTP surface, wired in
// that order.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/modsuite/runtime/internal/api"
	"github.com/modsuite/runtime/internal/auth"
	"github.com/modsuite/runtime/internal/cloudbridge"
	"github.com/modsuite/runtime/internal/config"
	"github.com/modsuite/runtime/internal/contextgraph"
	"github.com/modsuite/runtime/internal/embeddings"
	"github.com/modsuite/runtime/internal/eventbus"
	"github.com/modsuite/runtime/internal/factstore"
	"github.com/modsuite/runtime/internal/health"
	"github.com/modsuite/runtime/internal/logging"
	"github.com/modsuite/runtime/internal/process"
	"github.com/modsuite/runtime/internal/telemetry"
	"github.com/modsuite/runtime/internal/vectorstore"
	"github.com/modsuite/runtime/pkg/models"

	"github.com/rs/zerolog"
)

// Server holds the fully wired suite runtime.
type Server struct {
	// Handler is the HTTP handler serving the suite's own REST surface.
	Handler http.Handler

	Config      *config.Config
	Log         zerolog.Logger
	ConfigStore *config.Store
	FactStore   *factstore.Store
	Vectors     *vectorstore.Registry
	Embeddings  *embeddings.Registry
	Bus         *eventbus.Bus
	Forwarder   *eventbus.Forwarder
	Registry    *process.Registry
	Health      *health.Monitor
	Context     *contextgraph.Graph
	Bridge      *cloudbridge.Bridge
	AuthChain   *auth.ProviderChain

	shutdownOTel func(context.Context) error
	healthCancel context.CancelFunc
	bridgeCancel context.CancelFunc
	fwdCancel    context.CancelFunc
	runCancel    context.CancelFunc
}

// New builds the suite runtime from environment-derived configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig builds the suite runtime from explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	logCfg := logging.DefaultConfig(cfg.DataDir)
	logCfg.Console = true
	log := logging.Init(logCfg)

	shutdownOTel, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	cfgStore := config.NewStore(cfg.DataDir+"/config/suite_config.json", cfg.DataDir+"/keys/suite.key", nil)
	cfgStore.DeclareSecret("bridge.auth_token")
	cfgStore.DeclareSecret("auth.bearer_token")
	if err := cfgStore.Reload(); err != nil {
		log.Warn().Err(err).Msg("config store reload failed, continuing with defaults")
	}

	fs, err := factstore.Open(cfg.DataDir, log)
	if err != nil {
		return nil, fmt.Errorf("open fact store: %w", err)
	}
	log.Info().Str("dir", cfg.DataDir).Msg("fact store opened")

	vecReg := vectorstore.NewRegistry(log)
	embedded := vectorstore.NewEmbeddedStore(log)
	vecReg.Register("embedded", embedded)
	log.Info().Msg("embedded vector store registered")

	if pgURL := cfgStore.GetString("", "vectorstore.pgvector_url", ""); pgURL != "" {
		dims := 1536
		pgvs, err := vectorstore.NewPgvectorStore(ctx, pgURL, dims, log)
		if err != nil {
			log.Warn().Err(err).Msg("pgvector store init failed, using embedded only")
		} else {
			vecReg.Register("pgvector", pgvs)
			log.Info().Msg("pgvector store registered")
		}
	}

	embReg := embeddings.NewRegistry(log)
	if url := cfgStore.GetString("", "embeddings.ollama_url", ""); url != "" {
		model := cfgStore.GetString("", "embeddings.ollama_model", "nomic-embed-text")
		embReg.Register("ollama", embeddings.NewOllamaDriver(url, model))
	}
	if key := cfgStore.GetString("", "embeddings.openai_api_key", ""); key != "" {
		model := cfgStore.GetString("", "embeddings.openai_model", "text-embedding-3-small")
		embReg.Register("openai", embeddings.NewOpenAIDriver(key, model))
	}

	bus := eventbus.New(500, log)

	authToken := cfgStore.GetString("", "auth.bearer_token", "")
	if authToken == "" {
		token, genErr := auth.GenerateToken()
		if genErr == nil {
			authToken = token
			if setErr := cfgStore.Set("", "auth.bearer_token", authToken, true); setErr != nil {
				log.Warn().Err(setErr).Msg("failed to persist generated bearer token")
			}
			log.Info().Msg("generated new suite bearer token")
		}
	}

	registryCfg := process.Config{
		ModulesDir:     cfg.Registry.ModulesDir,
		PortRangeStart: cfg.Registry.PortRangeStart,
		PortRangeEnd:   cfg.Registry.PortRangeEnd,
		StartupBudget:  time.Duration(cfg.Registry.StartupBudgetS) * time.Second,
		GracePeriod:    time.Duration(cfg.Registry.GracePeriodS) * time.Second,
		StateFile:      cfg.Registry.StateFile,
		AuthToken:      authToken,
	}
	registry := process.NewRegistry(registryCfg, bus, log)
	if err := registry.Discover(); err != nil {
		log.Warn().Err(err).Msg("module discovery failed")
	}

	healthCfg := health.Config{
		Interval:      time.Duration(cfg.Health.IntervalS) * time.Second,
		ProbeTimeout:  time.Duration(cfg.Health.ProbeTimeoutS) * time.Second,
		MaxInFlight:   cfg.Health.MaxInFlight,
		FailThreshold: cfg.Health.FailThreshold,
		OllamaURL:     cfg.Health.OllamaURL,
	}
	monitor := health.New(healthCfg, registry, log)

	vectorDriver, _ := vecReg.Get("embedded")
	var embedder contextgraph.Embedder
	for _, name := range []string{"ollama", "openai"} {
		if driver, err := embReg.Get(name); err == nil {
			embedder = embeddings.NewSingleTextEmbedder(driver)
			break
		}
	}
	ctxCfg := contextgraph.Config{
		TopKFacts:        cfg.Context.TopKFacts,
		TopKSemantic:     cfg.Context.TopKSemantic,
		MinConfidence:    cfg.Context.MinConfidence,
		MaxAgeRemote:     time.Duration(cfg.Context.MaxAgeRemoteS) * time.Second,
		CacheTTL:         time.Duration(cfg.Context.CacheTTLS) * time.Second,
		MaxBundleBytes:   cfg.Context.MaxBundleBytes,
		RecentEventLimit: cfg.Context.RecentEventLimit,
	}
	graph := contextgraph.New(ctxCfg, fs, vectorDriver, embedder, registry, bus, log)

	var bridge *cloudbridge.Bridge
	if cfg.Bridge.Enabled {
		bridgeCfg := cloudbridge.Config{
			Enabled:        cfg.Bridge.Enabled,
			PeerURL:        cfg.Bridge.PeerURL,
			AuthToken:      cfgStore.GetString("", "bridge.auth_token", cfg.Bridge.AuthToken),
			SyncInterval:   time.Duration(cfg.Bridge.SyncIntervalS) * time.Second,
			VerifyTLS:      cfg.Bridge.VerifyTLS,
			Encrypt:        cfg.Bridge.Encrypt,
			KeyFile:        cfg.Bridge.KeyFile,
			CompressAboveB: cfg.Bridge.CompressAboveB,
		}
		bridge, err = cloudbridge.New(bridgeCfg, bus, log)
		if err != nil {
			log.Warn().Err(err).Msg("cloud bridge init failed, running without it")
			bridge = nil
		}
	}

	authChain := auth.NewProviderChain(log)
	if authToken != "" {
		authChain.RegisterProvider(auth.NewBearerTokenProvider(authToken))
	}
	peerProvider := auth.NewCloudPeerTokenProviderFromEnv()
	if peerProvider.Enabled() {
		authChain.RegisterProvider(peerProvider)
	}

	var fwd *eventbus.Forwarder
	if webhookURL := cfgStore.GetString("", "eventbus.webhook_url", ""); webhookURL != "" {
		fwd = eventbus.NewForwarder(bus, eventbus.ForwarderConfig{
			URL:    webhookURL,
			Secret: cfgStore.GetString("", "eventbus.webhook_secret", ""),
		}, log)
	}

	srv := &Server{
		Config:      cfg,
		Log:         log,
		ConfigStore: cfgStore,
		FactStore:   fs,
		Vectors:     vecReg,
		Embeddings:  embReg,
		Bus:         bus,
		Forwarder:   fwd,
		Registry:    registry,
		Health:      monitor,
		Context:     graph,
		Bridge:      bridge,
		AuthChain:   authChain,

		shutdownOTel: shutdownOTel,
	}

	srv.Handler = api.NewRouter(&api.Deps{
		Config:       cfg,
		Registry:     registry,
		Bus:          bus,
		Context:      graph,
		Bridge:       bridge,
		AuthChain:    authChain,
		Log:          log,
		ShutdownFunc: srv.requestShutdown,
	})

	return srv, nil
}

// requestShutdown cancels the context passed to Run, unblocking it so the
// caller's own shutdown sequence (closing the fact store, flushing
// telemetry) can proceed. A no-op if Run hasn't started yet.
func (s *Server) requestShutdown() {
	if s.runCancel != nil {
		s.runCancel()
	}
}

// Run starts all of the suite's background loops: module registry startup,
// the health monitor sweep, the event bus webhook forwarder, and (if
// configured) the cloud bridge sync loop. It blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	runCtx, runCancel := context.WithCancel(ctx)
	s.runCancel = runCancel
	defer runCancel()

	if err := s.Registry.StartAll(); err != nil {
		s.Log.Warn().Err(err).Msg("module startup had errors")
	}

	healthCtx, healthCancel := context.WithCancel(runCtx)
	s.healthCancel = healthCancel
	go s.Health.Run(healthCtx)

	if s.Forwarder != nil {
		fwdCtx, fwdCancel := context.WithCancel(runCtx)
		s.fwdCancel = fwdCancel
		go s.Forwarder.Run(fwdCtx)
	}

	if s.Bridge != nil {
		bridgeCtx, bridgeCancel := context.WithCancel(runCtx)
		s.bridgeCancel = bridgeCancel
		go s.Bridge.Run(bridgeCtx,
			func() (models.ContextBundle, error) { return models.ContextBundle{}, nil },
			func(models.ContextBundle) {},
		)
	}

	<-runCtx.Done()
	return nil
}

// Shutdown stops every background loop, closes the fact store, and
// flushes telemetry.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.healthCancel != nil {
		s.healthCancel()
	}
	if s.bridgeCancel != nil {
		s.bridgeCancel()
	}
	if s.fwdCancel != nil {
		s.fwdCancel()
	}
	if err := s.Registry.StopAll(); err != nil {
		s.Log.Warn().Err(err).Msg("error stopping modules during shutdown")
	}
	if s.FactStore != nil {
		if err := s.FactStore.Close(); err != nil {
			s.Log.Warn().Err(err).Msg("error closing fact store")
		}
	}
	if s.shutdownOTel != nil {
		return s.shutdownOTel(ctx)
	}
	return nil
}
