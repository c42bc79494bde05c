// Package config loads and persists the suite's layered configuration:
// built-in defaults, a suite config file, per-module config files, and
// environment variables (highest precedence, never persisted). Secret
// values are wrapped at rest with AES-256-GCM using a process-local key
// file and decrypted transparently on read.
package config

import (
	"os"
	"strconv"
)

// Config holds the typed, env-resolved configuration for the suite runtime.
type Config struct {
	Port      int
	Version   string
	DataDir   string
	Telemetry TelemetryConfig
	Registry  RegistryConfig
	Health    HealthConfig
	Bridge    BridgeConfig
	Context   ContextConfig
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// RegistryConfig governs module discovery, port allocation, and startup.
type RegistryConfig struct {
	ModulesDir       string
	PortRangeStart   int
	PortRangeEnd     int
	StartupBudgetS   int
	GracePeriodS     int
	StateFile        string
}

// HealthConfig governs the periodic module/external health sweep.
type HealthConfig struct {
	IntervalS      int
	ProbeTimeoutS  int
	MaxInFlight    int
	FailThreshold  int
	OllamaURL      string
}

// BridgeConfig governs the cloud bridge's sync client.
type BridgeConfig struct {
	Enabled        bool
	PeerURL        string
	AuthToken      string
	SyncIntervalS  int
	VerifyTLS      bool
	Encrypt        bool
	KeyFile        string
	CompressAboveB int
}

// ContextConfig governs the context graph's assembly defaults.
type ContextConfig struct {
	TopKFacts        int
	TopKSemantic     int
	MinConfidence    float64
	MaxAgeRemoteS    int
	CacheTTLS        int
	MaxBundleBytes   int
	RecentEventLimit int
}

// Load reads configuration from environment variables with sensible defaults.
// This is the built-in-defaults + environment layer; the suite/per-module
// file layers are handled by Store (see store.go).
func Load() *Config {
	return &Config{
		Port:    envInt("SUITE_PORT", 5000),
		Version: envStr("SUITE_VERSION", "0.1.0"),
		DataDir: envStr("SUITE_DATA_DIR", "data"),
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "suite-runtime"),
		},
		Registry: RegistryConfig{
			ModulesDir:     envStr("SUITE_MODULES_DIR", "modules"),
			PortRangeStart: envInt("SUITE_PORT_RANGE_START", 5000),
			PortRangeEnd:   envInt("SUITE_PORT_RANGE_END", 5999),
			StartupBudgetS: envInt("SUITE_STARTUP_BUDGET_S", 30),
			GracePeriodS:   envInt("SUITE_GRACE_PERIOD_S", 5),
			StateFile:      envStr("SUITE_STATE_FILE", "state/modules.json"),
		},
		Health: HealthConfig{
			IntervalS:     envInt("SUITE_HEALTH_INTERVAL_S", 30),
			ProbeTimeoutS: envInt("SUITE_HEALTH_TIMEOUT_S", 3),
			MaxInFlight:   envInt("SUITE_HEALTH_MAX_INFLIGHT", 8),
			FailThreshold: envInt("SUITE_HEALTH_FAIL_THRESHOLD", 3),
			OllamaURL:     envStr("SUITE_OLLAMA_URL", ""),
		},
		Bridge: BridgeConfig{
			Enabled:        envBool("SUITE_CLOUD_ENABLED", false),
			PeerURL:        envStr("SUITE_CLOUD_PEER_URL", ""),
			AuthToken:      envStr("SUITE_CLOUD_AUTH_TOKEN", ""),
			SyncIntervalS:  envInt("SUITE_CLOUD_SYNC_INTERVAL_S", 900),
			VerifyTLS:      envBool("SUITE_CLOUD_VERIFY_TLS", true),
			Encrypt:        envBool("SUITE_CLOUD_ENCRYPT", true),
			KeyFile:        envStr("SUITE_CLOUD_KEY_FILE", "data/keys/shared.key"),
			CompressAboveB: envInt("SUITE_CLOUD_COMPRESS_ABOVE_B", 2*1024*1024),
		},
		Context: ContextConfig{
			TopKFacts:        envInt("SUITE_CONTEXT_TOPK_FACTS", 10),
			TopKSemantic:     envInt("SUITE_CONTEXT_TOPK_SEMANTIC", 10),
			MinConfidence:    envFloat("SUITE_CONTEXT_MIN_CONFIDENCE", 0.2),
			MaxAgeRemoteS:    envInt("SUITE_CONTEXT_MAX_AGE_REMOTE_S", 24*3600),
			CacheTTLS:        envInt("SUITE_CONTEXT_CACHE_TTL_S", 3600),
			MaxBundleBytes:   envInt("SUITE_CONTEXT_MAX_BUNDLE_BYTES", 32*1024),
			RecentEventLimit: envInt("SUITE_CONTEXT_RECENT_EVENTS", 20),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
