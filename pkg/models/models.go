// Package models defines the data types shared across the suite runtime:
// facts, semantic facts, module manifests/runtime records, events, and the
// context bundle assembled for a query.
package models

import "time"

// ── Fact ─────────────────────────────────────────────────────

// Fact is a persisted, keyed, confidence-scored assertion about a user.
// (User, Key) is unique; Remember upserts, preserving CreatedAt and
// advancing UpdatedAt.
type Fact struct {
	User       string    `json:"user"`
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
	Category   string    `json:"category"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ── Semantic Fact ────────────────────────────────────────────

// SemanticFact is a fact promoted for nearest-neighbour retrieval. IDs are
// immutable; a revision creates a new ID rather than updating in place.
type SemanticFact struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Embedding  []float64 `json:"embedding"`
	Key        string    `json:"key"`
	Confidence float64   `json:"confidence"`
	Category   string    `json:"category"`
	CreatedAt  time.Time `json:"created_at"`
}

// SemanticHit is a scored nearest-neighbour result from the vector index.
type SemanticHit struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Score    float64           `json:"score"`
	Key      string            `json:"key,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ── Module manifest & runtime ────────────────────────────────

// ModuleManifest describes a discovered module's module_info.json contents.
type ModuleManifest struct {
	ModuleID          string            `json:"module_id"`
	Name              string            `json:"name"`
	Version           string            `json:"version"`
	RequestedPort     int               `json:"requested_port,omitempty"`
	EntryPoint        string            `json:"entry_point"`
	AutoStart         bool              `json:"auto_start"`
	DependsOn         []string          `json:"depends_on,omitempty"`
	DeclaredEndpoints []string          `json:"declared_endpoints,omitempty"`
	Description       string            `json:"description,omitempty"`
	HealthRoute       string            `json:"health_route,omitempty"`
	Dir               string            `json:"-"`
	Tags              map[string]string `json:"tags,omitempty"`
}

// ModuleState is the lifecycle state of a module runtime record.
type ModuleState string

const (
	ModuleRegistered ModuleState = "registered"
	ModuleStarting   ModuleState = "starting"
	ModuleHealthy    ModuleState = "healthy"
	ModuleDegraded   ModuleState = "degraded"
	ModuleUnhealthy  ModuleState = "unhealthy"
	ModuleStopping   ModuleState = "stopping"
	ModuleStopped    ModuleState = "stopped"
)

// ModuleRuntime is the fabric's live record for one module.
type ModuleRuntime struct {
	ModuleID         string         `json:"module_id"`
	Manifest         ModuleManifest `json:"manifest"`
	AssignedPort     int            `json:"assigned_port"`
	PID              int            `json:"pid,omitempty"`
	Endpoint         string         `json:"endpoint"`
	State            ModuleState    `json:"state"`
	LastHealth       string         `json:"last_health,omitempty"`
	LastProbeAt      time.Time      `json:"last_probe_at,omitempty"`
	ConsecutiveFails int            `json:"-"`
	StartedAt        time.Time      `json:"started_at,omitempty"`
	Error            string         `json:"error,omitempty"`
}

// ProbeResult is the tri-state outcome of a single health probe against a
// module's /health endpoint, carrying the self-reported payload signal
// (degraded) separately from a connection/status failure.
type ProbeResult string

const (
	ProbeHealthy  ProbeResult = "healthy"
	ProbeDegraded ProbeResult = "degraded"
	ProbeFailed   ProbeResult = "failed"
)

// ── Event ────────────────────────────────────────────────────

// Event is a dot-namespaced pub/sub message flowing through the event bus.
type Event struct {
	ID        uint64                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source_module_id"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Known event types. Payload shapes are fixed per type.
const (
	EventModuleStateChanged = "module.state_changed"
	EventModulePortConflict = "module.port_conflict"
	EventModuleFixed        = "module.fixed"
	EventTroubleAlert       = "trouble.alert"
	EventSyncSuccess        = "sync.success"
	EventSyncFailure        = "sync.failure"
	EventBusForwarderDrop  = "bus.forwarder_dropped"
)

// ── Context bundle ───────────────────────────────────────────

// ModuleStatus is the module-status section of a context bundle.
type ModuleStatus struct {
	ModuleID      string  `json:"module_id"`
	State         string  `json:"state"`
	Port          int     `json:"port"`
	LastProbeAgeS float64 `json:"last_probe_age_s"`
}

// ContextBundle is the bounded, per-query snapshot built by the context graph.
type ContextBundle struct {
	User          string                 `json:"user"`
	Query         string                 `json:"query,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Facts         []Fact                 `json:"facts,omitempty"`
	SemanticHits  []SemanticHit          `json:"semantic_hits,omitempty"`
	ModuleStatus  []ModuleStatus         `json:"module_status,omitempty"`
	RecentEvents  []Event                `json:"recent_events,omitempty"`
	RemoteExcerpt *ContextBundle         `json:"remote_excerpt,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// ── Sync envelope ────────────────────────────────────────────

// SyncEnvelope is the wire format exchanged with the cloud peer.
type SyncEnvelope struct {
	Direction  string    `json:"direction"` // "push" | "pull"
	Ciphertext []byte    `json:"payload_ciphertext,omitempty"`
	Plaintext  []byte    `json:"bundle,omitempty"`
	AuthToken  string    `json:"-"`
	Timestamp  time.Time `json:"ts"`
}
