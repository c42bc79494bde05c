// Package diagnostics produces an actionable, context-aware host report:
// binary presence/version/import smoke-tests, a TCP-connect-then-JSON-
// handshake reachability probe with jittered exponential backoff and a
// candidate-host fallback, and disk/memory pressure checks.
package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net"
	"os/exec"
	"regexp"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"golang.org/x/mod/semver"
)

// DependencyStatus is the tri-state result of probing one external binary
// or library the suite depends on.
type DependencyStatus struct {
	Name       string `json:"name"`
	Installed  bool   `json:"installed"`
	Version    string `json:"version,omitempty"`
	Importable bool   `json:"importable"`
	Error      string `json:"error,omitempty"`
}

// CheckBinary resolves name on PATH and captures its --version output.
func CheckBinary(name string, versionArgs ...string) DependencyStatus {
	status := DependencyStatus{Name: name}
	path, err := exec.LookPath(name)
	if err != nil {
		status.Error = "not found on PATH"
		return status
	}
	status.Installed = true

	if len(versionArgs) == 0 {
		versionArgs = []string{"--version"}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, versionArgs...).Output()
	if err != nil {
		status.Error = fmt.Sprintf("version probe failed: %v", err)
		return status
	}
	status.Importable = true
	status.Version = string(out)
	return status
}

// depStatusKind mirrors the analyzer's four dependency outcomes.
type depStatusKind string

const (
	depOK           depStatusKind = "ok"
	depNotInstalled depStatusKind = "not_installed"
	depOutdated     depStatusKind = "outdated"
	depImportError  depStatusKind = "import_error"
)

type depCheck struct {
	Name     string
	Status   depStatusKind
	Found    string
	Required string
}

var versionPattern = regexp.MustCompile(`\d+\.\d+(\.\d+)?`)

// extractSemver pulls the first dotted version number out of raw --version
// output and normalizes it to the "vX.Y.Z" form semver.Compare expects.
func extractSemver(raw string) string {
	m := versionPattern.FindString(raw)
	if m == "" {
		return ""
	}
	if len(m) < 1 || m[0] != 'v' {
		m = "v" + m
	}
	if !semver.IsValid(m) {
		return ""
	}
	return m
}

// checkDependency runs CheckBinary and classifies the result against an
// optional minimum version, in semantic-version order.
func checkDependency(name, minVersion string, versionArgs ...string) depCheck {
	status := CheckBinary(name, versionArgs...)
	if !status.Installed {
		return depCheck{Name: name, Status: depNotInstalled}
	}
	if !status.Importable {
		return depCheck{Name: name, Status: depImportError}
	}
	found := extractSemver(status.Version)
	if minVersion != "" && found != "" {
		min := minVersion
		if min[0] != 'v' {
			min = "v" + min
		}
		if semver.IsValid(min) && semver.Compare(found, min) < 0 {
			return depCheck{Name: name, Status: depOutdated, Found: found, Required: min}
		}
	}
	return depCheck{Name: name, Status: depOK, Found: found}
}

func (d depCheck) recommendation() string {
	switch d.Status {
	case depNotInstalled:
		return fmt.Sprintf("%s is not installed; install it to enable this feature", d.Name)
	case depOutdated:
		return fmt.Sprintf("%s is outdated (found %s, require %s); upgrade it", d.Name, d.Found, d.Required)
	case depImportError:
		return fmt.Sprintf("%s failed its import smoke test; try a forced reinstall", d.Name)
	default:
		return ""
	}
}

// Handshake carries the suite's service tag so a reachability probe can
// tell its own module apart from an unrelated service squatting on the
// port. The ping and pong messages use distinct top-level keys per the
// documented wire contract.
type pingMessage struct {
	Ping string `json:"ping"`
}

type pongMessage struct {
	Pong string `json:"pong"`
}

// ProbeResult is the tri-state outcome of a handshake-verified TCP probe.
type ProbeResult string

const (
	// ProbeReachable means a candidate host answered with a matching pong.
	ProbeReachable ProbeResult = "reachable"
	// ProbeUncertain means something accepted the connection but didn't
	// answer the expected handshake — a different service may hold the port.
	ProbeUncertain ProbeResult = "uncertain"
	// ProbeNotReachable means no candidate host accepted a connection.
	ProbeNotReachable ProbeResult = "not_reachable"
)

// ProbeOutcome is the result of ProbeTCP: the tri-state result plus, on a
// successful connection, the candidate host that answered.
type ProbeOutcome struct {
	Result ProbeResult `json:"result"`
	Host   string      `json:"host,omitempty"`
}

// ProbeConfig controls the reachability probe's retry behaviour.
type ProbeConfig struct {
	Attempts         int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	MaxJitter        time.Duration
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
}

// DefaultProbeConfig implements the documented 3-attempt, 0.25s->0.5s->1.0s
// backoff schedule with up to 100ms of jitter.
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		Attempts:         3,
		BaseDelay:        250 * time.Millisecond,
		MaxDelay:         time.Second,
		MaxJitter:        100 * time.Millisecond,
		DialTimeout:      2 * time.Second,
		HandshakeTimeout: time.Second,
	}
}

// candidateHosts returns host followed by the documented loopback
// fallbacks, each appearing once.
func candidateHosts(host string) []string {
	hosts := []string{host}
	seen := map[string]bool{host: true}
	for _, extra := range []string{"127.0.0.1", "localhost", "::1"} {
		if !seen[extra] {
			hosts = append(hosts, extra)
			seen[extra] = true
		}
	}
	return hosts
}

// ProbeTCP probes addr ("host:port") for a peer speaking the suite's
// handshake under serviceTag. It retries with jittered exponential backoff
// up to cfg.Attempts times, trying each candidate host (addr's host, then
// the loopback fallbacks) per attempt, and returns as soon as any candidate
// accepts a connection — reachable on a matching pong, uncertain on a
// connection that answers something else.
func ProbeTCP(ctx context.Context, addr, serviceTag string, cfg ProbeConfig) ProbeOutcome {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return ProbeOutcome{Result: ProbeNotReachable}
	}
	hosts := candidateHosts(host)

	delay := cfg.BaseDelay
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if attempt > 0 {
			jitter := time.Duration(0)
			if cfg.MaxJitter > 0 {
				jitter = time.Duration(rand.Int64N(int64(cfg.MaxJitter) + 1))
			}
			select {
			case <-ctx.Done():
				return ProbeOutcome{Result: ProbeNotReachable}
			case <-time.After(delay + jitter):
			}
			delay *= 2
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		for _, h := range hosts {
			target := net.JoinHostPort(h, port)
			matched, connected := attemptHandshake(ctx, target, serviceTag, cfg)
			if !connected {
				continue
			}
			if matched {
				return ProbeOutcome{Result: ProbeReachable, Host: h}
			}
			return ProbeOutcome{Result: ProbeUncertain, Host: h}
		}
	}
	return ProbeOutcome{Result: ProbeNotReachable}
}

// attemptHandshake dials target once, sends a ping carrying serviceTag, and
// reports whether a connection was established and whether the pong
// matched. A garbled or mismatched response counts as connected but
// unmatched, never as an error.
func attemptHandshake(ctx context.Context, target, serviceTag string, cfg ProbeConfig) (matched, connected bool) {
	d := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return false, false
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))

	if err := json.NewEncoder(conn).Encode(pingMessage{Ping: serviceTag}); err != nil {
		return false, true
	}

	var resp pongMessage
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return false, true
	}
	return resp.Pong == serviceTag, true
}

// ResourceStatus reports host disk/memory pressure.
type ResourceStatus struct {
	DiskUsedPercent   float64 `json:"disk_used_percent"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	LowDisk           bool    `json:"low_disk"`
	LowMemory         bool    `json:"low_memory"`
}

// CheckResources reports disk usage for path and system memory pressure,
// flagging low_disk/low_memory above 90%.
func CheckResources(path string) (ResourceStatus, error) {
	var status ResourceStatus

	du, err := disk.Usage(path)
	if err != nil {
		return status, fmt.Errorf("disk usage: %w", err)
	}
	status.DiskUsedPercent = du.UsedPercent
	status.LowDisk = du.UsedPercent > 90

	vm, err := mem.VirtualMemory()
	if err != nil {
		return status, fmt.Errorf("memory stats: %w", err)
	}
	status.MemoryUsedPercent = vm.UsedPercent
	status.LowMemory = vm.UsedPercent > 90

	return status, nil
}

const lowDiskFreeBytes = 2 << 30  // 2 GB
const lowMemFreeBytes = 2 << 30   // 2 GB

// checkResourceWarnings implements §4.10's absolute-free-space warnings,
// which are independent of CheckResources' percentage-based thresholds.
// Both a low-percentage-used host and a low-absolute-free host are useful
// signals; the analyzer reports the latter. Unavailable metrics are
// skipped silently, matching the documented behaviour.
func checkResourceWarnings(dataDir string) []string {
	var warnings []string
	if du, err := disk.Usage(dataDir); err == nil && du.Free < lowDiskFreeBytes {
		warnings = append(warnings, fmt.Sprintf("disk free at %s is low: %s", dataDir, humanizeBytes(du.Free)))
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm.Available < lowMemFreeBytes {
		warnings = append(warnings, fmt.Sprintf("available memory is low: %s", humanizeBytes(vm.Available)))
	}
	return warnings
}

func humanizeBytes(n uint64) string {
	const gb = 1 << 30
	return fmt.Sprintf("%.2f GB", float64(n)/gb)
}

// checkRuntimeVersion warns when the running Go toolchain isn't in the
// recommended set. An empty set means any version is accepted.
func checkRuntimeVersion(recommended []string) []string {
	if len(recommended) == 0 {
		return nil
	}
	current := runtime.Version()
	for _, r := range recommended {
		if current == r {
			return nil
		}
	}
	return []string{fmt.Sprintf("go runtime %s is outside the recommended set %v", current, recommended)}
}

// PeerProbe names one TCP peer the analyzer should reach out to.
type PeerProbe struct {
	Label string
	Addr  string
}

// AnalyzerConfig parameterizes Analyze with the suite's currently
// configured features, so the context-aware dependency rule can decide
// what's actually required.
type AnalyzerConfig struct {
	// VectorStore is the configured backend tag: "flat-like" (embedded, no
	// external dependency) or "chroma-like" (pgvector, requires a
	// PostgreSQL client on the host running diagnostics).
	VectorStore string
	// HTTPFramework names the HTTP stack actually in use, surfaced as a
	// hint rather than a dependency check since it's compiled into the
	// binary.
	HTTPFramework string
	// OllamaURL, if set, means the local-llm provider is configured and
	// the ollama binary is required.
	OllamaURL string
	// DataDir is checked for disk pressure.
	DataDir string
	// ServiceTag identifies this suite installation in the TCP handshake.
	ServiceTag string
	// Peers are the TCP services (e.g. a cloud bridge peer) to probe.
	Peers []PeerProbe
	// RecommendedGoVersions, if non-empty, flags an unexpected toolchain.
	RecommendedGoVersions []string
}

// Report is the diagnostics analyzer's structured output.
type Report struct {
	Errors          []string               `json:"errors"`
	Warnings        []string               `json:"warnings"`
	MissingDeps     []string               `json:"missing_deps"`
	Recommendations []string               `json:"recommendations"`
	Probes          map[string]ProbeResult `json:"probes"`
	SystemHints     []string               `json:"system_hints"`
}

// Analyze runs the full diagnostics sweep: context-aware dependency
// checks, handshake-verified reachability probes against cfg.Peers, and
// resource/runtime warnings. It always returns a complete report; no
// individual check failing can prevent the others from running.
func Analyze(ctx context.Context, cfg AnalyzerConfig, probeCfg ProbeConfig, log zerolog.Logger) Report {
	report := Report{Probes: make(map[string]ProbeResult)}

	var checks []depCheck
	if cfg.VectorStore == "chroma-like" {
		checks = append(checks, checkDependency("psql", "", "--version"))
	}
	if cfg.OllamaURL != "" {
		checks = append(checks, checkDependency("ollama", "", "--version"))
	}
	for _, c := range checks {
		if c.Status != depOK {
			report.MissingDeps = append(report.MissingDeps, c.Name)
			report.Recommendations = append(report.Recommendations, c.recommendation())
		}
	}

	if cfg.HTTPFramework != "" {
		report.SystemHints = append(report.SystemHints, fmt.Sprintf("http framework in use: %s", cfg.HTTPFramework))
	}

	serviceTag := cfg.ServiceTag
	for _, peer := range cfg.Peers {
		outcome := ProbeTCP(ctx, peer.Addr, serviceTag, probeCfg)
		report.Probes[peer.Label] = outcome.Result

		switch outcome.Result {
		case ProbeReachable:
			log.Info().Str("peer", peer.Label).Str("host", outcome.Host).Msg("diagnostics: probe reachable")
		case ProbeUncertain:
			log.Warn().Str("peer", peer.Label).Str("host", outcome.Host).Msg("diagnostics: probe uncertain, wrong_service")
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s at %s answered but not as this suite (wrong_service)", peer.Label, peer.Addr))
			report.Recommendations = append(report.Recommendations, fmt.Sprintf("confirm nothing else is bound to %s; the service there did not complete the suite handshake (wrong_service)", peer.Addr))
		case ProbeNotReachable:
			log.Warn().Str("peer", peer.Label).Msg("diagnostics: probe not_reachable")
			report.Errors = append(report.Errors, fmt.Sprintf("%s at %s is unreachable", peer.Label, peer.Addr))
		}
	}

	report.Warnings = append(report.Warnings, checkResourceWarnings(cfg.DataDir)...)
	report.Warnings = append(report.Warnings, checkRuntimeVersion(cfg.RecommendedGoVersions)...)

	return report
}
