package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/modsuite/runtime/pkg/models"
)

// Discover walks modulesDir for one-level subdirectories containing a
// module_info.json manifest.
func Discover(modulesDir string) ([]models.ModuleManifest, error) {
	entries, err := os.ReadDir(modulesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read modules dir: %w", err)
	}

	var manifests []models.ModuleManifest
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(modulesDir, e.Name())
		manifestPath := filepath.Join(dir, "module_info.json")
		data, err := os.ReadFile(manifestPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", manifestPath, err)
		}

		var m models.ModuleManifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse %s: %w", manifestPath, err)
		}
		if err := validateManifest(&m); err != nil {
			return nil, fmt.Errorf("invalid manifest %s: %w", manifestPath, err)
		}
		m.Dir = dir
		manifests = append(manifests, m)
	}
	return manifests, nil
}

func validateManifest(m *models.ModuleManifest) error {
	if m.ModuleID == "" {
		return fmt.Errorf("module_id is required")
	}
	if m.EntryPoint == "" {
		return fmt.Errorf("entry_point is required")
	}
	if m.HealthRoute == "" {
		m.HealthRoute = "/health"
	}
	return nil
}

// TopologicalOrder returns module IDs ordered so every module's
// depends_on entries precede it, via Kahn's algorithm. Returns an error if
// a depends_on entry names an unknown module or if depends_on is not a DAG;
// the cycle error does not name the modules in the cycle.
func TopologicalOrder(manifests []models.ModuleManifest) ([]string, error) {
	byID := make(map[string]models.ModuleManifest, len(manifests))
	indegree := make(map[string]int, len(manifests))
	for _, m := range manifests {
		byID[m.ModuleID] = m
		if _, ok := indegree[m.ModuleID]; !ok {
			indegree[m.ModuleID] = 0
		}
	}
	adj := make(map[string][]string)
	for _, m := range manifests {
		for _, dep := range m.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("module %s depends on unknown module %s", m.ModuleID, dep)
			}
			adj[dep] = append(adj[dep], m.ModuleID)
			indegree[m.ModuleID]++
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		var unlocked []string
		for _, next := range adj[id] {
			indegree[next]--
			if indegree[next] == 0 {
				unlocked = append(unlocked, next)
			}
		}
		sort.Strings(unlocked)
		queue = append(queue, unlocked...)
	}

	if len(order) != len(manifests) {
		return nil, fmt.Errorf("depends_on graph has a cycle")
	}
	return order, nil
}
