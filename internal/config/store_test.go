package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "suite.json"), filepath.Join(dir, "wrapkey"), map[string]interface{}{
		"port": float64(5000),
	})
	require.NoError(t, s.Reload())
	return s
}

func TestGetFallsBackThroughLayers(t *testing.T) {
	s := newTestStore(t)

	v, err := s.Get("", "port")
	require.NoError(t, err)
	require.Equal(t, float64(5000), v)

	_, err = s.Get("", "missing.path")
	require.Error(t, err)
}

func TestSetThenGetSuiteLayer(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Set("", "bridge.peer_url", "https://example.invalid", false))

	v, err := s.Get("", "bridge.peer_url")
	require.NoError(t, err)
	require.Equal(t, "https://example.invalid", v)
}

func TestModuleLayerTakesPrecedenceOverSuite(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Set("", "shared.value", "suite", false))
	require.NoError(t, s.Set("notes", "shared.value", "module", false))

	v, err := s.Get("notes", "shared.value")
	require.NoError(t, err)
	require.Equal(t, "module", v)

	v, err = s.Get("other", "shared.value")
	require.NoError(t, err)
	require.Equal(t, "suite", v)
}

func TestEnvOverridesEverything(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Set("", "bridge.peer_url", "from-store", false))

	t.Setenv("SUITE_BRIDGE_PEER_URL", "from-env")

	v, err := s.Get("", "bridge.peer_url")
	require.NoError(t, err)
	require.Equal(t, "from-env", v)
}

func TestDeclaredSecretIsWrappedOnDiskAndUnwrappedOnRead(t *testing.T) {
	s := newTestStore(t)
	s.DeclareSecret("auth.bearer_token")

	require.NoError(t, s.Set("", "auth.bearer_token", "sekrit", true))

	raw, err := os.ReadFile(s.suitePath)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "sekrit")
	require.Contains(t, string(raw), secretPrefix)

	v, err := s.Get("", "auth.bearer_token")
	require.NoError(t, err)
	require.Equal(t, "sekrit", v)
}

func TestSecretSurvivesReload(t *testing.T) {
	s := newTestStore(t)
	s.DeclareSecret("auth.bearer_token")
	require.NoError(t, s.Set("", "auth.bearer_token", "sekrit", true))

	fresh := NewStore(s.suitePath, s.keyFile, nil)
	fresh.DeclareSecret("auth.bearer_token")
	require.NoError(t, fresh.Reload())

	v, err := fresh.Get("", "auth.bearer_token")
	require.NoError(t, err)
	require.Equal(t, "sekrit", v)
}

func TestGetStringFallsBackOnTypeMismatch(t *testing.T) {
	s := newTestStore(t)
	require.Equal(t, "127.0.0.1", s.GetString("", "host", "127.0.0.1"))
	require.Equal(t, "fallback", s.GetString("", "port", "fallback"))

	require.NoError(t, s.Set("", "port", "not-a-number-but-fine", false))
	require.Equal(t, "not-a-number-but-fine", s.GetString("", "port", "fallback"))
}

func TestSetPersistentWritesFileAtomically(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Set("", "registry.port_range_start", float64(6000), true))

	_, err := os.Stat(s.suitePath + ".tmp")
	require.True(t, os.IsNotExist(err))

	data, err := os.ReadFile(s.suitePath)
	require.NoError(t, err)
	require.Contains(t, string(data), "port_range_start")
}
