package logging

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigRootsFilePathUnderDataDir(t *testing.T) {
	cfg := DefaultConfig("/var/suite")
	require.Equal(t, "/var/suite/logs/suite.log", cfg.FilePath)
	require.Equal(t, InfoLevel, cfg.Level)
}

func TestInitWritesToConfiguredFile(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.Console = false

	logger := Init(cfg)
	logger.Info().Msg("hello")

	data, err := os.ReadFile(cfg.FilePath)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello")
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	require.Equal(t, zerolog.DebugLevel, parseLevel(DebugLevel))
	require.Equal(t, zerolog.WarnLevel, parseLevel(WarnLevel))
	require.Equal(t, zerolog.ErrorLevel, parseLevel(ErrorLevel))
	require.Equal(t, zerolog.InfoLevel, parseLevel(Level("bogus")))
}

func TestWithComponentAndWithModuleTagFields(t *testing.T) {
	base := zerolog.Nop()
	withComponent := WithComponent(base, "registry")
	withModule := WithModule(withComponent, "notes")
	require.NotNil(t, withModule)
}
