package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/goliatone/go-catalogform/pkg/config"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	t.Setenv("CATALOGFORM_API_BASE_URL", "")
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, config.DefaultConfig(), cfg)
	require.NoError(t, cfg.Validate())
	require.True(t, cfg.TreatEmptyAsMissing())
	require.Equal(t, 30*time.Second, cfg.Timeout())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	t.Setenv("CATALOGFORM_LOG_LEVEL", "debug")
	path := filepath.Join(t.TempDir(), "catalogform.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api_base_url: https://portal.example.com/api
request_timeout: 5s
default_trigger_field: operation
empty_as_missing: false
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://portal.example.com/api", cfg.APIBaseURL)
	require.Equal(t, 5*time.Second, cfg.Timeout())
	require.Equal(t, "operation", cfg.DefaultTriggerField)
	require.False(t, cfg.TreatEmptyAsMissing())
	require.Equal(t, zapcore.DebugLevel, cfg.Level())
	require.Equal(t, "catalogform.db", cfg.StorePath)
}

func TestValidate(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.APIBaseURL = "/relative"
	cfg.RequestTimeout = "soon"
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "api_base_url")
	require.Contains(t, err.Error(), "request_timeout")
	require.Contains(t, err.Error(), "log_level")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "catalogform.yaml")
	cfg := config.DefaultConfig()
	cfg.CatalogDir = "catalog"
	require.NoError(t, cfg.Save(path))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "catalog", loaded.CatalogDir)
}
