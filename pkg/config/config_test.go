package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestLoad_OverridesDefaults parses a partial config file: set fields win,
// unset fields keep their defaults.
func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mill.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scheduler:
  engines: 8
logger:
  level: debug
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Scheduler.Engines)
	require.Equal(t, "debug", cfg.Logger.Level)
	require.Equal(t, 50, cfg.Scheduler.StealAdviceIntervalMs, "unset fields keep defaults")
	require.Equal(t, "mill", cfg.Telemetry.ServiceName)
}

// TestLoad_MissingFile surfaces the read error and still returns usable
// defaults.
func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	require.Equal(t, Default().Scheduler, cfg.Scheduler)
}
