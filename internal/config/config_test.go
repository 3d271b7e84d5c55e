package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrastream/engine/internal/grid"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "terrastreamd.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	require.NoError(t, Defaults().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
name = "editor-preview"
tick_rate = "100ms"

[streaming]
near_radius = 2
mid_radius = 3
far_radius = 5
unload_delay = "2s"

[generator]
seed = 42

[logging]
format = "json"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "editor-preview", cfg.Server.Name)
	assert.Equal(t, 100*time.Millisecond, cfg.Server.TickRate)
	assert.Equal(t, grid.Rings{Near: 2, Mid: 3, Far: 5}, cfg.Streaming.Rings())
	assert.Equal(t, 2*time.Second, cfg.Streaming.UnloadDelay)
	assert.Equal(t, int64(42), cfg.Generator.Seed)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Untouched sections keep their defaults.
	assert.Equal(t, grid.DefaultCellSize, cfg.Streaming.CellSize)
	assert.Equal(t, 4, cfg.Loader.MaxConcurrentLoads)
	assert.Equal(t, 2, cfg.Loader.RetryAttempts)
	assert.False(t, cfg.Database.Enabled)
}

func TestLoadRejectsBadRings(t *testing.T) {
	path := writeConfig(t, `
[streaming]
near_radius = 4
mid_radius = 2
far_radius = 3
`)
	_, err := Load(path)
	assert.ErrorIs(t, err, grid.ErrInvalidRings)
}

func TestLoadRejectsBadValues(t *testing.T) {
	for name, body := range map[string]string{
		"zero cell size":      "[streaming]\ncell_size = -1\n",
		"zero stream workers": "[streaming]\nmax_concurrent_loads = 0\n",
		"zero layer workers":  "[loader]\nmax_concurrent_loads = 0\n",
		"negative retries":    "[loader]\nretry_attempts = -1\n",
		"zero tick rate":      "[server]\ntick_rate = \"0s\"\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "[server\nname ="))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
