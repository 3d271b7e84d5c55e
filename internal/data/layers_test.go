package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrastream/engine/internal/grid"
	"github.com/terrastream/engine/internal/loader"
)

func TestDefaultTableActiveFor(t *testing.T) {
	table := DefaultLayerTable()

	assert.Equal(t,
		[]loader.Layer{loader.LayerTerrain, loader.LayerCollision},
		table.ActiveFor(grid.LODFar))

	assert.Equal(t,
		[]loader.Layer{loader.LayerTerrain, loader.LayerCollision, loader.LayerProps, loader.LayerAudio},
		table.ActiveFor(grid.LODMid))

	assert.Equal(t, loader.Layers(), table.ActiveFor(grid.LODNear))
}

func TestLoadManifestOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
layers:
  - layer: foliage
    enabled: false
    min_lod: near
  - layer: props
    enabled: true
    min_lod: far
    density: 0.2
`), 0o644))

	table, err := LoadLayerTable(path)
	require.NoError(t, err)

	// Props promoted to all LODs, foliage gone entirely.
	assert.Contains(t, table.ActiveFor(grid.LODFar), loader.LayerProps)
	assert.NotContains(t, table.ActiveFor(grid.LODNear), loader.LayerFoliage)
	assert.InDelta(t, 0.2, table.Density(loader.LayerProps), 1e-9)

	// Layers absent from the manifest keep defaults.
	assert.Contains(t, table.ActiveFor(grid.LODMid), loader.LayerAudio)
}

func TestLoadManifestErrors(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad-layer.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
layers:
  - layer: shadows
    enabled: true
    min_lod: near
`), 0o644))
	_, err := LoadLayerTable(bad)
	assert.Error(t, err)

	badLOD := filepath.Join(dir, "bad-lod.yaml")
	require.NoError(t, os.WriteFile(badLOD, []byte(`
layers:
  - layer: props
    enabled: true
    min_lod: ultra
`), 0o644))
	_, err = LoadLayerTable(badLOD)
	assert.Error(t, err)

	_, err = LoadLayerTable(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
