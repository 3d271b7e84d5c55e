// Package data holds editor-configurable static tables.
package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/terrastream/engine/internal/grid"
	"github.com/terrastream/engine/internal/loader"
)

// LayerSpec configures one content layer loaded from the manifest.
type LayerSpec struct {
	Layer   string  `yaml:"layer"`
	Enabled bool    `yaml:"enabled"`
	MinLOD  string  `yaml:"min_lod"` // coarsest LOD at which the layer is generated
	Density float64 `yaml:"density"` // placements per cell edge unit, decorative layers only
}

type layerFile struct {
	Layers []LayerSpec `yaml:"layers"`
}

type layerEntry struct {
	enabled bool
	minLOD  grid.LOD
	density float64
}

// LayerTable maps each layer kind to its streaming behaviour.
type LayerTable struct {
	entries map[loader.Layer]layerEntry
}

// DefaultLayerTable mirrors the compiled-in manifest: terrain and collision
// everywhere, props from Mid in, foliage and effects only at Near, audio from
// Mid in.
func DefaultLayerTable() *LayerTable {
	return &LayerTable{entries: map[loader.Layer]layerEntry{
		loader.LayerTerrain:   {enabled: true, minLOD: grid.LODFar, density: 0},
		loader.LayerCollision: {enabled: true, minLOD: grid.LODFar, density: 0},
		loader.LayerProps:     {enabled: true, minLOD: grid.LODMid, density: 0.05},
		loader.LayerFoliage:   {enabled: true, minLOD: grid.LODNear, density: 0.4},
		loader.LayerEffects:   {enabled: true, minLOD: grid.LODNear, density: 0.01},
		loader.LayerAudio:     {enabled: true, minLOD: grid.LODMid, density: 0.02},
	}}
}

// LoadLayerTable reads a YAML manifest. Layers absent from the file keep
// their defaults.
func LoadLayerTable(path string) (*LayerTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layer manifest %s: %w", path, err)
	}
	var f layerFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse layer manifest %s: %w", path, err)
	}
	t := DefaultLayerTable()
	for _, spec := range f.Layers {
		l, err := loader.ParseLayer(spec.Layer)
		if err != nil {
			return nil, fmt.Errorf("layer manifest %s: %w", path, err)
		}
		minLOD, err := grid.ParseLOD(spec.MinLOD)
		if err != nil {
			return nil, fmt.Errorf("layer manifest %s: layer %s: %w", path, spec.Layer, err)
		}
		t.entries[l] = layerEntry{enabled: spec.Enabled, minLOD: minLOD, density: spec.Density}
	}
	return t, nil
}

// ActiveFor returns the enabled layers generated at the given LOD, in rank
// order. A layer with min_lod "near" only exists at Near; "far" exists at
// every LOD.
func (t *LayerTable) ActiveFor(lod grid.LOD) []loader.Layer {
	out := make([]loader.Layer, 0, len(t.entries))
	for _, l := range loader.Layers() {
		e, ok := t.entries[l]
		if ok && e.enabled && lod <= e.minLOD {
			out = append(out, l)
		}
	}
	return out
}

// Density returns the configured placement density for a layer.
func (t *LayerTable) Density(l loader.Layer) float64 {
	return t.entries[l].density
}
