// Package terrain is the concrete content provider: deterministic procedural
// heightmaps, splat weights, collision and decorative placements per cell.
package terrain

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/terrastream/engine/internal/grid"
	"github.com/terrastream/engine/internal/loader"
	"github.com/terrastream/engine/internal/scripting"
)

// Vertex resolution per cell edge by LOD. Odd counts so cell borders share
// vertices with neighbours at the same LOD.
const (
	ResolutionNear = 33
	ResolutionMid  = 17
	ResolutionFar  = 9
)

// ResolutionFor returns the heightmap edge resolution for a LOD.
func ResolutionFor(lod grid.LOD) int {
	switch lod {
	case grid.LODNear:
		return ResolutionNear
	case grid.LODMid:
		return ResolutionMid
	default:
		return ResolutionFar
	}
}

// Splat material indices.
const (
	MatGrass uint8 = iota
	MatDirt
	MatRock
	MatSnow
)

// Placement is one decorative instance inside a cell, in world coordinates.
type Placement struct {
	X    float32
	Z    float32
	Kind uint8
}

// CellPayload is the generated content of one cell at one LOD.
type CellPayload struct {
	Coord      grid.Coord
	LOD        grid.LOD
	Resolution int
	Heights    []float32 // Resolution×Resolution, row-major
	Splat      []uint8   // material index per vertex
	Collision  []uint8   // walkability bitmask per vertex, Near/Mid only
	Decor      map[loader.Layer][]Placement
}

// Generator builds cell payloads from seeded noise, optionally post-processed
// by a Lua shaping hook. Safe for concurrent use by load workers.
type Generator struct {
	seed     int64
	cellSize int
	noise    *Noise
	script   *scripting.Engine // nil when no hook is configured
	log      *zap.Logger
}

func NewGenerator(seed int64, cellSize int, script *scripting.Engine, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{
		seed:     seed,
		cellSize: cellSize,
		noise:    NewNoise(seed),
		script:   script,
		log:      log,
	}
}

// Seed returns the generator's world seed (the persistence cache key prefix).
func (g *Generator) Seed() int64 { return g.seed }

// HeightAt samples the continuous world height field.
func (g *Generator) HeightAt(wx, wz float64) float64 {
	// Two noise bands: broad hills plus fine relief.
	h := 120*g.noise.FBM(wx/512, wz/512, 4, 2.0, 0.5) + 8*g.noise.Value(wx/16, wz/16)
	return h
}

// GenerateCell builds the base payload (heights + splat) for one cell.
func (g *Generator) GenerateCell(ctx context.Context, coord grid.Coord, lod grid.LOD) (*CellPayload, error) {
	res := ResolutionFor(lod)
	p := &CellPayload{
		Coord:      coord,
		LOD:        lod,
		Resolution: res,
		Heights:    make([]float32, res*res),
		Splat:      make([]uint8, res*res),
		Decor:      make(map[loader.Layer][]Placement),
	}

	step := float64(g.cellSize) / float64(res-1)
	baseX := float64(coord.X * g.cellSize)
	baseZ := float64(coord.Z * g.cellSize)

	for iz := 0; iz < res; iz++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		wz := baseZ + float64(iz)*step
		for ix := 0; ix < res; ix++ {
			wx := baseX + float64(ix)*step
			h := g.HeightAt(wx, wz)
			if g.script != nil {
				shaped, err := g.script.Shape(wx, wz, h)
				if err != nil {
					return nil, fmt.Errorf("shape cell %s: %w", coord, err)
				}
				h = shaped
			}
			i := iz*res + ix
			p.Heights[i] = float32(h)
			p.Splat[i] = g.splatAt(wx, wz, h)
		}
	}
	return p, nil
}

// splatAt picks the surface material from height and a moisture band.
func (g *Generator) splatAt(wx, wz, h float64) uint8 {
	switch {
	case h > 100:
		return MatSnow
	case h > 70:
		return MatRock
	case g.noise.Value(wx/96+1000, wz/96+1000) < 0.35:
		return MatDirt
	default:
		return MatGrass
	}
}

// GenerateCollision derives a per-vertex walkability bitmask from local slope.
func (g *Generator) GenerateCollision(ctx context.Context, p *CellPayload) ([]uint8, error) {
	res := p.Resolution
	out := make([]uint8, res*res)
	step := float32(g.cellSize) / float32(res-1)
	for iz := 0; iz < res; iz++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for ix := 0; ix < res; ix++ {
			i := iz*res + ix
			// Forward-difference slope; border vertices reuse the inner one.
			jx, jz := ix, iz
			if jx == res-1 {
				jx--
			}
			if jz == res-1 {
				jz--
			}
			dx := p.Heights[jz*res+jx+1] - p.Heights[jz*res+jx]
			dz := p.Heights[(jz+1)*res+jx] - p.Heights[jz*res+jx]
			slope := (abs32(dx) + abs32(dz)) / step
			if slope < 0.9 {
				out[i] = 1 // walkable
			}
		}
	}
	return out, nil
}

// GeneratePlacements scatters decorative instances for one layer. The count
// scales with density and cell area; positions and kinds come from the same
// seeded noise as the terrain, so re-generation is stable.
func (g *Generator) GeneratePlacements(ctx context.Context, coord grid.Coord, layer loader.Layer, density float64) ([]Placement, error) {
	count := int(density * float64(g.cellSize))
	if count <= 0 {
		return nil, nil
	}
	out := make([]Placement, 0, count)
	baseX := float64(coord.X * g.cellSize)
	baseZ := float64(coord.Z * g.cellSize)
	// Per-layer channel offset keeps layers decorrelated.
	off := float64(layer) * 7919
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fi := float64(i)
		px := baseX + float64(g.cellSize)*g.noise.Value(baseX+fi*13.7+off, baseZ+off)
		pz := baseZ + float64(g.cellSize)*g.noise.Value(baseX+off, baseZ+fi*17.3+off)
		h := g.HeightAt(px, pz)
		if h > 100 {
			continue // nothing decorative above the snow line
		}
		kind := uint8(g.noise.Value(px*3.1, pz*3.1) * 4)
		out = append(out, Placement{X: float32(px), Z: float32(pz), Kind: kind})
	}
	return out, nil
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
