package terrain

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/terrastream/engine/internal/data"
	"github.com/terrastream/engine/internal/grid"
	"github.com/terrastream/engine/internal/loader"
)

// CellCache is an optional read-through/write-behind payload cache
// (implemented by the persist package). Load returns (nil, nil) on a miss.
type CellCache interface {
	Load(ctx context.Context, coord grid.Coord, lod grid.LOD) (*CellPayload, error)
	Save(ctx context.Context, p *CellPayload) error
}

// Provider implements the streaming manager's content-provider contract and
// feeds decorative layers through the layered load scheduler.
//
// The payload map is the one piece of state shared between the tick goroutine
// (unload, LOD updates, queries) and load workers (generation results), hence
// the mutex; everything else follows the single-owner rule.
type Provider struct {
	gen    *Generator
	sched  *loader.Scheduler
	layers *data.LayerTable
	cache  CellCache // nil when persistence is disabled
	log    *zap.Logger

	mu    sync.RWMutex
	cells map[grid.Coord]*CellPayload
}

func NewProvider(gen *Generator, sched *loader.Scheduler, layers *data.LayerTable, cache CellCache, log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{
		gen:    gen,
		sched:  sched,
		layers: layers,
		cache:  cache,
		log:    log,
		cells:  make(map[grid.Coord]*CellPayload),
	}
}

// LoadCell builds or fetches the base payload for a cell. Runs on a load
// worker; must not touch the scheduler (owned by the tick goroutine).
func (p *Provider) LoadCell(ctx context.Context, x, z int, lod grid.LOD) error {
	coord := grid.Coord{X: x, Z: z}

	if p.cache != nil {
		cached, err := p.cache.Load(ctx, coord, lod)
		if err != nil {
			p.log.Debug("cell cache read failed, regenerating",
				zap.Int("x", x), zap.Int("z", z), zap.Error(err))
		} else if cached != nil {
			p.install(coord, cached)
			return nil
		}
	}

	payload, err := p.gen.GenerateCell(ctx, coord, lod)
	if err != nil {
		return err
	}
	p.install(coord, payload)
	return nil
}

// UnloadCell drops the payload and all layer bookkeeping for a cell.
// Called synchronously on the tick goroutine.
func (p *Provider) UnloadCell(x, z int) {
	coord := grid.Coord{X: x, Z: z}
	p.mu.Lock()
	delete(p.cells, coord)
	p.mu.Unlock()
	p.sched.UnloadCell(x, z)
}

// UpdateCellLOD retags a resident cell and queues any layers that become
// active at the finer LOD. The heightmap itself is not rebuilt — LOD changes
// are cheap by contract. Called synchronously on the tick goroutine.
func (p *Provider) UpdateCellLOD(x, z int, lod grid.LOD) {
	coord := grid.Coord{X: x, Z: z}
	p.mu.Lock()
	payload, ok := p.cells[coord]
	if ok {
		payload.LOD = lod
	}
	p.mu.Unlock()
	if ok {
		p.enqueueLayers(coord, lod)
	}
}

// CellReady chains the cell's layer loads once the base load has been
// applied. Called on the tick goroutine by the streaming manager.
func (p *Provider) CellReady(x, z int, lod grid.LOD) {
	p.enqueueLayers(grid.Coord{X: x, Z: z}, lod)
}

// Payload returns the resident payload for a cell, or nil.
func (p *Provider) Payload(x, z int) *CellPayload {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cells[grid.Coord{X: x, Z: z}]
}

// Snapshot returns a copy of a resident payload safe to read off the tick
// goroutine. Heights/Splat/Collision slices are never mutated in place and
// Decor slices are only ever replaced wholesale, so a shallow map copy is
// race-free.
func (p *Provider) Snapshot(x, z int) *CellPayload {
	p.mu.RLock()
	defer p.mu.RUnlock()
	payload := p.cells[grid.Coord{X: x, Z: z}]
	if payload == nil {
		return nil
	}
	cp := *payload
	cp.Decor = make(map[loader.Layer][]Placement, len(payload.Decor))
	for l, pl := range payload.Decor {
		cp.Decor[l] = pl
	}
	return &cp
}

// ResidentCells returns the number of resident payloads.
func (p *Provider) ResidentCells() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cells)
}

func (p *Provider) install(coord grid.Coord, payload *CellPayload) {
	if payload.Decor == nil {
		payload.Decor = make(map[loader.Layer][]Placement)
	}
	p.mu.Lock()
	p.cells[coord] = payload
	p.mu.Unlock()
}

// enqueueLayers queues every manifest-active layer for the cell. Terrain is
// the base load itself and never goes through the scheduler. Enqueue is
// idempotent, so LOD flapping cannot duplicate work.
func (p *Provider) enqueueLayers(coord grid.Coord, lod grid.LOD) {
	for _, l := range p.layers.ActiveFor(lod) {
		if l == loader.LayerTerrain {
			continue
		}
		layer := l
		p.sched.Enqueue(layer, coord.X, coord.Z, func(ctx context.Context) error {
			return p.loadLayer(ctx, coord, layer)
		})
	}
}

// loadLayer generates one layer's content on a worker. A cell that was
// unloaded while the request sat in the queue is a silent no-op: the
// scheduler has already forgotten the identity.
func (p *Provider) loadLayer(ctx context.Context, coord grid.Coord, layer loader.Layer) error {
	p.mu.RLock()
	payload := p.cells[coord]
	p.mu.RUnlock()
	if payload == nil {
		return nil
	}

	if layer == loader.LayerCollision {
		collision, err := p.gen.GenerateCollision(ctx, payload)
		if err != nil {
			return err
		}
		p.mu.Lock()
		payload.Collision = collision
		p.mu.Unlock()
		return nil
	}

	placements, err := p.gen.GeneratePlacements(ctx, coord, layer, p.layers.Density(layer))
	if err != nil {
		return err
	}
	p.mu.Lock()
	payload.Decor[layer] = placements
	p.mu.Unlock()
	return nil
}
