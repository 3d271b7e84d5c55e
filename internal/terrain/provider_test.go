package terrain_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrastream/engine/internal/data"
	"github.com/terrastream/engine/internal/grid"
	"github.com/terrastream/engine/internal/loader"
	"github.com/terrastream/engine/internal/terrain"
)

func newTestProvider(t *testing.T, cache terrain.CellCache) (*terrain.Provider, *loader.Scheduler) {
	t.Helper()
	sched, err := loader.New(loader.Config{MaxConcurrentLoads: 4}, loader.Callbacks{}, nil)
	require.NoError(t, err)
	t.Cleanup(sched.Close)
	gen := terrain.NewGenerator(1, 64, nil, nil)
	return terrain.NewProvider(gen, sched, data.DefaultLayerTable(), cache, nil), sched
}

func drainUntil(t *testing.T, s *loader.Scheduler, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.Drain()
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestLoadCellThenLayers(t *testing.T) {
	provider, sched := newTestProvider(t, nil)
	ctx := context.Background()

	require.NoError(t, provider.LoadCell(ctx, 2, 3, grid.LODNear))
	require.NotNil(t, provider.Payload(2, 3))
	assert.Equal(t, 1, provider.ResidentCells())

	// CellReady chains every manifest-active non-terrain layer.
	provider.CellReady(2, 3, grid.LODNear)
	drainUntil(t, sched, func() bool {
		return sched.Stats().Loaded == 5
	})

	p := provider.Payload(2, 3)
	require.NotNil(t, p)
	assert.NotEmpty(t, p.Collision)
	assert.NotEmpty(t, p.Decor[loader.LayerFoliage])
	assert.NotEmpty(t, p.Decor[loader.LayerProps])
}

func TestFarCellSkipsFineLayers(t *testing.T) {
	provider, sched := newTestProvider(t, nil)
	ctx := context.Background()

	require.NoError(t, provider.LoadCell(ctx, 0, 0, grid.LODFar))
	provider.CellReady(0, 0, grid.LODFar)

	// Far: only collision beyond the base terrain.
	drainUntil(t, sched, func() bool {
		return sched.Stats().Loaded == 1
	})
	sched.Drain()
	p := provider.Payload(0, 0)
	require.NotNil(t, p)
	assert.NotEmpty(t, p.Collision)
	assert.Empty(t, p.Decor[loader.LayerFoliage])
}

func TestUpdateCellLODQueuesNewLayers(t *testing.T) {
	provider, sched := newTestProvider(t, nil)
	ctx := context.Background()

	require.NoError(t, provider.LoadCell(ctx, 1, 1, grid.LODFar))
	provider.CellReady(1, 1, grid.LODFar)
	drainUntil(t, sched, func() bool {
		return sched.Stats().Loaded == 1
	})

	provider.UpdateCellLOD(1, 1, grid.LODNear)
	p := provider.Payload(1, 1)
	require.NotNil(t, p)
	assert.Equal(t, grid.LODNear, p.LOD)

	// Collision is already loaded (idempotent identity), the four decorative
	// layers are new.
	drainUntil(t, sched, func() bool {
		return sched.Stats().Loaded == 5
	})
	assert.NotEmpty(t, provider.Payload(1, 1).Decor[loader.LayerFoliage])
}

func TestUnloadCellForgetsPayloadAndLayers(t *testing.T) {
	provider, sched := newTestProvider(t, nil)
	ctx := context.Background()

	require.NoError(t, provider.LoadCell(ctx, 4, 4, grid.LODNear))
	provider.CellReady(4, 4, grid.LODNear)
	drainUntil(t, sched, func() bool {
		return sched.Stats().Loaded == 5
	})

	provider.UnloadCell(4, 4)
	assert.Nil(t, provider.Payload(4, 4))
	assert.Zero(t, provider.ResidentCells())
	st := sched.Stats()
	assert.Zero(t, st.Loaded)

	// A layer op racing the unload is a silent no-op, not an error.
	provider.CellReady(4, 4, grid.LODNear)
	drainUntil(t, sched, func() bool {
		return sched.Stats().Loaded == 5
	})
	assert.Nil(t, provider.Payload(4, 4))
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	provider, sched := newTestProvider(t, nil)
	ctx := context.Background()

	require.NoError(t, provider.LoadCell(ctx, 0, 1, grid.LODNear))
	provider.CellReady(0, 1, grid.LODNear)
	drainUntil(t, sched, func() bool {
		return sched.Stats().Loaded == 5
	})

	snap := provider.Snapshot(0, 1)
	require.NotNil(t, snap)
	assert.Equal(t, provider.Payload(0, 1).Heights, snap.Heights)

	// Dropping the resident cell does not invalidate the snapshot.
	provider.UnloadCell(0, 1)
	assert.NotEmpty(t, snap.Decor[loader.LayerFoliage])
	assert.Nil(t, provider.Snapshot(0, 1))
}

type stubCache struct {
	payload *terrain.CellPayload
	loads   int
}

func (c *stubCache) Load(_ context.Context, coord grid.Coord, lod grid.LOD) (*terrain.CellPayload, error) {
	c.loads++
	return c.payload, nil
}

func (c *stubCache) Save(context.Context, *terrain.CellPayload) error { return nil }

func TestLoadCellReadsThroughCache(t *testing.T) {
	cached := &terrain.CellPayload{
		Coord:      grid.Coord{X: 7, Z: 7},
		LOD:        grid.LODMid,
		Resolution: terrain.ResolutionMid,
		Heights:    make([]float32, terrain.ResolutionMid*terrain.ResolutionMid),
		Splat:      make([]uint8, terrain.ResolutionMid*terrain.ResolutionMid),
	}
	cache := &stubCache{payload: cached}
	provider, _ := newTestProvider(t, cache)

	require.NoError(t, provider.LoadCell(context.Background(), 7, 7, grid.LODMid))
	assert.Equal(t, 1, cache.loads)
	assert.Same(t, cached, provider.Payload(7, 7), "hit must install the cached payload, not regenerate")

	// A miss falls through to the generator.
	cache.payload = nil
	require.NoError(t, provider.LoadCell(context.Background(), 8, 8, grid.LODMid))
	p := provider.Payload(8, 8)
	require.NotNil(t, p)
	assert.Equal(t, terrain.ResolutionMid, p.Resolution)
}
