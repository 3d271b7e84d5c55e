// Package streaming decides, every tick, which cells of an unbounded world
// must exist around a moving viewpoint and at what level of detail, and keeps
// the number of outstanding asynchronous load operations bounded.
//
// The Manager is owned by a single goroutine (the host's tick loop). All map
// and queue mutation happens synchronously inside Tick or ForceLoadAround;
// the only asynchronous boundary is the content provider's load callback,
// whose completion is handed back over a channel and observed on the owning
// goroutine. Content-provider callbacks must not call back into the Manager.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/terrastream/engine/internal/grid"
)

// ErrInvalidConfig is returned by New for configurations that would
// silently deadlock or stall the streamer at runtime.
var ErrInvalidConfig = errors.New("invalid streaming config")

// Callbacks is the content-provider contract.
//
// LoadCell runs on a worker goroutine and may block on I/O; its error return
// discards the cell entirely (never left half-loaded). UnloadCell and
// UpdateCellLOD are invoked synchronously on the tick goroutine and must be
// cheap and must not fail.
type Callbacks struct {
	LoadCell      func(ctx context.Context, x, z int, lod grid.LOD) error
	UnloadCell    func(x, z int)
	UpdateCellLOD func(x, z int, lod grid.LOD)

	// CellReady, if set, is invoked on the tick goroutine after a load
	// completed and was applied. Hosts use it to chain layer loads or emit
	// events; unlike LoadCell it observes the authoritative record state.
	CellReady func(x, z int, lod grid.LOD)
}

// Config controls the streamer. Zero fields take defaults, radii excepted.
type Config struct {
	CellSize           int           // world units per cell (default 64)
	Rings              grid.Rings    // Chebyshev LOD bands, validated
	UnloadDelay        time.Duration // idle time before an unrequired cell is evicted
	MaxConcurrentLoads int           // outstanding load cap (default 4)
	MaxDispatchPerTick int           // loads fired per tick, bounds tick cost (default 4)
	RecomputeInterval  int           // full recompute every N ticks when not crossing a cell (default 4)
}

func (c *Config) applyDefaults() {
	if c.CellSize == 0 {
		c.CellSize = grid.DefaultCellSize
	}
	if c.MaxConcurrentLoads == 0 {
		c.MaxConcurrentLoads = 4
	}
	if c.MaxDispatchPerTick == 0 {
		c.MaxDispatchPerTick = 4
	}
	if c.RecomputeInterval == 0 {
		c.RecomputeInterval = 4
	}
}

func (c Config) validate() error {
	if c.CellSize < 1 {
		return fmt.Errorf("%w: cell size %d < 1", ErrInvalidConfig, c.CellSize)
	}
	if c.MaxConcurrentLoads < 1 {
		return fmt.Errorf("%w: max concurrent loads %d < 1", ErrInvalidConfig, c.MaxConcurrentLoads)
	}
	if c.MaxDispatchPerTick < 1 {
		return fmt.Errorf("%w: max dispatch per tick %d < 1", ErrInvalidConfig, c.MaxDispatchPerTick)
	}
	if c.RecomputeInterval < 1 {
		return fmt.Errorf("%w: recompute interval %d < 1", ErrInvalidConfig, c.RecomputeInterval)
	}
	if err := c.Rings.Validate(); err != nil {
		return err
	}
	return nil
}

// Stats is a snapshot of the streamer's bookkeeping.
type Stats struct {
	TotalCells   int
	LoadedCells  int
	LoadingCells int // dispatched, completion outstanding
	QueueLength  int
}

type pendingLoad struct {
	coord grid.Coord
}

type loadResult struct {
	coord grid.Coord
	lod   grid.LOD
	gen   uint64
	err   error
}

// Manager is the cell lifecycle manager. Single-goroutine access only.
type Manager struct {
	cfg Config
	cb  Callbacks
	log *zap.Logger

	cells     map[grid.Coord]*Record
	protected map[grid.Coord]struct{}

	// gens invalidates stale async results: bumped on every enqueue and
	// every eviction, never reset. A completion whose generation no longer
	// matches is discarded without touching the cell map. Entries are kept
	// for coordinates that were ever touched; the map grows with the visited
	// world, which is bounded and cheap.
	gens map[grid.Coord]uint64

	pending []pendingLoad // closest-first, rebuilt on every recompute
	active  int           // dispatched loads not yet completed

	completions chan loadResult

	current        grid.Coord
	hasCurrent     bool
	ticks          int
	forceRecompute bool

	// required is the per-recompute scratch set, cleared and refilled each
	// full recompute instead of reallocated.
	required map[grid.Coord]grid.LOD

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Manager. Invalid configuration is rejected here, synchronously,
// rather than surfacing later as a stalled streamer.
func New(cfg Config, cb Callbacks, log *zap.Logger) (*Manager, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cb.LoadCell == nil || cb.UnloadCell == nil || cb.UpdateCellLOD == nil {
		return nil, fmt.Errorf("%w: load, unload and LOD-update callbacks are all required", ErrInvalidConfig)
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:         cfg,
		cb:          cb,
		log:         log,
		cells:       make(map[grid.Coord]*Record),
		protected:   make(map[grid.Coord]struct{}),
		gens:        make(map[grid.Coord]uint64),
		completions: make(chan loadResult, cfg.MaxConcurrentLoads),
		required:    make(map[grid.Coord]grid.LOD, (2*cfg.Rings.Far+1)*(2*cfg.Rings.Far+1)),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Close cancels the context passed to in-flight load callbacks. Results that
// still arrive afterwards are discarded by the generation guard.
func (m *Manager) Close() {
	m.cancel()
}

// Tick is the per-frame entry point. It never blocks: completions are drained
// non-blockingly, the required set is recomputed only when the viewpoint
// crossed into a new cell or every Nth tick, and at most MaxDispatchPerTick
// loads are fired.
func (m *Manager) Tick(worldX, worldZ float64) {
	m.ticks++
	m.drainCompletions()

	cell := grid.CellOf(worldX, worldZ, m.cfg.CellSize)
	crossed := !m.hasCurrent || cell != m.current
	m.current = cell
	m.hasCurrent = true

	if crossed || m.forceRecompute || m.ticks%m.cfg.RecomputeInterval == 0 {
		m.forceRecompute = false
		m.recompute(time.Now())
	}
	m.dispatch(m.cfg.MaxDispatchPerTick)
}

// ForceLoadAround teleports the viewpoint: all existing cell state and the
// pending queue are discarded, then the entire near ring around the new
// position is loaded before returning. Mid and far rings stream in on
// subsequent ticks.
func (m *Manager) ForceLoadAround(worldX, worldZ float64) {
	cell := grid.CellOf(worldX, worldZ, m.cfg.CellSize)

	for coord, rec := range m.cells {
		m.gens[coord]++
		if rec.State == StateLoaded {
			rec.State = StateUnloading
			m.cb.UnloadCell(coord.X, coord.Z)
		}
		delete(m.cells, coord)
	}
	m.pending = m.pending[:0]
	m.current = cell
	m.hasCurrent = true

	now := time.Now()
	for d := 0; d <= m.cfg.Rings.Near; d++ {
		forEachRingCoord(cell, d, func(c grid.Coord) {
			m.enqueue(c, grid.LODNear, now)
		})
	}

	// Blocking drain: keep firing and waiting until every near-ring cell is
	// terminal. Stale completions from before the clear are consumed here too
	// and freed their concurrency slots on arrival.
	for {
		m.dispatch(len(m.pending))
		if len(m.pending) == 0 && !m.hasLoadingRecord() {
			break
		}
		if m.active == 0 {
			break // nothing in flight can make progress; bail out
		}
		m.apply(<-m.completions)
	}
	m.forceRecompute = true
}

// UnloadCell evicts one cell immediately, regardless of idle time or
// protection. Idempotent. In-flight loads for the cell are not cancelled;
// their results are discarded by the generation guard when they arrive, so
// no record reappears for a coordinate unloaded mid-load.
func (m *Manager) UnloadCell(x, z int) {
	coord := grid.Coord{X: x, Z: z}
	rec := m.cells[coord]
	if rec == nil {
		return
	}
	m.gens[coord]++
	if rec.State == StateLoaded {
		rec.State = StateUnloading
		m.cb.UnloadCell(x, z)
	}
	delete(m.cells, coord)
}

// Protect marks a cell immune to unload (e.g. it is being edited).
func (m *Manager) Protect(x, z int) {
	m.protected[grid.Coord{X: x, Z: z}] = struct{}{}
}

// Unprotect removes unload protection from a cell.
func (m *Manager) Unprotect(x, z int) {
	delete(m.protected, grid.Coord{X: x, Z: z})
}

// IsProtected reports whether a cell is protected from unload.
func (m *Manager) IsProtected(x, z int) bool {
	_, ok := m.protected[grid.Coord{X: x, Z: z}]
	return ok
}

// CurrentCell returns the cell the viewpoint was in at the last tick.
func (m *Manager) CurrentCell() (grid.Coord, bool) {
	return m.current, m.hasCurrent
}

// Stats returns a bookkeeping snapshot.
func (m *Manager) Stats() Stats {
	st := Stats{
		TotalCells:   len(m.cells),
		LoadingCells: m.active,
		QueueLength:  len(m.pending),
	}
	for _, rec := range m.cells {
		if rec.State == StateLoaded {
			st.LoadedCells++
		}
	}
	return st
}

// Record returns the record for a cell, or nil. Exposed for tests and host
// inspection; callers must not retain the pointer across ticks.
func (m *Manager) Record(x, z int) *Record {
	return m.cells[grid.Coord{X: x, Z: z}]
}

// ── internal ──────────────────────────────────────────────────────

func (m *Manager) drainCompletions() {
	for {
		select {
		case res := <-m.completions:
			m.apply(res)
		default:
			return
		}
	}
}

// apply observes one load completion on the owning goroutine.
func (m *Manager) apply(res loadResult) {
	m.active--
	if m.gens[res.coord] != res.gen {
		// Cell was unloaded or re-enqueued while this load was in flight.
		m.log.Debug("discarding stale load result",
			zap.Int("x", res.coord.X), zap.Int("z", res.coord.Z))
		return
	}
	rec := m.cells[res.coord]
	if rec == nil || rec.State != StateLoading {
		return
	}
	if res.err != nil {
		// Discard the record entirely; the coordinate reappears as required
		// on the next recompute and is re-queued. Retry/backoff belongs to
		// the layered scheduler, not here.
		m.log.Warn("cell load failed",
			zap.Int("x", res.coord.X), zap.Int("z", res.coord.Z),
			zap.Stringer("lod", res.lod), zap.Error(res.err))
		delete(m.cells, res.coord)
		return
	}
	rec.State = StateLoaded
	rec.LOD = res.lod
	rec.Flags = FlagsForLOD(res.lod)
	if m.cb.CellReady != nil {
		m.cb.CellReady(res.coord.X, res.coord.Z, res.lod)
	}
}

// recompute rebuilds the required set around the current cell, diffs it
// against existing records, and rebuilds the pending queue closest-first.
func (m *Manager) recompute(now time.Time) {
	clear(m.required)
	m.pending = m.pending[:0]

	for d := 0; d <= m.cfg.Rings.Far; d++ {
		lod := m.cfg.Rings.LODFor(d)
		forEachRingCoord(m.current, d, func(c grid.Coord) {
			m.required[c] = lod
			rec := m.cells[c]
			if rec == nil {
				m.enqueue(c, lod, now)
				return
			}
			rec.lastRequired = now
			switch {
			case rec.State == StateLoading && !rec.dispatched:
				// Still queued: retarget and keep, preserving ring order.
				rec.LOD = lod
				m.pending = append(m.pending, pendingLoad{coord: c})
			case rec.State == StateLoaded && rec.LOD != lod:
				// Cheap synchronous LOD change, no reload.
				rec.LOD = lod
				rec.Flags = FlagsForLOD(lod)
				m.cb.UpdateCellLOD(c.X, c.Z, lod)
			}
		})
	}

	for coord, rec := range m.cells {
		if _, ok := m.required[coord]; ok {
			continue
		}
		switch rec.State {
		case StateLoading:
			if !rec.dispatched {
				// Dropped out of the queue before launch; forget it.
				delete(m.cells, coord)
			}
			// In-flight loads are not cancelable: let them finish, the
			// loaded cell then idles out below.
		case StateLoaded:
			if _, prot := m.protected[coord]; prot {
				continue
			}
			if now.Sub(rec.lastRequired) > m.cfg.UnloadDelay {
				rec.State = StateUnloading
				m.gens[coord]++
				m.cb.UnloadCell(coord.X, coord.Z)
				delete(m.cells, coord)
			}
		}
	}
}

// enqueue creates a Loading record and queues its load. Duplicate enqueue of
// an existing coordinate is a no-op (callers check the map first).
func (m *Manager) enqueue(c grid.Coord, lod grid.LOD, now time.Time) {
	if _, exists := m.cells[c]; exists {
		return
	}
	m.gens[c]++
	m.cells[c] = &Record{
		Coord:        c,
		State:        StateLoading,
		LOD:          lod,
		lastRequired: now,
	}
	m.pending = append(m.pending, pendingLoad{coord: c})
}

// dispatch fires up to limit queued loads while respecting the concurrency cap.
func (m *Manager) dispatch(limit int) {
	fired := 0
	for m.active < m.cfg.MaxConcurrentLoads && fired < limit && len(m.pending) > 0 {
		p := m.pending[0]
		m.pending = m.pending[1:]
		rec := m.cells[p.coord]
		if rec == nil || rec.State != StateLoading || rec.dispatched {
			continue
		}
		rec.dispatched = true
		m.active++
		fired++
		gen := m.gens[p.coord]
		go m.runLoad(p.coord, rec.LOD, gen)
	}
}

// runLoad executes one load callback off the tick goroutine. Panics and
// errors alike come back as a completion; nothing crosses this boundary
// as a throw.
func (m *Manager) runLoad(c grid.Coord, lod grid.LOD, gen uint64) {
	res := loadResult{coord: c, lod: lod, gen: gen}
	func() {
		defer func() {
			if r := recover(); r != nil {
				res.err = fmt.Errorf("load panic: %v", r)
			}
		}()
		res.err = m.cb.LoadCell(m.ctx, c.X, c.Z, lod)
	}()
	m.completions <- res
}

func (m *Manager) hasLoadingRecord() bool {
	for _, rec := range m.cells {
		if rec.State == StateLoading {
			return true
		}
	}
	return false
}

// forEachRingCoord walks the square ring at Chebyshev distance d around
// center, so callers naturally visit cells closest-first.
func forEachRingCoord(center grid.Coord, d int, fn func(grid.Coord)) {
	if d == 0 {
		fn(center)
		return
	}
	for x := center.X - d; x <= center.X+d; x++ {
		fn(grid.Coord{X: x, Z: center.Z - d})
	}
	for z := center.Z - d + 1; z <= center.Z+d-1; z++ {
		fn(grid.Coord{X: center.X - d, Z: z})
		fn(grid.Coord{X: center.X + d, Z: z})
	}
	for x := center.X - d; x <= center.X+d; x++ {
		fn(grid.Coord{X: x, Z: center.Z + d})
	}
}
