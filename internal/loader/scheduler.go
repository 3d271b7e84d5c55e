// Package loader is a reusable priority-ordered execution engine for cell
// layer loads: bounded concurrency, fixed-delay retries, idempotent enqueue.
//
// Like the streaming manager, a Scheduler is owned by one goroutine. Load
// operations run on worker goroutines; their terminal results queue on a
// channel and are applied when the owner calls Drain. UnloadCell and Clear
// remove bookkeeping only — they never cancel an in-flight operation, so
// results are re-validated against a per-identity generation before they
// touch shared state.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/terrastream/engine/internal/grid"
)

// ErrInvalidConfig is returned by New for configurations that could never
// make progress.
var ErrInvalidConfig = errors.New("invalid loader config")

// priorityStride separates layer ranks in the priority key; the secondary
// key is the cell's Chebyshev distance from the origin.
const priorityStride = 1000

// RequestState is the lifecycle of one layer load request.
type RequestState uint8

const (
	RequestQueued RequestState = iota
	RequestLoading
	RequestLoaded
	RequestError
)

// LoadFunc performs the actual layer load. It runs on a worker goroutine and
// is retried on error with a fixed delay between attempts.
type LoadFunc func(ctx context.Context) error

// Callbacks report scheduler outcomes. All are invoked on the owner
// goroutine during Drain and may be nil.
type Callbacks struct {
	LayerLoaded func(layer Layer, x, z int)
	LayerError  func(layer Layer, x, z int, msg string)
	Progress    func(loaded, total int)
}

// Config controls the scheduler. RetryAttempts and RetryDelay of zero are
// meaningful (no retries, immediate retry) and are passed through as-is.
type Config struct {
	MaxConcurrentLoads int           // default 4
	RetryAttempts      int           // retries after the initial attempt
	RetryDelay         time.Duration // fixed delay between attempts
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrentLoads == 0 {
		c.MaxConcurrentLoads = 4
	}
}

func (c Config) validate() error {
	if c.MaxConcurrentLoads < 1 {
		return fmt.Errorf("%w: max concurrent loads %d < 1", ErrInvalidConfig, c.MaxConcurrentLoads)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("%w: retry attempts %d < 0", ErrInvalidConfig, c.RetryAttempts)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("%w: retry delay %s < 0", ErrInvalidConfig, c.RetryDelay)
	}
	return nil
}

// LayerStats is the per-layer slice of Stats.
type LayerStats struct {
	Queued int
	Loaded int
}

// Stats is a snapshot of scheduler bookkeeping.
type Stats struct {
	Queued  int
	Loading int
	Loaded  int
	Errors  int
	ByLayer map[Layer]LayerStats
}

type identity struct {
	coord grid.Coord
	layer Layer
}

type request struct {
	id       identity
	priority int
	seq      uint64 // enqueue order, stable tiebreak for equal priority
	op       LoadFunc
	state    RequestState
	attempts int
	gen      uint64
}

type result struct {
	id       identity
	gen      uint64
	attempts int
	err      error
}

// Scheduler executes layer loads in priority order. Single-goroutine access.
type Scheduler struct {
	cfg Config
	cb  Callbacks
	log *zap.Logger

	pending    []*request // sorted by (priority, seq)
	pendingSet map[identity]*request
	active     map[identity]*request
	done       map[identity]*request // terminal: Loaded or Error

	gens map[identity]uint64
	seq  uint64

	completions chan result

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Scheduler; invalid configuration is rejected synchronously.
func New(cfg Config, cb Callbacks, log *zap.Logger) (*Scheduler, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:         cfg,
		cb:          cb,
		log:         log,
		pendingSet:  make(map[identity]*request),
		active:      make(map[identity]*request),
		done:        make(map[identity]*request),
		gens:        make(map[identity]uint64),
		completions: make(chan result, 2*cfg.MaxConcurrentLoads),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Close cancels in-flight operations' context. Results still arriving are
// discarded by the generation guard.
func (s *Scheduler) Close() {
	s.cancel()
}

// Enqueue queues one layer load for a cell. Idempotent: a no-op if the same
// (cell, layer) identity is already queued, loading, or loaded. An identity
// that previously ended in Error may be enqueued again; terminal errors are
// never retried automatically. Returns whether the request was accepted.
func (s *Scheduler) Enqueue(layer Layer, x, z int, op LoadFunc) bool {
	id := identity{coord: grid.Coord{X: x, Z: z}, layer: layer}
	if _, ok := s.pendingSet[id]; ok {
		return false
	}
	if _, ok := s.active[id]; ok {
		return false
	}
	if prev, ok := s.done[id]; ok {
		if prev.state == RequestLoaded {
			return false
		}
		delete(s.done, id) // explicit re-enqueue of an errored identity
	}

	s.gens[id]++
	s.seq++
	req := &request{
		id:       id,
		priority: layer.rank()*priorityStride + grid.Chebyshev(id.coord, grid.Coord{}),
		seq:      s.seq,
		op:       op,
		state:    RequestQueued,
		gen:      s.gens[id],
	}
	s.insert(req)
	s.pump()
	return true
}

// Drain applies all ready completions on the owner goroutine, invoking
// callbacks and launching further queued work as slots free up.
func (s *Scheduler) Drain() {
	for {
		select {
		case res := <-s.completions:
			s.apply(res)
		default:
			return
		}
	}
}

// UnloadCell removes all bookkeeping for a cell: queued requests, completed
// results, and the association with any in-flight operation (whose eventual
// result is then discarded). Idempotent; never cancels running work.
func (s *Scheduler) UnloadCell(x, z int) {
	coord := grid.Coord{X: x, Z: z}
	kept := s.pending[:0]
	for _, req := range s.pending {
		if req.id.coord == coord {
			delete(s.pendingSet, req.id)
			continue
		}
		kept = append(kept, req)
	}
	s.pending = kept
	for l := Layer(0); l < layerCount; l++ {
		id := identity{coord: coord, layer: l}
		if _, ok := s.active[id]; ok {
			s.gens[id]++
			delete(s.active, id)
		}
		delete(s.done, id)
	}
	s.pump()
}

// Clear removes all bookkeeping globally. Idempotent.
func (s *Scheduler) Clear() {
	for id := range s.active {
		s.gens[id]++
	}
	s.pending = s.pending[:0]
	clear(s.pendingSet)
	clear(s.active)
	clear(s.done)
}

// Stats returns a bookkeeping snapshot with a per-layer breakdown.
func (s *Scheduler) Stats() Stats {
	st := Stats{
		Queued:  len(s.pending),
		Loading: len(s.active),
		ByLayer: make(map[Layer]LayerStats),
	}
	for _, req := range s.pending {
		ls := st.ByLayer[req.id.layer]
		ls.Queued++
		st.ByLayer[req.id.layer] = ls
	}
	for _, req := range s.done {
		switch req.state {
		case RequestLoaded:
			st.Loaded++
			ls := st.ByLayer[req.id.layer]
			ls.Loaded++
			st.ByLayer[req.id.layer] = ls
		case RequestError:
			st.Errors++
		}
	}
	return st
}

// ── internal ──────────────────────────────────────────────────────

// insert places req into the pending list keeping it sorted by priority,
// stable for equal priorities (insertion after existing equals).
func (s *Scheduler) insert(req *request) {
	i := sort.Search(len(s.pending), func(i int) bool {
		return s.pending[i].priority > req.priority
	})
	s.pending = append(s.pending, nil)
	copy(s.pending[i+1:], s.pending[i:])
	s.pending[i] = req
	s.pendingSet[req.id] = req
}

// pump launches queued requests while concurrency slots are free. Invoked
// after every enqueue and every applied completion.
func (s *Scheduler) pump() {
	for len(s.active) < s.cfg.MaxConcurrentLoads && len(s.pending) > 0 {
		req := s.pending[0]
		s.pending = s.pending[1:]
		delete(s.pendingSet, req.id)
		req.state = RequestLoading
		s.active[req.id] = req
		go s.run(req.id, req.op, req.gen)
	}
}

// run executes one load with the fixed-delay retry policy on a worker
// goroutine. Errors never cross this boundary as throws; the terminal
// outcome is posted as a completion.
func (s *Scheduler) run(id identity, op LoadFunc, gen uint64) {
	attempts := 0
	delay := s.cfg.RetryDelay
	if delay <= 0 {
		delay = time.Nanosecond // NewConstant rejects a zero interval
	}
	backoff := retry.WithMaxRetries(uint64(s.cfg.RetryAttempts), retry.NewConstant(delay))
	err := retry.Do(s.ctx, backoff, func(ctx context.Context) error {
		attempts++
		if err := safeOp(ctx, op); err != nil {
			// Every failure is treated as transient until attempts run out;
			// the exhausted result below is the permanent failure.
			return retry.RetryableError(err)
		}
		return nil
	})
	s.completions <- result{id: id, gen: gen, attempts: attempts, err: err}
}

func safeOp(ctx context.Context, op LoadFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("layer load panic: %v", r)
		}
	}()
	return op(ctx)
}

// apply observes one terminal result on the owner goroutine.
func (s *Scheduler) apply(res result) {
	if s.gens[res.id] != res.gen {
		// Cell was unloaded or cleared while the operation ran.
		s.log.Debug("discarding stale layer result",
			zap.Stringer("layer", res.id.layer),
			zap.Int("x", res.id.coord.X), zap.Int("z", res.id.coord.Z))
		s.pump()
		return
	}
	req, ok := s.active[res.id]
	if !ok {
		s.pump()
		return
	}
	delete(s.active, res.id)
	req.attempts = res.attempts
	if res.err != nil {
		req.state = RequestError
		s.done[res.id] = req
		s.log.Warn("layer load failed permanently",
			zap.Stringer("layer", res.id.layer),
			zap.Int("x", res.id.coord.X), zap.Int("z", res.id.coord.Z),
			zap.Int("attempts", res.attempts), zap.Error(res.err))
		if s.cb.LayerError != nil {
			s.cb.LayerError(res.id.layer, res.id.coord.X, res.id.coord.Z, res.err.Error())
		}
	} else {
		req.state = RequestLoaded
		s.done[res.id] = req
		if s.cb.LayerLoaded != nil {
			s.cb.LayerLoaded(res.id.layer, res.id.coord.X, res.id.coord.Z)
		}
	}
	if s.cb.Progress != nil {
		loaded := 0
		for _, r := range s.done {
			if r.state == RequestLoaded {
				loaded++
			}
		}
		total := len(s.pending) + len(s.active) + len(s.done)
		s.cb.Progress(loaded, total)
	}
	s.pump()
}
