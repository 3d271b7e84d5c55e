package system

import (
	"time"

	"go.uber.org/zap"

	coresys "github.com/terrastream/engine/internal/core/system"
	"github.com/terrastream/engine/internal/loader"
	"github.com/terrastream/engine/internal/streaming"
	"github.com/terrastream/engine/internal/terrain"
)

// StatsSystem logs a streaming snapshot every interval ticks.
type StatsSystem struct {
	mgr      *streaming.Manager
	sched    *loader.Scheduler
	provider *terrain.Provider
	log      *zap.Logger
	interval int
	ticks    int
}

func NewStatsSystem(mgr *streaming.Manager, sched *loader.Scheduler, provider *terrain.Provider, interval int, log *zap.Logger) *StatsSystem {
	if interval < 1 {
		interval = 100
	}
	return &StatsSystem{mgr: mgr, sched: sched, provider: provider, log: log, interval: interval}
}

func (s *StatsSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *StatsSystem) Update(_ time.Duration) {
	s.ticks++
	if s.ticks < s.interval {
		return
	}
	s.ticks = 0

	ms := s.mgr.Stats()
	ls := s.sched.Stats()
	cell, _ := s.mgr.CurrentCell()
	s.log.Info("streaming stats",
		zap.Stringer("cell", cell),
		zap.Int("cells_total", ms.TotalCells),
		zap.Int("cells_loaded", ms.LoadedCells),
		zap.Int("cells_loading", ms.LoadingCells),
		zap.Int("cell_queue", ms.QueueLength),
		zap.Int("layers_queued", ls.Queued),
		zap.Int("layers_loading", ls.Loading),
		zap.Int("layers_loaded", ls.Loaded),
		zap.Int("layer_errors", ls.Errors),
		zap.Int("resident_payloads", s.provider.ResidentCells()),
	)
}
