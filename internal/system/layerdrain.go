package system

import (
	"time"

	coresys "github.com/terrastream/engine/internal/core/system"
	"github.com/terrastream/engine/internal/loader"
)

// LayerDrainSystem applies ready layer completions on the tick goroutine.
type LayerDrainSystem struct {
	sched *loader.Scheduler
}

func NewLayerDrainSystem(sched *loader.Scheduler) *LayerDrainSystem {
	return &LayerDrainSystem{sched: sched}
}

func (s *LayerDrainSystem) Phase() coresys.Phase { return coresys.PhasePost }

func (s *LayerDrainSystem) Update(_ time.Duration) {
	s.sched.Drain()
}
