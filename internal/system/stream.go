package system

import (
	"time"

	coresys "github.com/terrastream/engine/internal/core/system"
	"github.com/terrastream/engine/internal/streaming"
)

// Viewpoint supplies the camera/avatar world position each tick.
type Viewpoint interface {
	Pos() (x, z float64)
}

// StreamSystem feeds the viewpoint into the cell lifecycle manager.
type StreamSystem struct {
	mgr *streaming.Manager
	vp  Viewpoint
}

func NewStreamSystem(mgr *streaming.Manager, vp Viewpoint) *StreamSystem {
	return &StreamSystem{mgr: mgr, vp: vp}
}

func (s *StreamSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *StreamSystem) Update(_ time.Duration) {
	x, z := s.vp.Pos()
	s.mgr.Tick(x, z)
}
