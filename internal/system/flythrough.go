package system

import (
	"math"
	"time"

	"github.com/terrastream/engine/internal/config"
	coresys "github.com/terrastream/engine/internal/core/system"
)

// FlythroughSystem moves the viewpoint along a closed waypoint loop at a
// fixed speed. It stands in for the editor camera the production host feeds
// into the streamer.
type FlythroughSystem struct {
	waypoints []config.Waypoint
	speed     float64 // world units per second
	x, z      float64
	target    int
}

func NewFlythroughSystem(cfg config.FlythroughConfig) *FlythroughSystem {
	s := &FlythroughSystem{
		waypoints: cfg.Waypoints,
		speed:     cfg.Speed,
	}
	if len(s.waypoints) > 0 {
		s.x = s.waypoints[0].X
		s.z = s.waypoints[0].Z
		s.target = 1 % len(s.waypoints)
	}
	return s
}

func (s *FlythroughSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *FlythroughSystem) Update(dt time.Duration) {
	if len(s.waypoints) < 2 || s.speed <= 0 {
		return
	}
	remaining := s.speed * dt.Seconds()
	zeroHops := 0
	for remaining > 0 {
		wp := s.waypoints[s.target]
		dx := wp.X - s.x
		dz := wp.Z - s.z
		dist := math.Hypot(dx, dz)
		if dist <= remaining {
			s.x = wp.X
			s.z = wp.Z
			s.target = (s.target + 1) % len(s.waypoints)
			remaining -= dist
			// A route whose waypoints all coincide consumes no distance;
			// without this guard the loop would never terminate.
			if dist == 0 {
				zeroHops++
				if zeroHops >= len(s.waypoints) {
					return
				}
			} else {
				zeroHops = 0
			}
			continue
		}
		s.x += dx / dist * remaining
		s.z += dz / dist * remaining
		return
	}
}

// Pos returns the current viewpoint world position.
func (s *FlythroughSystem) Pos() (x, z float64) {
	return s.x, s.z
}
