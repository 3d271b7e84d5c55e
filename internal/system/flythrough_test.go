package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/terrastream/engine/internal/config"
)

func TestFlythroughStartsAtFirstWaypoint(t *testing.T) {
	s := NewFlythroughSystem(config.FlythroughConfig{
		Speed:     10,
		Waypoints: []config.Waypoint{{X: 100, Z: 200}, {X: 300, Z: 200}},
	})
	x, z := s.Pos()
	assert.Equal(t, 100.0, x)
	assert.Equal(t, 200.0, z)
}

func TestFlythroughMovesAtConfiguredSpeed(t *testing.T) {
	s := NewFlythroughSystem(config.FlythroughConfig{
		Speed:     10, // units per second
		Waypoints: []config.Waypoint{{X: 0, Z: 0}, {X: 100, Z: 0}},
	})
	s.Update(500 * time.Millisecond)
	x, z := s.Pos()
	assert.InDelta(t, 5.0, x, 1e-9)
	assert.InDelta(t, 0.0, z, 1e-9)
}

func TestFlythroughLoopsThroughWaypoints(t *testing.T) {
	s := NewFlythroughSystem(config.FlythroughConfig{
		Speed: 10,
		Waypoints: []config.Waypoint{
			{X: 0, Z: 0},
			{X: 10, Z: 0},
			{X: 10, Z: 10},
		},
	})

	// One segment plus half the next, in a single large step.
	s.Update(1500 * time.Millisecond)
	x, z := s.Pos()
	assert.InDelta(t, 10.0, x, 1e-9)
	assert.InDelta(t, 5.0, z, 1e-9)

	// Run long enough to wrap the loop back toward the start.
	for i := 0; i < 100; i++ {
		s.Update(100 * time.Millisecond)
	}
	x, z = s.Pos()
	assert.GreaterOrEqual(t, x, 0.0)
	assert.LessOrEqual(t, x, 10.0)
	assert.GreaterOrEqual(t, z, 0.0)
	assert.LessOrEqual(t, z, 10.0)
}

// All waypoints at the same point: the walker must give up instead of
// spinning forever looking for distance to consume.
func TestFlythroughZeroLengthRouteTerminates(t *testing.T) {
	s := NewFlythroughSystem(config.FlythroughConfig{
		Speed:     10,
		Waypoints: []config.Waypoint{{X: 5, Z: 5}, {X: 5, Z: 5}, {X: 5, Z: 5}},
	})

	done := make(chan struct{})
	go func() {
		s.Update(100 * time.Millisecond)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Update did not return on a zero-length route")
	}

	x, z := s.Pos()
	assert.Equal(t, 5.0, x)
	assert.Equal(t, 5.0, z)

	// A route with duplicate waypoints but nonzero length still advances.
	m := NewFlythroughSystem(config.FlythroughConfig{
		Speed:     10,
		Waypoints: []config.Waypoint{{X: 0, Z: 0}, {X: 0, Z: 0}, {X: 100, Z: 0}},
	})
	m.Update(500 * time.Millisecond)
	x, _ = m.Pos()
	assert.InDelta(t, 5.0, x, 1e-9)
}

func TestFlythroughStaysPutWithoutRoute(t *testing.T) {
	s := NewFlythroughSystem(config.FlythroughConfig{
		Speed:     10,
		Waypoints: []config.Waypoint{{X: 5, Z: 5}},
	})
	s.Update(time.Second)
	x, z := s.Pos()
	assert.Equal(t, 5.0, x)
	assert.Equal(t, 5.0, z)

	idle := NewFlythroughSystem(config.FlythroughConfig{})
	idle.Update(time.Second)
	x, z = idle.Pos()
	assert.Zero(t, x)
	assert.Zero(t, z)
}
