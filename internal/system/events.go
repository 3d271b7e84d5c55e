// Package system holds the host-loop systems that drive the streaming core.
package system

import (
	"time"

	"github.com/terrastream/engine/internal/core/event"
	coresys "github.com/terrastream/engine/internal/core/system"
)

// EventsSystem rotates and dispatches the event bus at tick start, so every
// other system observes last tick's events against settled state.
type EventsSystem struct {
	bus *event.Bus
}

func NewEventsSystem(bus *event.Bus) *EventsSystem {
	return &EventsSystem{bus: bus}
}

func (s *EventsSystem) Phase() coresys.Phase { return coresys.PhaseEvents }

func (s *EventsSystem) Update(_ time.Duration) {
	s.bus.Swap()
	s.bus.Dispatch()
}
