// Package event carries streaming notifications between host systems.
package event

import (
	"github.com/terrastream/engine/internal/grid"
	"github.com/terrastream/engine/internal/loader"
)

// Kind discriminates the closed set of streaming events.
type Kind uint8

const (
	KindCellLoaded Kind = iota
	KindCellUnloaded
	KindCellLODChanged
	KindLayerLoaded
	KindLayerFailed

	kindCount
)

func (k Kind) String() string {
	switch k {
	case KindCellLoaded:
		return "cell_loaded"
	case KindCellUnloaded:
		return "cell_unloaded"
	case KindCellLODChanged:
		return "cell_lod_changed"
	case KindLayerLoaded:
		return "layer_loaded"
	case KindLayerFailed:
		return "layer_failed"
	}
	return "unknown"
}

// Event is one streaming notification. Layer and Err are only meaningful for
// the layer kinds; LOD is unset for unloads.
type Event struct {
	Kind  Kind
	Coord grid.Coord
	LOD   grid.LOD
	Layer loader.Layer
	Err   string
}

// Bus is a double-buffered event bus: events emitted in tick N are delivered
// in tick N+1, so subscribers never observe half-applied tick state.
// Single-goroutine access only (the tick loop); no locks.
type Bus struct {
	front    []Event
	back     []Event
	handlers [kindCount][]func(Event)
}

func NewBus() *Bus {
	return &Bus{
		front: make([]Event, 0, 64),
		back:  make([]Event, 0, 64),
	}
}

// Emit queues an event into the back buffer, readable next tick.
func (b *Bus) Emit(ev Event) {
	b.back = append(b.back, ev)
}

// Subscribe registers a handler for one event kind.
func (b *Bus) Subscribe(k Kind, fn func(Event)) {
	b.handlers[k] = append(b.handlers[k], fn)
}

// Swap rotates back→front and clears the new back buffer. Called once at
// tick start, before Dispatch.
func (b *Bus) Swap() {
	b.front, b.back = b.back, b.front[:0]
}

// Dispatch delivers all front-buffer events to their subscribers.
func (b *Bus) Dispatch() {
	for _, ev := range b.front {
		for _, fn := range b.handlers[ev.Kind] {
			fn(ev)
		}
	}
}
