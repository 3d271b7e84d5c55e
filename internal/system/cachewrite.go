package system

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/terrastream/engine/internal/core/event"
	coresys "github.com/terrastream/engine/internal/core/system"
	"github.com/terrastream/engine/internal/grid"
	"github.com/terrastream/engine/internal/terrain"
)

// CacheWriteSystem persists freshly loaded cells to the database cache,
// write-behind: CellLoaded events queue coordinates, and saves run on short-
// lived goroutines so a slow database never blocks the tick.
type CacheWriteSystem struct {
	cache    terrain.CellCache
	provider *terrain.Provider
	log      *zap.Logger

	queue []grid.Coord
	slots chan struct{} // bounds concurrent saves
}

func NewCacheWriteSystem(cache terrain.CellCache, provider *terrain.Provider, bus *event.Bus, log *zap.Logger) *CacheWriteSystem {
	s := &CacheWriteSystem{
		cache:    cache,
		provider: provider,
		log:      log,
		slots:    make(chan struct{}, 4),
	}
	bus.Subscribe(event.KindCellLoaded, func(ev event.Event) {
		s.queue = append(s.queue, ev.Coord)
	})
	return s
}

func (s *CacheWriteSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *CacheWriteSystem) Update(_ time.Duration) {
	for len(s.queue) > 0 {
		select {
		case s.slots <- struct{}{}:
		default:
			return // all save slots busy, try again next tick
		}
		coord := s.queue[0]
		s.queue = s.queue[1:]

		payload := s.provider.Snapshot(coord.X, coord.Z)
		if payload == nil {
			<-s.slots // already unloaded again
			continue
		}
		go func() {
			defer func() { <-s.slots }()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.cache.Save(ctx, payload); err != nil {
				s.log.Warn("cell cache save failed",
					zap.Int("x", payload.Coord.X), zap.Int("z", payload.Coord.Z),
					zap.Error(err))
			}
		}()
	}
}
