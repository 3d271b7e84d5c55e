package streaming

import (
	"time"

	"github.com/terrastream/engine/internal/grid"
)

// State is the lifecycle state of a cell record.
type State uint8

const (
	StateLoading State = iota
	StateLoaded
	StateUnloading
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateUnloading:
		return "unloading"
	}
	return "unknown"
}

// ContentFlags records which content classes a loaded cell carries.
type ContentFlags uint8

const (
	FlagTerrain ContentFlags = 1 << iota
	FlagSplat
	FlagProps
	FlagFoliage
)

// FlagsForLOD returns the content flags a cell must carry at the given LOD.
// Foliage only exists at Near, props at Near and Mid, terrain and splat always.
func FlagsForLOD(lod grid.LOD) ContentFlags {
	f := FlagTerrain | FlagSplat
	if lod <= grid.LODMid {
		f |= FlagProps
	}
	if lod == grid.LODNear {
		f |= FlagFoliage
	}
	return f
}

// Record is the authoritative bookkeeping entry for one cell.
// Owned by the Manager; never shared across goroutines.
type Record struct {
	Coord grid.Coord
	State State
	LOD   grid.LOD
	Flags ContentFlags

	// lastRequired is the last time a recompute found this cell inside the
	// far ring. Cells idle longer than the unload delay are evicted.
	lastRequired time.Time

	// dispatched is true once the load callback has been fired. A record that
	// is Loading but not dispatched still sits in the pending queue.
	dispatched bool
}
