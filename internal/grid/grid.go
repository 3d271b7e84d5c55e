package grid

import (
	"errors"
	"fmt"
	"math"
)

// DefaultCellSize is the edge length of a cell in world units.
const DefaultCellSize = 64

// Coord identifies a fixed-size square cell of world space.
type Coord struct {
	X int
	Z int
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Z)
}

// LOD is a discrete fidelity tier for a cell's content, ordered Near > Mid > Far.
type LOD uint8

const (
	LODNear LOD = iota
	LODMid
	LODFar
)

func (l LOD) String() string {
	switch l {
	case LODNear:
		return "near"
	case LODMid:
		return "mid"
	case LODFar:
		return "far"
	}
	return fmt.Sprintf("lod(%d)", uint8(l))
}

// ParseLOD parses "near", "mid" or "far".
func ParseLOD(s string) (LOD, error) {
	switch s {
	case "near":
		return LODNear, nil
	case "mid":
		return LODMid, nil
	case "far":
		return LODFar, nil
	}
	return 0, fmt.Errorf("unknown lod %q", s)
}

// ToCell converts one world-space axis value to a cell index.
// Floor semantics: world -1 belongs to cell -1, not cell 0.
func ToCell(v float64, cellSize int) int {
	return int(math.Floor(v / float64(cellSize)))
}

// CellOf returns the cell containing a world-space position.
func CellOf(x, z float64, cellSize int) Coord {
	return Coord{X: ToCell(x, cellSize), Z: ToCell(z, cellSize)}
}

// Chebyshev returns max(|dx|,|dz|) between two cells. Ring bands are square,
// so the ring metric is Chebyshev rather than Euclidean.
func Chebyshev(a, b Coord) int {
	dx := a.X - b.X
	if dx < 0 {
		dx = -dx
	}
	dz := a.Z - b.Z
	if dz < 0 {
		dz = -dz
	}
	if dz > dx {
		return dz
	}
	return dx
}

// ErrInvalidRings is returned when ring radii are non-positive or inverted.
var ErrInvalidRings = errors.New("invalid ring radii")

// Rings defines the concentric Chebyshev-distance bands that map distance
// from the viewpoint cell to a target LOD.
type Rings struct {
	Near int
	Mid  int
	Far  int
}

// Validate rejects non-positive or inverted radii. Called at configure time
// so a bad configuration fails fast instead of deadlocking the streamer.
func (r Rings) Validate() error {
	if r.Near < 1 {
		return fmt.Errorf("%w: near radius %d < 1", ErrInvalidRings, r.Near)
	}
	if r.Mid < r.Near {
		return fmt.Errorf("%w: mid radius %d < near radius %d", ErrInvalidRings, r.Mid, r.Near)
	}
	if r.Far < r.Mid {
		return fmt.Errorf("%w: far radius %d < mid radius %d", ErrInvalidRings, r.Far, r.Mid)
	}
	return nil
}

// LODFor maps a Chebyshev distance from the viewpoint cell to its target LOD.
func (r Rings) LODFor(dist int) LOD {
	switch {
	case dist <= r.Near:
		return LODNear
	case dist <= r.Mid:
		return LODMid
	default:
		return LODFar
	}
}

// Contains reports whether a cell at the given distance is required at all.
func (r Rings) Contains(dist int) bool {
	return dist <= r.Far
}
