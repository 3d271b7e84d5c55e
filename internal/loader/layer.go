package loader

import "fmt"

// Layer is an independently loaded, independently prioritized sub-resource of
// a cell. Declaration order is priority order: terrain before collision
// before decoration.
type Layer uint8

const (
	LayerTerrain Layer = iota
	LayerCollision
	LayerProps
	LayerFoliage
	LayerEffects
	LayerAudio

	layerCount
)

// Layers lists all layer kinds in rank order.
func Layers() []Layer {
	out := make([]Layer, 0, layerCount)
	for l := Layer(0); l < layerCount; l++ {
		out = append(out, l)
	}
	return out
}

func (l Layer) String() string {
	switch l {
	case LayerTerrain:
		return "terrain"
	case LayerCollision:
		return "collision"
	case LayerProps:
		return "props"
	case LayerFoliage:
		return "foliage"
	case LayerEffects:
		return "effects"
	case LayerAudio:
		return "audio"
	}
	return fmt.Sprintf("layer(%d)", uint8(l))
}

// ParseLayer parses a layer name as it appears in manifests.
func ParseLayer(s string) (Layer, error) {
	for l := Layer(0); l < layerCount; l++ {
		if l.String() == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown layer %q", s)
}

// rank is the primary priority key: lower loads first.
func (l Layer) rank() int { return int(l) }
