package terrain

import "math"

// Noise is deterministic seeded value noise. Every sample is a pure function
// of (seed, x, z), so cell generation is reproducible across runs and safe to
// call from any number of load workers.
type Noise struct {
	seed int64
}

func NewNoise(seed int64) *Noise {
	return &Noise{seed: seed}
}

// lattice hashes an integer lattice point to [0,1).
func (n *Noise) lattice(ix, iz int64) float64 {
	h := uint64(ix)*0x9e3779b97f4a7c15 ^ uint64(iz)*0xc2b2ae3d27d4eb4f ^ uint64(n.seed)
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return float64(h>>11) / float64(1<<53)
}

func smoothstep(t float64) float64 {
	return t * t * (3 - 2*t)
}

// Value samples bilinear smoothstep-interpolated lattice noise in [0,1).
func (n *Noise) Value(x, z float64) float64 {
	fx := math.Floor(x)
	fz := math.Floor(z)
	ix := int64(fx)
	iz := int64(fz)
	tx := smoothstep(x - fx)
	tz := smoothstep(z - fz)

	v00 := n.lattice(ix, iz)
	v10 := n.lattice(ix+1, iz)
	v01 := n.lattice(ix, iz+1)
	v11 := n.lattice(ix+1, iz+1)

	a := v00 + (v10-v00)*tx
	b := v01 + (v11-v01)*tx
	return a + (b-a)*tz
}

// FBM layers octaves of Value noise, returning roughly [0,1).
func (n *Noise) FBM(x, z float64, octaves int, lacunarity, gain float64) float64 {
	sum := 0.0
	amp := 1.0
	norm := 0.0
	freq := 1.0
	for i := 0; i < octaves; i++ {
		sum += amp * n.Value(x*freq, z*freq)
		norm += amp
		amp *= gain
		freq *= lacunarity
	}
	return sum / norm
}
