package persist

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/terrastream/engine/internal/grid"
	"github.com/terrastream/engine/internal/loader"
	"github.com/terrastream/engine/internal/terrain"
)

// payloadVersion is bumped on any layout change; rows with an unknown
// version are treated as cache misses.
const payloadVersion uint8 = 1

// EncodePayload serializes a cell payload to its uncompressed wire form and
// returns it with the blake2b-256 digest used to validate read-back.
func EncodePayload(p *terrain.CellPayload) ([]byte, [32]byte, error) {
	var buf bytes.Buffer
	w := func(v any) {
		// bytes.Buffer writes never fail; binary.Write only errors on
		// unsupported types, which would be a programming bug here.
		_ = binary.Write(&buf, binary.LittleEndian, v)
	}

	w(payloadVersion)
	w(int32(p.Coord.X))
	w(int32(p.Coord.Z))
	w(uint8(p.LOD))
	w(uint16(p.Resolution))
	w(p.Heights)
	w(p.Splat)

	hasCollision := uint8(0)
	if len(p.Collision) > 0 {
		hasCollision = 1
	}
	w(hasCollision)
	if hasCollision == 1 {
		w(p.Collision)
	}

	w(uint8(len(p.Decor)))
	for _, l := range loader.Layers() {
		placements, ok := p.Decor[l]
		if !ok {
			continue
		}
		w(uint8(l))
		w(uint32(len(placements)))
		for _, pl := range placements {
			w(pl.X)
			w(pl.Z)
			w(pl.Kind)
		}
	}

	raw := buf.Bytes()
	return raw, blake2b.Sum256(raw), nil
}

// DecodePayload parses the uncompressed wire form back into a payload.
func DecodePayload(raw []byte) (*terrain.CellPayload, error) {
	r := bytes.NewReader(raw)
	rd := func(v any) error {
		return binary.Read(r, binary.LittleEndian, v)
	}

	var version uint8
	if err := rd(&version); err != nil {
		return nil, fmt.Errorf("payload header: %w", err)
	}
	if version != payloadVersion {
		return nil, fmt.Errorf("payload version %d, want %d", version, payloadVersion)
	}

	var (
		x, z int32
		lod  uint8
		res  uint16
	)
	if err := rd(&x); err != nil {
		return nil, err
	}
	if err := rd(&z); err != nil {
		return nil, err
	}
	if err := rd(&lod); err != nil {
		return nil, err
	}
	if err := rd(&res); err != nil {
		return nil, err
	}
	if res < 2 || res > 1024 {
		return nil, fmt.Errorf("payload resolution %d out of range", res)
	}

	p := &terrain.CellPayload{
		Coord:      grid.Coord{X: int(x), Z: int(z)},
		LOD:        grid.LOD(lod),
		Resolution: int(res),
		Heights:    make([]float32, int(res)*int(res)),
		Splat:      make([]uint8, int(res)*int(res)),
		Decor:      make(map[loader.Layer][]terrain.Placement),
	}
	if err := rd(p.Heights); err != nil {
		return nil, fmt.Errorf("payload heights: %w", err)
	}
	if err := rd(p.Splat); err != nil {
		return nil, fmt.Errorf("payload splat: %w", err)
	}

	var hasCollision uint8
	if err := rd(&hasCollision); err != nil {
		return nil, err
	}
	if hasCollision == 1 {
		p.Collision = make([]uint8, int(res)*int(res))
		if err := rd(p.Collision); err != nil {
			return nil, fmt.Errorf("payload collision: %w", err)
		}
	}

	var layerCount uint8
	if err := rd(&layerCount); err != nil {
		return nil, err
	}
	for i := uint8(0); i < layerCount; i++ {
		var (
			l     uint8
			count uint32
		)
		if err := rd(&l); err != nil {
			return nil, err
		}
		if err := rd(&count); err != nil {
			return nil, err
		}
		if count > 1<<20 {
			return nil, fmt.Errorf("payload layer %d: %d placements out of range", l, count)
		}
		placements := make([]terrain.Placement, count)
		for j := range placements {
			if err := rd(&placements[j].X); err != nil {
				return nil, err
			}
			if err := rd(&placements[j].Z); err != nil {
				return nil, err
			}
			if err := rd(&placements[j].Kind); err != nil {
				return nil, err
			}
		}
		p.Decor[loader.Layer(l)] = placements
	}
	return p, nil
}
