package persist

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/terrastream/engine/internal/grid"
	"github.com/terrastream/engine/internal/terrain"
)

// CellRepo stores zstd-compressed cell payloads keyed by (seed, x, z, lod).
// It implements terrain.CellCache. A digest mismatch on read is treated as a
// miss so a corrupt row degrades to regeneration, never to bad terrain.
type CellRepo struct {
	db   *DB
	seed int64
	enc  *zstd.Encoder
	dec  *zstd.Decoder
	log  *zap.Logger
}

func NewCellRepo(db *DB, seed int64, log *zap.Logger) (*CellRepo, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CellRepo{db: db, seed: seed, enc: enc, dec: dec, log: log}, nil
}

// Save upserts one payload.
func (r *CellRepo) Save(ctx context.Context, p *terrain.CellPayload) error {
	raw, digest, err := EncodePayload(p)
	if err != nil {
		return fmt.Errorf("encode cell %s: %w", p.Coord, err)
	}
	compressed := r.enc.EncodeAll(raw, nil)

	_, err = r.db.Pool.Exec(ctx,
		`INSERT INTO cell_cache (seed, x, z, lod, digest, payload)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (seed, x, z, lod)
		 DO UPDATE SET digest = EXCLUDED.digest, payload = EXCLUDED.payload, created_at = now()`,
		r.seed, p.Coord.X, p.Coord.Z, int16(p.LOD), digest[:], compressed,
	)
	if err != nil {
		return fmt.Errorf("save cell %s: %w", p.Coord, err)
	}
	return nil
}

// Load fetches one payload. Returns (nil, nil) on a miss.
func (r *CellRepo) Load(ctx context.Context, coord grid.Coord, lod grid.LOD) (*terrain.CellPayload, error) {
	var (
		digest     []byte
		compressed []byte
	)
	err := r.db.Pool.QueryRow(ctx,
		`SELECT digest, payload FROM cell_cache WHERE seed = $1 AND x = $2 AND z = $3 AND lod = $4`,
		r.seed, coord.X, coord.Z, int16(lod),
	).Scan(&digest, &compressed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cell %s: %w", coord, err)
	}

	raw, err := r.dec.DecodeAll(compressed, nil)
	if err != nil {
		r.log.Warn("cell cache row corrupt, treating as miss",
			zap.Int("x", coord.X), zap.Int("z", coord.Z), zap.Error(err))
		return nil, nil
	}
	if sum := blake2b.Sum256(raw); !bytes.Equal(sum[:], digest) {
		r.log.Warn("cell cache digest mismatch, treating as miss",
			zap.Int("x", coord.X), zap.Int("z", coord.Z))
		return nil, nil
	}
	p, err := DecodePayload(raw)
	if err != nil {
		r.log.Warn("cell cache payload unreadable, treating as miss",
			zap.Int("x", coord.X), zap.Int("z", coord.Z), zap.Error(err))
		return nil, nil
	}
	return p, nil
}

// Purge drops all cached rows for this seed (e.g. after the shaping script
// changed).
func (r *CellRepo) Purge(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM cell_cache WHERE seed = $1`, r.seed)
	return err
}
