// Package offset implements the per-file offset generator of spec.md §4.D:
// sequential, zoned, and random (with or without a no-repeat random map)
// offset production, with RW_SEQ_IDENT cursor sharing across directions.
package offset

import (
	"errors"

	"github.com/6ak5/fio/internal/randmap"
	"github.com/6ak5/fio/internal/randsrc"
)

// ErrExhausted is returned when a random-map-backed draw has no unused
// block left (see internal/randmap).
var ErrExhausted = randmap.ErrExhausted

// Config configures one Generator. Two Generators sharing a cursor (via
// Shared) implement RW_SEQ_IDENT; Generators with independent cursors
// implement RW_SEQ_SEQ.
type Config struct {
	FileSize int64
	Align    int64 // rw_min_bs: the granularity offsets are drawn and advanced on
	Random   bool

	ZoneSize int64 // 0 disables zoning
	ZoneSkip int64

	SeqNr int64 // ddir_seq_nr: stride length in blocks, 0 disables striding
	SeqAdd int64 // ddir_seq_add: bytes to jump forward every SeqNr blocks

	RandMap *randmap.Map // nil disables no-repeat tracking for random draws
}

type cursor struct {
	pos          int64
	zoneBase     int64
	blocksInZone int64
}

// Generator produces the next offset for one (file, direction) stream.
type Generator struct {
	cfg Config
	cur *cursor
}

// New creates a Generator with its own independent cursor.
func New(cfg Config) *Generator {
	return &Generator{cfg: cfg, cur: &cursor{}}
}

// Shared creates a Generator for another direction against the same file,
// advancing the same cursor as g — spec.md §4.D's RW_SEQ_IDENT.
func (g *Generator) Shared(cfg Config) *Generator {
	return &Generator{cfg: cfg, cur: g.cur}
}

func alignDown(v, a int64) int64 {
	if a <= 1 {
		return v
	}
	return (v / a) * a
}

// Next draws the offset for an I/O of the given length.
func (g *Generator) Next(rng randsrc.Source, length int64) (int64, error) {
	if g.cfg.Random {
		return g.nextRandom(rng, length)
	}
	return g.nextSequential(length), nil
}

func (g *Generator) nextRandom(rng randsrc.Source, length int64) (int64, error) {
	span := g.cfg.FileSize
	if g.cfg.ZoneSize > 0 {
		span = g.cfg.ZoneSize
	}
	if g.cfg.Align <= 0 {
		return 0, errors.New("offset: Align must be positive for random draws")
	}
	blockCount := int(span / g.cfg.Align)
	if blockCount <= 0 {
		return 0, errors.New("offset: zero-length span for random draw")
	}

	var blockIdx int
	if g.cfg.RandMap != nil {
		idx, err := g.cfg.RandMap.PickUnused(rng)
		if err != nil {
			return 0, err
		}
		g.cfg.RandMap.Mark(idx)
		blockIdx = idx
	} else {
		blockIdx = rng.Intn(blockCount)
	}

	off := int64(blockIdx) * g.cfg.Align
	if g.cfg.ZoneSize > 0 {
		off += g.cur.zoneBase
	}
	if off+length > g.cfg.FileSize {
		off = alignDown(g.cfg.FileSize-length, g.cfg.Align)
		if off < 0 {
			off = 0
		}
	}
	return off, nil
}

// Remaining reports the file's remaining length from the generator's
// current position, for spec.md §4.C's "clamp to the file's remaining
// length" rule. Random draws self-clamp against the whole span in
// nextRandom, so Remaining reports FileSize unchanged for them.
func (g *Generator) Remaining() int64 {
	if g.cfg.Random {
		return g.cfg.FileSize
	}
	zoneLimit := g.cfg.FileSize
	if g.cfg.ZoneSize > 0 {
		zoneLimit = g.cur.zoneBase + g.cfg.ZoneSize
	}
	rem := zoneLimit - g.cur.pos
	if rem < 0 {
		rem = 0
	}
	return rem
}

func (g *Generator) nextSequential(length int64) int64 {
	c := g.cur

	zoneLimit := g.cfg.FileSize
	if g.cfg.ZoneSize > 0 {
		zoneLimit = c.zoneBase + g.cfg.ZoneSize
	}

	off := c.pos
	if off+length > zoneLimit {
		if g.cfg.ZoneSize > 0 {
			c.zoneBase += g.cfg.ZoneSize + g.cfg.ZoneSkip
			c.blocksInZone = 0
			off = c.zoneBase
			if off+length > g.cfg.FileSize {
				c.zoneBase = 0
				off = 0
			}
		} else {
			off = 0
		}
	}

	next := off + length
	c.blocksInZone++
	if g.cfg.SeqNr > 0 && c.blocksInZone%g.cfg.SeqNr == 0 {
		next += g.cfg.SeqAdd
	}
	c.pos = next

	return off
}
