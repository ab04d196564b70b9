// Package blocksize implements the block-size splitter of spec.md §4.C:
// choosing a block size per I/O from either a uniform range or a weighted
// discrete distribution, then aligning and clamping it.
package blocksize

import (
	"github.com/6ak5/fio/internal/randsrc"
)

// WeightedSize is one {bs, percent} entry of a bssplit distribution.
type WeightedSize struct {
	Size    int64
	Percent int // 0-100, all entries in a Splitter must sum to 100
}

// Splitter chooses a block size for one direction.
type Splitter struct {
	min, max int64
	weighted []WeightedSize
	align    int64
	unaligned bool
}

// Config configures a Splitter for one direction.
type Config struct {
	Min, Max  int64          // uniform range; used when Weighted is empty
	Weighted  []WeightedSize // discrete distribution; takes precedence over Min/Max
	Align     int64          // ba[dir]; 0 or 1 disables alignment
	Unaligned bool           // bs_unaligned
}

// New constructs a Splitter from Config.
func New(cfg Config) *Splitter {
	align := cfg.Align
	if align <= 0 {
		align = 1
	}
	return &Splitter{
		min:       cfg.Min,
		max:       cfg.Max,
		weighted:  cfg.Weighted,
		align:     align,
		unaligned: cfg.Unaligned,
	}
}

// Next draws a block size, aligns it (unless bs_unaligned), and clamps it to
// remaining, the file's remaining length from the chosen offset. Per
// spec.md §4.C: when min==max and there is no split, the constant is
// returned without consulting the PRNG.
func (s *Splitter) Next(rng randsrc.Source, remaining int64) int64 {
	var size int64

	switch {
	case len(s.weighted) > 0:
		size = s.drawWeighted(rng)
	case s.min == s.max:
		size = s.min
	default:
		span := s.max - s.min
		size = s.min + int64(rng.Intn(int(span)+1))
	}

	if !s.unaligned && s.align > 1 {
		size = alignDown(size, s.align)
		if size == 0 {
			size = s.align
		}
	}

	if remaining > 0 && size > remaining {
		size = alignDown(remaining, s.align)
		if size == 0 {
			size = remaining
		}
	}

	return size
}

func (s *Splitter) drawWeighted(rng randsrc.Source) int64 {
	roll := rng.Intn(100)
	cum := 0
	for _, w := range s.weighted {
		cum += w.Percent
		if roll < cum {
			return w.Size
		}
	}
	// Rounding slack in the configured percentages; fall back to the last
	// entry rather than panicking.
	return s.weighted[len(s.weighted)-1].Size
}

func alignDown(v, align int64) int64 {
	if align <= 1 {
		return v
	}
	return (v / align) * align
}
