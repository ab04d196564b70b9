// Package randsrc provides the per-worker PRNG streams described in
// spec.md §4.A: eight independent, restartable sources, each dedicated to
// one logical use so that drawing from one never perturbs another.
package randsrc

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand/v2"
)

// Use identifies one of the eight dedicated PRNG streams a worker owns.
type Use int

const (
	UseOffset Use = iota
	UseBlockSize
	UseVerify
	UseTrim
	UseRWMix
	UseFileSize
	UseFileService
	UseScramble

	numUses
)

// Source is a restartable pseudo-random stream. Restart reproduces the
// exact sequence Source would have produced from its initial seed, which
// is what the `loops` option requires.
type Source interface {
	Uint64() uint64
	Uint32() uint32
	// Float64 returns a value in [0, 1).
	Float64() float64
	// Intn returns a value in [0, n).
	Intn(n int) int
	Restart()
}

// fastRand is the deterministic, seed-reproducible flavor: selected when
// rand_repeatable is set, or whenever use_os_rand is false.
type fastRand struct {
	seed uint64
	r    *mrand.Rand
}

func newFastRand(seed uint64) *fastRand {
	return &fastRand{seed: seed, r: mrand.New(mrand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (f *fastRand) Uint64() uint64    { return f.r.Uint64() }
func (f *fastRand) Uint32() uint32    { return uint32(f.r.Uint64() >> 32) }
func (f *fastRand) Float64() float64  { return f.r.Float64() }
func (f *fastRand) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return f.r.IntN(n)
}
func (f *fastRand) Restart() {
	f.r = mrand.New(mrand.NewPCG(f.seed, f.seed^0x9e3779b97f4a7c15))
}

// osRand draws from the OS entropy pool on every call — not restartable in
// the bit-reproducible sense (each Restart reseeds from the OS again), used
// when use_os_rand is set and rand_repeatable is not required.
type osRand struct{}

func (osRand) Uint64() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.LittleEndian.Uint64(b[:])
}
func (o osRand) Uint32() uint32   { return uint32(o.Uint64() >> 32) }
func (o osRand) Float64() float64 { return float64(o.Uint64()>>11) / (1 << 53) }
func (o osRand) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(o.Uint64() % uint64(n))
}
func (osRand) Restart() {}

// Streams holds all eight dedicated sources for one worker.
type Streams struct {
	streams [numUses]Source
}

// SeedVector is the per-worker seed vector from Options (rand_seeds[8]).
type SeedVector [8]uint64

// NewStreams builds the eight dedicated streams. When useOSRand is true the
// streams draw from the OS entropy pool (ignoring seeds, non-reproducible);
// otherwise each stream is an independently-seeded fastRand so drawing from
// UseOffset never perturbs UseVerify, etc.
func NewStreams(seeds SeedVector, useOSRand bool) *Streams {
	s := &Streams{}
	for i := range s.streams {
		if useOSRand {
			s.streams[i] = osRand{}
		} else {
			s.streams[i] = newFastRand(seeds[i])
		}
	}
	return s
}

// Stream returns the dedicated source for the given logical use.
func (s *Streams) Stream(u Use) Source {
	return s.streams[u]
}

// RestartAll restarts every stream, so each fastRand stream replays its
// sequence from the start. internal/worker does not call it between
// `loops` iterations.
func (s *Streams) RestartAll() {
	for _, st := range s.streams {
		st.Restart()
	}
}
