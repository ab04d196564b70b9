package blocksize

import (
	"testing"

	"github.com/6ak5/fio/internal/randsrc"
)

func newRNG(seed uint64) randsrc.Source {
	s := randsrc.NewStreams(randsrc.SeedVector{seed}, false)
	return s.Stream(randsrc.UseBlockSize)
}

// TestConstantSizeSkipsPRNG verifies that when min==max and there is no
// weighted split, the PRNG is never consulted: after the draws the source
// must still be at the same point in its sequence as an untouched source
// built from the same seed.
func TestConstantSizeSkipsPRNG(t *testing.T) {
	s := New(Config{Min: 4096, Max: 4096})
	rng := newRNG(1)
	for i := 0; i < 10; i++ {
		got := s.Next(rng, 0)
		if got != 4096 {
			t.Fatalf("iteration %d: got %d, want 4096", i, got)
		}
	}
	if got, want := rng.Uint64(), newRNG(1).Uint64(); got != want {
		t.Fatalf("PRNG was consulted: next draw %d, want %d from an untouched stream", got, want)
	}
}

func TestUniformRangeStaysInBounds(t *testing.T) {
	s := New(Config{Min: 512, Max: 4096})
	rng := newRNG(2)
	for i := 0; i < 200; i++ {
		got := s.Next(rng, 0)
		if got < 512 || got > 4096 {
			t.Fatalf("iteration %d: %d out of [512,4096]", i, got)
		}
	}
}

func TestAlignmentApplied(t *testing.T) {
	s := New(Config{Min: 513, Max: 4095, Align: 512})
	rng := newRNG(3)
	for i := 0; i < 200; i++ {
		got := s.Next(rng, 0)
		if got%512 != 0 {
			t.Fatalf("iteration %d: %d not aligned to 512", i, got)
		}
	}
}

func TestUnalignedBypassesAlignment(t *testing.T) {
	s := New(Config{Min: 513, Max: 513, Align: 512, Unaligned: true})
	rng := newRNG(4)
	got := s.Next(rng, 0)
	if got != 513 {
		t.Fatalf("got %d, want 513 unaligned", got)
	}
}

func TestClampToRemaining(t *testing.T) {
	s := New(Config{Min: 4096, Max: 4096, Align: 512})
	rng := newRNG(5)
	got := s.Next(rng, 1500)
	if got > 1500 {
		t.Fatalf("got %d, exceeds remaining 1500", got)
	}
	if got%512 != 0 {
		t.Fatalf("clamped size %d not aligned", got)
	}
}

func TestWeightedDistributionOnlyReturnsConfiguredSizes(t *testing.T) {
	s := New(Config{Weighted: []WeightedSize{
		{Size: 4096, Percent: 70},
		{Size: 65536, Percent: 30},
	}})
	rng := newRNG(6)
	seen := map[int64]int{}
	for i := 0; i < 1000; i++ {
		got := s.Next(rng, 0)
		if got != 4096 && got != 65536 {
			t.Fatalf("iteration %d: unexpected size %d", i, got)
		}
		seen[got]++
	}
	if seen[4096] == 0 || seen[65536] == 0 {
		t.Fatalf("expected both weighted sizes to appear, got %v", seen)
	}
}
