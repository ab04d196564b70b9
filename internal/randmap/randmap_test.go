package randmap

import (
	"testing"

	"github.com/6ak5/fio/internal/randsrc"
)

func newRNG(seed uint64) randsrc.Source {
	s := randsrc.NewStreams(randsrc.SeedVector{seed}, false)
	return s.Stream(randsrc.UseOffset)
}

// TestExhaustionAfterAllBlocksMarked is S6: size=16KiB, bs=4KiB -> 4 blocks.
func TestExhaustionAfterAllBlocksMarked(t *testing.T) {
	m := New(4, false)
	rng := newRNG(7)

	seen := map[int]bool{}
	for i := 0; i < 4; i++ {
		idx, err := m.PickUnused(rng)
		if err != nil {
			t.Fatalf("unexpected error on pick %d: %v", i, err)
		}
		if seen[idx] {
			t.Fatalf("block %d picked twice before exhaustion", idx)
		}
		seen[idx] = true
		m.Mark(idx)
	}

	if _, err := m.PickUnused(rng); err != ErrExhausted {
		t.Fatalf("expected ErrExhausted after marking all blocks, got %v", err)
	}
}

func TestSoftFlagPreserved(t *testing.T) {
	m := New(4, true)
	if !m.Soft() {
		t.Fatal("expected Soft() true")
	}
}

func TestMarkIdempotent(t *testing.T) {
	m := New(8, false)
	m.Mark(3)
	m.Mark(3)
	if m.UnsetCount() != 7 {
		t.Fatalf("expected 7 unset blocks, got %d", m.UnsetCount())
	}
}

func TestZeroBlocksExhaustedImmediately(t *testing.T) {
	m := New(0, false)
	rng := newRNG(1)
	if _, err := m.PickUnused(rng); err != ErrExhausted {
		t.Fatalf("expected ErrExhausted for zero-block map, got %v", err)
	}
}
