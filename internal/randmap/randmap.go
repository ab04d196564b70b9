// Package randmap implements the per-file random map of spec.md §4.B: a
// packed bitmap with one bit per rw_min_bs-sized block, used to enforce
// "no-repeat" random workloads.
package randmap

import (
	"math/bits"

	"github.com/6ak5/fio/internal/randsrc"
)

// rejectionRounds bounds how many random draws pick_unused attempts before
// falling back to a linear scan, per spec.md §4.B.
const rejectionRounds = 32

// exhaustionDensity is the fraction of unset bits below which pick_unused
// gives up and reports Exhausted rather than scanning forever.
const exhaustionDensity = 0.001

// Map is a packed bitmap tracking blocks already touched in a file.
type Map struct {
	bits     []uint64
	nblocks  int
	nset     int
	softExh  bool
}

// New creates a Map with nblocks bits, all initially unset. soft marks
// whether exhaustion is reported non-fatally (softrandommap).
func New(nblocks int, soft bool) *Map {
	if nblocks < 0 {
		nblocks = 0
	}
	return &Map{
		bits:    make([]uint64, (nblocks+63)/64),
		nblocks: nblocks,
		softExh: soft,
	}
}

// Len returns the number of blocks tracked.
func (m *Map) Len() int { return m.nblocks }

// Soft reports whether this map treats exhaustion as non-fatal.
func (m *Map) Soft() bool { return m.softExh }

func (m *Map) isSet(i int) bool {
	return m.bits[i/64]&(1<<uint(i%64)) != 0
}

// Mark sets the bit for block_index, per spec.md §4.B.
func (m *Map) Mark(blockIndex int) {
	if blockIndex < 0 || blockIndex >= m.nblocks {
		return
	}
	word := &m.bits[blockIndex/64]
	mask := uint64(1) << uint(blockIndex%64)
	if *word&mask == 0 {
		*word |= mask
		m.nset++
	}
}

// ErrExhausted is returned by PickUnused when no unused block remains (or
// the density of unset bits is below exhaustionDensity).
var ErrExhausted = exhaustedErr{}

type exhaustedErr struct{}

func (exhaustedErr) Error() string { return "random map exhausted" }

// PickUnused draws a random unused block index using bounded rejection
// sampling, falling back to a linear scan after rejectionRounds failed
// draws, per spec.md §4.B. Returns ErrExhausted when the map has no unused
// block left, or the unset-bit density is too low to make rejection
// sampling productive.
func (m *Map) PickUnused(rng randsrc.Source) (int, error) {
	if m.nblocks == 0 || m.nset >= m.nblocks {
		return 0, ErrExhausted
	}

	unsetFrac := float64(m.nblocks-m.nset) / float64(m.nblocks)
	if unsetFrac < exhaustionDensity {
		return 0, ErrExhausted
	}

	for i := 0; i < rejectionRounds; i++ {
		idx := rng.Intn(m.nblocks)
		if !m.isSet(idx) {
			return idx, nil
		}
	}

	// Fall back to a linear scan from a random starting point.
	start := rng.Intn(m.nblocks)
	for i := 0; i < m.nblocks; i++ {
		idx := (start + i) % m.nblocks
		if !m.isSet(idx) {
			return idx, nil
		}
	}

	return 0, ErrExhausted
}

// UnsetCount returns the number of blocks not yet marked, via popcount over
// the complement — used by tests and diagnostics.
func (m *Map) UnsetCount() int {
	count := 0
	for i, w := range m.bits {
		bitsInWord := 64
		if i == len(m.bits)-1 && m.nblocks%64 != 0 {
			bitsInWord = m.nblocks % 64
		}
		count += bitsInWord - bits.OnesCount64(w&((1<<uint(bitsInWord))-1))
	}
	return count
}
