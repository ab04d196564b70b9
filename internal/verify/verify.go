// Package verify implements the verification engine of spec.md §4.I:
// pattern generation keyed off a block-local PRNG seed, history tracking
// (tree-ordered with overlap-aware supersession, or insertion-ordered),
// and inline or async-offloaded verification with a fatal/recoverable
// mismatch policy.
package verify

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"sort"
	"sync"
)

// Mode selects how thoroughly a read is checked against its write.
type Mode int

const (
	Off Mode = iota
	HeaderCRC
	HeaderFull
	Meta
)

// HeaderSize is the number of leading bytes in every verified block
// reserved for the sequence number + CRC header.
const HeaderSize = 16

// ErrMismatch is returned by VerifyRead when the observed content does not
// match what PrepareWrite recorded for that offset.
var ErrMismatch = errors.New("verify: content mismatch")

// HistoryEntry records one completed, verifiable write.
type HistoryEntry struct {
	Offset    int64
	Length    int64
	Dir       int
	BlockSeed uint64
	Seq       uint64
}

func (h *HistoryEntry) end() int64 { return h.Offset + h.Length }

// Pattern deterministically fills and checks block content from a
// per-worker base key plus the block's offset — spec.md §4.I's
// "block seed = f(offset, verify PRNG)".
type Pattern struct {
	BaseKey uint64
}

func blockSeed(baseKey uint64, offset int64) uint64 {
	return baseKey ^ (uint64(offset) * 0x9E3779B97F4A7C15)
}

// splitmix64 is a small, fast, deterministic fill generator — used only to
// stamp reproducible payload bytes, not for cryptographic purposes.
func splitmix64(state *uint64) uint64 {
	*state += 0x9E3779B97F4A7C15
	z := *state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

// Fill writes the deterministic pattern for offset into buf.
func (p Pattern) Fill(buf []byte, offset int64) {
	state := blockSeed(p.BaseKey, offset)
	for i := 0; i < len(buf); i += 8 {
		v := splitmix64(&state)
		n := len(buf) - i
		if n > 8 {
			n = 8
		}
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], v)
		copy(buf[i:i+n], tmp[:n])
	}
}

// Matches reports whether buf holds the deterministic pattern for offset.
func (p Pattern) Matches(buf []byte, offset int64) bool {
	want := make([]byte, len(buf))
	p.Fill(want, offset)
	for i := range buf {
		if buf[i] != want[i] {
			return false
		}
	}
	return true
}

// Engine ties a Mode, a Pattern, and a history store into the write/verify
// round trip a worker drives.
type Engine struct {
	Mode      Mode
	Pattern   Pattern
	Overwrite bool // selects tree-ordered (true) vs insertion-ordered (false) history
	Interval  int64 // verify_interval: verify once per Interval bytes; 0 means every block
	Fatal     bool  // verify_fatal

	tree      *TreeHistory
	insertion *InsertionHistory
	seq       uint64

	bytesSinceVerify int64
}

// NewEngine constructs an Engine ready to drive write/verify traffic.
func NewEngine(mode Mode, pattern Pattern, overwrite bool, interval int64, fatal bool) *Engine {
	e := &Engine{Mode: mode, Pattern: pattern, Overwrite: overwrite, Interval: interval, Fatal: fatal}
	if overwrite {
		e.tree = NewTreeHistory()
	} else {
		e.insertion = NewInsertionHistory()
	}
	return e
}

// PrepareWrite fills buf with the deterministic pattern and header (when
// Mode requires one), advances the sequence counter, and records a
// HistoryEntry for the write.
func (e *Engine) PrepareWrite(buf []byte, offset int64, dir int) *HistoryEntry {
	e.seq++
	seed := blockSeed(e.Pattern.BaseKey, offset)

	if e.Mode != Off && len(buf) > HeaderSize {
		e.Pattern.Fill(buf[HeaderSize:], offset)
		crc := crc32.ChecksumIEEE(buf[HeaderSize:])
		binary.LittleEndian.PutUint64(buf[0:8], e.seq)
		binary.LittleEndian.PutUint32(buf[8:12], crc)
	} else if e.Mode != Off {
		e.Pattern.Fill(buf, offset)
	}

	entry := &HistoryEntry{Offset: offset, Length: int64(len(buf)), Dir: dir, BlockSeed: seed, Seq: e.seq}
	if e.Overwrite {
		e.tree.Insert(entry)
	} else {
		e.insertion.Append(entry)
	}
	return entry
}

// shouldVerify applies verify_interval: only every Interval bytes of
// cumulative traffic are actually checked, the rest pass through.
func (e *Engine) shouldVerify(length int64) bool {
	if e.Interval <= 0 {
		return true
	}
	e.bytesSinceVerify += length
	if e.bytesSinceVerify >= e.Interval {
		e.bytesSinceVerify = 0
		return true
	}
	return false
}

// VerifyRead checks buf, read back from offset, against the recorded
// history. ok is false on a content mismatch (whether or not that
// surfaces as an error depends on Fatal, which the caller enforces).
func (e *Engine) VerifyRead(buf []byte, offset int64) (ok bool, err error) {
	if e.Mode == Off {
		return true, nil
	}
	if !e.shouldVerify(int64(len(buf))) {
		return true, nil
	}

	switch e.Mode {
	case HeaderCRC:
		if len(buf) <= HeaderSize {
			return false, errors.New("verify: buffer too small for header")
		}
		_, wantCRC := decodeHeader(buf)
		gotCRC := crc32.ChecksumIEEE(buf[HeaderSize:])
		if wantCRC != gotCRC {
			return false, ErrMismatch
		}
		return true, nil

	case HeaderFull:
		if len(buf) <= HeaderSize {
			return false, errors.New("verify: buffer too small for header")
		}
		_, wantCRC := decodeHeader(buf)
		gotCRC := crc32.ChecksumIEEE(buf[HeaderSize:])
		if wantCRC != gotCRC {
			return false, ErrMismatch
		}
		if !e.Pattern.Matches(buf[HeaderSize:], offset) {
			return false, ErrMismatch
		}
		return true, nil

	case Meta:
		gotSeq, gotCRC := decodeHeader(buf)
		var want *HistoryEntry
		if e.Overwrite {
			want = e.tree.Lookup(offset)
		} else {
			want, _ = e.insertion.Find(offset)
		}
		if want == nil {
			return false, errors.New("verify: no history entry for offset")
		}
		if gotSeq != want.Seq {
			return false, ErrMismatch
		}
		wantCRC := crc32.ChecksumIEEE(buf[HeaderSize:])
		if gotCRC != wantCRC {
			return false, ErrMismatch
		}
		return true, nil

	default:
		return true, nil
	}
}

// HasHistory reports whether some prior PrepareWrite covers offset —
// callers use this to skip verifying a read drawn against a block that
// was never written, which would otherwise decode a zero header and
// report a spurious mismatch.
func (e *Engine) HasHistory(offset int64) bool {
	if e.Overwrite {
		return e.tree.Lookup(offset) != nil
	}
	_, ok := e.insertion.Find(offset)
	return ok
}

// History returns a snapshot of every recorded write, in offset order for
// tree-ordered history or insertion order otherwise — used to drive the
// read-back verify pass of spec.md §4.I's Verifying phase.
func (e *Engine) History() []*HistoryEntry {
	if e.Overwrite {
		return e.tree.Entries()
	}
	return e.insertion.Entries()
}

func decodeHeader(buf []byte) (seq uint64, crc uint32) {
	return binary.LittleEndian.Uint64(buf[0:8]), binary.LittleEndian.Uint32(buf[8:12])
}

// TreeHistory is offset-ordered history with overlap-aware supersession:
// a write superseding part of an earlier extent splits that earlier entry
// rather than discarding it outright (Open Question 1, see DESIGN.md).
type TreeHistory struct {
	mu      sync.Mutex
	entries []*HistoryEntry // sorted, non-overlapping, by Offset
}

// NewTreeHistory returns an empty TreeHistory.
func NewTreeHistory() *TreeHistory { return &TreeHistory{} }

// Insert records entry, splitting any prior entries it overlaps so that
// only the overlapping sub-extent is superseded.
func (t *TreeHistory) Insert(entry *HistoryEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	start, end := entry.Offset, entry.end()
	result := make([]*HistoryEntry, 0, len(t.entries)+2)

	for _, e := range t.entries {
		eStart, eEnd := e.Offset, e.end()
		if eEnd <= start || eStart >= end {
			result = append(result, e)
			continue
		}
		if eStart < start {
			result = append(result, &HistoryEntry{
				Offset: eStart, Length: start - eStart,
				Dir: e.Dir, BlockSeed: e.BlockSeed, Seq: e.Seq,
			})
		}
		if eEnd > end {
			result = append(result, &HistoryEntry{
				Offset: end, Length: eEnd - end,
				Dir: e.Dir, BlockSeed: e.BlockSeed, Seq: e.Seq,
			})
		}
	}
	result = append(result, entry)

	sort.Slice(result, func(i, j int) bool { return result[i].Offset < result[j].Offset })
	t.entries = result
}

// Lookup returns the entry covering offset, or nil if none does.
func (t *TreeHistory) Lookup(offset int64) *HistoryEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].Offset > offset })
	if i == 0 {
		return nil
	}
	e := t.entries[i-1]
	if offset >= e.Offset && offset < e.end() {
		return e
	}
	return nil
}

// Entries returns a snapshot of the current non-overlapping extents, in
// offset order — used by tests to assert the split/supersede invariant.
func (t *TreeHistory) Entries() []*HistoryEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*HistoryEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// InsertionHistory preserves writes in the order they were recorded,
// without supersession — used when overwrite is not set.
type InsertionHistory struct {
	mu      sync.Mutex
	entries []*HistoryEntry
}

// NewInsertionHistory returns an empty InsertionHistory.
func NewInsertionHistory() *InsertionHistory { return &InsertionHistory{} }

// Append records entry at the end of the insertion order.
func (h *InsertionHistory) Append(entry *HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
}

// Find scans from most-recently-inserted to oldest and returns the first
// entry covering offset.
func (h *InsertionHistory) Find(offset int64) (*HistoryEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.entries) - 1; i >= 0; i-- {
		e := h.entries[i]
		if offset >= e.Offset && offset < e.end() {
			return e, true
		}
	}
	return nil, false
}

// Len returns the number of recorded entries.
func (h *InsertionHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Entries returns a snapshot of the recorded writes in insertion order.
func (h *InsertionHistory) Entries() []*HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}
