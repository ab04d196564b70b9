package verify

import (
	"testing"
)

// TestVerifyMismatchIsFatal is S4: write a pattern, corrupt one byte,
// verify with verify_fatal=1 — the mismatch must be reported and fatal.
func TestVerifyMismatchIsFatal(t *testing.T) {
	eng := NewEngine(HeaderFull, Pattern{BaseKey: 0xDEADBEEF}, true, 0, true)

	buf := make([]byte, 8192)
	eng.PrepareWrite(buf, 0, 1)

	// Corrupt byte 17 (within the payload, past the 16-byte header).
	buf[17] ^= 0xFF

	ok, err := eng.VerifyRead(buf, 0)
	if ok {
		t.Fatal("expected verify to fail after corruption")
	}
	if err != ErrMismatch {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}
	if !eng.Fatal {
		t.Fatal("expected Fatal policy to be set for this scenario")
	}
}

// TestRoundTripWithFaithfulStorage is Testable Property 8: a write
// faithfully read back must always verify clean, across all modes.
func TestRoundTripWithFaithfulStorage(t *testing.T) {
	modes := []Mode{HeaderCRC, HeaderFull, Meta}
	for _, mode := range modes {
		eng := NewEngine(mode, Pattern{BaseKey: 42}, true, 0, true)
		buf := make([]byte, 4096)
		eng.PrepareWrite(buf, 4096, 1)

		// Simulate a faithful storage round trip: buf is unchanged.
		ok, err := eng.VerifyRead(buf, 4096)
		if !ok || err != nil {
			t.Fatalf("mode %d: expected clean verify, got ok=%v err=%v", mode, ok, err)
		}
	}
}

func TestOffModeNeverFails(t *testing.T) {
	eng := NewEngine(Off, Pattern{}, true, 0, true)
	buf := make([]byte, 512)
	for i := range buf {
		buf[i] = byte(i)
	}
	ok, err := eng.VerifyRead(buf, 0)
	if !ok || err != nil {
		t.Fatalf("verify=off must always pass, got ok=%v err=%v", ok, err)
	}
}

func TestVerifyIntervalSkipsBlocks(t *testing.T) {
	eng := NewEngine(HeaderFull, Pattern{BaseKey: 7}, true, 8192, true)
	buf := make([]byte, 4096)
	eng.PrepareWrite(buf, 0, 1)
	buf[20] ^= 0xFF // corrupt; should be skipped by interval throttling

	ok, err := eng.VerifyRead(buf, 0)
	if !ok || err != nil {
		t.Fatalf("first sub-interval block should be skipped: ok=%v err=%v", ok, err)
	}

	// Second block crosses the 8192-byte interval threshold and is checked.
	buf2 := make([]byte, 4096)
	eng.PrepareWrite(buf2, 4096, 1)
	buf2[20] ^= 0xFF // payload byte, past the 16-byte header

	ok2, err2 := eng.VerifyRead(buf2, 4096)
	if ok2 {
		t.Fatal("expected the interval-triggered block to be checked and fail")
	}
	if err2 != ErrMismatch {
		t.Fatalf("expected ErrMismatch, got %v", err2)
	}
}

func TestTreeHistorySplitsOnOverlap(t *testing.T) {
	th := NewTreeHistory()
	th.Insert(&HistoryEntry{Offset: 0, Length: 100, Seq: 1})
	th.Insert(&HistoryEntry{Offset: 40, Length: 20, Seq: 2})

	entries := th.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries after split, got %d: %+v", len(entries), entries)
	}

	want := []struct{ off, length int64 }{
		{0, 40}, {40, 20}, {60, 40},
	}
	for i, w := range want {
		if entries[i].Offset != w.off || entries[i].Length != w.length {
			t.Fatalf("entry %d: got {%d,%d}, want {%d,%d}", i, entries[i].Offset, entries[i].Length, w.off, w.length)
		}
	}

	// The overlapping sub-extent must resolve to the superseding write.
	at50 := th.Lookup(50)
	if at50 == nil || at50.Seq != 2 {
		t.Fatalf("expected offset 50 to resolve to the superseding entry, got %+v", at50)
	}
	at10 := th.Lookup(10)
	if at10 == nil || at10.Seq != 1 {
		t.Fatalf("expected offset 10 to still resolve to the original entry, got %+v", at10)
	}
}

func TestInsertionHistoryResolvesMostRecentFirst(t *testing.T) {
	ih := NewInsertionHistory()
	ih.Append(&HistoryEntry{Offset: 0, Length: 100, Seq: 1})
	ih.Append(&HistoryEntry{Offset: 0, Length: 100, Seq: 2})

	e, ok := ih.Find(50)
	if !ok || e.Seq != 2 {
		t.Fatalf("expected most recent entry (seq 2), got %+v", e)
	}
}

func TestHasHistoryReflectsWrites(t *testing.T) {
	eng := NewEngine(HeaderFull, Pattern{BaseKey: 1}, true, 0, true)
	if eng.HasHistory(0) {
		t.Fatal("expected no history before any write")
	}
	buf := make([]byte, 4096)
	eng.PrepareWrite(buf, 0, 1)
	if !eng.HasHistory(0) {
		t.Fatal("expected history to cover offset 0 after PrepareWrite")
	}
	if eng.HasHistory(4096) {
		t.Fatal("expected no history at an offset never written")
	}
}

func TestHasHistoryInsertionOrdered(t *testing.T) {
	eng := NewEngine(HeaderFull, Pattern{BaseKey: 1}, false, 0, true)
	buf := make([]byte, 4096)
	eng.PrepareWrite(buf, 0, 1)
	if !eng.HasHistory(0) {
		t.Fatal("expected insertion-ordered history to cover offset 0")
	}
	if eng.HasHistory(8192) {
		t.Fatal("expected no history at an offset never written")
	}
}

func TestHistoryReturnsRecordedWrites(t *testing.T) {
	eng := NewEngine(HeaderFull, Pattern{BaseKey: 1}, true, 0, true)
	buf := make([]byte, 4096)
	eng.PrepareWrite(buf, 0, 1)
	eng.PrepareWrite(buf, 4096, 1)

	entries := eng.History()
	if len(entries) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(entries))
	}
}

func TestAsyncVerifierFlagsMismatch(t *testing.T) {
	eng := NewEngine(HeaderFull, Pattern{BaseKey: 99}, true, 0, true)
	buf := make([]byte, 4096)
	eng.PrepareWrite(buf, 0, 1)
	buf[50] ^= 0xFF

	av := NewAsyncVerifier(eng, 2, 4)
	if !av.Submit(buf, 0) {
		t.Fatal("expected Submit to succeed under the backlog cap")
	}
	av.Close()

	if av.Err() != ErrMismatch {
		t.Fatalf("expected ErrMismatch recorded, got %v", av.Err())
	}
	if av.ErrCount() != 1 {
		t.Fatalf("expected 1 recorded error, got %d", av.ErrCount())
	}
}

func TestAsyncVerifierBacklogBound(t *testing.T) {
	eng := NewEngine(Off, Pattern{}, true, 0, false)
	av := NewAsyncVerifier(eng, 1, 1)

	// Burst submits at a single-slot backlog. Whether any of them is
	// rejected depends on how fast the lone Off-mode worker drains, so
	// rejection is not asserted: the test checks that submits under the
	// cap are accepted and that Close drains the backlog.
	accepted := 0
	for i := 0; i < 100; i++ {
		if av.Submit(make([]byte, 64), int64(i)) {
			accepted++
		}
	}
	av.Close()
	if accepted == 0 {
		t.Fatal("expected at least some submissions to be accepted")
	}
}
