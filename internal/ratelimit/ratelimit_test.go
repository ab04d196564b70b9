package ratelimit

import (
	"context"
	"testing"
	"time"
)

// TestRateCapScenario is a scaled-down S3: instead of a 1MiB/s cap over a
// 2s run, caps bandwidth at 10000 bytes/s and issues I/O until the cap's
// sliding window forces a stall, then checks the achieved bandwidth lands
// within 10% of the cap (S3 itself allows 1.9-2.1 MiB over 2s).
func TestRateCapScenario(t *testing.T) {
	l := New(Config{RateBytesPerSec: 10000})
	ctx := context.Background()

	const blockSize = 500
	const numIOs = 20 // one more than the ~19 units/s the cap allows in a burst

	start := time.Now()
	var sent int64
	for i := 0; i < numIOs; i++ {
		if err := l.BeforeIO(ctx, blockSize); err != nil {
			t.Fatalf("BeforeIO: %v", err)
		}
		sent += blockSize
	}
	elapsed := time.Since(start).Seconds()

	rate := float64(sent) / elapsed
	if rate < 10000*0.9 || rate > 10000*1.1 {
		t.Fatalf("achieved rate %f outside expected band around 10000 B/s", rate)
	}
}

func TestNoStallNeverBlocks(t *testing.T) {
	l := New(Config{RateBytesPerSec: 1, RateIOPS: 1, NoStall: true})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 1000; i++ {
		if err := l.BeforeIO(ctx, 4096); err != nil {
			t.Fatalf("BeforeIO: %v", err)
		}
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatalf("no_stall limiter blocked: took %v", time.Since(start))
	}
}

func TestContextCancellationUnblocks(t *testing.T) {
	l := New(Config{RateIOPS: 1})
	ctx, cancel := context.WithCancel(context.Background())

	// Exhaust the single allowed event for this second.
	if err := l.BeforeIO(context.Background(), 4096); err != nil {
		t.Fatalf("first BeforeIO: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- l.BeforeIO(ctx, 4096)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected context cancellation error")
		}
	case <-time.After(time.Second):
		t.Fatal("BeforeIO did not return after context cancellation")
	}
}

func TestMinRateWindowFlagsTooLow(t *testing.T) {
	w := newMinRateWindow(50 * time.Millisecond)
	fakeNow := time.Now()
	w.now = func() time.Time { return fakeNow }

	// First record establishes the window start; not yet evaluated.
	if w.record(10, 1_000_000, 0) {
		t.Fatal("unexpected tooLow on window-opening record")
	}

	fakeNow = fakeNow.Add(60 * time.Millisecond)
	// 10 bytes over 60ms is far below a 1,000,000 B/s floor.
	if !w.record(10, 1_000_000, 0) {
		t.Fatal("expected tooLow once the window elapsed under the floor")
	}
}

func TestMinRateWindowPassesWhenAboveFloor(t *testing.T) {
	w := newMinRateWindow(50 * time.Millisecond)
	fakeNow := time.Now()
	w.now = func() time.Time { return fakeNow }

	w.record(1_000_000, 1000, 0)
	fakeNow = fakeNow.Add(60 * time.Millisecond)
	if w.record(1_000_000, 1000, 0) {
		t.Fatal("unexpected tooLow when comfortably above the floor")
	}
}
