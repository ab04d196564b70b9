package worker

import (
	"context"
	"testing"
	"time"

	"github.com/6ak5/fio/internal/blocksize"
	"github.com/6ak5/fio/internal/direction"
	"github.com/6ak5/fio/internal/ioengine"
	"github.com/6ak5/fio/internal/randsrc"
	"github.com/6ak5/fio/internal/verify"
)

const testFileSize = 1 << 20 // 1 MiB

func baseOpts() Options {
	fixed := direction.Write
	return Options{
		FilePath: "job.dat",
		FileSize: testFileSize,
		Direction: direction.Config{
			Fixed: &fixed,
		},
		BlockSize: blocksize.Config{Min: 4096, Max: 4096},
		Loops:     1,
		IODepth:   4,
		IODepthBatchComplete: 1,
		Seeds:     randsrc.SeedVector{1, 2, 3, 4, 5, 6, 7, 8},
	}
}

// S1: sequential write fills the file without overrunning it.
func TestSequentialWriteScenario(t *testing.T) {
	opts := baseOpts()
	opts.TargetBytes = testFileSize

	j := New(opts, ioengine.NewMem())
	stats, err := j.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.IOCount[direction.Write] == 0 {
		t.Fatal("expected some writes to have occurred")
	}
	if stats.IOBytes[direction.Write] < testFileSize {
		t.Fatalf("IOBytes[Write] = %d, want >= %d", stats.IOBytes[direction.Write], testFileSize)
	}
}

// S2: mixed read/write ratio lands near the configured split.
func TestMixedRatioScenario(t *testing.T) {
	opts := baseOpts()
	opts.Direction = direction.Config{RWMixReadPercent: 70}
	opts.TargetBytes = 200 * 4096

	j := New(opts, ioengine.NewMem())
	stats, err := j.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	total := stats.IOCount[direction.Read] + stats.IOCount[direction.Write]
	if total == 0 {
		t.Fatal("expected some I/O to have occurred")
	}
	readFrac := float64(stats.IOCount[direction.Read]) / float64(total)
	if readFrac < 0.55 || readFrac > 0.85 {
		t.Fatalf("read fraction = %.2f, want roughly 0.70", readFrac)
	}
}

// S4 (write leg): a full sequential write pass with verification enabled
// stamps every block's pattern/header without raising any error.
func TestVerifyWritePassStampsEveryBlock(t *testing.T) {
	opts := baseOpts()
	opts.TargetBytes = testFileSize
	opts.VerifyMode = verify.HeaderFull
	opts.VerifyFatal = true
	opts.VerifyPatternKey = 0xABCD

	j := New(opts, ioengine.NewMem())
	stats, err := j.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error stamping verify pattern: %v", err)
	}
	if stats.Err.Count() != 0 {
		t.Fatalf("expected zero errors, got %d", stats.Err.Count())
	}
}

// A context deadline stops the run loop without hanging.
func TestContextDeadlineStopsRun(t *testing.T) {
	opts := baseOpts()
	opts.TimeBased = true
	opts.Timeout = 10 * time.Millisecond

	j := New(opts, ioengine.NewMem())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return within the test's safety timeout")
	}
}

func TestRunStateTransitionsReachExited(t *testing.T) {
	opts := baseOpts()
	opts.TargetBytes = 10 * 4096

	j := New(opts, ioengine.NewMem())
	if j.State() != Created {
		t.Fatalf("initial state = %v, want Created", j.State())
	}
	if _, err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if j.State() != Exited {
		t.Fatalf("final state = %v, want Exited", j.State())
	}
}

// fsyncCountingEngine wraps Mem and records Fsync calls, to exercise the
// EndFsync/Fsyncing wiring without a real filesystem.
type fsyncCountingEngine struct {
	*ioengine.Mem
	fsyncCalls int
}

func newFsyncCountingEngine() *fsyncCountingEngine {
	return &fsyncCountingEngine{Mem: ioengine.NewMem()}
}

func (e *fsyncCountingEngine) Fsync() error {
	e.fsyncCalls++
	return nil
}

func TestEndFsyncEntersFsyncingAndCallsEngine(t *testing.T) {
	opts := baseOpts()
	opts.TargetBytes = 10 * 4096
	opts.EndFsync = true

	eng := newFsyncCountingEngine()
	j := New(opts, eng)
	if _, err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if eng.fsyncCalls != 1 {
		t.Fatalf("fsyncCalls = %d, want 1", eng.fsyncCalls)
	}
	if j.State() != Exited {
		t.Fatalf("final state = %v, want Exited", j.State())
	}
}

func TestNoEndFsyncNeverCallsEngine(t *testing.T) {
	opts := baseOpts()
	opts.TargetBytes = 10 * 4096

	eng := newFsyncCountingEngine()
	j := New(opts, eng)
	if _, err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if eng.fsyncCalls != 0 {
		t.Fatalf("fsyncCalls = %d, want 0 when end_fsync is unset", eng.fsyncCalls)
	}
}

// TestVerifyPassChecksPureWriteWorkload is S4's write leg exercised
// end-to-end: a pure sequential write workload with verify enabled never
// naturally draws a read, so only the Verifying-phase read-back pass can
// catch a mismatch.
func TestVerifyPassChecksPureWriteWorkload(t *testing.T) {
	opts := baseOpts()
	opts.TargetBytes = testFileSize
	opts.VerifyMode = verify.HeaderFull
	opts.VerifyFatal = false
	opts.VerifyPatternKey = 0xABCD

	eng := ioengine.NewMem()
	j := New(opts, eng)
	stats, err := j.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Err.Count() != 0 {
		t.Fatalf("expected a faithful round trip to verify clean, got %d errors", stats.Err.Count())
	}
}

// TestRandRWVerifyDoesNotFlagUnwrittenReads guards against the spurious
// mismatch a natural read of a never-written offset would otherwise
// report: reading a zeroed block decodes a zero header that matches
// nothing.
func TestRandRWVerifyDoesNotFlagUnwrittenReads(t *testing.T) {
	opts := baseOpts()
	opts.Direction = direction.Config{RWMixReadPercent: 50}
	opts.Random = true
	opts.TargetBytes = 64 * 4096
	opts.VerifyMode = verify.HeaderFull
	opts.VerifyFatal = true
	opts.VerifyPatternKey = 0x1234

	j := New(opts, ioengine.NewMem())
	stats, err := j.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Err.Count() != 0 {
		t.Fatalf("expected no spurious mismatches on unwritten offsets, got %d errors", stats.Err.Count())
	}
}

func TestContinueOnErrorAllowsJobToProceed(t *testing.T) {
	opts := baseOpts()
	opts.TargetBytes = 20 * 4096
	opts.ContinueOnError = true

	j := New(opts, ioengine.NewMem())
	stats, err := j.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Err.Count() != 0 {
		t.Fatalf("expected no errors from a faithful in-memory engine, got %d", stats.Err.Count())
	}
}
