// Package worker drives a single job through the state machine of
// spec.md §4.K, orchestrating the PRNG streams, block-size splitter,
// offset generator, direction chooser, I/O unit pool, rate limiter,
// verification engine, and pluggable I/O engine (§4.A-§4.J) that make up
// one worker's main loop.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/6ak5/fio/internal/blocksize"
	"github.com/6ak5/fio/internal/direction"
	"github.com/6ak5/fio/internal/histogram"
	"github.com/6ak5/fio/internal/ioengine"
	"github.com/6ak5/fio/internal/iounit"
	"github.com/6ak5/fio/internal/joberr"
	"github.com/6ak5/fio/internal/offset"
	"github.com/6ak5/fio/internal/randmap"
	"github.com/6ak5/fio/internal/randsrc"
	"github.com/6ak5/fio/internal/ratelimit"
	"github.com/6ak5/fio/internal/verify"
)

// RunState enumerates the worker state machine of spec.md §4.K. It
// advances monotonically past Initialized; only Running/Verifying/
// Fsyncing re-enter each other.
type RunState int

const (
	NotCreated RunState = iota
	Created
	Initialized
	Ramp
	Running
	Verifying
	Fsyncing
	Exited
	Reaped
)

func (s RunState) String() string {
	switch s {
	case NotCreated:
		return "NotCreated"
	case Created:
		return "Created"
	case Initialized:
		return "Initialized"
	case Ramp:
		return "Ramp"
	case Running:
		return "Running"
	case Verifying:
		return "Verifying"
	case Fsyncing:
		return "Fsyncing"
	case Exited:
		return "Exited"
	case Reaped:
		return "Reaped"
	default:
		return "Unknown"
	}
}

// Options carries the subset of spec.md §6 Options this core consumes.
type Options struct {
	FilePath string
	FileSize int64

	// Workload
	Direction   direction.Config
	Random      bool
	ZoneSize    int64
	ZoneSkip    int64
	SeqNr       int64
	SeqAdd      int64
	BlockSize   blocksize.Config
	NoRandomMap bool
	SoftRandMap bool
	SeqIdent    bool // RW_SEQ_IDENT: read and write share one sequential cursor
	Loops       int
	TimeBased   bool
	Timeout     time.Duration
	RampTime    time.Duration
	TargetBytes int64 // 0 disables the byte-count stop condition

	// Concurrency
	IODepth              int
	IODepthBatch         int
	IODepthBatchComplete int

	// Determinism
	RandRepeatable bool
	UseOSRand      bool
	Seeds          randsrc.SeedVector

	// Rate
	Rate ratelimit.Config

	// Verify
	VerifyMode       verify.Mode
	VerifyOverwrite  bool
	VerifyInterval   int64
	VerifyFatal      bool
	VerifyAsyncN     int // nr_verify_threads; 0 disables async offload
	VerifyBacklog    int
	VerifyPatternKey uint64

	// Errors
	ContinueOnError bool

	// Timing cadence
	FsyncBlocks     int
	FdatasyncBlocks int
	EndFsync        bool

	// File handling, passed through to the engine's JobConfig
	ODirect      bool
	SyncIO       bool
	FsyncOnClose bool

	// Samples receives per-I/O latency/bandwidth samples for the logs of
	// spec.md §6; nil disables sample logging entirely.
	Samples SampleSink
}

// SampleKind identifies which of spec.md §6's three per-sample logs a
// Sample belongs to.
type SampleKind int

const (
	SampleLatency SampleKind = iota
	SampleBandwidth
	SampleCompletionLatency
)

// SampleSink receives one sample per completed I/O. Defined here (rather
// than taking a *report.SampleLog directly) so worker never imports
// report — report already imports worker for Stats, and a back-import
// would cycle; callers in internal/cmd adapt report.SampleLog to this
// interface.
type SampleSink interface {
	Sample(kind SampleKind, dir direction.Dir, value int64, blockSize int64)
}

// Stats is a worker's aggregate statistics, worker-private until the
// supervisor reads it after Exited, per spec.md §5's shared-resource
// policy.
type Stats struct {
	IOBytes [3]int64
	IOCount [3]int64
	Lat     [3]*histogram.Histogram
	Depth   histogram.DepthMap

	Err joberr.Slot
}

func newStats() *Stats {
	return &Stats{Lat: [3]*histogram.Histogram{histogram.New(), histogram.New(), histogram.New()}}
}

func (s *Stats) reset() {
	*s = *newStats()
}

// Job owns one worker's full run: its state, stats, generators, pool,
// and engine binding. Per spec.md §9's design note, Job resolves its
// internal cyclic references (files/units) via stable indices rather
// than back-pointers — here, simply the small, fixed [3]Direction arrays.
type Job struct {
	opts   Options
	state  RunState
	stats  *Stats
	rng    *randsrc.Streams
	engine ioengine.Engine

	dirChooser *direction.Chooser
	bsSplit    *blocksize.Splitter
	offsetGen  [3]*offset.Generator
	randMap    *randmap.Map
	offAlign   int64
	pool       *iounit.Pool
	limiter    *ratelimit.Limiter
	verifyEng  *verify.Engine
	asyncVer   *verify.AsyncVerifier

	terminate bool
}

// New constructs a Job in state Created, ready for Run.
func New(opts Options, engine ioengine.Engine) *Job {
	return &Job{opts: opts, state: Created, engine: engine, stats: newStats()}
}

// State returns the job's current run state.
func (j *Job) State() RunState { return j.state }

// Stats returns the job's current statistics snapshot.
func (j *Job) Stats() *Stats { return j.stats }

// Terminate requests the job stop at its next loop checkpoint, per
// spec.md §5's cancellation rule.
func (j *Job) Terminate() { j.terminate = true }

func ioUnitBufSize(opts Options) int {
	max := opts.BlockSize.Max
	for _, w := range opts.BlockSize.Weighted {
		if w.Size > max {
			max = w.Size
		}
	}
	if max <= 0 {
		max = opts.BlockSize.Min
	}
	if max <= 0 {
		max = 4096
	}
	return int(max) + verify.HeaderSize
}

// Run drives the job through Initialized -> [Ramp] -> Running -> Verifying
// -> [Fsyncing] -> Exited, returning the final Stats and the first fatal
// error, if any.
func (j *Job) Run(ctx context.Context) (*Stats, error) {
	j.state = Initialized
	if err := j.initialize(ctx); err != nil {
		j.state = Exited
		return j.stats, err
	}

	if j.opts.RampTime > 0 {
		j.state = Ramp
		j.runPhase(ctx, j.opts.RampTime, true)
		j.stats.reset()
	}

	j.state = Running
	j.runPhase(ctx, j.opts.Timeout, false)

	j.state = Verifying
	j.runVerifyPass()
	if j.asyncVer != nil {
		j.asyncVer.Close()
		if err := j.asyncVer.Err(); err != nil {
			j.recordError(joberr.New(joberr.VerifyMismatch, err))
		}
	}

	if j.opts.EndFsync {
		j.state = Fsyncing
		type fsyncer interface{ Fsync() error }
		if fs, ok := j.engine.(fsyncer); ok {
			if err := fs.Fsync(); err != nil {
				j.recordError(joberr.New(joberr.EngineError, err))
			}
		}
	}

	j.state = Exited
	if err := j.engine.Cleanup(); err != nil {
		j.recordError(joberr.New(joberr.EngineError, err))
	}

	var firstErr error
	if fe := j.stats.Err.First(); fe != nil {
		firstErr = fe
	}
	return j.stats, firstErr
}

func (j *Job) initialize(ctx context.Context) error {
	j.rng = randsrc.NewStreams(j.opts.Seeds, j.opts.UseOSRand && !j.opts.RandRepeatable)

	if !j.opts.NoRandomMap && j.opts.Random {
		align := j.opts.BlockSize.Min
		if align <= 0 {
			align = 4096
		}
		nblocks := int(j.opts.FileSize / align)
		j.randMap = randmap.New(nblocks, j.opts.SoftRandMap)
	}

	align := j.opts.BlockSize.Align
	if align <= 0 {
		align = j.opts.BlockSize.Min
	}
	j.offAlign = align
	baseOffCfg := offset.Config{
		FileSize: j.opts.FileSize,
		Align:    align,
		Random:   j.opts.Random,
		ZoneSize: j.opts.ZoneSize,
		ZoneSkip: j.opts.ZoneSkip,
		SeqNr:    j.opts.SeqNr,
		SeqAdd:   j.opts.SeqAdd,
		RandMap:  j.randMap,
	}
	for d := 0; d < 3; d++ {
		j.offsetGen[d] = offset.New(baseOffCfg)
	}
	if j.opts.SeqIdent && !j.opts.Random {
		j.offsetGen[direction.Write] = j.offsetGen[direction.Read].Shared(baseOffCfg)
		j.offsetGen[direction.Trim] = j.offsetGen[direction.Read].Shared(baseOffCfg)
	}

	j.dirChooser = direction.New(j.opts.Direction)
	j.bsSplit = blocksize.New(j.opts.BlockSize)

	guarded := j.opts.VerifyAsyncN > 0
	j.pool = iounit.New(j.opts.IODepth, ioUnitBufSize(j.opts), guarded)

	j.limiter = ratelimit.New(j.opts.Rate)

	j.verifyEng = verify.NewEngine(j.opts.VerifyMode, verify.Pattern{BaseKey: j.opts.VerifyPatternKey}, j.opts.VerifyOverwrite, j.opts.VerifyInterval, j.opts.VerifyFatal)
	if guarded {
		backlog := j.opts.VerifyBacklog
		if backlog <= 0 {
			backlog = j.opts.IODepth
		}
		j.asyncVer = verify.NewAsyncVerifier(j.verifyEng, j.opts.VerifyAsyncN, backlog)
	}

	return j.engine.Init(ctx, ioengine.JobConfig{
		Files:        []*ioengine.File{{Path: j.opts.FilePath, Size: j.opts.FileSize}},
		ODirect:      j.opts.ODirect,
		SyncIO:       j.opts.SyncIO,
		FsyncOnClose: j.opts.FsyncOnClose,
	})
}

// runVerifyPass re-reads every recorded write and checks it against
// history — spec.md §4.I's Verifying-phase pass. Without this, a pure
// write/verify workload that never draws a natural read would never be
// checked at all; this pass is what exercises invariant 8 / scenario S4
// through the worker rather than only through the verify package's own
// unit tests.
func (j *Job) runVerifyPass() {
	if j.verifyEng.Mode == verify.Off {
		return
	}
	for _, entry := range j.verifyEng.History() {
		buf := make([]byte, entry.Length)
		u := &iounit.Unit{Buf: buf, Offset: entry.Offset, Length: entry.Length, Dir: int(direction.Read)}
		if _, err := j.engine.Queue(u); err != nil {
			j.recordError(joberr.New(joberr.IOFailed, err))
			continue
		}
		if u.Result != nil {
			j.recordError(joberr.New(joberr.IOFailed, u.Result))
			continue
		}
		if ok, verr := j.verifyEng.VerifyRead(buf, entry.Offset); !ok {
			j.recordError(joberr.New(joberr.VerifyMismatch, verr))
		}
	}
}

// runPhase runs the main loop for duration d (TimeBased) or until the
// job's other stop conditions are met. discard suppresses stats updates
// (the Ramp phase).
func (j *Job) runPhase(ctx context.Context, d time.Duration, discard bool) {
	var deadline time.Time
	if j.opts.TimeBased && d > 0 {
		deadline = time.Now().Add(d)
	}

	loopsLeft := j.opts.Loops
	if loopsLeft <= 0 {
		loopsLeft = 1
	}

	for {
		if j.terminate || ctx.Err() != nil {
			return
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return
		}
		if j.opts.TargetBytes > 0 && !discard {
			total := j.stats.IOBytes[direction.Read] + j.stats.IOBytes[direction.Write]
			if total >= j.opts.TargetBytes {
				return
			}
		}

		ok, fatal := j.step(ctx, discard)
		if !ok {
			if j.opts.Random && j.randMap != nil {
				// Phase ended by random-map exhaustion: loop again if
				// `loops` remain, else stop.
				loopsLeft--
				if loopsLeft <= 0 {
					return
				}
				if !j.opts.SoftRandMap {
					j.randMap = randmap.New(j.randMap.Len(), j.opts.SoftRandMap)
					for d := 0; d < 3; d++ {
						j.offsetGen[d] = offset.New(offset.Config{
							FileSize: j.opts.FileSize,
							Align:    j.offAlign,
							Random:   true,
							ZoneSize: j.opts.ZoneSize,
							ZoneSkip: j.opts.ZoneSkip,
							RandMap:  j.randMap,
						})
					}
				}
				continue
			}
			return
		}
		if fatal {
			return
		}
	}
}

// step executes one loop iteration: choose direction, size, offset;
// acquire a unit; submit; reap; update stats/rate/verify. Returns ok=false
// when the offset generator reports exhaustion (phase end), and
// fatal=true when an error ends the job outright.
func (j *Job) step(ctx context.Context, discard bool) (ok bool, fatal bool) {
	dir := j.dirChooser.Next(j.rng.Stream(randsrc.UseRWMix))

	remaining := j.offsetGen[dir].Remaining()
	length := j.bsSplit.Next(j.rng.Stream(randsrc.UseBlockSize), remaining)
	if length <= 0 {
		return false, false
	}

	off, err := j.offsetGen[dir].Next(j.rng.Stream(randsrc.UseOffset), length)
	if err != nil {
		return false, false
	}

	u, got := j.pool.TryGet()
	if !got {
		// Depth exhausted: reap at least one completion before retrying.
		n, _ := j.engine.GetEvents(ctx, 1, j.opts.IODepthBatchComplete)
		for i := 0; i < n; i++ {
			ev := j.engine.Event(i)
			if ev != nil {
				j.pool.Complete(ev, ev.Result)
			}
		}
		u, got = j.pool.TryGet()
		if !got {
			return false, false
		}
	}

	u.Offset = off
	u.Length = length
	u.Dir = int(dir)

	if dir == direction.Write && j.verifyEng.Mode != verify.Off {
		j.verifyEng.PrepareWrite(u.Buf[:length], off, int(dir))
	}

	if err := j.limiter.BeforeIO(ctx, length); err != nil {
		return false, true
	}

	j.pool.Submit(u)
	if !discard {
		j.stats.Depth.Observe(j.pool.BusyCount())
	}
	res, err := j.engine.Queue(u)
	if res == ioengine.Busy {
		j.pool.Requeue(u)
		return true, false
	}

	completeErr := err
	if completeErr == nil {
		completeErr = u.Result
	}
	j.pool.Complete(u, completeErr)

	if !discard {
		latencyMicros := uint64(u.CompleteAt.Sub(u.SubmitAt).Microseconds())
		j.stats.Lat[dir].Add(latencyMicros)
		j.stats.IOBytes[dir] += length
		j.stats.IOCount[dir]++
		if j.opts.Samples != nil {
			j.opts.Samples.Sample(SampleLatency, dir, int64(latencyMicros), length)
			j.opts.Samples.Sample(SampleBandwidth, dir, length, length)
			// psync/mem complete inline, so submission latency is
			// negligible and completion latency equals total latency.
			j.opts.Samples.Sample(SampleCompletionLatency, dir, int64(latencyMicros), length)
		}
	}

	if completeErr != nil {
		je := joberr.New(joberr.IOFailed, completeErr)
		j.recordError(je)
		if !j.opts.ContinueOnError {
			return true, true
		}
	}

	if dir == direction.Read && j.verifyEng.Mode != verify.Off && j.verifyEng.HasHistory(off) {
		if j.asyncVer != nil {
			// Copy out of the pool's backing buffer before handing it to
			// the async verifier: u was already returned to the free list
			// above, and a later TryGet can reuse and overwrite u.Buf
			// while a verify worker goroutine is still reading it.
			cp := make([]byte, length)
			copy(cp, u.Buf[:length])
			if !j.asyncVer.Submit(cp, off) {
				// Backlog full: verify inline on the copy rather than
				// drop the check.
				okVerify, verr := j.verifyEng.VerifyRead(cp, off)
				if !okVerify {
					je := joberr.New(joberr.VerifyMismatch, verr)
					j.recordError(je)
					if j.opts.VerifyFatal {
						return true, true
					}
				}
			}
		} else {
			okVerify, verr := j.verifyEng.VerifyRead(u.Buf[:length], off)
			if !okVerify {
				je := joberr.New(joberr.VerifyMismatch, verr)
				j.recordError(je)
				if j.opts.VerifyFatal {
					return true, true
				}
			}
		}
	}

	if tooLow := j.limiter.AfterIO(length); tooLow {
		j.recordError(joberr.New(joberr.RateTooLow, errors.New("achieved rate below configured minimum")))
		return true, true
	}

	j.maybeFsync()

	return true, false
}

func (j *Job) maybeFsync() {
	type fdatasyncer interface{ Fdatasync() error }
	type fsyncer interface{ Fsync() error }
	total := j.stats.IOCount[direction.Write]
	if j.opts.FdatasyncBlocks > 0 && total > 0 && total%int64(j.opts.FdatasyncBlocks) == 0 {
		if fs, ok := j.engine.(fdatasyncer); ok {
			_ = fs.Fdatasync()
		}
	}
	if j.opts.FsyncBlocks > 0 && total > 0 && total%int64(j.opts.FsyncBlocks) == 0 {
		if fs, ok := j.engine.(fsyncer); ok {
			_ = fs.Fsync()
		}
	}
}

func (j *Job) recordError(je *joberr.JobError) {
	j.stats.Err.Record(je)
}
