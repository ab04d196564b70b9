// Package supervisor fans a set of worker.Job runs out across goroutines
// and collects their Stats, generalizing the teacher's internal/vm.Pool
// ready-channel / sync.WaitGroup / done-channel lifecycle (pool_linux.go)
// from warm-VM slots to I/O worker goroutines, per SPEC_FULL.md §3.1.
package supervisor

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/6ak5/fio/internal/ioengine"
	"github.com/6ak5/fio/internal/worker"
)

// EngineFactory builds a fresh ioengine.Engine for one worker. Each
// worker owns its engine instance so concurrent jobs never share file
// descriptors or in-memory state unless the factory deliberately does so.
type EngineFactory func(workerIndex int) ioengine.Engine

// Result pairs one worker's final Stats with its index and any error
// worker.Job.Run returned.
type Result struct {
	Index int
	Stats *worker.Stats
	Err   error
}

// Handle is the supervisor-facing view of one running job, deliberately
// narrow per SPEC_FULL.md §3.1: callers outside the
// supervisor may only ask whether the group is terminating or hand back
// a completed report, never reach into a peer worker's live state.
type Handle struct {
	index int
	sup   *Supervisor
}

// IsTerminating reports whether the supervisor has begun tearing down
// all workers (TerminateAll was called, or the run context ended).
func (h Handle) IsTerminating() bool {
	select {
	case <-h.sup.done:
		return true
	default:
		return false
	}
}

// Report hands the calling worker's Stats to the supervisor's result
// stream. Workers call this exactly once, just before returning.
func (h Handle) Report(stats *worker.Stats, err error) {
	h.sup.results <- Result{Index: h.index, Stats: stats, Err: err}
}

// Supervisor owns a fixed-size group of concurrent worker.Job runs.
type Supervisor struct {
	mu      sync.Mutex
	logger  log.FieldLogger
	results chan Result

	done   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started bool
}

// New constructs a Supervisor ready to Spawn nWorkers jobs. A nil logger
// falls back to logrus's standard logger.
func New(nWorkers int, logger log.FieldLogger) *Supervisor {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Supervisor{
		logger:  logger,
		results: make(chan Result, nWorkers),
		done:    make(chan struct{}),
	}
}

// Spawn starts one worker.Job per entry in opts, each running against the
// engine returned by factory for that index. Spawn may only be called
// once per Supervisor.
func (s *Supervisor) Spawn(ctx context.Context, opts []worker.Options, factory EngineFactory) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	for i, o := range opts {
		s.wg.Add(1)
		go s.runOne(runCtx, i, o, factory(i))
	}
}

func (s *Supervisor) runOne(ctx context.Context, index int, opts worker.Options, engine ioengine.Engine) {
	defer s.wg.Done()

	h := Handle{index: index, sup: s}
	j := worker.New(opts, engine)

	s.logger.WithField("worker", index).Debug("starting job")
	stats, err := j.Run(ctx)
	if err != nil {
		s.logger.WithField("worker", index).WithError(err).Warn("job ended with error")
	} else {
		s.logger.WithField("worker", index).Debug("job completed")
	}
	h.Report(stats, err)
}

// TerminateAll signals every running worker to stop at its next loop
// checkpoint and closes the done channel observed by Handle.IsTerminating.
// Safe to call more than once.
func (s *Supervisor) TerminateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
		close(s.done)
		if s.cancel != nil {
			s.cancel()
		}
	}
}

// Wait blocks until every spawned worker has returned and its Result has
// been collected, then returns all Results in index order. If timeout is
// positive and elapses first, Wait calls TerminateAll and then still
// waits for every worker to return before collecting the Results.
func (s *Supervisor) Wait(timeout time.Duration) []Result {
	allDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(allDone)
	}()

	if timeout > 0 {
		select {
		case <-allDone:
		case <-time.After(timeout):
			s.TerminateAll()
			<-allDone
		}
	} else {
		<-allDone
	}

	close(s.results)
	results := make(map[int]Result, cap(s.results))
	n := 0
	for r := range s.results {
		results[r.Index] = r
		n++
	}
	out := make([]Result, 0, n)
	for i := 0; i < n; i++ {
		if r, ok := results[i]; ok {
			out = append(out, r)
		}
	}
	return out
}
