package verify

import (
	"sync"
)

// pendingVerify is one read waiting to be checked by a verify worker.
type pendingVerify struct {
	buf    []byte
	offset int64
}

// AsyncVerifier offloads VerifyRead calls to a pool of nr_verify_threads
// workers, per spec.md §4.I. verify_backlog bounds how many unverified
// reads may queue; Submit reports false once that bound is hit, signaling
// the caller to stall submissions until the backlog drains.
//
// verify_batch (the count drained together before the caller may resume)
// is approximated here by the channel buffer itself acting as the backlog
// bound: workers drain continuously rather than in discrete batches, which
// is a simplification of fio's explicit batch-drain handshake.
type AsyncVerifier struct {
	eng     *Engine
	backlog chan pendingVerify
	wg      sync.WaitGroup

	mu       sync.Mutex
	firstErr error
	errCount int
}

// NewAsyncVerifier starts nrThreads workers pulling from a backlog bounded
// at backlogCap entries.
func NewAsyncVerifier(eng *Engine, nrThreads, backlogCap int) *AsyncVerifier {
	if nrThreads < 1 {
		nrThreads = 1
	}
	if backlogCap < 1 {
		backlogCap = 1
	}
	av := &AsyncVerifier{eng: eng, backlog: make(chan pendingVerify, backlogCap)}
	for i := 0; i < nrThreads; i++ {
		av.wg.Add(1)
		go av.worker()
	}
	return av
}

func (av *AsyncVerifier) worker() {
	defer av.wg.Done()
	for pv := range av.backlog {
		ok, err := av.eng.VerifyRead(pv.buf, pv.offset)
		if !ok {
			av.recordError(err)
		}
	}
}

func (av *AsyncVerifier) recordError(err error) {
	if err == nil {
		err = ErrMismatch
	}
	av.mu.Lock()
	defer av.mu.Unlock()
	av.errCount++
	if av.firstErr == nil {
		av.firstErr = err
	}
}

// Submit enqueues buf (read back from offset) for async verification.
// Returns false when the backlog is full — spec.md's verify_backlog
// bound — signaling the caller to stall new submissions.
func (av *AsyncVerifier) Submit(buf []byte, offset int64) bool {
	select {
	case av.backlog <- pendingVerify{buf: buf, offset: offset}:
		return true
	default:
		return false
	}
}

// Backlogged reports how many reads are queued but not yet checked.
func (av *AsyncVerifier) Backlogged() int {
	return len(av.backlog)
}

// Close stops accepting new work and waits for in-flight verifies to
// drain.
func (av *AsyncVerifier) Close() {
	close(av.backlog)
	av.wg.Wait()
}

// Err returns the first mismatch error observed, or nil.
func (av *AsyncVerifier) Err() error {
	av.mu.Lock()
	defer av.mu.Unlock()
	return av.firstErr
}

// ErrCount returns the total number of mismatches observed.
func (av *AsyncVerifier) ErrCount() int {
	av.mu.Lock()
	defer av.mu.Unlock()
	return av.errCount
}
