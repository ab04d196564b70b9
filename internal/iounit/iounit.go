// Package iounit implements the I/O unit pool of spec.md §4.F: a
// pre-allocated array of size iodepth, tracked across free/busy/requeue
// lists. Structurally grounded on the teacher's internal/vm.Pool ready
// channel / busy-tracking pattern (pool_linux.go), generalized from
// warm-VM slots to I/O buffer slots.
//
// Per spec.md §5, the pool's mutex and condition variable are only
// engaged when verify_async is set — a plain single-threaded worker never
// contends with itself, so the fast path (Guarded == false) runs lock-free.
package iounit

import (
	"context"
	"sync"
	"time"
)

// Unit is one pre-allocated I/O buffer slot.
type Unit struct {
	Index int
	Buf   []byte

	Offset int64
	Length int64
	Dir    int // caller-defined direction tag; iounit is direction-agnostic

	SubmitAt   time.Time
	CompleteAt time.Time
	Result     error
}

// Pool manages Capacity Units across free, busy, and requeue lists.
type Pool struct {
	units []Unit

	free    []int // stack of free indices, LIFO
	requeue []int // FIFO of indices needing resubmission
	busy    map[int]struct{}

	guarded bool
	mu      sync.Mutex
	cond    *sync.Cond
}

// New allocates capacity Units of bufSize bytes each. guarded enables the
// mutex/condition-variable path for verify_async concurrent access.
func New(capacity, bufSize int, guarded bool) *Pool {
	p := &Pool{
		units:   make([]Unit, capacity),
		free:    make([]int, 0, capacity),
		busy:    make(map[int]struct{}, capacity),
		guarded: guarded,
	}
	p.cond = sync.NewCond(&p.mu)
	for i := range p.units {
		p.units[i].Index = i
		p.units[i].Buf = make([]byte, bufSize)
		p.free = append(p.free, i)
	}
	return p
}

// Capacity returns the total number of units in the pool.
func (p *Pool) Capacity() int { return len(p.units) }

func (p *Pool) lock() {
	if p.guarded {
		p.mu.Lock()
	}
}

func (p *Pool) unlock() {
	if p.guarded {
		p.mu.Unlock()
	}
}

// popLocked pops the next available index, preferring the requeue list,
// and records it as busy; it returns -1 if none is available. Caller must
// hold the lock if guarded.
func (p *Pool) popLocked() int {
	idx := -1
	if len(p.requeue) > 0 {
		idx = p.requeue[0]
		p.requeue = p.requeue[1:]
	} else if n := len(p.free); n > 0 {
		idx = p.free[n-1]
		p.free = p.free[:n-1]
	}
	if idx >= 0 {
		p.busy[idx] = struct{}{}
	}
	return idx
}

// TryGet pops the next available unit without blocking. ok is false when
// the pool is fully busy — the caller should reap completions (Complete)
// before retrying.
func (p *Pool) TryGet() (unit *Unit, ok bool) {
	p.lock()
	defer p.unlock()
	idx := p.popLocked()
	if idx < 0 {
		return nil, false
	}
	return &p.units[idx], true
}

// Get pops the next available unit, blocking until one is freed or ctx is
// cancelled. Only meaningful when the pool is guarded (verify_async);
// unguarded pools should use TryGet, since nothing else can ever signal
// the condition variable.
func (p *Pool) Get(ctx context.Context) (*Unit, error) {
	if !p.guarded {
		u, ok := p.TryGet()
		if !ok {
			return nil, ctx.Err()
		}
		return u, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if idx := p.popLocked(); idx >= 0 {
			return &p.units[idx], nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		waitDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				p.cond.Broadcast()
			case <-waitDone:
			}
		}()
		p.cond.Wait()
		close(waitDone)
	}
}

// Submit marks a unit busy and stamps its submission time.
func (p *Pool) Submit(u *Unit) {
	p.lock()
	defer p.unlock()
	u.SubmitAt = time.Now()
	p.busy[u.Index] = struct{}{}
}

// Requeue returns a unit to the requeue list without completing it — used
// when the engine reports Busy and the worker must retry submission.
func (p *Pool) Requeue(u *Unit) {
	p.lock()
	defer p.unlock()
	delete(p.busy, u.Index)
	p.requeue = append(p.requeue, u.Index)
	if p.guarded {
		p.cond.Signal()
	}
}

// Complete moves a unit from busy back to free, stamps its completion
// time and result, and wakes any blocked Get.
func (p *Pool) Complete(u *Unit, result error) {
	p.lock()
	defer p.unlock()
	u.CompleteAt = time.Now()
	u.Result = result
	delete(p.busy, u.Index)
	p.free = append(p.free, u.Index)
	if p.guarded {
		p.cond.Signal()
	}
}

// BusyCount returns the number of units handed out and not yet completed
// or requeued.
func (p *Pool) BusyCount() int {
	p.lock()
	defer p.unlock()
	return len(p.busy)
}

// Invariant reports whether |free|+|busy|+|requeue| == Capacity, which
// must hold at every observable instant (spec.md §3 Invariant 1).
func (p *Pool) Invariant() bool {
	p.lock()
	defer p.unlock()
	return len(p.free)+len(p.busy)+len(p.requeue) == len(p.units)
}
