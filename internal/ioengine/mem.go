// mem.go implements an in-process, byte-slice-backed engine used by
// internal/worker's tests to exercise the full submit/reap contract
// without touching a real filesystem — grounded on fio's own null/mem
// ioengines (see SPEC_FULL.md §3.2): no syscalls, content is held in
// plain Go slices so verify round-trips are exact.
package ioengine

import (
	"context"
	"sync"

	"github.com/6ak5/fio/internal/iounit"
)

// Mem is a synchronous, in-memory stand-in engine: Queue always
// completes inline against a per-file byte slice.
type Mem struct {
	mu    sync.Mutex
	files map[string][]byte
	order []string // insertion order; single-file jobs use order[0]

	lastEvents []*iounit.Unit
}

// NewMem constructs an uninitialized Mem engine.
func NewMem() *Mem { return &Mem{} }

func (e *Mem) Init(ctx context.Context, cfg JobConfig) error {
	e.files = make(map[string][]byte, len(cfg.Files))
	e.order = nil
	for _, f := range cfg.Files {
		size := f.Size
		if size <= 0 {
			size = 1 << 20
		}
		e.files[f.Path] = make([]byte, size)
		e.order = append(e.order, f.Path)
	}
	return nil
}

func (e *Mem) Prep(u *iounit.Unit) error { return nil }

func (e *Mem) Queue(u *iounit.Unit) (QueueResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.order) == 0 {
		return Completed, nil
	}
	buf := e.files[e.order[0]]

	end := u.Offset + u.Length
	if end > int64(len(buf)) {
		grown := make([]byte, end)
		copy(grown, buf)
		buf = grown
		e.files[e.order[0]] = buf
	}

	switch u.Dir {
	case dirWrite:
		copy(buf[u.Offset:end], u.Buf[:u.Length])
	case dirTrim:
		for i := u.Offset; i < end; i++ {
			buf[i] = 0
		}
	default: // read
		copy(u.Buf[:u.Length], buf[u.Offset:end])
	}

	u.Result = nil
	e.lastEvents = []*iounit.Unit{u}
	return Completed, nil
}

func (e *Mem) Commit() error { return nil }

func (e *Mem) GetEvents(ctx context.Context, min, max int) (int, error) {
	return len(e.lastEvents), nil
}

func (e *Mem) Event(i int) *iounit.Unit {
	if i < 0 || i >= len(e.lastEvents) {
		return nil
	}
	return e.lastEvents[i]
}

func (e *Mem) Cancel(u *iounit.Unit) error { return nil }

func (e *Mem) Cleanup() error { return nil }
