//go:build linux

// psync.go implements the synchronous pread/pwrite engine, fio's default
// ioengine, repurposing the teacher's golang.org/x/sys/unix usage
// (internal/vm/machine_linux.go's Fallocate/Fadvise calls) from VM disk
// image preparation to per-I/O file access.
package ioengine

import (
	"context"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/6ak5/fio/internal/iounit"
)

// PSync is a synchronous engine: Queue performs the syscall inline and
// always returns Completed, never Queued or Busy.
type PSync struct {
	cfg   JobConfig
	files []*os.File

	lastEvents []*iounit.Unit
}

// NewPSync constructs an uninitialized PSync engine.
func NewPSync() *PSync { return &PSync{} }

func (e *PSync) Init(ctx context.Context, cfg JobConfig) error {
	e.cfg = cfg
	flags := os.O_RDWR | os.O_CREATE
	if cfg.SyncIO {
		flags |= os.O_SYNC
	}
	if cfg.ODirect {
		flags |= unix.O_DIRECT
	}

	for _, f := range cfg.Files {
		fh, err := os.OpenFile(f.Path, flags, 0o644)
		if err != nil {
			return err
		}
		if f.Size > 0 {
			if err := unix.Fallocate(int(fh.Fd()), 0, 0, f.Size); err != nil {
				// Sparse-allocation failure is non-fatal: some
				// filesystems (tmpfs, overlay) reject fallocate but
				// still honor writes past EOF.
				_ = err
			}
		}
		e.files = append(e.files, fh)
	}
	return nil
}

func (e *PSync) Prep(u *iounit.Unit) error { return nil }

func (e *PSync) Queue(u *iounit.Unit) (QueueResult, error) {
	fh := e.fileFor(u)
	if fh == nil {
		return Completed, os.ErrInvalid
	}

	var n int
	var err error
	switch {
	case u.Dir == dirTrim:
		err = unix.Fallocate(int(fh.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, u.Offset, u.Length)
	case u.Dir == dirWrite:
		n, err = unix.Pwrite(int(fh.Fd()), u.Buf[:u.Length], u.Offset)
	default:
		n, err = unix.Pread(int(fh.Fd()), u.Buf[:u.Length], u.Offset)
	}

	u.Result = err
	if err == nil && int64(n) != u.Length && u.Dir != dirTrim {
		u.Result = io.ErrShortWrite
	}
	e.lastEvents = []*iounit.Unit{u}
	return Completed, err
}

func (e *PSync) Commit() error { return nil }

func (e *PSync) GetEvents(ctx context.Context, min, max int) (int, error) {
	return len(e.lastEvents), nil
}

func (e *PSync) Event(i int) *iounit.Unit {
	if i < 0 || i >= len(e.lastEvents) {
		return nil
	}
	return e.lastEvents[i]
}

func (e *PSync) Cancel(u *iounit.Unit) error { return nil }

func (e *PSync) Cleanup() error {
	var firstErr error
	for _, fh := range e.files {
		if e.cfg.FsyncOnClose {
			if err := fh.Sync(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := fh.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *PSync) fileFor(u *iounit.Unit) *os.File {
	if len(e.files) == 0 {
		return nil
	}
	// Units carry no file slot, so every unit goes to the job's first
	// file; multi-file jobs are not indexed.
	return e.files[0]
}

// Fdatasync issues fdatasync(2) on the job's first file — used by the
// worker's fdatasync_blocks cadence (spec.md §4.K).
func (e *PSync) Fdatasync() error {
	if len(e.files) == 0 {
		return nil
	}
	return unix.Fdatasync(int(e.files[0].Fd()))
}

// Fsync issues fsync(2) on the job's first file — used by the worker's
// fsync_blocks cadence and the end_fsync barrier (spec.md §4.K).
func (e *PSync) Fsync() error {
	if len(e.files) == 0 {
		return nil
	}
	return e.files[0].Sync()
}
