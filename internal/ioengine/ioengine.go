// Package ioengine defines the pluggable I/O engine contract of
// spec.md §4.J and a Job view engines are initialized against. A worker
// drives every engine through this interface alone — engine internals
// (async handles, syscall batching, in-memory stand-ins) are opaque.
package ioengine

import (
	"context"
	"errors"

	"github.com/6ak5/fio/internal/iounit"
)

// QueueResult reports the outcome of Engine.Queue for one unit.
type QueueResult int

const (
	// Queued means the unit was accepted but has not yet completed;
	// Commit and GetEvents are required to reap it.
	Queued QueueResult = iota
	// Completed means a synchronous engine finished the unit inline.
	Completed
	// Busy means the engine's submission queue is full; the caller
	// should Commit what's pending and retry.
	Busy
)

// ErrNotSupported is returned by engines asked to perform an operation
// they do not implement (e.g. Trim on an engine without hole-punching).
var ErrNotSupported = errors.New("ioengine: operation not supported")

// Direction tags mirrored on iounit.Unit.Dir; kept as plain ints (rather
// than importing internal/direction) so engines stay decoupled from the
// direction-chooser package.
const (
	dirRead  = 0
	dirWrite = 1
	dirTrim  = 2
)

// File is the minimal per-file handle an engine needs: a path and an
// already-resolved size, opened by the worker before engine.Init.
type File struct {
	Path string
	Size int64
	Fd   uintptr
}

// JobConfig carries the subset of Options (§6) an engine's Init needs:
// which files it will operate on and whether writes should bypass the
// page cache / be followed by an fsync on close.
type JobConfig struct {
	Files       []*File
	ODirect     bool
	SyncIO      bool
	FsyncOnClose bool
}

// Engine is the capability set every I/O engine implementation provides,
// per spec.md §4.J.
type Engine interface {
	// Init prepares the engine for the given job (opening files with the
	// right flags, arming any async context).
	Init(ctx context.Context, cfg JobConfig) error

	// Prep performs engine-specific preflight on a unit already populated
	// with direction/offset/length (e.g. arming an async handle).
	Prep(u *iounit.Unit) error

	// Queue submits u. Busy means the caller should Commit and retry.
	Queue(u *iounit.Unit) (QueueResult, error)

	// Commit flushes any queued-but-not-yet-submitted units.
	Commit() error

	// GetEvents reaps between min and max completions, waiting up to
	// timeout for at least min. Returns the number reaped.
	GetEvents(ctx context.Context, min, max int) (int, error)

	// Event retrieves the i-th unit reaped by the most recent GetEvents.
	Event(i int) *iounit.Unit

	// Cancel aborts an in-flight unit (used on worker termination).
	Cancel(u *iounit.Unit) error

	// Cleanup releases all engine resources for the job (closing files,
	// tearing down async contexts).
	Cleanup() error
}
