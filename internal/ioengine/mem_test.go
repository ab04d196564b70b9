package ioengine

import (
	"context"
	"testing"

	"github.com/6ak5/fio/internal/iounit"
)

func TestMemWriteThenReadRoundTrip(t *testing.T) {
	eng := NewMem()
	ctx := context.Background()
	if err := eng.Init(ctx, JobConfig{Files: []*File{{Path: "job.dat", Size: 4096}}}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer eng.Cleanup()

	write := &iounit.Unit{Offset: 0, Length: 512, Dir: dirWrite, Buf: make([]byte, 512)}
	for i := range write.Buf {
		write.Buf[i] = byte(i)
	}
	if res, err := eng.Queue(write); res != Completed || err != nil {
		t.Fatalf("write queue: res=%v err=%v", res, err)
	}

	read := &iounit.Unit{Offset: 0, Length: 512, Dir: dirRead, Buf: make([]byte, 512)}
	if res, err := eng.Queue(read); res != Completed || err != nil {
		t.Fatalf("read queue: res=%v err=%v", res, err)
	}

	for i := range read.Buf {
		if read.Buf[i] != byte(i) {
			t.Fatalf("byte %d: got %d, want %d", i, read.Buf[i], byte(i))
		}
	}
}

func TestMemTrimZeroesRegion(t *testing.T) {
	eng := NewMem()
	ctx := context.Background()
	eng.Init(ctx, JobConfig{Files: []*File{{Path: "job.dat", Size: 4096}}})

	write := &iounit.Unit{Offset: 0, Length: 16, Dir: dirWrite, Buf: make([]byte, 16)}
	for i := range write.Buf {
		write.Buf[i] = 0xFF
	}
	eng.Queue(write)

	trim := &iounit.Unit{Offset: 0, Length: 16, Dir: dirTrim}
	eng.Queue(trim)

	read := &iounit.Unit{Offset: 0, Length: 16, Dir: dirRead, Buf: make([]byte, 16)}
	eng.Queue(read)

	for i, b := range read.Buf {
		if b != 0 {
			t.Fatalf("byte %d: got %d, want 0 after trim", i, b)
		}
	}
}

func TestMemGetEventsReflectsLastQueue(t *testing.T) {
	eng := NewMem()
	ctx := context.Background()
	eng.Init(ctx, JobConfig{Files: []*File{{Path: "job.dat", Size: 4096}}})

	u := &iounit.Unit{Offset: 0, Length: 8, Dir: dirWrite, Buf: make([]byte, 8)}
	eng.Queue(u)

	n, err := eng.GetEvents(ctx, 1, 1)
	if err != nil || n != 1 {
		t.Fatalf("GetEvents: n=%d err=%v", n, err)
	}
	if eng.Event(0) != u {
		t.Fatal("Event(0) did not return the queued unit")
	}
}
