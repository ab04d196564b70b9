// Package ratelimit implements the dual bytes/s + IOPS/s pacing and
// minimum-rate enforcement of spec.md §4.G.
//
// Maximum-rate pacing is delegated to github.com/joeycumines/go-utilpkg's catrate
// sliding-window Limiter: an IOPS cap maps directly onto one category, and
// a bytes/s cap is approximated by chunking each I/O into unitSize-sized
// "byte events" against a second category, so catrate's event-counting
// Allow() enforces a byte rate it has no native notion of. Minimum-rate
// enforcement (ratemin/rate_iops_min) has no equivalent in catrate — it
// wants a rate to never fall below a floor, not stay under a ceiling — so
// that half is hand-rolled as a plain sliding window over ratecycle.
package ratelimit

import (
	"context"
	"time"

	"github.com/joeycumines/go-utilpkg/catrate"
)

// Config configures a Limiter. Zero values disable the corresponding cap.
type Config struct {
	RateBytesPerSec int64 // rate
	RateIOPS        int   // rate_iops

	RateMinBytesPerSec int64 // ratemin
	RateMinIOPS         int  // rate_iops_min
	RateCycleMs         int  // ratecycle, default 1000ms when a minimum is set

	NoStall bool // no_stall: caps become advisory, BeforeIO never blocks
}

// defaultUnitSize is the byte granularity each catrate "event" represents
// when approximating a bytes/s cap. Kept small (sector-sized) relative to
// typical block sizes so the discretization error in BeforeIO's
// units-per-I/O rounding stays a small fraction of the true rate.
const defaultUnitSize = 512

// Limiter paces one direction's I/O submission against Config's caps.
type Limiter struct {
	cfg Config

	bytesLimiter *catrate.Limiter
	iopsLimiter  *catrate.Limiter
	unitSize     int64

	minWindow *minRateWindow
}

// New constructs a Limiter from Config.
func New(cfg Config) *Limiter {
	l := &Limiter{cfg: cfg, unitSize: defaultUnitSize}

	if cfg.RateBytesPerSec > 0 {
		units := int(cfg.RateBytesPerSec / l.unitSize)
		if units < 1 {
			units = 1
		}
		l.bytesLimiter = catrate.NewLimiter(map[time.Duration]int{time.Second: units})
	}
	if cfg.RateIOPS > 0 {
		l.iopsLimiter = catrate.NewLimiter(map[time.Duration]int{time.Second: cfg.RateIOPS})
	}
	if cfg.RateMinBytesPerSec > 0 || cfg.RateMinIOPS > 0 {
		cycle := time.Duration(cfg.RateCycleMs) * time.Millisecond
		if cycle <= 0 {
			cycle = time.Second
		}
		l.minWindow = newMinRateWindow(cycle)
	}

	return l
}

// BeforeIO blocks (unless NoStall) until both the byte-rate and IOPS-rate
// caps permit an I/O of the given length — the tighter of the two wins.
func (l *Limiter) BeforeIO(ctx context.Context, length int64) error {
	if l.cfg.NoStall {
		return nil
	}
	if l.iopsLimiter != nil {
		if err := waitAllow(ctx, l.iopsLimiter, "iops"); err != nil {
			return err
		}
	}
	if l.bytesLimiter != nil {
		units := int((length + l.unitSize - 1) / l.unitSize)
		if units < 1 {
			units = 1
		}
		for i := 0; i < units; i++ {
			if err := waitAllow(ctx, l.bytesLimiter, "bytes"); err != nil {
				return err
			}
		}
	}
	return nil
}

func waitAllow(ctx context.Context, lim *catrate.Limiter, category string) error {
	for {
		next, ok := lim.Allow(category)
		if ok {
			return nil
		}
		d := time.Until(next)
		if d <= 0 {
			continue
		}
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

// AfterIO records one completed I/O of the given length against the
// minimum-rate sliding window. It returns true the first time a fully
// elapsed ratecycle window measures below ratemin or rate_iops_min — the
// caller is expected to surface this as RateTooLow.
func (l *Limiter) AfterIO(length int64) bool {
	if l.minWindow == nil {
		return false
	}
	return l.minWindow.record(length, l.cfg.RateMinBytesPerSec, l.cfg.RateMinIOPS)
}

// minRateWindow accumulates bytes and op counts over a sliding window of
// fixed duration, evaluating the achieved rate once the window fills.
type minRateWindow struct {
	cycle       time.Duration
	windowStart time.Time
	bytes       int64
	ops         int
	now         func() time.Time
}

func newMinRateWindow(cycle time.Duration) *minRateWindow {
	return &minRateWindow{cycle: cycle, now: time.Now}
}

func (w *minRateWindow) record(length int64, minBytesPerSec int64, minIOPS int) bool {
	now := w.now()
	if w.windowStart.IsZero() {
		w.windowStart = now
	}
	w.bytes += length
	w.ops++

	elapsed := now.Sub(w.windowStart)
	if elapsed < w.cycle {
		return false
	}

	secs := elapsed.Seconds()
	tooLow := false
	if minBytesPerSec > 0 && float64(w.bytes)/secs < float64(minBytesPerSec) {
		tooLow = true
	}
	if minIOPS > 0 && float64(w.ops)/secs < float64(minIOPS) {
		tooLow = true
	}

	w.windowStart = now
	w.bytes = 0
	w.ops = 0
	return tooLow
}
