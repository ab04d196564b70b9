// Package report persists per-sample logs and renders the final
// human-readable summary, grounded on the teacher's tabwriter-based
// internal/cmd listing output.
package report

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/6ak5/fio/internal/direction"
	"github.com/6ak5/fio/internal/worker"
)

// Sample is one per-sample record written to a latency/bandwidth/
// completion-latency log, per spec.md §6's "timestamp_ms, value,
// direction, block_size" shape.
type Sample struct {
	TimestampMs int64
	Value       int64
	Direction   direction.Dir
	BlockSize   int64
}

// SampleLog writes CSV-like per-sample records to an underlying writer.
// Three independent instances back the latency, bandwidth, and
// completion-latency logs named in spec.md §6.
type SampleLog struct {
	w io.Writer
}

// NewSampleLog wraps w as a sample log, writing a header row immediately.
func NewSampleLog(w io.Writer) (*SampleLog, error) {
	if _, err := fmt.Fprintln(w, "timestamp_ms,value,direction,block_size"); err != nil {
		return nil, err
	}
	return &SampleLog{w: w}, nil
}

// Write appends one sample record.
func (l *SampleLog) Write(s Sample) error {
	_, err := fmt.Fprintf(l.w, "%d,%d,%s,%d\n", s.TimestampMs, s.Value, s.Direction, s.BlockSize)
	return err
}

// WorkerResult pairs a worker's final stats with its index and terminal
// error, mirroring supervisor.Result without importing the supervisor
// package.
type WorkerResult struct {
	Index int
	Stats *worker.Stats
	Err   error
}

// WriteSummary renders the final textual summary: per-direction
// throughput, IOPS, latency stats, percentiles, and depth/latency
// histograms, via text/tabwriter in the teacher's reporting style.
func WriteSummary(w io.Writer, elapsed float64, results []WorkerResult) error {
	var agg worker.Stats

	for _, r := range results {
		if r.Stats == nil {
			continue
		}
		for d := 0; d < 3; d++ {
			agg.IOBytes[d] += r.Stats.IOBytes[d]
			agg.IOCount[d] += r.Stats.IOCount[d]
		}
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DIRECTION\tBYTES\tIOPS\tBW (B/s)")
	for _, d := range []direction.Dir{direction.Read, direction.Write, direction.Trim} {
		if agg.IOCount[d] == 0 {
			continue
		}
		iops := float64(agg.IOCount[d])
		bw := float64(agg.IOBytes[d])
		if elapsed > 0 {
			iops /= elapsed
			bw /= elapsed
		}
		fmt.Fprintf(tw, "%s\t%d\t%.1f\t%.1f\n", d, agg.IOBytes[d], iops, bw)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for i, r := range results {
		if r.Err != nil {
			fmt.Fprintf(w, "worker %d: error: %v\n", i, r.Err)
		}
	}

	fmt.Fprintln(w)
	for i, r := range results {
		if r.Stats == nil {
			continue
		}
		for _, d := range []direction.Dir{direction.Read, direction.Write, direction.Trim} {
			h := r.Stats.Lat[d]
			if h == nil || h.Count() == 0 {
				continue
			}
			fmt.Fprintf(w, "worker %d %s latency (us): min=%d max=%d mean=%.1f p50=%d p99=%d p99.9=%d\n",
				i, d, h.Min(), h.Max(), h.Mean(), h.Percentile(50), h.Percentile(99), h.Percentile(99.9))
		}
		bins := r.Stats.Depth.Bins()
		fmt.Fprintf(w, "worker %d depth histogram: %v\n", i, bins)
	}

	return nil
}
