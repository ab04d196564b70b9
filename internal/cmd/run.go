package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/6ak5/fio/internal/config"
	"github.com/6ak5/fio/internal/direction"
	"github.com/6ak5/fio/internal/ioengine"
	"github.com/6ak5/fio/internal/output"
	"github.com/6ak5/fio/internal/report"
	"github.com/6ak5/fio/internal/supervisor"
	"github.com/6ak5/fio/internal/worker"
)

var (
	runDirectionFlag string
	runBSFlag        string
	runSizeFlag      string
	runIODepthFlag   int
	runLoopsFlag     int
	runNumJobsFlag   int
	runVerifyFlag    string
	runRateFlag      string
	runEngineFlag    string
	runTimeoutFlag   time.Duration
	runDirFlag       string
	runLogDirFlag    string
)

// sampleSink fans a worker's per-I/O samples out to the three logs of
// spec.md §6 (latency, bandwidth, completion-latency), each backed by its
// own report.SampleLog/file — the call site report.SampleLog itself never
// had: worker.Job holds a worker.SampleSink, and this is the adapter that
// lets a *report.SampleLog satisfy it without report importing worker's
// internals or worker importing report.
type sampleSink struct {
	latF, bwF, clatF *os.File
	lat, bw, clat    *report.SampleLog
}

func newSampleSink(dir string, index int) (*sampleSink, error) {
	open := func(suffix string) (*os.File, error) {
		return os.Create(filepath.Join(dir, fmt.Sprintf("fio-job-%d_%s.log", index, suffix)))
	}

	latF, err := open("lat")
	if err != nil {
		return nil, err
	}
	bwF, err := open("bw")
	if err != nil {
		latF.Close()
		return nil, err
	}
	clatF, err := open("clat")
	if err != nil {
		latF.Close()
		bwF.Close()
		return nil, err
	}

	lat, err := report.NewSampleLog(latF)
	if err != nil {
		return nil, err
	}
	bw, err := report.NewSampleLog(bwF)
	if err != nil {
		return nil, err
	}
	clat, err := report.NewSampleLog(clatF)
	if err != nil {
		return nil, err
	}

	return &sampleSink{latF: latF, bwF: bwF, clatF: clatF, lat: lat, bw: bw, clat: clat}, nil
}

// Sample implements worker.SampleSink.
func (s *sampleSink) Sample(kind worker.SampleKind, dir direction.Dir, value int64, blockSize int64) {
	sample := report.Sample{TimestampMs: time.Now().UnixMilli(), Value: value, Direction: dir, BlockSize: blockSize}
	switch kind {
	case worker.SampleLatency:
		_ = s.lat.Write(sample)
	case worker.SampleBandwidth:
		_ = s.bw.Write(sample)
	case worker.SampleCompletionLatency:
		_ = s.clat.Write(sample)
	}
}

func (s *sampleSink) Close() {
	s.latF.Close()
	s.bwF.Close()
	s.clatF.Close()
}

func addRunCommand(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an I/O workload",
		Long: `Run a synthetic I/O workload against one or more job files and report
throughput, IOPS, latency, and verification results.

Flags override the saved config (~/.fiogen/options.toml); omitted flags
fall back to it.`,
		Args: cobra.NoArgs,
		RunE: runRun,
	}

	flags := cmd.Flags()
	flags.StringVar(&runDirectionFlag, "direction", "", "read, write, trim, randread, randwrite, randtrim, randrw")
	flags.StringVar(&runBSFlag, "bs", "", "block size: \"4096\", \"4k-64k\", or \"4k/50:8k/50\"")
	flags.StringVar(&runSizeFlag, "size", "", "per-job target size, e.g. 64m")
	flags.IntVar(&runIODepthFlag, "iodepth", 0, "in-flight I/O depth")
	flags.IntVar(&runLoopsFlag, "loops", 0, "number of passes over the file")
	flags.IntVar(&runNumJobsFlag, "numjobs", 0, "number of parallel workers")
	flags.StringVar(&runVerifyFlag, "verify", "", "off, crc, full, meta")
	flags.StringVar(&runRateFlag, "rate", "", "max bytes/s, e.g. 10m")
	flags.StringVar(&runEngineFlag, "ioengine", "psync", "psync or mem")
	flags.DurationVar(&runTimeoutFlag, "timeout", 0, "time-based run duration, e.g. 30s")
	flags.StringVar(&runDirFlag, "directory", "", "directory to place job files in (default: cwd)")
	flags.StringVar(&runLogDirFlag, "write-log", "", "directory to write per-sample latency/bandwidth/completion-latency logs (disabled if empty)")

	parent.AddCommand(cmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	opts, err := config.Load()
	if err != nil {
		if !output.IsJSON() {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		}
		os.Exit(output.ExitConfigInvalid)
	}
	applyRunFlags(opts)

	numJobs := opts.NumJobs
	if numJobs < 1 {
		numJobs = 1
	}
	fileSize := opts.Size
	if fileSize <= 0 {
		fileSize = 64 << 20
	}
	dir := opts.Directory
	if dir == "" {
		dir = "."
	}

	workerOpts := make([]worker.Options, numJobs)
	var sinks []*sampleSink
	for i := 0; i < numJobs; i++ {
		name := opts.Filename
		if name == "" {
			name = fmt.Sprintf("fio-job-%d.dat", i)
		} else if numJobs > 1 {
			name = fmt.Sprintf("%s.%d", name, i)
		}
		wo, err := opts.ToWorkerOptions(filepath.Join(dir, name), fileSize)
		if err != nil {
			if output.IsJSON() {
				output.PrintError(os.Stderr, "config_invalid", err.Error())
			} else {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			os.Exit(output.ExitConfigInvalid)
		}
		if runLogDirFlag != "" {
			sink, err := newSampleSink(runLogDirFlag, i)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error opening sample logs: %v\n", err)
				os.Exit(output.ExitConfigInvalid)
			}
			wo.Samples = sink
			sinks = append(sinks, sink)
		}
		workerOpts[i] = wo
	}

	factory := engineFactory(runEngineFlag)

	sup := supervisor.New(numJobs, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	sup.Spawn(ctx, workerOpts, factory)
	results := sup.Wait(0)
	elapsed := time.Since(start).Seconds()

	for _, sink := range sinks {
		sink.Close()
	}

	reportResults := make([]report.WorkerResult, len(results))
	anyErr := false
	for i, r := range results {
		reportResults[i] = report.WorkerResult{Index: r.Index, Stats: r.Stats, Err: r.Err}
		if r.Err != nil {
			anyErr = true
		}
	}

	if output.IsJSON() {
		if err := output.PrintJSON(cmd.OutOrStdout(), reportResults); err != nil {
			return err
		}
	} else if !output.IsQuiet() {
		if err := report.WriteSummary(cmd.OutOrStdout(), elapsed, reportResults); err != nil {
			return err
		}
	}

	if anyErr {
		os.Exit(output.ExitWorkerError)
	}
	return nil
}

func applyRunFlags(opts *config.Options) {
	if runDirectionFlag != "" {
		opts.Direction = runDirectionFlag
	}
	if runBSFlag != "" {
		opts.BS = runBSFlag
	}
	if runSizeFlag != "" {
		if v, err := config.ParseSize(runSizeFlag); err == nil {
			opts.Size = v
		}
	}
	if runIODepthFlag > 0 {
		opts.IODepth = runIODepthFlag
	}
	if runLoopsFlag > 0 {
		opts.Loops = runLoopsFlag
	}
	if runNumJobsFlag > 0 {
		opts.NumJobs = runNumJobsFlag
	}
	if runVerifyFlag != "" {
		opts.Verify = runVerifyFlag
	}
	if runRateFlag != "" {
		if v, err := config.ParseSize(runRateFlag); err == nil {
			opts.Rate = v
		}
	}
	if runTimeoutFlag > 0 {
		opts.TimeBased = true
		opts.Timeout = runTimeoutFlag
	}
	if runDirFlag != "" {
		opts.Directory = runDirFlag
	}
}

func engineFactory(name string) supervisor.EngineFactory {
	switch name {
	case "mem":
		return func(int) ioengine.Engine { return ioengine.NewMem() }
	default:
		return func(int) ioengine.Engine { return ioengine.NewPSync() }
	}
}
