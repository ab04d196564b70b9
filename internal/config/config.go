// Package config holds the Options value spec.md §6 names — the external
// interface this generator is configured through — and loads/saves it
// with github.com/pelletier/go-toml/v2, the same library and Load/Save/Get/Set
// shape the teacher's own internal/config package uses for its TOML-backed
// config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/6ak5/fio/internal/blocksize"
	"github.com/6ak5/fio/internal/direction"
	"github.com/6ak5/fio/internal/ratelimit"
	"github.com/6ak5/fio/internal/verify"
	"github.com/6ak5/fio/internal/worker"
)

// Options is the full external interface of spec.md §6: every knob the
// config layer hands to the core, grouped the way §6 groups them.
type Options struct {
	// Workload
	Direction string `toml:"direction"` // read, write, trim, randread, randwrite, randtrim, randrw
	RWMix     int    `toml:"rwmix"`     // read share, 0-100, only consulted for randrw
	RWMixCycle int   `toml:"rwmixcycle"`
	TrimPercent int  `toml:"trim_percent"`
	BS        string `toml:"bs"` // "4096" or "4k-64k" (range) or bssplit "4k/50:8k/50"
	BA        int64  `toml:"ba"`
	BSUnaligned bool `toml:"bs_unaligned"`
	Size      int64  `toml:"size"`
	Offset    int64  `toml:"offset"`
	ZoneSize  int64  `toml:"zone_size"`
	ZoneSkip  int64  `toml:"zone_skip"`
	SeqIdent  bool   `toml:"rw_seq_ident"`
	Loops     int    `toml:"loops"`
	TimeBased bool   `toml:"time_based"`
	Timeout   time.Duration `toml:"timeout"`
	RampTime  time.Duration `toml:"ramp_time"`

	// Concurrency
	IODepth              int    `toml:"iodepth"`
	IODepthLow           int    `toml:"iodepth_low"`
	IODepthBatch         int    `toml:"iodepth_batch"`
	IODepthBatchComplete int    `toml:"iodepth_batch_complete"`
	NumJobs              int    `toml:"numjobs"`
	UseThread            bool   `toml:"use_thread"` // carried for config fidelity; the goroutine scheduler replaces OS thread/process selection
	CPUMask              string `toml:"cpumask"`    // carried for config fidelity; no CPU-affinity pinning is implemented
	Nice                 int    `toml:"nice"`        // carried for config fidelity; no process priority is implemented

	// Determinism
	RandRepeatable bool      `toml:"rand_repeatable"`
	UseOSRand      bool      `toml:"use_os_rand"`
	RandSeeds      [8]uint64 `toml:"rand_seeds"`

	// Rate
	Rate        int64         `toml:"rate"`
	RateMin     int64         `toml:"ratemin"`
	RateIOPS    int           `toml:"rate_iops"`
	RateIOPSMin int           `toml:"rate_iops_min"`
	RateCycle   time.Duration `toml:"ratecycle"`
	NoStall     bool          `toml:"no_stall"`

	// Verify
	Verify         string `toml:"verify"` // off, crc, full, meta
	VerifyInterval int64  `toml:"verify_interval"`
	VerifyOffset   int64  `toml:"verify_offset"`
	VerifyPattern  string `toml:"verify_pattern"` // hex string, <= 512 bytes decoded
	VerifyFatal    bool   `toml:"verify_fatal"`
	VerifyDump     bool   `toml:"verify_dump"`
	VerifyAsync    int    `toml:"verify_async"` // nr_verify_threads
	VerifyBacklog  int    `toml:"verify_backlog"`
	VerifyBatch    int    `toml:"verify_batch"`
	VerifySort     bool   `toml:"verify_sort"` // selects tree-ordered (true) history over insertion-ordered

	// Files
	Directory       string `toml:"directory"`
	Filename        string `toml:"filename"`
	NrFiles         int    `toml:"nr_files"`
	FileServiceType string `toml:"file_service_type"` // roundrobin, random, sequential
	FileServiceNr   int    `toml:"file_service_nr"`
	CreateSerialize bool   `toml:"create_serialize"`
	CreateFsync     bool   `toml:"create_fsync"`
	CreateOnOpen    bool   `toml:"create_on_open"`
	PreRead         bool   `toml:"pre_read"`
	Unlink          bool   `toml:"unlink"`
	FallocateMode   string `toml:"fallocate_mode"`
	FsyncOnClose    bool   `toml:"fsync_on_close"`
	EndFsync        bool   `toml:"end_fsync"`
	ODirect         bool   `toml:"odirect"`
	SyncIO          bool   `toml:"sync_io"`

	// Buffers
	MemType         string `toml:"mem_type"` // heap, shm, shm-huge, mmap, mmap-huge — only heap is backed; others documented in DESIGN.md
	MemAlign        int    `toml:"mem_align"`
	HugepageSize    int64  `toml:"hugepage_size"`
	ZeroBuffers     bool   `toml:"zero_buffers"`
	RefillBuffers   bool   `toml:"refill_buffers"`
	ScrambleBuffers bool   `toml:"scramble_buffers"`

	// Timing cadence
	FsyncBlocks     int `toml:"fsync_blocks"`
	FdatasyncBlocks int `toml:"fdatasync_blocks"`

	// Timing/stats
	DisableLat      bool          `toml:"disable_lat"`
	DisableClat     bool          `toml:"disable_clat"`
	DisableSlat     bool          `toml:"disable_slat"`
	DisableBW       bool          `toml:"disable_bw"`
	GtodReduce      bool          `toml:"gtod_reduce"`
	GtodOffload     bool          `toml:"gtod_offload"`
	GtodCPU         int           `toml:"gtod_cpu"`
	ClatPercentiles bool          `toml:"clat_percentiles"`
	PercentileList  []float64     `toml:"percentile_list"` // <= 20 entries
	BWAvgTime       time.Duration `toml:"bw_avg_time"`
	Clocksource     string        `toml:"clocksource"`

	// Errors
	ContinueOnError bool `toml:"continue_on_error"`

	// Random map
	NoRandomMap bool `toml:"norandommap"`
	SoftRandMap bool `toml:"softrandommap"`
}

// Defaults returns fio's well-known defaults: bs=4096, iodepth=1,
// ratecycle=1000ms, direction=read, verify=off.
func Defaults() *Options {
	return &Options{
		Direction:            "read",
		BS:                   "4096",
		Loops:                1,
		IODepth:              1,
		IODepthBatch:         1,
		IODepthBatchComplete: 1,
		NumJobs:              1,
		RateCycle:            time.Second,
		Verify:               "off",
		VerifyBacklog:        1,
		FileServiceType:      "roundrobin",
		MemType:              "heap",
		FallocateMode:        "posix",
	}
}

// configDirOverride is set by the --config-dir flag or FIOGEN_HOME env var.
var configDirOverride string

// SetConfigDir allows the CLI to pass in the --config-dir value.
func SetConfigDir(dir string) {
	configDirOverride = dir
}

// ConfigDir returns the config directory path. Precedence: SetConfigDir >
// FIOGEN_HOME env > ~/.fiogen.
func ConfigDir() string {
	if configDirOverride != "" {
		return configDirOverride
	}
	if v := os.Getenv("FIOGEN_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".fiogen")
	}
	return filepath.Join(home, ".fiogen")
}

// ConfigPath returns the full path to options.toml.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "options.toml")
}

// EnsureDir creates the config directory if it does not exist.
func EnsureDir() error {
	return os.MkdirAll(ConfigDir(), 0o755)
}

// Load reads options.toml layered over Defaults(). A missing file yields
// the defaults unchanged.
func Load() (*Options, error) {
	opts := Defaults()
	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return opts, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("parsing options.toml: %w", err)
	}
	return opts, nil
}

// Save writes opts back to options.toml.
func Save(opts *Options) error {
	if err := EnsureDir(); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := toml.Marshal(opts)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(ConfigPath(), data, 0o644)
}

// validKeys lists the dot-separated keys Get/Set accept — the knobs
// tuned most often from the command line, mirroring the teacher's
// narrow curated key set rather than exposing every field.
var validKeys = map[string]bool{
	"direction":        true,
	"bs":               true,
	"size":             true,
	"iodepth":          true,
	"rate":             true,
	"rate_iops":        true,
	"verify":           true,
	"loops":            true,
	"time_based":       true,
	"timeout":          true,
	"continue_on_error": true,
}

// Get retrieves a single config value by dot-separated key.
func Get(key string) (string, error) {
	if !validKeys[key] {
		return "", fmt.Errorf("unknown config key: %s", key)
	}
	opts, err := Load()
	if err != nil {
		return "", err
	}
	return getField(opts, key)
}

// Set sets a single config value by dot-separated key.
func Set(key, value string) error {
	if !validKeys[key] {
		return fmt.Errorf("unknown config key: %s", key)
	}
	opts, err := Load()
	if err != nil {
		return err
	}
	if err := setField(opts, key, value); err != nil {
		return err
	}
	return Save(opts)
}

func getField(opts *Options, key string) (string, error) {
	switch key {
	case "direction":
		return opts.Direction, nil
	case "bs":
		return opts.BS, nil
	case "size":
		return strconv.FormatInt(opts.Size, 10), nil
	case "iodepth":
		return strconv.Itoa(opts.IODepth), nil
	case "rate":
		return strconv.FormatInt(opts.Rate, 10), nil
	case "rate_iops":
		return strconv.Itoa(opts.RateIOPS), nil
	case "verify":
		return opts.Verify, nil
	case "loops":
		return strconv.Itoa(opts.Loops), nil
	case "time_based":
		return strconv.FormatBool(opts.TimeBased), nil
	case "timeout":
		return opts.Timeout.String(), nil
	case "continue_on_error":
		return strconv.FormatBool(opts.ContinueOnError), nil
	default:
		return "", fmt.Errorf("unknown config key: %s", key)
	}
}

func setField(opts *Options, key, value string) error {
	switch key {
	case "direction":
		opts.Direction = value
	case "bs":
		opts.BS = value
	case "size":
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("size: %w", err)
		}
		opts.Size = v
	case "iodepth":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("iodepth: %w", err)
		}
		opts.IODepth = v
	case "rate":
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("rate: %w", err)
		}
		opts.Rate = v
	case "rate_iops":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("rate_iops: %w", err)
		}
		opts.RateIOPS = v
	case "verify":
		opts.Verify = value
	case "loops":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("loops: %w", err)
		}
		opts.Loops = v
	case "time_based":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("time_based: %w", err)
		}
		opts.TimeBased = v
	case "timeout":
		v, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		opts.Timeout = v
	case "continue_on_error":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("continue_on_error: %w", err)
		}
		opts.ContinueOnError = v
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}

// ParseSize parses a byte-count string with an optional k/m/g/t suffix
// (case-insensitive, binary multiples — fio's own size-parsing convention).
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := int64(1)
	last := s[len(s)-1]
	switch last {
	case 'k', 'K':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1 << 30
		s = s[:len(s)-1]
	case 't', 'T':
		mult = 1 << 40
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing size %q: %w", s, err)
	}
	return v * mult, nil
}

// parseBlockSize turns a bs spec into a blocksize.Config: a bare size
// ("4096"), a range ("4k-64k"), or a weighted split ("4k/50:8k/50").
func parseBlockSize(spec string, align int64, unaligned bool) (blocksize.Config, error) {
	cfg := blocksize.Config{Align: align, Unaligned: unaligned}

	if strings.Contains(spec, "/") {
		parts := strings.Split(spec, ":")
		weighted := make([]blocksize.WeightedSize, 0, len(parts))
		for _, p := range parts {
			fields := strings.SplitN(p, "/", 2)
			if len(fields) != 2 {
				return cfg, fmt.Errorf("bssplit entry %q: want size/percent", p)
			}
			size, err := ParseSize(fields[0])
			if err != nil {
				return cfg, err
			}
			pct, err := strconv.Atoi(fields[1])
			if err != nil {
				return cfg, fmt.Errorf("bssplit percent %q: %w", fields[1], err)
			}
			weighted = append(weighted, blocksize.WeightedSize{Size: size, Percent: pct})
		}
		cfg.Weighted = weighted
		return cfg, nil
	}

	if strings.Contains(spec, "-") {
		fields := strings.SplitN(spec, "-", 2)
		min, err := ParseSize(fields[0])
		if err != nil {
			return cfg, err
		}
		max, err := ParseSize(fields[1])
		if err != nil {
			return cfg, err
		}
		cfg.Min, cfg.Max = min, max
		return cfg, nil
	}

	v, err := ParseSize(spec)
	if err != nil {
		return cfg, err
	}
	cfg.Min, cfg.Max = v, v
	return cfg, nil
}

func parseDirection(spec string) (direction.Config, error) {
	switch spec {
	case "read":
		d := direction.Read
		return direction.Config{Fixed: &d}, nil
	case "write":
		d := direction.Write
		return direction.Config{Fixed: &d}, nil
	case "trim":
		d := direction.Trim
		return direction.Config{Fixed: &d}, nil
	case "randread":
		d := direction.Read
		return direction.Config{Fixed: &d}, nil
	case "randwrite":
		d := direction.Write
		return direction.Config{Fixed: &d}, nil
	case "randtrim":
		d := direction.Trim
		return direction.Config{Fixed: &d}, nil
	case "randrw", "rw":
		return direction.Config{}, nil // RWMix/RWMixCycle/TrimPercent filled by caller
	default:
		return direction.Config{}, fmt.Errorf("unknown direction: %s", spec)
	}
}

// parseVerifyPatternKey folds a verify_pattern hex string (fio accepts up
// to 512 bytes; only the first 8 matter here since the block-seed mix is
// a single uint64 XOR) into the base key Pattern.Fill expands from.
func parseVerifyPatternKey(spec string) uint64 {
	spec = strings.TrimPrefix(strings.TrimSpace(spec), "0x")
	if spec == "" {
		return 0
	}
	if len(spec) > 16 {
		spec = spec[:16]
	}
	v, err := strconv.ParseUint(spec, 16, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseVerifyMode(spec string) (verify.Mode, error) {
	switch strings.ToLower(spec) {
	case "", "off", "none":
		return verify.Off, nil
	case "crc", "crc32":
		return verify.HeaderCRC, nil
	case "full", "pattern":
		return verify.HeaderFull, nil
	case "meta":
		return verify.Meta, nil
	default:
		return verify.Off, fmt.Errorf("unknown verify mode: %s", spec)
	}
}

// ToWorkerOptions converts the external Options into the subset
// worker.Job consumes for one of NumJobs parallel workers. filePath and
// fileSize resolve the file-selection options (directory/filename/
// nr_files/size) the caller has already settled.
func (o *Options) ToWorkerOptions(filePath string, fileSize int64) (worker.Options, error) {
	dirCfg, err := parseDirection(o.Direction)
	if err != nil {
		return worker.Options{}, err
	}
	random := strings.HasPrefix(o.Direction, "rand")
	if o.Direction == "randrw" || o.Direction == "rw" {
		dirCfg.RWMixReadPercent = o.RWMix
		dirCfg.RWMixCycle = o.RWMixCycle
		dirCfg.TrimPercent = o.TrimPercent
	}

	bsCfg, err := parseBlockSize(o.BS, o.BA, o.BSUnaligned)
	if err != nil {
		return worker.Options{}, err
	}

	verifyMode, err := parseVerifyMode(o.Verify)
	if err != nil {
		return worker.Options{}, err
	}

	rateCycleMs := int(o.RateCycle / time.Millisecond)

	return worker.Options{
		FilePath:  filePath,
		FileSize:  fileSize,
		Direction: dirCfg,
		Random:    random,
		ZoneSize:  o.ZoneSize,
		ZoneSkip:  o.ZoneSkip,
		SeqNr:     0,
		SeqAdd:    0,
		SeqIdent:  o.SeqIdent,
		BlockSize: bsCfg,
		NoRandomMap: o.NoRandomMap,
		SoftRandMap: o.SoftRandMap,
		Loops:       o.Loops,
		TimeBased:   o.TimeBased,
		Timeout:     o.Timeout,
		RampTime:    o.RampTime,
		TargetBytes: o.Size,

		IODepth:              o.IODepth,
		IODepthBatch:         o.IODepthBatch,
		IODepthBatchComplete: o.IODepthBatchComplete,

		RandRepeatable: o.RandRepeatable,
		UseOSRand:      o.UseOSRand,
		Seeds:          o.RandSeeds,

		Rate: ratelimit.Config{
			RateBytesPerSec:    o.Rate,
			RateIOPS:           o.RateIOPS,
			RateMinBytesPerSec: o.RateMin,
			RateMinIOPS:        o.RateIOPSMin,
			RateCycleMs:        rateCycleMs,
			NoStall:            o.NoStall,
		},

		VerifyMode:      verifyMode,
		VerifyOverwrite: o.VerifySort,
		VerifyInterval:  o.VerifyInterval,
		VerifyFatal:     o.VerifyFatal,
		VerifyAsyncN:     o.VerifyAsync,
		VerifyBacklog:    o.VerifyBacklog,
		VerifyPatternKey: parseVerifyPatternKey(o.VerifyPattern),

		ContinueOnError: o.ContinueOnError,

		FsyncBlocks:     o.FsyncBlocks,
		FdatasyncBlocks: o.FdatasyncBlocks,
		EndFsync:        o.EndFsync,

		ODirect:      o.ODirect,
		SyncIO:       o.SyncIO,
		FsyncOnClose: o.FsyncOnClose,
	}, nil
}
