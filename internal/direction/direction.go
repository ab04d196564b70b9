// Package direction implements the per-I/O direction chooser of spec.md
// §4.E: fixed read/write/trim workloads, or a mixed read/write ratio with
// an independently-percented trim overlay.
package direction

import "github.com/6ak5/fio/internal/randsrc"

// Dir identifies an I/O direction.
type Dir int

const (
	Read Dir = iota
	Write
	Trim
)

func (d Dir) String() string {
	switch d {
	case Read:
		return "read"
	case Write:
		return "write"
	case Trim:
		return "trim"
	default:
		return "unknown"
	}
}

// Config configures a Chooser.
type Config struct {
	// Fixed, when non-nil, forces every draw to this direction — pure
	// read, pure write, or pure trim.
	Fixed *Dir

	// RWMixReadPercent is the read share of the mixed read/write workload,
	// 0-100. Only consulted when Fixed is nil.
	RWMixReadPercent int

	// RWMixCycle bounds how many consecutive draws honor the same
	// direction before the mix is re-evaluated; 0 or 1 re-evaluates every
	// draw.
	RWMixCycle int

	// TrimPercent interleaves trim draws independently of the read/write
	// split; 0 disables trim.
	TrimPercent int
}

// Chooser tracks rwmix_issues state across draws.
type Chooser struct {
	cfg Config

	cycleLeft int
	cycleDir  Dir
	haveCycle bool
}

// New constructs a Chooser.
func New(cfg Config) *Chooser {
	return &Chooser{cfg: cfg}
}

// Next draws the next direction.
func (c *Chooser) Next(rng randsrc.Source) Dir {
	if c.cfg.Fixed != nil {
		return *c.cfg.Fixed
	}

	if c.cfg.TrimPercent > 0 && rng.Intn(100) < c.cfg.TrimPercent {
		return Trim
	}

	cycle := c.cfg.RWMixCycle
	if cycle <= 1 {
		if rng.Intn(100) < c.cfg.RWMixReadPercent {
			return Read
		}
		return Write
	}

	if !c.haveCycle || c.cycleLeft <= 0 {
		if rng.Intn(100) < c.cfg.RWMixReadPercent {
			c.cycleDir = Read
		} else {
			c.cycleDir = Write
		}
		c.cycleLeft = cycle
		c.haveCycle = true
	}
	c.cycleLeft--
	return c.cycleDir
}
