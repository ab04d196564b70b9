// Package output holds the process-wide --json/--quiet/--verbose flag
// state and JSON printing helpers, grounded on the teacher's
// internal/output package.
package output

import (
	"encoding/json"
	"fmt"
	"io"
)

// Exit codes, per spec.md §6: 0 = all workers completed; 1 = at least one
// worker errored; 2 = configuration rejected. The teacher's broader
// network/timeout/not-found codes have no analogue here — this generator
// never makes a network call — so they are dropped rather than carried
// unused.
const (
	ExitSuccess       = 0
	ExitWorkerError   = 1
	ExitConfigInvalid = 2
)

var (
	flagJSON    bool
	flagQuiet   bool
	flagVerbose bool
)

// SetFlags is called by the root command's PersistentPreRunE to propagate
// flag values into this package's process-wide state.
func SetFlags(jsonMode, quiet, verbose bool) {
	flagJSON = jsonMode
	flagQuiet = quiet
	flagVerbose = verbose
}

// IsJSON returns true when --json mode is active.
func IsJSON() bool { return flagJSON }

// IsQuiet returns true when --quiet mode is active.
func IsQuiet() bool { return flagQuiet }

// IsVerbose returns true when --verbose mode is active.
func IsVerbose() bool { return flagVerbose }

// PrintJSON marshals v as JSON and writes it to w.
func PrintJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// PrintError writes a JSON error envelope to w.
func PrintError(w io.Writer, code string, message string) error {
	return PrintJSON(w, map[string]string{
		"error":   code,
		"message": message,
	})
}
