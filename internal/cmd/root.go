// Package cmd wires the cobra CLI surface, grounded on the teacher's
// internal/cmd root command: persistent --json/--verbose/--quiet/
// --config-dir flags feeding internal/output, plus one subcommand per
// concern.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/6ak5/fio/internal/config"
	"github.com/6ak5/fio/internal/output"
)

// Version is set at build time via -ldflags, per the teacher's own
// convention for stamping a CLI version string.
var Version = "dev"

var (
	jsonFlag    bool
	verboseFlag bool
	quietFlag   bool
	configDir   string
)

// NewRootCmd assembles the root command and all subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := newRootCmd()
	addConfigCommands(rootCmd)
	addRunCommand(rootCmd)
	return rootCmd
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fio",
		Short:         "Synthetic I/O workload generator",
		Long:          "fio — generates synthetic I/O workloads against files or raw devices and reports latency, bandwidth, and verification results.",
		Version:       fmt.Sprintf("fio v%s", Version),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verboseFlag && quietFlag {
				return fmt.Errorf("--verbose and --quiet are mutually exclusive")
			}
			if jsonFlag {
				quietFlag = true
			}
			output.SetFlags(jsonFlag, quietFlag, verboseFlag)
			config.SetConfigDir(configDir)
			return nil
		},
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.SetVersionTemplate("{{.Version}}\n")

	pflags := rootCmd.PersistentFlags()
	pflags.BoolVarP(&jsonFlag, "json", "j", false, "Output as JSON")
	pflags.BoolVarP(&verboseFlag, "verbose", "v", false, "Extra detail to stderr")
	pflags.BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output")
	pflags.StringVar(&configDir, "config-dir", "", "Override config directory (default: ~/.fiogen)")

	if v := os.Getenv("FIOGEN_HOME"); v != "" && configDir == "" {
		configDir = v
	}
	if os.Getenv("FIOGEN_JSON") == "1" {
		jsonFlag = true
	}

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	return cmd.Execute()
}
