// Package cli provides the command-line interface for the ferry transfer
// engine. The same engine backs the desktop UI; the CLI drives it headless
// for scripted transfers and for configuration.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ferryfm/ferry/internal/logging"
)

var (
	// Global flags
	cfgFile string
	verbose bool

	// Global logger
	logger *logging.Logger
)

// Version information - injected by the build via LDFLAGS, with a fallback
// for plain go build.
var (
	Version   = "v0.3.0-dev"
	BuildTime = "unknown"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ferry",
		Short: "Ferry transfer engine - queued copy/move/extract across backends",
		Long: `Ferry ` + Version + ` - transfer engine for the Ferry file manager.

Executes copy, move and extract operations against the local filesystem
and S3-compatible object storage, with queueing, pause/resume/cancel,
concurrency caps and a global bandwidth limit.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewDefault()
			if verbose {
				logging.SetDebug()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "session config file (default: platform config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newCopyCmd())
	rootCmd.AddCommand(newMoveCmd())
	rootCmd.AddCommand(newExtractCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ferry %s (built %s)\n", Version, BuildTime)
		},
	}
}
