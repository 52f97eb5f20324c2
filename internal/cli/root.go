// Package cli implements the recordkit command-line interface: a small
// inspector for the tables a recordkit store manages.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/recordkit/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
	logLevel  string
}

var flags rootFlags

// NewRootCmd creates the top-level "recordkit" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "recordkit",
		Short: "Inspect and move records stored by recordkit",
		Long: "recordkit opens the embedded SQLite store used by recordkit applications\n" +
			"and lists, dumps, exports and imports its tables.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "data directory (default: $(CWD)/.recordkit-db)")
	root.PersistentFlags().BoolVar(&flags.jsonMode, "json", false, "output in JSON format")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log to stderr at this level (debug, info, warn, error)")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(),
		newTablesCmd(),
		newColumnsCmd(),
		newDumpCmd(),
		newExportCmd(),
		newImportCmd(),
		newClearCmd(),
		newDropCmd(),
	)
	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	root := NewRootCmd()
	err := root.ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps storage and I/O failures to exitSysError and everything else
// to exitUserError.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case errors.Is(err, types.ErrConnectionUnavailable),
		errors.Is(err, types.ErrWrite),
		errors.Is(err, os.ErrPermission):
		return exitSysError
	default:
		return exitUserError
	}
}
