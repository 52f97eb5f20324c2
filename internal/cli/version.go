package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the recordkit release.
const Version = "0.3.0"

const modulePath = "github.com/mesh-intelligence/recordkit"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the recordkit version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string]string{"version": Version, "module": modulePath})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recordkit v%s\nmodule: %s\n", Version, modulePath)
			return nil
		},
	}
}
