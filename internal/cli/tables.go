package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newTablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the tables in the store",
		Args:  cobra.NoArgs,
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			names, err := s.store.Tables(cmd.Context())
			if err != nil {
				return err
			}
			if flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), names)
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		}),
	}
}

func newColumnsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "columns <table>",
		Short: "Show the live columns of a table",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			cols, err := s.store.TableColumns(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(cols) == 0 {
				return fmt.Errorf("table %q not found", args[0])
			}
			if flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), cols)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTYPE\tKIND\tNOT NULL\tPK")
			for _, c := range cols {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\n", c.Name, c.DeclType, c.Kind(), c.NotNull, c.PrimaryKey)
			}
			return tw.Flush()
		}),
	}
}
