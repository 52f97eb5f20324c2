package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <table> <file>",
		Short: "Write a table to a JSONL file",
		Args:  cobra.ExactArgs(2),
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			n, err := s.store.ExportJSONL(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return report(cmd, "exported", args[0], n)
		}),
	}
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <table> <file>",
		Short: "Insert the rows of a JSONL file into an existing table",
		Long: "Insert every line of a JSONL file into an existing table in one transaction.\n" +
			"Malformed lines and unknown fields are skipped; rows receive new rowids.",
		Args: cobra.ExactArgs(2),
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			n, err := s.store.ImportJSONL(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return report(cmd, "imported", args[0], n)
		}),
	}
}

func report(cmd *cobra.Command, action, table string, rows int) error {
	if flags.jsonMode {
		return printJSON(cmd.OutOrStdout(), map[string]any{"table": table, action: rows})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d rows (%s)\n", action, rows, table)
	return nil
}
