package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <table>",
		Short: "Delete every row of a table",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			proto, err := s.store.Table(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := s.store.Clear(cmd.Context(), proto); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", args[0])
			return nil
		}),
	}
}

func newDropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop <table>",
		Short: "Drop a table",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			proto, err := s.store.Table(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := s.store.Drop(cmd.Context(), proto); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dropped %s\n", args[0])
			return nil
		}),
	}
}
