package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/recordkit/internal/sqlite"
	"github.com/mesh-intelligence/recordkit/pkg/types"
)

type dumpFlags struct {
	where    []string
	limit    int
	desc     bool
	yamlMode bool
	count    bool
}

func newDumpCmd() *cobra.Command {
	var f dumpFlags
	cmd := &cobra.Command{
		Use:   "dump <table>",
		Short: "Print the rows of a table",
		Long: "Print the rows of a table ordered by rowid. Filters given with --where\n" +
			"are column=value equality tests joined with AND.",
		Args: cobra.ExactArgs(1),
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			return runDump(cmd, s, args[0], f)
		}),
	}
	cmd.Flags().StringArrayVar(&f.where, "where", nil, "filter as column=value (repeatable)")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum number of rows (0 for all)")
	cmd.Flags().BoolVar(&f.desc, "desc", false, "newest rows first")
	cmd.Flags().BoolVar(&f.yamlMode, "yaml", false, "output in YAML format")
	cmd.Flags().BoolVar(&f.count, "count", false, "print only the number of matching rows")
	return cmd
}

func runDump(cmd *cobra.Command, s *session, table string, f dumpFlags) error {
	ctx := cmd.Context()
	proto, err := s.store.Table(ctx, table)
	if err != nil {
		return err
	}
	pred, err := parseWhere(proto, f.where)
	if err != nil {
		return err
	}

	if f.count {
		n, err := s.store.Count(ctx, proto, pred)
		if err != nil {
			return err
		}
		if flags.jsonMode {
			return printJSON(cmd.OutOrStdout(), map[string]int64{"count": n})
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	}

	rows, err := s.store.Filter(ctx, proto, pred.OrderBy(types.RowIDColumn, f.desc).Limit(f.limit))
	if err != nil {
		return err
	}
	if f.yamlMode {
		return printYAML(cmd.OutOrStdout(), plainRows(rows))
	}
	return printJSON(cmd.OutOrStdout(), rows)
}

// parseWhere turns column=value filters into an AND of equality tests on
// the columns of proto.
func parseWhere(proto *sqlite.Dynamic, filters []string) (types.Predicate, error) {
	known := map[string]bool{types.RowIDColumn: true}
	for _, fd := range proto.Fields() {
		known[fd.Name] = true
	}

	preds := make([]types.Predicate, 0, len(filters))
	for _, f := range filters {
		col, val, ok := strings.Cut(f, "=")
		col = strings.TrimSpace(col)
		if !ok || col == "" {
			return types.Predicate{}, fmt.Errorf("%w: filter %q must be column=value", types.ErrInvalidData, f)
		}
		if !known[col] {
			return types.Predicate{}, fmt.Errorf("%w: %s.%s", types.ErrUnknownColumn, proto.TableName(), col)
		}
		preds = append(preds, types.Col(col).Eq(val))
	}
	return types.And(preds...), nil
}
