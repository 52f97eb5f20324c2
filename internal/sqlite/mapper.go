package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mesh-intelligence/recordkit/pkg/types"
)

// WriteSet returns the record's non-key columns paired with their encoded
// values, in column order. Values that had to be coerced to the column's
// fallback are logged at warn level.
func (b *Backend) WriteSet(rec types.Record) []types.Assignment {
	return writeSet(b.log, types.TableNameOf(rec), types.Bind(rec))
}

func writeSet(log *slog.Logger, table string, bindings []types.Binding) []types.Assignment {
	set := make([]types.Assignment, 0, len(bindings))
	for _, bd := range bindings {
		if bd.IsPrimaryKey {
			continue
		}
		v, err := bd.Kind.EncodeStrict(bd.Value())
		if err != nil {
			log.Warn("value coerced", "table", table, "column", bd.Name, "kind", bd.Kind.String(), "error", err)
		}
		set = append(set, types.Assignment{Column: bd.Name, Value: v})
	}
	return set
}

// FromRow decodes one scanned row. values are in cols order. NULL values of
// optional columns are omitted from the result.
func FromRow(values []any, cols []types.Column) (types.Row, error) {
	if len(values) != len(cols) {
		return nil, fmt.Errorf("%w: %d values for %d columns", types.ErrDecode, len(values), len(cols))
	}
	row := make(types.Row, len(cols))
	for i, c := range cols {
		if values[i] == nil && c.Kind.Optional() {
			continue
		}
		v, err := c.Kind.Decode(values[i])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", c.Name, err)
		}
		row[c.Name] = v
	}
	return row, nil
}

// Decode assigns a fetched row into rec.
func Decode(row types.Row, rec types.Record) error {
	return row.Decode(rec)
}

func columnList(cols []types.Column) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = types.Quote(c.Name)
	}
	return strings.Join(names, ", ")
}

func insertSQL(table string, set []types.Assignment) string {
	if len(set) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", types.Quote(table))
	}
	names := make([]string, len(set))
	for i, a := range set {
		names[i] = types.Quote(a.Column)
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(set)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", types.Quote(table), strings.Join(names, ", "), marks)
}

func assignmentList(set []types.Assignment) (string, []any) {
	parts := make([]string, len(set))
	args := make([]any, len(set))
	for i, a := range set {
		parts[i] = types.Quote(a.Column) + " = ?"
		args[i] = a.Value
	}
	return strings.Join(parts, ", "), args
}

func assignmentValues(set []types.Assignment) []any {
	args := make([]any, len(set))
	for i, a := range set {
		args[i] = a.Value
	}
	return args
}

// whereSQL renders pred as " WHERE ..." plus its tail.
func whereSQL(pred types.Predicate) (string, []any, error) {
	clause, args, err := pred.Where()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", types.ErrInvalidData, err)
	}
	if clause == "" {
		return pred.Tail(), nil, nil
	}
	return " WHERE " + clause + pred.Tail(), args, nil
}

// scanRows reads every row of rows, which must select cols in order.
func scanRows(rows *sql.Rows, cols []types.Column, decode func([]any, []types.Column) (types.Row, error)) ([]types.Row, error) {
	var out []types.Row
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrDecode, err)
		}
		row, err := decode(raw, cols)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
