package types

import (
	"errors"
	"fmt"
	"strings"
)

// Predicate is a row filter with optional ordering and limit. The zero
// Predicate matches every row in storage order. Column names are validated
// and values are always bound as parameters.
type Predicate struct {
	clause string
	args   []any
	order  []string
	limit  int
	cols   []string
	err    error
}

// ColumnRef names a column in a predicate or assignment.
type ColumnRef string

// Col starts a comparison on the named column.
func Col(name string) ColumnRef {
	return ColumnRef(name)
}

// RowIDEq matches the row with the given rowid.
func RowIDEq(id int64) Predicate {
	return Col(RowIDColumn).Eq(id)
}

func (c ColumnRef) cmp(op string, v any) Predicate {
	if err := ValidateIdentifier(string(c)); err != nil {
		return Predicate{err: err}
	}
	return Predicate{clause: fmt.Sprintf("%s %s ?", Quote(string(c)), op), args: []any{v}, cols: []string{string(c)}}
}

// Eq matches rows where the column equals v.
func (c ColumnRef) Eq(v any) Predicate { return c.cmp("=", v) }

// Ne matches rows where the column differs from v.
func (c ColumnRef) Ne(v any) Predicate { return c.cmp("<>", v) }

// Gt matches rows where the column is greater than v.
func (c ColumnRef) Gt(v any) Predicate { return c.cmp(">", v) }

// Ge matches rows where the column is at least v.
func (c ColumnRef) Ge(v any) Predicate { return c.cmp(">=", v) }

// Lt matches rows where the column is less than v.
func (c ColumnRef) Lt(v any) Predicate { return c.cmp("<", v) }

// Le matches rows where the column is at most v.
func (c ColumnRef) Le(v any) Predicate { return c.cmp("<=", v) }

// Like matches rows where the column matches the SQL LIKE pattern.
func (c ColumnRef) Like(pattern string) Predicate { return c.cmp("LIKE", pattern) }

// In matches rows where the column equals any of vs. An empty list matches
// nothing.
func (c ColumnRef) In(vs ...any) Predicate {
	if err := ValidateIdentifier(string(c)); err != nil {
		return Predicate{err: err}
	}
	if len(vs) == 0 {
		return Predicate{clause: "0", cols: []string{string(c)}}
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(vs)), ", ")
	return Predicate{clause: fmt.Sprintf("%s IN (%s)", Quote(string(c)), marks), args: append([]any{}, vs...), cols: []string{string(c)}}
}

// IsNull matches rows where the column is NULL.
func (c ColumnRef) IsNull() Predicate {
	if err := ValidateIdentifier(string(c)); err != nil {
		return Predicate{err: err}
	}
	return Predicate{clause: Quote(string(c)) + " IS NULL", cols: []string{string(c)}}
}

// NotNull matches rows where the column is not NULL.
func (c ColumnRef) NotNull() Predicate {
	if err := ValidateIdentifier(string(c)); err != nil {
		return Predicate{err: err}
	}
	return Predicate{clause: Quote(string(c)) + " IS NOT NULL", cols: []string{string(c)}}
}

// And matches rows satisfying every predicate.
func And(ps ...Predicate) Predicate { return join(" AND ", ps) }

// Or matches rows satisfying any predicate.
func Or(ps ...Predicate) Predicate { return join(" OR ", ps) }

// Not negates p. Not of the zero Predicate matches nothing.
func Not(p Predicate) Predicate {
	if p.err != nil {
		return p
	}
	if p.clause == "" {
		return Predicate{clause: "0"}
	}
	return Predicate{clause: "NOT (" + p.clause + ")", args: p.args, cols: p.cols}
}

func join(sep string, ps []Predicate) Predicate {
	var parts []string
	var args []any
	var cols []string
	var errs []error
	for _, p := range ps {
		if p.err != nil {
			errs = append(errs, p.err)
			continue
		}
		if p.clause == "" {
			continue
		}
		parts = append(parts, "("+p.clause+")")
		args = append(args, p.args...)
		cols = append(cols, p.cols...)
	}
	if len(errs) > 0 {
		return Predicate{err: errors.Join(errs...)}
	}
	return Predicate{clause: strings.Join(parts, sep), args: args, cols: cols}
}

// OrderBy returns p with an added sort key.
func (p Predicate) OrderBy(column string, desc bool) Predicate {
	if err := ValidateIdentifier(column); err != nil {
		if p.err == nil {
			p.err = err
		}
		return p
	}
	key := Quote(column) + " ASC"
	if desc {
		key = Quote(column) + " DESC"
	}
	p.order = append(append([]string{}, p.order...), key)
	p.cols = append(append([]string{}, p.cols...), column)
	return p
}

// Limit returns p restricted to at most n rows. n <= 0 removes the limit.
func (p Predicate) Limit(n int) Predicate {
	p.limit = n
	return p
}

// Where returns the WHERE clause (without the keyword, empty when p matches
// everything) and its bound arguments.
func (p Predicate) Where() (string, []any, error) {
	if p.err != nil {
		return "", nil, p.err
	}
	return p.clause, p.args, nil
}

// Columns returns the column names p filters or orders on, in the order
// they were added. Names may repeat.
func (p Predicate) Columns() []string {
	return append([]string(nil), p.cols...)
}

// Tail returns the ORDER BY / LIMIT suffix, possibly empty.
func (p Predicate) Tail() string {
	var sb strings.Builder
	if len(p.order) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(p.order, ", "))
	}
	if p.limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", p.limit)
	}
	return sb.String()
}

func (p Predicate) String() string {
	if p.err != nil {
		return "invalid predicate: " + p.err.Error()
	}
	if p.clause == "" {
		return "all rows" + p.Tail()
	}
	return p.clause + p.Tail()
}

// Assignment sets one column in a predicate update.
type Assignment struct {
	Column string
	Value  any
}

// Set builds an Assignment.
func Set(column string, value any) Assignment {
	return Assignment{Column: column, Value: value}
}
