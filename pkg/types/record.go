package types

import (
	"fmt"
	"reflect"
	"regexp"
	"slices"
)

// RowIDColumn is the reserved auto-incrementing primary key present in every
// record table.
const RowIDColumn = "rowid"

// Field registers one persistable struct field: its column name and a
// pointer to the field. The pointer's static type determines the column kind.
type Field struct {
	Name string
	Ptr  any
}

// F is shorthand for Field{Name: name, Ptr: ptr}.
func F(name string, ptr any) Field {
	return Field{Name: name, Ptr: ptr}
}

// Record is an application value persisted as one row of a table. Records
// declare their persistable fields explicitly through Fields, in declaration
// order. A RowID of zero or less means the record has not been stored yet.
type Record interface {
	RowID() int64
	SetRowID(id int64)
	Fields() []Field
}

// Ignorer is implemented by records that keep some registered fields out of
// the table. The rowid column cannot be ignored.
type Ignorer interface {
	IgnoredFields() []string
}

// Extender is implemented by records that embed a base type whose fields
// are persisted after the record's own fields.
type Extender interface {
	BaseFields() []Field
}

// Namer overrides the table name, which otherwise is the record's type name.
type Namer interface {
	TableName() string
}

// Model is an embeddable base that carries the rowid.
type Model struct {
	ID int64 `json:"rowid" yaml:"rowid"`
}

// RowID returns the database-assigned row id.
func (m *Model) RowID() int64 { return m.ID }

// SetRowID stores the database-assigned row id.
func (m *Model) SetRowID(id int64) { m.ID = id }

// Column describes one persisted field.
type Column struct {
	Name         string
	Kind         Kind
	IsPrimaryKey bool
}

// Binding is a Column bound to a live record field.
type Binding struct {
	Column
	b binding
}

// Value returns the field's current value.
func (b Binding) Value() any {
	return b.b.load()
}

// Assign stores a decoded value (as produced by Kind.Decode) into the field.
func (b Binding) Assign(decoded any) error {
	return b.b.store(decoded)
}

// Bind returns the record's persistable fields bound to their storage,
// starting with the rowid. Own fields come first, then BaseFields. Names
// listed by IgnoredFields, unsupported kinds, invalid identifiers and
// repeated names are skipped.
func Bind(rec Record) []Binding {
	out := []Binding{rowIDBinding(rec)}
	seen := map[string]bool{RowIDColumn: true}

	var ignored []string
	if ig, ok := rec.(Ignorer); ok {
		ignored = ig.IgnoredFields()
	}

	fields := rec.Fields()
	if ext, ok := rec.(Extender); ok {
		fields = append(slices.Clip(fields), ext.BaseFields()...)
	}

	for _, f := range fields {
		if seen[f.Name] || slices.Contains(ignored, f.Name) || ValidateIdentifier(f.Name) != nil {
			continue
		}
		fb := bind(f.Ptr)
		if !fb.kind.Supported() {
			continue
		}
		seen[f.Name] = true
		out = append(out, Binding{Column: Column{Name: f.Name, Kind: fb.kind}, b: fb})
	}
	return out
}

func rowIDBinding(rec Record) Binding {
	return Binding{
		Column: Column{Name: RowIDColumn, Kind: KindInt, IsPrimaryKey: true},
		b: binding{
			kind: KindInt,
			load: func() any { return rec.RowID() },
			store: func(v any) error {
				n, ok := v.(int64)
				if !ok {
					return mismatch(KindInt, v)
				}
				rec.SetRowID(n)
				return nil
			},
		},
	}
}

// Columns derives the ordered column list of a record. The result depends
// only on the record's type, never on its current field values.
func Columns(rec Record) []Column {
	bs := Bind(rec)
	cols := make([]Column, len(bs))
	for i, b := range bs {
		cols[i] = b.Column
	}
	return cols
}

// TableNameOf returns the table a record is stored in.
func TableNameOf(rec Record) string {
	if n, ok := rec.(Namer); ok {
		return n.TableName()
	}
	t := reflect.TypeOf(rec)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier checks that name is usable as a table or column name.
func ValidateIdentifier(name string) error {
	if !identifierRE.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

// Quote returns name as a double-quoted SQL identifier. Callers validate
// name first.
func Quote(name string) string {
	return `"` + name + `"`
}
