package sqlite

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/mesh-intelligence/recordkit/pkg/types"
)

// Dynamic is a record whose layout comes from a live table instead of a Go
// type. It lets tools work on any table through the regular Store methods.
type Dynamic struct {
	types.Model
	table string
	cols  []types.Column
	slots []any
}

// NewDynamic builds an empty record for table with the given non-key
// columns. Key columns in cols are skipped.
func NewDynamic(table string, cols []types.Column) *Dynamic {
	d := &Dynamic{table: table}
	for _, c := range cols {
		if c.IsPrimaryKey || c.Name == types.RowIDColumn {
			continue
		}
		d.cols = append(d.cols, c)
		d.slots = append(d.slots, slotFor(c.Kind))
	}
	return d
}

func slotFor(k types.Kind) any {
	switch k {
	case types.KindInt:
		return new(int64)
	case types.KindOptionalInt:
		return new(*int64)
	case types.KindText:
		return new(string)
	case types.KindOptionalText:
		return new(*string)
	case types.KindReal:
		return new(float64)
	case types.KindOptionalReal:
		return new(*float64)
	case types.KindBool:
		return new(bool)
	case types.KindOptionalBool:
		return new(*bool)
	case types.KindBlob:
		return new([]byte)
	default:
		return new(*[]byte)
	}
}

// TableName returns the live table name.
func (d *Dynamic) TableName() string { return d.table }

// Fields exposes one slot per live column.
func (d *Dynamic) Fields() []types.Field {
	fields := make([]types.Field, len(d.cols))
	for i, c := range d.cols {
		fields[i] = types.F(c.Name, d.slots[i])
	}
	return fields
}

// Set coerces v to the column's kind and stores it. Unknown columns return
// ErrUnknownColumn. Strings assigned to blob columns are read as base64,
// the form JSON uses for bytes.
func (d *Dynamic) Set(column string, v any) error {
	for _, bd := range types.Bind(d) {
		if bd.Name != column || bd.IsPrimaryKey {
			continue
		}
		if s, ok := v.(string); ok && (bd.Kind == types.KindBlob || bd.Kind == types.KindOptionalBlob) {
			if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
				v = raw
			}
		}
		decoded, err := bd.Kind.Decode(bd.Kind.Encode(v))
		if err != nil {
			return fmt.Errorf("column %q: %w", column, err)
		}
		return bd.Assign(decoded)
	}
	return fmt.Errorf("%w: %s.%s", types.ErrUnknownColumn, d.table, column)
}

// Table returns an empty Dynamic record for an existing table. A missing
// table is an ErrSchema.
func (b *Backend) Table(ctx context.Context, table string) (*Dynamic, error) {
	live, err := b.TableColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(live) == 0 {
		return nil, fmt.Errorf("%w: table %s does not exist", types.ErrSchema, table)
	}
	cols := make([]types.Column, len(live))
	for i, c := range live {
		cols[i] = c.Column()
	}
	return NewDynamic(table, cols), nil
}
