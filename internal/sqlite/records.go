package sqlite

import (
	"context"
	"errors"
	"fmt"

	"github.com/mesh-intelligence/recordkit/internal/otel"
	"github.com/mesh-intelligence/recordkit/pkg/types"
)

// run executes one store operation under the backend read lock inside a
// span. Success is logged at debug, failure at error.
func (b *Backend) run(ctx context.Context, op, table string, fn func(ctx context.Context) error) error {
	ctx, span := otel.StartSpan(ctx, b.tracer, "recordkit."+op,
		otel.AttrTable.String(table),
		otel.AttrOperation.String(op),
	)
	release, err := b.acquire()
	if err == nil {
		err = fn(ctx)
		release()
	}
	otel.EndSpan(span, err)

	if err != nil {
		b.log.Error("operation failed", "table", table, "op", op, "error", err)
		return err
	}
	b.log.Debug("operation succeeded", "table", table, "op", op)
	return nil
}

// ensure creates or reconciles the table that stores rec.
func (b *Backend) ensure(ctx context.Context, rec types.Record) (string, []types.Binding, error) {
	table := types.TableNameOf(rec)
	bindings := types.Bind(rec)
	if _, err := b.ensureTable(ctx, table, columnsOf(bindings)); err != nil {
		return "", nil, err
	}
	return table, bindings, nil
}

func (b *Backend) insertRow(ctx context.Context, q querier, table string, bindings []types.Binding) (int64, error) {
	set := writeSet(b.log, table, bindings)
	res, err := b.exec(ctx, q, insertSQL(table, set), assignmentValues(set)...)
	if err != nil {
		return 0, fmt.Errorf("%w: insert into %s: %w", types.ErrWrite, table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: insert into %s: %w", types.ErrWrite, table, err)
	}
	return id, nil
}

func (b *Backend) deleteRows(ctx context.Context, q querier, table string, pred types.Predicate) (int64, error) {
	clause, args, err := pred.Where()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", types.ErrInvalidData, err)
	}
	query := "DELETE FROM " + types.Quote(table)
	if clause != "" {
		query += " WHERE " + clause
	}
	res, err := b.exec(ctx, q, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: delete from %s: %w", types.ErrWrite, table, err)
	}
	return res.RowsAffected()
}

// checkColumns rejects a predicate that names a column missing from both
// cols and the live table. SQLite would read such a name as a string
// literal and match every row.
func (b *Backend) checkColumns(ctx context.Context, table string, cols []types.Column, pred types.Predicate) error {
	names := pred.Columns()
	if len(names) == 0 {
		return nil
	}
	known := make(map[string]bool, len(cols))
	for _, c := range cols {
		known[c.Name] = true
	}
	var live map[string]bool
	for _, name := range names {
		if known[name] {
			continue
		}
		if live == nil {
			info, err := b.tableColumns(ctx, table)
			if err != nil {
				return fmt.Errorf("%w: %w", types.ErrSchema, err)
			}
			live = make(map[string]bool, len(info))
			for _, c := range info {
				live[c.Name] = true
			}
		}
		if !live[name] {
			return fmt.Errorf("%w: %w: %s.%s", types.ErrInvalidData, types.ErrUnknownColumn, table, name)
		}
	}
	return nil
}

// Insert writes rec as a new row and stores the assigned rowid in rec.
func (b *Backend) Insert(ctx context.Context, rec types.Record) (int64, error) {
	var id int64
	err := b.run(ctx, "insert", types.TableNameOf(rec), func(ctx context.Context) error {
		table, bindings, err := b.ensure(ctx, rec)
		if err != nil {
			return err
		}
		id, err = b.insertRow(ctx, b.db, table, bindings)
		if err != nil {
			return err
		}
		rec.SetRowID(id)
		return nil
	})
	return id, err
}

// InsertReplacing deletes the rows matching pred, then inserts rec. A failed
// delete is logged and the insert still runs.
func (b *Backend) InsertReplacing(ctx context.Context, rec types.Record, pred types.Predicate) (int64, error) {
	var id int64
	err := b.run(ctx, "insert_replacing", types.TableNameOf(rec), func(ctx context.Context) error {
		table, bindings, err := b.ensure(ctx, rec)
		if err != nil {
			return err
		}
		err = b.checkColumns(ctx, table, columnsOf(bindings), pred)
		if err == nil {
			var n int64
			if n, err = b.deleteRows(ctx, b.db, table, pred); err == nil {
				b.log.Debug("deleted before insert", "table", table, "rows", n)
			}
		}
		if err != nil {
			b.log.Error("delete before insert failed", "table", table, "predicate", pred.String(), "error", err)
		}
		id, err = b.insertRow(ctx, b.db, table, bindings)
		if err != nil {
			return err
		}
		rec.SetRowID(id)
		return nil
	})
	return id, err
}

// InsertBatch inserts recs in one transaction, first deleting the rows
// matching pred when pred is non-nil. A failed delete is logged and the
// inserts still run. All records must share a table. On any insert failure
// nothing is committed and no record's rowid is changed.
func (b *Backend) InsertBatch(ctx context.Context, recs []types.Record, pred *types.Predicate) ([]int64, error) {
	if len(recs) == 0 {
		err := fmt.Errorf("%w: empty batch", types.ErrInvalidData)
		b.log.Error("operation failed", "op", "insert_batch", "error", err)
		return nil, err
	}
	table := types.TableNameOf(recs[0])

	var ids []int64
	err := b.run(ctx, "insert_batch", table, func(ctx context.Context) error {
		bindings := make([][]types.Binding, len(recs))
		for i, rec := range recs {
			t, bs, err := b.ensure(ctx, rec)
			if err != nil {
				return err
			}
			if t != table {
				return fmt.Errorf("%w: batch mixes tables %s and %s", types.ErrInvalidData, table, t)
			}
			bindings[i] = bs
		}

		var deleteErr error
		if pred != nil {
			deleteErr = b.checkColumns(ctx, table, columnsOf(bindings[0]), *pred)
		}

		tx, err := b.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%w: begin: %w", types.ErrWrite, err)
		}
		defer tx.Rollback()

		if pred != nil {
			if deleteErr == nil {
				_, deleteErr = b.deleteRows(ctx, tx, table, *pred)
			}
			if deleteErr != nil {
				b.log.Error("delete before insert failed", "table", table, "predicate", pred.String(), "error", deleteErr)
			}
		}
		got := make([]int64, 0, len(recs))
		for _, bs := range bindings {
			id, err := b.insertRow(ctx, tx, table, bs)
			if err != nil {
				return err
			}
			got = append(got, id)
		}
		if len(got) != len(recs) {
			return fmt.Errorf("%w: inserted %d of %d records", types.ErrWrite, len(got), len(recs))
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: commit: %w", types.ErrWrite, err)
		}

		for i, rec := range recs {
			rec.SetRowID(got[i])
		}
		ids = got
		return nil
	})
	return ids, err
}

// Update overwrites every non-key column of the row whose rowid is rec's.
// A record without a rowid is rejected before any statement runs.
func (b *Backend) Update(ctx context.Context, rec types.Record) error {
	table := types.TableNameOf(rec)
	if rec.RowID() <= 0 {
		b.log.Error("operation failed", "table", table, "op", "update", "error", types.ErrInvalidRowID)
		return types.ErrInvalidRowID
	}
	return b.run(ctx, "update", table, func(ctx context.Context) error {
		table, bindings, err := b.ensure(ctx, rec)
		if err != nil {
			return err
		}
		set := writeSet(b.log, table, bindings)
		if len(set) == 0 {
			return nil
		}
		assigns, args := assignmentList(set)
		query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", types.Quote(table), assigns, types.Quote(types.RowIDColumn))
		res, err := b.exec(ctx, b.db, query, append(args, rec.RowID())...)
		if err != nil {
			return fmt.Errorf("%w: update %s: %w", types.ErrWrite, table, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			b.log.Warn("update matched no row", "table", table, "rowid", rec.RowID())
		}
		return nil
	})
}

// UpdateWhere overwrites the assigned columns on every row matching pred.
// Values are encoded with the kind proto declares for each column.
func (b *Backend) UpdateWhere(ctx context.Context, proto types.Record, pred types.Predicate, set ...types.Assignment) (int64, error) {
	var n int64
	err := b.run(ctx, "update_where", types.TableNameOf(proto), func(ctx context.Context) error {
		if len(set) == 0 {
			return fmt.Errorf("%w: no assignments", types.ErrInvalidData)
		}
		table, bindings, err := b.ensure(ctx, proto)
		if err != nil {
			return err
		}
		kinds := make(map[string]types.Kind, len(bindings))
		for _, bd := range bindings {
			if !bd.IsPrimaryKey {
				kinds[bd.Name] = bd.Kind
			}
		}
		encoded := make([]types.Assignment, len(set))
		for i, a := range set {
			k, ok := kinds[a.Column]
			if !ok {
				return fmt.Errorf("%w: %w: %s.%s", types.ErrInvalidData, types.ErrUnknownColumn, table, a.Column)
			}
			v, err := k.EncodeStrict(a.Value)
			if err != nil {
				b.log.Warn("value coerced", "table", table, "column", a.Column, "kind", k.String(), "error", err)
			}
			encoded[i] = types.Assignment{Column: a.Column, Value: v}
		}
		if err := b.checkColumns(ctx, table, columnsOf(bindings), pred); err != nil {
			return err
		}

		clause, whereArgs, err := pred.Where()
		if err != nil {
			return fmt.Errorf("%w: %w", types.ErrInvalidData, err)
		}
		assigns, args := assignmentList(encoded)
		query := fmt.Sprintf("UPDATE %s SET %s", types.Quote(table), assigns)
		if clause != "" {
			query += " WHERE " + clause
		}
		res, err := b.exec(ctx, b.db, query, append(args, whereArgs...)...)
		if err != nil {
			return fmt.Errorf("%w: update %s: %w", types.ErrWrite, table, err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// Delete removes the row whose rowid is rec's.
func (b *Backend) Delete(ctx context.Context, rec types.Record) error {
	table := types.TableNameOf(rec)
	if rec.RowID() <= 0 {
		b.log.Error("operation failed", "table", table, "op", "delete", "error", types.ErrInvalidRowID)
		return types.ErrInvalidRowID
	}
	return b.run(ctx, "delete", table, func(ctx context.Context) error {
		table, _, err := b.ensure(ctx, rec)
		if err != nil {
			return err
		}
		_, err = b.deleteRows(ctx, b.db, table, types.RowIDEq(rec.RowID()))
		return err
	})
}

// DeleteWhere removes every row matching pred and returns how many.
func (b *Backend) DeleteWhere(ctx context.Context, proto types.Record, pred types.Predicate) (int64, error) {
	var n int64
	err := b.run(ctx, "delete_where", types.TableNameOf(proto), func(ctx context.Context) error {
		table, bindings, err := b.ensure(ctx, proto)
		if err != nil {
			return err
		}
		if err := b.checkColumns(ctx, table, columnsOf(bindings), pred); err != nil {
			return err
		}
		n, err = b.deleteRows(ctx, b.db, table, pred)
		return err
	})
	return n, err
}

func (b *Backend) selectRows(ctx context.Context, table string, cols []types.Column, pred types.Predicate) ([]types.Row, error) {
	if err := b.checkColumns(ctx, table, cols, pred); err != nil {
		return nil, err
	}
	where, args, err := whereSQL(pred)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s%s", columnList(cols), types.Quote(table), where)
	rows, err := b.query(ctx, b.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: select from %s: %w", types.ErrDecode, table, err)
	}
	defer rows.Close()
	return scanRows(rows, cols, FromRow)
}

func (b *Backend) first(ctx context.Context, op string, rec types.Record, pred types.Predicate) (bool, error) {
	var found bool
	err := b.run(ctx, op, types.TableNameOf(rec), func(ctx context.Context) error {
		table, bindings, err := b.ensure(ctx, rec)
		if err != nil {
			return err
		}
		rows, err := b.selectRows(ctx, table, columnsOf(bindings), pred.Limit(1))
		if err != nil || len(rows) == 0 {
			return err
		}
		if err := rows[0].Decode(rec); err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// First decodes the first row matching pred into rec. It returns false
// without error when no row matches.
func (b *Backend) First(ctx context.Context, rec types.Record, pred types.Predicate) (bool, error) {
	return b.first(ctx, "first", rec, pred)
}

// Last decodes the row with the highest rowid into rec.
func (b *Backend) Last(ctx context.Context, rec types.Record) (bool, error) {
	return b.first(ctx, "last", rec, types.Predicate{}.OrderBy(types.RowIDColumn, true))
}

// Filter returns every row matching pred, in storage order unless pred
// orders them.
func (b *Backend) Filter(ctx context.Context, proto types.Record, pred types.Predicate) ([]types.Row, error) {
	out := []types.Row{}
	err := b.run(ctx, "filter", types.TableNameOf(proto), func(ctx context.Context) error {
		table, bindings, err := b.ensure(ctx, proto)
		if err != nil {
			return err
		}
		rows, err := b.selectRows(ctx, table, columnsOf(bindings), pred)
		if err != nil {
			return err
		}
		out = append(out, rows...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of rows matching pred. Ordering and limit are
// ignored.
func (b *Backend) Count(ctx context.Context, proto types.Record, pred types.Predicate) (int64, error) {
	var n int64
	err := b.run(ctx, "count", types.TableNameOf(proto), func(ctx context.Context) error {
		table, bindings, err := b.ensure(ctx, proto)
		if err != nil {
			return err
		}
		if err := b.checkColumns(ctx, table, columnsOf(bindings), pred); err != nil {
			return err
		}
		clause, args, err := pred.Where()
		if err != nil {
			return fmt.Errorf("%w: %w", types.ErrInvalidData, err)
		}
		query := "SELECT COUNT(*) FROM " + types.Quote(table)
		if clause != "" {
			query += " WHERE " + clause
		}
		rows, err := b.query(ctx, b.db, query, args...)
		if err != nil {
			return fmt.Errorf("%w: count %s: %w", types.ErrDecode, table, err)
		}
		defer rows.Close()
		if !rows.Next() {
			return errors.Join(types.ErrDecode, rows.Err())
		}
		return rows.Scan(&n)
	})
	return n, err
}

// Clear deletes every row and keeps the table.
func (b *Backend) Clear(ctx context.Context, proto types.Record) error {
	return b.run(ctx, "clear", types.TableNameOf(proto), func(ctx context.Context) error {
		table, _, err := b.ensure(ctx, proto)
		if err != nil {
			return err
		}
		_, err = b.deleteRows(ctx, b.db, table, types.Predicate{})
		return err
	})
}

// Drop removes the table. The next operation on the record type creates it
// again.
func (b *Backend) Drop(ctx context.Context, proto types.Record) error {
	table := types.TableNameOf(proto)
	return b.run(ctx, "drop", table, func(ctx context.Context) error {
		if err := types.ValidateIdentifier(table); err != nil {
			return fmt.Errorf("%w: %w", types.ErrSchema, err)
		}
		if _, err := b.exec(ctx, b.db, "DROP TABLE IF EXISTS "+types.Quote(table)); err != nil {
			return fmt.Errorf("%w: drop %s: %w", types.ErrSchema, table, err)
		}
		b.forget(table)
		return nil
	})
}

func columnsOf(bindings []types.Binding) []types.Column {
	cols := make([]types.Column, len(bindings))
	for i, bd := range bindings {
		cols[i] = bd.Column
	}
	return cols
}
