package types

import (
	"context"
	"errors"
)

// Store persists records in one embedded database file, one table per record
// type. Tables are created on first use and gain columns additively when a
// record type grows new fields; columns are never dropped or retyped.
//
// Read methods that find nothing return (false, nil) or an empty slice.
// Every other failure is logged by the store and returned.
type Store interface {
	// Insert writes rec as a new row and stores the assigned rowid in rec.
	Insert(ctx context.Context, rec Record) (int64, error)

	// InsertReplacing deletes rows matching pred, then inserts rec. A failed
	// delete is logged and does not prevent the insert.
	InsertReplacing(ctx context.Context, rec Record, pred Predicate) (int64, error)

	// InsertBatch inserts all records in one transaction. When pred is non-nil,
	// matching rows are deleted first. Either every record receives a rowid
	// or none is committed.
	InsertBatch(ctx context.Context, recs []Record, pred *Predicate) ([]int64, error)

	// Update overwrites every non-key column of the row with rec's rowid.
	// Returns ErrInvalidRowID without touching storage when rec has no rowid.
	Update(ctx context.Context, rec Record) error

	// UpdateWhere overwrites the given columns on every row matching pred.
	UpdateWhere(ctx context.Context, proto Record, pred Predicate, set ...Assignment) (int64, error)

	// Delete removes the row with rec's rowid.
	Delete(ctx context.Context, rec Record) error

	// DeleteWhere removes every row matching pred.
	DeleteWhere(ctx context.Context, proto Record, pred Predicate) (int64, error)

	// First decodes the first row matching pred into rec.
	First(ctx context.Context, rec Record, pred Predicate) (bool, error)

	// Filter returns every row matching pred.
	Filter(ctx context.Context, proto Record, pred Predicate) ([]Row, error)

	// Last decodes the row with the highest rowid into rec.
	Last(ctx context.Context, rec Record) (bool, error)

	// Count returns the number of rows matching pred.
	Count(ctx context.Context, proto Record, pred Predicate) (int64, error)

	// Clear deletes all rows and keeps the table.
	Clear(ctx context.Context, proto Record) error

	// Drop removes the table.
	Drop(ctx context.Context, proto Record) error

	// Attach opens the database described by config. Returns
	// ErrAlreadyAttached if called while attached.
	Attach(config Config) error

	// Detach releases the connection. Detach is idempotent; later operations
	// return ErrConnectionUnavailable.
	Detach() error
}

// ErrAlreadyAttached is returned by Attach on an attached store.
var ErrAlreadyAttached = errors.New("store is already attached")
