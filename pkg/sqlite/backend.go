// Package sqlite provides the public API for the SQLite record store. It
// exposes the backend factory and typed helpers while keeping the
// implementation internal.
package sqlite

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/mesh-intelligence/recordkit/internal/sqlite"
	"github.com/mesh-intelligence/recordkit/pkg/types"
)

// Option configures a backend.
type Option = sqlite.Option

// WithLogger sets the logger used for operation results.
func WithLogger(l *slog.Logger) Option { return sqlite.WithLogger(l) }

// WithTracer sets the tracer used for per-operation spans.
func WithTracer(t trace.Tracer) Option { return sqlite.WithTracer(t) }

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
//
// Example:
//
//	store := sqlite.NewBackend()
//	err := store.Attach(types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".recordkit",
//	})
//	defer store.Detach()
func NewBackend(opts ...Option) types.Store {
	return sqlite.NewBackend(opts...)
}

// recordPtr constrains P to a pointer to T that implements types.Record.
type recordPtr[T any] interface {
	*T
	types.Record
}

// Find returns the first T matching pred, or nil when none matches.
func Find[T any, P recordPtr[T]](ctx context.Context, s types.Store, pred types.Predicate) (*T, error) {
	v := new(T)
	found, err := s.First(ctx, P(v), pred)
	if err != nil || !found {
		return nil, err
	}
	return v, nil
}

// FindAll returns every T matching pred.
func FindAll[T any, P recordPtr[T]](ctx context.Context, s types.Store, pred types.Predicate) ([]*T, error) {
	rows, err := s.Filter(ctx, P(new(T)), pred)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(rows))
	for _, row := range rows {
		v := new(T)
		if err := row.Decode(P(v)); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Last returns the most recently inserted T, or nil when the table is empty.
func Last[T any, P recordPtr[T]](ctx context.Context, s types.Store) (*T, error) {
	v := new(T)
	found, err := s.Last(ctx, P(v))
	if err != nil || !found {
		return nil, err
	}
	return v, nil
}

// InsertAll inserts items in one transaction, optionally deleting the rows
// matching replace first.
func InsertAll[T any, P recordPtr[T]](ctx context.Context, s types.Store, items []*T, replace *types.Predicate) ([]int64, error) {
	recs := make([]types.Record, len(items))
	for i, it := range items {
		recs[i] = P(it)
	}
	return s.InsertBatch(ctx, recs, replace)
}
