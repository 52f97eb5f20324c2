package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/recordkit/pkg/types"
)

type person struct {
	types.Model
	Name   string
	Age    int
	Score  *float64
	Active bool
	Photo  []byte
}

func (p *person) Fields() []types.Field {
	return []types.Field{
		types.F("name", &p.Name),
		types.F("age", &p.Age),
		types.F("score", &p.Score),
		types.F("active", &p.Active),
		types.F("photo", &p.Photo),
	}
}

// recorder collects the statements a backend runs.
type recorder struct {
	mu    sync.Mutex
	stmts []string
}

func (r *recorder) observe(q string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stmts = append(r.stmts, q)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stmts = nil
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.stmts...)
}

func testConfig(dir string) types.Config {
	return types.Config{Backend: types.BackendSQLite, DataDir: dir}
}

func openTestBackend(t *testing.T, opts ...Option) *Backend {
	t.Helper()
	b, err := Open(testConfig(t.TempDir()), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { b.Detach() })
	return b
}

func ptr[T any](v T) *T { return &v }

func TestBackend_Attach(t *testing.T) {
	dir := t.TempDir()
	b := NewBackend()

	require.NoError(t, b.Attach(testConfig(dir)))
	defer b.Detach()

	_, err := os.Stat(filepath.Join(dir, types.DefaultDBFile))
	assert.NoError(t, err, "database file not created")
	assert.Equal(t, filepath.Join(dir, types.DefaultDBFile), b.Path())

	assert.ErrorIs(t, b.Attach(testConfig(dir)), types.ErrAlreadyAttached)
}

func TestBackend_AttachInvalidConfig(t *testing.T) {
	b := NewBackend()
	err := b.Attach(types.Config{Backend: "postgres", DataDir: t.TempDir()})
	assert.ErrorIs(t, err, types.ErrBackendUnknown)

	_, err = b.Tables(context.Background())
	assert.ErrorIs(t, err, types.ErrConnectionUnavailable)
}

func TestBackend_Detach(t *testing.T) {
	ctx := context.Background()
	b, err := Open(testConfig(t.TempDir()))
	require.NoError(t, err)

	_, err = b.Insert(ctx, &person{Name: "A"})
	require.NoError(t, err)

	require.NoError(t, b.Detach())
	require.NoError(t, b.Detach(), "second Detach should not error")

	_, err = b.Insert(ctx, &person{Name: "B"})
	assert.ErrorIs(t, err, types.ErrConnectionUnavailable)
	_, err = b.Filter(ctx, &person{}, types.Predicate{})
	assert.ErrorIs(t, err, types.ErrConnectionUnavailable)
	_, err = b.Tables(ctx)
	assert.ErrorIs(t, err, types.ErrConnectionUnavailable)
	assert.ErrorIs(t, b.Clear(ctx, &person{}), types.ErrConnectionUnavailable)
}

func TestBackend_Reattach(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b := NewBackend()

	require.NoError(t, b.Attach(testConfig(dir)))
	_, err := b.Insert(ctx, &person{Name: "A"})
	require.NoError(t, err)
	require.NoError(t, b.Detach())

	require.NoError(t, b.Attach(testConfig(dir)))
	defer b.Detach()

	var p person
	found, err := b.Last(ctx, &p)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "A", p.Name)
}

func TestBackend_Memory(t *testing.T) {
	ctx := context.Background()
	b, err := Open(types.Config{Backend: types.BackendSQLite, DBFile: MemoryDB})
	require.NoError(t, err)
	defer b.Detach()

	assert.Equal(t, MemoryDB, b.Path())
	id, err := b.Insert(ctx, &person{Name: "A"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestStatementObserver(t *testing.T) {
	rec := &recorder{}
	b := openTestBackend(t, WithStatementObserver(rec.observe))

	_, err := b.Insert(context.Background(), &person{Name: "A"})
	require.NoError(t, err)

	stmts := rec.all()
	require.NotEmpty(t, stmts)
	assert.True(t, strings.HasPrefix(stmts[len(stmts)-1], `INSERT INTO "person"`), stmts[len(stmts)-1])
}

func TestIsBusy(t *testing.T) {
	assert.False(t, isBusy(nil))
	assert.True(t, isBusy(errors.New("database is locked")))
	assert.True(t, isBusy(errors.New("database table is locked")))
	assert.False(t, isBusy(errors.New("no such table: x")))
}

func TestRetryOnBusy(t *testing.T) {
	ctx := context.Background()
	busy := errors.New("database is locked")

	calls := 0
	err := retryOnBusy(ctx, 5, func() error {
		calls++
		if calls < 3 {
			return busy
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	other := errors.New("syntax error")
	err = retryOnBusy(ctx, 5, func() error {
		calls++
		return other
	})
	assert.ErrorIs(t, err, other)
	assert.Equal(t, 1, calls)

	calls = 0
	err = retryOnBusy(ctx, 2, func() error {
		calls++
		return busy
	})
	assert.ErrorIs(t, err, busy)
	assert.Equal(t, 3, calls)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = retryOnBusy(cancelled, 5, func() error { return busy })
	assert.ErrorIs(t, err, context.Canceled)
}
