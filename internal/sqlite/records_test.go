package sqlite

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/recordkit/internal/telemetry"
	"github.com/mesh-intelligence/recordkit/pkg/types"
)

type scored struct {
	types.Model
	Name  string
	Score float64
}

func (s *scored) Fields() []types.Field {
	return []types.Field{types.F("name", &s.Name), types.F("score", &s.Score)}
}

type counter struct {
	types.Model
	N uint64
}

func (c *counter) Fields() []types.Field { return []types.Field{types.F("n", &c.N)} }

func TestScenario_InsertLastFilterDelete(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)

	a := &scored{Name: "A", Score: 1.5}
	id, err := b.Insert(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, int64(1), a.RowID())

	id, err = b.Insert(ctx, &scored{Name: "B", Score: 2.5})
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)

	var last scored
	found, err := b.Last(ctx, &last)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "B", last.Name)
	assert.Equal(t, 2.5, last.Score)
	assert.Equal(t, int64(2), last.ID)

	rows, err := b.Filter(ctx, &scored{}, types.RowIDEq(1))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "A", rows[0]["name"])
	assert.Equal(t, int64(1), rows[0].RowID())

	require.NoError(t, b.Delete(ctx, a))

	rows, err = b.Filter(ctx, &scored{}, types.RowIDEq(1))
	require.NoError(t, err)
	assert.Empty(t, rows)

	var first scored
	found, err = b.First(ctx, &first, types.RowIDEq(1))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInsert_RoundTripsAllKinds(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)

	in := &person{Name: "Ann", Age: -3, Score: ptr(9.25), Active: true, Photo: []byte{0, 1, 255}}
	_, err := b.Insert(ctx, in)
	require.NoError(t, err)

	var out person
	found, err := b.First(ctx, &out, types.RowIDEq(in.ID))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, *in, out)

	empty := &person{}
	_, err = b.Insert(ctx, empty)
	require.NoError(t, err)

	var back person
	found, err = b.First(ctx, &back, types.RowIDEq(empty.ID))
	require.NoError(t, err)
	require.True(t, found)
	assert.Nil(t, back.Score)
	assert.Equal(t, []byte{}, back.Photo)
	assert.False(t, back.Active)
}

func TestInsertReplacing(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)

	for _, n := range []string{"A", "B", "A"} {
		_, err := b.Insert(ctx, &scored{Name: n})
		require.NoError(t, err)
	}

	id, err := b.InsertReplacing(ctx, &scored{Name: "C"}, types.Col("name").Eq("A"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), id)

	rows, err := b.Filter(ctx, &scored{}, types.Predicate{})
	require.NoError(t, err)
	var names []any
	for _, r := range rows {
		names = append(names, r["name"])
	}
	assert.Equal(t, []any{"B", "C"}, names)
}

func TestInsertReplacing_DeleteFailureStillInserts(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)

	_, err := b.InsertReplacing(ctx, &scored{Name: "A"}, types.Col("bad name").Eq(1))
	require.NoError(t, err)

	n, err := b.Count(ctx, &scored{}, types.Predicate{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestInsertBatch_DeleteFailureStillInserts(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	b := openTestBackend(t, WithLogger(telemetry.New(&buf, "debug")))

	bad := types.Col("bad name").Eq(1)
	ids, err := b.InsertBatch(ctx, []types.Record{&scored{Name: "x"}}, &bad)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)
	assert.Contains(t, buf.String(), "delete before insert failed")

	typo := types.Col("nmae").Eq("x")
	ids, err = b.InsertBatch(ctx, []types.Record{&scored{Name: "y"}}, &typo)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids)

	n, err := b.Count(ctx, &scored{}, types.Predicate{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "a failed delete must not remove rows")
}

func TestPredicate_UnknownColumnRejected(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)

	for _, name := range []string{"A", "B", "C"} {
		_, err := b.Insert(ctx, &scored{Name: name})
		require.NoError(t, err)
	}

	typo := types.Col("nmae").Eq("nmae")

	_, err := b.DeleteWhere(ctx, &scored{}, typo)
	assert.ErrorIs(t, err, types.ErrUnknownColumn)

	_, err = b.UpdateWhere(ctx, &scored{}, typo, types.Set("score", 1))
	assert.ErrorIs(t, err, types.ErrUnknownColumn)

	_, err = b.Filter(ctx, &scored{}, types.Or(types.Col("name").Eq("A"), typo))
	assert.ErrorIs(t, err, types.ErrUnknownColumn)

	_, err = b.Filter(ctx, &scored{}, types.Predicate{}.OrderBy("nmae", false))
	assert.ErrorIs(t, err, types.ErrUnknownColumn)

	_, err = b.First(ctx, &scored{}, types.Not(types.Col("nmae").IsNull()))
	assert.ErrorIs(t, err, types.ErrUnknownColumn)

	_, err = b.Count(ctx, &scored{}, types.Col("nmae").In("A"))
	assert.ErrorIs(t, err, types.ErrUnknownColumn)

	_, err = b.InsertReplacing(ctx, &scored{Name: "D"}, typo)
	require.NoError(t, err)

	n, err := b.Count(ctx, &scored{}, types.Predicate{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestPredicate_LiveOnlyColumnAccepted(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)

	_, err := b.Insert(ctx, &scored{Name: "A"})
	require.NoError(t, err)
	_, err = b.db.ExecContext(ctx, `ALTER TABLE scored ADD COLUMN "rank" INTEGER`)
	require.NoError(t, err)

	rows, err := b.Filter(ctx, &scored{}, types.Col("rank").IsNull())
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestInsertBatch(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)

	_, err := b.Insert(ctx, &scored{Name: "old"})
	require.NoError(t, err)

	recs := []types.Record{&scored{Name: "x"}, &scored{Name: "y"}, &scored{Name: "z"}}
	replace := types.Col("name").Eq("old")
	ids, err := b.InsertBatch(ctx, recs, &replace)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 4}, ids)
	for i, r := range recs {
		assert.Equal(t, ids[i], r.RowID())
	}

	n, err := b.Count(ctx, &scored{}, types.Predicate{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestInsertBatch_Empty(t *testing.T) {
	b := openTestBackend(t)
	_, err := b.InsertBatch(context.Background(), nil, nil)
	assert.ErrorIs(t, err, types.ErrInvalidData)
}

func TestInsertBatch_MixedTables(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)

	_, err := b.InsertBatch(ctx, []types.Record{&scored{Name: "x"}, &person{Name: "y"}}, nil)
	assert.ErrorIs(t, err, types.ErrInvalidData)

	n, err := b.Count(ctx, &scored{}, types.Predicate{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInsertBatch_RollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)

	_, err := b.Insert(ctx, &scored{Name: "keep"})
	require.NoError(t, err)
	_, err = b.db.ExecContext(ctx, `CREATE UNIQUE INDEX scored_name ON scored(name)`)
	require.NoError(t, err)

	recs := []types.Record{&scored{Name: "new"}, &scored{Name: "dup"}, &scored{Name: "dup"}}
	replace := types.Col("name").Eq("keep")
	ids, err := b.InsertBatch(ctx, recs, &replace)
	assert.ErrorIs(t, err, types.ErrWrite)
	assert.Nil(t, ids)
	for _, r := range recs {
		assert.Zero(t, r.RowID(), "rowid must not be written back on failure")
	}

	rows, err := b.Filter(ctx, &scored{}, types.Predicate{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "keep", rows[0]["name"])
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)

	p := &person{Name: "A", Age: 1}
	_, err := b.Insert(ctx, p)
	require.NoError(t, err)

	p.Name = "A2"
	p.Score = ptr(4.0)
	require.NoError(t, b.Update(ctx, p))

	var got person
	found, err := b.First(ctx, &got, types.RowIDEq(p.ID))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "A2", got.Name)
	require.NotNil(t, got.Score)
	assert.Equal(t, 4.0, *got.Score)

	p.Score = nil
	require.NoError(t, b.Update(ctx, p))
	found, err = b.First(ctx, &got, types.RowIDEq(p.ID))
	require.NoError(t, err)
	require.True(t, found)
	assert.Nil(t, got.Score)
}

func TestUpdate_WithoutRowIDRunsNoStatement(t *testing.T) {
	rec := &recorder{}
	b := openTestBackend(t, WithStatementObserver(rec.observe))

	err := b.Update(context.Background(), &person{Name: "A"})
	assert.ErrorIs(t, err, types.ErrInvalidRowID)
	assert.Empty(t, rec.all())

	err = b.Delete(context.Background(), &person{Name: "A"})
	assert.ErrorIs(t, err, types.ErrInvalidRowID)
	assert.Empty(t, rec.all())
}

func TestUpdateWhere(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)

	for _, n := range []string{"A", "B", "A"} {
		_, err := b.Insert(ctx, &person{Name: n})
		require.NoError(t, err)
	}

	n, err := b.UpdateWhere(ctx, &person{}, types.Col("name").Eq("A"), types.Set("age", "42"), types.Set("active", true))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows, err := b.Filter(ctx, &person{}, types.Col("age").Eq(42))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, true, rows[0]["active"])

	_, err = b.UpdateWhere(ctx, &person{}, types.Predicate{}, types.Set("missing", 1))
	assert.ErrorIs(t, err, types.ErrInvalidData)
	assert.ErrorIs(t, err, types.ErrUnknownColumn)

	_, err = b.UpdateWhere(ctx, &person{}, types.Predicate{}, types.Set("rowid", 9))
	assert.ErrorIs(t, err, types.ErrUnknownColumn)

	_, err = b.UpdateWhere(ctx, &person{}, types.Predicate{})
	assert.ErrorIs(t, err, types.ErrInvalidData)
}

func TestDeleteWhere(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)

	for i := range 5 {
		_, err := b.Insert(ctx, &scored{Name: fmt.Sprint(i), Score: float64(i)})
		require.NoError(t, err)
	}

	n, err := b.DeleteWhere(ctx, &scored{}, types.Col("score").Ge(3))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = b.Count(ctx, &scored{}, types.Predicate{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestFilter_OrderAndLimit(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)

	for _, s := range []float64{2, 5, 1, 4} {
		_, err := b.Insert(ctx, &scored{Name: fmt.Sprint(s), Score: s})
		require.NoError(t, err)
	}

	rows, err := b.Filter(ctx, &scored{}, types.Col("score").Gt(1).OrderBy("score", true).Limit(2))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 5.0, rows[0]["score"])
	assert.Equal(t, 4.0, rows[1]["score"])

	rows, err = b.Filter(ctx, &scored{}, types.Col("name").In("1", "2"))
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = b.Filter(ctx, &scored{}, types.Col("name").In())
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.NotNil(t, rows)
}

func TestFilter_OmitsNullOptionalColumns(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)

	_, err := b.Insert(ctx, &person{Name: "A"})
	require.NoError(t, err)

	rows, err := b.Filter(ctx, &person{}, types.Predicate{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	_, ok := rows[0]["score"]
	assert.False(t, ok)

	rows, err = b.Filter(ctx, &person{}, types.Col("score").IsNull())
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestFirstAndLast_Empty(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)

	found, err := b.Last(ctx, &scored{})
	require.NoError(t, err)
	assert.False(t, found)

	found, err = b.First(ctx, &scored{}, types.Col("name").Eq("nobody"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestClearAndDrop(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)

	_, err := b.Insert(ctx, &scored{Name: "A"})
	require.NoError(t, err)

	require.NoError(t, b.Clear(ctx, &scored{}))
	n, err := b.Count(ctx, &scored{}, types.Predicate{})
	require.NoError(t, err)
	assert.Zero(t, n)
	names, err := b.Tables(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "scored")

	require.NoError(t, b.Drop(ctx, &scored{}))
	names, err = b.Tables(ctx)
	require.NoError(t, err)
	assert.NotContains(t, names, "scored")

	// The next use recreates the table.
	_, err = b.Insert(ctx, &scored{Name: "B"})
	require.NoError(t, err)
	n, err = b.Count(ctx, &scored{}, types.Predicate{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPredicateInjectionRejected(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)

	_, err := b.Insert(ctx, &scored{Name: "A"})
	require.NoError(t, err)

	_, err = b.Filter(ctx, &scored{}, types.Col("name; DROP TABLE scored").Eq(1))
	assert.ErrorIs(t, err, types.ErrInvalidData)
	assert.ErrorIs(t, err, types.ErrInvalidIdentifier)

	// Values are bound, never spliced.
	rows, err := b.Filter(ctx, &scored{}, types.Col("name").Eq("A' OR '1'='1"))
	require.NoError(t, err)
	assert.Empty(t, rows)

	n, err := b.Count(ctx, &scored{}, types.Predicate{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestWriteSet_LogsCoercion(t *testing.T) {
	var buf bytes.Buffer
	b := NewBackend(WithLogger(telemetry.New(&buf, "debug")))

	set := b.WriteSet(&counter{N: math.MaxUint64})
	require.Len(t, set, 1)
	assert.Equal(t, types.Assignment{Column: "n", Value: int64(0)}, set[0])
	assert.Contains(t, buf.String(), "value coerced")

	buf.Reset()
	set = b.WriteSet(&counter{N: 12})
	assert.Equal(t, int64(12), set[0].Value)
	assert.NotContains(t, buf.String(), "value coerced")
}

func TestFromRow(t *testing.T) {
	cols := types.Columns(&person{})
	raw := []any{int64(1), "A", int64(3), nil, int64(1), []byte("p")}

	row, err := FromRow(raw, cols)
	require.NoError(t, err)
	assert.Equal(t, types.Row{
		"rowid":  int64(1),
		"name":   "A",
		"age":    int64(3),
		"active": true,
		"photo":  []byte("p"),
	}, row)

	var p person
	require.NoError(t, Decode(row, &p))
	assert.Equal(t, 3, p.Age)

	_, err = FromRow(raw[:2], cols)
	assert.ErrorIs(t, err, types.ErrDecode)

	raw[1] = nil
	_, err = FromRow(raw, cols)
	assert.ErrorIs(t, err, types.ErrDecode)
}

func TestConcurrentInserts(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)

	g, gctx := errgroup.WithContext(ctx)
	for i := range 20 {
		g.Go(func() error {
			_, err := b.Insert(gctx, &scored{Name: fmt.Sprint(i), Score: float64(i)})
			return err
		})
	}
	require.NoError(t, g.Wait())

	n, err := b.Count(ctx, &scored{}, types.Predicate{})
	require.NoError(t, err)
	assert.Equal(t, int64(20), n)
}
