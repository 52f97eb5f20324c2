package sqlite

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/recordkit/pkg/types"
)

func TestWriteAndReadJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.jsonl")
	records := []json.RawMessage{
		json.RawMessage(`{"a":1}`),
		json.RawMessage(`{"a":2}`),
	}
	require.NoError(t, writeJSONL(path, records))

	got, err := readJSONL(path)
	require.NoError(t, err)
	assert.Equal(t, records, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestReadJSONL_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.jsonl")
	content := "{\"a\":1}\n\nnot json\n{\"a\":2}\n{broken\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	got, err := readJSONL(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.JSONEq(t, `{"a":2}`, string(got[1]))
}

func TestReadJSONL_MissingFile(t *testing.T) {
	_, err := readJSONL(filepath.Join(t.TempDir(), "nope.jsonl"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExportImportJSONL(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)

	people := []*person{
		{Name: "A", Age: 30, Score: ptr(1.5), Active: true, Photo: []byte{1, 2}},
		{Name: "B", Age: 40},
	}
	for _, p := range people {
		_, err := b.Insert(ctx, p)
		require.NoError(t, err)
	}

	path := filepath.Join(t.TempDir(), "person.jsonl")
	n, err := b.ExportJSONL(ctx, "person", path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"rowid":1,"name":"A","age":30,"score":1.5,"active":1,"photo":"AQI="}`, lines[0])

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("garbage\n{\"name\":\"C\",\"unknown\":1,\"age\":\"7\"}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, b.Clear(ctx, &person{}))
	n, err = b.ImportJSONL(ctx, "person", path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var a person
	found, err := b.First(ctx, &a, types.Col("name").Eq("A"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 30, a.Age)
	require.NotNil(t, a.Score)
	assert.Equal(t, 1.5, *a.Score)
	assert.True(t, a.Active)
	assert.Equal(t, []byte{1, 2}, a.Photo)

	var c person
	found, err = b.First(ctx, &c, types.Col("name").Eq("C"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 7, c.Age)
	assert.Nil(t, c.Score)
}

func TestExportJSONL_MissingTable(t *testing.T) {
	b := openTestBackend(t)
	_, err := b.ExportJSONL(context.Background(), "ghost", filepath.Join(t.TempDir(), "x.jsonl"))
	assert.ErrorIs(t, err, types.ErrSchema)
}

func TestExportImportJSONL_KeepsLargeIntegers(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)

	_, err := b.Insert(ctx, &counter{N: math.MaxInt64})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "counter.jsonl")
	n, err := b.ExportJSONL(ctx, "counter", path)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"n":9223372036854775807`)

	require.NoError(t, b.Clear(ctx, &counter{}))
	n, err = b.ImportJSONL(ctx, "counter", path)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var got counter
	found, err := b.First(ctx, &got, types.Predicate{})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(math.MaxInt64), got.N)
}
