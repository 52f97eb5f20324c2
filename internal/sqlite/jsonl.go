package sqlite

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mesh-intelligence/recordkit/pkg/types"
)

// readJSONL reads a JSONL file and returns each non-empty, parseable line.
// Malformed lines are skipped.
func readJSONL(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var records []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		records = append(records, json.RawMessage(append([]byte{}, line...)))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return records, nil
}

// writeJSONL atomically writes records to path: temp file, fsync, rename.
func writeJSONL(path string, records []json.RawMessage) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(step string, err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%s: %w", step, err)
	}

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			return fail("writing record", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fail("writing newline", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fail("flushing buffer", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("syncing temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// ExportJSONL writes every row of table to path, one JSON object per line,
// and returns the number of rows written.
func (b *Backend) ExportJSONL(ctx context.Context, table, path string) (int, error) {
	proto, err := b.Table(ctx, table)
	if err != nil {
		return 0, err
	}
	rows, err := b.Filter(ctx, proto, types.Predicate{}.OrderBy(types.RowIDColumn, false))
	if err != nil {
		return 0, err
	}

	records := make([]json.RawMessage, len(rows))
	for i, row := range rows {
		line, err := json.Marshal(row)
		if err != nil {
			return 0, fmt.Errorf("encoding row %d: %w", row.RowID(), err)
		}
		records[i] = line
	}
	if err := writeJSONL(path, records); err != nil {
		b.log.Error("export failed", "table", table, "path", path, "error", err)
		return 0, err
	}
	b.log.Info("table exported", "table", table, "path", path, "rows", len(records))
	return len(records), nil
}

// ImportJSONL inserts every parseable line of path into the existing table
// in one transaction and returns the number of rows inserted. Fields that
// are not columns of the table are ignored; rowids are reassigned.
func (b *Backend) ImportJSONL(ctx context.Context, table, path string) (int, error) {
	proto, err := b.Table(ctx, table)
	if err != nil {
		return 0, err
	}
	lines, err := readJSONL(path)
	if err != nil {
		return 0, err
	}
	if len(lines) == 0 {
		return 0, nil
	}

	recs := make([]types.Record, 0, len(lines))
	for i, line := range lines {
		// Numbers stay json.Number so integers above 2^53 keep every digit.
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			b.log.Warn("skipping line", "path", path, "line", i+1, "error", err)
			continue
		}
		d := NewDynamic(table, proto.cols)
		for name, v := range obj {
			if err := d.Set(name, v); err != nil {
				b.log.Debug("field ignored", "table", table, "field", name, "error", err)
			}
		}
		recs = append(recs, d)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	ids, err := b.InsertBatch(ctx, recs, nil)
	if err != nil {
		return 0, err
	}
	b.log.Info("table imported", "table", table, "path", path, "rows", len(ids))
	return len(ids), nil
}
