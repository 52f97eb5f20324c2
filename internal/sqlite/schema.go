package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/recordkit/pkg/types"
)

// ColumnInfo is one column of a live table as reported by table_info.
type ColumnInfo struct {
	Name       string         `json:"name" yaml:"name"`
	DeclType   string         `json:"type" yaml:"type"`
	NotNull    bool           `json:"not_null" yaml:"not_null"`
	Default    sql.NullString `json:"-" yaml:"-"`
	PrimaryKey bool           `json:"primary_key" yaml:"primary_key"`
}

// Kind maps the declared type back to a column kind using SQLite's type
// affinity rules. Nullable columns map to optional kinds.
func (c ColumnInfo) Kind() types.Kind {
	nullable := !c.NotNull && !c.PrimaryKey
	t := strings.ToUpper(c.DeclType)
	switch {
	case strings.Contains(t, "INT"):
		return pick(nullable, types.KindInt, types.KindOptionalInt)
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return pick(nullable, types.KindText, types.KindOptionalText)
	case t == "", strings.Contains(t, "BLOB"):
		return pick(nullable, types.KindBlob, types.KindOptionalBlob)
	default:
		return pick(nullable, types.KindReal, types.KindOptionalReal)
	}
}

func pick(nullable bool, required, optional types.Kind) types.Kind {
	if nullable {
		return optional
	}
	return required
}

// Column converts the live column to the layout a record would declare.
func (c ColumnInfo) Column() types.Column {
	k := c.Kind()
	return types.Column{Name: c.Name, Kind: k, IsPrimaryKey: c.PrimaryKey && k == types.KindInt}
}

func columnDef(c types.Column) string {
	if c.IsPrimaryKey {
		return types.Quote(c.Name) + " INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	def := types.Quote(c.Name) + " " + c.Kind.SQLType()
	if !c.Kind.Optional() {
		def += " NOT NULL"
	}
	return def + " DEFAULT " + c.Kind.DefaultSQL()
}

func createTableSQL(table string, cols []types.Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = columnDef(c)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", types.Quote(table), strings.Join(defs, ", "))
}

func addColumnSQL(table string, c types.Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", types.Quote(table), columnDef(c))
}

// signature identifies a column layout for the verified cache.
func signature(cols []types.Column) string {
	var sb strings.Builder
	for _, c := range cols {
		fmt.Fprintf(&sb, "%s:%d;", c.Name, c.Kind)
	}
	return sb.String()
}

func validateLayout(table string, cols []types.Column) error {
	if err := types.ValidateIdentifier(table); err != nil {
		return fmt.Errorf("%w: table: %w", types.ErrSchema, err)
	}
	if len(cols) == 0 {
		return fmt.Errorf("%w: table %s has no columns", types.ErrSchema, table)
	}
	for _, c := range cols {
		if err := types.ValidateIdentifier(c.Name); err != nil {
			return fmt.Errorf("%w: table %s: %w", types.ErrSchema, table, err)
		}
	}
	return nil
}

// EnsureTable creates the table on first use in this session and adds any
// of cols it lacks. It reports whether the table was created. Repeating the
// call with the same layout runs no statement.
func (b *Backend) EnsureTable(ctx context.Context, table string, cols []types.Column) (bool, error) {
	release, err := b.acquire()
	if err != nil {
		return false, err
	}
	defer release()
	return b.ensureTable(ctx, table, cols)
}

func (b *Backend) ensureTable(ctx context.Context, table string, cols []types.Column) (bool, error) {
	if err := validateLayout(table, cols); err != nil {
		b.log.Error("ensure table failed", "table", table, "error", err)
		return false, err
	}

	b.schemaMu.Lock()
	defer b.schemaMu.Unlock()

	sig := signature(cols)
	if b.created[table] && b.verified[table] == sig {
		return false, nil
	}

	created := false
	if !b.created[table] {
		exists, err := b.tableExists(ctx, table)
		if err != nil {
			b.log.Error("ensure table failed", "table", table, "error", err)
			return false, fmt.Errorf("%w: %w", types.ErrSchema, err)
		}
		if !exists {
			if _, err := b.exec(ctx, b.db, createTableSQL(table, cols)); err != nil {
				b.log.Error("create table failed", "table", table, "error", err)
				return false, fmt.Errorf("%w: create %s: %w", types.ErrSchema, table, err)
			}
			created = true
			b.verified[table] = sig
			b.log.Info("table created", "table", table, "columns", len(cols))
		}
		b.created[table] = true
	}

	if b.verified[table] != sig {
		if _, err := b.addMissingColumns(ctx, table, cols); err != nil {
			return created, err
		}
		b.verified[table] = sig
	}
	return created, nil
}

// AddMissingColumns adds every column of cols the table lacks, with the
// kind's default, in a single transaction. Existing columns are never
// dropped, renamed or retyped. It returns the added column names.
func (b *Backend) AddMissingColumns(ctx context.Context, table string, cols []types.Column) ([]string, error) {
	release, err := b.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	if err := validateLayout(table, cols); err != nil {
		return nil, err
	}
	b.schemaMu.Lock()
	defer b.schemaMu.Unlock()

	added, err := b.addMissingColumns(ctx, table, cols)
	if err == nil {
		delete(b.verified, table)
	}
	return added, err
}

// addMissingColumns requires schemaMu.
func (b *Backend) addMissingColumns(ctx context.Context, table string, cols []types.Column) ([]string, error) {
	live, err := b.tableColumns(ctx, table)
	if err != nil {
		b.log.Error("read columns failed", "table", table, "error", err)
		return nil, fmt.Errorf("%w: %w", types.ErrSchema, err)
	}
	have := make(map[string]bool, len(live))
	for _, c := range live {
		have[strings.ToLower(c.Name)] = true
	}

	var missing []types.Column
	for _, c := range cols {
		// The implicit rowid is always addressable.
		if c.IsPrimaryKey || have[strings.ToLower(c.Name)] {
			continue
		}
		missing = append(missing, c)
	}
	if len(missing) == 0 {
		return nil, nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %w", types.ErrSchema, err)
	}
	defer tx.Rollback()

	added := make([]string, 0, len(missing))
	for _, c := range missing {
		if _, err := b.exec(ctx, tx, addColumnSQL(table, c)); err != nil {
			b.log.Error("add column failed", "table", table, "column", c.Name, "error", err)
			return nil, fmt.Errorf("%w: add column %s.%s: %w", types.ErrSchema, table, c.Name, err)
		}
		added = append(added, c.Name)
	}
	if err := tx.Commit(); err != nil {
		b.log.Error("add columns failed", "table", table, "error", err)
		return nil, fmt.Errorf("%w: commit: %w", types.ErrSchema, err)
	}
	b.log.Info("columns added", "table", table, "columns", added)
	return added, nil
}

func (b *Backend) tableExists(ctx context.Context, table string) (bool, error) {
	rows, err := b.query(ctx, b.db, "SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?", table)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	exists := rows.Next()
	return exists, rows.Err()
}

// TableColumns returns the live columns of table in declaration order. A
// table that does not exist has no columns.
func (b *Backend) TableColumns(ctx context.Context, table string) ([]ColumnInfo, error) {
	release, err := b.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	if err := types.ValidateIdentifier(table); err != nil {
		return nil, err
	}
	cols, err := b.tableColumns(ctx, table)
	if err != nil {
		b.log.Error("read columns failed", "table", table, "error", err)
		return nil, fmt.Errorf("%w: %w", types.ErrSchema, err)
	}
	return cols, nil
}

func (b *Backend) tableColumns(ctx context.Context, table string) ([]ColumnInfo, error) {
	rows, err := b.query(ctx, b.db,
		`SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var c ColumnInfo
		var notNull, pk int
		if err := rows.Scan(&c.Name, &c.DeclType, &notNull, &c.Default, &pk); err != nil {
			return nil, err
		}
		c.NotNull = notNull != 0
		c.PrimaryKey = pk != 0
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// Tables lists the user tables in the database, sorted by name.
func (b *Backend) Tables(ctx context.Context) ([]string, error) {
	release, err := b.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := b.query(ctx, b.db,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		b.log.Error("list tables failed", "error", err)
		return nil, fmt.Errorf("%w: %w", types.ErrSchema, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrSchema, err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// forget drops the schema cache entries of table.
func (b *Backend) forget(table string) {
	b.schemaMu.Lock()
	defer b.schemaMu.Unlock()
	delete(b.created, table)
	delete(b.verified, table)
}
