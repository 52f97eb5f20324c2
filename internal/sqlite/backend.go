// Package sqlite implements the recordkit Store on an embedded SQLite file.
//
// A Backend owns one shared connection, the set of tables created during the
// session and the column layout last verified for each table. Tables are
// created on first use from a record's column list and gain columns
// additively when the record type grows new fields.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/recordkit/internal/otel"
	"github.com/mesh-intelligence/recordkit/internal/telemetry"
	"github.com/mesh-intelligence/recordkit/pkg/types"
)

// MemoryDB is the DBFile value that selects a private in-memory database.
const MemoryDB = ":memory:"

// StatementObserver is called with every SQL statement the backend runs.
type StatementObserver func(query string)

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.log = l
		}
	}
}

// WithTracer sets the tracer used for per-operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(b *Backend) {
		if t != nil {
			b.tracer = t
		}
	}
}

// WithStatementObserver registers fn to see every executed statement.
func WithStatementObserver(fn StatementObserver) Option {
	return func(b *Backend) { b.observer = fn }
}

// Backend implements types.Store using SQLite.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	path     string
	db       *sql.DB

	log      *slog.Logger
	tracer   trace.Tracer
	observer StatementObserver

	// schemaMu guards created and verified.
	schemaMu sync.Mutex
	created  map[string]bool
	verified map[string]string
}

var _ types.Store = (*Backend)(nil)

// NewBackend creates a detached backend. Call Attach with a Config to open
// the database.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		log:      telemetry.Discard(),
		tracer:   otel.Noop().Tracer,
		created:  make(map[string]bool),
		verified: make(map[string]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open is NewBackend followed by Attach.
func Open(config types.Config, opts ...Option) (*Backend, error) {
	b := NewBackend(opts...)
	if err := b.Attach(config); err != nil {
		return nil, err
	}
	return b, nil
}

// Attach opens the database file <DataDir>/<DBFile>, creating DataDir if
// needed. Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}
	config = config.WithDefaults()

	path := MemoryDB
	if config.DBFile != MemoryDB {
		dataDir := config.DataDir
		if dataDir == "" {
			dataDir = "."
		}
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return fmt.Errorf("%w: creating data dir: %w", types.ErrConnectionUnavailable, err)
		}
		path = filepath.Join(dataDir, config.DBFile)
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		path, config.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		b.log.Error("open database failed", "path", path, "error", err)
		return fmt.Errorf("%w: %w", types.ErrConnectionUnavailable, err)
	}
	// One shared connection: SQLite allows a single writer, and an
	// in-memory database exists per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		b.log.Error("open database failed", "path", path, "error", err)
		return fmt.Errorf("%w: %w", types.ErrConnectionUnavailable, err)
	}

	b.db = db
	b.path = path
	b.config = config
	b.attached = true
	b.resetSchemaCache()
	b.log.Debug("database attached", "path", path)
	return nil
}

// Detach closes the connection. After Detach, all operations return
// ErrConnectionUnavailable. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	b.attached = false
	b.resetSchemaCache()

	db := b.db
	b.db = nil
	if err := db.Close(); err != nil {
		b.log.Error("close database failed", "path", b.path, "error", err)
		return err
	}
	b.log.Debug("database detached", "path", b.path)
	return nil
}

// Path returns the database file path, or MemoryDB.
func (b *Backend) Path() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.path
}

func (b *Backend) resetSchemaCache() {
	b.schemaMu.Lock()
	defer b.schemaMu.Unlock()
	clear(b.created)
	clear(b.verified)
}

// acquire read-locks the backend for one operation. The returned release
// must be called when the operation finishes.
func (b *Backend) acquire() (release func(), err error) {
	b.mu.RLock()
	if !b.attached {
		b.mu.RUnlock()
		return nil, types.ErrConnectionUnavailable
	}
	return b.mu.RUnlock, nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (b *Backend) observe(query string) {
	b.log.Debug("sql", "query", query)
	if b.observer != nil {
		b.observer(query)
	}
}

func (b *Backend) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	b.observe(query)
	var res sql.Result
	err := retryOnBusy(ctx, maxBusyRetries, func() error {
		var err error
		res, err = q.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

func (b *Backend) query(ctx context.Context, q querier, query string, args ...any) (*sql.Rows, error) {
	b.observe(query)
	var rows *sql.Rows
	err := retryOnBusy(ctx, maxBusyRetries, func() error {
		var err error
		rows, err = q.QueryContext(ctx, query, args...)
		return err
	})
	return rows, err
}
