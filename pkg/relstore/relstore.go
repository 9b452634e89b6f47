// Package relstore wraps the embedded SQLite connection that backs
// every table, view, and full-text index in a veclite store. It turns a
// pkg/schema.Schema into DDL, manages the connection's lifecycle and
// pragmas, and exposes the minimal CRUD/transaction surface the rest of
// veclite is built on.
package relstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/lucasastorian/veclite/pkg/schema"
	"github.com/lucasastorian/veclite/pkg/verr"
	"github.com/lucasastorian/veclite/pkg/vlog"
)

// Store owns the *sql.DB for one veclite database file and the schema it
// was opened with.
type Store struct {
	db     *sql.DB
	schema *schema.Schema
	log    vlog.Logger
	path   string
}

// Open creates (if needed) and opens the SQLite file at path, applies the
// WAL/busy-timeout/cache pragmas, registers the REGEXP scalar function,
// and materializes every table, FTS5 shadow table, index, and view
// declared in sch.
func Open(ctx context.Context, path string, sch *schema.Schema, log vlog.Logger) (*Store, error) {
	if log == nil {
		log = vlog.Nop{}
	}
	registerRegexpFunc()

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=cache_size(-2000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, verr.Wrap(verr.KindStorage, "relstore.Open", fmt.Errorf("open %s: %w", path, err))
	}
	db.SetMaxOpenConns(1) // single-writer: SQLite serializes writers anyway, avoid lock contention
	db.SetConnMaxLifetime(2 * time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, verr.Wrap(verr.KindStorage, "relstore.Open", err)
	}

	st := &Store{db: db, schema: sch, log: log, path: path}
	if err := st.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("relstore opened", "path", path)
	return st, nil
}

// DB returns the underlying connection pool, for components (such as the
// batch package's text-hash sidecar and row lookups) that issue their own
// statements against the same database.
func (s *Store) DB() *sql.DB { return s.db }

// Schema returns the schema the store was opened with.
func (s *Store) Schema() *schema.Schema { return s.schema }

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	var stmts []string
	for _, t := range s.schema.Tables {
		stmts = append(stmts, createTableSQL(t))
		stmts = append(stmts, createIndexSQL(t)...)
		if ftsStmts := createFTSSQL(t); len(ftsStmts) > 0 {
			stmts = append(stmts, ftsStmts...)
		}
	}
	for _, v := range s.schema.Views {
		sqlStmt, err := createViewSQL(v, s.schema)
		if err != nil {
			return err
		}
		stmts = append(stmts, sqlStmt)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return verr.Wrap(verr.KindStorage, "relstore.migrate", err)
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return verr.Wrap(verr.KindSchema, "relstore.migrate", fmt.Errorf("%w\nstatement:\n%s", err, stmt))
		}
	}
	if err := tx.Commit(); err != nil {
		return verr.Wrap(verr.KindStorage, "relstore.migrate", err)
	}
	return nil
}

// Tx wraps a *sql.Tx for callers that
// need several statements to share one atomic unit (batch ingestion,
// upserts with a text-hash check-and-set).
type Tx struct {
	tx *sql.Tx
}

// Begin starts a new transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, verr.Wrap(verr.KindStorage, "relstore.Begin", err)
	}
	return &Tx{tx: tx}, nil
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

// Insert writes one row and returns its rowid. cols must be a subset of
// table's declared columns, in any order.
func (s *Store) Insert(ctx context.Context, execer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, table string, cols map[string]any) (int64, error) {
	if execer == nil {
		execer = s.db
	}
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	placeholders := make([]string, len(names))
	vals := make([]any, len(names))
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = quoteIdent(name)
		placeholders[i] = "?"
		vals[i] = cols[name]
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	res, err := execer.ExecContext(ctx, q, vals...)
	if err != nil {
		return 0, verr.Wrap(verr.KindStorage, "relstore.Insert", err)
	}
	return res.LastInsertId()
}

// Upsert inserts a row or, on primary-key conflict, overwrites the
// non-key columns. Requires the table's primary key to be present in cols.
func (s *Store) Upsert(ctx context.Context, execer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, table *schema.Table, cols map[string]any) error {
	if execer == nil {
		execer = s.db
	}
	pk := table.PrimaryKey()
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	placeholders := make([]string, len(names))
	vals := make([]any, len(names))
	quoted := make([]string, len(names))
	var updates []string
	for i, name := range names {
		quoted[i] = quoteIdent(name)
		placeholders[i] = "?"
		vals[i] = cols[name]
		if name != pk {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", quoteIdent(name), quoteIdent(name)))
		}
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
		quoteIdent(table.Name), strings.Join(quoted, ", "), strings.Join(placeholders, ", "),
		quoteIdent(pk), strings.Join(updates, ", "))
	if _, err := execer.ExecContext(ctx, q, vals...); err != nil {
		return verr.Wrap(verr.KindStorage, "relstore.Upsert", err)
	}
	return nil
}

// DeleteByPK removes the row with the given primary-key value.
func (s *Store) DeleteByPK(ctx context.Context, table *schema.Table, pkVal any) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quoteIdent(table.Name), quoteIdent(table.PrimaryKey()))
	if _, err := s.db.ExecContext(ctx, q, pkVal); err != nil {
		return verr.Wrap(verr.KindStorage, "relstore.DeleteByPK", err)
	}
	return nil
}

// Query runs an arbitrary parameterized SELECT against the store.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, verr.Wrap(verr.KindStorage, "relstore.Query", err)
	}
	return rows, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
