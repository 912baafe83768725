package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/layerpack/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteBackend
// =============================================================================

// SQLiteBackend implements Backend as rows of a single SQLite table. Every
// mutating operation runs in one transaction, so a directory rename is
// atomic.
type SQLiteBackend struct {
	db  *sqlx.DB
	dsn string
	now func() time.Time
}

var _ Backend = (*SQLiteBackend)(nil)

// NewSQLiteBackend opens the database and runs migrations.
func NewSQLiteBackend(dsn string) (*SQLiteBackend, error) {
	full := dsn
	if !strings.Contains(full, "?") {
		full += "?_busy_timeout=5000"
	}
	db, err := sqlx.Open("sqlite3", full)
	if err != nil {
		return nil, NewBackendError("NewSQLiteBackend", "", "failed to open database", ErrConnectionFailed)
	}
	// A single connection keeps ":memory:" databases alive and serialises
	// writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewBackendError("NewSQLiteBackend", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewBackendError("NewSQLiteBackend", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteBackend{db: db, dsn: dsn, now: time.Now}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func (s *SQLiteBackend) String() string {
	return "sqlite:" + s.dsn
}

// Close closes the database connection.
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

// withTx runs fn in a transaction. fn must only use tx: the pool holds a
// single connection.
func (s *SQLiteBackend) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewBackendError(op, "", "failed to begin transaction", ErrTxFailed)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewBackendError(op, "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewBackendError(op, "", "failed to commit transaction", ErrTxFailed)
	}
	return nil
}

// =============================================================================
// Rows
// =============================================================================

// entryRow represents a row of the entries table.
type entryRow struct {
	Path    string `db:"path"`
	Parent  string `db:"parent"`
	Name    string `db:"name"`
	IsDir   bool   `db:"is_dir"`
	Size    int64  `db:"size"`
	ModTime string `db:"mod_time"`
}

func (r entryRow) toEntry() Entry {
	modTime, _ := time.Parse(time.RFC3339Nano, r.ModTime)
	return Entry{
		Path:    r.Path,
		Name:    r.Name,
		IsDir:   r.IsDir,
		Size:    r.Size,
		ModTime: modTime,
	}
}

const entryColumns = `path, parent, name, is_dir, size, mod_time`

// parentOf returns the parent path; the parent of a top-level entry is "".
func parentOf(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// subtreeBounds returns the exclusive bounds of every path strictly below p
// under byte-wise ordering: '0' follows '/' in ASCII.
func subtreeBounds(p string) (lo, hi string) {
	return p + "/", p + "0"
}

func getEntry(ctx context.Context, db executor, p string) (entryRow, error) {
	var row entryRow
	err := db.GetContext(ctx, &row, `SELECT `+entryColumns+` FROM entries WHERE path = ?`, p)
	if errors.Is(err, sql.ErrNoRows) {
		return row, NewBackendError("Stat", p, "not found", ErrNotFound)
	}
	if err != nil {
		return row, NewBackendError("Stat", p, err.Error(), err)
	}
	return row, nil
}

func (s *SQLiteBackend) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// mkdirAll creates dir and its parents inside db.
func (s *SQLiteBackend) mkdirAll(ctx context.Context, db executor, dir string) error {
	if dir == "" {
		return nil
	}
	segments := strings.Split(dir, "/")
	cur := ""
	for _, seg := range segments {
		parent := cur
		cur = path.Join(cur, seg)

		row, err := getEntry(ctx, db, cur)
		switch {
		case err == nil && !row.IsDir:
			return NewBackendError("MkdirAll", cur, "not a directory", ErrNotDir)
		case err == nil:
			continue
		case !errors.Is(err, ErrNotFound):
			return err
		}

		_, err = db.ExecContext(ctx,
			`INSERT INTO entries (path, parent, name, is_dir, data, size, mod_time)
			 VALUES (?, ?, ?, 1, NULL, 0, ?)`,
			cur, parent, seg, s.timestamp())
		if err != nil {
			return NewBackendError("MkdirAll", cur, err.Error(), err)
		}
	}
	return nil
}

// =============================================================================
// Backend Operations
// =============================================================================

func (s *SQLiteBackend) Stat(ctx context.Context, p string) (Entry, error) {
	p = domain.CleanPath(p)
	if p == "" {
		return Entry{IsDir: true}, nil
	}
	row, err := getEntry(ctx, s.db, p)
	if err != nil {
		return Entry{}, err
	}
	return row.toEntry(), nil
}

func (s *SQLiteBackend) List(ctx context.Context, dir string) ([]Entry, error) {
	dir = domain.CleanPath(dir)
	info, err := s.Stat(ctx, dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir {
		return nil, NewBackendError("List", dir, "not a directory", ErrNotDir)
	}

	var rows []entryRow
	err = s.db.SelectContext(ctx, &rows,
		`SELECT `+entryColumns+` FROM entries WHERE parent = ? ORDER BY name`, dir)
	if err != nil {
		return nil, NewBackendError("List", dir, err.Error(), err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.toEntry())
	}
	return entries, nil
}

func (s *SQLiteBackend) Read(ctx context.Context, p string) ([]byte, error) {
	p = domain.CleanPath(p)
	var row struct {
		IsDir bool   `db:"is_dir"`
		Data  []byte `db:"data"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT is_dir, data FROM entries WHERE path = ?`, p)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewBackendError("Read", p, "not found", ErrNotFound)
	}
	if err != nil {
		return nil, NewBackendError("Read", p, err.Error(), err)
	}
	if row.IsDir {
		return nil, NewBackendError("Read", p, "is a directory", ErrIsDir)
	}
	if row.Data == nil {
		return []byte{}, nil
	}
	return row.Data, nil
}

func (s *SQLiteBackend) Write(ctx context.Context, p string, data []byte) error {
	p = domain.CleanPath(p)
	if p == "" {
		return NewBackendError("Write", p, "cannot write to the root", ErrInvalidPath)
	}
	if data == nil {
		data = []byte{}
	}
	return s.withTx(ctx, "Write", func(tx *sqlx.Tx) error {
		row, err := getEntry(ctx, tx, p)
		if err == nil && row.IsDir {
			return NewBackendError("Write", p, "is a directory", ErrIsDir)
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := s.mkdirAll(ctx, tx, parentOf(p)); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO entries (path, parent, name, is_dir, data, size, mod_time)
			 VALUES (?, ?, ?, 0, ?, ?, ?)
			 ON CONFLICT(path) DO UPDATE SET data = excluded.data, size = excluded.size, mod_time = excluded.mod_time`,
			p, parentOf(p), path.Base(p), data, len(data), s.timestamp())
		if err != nil {
			return NewBackendError("Write", p, err.Error(), err)
		}
		return nil
	})
}

func (s *SQLiteBackend) MkdirAll(ctx context.Context, dir string) error {
	dir = domain.CleanPath(dir)
	if dir == "" {
		return nil
	}
	return s.withTx(ctx, "MkdirAll", func(tx *sqlx.Tx) error {
		return s.mkdirAll(ctx, tx, dir)
	})
}

func (s *SQLiteBackend) Delete(ctx context.Context, p string) error {
	p = domain.CleanPath(p)
	if p == "" {
		return NewBackendError("Delete", p, "cannot delete the root", ErrInvalidPath)
	}
	lo, hi := subtreeBounds(p)
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE path = ? OR (path > ? AND path < ?)`, p, lo, hi)
	if err != nil {
		return NewBackendError("Delete", p, err.Error(), err)
	}
	return nil
}

// Rename rewrites the path prefix of every row in the subtree in one
// statement.
func (s *SQLiteBackend) Rename(ctx context.Context, from, to string) error {
	from, to = domain.CleanPath(from), domain.CleanPath(to)
	if err := checkRename(from, to); err != nil {
		return err
	}

	return s.withTx(ctx, "Rename", func(tx *sqlx.Tx) error {
		if _, err := getEntry(ctx, tx, from); err != nil {
			return NewBackendError("Rename", from, "not found", ErrNotFound)
		}
		_, err := getEntry(ctx, tx, to)
		if err == nil {
			return NewBackendError("Rename", to, "target exists", ErrExists)
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := s.mkdirAll(ctx, tx, parentOf(to)); err != nil {
			return err
		}

		// substr counts characters, so the offset is a rune count.
		offset := utf8.RuneCountInString(from) + 1
		lo, hi := subtreeBounds(from)
		_, err = tx.ExecContext(ctx,
			`UPDATE entries SET
			     path   = ? || substr(path, ?),
			     parent = CASE WHEN path = ? THEN ? ELSE ? || substr(parent, ?) END,
			     name   = CASE WHEN path = ? THEN ? ELSE name END
			 WHERE path = ? OR (path > ? AND path < ?)`,
			to, offset,
			from, parentOf(to), to, offset,
			from, path.Base(to),
			from, lo, hi)
		if err != nil {
			return NewBackendError("Rename", from, err.Error(), err)
		}
		return nil
	})
}
