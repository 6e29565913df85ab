// Package localdb manages the local SQLite database. It is always available
// and is the source of truth for the API layer.
//
// Only this package may open or query the database. All other packages receive
// a [*Store] and call its methods.
package localdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/pulsebook/pulsebook/internal/model"
)

// Store is the SQLite-backed local repository.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the local database:
// ~/.local/share/pulsebook/pulsebook.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "pulsebook", "pulsebook.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema, and
// configures WAL mode for better concurrent read performance.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL. Every query, including
	// those issued inside InTx, goes through this one connection.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate applies the schema DDL idempotently (CREATE IF NOT EXISTS).
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// --- transactions ------------------------------------------------------------

type txKey struct{ s *Store }

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn returns the transaction bound to ctx by InTx, or the database.
func (s *Store) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{s}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// InTx runs fn inside a transaction. Store methods called with the context
// passed to fn join that transaction. The transaction is committed when fn
// returns nil and rolled back otherwise. Nested calls reuse the outer
// transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{s}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{s}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// --- generic record access ---------------------------------------------------

// Get returns the record of kind k with the given id, or (nil, nil) if no such
// record exists.
func (s *Store) Get(ctx context.Context, k model.Kind, id int64) (model.Record, error) {
	return s.queryOne(ctx, k, "id = ?", id)
}

// GetByGlobalID returns the record of kind k carrying gid, or (nil, nil).
func (s *Store) GetByGlobalID(ctx context.Context, k model.Kind, gid string) (model.Record, error) {
	return s.queryOne(ctx, k, "global_id = ?", gid)
}

// FindByProbe returns every record of kind k matching the natural-key probe,
// ordered by id.
func (s *Store) FindByProbe(ctx context.Context, k model.Kind, p model.Probe) ([]model.Record, error) {
	if p.Empty() {
		return nil, nil
	}
	conds := make([]string, len(p.Columns))
	for i, c := range p.Columns {
		conds[i] = c + " = ?"
	}
	return s.queryMany(ctx, k, strings.Join(conds, " AND ")+" ORDER BY id", p.Values...)
}

// ListUnsynced returns records of kind k that are pending or failed. When
// maxAttempts is positive, failed records that already reached it are left
// out.
func (s *Store) ListUnsynced(ctx context.Context, k model.Kind, maxAttempts int) ([]model.Record, error) {
	return s.queryMany(ctx, k,
		"(sync_status = 'pending' OR (sync_status = 'failed' AND (? <= 0 OR sync_attempts < ?))) ORDER BY id",
		maxAttempts, maxAttempts)
}

// ListLive returns every non-deleted record of kind k, ordered by id.
func (s *Store) ListLive(ctx context.Context, k model.Kind) ([]model.Record, error) {
	return s.queryMany(ctx, k, "is_deleted = 0 ORDER BY id")
}

// Save inserts r when its ID is zero and updates every column otherwise. The
// assigned id is written back to r on insert.
func (s *Store) Save(ctx context.Context, r model.Record) error {
	k := r.Kind()
	cols := model.WriteColumns(k)
	vals := model.WriteValues(r)
	meta := r.Meta()

	if meta.ID == 0 {
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			k.Table(), strings.Join(cols, ", "), placeholders(len(cols)))
		res, err := s.conn(ctx).ExecContext(ctx, q, vals...)
		if err != nil {
			return fmt.Errorf("inserting %s %s: %w", k, meta.GlobalID, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading id of new %s: %w", k, err)
		}
		meta.ID = id
		return nil
	}

	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = ?"
	}
	q := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", k.Table(), strings.Join(sets, ", "))
	if _, err := s.conn(ctx).ExecContext(ctx, q, append(vals, meta.ID)...); err != nil {
		return fmt.Errorf("updating %s id=%d: %w", k, meta.ID, err)
	}
	return nil
}

// MarkSynced flags the record as synced at t and clears any failure, provided
// it still carries revision. It reports false when the row was written again
// in the meantime; the row then stays pending.
func (s *Store) MarkSynced(ctx context.Context, k model.Kind, id, revision int64, t time.Time) (bool, error) {
	q := fmt.Sprintf(`UPDATE %s SET sync_status = 'synced', last_synced_at = ?,
		sync_error = '', sync_attempts = 0 WHERE id = ? AND revision = ?`, k.Table())
	res, err := s.conn(ctx).ExecContext(ctx, q, model.Stamp(t), id, revision)
	if err != nil {
		return false, fmt.Errorf("marking %s id=%d synced: %w", k, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("marking %s id=%d synced: %w", k, id, err)
	}
	return n == 1, nil
}

// MarkFailed flags the record as failed with the given reason and bumps its
// attempt counter.
func (s *Store) MarkFailed(ctx context.Context, k model.Kind, id int64, reason string) error {
	q := fmt.Sprintf(`UPDATE %s SET sync_status = 'failed', sync_error = ?,
		sync_attempts = sync_attempts + 1 WHERE id = ?`, k.Table())
	if _, err := s.conn(ctx).ExecContext(ctx, q, reason, id); err != nil {
		return fmt.Errorf("marking %s id=%d failed: %w", k, id, err)
	}
	return nil
}

// PendingCount returns the number of pending records across all kinds.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	total := 0
	for _, k := range model.SyncOrder {
		var n int
		q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE sync_status = 'pending'", k.Table())
		if err := s.conn(ctx).QueryRowContext(ctx, q).Scan(&n); err != nil {
			return 0, fmt.Errorf("counting pending %s: %w", k, err)
		}
		total += n
	}
	return total, nil
}

// StatusCounts returns, per kind, the number of records in each sync status.
func (s *Store) StatusCounts(ctx context.Context) (map[model.Kind]map[model.SyncStatus]int, error) {
	out := make(map[model.Kind]map[model.SyncStatus]int, len(model.SyncOrder))
	for _, k := range model.SyncOrder {
		q := fmt.Sprintf("SELECT sync_status, COUNT(*) FROM %s GROUP BY sync_status", k.Table())
		rows, err := s.conn(ctx).QueryContext(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("counting %s by status: %w", k, err)
		}
		counts := map[model.SyncStatus]int{}
		for rows.Next() {
			var st model.SyncStatus
			var n int
			if err := rows.Scan(&st, &n); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scanning %s status count: %w", k, err)
			}
			counts[st] = n
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
		out[k] = counts
	}
	return out, nil
}

// --- helpers -----------------------------------------------------------------

func selectFrom(k model.Kind) string {
	return "SELECT " + strings.Join(model.SelectColumns(k), ", ") + " FROM " + k.Table()
}

func (s *Store) queryOne(ctx context.Context, k model.Kind, where string, args ...any) (model.Record, error) {
	row := s.conn(ctx).QueryRowContext(ctx, selectFrom(k)+" WHERE "+where, args...)
	r := model.New(k)
	err := row.Scan(model.ScanTargets(r)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning %s row: %w", k, err)
	}
	return r, nil
}

func (s *Store) queryMany(ctx context.Context, k model.Kind, where string, args ...any) ([]model.Record, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, selectFrom(k)+" WHERE "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", k.Table(), err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Record
	for rows.Next() {
		r := model.New(k)
		if err := rows.Scan(model.ScanTargets(r)...); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", k, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
