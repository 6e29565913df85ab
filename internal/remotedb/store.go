package remotedb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsebook/pulsebook/internal/model"
)

// Store is the PostgreSQL-backed remote repository. Its method set mirrors
// the local store so the sync engine can treat both sides alike.
type Store struct {
	pool *pgxpool.Pool
	ping pingPolicy
}

// NewStore wraps pool. pingAttempts bounds [Store.Ping]; zero selects the
// default.
func NewStore(pool *pgxpool.Pool, pingAttempts int) *Store {
	p := defaultPingPolicy
	if pingAttempts > 0 {
		p.attempts = pingAttempts
	}
	return &Store{pool: pool, ping: p}
}

// Close releases every pooled connection.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks reachability. Connection failures are retried with a doubling
// pause; anything else is returned after one attempt. Every failure is
// reported as [model.ErrUnavailable].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.ping.run(ctx, s.pool.Ping); err != nil {
		return fmt.Errorf("%w: %w", model.ErrUnavailable, err)
	}
	return nil
}

// --- transactions ------------------------------------------------------------

type txKey struct{ s *Store }

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{s}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

// InTx runs fn inside a transaction. Store methods called with the context
// passed to fn join that transaction. Nested calls reuse the outer one.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{s}).(pgx.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classify(fmt.Errorf("beginning transaction: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(context.WithValue(ctx, txKey{s}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

// --- generic record access ---------------------------------------------------

// Get returns the record of kind k with the given id, or (nil, nil).
func (s *Store) Get(ctx context.Context, k model.Kind, id int64) (model.Record, error) {
	return s.queryOne(ctx, k, "id = $1", id)
}

// GetByGlobalID returns the record of kind k carrying gid, or (nil, nil).
func (s *Store) GetByGlobalID(ctx context.Context, k model.Kind, gid string) (model.Record, error) {
	return s.queryOne(ctx, k, "global_id = $1", gid)
}

// FindByProbe returns every record of kind k matching the natural-key probe,
// ordered by id.
func (s *Store) FindByProbe(ctx context.Context, k model.Kind, p model.Probe) ([]model.Record, error) {
	if p.Empty() {
		return nil, nil
	}
	conds := make([]string, len(p.Columns))
	for i, c := range p.Columns {
		conds[i] = fmt.Sprintf("%s = $%d", c, i+1)
	}
	return s.queryMany(ctx, k, strings.Join(conds, " AND ")+" ORDER BY id", p.Values...)
}

// ListUnsynced returns records of kind k that are pending or failed, leaving
// out failed records that reached maxAttempts when it is positive.
func (s *Store) ListUnsynced(ctx context.Context, k model.Kind, maxAttempts int) ([]model.Record, error) {
	return s.queryMany(ctx, k,
		"(sync_status = 'pending' OR (sync_status = 'failed' AND ($1::int <= 0 OR sync_attempts < $1::int))) ORDER BY id",
		maxAttempts)
}

// ListLive returns every non-deleted record of kind k, ordered by id.
func (s *Store) ListLive(ctx context.Context, k model.Kind) ([]model.Record, error) {
	return s.queryMany(ctx, k, "NOT is_deleted ORDER BY id")
}

// Save inserts r when its ID is zero and updates every column otherwise. The
// id assigned by the database is written back to r on insert.
func (s *Store) Save(ctx context.Context, r model.Record) error {
	k := r.Kind()
	cols := model.WriteColumns(k)
	vals := model.WriteValues(r)
	meta := r.Meta()

	if meta.ID == 0 {
		ph := make([]string, len(cols))
		for i := range cols {
			ph[i] = fmt.Sprintf("$%d", i+1)
		}
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
			k.Table(), strings.Join(cols, ", "), strings.Join(ph, ", "))
		if err := s.conn(ctx).QueryRow(ctx, q, vals...).Scan(&meta.ID); err != nil {
			return classify(fmt.Errorf("inserting %s %s: %w", k, meta.GlobalID, err))
		}
		return nil
	}

	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", c, i+1)
	}
	q := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", k.Table(), strings.Join(sets, ", "), len(cols)+1)
	if _, err := s.conn(ctx).Exec(ctx, q, append(vals, meta.ID)...); err != nil {
		return classify(fmt.Errorf("updating %s id=%d: %w", k, meta.ID, err))
	}
	return nil
}

// MarkSynced flags the record as synced at t if it still carries revision,
// and reports whether it did.
func (s *Store) MarkSynced(ctx context.Context, k model.Kind, id, revision int64, t time.Time) (bool, error) {
	q := fmt.Sprintf(`UPDATE %s SET sync_status = 'synced', last_synced_at = $1,
		sync_error = '', sync_attempts = 0 WHERE id = $2 AND revision = $3`, k.Table())
	tag, err := s.conn(ctx).Exec(ctx, q, model.Stamp(t), id, revision)
	if err != nil {
		return false, classify(fmt.Errorf("marking %s id=%d synced: %w", k, id, err))
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed flags the record as failed with the given reason.
func (s *Store) MarkFailed(ctx context.Context, k model.Kind, id int64, reason string) error {
	q := fmt.Sprintf(`UPDATE %s SET sync_status = 'failed', sync_error = $1,
		sync_attempts = sync_attempts + 1 WHERE id = $2`, k.Table())
	if _, err := s.conn(ctx).Exec(ctx, q, reason, id); err != nil {
		return classify(fmt.Errorf("marking %s id=%d failed: %w", k, id, err))
	}
	return nil
}

// --- helpers -----------------------------------------------------------------

func selectFrom(k model.Kind) string {
	return "SELECT " + strings.Join(model.SelectColumns(k), ", ") + " FROM " + k.Table()
}

func (s *Store) queryOne(ctx context.Context, k model.Kind, where string, args ...any) (model.Record, error) {
	r := model.New(k)
	err := s.conn(ctx).QueryRow(ctx, selectFrom(k)+" WHERE "+where, args...).Scan(model.ScanTargets(r)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, classify(fmt.Errorf("scanning %s row: %w", k, err))
	}
	return r, nil
}

func (s *Store) queryMany(ctx context.Context, k model.Kind, where string, args ...any) ([]model.Record, error) {
	rows, err := s.conn(ctx).Query(ctx, selectFrom(k)+" WHERE "+where, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("querying %s: %w", k.Table(), err))
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		r := model.New(k)
		if err := rows.Scan(model.ScanTargets(r)...); err != nil {
			return nil, classify(fmt.Errorf("scanning %s row: %w", k, err))
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("iterating %s: %w", k.Table(), err))
	}
	return out, nil
}
