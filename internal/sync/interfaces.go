// Package sync implements the offline-first bidirectional sync between the
// local store and the remote store.
//
// The package contains four components:
//
//   - [Resolver] maps a record to its counterpart in the other store, by
//     global id first and by a kind-specific natural key second.
//   - [Translator] rewrites foreign-key columns from one store's id space to
//     the other's.
//   - [Reconciler] runs the push and pull passes in dependency order.
//   - [Engine] guards against concurrent passes, records telemetry and runs
//     the periodic loop.
package sync

import (
	"context"
	"time"

	"github.com/pulsebook/pulsebook/internal/model"
)

// Store is one side of the sync. Implemented by [localdb.Store] and
// [remotedb.Store].
type Store interface {
	// InTx runs fn in a transaction; calls made with the context passed to fn
	// join it.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	Get(ctx context.Context, k model.Kind, id int64) (model.Record, error)
	GetByGlobalID(ctx context.Context, k model.Kind, gid string) (model.Record, error)
	FindByProbe(ctx context.Context, k model.Kind, p model.Probe) ([]model.Record, error)

	ListUnsynced(ctx context.Context, k model.Kind, maxAttempts int) ([]model.Record, error)
	ListLive(ctx context.Context, k model.Kind) ([]model.Record, error)

	Save(ctx context.Context, r model.Record) error
	// MarkSynced confirms the record only if it still carries revision and
	// reports whether it did.
	MarkSynced(ctx context.Context, k model.Kind, id, revision int64, t time.Time) (bool, error)
	MarkFailed(ctx context.Context, k model.Kind, id int64, reason string) error
}

// RemoteStore is the remote side, which can additionally be probed for
// reachability. Implemented by [remotedb.Store].
type RemoteStore interface {
	Store
	Ping(ctx context.Context) error
}

// LocalStore is the local side, which can additionally report its backlog.
// Implemented by [localdb.Store].
type LocalStore interface {
	Store
	PendingCount(ctx context.Context) (int, error)
}
