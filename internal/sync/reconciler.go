package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/pulsebook/pulsebook/internal/model"
)

// Outcome is the overall status of a sync call.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeError     Outcome = "error"
)

// Counts tallies what a sync call did.
type Counts struct {
	// Synced is the number of local records confirmed on the remote (push).
	Synced int `json:"synced"`
	// Failed sums per-record failures of both passes.
	Failed int `json:"failed"`
	// Downloaded is the number of local records created or overwritten by pull.
	Downloaded int `json:"downloaded"`
	// Skipped is the number of pulled records left alone because the local
	// counterpart is pending.
	Skipped int `json:"skipped"`
	// Details holds the first failure messages.
	Details []string `json:"details"`
}

// Result is the structured summary returned to callers of a sync. A
// systemic failure is reported through Outcome and Err, never as a panic or a
// bare error.
type Result struct {
	Outcome Outcome `json:"status"`
	Message string  `json:"message,omitempty"`
	Data    Counts  `json:"data"`

	// Err is the systemic error that aborted the call, if any.
	Err error `json:"-"`
}

// Unavailable reports whether the call was aborted because the remote store
// could not be reached.
func (r Result) Unavailable() bool {
	return errors.Is(r.Err, model.ErrUnavailable)
}

// Options tune the reconciler.
type Options struct {
	// MaxAttempts caps how many consecutive failed pushes a record gets.
	// Zero retries failed records on every pass forever.
	MaxAttempts int
	// RecordTimeout bounds the work for a single record. Zero disables it.
	RecordTimeout time.Duration
	// DetailsLimit caps Counts.Details. Zero selects the default.
	DetailsLimit int
}

const defaultDetailsLimit = 50

// Reconciler runs push and pull passes between the local and the remote
// store. It is stateless between calls: all sync state lives in the records'
// envelopes.
type Reconciler struct {
	local      Store
	remote     RemoteStore
	resolver   *Resolver
	translator *Translator
	opts       Options
	log        *slog.Logger
	now        func() time.Time
}

// NewReconciler creates a Reconciler. remote may be nil when no remote store
// is configured; every call then reports the remote as unavailable.
func NewReconciler(local Store, remote RemoteStore, opts Options, logger *slog.Logger) *Reconciler {
	if opts.DetailsLimit <= 0 {
		opts.DetailsLimit = defaultDetailsLimit
	}
	return &Reconciler{
		local:      local,
		remote:     remote,
		resolver:   NewResolver(logger),
		translator: NewTranslator(logger),
		opts:       opts,
		log:        logger,
		now:        model.Now,
	}
}

// SyncUp pushes pending and failed local records to the remote.
func (r *Reconciler) SyncUp(ctx context.Context) Result {
	t := r.newTally()
	if err := r.connect(ctx); err != nil {
		return t.result(err)
	}
	return t.result(r.push(ctx, t))
}

// SyncDown pulls every live remote record into the local store.
func (r *Reconciler) SyncDown(ctx context.Context) Result {
	t := r.newTally()
	if err := r.connect(ctx); err != nil {
		return t.result(err)
	}
	return t.result(r.pull(ctx, t))
}

// SyncAll pushes, then pulls. A systemic failure during push skips the pull;
// per-record failures of both passes are summed.
func (r *Reconciler) SyncAll(ctx context.Context) Result {
	t := r.newTally()
	if err := r.connect(ctx); err != nil {
		return t.result(err)
	}
	if err := r.push(ctx, t); err != nil {
		return t.result(err)
	}
	return t.result(r.pull(ctx, t))
}

// connect checks that the remote is configured and reachable.
func (r *Reconciler) connect(ctx context.Context) error {
	if r.remote == nil {
		return fmt.Errorf("%w: no remote store configured", model.ErrUnavailable)
	}
	return r.remote.Ping(ctx)
}

// --- push --------------------------------------------------------------------

// push sends every pending or failed local record to the remote, kind by kind
// in dependency order. It returns an error only for systemic failures.
func (r *Reconciler) push(ctx context.Context, t *tally) error {
	for _, k := range model.SyncOrder {
		recs, err := r.local.ListUnsynced(ctx, k, r.opts.MaxAttempts)
		if err != nil {
			return fmt.Errorf("listing unsynced %s: %w", k, err)
		}
		if len(recs) > 0 {
			r.log.Debug("pushing", "kind", k.String(), "count", len(recs))
		}

		for _, rec := range recs {
			err := r.pushRecord(ctx, rec)
			if err == nil {
				t.Synced++
				continue
			}
			if systemic(ctx, err) {
				return err
			}

			meta := rec.Meta()
			r.log.Error("push failed",
				"kind", k.String(),
				"id", meta.ID,
				"global_id", meta.GlobalID,
				"error", err,
			)
			t.fail("push %s %s: %v", k, meta.GlobalID, err)
			if mErr := r.local.MarkFailed(ctx, k, meta.ID, err.Error()); mErr != nil {
				r.log.Error("marking record failed", "kind", k.String(), "id", meta.ID, "error", mErr)
			}
		}
	}
	return nil
}

// pushRecord writes one local record to the remote inside a single remote
// transaction, then confirms it locally.
func (r *Reconciler) pushRecord(ctx context.Context, rec model.Record) error {
	ctx, cancel := r.recordContext(ctx)
	defer cancel()

	now := r.now()
	err := r.remote.InTx(ctx, func(ctx context.Context) error {
		out, err := r.translator.TranslateAll(ctx, rec, r.local, r.remote)
		if err != nil {
			return err
		}
		if err := r.adopt(ctx, out, r.local, r.remote); err != nil {
			return err
		}
		out.Meta().MarkSynced(now)
		return r.remote.Save(ctx, out)
	})
	if err != nil {
		return err
	}

	meta := rec.Meta()
	confirmed, err := r.local.MarkSynced(ctx, rec.Kind(), meta.ID, meta.Revision, now)
	if err != nil {
		return err
	}
	if !confirmed {
		r.log.Info("record changed during push, left pending",
			"kind", rec.Kind().String(),
			"id", meta.ID,
			"global_id", meta.GlobalID,
		)
	}
	return nil
}

// adopt points out at its counterpart in target, or clears its id so that
// target assigns a fresh one. Numeric ids are never carried across stores.
func (r *Reconciler) adopt(ctx context.Context, out model.Record, source, target Store) error {
	counterpart, _, err := r.resolver.Resolve(ctx, out, source, target)
	if err != nil {
		return err
	}
	out.Meta().ID = 0
	if counterpart != nil {
		out.Meta().ID = counterpart.Meta().ID
	}
	return nil
}

// --- pull --------------------------------------------------------------------

// pull copies every live remote record into the local store, kind by kind in
// dependency order. Pending local counterparts are never overwritten.
//
// This is a full scan of the remote on every call; there is no delta cursor.
func (r *Reconciler) pull(ctx context.Context, t *tally) error {
	for _, k := range model.SyncOrder {
		recs, err := r.remote.ListLive(ctx, k)
		if err != nil {
			return fmt.Errorf("listing remote %s: %w", k, err)
		}

		for _, rec := range recs {
			res, err := r.pullRecord(ctx, rec)
			if err != nil {
				if systemic(ctx, err) {
					return err
				}
				r.log.Error("pull failed",
					"kind", k.String(),
					"remote_id", rec.Meta().ID,
					"global_id", rec.Meta().GlobalID,
					"error", err,
				)
				t.fail("pull %s %s: %v", k, rec.Meta().GlobalID, err)
				continue
			}
			switch res {
			case pullWritten:
				t.Downloaded++
			case pullSkipped:
				t.Skipped++
				r.log.Debug("pull skipped, local change pending",
					"kind", k.String(),
					"global_id", rec.Meta().GlobalID,
				)
			}
		}
	}
	return nil
}

type pullResult int

const (
	pullUnchanged pullResult = iota
	pullWritten
	pullSkipped
)

// pullRecord applies one remote record to the local store inside a single
// local transaction.
func (r *Reconciler) pullRecord(ctx context.Context, rec model.Record) (pullResult, error) {
	ctx, cancel := r.recordContext(ctx)
	defer cancel()

	res := pullUnchanged
	err := r.local.InTx(ctx, func(ctx context.Context) error {
		out, err := r.translator.TranslateAll(ctx, rec, r.remote, r.local)
		if err != nil {
			return err
		}
		counterpart, merged, err := r.resolver.Resolve(ctx, out, r.remote, r.local)
		if err != nil {
			return err
		}

		if counterpart != nil {
			cm := counterpart.Meta()
			if cm.SyncStatus == model.StatusPending {
				res = pullSkipped
				return nil
			}
			if !merged && cm.SyncStatus == model.StatusSynced && sameContent(out, counterpart) {
				return nil
			}
			out.Meta().ID = cm.ID
			out.Meta().Revision = cm.Revision
		} else {
			out.Meta().ID = 0
			out.Meta().Revision = 0
		}

		out.Meta().MarkSynced(r.now())
		if err := r.local.Save(ctx, out); err != nil {
			return err
		}
		res = pullWritten
		return nil
	})
	return res, err
}

// sameContent reports whether a and b carry identical business fields and
// tombstone state.
func sameContent(a, b model.Record) bool {
	return a.Meta().IsDeleted == b.Meta().IsDeleted && reflect.DeepEqual(a.Values(), b.Values())
}

// --- helpers -----------------------------------------------------------------

func (r *Reconciler) recordContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.RecordTimeout > 0 {
		return context.WithTimeout(ctx, r.opts.RecordTimeout)
	}
	return context.WithCancel(ctx)
}

// systemic reports whether err must abort the whole pass: the remote is
// unreachable or the caller gave up.
func systemic(ctx context.Context, err error) bool {
	return errors.Is(err, model.ErrUnavailable) || ctx.Err() != nil
}

type tally struct {
	Counts
	limit int
	log   *slog.Logger
}

func (r *Reconciler) newTally() *tally {
	return &tally{Counts: Counts{Details: []string{}}, limit: r.opts.DetailsLimit, log: r.log}
}

func (t *tally) fail(format string, args ...any) {
	t.Failed++
	if len(t.Details) < t.limit {
		t.Details = append(t.Details, fmt.Sprintf(format, args...))
	}
}

func (t *tally) result(err error) Result {
	res := Result{Outcome: OutcomeCompleted, Data: t.Counts, Err: err}
	if err != nil {
		res.Outcome = OutcomeError
		res.Message = err.Error()
		t.log.Warn("sync aborted", "error", err,
			"synced", t.Synced, "failed", t.Failed, "downloaded", t.Downloaded)
		return res
	}
	t.log.Info("sync complete",
		"synced", t.Synced,
		"failed", t.Failed,
		"downloaded", t.Downloaded,
		"skipped", t.Skipped,
	)
	return res
}
