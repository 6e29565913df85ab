package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pulsebook/pulsebook/internal/model"
)

// Resolver finds the counterpart of a record in another store.
type Resolver struct {
	log *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{log: logger}
}

// Resolve returns the counterpart of rec in target, or nil when rec is new to
// target. rec comes from source, and its foreign keys must already be
// translated into target's id space so that the medical-record probe compares
// like with like.
//
// A counterpart found by global id is returned as is. A counterpart found by
// natural key is an identity merge: its global id is overwritten with rec's
// and merged is true. The caller persists the change.
//
// A natural-key candidate whose global id already exists in source belongs to
// another source record and is never taken over. When several candidates
// remain the one with the lowest id wins and a warning lists them all.
func (r *Resolver) Resolve(ctx context.Context, rec model.Record, source, target Store) (counterpart model.Record, merged bool, err error) {
	k := rec.Kind()
	gid := rec.Meta().GlobalID

	counterpart, err = target.GetByGlobalID(ctx, k, gid)
	if err != nil {
		return nil, false, fmt.Errorf("looking up %s %s by global id: %w", k, gid, err)
	}
	if counterpart != nil {
		return counterpart, false, nil
	}

	probe := model.NaturalKey(rec)
	if probe.Empty() {
		return nil, false, nil
	}
	found, err := target.FindByProbe(ctx, k, probe)
	if err != nil {
		return nil, false, fmt.Errorf("probing %s by %v: %w", k, probe.Columns, err)
	}
	candidates, err := r.unlinked(ctx, k, gid, found, source)
	if err != nil {
		return nil, false, err
	}
	if len(candidates) == 0 {
		return nil, false, nil
	}

	// FindByProbe orders by id, so the first candidate has the lowest.
	counterpart = candidates[0]
	if len(candidates) > 1 {
		ids := make([]int64, len(candidates))
		for i, c := range candidates {
			ids[i] = c.Meta().ID
		}
		r.log.Warn("ambiguous identity match, using lowest id",
			"kind", k.String(),
			"global_id", gid,
			"probe", probe.Columns,
			"candidates", ids,
		)
	}

	r.log.Info("identity merge",
		"kind", k.String(),
		"global_id", gid,
		"replaced_global_id", counterpart.Meta().GlobalID,
		"id", counterpart.Meta().ID,
	)
	counterpart.Meta().GlobalID = gid
	return counterpart, true, nil
}

// unlinked drops the candidates already paired with a record of source.
func (r *Resolver) unlinked(ctx context.Context, k model.Kind, gid string, candidates []model.Record, source Store) ([]model.Record, error) {
	out := candidates[:0]
	for _, c := range candidates {
		cgid := c.Meta().GlobalID
		linked, err := source.GetByGlobalID(ctx, k, cgid)
		if err != nil {
			return nil, fmt.Errorf("checking %s %s in source: %w", k, cgid, err)
		}
		if linked != nil {
			r.log.Debug("natural-key candidate already linked, skipping",
				"kind", k.String(),
				"global_id", gid,
				"candidate_id", c.Meta().ID,
				"candidate_global_id", cgid,
			)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
