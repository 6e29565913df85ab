package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pulsebook/pulsebook/internal/model"
)

// Translator rewrites foreign-key values between the id spaces of two stores
// by way of the referenced record's global id.
type Translator struct {
	log *slog.Logger
}

// NewTranslator creates a Translator.
func NewTranslator(logger *slog.Logger) *Translator {
	return &Translator{log: logger}
}

// Translate returns the id, in to's id space, of the record that fk of src
// references in from. It returns nil when src does not reference anything or
// when the referenced record has no counterpart in to yet; the latter is
// logged as a dependency gap.
func (t *Translator) Translate(ctx context.Context, fk model.ForeignKey, src model.Record, from, to Store) (*int64, error) {
	ref := src.Ref(fk.Column)
	if ref == nil {
		return nil, nil
	}

	parent, err := from.Get(ctx, fk.Target, *ref)
	if err != nil {
		return nil, fmt.Errorf("loading %s %d referenced by %s.%s: %w", fk.Target, *ref, src.Kind(), fk.Column, err)
	}
	if parent == nil {
		t.log.Warn("dangling foreign key",
			"kind", src.Kind().String(),
			"global_id", src.Meta().GlobalID,
			"column", fk.Column,
			"ref", *ref,
		)
		return nil, nil
	}

	counterpart, err := to.GetByGlobalID(ctx, fk.Target, parent.Meta().GlobalID)
	if err != nil {
		return nil, fmt.Errorf("resolving %s %s: %w", fk.Target, parent.Meta().GlobalID, err)
	}
	if counterpart == nil {
		t.log.Warn("foreign key dependency not yet synced",
			"kind", src.Kind().String(),
			"global_id", src.Meta().GlobalID,
			"column", fk.Column,
			"target_global_id", parent.Meta().GlobalID,
		)
		return nil, nil
	}
	return model.ID(counterpart.Meta().ID), nil
}

// TranslateAll returns a clone of src whose foreign keys all point into to's
// id space. src is left untouched.
func (t *Translator) TranslateAll(ctx context.Context, src model.Record, from, to Store) (model.Record, error) {
	out := src.Clone()
	for _, fk := range src.Kind().ForeignKeys() {
		id, err := t.Translate(ctx, fk, src, from, to)
		if err != nil {
			return nil, err
		}
		out.SetRef(fk.Column, id)
	}
	return out, nil
}
