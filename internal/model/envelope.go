package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrUnavailable marks a systemic connectivity failure of the remote store.
// The sync engine aborts the whole pass when it sees it and never flags
// individual records as failed.
var ErrUnavailable = errors.New("remote store unavailable")

// SyncStatus is the per-record sync state.
type SyncStatus string

const (
	// StatusPending marks a local mutation not yet confirmed on the other side.
	StatusPending SyncStatus = "pending"
	// StatusSynced marks a record confirmed identical as of LastSyncedAt.
	StatusSynced SyncStatus = "synced"
	// StatusFailed marks a record whose last sync attempt errored. It is
	// selected again by the next push.
	StatusFailed SyncStatus = "failed"
)

// Envelope is the sync bookkeeping carried by every entity.
type Envelope struct {
	// ID is the store-local primary key. It is never copied between stores.
	ID int64 `json:"id"`

	// GlobalID correlates the same logical record across stores. It is
	// assigned once at creation and only replaced by an identity merge.
	GlobalID string `json:"global_id"`

	SyncStatus   SyncStatus `json:"sync_status"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	IsDeleted    bool       `json:"is_deleted"`

	// SyncError holds the text of the last failed attempt.
	SyncError string `json:"sync_error,omitempty"`
	// SyncAttempts counts consecutive failed push attempts.
	SyncAttempts int `json:"sync_attempts"`

	// Revision is bumped by every local write. A push confirms the row only
	// if it still carries the revision that was pushed.
	Revision int64 `json:"revision"`
}

// NewGlobalID returns a fresh global identifier.
func NewGlobalID() string {
	return uuid.NewString()
}

// MarkPending prepares the envelope for a local write: it assigns a global id
// when none exists yet, bumps the revision and flags the record for the next
// push. A fresh write resets the failure counter.
func (e *Envelope) MarkPending() {
	if e.GlobalID == "" {
		e.GlobalID = NewGlobalID()
	}
	e.Revision++
	e.SyncStatus = StatusPending
	e.SyncError = ""
	e.SyncAttempts = 0
}

// MarkSynced records a successful confirmation at t.
func (e *Envelope) MarkSynced(t time.Time) {
	at := Stamp(t)
	e.SyncStatus = StatusSynced
	e.LastSyncedAt = &at
	e.SyncError = ""
	e.SyncAttempts = 0
}

// targets returns scan destinations in EnvelopeColumns order.
func (e *Envelope) targets() []any {
	return []any{&e.ID, &e.GlobalID, &e.SyncStatus, &e.LastSyncedAt, &e.IsDeleted, &e.SyncError, &e.SyncAttempts, &e.Revision}
}

// values returns column values in EnvelopeColumns order, without the id.
func (e *Envelope) values() []any {
	var synced *time.Time
	if e.LastSyncedAt != nil {
		t := Stamp(*e.LastSyncedAt)
		synced = &t
	}
	return []any{e.GlobalID, string(e.SyncStatus), synced, e.IsDeleted, e.SyncError, e.SyncAttempts, e.Revision}
}

// Stamp normalises a timestamp to UTC with microsecond precision so that
// SQLite and PostgreSQL store and compare identical values.
func Stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// Now returns the current time normalised by [Stamp].
func Now() time.Time {
	return Stamp(time.Now())
}
