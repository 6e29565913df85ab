package sync

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pulsebook/pulsebook/internal/localdb"
	"github.com/pulsebook/pulsebook/internal/model"
)

// --- Fake remote -------------------------------------------------------------

// fakeRemote is a second SQLite database standing in for PostgreSQL. Ping and
// Save can be made to fail or block.
type fakeRemote struct {
	*localdb.Store

	pingErr  error
	pingGate chan struct{}
	failSave func(r model.Record) error
}

func (f *fakeRemote) Ping(ctx context.Context) error {
	if f.pingGate != nil {
		select {
		case <-f.pingGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.pingErr
}

func (f *fakeRemote) Save(ctx context.Context, r model.Record) error {
	if f.failSave != nil {
		if err := f.failSave(r); err != nil {
			return err
		}
	}
	return f.Store.Save(ctx, r)
}

// --- Fixtures ----------------------------------------------------------------

type fixture struct {
	ctx    context.Context
	local  *localdb.Store
	remote *fakeRemote
	rec    *Reconciler
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openStore(t *testing.T, name string) *localdb.Store {
	t.Helper()
	s, err := localdb.Open(filepath.Join(t.TempDir(), name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		ctx:    context.Background(),
		local:  openStore(t, "local.db"),
		remote: &fakeRemote{Store: openStore(t, "remote.db")},
	}
	f.rec = NewReconciler(f.local, f.remote, opts, discardLogger())
	return f
}

// pending prepares a record as a fresh local write.
func pending[R model.Record](r R) R {
	r.Meta().MarkPending()
	return r
}

// synced prepares a record as already confirmed, the way rows are stored on
// the remote.
func synced[R model.Record](r R) R {
	r.Meta().MarkPending()
	r.Meta().MarkSynced(model.Now())
	return r
}

func save(t *testing.T, s interface {
	Save(context.Context, model.Record) error
}, r model.Record) {
	t.Helper()
	require.NoError(t, s.Save(context.Background(), r))
}

func newUser(name string) *model.User {
	now := model.Now()
	return &model.User{
		Username: name, Role: model.RolePractitioner, AccountType: model.AccountPractitioner,
		IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
}

func newPractitioner(name string) *model.Practitioner {
	return &model.Practitioner{Name: name, Role: model.PractitionerDoctor, CreatedAt: model.Now()}
}

func newPatient(name, phone string) *model.Patient {
	now := model.Now()
	return &model.Patient{Name: name, Phone: phone, CreatedAt: now, UpdatedAt: now}
}

func newRecord(patientID int64, complaint string) *model.MedicalRecord {
	now := model.Now()
	return &model.MedicalRecord{
		PatientID: model.ID(patientID),
		VisitDate: now,
		Complaint: complaint,
		Data:      model.Document{model.DocRawInput: complaint},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func mustGet(t *testing.T, s Store, k model.Kind, id int64) model.Record {
	t.Helper()
	r, err := s.Get(context.Background(), k, id)
	require.NoError(t, err)
	require.NotNil(t, r, "%s id=%d", k, id)
	return r
}

func mustGID(t *testing.T, s Store, k model.Kind, gid string) model.Record {
	t.Helper()
	r, err := s.GetByGlobalID(context.Background(), k, gid)
	require.NoError(t, err)
	require.NotNil(t, r, "%s gid=%s", k, gid)
	return r
}

func live(t *testing.T, s Store, k model.Kind) []model.Record {
	t.Helper()
	recs, err := s.ListLive(context.Background(), k)
	require.NoError(t, err)
	return recs
}
