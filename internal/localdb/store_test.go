package localdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsebook/pulsebook/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test-local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newPatient(name, phone string) *model.Patient {
	now := model.Now()
	p := &model.Patient{Name: name, Phone: phone, CreatedAt: now, UpdatedAt: now}
	p.MarkPending()
	return p
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")
	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// Re-opening the same file must not fail or wipe data.
	s2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestSave_InsertThenUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := newPatient("张三", "13800000000")
	age := 42
	p.Age = &age
	p.Info = model.Document{"address": "杭州"}
	require.NoError(t, s.Save(ctx, p))
	require.NotZero(t, p.ID)

	p.Gender = "男"
	require.NoError(t, s.Save(ctx, p))

	got, err := s.GetPatient(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "男", got.Gender)
	assert.Equal(t, p.GlobalID, got.GlobalID)
	assert.Equal(t, model.StatusPending, got.SyncStatus)
	require.NotNil(t, got.Age)
	assert.Equal(t, 42, *got.Age)
	assert.Equal(t, "杭州", got.Info["address"])
	assert.True(t, p.CreatedAt.Equal(got.CreatedAt))
	assert.Nil(t, got.LastSyncedAt)
	assert.Nil(t, got.CreatorID)
}

func TestGet_NotFoundIsNilNil(t *testing.T) {
	s := openTestStore(t)
	r, err := s.Get(context.Background(), model.KindUser, 999)
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = s.GetByGlobalID(context.Background(), model.KindPatient, "missing")
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestFindByProbe_OrdersByID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := newPatient("李四", "")
	second := newPatient("李四", "")
	require.NoError(t, s.Save(ctx, first))
	require.NoError(t, s.Save(ctx, second))
	require.NoError(t, s.Save(ctx, newPatient("王五", "")))

	got, err := s.FindByProbe(ctx, model.KindPatient, model.NaturalKey(second))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].Meta().ID)
	assert.Equal(t, second.ID, got[1].Meta().ID)
}

func TestFindByProbe_MedicalRecordTuple(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := newPatient("赵六", "")
	require.NoError(t, s.Save(ctx, p))

	visit := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	created := time.Date(2026, 3, 2, 9, 31, 12, 345678000, time.UTC)
	rec := &model.MedicalRecord{PatientID: model.ID(p.ID), VisitDate: visit, CreatedAt: created, UpdatedAt: created}
	rec.MarkPending()
	require.NoError(t, s.Save(ctx, rec))

	probe := model.NaturalKey(&model.MedicalRecord{PatientID: model.ID(p.ID), VisitDate: visit, CreatedAt: created})
	got, err := s.FindByProbe(ctx, model.KindMedicalRecord, probe)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.GlobalID, got[0].Meta().GlobalID)
}

func TestListUnsynced_RespectsAttemptCap(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	pending := newPatient("a", "")
	failed := newPatient("b", "")
	synced := newPatient("c", "")
	for _, p := range []*model.Patient{pending, failed, synced} {
		require.NoError(t, s.Save(ctx, p))
	}
	ok, err := s.MarkSynced(ctx, model.KindPatient, synced.ID, synced.Revision, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	for range 3 {
		require.NoError(t, s.MarkFailed(ctx, model.KindPatient, failed.ID, "boom"))
	}

	all, err := s.ListUnsynced(ctx, model.KindPatient, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	capped, err := s.ListUnsynced(ctx, model.KindPatient, 3)
	require.NoError(t, err)
	require.Len(t, capped, 1)
	assert.Equal(t, pending.ID, capped[0].Meta().ID)

	got, err := s.Get(ctx, model.KindPatient, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Meta().SyncStatus)
	assert.Equal(t, "boom", got.Meta().SyncError)
	assert.Equal(t, 3, got.Meta().SyncAttempts)
}

func TestMarkSynced_ClearsFailure(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := newPatient("a", "")
	require.NoError(t, s.Save(ctx, p))
	require.NoError(t, s.MarkFailed(ctx, model.KindPatient, p.ID, "boom"))
	ok, err := s.MarkSynced(ctx, model.KindPatient, p.ID, p.Revision, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.Get(ctx, model.KindPatient, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSynced, got.Meta().SyncStatus)
	assert.Empty(t, got.Meta().SyncError)
	assert.Zero(t, got.Meta().SyncAttempts)
	assert.NotNil(t, got.Meta().LastSyncedAt)

	n, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMarkSynced_StaleRevisionStaysPending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := newPatient("a", "")
	require.NoError(t, s.Save(ctx, p))
	pushed := p.Revision

	// A second local write lands before the confirmation.
	p.Gender = "女"
	p.MarkPending()
	require.NoError(t, s.Save(ctx, p))

	ok, err := s.MarkSynced(ctx, model.KindPatient, p.ID, pushed, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Get(ctx, model.KindPatient, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Meta().SyncStatus)
	assert.Equal(t, pushed+1, got.Meta().Revision)
	assert.Nil(t, got.Meta().LastSyncedAt)
}

func TestInTx_RollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	errBoom := errors.New("boom")

	err := s.InTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.Save(ctx, newPatient("rolled back", "")))
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	got, err := s.PatientsByName(ctx, "rolled back")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.InTx(ctx, func(ctx context.Context) error {
		return s.Save(ctx, newPatient("kept", ""))
	}))
	got, err = s.PatientsByName(ctx, "kept")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestForeignKeysEnforced(t *testing.T) {
	s := openTestStore(t)
	rec := &model.MedicalRecord{PatientID: model.ID(404), VisitDate: model.Now(), CreatedAt: model.Now(), UpdatedAt: model.Now()}
	rec.MarkPending()
	assert.Error(t, s.Save(context.Background(), rec))
}

func TestRecentTeachingRecords_ScopeAndPractitioner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := model.Now()

	owner := &model.User{Username: "owner", Role: model.RolePractitioner, AccountType: model.AccountPersonal, IsActive: true, CreatedAt: now, UpdatedAt: now}
	owner.MarkPending()
	require.NoError(t, s.Save(ctx, owner))

	doc := &model.Practitioner{Name: "王医生", Role: model.PractitionerDoctor, CreatedAt: now}
	doc.MarkPending()
	require.NoError(t, s.Save(ctx, doc))

	mine := newPatient("mine", "")
	mine.CreatorID = model.ID(owner.ID)
	other := newPatient("other", "")
	require.NoError(t, s.Save(ctx, mine))
	require.NoError(t, s.Save(ctx, other))

	for i, pid := range []int64{mine.ID, other.ID, other.ID} {
		r := &model.MedicalRecord{
			PatientID: model.ID(pid),
			VisitDate: now,
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
			UpdatedAt: now,
			Data:      model.Document{},
		}
		if i < 2 {
			r.PractitionerID = model.ID(doc.ID)
		}
		r.MarkPending()
		require.NoError(t, s.Save(ctx, r))
	}

	all, err := s.RecentTeachingRecords(ctx, 10, model.Scope{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "other", all[0].PatientName, "newest first")

	scoped, err := s.RecentTeachingRecords(ctx, 10, model.Scope{UserID: owner.ID})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "mine", scoped[0].PatientName)

	limited, err := s.RecentTeachingRecords(ctx, 1, model.Scope{})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSearchPatients_MatchesPinyin(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := newPatient("张三", "13912345678")
	p.Pinyin = "zs"
	require.NoError(t, s.Save(ctx, p))

	for _, q := range []string{"张", "1391", "ZS"} {
		got, err := s.SearchPatients(ctx, q, model.Scope{}, 20)
		require.NoError(t, err, q)
		assert.Len(t, got, 1, q)
	}

	got, err := s.SearchPatients(ctx, "nobody", model.Scope{}, 20)
	require.NoError(t, err)
	assert.Empty(t, got)
}
