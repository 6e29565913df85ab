package records

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pulsebook/pulsebook/internal/model"
)

func TestCreateUser_FreshStoreAcceptsWrites(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	// Nothing has ever been pulled: the id is unknown locally.
	_, err := svc.Save(ctx, 1, entry("王五", "139"))
	require.ErrorIs(t, err, ErrUnknownUser)

	u, err := svc.CreateUser(ctx, UserInput{Username: "wang", Password: "s3cret", AccountType: model.AccountPersonal})
	require.NoError(t, err)
	assert.Equal(t, model.RolePractitioner, u.Role)
	assert.True(t, u.IsActive)
	assert.Equal(t, model.StatusPending, u.SyncStatus)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.HashedPassword), []byte("s3cret")))

	res, err := svc.Save(ctx, u.ID, entry("王五", "139"))
	require.NoError(t, err)

	p, err := st.GetPatient(ctx, res.PatientID)
	require.NoError(t, err)
	require.NotNil(t, p.CreatorID)
	assert.Equal(t, u.ID, *p.CreatorID)

	n, err := st.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "user, patient and record wait for the next push")
}

func TestCreateUser_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, UserInput{Username: " "})
	require.ErrorIs(t, err, ErrInvalid)
	_, err = svc.CreateUser(ctx, UserInput{Username: "a", Role: "root"})
	require.ErrorIs(t, err, ErrInvalid)
	_, err = svc.CreateUser(ctx, UserInput{Username: "a", AccountType: "guest"})
	require.ErrorIs(t, err, ErrInvalid)

	_, err = svc.CreateUser(ctx, UserInput{Username: "admin", Role: model.RoleAdmin})
	require.NoError(t, err)
	_, err = svc.CreateUser(ctx, UserInput{Username: "admin"})
	require.ErrorIs(t, err, ErrConflict)
}

func TestSave_InactiveUserRejected(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	uid := seedUser(t, st, "gone")

	u, err := st.GetUser(ctx, uid)
	require.NoError(t, err)
	u.IsActive = false
	u.MarkPending()
	require.NoError(t, st.Save(ctx, u))

	_, err = svc.Save(ctx, uid, entry("张三", "1"))
	require.ErrorIs(t, err, ErrUnknownUser)
	_, err = svc.Import(ctx, uid, []SaveInput{entry("张三", "1")})
	require.ErrorIs(t, err, ErrUnknownUser)
}

func TestCreatePractitioner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	teacher, err := svc.CreatePractitioner(ctx, PractitionerInput{Name: "陈老师"})
	require.NoError(t, err)
	assert.Equal(t, model.PractitionerTeacher, teacher.Role)
	assert.Equal(t, model.StatusPending, teacher.SyncStatus)

	doc, err := svc.CreatePractitioner(ctx, PractitionerInput{Name: "王医生", Role: model.PractitionerDoctor})
	require.NoError(t, err)

	_, err = svc.CreatePractitioner(ctx, PractitionerInput{Name: "陈老师", Role: model.PractitionerDoctor})
	require.ErrorIs(t, err, ErrConflict)
	_, err = svc.CreatePractitioner(ctx, PractitionerInput{Name: "x", Role: "nurse"})
	require.ErrorIs(t, err, ErrInvalid)

	all, err := svc.ListPractitioners(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, teacher.ID, all[0].ID)
	assert.Equal(t, doc.ID, all[1].ID)

	// Personal entries pick up the new doctor.
	res, err := svc.Save(ctx, 0, entry("张三", "1"))
	require.NoError(t, err)
	require.NotNil(t, res.PractitionerID)
	assert.Equal(t, doc.ID, *res.PractitionerID)
}
