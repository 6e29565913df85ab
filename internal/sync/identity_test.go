package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsebook/pulsebook/internal/model"
)

func TestResolve_ByGlobalID(t *testing.T) {
	f := newFixture(t, Options{})
	target := synced(newPatient("张三", "1"))
	save(t, f.remote, target)

	probe := newPatient("完全不同", "2")
	probe.GlobalID = target.GlobalID

	got, merged, err := NewResolver(discardLogger()).Resolve(f.ctx, probe, f.local, f.remote)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, merged)
	assert.Equal(t, target.ID, got.Meta().ID)
}

func TestResolve_NoMatch(t *testing.T) {
	f := newFixture(t, Options{})
	save(t, f.remote, synced(newPatient("张三", "1")))

	got, merged, err := NewResolver(discardLogger()).Resolve(f.ctx, pending(newPatient("张三", "2")), f.local, f.remote)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, merged)
}

func TestResolve_PhoneFallsBackToName(t *testing.T) {
	f := newFixture(t, Options{})
	target := synced(newPatient("李四", ""))
	save(t, f.remote, target)

	src := pending(newPatient("李四", ""))
	got, merged, err := NewResolver(discardLogger()).Resolve(f.ctx, src, f.local, f.remote)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, merged)
	assert.Equal(t, src.GlobalID, got.Meta().GlobalID, "counterpart adopts the source global id")
}

func TestResolve_AmbiguousPicksLowestID(t *testing.T) {
	f := newFixture(t, Options{})
	first := synced(newPatient("王五", ""))
	second := synced(newPatient("王五", ""))
	save(t, f.remote, first)
	save(t, f.remote, second)

	got, merged, err := NewResolver(discardLogger()).Resolve(f.ctx, pending(newPatient("王五", "")), f.local, f.remote)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, merged)
	assert.Equal(t, first.ID, got.Meta().ID)
}

func TestResolve_SkipsCandidatesLinkedInSource(t *testing.T) {
	f := newFixture(t, Options{})
	linked := synced(newPatient("王五", ""))
	free := synced(newPatient("王五", ""))
	save(t, f.remote, linked)
	save(t, f.remote, free)

	// The first remote row already pairs with a local record.
	mine := newPatient("王五", "")
	mine.Envelope = linked.Envelope
	mine.ID = 0
	save(t, f.local, mine)

	src := pending(newPatient("王五", ""))
	got, merged, err := NewResolver(discardLogger()).Resolve(f.ctx, src, f.local, f.remote)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, merged)
	assert.Equal(t, free.ID, got.Meta().ID)
}

func TestResolve_AllCandidatesLinkedIsNew(t *testing.T) {
	f := newFixture(t, Options{})
	linked := synced(newPatient("王五", ""))
	save(t, f.remote, linked)
	mine := newPatient("王五", "")
	mine.Envelope = linked.Envelope
	mine.ID = 0
	save(t, f.local, mine)

	got, merged, err := NewResolver(discardLogger()).Resolve(f.ctx, pending(newPatient("王五", "")), f.local, f.remote)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, merged)
}

func TestResolve_UsersByUsername(t *testing.T) {
	f := newFixture(t, Options{})
	target := synced(newUser("li"))
	save(t, f.remote, target)

	got, merged, err := NewResolver(discardLogger()).Resolve(f.ctx, pending(newUser("li")), f.local, f.remote)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, merged)
	assert.Equal(t, target.ID, got.Meta().ID)
}

func TestTranslate_MissingDependencyIsNil(t *testing.T) {
	f := newFixture(t, Options{})
	p := pending(newPatient("张三", ""))
	save(t, f.local, p)
	r := pending(newRecord(p.ID, "x"))

	fk := model.KindMedicalRecord.ForeignKeys()[0]
	require.Equal(t, "patient_id", fk.Column)

	id, err := NewTranslator(discardLogger()).Translate(f.ctx, fk, r, f.local, f.remote)
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestTranslate_NilReference(t *testing.T) {
	f := newFixture(t, Options{})
	r := pending(newRecord(1, "x"))
	r.PractitionerID = nil

	id, err := NewTranslator(discardLogger()).Translate(f.ctx,
		model.ForeignKey{Column: "practitioner_id", Target: model.KindPractitioner}, r, f.local, f.remote)
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestTranslateAll_LeavesSourceUntouched(t *testing.T) {
	f := newFixture(t, Options{})
	save(t, f.remote, synced(newPatient("filler", "")))

	p := pending(newPatient("张三", ""))
	save(t, f.local, p)
	rp := newPatient("张三", "")
	rp.Envelope = p.Envelope
	rp.ID = 0
	save(t, f.remote, rp)

	r := pending(newRecord(p.ID, "x"))
	out, err := NewTranslator(discardLogger()).TranslateAll(f.ctx, r, f.local, f.remote)
	require.NoError(t, err)

	assert.Equal(t, p.ID, *r.PatientID)
	assert.Equal(t, rp.ID, *out.Ref("patient_id"))
	assert.NotEqual(t, p.ID, rp.ID)
}
