package localdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pulsebook/pulsebook/internal/model"
)

// GetPatient returns the patient with the given id, or (nil, nil).
func (s *Store) GetPatient(ctx context.Context, id int64) (*model.Patient, error) {
	r, err := s.Get(ctx, model.KindPatient, id)
	if err != nil || r == nil {
		return nil, err
	}
	return r.(*model.Patient), nil
}

// GetRecord returns the medical record with the given id, or (nil, nil).
func (s *Store) GetRecord(ctx context.Context, id int64) (*model.MedicalRecord, error) {
	r, err := s.Get(ctx, model.KindMedicalRecord, id)
	if err != nil || r == nil {
		return nil, err
	}
	return r.(*model.MedicalRecord), nil
}

// GetUser returns the user with the given id, or (nil, nil).
func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	r, err := s.Get(ctx, model.KindUser, id)
	if err != nil || r == nil {
		return nil, err
	}
	return r.(*model.User), nil
}

// UserByUsername returns the user with this username, or (nil, nil).
func (s *Store) UserByUsername(ctx context.Context, username string) (*model.User, error) {
	r, err := s.queryOne(ctx, model.KindUser, "username = ?", username)
	if err != nil || r == nil {
		return nil, err
	}
	return r.(*model.User), nil
}

// PatientsByName returns live patients with exactly this name, ordered by id.
func (s *Store) PatientsByName(ctx context.Context, name string) ([]*model.Patient, error) {
	recs, err := s.queryMany(ctx, model.KindPatient, "name = ? AND is_deleted = 0 ORDER BY id", name)
	if err != nil {
		return nil, err
	}
	return asPatients(recs), nil
}

// SearchPatients matches q against name, phone and pinyin initials. An empty
// q lists the most recently updated patients.
func (s *Store) SearchPatients(ctx context.Context, q string, scope model.Scope, limit int) ([]*model.Patient, error) {
	where := []string{"is_deleted = 0"}
	var args []any
	if q = strings.TrimSpace(q); q != "" {
		like := "%" + q + "%"
		where = append(where, "(name LIKE ? OR phone LIKE ? OR pinyin LIKE ?)")
		args = append(args, like, like, "%"+strings.ToLower(q)+"%")
	}
	if scope.Restricted() {
		where = append(where, "(creator_id = ? OR id IN (SELECT patient_id FROM medical_records WHERE user_id = ?))")
		args = append(args, scope.UserID, scope.UserID)
	}
	args = append(args, limit)

	recs, err := s.queryMany(ctx, model.KindPatient,
		strings.Join(where, " AND ")+" ORDER BY updated_at DESC, id DESC LIMIT ?", args...)
	if err != nil {
		return nil, err
	}
	return asPatients(recs), nil
}

// PractitionerByName returns the practitioner with this name, or (nil, nil).
func (s *Store) PractitionerByName(ctx context.Context, name string) (*model.Practitioner, error) {
	r, err := s.queryOne(ctx, model.KindPractitioner, "name = ?", name)
	if err != nil || r == nil {
		return nil, err
	}
	return r.(*model.Practitioner), nil
}

// ListPractitioners returns every live practitioner ordered by id.
func (s *Store) ListPractitioners(ctx context.Context) ([]*model.Practitioner, error) {
	recs, err := s.queryMany(ctx, model.KindPractitioner, "is_deleted = 0 ORDER BY id")
	if err != nil {
		return nil, err
	}
	out := make([]*model.Practitioner, len(recs))
	for i, r := range recs {
		out[i] = r.(*model.Practitioner)
	}
	return out, nil
}

// FirstPractitioner returns the live practitioner with the given role and the
// lowest id, or (nil, nil).
func (s *Store) FirstPractitioner(ctx context.Context, role string) (*model.Practitioner, error) {
	r, err := s.queryOne(ctx, model.KindPractitioner, "role = ? AND is_deleted = 0 ORDER BY id LIMIT 1", role)
	if err != nil || r == nil {
		return nil, err
	}
	return r.(*model.Practitioner), nil
}

// RecordOnDay returns the live record of patient visited within
// [from, from+24h), or (nil, nil).
func (s *Store) RecordOnDay(ctx context.Context, patientID int64, from time.Time) (*model.MedicalRecord, error) {
	from = model.Stamp(from)
	r, err := s.queryOne(ctx, model.KindMedicalRecord,
		"patient_id = ? AND is_deleted = 0 AND visit_date >= ? AND visit_date < ? ORDER BY id LIMIT 1",
		patientID, from, from.Add(24*time.Hour))
	if err != nil || r == nil {
		return nil, err
	}
	return r.(*model.MedicalRecord), nil
}

// RecordsByPatient returns the live records of a patient, newest visit first.
func (s *Store) RecordsByPatient(ctx context.Context, patientID int64, scope model.Scope) ([]*model.MedicalRecord, error) {
	where := "patient_id = ? AND is_deleted = 0"
	args := []any{patientID}
	if scope.Restricted() {
		where += " AND " + recordScope("")
		args = append(args, scope.UserID, scope.UserID)
	}
	recs, err := s.queryMany(ctx, model.KindMedicalRecord, where+" ORDER BY visit_date DESC, id DESC", args...)
	if err != nil {
		return nil, err
	}
	out := make([]*model.MedicalRecord, len(recs))
	for i, r := range recs {
		out[i] = r.(*model.MedicalRecord)
	}
	return out, nil
}

// RecentTeachingRecords returns up to limit of the most recently created live
// records that have a practitioner, joined with their patient's name.
func (s *Store) RecentTeachingRecords(ctx context.Context, limit int, scope model.Scope) ([]model.TeachingRecord, error) {
	cols := model.SelectColumns(model.KindMedicalRecord)
	qualified := make([]string, len(cols))
	for i, c := range cols {
		qualified[i] = "r." + c
	}

	where := "r.practitioner_id IS NOT NULL AND r.is_deleted = 0"
	args := []any{}
	if scope.Restricted() {
		where += " AND " + recordScope("r.")
		args = append(args, scope.UserID, scope.UserID)
	}
	args = append(args, limit)

	q := fmt.Sprintf(`SELECT %s, p.name FROM medical_records r
		JOIN patients p ON p.id = r.patient_id
		WHERE %s ORDER BY r.created_at DESC, r.id DESC LIMIT ?`,
		strings.Join(qualified, ", "), where)

	rows, err := s.conn(ctx).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying teaching records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.TeachingRecord
	for rows.Next() {
		rec := &model.MedicalRecord{}
		var name string
		if err := rows.Scan(append(model.ScanTargets(rec), &name)...); err != nil {
			return nil, fmt.Errorf("scanning teaching record: %w", err)
		}
		out = append(out, model.TeachingRecord{Record: rec, PatientName: name})
	}
	return out, rows.Err()
}

// recordScope limits medical records to those authored by a user or belonging
// to a patient the user created. It takes the user id twice.
func recordScope(alias string) string {
	return fmt.Sprintf("(%[1]suser_id = ? OR %[1]spatient_id IN (SELECT id FROM patients WHERE creator_id = ?))", alias)
}

func asPatients(recs []model.Record) []*model.Patient {
	out := make([]*model.Patient, len(recs))
	for i, r := range recs {
		out[i] = r.(*model.Patient)
	}
	return out
}
