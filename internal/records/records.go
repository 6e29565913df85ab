// Package records implements local-only create, read, update and delete of
// patients and medical records. Every write leaves the touched rows pending
// so the next sync pass pushes them.
package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mozillazg/go-pinyin"

	"github.com/pulsebook/pulsebook/internal/model"
)

// Entry modes.
const (
	ModePersonal  = "personal"
	ModeShadowing = "shadowing"
)

// ErrNotFound is returned when a record does not exist or is not visible to
// the caller.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller may see a record but not change it.
var ErrForbidden = errors.New("forbidden")

// ErrInvalid wraps input validation failures.
var ErrInvalid = errors.New("invalid input")

// ErrConflict is returned when a unique name is already taken.
var ErrConflict = errors.New("already exists")

// ErrUnknownUser is returned when a write is attributed to a user id that
// has no active local account.
var ErrUnknownUser = errors.New("unknown or inactive user")

// Store is the subset of the local store used here.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	Save(ctx context.Context, r model.Record) error
	GetPatient(ctx context.Context, id int64) (*model.Patient, error)
	GetRecord(ctx context.Context, id int64) (*model.MedicalRecord, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	UserByUsername(ctx context.Context, username string) (*model.User, error)
	ListPractitioners(ctx context.Context) ([]*model.Practitioner, error)
	PatientsByName(ctx context.Context, name string) ([]*model.Patient, error)
	SearchPatients(ctx context.Context, q string, scope model.Scope, limit int) ([]*model.Patient, error)
	PractitionerByName(ctx context.Context, name string) (*model.Practitioner, error)
	FirstPractitioner(ctx context.Context, role string) (*model.Practitioner, error)
	RecordOnDay(ctx context.Context, patientID int64, from time.Time) (*model.MedicalRecord, error)
	RecordsByPatient(ctx context.Context, patientID int64, scope model.Scope) ([]*model.MedicalRecord, error)
}

// PatientInput identifies the patient a record is written for.
type PatientInput struct {
	Name   string `json:"name"`
	Phone  string `json:"phone,omitempty"`
	Gender string `json:"gender,omitempty"`
	// Age accepts 49, "49" or "49岁".
	Age any `json:"age,omitempty"`
}

// SaveInput is one record entry as submitted by a client.
type SaveInput struct {
	Mode      string            `json:"mode,omitempty"`
	Teacher   string            `json:"teacher,omitempty"`
	Patient   PatientInput      `json:"patient_info"`
	Medical   map[string]any    `json:"medical_record,omitempty"`
	PulseGrid map[string]string `json:"pulse_grid,omitempty"`
	// VisitDate defaults to today. Bulk imports set it for historical rows.
	VisitDate *time.Time `json:"visit_date,omitempty"`
}

// SaveResult reports what Save wrote.
type SaveResult struct {
	Message        string `json:"message"`
	RecordID       int64  `json:"record_id"`
	PatientID      int64  `json:"patient_id"`
	PractitionerID *int64 `json:"practitioner_id"`
	Created        bool   `json:"created"`
}

// HistoryEntry is one line of a patient's visit history.
type HistoryEntry struct {
	ID        int64  `json:"id"`
	VisitDate string `json:"visit_date"`
	Complaint string `json:"complaint"`
}

// ImportReport summarises a bulk import.
type ImportReport struct {
	Imported int      `json:"imported"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors"`
}

const defaultSearchLimit = 50

// Service implements local record operations.
type Service struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
	loc   *time.Location
}

// NewService creates a Service. Calendar days are evaluated in the local
// time zone.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store: store,
		log:   logger,
		now:   model.Now,
		loc:   time.Local,
	}
}

// Save finds or creates the patient, resolves the practitioner for the
// entry mode and upserts the patient's record for the visit day.
func (s *Service) Save(ctx context.Context, userID int64, in SaveInput) (*SaveResult, error) {
	in.Patient.Name = strings.TrimSpace(in.Patient.Name)
	if in.Patient.Name == "" {
		return nil, fmt.Errorf("%w: patient name is required", ErrInvalid)
	}
	if in.Mode == "" {
		in.Mode = ModePersonal
	}
	if in.Mode != ModePersonal && in.Mode != ModeShadowing {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalid, in.Mode)
	}

	var res *SaveResult
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		if err := s.checkUser(ctx, userID); err != nil {
			return err
		}
		now := s.now()
		patient, err := s.findOrCreatePatient(ctx, userID, in, now)
		if err != nil {
			return err
		}
		practitionerID, err := s.practitionerFor(ctx, in)
		if err != nil {
			return err
		}

		visit := now
		if in.VisitDate != nil {
			visit = model.Stamp(*in.VisitDate)
		}
		existing, err := s.store.RecordOnDay(ctx, patient.ID, s.startOfDay(visit))
		if err != nil {
			return fmt.Errorf("looking up record of the day: %w", err)
		}

		rec := existing
		if rec == nil {
			rec = &model.MedicalRecord{
				PatientID: model.ID(patient.ID),
				VisitDate: visit,
				CreatedAt: now,
			}
		}
		rec.Complaint = stringField(in.Medical, "complaint")
		rec.Diagnosis = stringField(in.Medical, "diagnosis")
		rec.PractitionerID = practitionerID
		if userID != 0 {
			rec.UserID = model.ID(userID)
		}
		rec.Data = recordData(in, practitionerID, userID)
		rec.UpdatedAt = now
		rec.MarkPending()
		if err := s.store.Save(ctx, rec); err != nil {
			return fmt.Errorf("saving record: %w", err)
		}

		res = &SaveResult{
			RecordID:       rec.ID,
			PatientID:      patient.ID,
			PractitionerID: practitionerID,
			Created:        existing == nil,
		}
		if res.Created {
			res.Message = "Record saved successfully"
		} else {
			res.Message = "Record updated successfully"
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug("record saved", "id", res.RecordID, "patient_id", res.PatientID, "created", res.Created)
	return res, nil
}

func (s *Service) findOrCreatePatient(ctx context.Context, userID int64, in SaveInput, now time.Time) (*model.Patient, error) {
	pi := in.Patient
	age := parseAge(pi.Age)

	candidates, err := s.store.PatientsByName(ctx, pi.Name)
	if err != nil {
		return nil, fmt.Errorf("looking up patient: %w", err)
	}
	for _, p := range candidates {
		if !matchesPatient(p, pi, age) {
			continue
		}
		if p.Pinyin == "" {
			p.Pinyin = Initials(p.Name)
			p.UpdatedAt = now
			p.MarkPending()
			if err := s.store.Save(ctx, p); err != nil {
				return nil, fmt.Errorf("updating patient: %w", err)
			}
		}
		return p, nil
	}

	p := &model.Patient{
		Name:      pi.Name,
		Pinyin:    Initials(pi.Name),
		Phone:     pi.Phone,
		Gender:    pi.Gender,
		Age:       age,
		Info:      model.Document{"name": pi.Name, "phone": pi.Phone, "gender": pi.Gender, "age": pi.Age},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Mode == ModePersonal && userID != 0 {
		p.CreatorID = model.ID(userID)
	}
	p.MarkPending()
	if err := s.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("creating patient: %w", err)
	}
	return p, nil
}

// matchesPatient applies the find-or-create key: name and phone when a phone
// is given, otherwise name plus whichever of gender and age are given.
func matchesPatient(p *model.Patient, in PatientInput, age *int) bool {
	if in.Phone != "" {
		return p.Phone == in.Phone
	}
	if in.Gender != "" && p.Gender != in.Gender {
		return false
	}
	if age != nil && (p.Age == nil || *p.Age != *age) {
		return false
	}
	return true
}

func (s *Service) practitionerFor(ctx context.Context, in SaveInput) (*int64, error) {
	switch in.Mode {
	case ModePersonal:
		doc, err := s.store.FirstPractitioner(ctx, model.PractitionerDoctor)
		if err != nil {
			return nil, fmt.Errorf("looking up doctor: %w", err)
		}
		if doc != nil {
			return model.ID(doc.ID), nil
		}
	case ModeShadowing:
		if in.Teacher == "" {
			return nil, nil
		}
		t, err := s.store.PractitionerByName(ctx, in.Teacher)
		if err != nil {
			return nil, fmt.Errorf("looking up teacher: %w", err)
		}
		if t != nil && t.Role == model.PractitionerTeacher && !t.IsDeleted {
			return model.ID(t.ID), nil
		}
		s.log.Warn("teacher not found", "name", in.Teacher)
	}
	return nil, nil
}

func recordData(in SaveInput, practitionerID *int64, userID int64) model.Document {
	medical := in.Medical
	if medical == nil {
		medical = map[string]any{}
	}
	client := map[string]any{
		"mode":    in.Mode,
		"teacher": in.Teacher,
	}
	if practitionerID != nil {
		client["practitioner_id"] = *practitionerID
	}
	if userID != 0 {
		client["user_id"] = userID
	}
	d := model.Document{
		model.DocMedicalRecord: medical,
		model.DocRawInput:      in,
		model.DocClientInfo:    client,
	}
	d.SetPulseGrid(in.PulseGrid)
	return d
}

// Get returns a record visible under scope.
func (s *Service) Get(ctx context.Context, id int64, scope model.Scope) (*model.MedicalRecord, error) {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading record %d: %w", id, err)
	}
	if rec == nil || rec.IsDeleted {
		return nil, ErrNotFound
	}
	ok, err := s.visible(ctx, rec, scope)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Delete soft-deletes a record. The tombstone stays pending until pushed.
// A non-zero owner may only delete records it authored; zero deletes any.
func (s *Service) Delete(ctx context.Context, id int64, owner int64) error {
	return s.store.InTx(ctx, func(ctx context.Context) error {
		rec, err := s.store.GetRecord(ctx, id)
		if err != nil {
			return fmt.Errorf("loading record %d: %w", id, err)
		}
		if rec == nil || rec.IsDeleted {
			return ErrNotFound
		}
		if owner != 0 && (rec.UserID == nil || *rec.UserID != owner) {
			return ErrForbidden
		}
		rec.IsDeleted = true
		rec.UpdatedAt = s.now()
		rec.MarkPending()
		if err := s.store.Save(ctx, rec); err != nil {
			return fmt.Errorf("deleting record %d: %w", id, err)
		}
		s.log.Info("record deleted", "id", id, "global_id", rec.GlobalID)
		return nil
	})
}

// SearchPatients matches q against name, phone and pinyin initials.
func (s *Service) SearchPatients(ctx context.Context, q string, scope model.Scope) ([]*model.Patient, error) {
	ps, err := s.store.SearchPatients(ctx, q, scope, defaultSearchLimit)
	if err != nil {
		return nil, fmt.Errorf("searching patients: %w", err)
	}
	if ps == nil {
		ps = []*model.Patient{}
	}
	return ps, nil
}

// PatientHistory lists a patient's visits, newest first.
func (s *Service) PatientHistory(ctx context.Context, patientID int64, scope model.Scope) ([]HistoryEntry, error) {
	recs, err := s.store.RecordsByPatient(ctx, patientID, scope)
	if err != nil {
		return nil, fmt.Errorf("loading history of patient %d: %w", patientID, err)
	}
	out := make([]HistoryEntry, len(recs))
	for i, r := range recs {
		out[i] = HistoryEntry{
			ID:        r.ID,
			VisitDate: r.VisitDate.In(s.loc).Format("2006-01-02"),
			Complaint: r.Complaint,
		}
	}
	return out, nil
}

// Import saves each row independently. A failing row is reported and does
// not stop the rest.
func (s *Service) Import(ctx context.Context, userID int64, rows []SaveInput) (*ImportReport, error) {
	if err := s.checkUser(ctx, userID); err != nil {
		return nil, err
	}
	rep := &ImportReport{Errors: []string{}}
	for i, in := range rows {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if _, err := s.Save(ctx, userID, in); err != nil {
			rep.Failed++
			rep.Errors = append(rep.Errors, fmt.Sprintf("row %d (%s): %v", i+1, in.Patient.Name, err))
			continue
		}
		rep.Imported++
	}
	s.log.Info("import finished", "imported", rep.Imported, "failed", rep.Failed)
	return rep, nil
}

// checkUser verifies that a non-zero userID names an active local account.
func (s *Service) checkUser(ctx context.Context, userID int64) error {
	if userID == 0 {
		return nil
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading user %d: %w", userID, err)
	}
	if u == nil || u.IsDeleted || !u.IsActive {
		return fmt.Errorf("%w: %d", ErrUnknownUser, userID)
	}
	return nil
}

func (s *Service) visible(ctx context.Context, rec *model.MedicalRecord, scope model.Scope) (bool, error) {
	if !scope.Restricted() {
		return true, nil
	}
	if rec.UserID != nil && *rec.UserID == scope.UserID {
		return true, nil
	}
	if rec.PatientID == nil {
		return false, nil
	}
	p, err := s.store.GetPatient(ctx, *rec.PatientID)
	if err != nil {
		return false, fmt.Errorf("loading patient %d: %w", *rec.PatientID, err)
	}
	return p != nil && p.CreatorID != nil && *p.CreatorID == scope.UserID, nil
}

func (s *Service) startOfDay(t time.Time) time.Time {
	y, m, d := t.In(s.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc)
}

var pinyinArgs = func() pinyin.Args {
	a := pinyin.NewArgs()
	a.Style = pinyin.FirstLetter
	a.Fallback = func(r rune, _ pinyin.Args) []string {
		return []string{string(r)}
	}
	return a
}()

// Initials returns the lowercase pinyin initials of name, keeping non-Han
// characters as they are: "张三" → "zs".
func Initials(name string) string {
	return strings.ToLower(strings.Join(pinyin.LazyPinyin(name, pinyinArgs), ""))
}

var digits = regexp.MustCompile(`\d+`)

// parseAge extracts the first run of digits from a number or string.
func parseAge(raw any) *int {
	var s string
	switch v := raw.(type) {
	case nil:
		return nil
	case float64:
		n := int(v)
		return &n
	case int:
		return &v
	case string:
		s = v
	default:
		s = fmt.Sprint(v)
	}
	m := digits.FindString(s)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &n
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
