package model

import (
	"maps"
	"time"
)

// Record is implemented by every syncable entity.
type Record interface {
	Kind() Kind
	Meta() *Envelope

	// Clone returns a deep copy whose envelope and fields can be modified
	// without affecting the receiver.
	Clone() Record

	// Values returns the business column values in Kind().Columns() order.
	Values() []any
	// Targets returns scan destinations in Kind().Columns() order.
	Targets() []any

	// Ref returns the current value of a foreign-key column (nil when unset
	// or when the column is not a foreign key of this kind).
	Ref(column string) *int64
	// SetRef overwrites a foreign-key column.
	SetRef(column string, id *int64)
}

// Roles and account types understood by the permission gate.
const (
	RoleAdmin        = "admin"
	RolePractitioner = "practitioner"

	AccountPractitioner = "practitioner"
	AccountPersonal     = "personal"

	PractitionerDoctor  = "doctor"
	PractitionerTeacher = "teacher"
)

// User is an account identity. IsActive gates login.
type User struct {
	Envelope
	Username       string    `json:"username"`
	HashedPassword string    `json:"-"`
	Role           string    `json:"role"`
	AccountType    string    `json:"account_type"`
	IsActive       bool      `json:"is_active"`
	RealName       string    `json:"real_name,omitempty"`
	Email          string    `json:"email,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	Organization   string    `json:"organization,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (u *User) Kind() Kind      { return KindUser }
func (u *User) Meta() *Envelope { return &u.Envelope }

func (u *User) Clone() Record {
	cp := *u
	cp.LastSyncedAt = cloneTime(u.LastSyncedAt)
	return &cp
}

func (u *User) Values() []any {
	return []any{
		u.Username, u.HashedPassword, u.Role, u.AccountType, u.IsActive,
		u.RealName, u.Email, u.Phone, u.Organization, Stamp(u.CreatedAt), Stamp(u.UpdatedAt),
	}
}

func (u *User) Targets() []any {
	return []any{
		&u.Username, &u.HashedPassword, &u.Role, &u.AccountType, &u.IsActive,
		&u.RealName, &u.Email, &u.Phone, &u.Organization, &u.CreatedAt, &u.UpdatedAt,
	}
}

func (u *User) Ref(string) *int64     { return nil }
func (u *User) SetRef(string, *int64) {}

// Practitioner is a named clinician or teacher. Names are unique.
type Practitioner struct {
	Envelope
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (p *Practitioner) Kind() Kind      { return KindPractitioner }
func (p *Practitioner) Meta() *Envelope { return &p.Envelope }

func (p *Practitioner) Clone() Record {
	cp := *p
	cp.LastSyncedAt = cloneTime(p.LastSyncedAt)
	return &cp
}

func (p *Practitioner) Values() []any {
	return []any{p.Name, p.Role, Stamp(p.CreatedAt)}
}

func (p *Practitioner) Targets() []any {
	return []any{&p.Name, &p.Role, &p.CreatedAt}
}

func (p *Practitioner) Ref(string) *int64     { return nil }
func (p *Practitioner) SetRef(string, *int64) {}

// Patient is a demographic identity. CreatorID is set for patients created in
// personal mode.
type Patient struct {
	Envelope
	Name      string    `json:"name"`
	Pinyin    string    `json:"pinyin,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Gender    string    `json:"gender,omitempty"`
	Age       *int      `json:"age,omitempty"`
	Info      Document  `json:"info,omitempty"`
	CreatorID *int64    `json:"creator_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *Patient) Kind() Kind      { return KindPatient }
func (p *Patient) Meta() *Envelope { return &p.Envelope }

func (p *Patient) Clone() Record {
	cp := *p
	cp.LastSyncedAt = cloneTime(p.LastSyncedAt)
	cp.Info = maps.Clone(p.Info)
	cp.CreatorID = cloneID(p.CreatorID)
	if p.Age != nil {
		age := *p.Age
		cp.Age = &age
	}
	return &cp
}

func (p *Patient) Values() []any {
	return []any{
		p.Name, p.Pinyin, p.Phone, p.Gender, p.Age, p.Info.orEmpty(), p.CreatorID,
		Stamp(p.CreatedAt), Stamp(p.UpdatedAt),
	}
}

func (p *Patient) Targets() []any {
	return []any{
		&p.Name, &p.Pinyin, &p.Phone, &p.Gender, &p.Age, &p.Info, &p.CreatorID,
		&p.CreatedAt, &p.UpdatedAt,
	}
}

func (p *Patient) Ref(column string) *int64 {
	if column == "creator_id" {
		return p.CreatorID
	}
	return nil
}

func (p *Patient) SetRef(column string, id *int64) {
	if column == "creator_id" {
		p.CreatorID = cloneID(id)
	}
}

// MedicalRecord is one visit of a patient. Data holds the free-form clinical
// payload; see [Document] for its conventional sub-keys.
type MedicalRecord struct {
	Envelope
	PatientID      *int64    `json:"patient_id"`
	PractitionerID *int64    `json:"practitioner_id,omitempty"`
	UserID         *int64    `json:"user_id,omitempty"`
	VisitDate      time.Time `json:"visit_date"`
	Complaint      string    `json:"complaint,omitempty"`
	Diagnosis      string    `json:"diagnosis,omitempty"`
	Data           Document  `json:"data"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (r *MedicalRecord) Kind() Kind      { return KindMedicalRecord }
func (r *MedicalRecord) Meta() *Envelope { return &r.Envelope }

func (r *MedicalRecord) Clone() Record {
	cp := *r
	cp.LastSyncedAt = cloneTime(r.LastSyncedAt)
	cp.PatientID = cloneID(r.PatientID)
	cp.PractitionerID = cloneID(r.PractitionerID)
	cp.UserID = cloneID(r.UserID)
	cp.Data = maps.Clone(r.Data)
	return &cp
}

func (r *MedicalRecord) Values() []any {
	return []any{
		r.PatientID, r.PractitionerID, r.UserID, Stamp(r.VisitDate),
		r.Complaint, r.Diagnosis, r.Data.orEmpty(), Stamp(r.CreatedAt), Stamp(r.UpdatedAt),
	}
}

func (r *MedicalRecord) Targets() []any {
	return []any{
		&r.PatientID, &r.PractitionerID, &r.UserID, &r.VisitDate,
		&r.Complaint, &r.Diagnosis, &r.Data, &r.CreatedAt, &r.UpdatedAt,
	}
}

func (r *MedicalRecord) Ref(column string) *int64 {
	switch column {
	case "patient_id":
		return r.PatientID
	case "practitioner_id":
		return r.PractitionerID
	case "user_id":
		return r.UserID
	}
	return nil
}

func (r *MedicalRecord) SetRef(column string, id *int64) {
	switch column {
	case "patient_id":
		r.PatientID = cloneID(id)
	case "practitioner_id":
		r.PractitionerID = cloneID(id)
	case "user_id":
		r.UserID = cloneID(id)
	}
}

// TeachingRecord is a search candidate: a medical record authored under a
// practitioner, joined with its patient's name.
type TeachingRecord struct {
	Record      *MedicalRecord
	PatientName string
}

// --- scanning helpers --------------------------------------------------------

// ScanTargets returns destinations for a row selected as
// EnvelopeColumns followed by r.Kind().Columns().
func ScanTargets(r Record) []any {
	return append(r.Meta().targets(), r.Targets()...)
}

// WriteValues returns the values for every column except "id", in the order
// EnvelopeColumns[1:] followed by r.Kind().Columns().
func WriteValues(r Record) []any {
	return append(r.Meta().values(), r.Values()...)
}

// WriteColumns returns the column names matching [WriteValues].
func WriteColumns(k Kind) []string {
	cols := make([]string, 0, len(EnvelopeColumns)-1+len(k.Columns()))
	cols = append(cols, EnvelopeColumns[1:]...)
	return append(cols, k.Columns()...)
}

// SelectColumns returns every column of the kind in [ScanTargets] order.
func SelectColumns(k Kind) []string {
	cols := make([]string, 0, len(EnvelopeColumns)+len(k.Columns()))
	cols = append(cols, EnvelopeColumns...)
	return append(cols, k.Columns()...)
}

// ID returns a pointer to a copy of id. Convenient for optional FK fields.
func ID(id int64) *int64 {
	return &id
}

func cloneID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
