package model

// Probe is a natural-key lookup: rows whose Columns equal Values
// (pairwise) are candidates for the same logical record.
type Probe struct {
	Columns []string
	Values  []any
}

// Empty reports whether the probe cannot be used for matching.
func (p Probe) Empty() bool {
	return len(p.Columns) == 0
}

// NaturalKey returns the probe used to recognise r on the other store when
// global ids differ. It is computed on a record whose foreign keys already
// point into the store being probed.
//
//	user           username
//	practitioner   name
//	patient        name, phone (name alone when phone is empty)
//	medical_record patient_id, visit_date, created_at
func NaturalKey(r Record) Probe {
	switch v := r.(type) {
	case *User:
		if v.Username == "" {
			return Probe{}
		}
		return Probe{Columns: []string{"username"}, Values: []any{v.Username}}
	case *Practitioner:
		if v.Name == "" {
			return Probe{}
		}
		return Probe{Columns: []string{"name"}, Values: []any{v.Name}}
	case *Patient:
		if v.Name == "" {
			return Probe{}
		}
		if v.Phone == "" {
			return Probe{Columns: []string{"name"}, Values: []any{v.Name}}
		}
		return Probe{Columns: []string{"name", "phone"}, Values: []any{v.Name, v.Phone}}
	case *MedicalRecord:
		if v.PatientID == nil {
			return Probe{}
		}
		return Probe{
			Columns: []string{"patient_id", "visit_date", "created_at"},
			Values:  []any{*v.PatientID, Stamp(v.VisitDate), Stamp(v.CreatedAt)},
		}
	}
	return Probe{}
}
