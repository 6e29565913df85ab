// Package model defines the syncable entities shared by the local store, the
// remote store, the sync engine and the similarity search.
//
// Every entity embeds an [Envelope] carrying the bookkeeping used to correlate
// records across the two stores. Stores never interpret business fields
// themselves: they build SQL from [Kind.Columns] and read or write values
// through the [Record] interface.
package model

import "fmt"

// Kind identifies one of the four syncable entity types.
type Kind int

const (
	KindUser Kind = iota + 1
	KindPractitioner
	KindPatient
	KindMedicalRecord
)

// SyncOrder is the dependency order used by both sync passes: parents come
// before the children that reference them.
var SyncOrder = []Kind{KindUser, KindPractitioner, KindPatient, KindMedicalRecord}

// String returns the singular lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindPractitioner:
		return "practitioner"
	case KindPatient:
		return "patient"
	case KindMedicalRecord:
		return "medical_record"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Table returns the table name used for the kind in both stores.
func (k Kind) Table() string {
	switch k {
	case KindUser:
		return "users"
	case KindPractitioner:
		return "practitioners"
	case KindPatient:
		return "patients"
	case KindMedicalRecord:
		return "medical_records"
	default:
		return ""
	}
}

// ForeignKey associates a column with the kind it references.
type ForeignKey struct {
	Column string
	Target Kind
}

// foreignKeys is the static FK table. A column that is not listed here is
// copied verbatim between stores.
var foreignKeys = map[Kind][]ForeignKey{
	KindPatient: {
		{Column: "creator_id", Target: KindUser},
	},
	KindMedicalRecord: {
		{Column: "patient_id", Target: KindPatient},
		{Column: "practitioner_id", Target: KindPractitioner},
		{Column: "user_id", Target: KindUser},
	},
}

// ForeignKeys returns the foreign-key columns of the kind.
func (k Kind) ForeignKeys() []ForeignKey {
	return foreignKeys[k]
}

// EnvelopeColumns are the bookkeeping columns present on every table, in scan
// order. "id" is always first.
var EnvelopeColumns = []string{
	"id", "global_id", "sync_status", "last_synced_at", "is_deleted",
	"sync_error", "sync_attempts", "revision",
}

var columns = map[Kind][]string{
	KindUser: {
		"username", "hashed_password", "role", "account_type", "is_active",
		"real_name", "email", "phone", "organization", "created_at", "updated_at",
	},
	KindPractitioner: {
		"name", "role", "created_at",
	},
	KindPatient: {
		"name", "pinyin", "phone", "gender", "age", "info", "creator_id", "created_at", "updated_at",
	},
	KindMedicalRecord: {
		"patient_id", "practitioner_id", "user_id", "visit_date",
		"complaint", "diagnosis", "data", "created_at", "updated_at",
	},
}

// Columns returns the business columns of the kind in the order used by
// [Record.Values] and [Record.Targets].
func (k Kind) Columns() []string {
	return columns[k]
}

// New returns an empty record of the given kind.
func New(k Kind) Record {
	switch k {
	case KindUser:
		return &User{}
	case KindPractitioner:
		return &Practitioner{}
	case KindPatient:
		return &Patient{}
	case KindMedicalRecord:
		return &MedicalRecord{}
	default:
		panic(fmt.Sprintf("model.New: unknown kind %d", int(k)))
	}
}
