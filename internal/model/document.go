package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Conventional sub-keys of a medical record's Data document.
const (
	DocMedicalRecord = "medical_record"
	DocPulseGrid     = "pulse_grid"
	DocRawInput      = "raw_input"
	DocClientInfo    = "client_info"
	DocPulseVector   = "pulse_vector"
)

// Document is a free-form JSON object stored as TEXT in SQLite and JSONB in
// PostgreSQL.
type Document map[string]any

// Value implements driver.Valuer.
func (d Document) Value() (driver.Value, error) {
	if d == nil {
		return "{}", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshalling document: %w", err)
	}
	return string(b), nil
}

// orEmpty returns d, or an empty document when d is nil. Some drivers bind a
// nil map as NULL without consulting Value.
func (d Document) orEmpty() Document {
	if d == nil {
		return Document{}
	}
	return d
}

// Scan implements sql.Scanner.
func (d *Document) Scan(value any) error {
	if value == nil {
		*d = Document{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scanning document: unsupported type %T", value)
	}
	if len(raw) == 0 {
		*d = Document{}
		return nil
	}
	m := Document{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("scanning document: %w", err)
	}
	*d = m
	return nil
}

// Section returns the nested object stored under key, or nil.
func (d Document) Section(key string) map[string]any {
	m, _ := d[key].(map[string]any)
	return m
}

// PulseGrid returns the pulse grid as position → description. Non-string
// cells are ignored.
func (d Document) PulseGrid() map[string]string {
	sec := d.Section(DocPulseGrid)
	if len(sec) == 0 {
		return nil
	}
	grid := make(map[string]string, len(sec))
	for k, v := range sec {
		if s, ok := v.(string); ok {
			grid[k] = s
		}
	}
	return grid
}

// SetPulseGrid stores grid under the pulse_grid key.
func (d Document) SetPulseGrid(grid map[string]string) {
	sec := make(map[string]any, len(grid))
	for k, v := range grid {
		sec[k] = v
	}
	d[DocPulseGrid] = sec
}

// PulseVector returns a cached feature vector, if one is present and well
// formed.
func (d Document) PulseVector() ([]float64, bool) {
	raw, ok := d[DocPulseVector].([]any)
	if !ok {
		if vec, ok := d[DocPulseVector].([]float64); ok {
			return vec, true
		}
		return nil, false
	}
	vec := make([]float64, 0, len(raw))
	for _, v := range raw {
		f, ok := v.(float64)
		if !ok {
			return nil, false
		}
		vec = append(vec, f)
	}
	return vec, true
}
