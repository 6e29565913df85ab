package model

// Scope restricts list and search queries to what a principal may see.
// The zero value is unrestricted.
type Scope struct {
	// UserID, when non-zero, limits results to records authored by the user
	// or belonging to patients the user created.
	UserID int64
}

// Restricted reports whether the scope filters anything.
func (s Scope) Restricted() bool {
	return s.UserID != 0
}
