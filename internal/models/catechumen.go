package models

import "time"

// Catechumen is a person enrolled (or enrollable) in catechism groups.
type Catechumen struct {
	ID            string     `db:"id" json:"id"`
	ParishID      string     `db:"parish_id" json:"parish_id"`
	FirstName     string     `db:"first_name" json:"first_name"`
	LastName      string     `db:"last_name" json:"last_name"`
	BirthDate     *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	DocumentID    *string    `db:"document_id" json:"document_id,omitempty"`
	GuardianName  *string    `db:"guardian_name" json:"guardian_name,omitempty"`
	GuardianPhone *string    `db:"guardian_phone" json:"guardian_phone,omitempty"`
	Address       *string    `db:"address" json:"address,omitempty"`
	Active        bool       `db:"active" json:"active"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// FullName joins first and last name for display purposes.
func (c Catechumen) FullName() string {
	return c.FirstName + " " + c.LastName
}

// CatechumenFilter provides filters for listing catechumens.
type CatechumenFilter struct {
	ParishID  string
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
