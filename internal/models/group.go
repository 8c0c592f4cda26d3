package models

import "time"

// Group is a scheduled class instance of a Level at a Parish.
type Group struct {
	ID            string    `db:"id" json:"id"`
	ParishID      string    `db:"parish_id" json:"parish_id"`
	LevelID       string    `db:"level_id" json:"level_id"`
	Name          string    `db:"name" json:"name"`
	Year          int       `db:"year" json:"year"`
	// Capacity caps active enrollments; zero means unlimited.
	Capacity      int       `db:"capacity" json:"capacity"`
	Schedule      *string   `db:"schedule" json:"schedule,omitempty"`
	Room          *string   `db:"room" json:"room,omitempty"`
	Active        bool      `db:"active" json:"active"`
	EnrolledCount int       `db:"enrolled_count" json:"enrolled_count"`
	AvgAttendance float64   `db:"avg_attendance" json:"avg_attendance"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// HasCapacity reports whether another active enrollment fits.
func (g Group) HasCapacity() bool {
	return g.Capacity <= 0 || g.EnrolledCount < g.Capacity
}

// GroupDetail enriches Group with level and parish info.
type GroupDetail struct {
	Group
	LevelName  string `db:"level_name" json:"level_name"`
	ParishName string `db:"parish_name" json:"parish_name"`
}

// GroupCatechist links a catechist user to a group.
type GroupCatechist struct {
	ID         string    `db:"id" json:"id"`
	GroupID    string    `db:"group_id" json:"group_id"`
	UserID     string    `db:"user_id" json:"user_id"`
	Role       *string   `db:"role" json:"role,omitempty"`
	Active     bool      `db:"active" json:"active"`
	AssignedAt time.Time `db:"assigned_at" json:"assigned_at"`
}

// GroupCatechistDetail enriches the assignment with user info.
type GroupCatechistDetail struct {
	GroupCatechist
	CatechistName  string `db:"catechist_name" json:"catechist_name"`
	CatechistEmail string `db:"catechist_email" json:"catechist_email"`
}

// GroupFilter provides filters for listing groups.
type GroupFilter struct {
	ParishID  string
	LevelID   string
	Year      int
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
