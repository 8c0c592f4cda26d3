package models

import "time"

// Level is a curriculum stage (e.g. first-communion preparation).
//
// MinScore and MinAttendance are configurable per level but the pass
// computation still applies the fixed 70/100 score and 80% attendance
// cutoffs (see enrollment.go); the per-level thresholds are retained for a
// pending product decision.
type Level struct {
	ID            string    `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	Description   *string   `db:"description" json:"description,omitempty"`
	StageOrder    int       `db:"stage_order" json:"stage_order"`
	MinAge        *int      `db:"min_age" json:"min_age,omitempty"`
	MaxAge        *int      `db:"max_age" json:"max_age,omitempty"`
	MinScore      float64   `db:"min_score" json:"min_score"`
	MinAttendance float64   `db:"min_attendance" json:"min_attendance"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// LevelFilter provides filters for listing levels.
type LevelFilter struct {
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
