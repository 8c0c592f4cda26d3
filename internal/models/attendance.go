package models

import "time"

// ClassType categorises the session an attendance record belongs to.
type ClassType string

const (
	ClassTypeRegular       ClassType = "REGULAR"
	ClassTypeExtraordinary ClassType = "EXTRAORDINARY"
	ClassTypeExam          ClassType = "EXAM"
	ClassTypeRetreat       ClassType = "RETREAT"
	ClassTypeCelebration   ClassType = "CELEBRATION"
	ClassTypeEvent         ClassType = "EVENT"
)

// Valid returns true when the class type is a supported value.
func (t ClassType) Valid() bool {
	switch t {
	case ClassTypeRegular, ClassTypeExtraordinary, ClassTypeExam,
		ClassTypeRetreat, ClassTypeCelebration, ClassTypeEvent:
		return true
	default:
		return false
	}
}

// Attendance is one per-date presence record tied to one enrollment.
// Uniqueness is enforced on (enrollment_id, date) by calendar day.
type Attendance struct {
	ID           string    `db:"id" json:"id"`
	EnrollmentID string    `db:"enrollment_id" json:"enrollment_id"`
	Date         time.Time `db:"date" json:"date"`
	Present      bool      `db:"present" json:"present"`
	ClassType    ClassType `db:"class_type" json:"class_type"`
	Topic        *string   `db:"topic" json:"topic,omitempty"`

	ArrivalTime   *string `db:"arrival_time" json:"arrival_time,omitempty"`
	DepartureTime *string `db:"departure_time" json:"departure_time,omitempty"`
	Late          bool    `db:"late" json:"late"`
	EarlyLeave    bool    `db:"early_leave" json:"early_leave"`

	AbsenceReason *string `db:"absence_reason" json:"absence_reason,omitempty"`
	Justified     bool    `db:"justified" json:"justified"`

	Participated       bool    `db:"participated" json:"participated"`
	ParticipationLevel *string `db:"participation_level" json:"participation_level,omitempty"`
	Behavior           *string `db:"behavior" json:"behavior,omitempty"`
	Notes              *string `db:"notes" json:"notes,omitempty"`

	AbsenceNotified   bool       `db:"absence_notified" json:"absence_notified"`
	AbsenceNotifiedAt *time.Time `db:"absence_notified_at" json:"absence_notified_at,omitempty"`
	ReminderSent      bool       `db:"reminder_sent" json:"reminder_sent"`
	ReminderSentAt    *time.Time `db:"reminder_sent_at" json:"reminder_sent_at,omitempty"`

	RecordedBy string    `db:"recorded_by" json:"recorded_by"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// AttendanceTask is a follow-up task attached to an attendance record.
type AttendanceTask struct {
	ID           string     `db:"id" json:"id"`
	AttendanceID string     `db:"attendance_id" json:"attendance_id"`
	Description  string     `db:"description" json:"description"`
	Delivered    bool       `db:"delivered" json:"delivered"`
	DeliveredAt  *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	Score        *float64   `db:"score" json:"score,omitempty"`
	Notes        *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// AttendanceRecord extends the attendance row with catechumen and group info.
type AttendanceRecord struct {
	Attendance
	CatechumenID   string `db:"catechumen_id" json:"catechumen_id"`
	CatechumenName string `db:"catechumen_name" json:"catechumen_name"`
	GroupID        string `db:"group_id" json:"group_id"`
	GroupName      string `db:"group_name" json:"group_name"`
}

// AttendanceFilter scopes listing queries.
type AttendanceFilter struct {
	EnrollmentID string
	GroupID      string
	ParishID     string
	Present      *bool
	ClassType    ClassType
	DateFrom     *time.Time
	DateTo       *time.Time
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// AttendanceSummary is the per-enrollment roll-up.
type AttendanceSummary struct {
	Present int     `json:"present"`
	Absent  int     `json:"absent"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
}

// GroupAttendanceStats aggregates attendance across a group's (or a whole
// parish's) enrollments, optionally within a date range.
type GroupAttendanceStats struct {
	Sessions            int        `db:"sessions" json:"sessions"`
	Present             int        `db:"present" json:"present"`
	Absent              int        `db:"absent" json:"absent"`
	JustifiedAbsences   int        `db:"justified_absences" json:"justified_absences"`
	LateArrivals        int        `db:"late_arrivals" json:"late_arrivals"`
	EarlyDepartures     int        `db:"early_departures" json:"early_departures"`
	DistinctDates       int        `db:"distinct_dates" json:"distinct_dates"`
	DistinctCatechumens int        `db:"distinct_catechumens" json:"distinct_catechumens"`
	Percent             float64    `json:"percent"`
	AvgPresentPerDate   float64    `json:"avg_present_per_date"`
	From                *time.Time `json:"from,omitempty"`
	To                  *time.Time `json:"to,omitempty"`
}

// Finalize fills the derived ratio fields from the raw counters.
func (s *GroupAttendanceStats) Finalize() {
	if s.Sessions > 0 {
		s.Percent = Round2(float64(s.Present) / float64(s.Sessions) * 100)
	}
	if s.DistinctDates > 0 {
		s.AvgPresentPerDate = Round2(float64(s.Present) / float64(s.DistinctDates))
	}
}
