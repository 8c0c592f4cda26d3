package models

import (
	"math"
	"time"
)

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusPending   EnrollmentStatus = "PENDING"
	EnrollmentStatusActive    EnrollmentStatus = "ACTIVE"
	EnrollmentStatusSuspended EnrollmentStatus = "SUSPENDED"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
	EnrollmentStatusWithdrawn EnrollmentStatus = "WITHDRAWN"
)

// Fixed evaluation cutoffs applied by the pass computation. Per-level
// configured thresholds exist (Level.MinScore, Level.MinAttendance) but are
// not consulted here.
const (
	PassingScore         = 70.0
	MinAttendancePercent = 80.0
)

// Valid returns true when the status is a supported value.
func (s EnrollmentStatus) Valid() bool {
	switch s {
	case EnrollmentStatusPending, EnrollmentStatusActive, EnrollmentStatusSuspended,
		EnrollmentStatusCompleted, EnrollmentStatusWithdrawn:
		return true
	default:
		return false
	}
}

// Deactivates reports whether entering the status turns the enrollment inactive.
func (s EnrollmentStatus) Deactivates() bool {
	switch s {
	case EnrollmentStatusSuspended, EnrollmentStatusCompleted, EnrollmentStatusWithdrawn:
		return true
	default:
		return false
	}
}

// RequiresReason reports whether a status change must carry a reason.
func (s EnrollmentStatus) RequiresReason() bool {
	return s == EnrollmentStatusSuspended || s == EnrollmentStatusWithdrawn
}

// statusTransitions is the explicit transition table. COMPLETED and
// WITHDRAWN are terminal.
var statusTransitions = map[EnrollmentStatus][]EnrollmentStatus{
	EnrollmentStatusPending:   {EnrollmentStatusActive, EnrollmentStatusWithdrawn},
	EnrollmentStatusActive:    {EnrollmentStatusSuspended, EnrollmentStatusCompleted, EnrollmentStatusWithdrawn},
	EnrollmentStatusSuspended: {EnrollmentStatusActive, EnrollmentStatusWithdrawn},
}

// CanTransitionTo reports whether the transition table allows moving to next.
func (s EnrollmentStatus) CanTransitionTo(next EnrollmentStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Enrollment links a catechumen to a group for one program cycle, carrying
// payment, evaluation, and attendance roll-up state.
type Enrollment struct {
	ID           string           `db:"id" json:"id"`
	CatechumenID string           `db:"catechumen_id" json:"catechumen_id"`
	GroupID      string           `db:"group_id" json:"group_id"`
	ParishID     string           `db:"parish_id" json:"parish_id"`
	EnrolledAt   time.Time        `db:"enrolled_at" json:"enrolled_at"`
	StartedAt    *time.Time       `db:"started_at" json:"started_at,omitempty"`
	EndedAt      *time.Time       `db:"ended_at" json:"ended_at,omitempty"`
	Active       bool             `db:"active" json:"active"`
	Status       EnrollmentStatus `db:"status" json:"status"`
	StatusReason *string          `db:"status_reason" json:"status_reason,omitempty"`

	RegisteredBy           *string    `db:"registered_by" json:"registered_by,omitempty"`
	DocBirthCertificate    bool       `db:"doc_birth_certificate" json:"doc_birth_certificate"`
	DocBaptismCertificate  bool       `db:"doc_baptism_certificate" json:"doc_baptism_certificate"`
	DocGuardianConsent     bool       `db:"doc_guardian_consent" json:"doc_guardian_consent"`
	CriteriaAgeValidated   bool       `db:"criteria_age_validated" json:"criteria_age_validated"`
	CriteriaLevelValidated bool       `db:"criteria_level_validated" json:"criteria_level_validated"`
	Approved               bool       `db:"approved" json:"approved"`
	ApprovedAt             *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	ApprovedBy             *string    `db:"approved_by" json:"approved_by,omitempty"`

	SessionsTotal     int        `db:"sessions_total" json:"sessions_total"`
	SessionsPresent   int        `db:"sessions_present" json:"sessions_present"`
	AttendancePercent float64    `db:"attendance_percent" json:"attendance_percent"`
	FinalScore        *float64   `db:"final_score" json:"final_score,omitempty"`
	EvaluatedAt       *time.Time `db:"evaluated_at" json:"evaluated_at,omitempty"`

	FollowUp         bool    `db:"follow_up" json:"follow_up"`
	FollowUpReason   *string `db:"follow_up_reason" json:"follow_up_reason,omitempty"`
	FollowUpAssignee *string `db:"follow_up_assignee" json:"follow_up_assignee,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Passed derives the tri-state evaluation outcome: nil until a final score
// exists, otherwise score >= 70 and attendance >= 80.
func (e *Enrollment) Passed() *bool {
	if e.FinalScore == nil {
		return nil
	}
	passed := *e.FinalScore >= PassingScore && e.AttendancePercent >= MinAttendancePercent
	return &passed
}

// EnrollmentDetail enriches Enrollment with catechumen and group info.
type EnrollmentDetail struct {
	Enrollment
	CatechumenName string `db:"catechumen_name" json:"catechumen_name"`
	GroupName      string `db:"group_name" json:"group_name"`
	LevelName      string `db:"level_name" json:"level_name"`
	ParishName     string `db:"parish_name" json:"parish_name"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	CatechumenID string
	GroupID      string
	ParishID     string
	Status       EnrollmentStatus
	Active       *bool
	FollowUp     *bool
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// PaymentConcept classifies a payment entry.
type PaymentConcept string

const (
	PaymentConceptRegistration PaymentConcept = "REGISTRATION"
	PaymentConceptMaterials    PaymentConcept = "MATERIALS"
	PaymentConceptOther        PaymentConcept = "OTHER"
)

// Fixed reports whether the concept occupies a single overwritable slot.
func (c PaymentConcept) Fixed() bool {
	return c == PaymentConceptRegistration || c == PaymentConceptMaterials
}

// Valid returns true when the concept is a supported value.
func (c PaymentConcept) Valid() bool {
	switch c {
	case PaymentConceptRegistration, PaymentConceptMaterials, PaymentConceptOther:
		return true
	default:
		return false
	}
}

// EnrollmentPayment is one charge against an enrollment. REGISTRATION and
// MATERIALS exist at most once per enrollment; OTHER rows accumulate.
type EnrollmentPayment struct {
	ID           string         `db:"id" json:"id"`
	EnrollmentID string         `db:"enrollment_id" json:"enrollment_id"`
	Concept      PaymentConcept `db:"concept" json:"concept"`
	Label        string         `db:"label" json:"label"`
	Amount       float64        `db:"amount" json:"amount"`
	Paid         bool           `db:"paid" json:"paid"`
	PaidAt       *time.Time     `db:"paid_at" json:"paid_at,omitempty"`
	Method       *string        `db:"method" json:"method,omitempty"`
	Receipt      *string        `db:"receipt" json:"receipt,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// PaymentTotals aggregates the payment state of an enrollment.
type PaymentTotals struct {
	TotalDue   float64 `json:"total_due"`
	TotalPaid  float64 `json:"total_paid"`
	Pending    float64 `json:"pending"`
	FullyPaid  bool    `json:"fully_paid"`
	EntryCount int     `json:"entry_count"`
}

// ComputePaymentTotals derives due/paid/pending totals over all entries.
// Pending is due minus paid and is not clamped.
func ComputePaymentTotals(payments []EnrollmentPayment) PaymentTotals {
	totals := PaymentTotals{EntryCount: len(payments)}
	for _, p := range payments {
		totals.TotalDue += p.Amount
		if p.Paid {
			totals.TotalPaid += p.Amount
		}
	}
	totals.Pending = totals.TotalDue - totals.TotalPaid
	totals.FullyPaid = totals.TotalDue == 0 || totals.TotalPaid >= totals.TotalDue
	return totals
}

// EnrollmentGrade is a single graded item in the evaluation record.
type EnrollmentGrade struct {
	ID           string    `db:"id" json:"id"`
	EnrollmentID string    `db:"enrollment_id" json:"enrollment_id"`
	Concept      string    `db:"concept" json:"concept"`
	Score        float64   `db:"score" json:"score"`
	GradedAt     time.Time `db:"graded_at" json:"graded_at"`
	Notes        *string   `db:"notes" json:"notes,omitempty"`
}

// ComputeFinalScore returns the arithmetic mean of all scores rounded to two
// decimals and clamped to [0,100]; nil when no grades exist.
func ComputeFinalScore(grades []EnrollmentGrade) *float64 {
	if len(grades) == 0 {
		return nil
	}
	var sum float64
	for _, g := range grades {
		sum += g.Score
	}
	final := Round2(sum / float64(len(grades)))
	if final < 0 {
		final = 0
	}
	if final > 100 {
		final = 100
	}
	return &final
}

// Round2 rounds to two decimal places, half away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ObservationType classifies free-text observations.
type ObservationType string

const (
	ObservationGeneral        ObservationType = "GENERAL"
	ObservationAcademic       ObservationType = "ACADEMIC"
	ObservationBehavioral     ObservationType = "BEHAVIORAL"
	ObservationAdministrative ObservationType = "ADMINISTRATIVE"
)

// Valid returns true when the observation type is supported.
func (t ObservationType) Valid() bool {
	switch t {
	case ObservationGeneral, ObservationAcademic, ObservationBehavioral, ObservationAdministrative:
		return true
	default:
		return false
	}
}

// EnrollmentObservation is a timestamped, authored note on an enrollment.
type EnrollmentObservation struct {
	ID           string          `db:"id" json:"id"`
	EnrollmentID string          `db:"enrollment_id" json:"enrollment_id"`
	AuthorID     string          `db:"author_id" json:"author_id"`
	Type         ObservationType `db:"type" json:"type"`
	Content      string          `db:"content" json:"content"`
	Private      bool            `db:"private" json:"private"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}
