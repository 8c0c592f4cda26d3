package models

import "time"

// ReportType enumerates the supported report datasets.
type ReportType string

const (
	ReportTypeAttendance  ReportType = "ATTENDANCE"
	ReportTypeEnrollments ReportType = "ENROLLMENTS"
	ReportTypePayments    ReportType = "PAYMENTS"
)

// Valid returns true when the report type is supported.
func (t ReportType) Valid() bool {
	switch t {
	case ReportTypeAttendance, ReportTypeEnrollments, ReportTypePayments:
		return true
	default:
		return false
	}
}

// ReportFormat enumerates output encodings.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

// Valid returns true when the format is supported.
func (f ReportFormat) Valid() bool {
	return f == ReportFormatCSV || f == ReportFormatPDF
}

// ReportStatus tracks job progress.
type ReportStatus string

const (
	ReportStatusQueued   ReportStatus = "QUEUED"
	ReportStatusRunning  ReportStatus = "RUNNING"
	ReportStatusFinished ReportStatus = "FINISHED"
	ReportStatusFailed   ReportStatus = "FAILED"
)

// ReportJob is a queued export of one report dataset.
type ReportJob struct {
	ID           string       `db:"id" json:"id"`
	Type         ReportType   `db:"type" json:"type"`
	Format       ReportFormat `db:"format" json:"format"`
	GroupID      *string      `db:"group_id" json:"group_id,omitempty"`
	ParishID     *string      `db:"parish_id" json:"parish_id,omitempty"`
	DateFrom     *time.Time   `db:"date_from" json:"date_from,omitempty"`
	DateTo       *time.Time   `db:"date_to" json:"date_to,omitempty"`
	Status       ReportStatus `db:"status" json:"status"`
	Progress     int          `db:"progress" json:"progress"`
	FilePath     *string      `db:"file_path" json:"-"`
	ErrorMessage *string      `db:"error_message" json:"error_message,omitempty"`
	CreatedBy    string       `db:"created_by" json:"created_by"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`
	FinishedAt   *time.Time   `db:"finished_at" json:"finished_at,omitempty"`
}
