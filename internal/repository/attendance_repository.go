package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/parroquia-tech/catequesis-api/internal/models"
)

// ErrDuplicateAttendance reports that an attendance row already exists for
// the (enrollment, calendar day) pair.
var ErrDuplicateAttendance = errors.New("attendance already recorded for this date")

// AttendanceRepository handles persistence of attendance records and tasks.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

const attendanceColumns = `a.id, a.enrollment_id, a.date, a.present, a.class_type, a.topic,
    a.arrival_time, a.departure_time, a.late, a.early_leave,
    a.absence_reason, a.justified, a.participated, a.participation_level, a.behavior, a.notes,
    a.absence_notified, a.absence_notified_at, a.reminder_sent, a.reminder_sent_at,
    a.recorded_by, a.created_at, a.updated_at`

// Create inserts one attendance record. Returns ErrDuplicateAttendance when a
// row for the same enrollment and calendar day already exists.
func (r *AttendanceRepository) Create(ctx context.Context, attendance *models.Attendance) error {
	now := time.Now().UTC()
	if attendance.ID == "" {
		attendance.ID = uuid.NewString()
	}
	attendance.CreatedAt = now
	attendance.UpdatedAt = now
	const query = `INSERT INTO attendance (id, enrollment_id, date, present, class_type, topic,
        arrival_time, departure_time, late, early_leave,
        absence_reason, justified, participated, participation_level, behavior, notes,
        absence_notified, absence_notified_at, reminder_sent, reminder_sent_at,
        recorded_by, created_at, updated_at)
        VALUES (:id, :enrollment_id, :date, :present, :class_type, :topic,
        :arrival_time, :departure_time, :late, :early_leave,
        :absence_reason, :justified, :participated, :participation_level, :behavior, :notes,
        :absence_notified, :absence_notified_at, :reminder_sent, :reminder_sent_at,
        :recorded_by, :created_at, :updated_at)
        ON CONFLICT (enrollment_id, date) DO NOTHING
        RETURNING id`
	rows, err := r.db.NamedQueryContext(ctx, query, attendance)
	if err != nil {
		return fmt.Errorf("create attendance: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return ErrDuplicateAttendance
	}
	return nil
}

// ExistsForDay reports whether a record exists for the enrollment on the
// given calendar day.
func (r *AttendanceRepository) ExistsForDay(ctx context.Context, enrollmentID string, date time.Time) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM attendance WHERE enrollment_id = $1 AND date = $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, enrollmentID, date); err != nil {
		return false, fmt.Errorf("check attendance: %w", err)
	}
	return exists, nil
}

// FindByID returns an attendance record by its ID.
func (r *AttendanceRepository) FindByID(ctx context.Context, id string) (*models.Attendance, error) {
	query := fmt.Sprintf(`SELECT %s FROM attendance a WHERE a.id = $1`, attendanceColumns)
	var attendance models.Attendance
	if err := r.db.GetContext(ctx, &attendance, query, id); err != nil {
		return nil, err
	}
	return &attendance, nil
}

// List returns attendance records with catechumen and group context.
func (r *AttendanceRepository) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int, error) {
	base := `FROM attendance a
JOIN enrollments e ON e.id = a.enrollment_id
JOIN catechumens c ON c.id = e.catechumen_id
JOIN groups g ON g.id = e.group_id`
	where := []string{"1=1"}
	var args []interface{}

	if filter.EnrollmentID != "" {
		where = append(where, fmt.Sprintf("a.enrollment_id = $%d", len(args)+1))
		args = append(args, filter.EnrollmentID)
	}
	if filter.GroupID != "" {
		where = append(where, fmt.Sprintf("e.group_id = $%d", len(args)+1))
		args = append(args, filter.GroupID)
	}
	if filter.ParishID != "" {
		where = append(where, fmt.Sprintf("e.parish_id = $%d", len(args)+1))
		args = append(args, filter.ParishID)
	}
	if filter.Present != nil {
		where = append(where, fmt.Sprintf("a.present = $%d", len(args)+1))
		args = append(args, *filter.Present)
	}
	if filter.ClassType != "" {
		where = append(where, fmt.Sprintf("a.class_type = $%d", len(args)+1))
		args = append(args, filter.ClassType)
	}
	if filter.DateFrom != nil {
		where = append(where, fmt.Sprintf("a.date >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		where = append(where, fmt.Sprintf("a.date <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}
	whereClause := strings.Join(where, " AND ")

	allowedSorts := map[string]string{
		"date":       "a.date",
		"created_at": "a.created_at",
		"catechumen": "c.last_name",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "a.date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s,
        c.id AS catechumen_id, c.first_name || ' ' || c.last_name AS catechumen_name,
        g.id AS group_id, g.name AS group_name
        %s WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d`,
		attendanceColumns, base, whereClause, orderBy, order, size, offset)

	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list attendance: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count attendance: %w", err)
	}
	return records, total, nil
}

// Update persists mutations for an existing attendance record.
func (r *AttendanceRepository) Update(ctx context.Context, attendance *models.Attendance) error {
	attendance.UpdatedAt = time.Now().UTC()
	const query = `UPDATE attendance SET present = :present, class_type = :class_type, topic = :topic,
        arrival_time = :arrival_time, departure_time = :departure_time, late = :late, early_leave = :early_leave,
        absence_reason = :absence_reason, justified = :justified, participated = :participated,
        participation_level = :participation_level, behavior = :behavior, notes = :notes,
        updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, attendance); err != nil {
		return fmt.Errorf("update attendance: %w", err)
	}
	return nil
}

// Delete removes one attendance record and its tasks.
func (r *AttendanceRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete attendance: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attendance_tasks WHERE attendance_id = $1`, id); err != nil {
		return fmt.Errorf("delete attendance tasks: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM attendance WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete attendance: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete attendance: %w", err)
	}
	return nil
}

// SummaryForEnrollment computes the per-enrollment roll-up counters.
func (r *AttendanceRepository) SummaryForEnrollment(ctx context.Context, enrollmentID string) (*models.AttendanceSummary, error) {
	const query = `SELECT COUNT(*) AS total,
        COUNT(*) FILTER (WHERE present) AS present
        FROM attendance WHERE enrollment_id = $1`
	var row struct {
		Total   int `db:"total"`
		Present int `db:"present"`
	}
	if err := r.db.GetContext(ctx, &row, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("attendance summary: %w", err)
	}
	summary := &models.AttendanceSummary{
		Total:   row.Total,
		Present: row.Present,
		Absent:  row.Total - row.Present,
	}
	if summary.Total > 0 {
		summary.Percent = models.Round2(float64(summary.Present) / float64(summary.Total) * 100)
	}
	return summary, nil
}

// GroupStats aggregates attendance across a group, optionally within a range.
func (r *AttendanceRepository) GroupStats(ctx context.Context, groupID string, from, to *time.Time) (*models.GroupAttendanceStats, error) {
	return r.stats(ctx, "e.group_id", groupID, from, to)
}

// ParishStats aggregates attendance across a parish, optionally within a range.
func (r *AttendanceRepository) ParishStats(ctx context.Context, parishID string, from, to *time.Time) (*models.GroupAttendanceStats, error) {
	return r.stats(ctx, "e.parish_id", parishID, from, to)
}

func (r *AttendanceRepository) stats(ctx context.Context, scopeColumn, scopeID string, from, to *time.Time) (*models.GroupAttendanceStats, error) {
	where := []string{fmt.Sprintf("%s = $1", scopeColumn)}
	args := []interface{}{scopeID}
	if from != nil {
		where = append(where, fmt.Sprintf("a.date >= $%d", len(args)+1))
		args = append(args, *from)
	}
	if to != nil {
		where = append(where, fmt.Sprintf("a.date <= $%d", len(args)+1))
		args = append(args, *to)
	}
	query := fmt.Sprintf(`SELECT COUNT(*) AS sessions,
        COUNT(*) FILTER (WHERE a.present) AS present,
        COUNT(*) FILTER (WHERE NOT a.present) AS absent,
        COUNT(*) FILTER (WHERE NOT a.present AND a.justified) AS justified_absences,
        COUNT(*) FILTER (WHERE a.late) AS late_arrivals,
        COUNT(*) FILTER (WHERE a.early_leave) AS early_departures,
        COUNT(DISTINCT a.date) AS distinct_dates,
        COUNT(DISTINCT e.catechumen_id) AS distinct_catechumens
        FROM attendance a
        JOIN enrollments e ON e.id = a.enrollment_id
        WHERE %s`, strings.Join(where, " AND "))

	var stats models.GroupAttendanceStats
	if err := r.db.GetContext(ctx, &stats, query, args...); err != nil {
		return nil, fmt.Errorf("attendance stats: %w", err)
	}
	stats.From = from
	stats.To = to
	stats.Finalize()
	return &stats, nil
}

// ListPendingNotifications returns unnotified absences within the trailing
// window ending at now.
func (r *AttendanceRepository) ListPendingNotifications(ctx context.Context, parishID string, window time.Duration, now time.Time) ([]models.AttendanceRecord, error) {
	since := now.Add(-window)
	where := []string{
		"a.present = FALSE",
		"a.absence_notified = FALSE",
		"a.date >= $1",
		"a.date <= $2",
	}
	args := []interface{}{since, now}
	if parishID != "" {
		where = append(where, fmt.Sprintf("e.parish_id = $%d", len(args)+1))
		args = append(args, parishID)
	}
	query := fmt.Sprintf(`SELECT %s,
        c.id AS catechumen_id, c.first_name || ' ' || c.last_name AS catechumen_name,
        g.id AS group_id, g.name AS group_name
        FROM attendance a
        JOIN enrollments e ON e.id = a.enrollment_id
        JOIN catechumens c ON c.id = e.catechumen_id
        JOIN groups g ON g.id = e.group_id
        WHERE %s ORDER BY a.date`, attendanceColumns, strings.Join(where, " AND "))

	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("list pending notifications: %w", err)
	}
	return records, nil
}

// MarkNotified stamps the absence-notified flag on the given records.
func (r *AttendanceRepository) MarkNotified(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE attendance SET absence_notified = TRUE, absence_notified_at = ?, updated_at = ? WHERE id IN (?)`, at, at, ids)
	if err != nil {
		return fmt.Errorf("build mark notified: %w", err)
	}
	query = r.db.Rebind(query)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

// MarkReminderSent stamps the reminder flag on one record.
func (r *AttendanceRepository) MarkReminderSent(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE attendance SET reminder_sent = TRUE, reminder_sent_at = $2, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return nil
}

// ListTasks returns the follow-up tasks of an attendance record.
func (r *AttendanceRepository) ListTasks(ctx context.Context, attendanceID string) ([]models.AttendanceTask, error) {
	const query = `SELECT id, attendance_id, description, delivered, delivered_at, score, notes, created_at
        FROM attendance_tasks WHERE attendance_id = $1 ORDER BY created_at`
	var tasks []models.AttendanceTask
	if err := r.db.SelectContext(ctx, &tasks, query, attendanceID); err != nil {
		return nil, fmt.Errorf("list attendance tasks: %w", err)
	}
	return tasks, nil
}

// AddTask appends one follow-up task.
func (r *AttendanceRepository) AddTask(ctx context.Context, task *models.AttendanceTask) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO attendance_tasks (id, attendance_id, description, delivered, delivered_at, score, notes, created_at)
        VALUES (:id, :attendance_id, :description, :delivered, :delivered_at, :score, :notes, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, task); err != nil {
		return fmt.Errorf("add attendance task: %w", err)
	}
	return nil
}

// UpdateTask persists delivery state for one task.
func (r *AttendanceRepository) UpdateTask(ctx context.Context, task *models.AttendanceTask) error {
	const query = `UPDATE attendance_tasks SET description = :description, delivered = :delivered,
        delivered_at = :delivered_at, score = :score, notes = :notes WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, task); err != nil {
		return fmt.Errorf("update attendance task: %w", err)
	}
	return nil
}
