package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/parroquia-tech/catequesis-api/internal/models"
)

// EnrollmentRepository handles persistence of enrollments and their payment,
// grade, and observation sub-records.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `e.id, e.catechumen_id, e.group_id, e.parish_id, e.enrolled_at, e.started_at, e.ended_at,
    e.active, e.status, e.status_reason, e.registered_by,
    e.doc_birth_certificate, e.doc_baptism_certificate, e.doc_guardian_consent,
    e.criteria_age_validated, e.criteria_level_validated, e.approved, e.approved_at, e.approved_by,
    e.sessions_total, e.sessions_present, e.attendance_percent, e.final_score, e.evaluated_at,
    e.follow_up, e.follow_up_reason, e.follow_up_assignee, e.created_at, e.updated_at`

// List returns enrollments with catechumen and group context.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
JOIN catechumens c ON c.id = e.catechumen_id
JOIN groups g ON g.id = e.group_id
JOIN levels l ON l.id = g.level_id
JOIN parishes p ON p.id = e.parish_id`
	where := []string{"1=1"}
	var args []interface{}

	if filter.CatechumenID != "" {
		where = append(where, fmt.Sprintf("e.catechumen_id = $%d", len(args)+1))
		args = append(args, filter.CatechumenID)
	}
	if filter.GroupID != "" {
		where = append(where, fmt.Sprintf("e.group_id = $%d", len(args)+1))
		args = append(args, filter.GroupID)
	}
	if filter.ParishID != "" {
		where = append(where, fmt.Sprintf("e.parish_id = $%d", len(args)+1))
		args = append(args, filter.ParishID)
	}
	if filter.Status != "" {
		where = append(where, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Active != nil {
		where = append(where, fmt.Sprintf("e.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.FollowUp != nil {
		where = append(where, fmt.Sprintf("e.follow_up = $%d", len(args)+1))
		args = append(args, *filter.FollowUp)
	}
	whereClause := strings.Join(where, " AND ")

	allowedSorts := map[string]string{
		"enrolled_at":        "e.enrolled_at",
		"status":             "e.status",
		"attendance_percent": "e.attendance_percent",
		"final_score":        "e.final_score",
		"catechumen":         "c.last_name",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.enrolled_at"
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
        c.first_name || ' ' || c.last_name AS catechumen_name,
        g.name AS group_name, l.name AS level_name, p.name AS parish_name
        %s WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d`,
		enrollmentColumns, base, whereClause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments e WHERE e.id = $1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with catechumen and group context.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	query := fmt.Sprintf(`SELECT %s,
        c.first_name || ' ' || c.last_name AS catechumen_name,
        g.name AS group_name, l.name AS level_name, p.name AS parish_name
        FROM enrollments e
        JOIN catechumens c ON c.id = e.catechumen_id
        JOIN groups g ON g.id = e.group_id
        JOIN levels l ON l.id = g.level_id
        JOIN parishes p ON p.id = e.parish_id
        WHERE e.id = $1`, enrollmentColumns)
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ExistsActiveForCatechumenInGroup reports whether the catechumen already has
// a live (PENDING or ACTIVE) enrollment in the group.
func (r *EnrollmentRepository) ExistsActiveForCatechumenInGroup(ctx context.Context, catechumenID, groupID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE catechumen_id = $1 AND group_id = $2 AND status IN ('PENDING', 'ACTIVE') LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, catechumenID, groupID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check existing enrollment: %w", err)
	}
	return true, nil
}

// Create persists a new enrollment record.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	now := time.Now().UTC()
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = now
	}
	enrollment.CreatedAt = now
	enrollment.UpdatedAt = now
	const query = `INSERT INTO enrollments (id, catechumen_id, group_id, parish_id, enrolled_at, started_at, ended_at,
        active, status, status_reason, registered_by,
        doc_birth_certificate, doc_baptism_certificate, doc_guardian_consent,
        criteria_age_validated, criteria_level_validated, approved, approved_at, approved_by,
        sessions_total, sessions_present, attendance_percent, final_score, evaluated_at,
        follow_up, follow_up_reason, follow_up_assignee, created_at, updated_at)
        VALUES (:id, :catechumen_id, :group_id, :parish_id, :enrolled_at, :started_at, :ended_at,
        :active, :status, :status_reason, :registered_by,
        :doc_birth_certificate, :doc_baptism_certificate, :doc_guardian_consent,
        :criteria_age_validated, :criteria_level_validated, :approved, :approved_at, :approved_by,
        :sessions_total, :sessions_present, :attendance_percent, :final_score, :evaluated_at,
        :follow_up, :follow_up_reason, :follow_up_assignee, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// UpdateDocuments persists the checklist and validation flags.
func (r *EnrollmentRepository) UpdateDocuments(ctx context.Context, enrollment *models.Enrollment) error {
	enrollment.UpdatedAt = time.Now().UTC()
	const query = `UPDATE enrollments SET doc_birth_certificate = :doc_birth_certificate,
        doc_baptism_certificate = :doc_baptism_certificate, doc_guardian_consent = :doc_guardian_consent,
        criteria_age_validated = :criteria_age_validated, criteria_level_validated = :criteria_level_validated,
        updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("update enrollment documents: %w", err)
	}
	return nil
}

// UpdateStatus persists a lifecycle transition and its side effects.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, enrollment *models.Enrollment) error {
	enrollment.UpdatedAt = time.Now().UTC()
	const query = `UPDATE enrollments SET status = :status, status_reason = :status_reason,
        active = :active, started_at = :started_at, ended_at = :ended_at,
        updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return nil
}

// Approve stamps the approval fields and activates the enrollment in the
// same statement.
func (r *EnrollmentRepository) Approve(ctx context.Context, id, approverID string, at time.Time) error {
	const query = `UPDATE enrollments SET approved = TRUE, approved_at = $2, approved_by = $3,
        status = 'ACTIVE', active = TRUE, started_at = $2, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, at, approverID); err != nil {
		return fmt.Errorf("approve enrollment: %w", err)
	}
	return nil
}

// UpdateRollup persists the recomputed attendance counters.
func (r *EnrollmentRepository) UpdateRollup(ctx context.Context, id string, total, present int, percent float64) error {
	const query = `UPDATE enrollments SET sessions_total = $2, sessions_present = $3,
        attendance_percent = $4, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, total, present, percent); err != nil {
		return fmt.Errorf("update enrollment rollup: %w", err)
	}
	return nil
}

// UpdateEvaluation persists the recomputed final score.
func (r *EnrollmentRepository) UpdateEvaluation(ctx context.Context, id string, finalScore *float64, evaluatedAt *time.Time) error {
	const query = `UPDATE enrollments SET final_score = $2, evaluated_at = $3, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, finalScore, evaluatedAt); err != nil {
		return fmt.Errorf("update enrollment evaluation: %w", err)
	}
	return nil
}

// UpdateFollowUp persists the follow-up marker.
func (r *EnrollmentRepository) UpdateFollowUp(ctx context.Context, id string, followUp bool, reason, assignee *string) error {
	const query = `UPDATE enrollments SET follow_up = $2, follow_up_reason = $3,
        follow_up_assignee = $4, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, followUp, reason, assignee); err != nil {
		return fmt.Errorf("update enrollment follow-up: %w", err)
	}
	return nil
}

// HasAttendance reports whether any attendance rows reference the enrollment.
func (r *EnrollmentRepository) HasAttendance(ctx context.Context, id string) (bool, error) {
	const query = `SELECT 1 FROM attendance WHERE enrollment_id = $1 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, id); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check enrollment attendance: %w", err)
	}
	return true, nil
}

// Delete removes an enrollment and its sub-records.
func (r *EnrollmentRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete enrollment: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM enrollment_payments WHERE enrollment_id = $1`,
		`DELETE FROM enrollment_grades WHERE enrollment_id = $1`,
		`DELETE FROM enrollment_observations WHERE enrollment_id = $1`,
		`DELETE FROM enrollments WHERE id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("delete enrollment: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete enrollment: %w", err)
	}
	return nil
}

// ListPayments returns the payment entries of an enrollment.
func (r *EnrollmentRepository) ListPayments(ctx context.Context, enrollmentID string) ([]models.EnrollmentPayment, error) {
	const query = `SELECT id, enrollment_id, concept, label, amount, paid, paid_at, method, receipt, created_at, updated_at
        FROM enrollment_payments WHERE enrollment_id = $1 ORDER BY created_at`
	var payments []models.EnrollmentPayment
	if err := r.db.SelectContext(ctx, &payments, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list enrollment payments: %w", err)
	}
	return payments, nil
}

// UpsertFixedPayment overwrites the single REGISTRATION or MATERIALS row.
func (r *EnrollmentRepository) UpsertFixedPayment(ctx context.Context, payment *models.EnrollmentPayment) error {
	now := time.Now().UTC()
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	payment.CreatedAt = now
	payment.UpdatedAt = now
	const query = `INSERT INTO enrollment_payments (id, enrollment_id, concept, label, amount, paid, paid_at, method, receipt, created_at, updated_at)
        VALUES (:id, :enrollment_id, :concept, :label, :amount, :paid, :paid_at, :method, :receipt, :created_at, :updated_at)
        ON CONFLICT (enrollment_id, concept) WHERE concept IN ('REGISTRATION', 'MATERIALS')
        DO UPDATE SET label = EXCLUDED.label, amount = EXCLUDED.amount, paid = EXCLUDED.paid,
        paid_at = EXCLUDED.paid_at, method = EXCLUDED.method, receipt = EXCLUDED.receipt, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, payment); err != nil {
		return fmt.Errorf("upsert fixed payment: %w", err)
	}
	return nil
}

// AppendPayment inserts an OTHER payment entry.
func (r *EnrollmentRepository) AppendPayment(ctx context.Context, payment *models.EnrollmentPayment) error {
	now := time.Now().UTC()
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	payment.CreatedAt = now
	payment.UpdatedAt = now
	const query = `INSERT INTO enrollment_payments (id, enrollment_id, concept, label, amount, paid, paid_at, method, receipt, created_at, updated_at)
        VALUES (:id, :enrollment_id, :concept, :label, :amount, :paid, :paid_at, :method, :receipt, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, payment); err != nil {
		return fmt.Errorf("append payment: %w", err)
	}
	return nil
}

// MarkPaymentPaid settles one payment entry.
func (r *EnrollmentRepository) MarkPaymentPaid(ctx context.Context, enrollmentID, paymentID string, paidAt time.Time, method, receipt *string) error {
	const query = `UPDATE enrollment_payments SET paid = TRUE, paid_at = $3, method = $4, receipt = $5, updated_at = $3
        WHERE id = $2 AND enrollment_id = $1`
	result, err := r.db.ExecContext(ctx, query, enrollmentID, paymentID, paidAt, method, receipt)
	if err != nil {
		return fmt.Errorf("mark payment paid: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListGrades returns the graded items of an enrollment.
func (r *EnrollmentRepository) ListGrades(ctx context.Context, enrollmentID string) ([]models.EnrollmentGrade, error) {
	const query = `SELECT id, enrollment_id, concept, score, graded_at, notes
        FROM enrollment_grades WHERE enrollment_id = $1 ORDER BY graded_at`
	var grades []models.EnrollmentGrade
	if err := r.db.SelectContext(ctx, &grades, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list enrollment grades: %w", err)
	}
	return grades, nil
}

// AddGrade appends one graded item.
func (r *EnrollmentRepository) AddGrade(ctx context.Context, grade *models.EnrollmentGrade) error {
	if grade.ID == "" {
		grade.ID = uuid.NewString()
	}
	if grade.GradedAt.IsZero() {
		grade.GradedAt = time.Now().UTC()
	}
	const query = `INSERT INTO enrollment_grades (id, enrollment_id, concept, score, graded_at, notes)
        VALUES (:id, :enrollment_id, :concept, :score, :graded_at, :notes)`
	if _, err := r.db.NamedExecContext(ctx, query, grade); err != nil {
		return fmt.Errorf("add enrollment grade: %w", err)
	}
	return nil
}

// ListObservations returns the observations of an enrollment, optionally
// hiding private entries.
func (r *EnrollmentRepository) ListObservations(ctx context.Context, enrollmentID string, includePrivate bool) ([]models.EnrollmentObservation, error) {
	query := `SELECT id, enrollment_id, author_id, type, content, private, created_at
        FROM enrollment_observations WHERE enrollment_id = $1`
	if !includePrivate {
		query += ` AND private = FALSE`
	}
	query += ` ORDER BY created_at DESC`
	var observations []models.EnrollmentObservation
	if err := r.db.SelectContext(ctx, &observations, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list enrollment observations: %w", err)
	}
	return observations, nil
}

// AddObservation appends one authored note.
func (r *EnrollmentRepository) AddObservation(ctx context.Context, observation *models.EnrollmentObservation) error {
	if observation.ID == "" {
		observation.ID = uuid.NewString()
	}
	if observation.CreatedAt.IsZero() {
		observation.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO enrollment_observations (id, enrollment_id, author_id, type, content, private, created_at)
        VALUES (:id, :enrollment_id, :author_id, :type, :content, :private, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, observation); err != nil {
		return fmt.Errorf("add enrollment observation: %w", err)
	}
	return nil
}
