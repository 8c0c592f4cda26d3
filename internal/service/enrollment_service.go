package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/parroquia-tech/catequesis-api/internal/access"
	"github.com/parroquia-tech/catequesis-api/internal/models"
	appErrors "github.com/parroquia-tech/catequesis-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	ExistsActiveForCatechumenInGroup(ctx context.Context, catechumenID, groupID string) (bool, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	UpdateDocuments(ctx context.Context, enrollment *models.Enrollment) error
	UpdateStatus(ctx context.Context, enrollment *models.Enrollment) error
	Approve(ctx context.Context, id, approverID string, at time.Time) error
	UpdateEvaluation(ctx context.Context, id string, finalScore *float64, evaluatedAt *time.Time) error
	UpdateFollowUp(ctx context.Context, id string, followUp bool, reason, assignee *string) error
	HasAttendance(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
	ListPayments(ctx context.Context, enrollmentID string) ([]models.EnrollmentPayment, error)
	UpsertFixedPayment(ctx context.Context, payment *models.EnrollmentPayment) error
	AppendPayment(ctx context.Context, payment *models.EnrollmentPayment) error
	MarkPaymentPaid(ctx context.Context, enrollmentID, paymentID string, paidAt time.Time, method, receipt *string) error
	ListGrades(ctx context.Context, enrollmentID string) ([]models.EnrollmentGrade, error)
	AddGrade(ctx context.Context, grade *models.EnrollmentGrade) error
	ListObservations(ctx context.Context, enrollmentID string, includePrivate bool) ([]models.EnrollmentObservation, error)
	AddObservation(ctx context.Context, observation *models.EnrollmentObservation) error
}

type enrollmentGroupRepository interface {
	FindByID(ctx context.Context, id string) (*models.Group, error)
	CountActiveEnrollments(ctx context.Context, groupID string) (int, error)
	RefreshStats(ctx context.Context, groupID string) error
}

type enrollmentCatechumenRepository interface {
	FindByID(ctx context.Context, id string) (*models.Catechumen, error)
}

// EnrollmentService drives the enrollment lifecycle: registration, approval,
// status transitions, payments, grading, and observations.
type EnrollmentService struct {
	repo        enrollmentRepository
	groups      enrollmentGroupRepository
	catechumens enrollmentCatechumenRepository
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewEnrollmentService constructs the enrollment service.
func NewEnrollmentService(repo enrollmentRepository, groups enrollmentGroupRepository, catechumens enrollmentCatechumenRepository, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &EnrollmentService{repo: repo, groups: groups, catechumens: catechumens, metrics: metrics, validator: validate, logger: logger}
	svc.validator.RegisterValidation("enrollment_status", func(fl validator.FieldLevel) bool {
		return models.EnrollmentStatus(strings.ToUpper(fl.Field().String())).Valid()
	})
	svc.validator.RegisterValidation("payment_concept", func(fl validator.FieldLevel) bool {
		return models.PaymentConcept(strings.ToUpper(fl.Field().String())).Valid()
	})
	svc.validator.RegisterValidation("observation_type", func(fl validator.FieldLevel) bool {
		return models.ObservationType(strings.ToUpper(fl.Field().String())).Valid()
	})
	return svc
}

// EnrollmentListRequest filters the enrollment listing.
type EnrollmentListRequest struct {
	CatechumenID string  `json:"catechumen_id"`
	GroupID      string  `json:"group_id"`
	ParishID     string  `json:"parish_id"`
	Status       *string `json:"status" validate:"omitempty,enrollment_status"`
	Active       *bool   `json:"active"`
	FollowUp     *bool   `json:"follow_up"`
	Page         int     `json:"page"`
	PageSize     int     `json:"page_size"`
	SortBy       string  `json:"sort_by"`
	SortOrder    string  `json:"sort_order"`
}

// CreateEnrollmentRequest registers a catechumen into a group.
type CreateEnrollmentRequest struct {
	CatechumenID string `json:"catechumen_id" validate:"required"`
	GroupID      string `json:"group_id" validate:"required"`
}

// DocumentChecklistRequest updates the registration checklist.
type DocumentChecklistRequest struct {
	DocBirthCertificate    *bool `json:"doc_birth_certificate"`
	DocBaptismCertificate  *bool `json:"doc_baptism_certificate"`
	DocGuardianConsent     *bool `json:"doc_guardian_consent"`
	CriteriaAgeValidated   *bool `json:"criteria_age_validated"`
	CriteriaLevelValidated *bool `json:"criteria_level_validated"`
}

// ChangeStatusRequest requests a lifecycle transition.
type ChangeStatusRequest struct {
	Status string  `json:"status" validate:"required,enrollment_status"`
	Reason *string `json:"reason"`
}

// PaymentRequest records a charge. REGISTRATION and MATERIALS overwrite their
// single slot; OTHER entries accumulate and require a label.
type PaymentRequest struct {
	Concept string  `json:"concept" validate:"required,payment_concept"`
	Label   string  `json:"label"`
	Amount  float64 `json:"amount" validate:"gte=0"`
	Paid    bool    `json:"paid"`
	Method  *string `json:"method"`
	Receipt *string `json:"receipt"`
}

// SettlePaymentRequest marks an existing entry as paid.
type SettlePaymentRequest struct {
	Method  *string `json:"method"`
	Receipt *string `json:"receipt"`
}

// GradeRequest records one graded item.
type GradeRequest struct {
	Concept string  `json:"concept" validate:"required"`
	Score   float64 `json:"score" validate:"gte=0,lte=100"`
	Notes   *string `json:"notes"`
}

// ObservationRequest appends a note to the enrollment record.
type ObservationRequest struct {
	Type    string `json:"type" validate:"required,observation_type"`
	Content string `json:"content" validate:"required"`
	Private bool   `json:"private"`
}

// FollowUpRequest flags an enrollment for pastoral follow-up.
type FollowUpRequest struct {
	FollowUp bool    `json:"follow_up"`
	Reason   *string `json:"reason"`
	Assignee *string `json:"assignee"`
}

// EnrollmentView is the full read model: the record plus derived payment
// totals and the tri-state pass outcome.
type EnrollmentView struct {
	models.EnrollmentDetail
	Payments      []models.EnrollmentPayment `json:"payments"`
	PaymentTotals models.PaymentTotals       `json:"payment_totals"`
	Grades        []models.EnrollmentGrade   `json:"grades"`
	Passed        *bool                      `json:"passed"`
}

// List returns enrollments visible within the caller's scope.
func (s *EnrollmentService) List(ctx context.Context, scope access.Scope, req EnrollmentListRequest) ([]models.EnrollmentDetail, *models.Pagination, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid filter")
	}
	parishID := req.ParishID
	if !scope.AllParishes {
		parishID = scope.ParishID
	}
	var status models.EnrollmentStatus
	if req.Status != nil {
		status = models.EnrollmentStatus(strings.ToUpper(*req.Status))
	}
	page := req.Page
	if page < 1 {
		page = 1
	}
	size := req.PageSize
	if size <= 0 {
		size = 20
	}
	filter := models.EnrollmentFilter{
		CatechumenID: req.CatechumenID,
		GroupID:      req.GroupID,
		ParishID:     parishID,
		Status:       status,
		Active:       req.Active,
		FollowUp:     req.FollowUp,
		Page:         page,
		PageSize:     size,
		SortBy:       req.SortBy,
		SortOrder:    req.SortOrder,
	}
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return enrollments, pagination, nil
}

// Get returns the full enrollment view within scope.
func (s *EnrollmentService) Get(ctx context.Context, scope access.Scope, id string) (*EnrollmentView, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !scope.Allows(detail.ParishID) {
		return nil, appErrors.ErrForbidden
	}
	payments, err := s.repo.ListPayments(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payments")
	}
	grades, err := s.repo.ListGrades(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grades")
	}
	return &EnrollmentView{
		EnrollmentDetail: *detail,
		Payments:         payments,
		PaymentTotals:    models.ComputePaymentTotals(payments),
		Grades:           grades,
		Passed:           detail.Passed(),
	}, nil
}

// Create registers a catechumen into a group. The group must be active, have
// free capacity, and belong to the same parish as the catechumen; a live
// enrollment for the same pair is a conflict.
func (s *EnrollmentService) Create(ctx context.Context, scope access.Scope, registeredBy string, req CreateEnrollmentRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	catechumen, err := s.catechumens.FindByID(ctx, req.CatechumenID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "catechumen not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load catechumen")
	}
	if !catechumen.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "catechumen is inactive")
	}
	group, err := s.groups.FindByID(ctx, req.GroupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load group")
	}
	if !group.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "group is inactive")
	}
	if group.ParishID != catechumen.ParishID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "catechumen and group belong to different parishes")
	}
	if !scope.Allows(group.ParishID) {
		return nil, appErrors.ErrForbidden
	}

	exists, err := s.repo.ExistsActiveForCatechumenInGroup(ctx, req.CatechumenID, req.GroupID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing enrollment")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "catechumen already enrolled in this group")
	}

	// Zero capacity means the group is uncapped.
	if group.Capacity > 0 {
		active, err := s.groups.CountActiveEnrollments(ctx, req.GroupID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
		}
		if active >= group.Capacity {
			return nil, appErrors.ErrGroupFull
		}
	}

	enrollment := &models.Enrollment{
		CatechumenID: req.CatechumenID,
		GroupID:      req.GroupID,
		ParishID:     group.ParishID,
		Status:       models.EnrollmentStatusPending,
		Active:       true,
		RegisteredBy: &registeredBy,
	}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	s.refreshGroupStats(ctx, req.GroupID)
	s.logger.Info("enrollment created",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("catechumen_id", req.CatechumenID),
		zap.String("group_id", req.GroupID))
	return enrollment, nil
}

// UpdateDocuments updates the registration checklist flags.
func (s *EnrollmentService) UpdateDocuments(ctx context.Context, scope access.Scope, id string, req DocumentChecklistRequest) (*models.Enrollment, error) {
	enrollment, err := s.load(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if req.DocBirthCertificate != nil {
		enrollment.DocBirthCertificate = *req.DocBirthCertificate
	}
	if req.DocBaptismCertificate != nil {
		enrollment.DocBaptismCertificate = *req.DocBaptismCertificate
	}
	if req.DocGuardianConsent != nil {
		enrollment.DocGuardianConsent = *req.DocGuardianConsent
	}
	if req.CriteriaAgeValidated != nil {
		enrollment.CriteriaAgeValidated = *req.CriteriaAgeValidated
	}
	if req.CriteriaLevelValidated != nil {
		enrollment.CriteriaLevelValidated = *req.CriteriaLevelValidated
	}
	if err := s.repo.UpdateDocuments(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update checklist")
	}
	return enrollment, nil
}

// Approve stamps the approval once the checklist is complete and activates
// the enrollment: status ACTIVE, started now.
func (s *EnrollmentService) Approve(ctx context.Context, scope access.Scope, id, approverID string) (*models.Enrollment, error) {
	enrollment, err := s.load(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if enrollment.Approved {
		return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment already approved")
	}
	if enrollment.Status != models.EnrollmentStatusPending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "only pending enrollments can be approved")
	}
	if !enrollment.DocBirthCertificate || !enrollment.DocBaptismCertificate || !enrollment.DocGuardianConsent {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "document checklist incomplete")
	}
	if !enrollment.CriteriaAgeValidated || !enrollment.CriteriaLevelValidated {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "admission criteria not validated")
	}
	now := time.Now().UTC()
	if err := s.repo.Approve(ctx, id, approverID, now); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve enrollment")
	}
	enrollment.Approved = true
	enrollment.ApprovedAt = &now
	enrollment.ApprovedBy = &approverID
	enrollment.Status = models.EnrollmentStatusActive
	enrollment.Active = true
	enrollment.StartedAt = &now
	s.refreshGroupStats(ctx, enrollment.GroupID)
	s.metrics.RecordEnrollmentTransition(string(models.EnrollmentStatusActive))
	s.logger.Info("enrollment approved", zap.String("enrollment_id", id), zap.String("approved_by", approverID))
	return enrollment, nil
}

// ChangeStatus applies a lifecycle transition. Illegal transitions are
// conflicts; SUSPENDED and WITHDRAWN require a reason; activation requires a
// prior approval. Every transition leaves an administrative observation
// attributed to the acting user.
func (s *EnrollmentService) ChangeStatus(ctx context.Context, scope access.Scope, id, actorID string, req ChangeStatusRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	enrollment, err := s.load(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	next := models.EnrollmentStatus(strings.ToUpper(req.Status))
	if !enrollment.Status.CanTransitionTo(next) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			"cannot transition from "+string(enrollment.Status)+" to "+string(next))
	}
	if next.RequiresReason() && (req.Reason == nil || strings.TrimSpace(*req.Reason) == "") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a reason is required for this status")
	}
	if next == models.EnrollmentStatusActive && enrollment.Status == models.EnrollmentStatusPending && !enrollment.Approved {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment must be approved before activation")
	}

	now := time.Now().UTC()
	previous := enrollment.Status
	enrollment.Status = next
	enrollment.StatusReason = req.Reason
	enrollment.Active = !next.Deactivates()
	if next == models.EnrollmentStatusActive && enrollment.StartedAt == nil {
		enrollment.StartedAt = &now
	}
	if next == models.EnrollmentStatusCompleted || next == models.EnrollmentStatusWithdrawn {
		enrollment.EndedAt = &now
	}
	if err := s.repo.UpdateStatus(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to change status")
	}
	content := "Status changed from " + string(previous) + " to " + string(next)
	if req.Reason != nil && strings.TrimSpace(*req.Reason) != "" {
		content += ": " + strings.TrimSpace(*req.Reason)
	}
	observation := &models.EnrollmentObservation{
		EnrollmentID: id,
		AuthorID:     actorID,
		Type:         models.ObservationAdministrative,
		Content:      content,
	}
	if err := s.repo.AddObservation(ctx, observation); err != nil {
		s.logger.Warn("failed to record status observation", zap.String("enrollment_id", id), zap.Error(err))
	}
	s.refreshGroupStats(ctx, enrollment.GroupID)
	s.metrics.RecordEnrollmentTransition(string(next))
	s.logger.Info("enrollment status changed",
		zap.String("enrollment_id", id),
		zap.String("status", string(next)))
	return enrollment, nil
}

// RegisterPayment records a charge against the enrollment.
func (s *EnrollmentService) RegisterPayment(ctx context.Context, scope access.Scope, id string, req PaymentRequest) (*models.EnrollmentPayment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if _, err := s.load(ctx, scope, id); err != nil {
		return nil, err
	}
	concept := models.PaymentConcept(strings.ToUpper(req.Concept))
	label := req.Label
	if concept == models.PaymentConceptOther && strings.TrimSpace(label) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "label is required for OTHER payments")
	}
	if label == "" {
		label = string(concept)
	}
	payment := &models.EnrollmentPayment{
		EnrollmentID: id,
		Concept:      concept,
		Label:        label,
		Amount:       req.Amount,
		Paid:         req.Paid,
		Method:       req.Method,
		Receipt:      req.Receipt,
	}
	if req.Paid {
		now := time.Now().UTC()
		payment.PaidAt = &now
	}
	if concept.Fixed() {
		err := s.repo.UpsertFixedPayment(ctx, payment)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store payment")
		}
	} else if err := s.repo.AppendPayment(ctx, payment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store payment")
	}
	return payment, nil
}

// SettlePayment marks one payment entry as paid.
func (s *EnrollmentService) SettlePayment(ctx context.Context, scope access.Scope, id, paymentID string, req SettlePaymentRequest) (models.PaymentTotals, error) {
	if _, err := s.load(ctx, scope, id); err != nil {
		return models.PaymentTotals{}, err
	}
	now := time.Now().UTC()
	if err := s.repo.MarkPaymentPaid(ctx, id, paymentID, now, req.Method, req.Receipt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PaymentTotals{}, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return models.PaymentTotals{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to settle payment")
	}
	payments, err := s.repo.ListPayments(ctx, id)
	if err != nil {
		return models.PaymentTotals{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payments")
	}
	return models.ComputePaymentTotals(payments), nil
}

// PaymentTotals derives the payment state of an enrollment.
func (s *EnrollmentService) PaymentTotals(ctx context.Context, scope access.Scope, id string) (models.PaymentTotals, error) {
	if _, err := s.load(ctx, scope, id); err != nil {
		return models.PaymentTotals{}, err
	}
	payments, err := s.repo.ListPayments(ctx, id)
	if err != nil {
		return models.PaymentTotals{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payments")
	}
	return models.ComputePaymentTotals(payments), nil
}

// AddGrade records a graded item and recomputes the stored final score.
func (s *EnrollmentService) AddGrade(ctx context.Context, scope access.Scope, id string, req GradeRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}
	enrollment, err := s.load(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	grade := &models.EnrollmentGrade{
		EnrollmentID: id,
		Concept:      req.Concept,
		Score:        req.Score,
		Notes:        req.Notes,
	}
	if err := s.repo.AddGrade(ctx, grade); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store grade")
	}

	grades, err := s.repo.ListGrades(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grades")
	}
	final := models.ComputeFinalScore(grades)
	now := time.Now().UTC()
	var evaluatedAt *time.Time
	if final != nil {
		evaluatedAt = &now
	}
	if err := s.repo.UpdateEvaluation(ctx, id, final, evaluatedAt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store final score")
	}
	enrollment.FinalScore = final
	enrollment.EvaluatedAt = evaluatedAt
	return enrollment, nil
}

// Grades lists the graded items.
func (s *EnrollmentService) Grades(ctx context.Context, scope access.Scope, id string) ([]models.EnrollmentGrade, error) {
	if _, err := s.load(ctx, scope, id); err != nil {
		return nil, err
	}
	grades, err := s.repo.ListGrades(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grades")
	}
	return grades, nil
}

// AddObservation appends an authored note.
func (s *EnrollmentService) AddObservation(ctx context.Context, scope access.Scope, id, authorID string, req ObservationRequest) (*models.EnrollmentObservation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid observation payload")
	}
	if _, err := s.load(ctx, scope, id); err != nil {
		return nil, err
	}
	observation := &models.EnrollmentObservation{
		EnrollmentID: id,
		AuthorID:     authorID,
		Type:         models.ObservationType(strings.ToUpper(req.Type)),
		Content:      req.Content,
		Private:      req.Private,
	}
	if err := s.repo.AddObservation(ctx, observation); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store observation")
	}
	return observation, nil
}

// Observations lists the notes of an enrollment.
func (s *EnrollmentService) Observations(ctx context.Context, scope access.Scope, id string, includePrivate bool) ([]models.EnrollmentObservation, error) {
	if _, err := s.load(ctx, scope, id); err != nil {
		return nil, err
	}
	observations, err := s.repo.ListObservations(ctx, id, includePrivate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load observations")
	}
	return observations, nil
}

// SetFollowUp flags or clears pastoral follow-up.
func (s *EnrollmentService) SetFollowUp(ctx context.Context, scope access.Scope, id string, req FollowUpRequest) error {
	if _, err := s.load(ctx, scope, id); err != nil {
		return err
	}
	if req.FollowUp && (req.Reason == nil || strings.TrimSpace(*req.Reason) == "") {
		return appErrors.Clone(appErrors.ErrValidation, "a reason is required to flag follow-up")
	}
	if err := s.repo.UpdateFollowUp(ctx, id, req.FollowUp, req.Reason, req.Assignee); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update follow-up")
	}
	return nil
}

// Delete removes an enrollment that has no attendance history.
func (s *EnrollmentService) Delete(ctx context.Context, scope access.Scope, id string) error {
	enrollment, err := s.load(ctx, scope, id)
	if err != nil {
		return err
	}
	hasAttendance, err := s.repo.HasAttendance(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check attendance")
	}
	if hasAttendance {
		return appErrors.Clone(appErrors.ErrConflict, "enrollment has attendance history")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete enrollment")
	}
	s.refreshGroupStats(ctx, enrollment.GroupID)
	s.logger.Info("enrollment deleted", zap.String("enrollment_id", id))
	return nil
}

func (s *EnrollmentService) load(ctx context.Context, scope access.Scope, id string) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !scope.Allows(enrollment.ParishID) {
		return nil, appErrors.ErrForbidden
	}
	return enrollment, nil
}

// Group stats are derived data; a failed refresh is logged, not surfaced.
func (s *EnrollmentService) refreshGroupStats(ctx context.Context, groupID string) {
	if err := s.groups.RefreshStats(ctx, groupID); err != nil {
		s.logger.Warn("failed to refresh group stats", zap.String("group_id", groupID), zap.Error(err))
	}
}
