package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parroquia-tech/catequesis-api/internal/access"
	"github.com/parroquia-tech/catequesis-api/internal/models"
	appErrors "github.com/parroquia-tech/catequesis-api/pkg/errors"
)

type mockEnrollmentRepo struct {
	enrollments  map[string]*models.Enrollment
	payments     map[string][]models.EnrollmentPayment
	grades       map[string][]models.EnrollmentGrade
	observations map[string][]models.EnrollmentObservation
	existing     bool
	attendance   bool
	deleted      []string
	evaluations  map[string]*float64
}

func newMockEnrollmentRepo() *mockEnrollmentRepo {
	return &mockEnrollmentRepo{
		enrollments:  map[string]*models.Enrollment{},
		payments:     map[string][]models.EnrollmentPayment{},
		grades:       map[string][]models.EnrollmentGrade{},
		observations: map[string][]models.EnrollmentObservation{},
		evaluations:  map[string]*float64{},
	}
}

func (m *mockEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return nil, 0, nil
}

func (m *mockEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		copied := *e
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	e, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.EnrollmentDetail{Enrollment: *e}, nil
}

func (m *mockEnrollmentRepo) ExistsActiveForCatechumenInGroup(ctx context.Context, catechumenID, groupID string) (bool, error) {
	return m.existing, nil
}

func (m *mockEnrollmentRepo) Create(ctx context.Context, enrollment *models.Enrollment) error {
	enrollment.ID = "enr-new"
	enrollment.EnrolledAt = time.Now()
	m.enrollments[enrollment.ID] = enrollment
	return nil
}

func (m *mockEnrollmentRepo) UpdateDocuments(ctx context.Context, enrollment *models.Enrollment) error {
	m.enrollments[enrollment.ID] = enrollment
	return nil
}

func (m *mockEnrollmentRepo) UpdateStatus(ctx context.Context, enrollment *models.Enrollment) error {
	m.enrollments[enrollment.ID] = enrollment
	return nil
}

func (m *mockEnrollmentRepo) Approve(ctx context.Context, id, approverID string, at time.Time) error {
	e := m.enrollments[id]
	e.Approved = true
	e.ApprovedAt = &at
	e.ApprovedBy = &approverID
	e.Status = models.EnrollmentStatusActive
	e.Active = true
	e.StartedAt = &at
	return nil
}

func (m *mockEnrollmentRepo) UpdateEvaluation(ctx context.Context, id string, finalScore *float64, evaluatedAt *time.Time) error {
	m.evaluations[id] = finalScore
	return nil
}

func (m *mockEnrollmentRepo) UpdateFollowUp(ctx context.Context, id string, followUp bool, reason, assignee *string) error {
	e := m.enrollments[id]
	e.FollowUp = followUp
	e.FollowUpReason = reason
	e.FollowUpAssignee = assignee
	return nil
}

func (m *mockEnrollmentRepo) HasAttendance(ctx context.Context, id string) (bool, error) {
	return m.attendance, nil
}

func (m *mockEnrollmentRepo) Delete(ctx context.Context, id string) error {
	delete(m.enrollments, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockEnrollmentRepo) ListPayments(ctx context.Context, enrollmentID string) ([]models.EnrollmentPayment, error) {
	return m.payments[enrollmentID], nil
}

func (m *mockEnrollmentRepo) UpsertFixedPayment(ctx context.Context, payment *models.EnrollmentPayment) error {
	for i, p := range m.payments[payment.EnrollmentID] {
		if p.Concept == payment.Concept {
			payment.ID = p.ID
			m.payments[payment.EnrollmentID][i] = *payment
			return nil
		}
	}
	payment.ID = "pay-" + string(payment.Concept)
	m.payments[payment.EnrollmentID] = append(m.payments[payment.EnrollmentID], *payment)
	return nil
}

func (m *mockEnrollmentRepo) AppendPayment(ctx context.Context, payment *models.EnrollmentPayment) error {
	payment.ID = "pay-other"
	m.payments[payment.EnrollmentID] = append(m.payments[payment.EnrollmentID], *payment)
	return nil
}

func (m *mockEnrollmentRepo) MarkPaymentPaid(ctx context.Context, enrollmentID, paymentID string, paidAt time.Time, method, receipt *string) error {
	for i, p := range m.payments[enrollmentID] {
		if p.ID == paymentID {
			p.Paid = true
			p.PaidAt = &paidAt
			m.payments[enrollmentID][i] = p
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *mockEnrollmentRepo) ListGrades(ctx context.Context, enrollmentID string) ([]models.EnrollmentGrade, error) {
	return m.grades[enrollmentID], nil
}

func (m *mockEnrollmentRepo) AddGrade(ctx context.Context, grade *models.EnrollmentGrade) error {
	grade.ID = "grd-new"
	m.grades[grade.EnrollmentID] = append(m.grades[grade.EnrollmentID], *grade)
	return nil
}

func (m *mockEnrollmentRepo) ListObservations(ctx context.Context, enrollmentID string, includePrivate bool) ([]models.EnrollmentObservation, error) {
	return m.observations[enrollmentID], nil
}

func (m *mockEnrollmentRepo) AddObservation(ctx context.Context, observation *models.EnrollmentObservation) error {
	observation.ID = "obs-new"
	m.observations[observation.EnrollmentID] = append(m.observations[observation.EnrollmentID], *observation)
	return nil
}

type mockGroupLookup struct {
	groups      map[string]*models.Group
	activeCount int
	refreshed   []string
}

func (m *mockGroupLookup) FindByID(ctx context.Context, id string) (*models.Group, error) {
	if g, ok := m.groups[id]; ok {
		return g, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockGroupLookup) CountActiveEnrollments(ctx context.Context, groupID string) (int, error) {
	return m.activeCount, nil
}

func (m *mockGroupLookup) RefreshStats(ctx context.Context, groupID string) error {
	m.refreshed = append(m.refreshed, groupID)
	return nil
}

type mockCatechumenLookup struct {
	catechumens map[string]*models.Catechumen
}

func (m *mockCatechumenLookup) FindByID(ctx context.Context, id string) (*models.Catechumen, error) {
	if c, ok := m.catechumens[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

func adminScope() access.Scope {
	return access.Scope{AllParishes: true}
}

func newEnrollmentFixture() (*EnrollmentService, *mockEnrollmentRepo, *mockGroupLookup, *mockCatechumenLookup) {
	repo := newMockEnrollmentRepo()
	groups := &mockGroupLookup{groups: map[string]*models.Group{
		"grp-1": {ID: "grp-1", ParishID: "par-1", LevelID: "lvl-1", Capacity: 10, Active: true},
	}}
	catechumens := &mockCatechumenLookup{catechumens: map[string]*models.Catechumen{
		"cat-1": {ID: "cat-1", ParishID: "par-1", FirstName: "Ana", LastName: "Lopez", Active: true},
	}}
	svc := NewEnrollmentService(repo, groups, catechumens, nil, nil, zap.NewNop())
	return svc, repo, groups, catechumens
}

func TestEnrollmentCreate(t *testing.T) {
	svc, _, groups, _ := newEnrollmentFixture()

	enrollment, err := svc.Create(context.Background(), adminScope(), "usr-1", CreateEnrollmentRequest{
		CatechumenID: "cat-1",
		GroupID:      "grp-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusPending, enrollment.Status)
	assert.True(t, enrollment.Active)
	assert.Equal(t, "par-1", enrollment.ParishID)
	require.NotNil(t, enrollment.RegisteredBy)
	assert.Equal(t, "usr-1", *enrollment.RegisteredBy)
	assert.Contains(t, groups.refreshed, "grp-1")
}

func TestEnrollmentCreateGroupFull(t *testing.T) {
	svc, _, groups, _ := newEnrollmentFixture()
	groups.groups["grp-1"].Capacity = 10
	groups.activeCount = 10

	_, err := svc.Create(context.Background(), adminScope(), "usr-1", CreateEnrollmentRequest{
		CatechumenID: "cat-1",
		GroupID:      "grp-1",
	})
	require.Error(t, err)
	var typed *appErrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrGroupFull.Code, typed.Code)
}

func TestEnrollmentCreateLastSlot(t *testing.T) {
	svc, _, groups, _ := newEnrollmentFixture()
	groups.groups["grp-1"].Capacity = 10
	groups.activeCount = 9

	_, err := svc.Create(context.Background(), adminScope(), "usr-1", CreateEnrollmentRequest{
		CatechumenID: "cat-1",
		GroupID:      "grp-1",
	})
	require.NoError(t, err)
}

func TestEnrollmentCreateDuplicate(t *testing.T) {
	svc, repo, _, _ := newEnrollmentFixture()
	repo.existing = true

	_, err := svc.Create(context.Background(), adminScope(), "usr-1", CreateEnrollmentRequest{
		CatechumenID: "cat-1",
		GroupID:      "grp-1",
	})
	var typed *appErrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrConflict.Code, typed.Code)
}

func TestEnrollmentCreateCrossParish(t *testing.T) {
	svc, _, _, catechumens := newEnrollmentFixture()
	catechumens.catechumens["cat-1"].ParishID = "par-2"

	_, err := svc.Create(context.Background(), adminScope(), "usr-1", CreateEnrollmentRequest{
		CatechumenID: "cat-1",
		GroupID:      "grp-1",
	})
	var typed *appErrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrValidation.Code, typed.Code)
}

func TestEnrollmentCreateOutOfScope(t *testing.T) {
	svc, _, _, _ := newEnrollmentFixture()

	_, err := svc.Create(context.Background(), access.Scope{ParishID: "par-9"}, "usr-1", CreateEnrollmentRequest{
		CatechumenID: "cat-1",
		GroupID:      "grp-1",
	})
	var typed *appErrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrForbidden.Code, typed.Code)
}

func seedEnrollment(repo *mockEnrollmentRepo, status models.EnrollmentStatus, approved bool) *models.Enrollment {
	e := &models.Enrollment{
		ID:           "enr-1",
		CatechumenID: "cat-1",
		GroupID:      "grp-1",
		ParishID:     "par-1",
		Status:       status,
		Active:       status == models.EnrollmentStatusPending || status == models.EnrollmentStatusActive,
		Approved:     approved,
	}
	repo.enrollments[e.ID] = e
	return e
}

func TestEnrollmentActivateRequiresApproval(t *testing.T) {
	svc, repo, _, _ := newEnrollmentFixture()
	seedEnrollment(repo, models.EnrollmentStatusPending, false)

	_, err := svc.ChangeStatus(context.Background(), adminScope(), "enr-1", "usr-1", ChangeStatusRequest{Status: "ACTIVE"})
	var typed *appErrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, typed.Code)
}

func TestEnrollmentActivate(t *testing.T) {
	svc, repo, groups, _ := newEnrollmentFixture()
	seedEnrollment(repo, models.EnrollmentStatusPending, true)

	enrollment, err := svc.ChangeStatus(context.Background(), adminScope(), "enr-1", "usr-1", ChangeStatusRequest{Status: "ACTIVE"})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	assert.True(t, enrollment.Active)
	assert.NotNil(t, enrollment.StartedAt)
	assert.Nil(t, enrollment.EndedAt)
	assert.Contains(t, groups.refreshed, "grp-1")
}

func TestEnrollmentSuspendRequiresReason(t *testing.T) {
	svc, repo, _, _ := newEnrollmentFixture()
	seedEnrollment(repo, models.EnrollmentStatusActive, true)

	_, err := svc.ChangeStatus(context.Background(), adminScope(), "enr-1", "usr-1", ChangeStatusRequest{Status: "SUSPENDED"})
	var typed *appErrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrValidation.Code, typed.Code)

	reason := "family moved away"
	enrollment, err := svc.ChangeStatus(context.Background(), adminScope(), "enr-1", "usr-1", ChangeStatusRequest{Status: "SUSPENDED", Reason: &reason})
	require.NoError(t, err)
	assert.False(t, enrollment.Active)
	assert.Equal(t, models.EnrollmentStatusSuspended, enrollment.Status)
}

func TestEnrollmentComplete(t *testing.T) {
	svc, repo, _, _ := newEnrollmentFixture()
	seedEnrollment(repo, models.EnrollmentStatusActive, true)

	enrollment, err := svc.ChangeStatus(context.Background(), adminScope(), "enr-1", "usr-1", ChangeStatusRequest{Status: "COMPLETED"})
	require.NoError(t, err)
	assert.False(t, enrollment.Active)
	assert.NotNil(t, enrollment.EndedAt)
}

func TestEnrollmentTerminalStatusRejectsTransitions(t *testing.T) {
	svc, repo, _, _ := newEnrollmentFixture()
	seedEnrollment(repo, models.EnrollmentStatusCompleted, true)

	_, err := svc.ChangeStatus(context.Background(), adminScope(), "enr-1", "usr-1", ChangeStatusRequest{Status: "ACTIVE"})
	var typed *appErrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, typed.Code)
	assert.Equal(t, 409, typed.Status)
}

func TestEnrollmentApprove(t *testing.T) {
	svc, repo, _, _ := newEnrollmentFixture()
	e := seedEnrollment(repo, models.EnrollmentStatusPending, false)

	_, err := svc.Approve(context.Background(), adminScope(), "enr-1", "usr-2")
	var typed *appErrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, typed.Code)

	e.DocBirthCertificate = true
	e.DocBaptismCertificate = true
	e.DocGuardianConsent = true
	e.CriteriaAgeValidated = true
	e.CriteriaLevelValidated = true

	enrollment, err := svc.Approve(context.Background(), adminScope(), "enr-1", "usr-2")
	require.NoError(t, err)
	assert.True(t, enrollment.Approved)
	require.NotNil(t, enrollment.ApprovedBy)
	assert.Equal(t, "usr-2", *enrollment.ApprovedBy)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	assert.True(t, enrollment.Active)
	require.NotNil(t, enrollment.StartedAt)

	stored := repo.enrollments["enr-1"]
	assert.Equal(t, models.EnrollmentStatusActive, stored.Status)
	assert.True(t, stored.Active)
	require.NotNil(t, stored.StartedAt)

	_, err = svc.Approve(context.Background(), adminScope(), "enr-1", "usr-2")
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrConflict.Code, typed.Code)
}

func TestEnrollmentApproveActivatesAndRefreshesGroup(t *testing.T) {
	svc, repo, groups, _ := newEnrollmentFixture()
	e := seedEnrollment(repo, models.EnrollmentStatusPending, false)
	e.DocBirthCertificate = true
	e.DocBaptismCertificate = true
	e.DocGuardianConsent = true
	e.CriteriaAgeValidated = true
	e.CriteriaLevelValidated = true

	enrollment, err := svc.Approve(context.Background(), adminScope(), "enr-1", "usr-2")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	assert.True(t, enrollment.Active)
	require.NotNil(t, enrollment.StartedAt)
	assert.Contains(t, groups.refreshed, "grp-1")
}

func TestEnrollmentApproveRejectsNonPending(t *testing.T) {
	svc, repo, _, _ := newEnrollmentFixture()
	e := seedEnrollment(repo, models.EnrollmentStatusSuspended, false)
	e.DocBirthCertificate = true
	e.DocBaptismCertificate = true
	e.DocGuardianConsent = true
	e.CriteriaAgeValidated = true
	e.CriteriaLevelValidated = true

	_, err := svc.Approve(context.Background(), adminScope(), "enr-1", "usr-2")
	var typed *appErrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrConflict.Code, typed.Code)
}

func TestEnrollmentStatusChangeRecordsObservation(t *testing.T) {
	svc, repo, _, _ := newEnrollmentFixture()
	seedEnrollment(repo, models.EnrollmentStatusActive, true)

	reason := "family moved away"
	_, err := svc.ChangeStatus(context.Background(), adminScope(), "enr-1", "usr-3", ChangeStatusRequest{Status: "WITHDRAWN", Reason: &reason})
	require.NoError(t, err)

	observations := repo.observations["enr-1"]
	require.Len(t, observations, 1)
	assert.Equal(t, models.ObservationAdministrative, observations[0].Type)
	assert.Equal(t, "usr-3", observations[0].AuthorID)
	assert.Equal(t, "Status changed from ACTIVE to WITHDRAWN: family moved away", observations[0].Content)
}

func TestRegisterPaymentOtherRequiresLabel(t *testing.T) {
	svc, repo, _, _ := newEnrollmentFixture()
	seedEnrollment(repo, models.EnrollmentStatusActive, true)

	_, err := svc.RegisterPayment(context.Background(), adminScope(), "enr-1", PaymentRequest{
		Concept: "OTHER",
		Amount:  5,
	})
	var typed *appErrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrValidation.Code, typed.Code)
}

func TestRegisterFixedPaymentOverwrites(t *testing.T) {
	svc, repo, _, _ := newEnrollmentFixture()
	seedEnrollment(repo, models.EnrollmentStatusActive, true)

	_, err := svc.RegisterPayment(context.Background(), adminScope(), "enr-1", PaymentRequest{
		Concept: "REGISTRATION", Amount: 20,
	})
	require.NoError(t, err)
	_, err = svc.RegisterPayment(context.Background(), adminScope(), "enr-1", PaymentRequest{
		Concept: "REGISTRATION", Amount: 25, Paid: true,
	})
	require.NoError(t, err)

	totals, err := svc.PaymentTotals(context.Background(), adminScope(), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, 1, totals.EntryCount)
	assert.Equal(t, 25.0, totals.TotalDue)
	assert.Equal(t, 25.0, totals.TotalPaid)
	assert.True(t, totals.FullyPaid)
}

func TestSettlePaymentTotals(t *testing.T) {
	svc, repo, _, _ := newEnrollmentFixture()
	seedEnrollment(repo, models.EnrollmentStatusActive, true)
	repo.payments["enr-1"] = []models.EnrollmentPayment{
		{ID: "pay-reg", EnrollmentID: "enr-1", Concept: models.PaymentConceptRegistration, Amount: 25, Paid: true},
		{ID: "pay-mat", EnrollmentID: "enr-1", Concept: models.PaymentConceptMaterials, Amount: 15},
	}

	totals, err := svc.SettlePayment(context.Background(), adminScope(), "enr-1", "pay-mat", SettlePaymentRequest{})
	require.NoError(t, err)
	assert.Equal(t, 40.0, totals.TotalDue)
	assert.Equal(t, 40.0, totals.TotalPaid)
	assert.Equal(t, 0.0, totals.Pending)
	assert.True(t, totals.FullyPaid)
}

func TestSettlePaymentNotFound(t *testing.T) {
	svc, repo, _, _ := newEnrollmentFixture()
	seedEnrollment(repo, models.EnrollmentStatusActive, true)

	_, err := svc.SettlePayment(context.Background(), adminScope(), "enr-1", "pay-missing", SettlePaymentRequest{})
	var typed *appErrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrNotFound.Code, typed.Code)
}

func TestAddGradeRecomputesFinalScore(t *testing.T) {
	svc, repo, _, _ := newEnrollmentFixture()
	seedEnrollment(repo, models.EnrollmentStatusActive, true)
	repo.grades["enr-1"] = []models.EnrollmentGrade{
		{EnrollmentID: "enr-1", Concept: "exam 1", Score: 80},
		{EnrollmentID: "enr-1", Concept: "exam 2", Score: 90},
	}

	enrollment, err := svc.AddGrade(context.Background(), adminScope(), "enr-1", GradeRequest{
		Concept: "final exam", Score: 70,
	})
	require.NoError(t, err)
	require.NotNil(t, enrollment.FinalScore)
	assert.Equal(t, 80.0, *enrollment.FinalScore)
	assert.NotNil(t, enrollment.EvaluatedAt)
	require.Contains(t, repo.evaluations, "enr-1")
	assert.Equal(t, 80.0, *repo.evaluations["enr-1"])
}

func TestDeleteEnrollmentWithAttendance(t *testing.T) {
	svc, repo, _, _ := newEnrollmentFixture()
	seedEnrollment(repo, models.EnrollmentStatusActive, true)
	repo.attendance = true

	err := svc.Delete(context.Background(), adminScope(), "enr-1")
	var typed *appErrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrConflict.Code, typed.Code)

	repo.attendance = false
	require.NoError(t, svc.Delete(context.Background(), adminScope(), "enr-1"))
	assert.Contains(t, repo.deleted, "enr-1")
}

func TestSetFollowUpRequiresReason(t *testing.T) {
	svc, repo, _, _ := newEnrollmentFixture()
	seedEnrollment(repo, models.EnrollmentStatusActive, true)

	err := svc.SetFollowUp(context.Background(), adminScope(), "enr-1", FollowUpRequest{FollowUp: true})
	var typed *appErrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrValidation.Code, typed.Code)

	reason := "repeated absences"
	require.NoError(t, svc.SetFollowUp(context.Background(), adminScope(), "enr-1", FollowUpRequest{FollowUp: true, Reason: &reason}))
	assert.True(t, repo.enrollments["enr-1"].FollowUp)
}
