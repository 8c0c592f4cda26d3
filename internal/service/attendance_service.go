package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/parroquia-tech/catequesis-api/internal/access"
	"github.com/parroquia-tech/catequesis-api/internal/models"
	"github.com/parroquia-tech/catequesis-api/internal/repository"
	appErrors "github.com/parroquia-tech/catequesis-api/pkg/errors"
)

type attendanceRepository interface {
	Create(ctx context.Context, attendance *models.Attendance) error
	FindByID(ctx context.Context, id string) (*models.Attendance, error)
	ExistsForDay(ctx context.Context, enrollmentID string, date time.Time) (bool, error)
	List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int, error)
	Update(ctx context.Context, attendance *models.Attendance) error
	Delete(ctx context.Context, id string) error
	SummaryForEnrollment(ctx context.Context, enrollmentID string) (*models.AttendanceSummary, error)
	GroupStats(ctx context.Context, groupID string, from, to *time.Time) (*models.GroupAttendanceStats, error)
	ParishStats(ctx context.Context, parishID string, from, to *time.Time) (*models.GroupAttendanceStats, error)
	ListPendingNotifications(ctx context.Context, parishID string, window time.Duration, now time.Time) ([]models.AttendanceRecord, error)
	MarkNotified(ctx context.Context, ids []string, at time.Time) error
	MarkReminderSent(ctx context.Context, id string, at time.Time) error
	ListTasks(ctx context.Context, attendanceID string) ([]models.AttendanceTask, error)
	AddTask(ctx context.Context, task *models.AttendanceTask) error
	UpdateTask(ctx context.Context, task *models.AttendanceTask) error
}

type attendanceEnrollmentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	UpdateRollup(ctx context.Context, id string, total, present int, percent float64) error
}

type attendanceGroupRepository interface {
	FindByID(ctx context.Context, id string) (*models.Group, error)
	IsCatechistAssigned(ctx context.Context, groupID, userID string) (bool, error)
	RefreshStats(ctx context.Context, groupID string) error
}

type statsCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// AttendanceService records per-date attendance and maintains the derived
// per-enrollment and per-group aggregates. Every successful write is followed
// by an explicit roll-up recompute; there are no persistence-side hooks.
type AttendanceService struct {
	repo        attendanceRepository
	enrollments attendanceEnrollmentRepository
	groups      attendanceGroupRepository
	cache       statsCache
	cacheTTL    time.Duration
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewAttendanceService constructs the attendance service. A nil cache
// disables stats caching; a nil metrics service disables instrumentation.
func NewAttendanceService(repo attendanceRepository, enrollments attendanceEnrollmentRepository, groups attendanceGroupRepository, cache statsCache, cacheTTL time.Duration, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	svc := &AttendanceService{
		repo:        repo,
		enrollments: enrollments,
		groups:      groups,
		cache:       cache,
		cacheTTL:    cacheTTL,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
	}
	svc.validator.RegisterValidation("class_type", func(fl validator.FieldLevel) bool {
		return models.ClassType(strings.ToUpper(fl.Field().String())).Valid()
	})
	return svc
}

// RecordAttendanceRequest is the payload for a single attendance record.
type RecordAttendanceRequest struct {
	EnrollmentID       string  `json:"enrollment_id" validate:"required"`
	Date               string  `json:"date" validate:"required"`
	Present            bool    `json:"present"`
	ClassType          string  `json:"class_type" validate:"omitempty,class_type"`
	Topic              *string `json:"topic"`
	ArrivalTime        *string `json:"arrival_time"`
	DepartureTime      *string `json:"departure_time"`
	Late               bool    `json:"late"`
	EarlyLeave         bool    `json:"early_leave"`
	AbsenceReason      *string `json:"absence_reason"`
	Justified          bool    `json:"justified"`
	Participated       bool    `json:"participated"`
	ParticipationLevel *string `json:"participation_level"`
	Behavior           *string `json:"behavior"`
	Notes              *string `json:"notes"`
}

// BulkAttendanceItem is one entry of a group roll call.
type BulkAttendanceItem struct {
	EnrollmentID  string  `json:"enrollment_id" validate:"required"`
	Present       bool    `json:"present"`
	AbsenceReason *string `json:"absence_reason"`
	Justified     bool    `json:"justified"`
	Notes         *string `json:"notes"`
}

// BulkRecordRequest records a whole group session at once.
type BulkRecordRequest struct {
	Date      string               `json:"date" validate:"required"`
	ClassType string               `json:"class_type" validate:"omitempty,class_type"`
	Topic     *string              `json:"topic"`
	Items     []BulkAttendanceItem `json:"items" validate:"required,min=1,dive"`
}

// BulkRecordResult summarises a bulk write.
type BulkRecordResult struct {
	Processed int `json:"processed"`
	Success   int `json:"success"`
}

// UpdateAttendanceRequest mutates an existing record.
type UpdateAttendanceRequest struct {
	Present            *bool   `json:"present"`
	ClassType          *string `json:"class_type" validate:"omitempty,class_type"`
	Topic              *string `json:"topic"`
	ArrivalTime        *string `json:"arrival_time"`
	DepartureTime      *string `json:"departure_time"`
	Late               *bool   `json:"late"`
	EarlyLeave         *bool   `json:"early_leave"`
	AbsenceReason      *string `json:"absence_reason"`
	Justified          *bool   `json:"justified"`
	Participated       *bool   `json:"participated"`
	ParticipationLevel *string `json:"participation_level"`
	Behavior           *string `json:"behavior"`
	Notes              *string `json:"notes"`
}

// AttendanceListRequest filters the attendance listing.
type AttendanceListRequest struct {
	EnrollmentID string  `json:"enrollment_id"`
	GroupID      string  `json:"group_id"`
	ParishID     string  `json:"parish_id"`
	Present      *bool   `json:"present"`
	ClassType    *string `json:"class_type" validate:"omitempty,class_type"`
	DateFrom     *string `json:"date_from"`
	DateTo       *string `json:"date_to"`
	Page         int     `json:"page"`
	PageSize     int     `json:"page_size"`
	SortBy       string  `json:"sort_by"`
	SortOrder    string  `json:"sort_order"`
}

// TaskRequest attaches a follow-up task to an attendance record.
type TaskRequest struct {
	Description string   `json:"description" validate:"required"`
	Delivered   bool     `json:"delivered"`
	Score       *float64 `json:"score" validate:"omitempty,gte=0,lte=100"`
	Notes       *string  `json:"notes"`
}

// Record stores one attendance entry and recomputes the enrollment roll-up.
// A second record for the same enrollment and calendar day is a conflict.
func (s *AttendanceService) Record(ctx context.Context, scope access.Scope, recorder *models.JWTClaims, req RecordAttendanceRequest) (*models.Attendance, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}
	enrollment, err := s.authorizeEnrollment(ctx, scope, recorder, req.EnrollmentID)
	if err != nil {
		return nil, err
	}

	classType := models.ClassTypeRegular
	if req.ClassType != "" {
		classType = models.ClassType(strings.ToUpper(req.ClassType))
	}
	attendance := &models.Attendance{
		EnrollmentID:       req.EnrollmentID,
		Date:               date,
		Present:            req.Present,
		ClassType:          classType,
		Topic:              req.Topic,
		ArrivalTime:        req.ArrivalTime,
		DepartureTime:      req.DepartureTime,
		Late:               req.Late,
		EarlyLeave:         req.EarlyLeave,
		AbsenceReason:      req.AbsenceReason,
		Justified:          req.Justified || (!req.Present && hasReason(req.AbsenceReason)),
		Participated:       req.Participated,
		ParticipationLevel: req.ParticipationLevel,
		Behavior:           req.Behavior,
		Notes:              req.Notes,
		RecordedBy:         recorder.UserID,
	}
	if err := checkAttendanceInvariants(attendance, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, attendance); err != nil {
		if errors.Is(err, repository.ErrDuplicateAttendance) {
			s.metrics.RecordAttendanceWrite("conflict")
			return nil, appErrors.Clone(appErrors.ErrConflict, "attendance already recorded for this date")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attendance")
	}
	s.metrics.RecordAttendanceWrite("recorded")

	s.recompute(ctx, enrollment)
	return attendance, nil
}

// BulkRecord stores a whole group session. Every entry is checked before any
// write: an entry outside the group or already recorded for the date rejects
// the whole request, so a retried roll call never half-lands.
func (s *AttendanceService) BulkRecord(ctx context.Context, scope access.Scope, recorder *models.JWTClaims, groupID string, req BulkRecordRequest) (*BulkRecordResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk payload")
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}
	group, err := s.groups.FindByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load group")
	}
	if !scope.Allows(group.ParishID) {
		return nil, appErrors.ErrForbidden
	}
	if err := s.requireCatechistAssignment(ctx, recorder, groupID); err != nil {
		return nil, err
	}

	classType := models.ClassTypeRegular
	if req.ClassType != "" {
		classType = models.ClassType(strings.ToUpper(req.ClassType))
	}

	now := time.Now().UTC()
	seen := map[string]struct{}{}
	records := make([]*models.Attendance, 0, len(req.Items))
	for _, item := range req.Items {
		if _, ok := seen[item.EnrollmentID]; ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, "duplicate enrollment in payload: "+item.EnrollmentID)
		}
		seen[item.EnrollmentID] = struct{}{}

		enrollment, err := s.enrollments.FindByID(ctx, item.EnrollmentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found: "+item.EnrollmentID)
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
		}
		if enrollment.GroupID != groupID {
			return nil, appErrors.Clone(appErrors.ErrValidation, "enrollment belongs to another group: "+item.EnrollmentID)
		}
		if !enrollment.Active {
			return nil, appErrors.Clone(appErrors.ErrValidation, "enrollment not active: "+item.EnrollmentID)
		}
		exists, err := s.repo.ExistsForDay(ctx, item.EnrollmentID, date)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check attendance")
		}
		if exists {
			s.metrics.RecordAttendanceWrite("conflict")
			return nil, appErrors.Clone(appErrors.ErrConflict, "attendance already recorded for this date: "+item.EnrollmentID)
		}

		attendance := &models.Attendance{
			EnrollmentID:  item.EnrollmentID,
			Date:          date,
			Present:       item.Present,
			ClassType:     classType,
			Topic:         req.Topic,
			AbsenceReason: item.AbsenceReason,
			Justified:     item.Justified || (!item.Present && hasReason(item.AbsenceReason)),
			Notes:         item.Notes,
			RecordedBy:    recorder.UserID,
		}
		if err := checkAttendanceInvariants(attendance, now); err != nil {
			return nil, err
		}
		records = append(records, attendance)
	}

	result := &BulkRecordResult{Processed: len(req.Items)}
	for _, attendance := range records {
		if err := s.repo.Create(ctx, attendance); err != nil {
			// Concurrent writer won the (enrollment, date) row between the
			// pre-check and the insert.
			if errors.Is(err, repository.ErrDuplicateAttendance) {
				s.metrics.RecordAttendanceWrite("conflict")
				return nil, appErrors.Clone(appErrors.ErrConflict, "attendance already recorded for this date: "+attendance.EnrollmentID)
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attendance")
		}
		s.metrics.RecordAttendanceWrite("recorded")
		result.Success++
	}

	for _, attendance := range records {
		s.recomputeRollup(ctx, attendance.EnrollmentID)
	}
	if len(records) > 0 {
		s.refreshGroup(ctx, groupID, group.ParishID)
	}
	return result, nil
}

// Update mutates one record and recomputes the roll-up.
func (s *AttendanceService) Update(ctx context.Context, scope access.Scope, recorder *models.JWTClaims, id string, req UpdateAttendanceRequest) (*models.Attendance, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}
	attendance, enrollment, err := s.loadRecord(ctx, scope, recorder, id)
	if err != nil {
		return nil, err
	}
	if req.Present != nil {
		attendance.Present = *req.Present
	}
	if req.ClassType != nil {
		attendance.ClassType = models.ClassType(strings.ToUpper(*req.ClassType))
	}
	if req.Topic != nil {
		attendance.Topic = req.Topic
	}
	if req.ArrivalTime != nil {
		attendance.ArrivalTime = req.ArrivalTime
	}
	if req.DepartureTime != nil {
		attendance.DepartureTime = req.DepartureTime
	}
	if req.Late != nil {
		attendance.Late = *req.Late
	}
	if req.EarlyLeave != nil {
		attendance.EarlyLeave = *req.EarlyLeave
	}
	if req.AbsenceReason != nil {
		attendance.AbsenceReason = req.AbsenceReason
	}
	if req.Justified != nil {
		attendance.Justified = *req.Justified
	}
	if req.Participated != nil {
		attendance.Participated = *req.Participated
	}
	if req.ParticipationLevel != nil {
		attendance.ParticipationLevel = req.ParticipationLevel
	}
	if req.Behavior != nil {
		attendance.Behavior = req.Behavior
	}
	if req.Notes != nil {
		attendance.Notes = req.Notes
	}
	if req.Justified == nil && !attendance.Present && hasReason(attendance.AbsenceReason) {
		attendance.Justified = true
	}
	if err := checkAttendanceInvariants(attendance, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, attendance); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update attendance")
	}
	s.recompute(ctx, enrollment)
	return attendance, nil
}

// Delete removes one record and recomputes the roll-up.
func (s *AttendanceService) Delete(ctx context.Context, scope access.Scope, recorder *models.JWTClaims, id string) error {
	_, enrollment, err := s.loadRecord(ctx, scope, recorder, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "attendance not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete attendance")
	}
	s.recompute(ctx, enrollment)
	return nil
}

// List returns attendance records within the caller's scope.
func (s *AttendanceService) List(ctx context.Context, scope access.Scope, req AttendanceListRequest) ([]models.AttendanceRecord, *models.Pagination, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid filter")
	}
	parishID := req.ParishID
	if !scope.AllParishes {
		parishID = scope.ParishID
	}
	dateFrom, err := parseOptionalDate(req.DateFrom)
	if err != nil {
		return nil, nil, err
	}
	dateTo, err := parseOptionalDate(req.DateTo)
	if err != nil {
		return nil, nil, err
	}
	var classType models.ClassType
	if req.ClassType != nil {
		classType = models.ClassType(strings.ToUpper(*req.ClassType))
	}
	page := req.Page
	if page < 1 {
		page = 1
	}
	size := req.PageSize
	if size <= 0 {
		size = 20
	}
	filter := models.AttendanceFilter{
		EnrollmentID: req.EnrollmentID,
		GroupID:      req.GroupID,
		ParishID:     parishID,
		Present:      req.Present,
		ClassType:    classType,
		DateFrom:     dateFrom,
		DateTo:       dateTo,
		Page:         page,
		PageSize:     size,
		SortBy:       req.SortBy,
		SortOrder:    req.SortOrder,
	}
	records, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return records, pagination, nil
}

// Summary returns the per-enrollment roll-up.
func (s *AttendanceService) Summary(ctx context.Context, scope access.Scope, enrollmentID string) (*models.AttendanceSummary, error) {
	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !scope.Allows(enrollment.ParishID) {
		return nil, appErrors.ErrForbidden
	}
	summary, err := s.repo.SummaryForEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to summarise attendance")
	}
	return summary, nil
}

// GroupStats aggregates attendance across a group, served from cache when warm.
func (s *AttendanceService) GroupStats(ctx context.Context, scope access.Scope, groupID string, from, to *time.Time) (*models.GroupAttendanceStats, error) {
	group, err := s.groups.FindByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load group")
	}
	if !scope.Allows(group.ParishID) {
		return nil, appErrors.ErrForbidden
	}

	key := statsCacheKey("group", groupID, from, to)
	if s.cache != nil {
		var cached models.GroupAttendanceStats
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			s.metrics.RecordCacheLookup(true)
			return &cached, nil
		}
		s.metrics.RecordCacheLookup(false)
	}
	stats, err := s.repo.GroupStats(ctx, groupID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate attendance")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, stats, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache group stats", zap.String("group_id", groupID), zap.Error(err))
		}
	}
	return stats, nil
}

// ParishStats aggregates attendance across a parish.
func (s *AttendanceService) ParishStats(ctx context.Context, scope access.Scope, parishID string, from, to *time.Time) (*models.GroupAttendanceStats, error) {
	if !scope.Allows(parishID) {
		return nil, appErrors.ErrForbidden
	}
	key := statsCacheKey("parish", parishID, from, to)
	if s.cache != nil {
		var cached models.GroupAttendanceStats
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			s.metrics.RecordCacheLookup(true)
			return &cached, nil
		}
		s.metrics.RecordCacheLookup(false)
	}
	stats, err := s.repo.ParishStats(ctx, parishID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate attendance")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, stats, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache parish stats", zap.String("parish_id", parishID), zap.Error(err))
		}
	}
	return stats, nil
}

// PendingNotifications lists unnotified absences inside the trailing window.
func (s *AttendanceService) PendingNotifications(ctx context.Context, scope access.Scope, window time.Duration) ([]models.AttendanceRecord, error) {
	parishID := ""
	if !scope.AllParishes {
		if scope.ParishID == "" {
			return nil, appErrors.ErrForbidden
		}
		parishID = scope.ParishID
	}
	records, err := s.repo.ListPendingNotifications(ctx, parishID, window, time.Now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pending notifications")
	}
	return records, nil
}

// MarkNotified stamps the given records as notified.
func (s *AttendanceService) MarkNotified(ctx context.Context, scope access.Scope, ids []string) error {
	if len(ids) == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "at least one attendance id required")
	}
	for _, id := range ids {
		attendance, err := s.repo.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "attendance not found: "+id)
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance")
		}
		enrollment, err := s.enrollments.FindByID(ctx, attendance.EnrollmentID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
		}
		if !scope.Allows(enrollment.ParishID) {
			return appErrors.ErrForbidden
		}
	}
	if err := s.repo.MarkNotified(ctx, ids, time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications")
	}
	return nil
}

// MarkReminderSent stamps a record after a follow-up reminder went out.
func (s *AttendanceService) MarkReminderSent(ctx context.Context, scope access.Scope, id string) error {
	attendance, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "attendance not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance")
	}
	enrollment, err := s.enrollments.FindByID(ctx, attendance.EnrollmentID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !scope.Allows(enrollment.ParishID) {
		return appErrors.ErrForbidden
	}
	if err := s.repo.MarkReminderSent(ctx, id, time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark reminder")
	}
	return nil
}

// Tasks lists the follow-up tasks of a record.
func (s *AttendanceService) Tasks(ctx context.Context, scope access.Scope, recorder *models.JWTClaims, attendanceID string) ([]models.AttendanceTask, error) {
	if _, _, err := s.loadRecord(ctx, scope, recorder, attendanceID); err != nil {
		return nil, err
	}
	tasks, err := s.repo.ListTasks(ctx, attendanceID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list tasks")
	}
	return tasks, nil
}

// AddTask attaches a follow-up task to a record.
func (s *AttendanceService) AddTask(ctx context.Context, scope access.Scope, recorder *models.JWTClaims, attendanceID string, req TaskRequest) (*models.AttendanceTask, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid task payload")
	}
	if _, _, err := s.loadRecord(ctx, scope, recorder, attendanceID); err != nil {
		return nil, err
	}
	task := &models.AttendanceTask{
		AttendanceID: attendanceID,
		Description:  req.Description,
		Delivered:    req.Delivered,
		Score:        req.Score,
		Notes:        req.Notes,
	}
	if req.Delivered {
		now := time.Now().UTC()
		task.DeliveredAt = &now
	}
	if err := s.repo.AddTask(ctx, task); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store task")
	}
	return task, nil
}

func (s *AttendanceService) authorizeEnrollment(ctx context.Context, scope access.Scope, recorder *models.JWTClaims, enrollmentID string) (*models.Enrollment, error) {
	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !scope.Allows(enrollment.ParishID) {
		return nil, appErrors.ErrForbidden
	}
	if !enrollment.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "enrollment is not active")
	}
	if err := s.requireCatechistAssignment(ctx, recorder, enrollment.GroupID); err != nil {
		return nil, err
	}
	return enrollment, nil
}

// Catechists may only touch groups they are assigned to; other roles are
// bounded by parish scope alone.
func (s *AttendanceService) requireCatechistAssignment(ctx context.Context, recorder *models.JWTClaims, groupID string) error {
	if recorder == nil || recorder.Role != models.RoleCatechist {
		return nil
	}
	assigned, err := s.groups.IsCatechistAssigned(ctx, groupID, recorder.UserID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check assignment")
	}
	if !assigned {
		return appErrors.Clone(appErrors.ErrForbidden, "catechist not assigned to this group")
	}
	return nil
}

func (s *AttendanceService) loadRecord(ctx context.Context, scope access.Scope, recorder *models.JWTClaims, id string) (*models.Attendance, *models.Enrollment, error) {
	attendance, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "attendance not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance")
	}
	enrollment, err := s.enrollments.FindByID(ctx, attendance.EnrollmentID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !scope.Allows(enrollment.ParishID) {
		return nil, nil, appErrors.ErrForbidden
	}
	if err := s.requireCatechistAssignment(ctx, recorder, enrollment.GroupID); err != nil {
		return nil, nil, err
	}
	return attendance, enrollment, nil
}

func (s *AttendanceService) recompute(ctx context.Context, enrollment *models.Enrollment) {
	s.recomputeRollup(ctx, enrollment.ID)
	s.refreshGroup(ctx, enrollment.GroupID, enrollment.ParishID)
}

// Roll-ups are derived data; a failed recompute is logged so a later write
// can repair it, not surfaced to the caller.
func (s *AttendanceService) recomputeRollup(ctx context.Context, enrollmentID string) {
	summary, err := s.repo.SummaryForEnrollment(ctx, enrollmentID)
	if err != nil {
		s.logger.Warn("failed to summarise attendance", zap.String("enrollment_id", enrollmentID), zap.Error(err))
		return
	}
	if err := s.enrollments.UpdateRollup(ctx, enrollmentID, summary.Total, summary.Present, summary.Percent); err != nil {
		s.logger.Warn("failed to store attendance rollup", zap.String("enrollment_id", enrollmentID), zap.Error(err))
	}
}

func (s *AttendanceService) refreshGroup(ctx context.Context, groupID, parishID string) {
	if err := s.groups.RefreshStats(ctx, groupID); err != nil {
		s.logger.Warn("failed to refresh group stats", zap.String("group_id", groupID), zap.Error(err))
	}
	if s.cache == nil {
		return
	}
	for _, pattern := range []string{
		fmt.Sprintf("stats:group:%s:*", groupID),
		fmt.Sprintf("stats:parish:%s:*", parishID),
	} {
		if err := s.cache.DeleteByPattern(ctx, pattern); err != nil {
			s.logger.Warn("failed to invalidate stats cache", zap.String("pattern", pattern), zap.Error(err))
		}
	}
}

func hasReason(reason *string) bool {
	return reason != nil && strings.TrimSpace(*reason) != ""
}

// checkAttendanceInvariants guards every attendance write: regular classes
// cannot be dated in the future, an absence needs a reason, and the departure
// time must come after the arrival time when both are set.
func checkAttendanceInvariants(a *models.Attendance, now time.Time) error {
	if a.ClassType == models.ClassTypeRegular {
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		if a.Date.After(today) {
			return appErrors.Clone(appErrors.ErrValidation, "cannot record a regular class on a future date")
		}
	}
	if !a.Present && !hasReason(a.AbsenceReason) {
		return appErrors.Clone(appErrors.ErrValidation, "absence reason is required when marking absent")
	}
	if a.ArrivalTime != nil && a.DepartureTime != nil {
		arrival, errA := time.Parse("15:04", *a.ArrivalTime)
		departure, errD := time.Parse("15:04", *a.DepartureTime)
		if errA == nil && errD == nil && !departure.After(arrival) {
			return appErrors.Clone(appErrors.ErrValidation, "departure time must be after arrival time")
		}
	}
	return nil
}

func statsCacheKey(kind, id string, from, to *time.Time) string {
	f, t := "-", "-"
	if from != nil {
		f = from.Format("2006-01-02")
	}
	if to != nil {
		t = to.Format("2006-01-02")
	}
	return fmt.Sprintf("stats:%s:%s:%s:%s", kind, id, f, t)
}
