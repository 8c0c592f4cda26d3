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
	appErrors "github.com/parroquia-tech/catequesis-api/pkg/errors"
	"github.com/parroquia-tech/catequesis-api/pkg/export"
	"github.com/parroquia-tech/catequesis-api/pkg/jobs"
	"github.com/parroquia-tech/catequesis-api/pkg/storage"
)

type reportRepository interface {
	Create(ctx context.Context, job *models.ReportJob) error
	FindByID(ctx context.Context, id string) (*models.ReportJob, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.ReportJob, error)
	UpdateProgress(ctx context.Context, id string, status models.ReportStatus, progress int) error
	MarkFinished(ctx context.Context, id, filePath string, at time.Time) error
	MarkFailed(ctx context.Context, id, message string, at time.Time) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
}

type reportAttendanceSource interface {
	List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int, error)
}

type reportEnrollmentSource interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	ListPayments(ctx context.Context, enrollmentID string) ([]models.EnrollmentPayment, error)
}

// ReportService generates CSV/PDF exports asynchronously. Jobs move through
// QUEUED, RUNNING, and FINISHED or FAILED; finished files are served through
// signed, expiring download tokens.
type ReportService struct {
	repo        reportRepository
	attendance  reportAttendanceSource
	enrollments reportEnrollmentSource
	store       *storage.FileStore
	signer      *storage.DownloadSigner
	csv         *export.CSVExporter
	pdf         *export.PDFExporter
	queue       *jobs.Queue
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewReportService constructs the report service. Call Start to begin
// consuming jobs.
func NewReportService(repo reportRepository, attendance reportAttendanceSource, enrollments reportEnrollmentSource, store *storage.FileStore, signer *storage.DownloadSigner, workers, retries int, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *ReportService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &ReportService{
		repo:        repo,
		attendance:  attendance,
		enrollments: enrollments,
		store:       store,
		signer:      signer,
		csv:         export.NewCSVExporter(),
		pdf:         export.NewPDFExporter(),
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
	}
	svc.queue = jobs.NewQueue("reports", svc.process, jobs.QueueConfig{
		Workers:    workers,
		MaxRetries: retries,
		Logger:     logger,
	})
	return svc
}

// Start launches the report workers.
func (s *ReportService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *ReportService) Stop() {
	s.queue.Stop()
}

// CreateReportRequest enqueues one export.
type CreateReportRequest struct {
	Type     string  `json:"type" validate:"required"`
	Format   string  `json:"format" validate:"required"`
	GroupID  *string `json:"group_id"`
	ParishID *string `json:"parish_id"`
	DateFrom *string `json:"date_from"`
	DateTo   *string `json:"date_to"`
}

// ReportStatusResponse reports job progress and, once finished, a download token.
type ReportStatusResponse struct {
	Job           models.ReportJob `json:"job"`
	DownloadToken string           `json:"download_token,omitempty"`
	ExpiresAt     *time.Time       `json:"expires_at,omitempty"`
}

// Enqueue validates the request, persists a QUEUED job, and hands it to the
// worker pool.
func (s *ReportService) Enqueue(ctx context.Context, scope access.Scope, createdBy string, req CreateReportRequest) (*models.ReportJob, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid report payload")
	}
	reportType := models.ReportType(strings.ToUpper(req.Type))
	if !reportType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported report type")
	}
	format := models.ReportFormat(strings.ToLower(req.Format))
	if !format.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported report format")
	}
	if req.ParishID != nil && !scope.Allows(*req.ParishID) {
		return nil, appErrors.ErrForbidden
	}
	parishID := req.ParishID
	if !scope.AllParishes {
		parishID = &scope.ParishID
	}
	dateFrom, err := parseOptionalDate(req.DateFrom)
	if err != nil {
		return nil, err
	}
	dateTo, err := parseOptionalDate(req.DateTo)
	if err != nil {
		return nil, err
	}

	job := &models.ReportJob{
		Type:      reportType,
		Format:    format,
		GroupID:   req.GroupID,
		ParishID:  parishID,
		DateFrom:  dateFrom,
		DateTo:    dateTo,
		Status:    models.ReportStatusQueued,
		CreatedBy: createdBy,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist report job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Kind: string(reportType)}); err != nil {
		now := time.Now().UTC()
		if markErr := s.repo.MarkFailed(ctx, job.ID, "queue unavailable", now); markErr != nil {
			s.logger.Error("failed to mark report job failed", zap.String("job_id", job.ID), zap.Error(markErr))
		}
		s.metrics.RecordReportJob("failed")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue report job")
	}
	s.logger.Info("report job enqueued",
		zap.String("job_id", job.ID),
		zap.String("type", string(reportType)),
		zap.String("format", string(format)))
	return job, nil
}

// Status returns job progress; finished jobs carry a signed download token.
func (s *ReportService) Status(ctx context.Context, scope access.Scope, createdBy, id string) (*ReportStatusResponse, error) {
	job, err := s.loadJob(ctx, scope, createdBy, id)
	if err != nil {
		return nil, err
	}
	resp := &ReportStatusResponse{Job: *job}
	if job.Status == models.ReportStatusFinished && job.FilePath != nil {
		token, expiresAt, err := s.signer.Generate(job.ID, *job.FilePath)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download token")
		}
		resp.DownloadToken = token
		resp.ExpiresAt = &expiresAt
	}
	return resp, nil
}

// ListMine returns the caller's recent jobs.
func (s *ReportService) ListMine(ctx context.Context, createdBy string, limit int) ([]models.ReportJob, error) {
	listed, err := s.repo.ListByUser(ctx, createdBy, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list report jobs")
	}
	return listed, nil
}

// Download validates a signed token and returns the file path and a display name.
func (s *ReportService) Download(ctx context.Context, token string) (string, string, error) {
	jobID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return "", "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", appErrors.Clone(appErrors.ErrNotFound, "report not found")
		}
		return "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report job")
	}
	if job.Status != models.ReportStatusFinished || job.FilePath == nil || *job.FilePath != relPath {
		return "", "", appErrors.Clone(appErrors.ErrNotFound, "report file unavailable")
	}
	path, err := s.store.Path(relPath)
	if err != nil {
		return "", "", appErrors.Clone(appErrors.ErrNotFound, "report file unavailable")
	}
	name := fmt.Sprintf("%s-%s.%s", strings.ToLower(string(job.Type)), job.CreatedAt.Format("20060102"), job.Format)
	return path, name, nil
}

// Cleanup deletes expired jobs and their files. Intended to run on a ticker.
func (s *ReportService) Cleanup(ctx context.Context, retention time.Duration) {
	cutoff := time.Now().UTC().Add(-retention)
	paths, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Warn("report cleanup failed", zap.Error(err))
		return
	}
	for _, path := range paths {
		if err := s.store.Delete(path); err != nil {
			s.logger.Warn("failed to delete report file", zap.String("path", path), zap.Error(err))
		}
	}
	if len(paths) > 0 {
		s.logger.Info("report cleanup finished", zap.Int("deleted", len(paths)))
	}
}

func (s *ReportService) loadJob(ctx context.Context, scope access.Scope, createdBy, id string) (*models.ReportJob, error) {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report job")
	}
	if job.CreatedBy != createdBy && !scope.AllParishes {
		return nil, appErrors.ErrForbidden
	}
	return job, nil
}

func (s *ReportService) process(ctx context.Context, job jobs.Job) error {
	stored, err := s.repo.FindByID(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("load report job %s: %w", job.ID, err)
	}
	if err := s.repo.UpdateProgress(ctx, stored.ID, models.ReportStatusRunning, 10); err != nil {
		return fmt.Errorf("mark report running: %w", err)
	}

	table, title, err := s.buildTable(ctx, stored)
	if err != nil {
		now := time.Now().UTC()
		if markErr := s.repo.MarkFailed(ctx, stored.ID, err.Error(), now); markErr != nil {
			s.logger.Error("failed to mark report failed", zap.String("job_id", stored.ID), zap.Error(markErr))
		}
		s.metrics.RecordReportJob("failed")
		return nil
	}
	if err := s.repo.UpdateProgress(ctx, stored.ID, models.ReportStatusRunning, 60); err != nil {
		s.logger.Warn("failed to update report progress", zap.String("job_id", stored.ID), zap.Error(err))
	}

	var payload []byte
	switch stored.Format {
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(table, title)
	default:
		payload, err = s.csv.Render(table)
	}
	if err != nil {
		now := time.Now().UTC()
		if markErr := s.repo.MarkFailed(ctx, stored.ID, err.Error(), now); markErr != nil {
			s.logger.Error("failed to mark report failed", zap.String("job_id", stored.ID), zap.Error(markErr))
		}
		s.metrics.RecordReportJob("failed")
		return nil
	}

	relPath := fmt.Sprintf("reports/%s/%s.%s", strings.ToLower(string(stored.Type)), stored.ID, stored.Format)
	if err := s.store.Save(relPath, payload); err != nil {
		return fmt.Errorf("store report file: %w", err)
	}
	now := time.Now().UTC()
	if err := s.repo.MarkFinished(ctx, stored.ID, relPath, now); err != nil {
		return fmt.Errorf("mark report finished: %w", err)
	}
	s.metrics.RecordReportJob("finished")
	s.logger.Info("report generated", zap.String("job_id", stored.ID), zap.String("path", relPath))
	return nil
}

const reportPageSize = 100

func (s *ReportService) buildTable(ctx context.Context, job *models.ReportJob) (export.Table, string, error) {
	switch job.Type {
	case models.ReportTypeAttendance:
		return s.attendanceTable(ctx, job)
	case models.ReportTypeEnrollments:
		return s.enrollmentTable(ctx, job)
	case models.ReportTypePayments:
		return s.paymentTable(ctx, job)
	default:
		return export.Table{}, "", fmt.Errorf("unsupported report type %s", job.Type)
	}
}

func (s *ReportService) attendanceTable(ctx context.Context, job *models.ReportJob) (export.Table, string, error) {
	table := export.Table{Columns: []string{"Date", "Catechumen", "Group", "Present", "Class Type", "Justified", "Notes"}}
	filter := models.AttendanceFilter{
		DateFrom: job.DateFrom,
		DateTo:   job.DateTo,
		PageSize: reportPageSize,
		SortBy:   "date",
	}
	if job.GroupID != nil {
		filter.GroupID = *job.GroupID
	}
	if job.ParishID != nil {
		filter.ParishID = *job.ParishID
	}
	for page := 1; ; page++ {
		filter.Page = page
		records, total, err := s.attendance.List(ctx, filter)
		if err != nil {
			return export.Table{}, "", fmt.Errorf("load attendance: %w", err)
		}
		for _, record := range records {
			present := "no"
			if record.Present {
				present = "yes"
			}
			justified := ""
			if !record.Present {
				justified = "no"
				if record.Justified {
					justified = "yes"
				}
			}
			table.Rows = append(table.Rows, map[string]string{
				"Date":       record.Date.Format("2006-01-02"),
				"Catechumen": record.CatechumenName,
				"Group":      record.GroupName,
				"Present":    present,
				"Class Type": string(record.ClassType),
				"Justified":  justified,
				"Notes":      derefString(record.Notes),
			})
		}
		if page*reportPageSize >= total || len(records) == 0 {
			break
		}
	}
	return table, "Attendance Report", nil
}

func (s *ReportService) enrollmentTable(ctx context.Context, job *models.ReportJob) (export.Table, string, error) {
	table := export.Table{Columns: []string{"Catechumen", "Group", "Level", "Status", "Enrolled", "Attendance %", "Final Score", "Passed"}}
	filter := models.EnrollmentFilter{PageSize: reportPageSize, SortBy: "enrolled_at", SortOrder: "ASC"}
	if job.GroupID != nil {
		filter.GroupID = *job.GroupID
	}
	if job.ParishID != nil {
		filter.ParishID = *job.ParishID
	}
	for page := 1; ; page++ {
		filter.Page = page
		enrollments, total, err := s.enrollments.List(ctx, filter)
		if err != nil {
			return export.Table{}, "", fmt.Errorf("load enrollments: %w", err)
		}
		for _, enrollment := range enrollments {
			finalScore := ""
			if enrollment.FinalScore != nil {
				finalScore = fmt.Sprintf("%.2f", *enrollment.FinalScore)
			}
			passed := ""
			if outcome := enrollment.Passed(); outcome != nil {
				passed = "no"
				if *outcome {
					passed = "yes"
				}
			}
			table.Rows = append(table.Rows, map[string]string{
				"Catechumen":   enrollment.CatechumenName,
				"Group":        enrollment.GroupName,
				"Level":        enrollment.LevelName,
				"Status":       string(enrollment.Status),
				"Enrolled":     enrollment.EnrolledAt.Format("2006-01-02"),
				"Attendance %": fmt.Sprintf("%.2f", enrollment.AttendancePercent),
				"Final Score":  finalScore,
				"Passed":       passed,
			})
		}
		if page*reportPageSize >= total || len(enrollments) == 0 {
			break
		}
	}
	return table, "Enrollments Report", nil
}

func (s *ReportService) paymentTable(ctx context.Context, job *models.ReportJob) (export.Table, string, error) {
	table := export.Table{Columns: []string{"Catechumen", "Group", "Concept", "Label", "Amount", "Paid", "Paid At"}}
	filter := models.EnrollmentFilter{PageSize: reportPageSize, SortBy: "enrolled_at", SortOrder: "ASC"}
	if job.GroupID != nil {
		filter.GroupID = *job.GroupID
	}
	if job.ParishID != nil {
		filter.ParishID = *job.ParishID
	}
	for page := 1; ; page++ {
		filter.Page = page
		enrollments, total, err := s.enrollments.List(ctx, filter)
		if err != nil {
			return export.Table{}, "", fmt.Errorf("load enrollments: %w", err)
		}
		for _, enrollment := range enrollments {
			payments, err := s.enrollments.ListPayments(ctx, enrollment.ID)
			if err != nil {
				return export.Table{}, "", fmt.Errorf("load payments: %w", err)
			}
			for _, payment := range payments {
				paid := "no"
				paidAt := ""
				if payment.Paid {
					paid = "yes"
					if payment.PaidAt != nil {
						paidAt = payment.PaidAt.Format("2006-01-02")
					}
				}
				table.Rows = append(table.Rows, map[string]string{
					"Catechumen": enrollment.CatechumenName,
					"Group":      enrollment.GroupName,
					"Concept":    string(payment.Concept),
					"Label":      payment.Label,
					"Amount":     fmt.Sprintf("%.2f", payment.Amount),
					"Paid":       paid,
					"Paid At":    paidAt,
				})
			}
		}
		if page*reportPageSize >= total || len(enrollments) == 0 {
			break
		}
	}
	return table, "Payments Report", nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
