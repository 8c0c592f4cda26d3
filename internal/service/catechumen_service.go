package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/parroquia-tech/catequesis-api/internal/access"
	"github.com/parroquia-tech/catequesis-api/internal/models"
	appErrors "github.com/parroquia-tech/catequesis-api/pkg/errors"
)

type catechumenRepository interface {
	List(ctx context.Context, filter models.CatechumenFilter) ([]models.Catechumen, int, error)
	FindByID(ctx context.Context, id string) (*models.Catechumen, error)
	Create(ctx context.Context, catechumen *models.Catechumen) error
	Update(ctx context.Context, catechumen *models.Catechumen) error
}

// CatechumenService manages catechumen records.
type CatechumenService struct {
	repo      catechumenRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCatechumenService constructs the catechumen service.
func NewCatechumenService(repo catechumenRepository, validate *validator.Validate, logger *zap.Logger) *CatechumenService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatechumenService{repo: repo, validator: validate, logger: logger}
}

// CatechumenRequest is the create/update payload.
type CatechumenRequest struct {
	ParishID      string  `json:"parish_id" validate:"required"`
	FirstName     string  `json:"first_name" validate:"required"`
	LastName      string  `json:"last_name" validate:"required"`
	BirthDate     *string `json:"birth_date"`
	DocumentID    *string `json:"document_id"`
	GuardianName  *string `json:"guardian_name"`
	GuardianPhone *string `json:"guardian_phone"`
	Address       *string `json:"address"`
	Active        *bool   `json:"active"`
}

// CatechumenListRequest filters the catechumen listing.
type CatechumenListRequest struct {
	ParishID  string `json:"parish_id"`
	Active    *bool  `json:"active"`
	Search    string `json:"search"`
	Page      int    `json:"page"`
	PageSize  int    `json:"page_size"`
	SortBy    string `json:"sort_by"`
	SortOrder string `json:"sort_order"`
}

// List returns catechumens visible within the caller's scope.
func (s *CatechumenService) List(ctx context.Context, scope access.Scope, req CatechumenListRequest) ([]models.Catechumen, *models.Pagination, error) {
	parishID := req.ParishID
	if !scope.AllParishes {
		parishID = scope.ParishID
	}
	page := req.Page
	if page < 1 {
		page = 1
	}
	size := req.PageSize
	if size <= 0 {
		size = 20
	}
	filter := models.CatechumenFilter{
		ParishID:  parishID,
		Active:    req.Active,
		Search:    req.Search,
		Page:      page,
		PageSize:  size,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	}
	catechumens, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list catechumens")
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return catechumens, pagination, nil
}

// Get returns one catechumen within scope.
func (s *CatechumenService) Get(ctx context.Context, scope access.Scope, id string) (*models.Catechumen, error) {
	catechumen, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "catechumen not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load catechumen")
	}
	if !scope.Allows(catechumen.ParishID) {
		return nil, appErrors.ErrForbidden
	}
	return catechumen, nil
}

// Create registers a new catechumen.
func (s *CatechumenService) Create(ctx context.Context, scope access.Scope, req CatechumenRequest) (*models.Catechumen, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid catechumen payload")
	}
	if !scope.Allows(req.ParishID) {
		return nil, appErrors.ErrForbidden
	}
	birthDate, err := parseOptionalDate(req.BirthDate)
	if err != nil {
		return nil, err
	}
	catechumen := &models.Catechumen{
		ParishID:      req.ParishID,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		BirthDate:     birthDate,
		DocumentID:    req.DocumentID,
		GuardianName:  req.GuardianName,
		GuardianPhone: req.GuardianPhone,
		Address:       req.Address,
		Active:        true,
	}
	if req.Active != nil {
		catechumen.Active = *req.Active
	}
	if err := s.repo.Create(ctx, catechumen); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create catechumen")
	}
	s.logger.Info("catechumen created", zap.String("catechumen_id", catechumen.ID), zap.String("parish_id", catechumen.ParishID))
	return catechumen, nil
}

// Update mutates an existing catechumen. The parish binding never changes.
func (s *CatechumenService) Update(ctx context.Context, scope access.Scope, id string, req CatechumenRequest) (*models.Catechumen, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid catechumen payload")
	}
	catechumen, err := s.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	birthDate, err := parseOptionalDate(req.BirthDate)
	if err != nil {
		return nil, err
	}
	catechumen.FirstName = req.FirstName
	catechumen.LastName = req.LastName
	catechumen.BirthDate = birthDate
	catechumen.DocumentID = req.DocumentID
	catechumen.GuardianName = req.GuardianName
	catechumen.GuardianPhone = req.GuardianPhone
	catechumen.Address = req.Address
	if req.Active != nil {
		catechumen.Active = *req.Active
	}
	if err := s.repo.Update(ctx, catechumen); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update catechumen")
	}
	return catechumen, nil
}

func parseOptionalDate(raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", *raw)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}
	return &parsed, nil
}
