package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/parroquia-tech/catequesis-api/internal/access"
	"github.com/parroquia-tech/catequesis-api/internal/models"
	appErrors "github.com/parroquia-tech/catequesis-api/pkg/errors"
)

type parishRepository interface {
	List(ctx context.Context, filter models.ParishFilter) ([]models.Parish, int, error)
	FindByID(ctx context.Context, id string) (*models.Parish, error)
	Create(ctx context.Context, parish *models.Parish) error
	Update(ctx context.Context, parish *models.Parish) error
}

// ParishService manages parishes.
type ParishService struct {
	repo      parishRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewParishService constructs the parish service.
func NewParishService(repo parishRepository, validate *validator.Validate, logger *zap.Logger) *ParishService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ParishService{repo: repo, validator: validate, logger: logger}
}

// ParishRequest is the create/update payload.
type ParishRequest struct {
	Name    string  `json:"name" validate:"required"`
	City    *string `json:"city"`
	Address *string `json:"address"`
	Phone   *string `json:"phone"`
	Email   *string `json:"email" validate:"omitempty,email"`
	Active  *bool   `json:"active"`
}

// ParishListRequest filters the parish listing.
type ParishListRequest struct {
	Active    *bool  `json:"active"`
	Search    string `json:"search"`
	Page      int    `json:"page"`
	PageSize  int    `json:"page_size"`
	SortBy    string `json:"sort_by"`
	SortOrder string `json:"sort_order"`
}

// List returns parishes visible to the caller. Non-admin callers see only
// their home parish.
func (s *ParishService) List(ctx context.Context, scope access.Scope, req ParishListRequest) ([]models.Parish, *models.Pagination, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	size := req.PageSize
	if size <= 0 {
		size = 20
	}

	if !scope.AllParishes {
		if scope.ParishID == "" {
			return []models.Parish{}, &models.Pagination{Page: page, PageSize: size}, nil
		}
		parish, err := s.Get(ctx, scope, scope.ParishID)
		if err != nil {
			return nil, nil, err
		}
		return []models.Parish{*parish}, &models.Pagination{Page: 1, PageSize: size, TotalCount: 1}, nil
	}

	filter := models.ParishFilter{
		Active:    req.Active,
		Search:    req.Search,
		Page:      page,
		PageSize:  size,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	}
	parishes, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list parishes")
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return parishes, pagination, nil
}

// Get returns one parish within scope.
func (s *ParishService) Get(ctx context.Context, scope access.Scope, id string) (*models.Parish, error) {
	if !scope.Allows(id) {
		return nil, appErrors.ErrForbidden
	}
	parish, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "parish not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load parish")
	}
	return parish, nil
}

// Create registers a new parish.
func (s *ParishService) Create(ctx context.Context, req ParishRequest) (*models.Parish, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid parish payload")
	}
	parish := &models.Parish{
		Name:    req.Name,
		City:    req.City,
		Address: req.Address,
		Phone:   req.Phone,
		Email:   req.Email,
		Active:  true,
	}
	if req.Active != nil {
		parish.Active = *req.Active
	}
	if err := s.repo.Create(ctx, parish); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create parish")
	}
	s.logger.Info("parish created", zap.String("parish_id", parish.ID))
	return parish, nil
}

// Update mutates an existing parish.
func (s *ParishService) Update(ctx context.Context, scope access.Scope, id string, req ParishRequest) (*models.Parish, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid parish payload")
	}
	parish, err := s.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	parish.Name = req.Name
	parish.City = req.City
	parish.Address = req.Address
	parish.Phone = req.Phone
	parish.Email = req.Email
	if req.Active != nil {
		parish.Active = *req.Active
	}
	if err := s.repo.Update(ctx, parish); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update parish")
	}
	return parish, nil
}
