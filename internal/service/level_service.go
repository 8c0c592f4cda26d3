package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/parroquia-tech/catequesis-api/internal/models"
	appErrors "github.com/parroquia-tech/catequesis-api/pkg/errors"
)

type levelRepository interface {
	List(ctx context.Context, filter models.LevelFilter) ([]models.Level, int, error)
	FindByID(ctx context.Context, id string) (*models.Level, error)
	Create(ctx context.Context, level *models.Level) error
	Update(ctx context.Context, level *models.Level) error
}

// LevelService manages curriculum levels. Levels are global, not parish scoped.
type LevelService struct {
	repo      levelRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewLevelService constructs the level service.
func NewLevelService(repo levelRepository, validate *validator.Validate, logger *zap.Logger) *LevelService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LevelService{repo: repo, validator: validate, logger: logger}
}

// LevelRequest is the create/update payload.
type LevelRequest struct {
	Name          string  `json:"name" validate:"required"`
	Description   *string `json:"description"`
	StageOrder    int     `json:"stage_order" validate:"gte=0"`
	MinAge        *int    `json:"min_age" validate:"omitempty,gte=0"`
	MaxAge        *int    `json:"max_age" validate:"omitempty,gte=0"`
	MinScore      float64 `json:"min_score" validate:"gte=0,lte=100"`
	MinAttendance float64 `json:"min_attendance" validate:"gte=0,lte=100"`
	Active        *bool   `json:"active"`
}

// LevelListRequest filters the level listing.
type LevelListRequest struct {
	Active    *bool  `json:"active"`
	Search    string `json:"search"`
	Page      int    `json:"page"`
	PageSize  int    `json:"page_size"`
	SortBy    string `json:"sort_by"`
	SortOrder string `json:"sort_order"`
}

// List returns levels matching the filter.
func (s *LevelService) List(ctx context.Context, req LevelListRequest) ([]models.Level, *models.Pagination, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	size := req.PageSize
	if size <= 0 {
		size = 20
	}
	filter := models.LevelFilter{
		Active:    req.Active,
		Search:    req.Search,
		Page:      page,
		PageSize:  size,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	}
	levels, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list levels")
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return levels, pagination, nil
}

// Get returns one level.
func (s *LevelService) Get(ctx context.Context, id string) (*models.Level, error) {
	level, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "level not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load level")
	}
	return level, nil
}

// Create registers a new level.
func (s *LevelService) Create(ctx context.Context, req LevelRequest) (*models.Level, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	level := &models.Level{
		Name:          req.Name,
		Description:   req.Description,
		StageOrder:    req.StageOrder,
		MinAge:        req.MinAge,
		MaxAge:        req.MaxAge,
		MinScore:      req.MinScore,
		MinAttendance: req.MinAttendance,
		Active:        true,
	}
	if req.Active != nil {
		level.Active = *req.Active
	}
	if err := s.repo.Create(ctx, level); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create level")
	}
	s.logger.Info("level created", zap.String("level_id", level.ID), zap.Int("stage_order", level.StageOrder))
	return level, nil
}

// Update mutates an existing level.
func (s *LevelService) Update(ctx context.Context, id string, req LevelRequest) (*models.Level, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	level, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	level.Name = req.Name
	level.Description = req.Description
	level.StageOrder = req.StageOrder
	level.MinAge = req.MinAge
	level.MaxAge = req.MaxAge
	level.MinScore = req.MinScore
	level.MinAttendance = req.MinAttendance
	if req.Active != nil {
		level.Active = *req.Active
	}
	if err := s.repo.Update(ctx, level); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update level")
	}
	return level, nil
}

func (s *LevelService) validateRequest(req LevelRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid level payload")
	}
	if req.MinAge != nil && req.MaxAge != nil && *req.MinAge > *req.MaxAge {
		return appErrors.Clone(appErrors.ErrValidation, "min_age must not exceed max_age")
	}
	return nil
}
