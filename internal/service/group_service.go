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

type groupRepository interface {
	List(ctx context.Context, filter models.GroupFilter) ([]models.GroupDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Group, error)
	Create(ctx context.Context, group *models.Group) error
	Update(ctx context.Context, group *models.Group) error
	CountActiveEnrollments(ctx context.Context, groupID string) (int, error)
	RefreshStats(ctx context.Context, groupID string) error
	ListCatechists(ctx context.Context, groupID string) ([]models.GroupCatechistDetail, error)
	IsCatechistAssigned(ctx context.Context, groupID, userID string) (bool, error)
	AssignCatechist(ctx context.Context, assignment *models.GroupCatechist) error
	RemoveCatechist(ctx context.Context, groupID, userID string) error
}

type groupUserLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type groupLevelLookup interface {
	FindByID(ctx context.Context, id string) (*models.Level, error)
}

// GroupService manages groups and catechist assignments.
type GroupService struct {
	repo      groupRepository
	users     groupUserLookup
	levels    groupLevelLookup
	validator *validator.Validate
	logger    *zap.Logger
}

// NewGroupService constructs the group service.
func NewGroupService(repo groupRepository, users groupUserLookup, levels groupLevelLookup, validate *validator.Validate, logger *zap.Logger) *GroupService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GroupService{repo: repo, users: users, levels: levels, validator: validate, logger: logger}
}

// GroupRequest is the create/update payload.
type GroupRequest struct {
	ParishID string  `json:"parish_id" validate:"required"`
	LevelID  string  `json:"level_id" validate:"required"`
	Name     string  `json:"name" validate:"required"`
	Year     int     `json:"year" validate:"required,gte=2000"`
	Capacity int     `json:"capacity" validate:"gte=0"`
	Schedule *string `json:"schedule"`
	Room     *string `json:"room"`
	Active   *bool   `json:"active"`
}

// GroupListRequest filters the group listing.
type GroupListRequest struct {
	ParishID  string `json:"parish_id"`
	LevelID   string `json:"level_id"`
	Year      int    `json:"year"`
	Active    *bool  `json:"active"`
	Search    string `json:"search"`
	Page      int    `json:"page"`
	PageSize  int    `json:"page_size"`
	SortBy    string `json:"sort_by"`
	SortOrder string `json:"sort_order"`
}

// AssignCatechistRequest links a catechist to a group.
type AssignCatechistRequest struct {
	UserID string  `json:"user_id" validate:"required"`
	Role   *string `json:"role"`
}

// List returns groups visible within the caller's scope.
func (s *GroupService) List(ctx context.Context, scope access.Scope, req GroupListRequest) ([]models.GroupDetail, *models.Pagination, error) {
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
	filter := models.GroupFilter{
		ParishID:  parishID,
		LevelID:   req.LevelID,
		Year:      req.Year,
		Active:    req.Active,
		Search:    req.Search,
		Page:      page,
		PageSize:  size,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	}
	groups, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list groups")
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return groups, pagination, nil
}

// Get returns one group within scope.
func (s *GroupService) Get(ctx context.Context, scope access.Scope, id string) (*models.Group, error) {
	group, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load group")
	}
	if !scope.Allows(group.ParishID) {
		return nil, appErrors.ErrForbidden
	}
	return group, nil
}

// Create registers a new group after checking the level exists.
func (s *GroupService) Create(ctx context.Context, scope access.Scope, req GroupRequest) (*models.Group, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid group payload")
	}
	if !scope.Allows(req.ParishID) {
		return nil, appErrors.ErrForbidden
	}
	if _, err := s.levels.FindByID(ctx, req.LevelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "level not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load level")
	}
	group := &models.Group{
		ParishID: req.ParishID,
		LevelID:  req.LevelID,
		Name:     req.Name,
		Year:     req.Year,
		Capacity: req.Capacity,
		Schedule: req.Schedule,
		Room:     req.Room,
		Active:   true,
	}
	if req.Active != nil {
		group.Active = *req.Active
	}
	if err := s.repo.Create(ctx, group); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create group")
	}
	s.logger.Info("group created", zap.String("group_id", group.ID), zap.String("parish_id", group.ParishID))
	return group, nil
}

// Update mutates an existing group. Shrinking capacity below the active
// enrollment count is rejected.
func (s *GroupService) Update(ctx context.Context, scope access.Scope, id string, req GroupRequest) (*models.Group, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid group payload")
	}
	group, err := s.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if req.Capacity > 0 && req.Capacity != group.Capacity {
		active, err := s.repo.CountActiveEnrollments(ctx, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
		}
		if req.Capacity < active {
			return nil, appErrors.Clone(appErrors.ErrConflict, "capacity below current active enrollments")
		}
	}
	group.Name = req.Name
	group.LevelID = req.LevelID
	group.Year = req.Year
	group.Capacity = req.Capacity
	group.Schedule = req.Schedule
	group.Room = req.Room
	if req.Active != nil {
		group.Active = *req.Active
	}
	if err := s.repo.Update(ctx, group); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update group")
	}
	return group, nil
}

// Catechists returns the group's catechist assignments.
func (s *GroupService) Catechists(ctx context.Context, scope access.Scope, groupID string) ([]models.GroupCatechistDetail, error) {
	if _, err := s.Get(ctx, scope, groupID); err != nil {
		return nil, err
	}
	assignments, err := s.repo.ListCatechists(ctx, groupID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list catechists")
	}
	return assignments, nil
}

// AssignCatechist links a catechist-role user to the group.
func (s *GroupService) AssignCatechist(ctx context.Context, scope access.Scope, groupID string, req AssignCatechistRequest) (*models.GroupCatechist, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	if _, err := s.Get(ctx, scope, groupID); err != nil {
		return nil, err
	}
	user, err := s.users.FindByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if user.Role != models.RoleCatechist {
		return nil, appErrors.Clone(appErrors.ErrValidation, "user is not a catechist")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "user account is inactive")
	}
	assignment := &models.GroupCatechist{
		GroupID: groupID,
		UserID:  req.UserID,
		Role:    req.Role,
	}
	if err := s.repo.AssignCatechist(ctx, assignment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign catechist")
	}
	s.logger.Info("catechist assigned", zap.String("group_id", groupID), zap.String("user_id", req.UserID))
	return assignment, nil
}

// RemoveCatechist deactivates the assignment.
func (s *GroupService) RemoveCatechist(ctx context.Context, scope access.Scope, groupID, userID string) error {
	if _, err := s.Get(ctx, scope, groupID); err != nil {
		return err
	}
	if err := s.repo.RemoveCatechist(ctx, groupID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove catechist")
	}
	return nil
}
