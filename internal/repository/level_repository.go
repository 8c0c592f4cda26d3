package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/parroquia-tech/catequesis-api/internal/models"
)

// LevelRepository handles persistence of curriculum levels.
type LevelRepository struct {
	db *sqlx.DB
}

// NewLevelRepository constructs the repository.
func NewLevelRepository(db *sqlx.DB) *LevelRepository {
	return &LevelRepository{db: db}
}

const levelColumns = `id, name, description, stage_order, min_age, max_age, min_score, min_attendance, active, created_at, updated_at`

// List returns levels matching the filter, ordered by stage by default.
func (r *LevelRepository) List(ctx context.Context, filter models.LevelFilter) ([]models.Level, int, error) {
	where := []string{"1=1"}
	var args []interface{}

	if filter.Active != nil {
		where = append(where, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		where = append(where, fmt.Sprintf("name ILIKE $%d", len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}
	whereClause := strings.Join(where, " AND ")

	allowedSorts := map[string]string{
		"name":        "name",
		"stage_order": "stage_order",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "stage_order"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
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

	query := fmt.Sprintf(`SELECT %s FROM levels WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d`,
		levelColumns, whereClause, orderBy, order, size, offset)

	var levels []models.Level
	if err := r.db.SelectContext(ctx, &levels, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list levels: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM levels WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count levels: %w", err)
	}
	return levels, total, nil
}

// FindByID returns a level by its ID.
func (r *LevelRepository) FindByID(ctx context.Context, id string) (*models.Level, error) {
	query := fmt.Sprintf(`SELECT %s FROM levels WHERE id = $1`, levelColumns)
	var level models.Level
	if err := r.db.GetContext(ctx, &level, query, id); err != nil {
		return nil, err
	}
	return &level, nil
}

// Create persists a new level record.
func (r *LevelRepository) Create(ctx context.Context, level *models.Level) error {
	now := time.Now().UTC()
	if level.ID == "" {
		level.ID = uuid.NewString()
	}
	level.CreatedAt = now
	level.UpdatedAt = now
	const query = `INSERT INTO levels (id, name, description, stage_order, min_age, max_age, min_score, min_attendance, active, created_at, updated_at)
        VALUES (:id, :name, :description, :stage_order, :min_age, :max_age, :min_score, :min_attendance, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, level); err != nil {
		return fmt.Errorf("create level: %w", err)
	}
	return nil
}

// Update persists mutations for an existing level.
func (r *LevelRepository) Update(ctx context.Context, level *models.Level) error {
	level.UpdatedAt = time.Now().UTC()
	const query = `UPDATE levels SET name = :name, description = :description, stage_order = :stage_order,
        min_age = :min_age, max_age = :max_age, min_score = :min_score, min_attendance = :min_attendance,
        active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, level); err != nil {
		return fmt.Errorf("update level: %w", err)
	}
	return nil
}
