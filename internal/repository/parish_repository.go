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

// ParishRepository handles persistence of parishes.
type ParishRepository struct {
	db *sqlx.DB
}

// NewParishRepository constructs the repository.
func NewParishRepository(db *sqlx.DB) *ParishRepository {
	return &ParishRepository{db: db}
}

const parishColumns = `id, name, city, address, phone, email, active, created_at, updated_at`

// List returns parishes matching the filter.
func (r *ParishRepository) List(ctx context.Context, filter models.ParishFilter) ([]models.Parish, int, error) {
	where := []string{"1=1"}
	var args []interface{}

	if filter.Active != nil {
		where = append(where, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR city ILIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}
	whereClause := strings.Join(where, " AND ")

	orderBy := "name"
	if filter.SortBy == "created_at" {
		orderBy = "created_at"
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

	query := fmt.Sprintf(`SELECT %s FROM parishes WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d`,
		parishColumns, whereClause, orderBy, order, size, offset)

	var parishes []models.Parish
	if err := r.db.SelectContext(ctx, &parishes, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list parishes: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM parishes WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count parishes: %w", err)
	}
	return parishes, total, nil
}

// FindByID returns a parish by its ID.
func (r *ParishRepository) FindByID(ctx context.Context, id string) (*models.Parish, error) {
	query := fmt.Sprintf(`SELECT %s FROM parishes WHERE id = $1`, parishColumns)
	var parish models.Parish
	if err := r.db.GetContext(ctx, &parish, query, id); err != nil {
		return nil, err
	}
	return &parish, nil
}

// Create persists a new parish record.
func (r *ParishRepository) Create(ctx context.Context, parish *models.Parish) error {
	now := time.Now().UTC()
	if parish.ID == "" {
		parish.ID = uuid.NewString()
	}
	parish.CreatedAt = now
	parish.UpdatedAt = now
	const query = `INSERT INTO parishes (id, name, city, address, phone, email, active, created_at, updated_at)
        VALUES (:id, :name, :city, :address, :phone, :email, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, parish); err != nil {
		return fmt.Errorf("create parish: %w", err)
	}
	return nil
}

// Update persists mutations for an existing parish.
func (r *ParishRepository) Update(ctx context.Context, parish *models.Parish) error {
	parish.UpdatedAt = time.Now().UTC()
	const query = `UPDATE parishes SET name = :name, city = :city, address = :address,
        phone = :phone, email = :email, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, parish); err != nil {
		return fmt.Errorf("update parish: %w", err)
	}
	return nil
}
