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

// CatechumenRepository handles persistence of catechumens.
type CatechumenRepository struct {
	db *sqlx.DB
}

// NewCatechumenRepository constructs the repository.
func NewCatechumenRepository(db *sqlx.DB) *CatechumenRepository {
	return &CatechumenRepository{db: db}
}

const catechumenColumns = `id, parish_id, first_name, last_name, birth_date, document_id, guardian_name, guardian_phone, address, active, created_at, updated_at`

// List returns catechumens matching the filter.
func (r *CatechumenRepository) List(ctx context.Context, filter models.CatechumenFilter) ([]models.Catechumen, int, error) {
	where := []string{"1=1"}
	var args []interface{}

	if filter.ParishID != "" {
		where = append(where, fmt.Sprintf("parish_id = $%d", len(args)+1))
		args = append(args, filter.ParishID)
	}
	if filter.Active != nil {
		where = append(where, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		where = append(where, fmt.Sprintf("(first_name ILIKE $%d OR last_name ILIKE $%d OR document_id ILIKE $%d)",
			len(args)+1, len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}
	whereClause := strings.Join(where, " AND ")

	allowedSorts := map[string]string{
		"last_name":  "last_name",
		"first_name": "first_name",
		"created_at": "created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "last_name"
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

	query := fmt.Sprintf(`SELECT %s FROM catechumens WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d`,
		catechumenColumns, whereClause, orderBy, order, size, offset)

	var catechumens []models.Catechumen
	if err := r.db.SelectContext(ctx, &catechumens, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list catechumens: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM catechumens WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count catechumens: %w", err)
	}
	return catechumens, total, nil
}

// FindByID returns a catechumen by its ID.
func (r *CatechumenRepository) FindByID(ctx context.Context, id string) (*models.Catechumen, error) {
	query := fmt.Sprintf(`SELECT %s FROM catechumens WHERE id = $1`, catechumenColumns)
	var catechumen models.Catechumen
	if err := r.db.GetContext(ctx, &catechumen, query, id); err != nil {
		return nil, err
	}
	return &catechumen, nil
}

// Create persists a new catechumen record.
func (r *CatechumenRepository) Create(ctx context.Context, catechumen *models.Catechumen) error {
	now := time.Now().UTC()
	if catechumen.ID == "" {
		catechumen.ID = uuid.NewString()
	}
	catechumen.CreatedAt = now
	catechumen.UpdatedAt = now
	const query = `INSERT INTO catechumens (id, parish_id, first_name, last_name, birth_date, document_id, guardian_name, guardian_phone, address, active, created_at, updated_at)
        VALUES (:id, :parish_id, :first_name, :last_name, :birth_date, :document_id, :guardian_name, :guardian_phone, :address, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, catechumen); err != nil {
		return fmt.Errorf("create catechumen: %w", err)
	}
	return nil
}

// Update persists mutations for an existing catechumen.
func (r *CatechumenRepository) Update(ctx context.Context, catechumen *models.Catechumen) error {
	catechumen.UpdatedAt = time.Now().UTC()
	const query = `UPDATE catechumens SET first_name = :first_name, last_name = :last_name, birth_date = :birth_date,
        document_id = :document_id, guardian_name = :guardian_name, guardian_phone = :guardian_phone,
        address = :address, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, catechumen); err != nil {
		return fmt.Errorf("update catechumen: %w", err)
	}
	return nil
}
