package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/parroquia-tech/catequesis-api/internal/models"
)

// GroupRepository handles persistence of groups and catechist assignments.
type GroupRepository struct {
	db *sqlx.DB
}

// NewGroupRepository constructs the repository.
func NewGroupRepository(db *sqlx.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// List returns groups with level and parish context.
func (r *GroupRepository) List(ctx context.Context, filter models.GroupFilter) ([]models.GroupDetail, int, error) {
	base := `FROM groups g
LEFT JOIN levels l ON l.id = g.level_id
LEFT JOIN parishes p ON p.id = g.parish_id`
	where := []string{"1=1"}
	var args []interface{}

	if filter.ParishID != "" {
		where = append(where, fmt.Sprintf("g.parish_id = $%d", len(args)+1))
		args = append(args, filter.ParishID)
	}
	if filter.LevelID != "" {
		where = append(where, fmt.Sprintf("g.level_id = $%d", len(args)+1))
		args = append(args, filter.LevelID)
	}
	if filter.Year != 0 {
		where = append(where, fmt.Sprintf("g.year = $%d", len(args)+1))
		args = append(args, filter.Year)
	}
	if filter.Active != nil {
		where = append(where, fmt.Sprintf("g.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		where = append(where, fmt.Sprintf("g.name ILIKE $%d", len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}
	whereClause := strings.Join(where, " AND ")

	allowedSorts := map[string]string{
		"name":       "g.name",
		"year":       "g.year",
		"level":      "l.stage_order",
		"created_at": "g.created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "g.name"
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

	query := fmt.Sprintf(`SELECT g.id, g.parish_id, g.level_id, g.name, g.year, g.capacity, g.schedule, g.room,
        g.active, g.enrolled_count, g.avg_attendance, g.created_at, g.updated_at,
        l.name AS level_name, p.name AS parish_name
        %s WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, whereClause, orderBy, order, size, offset)

	var groups []models.GroupDetail
	if err := r.db.SelectContext(ctx, &groups, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list groups: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count groups: %w", err)
	}
	return groups, total, nil
}

// FindByID returns a group by its ID.
func (r *GroupRepository) FindByID(ctx context.Context, id string) (*models.Group, error) {
	const query = `SELECT id, parish_id, level_id, name, year, capacity, schedule, room, active,
        enrolled_count, avg_attendance, created_at, updated_at FROM groups WHERE id = $1`
	var group models.Group
	if err := r.db.GetContext(ctx, &group, query, id); err != nil {
		return nil, err
	}
	return &group, nil
}

// Create persists a new group record.
func (r *GroupRepository) Create(ctx context.Context, group *models.Group) error {
	now := time.Now().UTC()
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	group.CreatedAt = now
	group.UpdatedAt = now
	const query = `INSERT INTO groups (id, parish_id, level_id, name, year, capacity, schedule, room, active, enrolled_count, avg_attendance, created_at, updated_at)
        VALUES (:id, :parish_id, :level_id, :name, :year, :capacity, :schedule, :room, :active, :enrolled_count, :avg_attendance, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, group); err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	return nil
}

// Update persists mutations for an existing group.
func (r *GroupRepository) Update(ctx context.Context, group *models.Group) error {
	group.UpdatedAt = time.Now().UTC()
	const query = `UPDATE groups SET name = :name, level_id = :level_id, year = :year, capacity = :capacity,
        schedule = :schedule, room = :room, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, group); err != nil {
		return fmt.Errorf("update group: %w", err)
	}
	return nil
}

// CountActiveEnrollments counts enrollments currently occupying capacity.
func (r *GroupRepository) CountActiveEnrollments(ctx context.Context, groupID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE group_id = $1 AND active = TRUE`
	var count int
	if err := r.db.GetContext(ctx, &count, query, groupID); err != nil {
		return 0, fmt.Errorf("count active enrollments: %w", err)
	}
	return count, nil
}

// RefreshStats recomputes the group's derived enrollment count and average
// attendance from its active enrollments.
func (r *GroupRepository) RefreshStats(ctx context.Context, groupID string) error {
	const query = `UPDATE groups SET
        enrolled_count = (SELECT COUNT(*) FROM enrollments WHERE group_id = $1 AND active = TRUE),
        avg_attendance = COALESCE((SELECT AVG(attendance_percent) FROM enrollments WHERE group_id = $1 AND active = TRUE), 0),
        updated_at = NOW()
        WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, groupID); err != nil {
		return fmt.Errorf("refresh group stats: %w", err)
	}
	return nil
}

// ListCatechists returns the catechist assignments of a group.
func (r *GroupRepository) ListCatechists(ctx context.Context, groupID string) ([]models.GroupCatechistDetail, error) {
	const query = `SELECT gc.id, gc.group_id, gc.user_id, gc.role, gc.active, gc.assigned_at,
        u.full_name AS catechist_name, u.email AS catechist_email
        FROM group_catechists gc
        JOIN users u ON u.id = gc.user_id
        WHERE gc.group_id = $1
        ORDER BY gc.assigned_at`
	var assignments []models.GroupCatechistDetail
	if err := r.db.SelectContext(ctx, &assignments, query, groupID); err != nil {
		return nil, fmt.Errorf("list group catechists: %w", err)
	}
	return assignments, nil
}

// IsCatechistAssigned reports whether the user is an active catechist of the group.
func (r *GroupRepository) IsCatechistAssigned(ctx context.Context, groupID, userID string) (bool, error) {
	const query = `SELECT 1 FROM group_catechists WHERE group_id = $1 AND user_id = $2 AND active = TRUE LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, groupID, userID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check catechist assignment: %w", err)
	}
	return true, nil
}

// AssignCatechist creates an active assignment; re-assigning reactivates it.
func (r *GroupRepository) AssignCatechist(ctx context.Context, assignment *models.GroupCatechist) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	if assignment.AssignedAt.IsZero() {
		assignment.AssignedAt = time.Now().UTC()
	}
	assignment.Active = true
	const query = `INSERT INTO group_catechists (id, group_id, user_id, role, active, assigned_at)
        VALUES (:id, :group_id, :user_id, :role, :active, :assigned_at)
        ON CONFLICT (group_id, user_id)
        DO UPDATE SET role = EXCLUDED.role, active = TRUE, assigned_at = EXCLUDED.assigned_at`
	if _, err := r.db.NamedExecContext(ctx, query, assignment); err != nil {
		return fmt.Errorf("assign catechist: %w", err)
	}
	return nil
}

// RemoveCatechist deactivates an assignment.
func (r *GroupRepository) RemoveCatechist(ctx context.Context, groupID, userID string) error {
	const query = `UPDATE group_catechists SET active = FALSE WHERE group_id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, groupID, userID)
	if err != nil {
		return fmt.Errorf("remove catechist: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
