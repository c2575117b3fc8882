package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/aits-api/internal/models"
)

const issueSelect = `SELECT i.id, i.title, i.category, i.description, i.status, i.priority, i.course_unit, i.year_of_study, i.semester, i.attachment, i.student_id, i.assigned_to, i.resolved_by, i.resolved_at, i.resolution_comment, i.created_at, i.updated_at,
	TRIM(CONCAT_WS(' ', s.first_name, s.last_name)) AS student_name,
	sp.department_id AS student_department_id,
	NULLIF(TRIM(CONCAT_WS(' ', l.first_name, l.last_name)), '') AS assigned_to_name`

const issueFrom = ` FROM issues i
	JOIN users s ON s.id = i.student_id
	LEFT JOIN student_profiles sp ON sp.user_id = i.student_id
	LEFT JOIN users l ON l.id = i.assigned_to`

// IssueRepository persists issues.
type IssueRepository struct {
	db *sqlx.DB
}

// NewIssueRepository constructs an IssueRepository.
func NewIssueRepository(db *sqlx.DB) *IssueRepository {
	return &IssueRepository{db: db}
}

// Create inserts a new issue.
func (r *IssueRepository) Create(ctx context.Context, issue *models.Issue) error {
	if issue.ID == "" {
		issue.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = now
	}
	issue.UpdatedAt = now

	const query = `INSERT INTO issues (id, title, category, description, status, priority, course_unit, year_of_study, semester, attachment, student_id, assigned_to, created_at, updated_at) VALUES (:id, :title, :category, :description, :status, :priority, :course_unit, :year_of_study, :semester, :attachment, :student_id, :assigned_to, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, issue); err != nil {
		return fmt.Errorf("create issue: %w", err)
	}
	return nil
}

// FindByID returns an issue with its read projections.
func (r *IssueRepository) FindByID(ctx context.Context, id string) (*models.Issue, error) {
	query := issueSelect + issueFrom + ` WHERE i.id = $1`
	var issue models.Issue
	if err := r.db.GetContext(ctx, &issue, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find issue: %w", err)
	}
	return &issue, nil
}

// List returns issues matching the filter together with the total count.
func (r *IssueRepository) List(ctx context.Context, filter models.IssueFilter) ([]models.Issue, int, error) {
	var conditions []string
	var args []interface{}
	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.StudentID != "" {
		conditions = append(conditions, "i.student_id = "+next(filter.StudentID))
	}
	switch {
	case filter.AssignedTo != "" && filter.DepartmentID != "":
		conditions = append(conditions, fmt.Sprintf("(i.assigned_to = %s OR sp.department_id = %s)", next(filter.AssignedTo), next(filter.DepartmentID)))
	case filter.AssignedTo != "":
		conditions = append(conditions, "i.assigned_to = "+next(filter.AssignedTo))
	}
	if filter.Status != nil {
		conditions = append(conditions, "i.status = "+next(*filter.Status))
	}
	if filter.Category != nil {
		conditions = append(conditions, "i.category = "+next(*filter.Category))
	}
	if filter.Priority != nil {
		conditions = append(conditions, "i.priority = "+next(*filter.Priority))
	}
	if filter.Search != "" {
		p := next("%" + strings.ToLower(filter.Search) + "%")
		conditions = append(conditions, fmt.Sprintf("(LOWER(i.title) LIKE %s OR LOWER(i.description) LIKE %s)", p, p))
	}

	where := " WHERE 1=1"
	if len(conditions) > 0 {
		where += " AND " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]bool{
		"created_at": true,
		"updated_at": true,
		"priority":   true,
		"status":     true,
		"title":      true,
	}
	sortBy := filter.SortBy
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}
	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("%s%s%s ORDER BY i.%s %s LIMIT %d OFFSET %d", issueSelect, issueFrom, where, sortBy, sortOrder, pageSize, offset)
	var issues []models.Issue
	if err := r.db.SelectContext(ctx, &issues, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list issues: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*)"+issueFrom+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count issues: %w", err)
	}
	return issues, total, nil
}

// Update writes every mutable column of the issue. Concurrent writers are
// not reconciled; the last update wins.
func (r *IssueRepository) Update(ctx context.Context, issue *models.Issue) error {
	issue.UpdatedAt = time.Now().UTC()
	const query = `UPDATE issues SET title = :title, category = :category, description = :description, status = :status, priority = :priority, course_unit = :course_unit, year_of_study = :year_of_study, semester = :semester, attachment = :attachment, assigned_to = :assigned_to, resolved_by = :resolved_by, resolved_at = :resolved_at, resolution_comment = :resolution_comment, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, issue)
	if err != nil {
		return fmt.Errorf("update issue: %w", err)
	}
	return expectAffected(res)
}

// Delete removes an issue. Its notifications are removed by the foreign key
// cascade.
func (r *IssueRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM issues WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete issue: %w", err)
	}
	return expectAffected(res)
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
