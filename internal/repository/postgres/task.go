package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/taskwell/api/internal/domain"
	"github.com/taskwell/api/internal/repository"
)

const taskColumns = `id, user_id, title, description, is_complete, priority, sort_order, created_at, updated_at`

// CreateTask inserts a task, placing it after the owner's current last task.
func (r *Repository) CreateTask(ctx context.Context, task *domain.Task) error {
	const query = `INSERT INTO tasks (id, user_id, title, description, is_complete, priority, sort_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6,
			(SELECT COALESCE(MAX(sort_order) + 1, 0) FROM tasks WHERE user_id = $2),
			NOW(), NOW())
		RETURNING sort_order, created_at, updated_at`
	var sortOrder int
	var createdAt, updatedAt time.Time
	err := r.pool.QueryRow(ctx, query,
		task.ID,
		task.UserID,
		task.Title,
		task.Description,
		task.IsComplete,
		task.Priority,
	).Scan(&sortOrder, &createdAt, &updatedAt)
	if err != nil {
		return translateError(err)
	}
	task.SortOrder = sortOrder
	task.CreatedAt = createdAt
	task.UpdatedAt = updatedAt
	return nil
}

// GetTaskByID loads a single task.
func (r *Repository) GetTaskByID(ctx context.Context, id string) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	task, err := scanTask(row)
	if err != nil {
		return nil, translateError(err)
	}
	return task, nil
}

// ListTasksByUser returns a page of the user's tasks plus the filtered total.
func (r *Repository) ListTasksByUser(ctx context.Context, userID string, filter repository.TaskFilter) ([]domain.Task, int, error) {
	conditions := []string{"user_id = $1"}
	args := []any{userID}
	if filter.IsComplete != nil {
		args = append(args, *filter.IsComplete)
		conditions = append(conditions, fmt.Sprintf("is_complete = $%d", len(args)))
	}
	if filter.Priority != nil {
		args = append(args, *filter.Priority)
		conditions = append(conditions, fmt.Sprintf("priority = $%d", len(args)))
	}
	where := strings.Join(conditions, " AND ")

	countQuery := `SELECT COUNT(1) FROM tasks WHERE ` + where
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, translateError(err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	listQuery := fmt.Sprintf(`SELECT %s FROM tasks WHERE %s ORDER BY sort_order ASC, created_at ASC LIMIT $%d OFFSET $%d`,
		taskColumns, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, translateError(err)
	}
	defer rows.Close()

	tasks := make([]domain.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, 0, translateError(err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, total, rows.Err()
}

// UpdateTask writes the mutable fields of a task.
func (r *Repository) UpdateTask(ctx context.Context, task *domain.Task) error {
	const query = `UPDATE tasks
		SET title = $2,
			description = $3,
			is_complete = $4,
			priority = $5,
			updated_at = NOW()
		WHERE id = $1 RETURNING updated_at`
	var updatedAt time.Time
	err := r.pool.QueryRow(ctx, query,
		task.ID,
		task.Title,
		task.Description,
		task.IsComplete,
		task.Priority,
	).Scan(&updatedAt)
	if err != nil {
		return translateError(err)
	}
	task.UpdatedAt = updatedAt
	return nil
}

// UpdateTaskSortOrder assigns a new sort order to one task and reports the
// resulting update timestamp.
func (r *Repository) UpdateTaskSortOrder(ctx context.Context, id string, sortOrder int) (time.Time, error) {
	const query = `UPDATE tasks SET sort_order = $2, updated_at = NOW() WHERE id = $1 RETURNING updated_at`
	var updatedAt time.Time
	if err := r.pool.QueryRow(ctx, query, id, sortOrder).Scan(&updatedAt); err != nil {
		return time.Time{}, translateError(err)
	}
	return updatedAt, nil
}

// DeleteTask removes a task by identifier.
func (r *Repository) DeleteTask(ctx context.Context, id string) error {
	const query = `DELETE FROM tasks WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return translateError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ReorderTasks applies the batch inside one transaction. Each row's owner is
// checked before the update so a foreign task rolls back the whole batch.
func (r *Repository) ReorderTasks(ctx context.Context, userID string, updates []repository.SortOrderUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const ownerQuery = `SELECT user_id FROM tasks WHERE id = $1`
	const updateQuery = `UPDATE tasks SET sort_order = $2, updated_at = NOW() WHERE id = $1`
	for _, update := range updates {
		var owner string
		if err := tx.QueryRow(ctx, ownerQuery, update.TaskID).Scan(&owner); err != nil {
			return translateError(err)
		}
		if owner != userID {
			return repository.ErrNotOwned
		}
		if _, err := tx.Exec(ctx, updateQuery, update.TaskID, update.SortOrder); err != nil {
			return translateError(err)
		}
	}
	return tx.Commit(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var task domain.Task
	if err := row.Scan(
		&task.ID,
		&task.UserID,
		&task.Title,
		&task.Description,
		&task.IsComplete,
		&task.Priority,
		&task.SortOrder,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &task, nil
}
