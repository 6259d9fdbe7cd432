package repository

import (
	"context"
	"time"

	"github.com/taskwell/api/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// TaskFilter narrows and pages task listings.
type TaskFilter struct {
	IsComplete *bool
	Priority   *domain.Priority
	Limit      int
	Offset     int
}

// SortOrderUpdate assigns a new sort order to a task in a reorder batch.
type SortOrderUpdate struct {
	TaskID    string
	SortOrder int
}

// TaskRepository persists tasks.
type TaskRepository interface {
	CreateTask(ctx context.Context, task *domain.Task) error
	GetTaskByID(ctx context.Context, id string) (*domain.Task, error)
	ListTasksByUser(ctx context.Context, userID string, filter TaskFilter) ([]domain.Task, int, error)
	UpdateTask(ctx context.Context, task *domain.Task) error
	UpdateTaskSortOrder(ctx context.Context, id string, sortOrder int) (time.Time, error)
	DeleteTask(ctx context.Context, id string) error
	// ReorderTasks applies every update inside one transaction. A missing
	// task surfaces ErrNotFound, a task owned by another user ErrNotOwned;
	// either rolls back the whole batch.
	ReorderTasks(ctx context.Context, userID string, updates []SortOrderUpdate) error
}
