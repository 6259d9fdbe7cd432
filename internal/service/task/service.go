// Package task implements task CRUD, listing and ordering on top of the
// repository, enforcing per-user ownership on every operation.
package task

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"log/slog"

	"github.com/google/uuid"

	"github.com/taskwell/api/internal/apperr"
	"github.com/taskwell/api/internal/domain"
	"github.com/taskwell/api/internal/repository"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 2000
	maxReorderItems      = 500

	defaultPageSize = 20
	maxPageSize     = 100
)

// Service handles task business rules.
type Service struct {
	tasks  repository.TaskRepository
	logger *slog.Logger
}

// New constructs a Service.
func New(tasks repository.TaskRepository, logger *slog.Logger) Service {
	return Service{tasks: tasks, logger: logger}
}

// CreateInput carries a task creation request.
type CreateInput struct {
	Title       string
	Description *string
	Priority    *string
}

// UpdateInput carries a full task update.
type UpdateInput struct {
	Title       string
	Description *string
	Priority    string
	IsComplete  bool
}

// ListInput filters and pages a task listing.
type ListInput struct {
	Page       int
	PageSize   int
	IsComplete *bool
	Priority   *string
}

// Page is the listing response envelope.
type Page struct {
	Items      []domain.Task `json:"items"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalCount int           `json:"total_count"`
	TotalPages int           `json:"total_pages"`
}

// ReorderItem assigns a sort order to one task in a reorder batch.
type ReorderItem struct {
	ID        string `json:"id"`
	SortOrder int    `json:"sort_order"`
}

// Create stores a new task for the user. Sort order is assigned after the
// user's current last task.
func (s Service) Create(ctx context.Context, userID string, input CreateInput) (*domain.Task, error) {
	title, err := validTitle(input.Title)
	if err != nil {
		return nil, err
	}
	description, err := validDescription(input.Description)
	if err != nil {
		return nil, err
	}
	priority := domain.PriorityMedium
	if input.Priority != nil && strings.TrimSpace(*input.Priority) != "" {
		parsed, ok := domain.ParsePriority(*input.Priority)
		if !ok {
			return nil, apperr.New(apperr.CodeTaskValidation, "priority must be low, medium or high")
		}
		priority = parsed
	}

	task := &domain.Task{
		ID:          uuid.NewString(),
		UserID:      userID,
		Title:       title,
		Description: description,
		Priority:    priority,
	}
	if err := s.tasks.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	s.logger.Info("task created", "task_id", task.ID, "user_id", userID)
	return task, nil
}

// Get returns a task after checking the caller owns it.
func (s Service) Get(ctx context.Context, userID, taskID string) (*domain.Task, error) {
	return s.ownedTask(ctx, userID, taskID)
}

// List returns a page of the user's tasks, optionally filtered by completion
// state and priority. Ordering is sort_order then creation time.
func (s Service) List(ctx context.Context, userID string, input ListInput) (*Page, error) {
	page := input.Page
	if page < 1 {
		page = 1
	}
	pageSize := input.PageSize
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	filter := repository.TaskFilter{
		IsComplete: input.IsComplete,
		Limit:      pageSize,
		Offset:     (page - 1) * pageSize,
	}
	if input.Priority != nil && strings.TrimSpace(*input.Priority) != "" {
		parsed, ok := domain.ParsePriority(*input.Priority)
		if !ok {
			return nil, apperr.New(apperr.CodeTaskValidation, "priority must be low, medium or high")
		}
		filter.Priority = &parsed
	}

	items, total, err := s.tasks.ListTasksByUser(ctx, userID, filter)
	if err != nil {
		return nil, err
	}
	totalPages := total / pageSize
	if total%pageSize != 0 {
		totalPages++
	}
	return &Page{
		Items:      items,
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: totalPages,
	}, nil
}

// Update replaces the mutable fields of an owned task.
func (s Service) Update(ctx context.Context, userID, taskID string, input UpdateInput) (*domain.Task, error) {
	task, err := s.ownedTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	title, err := validTitle(input.Title)
	if err != nil {
		return nil, err
	}
	description, err := validDescription(input.Description)
	if err != nil {
		return nil, err
	}
	priority, ok := domain.ParsePriority(input.Priority)
	if !ok {
		return nil, apperr.New(apperr.CodeTaskValidation, "priority must be low, medium or high")
	}

	task.Title = title
	task.Description = description
	task.Priority = priority
	task.IsComplete = input.IsComplete
	if err := s.tasks.UpdateTask(ctx, task); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.CodeTaskNotFound, "task not found")
		}
		return nil, err
	}
	return task, nil
}

// Delete removes an owned task.
func (s Service) Delete(ctx context.Context, userID, taskID string) error {
	if _, err := s.ownedTask(ctx, userID, taskID); err != nil {
		return err
	}
	if err := s.tasks.DeleteTask(ctx, taskID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.New(apperr.CodeTaskNotFound, "task not found")
		}
		return err
	}
	s.logger.Info("task deleted", "task_id", taskID, "user_id", userID)
	return nil
}

// ToggleComplete flips the completion flag of an owned task.
func (s Service) ToggleComplete(ctx context.Context, userID, taskID string) (*domain.Task, error) {
	task, err := s.ownedTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	task.IsComplete = !task.IsComplete
	if err := s.tasks.UpdateTask(ctx, task); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.CodeTaskNotFound, "task not found")
		}
		return nil, err
	}
	return task, nil
}

// SetSortOrder assigns a new sort order to a single owned task.
func (s Service) SetSortOrder(ctx context.Context, userID, taskID string, sortOrder int) (*domain.Task, error) {
	if sortOrder < 0 {
		return nil, apperr.New(apperr.CodeTaskValidation, "sort_order must not be negative")
	}
	task, err := s.ownedTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	updatedAt, err := s.tasks.UpdateTaskSortOrder(ctx, taskID, sortOrder)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.CodeTaskNotFound, "task not found")
		}
		return nil, err
	}
	task.SortOrder = sortOrder
	task.UpdatedAt = updatedAt
	return task, nil
}

// Reorder applies a batch of sort order updates in one transaction. Any
// missing or foreign task fails the whole batch and nothing changes.
func (s Service) Reorder(ctx context.Context, userID string, items []ReorderItem) error {
	if len(items) == 0 {
		return apperr.New(apperr.CodeTaskValidation, "at least one item is required")
	}
	if len(items) > maxReorderItems {
		return apperr.Newf(apperr.CodeTaskValidation, "at most %d items may be reordered at once", maxReorderItems)
	}
	seen := make(map[string]struct{}, len(items))
	updates := make([]repository.SortOrderUpdate, 0, len(items))
	for _, item := range items {
		if uuid.Validate(item.ID) != nil {
			return apperr.Newf(apperr.CodeTaskValidation, "invalid task id %q", item.ID)
		}
		if item.SortOrder < 0 {
			return apperr.New(apperr.CodeTaskValidation, "sort_order must not be negative")
		}
		if _, dup := seen[item.ID]; dup {
			return apperr.Newf(apperr.CodeTaskValidation, "duplicate task id %q", item.ID)
		}
		seen[item.ID] = struct{}{}
		updates = append(updates, repository.SortOrderUpdate{TaskID: item.ID, SortOrder: item.SortOrder})
	}

	if err := s.tasks.ReorderTasks(ctx, userID, updates); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return apperr.New(apperr.CodeTaskNotFound, "task not found")
		case errors.Is(err, repository.ErrNotOwned):
			return apperr.New(apperr.CodeTaskNotOwned, "task belongs to another user")
		}
		return err
	}
	s.logger.Info("tasks reordered", "user_id", userID, "count", len(items))
	return nil
}

func (s Service) ownedTask(ctx context.Context, userID, taskID string) (*domain.Task, error) {
	if uuid.Validate(taskID) != nil {
		return nil, apperr.New(apperr.CodeTaskValidation, "invalid task id")
	}
	task, err := s.tasks.GetTaskByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.CodeTaskNotFound, "task not found")
		}
		return nil, err
	}
	if task.UserID != userID {
		return nil, apperr.New(apperr.CodeTaskNotOwned, "task belongs to another user")
	}
	return task, nil
}

func validTitle(title string) (string, error) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return "", apperr.New(apperr.CodeTaskValidation, "title is required")
	}
	if utf8.RuneCountInString(trimmed) > maxTitleLength {
		return "", apperr.Newf(apperr.CodeTaskValidation, "title must be at most %d characters", maxTitleLength)
	}
	return trimmed, nil
}

func validDescription(description *string) (*string, error) {
	if description == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*description)
	if trimmed == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(trimmed) > maxDescriptionLength {
		return nil, apperr.Newf(apperr.CodeTaskValidation, "description must be at most %d characters", maxDescriptionLength)
	}
	return &trimmed, nil
}
