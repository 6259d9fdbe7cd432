package domain

import (
	"strings"
	"time"
)

// Priority orders tasks by urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority normalizes and validates a priority value.
func ParsePriority(value string) (Priority, bool) {
	switch Priority(strings.ToLower(strings.TrimSpace(value))) {
	case PriorityLow:
		return PriorityLow, true
	case PriorityMedium:
		return PriorityMedium, true
	case PriorityHigh:
		return PriorityHigh, true
	}
	return "", false
}

// Task is a single to-do item owned by exactly one user.
type Task struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	IsComplete  bool      `json:"is_complete"`
	Priority    Priority  `json:"priority"`
	SortOrder   int       `json:"sort_order"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
