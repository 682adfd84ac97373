package model

import (
	"math"
	"strings"
	"time"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func ParsePriority(s string) (Priority, bool) {
	switch Priority(s) {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return Priority(s), true
	}
	return "", false
}

// Rank orders priorities for sorting: high before medium before low.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	}
	return 3
}

type Task struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"-"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Completed   bool       `json:"completed"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"due_date"`
	Tags        string     `json:"tags"`
	Color       string     `json:"color"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (t Task) IsOverdue() bool {
	return t.DueDate != nil && !t.Completed && time.Now().After(*t.DueDate)
}

// DaysUntilDue returns the whole days left until the due date, negative when
// past due, nil when the task has no due date.
func (t Task) DaysUntilDue() *int {
	if t.DueDate == nil {
		return nil
	}
	days := int(math.Floor(time.Until(*t.DueDate).Hours() / 24))
	return &days
}

// TagList splits the comma-separated tags field, dropping empty entries.
func (t Task) TagList() []string {
	if t.Tags == "" {
		return nil
	}
	var tags []string
	for _, tag := range strings.Split(t.Tags, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

type StatusFilter string

const (
	FilterAll       StatusFilter = "all"
	FilterCompleted StatusFilter = "completed"
	FilterActive    StatusFilter = "active"
	FilterOverdue   StatusFilter = "overdue"
)

func ParseStatusFilter(s string) StatusFilter {
	switch StatusFilter(s) {
	case FilterCompleted, FilterActive, FilterOverdue:
		return StatusFilter(s)
	}
	return FilterAll
}

type SortKey string

const (
	SortCreated  SortKey = "created"
	SortPriority SortKey = "priority"
	SortDueDate  SortKey = "due_date"
	SortTitle    SortKey = "title"
)

func ParseSortKey(s string) SortKey {
	switch SortKey(s) {
	case SortPriority, SortDueDate, SortTitle:
		return SortKey(s)
	}
	return SortCreated
}

type TaskFilter struct {
	Status   StatusFilter
	Priority *Priority
	Search   string
	Sort     SortKey
}
