package model

import (
	"strings"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsValid reports whether s is one of the four known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether s is never overwritten automatically.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type UserRef struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (u UserRef) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type Task struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Deadline    string  `json:"deadline"`
	Status      Status  `json:"status"`
	AssignedTo  UserRef `json:"assigned_to"`
	TeamID      string  `json:"team_id,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

var deadlineLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// DeadlineTime parses the task deadline. Values without a zone are read as UTC.
func (t Task) DeadlineTime() (time.Time, bool) {
	return ParseTimestamp(t.Deadline)
}

func ParseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range deadlineLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// FormatTimestamp renders t the way the backend stores timestamps.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

type Team struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Leader  UserRef   `json:"leader"`
	Members []UserRef `json:"members"`
}

// Actor is the user asking for a manual status change. TeamLeader only
// applies to tasks of TeamID.
type Actor struct {
	UserID     string
	TeamID     string
	TeamLeader bool
}

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Notification struct {
	Level   Level
	Message string
	TaskID  string
	At      time.Time
}

type HistoryEntry struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	EventType string    `json:"event_type"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}

type Filter struct {
	AssigneeID string `json:"assignee_id"`
	TeamID     string `json:"team_id"`
	Status     Status `json:"status"`
	Query      string `json:"query"`
}

// Match reports whether task passes every non-empty filter field.
func (f Filter) Match(task Task) bool {
	if f.AssigneeID != "" && task.AssignedTo.ID != f.AssigneeID {
		return false
	}
	if f.TeamID != "" && task.TeamID != f.TeamID {
		return false
	}
	if f.Status != "" && task.Status != f.Status {
		return false
	}
	if query := strings.ToLower(strings.TrimSpace(f.Query)); query != "" {
		if !strings.Contains(strings.ToLower(task.Name), query) && !strings.Contains(strings.ToLower(task.Description), query) {
			return false
		}
	}
	return true
}
