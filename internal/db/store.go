package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Joseda-hg/socius/internal/model"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

type Store struct {
	DB  *sql.DB
	now func() time.Time
}

type TaskInput struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Deadline    string       `json:"deadline"`
	Status      model.Status `json:"status"`
	AssigneeID  string       `json:"assigned_to"`
	TeamID      string       `json:"team_id"`
}

func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, now: time.Now}
}

func (s *Store) timestamp() string {
	return model.FormatTimestamp(s.now())
}

// nextTimestamp is the clock reading for a row last touched at previous,
// moved past previous when the clock has not advanced.
func (s *Store) nextTimestamp(previous string) string {
	now := s.now()
	if last, ok := model.ParseTimestamp(previous); ok && !now.After(last) {
		now = last.Add(time.Nanosecond)
	}
	return model.FormatTimestamp(now)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) CreateUser(ctx context.Context, firstName, lastName string) (model.UserRef, error) {
	firstName = strings.TrimSpace(firstName)
	if firstName == "" {
		return model.UserRef{}, fmt.Errorf("%w: first name is required", ErrInvalidInput)
	}
	user := model.UserRef{ID: uuid.NewString(), FirstName: firstName, LastName: strings.TrimSpace(lastName)}
	if _, err := s.DB.ExecContext(ctx,
		"INSERT INTO users (id, first_name, last_name, created_at) VALUES (?, ?, ?, ?)",
		user.ID, user.FirstName, user.LastName, s.timestamp()); err != nil {
		return model.UserRef{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (model.UserRef, error) {
	var user model.UserRef
	err := s.DB.QueryRowContext(ctx, "SELECT id, first_name, last_name FROM users WHERE id = ?", userID).
		Scan(&user.ID, &user.FirstName, &user.LastName)
	if errors.Is(err, sql.ErrNoRows) {
		return model.UserRef{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return model.UserRef{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// CreateTeam creates a team; the leader is also added as a member.
func (s *Store) CreateTeam(ctx context.Context, name, leaderID string) (model.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Team{}, fmt.Errorf("%w: team name is required", ErrInvalidInput)
	}
	if _, err := s.GetUser(ctx, leaderID); err != nil {
		return model.Team{}, err
	}

	teamID := uuid.NewString()
	if _, err := s.DB.ExecContext(ctx,
		"INSERT INTO teams (id, name, leader_id, created_at) VALUES (?, ?, ?, ?)",
		teamID, name, leaderID, s.timestamp()); err != nil {
		return model.Team{}, fmt.Errorf("create team: %w", err)
	}
	if err := s.AddTeamMember(ctx, teamID, leaderID); err != nil {
		return model.Team{}, err
	}
	return s.GetTeam(ctx, teamID)
}

func (s *Store) AddTeamMember(ctx context.Context, teamID, userID string) error {
	if _, err := s.DB.ExecContext(ctx,
		"INSERT OR IGNORE INTO team_members (team_id, user_id) VALUES (?, ?)", teamID, userID); err != nil {
		return fmt.Errorf("add team member: %w", err)
	}
	return nil
}

const teamColumns = `SELECT t.id, t.name, u.id, u.first_name, u.last_name
	FROM teams t JOIN users u ON u.id = t.leader_id`

func (s *Store) GetTeam(ctx context.Context, teamID string) (model.Team, error) {
	var team model.Team
	err := s.DB.QueryRowContext(ctx, teamColumns+" WHERE t.id = ?", teamID).
		Scan(&team.ID, &team.Name, &team.Leader.ID, &team.Leader.FirstName, &team.Leader.LastName)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Team{}, fmt.Errorf("team %s: %w", teamID, ErrNotFound)
	}
	if err != nil {
		return model.Team{}, fmt.Errorf("get team: %w", err)
	}

	members, err := s.listMembers(ctx, teamID)
	if err != nil {
		return model.Team{}, err
	}
	team.Members = members
	return team, nil
}

func (s *Store) ListTeams(ctx context.Context) ([]model.Team, error) {
	rows, err := s.DB.QueryContext(ctx, teamColumns+" ORDER BY t.name")
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}

	var teams []model.Team
	for rows.Next() {
		var team model.Team
		if err := rows.Scan(&team.ID, &team.Name, &team.Leader.ID, &team.Leader.FirstName, &team.Leader.LastName); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, team)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range teams {
		members, err := s.listMembers(ctx, teams[i].ID)
		if err != nil {
			return nil, err
		}
		teams[i].Members = members
	}
	return teams, nil
}

func (s *Store) listMembers(ctx context.Context, teamID string) ([]model.UserRef, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT u.id, u.first_name, u.last_name
		FROM team_members m JOIN users u ON u.id = m.user_id
		WHERE m.team_id = ?
		ORDER BY u.first_name, u.last_name`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := []model.UserRef{}
	for rows.Next() {
		var user model.UserRef
		if err := rows.Scan(&user.ID, &user.FirstName, &user.LastName); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, user)
	}
	return members, rows.Err()
}

// CreateTask stores a new task. New tasks start as in_progress unless pending
// is asked for.
func (s *Store) CreateTask(ctx context.Context, input TaskInput) (model.Task, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return model.Task{}, fmt.Errorf("%w: task name is required", ErrInvalidInput)
	}
	if _, ok := model.ParseTimestamp(input.Deadline); !ok {
		return model.Task{}, fmt.Errorf("%w: deadline %q", ErrInvalidInput, input.Deadline)
	}
	status := input.Status
	if status == "" {
		status = model.StatusInProgress
	}
	if status != model.StatusPending && status != model.StatusInProgress {
		return model.Task{}, fmt.Errorf("%w: new tasks must be pending or in_progress, got %q", ErrInvalidInput, status)
	}
	if _, err := s.GetUser(ctx, input.AssigneeID); err != nil {
		return model.Task{}, err
	}

	var teamID sql.NullString
	if input.TeamID != "" {
		if _, err := s.GetTeam(ctx, input.TeamID); err != nil {
			return model.Task{}, err
		}
		teamID = sql.NullString{String: input.TeamID, Valid: true}
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.Task{}, fmt.Errorf("begin create task: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id := uuid.NewString()
	now := s.timestamp()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, team_id, name, description, deadline, status, assigned_to, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, teamID, name, input.Description, strings.TrimSpace(input.Deadline), status, input.AssigneeID, now, now); err != nil {
		return model.Task{}, fmt.Errorf("create task: %w", err)
	}

	created, err := getTask(ctx, tx, id)
	if err != nil {
		return model.Task{}, err
	}
	if err := s.addHistory(ctx, tx, id, "created", formatCreatedDetails(created)); err != nil {
		return model.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Task{}, fmt.Errorf("commit create task: %w", err)
	}
	return created, nil
}

const taskColumns = `SELECT t.id, COALESCE(t.team_id, ''), t.name, t.description, t.deadline, t.status,
	u.id, u.first_name, u.last_name, t.created_at, t.updated_at
	FROM tasks t JOIN users u ON u.id = t.assigned_to`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (model.Task, error) {
	var task model.Task
	err := row.Scan(&task.ID, &task.TeamID, &task.Name, &task.Description, &task.Deadline, &task.Status,
		&task.AssignedTo.ID, &task.AssignedTo.FirstName, &task.AssignedTo.LastName, &task.CreatedAt, &task.UpdatedAt)
	return task, err
}

func (s *Store) GetTask(ctx context.Context, taskID string) (model.Task, error) {
	return getTask(ctx, s.DB, taskID)
}

func getTask(ctx context.Context, q querier, taskID string) (model.Task, error) {
	task, err := scanTask(q.QueryRowContext(ctx, taskColumns+" WHERE t.id = ?", taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return model.Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (s *Store) ListTasks(ctx context.Context, filter model.Filter) ([]model.Task, error) {
	var clauses []string
	var args []any
	if filter.AssigneeID != "" {
		clauses = append(clauses, "t.assigned_to = ?")
		args = append(args, filter.AssigneeID)
	}
	if filter.TeamID != "" {
		clauses = append(clauses, "t.team_id = ?")
		args = append(args, filter.TeamID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "t.status = ?")
		args = append(args, filter.Status)
	}
	if query := strings.TrimSpace(filter.Query); query != "" {
		clauses = append(clauses, "(LOWER(t.name) LIKE ? OR LOWER(t.description) LIKE ?)")
		pattern := "%" + strings.ToLower(query) + "%"
		args = append(args, pattern, pattern)
	}

	statement := taskColumns
	if len(clauses) > 0 {
		statement += " WHERE " + strings.Join(clauses, " AND ")
	}
	statement += " ORDER BY t.deadline, t.name"

	rows, err := s.DB.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	result := []model.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		result = append(result, task)
	}
	return result, rows.Err()
}

// UpdateTaskStatus stores status as given. Whoever writes last wins.
func (s *Store) UpdateTaskStatus(ctx context.Context, taskID string, status model.Status) (model.Task, error) {
	if !status.IsValid() {
		return model.Task{}, fmt.Errorf("%w: status %q", ErrInvalidInput, status)
	}
	return s.updateTask(ctx, taskID, "status", status)
}

// UpdateTaskDeadline moves the deadline. The status is left alone, so a task
// that already failed stays failed.
func (s *Store) UpdateTaskDeadline(ctx context.Context, taskID, deadline string) (model.Task, error) {
	if _, ok := model.ParseTimestamp(deadline); !ok {
		return model.Task{}, fmt.Errorf("%w: deadline %q", ErrInvalidInput, deadline)
	}
	return s.updateTask(ctx, taskID, "deadline", strings.TrimSpace(deadline))
}

// updateTask sets one column, bumps updated_at and records the change in
// history. Either all of it is stored or none of it.
func (s *Store) updateTask(ctx context.Context, taskID, column string, value any) (model.Task, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.Task{}, fmt.Errorf("begin update %s: %w", column, err)
	}
	defer func() { _ = tx.Rollback() }()

	before, err := getTask(ctx, tx, taskID)
	if err != nil {
		return model.Task{}, err
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE tasks SET "+column+" = ?, updated_at = ? WHERE id = ?", value, s.nextTimestamp(before.UpdatedAt), taskID); err != nil {
		return model.Task{}, fmt.Errorf("update %s: %w", column, err)
	}

	after, err := getTask(ctx, tx, taskID)
	if err != nil {
		return model.Task{}, err
	}
	if err := s.addHistory(ctx, tx, taskID, column, formatTaskDiff(before, after)); err != nil {
		return model.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Task{}, fmt.Errorf("commit update %s: %w", column, err)
	}
	return after, nil
}

func (s *Store) ListHistory(ctx context.Context, taskID string) ([]model.HistoryEntry, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT id, task_id, event_type, details, created_at FROM history WHERE task_id = ? ORDER BY id", taskID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	history := []model.HistoryEntry{}
	for rows.Next() {
		var entry model.HistoryEntry
		var createdAt string
		if err := rows.Scan(&entry.ID, &entry.TaskID, &entry.EventType, &entry.Details, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entry.CreatedAt, _ = model.ParseTimestamp(createdAt)
		history = append(history, entry)
	}
	return history, rows.Err()
}

func (s *Store) addHistory(ctx context.Context, q querier, taskID, eventType, details string) error {
	if _, err := q.ExecContext(ctx,
		"INSERT INTO history (task_id, event_type, details, created_at) VALUES (?, ?, ?, ?)",
		taskID, eventType, details, s.timestamp()); err != nil {
		return fmt.Errorf("add history: %w", err)
	}
	return nil
}

func formatCreatedDetails(task model.Task) string {
	return fmt.Sprintf("created: name='%s' status=%s deadline=%s assignee=%s", task.Name, task.Status, task.Deadline, valueOrNone(task.AssignedTo.FullName()))
}

func formatTaskDiff(before, after model.Task) string {
	changes := []string{}
	if before.Status != after.Status {
		changes = append(changes, formatChange("status", string(before.Status), string(after.Status)))
	}
	if before.Deadline != after.Deadline {
		changes = append(changes, formatChange("deadline", before.Deadline, after.Deadline))
	}

	if len(changes) == 0 {
		return "updated: no changes"
	}

	return "updated: " + strings.Join(changes, "; ")
}

func formatChange(field, before, after string) string {
	return fmt.Sprintf("%s: '%s' -> '%s'", field, valueOrNone(before), valueOrNone(after))
}

func valueOrNone(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "none"
	}
	return trimmed
}
