// Package backend is the HTTP client for the Socius backend API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Joseda-hg/socius/internal/model"
)

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
}

type Option func(*Client)

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.http = httpClient }
}

// WithTimeout bounds every request. A client passed with WithHTTPClient is
// copied, not modified.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.timeout = timeout }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 && c.http.Timeout != c.timeout {
		copied := *c.http
		copied.Timeout = c.timeout
		c.http = &copied
	}
	return c
}

type TaskInput struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Deadline    string       `json:"deadline"`
	Status      model.Status `json:"status,omitempty"`
	AssigneeID  string       `json:"assigned_to"`
	TeamID      string       `json:"team_id,omitempty"`
}

func (c *Client) ListTasks(ctx context.Context, filter model.Filter) ([]model.Task, error) {
	query := url.Values{}
	if filter.AssigneeID != "" {
		query.Set("assigned_to", filter.AssigneeID)
	}
	if filter.TeamID != "" {
		query.Set("team_id", filter.TeamID)
	}
	if filter.Status != "" {
		query.Set("status", string(filter.Status))
	}
	if filter.Query != "" {
		query.Set("q", filter.Query)
	}

	path := "/api/tasks"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var tasks []model.Task
	if err := c.do(ctx, http.MethodGet, path, nil, &tasks); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func (c *Client) GetTask(ctx context.Context, taskID string) (model.Task, error) {
	var task model.Task
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(taskID), nil, &task); err != nil {
		return model.Task{}, fmt.Errorf("get task %s: %w", taskID, err)
	}
	return task, nil
}

func (c *Client) CreateTask(ctx context.Context, input TaskInput) (model.Task, error) {
	var task model.Task
	if err := c.do(ctx, http.MethodPost, "/api/tasks", input, &task); err != nil {
		return model.Task{}, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// UpdateTaskStatus persists a status change and returns the stored task.
func (c *Client) UpdateTaskStatus(ctx context.Context, taskID string, status model.Status) (model.Task, error) {
	body := struct {
		Status model.Status `json:"status"`
	}{Status: status}

	var task model.Task
	if err := c.do(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(taskID)+"/status", body, &task); err != nil {
		return model.Task{}, fmt.Errorf("update task %s status: %w", taskID, err)
	}
	if task.ID == "" {
		return model.Task{}, fmt.Errorf("update task %s status: empty response", taskID)
	}
	return task, nil
}

func (c *Client) UpdateDeadline(ctx context.Context, taskID, deadline string) (model.Task, error) {
	body := struct {
		Deadline string `json:"deadline"`
	}{Deadline: deadline}

	var task model.Task
	if err := c.do(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(taskID)+"/deadline", body, &task); err != nil {
		return model.Task{}, fmt.Errorf("update task %s deadline: %w", taskID, err)
	}
	return task, nil
}

func (c *Client) ListHistory(ctx context.Context, taskID string) ([]model.HistoryEntry, error) {
	var history []model.HistoryEntry
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(taskID)+"/history", nil, &history); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return history, nil
}

func (c *Client) ListTeams(ctx context.Context) ([]model.Team, error) {
	var teams []model.Team
	if err := c.do(ctx, http.MethodGet, "/api/teams", nil, &teams); err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	return teams, nil
}

func (c *Client) GetTeam(ctx context.Context, teamID string) (model.Team, error) {
	var team model.Team
	if err := c.do(ctx, http.MethodGet, "/api/teams/"+url.PathEscape(teamID), nil, &team); err != nil {
		return model.Team{}, fmt.Errorf("get team %s: %w", teamID, err)
	}
	return team, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data, resp.Status)}
	}
	if dest == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

const maxMessageRunes = 200

// errorMessage pulls a readable message out of an error body. The backend
// uses "detail"; other services answer with "message" or "error".
func errorMessage(body []byte, fallback string) string {
	text := strings.TrimSpace(string(body))
	if gjson.Valid(text) {
		for _, path := range []string{"detail", "message", "error", "error.message"} {
			if value := gjson.Get(text, path); value.Exists() && value.Type == gjson.String && value.String() != "" {
				return value.String()
			}
		}
	}
	if text == "" {
		return fallback
	}
	if runes := []rune(text); len(runes) > maxMessageRunes {
		text = string(runes[:maxMessageRunes])
	}
	return text
}
