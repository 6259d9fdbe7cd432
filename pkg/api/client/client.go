// Package client provides typed access to the taskwell API for tools and tests.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client provides typed access to the taskwell API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithToken sets the bearer token for authenticated calls.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// SetToken replaces the bearer token used for authenticated calls.
func (c *Client) SetToken(token string) {
	c.token = strings.TrimSpace(token)
}

// APIError represents an error response from the API.
type APIError struct {
	Status      int
	Code        string
	Description string
}

func (e APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d) %s: %s", e.Status, e.Code, e.Description)
}

// User reflects API user payloads.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName *string   `json:"first_name,omitempty"`
	LastName  *string   `json:"last_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Task reflects API task payloads.
type Task struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	IsComplete  bool      `json:"is_complete"`
	Priority    string    `json:"priority"`
	SortOrder   int       `json:"sort_order"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AuthResponse captures the token payload emitted by register and login.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

// TaskPage is the paginated task listing envelope.
type TaskPage struct {
	Items      []Task `json:"items"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
	TotalCount int    `json:"total_count"`
	TotalPages int    `json:"total_pages"`
}

// RegisterInput carries a registration request.
type RegisterInput struct {
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
}

// TaskInput carries task create and update payloads.
type TaskInput struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Priority    string  `json:"priority,omitempty"`
	IsComplete  bool    `json:"is_complete"`
}

// ListOptions filter and page a task listing.
type ListOptions struct {
	Page       int
	PageSize   int
	IsComplete *bool
	Priority   string
}

// ReorderItem assigns a sort order to one task.
type ReorderItem struct {
	ID        string `json:"id"`
	SortOrder int    `json:"sort_order"`
}

// Register creates an account and stores the returned token on the client.
func (c *Client) Register(ctx context.Context, input RegisterInput) (*AuthResponse, error) {
	var out AuthResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", input, &out); err != nil {
		return nil, err
	}
	c.token = out.Token
	return &out, nil
}

// Login authenticates and stores the returned token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	payload := map[string]string{"email": email, "password": password}
	var out AuthResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", payload, &out); err != nil {
		return nil, err
	}
	c.token = out.Token
	return &out, nil
}

// Me returns the account behind the configured token.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var out User
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTasks fetches a page of tasks.
func (c *Client) ListTasks(ctx context.Context, opts ListOptions) (*TaskPage, error) {
	query := url.Values{}
	if opts.Page > 0 {
		query.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PageSize > 0 {
		query.Set("page_size", strconv.Itoa(opts.PageSize))
	}
	if opts.IsComplete != nil {
		query.Set("is_complete", strconv.FormatBool(*opts.IsComplete))
	}
	if opts.Priority != "" {
		query.Set("priority", opts.Priority)
	}
	path := "/api/tasks"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out TaskPage
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateTask stores a new task.
func (c *Client) CreateTask(ctx context.Context, input TaskInput) (*Task, error) {
	var out Task
	if err := c.do(ctx, http.MethodPost, "/api/tasks", input, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTask fetches one task by identifier.
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	var out Task
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateTask replaces the mutable fields of a task.
func (c *Client) UpdateTask(ctx context.Context, id string, input TaskInput) (*Task, error) {
	var out Task
	if err := c.do(ctx, http.MethodPut, "/api/tasks/"+url.PathEscape(id), input, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil)
}

// ToggleComplete flips a task's completion flag.
func (c *Client) ToggleComplete(ctx context.Context, id string) (*Task, error) {
	var out Task
	if err := c.do(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(id)+"/toggle-complete", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetSortOrder assigns a new sort order to one task.
func (c *Client) SetSortOrder(ctx context.Context, id string, sortOrder int) (*Task, error) {
	payload := map[string]int{"sort_order": sortOrder}
	var out Task
	if err := c.do(ctx, http.MethodPut, "/api/tasks/"+url.PathEscape(id)+"/sort-order", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reorder applies a batch of sort order updates atomically.
func (c *Client) Reorder(ctx context.Context, items []ReorderItem) error {
	payload := map[string][]ReorderItem{"items": items}
	return c.do(ctx, http.MethodPut, "/api/tasks/reorder", payload, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return extractError(resp)
	}

	if v == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(resp *http.Response) error {
	apiErr := APIError{Status: resp.StatusCode}
	data, err := io.ReadAll(resp.Body)
	if err != nil || len(data) == 0 {
		return apiErr
	}
	var payload struct {
		Error struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		apiErr.Description = strings.TrimSpace(string(data))
		return apiErr
	}
	apiErr.Code = payload.Error.Code
	apiErr.Description = payload.Error.Description
	return apiErr
}
