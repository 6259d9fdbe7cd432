package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/taskwell/api/internal/domain"
	"github.com/taskwell/api/internal/repository"
	"github.com/taskwell/api/internal/service/auth"
	"github.com/taskwell/api/internal/service/task"
	"github.com/taskwell/api/pkg/config"
)

// fakeRepo implements the user and task repositories in memory.
type fakeRepo struct {
	users map[string]*domain.User
	tasks map[string]*domain.Task
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users: make(map[string]*domain.User),
		tasks: make(map[string]*domain.Task),
	}
}

func (f *fakeRepo) CreateUser(ctx context.Context, user *domain.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	clone := *user
	f.users[user.ID] = &clone
	return nil
}

func (f *fakeRepo) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	for _, user := range f.users {
		if user.Email == email {
			clone := *user
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeRepo) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	user, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (f *fakeRepo) CreateTask(ctx context.Context, t *domain.Task) error {
	next := 0
	for _, existing := range f.tasks {
		if existing.UserID == t.UserID && existing.SortOrder >= next {
			next = existing.SortOrder + 1
		}
	}
	t.SortOrder = next
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	clone := *t
	f.tasks[t.ID] = &clone
	return nil
}

func (f *fakeRepo) GetTaskByID(ctx context.Context, id string) (*domain.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *t
	return &clone, nil
}

func (f *fakeRepo) ListTasksByUser(ctx context.Context, userID string, filter repository.TaskFilter) ([]domain.Task, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	matched := make([]domain.Task, 0)
	for _, t := range f.tasks {
		if t.UserID != userID {
			continue
		}
		if filter.IsComplete != nil && t.IsComplete != *filter.IsComplete {
			continue
		}
		if filter.Priority != nil && t.Priority != *filter.Priority {
			continue
		}
		matched = append(matched, *t)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].SortOrder != matched[j].SortOrder {
			return matched[i].SortOrder < matched[j].SortOrder
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	total := len(matched)
	if filter.Offset >= total {
		return nil, total, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (f *fakeRepo) UpdateTask(ctx context.Context, t *domain.Task) error {
	stored, ok := f.tasks[t.ID]
	if !ok {
		return repository.ErrNotFound
	}
	stored.Title = t.Title
	stored.Description = t.Description
	stored.IsComplete = t.IsComplete
	stored.Priority = t.Priority
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeRepo) UpdateTaskSortOrder(ctx context.Context, id string, sortOrder int) (time.Time, error) {
	stored, ok := f.tasks[id]
	if !ok {
		return time.Time{}, repository.ErrNotFound
	}
	stored.SortOrder = sortOrder
	stored.UpdatedAt = time.Now().UTC()
	return stored.UpdatedAt, nil
}

func (f *fakeRepo) DeleteTask(ctx context.Context, id string) error {
	if _, ok := f.tasks[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.tasks, id)
	return nil
}

func (f *fakeRepo) ReorderTasks(ctx context.Context, userID string, updates []repository.SortOrderUpdate) error {
	for _, update := range updates {
		stored, ok := f.tasks[update.TaskID]
		if !ok {
			return repository.ErrNotFound
		}
		if stored.UserID != userID {
			return repository.ErrNotOwned
		}
	}
	for _, update := range updates {
		f.tasks[update.TaskID].SortOrder = update.SortOrder
	}
	return nil
}

func testConfig() config.APIConfig {
	return config.APIConfig{
		Environment:        "test",
		JWTSecret:          "router-test-secret",
		JWTIssuer:          "taskwell",
		JWTAudience:        "taskwell-clients",
		TokenTTL:           time.Hour,
		CORSAllowedOrigins: []string{"http://localhost:5173"},
	}
}

func newTestRouter(t *testing.T, dbHealth func(context.Context) error) (*Router, *fakeRepo) {
	t.Helper()
	repo := newFakeRepo()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()
	router := NewRouter(log, auth.New(repo, log, cfg), task.New(repo, log), NewMemoryRateLimiter(), cfg, dbHealth)
	t.Cleanup(router.Close)
	return router, repo
}

func doJSON(t *testing.T, router *Router, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(recorder.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return out
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

type authResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      domain.User `json:"user"`
}

func registerUser(t *testing.T, router *Router, email string) authResponse {
	t.Helper()
	recorder := doJSON(t, router, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    email,
		"password": "longenough",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("register returned %d: %s", recorder.Code, recorder.Body.String())
	}
	return decodeBody[authResponse](t, recorder)
}

func TestRegisterLoginMeFlow(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	registered := registerUser(t, router, "flow@example.com")
	if registered.Token == "" || registered.User.Email != "flow@example.com" {
		t.Fatalf("unexpected register response: %+v", registered)
	}
	if !registered.ExpiresAt.After(time.Now()) {
		t.Fatalf("token expiry not in the future: %v", registered.ExpiresAt)
	}

	recorder := doJSON(t, router, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    "flow@example.com",
		"password": "longenough",
	})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("duplicate register returned %d", recorder.Code)
	}
	if body := decodeBody[errorResponse](t, recorder); body.Error.Code != "User.EmailAlreadyExists" {
		t.Fatalf("unexpected error code %q", body.Error.Code)
	}

	recorder = doJSON(t, router, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "flow@example.com",
		"password": "longenough",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("login returned %d: %s", recorder.Code, recorder.Body.String())
	}
	login := decodeBody[authResponse](t, recorder)

	recorder = doJSON(t, router, http.MethodGet, "/api/auth/me", login.Token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("me returned %d: %s", recorder.Code, recorder.Body.String())
	}
	me := decodeBody[domain.User](t, recorder)
	if me.Email != "flow@example.com" {
		t.Fatalf("unexpected me payload: %+v", me)
	}

	recorder = doJSON(t, router, http.MethodGet, "/api/auth/me", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("me without token returned %d", recorder.Code)
	}

	recorder = doJSON(t, router, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "flow@example.com",
		"password": "wrong password",
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("bad login returned %d", recorder.Code)
	}
	if body := decodeBody[errorResponse](t, recorder); body.Error.Code != "Auth.InvalidCredentials" {
		t.Fatalf("unexpected error code %q", body.Error.Code)
	}
}

func TestTaskCRUDFlow(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	owner := registerUser(t, router, "owner@example.com")
	intruder := registerUser(t, router, "intruder@example.com")

	recorder := doJSON(t, router, http.MethodPost, "/api/tasks", owner.Token, map[string]any{
		"title":    "write report",
		"priority": "high",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", recorder.Code, recorder.Body.String())
	}
	created := decodeBody[domain.Task](t, recorder)
	if created.Priority != domain.PriorityHigh || created.SortOrder != 0 {
		t.Fatalf("unexpected created task: %+v", created)
	}

	recorder = doJSON(t, router, http.MethodGet, "/api/tasks/"+created.ID, owner.Token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("get returned %d", recorder.Code)
	}

	recorder = doJSON(t, router, http.MethodGet, "/api/tasks/"+created.ID, intruder.Token, nil)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("foreign get returned %d", recorder.Code)
	}
	if body := decodeBody[errorResponse](t, recorder); body.Error.Code != "Task.NotOwned" {
		t.Fatalf("unexpected error code %q", body.Error.Code)
	}

	recorder = doJSON(t, router, http.MethodGet, "/api/tasks?page=1&page_size=10", owner.Token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("list returned %d", recorder.Code)
	}
	page := decodeBody[task.Page](t, recorder)
	if page.TotalCount != 1 || len(page.Items) != 1 || page.PageSize != 10 {
		t.Fatalf("unexpected page: %+v", page)
	}

	recorder = doJSON(t, router, http.MethodPut, "/api/tasks/"+created.ID, owner.Token, map[string]any{
		"title":       "write final report",
		"priority":    "medium",
		"is_complete": true,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("update returned %d: %s", recorder.Code, recorder.Body.String())
	}
	updated := decodeBody[domain.Task](t, recorder)
	if updated.Title != "write final report" || !updated.IsComplete {
		t.Fatalf("unexpected updated task: %+v", updated)
	}

	recorder = doJSON(t, router, http.MethodPatch, "/api/tasks/"+created.ID+"/toggle-complete", owner.Token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("toggle returned %d", recorder.Code)
	}
	if toggled := decodeBody[domain.Task](t, recorder); toggled.IsComplete {
		t.Fatalf("toggle did not flip completion")
	}

	recorder = doJSON(t, router, http.MethodPut, "/api/tasks/"+created.ID+"/sort-order", owner.Token, map[string]int{"sort_order": 4})
	if recorder.Code != http.StatusOK {
		t.Fatalf("sort-order returned %d: %s", recorder.Code, recorder.Body.String())
	}
	if moved := decodeBody[domain.Task](t, recorder); moved.SortOrder != 4 {
		t.Fatalf("unexpected sort order: %+v", moved)
	}

	recorder = doJSON(t, router, http.MethodDelete, "/api/tasks/"+created.ID, owner.Token, nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("delete returned %d", recorder.Code)
	}

	recorder = doJSON(t, router, http.MethodGet, "/api/tasks/"+created.ID, owner.Token, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("get after delete returned %d", recorder.Code)
	}
	if body := decodeBody[errorResponse](t, recorder); body.Error.Code != "Task.NotFound" {
		t.Fatalf("unexpected error code %q", body.Error.Code)
	}
}

func TestReorderEndpoint(t *testing.T) {
	router, repo := newTestRouter(t, nil)
	owner := registerUser(t, router, "reorder@example.com")
	other := registerUser(t, router, "other@example.com")

	var ids []string
	for i := 0; i < 3; i++ {
		recorder := doJSON(t, router, http.MethodPost, "/api/tasks", owner.Token, map[string]string{
			"title": fmt.Sprintf("task %d", i),
		})
		if recorder.Code != http.StatusCreated {
			t.Fatalf("create returned %d", recorder.Code)
		}
		ids = append(ids, decodeBody[domain.Task](t, recorder).ID)
	}
	recorder := doJSON(t, router, http.MethodPost, "/api/tasks", other.Token, map[string]string{"title": "foreign"})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create returned %d", recorder.Code)
	}
	foreignID := decodeBody[domain.Task](t, recorder).ID

	recorder = doJSON(t, router, http.MethodPut, "/api/tasks/reorder", owner.Token, map[string]any{
		"items": []map[string]any{
			{"id": ids[0], "sort_order": 2},
			{"id": ids[1], "sort_order": 0},
			{"id": ids[2], "sort_order": 1},
		},
	})
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("reorder returned %d: %s", recorder.Code, recorder.Body.String())
	}
	if repo.tasks[ids[0]].SortOrder != 2 || repo.tasks[ids[1]].SortOrder != 0 {
		t.Fatalf("reorder not applied")
	}

	recorder = doJSON(t, router, http.MethodPut, "/api/tasks/reorder", owner.Token, map[string]any{
		"items": []map[string]any{},
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("empty reorder returned %d", recorder.Code)
	}

	recorder = doJSON(t, router, http.MethodPut, "/api/tasks/reorder", owner.Token, map[string]any{
		"items": []map[string]any{
			{"id": ids[0], "sort_order": 9},
			{"id": foreignID, "sort_order": 10},
		},
	})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("foreign reorder returned %d", recorder.Code)
	}
	if repo.tasks[ids[0]].SortOrder != 2 {
		t.Fatalf("failed reorder mutated rows")
	}

	recorder = doJSON(t, router, http.MethodPut, "/api/tasks/reorder", owner.Token, map[string]any{
		"items": []map[string]any{
			{"id": uuid.NewString(), "sort_order": 0},
		},
	})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("missing reorder returned %d", recorder.Code)
	}
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t, func(ctx context.Context) error { return nil })
	recorder := doJSON(t, router, http.MethodGet, "/healthz", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("healthz returned %d", recorder.Code)
	}

	failing, _ := newTestRouter(t, func(ctx context.Context) error { return errors.New("connection refused") })
	recorder = doJSON(t, failing, http.MethodGet, "/healthz", "", nil)
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded healthz returned %d", recorder.Code)
	}
}

func TestRegisterRateLimit(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	var last *httptest.ResponseRecorder
	for i := 0; i <= rateLimitRegister; i++ {
		last = doJSON(t, router, http.MethodPost, "/api/auth/register", "", map[string]string{
			"email":    fmt.Sprintf("user%d@example.com", i),
			"password": "longenough",
		})
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after %d requests, got %d", rateLimitRegister+1, last.Code)
	}
	if last.Header().Get("X-RateLimit-Limit") == "" || last.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("missing rate limit headers: %v", last.Header())
	}
}

func TestCORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/tasks", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("preflight returned %d", recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Fatalf("missing allow-origin header: %v", recorder.Header())
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/tasks", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	if recorder.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("disallowed origin was echoed back")
	}
}

func TestCancelledRequestReturns499(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	registered := registerUser(t, router, "gone@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+registered.Token)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != statusClientClosedRequest {
		t.Fatalf("expected 499, got %d: %s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody[errorResponse](t, recorder)
	if body.Error.Code != "Request.Cancelled" {
		t.Fatalf("expected Request.Cancelled, got %q", body.Error.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	recorder := doJSON(t, router, http.MethodDelete, "/api/auth/register", "", nil)
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", recorder.Code)
	}
}

func TestInvalidJSONBody(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader([]byte("{not json")))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}
