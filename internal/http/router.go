// Package httpx binds the REST surface to services: decoding, claims
// extraction, rate limiting and status mapping live here.
package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taskwell/api/internal/apperr"
	"github.com/taskwell/api/internal/service/auth"
	"github.com/taskwell/api/internal/service/task"
	"github.com/taskwell/api/pkg/config"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux         *http.ServeMux
	handler     http.Handler
	logger      *slog.Logger
	auth        auth.Service
	tasks       task.Service
	limiter     RateLimiter
	environment string
	corsOrigins []string
	dbHealth    func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateLimitRegister  = 5
	rateLimitLogin     = 12
	rateLimitUserRead  = 120
	rateLimitUserWrite = 60
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, taskSvc task.Service, limiter RateLimiter, cfg config.APIConfig, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:         http.NewServeMux(),
		logger:      logger,
		auth:        authSvc,
		tasks:       taskSvc,
		limiter:     limiter,
		environment: cfg.Environment,
		corsOrigins: cfg.CORSAllowedOrigins,
		dbHealth:    dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	r.handler = r.withRecovery(r.withCORS(r.mux))
	return r
}

// ServeHTTP delegates to the middleware chain around the mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/api/auth/register", r.audit("/api/auth/register", r.withRateLimit("/api/auth/register", rateLimitRegister, rateWindowDefault, rateLimitKeyIP, r.handleRegister)))
	r.mux.HandleFunc("/api/auth/login", r.audit("/api/auth/login", r.withRateLimit("/api/auth/login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/api/auth/me", r.audit("/api/auth/me", r.requireAuth(r.withRateLimit("/api/auth/me", rateLimitUserRead, rateWindowDefault, r.rateLimitKeyUser, r.handleMe))))
	r.mux.HandleFunc("/api/tasks", r.audit("/api/tasks", r.requireAuth(r.handleTasks)))
	r.mux.HandleFunc("/api/tasks/", r.audit("/api/tasks/", r.requireAuth(r.handleTaskSubroutes)))
}

func (r *Router) handleRegister(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email     string  `json:"email"`
		Password  string  `json:"password"`
		FirstName *string `json:"first_name"`
		LastName  *string `json:"last_name"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		r.badJSON(w)
		return
	}
	user, token, err := r.auth.Register(req.Context(), auth.RegisterInput{
		Email:     payload.Email,
		Password:  payload.Password,
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
	})
	if err != nil {
		r.respondError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":      token.Token,
		"expires_at": token.ExpiresAt,
		"user":       user,
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		r.badJSON(w)
		return
	}
	user, token, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		r.respondError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token.Token,
		"expires_at": token.ExpiresAt,
		"user":       user,
	})
}

func (r *Router) handleMe(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	user, err := r.auth.CurrentUser(req.Context(), info.UserID)
	if err != nil {
		r.respondError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (r *Router) handleTasks(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	switch req.Method {
	case http.MethodGet:
		if !r.allowRate(w, req, "/api/tasks", rateLimitUserRead, rateWindowDefault, r.rateLimitKeyUser) {
			return
		}
		input, err := listInputFromQuery(req)
		if err != nil {
			r.respondError(w, req, err)
			return
		}
		page, err := r.tasks.List(req.Context(), info.UserID, input)
		if err != nil {
			r.respondError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	case http.MethodPost:
		if !r.allowRate(w, req, "/api/tasks", rateLimitUserWrite, rateWindowDefault, r.rateLimitKeyUser) {
			return
		}
		var payload struct {
			Title       string  `json:"title"`
			Description *string `json:"description"`
			Priority    *string `json:"priority"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			r.badJSON(w)
			return
		}
		created, err := r.tasks.Create(req.Context(), info.UserID, task.CreateInput{
			Title:       payload.Title,
			Description: payload.Description,
			Priority:    payload.Priority,
		})
		if err != nil {
			r.respondError(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleTaskSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/api/tasks/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		r.notFound(w)
		return
	}
	if parts[0] == "reorder" && len(parts) == 1 {
		r.handleReorder(w, req)
		return
	}
	taskID := parts[0]
	switch {
	case len(parts) == 1:
		r.handleTaskByID(w, req, taskID)
	case len(parts) == 2 && parts[1] == "toggle-complete":
		r.handleToggleComplete(w, req, taskID)
	case len(parts) == 2 && parts[1] == "sort-order":
		r.handleSortOrder(w, req, taskID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleTaskByID(w http.ResponseWriter, req *http.Request, taskID string) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	switch req.Method {
	case http.MethodGet:
		if !r.allowRate(w, req, "/api/tasks/{id}", rateLimitUserRead, rateWindowDefault, r.rateLimitKeyUser) {
			return
		}
		found, err := r.tasks.Get(req.Context(), info.UserID, taskID)
		if err != nil {
			r.respondError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, found)
	case http.MethodPut:
		if !r.allowRate(w, req, "/api/tasks/{id}", rateLimitUserWrite, rateWindowDefault, r.rateLimitKeyUser) {
			return
		}
		var payload struct {
			Title       string  `json:"title"`
			Description *string `json:"description"`
			Priority    string  `json:"priority"`
			IsComplete  bool    `json:"is_complete"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			r.badJSON(w)
			return
		}
		updated, err := r.tasks.Update(req.Context(), info.UserID, taskID, task.UpdateInput{
			Title:       payload.Title,
			Description: payload.Description,
			Priority:    payload.Priority,
			IsComplete:  payload.IsComplete,
		})
		if err != nil {
			r.respondError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if !r.allowRate(w, req, "/api/tasks/{id}", rateLimitUserWrite, rateWindowDefault, r.rateLimitKeyUser) {
			return
		}
		if err := r.tasks.Delete(req.Context(), info.UserID, taskID); err != nil {
			r.respondError(w, req, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleToggleComplete(w http.ResponseWriter, req *http.Request, taskID string) {
	if req.Method != http.MethodPatch {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	if !r.allowRate(w, req, "/api/tasks/{id}/toggle-complete", rateLimitUserWrite, rateWindowDefault, r.rateLimitKeyUser) {
		return
	}
	toggled, err := r.tasks.ToggleComplete(req.Context(), info.UserID, taskID)
	if err != nil {
		r.respondError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, toggled)
}

func (r *Router) handleSortOrder(w http.ResponseWriter, req *http.Request, taskID string) {
	if req.Method != http.MethodPut {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	if !r.allowRate(w, req, "/api/tasks/{id}/sort-order", rateLimitUserWrite, rateWindowDefault, r.rateLimitKeyUser) {
		return
	}
	var payload struct {
		SortOrder int `json:"sort_order"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		r.badJSON(w)
		return
	}
	updated, err := r.tasks.SetSortOrder(req.Context(), info.UserID, taskID, payload.SortOrder)
	if err != nil {
		r.respondError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (r *Router) handleReorder(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPut {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	if !r.allowRate(w, req, "/api/tasks/reorder", rateLimitUserWrite, rateWindowDefault, r.rateLimitKeyUser) {
		return
	}
	var payload struct {
		Items []task.ReorderItem `json:"items"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		r.badJSON(w)
		return
	}
	if err := r.tasks.Reorder(req.Context(), info.UserID, payload.Items); err != nil {
		r.respondError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func listInputFromQuery(req *http.Request) (task.ListInput, error) {
	query := req.URL.Query()
	var input task.ListInput
	if raw := strings.TrimSpace(query.Get("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			return input, apperr.New(apperr.CodeTaskValidation, "page must be an integer")
		}
		input.Page = page
	}
	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return input, apperr.New(apperr.CodeTaskValidation, "page_size must be an integer")
		}
		input.PageSize = size
	}
	if raw := strings.TrimSpace(query.Get("is_complete")); raw != "" {
		complete, err := strconv.ParseBool(raw)
		if err != nil {
			return input, apperr.New(apperr.CodeTaskValidation, "is_complete must be a boolean")
		}
		input.IsComplete = &complete
	}
	if raw := strings.TrimSpace(query.Get("priority")); raw != "" {
		input.Priority = &raw
	}
	return input, nil
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Push(target string, opts *http.PushOptions) error {
	if p, ok := sr.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) missingAuthContext(w http.ResponseWriter, req *http.Request) {
	r.logger.Error("auth context missing", "path", req.URL.Path)
	writeError(w, http.StatusInternalServerError, apperr.CodeInternal, "authorization context missing")
}

func (r *Router) badJSON(w http.ResponseWriter) {
	writeError(w, http.StatusBadRequest, apperr.CodeRequestValidation, "invalid JSON body")
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, apperr.CodeRequestValidation, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, apperr.CodeRouteNotFound, "not found")
}
