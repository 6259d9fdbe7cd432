package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/taskwell/api/internal/apperr"
)

// statusClientClosedRequest mirrors the nginx convention for a client that
// went away before the response was written.
const statusClientClosedRequest = 499

type errorBody struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends a coded error payload.
func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Description: description}})
}

// statusByCode is the exact lookup consulted before the heuristics below.
var statusByCode = map[string]int{
	apperr.CodeEmailAlreadyExists: http.StatusConflict,
	apperr.CodeUserNotFound:       http.StatusNotFound,
	apperr.CodeUserValidation:     http.StatusBadRequest,
	apperr.CodeInvalidCredentials: http.StatusUnauthorized,
	apperr.CodeInvalidToken:       http.StatusUnauthorized,
	apperr.CodeTaskNotFound:       http.StatusNotFound,
	apperr.CodeTaskNotOwned:       http.StatusForbidden,
	apperr.CodeTaskValidation:     http.StatusBadRequest,
	apperr.CodeRequestCancelled:   statusClientClosedRequest,
	apperr.CodeRateLimited:        http.StatusTooManyRequests,
}

// statusForCode resolves an error code to an HTTP status: exact match first,
// then by the Domain.Kind shape of the code.
func statusForCode(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	switch {
	case strings.HasSuffix(code, ".NotFound"):
		return http.StatusNotFound
	case strings.HasSuffix(code, ".NotOwned"):
		return http.StatusForbidden
	case strings.Contains(code, "AlreadyExists"):
		return http.StatusConflict
	case strings.HasSuffix(code, ".Validation"):
		return http.StatusBadRequest
	case strings.HasPrefix(code, "Auth."):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// respondError translates a service error into the JSON error contract.
func (r *Router) respondError(w http.ResponseWriter, req *http.Request, err error) {
	if errors.Is(err, context.Canceled) && req.Context().Err() != nil {
		writeError(w, statusClientClosedRequest, apperr.CodeRequestCancelled, "client closed the request")
		return
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		writeError(w, statusForCode(appErr.Code), appErr.Code, appErr.Description)
		return
	}
	r.logger.Error("unhandled service error", "error", err, "path", req.URL.Path)
	writeError(w, http.StatusInternalServerError, apperr.CodeInternal, "internal server error")
}
