package httpx

import (
	"net/http"
	"runtime/debug"

	"github.com/taskwell/api/internal/apperr"
)

// withRecovery converts handler panics into the JSON 500 contract. In
// development the response carries the stack trace.
func (r *Router) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			stack := debug.Stack()
			r.logger.Error("handler panicked",
				"panic", rec,
				"method", req.Method,
				"path", req.URL.Path,
				"stack", string(stack),
			)
			if r.environment == "development" {
				writeJSON(w, http.StatusInternalServerError, map[string]any{
					"error": errorBody{Code: apperr.CodeInternal, Description: "internal server error"},
					"stack": string(stack),
				})
				return
			}
			writeError(w, http.StatusInternalServerError, apperr.CodeInternal, "internal server error")
		}()
		next.ServeHTTP(w, req)
	})
}
