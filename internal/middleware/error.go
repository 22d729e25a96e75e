package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"

	"arena-registration/internal/models"
)

// ErrorBody is the JSON shape of every error response
type ErrorBody struct {
	Error   models.ErrorKind `json:"error"`
	Message string           `json:"message,omitempty"`
}

// WriteError writes an error body with the given status
func WriteError(w http.ResponseWriter, status int, kind models.ErrorKind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorBody{Error: kind, Message: message})
}

// ErrorHandlingMiddleware handles panics
func ErrorHandlingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}

					// Log the panic with stack trace
					logger.Error("panic",
						"error", err,
						"method", r.Method,
						"path", r.URL.Path,
						"stack", string(debug.Stack()),
					)
					WriteError(w, http.StatusInternalServerError, models.ErrInternalServerError, "")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// NotFoundHandler handles 404 errors
func NotFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, models.ErrRouteNotFound, "no route for "+r.Method+" "+r.URL.Path)
	})
}

// MethodNotAllowedHandler handles 405 errors
func MethodNotAllowedHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, models.ErrMethodNotAllowed, r.Method+" is not allowed on "+r.URL.Path)
	})
}
