package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"arena-registration/internal/middleware"
	"arena-registration/internal/models"
)

// maxBodyBytes bounds every JSON and webhook body
const maxBodyBytes = 1 << 20

// okResponse is the body providers expect from a handled webhook
var okResponse = map[string]string{"api": "ok"}

func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// statusForKind maps an error kind to its HTTP status
func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.ErrInvalidQueryParameters, models.ErrInvalidBody, models.ErrEmptyBasket:
		return http.StatusBadRequest
	case models.ErrCartNotFound, models.ErrItemNotFound, models.ErrUserNotFound,
		models.ErrTeamNotFound, models.ErrTournamentNotFound, models.ErrRouteNotFound:
		return http.StatusNotFound
	case models.ErrUnauthenticated, models.ErrPleaseDontPlayWithStripeWebhooks, models.ErrInvalidStripeSignature:
		return http.StatusUnauthorized
	case models.ErrAlreadyPaid, models.ErrAlreadyErrored, models.ErrAlreadyCaptain, models.ErrAlreadyInTeam,
		models.ErrInvalidTransition, models.ErrItemOutOfStock, models.ErrTournamentFull, models.ErrTeamNotFull,
		models.ErrTeamNotPaid, models.ErrTeamFull, models.ErrTeamLocked, models.ErrNotInTeam, models.ErrNotCaptain,
		models.ErrCaptainCannotLeave, models.ErrUserHasNoType, models.ErrEtupayNoAccess:
		return http.StatusForbidden
	case models.ErrMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case models.ErrPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case models.ErrTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err and writes its kind with the matching status.
// Security violations and internal failures never expose their message.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := models.KindOf(err)
	status := statusForKind(kind)

	var message string
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	switch {
	case kind.IsSecurityViolation():
		logger.Warn("request rejected",
			"kind", kind,
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"security", true,
		)
		message = ""
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "kind", kind, "error", err, "method", r.Method, "path", r.URL.Path)
		message = ""
	default:
		logger.Debug("request refused", "kind", kind, "error", err, "path", r.URL.Path)
	}

	middleware.WriteError(w, status, kind, message)
}

// decodeJSON reads a bounded JSON body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return models.WrapError(models.ErrPayloadTooLarge, err, "body too large")
		}
		if errors.Is(err, io.EOF) {
			return models.NewError(models.ErrInvalidBody, "empty body")
		}
		return models.WrapError(models.ErrInvalidBody, err, "invalid JSON body")
	}
	return nil
}

// readBody reads a bounded raw body, for signed webhooks
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, models.WrapError(models.ErrPayloadTooLarge, err, "body too large")
		}
		return nil, models.WrapError(models.ErrInvalidBody, err, "failed to read body")
	}
	return body, nil
}
