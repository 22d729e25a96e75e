package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"arena-registration/internal/models"
	"arena-registration/internal/services"

	"github.com/go-chi/chi/v5"
)

// AdminHandler serves the operator API
type AdminHandler struct {
	ledger     services.LedgerServiceInterface
	capacity   services.CapacityServiceInterface
	roster     services.RosterServiceInterface
	logger     *slog.Logger
	defaultTTL time.Duration
}

// NewAdminHandler creates a new admin handler. defaultTTL is the cart age
// used by expire-carts when the request names none.
func NewAdminHandler(ledger services.LedgerServiceInterface, capacity services.CapacityServiceInterface, roster services.RosterServiceInterface, logger *slog.Logger, defaultTTL time.Duration) *AdminHandler {
	return &AdminHandler{
		ledger:     ledger,
		capacity:   capacity,
		roster:     roster,
		logger:     logger,
		defaultTTL: defaultTTL,
	}
}

// ReplaceMemberRequest swaps a team member for another user
type ReplaceMemberRequest struct {
	OldUserID string `json:"oldUserId"`
	NewUserID string `json:"newUserId"`
}

// ForcePay records a free ticket for a user
func (h *AdminHandler) ForcePay(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	cart, err := h.ledger.ForcePay(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.logger.Info("admin force pay", "user_id", userID, "cart_id", cart.ID)
	writeJSON(w, http.StatusOK, cart)
}

// LockTeam grants a team a slot regardless of the queue
func (h *AdminHandler) LockTeam(w http.ResponseWriter, r *http.Request) {
	h.teamLock(w, r, true)
}

// UnlockTeam releases the slot of a team
func (h *AdminHandler) UnlockTeam(w http.ResponseWriter, r *http.Request) {
	h.teamLock(w, r, false)
}

func (h *AdminHandler) teamLock(w http.ResponseWriter, r *http.Request, lock bool) {
	teamID := chi.URLParam(r, "teamID")

	var view *services.TeamView
	var err error
	if lock {
		view, err = h.capacity.LockTeam(r.Context(), teamID)
	} else {
		view, err = h.capacity.UnlockTeam(r.Context(), teamID)
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.logger.Info("admin team lock", "team_id", teamID, "lock", lock, "state", view.State, "promoted", view.Promoted)
	writeJSON(w, http.StatusOK, view)
}

// DeleteTeam removes a team and promotes the queue if it held a slot
func (h *AdminHandler) DeleteTeam(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "teamID")

	promoted, err := h.capacity.DeleteTeam(r.Context(), teamID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.logger.Info("admin team deleted", "team_id", teamID, "promoted", promoted)
	writeJSON(w, http.StatusOK, map[string]interface{}{"promoted": nonNil(promoted)})
}

// ReplaceMember swaps a member of a team
func (h *AdminHandler) ReplaceMember(w http.ResponseWriter, r *http.Request) {
	var req ReplaceMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	view, err := h.roster.ReplaceMember(r.Context(), chi.URLParam(r, "teamID"), req.OldUserID, req.NewUserID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// RefundCart moves a paid cart to refunded
func (h *AdminHandler) RefundCart(w http.ResponseWriter, r *http.Request) {
	result, err := h.ledger.Refund(r.Context(), chi.URLParam(r, "cartID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ExpireCarts expires processing carts older than the olderThan query
// parameter, a Go duration
func (h *AdminHandler) ExpireCarts(w http.ResponseWriter, r *http.Request) {
	ttl := h.defaultTTL
	if raw := r.URL.Query().Get("olderThan"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed < 0 {
			writeError(w, r, h.logger, models.NewError(models.ErrInvalidQueryParameters, "invalid olderThan %q", raw))
			return
		}
		ttl = parsed
	}

	expired, err := h.ledger.ExpireStaleCarts(r.Context(), ttl)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"expired": expired})
}

// GetCart returns any cart
func (h *AdminHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.ledger.FetchCart(r.Context(), chi.URLParam(r, "cartID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
