package handlers

import (
	"log/slog"
	"net/http"

	"arena-registration/internal/middleware"
	"arena-registration/internal/services"

	"github.com/go-chi/chi/v5"
)

// TeamHandler serves team and tournament operations of the user API
type TeamHandler struct {
	roster   services.RosterServiceInterface
	capacity services.CapacityServiceInterface
	logger   *slog.Logger
}

// NewTeamHandler creates a new team handler
func NewTeamHandler(roster services.RosterServiceInterface, capacity services.CapacityServiceInterface, logger *slog.Logger) *TeamHandler {
	return &TeamHandler{
		roster:   roster,
		capacity: capacity,
		logger:   logger,
	}
}

func (h *TeamHandler) respond(w http.ResponseWriter, r *http.Request, status int, view *services.TeamView, err error) {
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, status, view)
}

// CreateTeam creates a team captained by the current user
func (h *TeamHandler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	var cmd services.CreateTeamCommand
	if err := decodeJSON(w, r, &cmd); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	cmd.CaptainID = middleware.GetUserIDFromContext(r.Context())

	view, err := h.roster.CreateTeam(r.Context(), cmd)
	h.respond(w, r, http.StatusCreated, view, err)
}

// GetTeam returns a team with its members and readiness
func (h *TeamHandler) GetTeam(w http.ResponseWriter, r *http.Request) {
	view, err := h.capacity.FetchTeam(r.Context(), chi.URLParam(r, "teamID"))
	h.respond(w, r, http.StatusOK, view, err)
}

// JoinTeam adds the current user to a team
func (h *TeamHandler) JoinTeam(w http.ResponseWriter, r *http.Request) {
	var cmd services.JoinTeamCommand
	if err := decodeJSON(w, r, &cmd); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	cmd.TeamID = chi.URLParam(r, "teamID")
	cmd.UserID = middleware.GetUserIDFromContext(r.Context())

	view, err := h.roster.JoinTeam(r.Context(), cmd)
	h.respond(w, r, http.StatusOK, view, err)
}

// RemoveMember lets the captain kick a member, or a member leave
func (h *TeamHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	view, err := h.roster.KickMember(r.Context(),
		chi.URLParam(r, "teamID"),
		middleware.GetUserIDFromContext(r.Context()),
		chi.URLParam(r, "userID"),
	)
	h.respond(w, r, http.StatusOK, view, err)
}

// PromoteCaptain hands the captaincy to another member
func (h *TeamHandler) PromoteCaptain(w http.ResponseWriter, r *http.Request) {
	view, err := h.roster.PromoteCaptain(r.Context(),
		chi.URLParam(r, "teamID"),
		middleware.GetUserIDFromContext(r.Context()),
		chi.URLParam(r, "userID"),
	)
	h.respond(w, r, http.StatusOK, view, err)
}

// GetTournament returns the capacity summary of a tournament
func (h *TeamHandler) GetTournament(w http.ResponseWriter, r *http.Request) {
	view, err := h.capacity.FetchTournament(r.Context(), chi.URLParam(r, "tournamentID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
