package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/perkup/internal/auth"
	"github.com/dukerupert/perkup/internal/team"
	"github.com/dukerupert/perkup/internal/websocket"
)

type TeamHandler struct {
	teams    *team.Service
	notifier Notifier
	logger   *slog.Logger
}

func NewTeamHandler(teams *team.Service, n Notifier, logger *slog.Logger) *TeamHandler {
	return &TeamHandler{teams: teams, notifier: n, logger: logger}
}

func (h *TeamHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	v, err := h.teams.Create(r.Context(), auth.UserID(r.Context()), req.Name)
	if err != nil {
		writeError(w, h.logger, "create team", err)
		return
	}
	writeOK(w, http.StatusCreated, v, "team created")
}

func (h *TeamHandler) JoinByCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InviteCode string `json:"invite_code"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.InviteCode == "" {
		writeFail(w, http.StatusBadRequest, "invite_code is required")
		return
	}

	userID := auth.UserID(r.Context())
	res, err := h.teams.JoinByCode(r.Context(), userID, req.InviteCode)
	if err != nil {
		writeError(w, h.logger, "join team", err)
		return
	}

	members := memberIDs(res.View)
	h.notifier.SendToUser(websocket.NewMessage("team", "joined", res.View.Team.ID, map[string]any{
		"user_id":      userID,
		"member_count": res.View.MemberCount,
	}), members...)
	if res.Settlement != nil {
		h.notifier.SendToUser(websocket.NewMessage("team", "settled", res.Settlement.TeamID, res.Settlement), members...)
	}
	writeOK(w, http.StatusOK, res, "joined team")
}

func (h *TeamHandler) Dissolve(w http.ResponseWriter, r *http.Request) {
	if err := h.teams.Dissolve(r.Context(), auth.UserID(r.Context())); err != nil {
		writeError(w, h.logger, "dissolve team", err)
		return
	}
	writeOK(w, http.StatusOK, nil, "team dissolved")
}

func (h *TeamHandler) Leave(w http.ResponseWriter, r *http.Request) {
	if err := h.teams.Leave(r.Context(), auth.UserID(r.Context())); err != nil {
		writeError(w, h.logger, "leave team", err)
		return
	}
	writeOK(w, http.StatusOK, nil, "left team")
}

func (h *TeamHandler) RefreshInviteCode(w http.ResponseWriter, r *http.Request) {
	v, err := h.teams.RefreshInviteCode(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, "refresh invite code", err)
		return
	}
	writeOK(w, http.StatusOK, v, "invite code refreshed")
}

// MyActive returns the caller's active team. data is omitted when there is none.
func (h *TeamHandler) MyActive(w http.ResponseWriter, r *http.Request) {
	v, err := h.teams.Active(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, "get active team", err)
		return
	}
	writeOK(w, http.StatusOK, v, "")
}

func memberIDs(v *team.View) []int64 {
	ids := make([]int64, 0, len(v.Members))
	for _, m := range v.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}
