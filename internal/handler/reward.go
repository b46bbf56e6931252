package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/perkup/internal/auth"
	"github.com/dukerupert/perkup/internal/reward"
	"github.com/dukerupert/perkup/internal/websocket"
)

type RewardHandler struct {
	rewards  *reward.Service
	notifier Notifier
	logger   *slog.Logger
}

func NewRewardHandler(rewards *reward.Service, n Notifier, logger *slog.Logger) *RewardHandler {
	return &RewardHandler{rewards: rewards, notifier: n, logger: logger}
}

func (h *RewardHandler) List(w http.ResponseWriter, r *http.Request) {
	cat, err := h.rewards.ListCatalog(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, "list rewards", err)
		return
	}
	writeOK(w, http.StatusOK, cat, "")
}

func (h *RewardHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID int64 `json:"item_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ItemID <= 0 {
		writeFail(w, http.StatusBadRequest, "item_id is required")
		return
	}

	userID := auth.UserID(r.Context())
	res, err := h.rewards.Exchange(r.Context(), userID, req.ItemID)
	if err != nil {
		writeError(w, h.logger, "exchange reward", err)
		return
	}

	h.notifier.SendToUser(websocket.NewMessage("reward", "exchanged", req.ItemID, res), userID)
	if res.JustUnlocked {
		h.notifier.SendToUser(websocket.NewMessage("reward", "stage_unlocked", 2, nil), userID)
	}
	writeOK(w, http.StatusOK, res, "exchanged")
}
