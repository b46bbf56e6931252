package handler

import (
	"log/slog"
	"net/http"

	"github.com/juju/clock"

	"github.com/dukerupert/perkup/internal/auth"
	"github.com/dukerupert/perkup/internal/signin"
	"github.com/dukerupert/perkup/internal/websocket"
)

type SignInHandler struct {
	signins  *signin.Service
	notifier Notifier
	clock    clock.Clock
	logger   *slog.Logger
}

func NewSignInHandler(signins *signin.Service, n Notifier, clk clock.Clock, logger *slog.Logger) *SignInHandler {
	return &SignInHandler{signins: signins, notifier: n, clock: clk, logger: logger}
}

func (h *SignInHandler) Config(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.signins.CurrentConfig(r.Context())
	if err != nil {
		writeError(w, h.logger, "get sign-in config", err)
		return
	}
	writeOK(w, http.StatusOK, cfg, "")
}

func (h *SignInHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.signins.Status(r.Context(), auth.UserID(r.Context()), h.clock.Now())
	if err != nil {
		writeError(w, h.logger, "get sign-in status", err)
		return
	}
	writeOK(w, http.StatusOK, st, "")
}

func (h *SignInHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	res, err := h.signins.SignIn(r.Context(), userID, h.clock.Now())
	if err != nil {
		writeError(w, h.logger, "sign in", err)
		return
	}

	h.notifier.SendToUser(websocket.NewMessage("signin", "completed", 0, res), userID)
	writeOK(w, http.StatusOK, res, "signed in")
}
