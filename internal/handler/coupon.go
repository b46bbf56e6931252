package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/perkup/internal/auth"
	"github.com/dukerupert/perkup/internal/coupon"
	"github.com/dukerupert/perkup/internal/websocket"
)

type CouponHandler struct {
	coupons  *coupon.Service
	notifier Notifier
	logger   *slog.Logger
}

func NewCouponHandler(coupons *coupon.Service, n Notifier, logger *slog.Logger) *CouponHandler {
	return &CouponHandler{coupons: coupons, notifier: n, logger: logger}
}

func (h *CouponHandler) My(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.coupons.List(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, "list coupons", err)
		return
	}
	writeOK(w, http.StatusOK, wallet, "")
}

func (h *CouponHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.coupons.Stats(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, "coupon stats", err)
		return
	}
	writeOK(w, http.StatusOK, st, "")
}

func (h *CouponHandler) Use(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeFail(w, http.StatusBadRequest, "invalid id")
		return
	}

	userID := auth.UserID(r.Context())
	c, err := h.coupons.Use(r.Context(), userID, id)
	if err != nil {
		writeError(w, h.logger, "use coupon", err)
		return
	}

	h.notifier.SendToUser(websocket.NewMessage("coupon", "used", c.ID, nil), userID)
	writeOK(w, http.StatusOK, c, "coupon used")
}
