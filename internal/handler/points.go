package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/perkup/internal/auth"
	"github.com/dukerupert/perkup/internal/ledger"
	"github.com/dukerupert/perkup/internal/model"
	"github.com/dukerupert/perkup/internal/reward"
	"github.com/dukerupert/perkup/internal/store"
	"github.com/dukerupert/perkup/internal/team"
)

// PointsHandler serves the balance and the history endpoints.
type PointsHandler struct {
	ledger  *ledger.Service
	rewards *reward.Service
	teams   *team.Service
	logger  *slog.Logger
}

func NewPointsHandler(l *ledger.Service, rewards *reward.Service, teams *team.Service, logger *slog.Logger) *PointsHandler {
	return &PointsHandler{ledger: l, rewards: rewards, teams: teams, logger: logger}
}

func (h *PointsHandler) Account(w http.ResponseWriter, r *http.Request) {
	acct, err := h.ledger.Account(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, "get points account", err)
		return
	}
	writeOK(w, http.StatusOK, acct, "")
}

func (h *PointsHandler) PointsRecords(w http.ResponseWriter, r *http.Request) {
	typ := model.TransactionType(r.URL.Query().Get("type"))
	switch typ {
	case "", model.TransactionEarn, model.TransactionUse, model.TransactionExpire:
	default:
		writeFail(w, http.StatusBadRequest, "type must be earn, use or expire")
		return
	}

	page, limit := pageParams(r)
	res, err := h.ledger.Transactions(r.Context(), auth.UserID(r.Context()), ledger.TransactionFilter{
		Type:  typ,
		Page:  page,
		Limit: limit,
	})
	if err != nil {
		writeError(w, h.logger, "list points records", err)
		return
	}
	writeOK(w, http.StatusOK, res, "")
}

func (h *PointsHandler) ExchangeRecords(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	records, total, err := h.rewards.Records(r.Context(), auth.UserID(r.Context()), page, limit)
	if err != nil {
		writeError(w, h.logger, "list exchange records", err)
		return
	}
	writeOK(w, http.StatusOK, newListPage(records, total, page, limit), "")
}

func (h *PointsHandler) TeamRecords(w http.ResponseWriter, r *http.Request) {
	status := model.TeamStatus(r.URL.Query().Get("status"))
	page, limit := pageParams(r)
	records, total, err := h.teams.Records(r.Context(), auth.UserID(r.Context()), status, page, limit)
	if err != nil {
		writeError(w, h.logger, "list team records", err)
		return
	}
	writeOK(w, http.StatusOK, newListPage(records, total, page, limit), "")
}

func newListPage[T any](items []T, total, page, limit int) listPage[T] {
	p := store.NewPage(page, limit)
	return listPage[T]{
		Items:    items,
		Total:    total,
		Page:     p.Offset/p.Limit + 1,
		PageSize: p.Limit,
	}
}
