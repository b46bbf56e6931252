package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/perkup/internal/account"
	"github.com/dukerupert/perkup/internal/coupon"
	"github.com/dukerupert/perkup/internal/ledger"
	"github.com/dukerupert/perkup/internal/reward"
	"github.com/dukerupert/perkup/internal/signin"
	"github.com/dukerupert/perkup/internal/team"
	"github.com/dukerupert/perkup/internal/websocket"
)

// envelope is the body of every API response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// Notifier pushes realtime events to users' open connections.
type Notifier interface {
	SendToUser(msg websocket.Message, userIDs ...int64)
}

// listPage is a paginated list response.
type listPage[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, status int, data any, msg string) {
	writeJSON(w, status, envelope{Success: true, Data: data, Message: msg})
}

func writeFail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Message: msg})
}

// errorStatus maps a service error to its HTTP status. Unknown errors are 500.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, signin.ErrAlreadySignedIn),
		errors.Is(err, reward.ErrOutOfStock),
		errors.Is(err, team.ErrTeamFull),
		errors.Is(err, team.ErrAlreadyInActiveTeam),
		errors.Is(err, team.ErrTeamAlreadyCompleted),
		errors.Is(err, team.ErrTeamStillRecruiting),
		errors.Is(err, team.ErrTeamNameTaken),
		errors.Is(err, coupon.ErrAlreadyUsedOrExpired),
		errors.Is(err, coupon.ErrExpired),
		errors.Is(err, account.ErrPhoneTaken):
		return http.StatusConflict

	case errors.Is(err, reward.ErrStageLocked),
		errors.Is(err, team.ErrNotCaptain),
		errors.Is(err, team.ErrNotMember):
		return http.StatusForbidden

	case errors.Is(err, reward.ErrItemNotFound),
		errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, coupon.ErrNotFound),
		errors.Is(err, team.ErrInviteCodeInvalidOrExpired),
		errors.Is(err, team.ErrNoTeam),
		errors.Is(err, team.ErrUserNotFound),
		errors.Is(err, signin.ErrNoConfig):
		return http.StatusNotFound

	case errors.Is(err, reward.ErrInsufficientPoints),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, team.ErrInvalidTeamName),
		errors.Is(err, account.ErrInvalidInput):
		return http.StatusBadRequest

	case errors.Is(err, account.ErrInvalidCredentials):
		return http.StatusUnauthorized

	case errors.Is(err, signin.ErrInvalidConfig):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError writes err with its mapped status. Server-side errors are
// logged and their text is not exposed.
func writeError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	status := errorStatus(err)
	if status < http.StatusInternalServerError {
		writeFail(w, status, err.Error())
		return
	}

	logger.Error(op, "error", err, "status", status)
	msg := "internal error"
	switch {
	case errors.Is(err, reward.ErrExchangeReconciliationRequired):
		msg = "exchange failed and needs manual review"
	case errors.Is(err, signin.ErrInvalidConfig):
		msg = "sign-in is not configured for today"
	}
	writeFail(w, status, msg)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func parseIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// pageParams reads page and limit query parameters. Bad values fall back
// to the store defaults.
func pageParams(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	return page, limit
}
