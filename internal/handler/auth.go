package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/perkup/internal/account"
	"github.com/dukerupert/perkup/internal/auth"
	"github.com/dukerupert/perkup/internal/middleware"
)

type AuthHandler struct {
	accounts *account.Service
	secure   bool
	logger   *slog.Logger
}

// NewAuthHandler returns the auth endpoints. secure marks the session
// cookie Secure.
func NewAuthHandler(accounts *account.Service, secure bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, secure: secure, logger: logger}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Phone    string `json:"phone"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.accounts.Register(r.Context(), req.Username, req.Phone, req.Password)
	if err != nil {
		writeError(w, h.logger, "register", err)
		return
	}
	writeOK(w, http.StatusCreated, u, "registered")
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone    string `json:"phone"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	login, err := h.accounts.Login(r.Context(), req.Phone, req.Password)
	if err != nil {
		writeError(w, h.logger, "login", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    login.Token,
		Path:     "/",
		Expires:  login.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	writeOK(w, http.StatusOK, login, "logged in")
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Logout(r.Context(), auth.Token(r.Context())); err != nil {
		writeError(w, h.logger, "logout", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	writeOK(w, http.StatusOK, nil, "logged out")
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.accounts.User(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, "get user", err)
		return
	}
	if u == nil {
		writeFail(w, http.StatusNotFound, "user not found")
		return
	}
	writeOK(w, http.StatusOK, u, "")
}
