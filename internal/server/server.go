package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/juju/clock"

	"github.com/dukerupert/perkup/internal/account"
	"github.com/dukerupert/perkup/internal/coupon"
	"github.com/dukerupert/perkup/internal/handler"
	"github.com/dukerupert/perkup/internal/ledger"
	"github.com/dukerupert/perkup/internal/metrics"
	"github.com/dukerupert/perkup/internal/middleware"
	"github.com/dukerupert/perkup/internal/reward"
	"github.com/dukerupert/perkup/internal/scheduler"
	"github.com/dukerupert/perkup/internal/signin"
	"github.com/dukerupert/perkup/internal/team"
	ws "github.com/dukerupert/perkup/internal/websocket"
)

const (
	authRateLimit  = 10
	authRateWindow = time.Minute
)

type Options struct {
	Location       *time.Location
	SessionTTL     time.Duration
	BcryptCost     int
	SecureCookies  bool
	OriginPatterns []string
}

type Server struct {
	db          *sql.DB
	clock       clock.Clock
	hub         *ws.Hub
	ledger      *ledger.Service
	coupons     *coupon.Service
	rewards     *reward.Service
	signins     *signin.Service
	teams       *team.Service
	accounts    *account.Service
	authH       *handler.AuthHandler
	pointsH     *handler.PointsHandler
	signinH     *handler.SignInHandler
	rewardH     *handler.RewardHandler
	couponH     *handler.CouponHandler
	teamH       *handler.TeamHandler
	rateLimiter *middleware.RateLimiter
	origins     []string
	logger      *slog.Logger
}

func New(db *sql.DB, opts Options, clk clock.Clock, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	l := ledger.NewService(db, clk, logger.With("component", "ledger"))
	coupons := coupon.NewService(db, clk, logger.With("component", "coupon"))
	rewards := reward.NewService(db, l, coupons, clk, logger.With("component", "reward"))
	signins := signin.NewService(db, l, coupons, clk, opts.Location, logger.With("component", "signin"))
	teams := team.NewService(db, l, clk, logger.With("component", "team"))
	accounts := account.NewService(db, l, rewards, account.Config{
		SessionTTL: opts.SessionTTL,
		HashCost:   opts.BcryptCost,
	}, clk, logger.With("component", "account"))

	return &Server{
		db:          db,
		clock:       clk,
		hub:         hub,
		ledger:      l,
		coupons:     coupons,
		rewards:     rewards,
		signins:     signins,
		teams:       teams,
		accounts:    accounts,
		authH:       handler.NewAuthHandler(accounts, opts.SecureCookies, logger.With("component", "auth")),
		pointsH:     handler.NewPointsHandler(l, rewards, teams, logger.With("component", "points")),
		signinH:     handler.NewSignInHandler(signins, hub, clk, logger.With("component", "signin_handler")),
		rewardH:     handler.NewRewardHandler(rewards, hub, logger.With("component", "reward_handler")),
		couponH:     handler.NewCouponHandler(coupons, hub, logger.With("component", "coupon_handler")),
		teamH:       handler.NewTeamHandler(teams, hub, logger.With("component", "team_handler")),
		rateLimiter: middleware.NewRateLimiter(clk, authRateLimit, authRateWindow),
		origins:     opts.OriginPatterns,
		logger:      logger,
	}
}

// Jobs returns the services the scheduler runs maintenance against.
func (s *Server) Jobs(couponRetention time.Duration) scheduler.Services {
	return scheduler.Services{
		SignIn:          s.signins,
		Rewards:         s.rewards,
		Coupons:         s.coupons,
		Teams:           s.teams,
		Accounts:        s.accounts,
		Clock:           s.clock,
		CouponRetention: couponRetention,
	}
}

// SignIns returns the sign-in service for startup checks.
func (s *Server) SignIns() *signin.Service {
	return s.signins
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Public routes (no auth required)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /auth/register", s.rateLimitedHandler(s.authH.Register))
	mux.HandleFunc("POST /auth/login", s.rateLimitedHandler(s.authH.Login))

	s.registerProtectedRoutes(mux)

	var h http.Handler = mux
	h = metrics.InstrumentHandler(h)
	return middleware.RequestLogger(s.logger.With("component", "http"))(h)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.ClientIP)
	return rl(h).ServeHTTP
}

// Protected routes share one mux with the public ones so the matched
// pattern stays visible to the metrics and logging middleware.
func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	requireAuth := middleware.RequireAuth(s.accounts, s.logger.With("component", "auth"))
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, requireAuth(h))
	}

	handle("POST /auth/logout", s.authH.Logout)
	handle("GET /auth/me", s.authH.Me)

	handle("GET /points/account", s.pointsH.Account)
	handle("GET /records/points", s.pointsH.PointsRecords)
	handle("GET /records/exchange", s.pointsH.ExchangeRecords)
	handle("GET /records/team", s.pointsH.TeamRecords)

	handle("GET /signin/config", s.signinH.Config)
	handle("GET /signin/status", s.signinH.Status)
	handle("POST /signin", s.signinH.SignIn)

	handle("GET /rewards", s.rewardH.List)
	handle("POST /rewards/exchange", s.rewardH.Exchange)

	handle("GET /coupons/my", s.couponH.My)
	handle("GET /coupons/stats", s.couponH.Stats)
	handle("POST /coupons/{id}/use", s.couponH.Use)

	handle("POST /teams", s.teamH.Create)
	handle("POST /teams/join-by-code", s.teamH.JoinByCode)
	handle("DELETE /teams", s.teamH.Dissolve)
	handle("DELETE /teams/leave", s.teamH.Leave)
	handle("PUT /teams/refresh-invite-code", s.teamH.RefreshInviteCode)
	handle("GET /teams/my-active", s.teamH.MyActive)

	// WebSocket
	handle("GET /ws", ws.HandleWebSocket(s.hub, s.origins, s.logger.With("component", "websocket")))
}
