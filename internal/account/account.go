// Package account registers users and manages their login sessions.
package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/juju/clock"
	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/perkup/internal/database"
	"github.com/dukerupert/perkup/internal/ledger"
	"github.com/dukerupert/perkup/internal/model"
	"github.com/dukerupert/perkup/internal/reward"
	"github.com/dukerupert/perkup/internal/store"
)

const DefaultSessionTTL = 30 * 24 * time.Hour

var (
	ErrPhoneTaken         = errors.New("phone number already registered")
	ErrInvalidCredentials = errors.New("invalid phone or password")
	ErrInvalidInput       = errors.New("username, phone and password are required")
)

type Config struct {
	SessionTTL time.Duration
	HashCost   int
}

type Service struct {
	db      *sql.DB
	ledger  *ledger.Service
	rewards *reward.Service
	cfg     Config
	clock   clock.Clock
	logger  *slog.Logger
}

func NewService(db *sql.DB, l *ledger.Service, rewards *reward.Service, cfg Config, clk clock.Clock, logger *slog.Logger) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.HashCost == 0 {
		cfg.HashCost = bcrypt.DefaultCost
	}
	return &Service{db: db, ledger: l, rewards: rewards, cfg: cfg, clock: clk, logger: logger}
}

// Login is the result of a successful login.
type Login struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *model.User `json:"user"`
}

// Register creates a new user with an empty points account and a freshly
// built reward catalog.
func (s *Service) Register(ctx context.Context, username, phone, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	phone = strings.TrimSpace(phone)
	if username == "" || phone == "" || password == "" {
		return nil, ErrInvalidInput
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.HashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var u *model.User
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		users := store.NewUserStore(tx)

		existing, err := users.GetByPhone(ctx, phone)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrPhoneTaken
		}

		u, err = users.Create(ctx, username, phone, string(hash), s.clock.Now())
		if err != nil {
			if database.IsUniqueViolation(err) {
				return ErrPhoneTaken
			}
			return err
		}
		if _, err := s.ledger.Open(ctx, tx, u.ID); err != nil {
			return err
		}
		return s.rewards.Rebuild(ctx, tx, u.ID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", "user_id", u.ID)
	return u, nil
}

// Login checks the password and opens a new session.
func (s *Service) Login(ctx context.Context, phone, password string) (*Login, error) {
	users := store.NewUserStore(s.db)
	u, err := users.GetByPhone(ctx, strings.TrimSpace(phone))
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	sess, err := store.NewSessionStore(s.db).Create(ctx, u.ID, s.clock.Now(), s.cfg.SessionTTL)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", "user_id", u.ID)
	return &Login{Token: sess.Token, ExpiresAt: sess.ExpiresAt, User: u}, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	return store.NewSessionStore(s.db).DeleteByToken(ctx, token)
}

// Authenticate resolves a session token. It returns nil when the token is
// unknown or expired.
func (s *Service) Authenticate(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, nil
	}
	return store.NewSessionStore(s.db).GetByToken(ctx, token, s.clock.Now())
}

func (s *Service) User(ctx context.Context, userID int64) (*model.User, error) {
	return store.NewUserStore(s.db).GetByID(ctx, userID)
}

// CleanupSessions deletes expired sessions.
func (s *Service) CleanupSessions(ctx context.Context) (int64, error) {
	n, err := store.NewSessionStore(s.db).DeleteExpired(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired sessions deleted", "count", n)
	}
	return n, nil
}
