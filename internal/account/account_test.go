package account

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/perkup/internal/coupon"
	"github.com/dukerupert/perkup/internal/database"
	"github.com/dukerupert/perkup/internal/ledger"
	"github.com/dukerupert/perkup/internal/reward"
)

func setup(t *testing.T) (*Service, *testclock.Clock, *reward.Service, *ledger.Service) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "account.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clk := testclock.NewClock(time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC))
	logger := slog.Default()
	l := ledger.NewService(db, clk, logger)
	coupons := coupon.NewService(db, clk, logger)
	rewards := reward.NewService(db, l, coupons, clk, logger)
	svc := NewService(db, l, rewards, Config{SessionTTL: time.Hour, HashCost: bcrypt.MinCost}, clk, logger)
	return svc, clk, rewards, l
}

func TestRegister(t *testing.T) {
	svc, _, rewards, l := setup(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, " alice ", "13800000001", "secret")
	require.NoError(t, err)
	require.Equal(t, "alice", u.Username)
	require.True(t, u.IsNewUser)
	require.NotEqual(t, "secret", u.PasswordHash)

	acct, err := l.Account(ctx, u.ID)
	require.NoError(t, err)
	require.Zero(t, acct.Balance)

	cat, err := rewards.ListCatalog(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, cat.Items, 6)

	_, err = svc.Register(ctx, "bob", "13800000001", "other")
	require.ErrorIs(t, err, ErrPhoneTaken)

	_, err = svc.Register(ctx, "", "13800000002", "pw")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestLoginAndAuthenticate(t *testing.T) {
	svc, clk, _, _ := setup(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "alice", "13800000001", "secret")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "13800000001", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "13900000000", "secret")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	login, err := svc.Login(ctx, "13800000001", "secret")
	require.NoError(t, err)
	require.Len(t, login.Token, 64)
	require.Equal(t, u.ID, login.User.ID)

	sess, err := svc.Authenticate(ctx, login.Token)
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.Equal(t, u.ID, sess.UserID)

	sess, err = svc.Authenticate(ctx, "")
	require.NoError(t, err)
	require.Nil(t, sess)

	clk.Advance(time.Hour)
	sess, err = svc.Authenticate(ctx, login.Token)
	require.NoError(t, err)
	require.Nil(t, sess, "session should expire after its ttl")

	n, err := svc.CleanupSessions(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestLogout(t *testing.T) {
	svc, _, _, _ := setup(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "13800000001", "secret")
	require.NoError(t, err)
	login, err := svc.Login(ctx, "13800000001", "secret")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, login.Token))
	sess, err := svc.Authenticate(ctx, login.Token)
	require.NoError(t, err)
	require.Nil(t, sess)
}
