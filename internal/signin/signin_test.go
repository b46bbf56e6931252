package signin

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/perkup/internal/coupon"
	"github.com/dukerupert/perkup/internal/database"
	"github.com/dukerupert/perkup/internal/ledger"
	"github.com/dukerupert/perkup/internal/model"
	"github.com/dukerupert/perkup/internal/store"
)

var cst = time.FixedZone("CST", 8*60*60)

// 2026-03-02 is a Monday.
func at(day int, hour int) time.Time {
	return time.Date(2026, 3, day, hour, 0, 0, 0, cst)
}

type fixture struct {
	svc    *Service
	db     *sql.DB
	ledger *ledger.Service
	clock  *testclock.Clock
	userID int64
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "signin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clk := testclock.NewClock(at(2, 9))
	logger := slog.Default()
	l := ledger.NewService(db, clk, logger)
	c := coupon.NewService(db, clk, logger)

	u, err := store.NewUserStore(db).Create(context.Background(), "alice", "13800000001", "hash", clk.Now())
	require.NoError(t, err)

	return &fixture{
		svc:    NewService(db, l, c, clk, cst, logger),
		db:     db,
		ledger: l,
		clock:  clk,
		userID: u.ID,
	}
}

func f(v float64) *float64 { return &v }

func (fx *fixture) createConfig(t *testing.T, multipliers [7]*float64, bonusDay int, bonusCoupon string) {
	t.Helper()
	_, err := store.NewSignInStore(fx.db).CreateConfig(context.Background(), &model.SignInConfig{
		WeekStartDate: at(2, 0),
		BasePoints:    10,
		Multipliers:   multipliers,
		BonusDay:      bonusDay,
		BonusCoupon:   bonusCoupon,
		CreatedAt:     fx.clock.Now(),
	})
	require.NoError(t, err)
}

func TestStreakEarnsBonusCoupon(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	fx.createConfig(t, [7]*float64{f(1.0), f(1.5), f(2.0), f(1), f(1), f(1), f(1)}, 3, "满20减5")

	mon, err := fx.svc.SignIn(ctx, fx.userID, at(2, 9))
	require.NoError(t, err)
	require.EqualValues(t, 10, mon.PointsEarned)
	require.Equal(t, 1, mon.ContinuousDays)
	require.False(t, mon.HasBonus)

	tue, err := fx.svc.SignIn(ctx, fx.userID, at(3, 9))
	require.NoError(t, err)
	require.EqualValues(t, 15, tue.PointsEarned)
	require.Equal(t, 2, tue.ContinuousDays)
	require.False(t, tue.HasBonus)

	wed, err := fx.svc.SignIn(ctx, fx.userID, at(4, 9))
	require.NoError(t, err)
	require.EqualValues(t, 20, wed.PointsEarned)
	require.Equal(t, 3, wed.ContinuousDays)
	require.True(t, wed.HasBonus)
	require.NotNil(t, wed.Coupon)
	require.EqualValues(t, 2000, wed.Coupon.MinimumAmount)
	require.EqualValues(t, 500, wed.Coupon.DiscountAmount)
	require.Equal(t, model.CouponFromSignIn, wed.Coupon.Source)
	require.EqualValues(t, 45, wed.Balance)

	acct, err := fx.ledger.Account(ctx, fx.userID)
	require.NoError(t, err)
	require.EqualValues(t, 45, acct.Balance)
}

func TestSignInTwiceSameDay(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	fx.createConfig(t, [7]*float64{f(1), f(1), f(1), f(1), f(1), f(1), f(1)}, 7, "")

	_, err := fx.svc.SignIn(ctx, fx.userID, at(2, 9))
	require.NoError(t, err)
	_, err = fx.svc.SignIn(ctx, fx.userID, at(2, 23))
	require.ErrorIs(t, err, ErrAlreadySignedIn)

	acct, err := fx.ledger.Account(ctx, fx.userID)
	require.NoError(t, err)
	require.EqualValues(t, 10, acct.Balance)
}

func TestConcurrentSignInOnlyOnce(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	fx.createConfig(t, [7]*float64{f(1), f(1), f(1), f(1), f(1), f(1), f(1)}, 7, "")

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.svc.SignIn(ctx, fx.userID, at(2, 9))
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, ok)
	acct, err := fx.ledger.Account(ctx, fx.userID)
	require.NoError(t, err)
	require.EqualValues(t, 10, acct.Balance)
}

func TestSignInWithoutConfig(t *testing.T) {
	fx := setup(t)

	_, err := fx.svc.SignIn(context.Background(), fx.userID, at(2, 9))
	require.ErrorIs(t, err, ErrNoConfig)
}

func TestSignInInvalidMultiplier(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	// Monday has no multiplier.
	fx.createConfig(t, [7]*float64{nil, f(1), f(1), f(1), f(1), f(1), f(1)}, 7, "")

	_, err := fx.svc.SignIn(ctx, fx.userID, at(2, 9))
	require.ErrorIs(t, err, ErrInvalidConfig)

	st, err := fx.svc.Status(ctx, fx.userID, at(2, 9))
	require.NoError(t, err)
	require.False(t, st.TodaySignedIn, "failed sign-in must not leave a record")
}

func TestMalformedBonusCouponStillSignsIn(t *testing.T) {
	fx := setup(t)
	fx.createConfig(t, [7]*float64{f(1), f(1), f(1), f(1), f(1), f(1), f(1)}, 1, "free coffee")

	res, err := fx.svc.SignIn(context.Background(), fx.userID, at(2, 9))
	require.NoError(t, err)
	require.True(t, res.HasBonus)
	require.Nil(t, res.Coupon)
	require.Equal(t, "free coffee", res.BonusCoupon)
}

func TestGapResetsStreak(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	fx.createConfig(t, [7]*float64{f(1), f(1), f(1), f(1), f(1), f(1), f(1)}, 7, "")

	_, err := fx.svc.SignIn(ctx, fx.userID, at(2, 9))
	require.NoError(t, err)
	res, err := fx.svc.SignIn(ctx, fx.userID, at(4, 9))
	require.NoError(t, err)
	require.Equal(t, 1, res.ContinuousDays)
}

func TestDayUsesConfiguredZone(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	// Monday earns 10, Tuesday 20.
	fx.createConfig(t, [7]*float64{f(1), f(2), f(1), f(1), f(1), f(1), f(1)}, 7, "")

	// 17:00 UTC Monday is 01:00 Tuesday in UTC+8.
	res, err := fx.svc.SignIn(ctx, fx.userID, time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.EqualValues(t, 20, res.PointsEarned)

	st, err := fx.svc.Status(ctx, fx.userID, at(3, 12))
	require.NoError(t, err)
	require.True(t, st.TodaySignedIn)
	require.Equal(t, "2026-03-03", st.WeekStatus[1].Date)
	require.True(t, st.WeekStatus[1].Signed)
}

func TestStatus(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	fx.createConfig(t, [7]*float64{f(1), f(1.5), f(1), f(1), f(1), f(1), f(1)}, 7, "")

	empty, err := fx.svc.Status(ctx, fx.userID, at(4, 9))
	require.NoError(t, err)
	require.False(t, empty.TodaySignedIn)
	require.Zero(t, empty.ContinuousDays)
	for _, d := range empty.WeekStatus {
		require.False(t, d.Signed)
	}

	_, err = fx.svc.SignIn(ctx, fx.userID, at(2, 9))
	require.NoError(t, err)
	_, err = fx.svc.SignIn(ctx, fx.userID, at(3, 9))
	require.NoError(t, err)

	st, err := fx.svc.Status(ctx, fx.userID, at(4, 9))
	require.NoError(t, err)
	require.False(t, st.TodaySignedIn)
	require.Equal(t, 2, st.ContinuousDays)
	require.Equal(t, "2026-03-02", st.WeekStatus[0].Date)
	require.True(t, st.WeekStatus[0].Signed)
	require.True(t, st.WeekStatus[1].Signed)
	require.EqualValues(t, 15, st.WeekStatus[1].Points)
	require.False(t, st.WeekStatus[2].Signed)
	require.True(t, st.WeekStatus[2].IsToday)
	require.Equal(t, 7, st.WeekStatus[6].Weekday)

	_, err = fx.svc.SignIn(ctx, fx.userID, at(4, 10))
	require.NoError(t, err)
	st, err = fx.svc.Status(ctx, fx.userID, at(4, 11))
	require.NoError(t, err)
	require.True(t, st.TodaySignedIn)
	require.Equal(t, 3, st.ContinuousDays)
}

func TestBuildWeekConfig(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()

	cfg, err := fx.svc.BuildWeekConfig(ctx, at(5, 9))
	require.NoError(t, err)
	require.True(t, cfg.WeekStartDate.Equal(at(2, 0)), "week starts Monday 00:00 local, got %v", cfg.WeekStartDate)
	require.EqualValues(t, 10, cfg.BasePoints)
	require.GreaterOrEqual(t, cfg.BonusDay, 3)
	require.LessOrEqual(t, cfg.BonusDay, 5)
	require.Equal(t, 1.0, *cfg.Multipliers[0])
	for i := 1; i <= 4; i++ {
		require.Contains(t, []float64{1.0, 1.5}, *cfg.Multipliers[i])
	}
	require.Equal(t, 0.6, *cfg.Multipliers[5])
	require.Equal(t, 2.0, *cfg.Multipliers[6])

	current, err := fx.svc.CurrentConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, cfg.ID, current.ID)
}
