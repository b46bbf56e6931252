package reward

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"path/filepath"
	"regexp"
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

type fixture struct {
	svc     *Service
	db      *sql.DB
	ledger  *ledger.Service
	coupons *coupon.Service
	clock   *testclock.Clock
	userID  int64
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "reward.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clk := testclock.NewClock(time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC))
	logger := slog.Default()
	l := ledger.NewService(db, clk, logger)
	coupons := coupon.NewService(db, clk, logger)
	fx := &fixture{
		svc:     NewService(db, l, coupons, clk, logger),
		db:      db,
		ledger:  l,
		coupons: coupons,
		clock:   clk,
	}
	fx.userID = fx.newUser(t, "alice", "13800000001")
	return fx
}

func (fx *fixture) newUser(t *testing.T, name, phone string) int64 {
	t.Helper()
	ctx := context.Background()
	u, err := store.NewUserStore(fx.db).Create(ctx, name, phone, "hash", time.Now())
	require.NoError(t, err)
	err = database.WithTx(ctx, fx.db, func(tx *sql.Tx) error {
		if _, err := fx.ledger.Open(ctx, tx, u.ID); err != nil {
			return err
		}
		return fx.svc.Rebuild(ctx, tx, u.ID)
	})
	require.NoError(t, err)
	return u.ID
}

func (fx *fixture) fund(t *testing.T, amount int64) {
	t.Helper()
	_, err := fx.ledger.Credit(context.Background(), ledger.Entry{UserID: fx.userID, Amount: amount, Source: model.SourceSignIn})
	require.NoError(t, err)
}

// item finds the catalog item with the given stage and cost.
func (fx *fixture) item(t *testing.T, stage int, cost int64) Item {
	t.Helper()
	c, err := fx.svc.ListCatalog(context.Background(), fx.userID)
	require.NoError(t, err)
	for _, it := range c.Items {
		if it.Stage == stage && it.PointsCost == cost {
			return it
		}
	}
	t.Fatalf("no stage %d item costing %d", stage, cost)
	return Item{}
}

func TestNewCouponCode(t *testing.T) {
	re := regexp.MustCompile(`^CODE[0-9A-F]{8}$`)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code := NewCouponCode()
		require.Regexp(t, re, code)
		seen[code] = true
	}
	require.Greater(t, len(seen), 95)
}

func TestRebuildIsIdempotent(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := database.WithTx(ctx, fx.db, func(tx *sql.Tx) error {
			return fx.svc.Rebuild(ctx, tx, fx.userID)
		})
		require.NoError(t, err)
	}

	c, err := fx.svc.ListCatalog(ctx, fx.userID)
	require.NoError(t, err)
	require.Len(t, c.Items, 6)
	require.Equal(t, StageStats{Total: 3, Available: 3}, c.Stats[1])
	require.Equal(t, StageStats{Total: 3, Available: 3}, c.Stats[2])
	require.False(t, c.Stage2Unlocked)
	require.Equal(t, []int{1}, c.AvailableStages)

	first := c.Items[0]
	require.Equal(t, "满29减4", first.Name)
	require.EqualValues(t, 5, first.PointsCost)
	require.True(t, first.CanExchange)

	last := c.Items[5]
	require.Equal(t, 2, last.Stage)
	require.False(t, last.IsUnlocked)
	require.False(t, last.CanExchange)
	require.Equal(t, "complete stage 1 first", last.LockReason)
}

func TestExchange(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	fx.fund(t, 12)
	it := fx.item(t, 1, 5)

	res, err := fx.svc.Exchange(ctx, fx.userID, it.ID)
	require.NoError(t, err)
	require.EqualValues(t, 7, res.NewBalance)
	require.EqualValues(t, 5, res.PointsCost)
	require.True(t, res.ItemSoldOut)
	require.False(t, res.JustUnlocked)
	require.Regexp(t, `^CODE[0-9A-F]{8}$`, res.CouponCode)
	require.EqualValues(t, 400, res.Coupon.DiscountAmount)
	require.EqualValues(t, 2900, res.Coupon.MinimumAmount)
	require.Equal(t, model.CouponFromExchange, res.Coupon.Source)
	require.Equal(t, res.Record.ID, res.Coupon.RelatedID)

	after := fx.item(t, 1, 5)
	require.Zero(t, after.Stock)
	require.Equal(t, "out of stock", after.LockReason)

	rec, err := fx.svc.FindByCouponCode(ctx, res.CouponCode)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, it.ID, rec.RewardItemID)
	require.Equal(t, model.RewardRecordActive, rec.Status)
	require.Equal(t, model.RewardRecordActive, res.Record.Status)

	_, err = fx.svc.Exchange(ctx, fx.userID, it.ID)
	require.ErrorIs(t, err, ErrItemNotFound)
}

func TestRecordFollowsCoupon(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	fx.fund(t, 100)

	recordStatus := func(code string) model.RewardRecordStatus {
		t.Helper()
		rec, err := fx.svc.FindByCouponCode(ctx, code)
		require.NoError(t, err)
		require.NotNil(t, rec)
		return rec.Status
	}

	used, err := fx.svc.Exchange(ctx, fx.userID, fx.item(t, 1, 5).ID)
	require.NoError(t, err)
	_, err = fx.coupons.Use(ctx, fx.userID, used.Coupon.ID)
	require.NoError(t, err)
	require.Equal(t, model.RewardRecordUsed, recordStatus(used.CouponCode))

	swept, err := fx.svc.Exchange(ctx, fx.userID, fx.item(t, 1, 10).ID)
	require.NoError(t, err)
	fx.clock.Advance(8 * 24 * time.Hour)
	n, err := fx.coupons.ProcessExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.Equal(t, model.RewardRecordExpired, recordStatus(swept.CouponCode))
	require.Equal(t, model.RewardRecordUsed, recordStatus(used.CouponCode))

	late, err := fx.svc.Exchange(ctx, fx.userID, fx.item(t, 1, 15).ID)
	require.NoError(t, err)
	require.Equal(t, model.RewardRecordActive, recordStatus(late.CouponCode))
	fx.clock.Advance(8 * 24 * time.Hour)
	_, err = fx.coupons.Use(ctx, fx.userID, late.Coupon.ID)
	require.ErrorIs(t, err, coupon.ErrExpired)
	require.Equal(t, model.RewardRecordExpired, recordStatus(late.CouponCode))
}

func TestExchangeInsufficientPoints(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	fx.fund(t, 3)
	it := fx.item(t, 1, 5)

	_, err := fx.svc.Exchange(ctx, fx.userID, it.ID)
	require.ErrorIs(t, err, ErrInsufficientPoints)

	acct, err := fx.ledger.Account(ctx, fx.userID)
	require.NoError(t, err)
	require.EqualValues(t, 3, acct.Balance)
	require.EqualValues(t, 1, fx.item(t, 1, 5).Stock)
}

func TestExchangeWithoutAccount(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()

	u, err := store.NewUserStore(fx.db).Create(ctx, "bob", "13800000002", "hash", time.Now())
	require.NoError(t, err)
	require.NoError(t, database.WithTx(ctx, fx.db, func(tx *sql.Tx) error {
		return fx.svc.Rebuild(ctx, tx, u.ID)
	}))
	c, err := fx.svc.ListCatalog(ctx, u.ID)
	require.NoError(t, err)

	_, err = fx.svc.Exchange(ctx, u.ID, c.Items[0].ID)
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestExchangeOtherUsersItem(t *testing.T) {
	fx := setup(t)
	fx.fund(t, 100)
	bob := fx.newUser(t, "bob", "13800000002")

	c, err := fx.svc.ListCatalog(context.Background(), bob)
	require.NoError(t, err)

	_, err = fx.svc.Exchange(context.Background(), fx.userID, c.Items[0].ID)
	require.ErrorIs(t, err, ErrItemNotFound)
}

func TestStageTwoUnlocksAfterStageOneSellsOut(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	fx.fund(t, 100)

	locked := fx.item(t, 2, 5)
	_, err := fx.svc.Exchange(ctx, fx.userID, locked.ID)
	require.ErrorIs(t, err, ErrStageLocked)

	var last *ExchangeResult
	for _, cost := range []int64{5, 10, 15} {
		it := fx.item(t, 1, cost)
		last, err = fx.svc.Exchange(ctx, fx.userID, it.ID)
		require.NoError(t, err)
	}
	require.True(t, last.JustUnlocked)
	require.True(t, last.Stage2Unlocked)

	c, err := fx.svc.ListCatalog(ctx, fx.userID)
	require.NoError(t, err)
	require.True(t, c.Stage2Unlocked)
	require.Equal(t, []int{1, 2}, c.AvailableStages)
	require.Equal(t, StageStats{Total: 3, SoldOut: 3}, c.Stats[1])

	res, err := fx.svc.Exchange(ctx, fx.userID, locked.ID)
	require.NoError(t, err)
	require.False(t, res.JustUnlocked)
	require.True(t, res.Stage2Unlocked)
	require.EqualValues(t, 100-5-10-15-5, res.NewBalance)
}

func TestConcurrentExchangeSellsOnce(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	fx.fund(t, 100)
	it := fx.item(t, 1, 10)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.svc.Exchange(ctx, fx.userID, it.ID)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrItemNotFound) && !errors.Is(err, ErrOutOfStock) {
				t.Errorf("unexpected exchange error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, wins)
	acct, err := fx.ledger.Account(ctx, fx.userID)
	require.NoError(t, err)
	require.EqualValues(t, 90, acct.Balance)

	records, total, err := fx.svc.Records(ctx, fx.userID, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, records, 1)
}

func TestRebuildAll(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()
	fx.newUser(t, "bob", "13800000002")
	fx.newUser(t, "carol", "13800000003")
	fx.fund(t, 100)

	_, err := fx.svc.Exchange(ctx, fx.userID, fx.item(t, 1, 5).ID)
	require.NoError(t, err)

	n, err := fx.svc.RebuildAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	// Stock is restored after the weekly rebuild.
	require.EqualValues(t, 1, fx.item(t, 1, 5).Stock)
}
