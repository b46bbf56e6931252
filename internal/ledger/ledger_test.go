package ledger

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/perkup/internal/database"
	"github.com/dukerupert/perkup/internal/model"
	"github.com/dukerupert/perkup/internal/store"
)

func setupLedger(t *testing.T) (*Service, *sql.DB, int64) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clk := testclock.NewClock(time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC))
	u, err := store.NewUserStore(db).Create(context.Background(), "alice", "13800000001", "hash", clk.Now())
	require.NoError(t, err)

	return NewService(db, clk, slog.Default()), db, u.ID
}

func TestCreditCreatesAccount(t *testing.T) {
	svc, _, userID := setupLedger(t)
	ctx := context.Background()

	_, err := svc.Account(ctx, userID)
	require.ErrorIs(t, err, ErrAccountNotFound)

	bal, err := svc.Credit(ctx, Entry{UserID: userID, Amount: 15, Source: model.SourceSignIn, Description: "sign-in"})
	require.NoError(t, err)
	require.EqualValues(t, 15, bal)

	acct, err := svc.Account(ctx, userID)
	require.NoError(t, err)
	require.EqualValues(t, 15, acct.Balance)
	require.EqualValues(t, 15, acct.TotalEarned)

	page, err := svc.Transactions(ctx, userID, TransactionFilter{Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	tx := page.Items[0]
	require.Equal(t, model.TransactionEarn, tx.Type)
	require.EqualValues(t, 0, tx.BalanceBefore)
	require.EqualValues(t, 15, tx.BalanceAfter)
}

func TestDebitInsufficient(t *testing.T) {
	svc, _, userID := setupLedger(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, Entry{UserID: userID, Amount: 10, Source: model.SourceSignIn})
	require.NoError(t, err)

	_, err = svc.Debit(ctx, Entry{UserID: userID, Amount: 11, Source: model.SourceReward})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	acct, err := svc.Account(ctx, userID)
	require.NoError(t, err)
	require.EqualValues(t, 10, acct.Balance)

	page, err := svc.Transactions(ctx, userID, TransactionFilter{Type: model.TransactionUse, Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Empty(t, page.Items, "failed debit must not leave a transaction row")
}

func TestDebitMissingAccount(t *testing.T) {
	svc, _, userID := setupLedger(t)

	_, err := svc.Debit(context.Background(), Entry{UserID: userID, Amount: 1, Source: model.SourceReward})
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestInvalidAmount(t *testing.T) {
	svc, _, userID := setupLedger(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, Entry{UserID: userID, Amount: 0, Source: model.SourceSignIn})
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.Debit(ctx, Entry{UserID: userID, Amount: -5, Source: model.SourceReward})
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestDebitRecordsBeforeAndAfter(t *testing.T) {
	svc, _, userID := setupLedger(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, Entry{UserID: userID, Amount: 50, Source: model.SourceTeam})
	require.NoError(t, err)
	bal, err := svc.Debit(ctx, Entry{UserID: userID, Amount: 20, Source: model.SourceReward, RelatedID: 9})
	require.NoError(t, err)
	require.EqualValues(t, 30, bal)

	page, err := svc.Transactions(ctx, userID, TransactionFilter{Type: model.TransactionUse, Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.EqualValues(t, 50, page.Items[0].BalanceBefore)
	require.EqualValues(t, 30, page.Items[0].BalanceAfter)
	require.EqualValues(t, -20, page.Items[0].Amount)
	require.EqualValues(t, 9, page.Items[0].RelatedID)

	acct, err := svc.Account(ctx, userID)
	require.NoError(t, err)
	require.EqualValues(t, 20, acct.TotalUsed)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	svc, _, userID := setupLedger(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, Entry{UserID: userID, Amount: 100, Source: model.SourceTeam})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Debit(ctx, Entry{UserID: userID, Amount: 10, Source: model.SourceReward})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrInsufficientBalance) {
				t.Errorf("unexpected debit error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 10, succeeded)
	acct, err := svc.Account(ctx, userID)
	require.NoError(t, err)
	require.EqualValues(t, 0, acct.Balance)
}

func TestBalanceMatchesHistory(t *testing.T) {
	svc, _, userID := setupLedger(t)
	ctx := context.Background()

	steps := []struct {
		debit  bool
		amount int64
	}{
		{false, 12}, {false, 30}, {true, 5}, {false, 7}, {true, 10}, {true, 34},
	}
	for _, st := range steps {
		var err error
		if st.debit {
			_, err = svc.Debit(ctx, Entry{UserID: userID, Amount: st.amount, Source: model.SourceReward})
		} else {
			_, err = svc.Credit(ctx, Entry{UserID: userID, Amount: st.amount, Source: model.SourceSignIn})
		}
		require.NoError(t, err)
	}

	page, err := svc.Transactions(ctx, userID, TransactionFilter{Page: 1, Limit: 100})
	require.NoError(t, err)
	require.Len(t, page.Items, len(steps))

	// Items are newest first; walk them oldest first.
	var sum, prevAfter int64
	for i := len(page.Items) - 1; i >= 0; i-- {
		tx := page.Items[i]
		step := steps[len(page.Items)-1-i]
		if step.debit {
			require.Equal(t, model.TransactionUse, tx.Type)
			require.Equal(t, -step.amount, tx.Amount)
		} else {
			require.Equal(t, model.TransactionEarn, tx.Type)
			require.Equal(t, step.amount, tx.Amount)
		}
		require.Equal(t, tx.BalanceBefore+tx.Amount, tx.BalanceAfter)
		require.Equal(t, prevAfter, tx.BalanceBefore)
		require.GreaterOrEqual(t, tx.BalanceAfter, int64(0))
		prevAfter = tx.BalanceAfter
		sum += tx.Amount
	}

	acct, err := svc.Account(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, sum, acct.Balance)
	require.Equal(t, prevAfter, acct.Balance)
	require.Equal(t, acct.TotalEarned-acct.TotalUsed, acct.Balance)
}
