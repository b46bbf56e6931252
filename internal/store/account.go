package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/perkup/internal/model"
)

type AccountStore struct {
	db DBTX
}

func NewAccountStore(db DBTX) *AccountStore {
	return &AccountStore{db: db}
}

// --- Account methods ---

func scanAccount(scanner interface{ Scan(...any) error }) (*model.PointsAccount, error) {
	var a model.PointsAccount
	err := scanner.Scan(&a.ID, &a.UserID, &a.Balance, &a.TotalEarned, &a.TotalUsed, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

const accountCols = `id, user_id, balance, total_earned, total_used, created_at, updated_at`

// Open creates an empty account for userID if none exists and returns it.
func (s *AccountStore) Open(ctx context.Context, userID int64, now time.Time) (*model.PointsAccount, error) {
	now = stamp(now)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO points_accounts (user_id, balance, total_earned, total_used, created_at, updated_at)
		 VALUES (?, 0, 0, 0, ?, ?) ON CONFLICT(user_id) DO NOTHING`,
		userID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("open account: %w", err)
	}
	return s.GetByUserID(ctx, userID)
}

func (s *AccountStore) GetByUserID(ctx context.Context, userID int64) (*model.PointsAccount, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM points_accounts WHERE user_id = ?`, userID)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// Credit adds amount to the user's balance in a single statement, creating
// the account if needed, and returns the account after the update.
func (s *AccountStore) Credit(ctx context.Context, userID, amount int64, now time.Time) (*model.PointsAccount, error) {
	now = stamp(now)
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO points_accounts (user_id, balance, total_earned, total_used, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		     balance = balance + excluded.balance,
		     total_earned = total_earned + excluded.total_earned,
		     updated_at = excluded.updated_at
		 RETURNING `+accountCols,
		userID, amount, amount, now, now,
	)
	a, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("credit account: %w", err)
	}
	return a, nil
}

// Debit subtracts amount only if the balance covers it. It returns nil when
// no row was changed, either because the account is missing or the balance
// is too low.
func (s *AccountStore) Debit(ctx context.Context, userID, amount int64, now time.Time) (*model.PointsAccount, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE points_accounts
		 SET balance = balance - ?, total_used = total_used + ?, updated_at = ?
		 WHERE user_id = ? AND balance >= ?
		 RETURNING `+accountCols,
		amount, amount, stamp(now), userID, amount,
	)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("debit account: %w", err)
	}
	return a, nil
}

// --- Transaction methods ---

func scanTransaction(scanner interface{ Scan(...any) error }) (*model.PointsTransaction, error) {
	var t model.PointsTransaction
	err := scanner.Scan(&t.ID, &t.AccountID, &t.UserID, &t.Amount, &t.Type, &t.Source,
		&t.RelatedID, &t.Description, &t.BalanceBefore, &t.BalanceAfter, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const transactionCols = `id, account_id, user_id, amount, type, source, related_id, description, balance_before, balance_after, created_at`

func (s *AccountStore) InsertTransaction(ctx context.Context, t *model.PointsTransaction) (*model.PointsTransaction, error) {
	t.CreatedAt = stamp(t.CreatedAt)
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO points_transactions (account_id, user_id, amount, type, source, related_id, description, balance_before, balance_after, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.AccountID, t.UserID, t.Amount, t.Type, t.Source, t.RelatedID, t.Description,
		t.BalanceBefore, t.BalanceAfter, t.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	out := *t
	out.ID = id
	return &out, nil
}

// ListTransactions returns the user's transactions newest first. An empty
// txType matches every type. The second return value is the unpaged total.
func (s *AccountStore) ListTransactions(ctx context.Context, userID int64, txType model.TransactionType, page Page) ([]model.PointsTransaction, int, error) {
	where := `WHERE user_id = ?`
	args := []any{userID}
	if txType != "" {
		where += ` AND type = ?`
		args = append(args, txType)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM points_transactions `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transactionCols+` FROM points_transactions `+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, page.Limit, page.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []model.PointsTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, *t)
	}
	return txs, total, rows.Err()
}
