// Package ledger owns point balances. Every balance change goes through
// Credit or Debit and leaves exactly one transaction row behind.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/juju/clock"

	"github.com/dukerupert/perkup/internal/database"
	"github.com/dukerupert/perkup/internal/metrics"
	"github.com/dukerupert/perkup/internal/model"
	"github.com/dukerupert/perkup/internal/store"
)

var (
	ErrAccountNotFound     = errors.New("points account not found")
	ErrInsufficientBalance = errors.New("insufficient points balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// Entry describes one posting.
type Entry struct {
	UserID      int64
	Amount      int64
	Source      model.TransactionSource
	RelatedID   int64
	Description string
}

type Service struct {
	db     *sql.DB
	clock  clock.Clock
	logger *slog.Logger
}

func NewService(db *sql.DB, clk clock.Clock, logger *slog.Logger) *Service {
	return &Service{db: db, clock: clk, logger: logger}
}

// Open makes sure the user has an account inside tx.
func (s *Service) Open(ctx context.Context, tx *sql.Tx, userID int64) (*model.PointsAccount, error) {
	return store.NewAccountStore(tx).Open(ctx, userID, s.clock.Now())
}

// Account returns the user's account.
func (s *Service) Account(ctx context.Context, userID int64) (*model.PointsAccount, error) {
	a, err := store.NewAccountStore(s.db).GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAccountNotFound
	}
	return a, nil
}

// Credit adds points in its own transaction and returns the new balance.
func (s *Service) Credit(ctx context.Context, e Entry) (int64, error) {
	var balance int64
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		balance, err = s.CreditTx(ctx, tx, e)
		return err
	})
	if err != nil {
		return 0, err
	}
	metrics.RecordPosting(string(model.TransactionEarn), string(e.Source), e.Amount)
	return balance, nil
}

// Debit removes points in its own transaction and returns the new balance.
func (s *Service) Debit(ctx context.Context, e Entry) (int64, error) {
	var balance int64
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		balance, err = s.DebitTx(ctx, tx, e)
		return err
	})
	if err != nil {
		return 0, err
	}
	metrics.RecordPosting(string(model.TransactionUse), string(e.Source), e.Amount)
	return balance, nil
}

// CreditTx adds points as part of the caller's transaction. The account is
// created if the user has none.
func (s *Service) CreditTx(ctx context.Context, tx *sql.Tx, e Entry) (int64, error) {
	if e.Amount <= 0 {
		return 0, ErrInvalidAmount
	}

	now := s.clock.Now()
	accounts := store.NewAccountStore(tx)

	acct, err := accounts.Credit(ctx, e.UserID, e.Amount, now)
	if err != nil {
		return 0, err
	}

	if err := s.record(ctx, accounts, acct, model.TransactionEarn, e); err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// DebitTx removes points as part of the caller's transaction. The balance
// never goes negative: an uncovered debit fails with ErrInsufficientBalance.
func (s *Service) DebitTx(ctx context.Context, tx *sql.Tx, e Entry) (int64, error) {
	if e.Amount <= 0 {
		return 0, ErrInvalidAmount
	}

	now := s.clock.Now()
	accounts := store.NewAccountStore(tx)

	acct, err := accounts.Debit(ctx, e.UserID, e.Amount, now)
	if err != nil {
		return 0, err
	}
	if acct == nil {
		existing, err := accounts.GetByUserID(ctx, e.UserID)
		if err != nil {
			return 0, err
		}
		if existing == nil {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, existing.Balance, e.Amount)
	}

	if err := s.record(ctx, accounts, acct, model.TransactionUse, e); err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

func (s *Service) record(ctx context.Context, accounts *store.AccountStore, after *model.PointsAccount, typ model.TransactionType, e Entry) error {
	amount := e.Amount
	if typ != model.TransactionEarn {
		amount = -amount
	}

	_, err := accounts.InsertTransaction(ctx, &model.PointsTransaction{
		AccountID:     after.ID,
		UserID:        e.UserID,
		Amount:        amount,
		Type:          typ,
		Source:        e.Source,
		RelatedID:     e.RelatedID,
		Description:   e.Description,
		BalanceBefore: after.Balance - amount,
		BalanceAfter:  after.Balance,
		CreatedAt:     s.clock.Now(),
	})
	if err != nil {
		return err
	}

	s.logger.Debug("points posted",
		"user_id", e.UserID,
		"type", typ,
		"source", e.Source,
		"amount", amount,
		"balance", after.Balance,
	)
	return nil
}

// TransactionPage is one page of a user's transaction history.
type TransactionPage struct {
	Items    []model.PointsTransaction `json:"items"`
	Total    int                       `json:"total"`
	Page     int                       `json:"page"`
	PageSize int                       `json:"page_size"`
}

// TransactionFilter selects a page of history. An empty Type matches every type.
type TransactionFilter struct {
	Type  model.TransactionType
	Page  int
	Limit int
}

// Transactions lists the user's postings newest first.
func (s *Service) Transactions(ctx context.Context, userID int64, f TransactionFilter) (*TransactionPage, error) {
	p := store.NewPage(f.Page, f.Limit)
	items, total, err := store.NewAccountStore(s.db).ListTransactions(ctx, userID, f.Type, p)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []model.PointsTransaction{}
	}
	return &TransactionPage{
		Items:    items,
		Total:    total,
		Page:     p.Offset/p.Limit + 1,
		PageSize: p.Limit,
	}, nil
}
