package model

import "time"

type TransactionType string

const (
	TransactionEarn   TransactionType = "earn"
	TransactionUse    TransactionType = "use"
	TransactionExpire TransactionType = "expire"
)

type TransactionSource string

const (
	SourceSignIn TransactionSource = "signin"
	SourceTeam   TransactionSource = "team"
	SourceReward TransactionSource = "reward"
	SourceMakeup TransactionSource = "makeup"
	SourceOrder  TransactionSource = "order"
)

type PointsAccount struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Balance     int64     `json:"balance"`
	TotalEarned int64     `json:"total_earned"`
	TotalUsed   int64     `json:"total_used"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PointsTransaction is an append-only ledger row. Amount is signed:
// BalanceAfter = BalanceBefore + Amount.
type PointsTransaction struct {
	ID            int64             `json:"id"`
	AccountID     int64             `json:"account_id"`
	UserID        int64             `json:"user_id"`
	Amount        int64             `json:"amount"`
	Type          TransactionType   `json:"type"`
	Source        TransactionSource `json:"source"`
	RelatedID     int64             `json:"related_id,omitempty"`
	Description   string            `json:"description"`
	BalanceBefore int64             `json:"balance_before"`
	BalanceAfter  int64             `json:"balance_after"`
	CreatedAt     time.Time         `json:"created_at"`
}
