package reward

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dukerupert/perkup/internal/coupon"
	"github.com/dukerupert/perkup/internal/database"
	"github.com/dukerupert/perkup/internal/ledger"
	"github.com/dukerupert/perkup/internal/metrics"
	"github.com/dukerupert/perkup/internal/model"
	"github.com/dukerupert/perkup/internal/store"
)

var (
	ErrItemNotFound       = errors.New("reward item not found")
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrOutOfStock         = errors.New("reward item out of stock")
	ErrStageLocked        = errors.New("reward stage locked")
	ErrAccountNotFound    = ledger.ErrAccountNotFound

	// ErrExchangeReconciliationRequired means the exchange failed after the
	// debit and the rollback failed too, so the debit may have persisted.
	ErrExchangeReconciliationRequired = errors.New("exchange requires reconciliation")
)

const codeAttempts = 3

// NewCouponCode returns "CODE" followed by 8 uppercase hex characters.
func NewCouponCode() string {
	id := uuid.New()
	return "CODE" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
}

type ExchangeResult struct {
	CouponCode     string              `json:"coupon_code"`
	PointsCost     int64               `json:"points_cost"`
	NewBalance     int64               `json:"new_balance"`
	Stage2Unlocked bool                `json:"stage2_unlocked"`
	JustUnlocked   bool                `json:"just_unlocked"`
	ItemSoldOut    bool                `json:"item_sold_out"`
	Record         *model.RewardRecord `json:"record"`
	Coupon         *model.UserCoupon   `json:"coupon"`
}

// Exchange spends points on one catalog item. The debit, stock decrement,
// exchange record and coupon commit together or not at all.
func (s *Service) Exchange(ctx context.Context, userID, itemID int64) (*ExchangeResult, error) {
	var (
		res     ExchangeResult
		debited bool
	)
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res = ExchangeResult{}
		debited = false
		rewards := store.NewRewardStore(tx)

		item, err := rewards.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		if item == nil || item.UserID != userID || item.Stock <= 0 {
			return ErrItemNotFound
		}

		wasUnlocked, err := stage2Unlocked(ctx, rewards, userID)
		if err != nil {
			return err
		}
		if item.Stage == 2 && !wasUnlocked {
			return ErrStageLocked
		}

		acct, err := store.NewAccountStore(tx).GetByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if acct == nil {
			return ErrAccountNotFound
		}
		if acct.Balance < item.PointsCost {
			return ErrInsufficientPoints
		}

		res.NewBalance, err = s.ledger.DebitTx(ctx, tx, ledger.Entry{
			UserID:      userID,
			Amount:      item.PointsCost,
			Source:      model.SourceReward,
			RelatedID:   item.ID,
			Description: fmt.Sprintf("Exchanged %s", item.Name),
		})
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return ErrInsufficientPoints
		}
		if err != nil {
			return err
		}
		debited = true

		ok, err := rewards.DecrementStock(ctx, item.ID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrOutOfStock
		}

		rec, err := s.createRecord(ctx, rewards, userID, item)
		if err != nil {
			return err
		}

		c, err := s.coupons.IssueTx(ctx, tx, coupon.Params{
			UserID:         userID,
			CouponType:     item.CouponType,
			DiscountAmount: item.CouponValue * 100,
			MinimumAmount:  item.ConditionAmount * 100,
			Source:         model.CouponFromExchange,
			RelatedID:      rec.ID,
			ValidityDays:   item.ValidityDays,
		})
		if err != nil {
			return err
		}

		nowUnlocked, err := stage2Unlocked(ctx, rewards, userID)
		if err != nil {
			return err
		}

		res.CouponCode = rec.CouponCode
		res.PointsCost = item.PointsCost
		res.Stage2Unlocked = nowUnlocked
		res.JustUnlocked = nowUnlocked && !wasUnlocked
		res.ItemSoldOut = item.Stock-1 <= 0
		res.Record = rec
		res.Coupon = c
		return nil
	})
	if err != nil {
		return nil, s.exchangeFailed(userID, itemID, debited, err)
	}

	metrics.RecordExchange("success")
	metrics.RecordPosting(string(model.TransactionUse), string(model.SourceReward), res.PointsCost)
	metrics.RecordCouponIssued(string(model.CouponFromExchange))
	s.logger.Info("reward exchanged",
		"user_id", userID,
		"item_id", itemID,
		"points", res.PointsCost,
		"balance", res.NewBalance,
		"just_unlocked", res.JustUnlocked,
	)
	return &res, nil
}

func (s *Service) createRecord(ctx context.Context, rewards *store.RewardStore, userID int64, item *model.RewardItem) (*model.RewardRecord, error) {
	var lastErr error
	for range codeAttempts {
		rec, err := rewards.CreateRecord(ctx, &model.RewardRecord{
			UserID:       userID,
			RewardItemID: item.ID,
			ItemName:     item.Name,
			PointsCost:   item.PointsCost,
			CouponCode:   NewCouponCode(),
			Status:       model.RewardRecordActive,
			CreatedAt:    s.clock.Now(),
		})
		if err == nil {
			return rec, nil
		}
		if !database.IsUniqueViolation(err) {
			return nil, err
		}
		metrics.RecordCodeCollision("coupon")
		lastErr = err
	}
	return nil, fmt.Errorf("allocate coupon code: %w", lastErr)
}

func (s *Service) exchangeFailed(userID, itemID int64, debited bool, err error) error {
	var rb *database.RollbackError
	if errors.As(err, &rb) && debited {
		metrics.RecordReconciliationRequired()
		metrics.RecordExchange("reconciliation_required")
		s.logger.Error("exchange rollback failed",
			"user_id", userID,
			"item_id", itemID,
			"error", rb.Err,
			"rollback_error", rb.RollbackErr,
		)
		return fmt.Errorf("%w: %w", ErrExchangeReconciliationRequired, err)
	}

	switch {
	case errors.Is(err, ErrItemNotFound):
		metrics.RecordExchange("item_not_found")
	case errors.Is(err, ErrStageLocked):
		metrics.RecordExchange("stage_locked")
	case errors.Is(err, ErrInsufficientPoints):
		metrics.RecordExchange("insufficient_points")
	case errors.Is(err, ErrOutOfStock):
		metrics.RecordExchange("out_of_stock")
		s.logger.Warn("exchange lost stock race, debit rolled back", "user_id", userID, "item_id", itemID)
	default:
		metrics.RecordExchange("error")
	}
	return err
}

// Records lists the user's exchange history newest first.
func (s *Service) Records(ctx context.Context, userID int64, page, size int) ([]model.RewardRecord, int, error) {
	records, total, err := store.NewRewardStore(s.db).ListRecords(ctx, userID, "", store.NewPage(page, size))
	if err != nil {
		return nil, 0, err
	}
	if records == nil {
		records = []model.RewardRecord{}
	}
	return records, total, nil
}

// FindByCouponCode returns the exchange record holding code, or nil.
func (s *Service) FindByCouponCode(ctx context.Context, code string) (*model.RewardRecord, error) {
	return store.NewRewardStore(s.db).GetRecordByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
}
