// Package reward manages each user's two-stage reward catalog and the
// exchange of points for coupons.
package reward

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/juju/clock"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/perkup/internal/coupon"
	"github.com/dukerupert/perkup/internal/database"
	"github.com/dukerupert/perkup/internal/ledger"
	"github.com/dukerupert/perkup/internal/model"
	"github.com/dukerupert/perkup/internal/store"
)

const rebuildParallelism = 4

type template struct {
	stage     int
	condition int64
	value     int64
	cost      int64
}

// catalogTemplate is the weekly catalog every user receives.
var catalogTemplate = []template{
	{stage: 1, condition: 29, value: 4, cost: 5},
	{stage: 1, condition: 49, value: 6, cost: 10},
	{stage: 1, condition: 69, value: 10, cost: 15},
	{stage: 2, condition: 19, value: 3, cost: 5},
	{stage: 2, condition: 39, value: 5, cost: 10},
	{stage: 2, condition: 99, value: 20, cost: 15},
}

type Service struct {
	db      *sql.DB
	ledger  *ledger.Service
	coupons *coupon.Service
	clock   clock.Clock
	logger  *slog.Logger
}

func NewService(db *sql.DB, l *ledger.Service, coupons *coupon.Service, clk clock.Clock, logger *slog.Logger) *Service {
	return &Service{
		db:      db,
		ledger:  l,
		coupons: coupons,
		clock:   clk,
		logger:  logger,
	}
}

// Item is a catalog entry annotated for the requesting user.
type Item struct {
	model.RewardItem
	IsUnlocked  bool   `json:"is_unlocked"`
	HasStock    bool   `json:"has_stock"`
	CanExchange bool   `json:"can_exchange"`
	LockReason  string `json:"lock_reason,omitempty"`
}

type StageStats struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	SoldOut   int `json:"sold_out"`
}

type Catalog struct {
	Items           []Item             `json:"items"`
	Stage2Unlocked  bool               `json:"stage2_unlocked"`
	AvailableStages []int              `json:"available_stages"`
	Stats           map[int]StageStats `json:"stats"`
}

// stage2Unlocked is derived on every call: stage 2 opens once every stage 1
// item is sold out and at least one stage 2 item exists.
func stage2Unlocked(ctx context.Context, rewards *store.RewardStore, userID int64) (bool, error) {
	stage1Left, err := rewards.CountItems(ctx, userID, 1, true)
	if err != nil {
		return false, err
	}
	stage2, err := rewards.CountItems(ctx, userID, 2, false)
	if err != nil {
		return false, err
	}
	return stage1Left == 0 && stage2 > 0, nil
}

// ListCatalog returns the user's catalog with unlock and stock annotations.
func (s *Service) ListCatalog(ctx context.Context, userID int64) (*Catalog, error) {
	rewards := store.NewRewardStore(s.db)

	items, err := rewards.ListItems(ctx, userID)
	if err != nil {
		return nil, err
	}
	unlocked, err := stage2Unlocked(ctx, rewards, userID)
	if err != nil {
		return nil, err
	}

	c := &Catalog{
		Items:           make([]Item, 0, len(items)),
		Stage2Unlocked:  unlocked,
		AvailableStages: []int{1},
		Stats:           make(map[int]StageStats),
	}
	if unlocked {
		c.AvailableStages = append(c.AvailableStages, 2)
	}

	for _, it := range items {
		entry := Item{
			RewardItem: it,
			IsUnlocked: it.Stage == 1 || unlocked,
			HasStock:   it.Stock > 0,
		}
		entry.CanExchange = entry.IsUnlocked && entry.HasStock
		switch {
		case !entry.IsUnlocked:
			entry.LockReason = fmt.Sprintf("complete stage %d first", it.Stage-1)
		case !entry.HasStock:
			entry.LockReason = "out of stock"
		}
		c.Items = append(c.Items, entry)

		st := c.Stats[it.Stage]
		st.Total++
		if entry.HasStock {
			st.Available++
		} else {
			st.SoldOut++
		}
		c.Stats[it.Stage] = st
	}
	return c, nil
}

// Rebuild replaces the user's catalog with a fresh copy of the template
// inside the caller's transaction.
func (s *Service) Rebuild(ctx context.Context, tx *sql.Tx, userID int64) error {
	rewards := store.NewRewardStore(tx)
	if err := rewards.DeleteItems(ctx, userID); err != nil {
		return err
	}

	now := s.clock.Now()
	for _, tpl := range catalogTemplate {
		name := fmt.Sprintf("满%d减%d", tpl.condition, tpl.value)
		_, err := rewards.CreateItem(ctx, &model.RewardItem{
			UserID:          userID,
			Name:            name,
			Description:     fmt.Sprintf("Spend %d, save %d", tpl.condition, tpl.value),
			PointsCost:      tpl.cost,
			CouponType:      coupon.ThresholdType,
			CouponValue:     tpl.value,
			ConditionAmount: tpl.condition,
			Stock:           1,
			Stage:           tpl.stage,
			IsLimited:       true,
			ValidityDays:    coupon.DefaultValidityDays,
			CreatedAt:       now,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// RebuildAll rebuilds every user's catalog, one transaction per user. A
// failure for one user does not stop the others.
func (s *Service) RebuildAll(ctx context.Context) (int, error) {
	ids, err := store.NewUserStore(s.db).ListIDs(ctx)
	if err != nil {
		return 0, err
	}

	var rebuilt, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(rebuildParallelism)
	for _, id := range ids {
		g.Go(func() error {
			err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
				return s.Rebuild(ctx, tx, id)
			})
			if err != nil {
				failed.Add(1)
				s.logger.Error("rebuild catalog", "user_id", id, "error", err)
				return nil
			}
			rebuilt.Add(1)
			return nil
		})
	}
	g.Wait()

	s.logger.Info("catalogs rebuilt", "users", rebuilt.Load(), "failed", failed.Load())
	if n := failed.Load(); n > 0 {
		return int(rebuilt.Load()), fmt.Errorf("rebuild catalogs: %d of %d users failed", n, len(ids))
	}
	return int(rebuilt.Load()), nil
}
