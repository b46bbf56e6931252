package coupon

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/juju/clock"

	"github.com/dukerupert/perkup/internal/database"
	"github.com/dukerupert/perkup/internal/metrics"
	"github.com/dukerupert/perkup/internal/model"
	"github.com/dukerupert/perkup/internal/store"
)

const (
	// DefaultValidityDays applies when an issue request does not set one.
	DefaultValidityDays = 7

	// DefaultRetention is how long expired coupons are kept before cleanup.
	DefaultRetention = 30 * 24 * time.Hour

	// ThresholdType is the coupon type for "spend X, save Y" coupons.
	ThresholdType = "满减券"
)

var (
	ErrNotFound             = errors.New("coupon not found")
	ErrAlreadyUsedOrExpired = errors.New("coupon already used or expired")
	ErrExpired              = errors.New("coupon expired")
)

var thresholdPattern = regexp.MustCompile(`满(\d+)减(\d+)`)

// ParseThreshold reads a "满X减Y" description and returns the minimum spend
// and discount in cents. ok is false when text does not match.
func ParseThreshold(text string) (minimum, discount int64, ok bool) {
	m := thresholdPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, false
	}
	x, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	y, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return x * 100, y * 100, true
}

// Params describes a coupon to issue. Amounts are in cents.
type Params struct {
	UserID         int64
	CouponType     string
	DiscountAmount int64
	MinimumAmount  int64
	Source         model.CouponSource
	RelatedID      int64
	ValidityDays   int
}

type Service struct {
	db     *sql.DB
	clock  clock.Clock
	logger *slog.Logger
}

func NewService(db *sql.DB, clk clock.Clock, logger *slog.Logger) *Service {
	return &Service{db: db, clock: clk, logger: logger}
}

// Issue creates an unused coupon expiring ValidityDays from now.
func (s *Service) Issue(ctx context.Context, p Params) (*model.UserCoupon, error) {
	c, err := s.issue(ctx, s.db, p)
	if err != nil {
		return nil, err
	}
	metrics.RecordCouponIssued(string(p.Source))
	return c, nil
}

// IssueTx creates a coupon inside the caller's transaction.
func (s *Service) IssueTx(ctx context.Context, tx *sql.Tx, p Params) (*model.UserCoupon, error) {
	return s.issue(ctx, tx, p)
}

func (s *Service) issue(ctx context.Context, db store.DBTX, p Params) (*model.UserCoupon, error) {
	days := p.ValidityDays
	if days <= 0 {
		days = DefaultValidityDays
	}
	if p.CouponType == "" {
		p.CouponType = ThresholdType
	}

	now := s.clock.Now()
	return store.NewCouponStore(db).Create(ctx, &model.UserCoupon{
		UserID:         p.UserID,
		CouponType:     p.CouponType,
		DiscountAmount: p.DiscountAmount,
		MinimumAmount:  p.MinimumAmount,
		Status:         model.CouponUnused,
		ExpiryDate:     now.AddDate(0, 0, days),
		Source:         p.Source,
		RelatedID:      p.RelatedID,
		CreatedAt:      now,
	})
}

// Use redeems one of the user's coupons. A coupon found past its expiry is
// moved to expired before ErrExpired is returned.
func (s *Service) Use(ctx context.Context, userID, couponID int64) (*model.UserCoupon, error) {
	now := s.clock.Now()

	c, err := store.NewCouponStore(s.db).GetForUser(ctx, userID, couponID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotFound
	}
	if c.Status != model.CouponUnused {
		return nil, ErrAlreadyUsedOrExpired
	}

	if !now.Before(c.ExpiryDate) {
		err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
			if err := store.NewCouponStore(tx).MarkExpired(ctx, c.ID, now); err != nil {
				return err
			}
			return closeRecord(ctx, tx, c, model.RewardRecordExpired)
		})
		if err != nil {
			return nil, err
		}
		return nil, ErrExpired
	}

	var used bool
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		ok, err := store.NewCouponStore(tx).MarkUsed(ctx, c.ID, now)
		if err != nil || !ok {
			return err
		}
		used = true
		return closeRecord(ctx, tx, c, model.RewardRecordUsed)
	})
	if err != nil {
		return nil, err
	}
	if !used {
		return nil, ErrAlreadyUsedOrExpired
	}

	s.logger.Info("coupon used", "user_id", userID, "coupon_id", c.ID)
	return store.NewCouponStore(s.db).GetForUser(ctx, userID, c.ID)
}

// closeRecord carries a coupon's final status onto the exchange record that
// issued it.
func closeRecord(ctx context.Context, tx *sql.Tx, c *model.UserCoupon, status model.RewardRecordStatus) error {
	if c.Source != model.CouponFromExchange || c.RelatedID == 0 {
		return nil
	}
	return store.NewRewardStore(tx).CloseRecord(ctx, c.RelatedID, status)
}

// ProcessExpired moves every unused coupon past its expiry to expired.
func (s *Service) ProcessExpired(ctx context.Context) (int64, error) {
	var n, records int64
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		if n, err = store.NewCouponStore(tx).ExpireDue(ctx, s.clock.Now()); err != nil {
			return err
		}
		records, err = store.NewRewardStore(tx).ExpireRecords(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	metrics.RecordCouponsExpired(n)
	if n > 0 {
		s.logger.Info("coupons expired", "count", n, "exchange_records", records)
	}
	return n, nil
}

// CleanupExpired deletes expired coupons whose expiry is older than
// retention. A non-positive retention means DefaultRetention.
func (s *Service) CleanupExpired(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	n, err := store.NewCouponStore(s.db).DeleteExpiredBefore(ctx, s.clock.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired coupons removed", "count", n)
	}
	return n, nil
}

// Wallet groups a user's coupons by status.
type Wallet struct {
	Unused  []model.UserCoupon `json:"unused"`
	Used    []model.UserCoupon `json:"used"`
	Expired []model.UserCoupon `json:"expired"`
}

// List returns the user's coupons grouped by status. Unused coupons already
// past their expiry are reported as expired.
func (s *Service) List(ctx context.Context, userID int64) (*Wallet, error) {
	all, err := store.NewCouponStore(s.db).ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	w := &Wallet{
		Unused:  []model.UserCoupon{},
		Used:    []model.UserCoupon{},
		Expired: []model.UserCoupon{},
	}
	for _, c := range all {
		switch {
		case c.Status == model.CouponUsed:
			w.Used = append(w.Used, c)
		case c.Status == model.CouponExpired, !now.Before(c.ExpiryDate):
			c.Status = model.CouponExpired
			w.Expired = append(w.Expired, c)
		default:
			w.Unused = append(w.Unused, c)
		}
	}
	return w, nil
}

type Stats struct {
	Total        int `json:"total"`
	Unused       int `json:"unused"`
	Used         int `json:"used"`
	Expired      int `json:"expired"`
	ExpiringSoon int `json:"expiring_soon,omitempty"`
}

// Stats counts the user's coupons per status.
func (s *Service) Stats(ctx context.Context, userID int64) (*Stats, error) {
	counts, err := store.NewCouponStore(s.db).CountByStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	return newStats(counts), nil
}

// GlobalStats counts coupons across all users, including unused coupons
// that expire within the next 24 hours.
func (s *Service) GlobalStats(ctx context.Context) (*Stats, error) {
	coupons := store.NewCouponStore(s.db)
	counts, err := coupons.CountByStatus(ctx, 0)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	soon, err := coupons.CountExpiringBetween(ctx, now, now.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}

	st := newStats(counts)
	st.ExpiringSoon = soon
	return st, nil
}

// LogStats writes a coupon stats snapshot to the log.
func (s *Service) LogStats(st *Stats) {
	s.logger.Info("coupon stats",
		"total", st.Total,
		"unused", st.Unused,
		"used", st.Used,
		"expired", st.Expired,
		"expiring_soon", st.ExpiringSoon,
	)
}

func newStats(counts map[model.CouponStatus]int) *Stats {
	st := &Stats{
		Unused:  counts[model.CouponUnused],
		Used:    counts[model.CouponUsed],
		Expired: counts[model.CouponExpired],
	}
	st.Total = st.Unused + st.Used + st.Expired
	return st
}
