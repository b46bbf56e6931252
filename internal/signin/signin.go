// Package signin runs the daily sign-in: weekday multipliers, streaks and
// the streak bonus coupon.
package signin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/juju/clock"

	"github.com/dukerupert/perkup/internal/coupon"
	"github.com/dukerupert/perkup/internal/database"
	"github.com/dukerupert/perkup/internal/ledger"
	"github.com/dukerupert/perkup/internal/metrics"
	"github.com/dukerupert/perkup/internal/model"
	"github.com/dukerupert/perkup/internal/store"
)

var (
	ErrAlreadySignedIn = errors.New("already signed in today")
	ErrNoConfig        = errors.New("no sign-in config")
	ErrInvalidConfig   = errors.New("invalid sign-in config")
)

const dateLayout = "2006-01-02"

type Service struct {
	db      *sql.DB
	ledger  *ledger.Service
	coupons *coupon.Service
	clock   clock.Clock
	loc     *time.Location
	logger  *slog.Logger
}

// NewService returns a sign-in service whose calendar days are computed in loc.
func NewService(db *sql.DB, l *ledger.Service, coupons *coupon.Service, clk clock.Clock, loc *time.Location, logger *slog.Logger) *Service {
	return &Service{
		db:      db,
		ledger:  l,
		coupons: coupons,
		clock:   clk,
		loc:     loc,
		logger:  logger,
	}
}

type Result struct {
	PointsEarned   int64             `json:"points_earned"`
	ContinuousDays int               `json:"continuous_days"`
	HasBonus       bool              `json:"has_bonus"`
	BonusCoupon    string            `json:"bonus_coupon,omitempty"`
	Coupon         *model.UserCoupon `json:"coupon,omitempty"`
	Balance        int64             `json:"balance"`
}

// SignIn records the user's sign-in for the calendar day containing today.
// The record, the points and any bonus coupon commit together.
func (s *Service) SignIn(ctx context.Context, userID int64, today time.Time) (*Result, error) {
	day := s.midnight(today)
	key := day.Format(dateLayout)

	var res Result
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res = Result{}
		signins := store.NewSignInStore(tx)

		existing, err := signins.GetRecord(ctx, userID, key)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadySignedIn
		}

		cfg, err := signins.LatestConfig(ctx)
		if err != nil {
			return err
		}
		if cfg == nil {
			return ErrNoConfig
		}

		m, ok := cfg.Multiplier(day.Weekday())
		if !ok || m < 0 {
			return fmt.Errorf("%w: no usable multiplier for %s", ErrInvalidConfig, day.Weekday())
		}
		res.PointsEarned = int64(math.Floor(float64(cfg.BasePoints) * m))

		prior, err := s.streakBefore(ctx, signins, userID, day)
		if err != nil {
			return err
		}
		res.ContinuousDays = prior + 1
		res.HasBonus = res.ContinuousDays >= cfg.BonusDay

		rec, err := signins.CreateRecord(ctx, userID, cfg.ID, key, res.PointsEarned, s.clock.Now())
		if database.IsUniqueViolation(err) {
			return ErrAlreadySignedIn
		}
		if err != nil {
			return err
		}

		if res.PointsEarned > 0 {
			res.Balance, err = s.ledger.CreditTx(ctx, tx, ledger.Entry{
				UserID:      userID,
				Amount:      res.PointsEarned,
				Source:      model.SourceSignIn,
				RelatedID:   rec.ID,
				Description: fmt.Sprintf("Daily sign-in %s (day %d)", key, res.ContinuousDays),
			})
			if err != nil {
				return err
			}
		} else {
			acct, err := s.ledger.Open(ctx, tx, userID)
			if err != nil {
				return err
			}
			res.Balance = acct.Balance
		}

		if !res.HasBonus {
			return nil
		}
		res.BonusCoupon = cfg.BonusCoupon
		minimum, discount, ok := coupon.ParseThreshold(cfg.BonusCoupon)
		if !ok {
			s.logger.Warn("bonus coupon text not recognised", "config_id", cfg.ID, "text", cfg.BonusCoupon)
			return nil
		}
		res.Coupon, err = s.coupons.IssueTx(ctx, tx, coupon.Params{
			UserID:         userID,
			CouponType:     coupon.ThresholdType,
			DiscountAmount: discount,
			MinimumAmount:  minimum,
			Source:         model.CouponFromSignIn,
			RelatedID:      rec.ID,
			ValidityDays:   coupon.DefaultValidityDays,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordSignIn(res.HasBonus)
	if res.PointsEarned > 0 {
		metrics.RecordPosting(string(model.TransactionEarn), string(model.SourceSignIn), res.PointsEarned)
	}
	if res.Coupon != nil {
		metrics.RecordCouponIssued(string(model.CouponFromSignIn))
	}
	s.logger.Info("signed in",
		"user_id", userID,
		"date", key,
		"points", res.PointsEarned,
		"streak", res.ContinuousDays,
		"bonus", res.HasBonus,
	)
	return &res, nil
}

// streakBefore counts consecutive sign-in days ending the day before day.
func (s *Service) streakBefore(ctx context.Context, signins *store.SignInStore, userID int64, day time.Time) (int, error) {
	dates, err := signins.DatesBefore(ctx, userID, day.Format(dateLayout))
	if err != nil {
		return 0, err
	}

	n := 0
	expected := day.AddDate(0, 0, -1)
	for _, d := range dates {
		if d != expected.Format(dateLayout) {
			break
		}
		n++
		expected = expected.AddDate(0, 0, -1)
	}
	return n, nil
}

func (s *Service) midnight(t time.Time) time.Time {
	t = t.In(s.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc)
}

// CurrentConfig returns the config sign-ins are scored against.
func (s *Service) CurrentConfig(ctx context.Context) (*model.SignInConfig, error) {
	cfg, err := store.NewSignInStore(s.db).LatestConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, ErrNoConfig
	}
	return cfg, nil
}
