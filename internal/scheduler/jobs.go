package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"

	"github.com/dukerupert/perkup/internal/account"
	"github.com/dukerupert/perkup/internal/coupon"
	"github.com/dukerupert/perkup/internal/reward"
	"github.com/dukerupert/perkup/internal/signin"
	"github.com/dukerupert/perkup/internal/team"
)

const (
	JobWeeklyReset   = "weekly_reset"
	JobCouponExpiry  = "coupon_expiry"
	JobCouponCleanup = "coupon_cleanup"
	JobTeamExpiry    = "team_expiry"
)

type Services struct {
	SignIn          *signin.Service
	Rewards         *reward.Service
	Coupons         *coupon.Service
	Teams           *team.Service
	Accounts        *account.Service
	Clock           clock.Clock
	CouponRetention time.Duration
}

// Register adds the maintenance jobs to s.
func Register(s *Scheduler, svc Services) error {
	jobs := []struct {
		name string
		spec string
		fn   func(ctx context.Context) error
	}{
		{JobWeeklyReset, "0 0 * * 1", svc.weeklyReset},
		{JobCouponExpiry, "0 * * * *", svc.couponExpiry},
		{JobCouponCleanup, "0 2 * * *", svc.couponCleanup},
		{JobTeamExpiry, "*/5 * * * *", svc.teamExpiry},
	}
	for _, j := range jobs {
		if err := s.Add(j.name, j.spec, j.fn); err != nil {
			return err
		}
	}
	return nil
}

func (svc Services) weeklyReset(ctx context.Context) error {
	if _, err := svc.SignIn.BuildWeekConfig(ctx, svc.Clock.Now()); err != nil {
		return fmt.Errorf("build week config: %w", err)
	}
	if _, err := svc.Rewards.RebuildAll(ctx); err != nil {
		return fmt.Errorf("rebuild catalogs: %w", err)
	}
	return nil
}

func (svc Services) couponExpiry(ctx context.Context) error {
	if _, err := svc.Coupons.ProcessExpired(ctx); err != nil {
		return fmt.Errorf("process expired coupons: %w", err)
	}
	st, err := svc.Coupons.GlobalStats(ctx)
	if err != nil {
		return fmt.Errorf("coupon stats: %w", err)
	}
	svc.Coupons.LogStats(st)
	return nil
}

func (svc Services) couponCleanup(ctx context.Context) error {
	if _, err := svc.Coupons.CleanupExpired(ctx, svc.CouponRetention); err != nil {
		return fmt.Errorf("cleanup coupons: %w", err)
	}
	if _, err := svc.Accounts.CleanupSessions(ctx); err != nil {
		return fmt.Errorf("cleanup sessions: %w", err)
	}
	return nil
}

func (svc Services) teamExpiry(ctx context.Context) error {
	if _, err := svc.Teams.ExpireOverdue(ctx); err != nil {
		return fmt.Errorf("expire teams: %w", err)
	}
	return nil
}
