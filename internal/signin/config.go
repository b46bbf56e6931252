package signin

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/dukerupert/perkup/internal/model"
	"github.com/dukerupert/perkup/internal/store"
)

const (
	weeklyBasePoints  = 10
	weeklyBonusCoupon = "满29减4"
)

// BuildWeekConfig creates the config for the week containing now. Monday
// is 1.0, Tuesday to Friday are 1.0 or 1.5, Saturday 0.6 and Sunday 2.0.
// The bonus day falls between 3 and 5.
func (s *Service) BuildWeekConfig(ctx context.Context, now time.Time) (*model.SignInConfig, error) {
	day := s.midnight(now)
	monday := day.AddDate(0, 0, -model.WeekdayIndex(day.Weekday()))

	var m [7]*float64
	m[0] = multiplier(1.0)
	for i := 1; i <= 4; i++ {
		if rand.IntN(2) == 0 {
			m[i] = multiplier(1.0)
		} else {
			m[i] = multiplier(1.5)
		}
	}
	m[5] = multiplier(0.6)
	m[6] = multiplier(2.0)

	cfg, err := store.NewSignInStore(s.db).CreateConfig(ctx, &model.SignInConfig{
		WeekStartDate: monday,
		BasePoints:    weeklyBasePoints,
		Multipliers:   m,
		BonusDay:      3 + rand.IntN(3),
		BonusCoupon:   weeklyBonusCoupon,
		CreatedAt:     s.clock.Now(),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("weekly sign-in config created",
		"config_id", cfg.ID,
		"week_start", monday.Format(dateLayout),
		"bonus_day", cfg.BonusDay,
	)
	return cfg, nil
}

func multiplier(f float64) *float64 {
	return &f
}
