package model

import (
	"math"
	"time"
)

// SignInConfig is the weekly sign-in parameter set. Multipliers is indexed
// Monday=0 .. Sunday=6; a nil entry means the day has no multiplier.
type SignInConfig struct {
	ID            int64       `json:"id"`
	WeekStartDate time.Time   `json:"week_start_date"`
	BasePoints    int64       `json:"base_points"`
	Multipliers   [7]*float64 `json:"multipliers"`
	BonusDay      int         `json:"bonus_day"`
	BonusCoupon   string      `json:"bonus_coupon"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Multiplier returns the multiplier for the given weekday. ok is false when
// the entry is missing or not a finite number.
func (c *SignInConfig) Multiplier(day time.Weekday) (m float64, ok bool) {
	p := c.Multipliers[WeekdayIndex(day)]
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return 0, false
	}
	return *p, true
}

// WeekdayIndex maps Monday to 0 through Sunday to 6.
func WeekdayIndex(day time.Weekday) int {
	return (int(day) + 6) % 7
}

type SignInRecord struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	ConfigID     int64     `json:"config_id"`
	SignInDate   string    `json:"sign_in_date"`
	PointsEarned int64     `json:"points_earned"`
	CreatedAt    time.Time `json:"created_at"`
}
