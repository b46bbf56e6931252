package model

import "time"

// RewardItem is one entry of a user's personal catalog. CouponValue and
// ConditionAmount are whole currency units.
type RewardItem struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	PointsCost      int64     `json:"points_cost"`
	CouponType      string    `json:"coupon_type"`
	CouponValue     int64     `json:"coupon_value"`
	ConditionAmount int64     `json:"condition_amount"`
	Stock           int       `json:"stock"`
	Stage           int       `json:"stage"`
	IsLimited       bool      `json:"is_limited"`
	ValidityDays    int       `json:"validity_days"`
	CreatedAt       time.Time `json:"created_at"`
}

type RewardRecordStatus string

const (
	RewardRecordActive  RewardRecordStatus = "active"
	RewardRecordUsed    RewardRecordStatus = "used"
	RewardRecordExpired RewardRecordStatus = "expired"
)

type RewardRecord struct {
	ID           int64              `json:"id"`
	UserID       int64              `json:"user_id"`
	RewardItemID int64              `json:"reward_item_id"`
	ItemName     string             `json:"item_name"`
	PointsCost   int64              `json:"points_cost"`
	CouponCode   string             `json:"coupon_code"`
	Status       RewardRecordStatus `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
}
