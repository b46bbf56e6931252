package model

import "time"

type CouponStatus string

const (
	CouponUnused  CouponStatus = "unused"
	CouponUsed    CouponStatus = "used"
	CouponExpired CouponStatus = "expired"
)

type CouponSource string

const (
	CouponFromSignIn   CouponSource = "signin"
	CouponFromExchange CouponSource = "exchange"
)

// UserCoupon amounts are in cents.
type UserCoupon struct {
	ID             int64        `json:"id"`
	UserID         int64        `json:"user_id"`
	CouponType     string       `json:"coupon_type"`
	DiscountAmount int64        `json:"discount_amount"`
	MinimumAmount  int64        `json:"minimum_amount"`
	Status         CouponStatus `json:"status"`
	UsedAt         *time.Time   `json:"used_at,omitempty"`
	ExpiryDate     time.Time    `json:"expiry_date"`
	Source         CouponSource `json:"source"`
	RelatedID      int64        `json:"related_id,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}
