package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/perkup/internal/model"
)

type CouponStore struct {
	db DBTX
}

func NewCouponStore(db DBTX) *CouponStore {
	return &CouponStore{db: db}
}

func scanCoupon(scanner interface{ Scan(...any) error }) (*model.UserCoupon, error) {
	var c model.UserCoupon
	var usedAt sql.NullTime

	err := scanner.Scan(&c.ID, &c.UserID, &c.CouponType, &c.DiscountAmount, &c.MinimumAmount, &c.Status,
		&usedAt, &c.ExpiryDate, &c.Source, &c.RelatedID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if usedAt.Valid {
		c.UsedAt = &usedAt.Time
	}
	return &c, nil
}

const couponCols = `id, user_id, coupon_type, discount_amount, minimum_amount, status, used_at, expiry_date, source, related_id, created_at, updated_at`

func (s *CouponStore) Create(ctx context.Context, c *model.UserCoupon) (*model.UserCoupon, error) {
	c.CreatedAt = stamp(c.CreatedAt)
	c.UpdatedAt = c.CreatedAt
	c.ExpiryDate = stamp(c.ExpiryDate)
	if c.Status == "" {
		c.Status = model.CouponUnused
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO user_coupons (user_id, coupon_type, discount_amount, minimum_amount, status, expiry_date, source, related_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.UserID, c.CouponType, c.DiscountAmount, c.MinimumAmount, c.Status, c.ExpiryDate,
		c.Source, c.RelatedID, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert coupon: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	out := *c
	out.ID = id
	return &out, nil
}

// GetForUser returns the coupon only if it belongs to userID.
func (s *CouponStore) GetForUser(ctx context.Context, userID, id int64) (*model.UserCoupon, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+couponCols+` FROM user_coupons WHERE id = ? AND user_id = ?`, id, userID)
	c, err := scanCoupon(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	return c, nil
}

// MarkUsed moves an unused, unexpired coupon to used. It reports false when
// the coupon was not in that state.
func (s *CouponStore) MarkUsed(ctx context.Context, id int64, now time.Time) (bool, error) {
	now = stamp(now)
	result, err := s.db.ExecContext(ctx,
		`UPDATE user_coupons SET status = 'used', used_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'unused' AND expiry_date > ?`,
		now, now, id, now,
	)
	if err != nil {
		return false, fmt.Errorf("mark coupon used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkExpired moves one unused coupon to expired.
func (s *CouponStore) MarkExpired(ctx context.Context, id int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_coupons SET status = 'expired', updated_at = ? WHERE id = ? AND status = 'unused'`,
		stamp(now), id,
	)
	if err != nil {
		return fmt.Errorf("mark coupon expired: %w", err)
	}
	return nil
}

// ExpireDue moves every unused coupon whose expiry is at or before now to
// expired and returns how many changed.
func (s *CouponStore) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	now = stamp(now)
	result, err := s.db.ExecContext(ctx,
		`UPDATE user_coupons SET status = 'expired', updated_at = ? WHERE status = 'unused' AND expiry_date <= ?`,
		now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("expire coupons: %w", err)
	}
	return result.RowsAffected()
}

// ListByUser returns the user's coupons, soonest expiry first.
func (s *CouponStore) ListByUser(ctx context.Context, userID int64) ([]model.UserCoupon, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+couponCols+` FROM user_coupons WHERE user_id = ? ORDER BY expiry_date, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}
	defer rows.Close()

	var coupons []model.UserCoupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coupon: %w", err)
		}
		coupons = append(coupons, *c)
	}
	return coupons, rows.Err()
}

// CountByStatus counts coupons per status. A userID of 0 counts across all users.
func (s *CouponStore) CountByStatus(ctx context.Context, userID int64) (map[model.CouponStatus]int, error) {
	q := `SELECT status, COUNT(*) FROM user_coupons`
	var args []any
	if userID != 0 {
		q += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	q += ` GROUP BY status`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("count coupons: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.CouponStatus]int)
	for rows.Next() {
		var status model.CouponStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan coupon count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// CountExpiringBetween counts unused coupons with from < expiry <= to.
func (s *CouponStore) CountExpiringBetween(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_coupons WHERE status = 'unused' AND expiry_date > ? AND expiry_date <= ?`,
		stamp(from), stamp(to),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count expiring coupons: %w", err)
	}
	return n, nil
}

// DeleteExpiredBefore removes expired coupons whose expiry is before cutoff.
func (s *CouponStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM user_coupons WHERE status = 'expired' AND expiry_date < ?`,
		stamp(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired coupons: %w", err)
	}
	return result.RowsAffected()
}
