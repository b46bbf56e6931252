package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/perkup/internal/model"
)

type RewardStore struct {
	db DBTX
}

func NewRewardStore(db DBTX) *RewardStore {
	return &RewardStore{db: db}
}

// --- Item methods ---

func scanRewardItem(scanner interface{ Scan(...any) error }) (*model.RewardItem, error) {
	var it model.RewardItem
	var limited int

	err := scanner.Scan(&it.ID, &it.UserID, &it.Name, &it.Description, &it.PointsCost, &it.CouponType,
		&it.CouponValue, &it.ConditionAmount, &it.Stock, &it.Stage, &limited, &it.ValidityDays, &it.CreatedAt)
	if err != nil {
		return nil, err
	}

	it.IsLimited = limited != 0
	return &it, nil
}

const rewardItemCols = `id, user_id, name, description, points_cost, coupon_type, coupon_value, condition_amount, stock, stage, is_limited, validity_days, created_at`

func (s *RewardStore) CreateItem(ctx context.Context, it *model.RewardItem) (*model.RewardItem, error) {
	it.CreatedAt = stamp(it.CreatedAt)
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO reward_items (user_id, name, description, points_cost, coupon_type, coupon_value, condition_amount, stock, stage, is_limited, validity_days, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.UserID, it.Name, it.Description, it.PointsCost, it.CouponType, it.CouponValue, it.ConditionAmount,
		it.Stock, it.Stage, boolInt(it.IsLimited), it.ValidityDays, it.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert reward item: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	out := *it
	out.ID = id
	return &out, nil
}

func (s *RewardStore) GetItem(ctx context.Context, id int64) (*model.RewardItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+rewardItemCols+` FROM reward_items WHERE id = ?`, id)
	it, err := scanRewardItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reward item: %w", err)
	}
	return it, nil
}

// ListItems returns the user's catalog ordered by stage, then cost.
func (s *RewardStore) ListItems(ctx context.Context, userID int64) ([]model.RewardItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rewardItemCols+` FROM reward_items WHERE user_id = ? ORDER BY stage, points_cost, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list reward items: %w", err)
	}
	defer rows.Close()

	var items []model.RewardItem
	for rows.Next() {
		it, err := scanRewardItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reward item: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// CountItems counts the user's items in stage. With inStock set, only items
// with stock left are counted.
func (s *RewardStore) CountItems(ctx context.Context, userID int64, stage int, inStock bool) (int, error) {
	q := `SELECT COUNT(*) FROM reward_items WHERE user_id = ? AND stage = ?`
	if inStock {
		q += ` AND stock > 0`
	}
	var n int
	if err := s.db.QueryRowContext(ctx, q, userID, stage).Scan(&n); err != nil {
		return 0, fmt.Errorf("count reward items: %w", err)
	}
	return n, nil
}

// DecrementStock takes one unit of stock. It reports false when the item had
// none left.
func (s *RewardStore) DecrementStock(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE reward_items SET stock = stock - 1 WHERE id = ? AND stock > 0`, id)
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *RewardStore) DeleteItems(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reward_items WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete reward items: %w", err)
	}
	return nil
}

// --- Record methods ---

func scanRewardRecord(scanner interface{ Scan(...any) error }) (*model.RewardRecord, error) {
	var r model.RewardRecord
	err := scanner.Scan(&r.ID, &r.UserID, &r.RewardItemID, &r.ItemName, &r.PointsCost, &r.CouponCode, &r.Status, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

const rewardRecordCols = `id, user_id, reward_item_id, item_name, points_cost, coupon_code, status, created_at`

// CreateRecord inserts an exchange record. A duplicate coupon code fails
// with a unique constraint error.
func (s *RewardStore) CreateRecord(ctx context.Context, r *model.RewardRecord) (*model.RewardRecord, error) {
	r.CreatedAt = stamp(r.CreatedAt)
	if r.Status == "" {
		r.Status = model.RewardRecordActive
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO reward_records (user_id, reward_item_id, item_name, points_cost, coupon_code, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.UserID, r.RewardItemID, r.ItemName, r.PointsCost, r.CouponCode, r.Status, r.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert reward record: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	out := *r
	out.ID = id
	return &out, nil
}

// CloseRecord moves an active exchange record to status. Records that are
// already closed are left alone.
func (s *RewardStore) CloseRecord(ctx context.Context, id int64, status model.RewardRecordStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reward_records SET status = ? WHERE id = ? AND status = 'active'`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("close reward record: %w", err)
	}
	return nil
}

// ExpireRecords moves active exchange records whose coupon has expired.
func (s *RewardStore) ExpireRecords(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE reward_records SET status = 'expired'
		 WHERE status = 'active' AND id IN (
		     SELECT related_id FROM user_coupons WHERE source = 'exchange' AND status = 'expired'
		 )`,
	)
	if err != nil {
		return 0, fmt.Errorf("expire reward records: %w", err)
	}
	return result.RowsAffected()
}

func (s *RewardStore) GetRecordByCode(ctx context.Context, code string) (*model.RewardRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+rewardRecordCols+` FROM reward_records WHERE coupon_code = ?`, code)
	r, err := scanRewardRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reward record: %w", err)
	}
	return r, nil
}

// ListRecords returns the user's exchange records newest first. An empty
// status matches every status.
func (s *RewardStore) ListRecords(ctx context.Context, userID int64, status model.RewardRecordStatus, page Page) ([]model.RewardRecord, int, error) {
	where := `WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		where += ` AND status = ?`
		args = append(args, status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reward_records `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count reward records: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rewardRecordCols+` FROM reward_records `+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, page.Limit, page.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list reward records: %w", err)
	}
	defer rows.Close()

	var records []model.RewardRecord
	for rows.Next() {
		r, err := scanRewardRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan reward record: %w", err)
		}
		records = append(records, *r)
	}
	return records, total, rows.Err()
}

