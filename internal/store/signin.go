package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/perkup/internal/model"
)

type SignInStore struct {
	db DBTX
}

func NewSignInStore(db DBTX) *SignInStore {
	return &SignInStore{db: db}
}

// --- Config methods ---

func scanSignInConfig(scanner interface{ Scan(...any) error }) (*model.SignInConfig, error) {
	var c model.SignInConfig
	var multipliers string

	err := scanner.Scan(&c.ID, &c.WeekStartDate, &c.BasePoints, &multipliers, &c.BonusDay, &c.BonusCoupon, &c.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(multipliers), &c.Multipliers); err != nil {
		return nil, fmt.Errorf("decode multipliers: %w", err)
	}
	return &c, nil
}

const signInConfigCols = `id, week_start_date, base_points, multipliers, bonus_day, bonus_coupon, created_at`

func (s *SignInStore) CreateConfig(ctx context.Context, c *model.SignInConfig) (*model.SignInConfig, error) {
	multipliers, err := json.Marshal(c.Multipliers)
	if err != nil {
		return nil, fmt.Errorf("encode multipliers: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO sign_in_configs (week_start_date, base_points, multipliers, bonus_day, bonus_coupon, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		stamp(c.WeekStartDate), c.BasePoints, string(multipliers), c.BonusDay, c.BonusCoupon, stamp(c.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert sign-in config: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetConfig(ctx, id)
}

func (s *SignInStore) GetConfig(ctx context.Context, id int64) (*model.SignInConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+signInConfigCols+` FROM sign_in_configs WHERE id = ?`, id)
	c, err := scanSignInConfig(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sign-in config: %w", err)
	}
	return c, nil
}

// LatestConfig returns the most recently created config, or nil if none exists.
func (s *SignInStore) LatestConfig(ctx context.Context) (*model.SignInConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+signInConfigCols+` FROM sign_in_configs ORDER BY created_at DESC, id DESC LIMIT 1`)
	c, err := scanSignInConfig(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest sign-in config: %w", err)
	}
	return c, nil
}

// --- Record methods ---

func scanSignInRecord(scanner interface{ Scan(...any) error }) (*model.SignInRecord, error) {
	var r model.SignInRecord
	err := scanner.Scan(&r.ID, &r.UserID, &r.ConfigID, &r.SignInDate, &r.PointsEarned, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

const signInRecordCols = `id, user_id, config_id, sign_in_date, points_earned, created_at`

// CreateRecord inserts a sign-in record. A second record for the same user
// and date fails with a unique constraint error.
func (s *SignInStore) CreateRecord(ctx context.Context, userID, configID int64, date string, points int64, now time.Time) (*model.SignInRecord, error) {
	now = stamp(now)
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO sign_in_records (user_id, config_id, sign_in_date, points_earned, created_at) VALUES (?, ?, ?, ?, ?)`,
		userID, configID, date, points, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert sign-in record: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return &model.SignInRecord{
		ID:           id,
		UserID:       userID,
		ConfigID:     configID,
		SignInDate:   date,
		PointsEarned: points,
		CreatedAt:    now,
	}, nil
}

func (s *SignInStore) GetRecord(ctx context.Context, userID int64, date string) (*model.SignInRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+signInRecordCols+` FROM sign_in_records WHERE user_id = ? AND sign_in_date = ?`,
		userID, date,
	)
	r, err := scanSignInRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sign-in record: %w", err)
	}
	return r, nil
}

// DatesBefore returns the user's sign-in dates strictly before date, newest first.
func (s *SignInStore) DatesBefore(ctx context.Context, userID int64, date string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sign_in_date FROM sign_in_records WHERE user_id = ? AND sign_in_date < ? ORDER BY sign_in_date DESC`,
		userID, date,
	)
	if err != nil {
		return nil, fmt.Errorf("list sign-in dates: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan sign-in date: %w", err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// ListRecordsBetween returns records with from <= date <= to, oldest first.
func (s *SignInStore) ListRecordsBetween(ctx context.Context, userID int64, from, to string) ([]model.SignInRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+signInRecordCols+` FROM sign_in_records
		 WHERE user_id = ? AND sign_in_date >= ? AND sign_in_date <= ?
		 ORDER BY sign_in_date`,
		userID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("list sign-in records: %w", err)
	}
	defer rows.Close()

	var records []model.SignInRecord
	for rows.Next() {
		r, err := scanSignInRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sign-in record: %w", err)
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}
