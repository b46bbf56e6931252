package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/perkup/internal/model"
)

type UserStore struct {
	db DBTX
}

func NewUserStore(db DBTX) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var isNew int

	err := scanner.Scan(&u.ID, &u.Username, &u.Phone, &u.PasswordHash, &isNew, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}

	u.IsNewUser = isNew != 0
	return &u, nil
}

const userCols = `id, username, phone, password_hash, is_new_user, created_at, updated_at`

func (s *UserStore) Create(ctx context.Context, username, phone, passwordHash string, now time.Time) (*model.User, error) {
	now = stamp(now)
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, phone, password_hash, is_new_user, created_at, updated_at) VALUES (?, ?, ?, 1, ?, ?)`,
		username, phone, passwordHash, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *UserStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByPhone(ctx context.Context, phone string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE phone = ?`, phone)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by phone: %w", err)
	}
	return u, nil
}

// ListIDs returns every user id in ascending order.
func (s *UserStore) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClearNewUser flips is_new_user to false. It is a no-op for users who
// already lost the flag.
func (s *UserStore) ClearNewUser(ctx context.Context, id int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_new_user = 0, updated_at = ? WHERE id = ? AND is_new_user = 1`,
		stamp(now), id,
	)
	if err != nil {
		return fmt.Errorf("clear new user: %w", err)
	}
	return nil
}
