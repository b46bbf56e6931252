package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/perkup/internal/model"
)

type TeamStore struct {
	db DBTX
}

func NewTeamStore(db DBTX) *TeamStore {
	return &TeamStore{db: db}
}

// --- Team methods ---

func scanTeam(scanner interface{ Scan(...any) error }) (*model.Team, error) {
	var t model.Team
	err := scanner.Scan(&t.ID, &t.CaptainID, &t.Name, &t.InviteCode, &t.StartTime, &t.EndTime, &t.Status, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const teamCols = `id, captain_id, name, invite_code, start_time, end_time, status, created_at`

// Create inserts an active team. An invite code already held by another
// active team fails with a unique constraint error.
func (s *TeamStore) Create(ctx context.Context, t *model.Team) (*model.Team, error) {
	t.StartTime = stamp(t.StartTime)
	t.EndTime = stamp(t.EndTime)
	t.CreatedAt = stamp(t.CreatedAt)
	t.Status = model.TeamActive

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO teams (captain_id, name, invite_code, start_time, end_time, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.CaptainID, t.Name, t.InviteCode, t.StartTime, t.EndTime, t.Status, t.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert team: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	out := *t
	out.ID = id
	return &out, nil
}

func (s *TeamStore) GetByID(ctx context.Context, id int64) (*model.Team, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+teamCols+` FROM teams WHERE id = ?`, id)
	t, err := scanTeam(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get team: %w", err)
	}
	return t, nil
}

// GetActiveByInviteCode looks up an active team by code regardless of its
// end time.
func (s *TeamStore) GetActiveByInviteCode(ctx context.Context, code string) (*model.Team, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+teamCols+` FROM teams WHERE invite_code = ? AND status = 'active'`,
		code,
	)
	t, err := scanTeam(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get team by invite code: %w", err)
	}
	return t, nil
}

// LatestByInviteCode returns the newest team that used code in any status.
func (s *TeamStore) LatestByInviteCode(ctx context.Context, code string) (*model.Team, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+teamCols+` FROM teams WHERE invite_code = ? ORDER BY id DESC LIMIT 1`,
		code,
	)
	t, err := scanTeam(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest team by invite code: %w", err)
	}
	return t, nil
}

// NameInUse reports whether an active or expired team already has name.
func (s *TeamStore) NameInUse(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM teams WHERE name = ? AND status IN ('active', 'expired')`,
		name,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check team name: %w", err)
	}
	return n > 0, nil
}

// LatestByMember returns the newest team the user belongs to with the given
// role, or nil. An empty role matches any role.
func (s *TeamStore) LatestByMember(ctx context.Context, userID int64, role model.MemberRole) (*model.Team, error) {
	q := `SELECT t.id, t.captain_id, t.name, t.invite_code, t.start_time, t.end_time, t.status, t.created_at
		 FROM teams t JOIN team_members m ON m.team_id = t.id
		 WHERE m.user_id = ?`
	args := []any{userID}
	if role != "" {
		q += ` AND m.role = ?`
		args = append(args, role)
	}
	q += ` ORDER BY t.id DESC LIMIT 1`

	t, err := scanTeam(s.db.QueryRowContext(ctx, q, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest team by member: %w", err)
	}
	return t, nil
}

// ActiveTeamOf returns the active, unexpired team the user belongs to at now.
func (s *TeamStore) ActiveTeamOf(ctx context.Context, userID int64, now time.Time) (*model.Team, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT t.id, t.captain_id, t.name, t.invite_code, t.start_time, t.end_time, t.status, t.created_at
		 FROM teams t JOIN team_members m ON m.team_id = t.id
		 WHERE m.user_id = ? AND t.status = 'active' AND t.end_time > ?
		 ORDER BY t.id DESC LIMIT 1`,
		userID, stamp(now),
	)
	t, err := scanTeam(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active team of user: %w", err)
	}
	return t, nil
}

func (s *TeamStore) SetStatus(ctx context.Context, id int64, status model.TeamStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE teams SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("set team status: %w", err)
	}
	return nil
}

// Complete moves an active team to completed. It reports false if the team
// was not active, which makes settlement happen at most once.
func (s *TeamStore) Complete(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE teams SET status = 'completed' WHERE id = ? AND status = 'active'`, id)
	if err != nil {
		return false, fmt.Errorf("complete team: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Reopen gives a team a new invite code and window and marks it active.
func (s *TeamStore) Reopen(ctx context.Context, id int64, code string, start, end time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE teams SET invite_code = ?, start_time = ?, end_time = ?, status = 'active' WHERE id = ?`,
		code, stamp(start), stamp(end), id,
	)
	if err != nil {
		return fmt.Errorf("reopen team: %w", err)
	}
	return nil
}

// ExpireOverdue marks active teams whose window closed at or before now as expired.
func (s *TeamStore) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE teams SET status = 'expired' WHERE status = 'active' AND end_time <= ?`,
		stamp(now),
	)
	if err != nil {
		return 0, fmt.Errorf("expire teams: %w", err)
	}
	return result.RowsAffected()
}

// Delete removes the team and its members.
func (s *TeamStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM team_members WHERE team_id = ?`, id); err != nil {
		return fmt.Errorf("delete team members: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM teams WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete team: %w", err)
	}
	return nil
}

// --- Member methods ---

func scanTeamMember(scanner interface{ Scan(...any) error }) (*model.TeamMember, error) {
	var m model.TeamMember
	var isNew int

	err := scanner.Scan(&m.ID, &m.TeamID, &m.UserID, &m.Username, &m.Role, &isNew, &m.PointsEarned, &m.JoinedAt)
	if err != nil {
		return nil, err
	}

	m.IsNewUser = isNew != 0
	return &m, nil
}

const teamMemberCols = `m.id, m.team_id, m.user_id, u.username, m.role, m.is_new_user, m.points_earned, m.joined_at`

func (s *TeamStore) AddMember(ctx context.Context, teamID, userID int64, role model.MemberRole, isNewUser bool, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO team_members (team_id, user_id, role, is_new_user, points_earned, joined_at) VALUES (?, ?, ?, ?, 0, ?)`,
		teamID, userID, role, boolInt(isNewUser), stamp(now),
	)
	if err != nil {
		return fmt.Errorf("add team member: %w", err)
	}
	return nil
}

func (s *TeamStore) RemoveMember(ctx context.Context, teamID, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM team_members WHERE team_id = ? AND user_id = ?`, teamID, userID)
	if err != nil {
		return fmt.Errorf("remove team member: %w", err)
	}
	return nil
}

func (s *TeamStore) GetMember(ctx context.Context, teamID, userID int64) (*model.TeamMember, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+teamMemberCols+` FROM team_members m JOIN users u ON u.id = m.user_id
		 WHERE m.team_id = ? AND m.user_id = ?`,
		teamID, userID,
	)
	m, err := scanTeamMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get team member: %w", err)
	}
	return m, nil
}

// ListMembers returns members in join order, captain first.
func (s *TeamStore) ListMembers(ctx context.Context, teamID int64) ([]model.TeamMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+teamMemberCols+` FROM team_members m JOIN users u ON u.id = m.user_id
		 WHERE m.team_id = ? ORDER BY m.id`,
		teamID,
	)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()

	var members []model.TeamMember
	for rows.Next() {
		m, err := scanTeamMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

func (s *TeamStore) CountMembers(ctx context.Context, teamID int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM team_members WHERE team_id = ?`, teamID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count team members: %w", err)
	}
	return n, nil
}

// RefreshNewUserFlags drops the new-user snapshot of members whose account
// is no longer new. Snapshots are never raised.
func (s *TeamStore) RefreshNewUserFlags(ctx context.Context, teamID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE team_members SET is_new_user = 0
		 WHERE team_id = ? AND is_new_user = 1
		   AND user_id IN (SELECT id FROM users WHERE is_new_user = 0)`,
		teamID,
	)
	if err != nil {
		return fmt.Errorf("refresh new-user flags: %w", err)
	}
	return nil
}

func (s *TeamStore) SetMemberPoints(ctx context.Context, memberID, points int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE team_members SET points_earned = ? WHERE id = ?`, points, memberID)
	if err != nil {
		return fmt.Errorf("set member points: %w", err)
	}
	return nil
}

// --- Record methods ---

func scanTeamRecord(scanner interface{ Scan(...any) error }) (*model.TeamRecord, error) {
	var r model.TeamRecord
	var isNew int
	err := scanner.Scan(&r.ID, &r.TeamID, &r.UserID, &r.TeamName, &r.Role, &r.PointsEarned, &isNew,
		&r.Status, &r.MemberCount, &r.CompletedAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.IsNewUser = isNew == 1
	return &r, nil
}

const teamRecordCols = `id, team_id, user_id, team_name, role, points_earned, is_new_user, status, member_count, completed_at, created_at`

func (s *TeamStore) CreateRecord(ctx context.Context, r *model.TeamRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO team_records (team_id, user_id, team_name, role, points_earned, is_new_user, status, member_count, completed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TeamID, r.UserID, r.TeamName, r.Role, r.PointsEarned, boolInt(r.IsNewUser), r.Status,
		r.MemberCount, stamp(r.CompletedAt), stamp(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert team record: %w", err)
	}
	return nil
}

// ListRecords returns the user's team records newest first. An empty status
// matches every status.
func (s *TeamStore) ListRecords(ctx context.Context, userID int64, status model.TeamStatus, page Page) ([]model.TeamRecord, int, error) {
	where := `WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		where += ` AND status = ?`
		args = append(args, status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM team_records `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count team records: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+teamRecordCols+` FROM team_records `+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, page.Limit, page.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list team records: %w", err)
	}
	defer rows.Close()

	var records []model.TeamRecord
	for rows.Next() {
		r, err := scanTeamRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan team record: %w", err)
		}
		records = append(records, *r)
	}
	return records, total, rows.Err()
}
