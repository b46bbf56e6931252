package model

import "time"

type TeamStatus string

const (
	TeamActive    TeamStatus = "active"
	TeamCompleted TeamStatus = "completed"
	TeamExpired   TeamStatus = "expired"
)

type MemberRole string

const (
	RoleCaptain MemberRole = "captain"
	RoleMember  MemberRole = "member"
)

type Team struct {
	ID         int64      `json:"id"`
	CaptainID  int64      `json:"captain_id"`
	Name       string     `json:"name"`
	InviteCode string     `json:"invite_code"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    time.Time  `json:"end_time"`
	Status     TeamStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
}

// TeamMember.IsNewUser is the user's flag as it was when they joined.
type TeamMember struct {
	ID           int64      `json:"id"`
	TeamID       int64      `json:"team_id"`
	UserID       int64      `json:"user_id"`
	Username     string     `json:"username"`
	Role         MemberRole `json:"role"`
	IsNewUser    bool       `json:"is_new_user"`
	PointsEarned int64      `json:"points_earned"`
	JoinedAt     time.Time  `json:"joined_at"`
}

type TeamRecord struct {
	ID           int64      `json:"id"`
	TeamID       int64      `json:"team_id"`
	UserID       int64      `json:"user_id"`
	TeamName     string     `json:"team_name"`
	Role         MemberRole `json:"role"`
	PointsEarned int64      `json:"points_earned"`
	IsNewUser    bool       `json:"is_new_user"`
	Status       TeamStatus `json:"status"`
	MemberCount  int        `json:"member_count"`
	CompletedAt  time.Time  `json:"completed_at"`
	CreatedAt    time.Time  `json:"created_at"`
}
