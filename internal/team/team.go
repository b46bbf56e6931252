// Package team runs three-person team formation and its one-time points
// settlement.
package team

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/juju/clock"

	"github.com/dukerupert/perkup/internal/database"
	"github.com/dukerupert/perkup/internal/ledger"
	"github.com/dukerupert/perkup/internal/metrics"
	"github.com/dukerupert/perkup/internal/model"
	"github.com/dukerupert/perkup/internal/store"
)

const (
	MaxMembers   = 3
	Window       = 3 * time.Hour
	MaxNameRunes = 50

	CaptainBasePoints = 50
	MemberBasePoints  = 25
	NewUserBonus      = 10

	inviteCodeLength   = 6
	inviteCodeAttempts = 5
	inviteCodeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

var (
	ErrTeamFull                   = errors.New("team is full")
	ErrAlreadyInActiveTeam        = errors.New("already in an active team")
	ErrInviteCodeInvalidOrExpired = errors.New("invite code invalid or expired")
	ErrNotCaptain                 = errors.New("only the captain can do this")
	ErrNotMember                  = errors.New("captain cannot leave, dissolve the team instead")
	ErrTeamAlreadyCompleted       = errors.New("team already completed")
	ErrTeamStillRecruiting        = errors.New("team is still recruiting")
	ErrTeamNameTaken              = errors.New("team name already taken")
	ErrInvalidTeamName            = errors.New("team name must be 1 to 50 characters")
	ErrNoTeam                     = errors.New("not in a team")
	ErrUserNotFound               = errors.New("user not found")
)

type Service struct {
	db     *sql.DB
	ledger *ledger.Service
	clock  clock.Clock
	logger *slog.Logger
}

func NewService(db *sql.DB, l *ledger.Service, clk clock.Clock, logger *slog.Logger) *Service {
	return &Service{db: db, ledger: l, clock: clk, logger: logger}
}

// NewInviteCode returns 6 random uppercase base-36 characters.
func NewInviteCode() (string, error) {
	var sb strings.Builder
	base := big.NewInt(int64(len(inviteCodeAlphabet)))
	for range inviteCodeLength {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", fmt.Errorf("generate invite code: %w", err)
		}
		sb.WriteByte(inviteCodeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// Points computes each member's settlement award keyed by user id. The
// captain earns a bonus for every new member they recruited.
func Points(members []model.TeamMember) map[int64]int64 {
	var newRecruits int64
	for _, m := range members {
		if m.Role == model.RoleMember && m.IsNewUser {
			newRecruits++
		}
	}

	out := make(map[int64]int64, len(members))
	for _, m := range members {
		var p int64
		switch m.Role {
		case model.RoleCaptain:
			p = CaptainBasePoints + NewUserBonus*newRecruits
		default:
			p = MemberBasePoints
		}
		if m.IsNewUser {
			p += NewUserBonus
		}
		out[m.UserID] = p
	}
	return out
}

// View is a team as seen by one of its members.
type View struct {
	Team             *model.Team        `json:"team"`
	Members          []model.TeamMember `json:"members"`
	MemberCount      int                `json:"member_count"`
	RemainingSeconds int64              `json:"remaining_seconds"`
	MyRole           model.MemberRole   `json:"my_role"`
	MyPoints         int64              `json:"my_points"`
}

// Settlement reports the points awarded when a team completed.
type Settlement struct {
	TeamID int64           `json:"team_id"`
	Points map[int64]int64 `json:"points"`
}

type JoinResult struct {
	View       *View       `json:"view"`
	Settlement *Settlement `json:"settlement,omitempty"`
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameRunes {
		return "", ErrInvalidTeamName
	}
	return name, nil
}

// Create starts a new team with userID as captain.
func (s *Service) Create(ctx context.Context, userID int64, name string) (*View, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}

	var view *View
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		teams := store.NewTeamStore(tx)
		now := s.clock.Now()

		taken, err := teams.NameInUse(ctx, name)
		if err != nil {
			return err
		}
		if taken {
			return ErrTeamNameTaken
		}

		current, err := teams.ActiveTeamOf(ctx, userID, now)
		if err != nil {
			return err
		}
		if current != nil {
			return ErrAlreadyInActiveTeam
		}

		u, err := store.NewUserStore(tx).GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if u == nil {
			return ErrUserNotFound
		}

		team, err := s.insertTeam(ctx, teams, userID, name, now)
		if err != nil {
			return err
		}
		if err := teams.AddMember(ctx, team.ID, userID, model.RoleCaptain, u.IsNewUser, now); err != nil {
			return err
		}

		view, err = s.view(ctx, teams, team, userID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("team created", "team_id", view.Team.ID, "captain_id", userID, "invite_code", view.Team.InviteCode)
	return view, nil
}

func (s *Service) insertTeam(ctx context.Context, teams *store.TeamStore, captainID int64, name string, now time.Time) (*model.Team, error) {
	var lastErr error
	for range inviteCodeAttempts {
		code, err := NewInviteCode()
		if err != nil {
			return nil, err
		}
		team, err := teams.Create(ctx, &model.Team{
			CaptainID:  captainID,
			Name:       name,
			InviteCode: code,
			StartTime:  now,
			EndTime:    now.Add(Window),
			CreatedAt:  now,
		})
		if err == nil {
			return team, nil
		}
		if !database.IsUniqueViolation(err) {
			return nil, err
		}
		metrics.RecordCodeCollision("invite")
		lastErr = err
	}
	return nil, fmt.Errorf("allocate invite code: %w", lastErr)
}

// JoinByCode adds userID to the active team holding code. The join that
// fills the team settles it in the same transaction.
func (s *Service) JoinByCode(ctx context.Context, userID int64, code string) (*JoinResult, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	var (
		res     *JoinResult
		expired bool
	)
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, expired = nil, false
		teams := store.NewTeamStore(tx)
		now := s.clock.Now()

		team, err := teams.GetActiveByInviteCode(ctx, code)
		if err != nil {
			return err
		}
		if team == nil {
			last, err := teams.LatestByInviteCode(ctx, code)
			if err != nil {
				return err
			}
			if last != nil && last.Status == model.TeamCompleted {
				return ErrTeamFull
			}
			return ErrInviteCodeInvalidOrExpired
		}
		if !now.Before(team.EndTime) {
			// Commit the expiry, then report the code as unusable.
			expired = true
			return teams.SetStatus(ctx, team.ID, model.TeamExpired)
		}

		current, err := teams.ActiveTeamOf(ctx, userID, now)
		if err != nil {
			return err
		}
		if current != nil {
			return ErrAlreadyInActiveTeam
		}

		count, err := teams.CountMembers(ctx, team.ID)
		if err != nil {
			return err
		}
		if count >= MaxMembers {
			return ErrTeamFull
		}

		u, err := store.NewUserStore(tx).GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if u == nil {
			return ErrUserNotFound
		}
		if err := teams.AddMember(ctx, team.ID, userID, model.RoleMember, u.IsNewUser, now); err != nil {
			return err
		}

		res = &JoinResult{}
		count, err = teams.CountMembers(ctx, team.ID)
		if err != nil {
			return err
		}
		if count == MaxMembers {
			res.Settlement, err = s.settle(ctx, tx, team)
			if err != nil {
				return err
			}
			if res.Settlement != nil {
				team.Status = model.TeamCompleted
			}
		}

		res.View, err = s.view(ctx, teams, team, userID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, ErrInviteCodeInvalidOrExpired
	}

	s.logger.Info("team joined", "team_id", res.View.Team.ID, "user_id", userID, "members", res.View.MemberCount)
	if res.Settlement != nil {
		s.settled(res.Settlement)
	}
	return res, nil
}

// settle awards the team's points once. It returns nil when the team was
// already settled.
func (s *Service) settle(ctx context.Context, tx *sql.Tx, team *model.Team) (*Settlement, error) {
	teams := store.NewTeamStore(tx)
	users := store.NewUserStore(tx)
	now := s.clock.Now()

	ok, err := teams.Complete(ctx, team.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	// A member may have used up the new-user bonus in another team since
	// joining this one.
	if err := teams.RefreshNewUserFlags(ctx, team.ID); err != nil {
		return nil, err
	}
	members, err := teams.ListMembers(ctx, team.ID)
	if err != nil {
		return nil, err
	}

	points := Points(members)
	for _, m := range members {
		p := points[m.UserID]
		if err := teams.SetMemberPoints(ctx, m.ID, p); err != nil {
			return nil, err
		}
		_, err := s.ledger.CreditTx(ctx, tx, ledger.Entry{
			UserID:      m.UserID,
			Amount:      p,
			Source:      model.SourceTeam,
			RelatedID:   team.ID,
			Description: fmt.Sprintf("Team %s completed", team.Name),
		})
		if err != nil {
			return nil, err
		}
		if m.IsNewUser {
			if err := users.ClearNewUser(ctx, m.UserID, now); err != nil {
				return nil, err
			}
		}
		err = teams.CreateRecord(ctx, &model.TeamRecord{
			TeamID:       team.ID,
			UserID:       m.UserID,
			TeamName:     team.Name,
			Role:         m.Role,
			PointsEarned: p,
			IsNewUser:    m.IsNewUser,
			Status:       model.TeamCompleted,
			MemberCount:  len(members),
			CompletedAt:  now,
			CreatedAt:    now,
		})
		if err != nil {
			return nil, err
		}
	}

	return &Settlement{TeamID: team.ID, Points: points}, nil
}

func (s *Service) settled(st *Settlement) {
	metrics.RecordSettlement()
	for _, p := range st.Points {
		metrics.RecordPosting(string(model.TransactionEarn), string(model.SourceTeam), p)
	}
	s.logger.Info("team settled", "team_id", st.TeamID, "members", len(st.Points))
}

func (s *Service) view(ctx context.Context, teams *store.TeamStore, team *model.Team, userID int64, now time.Time) (*View, error) {
	members, err := teams.ListMembers(ctx, team.ID)
	if err != nil {
		return nil, err
	}

	v := &View{
		Team:        team,
		Members:     members,
		MemberCount: len(members),
	}
	if team.Status == model.TeamActive && now.Before(team.EndTime) {
		v.RemainingSeconds = int64(team.EndTime.Sub(now) / time.Second)
	}
	for _, m := range members {
		if m.UserID == userID {
			v.MyRole = m.Role
			v.MyPoints = m.PointsEarned
		}
	}
	return v, nil
}
