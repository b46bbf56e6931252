package team

import (
	"context"
	"database/sql"

	"github.com/dukerupert/perkup/internal/database"
	"github.com/dukerupert/perkup/internal/metrics"
	"github.com/dukerupert/perkup/internal/model"
	"github.com/dukerupert/perkup/internal/store"
)

// Dissolve deletes the captain's most recent team and its memberships.
func (s *Service) Dissolve(ctx context.Context, userID int64) error {
	var teamID int64
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		teams := store.NewTeamStore(tx)

		team, err := teams.LatestByMember(ctx, userID, model.RoleCaptain)
		if err != nil {
			return err
		}
		if team == nil {
			return ErrNotCaptain
		}
		if team.Status == model.TeamCompleted {
			return ErrTeamAlreadyCompleted
		}

		teamID = team.ID
		return teams.Delete(ctx, team.ID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("team dissolved", "team_id", teamID, "captain_id", userID)
	return nil
}

// Leave removes a non-captain member from their most recent team.
func (s *Service) Leave(ctx context.Context, userID int64) error {
	var teamID int64
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		teams := store.NewTeamStore(tx)

		team, err := teams.LatestByMember(ctx, userID, "")
		if err != nil {
			return err
		}
		if team == nil {
			return ErrNoTeam
		}
		if team.CaptainID == userID {
			return ErrNotMember
		}
		if team.Status == model.TeamCompleted {
			return ErrTeamAlreadyCompleted
		}

		teamID = team.ID
		return teams.RemoveMember(ctx, team.ID, userID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("team left", "team_id", teamID, "user_id", userID)
	return nil
}

// RefreshInviteCode reopens the captain's most recent team with a new code
// and a new window. A full team is settled instead.
func (s *Service) RefreshInviteCode(ctx context.Context, userID int64) (*View, error) {
	var (
		view       *View
		settlement *Settlement
	)
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		view, settlement = nil, nil
		teams := store.NewTeamStore(tx)
		now := s.clock.Now()

		team, err := teams.LatestByMember(ctx, userID, model.RoleCaptain)
		if err != nil {
			return err
		}
		if team == nil {
			return ErrNotCaptain
		}
		if team.Status == model.TeamCompleted {
			return ErrTeamAlreadyCompleted
		}

		count, err := teams.CountMembers(ctx, team.ID)
		if err != nil {
			return err
		}
		if count >= MaxMembers {
			// Commit the settlement, then report the team as done.
			settlement, err = s.settle(ctx, tx, team)
			return err
		}
		if team.Status == model.TeamActive && now.Before(team.EndTime) {
			return ErrTeamStillRecruiting
		}

		members, err := teams.ListMembers(ctx, team.ID)
		if err != nil {
			return err
		}
		for _, m := range members {
			other, err := teams.ActiveTeamOf(ctx, m.UserID, now)
			if err != nil {
				return err
			}
			if other != nil && other.ID != team.ID {
				return ErrAlreadyInActiveTeam
			}
		}

		// The old code may be held by an active team again, so retry like Create.
		var lastErr error
		for range inviteCodeAttempts {
			code, err := NewInviteCode()
			if err != nil {
				return err
			}
			err = teams.Reopen(ctx, team.ID, code, now, now.Add(Window))
			if err == nil {
				lastErr = nil
				break
			}
			if !database.IsUniqueViolation(err) {
				return err
			}
			metrics.RecordCodeCollision("invite")
			lastErr = err
		}
		if lastErr != nil {
			return lastErr
		}

		team, err = teams.GetByID(ctx, team.ID)
		if err != nil {
			return err
		}
		view, err = s.view(ctx, teams, team, userID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	if view == nil {
		if settlement != nil {
			s.settled(settlement)
		}
		return nil, ErrTeamAlreadyCompleted
	}

	s.logger.Info("invite code refreshed", "team_id", view.Team.ID, "invite_code", view.Team.InviteCode)
	return view, nil
}

// Active returns the user's active, unexpired team, or nil.
func (s *Service) Active(ctx context.Context, userID int64) (*View, error) {
	teams := store.NewTeamStore(s.db)
	now := s.clock.Now()

	team, err := teams.ActiveTeamOf(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if team == nil {
		return nil, nil
	}
	return s.view(ctx, teams, team, userID, now)
}

// Records lists the user's settled team history. An empty status lists all.
func (s *Service) Records(ctx context.Context, userID int64, status model.TeamStatus, page, size int) ([]model.TeamRecord, int, error) {
	records, total, err := store.NewTeamStore(s.db).ListRecords(ctx, userID, status, store.NewPage(page, size))
	if err != nil {
		return nil, 0, err
	}
	if records == nil {
		records = []model.TeamRecord{}
	}
	return records, total, nil
}

// ExpireOverdue marks active teams whose window has closed as expired.
func (s *Service) ExpireOverdue(ctx context.Context) (int64, error) {
	n, err := store.NewTeamStore(s.db).ExpireOverdue(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("teams expired", "count", n)
	}
	return n, nil
}
