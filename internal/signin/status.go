package signin

import (
	"context"
	"time"

	"github.com/dukerupert/perkup/internal/model"
	"github.com/dukerupert/perkup/internal/store"
)

type DayStatus struct {
	Date    string `json:"date"`
	Weekday int    `json:"weekday"`
	Signed  bool   `json:"signed"`
	Points  int64  `json:"points"`
	IsToday bool   `json:"is_today"`
}

type Status struct {
	TodaySignedIn  bool         `json:"today_signed_in"`
	ContinuousDays int          `json:"continuous_days"`
	WeekStatus     [7]DayStatus `json:"week_status"`
}

// Status reports the user's sign-in state for the week containing now
// without changing anything.
func (s *Service) Status(ctx context.Context, userID int64, now time.Time) (*Status, error) {
	signins := store.NewSignInStore(s.db)
	day := s.midnight(now)
	key := day.Format(dateLayout)

	today, err := signins.GetRecord(ctx, userID, key)
	if err != nil {
		return nil, err
	}
	prior, err := s.streakBefore(ctx, signins, userID, day)
	if err != nil {
		return nil, err
	}

	st := &Status{
		TodaySignedIn:  today != nil,
		ContinuousDays: prior,
	}
	if today != nil {
		st.ContinuousDays++
	}

	monday := day.AddDate(0, 0, -model.WeekdayIndex(day.Weekday()))
	sunday := monday.AddDate(0, 0, 6)
	records, err := signins.ListRecordsBetween(ctx, userID, monday.Format(dateLayout), sunday.Format(dateLayout))
	if err != nil {
		return nil, err
	}
	byDate := make(map[string]model.SignInRecord, len(records))
	for _, r := range records {
		byDate[r.SignInDate] = r
	}

	for i := range st.WeekStatus {
		d := monday.AddDate(0, 0, i).Format(dateLayout)
		r, signed := byDate[d]
		st.WeekStatus[i] = DayStatus{
			Date:    d,
			Weekday: i + 1,
			Signed:  signed,
			Points:  r.PointsEarned,
			IsToday: d == key,
		}
	}
	return st, nil
}
