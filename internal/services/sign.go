package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flowerwine/filebounty-backend/internal/apperr"
	"github.com/flowerwine/filebounty-backend/internal/database"
	"github.com/flowerwine/filebounty-backend/internal/models"
	"go.uber.org/zap"
)

// SignService implements the daily sign-in. Days signed are kept as one
// bitmap per user and month (bit day-1), streaks as sign cycles.
type SignService struct {
	db     *sql.DB
	points *PointsService
	cache  *JSONCache
	now    func() time.Time
}

const rewardsCacheTTL = time.Hour

var rewardsCacheKey = CacheKey("sign", "rewards")

func NewSignService(db *sql.DB, points *PointsService) *SignService {
	return &SignService{db: db, points: points, now: time.Now}
}

// WithCache keeps the reward table in Redis between requests.
func (s *SignService) WithCache(c *JSONCache) *SignService {
	s.cache = c
	return s
}

type activeCycle struct {
	id          int64
	start       time.Time
	length      int
	currentDay  int
	lastSignDay time.Time
}

func sameDay(a, b time.Time) bool {
	return a.Format(time.DateOnly) == b.Format(time.DateOnly)
}

// SignIn records today's sign-in, advances the streak and pays the reward.
func (s *SignService) SignIn(ctx context.Context, userID int64) (*models.SignResult, error) {
	today := s.now()
	todayStr := today.Format(time.DateOnly)
	year, month, day := today.Year(), int(today.Month()), today.Day()

	result := &models.SignResult{UserID: userID, SignDate: todayStr}
	err := database.WithTx(ctx, s.db, func(ctx context.Context, tx database.DBTX) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_sign_records (user_id, year, month, sign_bitmap) VALUES ($1, $2, $3, 0)
			ON CONFLICT (user_id, year, month) DO NOTHING
		`, userID, year, month); err != nil {
			return fmt.Errorf("ensure sign record: %w", err)
		}

		var bitmap int64
		if err := tx.QueryRowContext(ctx, `
			SELECT sign_bitmap FROM user_sign_records WHERE user_id = $1 AND year = $2 AND month = $3 FOR UPDATE
		`, userID, year, month).Scan(&bitmap); err != nil {
			return fmt.Errorf("lock sign record: %w", err)
		}
		bit := int64(1) << (day - 1)
		if bitmap&bit != 0 {
			return apperr.BadRequest("already signed in today")
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE user_sign_records SET sign_bitmap = $4 WHERE user_id = $1 AND year = $2 AND month = $3
		`, userID, year, month, bitmap|bit); err != nil {
			return fmt.Errorf("update sign record: %w", err)
		}

		cycle, err := s.advanceCycle(ctx, tx, userID, today)
		if err != nil {
			return err
		}
		result.ContinuousDays = cycle.currentDay
		result.CycleCompleted = cycle.currentDay >= cycle.length

		base, err := s.points.ActionPoints(ctx, tx, models.ActionSignIn)
		if err != nil {
			return err
		}
		if base != 0 {
			if _, err := s.points.ChangeTx(ctx, tx, userID, base, models.ActionSignIn, "daily sign-in"); err != nil {
				return err
			}
		}

		extra, err := s.rewardFor(ctx, tx, cycle.currentDay)
		if err != nil {
			return err
		}
		if extra > 0 {
			desc := fmt.Sprintf("continuous sign-in day %d", cycle.currentDay)
			if _, err := s.points.ChangeTx(ctx, tx, userID, extra, models.ActionContinuousSign, desc); err != nil {
				return err
			}
		}
		result.EarnedPoints = base + extra
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// advanceCycle moves the active cycle forward for a sign-in on today. A
// consecutive day extends it; a full cycle is completed and a gap ends it,
// and both start a fresh cycle at day 1.
func (s *SignService) advanceCycle(ctx context.Context, tx database.DBTX, userID int64, today time.Time) (*activeCycle, error) {
	todayStr := today.Format(time.DateOnly)
	yesterday := today.AddDate(0, 0, -1)

	cur, err := s.loadActiveCycle(ctx, tx, userID, true)
	if err != nil {
		return nil, err
	}

	if cur != nil {
		if sameDay(cur.lastSignDay, yesterday) && cur.currentDay < cur.length {
			cur.currentDay++
			if _, err := tx.ExecContext(ctx, `
				UPDATE user_sign_cycles SET current_sign_day = $2, last_sign_date = $3::date WHERE id = $1
			`, cur.id, cur.currentDay, todayStr); err != nil {
				return nil, fmt.Errorf("extend sign cycle: %w", err)
			}
			return cur, nil
		}

		status := models.CycleEnded
		if sameDay(cur.lastSignDay, yesterday) {
			status = models.CycleCompleted
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE user_sign_cycles SET status = $2 WHERE id = $1
		`, cur.id, status); err != nil {
			return nil, fmt.Errorf("close sign cycle: %w", err)
		}
	}

	next := &activeCycle{start: today, length: models.DefaultCycleLength, currentDay: 1, lastSignDay: today}
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO user_sign_cycles (user_id, cycle_start_date, cycle_length, current_sign_day, last_sign_date, status)
		VALUES ($1, $2::date, $3, 1, $2::date, $4) RETURNING id
	`, userID, todayStr, models.DefaultCycleLength, models.CycleInProgress).Scan(&next.id); err != nil {
		return nil, fmt.Errorf("start sign cycle: %w", err)
	}
	return next, nil
}

func (s *SignService) loadActiveCycle(ctx context.Context, q database.DBTX, userID int64, lock bool) (*activeCycle, error) {
	query := `
		SELECT id, cycle_start_date, cycle_length, current_sign_day, last_sign_date
		FROM user_sign_cycles WHERE user_id = $1 AND status = 1`
	if lock {
		query += ` FOR UPDATE`
	}
	c := &activeCycle{}
	err := q.QueryRowContext(ctx, query, userID).Scan(&c.id, &c.start, &c.length, &c.currentDay, &c.lastSignDay)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load sign cycle: %w", err)
	}
	return c, nil
}

func (s *SignService) rewardFor(ctx context.Context, q database.DBTX, day int) (int, error) {
	var pts int
	err := q.QueryRowContext(ctx, `
		SELECT reward_points FROM sign_reward_rules WHERE continuous_days = $1
	`, day).Scan(&pts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load sign reward: %w", err)
	}
	return pts, nil
}

func (s *SignService) bitmap(ctx context.Context, userID int64, year, month int) (int64, error) {
	var bitmap int64
	err := s.db.QueryRowContext(ctx, `
		SELECT sign_bitmap FROM user_sign_records WHERE user_id = $1 AND year = $2 AND month = $3
	`, userID, year, month).Scan(&bitmap)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load sign record: %w", err)
	}
	return bitmap, nil
}

// Calendar maps every day of the month to whether the user signed in. Zero
// year or month means the current one.
func (s *SignService) Calendar(ctx context.Context, userID int64, year, month int) (*models.CalendarSign, error) {
	now := s.now()
	if year == 0 {
		year = now.Year()
	}
	if month == 0 {
		month = int(now.Month())
	}
	if month < 1 || month > 12 {
		return nil, apperr.BadRequest("month must be between 1 and 12")
	}

	bitmap, err := s.bitmap(ctx, userID, year, month)
	if err != nil {
		return nil, err
	}

	days := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	cal := &models.CalendarSign{UserID: userID, Year: year, Month: month, SignDays: make(map[int]bool, days)}
	for d := 1; d <= days; d++ {
		cal.SignDays[d] = bitmap&(int64(1)<<(d-1)) != 0
	}
	return cal, nil
}

// Check reports whether the user already signed in today.
func (s *SignService) Check(ctx context.Context, userID int64) (bool, error) {
	now := s.now()
	bitmap, err := s.bitmap(ctx, userID, now.Year(), int(now.Month()))
	if err != nil {
		return false, err
	}
	return bitmap&(int64(1)<<(now.Day()-1)) != 0, nil
}

// CurrentCycle returns the in-progress cycle or nil.
func (s *SignService) CurrentCycle(ctx context.Context, userID int64) (*models.SignCycle, error) {
	c, err := s.loadActiveCycle(ctx, s.db, userID, false)
	if err != nil || c == nil {
		return nil, err
	}
	return &models.SignCycle{
		ID:             c.id,
		UserID:         userID,
		CycleStartDate: c.start.Format(time.DateOnly),
		CycleLength:    c.length,
		CurrentSignDay: c.currentDay,
		LastSignDate:   c.lastSignDay.Format(time.DateOnly),
		Status:         models.CycleInProgress,
	}, nil
}

// Rewards lists what each day of a cycle pays.
func (s *SignService) Rewards(ctx context.Context) ([]models.SignReward, error) {
	var cached []models.SignReward
	if ok, err := s.cache.Get(ctx, rewardsCacheKey, &cached); err != nil {
		zap.S().Warnf("sign: read rewards cache: %v", err)
	} else if ok {
		return cached, nil
	}

	base, err := s.points.ActionPoints(ctx, s.db, models.ActionSignIn)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT continuous_days, reward_points FROM sign_reward_rules`)
	if err != nil {
		return nil, fmt.Errorf("list sign rewards: %w", err)
	}
	defer rows.Close()
	extra := map[int]int{}
	for rows.Next() {
		var d, p int
		if err := rows.Scan(&d, &p); err != nil {
			return nil, err
		}
		extra[d] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.SignReward, 0, models.DefaultCycleLength)
	for d := 1; d <= models.DefaultCycleLength; d++ {
		out = append(out, models.SignReward{
			Day:         d,
			BasePoints:  base,
			ExtraPoints: extra[d],
			TotalPoints: base + extra[d],
		})
	}
	if err := s.cache.Set(ctx, rewardsCacheKey, out, rewardsCacheTTL); err != nil {
		zap.S().Warnf("sign: write rewards cache: %v", err)
	}
	return out, nil
}
