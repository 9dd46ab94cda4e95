package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/flowerwine/filebounty-backend/internal/apperr"
	"github.com/flowerwine/filebounty-backend/internal/database"
	"github.com/flowerwine/filebounty-backend/internal/metrics"
	"github.com/flowerwine/filebounty-backend/internal/models"
)

// PointsService owns user_points and the points_records ledger. Every
// balance change goes through ChangeTx so the ledger never drifts.
type PointsService struct {
	db *sql.DB
}

func NewPointsService(db *sql.DB) *PointsService {
	return &PointsService{db: db}
}

// ActionPoints returns the configured points for an action code, or 0 when
// the action is not seeded.
func (s *PointsService) ActionPoints(ctx context.Context, q database.DBTX, action int) (int, error) {
	var points int
	err := q.QueryRowContext(ctx, `SELECT points FROM point_actions WHERE action_code = $1`, action).Scan(&points)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load point action %d: %w", action, err)
	}
	return points, nil
}

// Change applies delta in its own transaction.
func (s *PointsService) Change(ctx context.Context, userID int64, delta, action int, description string) (int, error) {
	var balance int
	err := database.WithTx(ctx, s.db, func(ctx context.Context, tx database.DBTX) error {
		var err error
		balance, err = s.ChangeTx(ctx, tx, userID, delta, action, description)
		return err
	})
	return balance, err
}

// ChangeTx locks the balance row, applies delta and appends a ledger row.
// A debit that would take the balance below zero fails with
// apperr.ErrInsufficientPoints. It returns the new balance.
func (s *PointsService) ChangeTx(ctx context.Context, tx database.DBTX, userID int64, delta, action int, description string) (int, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_points (user_id, points, total_points) VALUES ($1, 0, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return 0, fmt.Errorf("ensure user points: %w", err)
	}

	var points, total int
	if err := tx.QueryRowContext(ctx, `
		SELECT points, total_points FROM user_points WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&points, &total); err != nil {
		return 0, fmt.Errorf("lock user points: %w", err)
	}

	if points+delta < 0 {
		return points, apperr.ErrInsufficientPoints
	}
	points += delta
	if delta > 0 {
		total += delta
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE user_points SET points = $2, total_points = $3, updated_at = NOW() WHERE user_id = $1
	`, userID, points, total); err != nil {
		return 0, fmt.Errorf("update user points: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO points_records (user_id, points, point_action_id, description) VALUES ($1, $2, $3, $4)
	`, userID, delta, action, description); err != nil {
		return 0, fmt.Errorf("insert points record: %w", err)
	}

	metrics.RecordPointsChange(models.ActionName(action))
	return points, nil
}

// BalanceTx reads the current balance without locking, 0 when no row exists.
func (s *PointsService) BalanceTx(ctx context.Context, q database.DBTX, userID int64) (int, error) {
	var points int
	err := q.QueryRowContext(ctx, `SELECT points FROM user_points WHERE user_id = $1`, userID).Scan(&points)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load balance: %w", err)
	}
	return points, nil
}

// GetUserPoints returns the balance, creating an empty row on first access.
func (s *PointsService) GetUserPoints(ctx context.Context, userID int64) (*models.UserPoints, error) {
	up := &models.UserPoints{UserID: userID}
	var hasRow bool
	err := s.db.QueryRowContext(ctx, `
		SELECT u.username, COALESCE(p.points, 0), COALESCE(p.total_points, 0), p.user_id IS NOT NULL
		FROM users u LEFT JOIN user_points p ON p.user_id = u.id
		WHERE u.id = $1
	`, userID).Scan(&up.Username, &up.Points, &up.TotalPoints, &hasRow)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load user points: %w", err)
	}

	if !hasRow {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO user_points (user_id, points, total_points) VALUES ($1, 0, 0)
			ON CONFLICT (user_id) DO NOTHING
		`, userID); err != nil {
			return nil, fmt.Errorf("create user points: %w", err)
		}
	}
	return up, nil
}

// Records pages the ledger of one user, newest first.
func (s *PointsService) Records(ctx context.Context, userID int64, pr models.PageRequest) (models.Page[models.PointsRecord], error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM points_records WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return models.Page[models.PointsRecord]{}, fmt.Errorf("count points records: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, points, point_action_id, COALESCE(description, ''), created_at
		FROM points_records WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, pr.Size, pr.Offset())
	if err != nil {
		return models.Page[models.PointsRecord]{}, fmt.Errorf("list points records: %w", err)
	}
	defer rows.Close()

	var out []models.PointsRecord
	for rows.Next() {
		var r models.PointsRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.Points, &r.PointActionID, &r.Description, &r.CreatedAt); err != nil {
			return models.Page[models.PointsRecord]{}, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return models.Page[models.PointsRecord]{}, err
	}
	return models.NewPage(out, pr.Page, pr.Size, total), nil
}
