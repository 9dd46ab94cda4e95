package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/flowerwine/filebounty-backend/internal/apperr"
	"github.com/flowerwine/filebounty-backend/internal/database"
	"github.com/flowerwine/filebounty-backend/internal/models"
)

const (
	latestBountyLimit = 5
	hotBountyLimit    = 4
	searchLimit       = 10
)

// BountyService runs the bounty lifecycle: publish, bid, pick a winner or
// close with a partial refund.
type BountyService struct {
	db     *sql.DB
	points *PointsService
}

func NewBountyService(db *sql.DB, points *PointsService) *BountyService {
	return &BountyService{db: db, points: points}
}

// BountyRefund returns the points handed back when a bounty is closed
// without a winner. The more bid files the owner downloaded, the less of
// the stake comes back.
func BountyRefund(points, bids, downloads int) int {
	if bids == 0 {
		return max(0, points-100)
	}
	if downloads == 0 {
		return points * 9 / 10
	}
	rate := min(80, 30+downloads*10)
	return points * (100 - rate) / 100
}

const bountySelect = `
	SELECT b.id, b.title, b.description, b.points, b.user_id, u.username, p.avatar,
		b.status, b.view_count,
		(SELECT COUNT(*) FROM file_bids fb WHERE fb.bounty_id = b.id),
		b.created_at, b.end_at, b.winner_id, w.username, wp.avatar
	FROM file_bounties b
	JOIN users u ON u.id = b.user_id
	LEFT JOIN user_profiles p ON p.user_id = b.user_id
	LEFT JOIN users w ON w.id = b.winner_id
	LEFT JOIN user_profiles wp ON wp.user_id = b.winner_id`

func scanBounty(row interface{ Scan(...any) error }, viewerID int64) (models.Bounty, error) {
	var b models.Bounty
	var endAt sql.NullTime
	var winnerID sql.NullInt64
	var winnerName sql.NullString
	err := row.Scan(&b.ID, &b.Title, &b.Description, &b.Points, &b.UserID, &b.Username, &b.Avatar,
		&b.Status, &b.ViewCount, &b.BidCount, &b.CreatedAt, &endAt, &winnerID, &winnerName, &b.WinnerAvatar)
	if err != nil {
		return b, err
	}
	if endAt.Valid {
		b.EndAt = &endAt.Time
	}
	if winnerID.Valid {
		b.WinnerID = &winnerID.Int64
	}
	if winnerName.Valid {
		b.WinnerName = &winnerName.String
	}
	b.StatusText = models.BountyStatusText(b.Status)
	b.IsMine = viewerID != 0 && viewerID == b.UserID
	return b, nil
}

func (s *BountyService) load(ctx context.Context, q database.DBTX, id, viewerID int64) (*models.Bounty, error) {
	b, err := scanBounty(q.QueryRowContext(ctx, bountySelect+` WHERE b.id = $1`, id), viewerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("bounty not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load bounty: %w", err)
	}
	return &b, nil
}

func (s *BountyService) list(ctx context.Context, viewerID int64, where, order string, limit, offset int, args ...any) ([]models.Bounty, error) {
	n := len(args)
	query := fmt.Sprintf(`%s %s ORDER BY %s LIMIT $%d OFFSET $%d`, bountySelect, where, order, n+1, n+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("list bounties: %w", err)
	}
	defer rows.Close()

	var out []models.Bounty
	for rows.Next() {
		b, err := scanBounty(rows, viewerID)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *BountyService) page(ctx context.Context, viewerID int64, where string, pr models.PageRequest, args ...any) (models.Page[models.Bounty], error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_bounties b `+where, args...).Scan(&total); err != nil {
		return models.Page[models.Bounty]{}, fmt.Errorf("count bounties: %w", err)
	}
	items, err := s.list(ctx, viewerID, where, "b.created_at DESC, b.view_count DESC", pr.Size, pr.Offset(), args...)
	if err != nil {
		return models.Page[models.Bounty]{}, err
	}
	return models.NewPage(items, pr.Page, pr.Size, total), nil
}

type lockedBounty struct {
	userID int64
	status int
	points int
	title  string
}

func lockBounty(ctx context.Context, tx database.DBTX, id int64) (*lockedBounty, error) {
	var b lockedBounty
	err := tx.QueryRowContext(ctx, `
		SELECT user_id, status, points, title FROM file_bounties WHERE id = $1 FOR UPDATE
	`, id).Scan(&b.userID, &b.status, &b.points, &b.title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("bounty not found")
	}
	if err != nil {
		return nil, fmt.Errorf("lock bounty: %w", err)
	}
	return &b, nil
}

// Publish escrows the offered points and opens the bounty.
func (s *BountyService) Publish(ctx context.Context, userID int64, req models.BountyRequest) (*models.Bounty, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return nil, apperr.BadRequest("title is required")
	}
	if req.Points <= 0 {
		return nil, apperr.BadRequest("points must be greater than 0")
	}

	var id int64
	err := database.WithTx(ctx, s.db, func(ctx context.Context, tx database.DBTX) error {
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO file_bounties (title, description, points, user_id, status)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, req.Title, req.Description, req.Points, userID, models.BountyInProgress).Scan(&id); err != nil {
			return fmt.Errorf("insert bounty: %w", err)
		}
		_, err := s.points.ChangeTx(ctx, tx, userID, -req.Points, models.ActionPostBounty, "publish bounty: "+req.Title)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.load(ctx, s.db, id, userID)
}

// Detail returns a bounty and counts the view when the viewer is not the
// owner.
func (s *BountyService) Detail(ctx context.Context, id, viewerID int64) (*models.Bounty, error) {
	b, err := s.load(ctx, s.db, id, viewerID)
	if err != nil {
		return nil, err
	}
	if viewerID != b.UserID {
		if _, err := s.db.ExecContext(ctx, `UPDATE file_bounties SET view_count = view_count + 1 WHERE id = $1`, id); err != nil {
			return nil, fmt.Errorf("count bounty view: %w", err)
		}
		b.ViewCount++
	}
	return b, nil
}

func (s *BountyService) List(ctx context.Context, viewerID int64, pr models.PageRequest) (models.Page[models.Bounty], error) {
	return s.page(ctx, viewerID, "", pr)
}

func (s *BountyService) Mine(ctx context.Context, userID int64, pr models.PageRequest) (models.Page[models.Bounty], error) {
	return s.page(ctx, userID, "WHERE b.user_id = $1", pr, userID)
}

func (s *BountyService) Latest(ctx context.Context, viewerID int64) ([]models.Bounty, error) {
	return s.list(ctx, viewerID, "WHERE b.status = $1", "b.created_at DESC", latestBountyLimit, 0, models.BountyInProgress)
}

func (s *BountyService) Hot(ctx context.Context, viewerID int64) ([]models.Bounty, error) {
	return s.list(ctx, viewerID, "WHERE b.status = $1", "b.view_count DESC, b.created_at DESC", hotBountyLimit, 0, models.BountyInProgress)
}

// Search matches title or description; a blank keyword matches nothing.
func (s *BountyService) Search(ctx context.Context, viewerID int64, keyword string) ([]models.Bounty, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return []models.Bounty{}, nil
	}
	return s.list(ctx, viewerID, "WHERE b.title ILIKE $1 OR b.description ILIKE $1", "b.created_at DESC", searchLimit, 0, "%"+keyword+"%")
}

// Close ends an in-progress bounty without a winner and refunds part of
// the stake, see BountyRefund.
func (s *BountyService) Close(ctx context.Context, id, userID int64) (*models.Bounty, error) {
	err := database.WithTx(ctx, s.db, func(ctx context.Context, tx database.DBTX) error {
		b, err := lockBounty(ctx, tx, id)
		if err != nil {
			return err
		}
		if b.userID != userID {
			return apperr.Forbidden("only the publisher can close this bounty")
		}
		if b.status != models.BountyInProgress {
			return apperr.BadRequest("bounty is not in progress")
		}

		var bids, downloads int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_bids WHERE bounty_id = $1`, id).Scan(&bids); err != nil {
			return fmt.Errorf("count bids: %w", err)
		}
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM bounty_download_records WHERE bounty_id = $1 AND user_id = $2
		`, id, userID).Scan(&downloads); err != nil {
			return fmt.Errorf("count bounty downloads: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE file_bounties SET status = $2, end_at = NOW(), updated_at = NOW() WHERE id = $1
		`, id, models.BountyClosed); err != nil {
			return fmt.Errorf("close bounty: %w", err)
		}

		if refund := BountyRefund(b.points, bids, downloads); refund > 0 {
			_, err := s.points.ChangeTx(ctx, tx, userID, refund, models.ActionCloseBounty, "close bounty refund: "+b.title)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.load(ctx, s.db, id, userID)
}

// Reopen puts a closed bounty back in progress, escrowing its points again.
func (s *BountyService) Reopen(ctx context.Context, id, userID int64) (*models.Bounty, error) {
	err := database.WithTx(ctx, s.db, func(ctx context.Context, tx database.DBTX) error {
		b, err := lockBounty(ctx, tx, id)
		if err != nil {
			return err
		}
		if b.userID != userID {
			return apperr.Forbidden("only the publisher can reopen this bounty")
		}
		if b.status != models.BountyClosed {
			return apperr.BadRequest("only closed bounties can be reopened")
		}
		if _, err := s.points.ChangeTx(ctx, tx, userID, -b.points, models.ActionPostBounty, "reopen bounty: "+b.title); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE file_bounties SET status = $2, end_at = NULL, updated_at = NOW() WHERE id = $1
		`, id, models.BountyInProgress); err != nil {
			return fmt.Errorf("reopen bounty: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.load(ctx, s.db, id, userID)
}

// SelectWinner completes the bounty with bidID and pays its bidder.
func (s *BountyService) SelectWinner(ctx context.Context, bountyID, bidID, userID int64) (*models.Bounty, error) {
	err := database.WithTx(ctx, s.db, func(ctx context.Context, tx database.DBTX) error {
		b, err := lockBounty(ctx, tx, bountyID)
		if err != nil {
			return err
		}
		if b.userID != userID {
			return apperr.Forbidden("only the publisher can select a winner")
		}
		if b.status != models.BountyInProgress {
			return apperr.BadRequest("bounty is not in progress")
		}

		var bidBounty, bidder int64
		var fileID sql.NullInt64
		err = tx.QueryRowContext(ctx, `SELECT bounty_id, user_id, file_id FROM file_bids WHERE id = $1`, bidID).
			Scan(&bidBounty, &bidder, &fileID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("bid not found")
		}
		if err != nil {
			return fmt.Errorf("load bid: %w", err)
		}
		if bidBounty != bountyID {
			return apperr.BadRequest("bid does not belong to this bounty")
		}
		if !fileID.Valid {
			return apperr.BadRequest("bid has no file")
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE file_bounties SET status = $2, winner_id = $3, end_at = NOW(), updated_at = NOW() WHERE id = $1
		`, bountyID, models.BountyCompleted, bidder); err != nil {
			return fmt.Errorf("complete bounty: %w", err)
		}
		_, err = s.points.ChangeTx(ctx, tx, bidder, b.points, models.ActionCompleteBounty, "bounty reward: "+b.title)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.load(ctx, s.db, bountyID, userID)
}

const bidSelect = `
	SELECT bd.id, bd.bounty_id, bd.user_id, u.username, p.avatar, bd.created_at,
		b.user_id, b.status, b.winner_id,
		f.id, f.original_name, f.file_name, f.file_path, f.file_type, f.file_size, f.storage, f.user_id, f.created_at
	FROM file_bids bd
	JOIN file_bounties b ON b.id = bd.bounty_id
	JOIN users u ON u.id = bd.user_id
	LEFT JOIN user_profiles p ON p.user_id = bd.user_id
	LEFT JOIN file_info f ON f.id = bd.file_id`

// bidRow carries a bid with the bounty fields needed for access checks.
type bidRow struct {
	models.Bid
	publisherID  int64
	bountyStatus int
	file         *models.StoredFile
}

func scanBid(row interface{ Scan(...any) error }, viewerID int64) (*bidRow, error) {
	r := &bidRow{}
	var winnerID sql.NullInt64
	var (
		fID, fSize, fUser             sql.NullInt64
		fType                         sql.NullInt32
		fOrig, fName, fPath, fStorage sql.NullString
		fCreated                      sql.NullTime
	)
	err := row.Scan(&r.ID, &r.BountyID, &r.UserID, &r.Username, &r.Avatar, &r.CreatedAt,
		&r.publisherID, &r.bountyStatus, &winnerID,
		&fID, &fOrig, &fName, &fPath, &fType, &fSize, &fStorage, &fUser, &fCreated)
	if err != nil {
		return nil, err
	}
	r.IsWinner = winnerID.Valid && winnerID.Int64 == r.UserID
	r.IsMine = viewerID != 0 && viewerID == r.UserID
	r.CanAccess = viewerID != 0 && (viewerID == r.UserID || viewerID == r.publisherID)
	if fID.Valid {
		r.file = &models.StoredFile{
			ID:           fID.Int64,
			OriginalName: fOrig.String,
			FileName:     fName.String,
			FilePath:     fPath.String,
			FileType:     int(fType.Int32),
			FileSize:     fSize.Int64,
			Storage:      fStorage.String,
			UserID:       fUser.Int64,
			CreatedAt:    fCreated.Time,
		}
		r.FileID = &fID.Int64
		r.HasFile = true
		r.FileInfo = ToInfo(r.file, r.CanAccess)
	}
	return r, nil
}

func (s *BountyService) loadBid(ctx context.Context, bidID, viewerID int64) (*bidRow, error) {
	r, err := scanBid(s.db.QueryRowContext(ctx, bidSelect+` WHERE bd.id = $1`, bidID), viewerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("bid not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load bid: %w", err)
	}
	return r, nil
}

func (s *BountyService) bidPage(ctx context.Context, viewerID int64, where string, pr models.PageRequest, arg int64) (models.Page[models.Bid], error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_bids bd `+where, arg).Scan(&total); err != nil {
		return models.Page[models.Bid]{}, fmt.Errorf("count bids: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, bidSelect+` `+where+` ORDER BY bd.created_at DESC LIMIT $2 OFFSET $3`, arg, pr.Size, pr.Offset())
	if err != nil {
		return models.Page[models.Bid]{}, fmt.Errorf("list bids: %w", err)
	}
	defer rows.Close()

	var out []models.Bid
	for rows.Next() {
		r, err := scanBid(rows, viewerID)
		if err != nil {
			return models.Page[models.Bid]{}, err
		}
		out = append(out, r.Bid)
	}
	if err := rows.Err(); err != nil {
		return models.Page[models.Bid]{}, err
	}
	return models.NewPage(out, pr.Page, pr.Size, total), nil
}

// CreateBid enters the caller into an in-progress bounty they did not post.
func (s *BountyService) CreateBid(ctx context.Context, bountyID, userID int64) (*models.Bid, error) {
	var bidID int64
	err := database.WithTx(ctx, s.db, func(ctx context.Context, tx database.DBTX) error {
		b, err := lockBounty(ctx, tx, bountyID)
		if err != nil {
			return err
		}
		if b.status != models.BountyInProgress {
			return apperr.BadRequest("bounty is not in progress")
		}
		if b.userID == userID {
			return apperr.BadRequest("cannot bid on your own bounty")
		}
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM file_bids WHERE bounty_id = $1 AND user_id = $2)
		`, bountyID, userID).Scan(&exists); err != nil {
			return fmt.Errorf("check bid: %w", err)
		}
		if exists {
			return apperr.BadRequest("you have already bid on this bounty")
		}
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO file_bids (bounty_id, user_id) VALUES ($1, $2) RETURNING id
		`, bountyID, userID).Scan(&bidID); err != nil {
			return fmt.Errorf("insert bid: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r, err := s.loadBid(ctx, bidID, userID)
	if err != nil {
		return nil, err
	}
	return &r.Bid, nil
}

// lockOwnBid locks the bounty behind a bid, then the bid itself, and
// checks that userID placed it and the bounty still takes changes. Winner
// selection and close hold the same bounty lock.
func lockOwnBid(ctx context.Context, tx database.DBTX, bidID, userID int64) error {
	var bountyID int64
	err := tx.QueryRowContext(ctx, `SELECT bounty_id FROM file_bids WHERE id = $1`, bidID).Scan(&bountyID)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("bid not found")
	}
	if err != nil {
		return fmt.Errorf("load bid: %w", err)
	}
	b, err := lockBounty(ctx, tx, bountyID)
	if err != nil {
		return err
	}

	var bidder int64
	err = tx.QueryRowContext(ctx, `SELECT user_id FROM file_bids WHERE id = $1 FOR UPDATE`, bidID).Scan(&bidder)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("bid not found")
	}
	if err != nil {
		return fmt.Errorf("lock bid: %w", err)
	}
	if bidder != userID {
		return apperr.Forbidden("only the bidder can change this bid")
	}
	if b.status != models.BountyInProgress {
		return apperr.BadRequest("bounty is not in progress")
	}
	return nil
}

// UpdateBidFile attaches one of the bidder's own uploads to the bid.
func (s *BountyService) UpdateBidFile(ctx context.Context, bidID, userID, fileID int64) (*models.Bid, error) {
	err := database.WithTx(ctx, s.db, func(ctx context.Context, tx database.DBTX) error {
		if err := lockOwnBid(ctx, tx, bidID, userID); err != nil {
			return err
		}
		owns, err := OwnsUpload(ctx, tx, fileID, userID)
		if err != nil {
			return err
		}
		if !owns {
			return apperr.Forbidden("file does not belong to you")
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE file_bids SET file_id = $2, updated_at = NOW() WHERE id = $1
		`, bidID, fileID); err != nil {
			return fmt.Errorf("update bid file: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r, err := s.loadBid(ctx, bidID, userID)
	if err != nil {
		return nil, err
	}
	return &r.Bid, nil
}

// Bids pages the bids of a bounty.
func (s *BountyService) Bids(ctx context.Context, bountyID, viewerID int64, pr models.PageRequest) (models.Page[models.Bid], error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM file_bounties WHERE id = $1)`, bountyID).Scan(&exists); err != nil {
		return models.Page[models.Bid]{}, fmt.Errorf("check bounty: %w", err)
	}
	if !exists {
		return models.Page[models.Bid]{}, apperr.NotFound("bounty not found")
	}
	return s.bidPage(ctx, viewerID, "WHERE bd.bounty_id = $1", pr, bountyID)
}

func (s *BountyService) MyBids(ctx context.Context, userID int64, pr models.PageRequest) (models.Page[models.Bid], error) {
	return s.bidPage(ctx, userID, "WHERE bd.user_id = $1", pr, userID)
}

// DownloadBidFile hands the bid file to the publisher or the bidder and
// records the download, which lowers the refund on a later close.
func (s *BountyService) DownloadBidFile(ctx context.Context, bidID, userID int64) (*models.FileInfo, error) {
	r, err := s.loadBid(ctx, bidID, userID)
	if err != nil {
		return nil, err
	}
	if r.file == nil {
		return nil, apperr.BadRequest("bid has no file")
	}
	if userID != r.publisherID && userID != r.UserID {
		return nil, apperr.Forbidden("no permission to download this file")
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO bounty_download_records (bounty_id, user_id, file_id) VALUES ($1, $2, $3)
	`, r.BountyID, userID, r.file.ID); err != nil {
		return nil, fmt.Errorf("record bounty download: %w", err)
	}
	return ToInfo(r.file, true), nil
}

// CancelBid withdraws the caller's bid from an in-progress bounty.
func (s *BountyService) CancelBid(ctx context.Context, bidID, userID int64) error {
	return database.WithTx(ctx, s.db, func(ctx context.Context, tx database.DBTX) error {
		if err := lockOwnBid(ctx, tx, bidID, userID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM file_bids WHERE id = $1`, bidID); err != nil {
			return fmt.Errorf("cancel bid: %w", err)
		}
		return nil
	})
}
