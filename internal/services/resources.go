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
	"github.com/lib/pq"
)

// FreeFileSubsidy is credited when a user shares a resource for free.
const FreeFileSubsidy = 100

var publicStatuses = []int64{models.TaskPublished, models.TaskSuccess}

// ResourceService manages shared resources (user_file_tasks): moderation
// states, paid downloads and the admin review queue.
type ResourceService struct {
	db     *sql.DB
	points *PointsService
}

func NewResourceService(db *sql.DB, points *PointsService) *ResourceService {
	return &ResourceService{db: db, points: points}
}

// $1 is always the viewer id, filters number from $2.
const taskSelect = `
	SELECT t.id, t.user_id, u.username, p.avatar, t.title, COALESCE(t.description, ''), t.file_id,
		t.is_free, t.required_points, t.status, t.download_count, t.view_count, t.created_at, t.updated_at,
		f.original_name, f.file_name, f.file_path, f.file_type, f.file_size, f.storage, f.user_id, f.created_at,
		EXISTS(SELECT 1 FROM resource_purchases rp WHERE rp.task_id = t.id AND rp.user_id = $1)
	FROM user_file_tasks t
	JOIN users u ON u.id = t.user_id
	LEFT JOIN user_profiles p ON p.user_id = t.user_id
	JOIN file_info f ON f.id = t.file_id`

func scanTask(row interface{ Scan(...any) error }, viewerID int64, admin bool) (models.ResourceTask, error) {
	var t models.ResourceTask
	var isFree int
	var purchased bool
	f := &models.StoredFile{}
	err := row.Scan(&t.ID, &t.UserID, &t.Username, &t.Avatar, &t.Title, &t.Description, &t.FileID,
		&isFree, &t.RequiredPoints, &t.Status, &t.DownloadCount, &t.ViewCount, &t.CreatedAt, &t.UpdatedAt,
		&f.OriginalName, &f.FileName, &f.FilePath, &f.FileType, &f.FileSize, &f.Storage, &f.UserID, &f.CreatedAt,
		&purchased)
	if err != nil {
		return t, err
	}
	f.ID = t.FileID
	t.IsFree = isFree == 1
	t.StatusText = models.TaskStatusText(t.Status)
	t.IsMine = viewerID != 0 && viewerID == t.UserID
	t.HasAccess = admin || t.IsMine || (models.TaskIsPublic(t.Status) && (t.IsFree || purchased))
	t.FileInfo = ToInfo(f, t.HasAccess)
	return t, nil
}

// taskFilter collects WHERE conditions written with ? placeholders.
type taskFilter struct {
	conds []string
	args  []any
}

func (f *taskFilter) add(cond string, args ...any) *taskFilter {
	f.conds = append(f.conds, cond)
	f.args = append(f.args, args...)
	return f
}

// where renders the conditions numbering placeholders from $start.
func (f *taskFilter) where(start int) string {
	if len(f.conds) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(" WHERE ")
	n := start
	for i, c := range f.conds {
		if i > 0 {
			b.WriteString(" AND ")
		}
		for {
			j := strings.IndexByte(c, '?')
			if j < 0 {
				break
			}
			fmt.Fprintf(&b, "%s$%d", c[:j], n)
			n++
			c = c[j+1:]
		}
		b.WriteString(c)
	}
	return b.String()
}

func (s *ResourceService) list(ctx context.Context, viewerID int64, admin bool, f *taskFilter, order string, limit, offset int) ([]models.ResourceTask, error) {
	n := len(f.args) + 2
	query := fmt.Sprintf(`%s%s ORDER BY %s LIMIT $%d OFFSET $%d`, taskSelect, f.where(2), order, n, n+1)
	args := append([]any{viewerID}, f.args...)
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()

	var out []models.ResourceTask
	for rows.Next() {
		t, err := scanTask(rows, viewerID, admin)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *ResourceService) page(ctx context.Context, viewerID int64, admin bool, f *taskFilter, order string, pr models.PageRequest) (models.Page[models.ResourceTask], error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_file_tasks t`+f.where(1), f.args...).Scan(&total); err != nil {
		return models.Page[models.ResourceTask]{}, fmt.Errorf("count resources: %w", err)
	}
	items, err := s.list(ctx, viewerID, admin, f, order, pr.Size, pr.Offset())
	if err != nil {
		return models.Page[models.ResourceTask]{}, err
	}
	return models.NewPage(items, pr.Page, pr.Size, total), nil
}

func (s *ResourceService) load(ctx context.Context, q database.DBTX, id, viewerID int64, admin bool) (*models.ResourceTask, error) {
	t, err := scanTask(q.QueryRowContext(ctx, taskSelect+` WHERE t.id = $2`, viewerID, id), viewerID, admin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("resource not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load resource: %w", err)
	}
	return &t, nil
}

type lockedTask struct {
	userID         int64
	fileID         int64
	isFree         bool
	requiredPoints int
	status         int
	title          string
}

func lockTask(ctx context.Context, tx database.DBTX, id int64) (*lockedTask, error) {
	var t lockedTask
	var isFree int
	err := tx.QueryRowContext(ctx, `
		SELECT user_id, file_id, is_free, required_points, status, title
		FROM user_file_tasks WHERE id = $1 FOR UPDATE
	`, id).Scan(&t.userID, &t.fileID, &isFree, &t.requiredPoints, &t.status, &t.title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("resource not found")
	}
	if err != nil {
		return nil, fmt.Errorf("lock resource: %w", err)
	}
	t.isFree = isFree == 1
	return &t, nil
}

func freeFlag(free bool) int {
	if free {
		return 1
	}
	return 0
}

func normalizeTaskRequest(req *models.ResourceTaskRequest) error {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return apperr.BadRequest("title is required")
	}
	if req.FileID == 0 {
		return apperr.BadRequest("fileId is required")
	}
	if req.IsFree {
		req.RequiredPoints = 0
	} else if req.RequiredPoints <= 0 {
		return apperr.BadRequest("required points must be greater than 0 for a paid resource")
	}
	return nil
}

// checkOwnedFile returns 404 for a missing file and 403 when userID did
// not upload it.
func checkOwnedFile(ctx context.Context, q database.DBTX, fileID, userID int64) error {
	if _, err := getFile(ctx, q, fileID); err != nil {
		return err
	}
	owns, err := OwnsUpload(ctx, q, fileID, userID)
	if err != nil {
		return err
	}
	if !owns {
		return apperr.Forbidden("file does not belong to you")
	}
	return nil
}

// Create submits a resource for review. Sharing for free earns the
// FreeFileSubsidy.
func (s *ResourceService) Create(ctx context.Context, userID int64, req models.ResourceTaskRequest) (*models.ResourceTask, error) {
	if err := normalizeTaskRequest(&req); err != nil {
		return nil, err
	}
	var id int64
	err := database.WithTx(ctx, s.db, func(ctx context.Context, tx database.DBTX) error {
		if err := checkOwnedFile(ctx, tx, req.FileID, userID); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO user_file_tasks (user_id, title, description, file_id, is_free, required_points, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, userID, req.Title, req.Description, req.FileID, freeFlag(req.IsFree), req.RequiredPoints, models.TaskReviewing).Scan(&id); err != nil {
			return fmt.Errorf("insert resource: %w", err)
		}
		if req.IsFree {
			_, err := s.points.ChangeTx(ctx, tx, userID, FreeFileSubsidy, models.ActionFreeFileSubsidy, "free resource: "+req.Title)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.load(ctx, s.db, id, userID, false)
}

// Detail hides unpublished resources from everyone but the owner and
// counts foreign views.
func (s *ResourceService) Detail(ctx context.Context, id, viewerID int64) (*models.ResourceTask, error) {
	t, err := s.load(ctx, s.db, id, viewerID, false)
	if err != nil {
		return nil, err
	}
	if t.IsMine {
		return t, nil
	}
	if !models.TaskIsPublic(t.Status) {
		return nil, apperr.Forbidden("resource is not published")
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE user_file_tasks SET view_count = view_count + 1 WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("count resource view: %w", err)
	}
	t.ViewCount++
	return t, nil
}

// Download grants the file of a public resource. A paid resource charges
// the buyer once and credits the owner; later downloads are free.
func (s *ResourceService) Download(ctx context.Context, id, userID int64) (*models.FileInfo, error) {
	var info *models.FileInfo
	err := database.WithTx(ctx, s.db, func(ctx context.Context, tx database.DBTX) error {
		t, err := lockTask(ctx, tx, id)
		if err != nil {
			return err
		}
		if !models.TaskIsPublic(t.status) {
			return apperr.Forbidden("resource is not published")
		}
		if !t.isFree && t.userID != userID && t.requiredPoints > 0 {
			var bought bool
			if err := tx.QueryRowContext(ctx, `
				SELECT EXISTS(SELECT 1 FROM resource_purchases WHERE task_id = $1 AND user_id = $2)
			`, id, userID).Scan(&bought); err != nil {
				return fmt.Errorf("check purchase: %w", err)
			}
			if !bought {
				if err := s.charge(ctx, tx, id, userID, t); err != nil {
					return err
				}
			}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE user_file_tasks SET download_count = download_count + 1 WHERE id = $1
		`, id); err != nil {
			return fmt.Errorf("count resource download: %w", err)
		}
		f, err := getFile(ctx, tx, t.fileID)
		if err != nil {
			return err
		}
		info = ToInfo(f, true)
		return nil
	})
	return info, err
}

func (s *ResourceService) charge(ctx context.Context, tx database.DBTX, id, buyerID int64, t *lockedTask) error {
	if _, err := s.points.ChangeTx(ctx, tx, buyerID, -t.requiredPoints, models.ActionDownloadFile, "download resource: "+t.title); err != nil {
		return err
	}
	if _, err := s.points.ChangeTx(ctx, tx, t.userID, t.requiredPoints, models.ActionFileDownloadIncome, "resource income: "+t.title); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO resource_purchases (task_id, user_id, points) VALUES ($1, $2, $3)
	`, id, buyerID, t.requiredPoints); err != nil {
		return fmt.Errorf("record purchase: %w", err)
	}
	return nil
}

// Update edits a resource that is reviewing or rejected; it goes back to
// review.
func (s *ResourceService) Update(ctx context.Context, id, userID int64, req models.ResourceTaskRequest) (*models.ResourceTask, error) {
	err := database.WithTx(ctx, s.db, func(ctx context.Context, tx database.DBTX) error {
		t, err := lockTask(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.userID != userID {
			return apperr.Forbidden("only the owner can update this resource")
		}
		if t.status != models.TaskReviewing && t.status != models.TaskRejected {
			return apperr.BadRequest("only reviewing or rejected resources can be updated")
		}
		if req.FileID == 0 {
			req.FileID = t.fileID
		}
		if err := normalizeTaskRequest(&req); err != nil {
			return err
		}
		if req.FileID != t.fileID {
			if err := checkOwnedFile(ctx, tx, req.FileID, userID); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE user_file_tasks
			SET title = $2, description = $3, file_id = $4, is_free = $5, required_points = $6,
				status = $7, updated_at = NOW()
			WHERE id = $1
		`, id, req.Title, req.Description, req.FileID, freeFlag(req.IsFree), req.RequiredPoints, models.TaskReviewing); err != nil {
			return fmt.Errorf("update resource: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.load(ctx, s.db, id, userID, false)
}

// Delete removes the caller's resource unless it is live.
func (s *ResourceService) Delete(ctx context.Context, id, userID int64) error {
	return database.WithTx(ctx, s.db, func(ctx context.Context, tx database.DBTX) error {
		t, err := lockTask(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.userID != userID {
			return apperr.Forbidden("only the owner can delete this resource")
		}
		if models.TaskIsPublic(t.status) {
			return apperr.BadRequest("published resources cannot be deleted")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_file_tasks WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete resource: %w", err)
		}
		return nil
	})
}

const (
	orderNewest    = "t.created_at DESC, t.id DESC"
	orderOldest    = "t.created_at ASC, t.id ASC"
	orderDownloads = "t.download_count DESC, t.created_at DESC"
)

func (s *ResourceService) Mine(ctx context.Context, userID int64, pr models.PageRequest) (models.Page[models.ResourceTask], error) {
	f := (&taskFilter{}).add("t.user_id = ?", userID)
	return s.page(ctx, userID, false, f, orderNewest, pr)
}

func (s *ResourceService) Public(ctx context.Context, viewerID int64, pr models.PageRequest) (models.Page[models.ResourceTask], error) {
	f := (&taskFilter{}).add("t.status = ANY(?)", pq.Array(publicStatuses))
	return s.page(ctx, viewerID, false, f, orderNewest, pr)
}

func (s *ResourceService) Free(ctx context.Context, viewerID int64, pr models.PageRequest) (models.Page[models.ResourceTask], error) {
	f := (&taskFilter{}).add("t.status = ?", models.TaskPublished).add("t.is_free = 1")
	return s.page(ctx, viewerID, false, f, orderNewest, pr)
}

func (s *ResourceService) Search(ctx context.Context, viewerID int64, keyword string, pr models.PageRequest) (models.Page[models.ResourceTask], error) {
	f := (&taskFilter{}).add("t.status = ANY(?)", pq.Array(publicStatuses))
	if kw := strings.TrimSpace(keyword); kw != "" {
		f.add("(t.title ILIKE ? OR t.description ILIKE ?)", "%"+kw+"%", "%"+kw+"%")
	}
	return s.page(ctx, viewerID, false, f, orderNewest, pr)
}

// visibleStatuses resolves the status filter of Query. Only the caller
// sees their own unpublished resources.
func visibleStatuses(q models.ResourceQuery, viewerID int64) []int64 {
	own := q.UserID != nil && viewerID != 0 && *q.UserID == viewerID
	var out []int64
	for _, st := range q.Statuses {
		if own || models.TaskIsPublic(st) {
			out = append(out, int64(st))
		}
	}
	if len(out) == 0 && !own {
		return publicStatuses
	}
	return out
}

// Query combines the owner, free, keyword and status filters.
func (s *ResourceService) Query(ctx context.Context, viewerID int64, q models.ResourceQuery, pr models.PageRequest) (models.Page[models.ResourceTask], error) {
	f := &taskFilter{}
	if q.UserID != nil {
		f.add("t.user_id = ?", *q.UserID)
	}
	if q.IsFree != nil {
		f.add("t.is_free = ?", freeFlag(*q.IsFree))
	}
	if kw := strings.TrimSpace(q.Keyword); kw != "" {
		f.add("(t.title ILIKE ? OR t.description ILIKE ?)", "%"+kw+"%", "%"+kw+"%")
	}
	if st := visibleStatuses(q, viewerID); len(st) > 0 {
		f.add("t.status = ANY(?)", pq.Array(st))
	}
	return s.page(ctx, viewerID, false, f, orderNewest, pr)
}

func (s *ResourceService) Latest(ctx context.Context, viewerID int64, limit int) ([]models.ResourceTask, error) {
	f := (&taskFilter{}).add("t.status = ANY(?)", pq.Array(publicStatuses))
	return s.list(ctx, viewerID, false, f, orderNewest, limit, 0)
}

func (s *ResourceService) Hot(ctx context.Context, viewerID int64, limit int) ([]models.ResourceTask, error) {
	f := (&taskFilter{}).add("t.status = ANY(?)", pq.Array(publicStatuses))
	return s.list(ctx, viewerID, false, f, orderDownloads, limit, 0)
}

// Pending is the admin review queue, oldest first.
func (s *ResourceService) Pending(ctx context.Context, pr models.PageRequest) (models.Page[models.ResourceTask], error) {
	f := (&taskFilter{}).add("t.status = ?", models.TaskReviewing)
	return s.page(ctx, 0, true, f, orderOldest, pr)
}

// All lists every resource for admins, optionally by status.
func (s *ResourceService) All(ctx context.Context, status *int, pr models.PageRequest) (models.Page[models.ResourceTask], error) {
	f := &taskFilter{}
	if status != nil {
		f.add("t.status = ?", *status)
	}
	return s.page(ctx, 0, true, f, orderNewest, pr)
}

func (s *ResourceService) AdminGet(ctx context.Context, id int64) (*models.ResourceTask, error) {
	return s.load(ctx, s.db, id, 0, true)
}

func (s *ResourceService) AdminDownload(ctx context.Context, id int64) (*models.FileInfo, error) {
	t, err := s.AdminGet(ctx, id)
	if err != nil {
		return nil, err
	}
	return t.FileInfo, nil
}

// Review moves a reviewing resource to published, success or rejected and
// appends to the review history.
func (s *ResourceService) Review(ctx context.Context, adminID int64, req models.ReviewRequest) (*models.ResourceTask, error) {
	switch req.Status {
	case models.TaskPublished, models.TaskSuccess, models.TaskRejected:
	default:
		return nil, apperr.BadRequest("invalid review status")
	}
	err := database.WithTx(ctx, s.db, func(ctx context.Context, tx database.DBTX) error {
		t, err := lockTask(ctx, tx, req.TaskID)
		if err != nil {
			return err
		}
		if t.status != models.TaskReviewing {
			return apperr.BadRequest("resource is not waiting for review")
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE user_file_tasks SET status = $2, updated_at = NOW() WHERE id = $1
		`, req.TaskID, req.Status); err != nil {
			return fmt.Errorf("review resource: %w", err)
		}
		return insertReviewHistory(ctx, tx, req.TaskID, adminID, &req.Status, req.Comment)
	})
	if err != nil {
		return nil, err
	}
	return s.AdminGet(ctx, req.TaskID)
}

// AdminDelete force-deletes a resource in any state.
func (s *ResourceService) AdminDelete(ctx context.Context, adminID, id int64) error {
	return database.WithTx(ctx, s.db, func(ctx context.Context, tx database.DBTX) error {
		if _, err := lockTask(ctx, tx, id); err != nil {
			return err
		}
		if err := insertReviewHistory(ctx, tx, id, adminID, nil, "deleted by admin"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_file_tasks WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete resource: %w", err)
		}
		return nil
	})
}

func insertReviewHistory(ctx context.Context, tx database.DBTX, taskID, adminID int64, status *int, comment string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO file_review_history (file_upload_id, reviewer_id, status, comment) VALUES ($1, $2, $3, $4)
	`, taskID, adminID, status, comment); err != nil {
		return fmt.Errorf("insert review history: %w", err)
	}
	return nil
}
