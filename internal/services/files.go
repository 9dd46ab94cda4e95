package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/flowerwine/filebounty-backend/internal/apperr"
	"github.com/flowerwine/filebounty-backend/internal/database"
	"github.com/flowerwine/filebounty-backend/internal/metrics"
	"github.com/flowerwine/filebounty-backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FileService owns file_info rows and decides who may fetch a file.
type FileService struct {
	db      *sql.DB
	storage Storage
	points  *PointsService
	now     func() time.Time
}

func NewFileService(db *sql.DB, storage Storage, points *PointsService) *FileService {
	return &FileService{db: db, storage: storage, points: points, now: time.Now}
}

func (s *FileService) Storage() Storage { return s.storage }

// DownloadURL is the API path that serves a file after the access check.
func DownloadURL(fileID int64) string {
	return fmt.Sprintf("/api/files/download/%d", fileID)
}

const fileColumns = `id, original_name, file_name, file_path, file_type, file_size, storage, user_id, created_at`

func scanFile(row interface{ Scan(...any) error }) (*models.StoredFile, error) {
	f := &models.StoredFile{}
	err := row.Scan(&f.ID, &f.OriginalName, &f.FileName, &f.FilePath, &f.FileType, &f.FileSize, &f.Storage, &f.UserID, &f.CreatedAt)
	return f, err
}

// Get loads a file row; a missing file is a 404.
func (s *FileService) Get(ctx context.Context, fileID int64) (*models.StoredFile, error) {
	return getFile(ctx, s.db, fileID)
}

func getFile(ctx context.Context, q database.DBTX, fileID int64) (*models.StoredFile, error) {
	f, err := scanFile(q.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM file_info WHERE id = $1`, fileID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("file not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load file: %w", err)
	}
	return f, nil
}

// HasAccess grants access to the uploader, to the publisher of a bounty
// that received the file in a bid, to buyers of a published resource
// carrying it, and to everyone for a free published resource. userID 0 is
// an anonymous viewer.
func (s *FileService) HasAccess(ctx context.Context, fileID, userID int64) (bool, error) {
	return hasFileAccess(ctx, s.db, fileID, userID)
}

func hasFileAccess(ctx context.Context, q database.DBTX, fileID, userID int64) (bool, error) {
	var ok bool
	err := q.QueryRowContext(ctx, `
		SELECT
			f.user_id = $2
			OR EXISTS (
				SELECT 1 FROM file_bids b JOIN file_bounties fb ON fb.id = b.bounty_id
				WHERE b.file_id = f.id AND fb.user_id = $2)
			OR EXISTS (
				SELECT 1 FROM user_file_tasks t JOIN resource_purchases rp ON rp.task_id = t.id
				WHERE t.file_id = f.id AND rp.user_id = $2 AND t.status IN (1, 2))
			OR EXISTS (
				SELECT 1 FROM user_file_tasks t
				WHERE t.file_id = f.id AND t.is_free = 1 AND t.status IN (1, 2))
		FROM file_info f WHERE f.id = $1
	`, fileID, userID).Scan(&ok)
	if errors.Is(err, sql.ErrNoRows) {
		return false, apperr.NotFound("file not found")
	}
	if err != nil {
		return false, fmt.Errorf("check file access: %w", err)
	}
	return ok, nil
}

// ToInfo renders a file for a viewer, masking it when access is missing.
func ToInfo(f *models.StoredFile, hasAccess bool) *models.FileInfo {
	info := &models.FileInfo{
		ID:               f.ID,
		FileName:         f.FileName,
		FileSize:         f.FileSize,
		FileType:         f.FileType,
		OriginalFilename: f.OriginalName,
		HasAccess:        hasAccess,
		UploaderID:       f.UserID,
		CreatedAt:        f.CreatedAt,
	}
	if !hasAccess {
		info.OriginalFilename = models.ProtectedFileName
		return info
	}
	u := DownloadURL(f.ID)
	if models.IsURLStorage(f.Storage) {
		u = f.FilePath
	}
	info.FileURL = &u
	return info
}

// FileInfo returns the client view of a file. Without checkPermission the
// viewer is treated as having access.
func (s *FileService) FileInfo(ctx context.Context, fileID, userID int64, checkPermission bool) (*models.FileInfo, error) {
	f, err := s.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	access := true
	if checkPermission {
		if access, err = s.HasAccess(ctx, fileID, userID); err != nil {
			return nil, err
		}
	}
	return ToInfo(f, access), nil
}

// OwnsUpload reports whether user_upload_files ties the file to userID.
func OwnsUpload(ctx context.Context, q database.DBTX, fileID, userID int64) (bool, error) {
	var ok bool
	if err := q.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM user_upload_files WHERE file_id = $1 AND user_id = $2)
	`, fileID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check file owner: %w", err)
	}
	return ok, nil
}

// PrepareDownload checks access and records the download.
func (s *FileService) PrepareDownload(ctx context.Context, fileID, userID int64) (*models.StoredFile, error) {
	f, err := s.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	ok, err := s.HasAccess(ctx, fileID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Forbidden("no permission to download this file")
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO file_download_records (file_id, user_id) VALUES ($1, $2)
	`, fileID, userID); err != nil {
		return nil, fmt.Errorf("record download: %w", err)
	}
	return f, nil
}

// StoreUpload moves a fully received file at localPath into storage and
// registers it as owned by userID. source labels the upload path in
// metrics.
func (s *FileService) StoreUpload(ctx context.Context, userID int64, originalName, localPath string, size int64, mimeType, source string) (*models.FileInfo, error) {
	originalName = filepath.Base(strings.TrimSpace(originalName))
	if originalName == "." || originalName == string(filepath.Separator) || originalName == "" {
		originalName = "file"
	}
	ext := strings.ToLower(filepath.Ext(originalName))
	now := s.now()
	stored := uuid.NewString() + ext
	key := fmt.Sprintf("files/%04d/%02d/%02d/%s", now.Year(), now.Month(), now.Day(), stored)

	src, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open merged file: %w", err)
	}
	err = s.storage.Put(ctx, key, src, size, mimeType)
	src.Close()
	if err != nil {
		return nil, fmt.Errorf("store file: %w", err)
	}

	f := &models.StoredFile{
		OriginalName: originalName,
		FileName:     stored,
		FilePath:     key,
		FileType:     FileTypeOf(mimeType),
		FileSize:     size,
		Storage:      s.storage.Name(),
		UserID:       userID,
	}
	err = database.WithTx(ctx, s.db, func(ctx context.Context, tx database.DBTX) error {
		return s.insertFile(ctx, tx, f)
	})
	if err != nil {
		if delErr := s.storage.Delete(ctx, key); delErr != nil {
			zap.S().Warnf("files: orphaned object %s: %v", key, delErr)
		}
		return nil, err
	}

	metrics.RecordUpload(source)
	return ToInfo(f, true), nil
}

// insertFile writes file_info, the ownership row and the UPLOAD_FILE ledger
// entry.
func (s *FileService) insertFile(ctx context.Context, tx database.DBTX, f *models.StoredFile) error {
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO file_info (original_name, file_name, file_path, file_type, file_size, storage, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, f.OriginalName, f.FileName, f.FilePath, f.FileType, f.FileSize, f.Storage, f.UserID).Scan(&f.ID, &f.CreatedAt); err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_upload_files (file_id, user_id) VALUES ($1, $2)
	`, f.ID, f.UserID); err != nil {
		return fmt.Errorf("insert upload owner: %w", err)
	}
	pts, err := s.points.ActionPoints(ctx, tx, models.ActionUploadFile)
	if err != nil {
		return err
	}
	_, err = s.points.ChangeTx(ctx, tx, f.UserID, pts, models.ActionUploadFile, "upload file "+f.OriginalName)
	return err
}

// RegisterExternal records a file that already lives elsewhere, such as a
// Cloudinary avatar, under url.
func (s *FileService) RegisterExternal(ctx context.Context, userID int64, originalName, url, storage string, size int64, mimeType string) (*models.FileInfo, error) {
	f := &models.StoredFile{
		OriginalName: filepath.Base(originalName),
		FileName:     filepath.Base(url),
		FilePath:     url,
		FileType:     FileTypeOf(mimeType),
		FileSize:     size,
		Storage:      storage,
		UserID:       userID,
	}
	err := database.WithTx(ctx, s.db, func(ctx context.Context, tx database.DBTX) error {
		return s.insertFile(ctx, tx, f)
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordUpload("avatar")
	return ToInfo(f, true), nil
}
