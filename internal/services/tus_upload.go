package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/flowerwine/filebounty-backend/internal/apperr"
	"github.com/flowerwine/filebounty-backend/internal/config"
	"github.com/flowerwine/filebounty-backend/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/tus/tusd/v2/pkg/filestore"
	tusd "github.com/tus/tusd/v2/pkg/handler"
	"go.uber.org/zap"
)

const (
	tusOwnerKeyPrefix = "tus:owner:"
	tusOwnerTTL       = 48 * time.Hour
	tusOwnerMetaKey   = "ownerId"
)

// UserResolver maps an Authorization header to a user id.
type UserResolver func(ctx context.Context, authorization string) (int64, error)

// TusService exposes the tus resumable upload protocol. Completed uploads
// stay in the tus directory until the owner asks to process them.
type TusService struct {
	handler *tusd.Handler
	store   filestore.FileStore
	dir     string
	redis   *redis.Client
	policy  *config.UploadPolicy
	files   *FileService
	resolve UserResolver
}

func NewTusService(dir, basePath string, policy *config.UploadPolicy, rdb *redis.Client, files *FileService, resolve UserResolver) (*TusService, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create tus dir: %w", err)
	}
	s := &TusService{
		store:   filestore.New(dir),
		dir:     dir,
		redis:   rdb,
		policy:  policy,
		files:   files,
		resolve: resolve,
	}

	composer := tusd.NewStoreComposer()
	s.store.UseIn(composer)

	h, err := tusd.NewHandler(tusd.Config{
		BasePath:                basePath,
		StoreComposer:           composer,
		MaxSize:                 policy.LargeFile.MaxSize,
		NotifyCompleteUploads:   true,
		PreUploadCreateCallback: s.beforeCreate,
		Cors:                    &tusd.CorsConfig{Disable: true},
	})
	if err != nil {
		return nil, fmt.Errorf("create tus handler: %w", err)
	}
	s.handler = h
	return s, nil
}

func (s *TusService) Handler() http.Handler { return s.handler }

// beforeCreate stamps the authenticated uploader into the upload metadata
// and rejects names on the deny list before any bytes are sent.
func (s *TusService) beforeCreate(hook tusd.HookEvent) (tusd.HTTPResponse, tusd.FileInfoChanges, error) {
	userID, err := s.resolve(hook.Context, hook.HTTPRequest.Header.Get("Authorization"))
	if err != nil || userID <= 0 {
		return tusd.HTTPResponse{}, tusd.FileInfoChanges{}, tusd.NewError("ERR_UNAUTHORIZED", "authentication required", http.StatusUnauthorized)
	}
	name := hook.Upload.MetaData["filename"]
	if name != "" {
		if err := validateUploadName(s.policy, name); err != nil {
			return tusd.HTTPResponse{}, tusd.FileInfoChanges{}, tusd.NewError("ERR_FORBIDDEN_TYPE", err.Error(), http.StatusBadRequest)
		}
	}

	meta := tusd.MetaData{}
	for k, v := range hook.Upload.MetaData {
		meta[k] = v
	}
	meta[tusOwnerMetaKey] = strconv.FormatInt(userID, 10)
	return tusd.HTTPResponse{}, tusd.FileInfoChanges{MetaData: meta}, nil
}

// Run records the owner of each completed upload until ctx is done.
func (s *TusService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.handler.CompleteUploads:
			if !ok {
				return
			}
			s.onComplete(ctx, ev.Upload)
		}
	}
}

func (s *TusService) onComplete(ctx context.Context, info tusd.FileInfo) {
	owner := info.MetaData[tusOwnerMetaKey]
	zap.S().Infof("tus: upload %s complete (%d bytes, owner %s)", info.ID, info.Size, owner)
	if s.redis == nil || owner == "" {
		return
	}
	if err := s.redis.Set(ctx, tusOwnerKeyPrefix+info.ID, owner, tusOwnerTTL).Err(); err != nil {
		zap.S().Warnf("tus: record owner for %s: %v", info.ID, err)
	}
}

func (s *TusService) ownerOf(ctx context.Context, info tusd.FileInfo) string {
	if s.redis != nil {
		if v, err := s.redis.Get(ctx, tusOwnerKeyPrefix+info.ID).Result(); err == nil {
			return v
		}
	}
	return info.MetaData[tusOwnerMetaKey]
}

// Process validates a finished tus upload, moves it into storage and
// removes it from the tus directory.
func (s *TusService) Process(ctx context.Context, userID int64, uploadID string) (*models.FileInfo, error) {
	if uploadID == "" || filepath.Base(uploadID) != uploadID {
		return nil, apperr.BadRequest("invalid upload id")
	}
	if _, err := os.Stat(filepath.Join(s.dir, uploadID+".info")); errors.Is(err, os.ErrNotExist) {
		return nil, apperr.NotFound("upload not found")
	}
	upload, err := s.store.GetUpload(ctx, uploadID)
	if err != nil {
		return nil, fmt.Errorf("load tus upload: %w", err)
	}
	info, err := upload.GetInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tus info: %w", err)
	}

	if s.ownerOf(ctx, info) != strconv.FormatInt(userID, 10) {
		return nil, apperr.Forbidden("upload belongs to another user")
	}
	if info.SizeIsDeferred || info.Offset != info.Size {
		return nil, apperr.BadRequest("upload is not complete")
	}

	filename := info.MetaData["filename"]
	if filename == "" {
		filename = info.ID
	}
	if err := validateUploadName(s.policy, filename); err != nil {
		return nil, err
	}
	if err := validateUploadSize(s.policy, info.Size); err != nil {
		return nil, err
	}

	path, cleanup, err := s.localCopy(ctx, upload, info)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	mt, err := checkSniffedType(s.policy, path)
	if err != nil {
		return nil, err
	}

	fi, err := s.files.StoreUpload(ctx, userID, filename, path, info.Size, mt.String(), "tus")
	if err != nil {
		return nil, err
	}

	if err := s.store.AsTerminatableUpload(upload).Terminate(ctx); err != nil {
		zap.S().Warnf("tus: terminate %s: %v", uploadID, err)
	}
	if s.redis != nil {
		s.redis.Del(ctx, tusOwnerKeyPrefix+uploadID)
	}
	return fi, nil
}

// localCopy returns a path holding the upload's bytes. The filestore keeps
// them at Storage["Path"]; otherwise they are streamed to a temp file.
func (s *TusService) localCopy(ctx context.Context, upload tusd.Upload, info tusd.FileInfo) (string, func(), error) {
	if p := info.Storage["Path"]; p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, func() {}, nil
		}
	}

	r, err := upload.GetReader(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("open tus upload: %w", err)
	}
	defer r.Close()

	tmp, err := os.CreateTemp(s.dir, "process-*.tmp")
	if err != nil {
		return "", nil, err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("copy tus upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, err
	}
	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}
