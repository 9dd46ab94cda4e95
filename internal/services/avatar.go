package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"github.com/flowerwine/filebounty-backend/internal/apperr"
	"github.com/flowerwine/filebounty-backend/internal/config"
	"github.com/flowerwine/filebounty-backend/internal/models"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	_ "golang.org/x/image/webp"
)

// ImageUploader pushes an image to a CDN and returns its public URL.
type ImageUploader interface {
	UploadImage(ctx context.Context, file io.Reader, folder string) (string, error)
}

// AvatarService validates avatar images and stores them on the CDN when one
// is configured, else on local disk served under the public upload prefix.
type AvatarService struct {
	policy    config.FileTypePolicy
	cdn       ImageUploader
	local     Storage
	urlPrefix string
	files     *FileService
	users     *UserService
}

func NewAvatarService(policy *config.UploadPolicy, cdn ImageUploader, local Storage, urlPrefix string, files *FileService, users *UserService) *AvatarService {
	return &AvatarService{
		policy:    policy.Types["avatar"],
		cdn:       cdn,
		local:     local,
		urlPrefix: strings.TrimRight(urlPrefix, "/"),
		files:     files,
		users:     users,
	}
}

// Validate checks size, sniffed content type and pixel dimensions.
func (s *AvatarService) Validate(data []byte) (*mimetype.MIME, error) {
	if len(data) == 0 {
		return nil, apperr.BadRequest("file is empty")
	}
	if s.policy.MaxSize > 0 && int64(len(data)) > s.policy.MaxSize {
		return nil, apperr.BadRequest(fmt.Sprintf("file exceeds %d bytes", s.policy.MaxSize))
	}

	mt := mimetype.Detect(data)
	allowed := len(s.policy.AllowedTypes) == 0
	for _, t := range s.policy.AllowedTypes {
		if mt.Is(t) {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, apperr.BadRequest("unsupported image type " + mt.String())
	}

	if d := s.policy.Dimensions; d != nil {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, apperr.BadRequest("invalid image")
		}
		if (d.Width > 0 && cfg.Width > d.Width) || (d.Height > 0 && cfg.Height > d.Height) {
			return nil, apperr.BadRequest(fmt.Sprintf("image must be at most %dx%d", d.Width, d.Height))
		}
		if cfg.Width < d.MinWidth || cfg.Height < d.MinHeight {
			return nil, apperr.BadRequest(fmt.Sprintf("image must be at least %dx%d", d.MinWidth, d.MinHeight))
		}
	}
	return mt, nil
}

// Upload stores a validated avatar and points the user's profile at it.
func (s *AvatarService) Upload(ctx context.Context, userID int64, filename string, r io.Reader) (*models.FileInfo, error) {
	limit := s.policy.MaxSize
	if limit <= 0 {
		limit = 10 << 20
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read avatar: %w", err)
	}
	mt, err := s.Validate(data)
	if err != nil {
		return nil, err
	}

	folder := s.policy.Directory
	if folder == "" {
		folder = "avatars"
	}

	var (
		url     string
		storage string
	)
	if s.cdn != nil {
		url, err = s.cdn.UploadImage(ctx, bytes.NewReader(data), folder)
		if err != nil {
			return nil, err
		}
		storage = models.StorageCloudinary
	} else {
		key := folder + "/" + uuid.NewString() + mt.Extension()
		if err := s.local.Put(ctx, key, bytes.NewReader(data), int64(len(data)), mt.String()); err != nil {
			return nil, fmt.Errorf("store avatar: %w", err)
		}
		url = s.urlPrefix + "/" + key
		storage = models.StoragePublic
	}

	info, err := s.files.RegisterExternal(ctx, userID, filename, url, storage, int64(len(data)), mt.String())
	if err != nil {
		return nil, err
	}
	if err := s.users.SetAvatar(ctx, userID, url); err != nil {
		return nil, err
	}
	return info, nil
}
