package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/flowerwine/filebounty-backend/internal/apperr"
	"github.com/flowerwine/filebounty-backend/internal/config"
	"github.com/flowerwine/filebounty-backend/internal/models"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const chunkMetaFile = ".meta"

type chunkMeta struct {
	UserID    int64  `json:"userId"`
	Filename  string `json:"filename"`
	TotalSize int64  `json:"totalSize"`
}

// ChunkUploadService receives large files as numbered chunks under
// <dir>/<identifier>/<n> and merges them once all have arrived.
type ChunkUploadService struct {
	dir    string
	policy *config.UploadPolicy
	files  *FileService

	mu      sync.Mutex
	merging map[string]*sync.Mutex
}

func NewChunkUploadService(dir string, policy *config.UploadPolicy, files *FileService) (*ChunkUploadService, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}
	return &ChunkUploadService{dir: dir, policy: policy, files: files, merging: make(map[string]*sync.Mutex)}, nil
}

// ValidateName applies the extension deny list and the type implied by the
// extension.
func (s *ChunkUploadService) ValidateName(filename string) error {
	return validateUploadName(s.policy, filename)
}

func validateUploadName(policy *config.UploadPolicy, filename string) error {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return apperr.BadRequest("filename is required")
	}
	ext := filepath.Ext(filename)
	if policy.ExtensionForbidden(ext) {
		return apperr.BadRequest("file type " + ext + " is not allowed")
	}
	if mt := mime.TypeByExtension(strings.ToLower(ext)); mt != "" && policy.TypeForbidden(mt) {
		return apperr.BadRequest("file type " + mt + " is not allowed")
	}
	return nil
}

func validateUploadSize(policy *config.UploadPolicy, size int64) error {
	lf := policy.LargeFile
	if size < lf.MinSize || size <= 0 {
		return apperr.BadRequest("file is too small")
	}
	if size > lf.MaxSize {
		return apperr.BadRequest(fmt.Sprintf("file exceeds %d bytes", lf.MaxSize))
	}
	return nil
}

// checkSniffedType rejects content whose detected type is on the deny list.
func checkSniffedType(policy *config.UploadPolicy, path string) (*mimetype.MIME, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("detect type: %w", err)
	}
	for m := mt; m != nil; m = m.Parent() {
		if policy.TypeForbidden(m.String()) {
			return nil, apperr.BadRequest("file type " + mt.String() + " is not allowed")
		}
	}
	return mt, nil
}

func (s *ChunkUploadService) chunkDir(identifier string) (string, error) {
	if _, err := uuid.Parse(identifier); err != nil {
		return "", apperr.BadRequest("invalid identifier")
	}
	return filepath.Join(s.dir, identifier), nil
}

func (s *ChunkUploadService) loadMeta(dir string, userID int64) (*chunkMeta, error) {
	raw, err := os.ReadFile(filepath.Join(dir, chunkMetaFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperr.NotFound("upload not found")
	}
	if err != nil {
		return nil, err
	}
	var m chunkMeta
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse chunk meta: %w", err)
	}
	if m.UserID != userID {
		return nil, apperr.Forbidden("upload belongs to another user")
	}
	return &m, nil
}

// Initialize validates the announced file and opens a new upload.
func (s *ChunkUploadService) Initialize(userID int64, req models.ChunkInitRequest) (*models.ChunkInitResponse, error) {
	if err := s.ValidateName(req.Filename); err != nil {
		return nil, err
	}
	if err := validateUploadSize(s.policy, req.TotalSize); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	dir := filepath.Join(s.dir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	meta, err := json.Marshal(chunkMeta{UserID: userID, Filename: filepath.Base(req.Filename), TotalSize: req.TotalSize})
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, chunkMetaFile), meta, 0o600); err != nil {
		return nil, fmt.Errorf("write chunk meta: %w", err)
	}

	return &models.ChunkInitResponse{
		Identifier: id,
		ChunkSize:  s.policy.Chunk.MaxChunkSize,
		Message:    "upload initialized",
	}, nil
}

// Check reports whether chunk n of userID's upload has been received.
func (s *ChunkUploadService) Check(userID int64, identifier string, n int) (bool, error) {
	dir, err := s.chunkDir(identifier)
	if err != nil {
		return false, err
	}
	if _, err := s.loadMeta(dir, userID); err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(dir, strconv.Itoa(n)))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Uploaded lists the chunk numbers of userID's upload, ascending.
func (s *ChunkUploadService) Uploaded(userID int64, identifier string) ([]int, error) {
	dir, err := s.chunkDir(identifier)
	if err != nil {
		return nil, err
	}
	if _, err := s.loadMeta(dir, userID); err != nil {
		return nil, err
	}
	return listChunks(dir)
}

func listChunks(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := []int{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, err := strconv.Atoi(e.Name()); err == nil && n > 0 {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out, nil
}

// SaveChunk stores chunk n of an upload owned by userID.
func (s *ChunkUploadService) SaveChunk(userID int64, identifier string, n int, r io.Reader) error {
	if n < 1 {
		return apperr.BadRequest("chunkNumber must be positive")
	}
	dir, err := s.chunkDir(identifier)
	if err != nil {
		return err
	}
	if _, err := s.loadMeta(dir, userID); err != nil {
		return err
	}

	dst := filepath.Join(dir, strconv.Itoa(n))
	tmp := dst + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	limit := s.policy.Chunk.MaxChunkSize
	written, err := io.Copy(f, io.LimitReader(r, limit+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write chunk: %w", err)
	}
	if written > limit {
		os.Remove(tmp)
		return apperr.BadRequest(fmt.Sprintf("chunk exceeds %d bytes", limit))
	}
	return os.Rename(tmp, dst)
}

func (s *ChunkUploadService) lockFor(identifier string) func() {
	s.mu.Lock()
	m, ok := s.merging[identifier]
	if !ok {
		m = &sync.Mutex{}
		s.merging[identifier] = m
	}
	s.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		s.mu.Lock()
		delete(s.merging, identifier)
		s.mu.Unlock()
	}
}

// Merge concatenates chunks 1..N, validates the result and hands it to the
// file service. The chunk directory is removed on success.
func (s *ChunkUploadService) Merge(ctx context.Context, userID int64, req models.ChunkMergeRequest) (*models.FileInfo, error) {
	dir, err := s.chunkDir(req.Identifier)
	if err != nil {
		return nil, err
	}
	if req.TotalChunks < 1 {
		return nil, apperr.BadRequest("totalChunks must be positive")
	}

	unlock := s.lockFor(req.Identifier)
	defer unlock()

	meta, err := s.loadMeta(dir, userID)
	if err != nil {
		return nil, err
	}
	filename := req.Filename
	if strings.TrimSpace(filename) == "" {
		filename = meta.Filename
	}
	if err := s.ValidateName(filename); err != nil {
		return nil, err
	}

	present, err := listChunks(dir)
	if err != nil {
		return nil, err
	}
	if len(present) != req.TotalChunks {
		return nil, apperr.BadRequest(fmt.Sprintf("expected %d chunks, found %d", req.TotalChunks, len(present)))
	}

	merged := filepath.Join(dir, "merged.tmp")
	size, err := concatChunks(dir, req.TotalChunks, merged)
	if err != nil {
		return nil, err
	}
	if err := validateUploadSize(s.policy, size); err != nil {
		return nil, err
	}
	mt, err := checkSniffedType(s.policy, merged)
	if err != nil {
		return nil, err
	}

	info, err := s.files.StoreUpload(ctx, userID, filename, merged, size, mt.String(), "chunk")
	if err != nil {
		return nil, err
	}
	if err := os.RemoveAll(dir); err != nil {
		zap.S().Warnf("chunk upload: cleanup %s: %v", dir, err)
	}
	return info, nil
}

func concatChunks(dir string, total int, dst string) (int64, error) {
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	var size int64
	for i := 1; i <= total; i++ {
		in, err := os.Open(filepath.Join(dir, strconv.Itoa(i)))
		if errors.Is(err, os.ErrNotExist) {
			return 0, apperr.BadRequest(fmt.Sprintf("chunk %d is missing", i))
		}
		if err != nil {
			return 0, err
		}
		n, err := io.Copy(out, in)
		in.Close()
		if err != nil {
			return 0, fmt.Errorf("merge chunk %d: %w", i, err)
		}
		size += n
	}
	return size, out.Sync()
}
