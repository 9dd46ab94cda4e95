package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/flowerwine/filebounty-backend/internal/metrics"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const tusRetention = 48 * time.Hour

// CleanupService removes abandoned upload leftovers on a schedule.
type CleanupService struct {
	chunkDir       string
	chunkRetention time.Duration
	tusDir         string
	now            func() time.Time
	cron           *cron.Cron
}

func NewCleanupService(chunkDir string, chunkRetention time.Duration, tusDir string) *CleanupService {
	return &CleanupService{
		chunkDir:       chunkDir,
		chunkRetention: chunkRetention,
		tusDir:         tusDir,
		now:            time.Now,
	}
}

// Start schedules the chunk sweep at 02:00 and the tus sweep at 03:00.
func (s *CleanupService) Start() error {
	c := cron.New()
	if _, err := c.AddFunc("0 2 * * *", func() { s.CleanChunks() }); err != nil {
		return err
	}
	if _, err := c.AddFunc("0 3 * * *", func() { s.CleanTus() }); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	zap.S().Info("✅ Upload cleanup jobs scheduled (chunks 02:00, tus 03:00)")
	return nil
}

// Stop waits for running jobs or for ctx to end.
func (s *CleanupService) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// CleanChunks removes chunk directories untouched for longer than the
// chunk retention.
func (s *CleanupService) CleanChunks() int {
	entries, err := os.ReadDir(s.chunkDir)
	if err != nil {
		if !os.IsNotExist(err) {
			zap.S().Warnf("cleanup: read %s: %v", s.chunkDir, err)
		}
		return 0
	}
	cutoff := s.now().Add(-s.chunkRetention)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.chunkDir, e.Name())); err != nil {
			zap.S().Warnf("cleanup: remove chunk dir %s: %v", e.Name(), err)
			continue
		}
		removed++
	}
	metrics.RecordCleanup("chunks", removed)
	zap.S().Infof("cleanup: removed %d expired chunk uploads", removed)
	return removed
}

// CleanTus removes tus uploads (data and .info) older than 48h.
func (s *CleanupService) CleanTus() int {
	entries, err := os.ReadDir(s.tusDir)
	if err != nil {
		if !os.IsNotExist(err) {
			zap.S().Warnf("cleanup: read %s: %v", s.tusDir, err)
		}
		return 0
	}
	cutoff := s.now().Add(-tusRetention)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".info") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".info")
		for _, name := range []string{id, e.Name(), id + ".lock"} {
			if err := os.Remove(filepath.Join(s.tusDir, name)); err != nil && !os.IsNotExist(err) {
				zap.S().Warnf("cleanup: remove %s: %v", name, err)
			}
		}
		removed++
	}
	metrics.RecordCleanup("tus", removed)
	zap.S().Infof("cleanup: removed %d expired tus uploads", removed)
	return removed
}
