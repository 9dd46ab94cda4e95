package services

import (
	"strings"

	"github.com/flowerwine/filebounty-backend/internal/models"
)

// FileTypeOf classifies a MIME type into the file_type codes.
func FileTypeOf(mimeType string) int {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if mt == "" {
		return models.FileTypeUnknown
	}

	switch {
	case strings.HasPrefix(mt, "image/"):
		return models.FileTypeImage
	case strings.HasPrefix(mt, "video/"):
		return models.FileTypeVideo
	case strings.HasPrefix(mt, "audio/"):
		return models.FileTypeAudio
	case strings.HasPrefix(mt, "text/"),
		mt == "application/pdf",
		mt == "application/rtf",
		strings.Contains(mt, "msword"),
		strings.Contains(mt, "officedocument"),
		strings.Contains(mt, "ms-excel"),
		strings.Contains(mt, "ms-powerpoint"):
		return models.FileTypeDocument
	case strings.Contains(mt, "zip"),
		strings.Contains(mt, "rar"),
		strings.Contains(mt, "7z"),
		strings.Contains(mt, "tar"),
		strings.Contains(mt, "gzip"),
		strings.Contains(mt, "bzip2"):
		return models.FileTypeCompressed
	case strings.Contains(mt, "x-msdownload"),
		strings.Contains(mt, "x-executable"),
		strings.Contains(mt, "x-sh"),
		strings.Contains(mt, "x-elf"),
		strings.Contains(mt, "x-dosexec"):
		return models.FileTypeExecutable
	}
	return models.FileTypeOther
}
