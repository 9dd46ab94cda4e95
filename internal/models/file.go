package models

import "time"

// File type codes stored in file_info.file_type.
const (
	FileTypeUnknown    = 0
	FileTypeImage      = 1
	FileTypeDocument   = 2
	FileTypeVideo      = 3
	FileTypeAudio      = 4
	FileTypeCompressed = 5
	FileTypeExecutable = 6
	FileTypeOther      = 7
)

const ProtectedFileName = "[protected file]"

// Storage backends recorded in file_info.storage. For cloudinary and public
// rows file_path is already a URL.
const (
	StorageLocal      = "local"
	StorageS3         = "s3"
	StorageCloudinary = "cloudinary"
	StoragePublic     = "public"
)

// IsURLStorage reports whether file_path holds a directly usable URL.
func IsURLStorage(storage string) bool {
	return storage == StorageCloudinary || storage == StoragePublic
}

// StoredFile is a row of file_info.
type StoredFile struct {
	ID           int64
	OriginalName string
	FileName     string
	FilePath     string
	FileType     int
	FileSize     int64
	Storage      string
	UserID       int64
	CreatedAt    time.Time
}

// FileInfo is the client view of a stored file. FileURL is nil and
// OriginalFilename is masked when the viewer has no access.
type FileInfo struct {
	ID               int64     `json:"id"`
	FileURL          *string   `json:"fileUrl"`
	FileName         string    `json:"fileName"`
	FileSize         int64     `json:"fileSize"`
	FileType         int       `json:"fileType"`
	OriginalFilename string    `json:"originalFilename"`
	HasAccess        bool      `json:"hasAccess"`
	UploaderID       int64     `json:"uploaderId"`
	CreatedAt        time.Time `json:"createdAt"`
}

type ChunkInitRequest struct {
	Filename  string `json:"filename"`
	TotalSize int64  `json:"totalSize"`
}

type ChunkInitResponse struct {
	Identifier string `json:"identifier"`
	ChunkSize  int64  `json:"chunkSize"`
	Message    string `json:"message"`
}

type ChunkMergeRequest struct {
	Identifier  string `json:"identifier"`
	Filename    string `json:"filename"`
	TotalChunks int    `json:"totalChunks"`
}
