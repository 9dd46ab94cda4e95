package models

import "time"

const (
	TaskReviewing = 0
	TaskPublished = 1
	TaskSuccess   = 2
	TaskRejected  = 3
)

// TaskStatusText maps a resource task status to its display text.
func TaskStatusText(status int) string {
	switch status {
	case TaskReviewing:
		return "reviewing"
	case TaskPublished:
		return "published"
	case TaskSuccess:
		return "success"
	case TaskRejected:
		return "rejected"
	}
	return "unknown"
}

// TaskIsPublic reports whether a task in this status is visible to everyone.
func TaskIsPublic(status int) bool {
	return status == TaskPublished || status == TaskSuccess
}

type ResourceTask struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"userId"`
	Username       string    `json:"username"`
	Avatar         *string   `json:"avatar"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	FileID         int64     `json:"fileId"`
	FileInfo       *FileInfo `json:"fileInfo"`
	IsFree         bool      `json:"isFree"`
	RequiredPoints int       `json:"requiredPoints"`
	Status         int       `json:"status"`
	StatusText     string    `json:"statusText"`
	DownloadCount  int       `json:"downloadCount"`
	ViewCount      int       `json:"viewCount"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	IsMine         bool      `json:"isMine"`
	HasAccess      bool      `json:"hasAccess"`
}

type ResourceTaskRequest struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	FileID         int64  `json:"fileId"`
	IsFree         bool   `json:"isFree"`
	RequiredPoints int    `json:"requiredPoints"`
}

// ResourceQuery filters the query endpoint. Nil fields are not applied.
type ResourceQuery struct {
	UserID   *int64
	IsFree   *bool
	Keyword  string
	Statuses []int
}

type ReviewRequest struct {
	TaskID  int64  `json:"taskId"`
	Status  int    `json:"status"`
	Comment string `json:"comment"`
}
