package models

import "time"

const (
	BountyInProgress = 1
	BountyCompleted  = 2
	BountyClosed     = 3
)

// BountyStatusText maps a bounty status to its display text.
func BountyStatusText(status int) string {
	switch status {
	case BountyInProgress:
		return "in progress"
	case BountyCompleted:
		return "completed"
	case BountyClosed:
		return "closed"
	}
	return "unknown"
}

type Bounty struct {
	ID           int64      `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Points       int        `json:"points"`
	UserID       int64      `json:"userId"`
	Username     string     `json:"username"`
	Avatar       *string    `json:"avatar"`
	Status       int        `json:"status"`
	StatusText   string     `json:"statusText"`
	ViewCount    int        `json:"viewCount"`
	BidCount     int        `json:"bidCount"`
	CreatedAt    time.Time  `json:"createdAt"`
	EndAt        *time.Time `json:"endAt"`
	WinnerID     *int64     `json:"winnerId"`
	WinnerName   *string    `json:"winnerName"`
	WinnerAvatar *string    `json:"winnerAvatar"`
	IsMine       bool       `json:"isMine"`
}

type BountyRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Points      int    `json:"points"`
}

type Bid struct {
	ID        int64     `json:"id"`
	BountyID  int64     `json:"bountyId"`
	UserID    int64     `json:"userId"`
	Username  string    `json:"username"`
	Avatar    *string   `json:"avatar"`
	FileID    *int64    `json:"fileId"`
	FileInfo  *FileInfo `json:"fileInfo"`
	IsWinner  bool      `json:"isWinner"`
	CreatedAt time.Time `json:"createdAt"`
	IsMine    bool      `json:"isMine"`
	HasFile   bool      `json:"hasFile"`
	CanAccess bool      `json:"canAccess"`
}
