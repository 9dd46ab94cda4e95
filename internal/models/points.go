package models

import "time"

// PointAction codes as seeded in point_actions.
const (
	ActionRegister           = 0
	ActionSignIn             = 1
	ActionContinuousSign     = 2
	ActionUploadFile         = 3
	ActionDownloadFile       = 4
	ActionPostBounty         = 5
	ActionCompleteBounty     = 6
	ActionCloseBounty        = 7
	ActionAdminAdjust        = 8
	ActionFreeFileSubsidy    = 9
	ActionFileDownloadIncome = 10
)

// ActionName returns the metric label for an action code.
func ActionName(code int) string {
	switch code {
	case ActionRegister:
		return "register"
	case ActionSignIn:
		return "sign_in"
	case ActionContinuousSign:
		return "continuous_sign"
	case ActionUploadFile:
		return "upload_file"
	case ActionDownloadFile:
		return "download_file"
	case ActionPostBounty:
		return "post_bounty"
	case ActionCompleteBounty:
		return "complete_bounty"
	case ActionCloseBounty:
		return "close_bounty"
	case ActionAdminAdjust:
		return "admin_adjust"
	case ActionFreeFileSubsidy:
		return "free_file_subsidy"
	case ActionFileDownloadIncome:
		return "file_download_income"
	}
	return "unknown"
}

type UserPoints struct {
	UserID      int64  `json:"userId"`
	Username    string `json:"username"`
	Points      int    `json:"points"`
	TotalPoints int    `json:"totalPoints"`
}

type PointsRecord struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"userId"`
	Points        int       `json:"points"`
	PointActionID int       `json:"pointActionId"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"createdAt"`
}
