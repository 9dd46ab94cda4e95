package models

const (
	CycleEnded      = 0
	CycleInProgress = 1
	CycleCompleted  = 2

	DefaultCycleLength = 7
)

type SignResult struct {
	UserID         int64  `json:"userId"`
	SignDate       string `json:"signDate"`
	ContinuousDays int    `json:"continuousDays"`
	EarnedPoints   int    `json:"earnedPoints"`
	CycleCompleted bool   `json:"cycleCompleted"`
}

type CalendarSign struct {
	UserID   int64        `json:"userId"`
	Year     int          `json:"year"`
	Month    int          `json:"month"`
	SignDays map[int]bool `json:"signDays"`
}

type SignReward struct {
	Day         int `json:"day"`
	BasePoints  int `json:"basePoints"`
	ExtraPoints int `json:"extraPoints"`
	TotalPoints int `json:"totalPoints"`
}

type SignCycle struct {
	ID             int64  `json:"id"`
	UserID         int64  `json:"userId"`
	CycleStartDate string `json:"cycleStartDate"`
	CycleLength    int    `json:"cycleLength"`
	CurrentSignDay int    `json:"currentSignDay"`
	LastSignDate   string `json:"lastSignDate"`
	Status         int    `json:"status"`
}
