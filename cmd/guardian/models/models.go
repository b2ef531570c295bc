package models

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

const (
	TxReward = "REWARD"
	TxSpend  = "SPEND"
)

const (
	StudyStarted   = "STARTED"
	StudyPending   = "PENDING"
	StudyApproved  = "APPROVED"
	StudyRejected  = "REJECTED"
	StudyCancelled = "CANCELLED"
)

const (
	JobOpen     = "OPEN"
	JobAssigned = "ASSIGNED"
	JobReview   = "REVIEW"
	JobClosed   = "CLOSED"
)

const (
	ShopPending  = "PENDING"
	ShopApproved = "APPROVED"
	ShopDenied   = "DENIED"
)

const (
	MissionOpen      = "OPEN"
	MissionPending   = "PENDING"
	MissionCompleted = "COMPLETED"
)

type Account struct {
	Row               int              `json:"-"`
	UserID            string           `json:"user_id"`
	DisplayName       string           `json:"display_name"`
	CurrentExp        int64            `json:"current_exp"`
	TotalStudyMinutes int64            `json:"total_study_time"`
	Role              string           `json:"role"`
	Inventory         map[string]int64 `json:"inventory"`
	Rank              string           `json:"rank"`
	PinHash           string           `json:"-"`
}

func (a Account) IsAdmin() bool { return a.Role == RoleAdmin }

type Transaction struct {
	ID        string `json:"tx_id"`
	UserID    string `json:"user_id"`
	Amount    int64  `json:"amount"`
	Kind      string `json:"tx_type"`
	Reference string `json:"related_id"`
	Timestamp string `json:"timestamp"`
	Actor     string `json:"actor_name"`
}

type StudySession struct {
	Row           int    `json:"row_index"`
	UserID        string `json:"user_id"`
	DisplayName   string `json:"user_name"`
	Date          string `json:"date"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	Subject       string `json:"subject"`
	Minutes       int64  `json:"minutes"`
	RankScore     int64  `json:"rank_score,omitempty"`
	Comment       string `json:"comment,omitempty"`
	Concentration int64  `json:"concentration,omitempty"`
	EarnedExp     int64  `json:"earned_exp,omitempty"`
}

// Reward is what an approval pays by default: the reported amount, or the
// minutes when no report was filed.
func (s StudySession) Reward() int64 {
	if s.EarnedExp > 0 {
		return s.EarnedExp
	}
	return s.Minutes
}

type Job struct {
	Row        int    `json:"-"`
	ID         string `json:"job_id"`
	Title      string `json:"title"`
	Reward     int64  `json:"reward"`
	Status     string `json:"status"`
	ClientID   string `json:"client_id"`
	WorkerID   string `json:"worker_id"`
	Deadline   string `json:"deadline"`
	Comment    string `json:"comment,omitempty"`
	FinishedAt string `json:"finished_at,omitempty"`
}

type ShopItem struct {
	Key         string `json:"item_key"`
	Name        string `json:"name"`
	Cost        int64  `json:"cost"`
	Description string `json:"description"`
}

type ShopRequest struct {
	Row     int    `json:"-"`
	ID      string `json:"request_id"`
	UserID  string `json:"user_id"`
	ItemKey string `json:"item_key"`
	Cost    int64  `json:"cost"`
	Status  string `json:"status"`
	Time    string `json:"time"`
	Comment string `json:"comment,omitempty"`
}

type Mission struct {
	Row         int    `json:"-"`
	ID          string `json:"mission_id"`
	UserID      string `json:"user_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Reward      int64  `json:"reward"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

type PendingType string

const (
	PendingStudy   PendingType = "study"
	PendingJob     PendingType = "job"
	PendingShop    PendingType = "shop"
	PendingMission PendingType = "mission"
)

// PendingItem is one entry of the reviewer queue.
type PendingItem struct {
	Type     PendingType `json:"type"`
	ID       string      `json:"id"`
	UserID   string      `json:"user_id"`
	UserName string      `json:"user_name"`
	Title    string      `json:"title"`
	Amount   int64       `json:"amount"`
	Minutes  int64       `json:"minutes,omitempty"`
	Time     string      `json:"time"`
	Comment  string      `json:"comment,omitempty"`
}

type Notification struct {
	Recipients []string `json:"recipients"`
	Kind       string   `json:"kind"`
	Text       string   `json:"text"`
}

type RegisterRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Pin         string `json:"pin"`
}

type StatusResponse struct {
	UserID            string           `json:"user_id"`
	DisplayName       string           `json:"display_name"`
	Balance           int64            `json:"balance"`
	TotalStudyMinutes int64            `json:"total_study_time"`
	Rank              string           `json:"rank"`
	Role              string           `json:"role"`
	Inventory         map[string]int64 `json:"inventory"`
}

type RankingEntry struct {
	Position          int    `json:"position"`
	UserID            string `json:"user_id"`
	DisplayName       string `json:"display_name"`
	TotalStudyMinutes int64  `json:"total_study_time"`
	Rank              string `json:"rank"`
}

// DayStats is one calendar day of approved study time.
type DayStats struct {
	Date     string           `json:"date"`
	Label    string           `json:"label"`
	Minutes  int64            `json:"minutes"`
	Subjects map[string]int64 `json:"subjects"`
}

// WeekStats is a rolling seven day window ending on End.
type WeekStats struct {
	Label    string           `json:"label"`
	Start    string           `json:"start"`
	End      string           `json:"end"`
	Minutes  int64            `json:"minutes"`
	Subjects map[string]int64 `json:"subjects"`
}

type SubjectStats struct {
	Subject string  `json:"subject"`
	Minutes int64   `json:"minutes"`
	Percent float64 `json:"percent"`
}

type StudyStats struct {
	UserID        string         `json:"user_id"`
	TodaySessions int            `json:"today_sessions"`
	WeekMinutes   int64          `json:"weekly"`
	MonthMinutes  int64          `json:"monthly"`
	TotalMinutes  int64          `json:"total"`
	Daily         []DayStats     `json:"daily"`
	Weeks         []WeekStats    `json:"weeks"`
	Subjects      []SubjectStats `json:"subjects"`
	Recent        []StudySession `json:"recent"`
	Jobs          []Job          `json:"jobs"`
	JobCount      int            `json:"job_count"`
}

type WeeklyRankingEntry struct {
	Position          int    `json:"position"`
	UserID            string `json:"user_id"`
	DisplayName       string `json:"display_name"`
	WeeklyExp         int64  `json:"weekly_exp"`
	TotalStudyMinutes int64  `json:"total_study_time"`
	Rank              string `json:"user_rank"`
}

type Activity struct {
	Type        string `json:"type"`
	UserID      string `json:"user_id"`
	UserName    string `json:"user_name"`
	Description string `json:"description"`
	Comment     string `json:"comment,omitempty"`
	Timestamp   string `json:"timestamp"`
}
