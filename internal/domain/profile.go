package domain

import (
	"time"
)

// UserProfile holds per-user account state. Loaded once per authenticated
// session; mutated only by explicit profile updates and progress tracking.
type UserProfile struct {
	UserID          string    `json:"user_id"`
	Name            string    `json:"name"`
	Age             int       `json:"age,omitempty"`
	IsModerator     bool      `json:"is_moderator"`
	StreakDays      int       `json:"streak_days"`
	TotalSessions   int       `json:"total_sessions"`
	LastSessionDate string    `json:"last_session_date,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// QuotaState reports daily conversation budget usage.
type QuotaState struct {
	ConversationsToday int  `json:"conversations_today"`
	DailyCap           int  `json:"daily_cap"`
	UserMessageCount   int  `json:"user_message_count"`
	Exempt             bool `json:"exempt"`
}

// Exhausted returns true when the daily cap is reached for a non-exempt user.
func (q QuotaState) Exhausted() bool {
	return !q.Exempt && q.ConversationsToday >= q.DailyCap
}
