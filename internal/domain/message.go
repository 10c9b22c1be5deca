// Package domain contains core domain types for the Sereno application.
package domain

import (
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat message. Messages are immutable once created and
// ordered by creation within a session day.
type Message struct {
	ID          string    `json:"id"`
	UserID      string    `json:"-"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	SessionDate string    `json:"session_date"`
	CreatedAt   time.Time `json:"created_at"`
}

// SessionDateOf formats a wall-clock time as the calendar-day key used to
// scope conversation windows. Quota resets at this boundary, not on a rolling
// 24h window.
func SessionDateOf(t time.Time) string {
	return t.Format("2006-01-02")
}
