package domain

import (
	"time"
)

// Suggestion is a self-care action generated from an analysis run.
//
// Confirmed is derived, never set independently: it is true only when the
// suggestion was completed with a non-empty note at completion time.
type Suggestion struct {
	ID          string     `json:"id"`
	UserID      string     `json:"-"`
	Text        string     `json:"text"`
	Category    string     `json:"category"`
	IsCompleted bool       `json:"is_completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	Confirmed   bool       `json:"confirmed"`
	CreatedAt   time.Time  `json:"created_at"`
}

// EmotionScore is one entry of a user's emotion breakdown snapshot.
type EmotionScore struct {
	Name       string  `json:"name"`
	Percentage float64 `json:"percentage"`
}
