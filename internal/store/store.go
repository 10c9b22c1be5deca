// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/serenoapp/sereno/internal/domain"
)

// Repository defines the interface for persisting wellness chat data.
type Repository interface {
	// GetProfile retrieves a user profile. Returns nil, nil when absent.
	GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error)

	// UpsertProfile creates or updates a user profile.
	UpsertProfile(ctx context.Context, p *domain.UserProfile) error

	// InsertMessage appends a chat message.
	InsertMessage(ctx context.Context, m *domain.Message) error

	// MessagesForDay returns a user's messages for one calendar day, in
	// creation order.
	MessagesForDay(ctx context.Context, userID, sessionDate string) ([]*domain.Message, error)

	// UserMessageCount returns the lifetime count of user-authored messages.
	UserMessageCount(ctx context.Context, userID string) (int, error)

	// InsertSuggestion stores a generated suggestion.
	InsertSuggestion(ctx context.Context, s *domain.Suggestion) error

	// GetSuggestion retrieves one suggestion. Returns nil, nil when absent.
	GetSuggestion(ctx context.Context, userID, id string) (*domain.Suggestion, error)

	// ListSuggestions returns a user's suggestions, newest first.
	ListSuggestions(ctx context.Context, userID string) ([]*domain.Suggestion, error)

	// UpdateSuggestion persists completion state, notes and the derived
	// confirmed flag.
	UpdateSuggestion(ctx context.Context, s *domain.Suggestion) error

	// CountConfirmedSuggestions returns how many suggestions the user
	// completed with a note.
	CountConfirmedSuggestions(ctx context.Context, userID string) (int, error)

	// ReplaceEmotions overwrites the user's emotion breakdown snapshot.
	ReplaceEmotions(ctx context.Context, userID string, scores []domain.EmotionScore) error

	// ListEmotions returns the user's current emotion breakdown.
	ListEmotions(ctx context.Context, userID string) ([]domain.EmotionScore, error)

	// UnlockAchievement records a milestone. Unlocking twice is a no-op.
	UnlockAchievement(ctx context.Context, a *domain.Achievement) error

	// ListAchievements returns a user's unlocked milestones.
	ListAchievements(ctx context.Context, userID string) ([]*domain.Achievement, error)

	// ResetUserData deletes the user's messages, suggestions and emotion
	// rows. The profile and achievements survive a reset.
	ResetUserData(ctx context.Context, userID string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
