package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/serenoapp/sereno/internal/domain"
	"github.com/serenoapp/sereno/internal/store"
)

// Achievement codes. Codes are stable identifiers; display text lives in the
// frontend.
const (
	AchFirstConversation = "first_conversation"
	AchStreak3           = "streak_3"
	AchStreak7           = "streak_7"
	AchConversations10   = "conversations_10"
	AchConfirmedActions5 = "confirmed_actions_5"
)

// Evaluate checks the threshold table against the user's current totals and
// unlocks anything newly earned. Unlocking is idempotent; already-held
// achievements are skipped by the store's primary key.
func Evaluate(ctx context.Context, repo store.Repository, profile *domain.UserProfile) ([]string, error) {
	confirmed, err := repo.CountConfirmedSuggestions(ctx, profile.UserID)
	if err != nil {
		return nil, fmt.Errorf("count confirmed suggestions: %w", err)
	}

	held := make(map[string]bool)
	existing, err := repo.ListAchievements(ctx, profile.UserID)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	for _, a := range existing {
		held[a.Code] = true
	}

	earned := []string{}
	if profile.TotalSessions >= 1 {
		earned = append(earned, AchFirstConversation)
	}
	if profile.StreakDays >= 3 {
		earned = append(earned, AchStreak3)
	}
	if profile.StreakDays >= 7 {
		earned = append(earned, AchStreak7)
	}
	if profile.TotalSessions >= 10 {
		earned = append(earned, AchConversations10)
	}
	if confirmed >= 5 {
		earned = append(earned, AchConfirmedActions5)
	}

	var unlocked []string
	now := time.Now()
	for _, code := range earned {
		if held[code] {
			continue
		}
		if err := repo.UnlockAchievement(ctx, &domain.Achievement{
			UserID:     profile.UserID,
			Code:       code,
			UnlockedAt: now,
		}); err != nil {
			return unlocked, fmt.Errorf("unlock %s: %w", code, err)
		}
		unlocked = append(unlocked, code)
	}

	return unlocked, nil
}
