// Package progress tracks streaks, plant growth and achievements.
package progress

import (
	"time"

	"github.com/serenoapp/sereno/internal/domain"
)

// TouchDay records activity on the given calendar day. Consecutive-day
// activity extends the streak, a gap resets it to 1, and repeated activity
// within the same day is idempotent.
func TouchDay(p *domain.UserProfile, sessionDate string) {
	if p.LastSessionDate == sessionDate {
		return
	}
	if p.LastSessionDate == previousDay(sessionDate) {
		p.StreakDays++
	} else {
		p.StreakDays = 1
	}
	p.LastSessionDate = sessionDate
}

func previousDay(sessionDate string) string {
	t, err := time.Parse("2006-01-02", sessionDate)
	if err != nil {
		return ""
	}
	return domain.SessionDateOf(t.AddDate(0, 0, -1))
}

// PlantStage derives the growth metaphor from streak and lifetime totals.
// The plant never regresses within a stage boundary: totals only grow, and a
// broken streak drops at most one stage.
func PlantStage(streakDays, totalSessions int) domain.PlantStage {
	score := totalSessions + 2*streakDays
	switch {
	case score >= 40:
		return domain.PlantBloom
	case score >= 20:
		return domain.PlantBud
	case score >= 10:
		return domain.PlantStem
	case score >= 3:
		return domain.PlantSprout
	default:
		return domain.PlantSeed
	}
}
