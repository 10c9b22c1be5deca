package domain

import (
	"time"
)

// PlantStage is the growth metaphor derived from streak and session totals.
type PlantStage string

const (
	PlantSeed   PlantStage = "seed"
	PlantSprout PlantStage = "sprout"
	PlantStem   PlantStage = "stem"
	PlantBud    PlantStage = "bud"
	PlantBloom  PlantStage = "bloom"
)

// Achievement is an unlocked milestone. The (UserID, Code) pair is unique;
// unlocking is idempotent.
type Achievement struct {
	UserID     string    `json:"-"`
	Code       string    `json:"code"`
	UnlockedAt time.Time `json:"unlocked_at"`
}
