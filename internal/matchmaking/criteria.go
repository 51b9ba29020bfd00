package matchmaking

import (
	"time"

	"github.com/crownarena/server/internal/domain"
)

// Config holds the tunable matchmaking constants.
type Config struct {
	BaseTrophyTolerance    int
	BaseLevelTolerance     int
	RelaxAfter             time.Duration // tolerances start growing, same-arena dropped
	RegionRelaxAfter       time.Duration // region preference dropped
	MaxToleranceMultiplier float64
	MinQuality             float64
	RelaxedMinQuality      float64
	NominalMaxWait         time.Duration
	MaxSearchAttempts      int
	HistorySize            int
	DefaultWait            time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BaseTrophyTolerance:    100,
		BaseLevelTolerance:     2,
		RelaxAfter:             30 * time.Second,
		RegionRelaxAfter:       60 * time.Second,
		MaxToleranceMultiplier: 3,
		MinQuality:             70,
		RelaxedMinQuality:      50,
		NominalMaxWait:         30 * time.Second,
		MaxSearchAttempts:      3,
		HistorySize:            1000,
		DefaultWait:            30 * time.Second,
	}
}

// normalize fills zero fields with defaults.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.BaseTrophyTolerance <= 0 {
		c.BaseTrophyTolerance = d.BaseTrophyTolerance
	}
	if c.BaseLevelTolerance <= 0 {
		c.BaseLevelTolerance = d.BaseLevelTolerance
	}
	if c.RelaxAfter <= 0 {
		c.RelaxAfter = d.RelaxAfter
	}
	if c.RegionRelaxAfter <= 0 {
		c.RegionRelaxAfter = d.RegionRelaxAfter
	}
	// Tolerances must be allowed to reach at least 3x base.
	if c.MaxToleranceMultiplier < 3 {
		c.MaxToleranceMultiplier = 3
	}
	if c.MinQuality <= 0 {
		c.MinQuality = d.MinQuality
	}
	if c.RelaxedMinQuality <= 0 {
		c.RelaxedMinQuality = d.RelaxedMinQuality
	}
	if c.NominalMaxWait <= 0 {
		c.NominalMaxWait = d.NominalMaxWait
	}
	if c.MaxSearchAttempts <= 0 {
		c.MaxSearchAttempts = d.MaxSearchAttempts
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.DefaultWait <= 0 {
		c.DefaultWait = d.DefaultWait
	}
	return c
}

// Criteria are the pairing constraints for one entry at its current wait time.
type Criteria struct {
	TrophyTolerance   int
	LevelTolerance    int
	RequireSameArena  bool
	RequireSameRegion bool
}

// ToleranceMultiplier is 1 until RelaxAfter, then grows linearly by 1 per
// RelaxAfter of extra waiting up to MaxToleranceMultiplier.
func (c Config) ToleranceMultiplier(wait time.Duration) float64 {
	if wait <= c.RelaxAfter {
		return 1
	}
	m := 1 + float64(wait-c.RelaxAfter)/float64(c.RelaxAfter)
	return min(m, c.MaxToleranceMultiplier)
}

// RelaxedCriteria derives the constraints for an entry that has waited wait.
func (c Config) RelaxedCriteria(wait time.Duration) Criteria {
	m := c.ToleranceMultiplier(wait)
	return Criteria{
		TrophyTolerance:   int(float64(c.BaseTrophyTolerance) * m),
		LevelTolerance:    int(float64(c.BaseLevelTolerance) * m),
		RequireSameArena:  wait <= c.RelaxAfter,
		RequireSameRegion: wait <= c.RegionRelaxAfter,
	}
}

// Allows reports whether b is an eligible opponent for a. The game mode is
// never relaxed and an account is never paired with itself.
func (cr Criteria) Allows(a, b *domain.QueueEntry) bool {
	if a.GameMode != b.GameMode {
		return false
	}
	if a.UserID != "" && a.UserID == b.UserID {
		return false
	}
	if abs(a.Trophies-b.Trophies) > cr.TrophyTolerance {
		return false
	}
	if abs(a.Level-b.Level) > cr.LevelTolerance {
		return false
	}
	if cr.RequireSameArena && a.Arena != b.Arena {
		return false
	}
	if cr.RequireSameRegion && a.Region != "" && b.Region != "" && a.Region != b.Region {
		return false
	}
	return true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
