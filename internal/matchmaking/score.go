package matchmaking

import (
	"math"
	"time"

	"github.com/crownarena/server/internal/domain"
)

// Score weights; they sum to 100.
const (
	weightTrophies = 40.0
	weightLevel    = 20.0
	weightWinRate  = 15.0
	weightArena    = 10.0
	weightRegion   = 10.0
	maxWaitBonus   = 5.0

	trophyScale   = 300.0
	levelScale    = 6.0
	waitBonusUnit = 12 * time.Second
)

// Score rates the pairing of a and b in [0,100]. It is non-decreasing in
// trophy and level closeness with everything else fixed.
func Score(a, b *domain.QueueEntry, now time.Time) float64 {
	trophyDiff := math.Abs(float64(a.Trophies - b.Trophies))
	levelDiff := math.Abs(float64(a.Level - b.Level))
	winRateDiff := math.Abs(a.WinRate - b.WinRate)

	score := weightTrophies * closeness(trophyDiff, trophyScale)
	score += weightLevel * closeness(levelDiff, levelScale)
	score += weightWinRate * closeness(winRateDiff, 1)
	if a.Arena == b.Arena {
		score += weightArena
	}
	if a.Region == b.Region {
		score += weightRegion
	}

	avgWait := (a.Wait(now) + b.Wait(now)) / 2
	if avgWait > 0 {
		score += min(maxWaitBonus, float64(avgWait)/float64(waitBonusUnit))
	}
	return clamp(score, 0, 100)
}

// WinProbability estimates, in percent, the chance that a beats b.
func WinProbability(a, b *domain.QueueEntry) float64 {
	p := 50.0
	p += float64(a.Trophies-b.Trophies) / 20
	p += 2 * float64(a.Level-b.Level)
	p += 20 * (a.WinRate - b.WinRate)
	return clamp(p, 10, 90)
}

func closeness(diff, scale float64) float64 {
	return max(0, 1-diff/scale)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
