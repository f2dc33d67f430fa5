// internal/scoring/scoring.go

// Package scoring computes the point award for one answer submission.
package scoring

import "math"

const (
	// BasePoints is awarded for any correct answer.
	BasePoints = 100

	// SpeedBonusMax is the bonus for an instant answer; it decays linearly
	// to zero across TimeWindowMs.
	SpeedBonusMax = 50

	// TimeWindowMs is the window over which the speed bonus decays.
	TimeWindowMs = 10000

	// StreakMultiplier scales the bonus for answer streaks of two or more.
	StreakMultiplier = 0.2
)

// SpeedBonus returns the bonus for answering timeTakenMs after the question
// was shown. Negative latencies (client clock ahead of the question start)
// clamp to zero latency; latencies past the window earn nothing.
func SpeedBonus(timeTakenMs int64) int {
	if timeTakenMs < 0 {
		timeTakenMs = 0
	}
	bonus := int(math.Floor(SpeedBonusMax * (1 - float64(timeTakenMs)/TimeWindowMs)))
	if bonus < 0 {
		return 0
	}
	return bonus
}

// Award returns the points gained and the updated streak for one submission.
// An incorrect answer earns nothing and breaks the streak. A correct answer
// extends the streak first, then earns base + speed bonus, multiplied up by
// floor(base * streak * StreakMultiplier) once the streak reaches two.
func Award(correct bool, streak int, timeTakenMs int64) (points, newStreak int) {
	if !correct {
		return 0, 0
	}
	newStreak = streak + 1
	points = BasePoints + SpeedBonus(timeTakenMs)
	if newStreak >= 2 {
		points += int(math.Floor(float64(points) * float64(newStreak) * StreakMultiplier))
	}
	return points, newStreak
}
