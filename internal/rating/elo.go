// Package rating computes Elo adjustments for finished games.
package rating

import "math"

// Result is the player's score for a finished game.
type Result float64

const (
	Win  Result = 1
	Draw Result = 0.5
	Loss Result = 0
)

const (
	minKFactor = 16
	maxKFactor = 32
	// Rating gap at which the K factor stops growing.
	ratingGapCap = 400
)

// NewRating returns the player's adjusted rating against an opponent of the
// given rating. The K factor interpolates between 16 and 32 with the rating
// gap, capped at 400 points.
func NewRating(playerRating, opponentRating int, result Result) int {
	k := kFactor(playerRating, opponentRating)
	expected := 1 / (1 + math.Pow(10, float64(opponentRating-playerRating)/ratingGapCap))
	return int(math.Round(float64(playerRating) + k*(float64(result)-expected)))
}

func kFactor(playerRating, opponentRating int) float64 {
	gap := math.Abs(float64(playerRating - opponentRating))
	if gap > ratingGapCap {
		gap = ratingGapCap
	}
	return minKFactor + (maxKFactor-minKFactor)*(gap/ratingGapCap)
}
