package simulate

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/google/uuid"
)

// Duel outcome model constants.
const (
	qualityMean   = 5.0
	qualitySpread = 2.0
	qualityScale  = 1.5 // quality gap that gives a ~73% win chance
	drawChance    = 0.08
)

var styles = []string{
	"IPA", "Stout", "Pilsner", "Saison", "Porter", "Hefeweizen",
	"Gose", "Lambic", "Dubbel", "Tripel", "Amber Ale", "Kolsch",
}

var adjectives = []string{
	"Hazy", "Imperial", "Smoked", "Barrel-Aged", "Session", "Dry-Hopped",
	"Golden", "Midnight", "Wild", "Rustic", "Northern", "Copper",
}

// generateBeers creates n beers with a hidden quality drawn from a normal
// distribution. The same seed always yields the same catalogue.
func generateBeers(n int, seed uint64) []Beer {
	rng := rand.New(rand.NewPCG(seed, uint64(n)))
	beers := make([]Beer, n)
	for i := range beers {
		style := styles[rng.IntN(len(styles))]
		beers[i] = Beer{
			Name:    fmt.Sprintf("%s %s #%d", adjectives[rng.IntN(len(adjectives))], style, i+1),
			Style:   style,
			Quality: qualityMean + rng.NormFloat64()*qualitySpread,
		}
	}
	return beers
}

// judge decides a duel between a and b. It returns the winner first; draw
// reports a tie, in which case the order is irrelevant.
func judge(rng *rand.Rand, a, b string, qa, qb float64) (winner, loser string, draw bool) {
	if rng.Float64() < drawChance {
		return a, b, true
	}
	pA := 1 / (1 + math.Exp(-(qa-qb)/qualityScale))
	if rng.Float64() < pA {
		return a, b, false
	}
	return b, a, false
}

// userIDs returns n user ids scoped to one run so progress never mixes
// with earlier runs against the same server.
func userIDs(runID string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("sim-%s-u%03d", runID, i+1)
	}
	return ids
}

func newOutcomeID() string {
	return uuid.NewString()
}
