package simulate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/okian/beerduel/internal/domain/model"
	"github.com/okian/beerduel/internal/domain/types"
	"github.com/okian/beerduel/pkg/logger"
)

// ratingTolerance bounds float drift per recorded duel.
const ratingTolerance = 1e-6

// Check is the result of one consistency check.
type Check struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Skipped bool   `json:"skipped,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

func pass(name, detail string) Check { return Check{Name: name, Passed: true, Detail: detail} }
func fail(name, detail string) Check { return Check{Name: name, Detail: detail} }
func skip(name, detail string) Check {
	return Check{Name: name, Passed: true, Skipped: true, Detail: detail}
}

// board is a leaderboard read together with how much of the ranked
// population it covers.
type board struct {
	entries    []types.Entry
	population int
	complete   bool
}

func (b board) sum() float64 {
	var s float64
	for _, e := range b.entries {
		s += e.Rating
	}
	return s
}

// fullLeaderboard reads as much of the leaderboard as the server allows.
func fullLeaderboard(ctx context.Context, client *Client) (board, error) {
	stats, err := client.Stats(ctx)
	if err != nil {
		return board{}, err
	}
	population := intStat(stats, "rankedItems")
	limit := min(population, intStat(stats, "maxLeaderboardLimit"))
	if limit < 1 {
		return board{population: population}, nil
	}
	entries, err := client.Leaderboard(ctx, limit)
	if err != nil {
		return board{}, err
	}
	return board{entries: entries, population: population, complete: len(entries) >= population}, nil
}

func intStat(stats map[string]any, key string) int {
	if v, ok := stats[key].(float64); ok {
		return int(v)
	}
	return 0
}

type verifier struct {
	client *Client
	cfg    *Config
	log    logger.Logger
}

func (v *verifier) run(ctx context.Context, report *Report, before, after board, expectedXP map[string]int64, last *recorded) []Check {
	checks := []Check{
		checkOrder(after.entries),
		checkConservation(before, after, report.Stats.DuelsRecorded),
		checkPopulation(report.Classification, after),
		v.checkRarityOrder(ctx, after.entries),
		v.checkExperience(ctx, expectedXP),
		v.checkIdempotency(ctx, last),
		checkFailures(report.Stats),
	}
	for _, c := range checks {
		fields := []logger.Field{logger.String("check", c.Name), logger.String("detail", c.Detail)}
		switch {
		case !c.Passed:
			v.log.Warn(ctx, "check failed", fields...)
		case c.Skipped:
			v.log.Info(ctx, "check skipped", fields...)
		default:
			v.log.Info(ctx, "check passed", fields...)
		}
	}
	return checks
}

// checkOrder verifies ranks are consecutive and ratings never increase.
func checkOrder(entries []types.Entry) Check {
	const name = "leaderboard order"
	for i, e := range entries {
		if e.Rank != i+1 {
			return fail(name, fmt.Sprintf("entry %d has rank %d", i, e.Rank))
		}
		if i > 0 && e.Rating > entries[i-1].Rating {
			return fail(name, fmt.Sprintf("rank %d (%.3f) above rank %d (%.3f)", e.Rank, e.Rating, i, entries[i-1].Rating))
		}
	}
	return pass(name, fmt.Sprintf("%d entries", len(entries)))
}

// checkConservation verifies duels only moved rating points between items.
func checkConservation(before, after board, duels int) Check {
	const name = "rating conservation"
	if !before.complete || !after.complete {
		return skip(name, "leaderboard limit below ranked population")
	}
	if before.population != after.population {
		return skip(name, "population changed during the run")
	}
	drift := math.Abs(after.sum() - before.sum())
	if drift > ratingTolerance*float64(duels+1) {
		return fail(name, fmt.Sprintf("rating sum drifted by %.9f", drift))
	}
	return pass(name, fmt.Sprintf("sum %.3f", after.sum()))
}

// checkPopulation verifies every ranked item received exactly one tier.
func checkPopulation(res ClassifyResponse, after board) Check {
	const name = "classification population"
	total := 0
	for _, n := range res.Counts {
		total += n
	}
	if total != res.Population {
		return fail(name, fmt.Sprintf("tier counts sum to %d, population %d", total, res.Population))
	}
	if res.Population != after.population {
		return fail(name, fmt.Sprintf("classified %d items, ranked %d", res.Population, after.population))
	}
	return pass(name, fmt.Sprintf("%d legendary, %d epic, %d rare, %d common",
		res.Counts[model.TierLegendary], res.Counts[model.TierEpic], res.Counts[model.TierRare], res.Counts[model.TierCommon]))
}

// checkRarityOrder verifies a strictly better rated item never holds a
// lower tier.
func (v *verifier) checkRarityOrder(ctx context.Context, entries []types.Entry) Check {
	const name = "rarity order"
	tiers := make([]model.RarityTier, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.cfg.Workers)
	for i, e := range entries {
		g.Go(func() error {
			r, err := v.client.Rarity(gctx, e.ItemID)
			if err != nil {
				return fmt.Errorf("rarity of %s: %w", e.ItemID, err)
			}
			tiers[i] = r.Tier
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fail(name, err.Error())
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Rating < entries[i-1].Rating && tiers[i].Rank() > tiers[i-1].Rank() {
			return fail(name, fmt.Sprintf("%s (%s) ranked below %s (%s)",
				entries[i].ItemID, tiers[i], entries[i-1].ItemID, tiers[i-1]))
		}
	}
	return pass(name, fmt.Sprintf("%d items", len(entries)))
}

// checkExperience verifies each user holds exactly the XP their duels
// reported.
func (v *verifier) checkExperience(ctx context.Context, expected map[string]int64) Check {
	const name = "experience totals"
	users := make([]string, 0, len(expected))
	for u := range expected {
		users = append(users, u)
	}
	sort.Strings(users)
	for _, u := range users {
		p, err := v.client.Progress(ctx, u)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && se.Status == http.StatusNotFound && expected[u] == 0 {
				continue
			}
			return fail(name, fmt.Sprintf("progress of %s: %v", u, err))
		}
		if p.XP != expected[u] {
			return fail(name, fmt.Sprintf("%s holds %d XP, expected %d", u, p.XP, expected[u]))
		}
	}
	return pass(name, fmt.Sprintf("%d users", len(users)))
}

// checkIdempotency replays the last accepted outcome and expects a conflict.
func (v *verifier) checkIdempotency(ctx context.Context, last *recorded) Check {
	const name = "outcome idempotency"
	if last == nil {
		return skip(name, "no outcome was recorded")
	}
	_, err := v.client.RecordOutcome(ctx, last.outcomeID, last.userID, last.winnerID, last.loserID, last.draw)
	var se *StatusError
	switch {
	case err == nil:
		return fail(name, "replayed outcome "+last.outcomeID+" was applied twice")
	case errors.As(err, &se) && se.Status == http.StatusConflict:
		return pass(name, se.Code)
	default:
		return fail(name, err.Error())
	}
}

func checkFailures(stats Stats) Check {
	const name = "duel failures"
	if stats.DuelsFailed > 0 {
		return fail(name, fmt.Sprintf("%d of %d duels failed", stats.DuelsFailed, stats.DuelsAttempted))
	}
	return pass(name, fmt.Sprintf("%d recorded, %d rejected", stats.DuelsRecorded, stats.DuelsRejected))
}

// qualityCorrelation is the Spearman correlation between hidden quality
// and final leaderboard position for the simulated beers.
func qualityCorrelation(beers []Beer, entries []types.Entry) float64 {
	quality := make(map[string]float64, len(beers))
	for _, b := range beers {
		quality[b.ID] = b.Quality
	}
	var ranked []string
	for _, e := range entries {
		if _, ok := quality[e.ItemID]; ok {
			ranked = append(ranked, e.ItemID)
		}
	}
	n := len(ranked)
	if n < 2 {
		return 0
	}
	byQuality := make([]string, n)
	copy(byQuality, ranked)
	sort.SliceStable(byQuality, func(i, j int) bool {
		return quality[byQuality[i]] > quality[byQuality[j]]
	})
	pos := make(map[string]int, n)
	for i, id := range byQuality {
		pos[id] = i
	}
	var d2 float64
	for i, id := range ranked {
		d := float64(i - pos[id])
		d2 += d * d
	}
	nf := float64(n)
	return 1 - 6*d2/(nf*(nf*nf-1))
}
