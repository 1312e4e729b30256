package simulate

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/beerduel/internal/domain/types"
	"github.com/okian/beerduel/pkg/logger"
)

const progressInterval = time.Second

// ErrVerification is returned when the run completed but at least one
// consistency check failed.
var ErrVerification = errors.New("verification failed")

// Report is the outcome of a simulation run.
type Report struct {
	RunID          string           `json:"run_id"`
	Stats          Stats            `json:"stats"`
	Beers          []Beer           `json:"beers"`
	Classification ClassifyResponse `json:"classification"`
	Correlation    float64          `json:"quality_rank_correlation"`
	Checks         []Check          `json:"checks"`

	top []types.Entry
}

// Failed returns the checks that did not pass.
func (r *Report) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// recorded is one outcome the server accepted.
type recorded struct {
	outcomeID string
	userID    string
	winnerID  string
	loserID   string
	draw      bool
}

// Run executes a complete simulation against a running server.
func Run(ctx context.Context, cfg *Config) (*Report, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := logger.Get().Named("simulate")
	client := NewClient(cfg.BaseURL, cfg.Timeout)
	report := &Report{RunID: uuid.NewString()[:8]}
	report.Stats.StartTime = time.Now()

	log.Info(ctx, "starting duel simulation",
		logger.String("runID", report.RunID),
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("items", cfg.Items),
		logger.Int("users", cfg.Users),
		logger.Int("duelsPerUser", cfg.Duels),
		logger.Int("workers", cfg.Workers))

	// Step 1: Check service health
	if err := client.Health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Register the catalogue
	beers, err := registerBeers(ctx, client, cfg)
	if err != nil {
		return nil, fmt.Errorf("item registration failed: %w", err)
	}
	report.Beers = beers
	report.Stats.ItemsRegistered = len(beers)

	// Step 3: Rank the new items before the first pair is offered
	if _, err := client.Classify(ctx); err != nil {
		return nil, fmt.Errorf("initial classification failed: %w", err)
	}
	before, err := fullLeaderboard(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("leaderboard retrieval failed: %w", err)
	}

	// Step 4: Play duels concurrently
	users := userIDs(report.RunID, cfg.Users)
	expectedXP, last, err := playDuels(ctx, client, cfg, beers, users, &report.Stats)
	if err != nil {
		return nil, fmt.Errorf("duel simulation failed: %w", err)
	}

	// Step 5: Classify the final ratings
	report.Classification, err = client.Classify(ctx)
	if err != nil {
		return nil, fmt.Errorf("final classification failed: %w", err)
	}
	after, err := fullLeaderboard(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("leaderboard retrieval failed: %w", err)
	}

	// Step 6: Verify results
	v := &verifier{client: client, cfg: cfg, log: log}
	report.Checks = v.run(ctx, report, before, after, expectedXP, last)
	report.Correlation = qualityCorrelation(beers, after.entries)
	report.top = after.entries

	report.Stats.EndTime = time.Now()
	report.Stats.Duration = report.Stats.EndTime.Sub(report.Stats.StartTime)

	// Step 7: Save the report
	if cfg.OutputFile != "" {
		if err := saveReport(cfg.OutputFile, report); err != nil {
			log.Warn(ctx, "failed to save report", logger.Error(err))
		} else {
			log.Info(ctx, "report saved", logger.String("file", cfg.OutputFile))
		}
	}

	displayFinalStats(ctx, log, report, cfg.TopN)

	if failed := report.Failed(); len(failed) > 0 {
		errs := make([]error, 0, len(failed))
		for _, c := range failed {
			errs = append(errs, fmt.Errorf("%s: %s", c.Name, c.Detail))
		}
		return report, errors.Join(ErrVerification, errors.Join(errs...))
	}
	log.Info(ctx, "simulation completed successfully")
	return report, nil
}

// registerBeers registers a generated catalogue concurrently and fills in
// the server assigned ids.
func registerBeers(ctx context.Context, client *Client, cfg *Config) ([]Beer, error) {
	beers := generateBeers(cfg.Items, cfg.Seed)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := range beers {
		g.Go(func() error {
			item, err := client.RegisterItem(gctx, beers[i].Name, beers[i].Style)
			if err != nil {
				return fmt.Errorf("register %q: %w", beers[i].Name, err)
			}
			beers[i].ID = item.ID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return beers, nil
}

// playDuels runs cfg.Duels duels for every user. It returns the XP each
// user should hold and the last outcome the server accepted.
func playDuels(ctx context.Context, client *Client, cfg *Config, beers []Beer, users []string, stats *Stats) (map[string]int64, *recorded, error) {
	quality := make(map[string]float64, len(beers))
	for _, b := range beers {
		quality[b.ID] = b.Quality
	}
	qualityOf := func(id string) float64 {
		if q, ok := quality[id]; ok {
			return q
		}
		return qualityMean
	}

	var (
		attempted, recordedN, rejected, failed, draws, xp atomic.Int64

		mu       sync.Mutex
		expected = make(map[string]int64, len(users))
		last     *recorded
	)

	done := make(chan struct{})
	defer close(done)
	if cfg.Verbose {
		go func() {
			ticker := time.NewTicker(progressInterval)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					logger.Get().Named("simulate").Info(ctx, "progress",
						logger.Int64("attempted", attempted.Load()),
						logger.Int64("recorded", recordedN.Load()),
						logger.Int64("rejected", rejected.Load()),
						logger.Int64("failed", failed.Load()))
				}
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i, user := range users {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(cfg.Seed, uint64(i)+1))
			var total int64
			for range cfg.Duels {
				if err := gctx.Err(); err != nil {
					return err
				}
				attempted.Add(1)
				pair, err := client.NextPair(gctx, user)
				if err != nil {
					failed.Add(1)
					continue
				}
				a, b := pair.A.ItemID, pair.B.ItemID
				winner, loser, draw := judge(rng, a, b, qualityOf(a), qualityOf(b))
				out := recorded{outcomeID: newOutcomeID(), userID: user, winnerID: winner, loserID: loser, draw: draw}
				res, err := client.RecordOutcome(gctx, out.outcomeID, user, winner, loser, draw)
				if err != nil {
					var se *StatusError
					if errors.As(err, &se) && se.Status == http.StatusConflict {
						rejected.Add(1)
					} else {
						failed.Add(1)
					}
					continue
				}
				recordedN.Add(1)
				if draw {
					draws.Add(1)
				}
				xp.Add(res.XPAwarded)
				total += res.XPAwarded
				mu.Lock()
				last = &out
				mu.Unlock()
			}
			mu.Lock()
			expected[user] = total
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	stats.DuelsAttempted = int(attempted.Load())
	stats.DuelsRecorded = int(recordedN.Load())
	stats.DuelsRejected = int(rejected.Load())
	stats.DuelsFailed = int(failed.Load())
	stats.Draws = int(draws.Load())
	stats.XPAwarded = xp.Load()
	return expected, last, nil
}
