package simulate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/okian/beerduel/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	filePermission      = 0600
)

// saveReport writes the report as indented JSON.
func saveReport(filename string, report *Report) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(filename, append(data, '\n'), filePermission); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// displayFinalStats logs the run statistics and the strongest beers.
func displayFinalStats(ctx context.Context, log logger.Logger, report *Report, topN int) {
	stats := report.Stats
	var duelsPerSecond float64
	if stats.Duration > 0 {
		duelsPerSecond = float64(stats.DuelsRecorded) / stats.Duration.Seconds()
	}

	log.Info(ctx, "final statistics",
		logger.Int("itemsRegistered", stats.ItemsRegistered),
		logger.Int("duelsAttempted", stats.DuelsAttempted),
		logger.Int("duelsRecorded", stats.DuelsRecorded),
		logger.Int("duelsRejected", stats.DuelsRejected),
		logger.Int("duelsFailed", stats.DuelsFailed),
		logger.Int("draws", stats.Draws),
		logger.Int64("xpAwarded", stats.XPAwarded),
		logger.Float64("qualityRankCorrelation", report.Correlation),
		logger.Duration("duration", stats.Duration),
		logger.Float64("duelsPerSecond", duelsPerSecond))

	byID := make(map[string]Beer, len(report.Beers))
	for _, b := range report.Beers {
		byID[b.ID] = b
	}
	shown := 0
	for _, e := range report.top {
		if shown >= topN {
			break
		}
		b, ok := byID[e.ItemID]
		if !ok {
			continue
		}
		shown++
		log.Info(ctx, "top beer",
			logger.Int("rank", e.Rank),
			logger.String("name", b.Name),
			logger.Float64("rating", e.Rating),
			logger.Float64("quality", b.Quality))
	}
}
