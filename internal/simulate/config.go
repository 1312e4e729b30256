package simulate

import (
	"errors"
	"time"
)

// Config holds configuration for a simulation run
type Config struct {
	BaseURL    string        // Base URL of the service
	Items      int           // Number of beers to register
	Users      int           // Number of simulated users
	Duels      int           // Duels played per user
	Workers    int           // Number of concurrent workers
	TopN       int           // Leaderboard entries to fetch and print
	Timeout    time.Duration // HTTP request timeout
	Seed       uint64        // Seed for the hidden quality of each beer
	OutputFile string        // Report file (empty disables the report)
	Verbose    bool          // Enable verbose logging
}

// ErrInvalidConfig is returned when a run cannot start with the given Config.
var ErrInvalidConfig = errors.New("invalid simulation config")

func (c *Config) validate() error {
	switch {
	case c.BaseURL == "":
		return errors.Join(ErrInvalidConfig, errors.New("base url is empty"))
	case c.Items < 2:
		return errors.Join(ErrInvalidConfig, errors.New("at least two items are required"))
	case c.Users < 1 || c.Duels < 1:
		return errors.Join(ErrInvalidConfig, errors.New("users and duels must be positive"))
	case c.Workers < 1:
		return errors.Join(ErrInvalidConfig, errors.New("workers must be positive"))
	}
	return nil
}

// Beer is a registered item together with the hidden quality that decides
// how it fares in duels.
type Beer struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Style   string  `json:"style"`
	Quality float64 `json:"quality"`
}

// Stats holds run statistics
type Stats struct {
	ItemsRegistered int           `json:"items_registered"`
	DuelsAttempted  int           `json:"duels_attempted"`
	DuelsRecorded   int           `json:"duels_recorded"`
	DuelsRejected   int           `json:"duels_rejected"`
	DuelsFailed     int           `json:"duels_failed"`
	Draws           int           `json:"draws"`
	XPAwarded       int64         `json:"xp_awarded"`
	StartTime       time.Time     `json:"start_time"`
	EndTime         time.Time     `json:"end_time"`
	Duration        time.Duration `json:"duration"`
}
