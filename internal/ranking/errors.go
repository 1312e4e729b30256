package ranking

import "errors"

// Sentinel errors.
var (
	ErrNotRanked    = errors.New("item is not in the current ranking")
	ErrInvalidLimit = errors.New("invalid leaderboard limit")
)
