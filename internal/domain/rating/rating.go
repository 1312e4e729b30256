// Package rating implements the pairwise comparative (Elo) rating update
// applied after every duel.
package rating

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/okian/beerduel/internal/domain/model"
)

// Default rating configuration constants.
const (
	DefaultInitialRating = 1500.0
	DefaultKFactor       = 32.0
	DefaultMinRating     = 0.0
	DefaultMaxRating     = 3000.0

	eloScale = 400.0
)

// Sentinel errors.
var (
	ErrInvalidRating   = errors.New("rating is not a finite value inside the configured range")
	ErrInvalidKFactor  = errors.New("k-factor must be positive and finite")
	ErrInvalidBounds   = errors.New("min rating must be less than max rating")
	ErrInvalidSchedule = errors.New("k schedule steps must have increasing min duels")
	ErrInvalidResult   = errors.New("unknown duel result")
)

// Result is the outcome of a duel from A's point of view.
type Result int

// Duel results.
const (
	AWins Result = iota + 1
	BWins
	Draw
)

// score returns A's actual score S_A.
func (r Result) score() (float64, error) {
	switch r {
	case AWins:
		return 1, nil
	case BWins:
		return 0, nil
	case Draw:
		return 0.5, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidResult, int(r))
	}
}

func (r Result) String() string {
	switch r {
	case AWins:
		return "a_wins"
	case BWins:
		return "b_wins"
	case Draw:
		return "draw"
	default:
		return "unknown"
	}
}

// Competitor is one side of a duel.
type Competitor struct {
	Rating float64
	Duels  int
}

// Change is the outcome of applying one duel to two competitors.
type Change struct {
	A, B      float64 // new ratings
	Delta     float64 // rating moved from B to A (negative when A lost points)
	ExpectedA float64
	K         float64
}

// KStep damps the K-factor once an item has played at least MinDuels duels.
type KStep struct {
	MinDuels int     `koanf:"min_duels"`
	K        float64 `koanf:"k"`
}

// Option applies a configuration option to the Updater.
type Option func(*Updater)

// WithKFactor sets the constant K used when no schedule step applies.
func WithKFactor(k float64) Option {
	return func(u *Updater) {
		u.k = k
	}
}

// WithBounds sets the plausible rating range.
func WithBounds(lo, hi float64) Option {
	return func(u *Updater) {
		u.min, u.max = lo, hi
	}
}

// WithSchedule sets the K damping schedule.
func WithSchedule(steps []KStep) Option {
	return func(u *Updater) {
		u.schedule = append([]KStep(nil), steps...)
	}
}

// Updater applies duel outcomes. It holds configuration only and is safe for
// concurrent use.
type Updater struct {
	k        float64
	min, max float64
	schedule []KStep
}

// NewUpdater validates the configuration and builds an Updater.
func NewUpdater(opts ...Option) (*Updater, error) {
	u := &Updater{
		k:   DefaultKFactor,
		min: DefaultMinRating,
		max: DefaultMaxRating,
	}
	for _, opt := range opts {
		opt(u)
	}

	if !validK(u.k) {
		return nil, ErrInvalidKFactor
	}
	if !(u.min < u.max) || math.IsInf(u.min, 0) || math.IsInf(u.max, 0) {
		return nil, ErrInvalidBounds
	}
	sort.SliceStable(u.schedule, func(i, j int) bool { return u.schedule[i].MinDuels < u.schedule[j].MinDuels })
	for i, step := range u.schedule {
		if !validK(step.K) || step.MinDuels < 0 {
			return nil, fmt.Errorf("%w: step %d", ErrInvalidSchedule, i)
		}
		if i > 0 && step.MinDuels == u.schedule[i-1].MinDuels {
			return nil, fmt.Errorf("%w: duplicate min_duels %d", ErrInvalidSchedule, step.MinDuels)
		}
	}
	return u, nil
}

func validK(k float64) bool {
	return k > 0 && !math.IsInf(k, 0) && !math.IsNaN(k)
}

// Expected returns E_A, the expected score of a rated ra against rb.
// The result is strictly inside (0, 1) for ratings inside the configured range.
func Expected(ra, rb float64) float64 {
	return 1 / (1 + math.Pow(10, (rb-ra)/eloScale))
}

// KFor returns the K-factor for an item with the given duel count: the last
// schedule step whose MinDuels is reached, or the constant K.
func (u *Updater) KFor(duels int) float64 {
	k := u.k
	for _, step := range u.schedule {
		if duels < step.MinDuels {
			break
		}
		k = step.K
	}
	return k
}

// Validate reports whether r is an acceptable rating input.
func (u *Updater) Validate(r float64) error {
	if math.IsNaN(r) || math.IsInf(r, 0) || r < u.min || r > u.max {
		return fmt.Errorf("%w: %v", ErrInvalidRating, r)
	}
	return nil
}

// Update applies one duel. Both sides use the same K (the mean of their
// scheduled K values) and one shared delta, so A's gain is exactly B's loss.
// The delta is clamped so neither rating leaves the configured range.
func (u *Updater) Update(a, b Competitor, result Result) (Change, error) {
	if err := u.Validate(a.Rating); err != nil {
		return Change{}, err
	}
	if err := u.Validate(b.Rating); err != nil {
		return Change{}, err
	}
	sa, err := result.score()
	if err != nil {
		return Change{}, err
	}

	ea := Expected(a.Rating, b.Rating)
	k := (u.KFor(a.Duels) + u.KFor(b.Duels)) / 2
	d := k * (sa - ea)

	// A moves by +d and B by -d.
	hi := math.Min(u.max-a.Rating, b.Rating-u.min)
	lo := math.Max(u.min-a.Rating, b.Rating-u.max)
	d = math.Max(lo, math.Min(hi, d))

	return Change{
		A:         a.Rating + d,
		B:         b.Rating - d,
		Delta:     d,
		ExpectedA: ea,
		K:         k,
	}, nil
}

// ResultFromOutcome maps an outcome onto A = winner, B = loser.
func ResultFromOutcome(o model.Outcome) Result {
	if o.Draw {
		return Draw
	}
	return AWins
}
