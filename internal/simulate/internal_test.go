package simulate

import (
	"math/rand/v2"
	"testing"

	"github.com/okian/beerduel/internal/domain/model"
	"github.com/okian/beerduel/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestGenerator(t *testing.T) {
	Convey("Given the same seed", t, func() {
		a := generateBeers(20, 42)
		b := generateBeers(20, 42)

		Convey("Then the catalogue is identical", func() {
			So(a, ShouldResemble, b)
			So(a[0].Name, ShouldEndWith, "#1")
		})
	})

	Convey("Given a large quality gap", t, func() {
		rng := rand.New(rand.NewPCG(1, 1))
		wins := 0
		for range 1000 {
			winner, _, draw := judge(rng, "good", "bad", 9, 1)
			if !draw && winner == "good" {
				wins++
			}
		}

		Convey("Then the better beer wins almost every decided duel", func() {
			So(wins, ShouldBeGreaterThan, 850)
		})
	})
}

func TestQualityCorrelation(t *testing.T) {
	beers := []Beer{{ID: "a", Quality: 9}, {ID: "b", Quality: 5}, {ID: "c", Quality: 1}}

	Convey("Given a leaderboard in quality order", t, func() {
		entries := []types.Entry{{Rank: 1, ItemID: "a"}, {Rank: 2, ItemID: "b"}, {Rank: 3, ItemID: "c"}}
		So(qualityCorrelation(beers, entries), ShouldAlmostEqual, 1.0)
	})

	Convey("Given a reversed leaderboard", t, func() {
		entries := []types.Entry{{Rank: 1, ItemID: "c"}, {Rank: 2, ItemID: "b"}, {Rank: 3, ItemID: "a"}}
		So(qualityCorrelation(beers, entries), ShouldAlmostEqual, -1.0)
	})

	Convey("Given fewer than two simulated beers on the board", t, func() {
		entries := []types.Entry{{Rank: 1, ItemID: "a"}, {Rank: 2, ItemID: "foreign"}}
		So(qualityCorrelation(beers, entries), ShouldEqual, 0)
	})
}

func TestChecks(t *testing.T) {
	Convey("Given a leaderboard with a gap in ranks", t, func() {
		c := checkOrder([]types.Entry{{Rank: 1, Rating: 1600}, {Rank: 3, Rating: 1500}})
		So(c.Passed, ShouldBeFalse)
	})

	Convey("Given a leaderboard rising in rating", t, func() {
		c := checkOrder([]types.Entry{{Rank: 1, Rating: 1500}, {Rank: 2, Rating: 1600}})
		So(c.Passed, ShouldBeFalse)
	})

	Convey("Given rating sums that drift", t, func() {
		before := board{entries: []types.Entry{{Rating: 1500}, {Rating: 1500}}, population: 2, complete: true}
		after := board{entries: []types.Entry{{Rating: 1520}, {Rating: 1490}}, population: 2, complete: true}
		So(checkConservation(before, after, 1).Passed, ShouldBeFalse)
	})

	Convey("Given a partial leaderboard", t, func() {
		partial := board{population: 200}
		c := checkConservation(partial, partial, 10)
		So(c.Passed, ShouldBeTrue)
		So(c.Skipped, ShouldBeTrue)
	})

	Convey("Given tier counts that miss an item", t, func() {
		res := ClassifyResponse{Population: 3, Counts: map[model.RarityTier]int{model.TierLegendary: 1, model.TierCommon: 1}}
		So(checkPopulation(res, board{population: 3}).Passed, ShouldBeFalse)
	})

	Convey("Given a failed duel", t, func() {
		c := checkFailures(Stats{DuelsAttempted: 5, DuelsRecorded: 4, DuelsFailed: 1})
		So(c.Passed, ShouldBeFalse)
		So(c.Detail, ShouldEqual, "1 of 5 duels failed")
	})
}
