package types_test

import (
	"encoding/json"
	"testing"

	"github.com/okian/beerduel/internal/domain/model"
	"github.com/okian/beerduel/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestJSONShapes(t *testing.T) {
	Convey("Given a leaderboard entry", t, func() {
		e := types.Entry{Rank: 1, ItemID: "pils", Rating: 1516}

		Convey("When it is encoded", func() {
			b, err := json.Marshal(e)

			Convey("Then it uses snake_case keys", func() {
				So(err, ShouldBeNil)
				So(string(b), ShouldEqual, `{"rank":1,"item_id":"pils","rating":1516}`)
			})
		})
	})

	Convey("Given a rarity view", t, func() {
		r := types.Rarity{ItemID: "pils", Tier: model.TierEpic, DisplayName: model.TierEpic.DisplayName()}

		Convey("When it is encoded", func() {
			b, err := json.Marshal(r)

			Convey("Then the tier is a lower-case string", func() {
				So(err, ShouldBeNil)
				So(string(b), ShouldContainSubstring, `"tier":"epic"`)
				So(string(b), ShouldContainSubstring, `"display_name":"Epic"`)
			})
		})
	})
}
