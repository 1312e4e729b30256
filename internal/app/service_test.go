package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/okian/beerduel/internal/adapters/repository"
	service "github.com/okian/beerduel/internal/app"
	"github.com/okian/beerduel/internal/config"
	"github.com/okian/beerduel/internal/domain/model"
	"github.com/okian/beerduel/internal/duel"
	"github.com/okian/beerduel/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(logger.WithWriter(io.Discard)); err != nil {
		panic(err)
	}
}

func testConfig() *config.Config {
	cfg := config.New()
	cfg.WorkerCount = 2
	cfg.EventQueueSize = 100
	cfg.ClassificationIntervalMS = 0
	return cfg
}

func seed(ctx context.Context, svc *service.Service, ids ...string) {
	for _, id := range ids {
		_, err := svc.RegisterItem(ctx, model.NewItem{ID: id, Name: "Beer " + id, Style: "IPA", Active: true})
		So(err, ShouldBeNil)
	}
	// a classification pass refreshes the ranking snapshot
	_, err := svc.Classify(ctx)
	So(err, ShouldBeNil)
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		ctx := context.Background()
		svc := service.New(service.WithConfig(testConfig()))

		Convey("Then calls before Start are rejected", func() {
			_, err := svc.NextPair(ctx, "u1")
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(svc.GetStats()["started"], ShouldEqual, false)
		})

		Convey("When starting and stopping the service", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.GetStats()["started"], ShouldEqual, true)
			So(svc.Ping(ctx), ShouldBeNil)

			So(svc.Stop(ctx), ShouldBeNil)

			Convey("Then it is marked as stopped", func() {
				So(svc.GetStats()["started"], ShouldEqual, false)
				So(svc.Stop(ctx), ShouldBeNil)
			})
		})

		Convey("When the start context is cancelled with experience still queued", func() {
			store := repository.NewMemoryStore(ctx)
			defer store.Close()
			owned := service.New(service.WithConfig(testConfig()), service.WithStore(store))
			startCtx, cancel := context.WithCancel(ctx)
			So(owned.Start(startCtx), ShouldBeNil)
			for i := 0; i < 40; i++ {
				_, err := owned.EnqueueExperience(ctx, model.XPEvent{ID: fmt.Sprintf("late-%d", i), UserID: "u7", Amount: 5})
				So(err, ShouldBeNil)
			}
			cancel()

			stopCtx, stopCancel := context.WithTimeout(ctx, 5*time.Second)
			defer stopCancel()
			err := owned.Stop(stopCtx)

			Convey("Then Stop still applies every queued event", func() {
				So(err, ShouldBeNil)
				xp, err := store.GetExperience(ctx, "u7")
				So(err, ShouldBeNil)
				So(xp, ShouldEqual, 200)
			})
		})

		Convey("When the config is invalid", func() {
			cfg := testConfig()
			cfg.LegendaryShare = 0.9
			bad := service.New(service.WithConfig(cfg))

			Convey("Then Start fails", func() {
				err := bad.Start(ctx)
				So(errors.Is(err, config.ErrInvalidConfig), ShouldBeTrue)
			})
		})
	})
}

func TestService_Duels(t *testing.T) {
	Convey("Given a started service with two beers", t, func() {
		ctx := context.Background()
		svc := service.New(service.WithConfig(testConfig()))
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()
		seed(ctx, svc, "pils", "stout")

		Convey("When a user asks for a pair", func() {
			pair, err := svc.NextPair(ctx, "u1")

			Convey("Then both beers are offered", func() {
				So(err, ShouldBeNil)
				So([]string{pair.A.ItemID, pair.B.ItemID}, ShouldContain, "pils")
				So([]string{pair.A.ItemID, pair.B.ItemID}, ShouldContain, "stout")
			})
		})

		Convey("When a user records a win between equal beers", func() {
			res, err := svc.RecordOutcome(ctx, "u1", model.Outcome{ID: "o1", WinnerID: "pils", LoserID: "stout"})

			Convey("Then ratings move by sixteen and experience is awarded", func() {
				So(err, ShouldBeNil)
				So(res.WinnerRating, ShouldEqual, 1516)
				So(res.LoserRating, ShouldEqual, 1484)
				So(res.XPAwarded, ShouldEqual, 15)

				p, info, err := svc.Progress(ctx, "u1")
				So(err, ShouldBeNil)
				So(p.XP, ShouldEqual, 15)
				So(info.Level, ShouldEqual, 1)
			})

			Convey("Then the same outcome id is rejected", func() {
				_, err := svc.RecordOutcome(ctx, "u1", model.Outcome{ID: "o1", WinnerID: "pils", LoserID: "stout"})
				So(errors.Is(err, duel.ErrDuplicateOutcome), ShouldBeTrue)
			})

			Convey("Then the leaderboard reflects it after a refresh", func() {
				_, err := svc.Classify(ctx)
				So(err, ShouldBeNil)

				top, err := svc.Leaderboard(ctx, 10)
				So(err, ShouldBeNil)
				So(len(top), ShouldEqual, 2)
				So(top[0].ItemID, ShouldEqual, "pils")

				entry, err := svc.Rank(ctx, "stout")
				So(err, ShouldBeNil)
				So(entry.Rank, ShouldEqual, 2)

				r, err := svc.RarityOf(ctx, "pils")
				So(err, ShouldBeNil)
				So(r.Tier, ShouldEqual, model.TierLegendary)
				So(r.DisplayName, ShouldEqual, "Legendary")
			})
		})

		Convey("When a beer is deactivated", func() {
			So(svc.SetActive(ctx, "stout", false), ShouldBeNil)
			_, err := svc.RecordOutcome(ctx, "u1", model.Outcome{WinnerID: "pils", LoserID: "stout"})

			Convey("Then duels involving it are rejected", func() {
				So(errors.Is(err, duel.ErrInactiveItem), ShouldBeTrue)
			})
		})
	})
}

func TestService_Items(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc := service.New(service.WithConfig(testConfig()))
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		Convey("When registering an item without an id", func() {
			item, err := svc.RegisterItem(ctx, model.NewItem{Name: "  Dubbel ", Active: true})

			Convey("Then an id and the initial rating are assigned", func() {
				So(err, ShouldBeNil)
				So(item.ID, ShouldNotBeEmpty)
				So(item.Name, ShouldEqual, "Dubbel")
				So(item.Rating, ShouldEqual, 1500)

				r, err := svc.RarityOf(ctx, item.ID)
				So(err, ShouldBeNil)
				So(r.DisplayName, ShouldEqual, "Unclassified")
			})
		})

		Convey("When registering an item without a name", func() {
			_, err := svc.RegisterItem(ctx, model.NewItem{ID: "x"})
			So(errors.Is(err, service.ErrInvalidItem), ShouldBeTrue)
		})

		Convey("When registering an item with an implausible rating", func() {
			r := 9000.0
			_, err := svc.RegisterItem(ctx, model.NewItem{ID: "x", Name: "X", Rating: &r})
			So(errors.Is(err, service.ErrInvalidItem), ShouldBeTrue)
		})

		Convey("When registering an item at the minimum rating", func() {
			zero := 0.0
			item, err := svc.RegisterItem(ctx, model.NewItem{ID: "floor", Name: "Floor", Rating: &zero, Active: true})

			Convey("Then the rating is kept instead of defaulted", func() {
				So(err, ShouldBeNil)
				So(item.Rating, ShouldEqual, 0)
			})
		})

		Convey("When asking for a level", func() {
			info, err := svc.LevelOf(100)
			So(err, ShouldBeNil)
			So(info.Level, ShouldEqual, 2)
			So(info.XPIntoLevel, ShouldEqual, 0)
		})
	})
}

func TestService_Experience(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc := service.New(service.WithConfig(testConfig()))
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		Convey("When experience is enqueued", func() {
			ev, err := svc.EnqueueExperience(ctx, model.XPEvent{ID: "ev-1", UserID: "u9", Amount: 120})
			So(err, ShouldBeNil)
			So(ev.Source, ShouldEqual, "external")

			Convey("Then it is applied asynchronously", func() {
				So(eventually(func() bool {
					p, _, err := svc.Progress(ctx, "u9")
					return err == nil && p.XP == 120
				}), ShouldBeTrue)
				_, info, _ := svc.Progress(ctx, "u9")
				So(info.Level, ShouldEqual, 2)
			})

			Convey("Then the same event id is rejected", func() {
				_, err := svc.EnqueueExperience(ctx, model.XPEvent{ID: "ev-1", UserID: "u9", Amount: 120})
				So(errors.Is(err, service.ErrDuplicateEvent), ShouldBeTrue)
			})
		})

		Convey("When the event is malformed", func() {
			_, err := svc.EnqueueExperience(ctx, model.XPEvent{UserID: "u9", Amount: 0})
			So(errors.Is(err, service.ErrInvalidEvent), ShouldBeTrue)
			_, err = svc.EnqueueExperience(ctx, model.XPEvent{Amount: 5})
			So(errors.Is(err, service.ErrInvalidEvent), ShouldBeTrue)
		})
	})
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
