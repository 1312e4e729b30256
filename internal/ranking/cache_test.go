package ranking_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/beerduel/internal/domain/model"
	"github.com/okian/beerduel/internal/ranking"
	"github.com/okian/beerduel/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeSource struct {
	mu    sync.Mutex
	items []model.Scored
	fail  bool
	scans atomic.Int64
	gate  chan struct{}
}

func (f *fakeSource) ScanActiveItems(ctx context.Context) ([]model.Scored, error) {
	f.scans.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("store unavailable")
	}
	return append([]model.Scored(nil), f.items...), nil
}

func (f *fakeSource) set(items []model.Scored, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items, f.fail = items, fail
}

func TestCache(t *testing.T) {
	_ = logger.Init(logger.WithWriter(io.Discard))
	ctx := context.Background()

	Convey("Given a cache over a population with a tie", t, func() {
		src := &fakeSource{items: []model.Scored{
			{ItemID: "stout", Rating: 1600},
			{ItemID: "ipa", Rating: 1550},
			{ItemID: "lager", Rating: 1550},
			{ItemID: "sour", Rating: 1400},
		}}
		c := ranking.New(src)

		Convey("When nothing has been built yet", func() {
			So(c.Peek(), ShouldBeNil)

			snap, err := c.Current(ctx)

			Convey("Then the first snapshot is built on demand", func() {
				So(err, ShouldBeNil)
				So(snap.Len(), ShouldEqual, 4)
				So(snap.Version(), ShouldEqual, 1)
				So(c.Peek(), ShouldEqual, snap)
			})
		})

		Convey("When ranks are read", func() {
			snap, err := c.Refresh(ctx)
			So(err, ShouldBeNil)

			Convey("Then equal ratings share a rank", func() {
				ipa, err := snap.Rank("ipa")
				So(err, ShouldBeNil)
				lager, _ := snap.Rank("lager")
				sour, _ := snap.Rank("sour")
				So(ipa.Rank, ShouldEqual, 2)
				So(lager.Rank, ShouldEqual, 2)
				So(sour.Rank, ShouldEqual, 3)

				_, err = snap.Rank("porter")
				So(err, ShouldEqual, ranking.ErrNotRanked)
			})

			Convey("Then TopN is bounded by the population", func() {
				top, err := snap.TopN(2)
				So(err, ShouldBeNil)
				So(len(top), ShouldEqual, 2)
				So(top[0].ItemID, ShouldEqual, "stout")

				all, _ := snap.TopN(100)
				So(len(all), ShouldEqual, 4)

				_, err = snap.TopN(0)
				So(err, ShouldEqual, ranking.ErrInvalidLimit)
			})

			Convey("Then the published snapshot is not affected by later changes", func() {
				src.set([]model.Scored{{ItemID: "new", Rating: 2000}}, false)
				next, err := c.Refresh(ctx)
				So(err, ShouldBeNil)
				So(next.Len(), ShouldEqual, 1)
				So(snap.Len(), ShouldEqual, 4)
				So(snap.Scored()[0].ItemID, ShouldEqual, "stout")
			})
		})

		Convey("When a refresh fails", func() {
			first, err := c.Refresh(ctx)
			So(err, ShouldBeNil)
			src.set(nil, true)

			_, err = c.Refresh(ctx)

			Convey("Then the previous snapshot stays current", func() {
				So(err, ShouldNotBeNil)
				cur, err := c.Current(ctx)
				So(err, ShouldBeNil)
				So(cur, ShouldEqual, first)
			})
		})
	})

	Convey("Given concurrent refresh requests", t, func() {
		src := &fakeSource{items: []model.Scored{{ItemID: "a", Rating: 1500}}, gate: make(chan struct{})}
		c := ranking.New(src)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = c.Refresh(ctx)
			}()
		}
		time.Sleep(50 * time.Millisecond)
		close(src.gate)
		wg.Wait()

		Convey("Then they collapse into one scan", func() {
			So(src.scans.Load(), ShouldEqual, 1)
		})
	})

	Convey("Given a running cache that invalidates after two duels", t, func() {
		src := &fakeSource{items: []model.Scored{{ItemID: "a", Rating: 1500}}}
		c := ranking.New(src, ranking.WithRefreshInterval(time.Hour), ranking.WithInvalidateAfter(2))
		_, err := c.Refresh(ctx)
		So(err, ShouldBeNil)

		runCtx, cancel := context.WithCancel(ctx)
		c.Start(runCtx)
		defer func() {
			cancel()
			c.Stop()
		}()

		src.set([]model.Scored{{ItemID: "a", Rating: 1516}, {ItemID: "b", Rating: 1484}}, false)

		Convey("When one duel is recorded", func() {
			c.NotifyDuel()
			time.Sleep(50 * time.Millisecond)

			Convey("Then the snapshot is unchanged", func() {
				So(c.Peek().Len(), ShouldEqual, 1)
			})
		})

		Convey("When the threshold is reached", func() {
			c.NotifyDuel()
			c.NotifyDuel()

			Convey("Then a new snapshot is published", func() {
				deadline := time.Now().Add(2 * time.Second)
				for c.Peek().Len() != 2 && time.Now().Before(deadline) {
					time.Sleep(5 * time.Millisecond)
				}
				So(c.Peek().Len(), ShouldEqual, 2)
				So(c.Peek().Version(), ShouldEqual, 2)
			})
		})

		Convey("When the refresh at the threshold fails", func() {
			src.set(nil, true)
			scans := src.scans.Load()
			c.NotifyDuel()
			c.NotifyDuel()
			deadline := time.Now().Add(2 * time.Second)
			for src.scans.Load() == scans && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			time.Sleep(20 * time.Millisecond)
			So(c.Peek().Len(), ShouldEqual, 1)

			src.set([]model.Scored{{ItemID: "a", Rating: 1516}, {ItemID: "b", Rating: 1484}}, false)
			c.NotifyDuel()

			Convey("Then the next duel past the threshold retries the refresh", func() {
				deadline := time.Now().Add(2 * time.Second)
				for c.Peek().Len() != 2 && time.Now().Before(deadline) {
					time.Sleep(5 * time.Millisecond)
				}
				So(c.Peek().Len(), ShouldEqual, 2)
			})
		})
	})
}
