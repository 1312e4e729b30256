package simulate_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okian/beerduel/internal/adapters/http/api"
	service "github.com/okian/beerduel/internal/app"
	"github.com/okian/beerduel/internal/config"
	"github.com/okian/beerduel/internal/simulate"
	"github.com/okian/beerduel/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(logger.WithWriter(io.Discard)); err != nil {
		panic(err)
	}
}

func startServer(ctx context.Context) (*httptest.Server, func()) {
	cfg := config.New()
	cfg.WorkerCount = 2
	cfg.EventQueueSize = 100
	cfg.ClassificationIntervalMS = 0

	svc := service.New(service.WithConfig(cfg))
	So(svc.Start(ctx), ShouldBeNil)

	r := chi.NewRouter()
	api.NewServer(svc, cfg.MaxLeaderboardLimit).Register(r)
	srv := httptest.NewServer(r)
	return srv, func() {
		srv.Close()
		So(svc.Stop(context.Background()), ShouldBeNil)
	}
}

func TestRun(t *testing.T) {
	Convey("Given a running beerduel server", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv, stop := startServer(ctx)
		defer stop()

		out := filepath.Join(t.TempDir(), "reports", "sim.json")
		cfg := &simulate.Config{
			BaseURL:    srv.URL,
			Items:      8,
			Users:      4,
			Duels:      15,
			Workers:    4,
			TopN:       3,
			Seed:       7,
			Timeout:    5 * time.Second,
			OutputFile: out,
		}

		Convey("When a simulation runs", func() {
			report, err := simulate.Run(ctx, cfg)

			Convey("Then every duel is recorded and every check passes", func() {
				So(err, ShouldBeNil)
				So(report.Stats.ItemsRegistered, ShouldEqual, 8)
				So(report.Stats.DuelsAttempted, ShouldEqual, 60)
				So(report.Stats.DuelsRecorded, ShouldEqual, 60)
				So(report.Stats.DuelsFailed, ShouldEqual, 0)
				So(report.Stats.XPAwarded, ShouldBeGreaterThan, 0)
				So(report.Classification.Population, ShouldEqual, 8)
				So(report.Failed(), ShouldBeEmpty)
				So(len(report.Checks), ShouldEqual, 7)
			})

			Convey("Then the report is written as JSON", func() {
				So(err, ShouldBeNil)
				data, err := os.ReadFile(out)
				So(err, ShouldBeNil)

				var saved map[string]any
				So(json.Unmarshal(data, &saved), ShouldBeNil)
				So(saved["run_id"], ShouldEqual, report.RunID)
				So(saved["beers"], ShouldHaveLength, 8)
			})
		})

		Convey("When a second run shares the server", func() {
			_, err := simulate.Run(ctx, cfg)
			So(err, ShouldBeNil)
			report, err := simulate.Run(ctx, cfg)

			Convey("Then its users start from zero XP and checks still pass", func() {
				So(err, ShouldBeNil)
				So(report.Classification.Population, ShouldEqual, 16)
				So(report.Failed(), ShouldBeEmpty)
			})
		})
	})
}

func TestRunFailures(t *testing.T) {
	Convey("Given an invalid config", t, func() {
		_, err := simulate.Run(context.Background(), &simulate.Config{BaseURL: "http://localhost", Items: 1, Users: 1, Duels: 1, Workers: 1})

		Convey("Then the run is refused", func() {
			So(errors.Is(err, simulate.ErrInvalidConfig), ShouldBeTrue)
		})
	})

	Convey("Given an unhealthy server", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := simulate.Run(context.Background(), &simulate.Config{
			BaseURL: srv.URL, Items: 4, Users: 1, Duels: 1, Workers: 1, Timeout: time.Second,
		})

		Convey("Then the health check error is returned", func() {
			var se *simulate.StatusError
			So(errors.As(err, &se), ShouldBeTrue)
			So(se.Status, ShouldEqual, http.StatusServiceUnavailable)
		})
	})
}

func TestClient(t *testing.T) {
	Convey("Given a server that rejects an outcome", t, func() {
		contentType := make(chan string, 1)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			contentType <- r.Header.Get("Content-Type")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"code":"duplicate_outcome","message":"outcome already applied"}`))
		}))
		defer srv.Close()

		client := simulate.NewClient(srv.URL, time.Second)
		_, err := client.RecordOutcome(context.Background(), "o-1", "u-1", "a", "b", false)

		Convey("Then the status error carries the server's code", func() {
			var se *simulate.StatusError
			So(errors.As(err, &se), ShouldBeTrue)
			So(se.Status, ShouldEqual, http.StatusConflict)
			So(se.Code, ShouldEqual, "duplicate_outcome")
			So(se.Error(), ShouldContainSubstring, "outcome already applied")
			So(<-contentType, ShouldEqual, "application/json")
		})
	})
}
