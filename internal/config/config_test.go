package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/okian/beerduel/internal/config"
	"github.com/okian/beerduel/internal/domain/level"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.StoreBackend, convey.ShouldEqual, config.BackendMemory)
			convey.So(cfg.EventQueueSize, convey.ShouldEqual, 10_000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU()*2)
			convey.So(cfg.KFactor, convey.ShouldEqual, 32)
			convey.So(cfg.Shares().Legendary, convey.ShouldEqual, 0.05)
			convey.So(cfg.Levels, convey.ShouldResemble, level.DefaultThresholds())
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		dir := t.TempDir()
		t.Setenv("BEERDUEL_ENV_FILE", filepath.Join(dir, "missing.env"))

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.MaxRetries, convey.ShouldEqual, 3)
				convey.So(config.Millis(cfg.StoreTimeoutMS).Seconds(), convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			t.Setenv("BEERDUEL_ADDR", ":8080")
			t.Setenv("BEERDUEL_QUEUE_SIZE", "500")
			t.Setenv("BEERDUEL_K_FACTOR", "24")
			t.Setenv("BEERDUEL_MIN_PER_TIER", "false")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.EventQueueSize, convey.ShouldEqual, 500)
				convey.So(cfg.KFactor, convey.ShouldEqual, 24)
				convey.So(cfg.MinPerTier, convey.ShouldBeFalse)
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			path := writeFile(t, dir, "config.yaml", `
addr: ":9090"
legendary_share: 0.1
epic_share: 0.2
rare_share: 0.3
k_schedule:
  - min_duels: 0
    k: 40
  - min_duels: 30
    k: 16
levels:
  - min_xp: 0
    level: 1
    title: Sipper
  - min_xp: 50
    level: 2
    title: Regular
`)
			t.Setenv("BEERDUEL_CONFIG", path)
			t.Setenv("BEERDUEL_ADDR", ":7070")

			cfg, err := config.Load(ctx)

			convey.Convey("Then file values apply and env still wins", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.Shares().Rare, convey.ShouldEqual, 0.3)
				convey.So(len(cfg.KSchedule), convey.ShouldEqual, 2)
				convey.So(cfg.KSchedule[1].K, convey.ShouldEqual, 16)
				convey.So(cfg.Levels[1].Title, convey.ShouldEqual, "Regular")

				u, err := cfg.Updater()
				convey.So(err, convey.ShouldBeNil)
				convey.So(u.KFor(40), convey.ShouldEqual, 16)
			})
		})

		convey.Convey("When a .env file is present", func() {
			envPath := writeFile(t, dir, "test.env", "BEERDUEL_HISTORY_SIZE=7\n")
			t.Setenv("BEERDUEL_ENV_FILE", envPath)

			cfg, err := config.Load(ctx)

			convey.Convey("Then its variables are applied", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.HistorySize, convey.ShouldEqual, 7)
			})
		})

		convey.Convey("When the config file is missing", func() {
			t.Setenv("BEERDUEL_CONFIG", filepath.Join(dir, "nope.yaml"))
			_, err := config.Load(ctx)

			convey.Convey("Then a load error is returned", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When shares exceed one", func() {
			t.Setenv("BEERDUEL_RARE_SHARE", "0.9")
			_, err := config.Load(ctx)

			convey.Convey("Then the config is rejected", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When postgres is selected without a URL", func() {
			t.Setenv("BEERDUEL_STORE_BACKEND", "postgres")
			_, err := config.Load(ctx)

			convey.Convey("Then the config is rejected", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the rating bounds are inverted", func() {
			t.Setenv("BEERDUEL_MIN_RATING", "3000")
			t.Setenv("BEERDUEL_MAX_RATING", "100")
			_, err := config.Load(ctx)

			convey.Convey("Then the config is rejected", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// clearConfigEnvVars drops variables left by earlier branches, including
// those a .env file injected.
func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		if name, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(name, "BEERDUEL_") {
			_ = os.Unsetenv(name)
		}
	}
}
