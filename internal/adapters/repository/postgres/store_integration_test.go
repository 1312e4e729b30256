package postgres_test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/okian/beerduel/internal/adapters/repository"
	"github.com/okian/beerduel/internal/adapters/repository/postgres"
	"github.com/okian/beerduel/internal/database"
	"github.com/okian/beerduel/internal/domain/model"
	"github.com/okian/beerduel/pkg/logger"
)

var testDSN string

func TestMain(m *testing.M) {
	flag.Parse()
	_ = logger.Init(logger.WithWriter(io.Discard))

	var terminate func()
	if !testing.Short() {
		testDSN, terminate = setupContainer(context.Background())
	}

	code := m.Run()
	if terminate != nil {
		terminate()
	}
	os.Exit(code)
}

func setupContainer(ctx context.Context) (string, func()) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("Recovered from panic in setupContainer: %v\n", r)
		}
	}()

	c, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("beerduel"),
		tcpostgres.WithUsername("beerduel"),
		tcpostgres.WithPassword("beerduel"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		fmt.Printf("WARNING: Failed to start postgres container: %v\n", err)
		return "", func() {}
	}

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Printf("WARNING: Failed to get connection string: %v\n", err)
		_ = c.Terminate(ctx)
		return "", func() {}
	}
	return dsn, func() {
		if err := c.Terminate(ctx); err != nil {
			fmt.Printf("Failed to terminate container: %v\n", err)
		}
	}
}

var migrateOnce sync.Once

func newStore(t *testing.T) *postgres.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if testDSN == "" {
		t.Skip("Skipping integration test: database not available")
	}

	ctx := context.Background()
	pool, err := database.NewPool(ctx, database.PoolConfig{DSN: testDSN, MaxConns: 10})
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	var migErr error
	migrateOnce.Do(func() { migErr = database.Migrate(ctx, pool) })
	if migErr != nil {
		t.Fatalf("failed to migrate: %v", migErr)
	}
	s := postgres.New(pool)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_ItemsAndDuels(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	prefix := fmt.Sprintf("dl-%d-", time.Now().UnixNano())
	a, b := prefix+"a", prefix+"b"

	for _, id := range []string{a, b} {
		if _, err := s.CreateItem(ctx, model.Item{ID: id, Name: id, Rating: 1500, Active: true}); err != nil {
			t.Fatalf("create item: %v", err)
		}
	}
	if _, err := s.CreateItem(ctx, model.Item{ID: a, Name: a, Rating: 1500}); !errors.Is(err, repository.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	recs, err := s.GetRatings(ctx, a, b)
	if err != nil {
		t.Fatalf("get ratings: %v", err)
	}
	w := repository.DuelWrite{
		Duel: model.DuelRecord{
			Outcome:      model.Outcome{ID: prefix + "d1", UserID: prefix + "u", WinnerID: a, LoserID: b},
			WinnerBefore: 1500, WinnerAfter: 1516, LoserBefore: 1500, LoserAfter: 1484,
		},
		Updates: [2]repository.RatingUpdate{
			{ItemID: a, Rating: 1516, ExpectedDuels: recs[a].Duels},
			{ItemID: b, Rating: 1484, ExpectedDuels: recs[b].Duels},
		},
	}
	if err := s.ApplyDuel(ctx, w); err != nil {
		t.Fatalf("apply duel: %v", err)
	}

	// replaying the same versions must conflict and change nothing
	w.Duel.ID = prefix + "d2"
	if err := s.ApplyDuel(ctx, w); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// a replayed outcome id is rejected even with current versions
	w.Duel.ID = prefix + "d1"
	w.Updates[0].ExpectedDuels, w.Updates[1].ExpectedDuels = recs[a].Duels+1, recs[b].Duels+1
	if err := s.ApplyDuel(ctx, w); !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	after, _ := s.GetRatings(ctx, a, b)
	if after[a].Rating != 1516 || after[b].Rating != 1484 || after[a].Duels != 1 {
		t.Fatalf("unexpected ratings after duel: %+v", after)
	}

	rated, err := s.RatedItems(ctx, prefix+"u")
	if err != nil || len(rated) != 2 {
		t.Fatalf("expected two rated items, got %v (%v)", rated, err)
	}

	if err := s.SetRarityTiers(ctx, map[string]model.RarityTier{a: model.TierLegendary, b: model.TierEpic}); err != nil {
		t.Fatalf("set tiers: %v", err)
	}
	item, _ := s.GetItem(ctx, a)
	if item.Rarity != model.TierLegendary {
		t.Fatalf("expected legendary, got %q", item.Rarity)
	}

	if err := s.SetActive(ctx, b, false); err != nil {
		t.Fatalf("set active: %v", err)
	}
	scored, err := s.ScanActiveItems(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	for _, sc := range scored {
		if sc.ItemID == b {
			t.Fatalf("inactive item returned by scan")
		}
	}
}

func TestStore_Experience(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	user := fmt.Sprintf("user-%d", time.Now().UnixNano())

	for i := 1; i <= 3; i++ {
		total, err := s.AddExperience(ctx, model.XPEvent{ID: fmt.Sprintf("%s-%d", user, i), UserID: user, Amount: 25, Source: "duel"})
		if err != nil {
			t.Fatalf("add experience: %v", err)
		}
		if total != int64(25*i) {
			t.Fatalf("expected total %d, got %d", 25*i, total)
		}
	}

	if _, err := s.AddExperience(ctx, model.XPEvent{ID: user + "-2", UserID: user, Amount: 25, Source: "duel"}); !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	xp, err := s.GetExperience(ctx, user)
	if err != nil || xp != 75 {
		t.Fatalf("expected 75 xp, got %d (%v)", xp, err)
	}

	events, err := s.RecentXPEvents(ctx, user, 2)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(events) != 2 || events[0].Total != 75 {
		t.Fatalf("unexpected events %+v", events)
	}
}
