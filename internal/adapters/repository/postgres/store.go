// Package postgres implements repository.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/beerduel/internal/adapters/repository"
	"github.com/okian/beerduel/internal/domain/model"
	"github.com/okian/beerduel/pkg/metrics"
)

const uniqueViolation = "23505"

// Store is a PostgreSQL-backed repository.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ repository.Store = (*Store)(nil)

// New wraps an open pool. The pool is owned by the Store and closed by Close.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func observe(op string, start time.Time, err *error) {
	metrics.RecordStoreLatency(op, float64(time.Since(start).Microseconds())/1000)
	if *err != nil {
		metrics.RecordStoreError(op)
	}
}

// inTx runs fn in a transaction, rolling back unless fn succeeds.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			metrics.RecordStoreError("rollback")
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const itemColumns = `id, name, producer, style, rating, duels, rarity, active, created_at, updated_at`

func scanItem(row pgx.Row) (model.Item, error) {
	var it model.Item
	var rarity string
	err := row.Scan(&it.ID, &it.Name, &it.Producer, &it.Style, &it.Rating, &it.Duels, &rarity, &it.Active, &it.CreatedAt, &it.UpdatedAt)
	it.Rarity = model.RarityTier(rarity)
	return it, err
}

// CreateItem implements repository.ItemStore.
func (s *Store) CreateItem(ctx context.Context, item model.Item) (out model.Item, err error) {
	defer observe("create_item", time.Now(), &err)

	row := s.pool.QueryRow(ctx, `
		INSERT INTO items (id, name, producer, style, rating, duels, rarity, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+itemColumns,
		item.ID, item.Name, item.Producer, item.Style, item.Rating, item.Duels, string(item.Rarity), item.Active)
	out, err = scanItem(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return model.Item{}, fmt.Errorf("%w: %s", repository.ErrAlreadyExists, item.ID)
		}
		return model.Item{}, fmt.Errorf("insert item: %w", err)
	}
	return out, nil
}

// GetItem implements repository.ItemStore.
func (s *Store) GetItem(ctx context.Context, id string) (model.Item, error) {
	it, err := scanItem(s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Item{}, fmt.Errorf("%w: %s", repository.ErrNotFound, id)
	}
	if err != nil {
		return model.Item{}, fmt.Errorf("get item: %w", err)
	}
	return it, nil
}

// SetActive implements repository.ItemStore.
func (s *Store) SetActive(ctx context.Context, id string, active bool) (err error) {
	defer observe("set_active", time.Now(), &err)

	tag, err := s.pool.Exec(ctx, `UPDATE items SET active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", repository.ErrNotFound, id)
	}
	return nil
}

// GetRatings implements repository.RatingStore.
func (s *Store) GetRatings(ctx context.Context, ids ...string) (map[string]model.RatingRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, rating, duels, active FROM items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get ratings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.RatingRecord, len(ids))
	for rows.Next() {
		var r model.RatingRecord
		if err := rows.Scan(&r.ItemID, &r.Rating, &r.Duels, &r.Active); err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		out[r.ItemID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get ratings: %w", err)
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("%w: %s", repository.ErrNotFound, id)
		}
	}
	return out, nil
}

// ApplyDuel implements repository.RatingStore. Rows are locked in id order
// so concurrent duels sharing an item cannot deadlock.
func (s *Store) ApplyDuel(ctx context.Context, w repository.DuelWrite) (err error) {
	defer observe("apply_duel", time.Now(), &err)

	updates := w.Updates
	sort.Slice(updates[:], func(i, j int) bool { return updates[i].ItemID < updates[j].ItemID })

	err = s.inTx(ctx, func(tx pgx.Tx) error {
		var applied bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM duels WHERE id = $1)`, w.Duel.ID).Scan(&applied); err != nil {
			return fmt.Errorf("check outcome: %w", err)
		}
		if applied {
			return fmt.Errorf("%w: outcome %s", repository.ErrDuplicate, w.Duel.ID)
		}
		for _, u := range updates {
			var duels int
			err := tx.QueryRow(ctx, `SELECT duels FROM items WHERE id = $1 FOR UPDATE`, u.ItemID).Scan(&duels)
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", repository.ErrNotFound, u.ItemID)
			}
			if err != nil {
				return fmt.Errorf("lock item: %w", err)
			}
			if duels != u.ExpectedDuels {
				return fmt.Errorf("%w: %s at %d duels, expected %d", repository.ErrConflict, u.ItemID, duels, u.ExpectedDuels)
			}
		}

		batch := &pgx.Batch{}
		for _, u := range updates {
			batch.Queue(`UPDATE items SET rating = $2, duels = duels + 1, updated_at = now() WHERE id = $1`, u.ItemID, u.Rating)
		}
		d := w.Duel
		at := d.At
		if at.IsZero() {
			at = time.Now().UTC()
		}
		batch.Queue(`
			INSERT INTO duels (id, user_id, winner_id, loser_id, draw, winner_before, winner_after, loser_before, loser_after, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			d.ID, d.UserID, d.WinnerID, d.LoserID, d.Draw, d.WinnerBefore, d.WinnerAfter, d.LoserBefore, d.LoserAfter, at)

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("apply duel: %w", err)
		}
		return nil
	})
	// a concurrent insert of the same outcome id loses on the primary key
	if isUniqueViolation(err, "duels_pkey") {
		return fmt.Errorf("%w: outcome %s", repository.ErrDuplicate, w.Duel.ID)
	}
	return err
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == constraint
}

// ScanActiveItems implements repository.RatingStore.
func (s *Store) ScanActiveItems(ctx context.Context) (out []model.Scored, err error) {
	defer observe("scan_active", time.Now(), &err)

	rows, err := s.pool.Query(ctx, `SELECT id, rating FROM items WHERE active ORDER BY rating DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("scan active items: %w", err)
	}
	out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Scored, error) {
		var sc model.Scored
		err := row.Scan(&sc.ItemID, &sc.Rating)
		return sc, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan active items: %w", err)
	}
	return out, nil
}

// RatedItems implements repository.RatingStore.
func (s *Store) RatedItems(ctx context.Context, userID string) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT winner_id FROM duels WHERE user_id = $1
		UNION
		SELECT loser_id FROM duels WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("rated items: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("rated items: %w", err)
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// SetRarityTiers implements repository.TierStore as one transaction: clear,
// then apply the new mapping.
func (s *Store) SetRarityTiers(ctx context.Context, tiers map[string]model.RarityTier) (err error) {
	defer observe("set_tiers", time.Now(), &err)

	ids := make([]string, 0, len(tiers))
	names := make([]string, 0, len(tiers))
	for id, t := range tiers {
		ids = append(ids, id)
		names = append(names, string(t))
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE items SET rarity = '' WHERE rarity <> '' AND NOT (id = ANY($1))`, ids); err != nil {
			return fmt.Errorf("clear tiers: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE items SET rarity = m.tier, updated_at = now()
			FROM unnest($1::text[], $2::text[]) AS m(id, tier)
			WHERE items.id = m.id AND items.rarity <> m.tier`, ids, names); err != nil {
			return fmt.Errorf("set tiers: %w", err)
		}
		return nil
	})
}

// GetExperience implements repository.ProgressStore.
func (s *Store) GetExperience(ctx context.Context, userID string) (int64, error) {
	var xp int64
	err := s.pool.QueryRow(ctx, `SELECT xp FROM user_progress WHERE user_id = $1`, userID).Scan(&xp)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get experience: %w", err)
	}
	return xp, nil
}

// AddExperience implements repository.ProgressStore.
func (s *Store) AddExperience(ctx context.Context, ev model.XPEvent) (total int64, err error) {
	defer observe("add_experience", time.Now(), &err)
	if ev.Amount <= 0 {
		return 0, repository.ErrInvalidAmount
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	err = s.inTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO user_progress (user_id, xp) VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE SET xp = user_progress.xp + EXCLUDED.xp, updated_at = now()
			RETURNING xp`, ev.UserID, ev.Amount).Scan(&total); err != nil {
			return fmt.Errorf("add experience: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO xp_events (id, user_id, amount, source, ref, total, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			ev.ID, ev.UserID, ev.Amount, ev.Source, ev.Ref, total, ev.At); err != nil {
			return fmt.Errorf("log experience event: %w", err)
		}
		return nil
	})
	if isUniqueViolation(err, "xp_events_pkey") {
		return 0, fmt.Errorf("%w: experience event %s", repository.ErrDuplicate, ev.ID)
	}
	if err != nil {
		return 0, err
	}
	return total, nil
}

// RecentXPEvents implements repository.ProgressStore.
func (s *Store) RecentXPEvents(ctx context.Context, userID string, limit int) ([]model.XPEvent, error) {
	if limit < 1 {
		return nil, repository.ErrInvalidLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, amount, source, ref, total, occurred_at
		FROM xp_events WHERE user_id = $1
		ORDER BY occurred_at DESC, total DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent xp events: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.XPEvent, error) {
		var ev model.XPEvent
		err := row.Scan(&ev.ID, &ev.UserID, &ev.Amount, &ev.Source, &ev.Ref, &ev.Total, &ev.At)
		return ev, err
	})
	if err != nil {
		return nil, fmt.Errorf("recent xp events: %w", err)
	}
	return out, nil
}
