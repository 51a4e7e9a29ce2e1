package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Davide9292/v-try.app-sub001/internal/domain"
)

// UsageStore tracks per-(owner, UTC day, kind) daily counters.
type UsageStore interface {
	// TryConsume atomically increments the counter when it is below limit.
	// Returns (used, true) after a successful consume, (used, false) when
	// the limit is already reached. The check-and-increment is one SQL
	// statement, race-free under concurrent calls for the same key.
	TryConsume(ctx context.Context, ownerID string, day time.Time, kind domain.Kind, limit int) (int, bool, error)

	// Used returns the current counter, 0 when no row exists yet.
	Used(ctx context.Context, ownerID string, day time.Time, kind domain.Kind) (int, error)
}

type usageStore struct {
	pool *pgxpool.Pool
}

// NewUsageStore wraps a pgxpool with the UsageStore interface.
func NewUsageStore(pool *pgxpool.Pool) UsageStore {
	return &usageStore{pool: pool}
}

func (s *usageStore) TryConsume(ctx context.Context, ownerID string, day time.Time, kind domain.Kind, limit int) (int, bool, error) {
	if limit <= 0 {
		return 0, false, nil
	}
	// A new key starts at 1 via the INSERT arm; an existing key increments
	// only while below the limit. No row returned means the counter is full.
	row := s.pool.QueryRow(ctx, `
		INSERT INTO daily_usage (owner_id, day, kind, used)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (owner_id, day, kind) DO UPDATE
		SET used = daily_usage.used + 1
		WHERE daily_usage.used < $4
		RETURNING used
	`, ownerID, day.UTC().Format("2006-01-02"), string(kind), limit)

	var used int
	if err := row.Scan(&used); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			current, cerr := s.Used(ctx, ownerID, day, kind)
			if cerr != nil {
				return 0, false, cerr
			}
			return current, false, nil
		}
		return 0, false, fmt.Errorf("consume quota for %s/%s: %w", ownerID, kind, err)
	}
	return used, true, nil
}

func (s *usageStore) Used(ctx context.Context, ownerID string, day time.Time, kind domain.Kind) (int, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT used FROM daily_usage
		WHERE owner_id = $1 AND day = $2 AND kind = $3
	`, ownerID, day.UTC().Format("2006-01-02"), string(kind))

	var used int
	if err := row.Scan(&used); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("read quota for %s/%s: %w", ownerID, kind, err)
	}
	return used, nil
}
