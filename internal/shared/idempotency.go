package shared

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// defaultDedupWindow bounds how long a key blocks duplicate submits when
// the caller gives no window. It matches the cleanup job's retention.
const defaultDedupWindow = 24 * time.Hour

// IdempotencyStore keeps one row per submitted key. A key reserved inside
// the dedup window rejects duplicates; once the window passes, a resubmit
// takes the key over and a new invoice may be created under it.
type IdempotencyStore struct {
	pool   *pgxpool.Pool
	window time.Duration
}

// NewIdempotencyStore constructs the store. A non-positive window falls
// back to the default 24h.
func NewIdempotencyStore(pool *pgxpool.Pool, window time.Duration) *IdempotencyStore {
	if window <= 0 {
		window = defaultDedupWindow
	}
	return &IdempotencyStore{pool: pool, window: window}
}

// ErrIdempotencyConflict indicates a duplicate key inside the dedup window.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// Reserve claims key for scope. An existing reservation older than the
// window is taken over; a live one returns ErrIdempotencyConflict.
func (s *IdempotencyStore) Reserve(ctx context.Context, key, scope string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	if scope == "" {
		return errors.New("idempotency scope required")
	}
	now := time.Now()
	tag, err := s.pool.Exec(ctx, `INSERT INTO idempotency_keys (key, scope, entity_id, created_at)
VALUES ($1, $2, NULL, $3)
ON CONFLICT (key) DO UPDATE SET scope = $2, entity_id = NULL, created_at = $3
WHERE idempotency_keys.created_at < $4`,
		key, scope, now, now.Add(-s.window))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}

// Bind records the entity a reservation produced, so a later duplicate can
// be traced back to the original invoice.
func (s *IdempotencyStore) Bind(ctx context.Context, key string, entityID uuid.UUID) error {
	if s == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE idempotency_keys SET entity_id = $2 WHERE key = $1`, key, entityID)
	return err
}

// Release frees a reservation whose processing failed.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if s == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key)
	return err
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil {
		return nil
	}
	cutoff := time.Now().Add(-olderThan)
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	return err
}
