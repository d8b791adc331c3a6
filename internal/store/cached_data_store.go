package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentfabric/platform/internal/model"
)

// CachedDataStore fronts the commerce client's read operations with a
// TTL-bounded cache keyed by (linked_account_id, cache_key).
type CachedDataStore struct {
	db DBTX
}

// NewCachedDataStore wraps a tenant-scoped handle.
func NewCachedDataStore(db DBTX) *CachedDataStore {
	return &CachedDataStore{db: db}
}

// Get returns the cached row for (linkedAccountID, cacheKey) iff it
// exists and has not expired as of now. A miss (absent or expired) is
// reported as (nil, false, nil), never an error.
func (s *CachedDataStore) Get(ctx context.Context, linkedAccountID uuid.UUID, cacheKey string, now time.Time) (*model.CachedExternalData, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, linked_account_id, cache_key, data, cached_at, expires_at
		FROM cached_external_data
		WHERE linked_account_id = $1 AND cache_key = $2
	`, linkedAccountID, cacheKey)

	c := &model.CachedExternalData{}
	err := row.Scan(&c.ID, &c.UserID, &c.LinkedAccountID, &c.CacheKey, &c.Data, &c.CachedAt, &c.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: read cached external data: %w", err)
	}
	if c.Expired(now) {
		return nil, false, nil
	}
	return c, true, nil
}

// Put upserts a cache row with expires_at = now + ttl. Callers do not fail
// the originating read on a Put error, per §4.5.
func (s *CachedDataStore) Put(ctx context.Context, userID, linkedAccountID uuid.UUID, cacheKey string, data []byte, now time.Time, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cached_external_data
			(id, user_id, linked_account_id, cache_key, data, cached_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (linked_account_id, cache_key) DO UPDATE SET
			data = $5, cached_at = $6, expires_at = $7, user_id = $2
	`, uuid.New(), userID, linkedAccountID, cacheKey, data, now, now.Add(ttl))
	if err != nil {
		return fmt.Errorf("store: upsert cached external data: %w", err)
	}
	return nil
}
