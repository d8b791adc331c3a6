package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentfabric/platform/internal/model"
)

// PreferencesStore is thin CRUD over the one-to-one user_preferences
// table, read by the orchestrator before every planner/aggregator LLM
// call so a user's per-role model overrides take effect (§3).
type PreferencesStore struct {
	db DBTX
}

// NewPreferencesStore wraps a tenant-scoped handle.
func NewPreferencesStore(db DBTX) *PreferencesStore {
	return &PreferencesStore{db: db}
}

// Get loads userID's preferences, returning (nil, nil) if the user has
// never set any — callers fall back to server defaults for every role
// via model.UserPreferences.ResolveModel's nil-receiver handling.
func (s *PreferencesStore) Get(ctx context.Context, userID uuid.UUID) (*model.UserPreferences, error) {
	p := &model.UserPreferences{UserID: userID}
	var planner, aggregator, tool, creative sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT planner, aggregator, tool, creative, updated_at
		FROM user_preferences WHERE user_id = $1
	`, userID).Scan(&planner, &aggregator, &tool, &creative, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load user preferences: %w", err)
	}

	if planner.Valid {
		p.Planner = &planner.String
	}
	if aggregator.Valid {
		p.Aggregator = &aggregator.String
	}
	if tool.Valid {
		p.Tool = &tool.String
	}
	if creative.Valid {
		p.Creative = &creative.String
	}
	return p, nil
}

// Upsert writes userID's preferred model ids, creating the row on first
// use. A nil field clears that role's override.
func (s *PreferencesStore) Upsert(ctx context.Context, userID uuid.UUID, planner, aggregator, tool, creative *string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, planner, aggregator, tool, creative, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (user_id) DO UPDATE SET
			planner = $2, aggregator = $3, tool = $4, creative = $5, updated_at = now()
	`, userID, planner, aggregator, tool, creative)
	if err != nil {
		return fmt.Errorf("store: upsert user preferences: %w", err)
	}
	return nil
}
