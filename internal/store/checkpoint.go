package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// checkpointEnvelope is the jsonb document stored in agent_state; the
// orchestrator's own State is serialized under the "checkpoint" key so
// the column can later carry sibling metadata without a migration.
type checkpointEnvelope struct {
	Checkpoint json.RawMessage `json:"checkpoint"`
}

// Checkpointer persists and resumes the orchestrator's State for a given
// AnalysisRequest (the thread_id of §4.8).
type Checkpointer struct {
	db DBTX
}

// NewCheckpointer wraps a tenant-scoped handle.
func NewCheckpointer(db DBTX) *Checkpointer {
	return &Checkpointer{db: db}
}

// Get resumes an in-flight request, returning (nil, false, nil) if no
// snapshot exists yet (a fresh request) and an error only on a genuine
// read or unmarshal failure. A corrupted snapshot is reported via the
// returned error so the caller can fall back to a fresh plan re-invocation,
// per §4.8's "corrupted snapshots surface as a plan re-invocation".
func (c *Checkpointer) Get(ctx context.Context, threadID uuid.UUID) (json.RawMessage, bool, error) {
	var raw []byte
	err := c.db.QueryRowContext(ctx, `
		SELECT agent_state FROM analysis_requests WHERE id = $1
	`, threadID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, fmt.Errorf("checkpointer: analysis request %s not found for tenant", threadID)
	}
	if err != nil {
		return nil, false, fmt.Errorf("checkpointer: read agent_state: %w", err)
	}
	if len(raw) == 0 {
		return nil, false, nil
	}

	var env checkpointEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false, fmt.Errorf("checkpointer: corrupted snapshot for %s: %w", threadID, err)
	}
	if len(env.Checkpoint) == 0 {
		return nil, false, nil
	}
	return env.Checkpoint, true, nil
}

// Put atomically overwrites the stored snapshot for threadID.
func (c *Checkpointer) Put(ctx context.Context, threadID uuid.UUID, checkpoint json.RawMessage) error {
	env := checkpointEnvelope{Checkpoint: checkpoint}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("checkpointer: marshal envelope: %w", err)
	}

	res, err := c.db.ExecContext(ctx, `
		UPDATE analysis_requests SET agent_state = $2, updated_at = now() WHERE id = $1
	`, threadID, raw)
	if err != nil {
		return fmt.Errorf("checkpointer: write agent_state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checkpointer: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("checkpointer: analysis request %s not found for tenant", threadID)
	}
	return nil
}
