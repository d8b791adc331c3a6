package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/agentfabric/platform/internal/model"
)

// LinkedAccountStore is thin read-only access to linked_accounts for
// callers that only need the non-credential fields (account_type,
// account_name, scopes, status) — credential decryption itself stays
// inside internal/vault.
type LinkedAccountStore struct {
	db DBTX
}

// NewLinkedAccountStore wraps a tenant-scoped handle.
func NewLinkedAccountStore(db DBTX) *LinkedAccountStore {
	return &LinkedAccountStore{db: db}
}

// Get loads a LinkedAccount by id, scoped to the bound tenant.
func (s *LinkedAccountStore) Get(ctx context.Context, id uuid.UUID) (*model.LinkedAccount, error) {
	a := &model.LinkedAccount{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, account_type, account_name, scopes, status, created_at, updated_at
		FROM linked_accounts WHERE id = $1
	`, id).Scan(&a.ID, &a.UserID, &a.AccountType, &a.AccountName, pq.Array(&a.Scopes), &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: load linked account %s: %w", id, err)
	}
	return a, nil
}
