// Package vault stores and retrieves external account credentials as
// ciphertext at rest. Credentials pass through two layers before they
// ever reach Postgres: a chacha20poly1305 AEAD envelope keyed off
// CREDENTIAL_ENC_KEY, then pgp_sym_encrypt/pgp_sym_decrypt over the
// sealed blob. Plaintext only ever exists transiently inside a
// tenant-scoped request: it is never logged, cached, or persisted
// outside the encrypted column.
package vault

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/agentfabric/platform/internal/model"
)

// Vault wraps a *sql.DB (already RLS-scoped by the caller via
// internal/tenant) and the symmetric key used for pgcrypto operations.
type Vault struct {
	db  *sql.DB
	key string
}

// New constructs a Vault. key must come from CREDENTIAL_ENC_KEY and is
// never logged; callers should zero the source env var reference once
// loaded if the runtime supports it.
func New(db *sql.DB, key string) *Vault {
	return &Vault{db: db, key: key}
}

// Credentials is the plaintext shape persisted encrypted per linked
// account; exact fields vary by account_type so it is kept as a generic
// map rather than a fixed struct.
type Credentials map[string]string

// Store encrypts creds with an application-layer AEAD envelope (sealed
// under CREDENTIAL_ENC_KEY), then pgp_sym_encrypt wraps that sealed blob
// a second time before it reaches Postgres, and inserts or updates the
// linked_accounts row for (userID, accountType, accountName). Must be
// called inside a transaction already bound to userID via tenant.WithTenant.
// Returns the new row id and a one-way bcrypt fingerprint of creds, safe
// to audit-log in place of the plaintext.
func (v *Vault) Store(ctx context.Context, userID uuid.UUID, accountType, accountName string, creds Credentials, scopes []string) (uuid.UUID, string, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("vault: marshal credentials: %w", err)
	}

	sealed, err := v.seal(plaintext)
	if err != nil {
		return uuid.Nil, "", err
	}

	fingerprint, err := Fingerprint(creds)
	if err != nil {
		return uuid.Nil, "", err
	}

	id := uuid.New()
	row := v.db.QueryRowContext(ctx, `
		INSERT INTO linked_accounts
			(id, user_id, account_type, account_name, encrypted_credentials, scopes, status, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, pgp_sym_encrypt($5, $6), $7, $8, now(), now())
		ON CONFLICT (user_id, account_type, account_name) DO UPDATE SET
			encrypted_credentials = pgp_sym_encrypt($5, $6),
			scopes = $7,
			status = $8,
			updated_at = now()
		RETURNING id
	`, id, userID, accountType, accountName, sealed, v.key, pq.Array(scopes), model.AccountActive)

	var returnedID uuid.UUID
	if err := row.Scan(&returnedID); err != nil {
		return uuid.Nil, "", fmt.Errorf("vault: store credentials: %w", err)
	}
	return returnedID, fingerprint, nil
}

// seal wraps plaintext in a chacha20poly1305 AEAD envelope keyed off
// CREDENTIAL_ENC_KEY, so recovering credentials from a Postgres-level
// pgcrypto key compromise alone isn't enough: the application-held key
// is still required to open the envelope.
func (v *Vault) seal(plaintext []byte) (string, error) {
	aead, err := v.cipher()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// unseal reverses seal.
func (v *Vault) unseal(encoded string) ([]byte, error) {
	aead, err := v.cipher()
	if err != nil {
		return nil, err
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("vault: decode envelope: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("vault: envelope shorter than nonce")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("vault: open envelope: %w", err)
	}
	return plaintext, nil
}

func (v *Vault) cipher() (cipher.AEAD, error) {
	key := sha256.Sum256([]byte(v.key))
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	return aead, nil
}

// Fingerprint returns a one-way bcrypt hash of creds, for audit logging
// and duplicate-submission detection without ever persisting or logging
// the plaintext. Input is reduced through sha256 first since bcrypt
// truncates at 72 bytes.
func Fingerprint(creds Credentials) (string, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("vault: marshal credentials for fingerprint: %w", err)
	}
	sum := sha256.Sum256(plaintext)
	hash, err := bcrypt.GenerateFromPassword(sum[:], bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("vault: fingerprint: %w", err)
	}
	return string(hash), nil
}

// DecryptFor loads and decrypts the credentials for a linked account,
// scoped to userID so a cross-tenant id never resolves. Must be called
// inside a transaction already bound to userID via tenant.WithTenant: RLS
// is the actual tenant boundary, this query is defense in depth.
func (v *Vault) DecryptFor(ctx context.Context, userID, linkedAccountID uuid.UUID) (Credentials, *model.LinkedAccount, error) {
	account := &model.LinkedAccount{}
	var plaintext string

	err := v.db.QueryRowContext(ctx, `
		SELECT id, user_id, account_type, account_name, scopes, status, created_at, updated_at,
		       pgp_sym_decrypt(encrypted_credentials, $3)
		FROM linked_accounts
		WHERE id = $1 AND user_id = $2
	`, linkedAccountID, userID, v.key).Scan(
		&account.ID, &account.UserID, &account.AccountType, &account.AccountName,
		pq.Array(&account.Scopes), &account.Status, &account.CreatedAt, &account.UpdatedAt,
		&plaintext,
	)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("vault: linked account %s not found for user", linkedAccountID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("vault: decrypt credentials: %w", err)
	}

	opened, err := v.unseal(plaintext)
	if err != nil {
		return nil, nil, err
	}

	var creds Credentials
	if err := json.Unmarshal(opened, &creds); err != nil {
		return nil, nil, fmt.Errorf("vault: unmarshal decrypted credentials: %w", err)
	}

	return creds, account, nil
}

// Revoke marks a linked account revoked without deleting the row, so
// audit trails referencing the account id remain resolvable.
func (v *Vault) Revoke(ctx context.Context, userID, linkedAccountID uuid.UUID) error {
	res, err := v.db.ExecContext(ctx, `
		UPDATE linked_accounts SET status = $3, updated_at = now()
		WHERE id = $1 AND user_id = $2
	`, linkedAccountID, userID, model.AccountRevoked)
	if err != nil {
		return fmt.Errorf("vault: revoke: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("vault: revoke rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("vault: linked account %s not found for user", linkedAccountID)
	}
	return nil
}

var secretLikeKey = regexp.MustCompile(`(?i)(password|secret|token|api_key|apikey|credential|auth)`)

// Redact produces a loggable copy of an arbitrary field map with any
// value whose key looks secret-bearing replaced by a fixed marker. Used
// by every component that logs request/response payloads that might
// carry vault-sourced credentials.
func Redact(fields map[string]interface{}) map[string]interface{} {
	redacted := make(map[string]interface{}, len(fields))
	for k, val := range fields {
		if secretLikeKey.MatchString(k) {
			redacted[k] = "[REDACTED]"
			continue
		}
		redacted[k] = val
	}
	return redacted
}
