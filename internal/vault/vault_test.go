package vault

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedact_MasksSecretLikeKeys(t *testing.T) {
	in := map[string]interface{}{
		"account_name":  "acme-prod",
		"api_key":       "sk-abc123",
		"password":      "hunter2",
		"auth_token":    "bearer xyz",
		"request_count": 7,
	}

	out := Redact(in)

	assert.Equal(t, "acme-prod", out["account_name"])
	assert.Equal(t, 7, out["request_count"])
	assert.Equal(t, "[REDACTED]", out["api_key"])
	assert.Equal(t, "[REDACTED]", out["password"])
	assert.Equal(t, "[REDACTED]", out["auth_token"])
}

func TestStore_InsertsEncryptedRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	userID := uuid.New()
	newID := uuid.New()

	mock.ExpectQuery("INSERT INTO linked_accounts").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(newID.String()))

	v := New(db, "test-key")
	id, fingerprint, err := v.Store(context.Background(), userID, "amazon", "primary", Credentials{"token": "abc"}, []string{"orders:read"})

	require.NoError(t, err)
	assert.Equal(t, newID, id)
	assert.NotEmpty(t, fingerprint)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSealUnseal_RoundTrips(t *testing.T) {
	v := New(nil, "test-key")

	sealed, err := v.seal([]byte(`{"token":"abc"}`))
	require.NoError(t, err)

	opened, err := v.unseal(sealed)
	require.NoError(t, err)
	assert.Equal(t, `{"token":"abc"}`, string(opened))
}

func TestUnseal_WrongKeyFails(t *testing.T) {
	v1 := New(nil, "key-one")
	v2 := New(nil, "key-two")

	sealed, err := v1.seal([]byte("secret"))
	require.NoError(t, err)

	_, err = v2.unseal(sealed)
	assert.Error(t, err)
}

func TestDecryptFor_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	userID := uuid.New()
	accountID := uuid.New()

	mock.ExpectQuery("SELECT").WillReturnError(sql.ErrNoRows)

	v := New(db, "test-key")
	_, _, err = v.DecryptFor(context.Background(), userID, accountID)
	assert.Error(t, err)
}
