package commerceclient

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCacheKey_IsStableRegardlessOfArgOrder(t *testing.T) {
	accountID := uuid.New()
	a := cacheKey(accountID, "orders.list", map[string]string{"status": "open", "page": "1"})
	b := cacheKey(accountID, "orders.list", map[string]string{"page": "1", "status": "open"})
	assert.Equal(t, a, b)
}

func TestCacheKey_DiffersByOperation(t *testing.T) {
	accountID := uuid.New()
	a := cacheKey(accountID, "orders.list", map[string]string{"page": "1"})
	b := cacheKey(accountID, "orders.get", map[string]string{"page": "1"})
	assert.NotEqual(t, a, b)
}

func TestCacheKey_DiffersByAccount(t *testing.T) {
	a := cacheKey(uuid.New(), "orders.list", map[string]string{"page": "1"})
	b := cacheKey(uuid.New(), "orders.list", map[string]string{"page": "1"})
	assert.NotEqual(t, a, b)
}

func TestClassifyStatus_MapsToAuthError(t *testing.T) {
	err := classifyStatus(401, "token expired")
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestClassifyStatus_MapsToRateLimitError(t *testing.T) {
	err := classifyStatus(429, "slow down")
	var rlErr *RateLimitError
	assert.ErrorAs(t, err, &rlErr)
}

func TestClassifyStatus_MapsToAPIError(t *testing.T) {
	err := classifyStatus(500, "internal error")
	var apiErr *APIError
	assert.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.StatusCode)
}
