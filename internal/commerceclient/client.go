// Package commerceclient is a typed client over the (opaque, out-of-scope)
// commerce backend HTTP API. Every read is cache-fronted through
// internal/store.CachedDataStore; writes are dispatched directly and are
// never retried by this layer.
package commerceclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/agentfabric/platform/internal/store"
	"github.com/agentfabric/platform/internal/vault"
)

// DefaultTimeout bounds every external call this client makes, per §5's
// per-external-call timeout.
const DefaultTimeout = 30 * time.Second

// Client is a per-tenant handle carrying (user_id, account_name). The
// plaintext token is loaded lazily on first call, inside the active
// tenant session, and reused in memory for the handle's lifetime.
type Client struct {
	userID          uuid.UUID
	linkedAccountID uuid.UUID
	accountName     string
	baseURL         string

	vault *vault.Vault
	cache *store.CachedDataStore
	ttl   time.Duration

	httpClient *http.Client

	token string
}

// New constructs a Client. Credentials are not fetched until the first
// call that needs them.
func New(userID, linkedAccountID uuid.UUID, accountName, baseURL string, v *vault.Vault, cache *store.CachedDataStore, ttl time.Duration) *Client {
	return &Client{
		userID:          userID,
		linkedAccountID: linkedAccountID,
		accountName:     accountName,
		baseURL:         baseURL,
		vault:           v,
		cache:           cache,
		ttl:             ttl,
		httpClient:      &http.Client{Timeout: DefaultTimeout},
	}
}

// ensureToken decrypts the linked account's credentials on first use and
// caches the plaintext token in memory for subsequent calls on this handle.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	if c.token != "" {
		return c.token, nil
	}
	creds, _, err := c.vault.DecryptFor(ctx, c.userID, c.linkedAccountID)
	if err != nil {
		return "", fmt.Errorf("commerceclient: load credentials: %w", err)
	}
	token, ok := creds["token"]
	if !ok || token == "" {
		return "", &AuthError{Detail: "linked account has no token"}
	}
	c.token = token
	return c.token, nil
}

// cacheKey hashes the operation name and canonicalized args, prefixed by
// the linked account id, per §4.5. db/session/tenant fields are never
// passed in args.
func cacheKey(linkedAccountID uuid.UUID, operation string, args map[string]string) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(operation))
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte("="))
		h.Write([]byte(args[k]))
		h.Write([]byte(";"))
	}
	sum := hex.EncodeToString(h.Sum(nil))
	return fmt.Sprintf("%s:%s:%s", linkedAccountID, operation, sum)
}

// Get performs a cache-fronted read. On a cache miss or expiry it calls
// the backend via doRequest, stores the response, and returns the fresh
// data. A cache write error is discarded: it does not fail the read and
// is not logged.
func (c *Client) Get(ctx context.Context, operation, path string, args map[string]string) (json.RawMessage, error) {
	key := cacheKey(c.linkedAccountID, operation, args)
	now := time.Now()

	if cached, hit, err := c.cache.Get(ctx, c.linkedAccountID, key, now); err == nil && hit {
		return cached.Data, nil
	}

	data, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Put(ctx, c.userID, c.linkedAccountID, key, data, now, c.ttl); err != nil {
		// Cache-write failures never fail the read, per §4.5.
		_ = err
	}

	return data, nil
}

// doRequest issues one HTTP call against the commerce backend, attaching
// the bearer token and classifying any non-2xx response.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) (json.RawMessage, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("commerceclient: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{StatusCode: 0, Payload: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("commerceclient: read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// UpdateProductPrice is a non-idempotent write dispatched by the action
// executor; this layer never retries it.
func (c *Client) UpdateProductPrice(ctx context.Context, productVariantID string, newPrice string) error {
	body, _ := json.Marshal(map[string]string{"variant_id": productVariantID, "price": newPrice})
	_, err := c.doRequest(ctx, http.MethodPost, "/product_variants/"+productVariantID+"/price", body)
	return err
}

// CreateDiscountCode dispatches a discount-code creation request.
func (c *Client) CreateDiscountCode(ctx context.Context, discountDetails map[string]interface{}) error {
	body, err := json.Marshal(discountDetails)
	if err != nil {
		return fmt.Errorf("commerceclient: marshal discount details: %w", err)
	}
	_, err = c.doRequest(ctx, http.MethodPost, "/discount_codes", body)
	return err
}

// AdjustInventory dispatches an inventory delta at a specific location.
func (c *Client) AdjustInventory(ctx context.Context, inventoryItemID, locationID string, delta int) error {
	body, _ := json.Marshal(map[string]interface{}{
		"inventory_item_id": inventoryItemID,
		"location_id":       locationID,
		"delta":             delta,
	})
	_, err := c.doRequest(ctx, http.MethodPost, "/inventory/adjust", body)
	return err
}
