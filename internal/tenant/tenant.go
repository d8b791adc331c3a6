// Package tenant enforces row-level security by binding every database
// transaction to a single user id for its duration. It mirrors the
// set_org_id/reset_org_id session-variable pattern, scoped to users
// instead of organizations.
package tenant

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	setTimeout   = 2 * time.Second
	resetTimeout = 1 * time.Second
)

// SetContext binds the current session (and any transaction opened on db)
// to userID by invoking the set_user_id() SQL helper. Postgres RLS
// policies read app.current_user_id via current_setting to scope every
// query issued afterward.
func SetContext(ctx context.Context, db *sql.DB, userID uuid.UUID) error {
	setCtx, cancel := context.WithTimeout(ctx, setTimeout)
	defer cancel()

	_, err := db.ExecContext(setCtx, "SELECT set_user_id($1)", userID.String())
	if err != nil {
		return fmt.Errorf("tenant: set_user_id: %w", err)
	}
	return nil
}

// ResetContext clears the session variable. Failures here are logged by
// the caller but never fatal: the connection is returned to the pool
// either way, and the next SetContext call overwrites any stale value.
func ResetContext(ctx context.Context, db *sql.DB) error {
	resetCtx, cancel := context.WithTimeout(ctx, resetTimeout)
	defer cancel()

	_, err := db.ExecContext(resetCtx, "SELECT reset_user_id()")
	if err != nil {
		return fmt.Errorf("tenant: reset_user_id: %w", err)
	}
	return nil
}

// WithTenant runs fn with the RLS session variable set to userID, always
// resetting it afterward regardless of fn's outcome. Every repository
// method that touches tenant-scoped tables must be invoked through this.
func WithTenant(ctx context.Context, db *sql.DB, userID uuid.UUID, fn func(ctx context.Context) error) error {
	if err := SetContext(ctx, db, userID); err != nil {
		return err
	}
	defer func() {
		_ = ResetContext(ctx, db)
	}()

	return fn(ctx)
}

// CurrentUserID reads back the session variable, primarily for tests and
// health checks that want to verify a SetContext call actually took.
func CurrentUserID(ctx context.Context, db *sql.DB) (uuid.UUID, error) {
	var raw string
	err := db.QueryRowContext(ctx, "SELECT current_setting('app.current_user_id', true)").Scan(&raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("tenant: read current_user_id: %w", err)
	}
	if raw == "" {
		return uuid.Nil, fmt.Errorf("tenant: no user id bound on this session")
	}
	return uuid.Parse(raw)
}

// claims is the JWT payload issued by the excluded front door. Only the
// subject (user id) is meaningful to this package.
type claims struct {
	jwt.RegisteredClaims
}

// FromJWT parses and validates an HS256 token issued by the front door,
// returning the user id carried in its subject claim. It does not touch
// the database; callers still need WithTenant to bind RLS.
func FromJWT(tokenString, signingKey string) (uuid.UUID, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("tenant: unexpected signing method %v", t.Header["alg"])
		}
		return []byte(signingKey), nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("tenant: invalid token: %w", err)
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return uuid.Nil, fmt.Errorf("tenant: invalid token claims")
	}
	if c.Subject == "" {
		return uuid.Nil, fmt.Errorf("tenant: token missing subject")
	}
	return uuid.Parse(c.Subject)
}

// RLSHealthCheck verifies that the helper functions this package depends
// on exist and that RLS is enabled on every tenant-scoped table, so a misconfigured database
// fails fast at startup instead of silently leaking cross-tenant rows.
type RLSHealthCheck struct {
	HelperFunctionsOK bool
	TablesWithRLS     []string
	MissingRLSTables  []string
}

var tenantScopedTables = []string{
	"linked_accounts",
	"analysis_requests",
	"agent_tasks",
	"proposed_actions",
	"cached_external_data",
	"user_preferences",
}

// CheckRLSHealth inspects pg_proc and pg_class to confirm the
// set_user_id/reset_user_id/get_current_user_id helpers exist and that
// row-level security is enabled on each tenant-scoped table; it does not
// check which policies are defined. Intended to run once at process startup.
func CheckRLSHealth(ctx context.Context, db *sql.DB) (*RLSHealthCheck, error) {
	result := &RLSHealthCheck{}

	var fnCount int
	err := db.QueryRowContext(ctx, `
		SELECT count(*) FROM pg_proc
		WHERE proname IN ('set_user_id', 'reset_user_id', 'get_current_user_id')
	`).Scan(&fnCount)
	if err != nil {
		return nil, fmt.Errorf("tenant: check helper functions: %w", err)
	}
	result.HelperFunctionsOK = fnCount == 3

	for _, table := range tenantScopedTables {
		var enabled bool
		err := db.QueryRowContext(ctx, `
			SELECT relrowsecurity FROM pg_class WHERE relname = $1
		`, table).Scan(&enabled)
		if err != nil {
			result.MissingRLSTables = append(result.MissingRLSTables, table)
			continue
		}
		if enabled {
			result.TablesWithRLS = append(result.TablesWithRLS, table)
		} else {
			result.MissingRLSTables = append(result.MissingRLSTables, table)
		}
	}

	return result, nil
}

// Healthy reports whether every tenant-scoped table has RLS enabled and
// the session-variable helper functions are installed.
func (h *RLSHealthCheck) Healthy() bool {
	return h.HelperFunctionsOK && len(h.MissingRLSTables) == 0
}
