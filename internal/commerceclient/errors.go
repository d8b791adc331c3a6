package commerceclient

import "fmt"

// AuthError means the commerce backend rejected or expired the account's
// token. Callers typically surface this as a permission-denied outcome
// rather than retrying.
type AuthError struct {
	Detail string
}

func (e *AuthError) Error() string { return fmt.Sprintf("commerceclient: auth error: %s", e.Detail) }

// RateLimitError means the backend throttled the request.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("commerceclient: rate limited, retry after %ds", e.RetryAfterSeconds)
}

// APIError is any other backend error, carrying the status code and the
// backend's own error payload verbatim for diagnostics.
type APIError struct {
	StatusCode int
	Payload    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("commerceclient: api error (status %d): %s", e.StatusCode, e.Payload)
}

// classifyStatus maps an HTTP status code and response body to one of the
// three classified error types.
func classifyStatus(statusCode int, body string) error {
	switch {
	case statusCode == 401 || statusCode == 403:
		return &AuthError{Detail: body}
	case statusCode == 429:
		return &RateLimitError{RetryAfterSeconds: 30}
	default:
		return &APIError{StatusCode: statusCode, Payload: body}
	}
}
