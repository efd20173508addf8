package errors

import (
	"errors"
	"fmt"
)

// RefreshErrorKind classifies why a token refresh failed.
type RefreshErrorKind string

const (
	KindNetwork                  RefreshErrorKind = "NetworkError"
	KindHTTP4xx                  RefreshErrorKind = "Http4xx"
	KindHTTP5xx                  RefreshErrorKind = "Http5xx"
	KindDecode                   RefreshErrorKind = "DecodeError"
	KindNoRefreshToken           RefreshErrorKind = "NoRefreshToken"
	KindMissingClientCredentials RefreshErrorKind = "MissingClientCredentials"
	KindExpired                  RefreshErrorKind = "Expired"
)

// ErrRefresh is the failure taxonomy for token refresh operations.
type ErrRefresh struct {
	Kind       RefreshErrorKind
	StatusCode int
	Body       string
	Err        error
}

func (e *ErrRefresh) Error() string {
	switch e.Kind {
	case KindHTTP4xx, KindHTTP5xx:
		return fmt.Sprintf("token refresh failed: %s status %d: %s", e.Kind, e.StatusCode, e.Body)
	case KindNetwork:
		return fmt.Sprintf("token refresh failed: %s: %v", e.Kind, e.Err)
	default:
		if e.Err != nil {
			return fmt.Sprintf("token refresh failed: %s: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("token refresh failed: %s", e.Kind)
	}
}

func (e *ErrRefresh) Unwrap() error {
	return e.Err
}

// RefreshKind extracts the taxonomy kind from an error chain, or "" when
// the error is not a refresh failure.
func RefreshKind(err error) RefreshErrorKind {
	var re *ErrRefresh
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// ErrHTTPStatus is a non-2xx reply from a quota or refresh endpoint.
type ErrHTTPStatus struct {
	StatusCode int
	Body       string
	RetryAfter int // seconds, 0 when the header was absent
}

func (e *ErrHTTPStatus) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// IsAuthStatus reports whether err is a 401 or 403 reply.
func IsAuthStatus(err error) bool {
	var se *ErrHTTPStatus
	if errors.As(err, &se) {
		return se.StatusCode == 401 || se.StatusCode == 403
	}
	return false
}

// RetryAfterSeconds returns the Retry-After value carried by a 429 reply.
func RetryAfterSeconds(err error) (int, bool) {
	var se *ErrHTTPStatus
	if errors.As(err, &se) && se.StatusCode == 429 {
		return se.RetryAfter, true
	}
	return 0, false
}

// ErrNoQuotaData means the provider answered but the reply carried nothing
// the fetcher could normalize.
type ErrNoQuotaData struct {
	Provider string
}

func (e *ErrNoQuotaData) Error() string {
	return fmt.Sprintf("no quota data from %s", e.Provider)
}
