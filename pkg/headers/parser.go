// Package headers parses quota-related HTTP response headers shared by
// several providers: Retry-After cooldowns and the x-ratelimit-* family.
package headers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quotio/quotiod/internal/models"
)

// RetryAfterSeconds parses a Retry-After header, accepting both the
// delta-seconds and the HTTP-date form. Returns 0 when absent or bogus.
func RetryAfterSeconds(headers http.Header) int {
	value := strings.TrimSpace(headers.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return seconds
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return int(d.Seconds())
		}
	}
	return 0
}

// RateLimit extracts request and token allowances from the
// x-ratelimit-limit/remaining pairs many providers attach to ordinary
// responses. Missing headers yield an empty slice, not an error.
func RateLimit(headers http.Header) []models.ModelQuota {
	var quotas []models.ModelQuota

	if limit := intHeader(headers, "X-Ratelimit-Limit-Requests"); limit > 0 {
		remaining := intHeader(headers, "X-Ratelimit-Remaining-Requests")
		quotas = append(quotas, models.NewModelQuota("requests", limit-remaining, limit,
			resetHeader(headers, "X-Ratelimit-Reset-Requests")))
	}
	if limit := intHeader(headers, "X-Ratelimit-Limit-Tokens"); limit > 0 {
		remaining := intHeader(headers, "X-Ratelimit-Remaining-Tokens")
		quotas = append(quotas, models.NewModelQuota("tokens", limit-remaining, limit,
			resetHeader(headers, "X-Ratelimit-Reset-Tokens")))
	}
	return quotas
}

func intHeader(headers http.Header, name string) int64 {
	value := strings.TrimSpace(headers.Get(name))
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

// resetHeader reads reset durations of the form "6m12s" or "250ms".
func resetHeader(headers http.Header, name string) *time.Time {
	value := strings.TrimSpace(headers.Get(name))
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return nil
	}
	at := time.Now().Add(d).UTC()
	return &at
}
