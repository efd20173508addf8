package headers

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryAfterSeconds(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, 0, RetryAfterSeconds(h))

	h.Set("Retry-After", "120")
	assert.Equal(t, 120, RetryAfterSeconds(h))

	h.Set("Retry-After", time.Now().Add(90*time.Second).UTC().Format(http.TimeFormat))
	got := RetryAfterSeconds(h)
	assert.InDelta(t, 90, got, 3)

	h.Set("Retry-After", "soonish")
	assert.Equal(t, 0, RetryAfterSeconds(h))
}

func TestRateLimit(t *testing.T) {
	h := http.Header{}
	assert.Empty(t, RateLimit(h))

	h.Set("X-Ratelimit-Limit-Requests", "10000")
	h.Set("X-Ratelimit-Remaining-Requests", "9900")
	h.Set("X-Ratelimit-Reset-Requests", "6m")
	h.Set("X-Ratelimit-Limit-Tokens", "2000000")
	h.Set("X-Ratelimit-Remaining-Tokens", "1999999")

	quotas := RateLimit(h)
	require.Len(t, quotas, 2)

	assert.Equal(t, "requests", quotas[0].Name)
	assert.Equal(t, int64(10000), *quotas[0].Limit)
	assert.Equal(t, int64(9900), *quotas[0].Remaining)
	assert.InDelta(t, 99, quotas[0].PercentRemaining, 0.01)
	require.NotNil(t, quotas[0].ResetAt)

	assert.Equal(t, "tokens", quotas[1].Name)
	assert.Nil(t, quotas[1].ResetAt)
}
