package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAccountKey(t *testing.T) {
	provider, local, err := ParseAccountKey("claude-alice")
	require.NoError(t, err)
	assert.Equal(t, "claude", provider)
	assert.Equal(t, "alice", local)

	provider, local, err = ParseAccountKey("codex-team-main")
	require.NoError(t, err)
	assert.Equal(t, "codex", provider)
	assert.Equal(t, "team-main", local)

	for _, bad := range []string{"", "claude", "claude-", "-alice"} {
		_, _, err := ParseAccountKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewModelQuotaDerivesPercent(t *testing.T) {
	mq := NewModelQuota("requests", 25, 100, nil)
	assert.InDelta(t, 75, mq.PercentRemaining, 0.01)
	assert.Equal(t, int64(25), *mq.Used)
	assert.Equal(t, int64(100), *mq.Limit)
	assert.Equal(t, int64(75), *mq.Remaining)
}

func TestNewModelQuotaUnknownWhenLimitMissing(t *testing.T) {
	mq := NewModelQuota("requests", 25, 0, nil)
	assert.Equal(t, PercentUnknown, mq.PercentRemaining)
	assert.Nil(t, mq.Limit)
}

func TestNewModelQuotaOverdraft(t *testing.T) {
	mq := NewModelQuota("requests", 150, 100, nil)
	assert.Equal(t, int64(0), *mq.Remaining)
	assert.InDelta(t, 0, mq.PercentRemaining, 0.01)
}

func TestSnapshotMinPercent(t *testing.T) {
	s := &QuotaSnapshot{Models: []ModelQuota{
		{Name: "a", PercentRemaining: 80},
		{Name: "b", PercentRemaining: PercentUnknown},
		{Name: "c", PercentRemaining: 12},
	}}
	assert.InDelta(t, 12, s.MinPercent(), 0.01)

	empty := &QuotaSnapshot{Models: []ModelQuota{{Name: "a", PercentRemaining: PercentUnknown}}}
	assert.Equal(t, PercentUnknown, empty.MinPercent())
}

func TestClampPercent(t *testing.T) {
	assert.Equal(t, 50.0, ClampPercent(50))
	assert.Equal(t, 100.0, ClampPercent(140))
	assert.Equal(t, PercentUnknown, ClampPercent(-3))
}

func TestTokenRemaining(t *testing.T) {
	now := time.Now()
	acc := &Account{}
	_, known := acc.TokenRemaining(now)
	assert.False(t, known)

	acc.Expiry = now.Add(10 * time.Minute)
	remaining, known := acc.TokenRemaining(now)
	assert.True(t, known)
	assert.Equal(t, 10*time.Minute, remaining)
}

func TestInCooldown(t *testing.T) {
	now := time.Now()
	acc := &Account{}
	assert.False(t, acc.InCooldown(now))
	acc.CooldownUntil = now.Add(time.Minute)
	assert.True(t, acc.InCooldown(now))
	assert.False(t, acc.InCooldown(now.Add(2*time.Minute)))
}
