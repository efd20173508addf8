package authstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/quotio/quotiod/internal/errors"
	"github.com/quotio/quotiod/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func writeFile(t *testing.T, s *Store, key, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), key+".json"), []byte(content), 0o600))
}

func TestListFiltersByProvider(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, s, "claude-alice", `{"access_token":"a","email":"alice@example.com"}`)
	writeFile(t, s, "codex-bob", `{"access_token":"b","email":"bob@example.com"}`)
	writeFile(t, s, "gemini-carol", `{"access_token":"c"}`)

	all, err := s.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	claude, err := s.List("claude")
	require.NoError(t, err)
	require.Len(t, claude, 1)
	assert.Equal(t, "claude-alice", claude[0].Key)
	assert.Equal(t, models.ProviderClaude, claude[0].Provider)
	assert.Equal(t, "alice@example.com", claude[0].Email)
}

func TestListSkipsUnknownAndMalformed(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, s, "claude-alice", `{"access_token":"a"}`)
	writeFile(t, s, "mystery-x", `{"access_token":"b"}`)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("hi"), 0o600))
	writeFile(t, s, "codex-broken", `{"access_token":`)

	all, err := s.List("")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "claude-alice", all[0].Key)
}

func TestReadNestedTokenObject(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, s, "antigravity-dev", `{
		"type": "antigravity",
		"email": "dev@example.com",
		"token": {
			"access_token": "ya29.abc",
			"refresh_token": "1//rt",
			"client_id": "cid",
			"client_secret": "cs",
			"expiry": "2026-03-01T10:00:00Z"
		}
	}`)

	acc, err := s.Read("antigravity-dev")
	require.NoError(t, err)
	assert.Equal(t, "ya29.abc", acc.AccessToken)
	assert.Equal(t, "1//rt", acc.RefreshToken)
	assert.Equal(t, "cid", acc.ClientID)
	assert.Equal(t, 2026, acc.Expiry.Year())
}

func TestReadNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Read("claude-missing")
	var notFound *errors.ErrAccountNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestWritePreservesUnknownKeys(t *testing.T) {
	s := newTestStore(t)
	original := `{"access_token":"a","custom_vendor_blob":{"weird":[1,2,3]},"checksum":"zz"}`
	writeFile(t, s, "qwen-me", original)

	require.NoError(t, s.SetDisabled("qwen-me", true))

	raw, err := os.ReadFile(filepath.Join(s.Dir(), "qwen-me.json"))
	require.NoError(t, err)
	assert.True(t, gjson.GetBytes(raw, "disabled").Bool())
	assert.Equal(t, "zz", gjson.GetBytes(raw, "checksum").String())
	assert.Equal(t, int64(2), gjson.GetBytes(raw, "custom_vendor_blob.weird.1").Int())
	assert.Equal(t, "a", gjson.GetBytes(raw, "access_token").String())
}

func TestWriteIdentityRoundTrip(t *testing.T) {
	s := newTestStore(t)
	original := `{"access_token":"a","expires_in":3600,"nested":{"keep":"me"}}`
	writeFile(t, s, "iflow-x", original)

	require.NoError(t, s.Write("iflow-x", func(raw []byte) ([]byte, error) {
		return raw, nil
	}))

	raw, err := os.ReadFile(filepath.Join(s.Dir(), "iflow-x.json"))
	require.NoError(t, err)
	assert.JSONEq(t, original, string(raw))
}

func TestWriteRejectsInvalidResult(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, s, "glm-x", `{"access_token":"a"}`)

	err := s.Write("glm-x", func(raw []byte) ([]byte, error) {
		return []byte(`{"truncated":`), nil
	})
	var ioErr *errors.ErrIO
	require.ErrorAs(t, err, &ioErr)

	// original file is intact
	raw, err := os.ReadFile(filepath.Join(s.Dir(), "glm-x.json"))
	require.NoError(t, err)
	assert.Equal(t, "a", gjson.GetBytes(raw, "access_token").String())
}

func TestSaveTokensUpdatesBothLayouts(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, s, "gemini-dev", `{
		"access_token": "old",
		"token": {"access_token": "old", "refresh_token": "keep", "expiry": "2025-01-01T00:00:00Z"}
	}`)

	expiry := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveTokens("gemini-dev", "new-token", "", expiry, now))

	raw, err := os.ReadFile(filepath.Join(s.Dir(), "gemini-dev.json"))
	require.NoError(t, err)
	assert.Equal(t, "new-token", gjson.GetBytes(raw, "access_token").String())
	assert.Equal(t, "new-token", gjson.GetBytes(raw, "token.access_token").String())
	assert.Equal(t, "keep", gjson.GetBytes(raw, "token.refresh_token").String())
	assert.Contains(t, gjson.GetBytes(raw, "expired").String(), "2026-08-01T12:00:00")
	assert.Contains(t, gjson.GetBytes(raw, "token.expiry").String(), "2026-08-01T12:00:00")
	assert.NotEmpty(t, gjson.GetBytes(raw, "last_refresh").String())

	acc, err := s.Read("gemini-dev")
	require.NoError(t, err)
	assert.Equal(t, "new-token", acc.AccessToken)
	assert.Equal(t, expiry, acc.Expiry.UTC())
}

func TestConcurrentWritesSameFile(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, s, "claude-race", `{"counter":0}`)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Write("claude-race", func(raw []byte) ([]byte, error) {
				n := gjson.GetBytes(raw, "counter").Int()
				return []byte(`{"counter":` + jsonInt(n+1) + `}`), nil
			})
		}()
	}
	wg.Wait()

	raw, err := os.ReadFile(filepath.Join(s.Dir(), "claude-race.json"))
	require.NoError(t, err)
	assert.Equal(t, int64(20), gjson.GetBytes(raw, "counter").Int())
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestDeleteAndDeleteAll(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, s, "claude-a", `{"access_token":"a"}`)
	writeFile(t, s, "codex-b", `{"access_token":"b"}`)

	require.NoError(t, s.Delete("claude-a"))
	_, err := s.Read("claude-a")
	assert.Error(t, err)

	n, err := s.DeleteAll()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRuntimeStatusAndCooldown(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, s, "warp-w", `{"access_token":"a"}`)

	s.SetStatus("warp-w", models.StatusError, "refresh failed")
	acc, err := s.Read("warp-w")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, acc.Status)
	assert.Equal(t, "refresh failed", acc.LastError)

	s.SetCooldown("warp-w", time.Now().Add(time.Minute))
	acc, err = s.Read("warp-w")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCooling, acc.Status)
	assert.True(t, acc.InCooldown(time.Now()))
}
