package refresh

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/quotio/quotiod/internal/authstore"
	"github.com/quotio/quotiod/internal/errors"
	"github.com/quotio/quotiod/internal/httpx"
	"github.com/quotio/quotiod/internal/models"
)

func newStoreWithAccount(t *testing.T, key, content string) *authstore.Store {
	t.Helper()
	store, err := authstore.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), key+".json"), []byte(content), 0o600))
	return store
}

func tokenServer(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh-token",
			"refresh_token": "rotated-rt",
			"expires_in":    3600,
		})
	}))
}

func TestProactiveRefreshWhenInsideBuffer(t *testing.T) {
	var calls atomic.Int64
	srv := tokenServer(t, &calls)
	defer srv.Close()

	// token expires in one minute, buffer is five
	expiry := time.Now().Add(time.Minute).UTC().Format(time.RFC3339)
	store := newStoreWithAccount(t, "claude-me",
		`{"access_token":"stale","refresh_token":"rt","expired":"`+expiry+`"}`)

	r := New(store, httpx.New(httpx.Options{}), 5*time.Minute)
	r.SetStrategy(models.ProviderClaude, &OAuthJSONStrategy{
		Client: httpx.New(httpx.Options{}), TokenURL: srv.URL, ClientID: "test",
	})

	token, err := r.ValidToken(context.Background(), "claude-me")
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)
	assert.Equal(t, int64(1), calls.Load())

	raw, err := os.ReadFile(filepath.Join(store.Dir(), "claude-me.json"))
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", gjson.GetBytes(raw, "access_token").String())
	assert.Equal(t, "rotated-rt", gjson.GetBytes(raw, "refresh_token").String())
	assert.NotEmpty(t, gjson.GetBytes(raw, "last_refresh").String())
}

func TestNoRefreshWhenTokenStillFresh(t *testing.T) {
	var calls atomic.Int64
	srv := tokenServer(t, &calls)
	defer srv.Close()

	expiry := time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339)
	store := newStoreWithAccount(t, "claude-me",
		`{"access_token":"current","refresh_token":"rt","expired":"`+expiry+`"}`)

	r := New(store, httpx.New(httpx.Options{}), 5*time.Minute)
	r.SetStrategy(models.ProviderClaude, &OAuthJSONStrategy{
		Client: httpx.New(httpx.Options{}), TokenURL: srv.URL, ClientID: "test",
	})

	token, err := r.ValidToken(context.Background(), "claude-me")
	require.NoError(t, err)
	assert.Equal(t, "current", token)
	assert.Equal(t, int64(0), calls.Load())
}

func TestOverlappingRefreshesShareOneExchange(t *testing.T) {
	var calls atomic.Int64
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "fresh", "expires_in": 3600})
	}))
	defer srv.Close()

	expiry := time.Now().Add(time.Minute).UTC().Format(time.RFC3339)
	store := newStoreWithAccount(t, "qwen-me",
		`{"access_token":"stale","refresh_token":"rt","expired":"`+expiry+`"}`)

	r := New(store, httpx.New(httpx.Options{}), 5*time.Minute)
	r.SetStrategy(models.ProviderQwen, &OAuthFormStrategy{
		Client: httpx.New(httpx.Options{}), TokenURL: srv.URL, ClientID: "test",
	})

	var wg sync.WaitGroup
	results := make([]string, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := r.ValidToken(context.Background(), "qwen-me")
			require.NoError(t, err)
			results[i] = token
		}(i)
	}
	// let both goroutines reach the refresher before the server responds
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, "fresh", results[0])
	assert.Equal(t, "fresh", results[1])
}

func TestFailedRefreshSetsErrorStatusAndStampsRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	store := newStoreWithAccount(t, "iflow-me", `{"access_token":"stale","refresh_token":"revoked"}`)

	r := New(store, httpx.New(httpx.Options{}), 5*time.Minute)
	r.SetStrategy(models.ProviderIFlow, &OAuthFormStrategy{
		Client: httpx.New(httpx.Options{}), TokenURL: srv.URL, ClientID: "test",
	})

	_, err := r.Refresh(context.Background(), "iflow-me")
	require.Error(t, err)
	assert.Equal(t, errors.KindHTTP4xx, errors.RefreshKind(err))

	acc, err := store.Read("iflow-me")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, acc.Status)
	assert.NotEmpty(t, acc.LastError)
	assert.False(t, acc.LastRefreshAt.IsZero())
	// the old token survives a failed refresh
	assert.Equal(t, "stale", acc.AccessToken)
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	store := newStoreWithAccount(t, "claude-me", `{"access_token":"only"}`)
	r := New(store, httpx.New(httpx.Options{}), 5*time.Minute)

	_, err := r.Refresh(context.Background(), "claude-me")
	require.Error(t, err)
	assert.Equal(t, errors.KindNoRefreshToken, errors.RefreshKind(err))
}

func TestAPIKeyAccountsNeverExpire(t *testing.T) {
	store := newStoreWithAccount(t, "apikey-prod", `{"access_token":"sk-live"}`)
	r := New(store, httpx.New(httpx.Options{}), 5*time.Minute)

	token, err := r.ValidToken(context.Background(), "apikey-prod")
	require.NoError(t, err)
	assert.Equal(t, "sk-live", token)
}
