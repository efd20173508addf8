package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotio/quotiod/internal/authstore"
	"github.com/quotio/quotiod/internal/errors"
	"github.com/quotio/quotiod/internal/httpx"
	"github.com/quotio/quotiod/internal/models"
	"github.com/quotio/quotiod/internal/refresh"
)

func newTestStore(t *testing.T, accounts map[string]string) *authstore.Store {
	t.Helper()
	store, err := authstore.New(t.TempDir())
	require.NoError(t, err)
	for key, content := range accounts {
		require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), key+".json"), []byte(content), 0o600))
	}
	return store
}

func newTestRegistry(t *testing.T, store *authstore.Store) (*Registry, *refresh.Refresher) {
	t.Helper()
	refresher := refresh.New(store, httpx.New(httpx.Options{}), 5*time.Minute)
	return NewRegistry(store, refresher, 5*time.Second, 5), refresher
}

// stubFetcher scripts a sequence of results per call.
type stubFetcher struct {
	provider models.Provider
	calls    atomic.Int64
	fn       func(call int64, acc *models.Account) (*models.QuotaSnapshot, error)
}

func (s *stubFetcher) Provider() models.Provider { return s.provider }

func (s *stubFetcher) Fetch(ctx context.Context, acc *models.Account) (*models.QuotaSnapshot, error) {
	return s.fn(s.calls.Add(1), acc)
}

func okSnapshot(percent float64) *models.QuotaSnapshot {
	return &models.QuotaSnapshot{
		Models: []models.ModelQuota{{Name: "m", PercentRemaining: percent}},
	}
}

func TestFetchAllPartialFailure(t *testing.T) {
	store := newTestStore(t, map[string]string{
		"claude-good": `{"access_token":"a"}`,
		"codex-bad":   `{"access_token":"b","account_id":"acc"}`,
	})
	reg, _ := newTestRegistry(t, store)
	reg.Register(&stubFetcher{provider: models.ProviderClaude, fn: func(_ int64, _ *models.Account) (*models.QuotaSnapshot, error) {
		return okSnapshot(80), nil
	}})
	reg.Register(&stubFetcher{provider: models.ProviderCodex, fn: func(_ int64, _ *models.Account) (*models.QuotaSnapshot, error) {
		return nil, &errors.ErrNoQuotaData{Provider: "codex"}
	}})

	result := reg.FetchAll(context.Background(), "")
	require.Len(t, result.ByKey, 1)
	assert.Contains(t, result.ByKey, "claude-good")
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "codex-bad", result.Errors[0].Key)
	assert.Equal(t, "NoQuotaData", result.Errors[0].Kind)
}

func TestFetchAllSkipsDisabledAccounts(t *testing.T) {
	store := newTestStore(t, map[string]string{
		"claude-off": `{"access_token":"a","disabled":true}`,
	})
	reg, _ := newTestRegistry(t, store)
	stub := &stubFetcher{provider: models.ProviderClaude, fn: func(_ int64, _ *models.Account) (*models.QuotaSnapshot, error) {
		return okSnapshot(50), nil
	}}
	reg.Register(stub)

	result := reg.FetchAll(context.Background(), "")
	assert.Empty(t, result.ByKey)
	assert.Empty(t, result.Errors)
	assert.Equal(t, int64(0), stub.calls.Load())
}

func TestReactiveRefreshOn401(t *testing.T) {
	var refreshCalls atomic.Int64
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "fresh", "expires_in": 3600})
	}))
	defer tokenSrv.Close()

	store := newTestStore(t, map[string]string{
		"claude-me": `{"access_token":"stale","refresh_token":"rt"}`,
	})
	reg, refresher := newTestRegistry(t, store)
	refresher.SetStrategy(models.ProviderClaude, &refresh.OAuthJSONStrategy{
		Client: httpx.New(httpx.Options{}), TokenURL: tokenSrv.URL, ClientID: "test",
	})
	reg.Register(&stubFetcher{provider: models.ProviderClaude, fn: func(call int64, acc *models.Account) (*models.QuotaSnapshot, error) {
		if acc.AccessToken != "fresh" {
			return nil, &errors.ErrHTTPStatus{StatusCode: 401, Body: "unauthorized"}
		}
		return okSnapshot(66), nil
	}})

	snapshot, err := reg.FetchAccount(context.Background(), "claude-me")
	require.NoError(t, err)
	assert.InDelta(t, 66, snapshot.Models[0].PercentRemaining, 0.01)
	assert.Equal(t, int64(1), refreshCalls.Load())
}

func TestForbiddenAfterFreshRefresh(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "fresh", "expires_in": 3600})
	}))
	defer tokenSrv.Close()

	store := newTestStore(t, map[string]string{
		"claude-banned": `{"access_token":"stale","refresh_token":"rt"}`,
	})
	reg, refresher := newTestRegistry(t, store)
	refresher.SetStrategy(models.ProviderClaude, &refresh.OAuthJSONStrategy{
		Client: httpx.New(httpx.Options{}), TokenURL: tokenSrv.URL, ClientID: "test",
	})
	stub := &stubFetcher{provider: models.ProviderClaude, fn: func(_ int64, _ *models.Account) (*models.QuotaSnapshot, error) {
		return nil, &errors.ErrHTTPStatus{StatusCode: 403, Body: "forbidden"}
	}}
	reg.Register(stub)

	_, err := reg.FetchAccount(context.Background(), "claude-banned")
	require.Error(t, err)
	assert.Equal(t, int64(2), stub.calls.Load(), "exactly one retry after the refresh")

	cached, ok := reg.Cache().Get("claude-banned")
	require.True(t, ok)
	assert.True(t, cached.IsForbidden)

	acc, err := store.Read("claude-banned")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, acc.Status)
}

func TestRetryAfterOpensCooldown(t *testing.T) {
	store := newTestStore(t, map[string]string{
		"qwen-hot": `{"access_token":"a"}`,
	})
	reg, _ := newTestRegistry(t, store)
	stub := &stubFetcher{provider: models.ProviderQwen, fn: func(call int64, _ *models.Account) (*models.QuotaSnapshot, error) {
		if call == 1 {
			return okSnapshot(42), nil
		}
		return nil, &errors.ErrHTTPStatus{StatusCode: 429, Body: "slow down", RetryAfter: 60}
	}}
	reg.Register(stub)

	// first cycle caches a snapshot
	_, err := reg.FetchAccount(context.Background(), "qwen-hot")
	require.NoError(t, err)

	// second hits 429 and returns the cached view without failing
	snapshot, err := reg.FetchAccount(context.Background(), "qwen-hot")
	require.NoError(t, err)
	assert.InDelta(t, 42, snapshot.Models[0].PercentRemaining, 0.01)

	acc, err := store.Read("qwen-hot")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCooling, acc.Status)
	assert.True(t, acc.InCooldown(time.Now()))

	// while cooling, the fetcher is not dispatched at all
	before := stub.calls.Load()
	_, err = reg.FetchAccount(context.Background(), "qwen-hot")
	require.NoError(t, err)
	assert.Equal(t, before, stub.calls.Load())
}

func TestTokenRefreshFailureSurfacesAsCycleError(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer tokenSrv.Close()

	expiry := time.Now().Add(time.Minute).UTC().Format(time.RFC3339)
	store := newTestStore(t, map[string]string{
		"claude-good":    `{"access_token":"a"}`,
		"claude-revoked": `{"access_token":"b","refresh_token":"dead","expired":"` + expiry + `"}`,
	})
	reg, refresher := newTestRegistry(t, store)
	refresher.SetStrategy(models.ProviderClaude, &refresh.OAuthJSONStrategy{
		Client: httpx.New(httpx.Options{}), TokenURL: tokenSrv.URL, ClientID: "test",
	})
	reg.Register(&stubFetcher{provider: models.ProviderClaude, fn: func(_ int64, _ *models.Account) (*models.QuotaSnapshot, error) {
		return okSnapshot(90), nil
	}})

	result := reg.FetchAll(context.Background(), "")
	require.Len(t, result.ByKey, 1)
	assert.Contains(t, result.ByKey, "claude-good")
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "claude-revoked", result.Errors[0].Key)
	assert.Equal(t, "Token Refresh Failed", result.Errors[0].Message)
}
