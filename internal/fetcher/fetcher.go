// Package fetcher turns accounts into normalized quota snapshots, one
// fetcher per provider. The registry owns the snapshot cache, applies
// reactive token refresh on 401/403, honors Retry-After cooldowns, and
// fans fetches out across accounts with per-provider concurrency caps.
package fetcher

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/quotio/quotiod/internal/authstore"
	"github.com/quotio/quotiod/internal/errors"
	"github.com/quotio/quotiod/internal/httpx"
	"github.com/quotio/quotiod/internal/models"
	"github.com/quotio/quotiod/internal/refresh"
)

// Fetcher is the per-provider quota retriever.
type Fetcher interface {
	Provider() models.Provider
	// Fetch must be a pure network/decode operation: the registry handles
	// token validity, retries and caching around it.
	Fetch(ctx context.Context, acc *models.Account) (*models.QuotaSnapshot, error)
}

// FetchError is one account's failure inside an otherwise successful cycle.
type FetchError struct {
	Key      string `json:"key"`
	Provider string `json:"provider"`
	Kind     string `json:"kind"`
	Message  string `json:"error"`
}

// Result is the outcome of one fetch_all cycle. A partial failure of one
// account never aborts the others.
type Result struct {
	ByKey  map[string]*models.QuotaSnapshot `json:"by_key"`
	Errors []FetchError                     `json:"errors,omitempty"`
}

// Registry wires fetchers to the store, the refresher and the cache.
type Registry struct {
	store     *authstore.Store
	refresher *refresh.Refresher
	cache     *Cache

	mu          sync.RWMutex
	fetchers    map[models.Provider]Fetcher
	concurrency map[models.Provider]int

	timeout        time.Duration
	defaultWorkers int
}

// NewRegistry builds an empty registry; call RegisterDefaults (or
// Register) before fetching.
func NewRegistry(store *authstore.Store, refresher *refresh.Refresher, timeout time.Duration, workers int) *Registry {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if workers <= 0 {
		workers = 5
	}
	return &Registry{
		store:          store,
		refresher:      refresher,
		cache:          NewCache(),
		fetchers:       make(map[models.Provider]Fetcher),
		concurrency:    make(map[models.Provider]int),
		timeout:        timeout,
		defaultWorkers: workers,
	}
}

// RegisterDefaults installs every built-in provider fetcher.
func (r *Registry) RegisterDefaults(client *httpx.Client) {
	r.Register(&CodexFetcher{Client: client})
	r.Register(&ClaudeFetcher{Client: client})
	r.Register(&AntigravityFetcher{Client: client})
	r.Register(&GeminiFetcher{Client: client})
	r.Register(&QwenFetcher{Client: client})
	r.Register(&IFlowFetcher{Client: client})
	r.Register(&CopilotFetcher{Client: client})
	r.Register(&WarpFetcher{Client: client})
	r.Register(&GLMFetcher{Client: client})
	r.Register(NewCLIFetcher(models.ProviderKimi, "kimi", nil))
}

// Register installs (or replaces) one fetcher.
func (r *Registry) Register(f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[f.Provider()] = f
}

// SetConcurrency overrides the per-provider worker cap.
func (r *Registry) SetConcurrency(p models.Provider, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.concurrency[p] = n
}

// Cache exposes the snapshot cache for quota.list.
func (r *Registry) Cache() *Cache {
	return r.cache
}

func (r *Registry) fetcherFor(p models.Provider) (Fetcher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fetchers[p]
	return f, ok
}

func (r *Registry) workersFor(p models.Provider) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n, ok := r.concurrency[p]; ok && n > 0 {
		return n
	}
	return r.defaultWorkers
}

// FetchAccount runs one account through its fetcher, applying the
// reactive refresh rule: on 401/403 it refreshes exactly once and retries
// exactly once. On 429 it opens a cooldown and returns the cached
// snapshot instead of failing.
func (r *Registry) FetchAccount(ctx context.Context, key string) (*models.QuotaSnapshot, error) {
	acc, err := r.store.Read(key)
	if err != nil {
		return nil, err
	}
	fetcher, ok := r.fetcherFor(acc.Provider)
	if !ok {
		return nil, &errors.ErrProviderNotFound{Provider: string(acc.Provider)}
	}

	if acc.InCooldown(time.Now()) {
		if cached, ok := r.cache.Get(key); ok {
			return cached, nil
		}
		return &models.QuotaSnapshot{FetchedAt: time.Now()}, nil
	}

	token, err := r.refresher.ValidToken(ctx, key)
	if err != nil {
		return nil, err
	}
	acc.AccessToken = token

	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	snapshot, err := fetcher.Fetch(fetchCtx, acc)
	cancel()

	if errors.IsAuthStatus(err) {
		// one refresh, one retry
		refreshed, rerr := r.refresher.Refresh(ctx, key)
		if rerr != nil {
			r.markForbidden(key)
			return nil, rerr
		}
		acc.AccessToken = refreshed.AccessToken
		fetchCtx, cancel = context.WithTimeout(ctx, r.timeout)
		snapshot, err = fetcher.Fetch(fetchCtx, acc)
		cancel()
		if errors.IsAuthStatus(err) {
			r.markForbidden(key)
			return nil, err
		}
	}

	if seconds, ok := errors.RetryAfterSeconds(err); ok {
		until := time.Now().Add(time.Duration(seconds) * time.Second)
		r.store.SetCooldown(key, until)
		log.WithFields(log.Fields{"account": key}).Infof("rate limited, cooling until %s", until.Format(time.RFC3339))
		if cached, cok := r.cache.Get(key); cok {
			return cached, nil
		}
		return &models.QuotaSnapshot{FetchedAt: time.Now()}, nil
	}

	if err != nil {
		r.store.SetStatus(key, models.StatusError, err.Error())
		return nil, err
	}

	snapshot.FetchedAt = time.Now()
	r.cache.Put(key, snapshot)
	r.store.SetStatus(key, models.StatusReady, "")
	return snapshot, nil
}

// markForbidden caches a forbidden snapshot (keeping last-known models so
// the UI can still render them) and flips the account to error.
func (r *Registry) markForbidden(key string) {
	forbidden := &models.QuotaSnapshot{FetchedAt: time.Now(), IsForbidden: true}
	if cached, ok := r.cache.Get(key); ok {
		forbidden.Models = cached.Models
		forbidden.PlanLabel = cached.PlanLabel
	}
	r.cache.Put(key, forbidden)
	r.store.SetStatus(key, models.StatusError, "provider rejected credentials")
}

// FetchAll loads every account (optionally one provider's), dispatches
// per-account fetches under per-provider semaphores, and collects the
// partial-failure result. It never returns an error itself.
func (r *Registry) FetchAll(ctx context.Context, provider string) *Result {
	accounts, err := r.store.List(provider)
	result := &Result{ByKey: make(map[string]*models.QuotaSnapshot)}
	if err != nil {
		result.Errors = append(result.Errors, FetchError{Kind: "StoreError", Message: err.Error()})
		return result
	}

	sems := make(map[models.Provider]*semaphore.Weighted)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, acc := range accounts {
		if acc.Disabled {
			continue
		}
		if _, ok := r.fetcherFor(acc.Provider); !ok {
			continue
		}
		sem, ok := sems[acc.Provider]
		if !ok {
			sem = semaphore.NewWeighted(int64(r.workersFor(acc.Provider)))
			sems[acc.Provider] = sem
		}

		wg.Add(1)
		go func(acc *models.Account, sem *semaphore.Weighted) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			snapshot, err := r.FetchAccount(ctx, acc.Key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors = append(result.Errors, FetchError{
					Key:      acc.Key,
					Provider: string(acc.Provider),
					Kind:     errorKind(err),
					Message:  errorMessage(err),
				})
				return
			}
			result.ByKey[acc.Key] = snapshot
		}(acc, sem)
	}
	wg.Wait()

	sort.Slice(result.Errors, func(i, j int) bool { return result.Errors[i].Key < result.Errors[j].Key })
	r.cache.SetLastFetched(time.Now())
	return result
}

func errorKind(err error) string {
	if kind := errors.RefreshKind(err); kind != "" {
		return "TokenRefresh"
	}
	if errors.IsAuthStatus(err) {
		return "Forbidden"
	}
	var nq *errors.ErrNoQuotaData
	if stdAs(err, &nq) {
		return "NoQuotaData"
	}
	return "FetchError"
}

func errorMessage(err error) string {
	if errors.RefreshKind(err) != "" {
		return "Token Refresh Failed"
	}
	return err.Error()
}
