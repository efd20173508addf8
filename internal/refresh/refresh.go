// Package refresh exchanges refresh tokens for fresh access tokens, one
// strategy per provider family. Callers ask for a valid token; the
// refresher decides whether a network exchange is needed and persists the
// result through the auth-file store before returning.
package refresh

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/quotio/quotiod/internal/authstore"
	"github.com/quotio/quotiod/internal/errors"
	"github.com/quotio/quotiod/internal/httpx"
	"github.com/quotio/quotiod/internal/models"
)

// TokenUpdate is what a strategy produces on success. An empty
// RefreshToken means the provider did not rotate it.
type TokenUpdate struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Strategy performs the provider-specific token exchange.
type Strategy interface {
	Refresh(ctx context.Context, acc *models.Account) (*TokenUpdate, error)
}

// DefaultBuffer is the proactive refresh window: tokens expiring within
// it are refreshed before use.
const DefaultBuffer = 5 * time.Minute

// Refresher coordinates strategies, the store, and in-flight deduplication.
type Refresher struct {
	store      *authstore.Store
	strategies map[models.Provider]Strategy
	buffer     time.Duration

	mu     sync.Mutex
	flight map[string]*inflight
}

type inflight struct {
	done chan struct{}
	acc  *models.Account
	err  error
}

// New builds a refresher with the full strategy set.
func New(store *authstore.Store, client *httpx.Client, buffer time.Duration) *Refresher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	google := &GoogleStrategy{Client: client}
	return &Refresher{
		store:  store,
		buffer: buffer,
		flight: make(map[string]*inflight),
		strategies: map[models.Provider]Strategy{
			models.ProviderGemini:      google,
			models.ProviderAntigravity: google,
			models.ProviderClaude:      &OAuthJSONStrategy{Client: client, TokenURL: claudeTokenURL, ClientID: claudeClientID},
			models.ProviderQwen:        &OAuthFormStrategy{Client: client, TokenURL: qwenTokenURL, ClientID: qwenClientID},
			models.ProviderIFlow:       &OAuthFormStrategy{Client: client, TokenURL: iflowTokenURL, ClientID: iflowClientID},
			models.ProviderKimi:        &OAuthFormStrategy{Client: client, TokenURL: kimiTokenURL, ClientID: kimiClientID},
			models.ProviderGLM:         &OAuthJSONStrategy{Client: client, TokenURL: glmTokenURL, ClientID: glmClientID},
			models.ProviderCopilot:     &CopilotStrategy{Client: client},
			models.ProviderKiro:        &KiroStrategy{Client: client},
			models.ProviderWarp:        &OAuthJSONStrategy{Client: client, TokenURL: warpTokenURL, ClientID: warpClientID},
			models.ProviderCodex:       &OAuthJSONStrategy{Client: client, TokenURL: codexTokenURL, ClientID: codexClientID},
			models.ProviderAPIKey:      apiKeyStrategy{},
		},
	}
}

// SetStrategy replaces the strategy for one provider. The daemon uses it
// to point refreshes at a tunnel endpoint in remote mode; tests use it to
// point them at local servers.
func (r *Refresher) SetStrategy(provider models.Provider, s Strategy) {
	r.strategies[provider] = s
}

// ValidToken returns an access token good for at least the buffer window,
// refreshing first when needed. Overlapping calls for the same account
// share a single network exchange.
func (r *Refresher) ValidToken(ctx context.Context, key string) (string, error) {
	acc, err := r.store.Read(key)
	if err != nil {
		return "", err
	}
	remaining, known := acc.TokenRemaining(time.Now())
	if !known || remaining > r.buffer {
		return acc.AccessToken, nil
	}
	refreshed, err := r.Refresh(ctx, key)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// Refresh performs (or joins) one token exchange for the account, persists
// the outcome, and returns the updated record.
func (r *Refresher) Refresh(ctx context.Context, key string) (*models.Account, error) {
	r.mu.Lock()
	if call, ok := r.flight[key]; ok {
		r.mu.Unlock()
		select {
		case <-call.done:
			return call.acc, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &inflight{done: make(chan struct{})}
	r.flight[key] = call
	r.mu.Unlock()

	call.acc, call.err = r.refreshOnce(ctx, key)
	close(call.done)

	r.mu.Lock()
	delete(r.flight, key)
	r.mu.Unlock()

	return call.acc, call.err
}

func (r *Refresher) refreshOnce(ctx context.Context, key string) (*models.Account, error) {
	acc, err := r.store.Read(key)
	if err != nil {
		return nil, err
	}

	strategy, ok := r.strategies[acc.Provider]
	if !ok {
		return nil, &errors.ErrProviderNotFound{Provider: string(acc.Provider)}
	}

	update, err := strategy.Refresh(ctx, acc)
	now := time.Now()
	if err != nil {
		// the record still gets a refresh stamp so the UI can show when
		// we last tried
		if perr := r.store.SaveTokens(key, "", "", time.Time{}, now); perr != nil {
			log.WithField("account", key).Warnf("persist after failed refresh: %v", perr)
		}
		r.store.SetStatus(key, models.StatusError, err.Error())
		return nil, err
	}

	if err := r.store.SaveTokens(key, update.AccessToken, update.RefreshToken, update.Expiry, now); err != nil {
		return nil, err
	}
	r.store.SetStatus(key, models.StatusReady, "")
	log.WithFields(log.Fields{"account": key, "provider": acc.Provider}).Debug("token refreshed")
	return r.store.Read(key)
}
