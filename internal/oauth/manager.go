// Package oauth runs interactive login flows behind the oauth.start and
// oauth.poll RPCs. Authorization-code providers get a loopback callback
// server and a browser hop; device-code providers get a background
// polling loop. Either way the outcome is a fresh credential file written
// through the auth-file store.
package oauth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	log "github.com/sirupsen/logrus"

	"github.com/quotio/quotiod/internal/authstore"
	"github.com/quotio/quotiod/internal/errors"
	"github.com/quotio/quotiod/internal/httpx"
	"github.com/quotio/quotiod/internal/models"
)

// FlowStatus is what oauth.poll reports.
type FlowStatus string

const (
	StatusPending FlowStatus = "pending"
	StatusSuccess FlowStatus = "success"
	StatusError   FlowStatus = "error"
)

// flowTTL bounds how long an unfinished flow may linger.
const flowTTL = 10 * time.Minute

type flow struct {
	state     string
	provider  models.Provider
	status    FlowStatus
	err       string
	startedAt time.Time
	cancel    context.CancelFunc
}

// Manager tracks in-flight login flows.
type Manager struct {
	store  *authstore.Store
	client *httpx.Client

	mu    sync.Mutex
	flows map[string]*flow

	// openBrowser is swapped out in tests.
	openBrowser func(url string) error
}

// NewManager builds a manager writing into store.
func NewManager(store *authstore.Store, client *httpx.Client) *Manager {
	return &Manager{
		store:       store,
		client:      client,
		flows:       make(map[string]*flow),
		openBrowser: browser.OpenURL,
	}
}

// StartResult is the oauth.start payload.
type StartResult struct {
	URL   string `json:"url,omitempty"`
	State string `json:"state,omitempty"`
}

// Start kicks off a login flow for provider. The returned URL is also
// opened in the local browser as a convenience; the caller polls with the
// state token.
func (m *Manager) Start(ctx context.Context, provider models.Provider, projectID string) (*StartResult, error) {
	m.gc()

	state := uuid.NewString()
	flowCtx, cancel := context.WithTimeout(context.Background(), flowTTL)
	f := &flow{
		state:     state,
		provider:  provider,
		status:    StatusPending,
		startedAt: time.Now(),
		cancel:    cancel,
	}

	var url string
	var err error
	switch provider {
	case models.ProviderGemini, models.ProviderAntigravity:
		url, err = m.startGoogleFlow(flowCtx, f, projectID)
	case models.ProviderCopilot:
		url, err = m.startCopilotFlow(flowCtx, f)
	default:
		cancel()
		return nil, errors.RPCError(errors.CodeConfigError,
			fmt.Sprintf("interactive login is not supported for %s; copy the CLI's credential file into the auth directory instead", provider))
	}
	if err != nil {
		cancel()
		return nil, err
	}

	m.mu.Lock()
	m.flows[state] = f
	m.mu.Unlock()

	if berr := m.openBrowser(url); berr != nil {
		log.Debugf("cannot open browser: %v", berr)
	}
	return &StartResult{URL: url, State: state}, nil
}

// PollResult is the oauth.poll payload.
type PollResult struct {
	Status FlowStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// Poll reports the flow's current state.
func (m *Manager) Poll(state string) (*PollResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.flows[state]
	if !ok {
		return nil, errors.RPCError(errors.CodeConfigError, "unknown oauth state")
	}
	result := &PollResult{Status: f.status, Error: f.err}
	if f.status != StatusPending {
		delete(m.flows, state)
		f.cancel()
	}
	return result, nil
}

func (m *Manager) complete(f *flow, key string, raw []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		f.status = StatusError
		f.err = err.Error()
		log.WithField("provider", f.provider).Warnf("oauth flow failed: %v", err)
		return
	}
	if werr := m.store.Create(key, raw); werr != nil {
		f.status = StatusError
		f.err = werr.Error()
		return
	}
	f.status = StatusSuccess
	log.WithFields(log.Fields{"provider": f.provider, "account": key}).Info("oauth login complete")
}

// gc drops flows past their TTL.
func (m *Manager) gc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for state, f := range m.flows {
		if time.Since(f.startedAt) > flowTTL {
			f.cancel()
			delete(m.flows, state)
		}
	}
}

// accountKeyFor derives "<provider>-<local>" from an email or login name.
func accountKeyFor(provider models.Provider, identity string) string {
	local := identity
	if at := strings.IndexByte(identity, '@'); at > 0 {
		local = identity[:at]
	}
	local = strings.ToLower(strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, local))
	if local == "" {
		local = "account"
	}
	return string(provider) + "-" + local
}
