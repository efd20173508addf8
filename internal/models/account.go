package models

import (
	"fmt"
	"strings"
	"time"
)

// Provider identifies an upstream AI assistant vendor.
type Provider string

const (
	ProviderClaude      Provider = "claude"
	ProviderCodex       Provider = "codex"
	ProviderGemini      Provider = "gemini"
	ProviderAntigravity Provider = "antigravity"
	ProviderQwen        Provider = "qwen"
	ProviderIFlow       Provider = "iflow"
	ProviderCopilot     Provider = "copilot"
	ProviderWarp        Provider = "warp"
	ProviderKimi        Provider = "kimi"
	ProviderGLM         Provider = "glm"
	ProviderKiro        Provider = "kiro"
	ProviderAPIKey      Provider = "apikey"
)

// KnownProviders lists every provider the daemon has a fetcher or refresher for.
var KnownProviders = []Provider{
	ProviderClaude, ProviderCodex, ProviderGemini, ProviderAntigravity,
	ProviderQwen, ProviderIFlow, ProviderCopilot, ProviderWarp,
	ProviderKimi, ProviderGLM, ProviderKiro, ProviderAPIKey,
}

// IsKnownProvider reports whether p matches a supported provider tag.
func IsKnownProvider(p string) bool {
	for _, known := range KnownProviders {
		if string(known) == p {
			return true
		}
	}
	return false
}

// AccountStatus is the runtime health of an account.
type AccountStatus string

const (
	StatusReady   AccountStatus = "ready"
	StatusCooling AccountStatus = "cooling"
	StatusError   AccountStatus = "error"
)

// Account is the in-memory view of one credential file.
// The file bytes themselves are owned by the auth-file store; everything
// here is derived from them plus runtime state the store maintains.
type Account struct {
	// Key is the stable identifier derived from the filename:
	// "<provider>-<local-part>.json" -> "<provider>-<local-part>".
	Key      string   `json:"key"`
	Provider Provider `json:"provider"`
	Label    string   `json:"label"`
	Email    string   `json:"email,omitempty"`

	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	Expiry       time.Time `json:"expiry,omitempty"`

	ClientID     string `json:"-"`
	ClientSecret string `json:"-"`
	AccountID    string `json:"account_id,omitempty"`
	ProjectID    string `json:"project_id,omitempty"`
	BaseURL      string `json:"base_url,omitempty"`

	Disabled bool          `json:"disabled"`
	Status   AccountStatus `json:"status"`
	LastError string       `json:"last_error,omitempty"`

	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
	LastRefreshAt time.Time `json:"last_refresh_at,omitempty"`

	// Path is the credential file this account was read from.
	Path string `json:"-"`
	// Raw holds the exact file bytes at read time. Unknown keys survive
	// a round-trip because mutations are applied to Raw, never to a
	// re-marshalled struct.
	Raw []byte `json:"-"`
}

// ParseAccountKey splits "<provider>-<local-part>" into its parts.
// The provider tag is everything before the first dash.
func ParseAccountKey(key string) (provider, localPart string, err error) {
	idx := strings.Index(key, "-")
	if idx <= 0 || idx == len(key)-1 {
		return "", "", fmt.Errorf("malformed account key: %q", key)
	}
	return key[:idx], key[idx+1:], nil
}

// TokenRemaining returns how long the access token stays valid.
// A zero expiry means the lifetime is unknown and the token is treated
// as non-expiring.
func (a *Account) TokenRemaining(now time.Time) (time.Duration, bool) {
	if a.Expiry.IsZero() {
		return 0, false
	}
	return a.Expiry.Sub(now), true
}

// InCooldown reports whether the account is sitting out a Retry-After window.
func (a *Account) InCooldown(now time.Time) bool {
	return !a.CooldownUntil.IsZero() && now.Before(a.CooldownUntil)
}
