// Package authstore owns the on-disk credential files under the auth
// directory. One file per account, named "<provider>-<local-part>.json".
// Reads parse defensively with gjson so unknown keys are never touched;
// mutations go through sjson against the original bytes and commit with
// a write -> fsync -> rename sequence.
package authstore

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/quotio/quotiod/internal/errors"
	"github.com/quotio/quotiod/internal/models"
)

// timeLayout is how expiry instants are serialized into credential files.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// runtimeState is per-account state the daemon tracks but never persists.
type runtimeState struct {
	status        models.AccountStatus
	lastError     string
	cooldownUntil time.Time
}

// Store is the auth-file store.
type Store struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-file write serialization

	stateMu sync.RWMutex
	state   map[string]runtimeState
}

// New creates a store over dir, creating it when absent.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &errors.ErrDirectoryCreate{Path: dir, Err: err}
	}
	return &Store{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
		state: make(map[string]runtimeState),
	}, nil
}

// Dir returns the auth directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) pathFor(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *Store) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// List enumerates accounts, optionally filtered by provider tag.
// Files whose name does not parse as "<provider>-<local>.json" or whose
// provider is unknown are skipped, not errors.
func (s *Store) List(provider string) ([]*models.Account, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &errors.ErrIO{Path: s.dir, Err: err}
	}

	var accounts []*models.Account
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		key := strings.TrimSuffix(entry.Name(), ".json")
		prov, _, err := models.ParseAccountKey(key)
		if err != nil || !models.IsKnownProvider(prov) {
			continue
		}
		if provider != "" && prov != provider {
			continue
		}
		acc, err := s.Read(key)
		if err != nil {
			continue
		}
		accounts = append(accounts, acc)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Key < accounts[j].Key })
	return accounts, nil
}

// Read loads one account from disk and merges in runtime state.
func (s *Store) Read(key string) (*models.Account, error) {
	raw, err := os.ReadFile(s.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.ErrAccountNotFound{Key: key}
		}
		return nil, &errors.ErrIO{Path: s.pathFor(key), Err: err}
	}
	acc, err := parseAccount(key, raw)
	if err != nil {
		return nil, err
	}
	acc.Path = s.pathFor(key)

	s.stateMu.RLock()
	if st, ok := s.state[key]; ok {
		if st.status != "" {
			acc.Status = st.status
		}
		acc.LastError = st.lastError
		acc.CooldownUntil = st.cooldownUntil
	}
	s.stateMu.RUnlock()
	if acc.InCooldown(time.Now()) {
		acc.Status = models.StatusCooling
	}
	return acc, nil
}

// parseAccount extracts the fields the daemon cares about, leaving the
// raw bytes untouched for round-tripping. Credential layouts vary per
// provider; OAuth fields are sometimes nested under "token".
func parseAccount(key string, raw []byte) (*models.Account, error) {
	prov, local, err := models.ParseAccountKey(key)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(raw) {
		return nil, &errors.ErrIO{Path: key, Err: errInvalidJSON}
	}

	pick := func(paths ...string) string {
		for _, p := range paths {
			if v := gjson.GetBytes(raw, p); v.Exists() && strings.TrimSpace(v.String()) != "" {
				return strings.TrimSpace(v.String())
			}
		}
		return ""
	}

	acc := &models.Account{
		Key:          key,
		Provider:     models.Provider(prov),
		Label:        pick("label", "name", "email"),
		Email:        pick("email"),
		AccessToken:  pick("access_token", "token.access_token"),
		RefreshToken: pick("refresh_token", "token.refresh_token"),
		ClientID:     pick("client_id", "token.client_id"),
		ClientSecret: pick("client_secret", "token.client_secret"),
		AccountID:    pick("account_id", "accountId"),
		ProjectID:    pick("project_id"),
		BaseURL:      pick("base_url"),
		Disabled:     gjson.GetBytes(raw, "disabled").Bool(),
		Status:       models.StatusReady,
		Raw:          raw,
	}
	if acc.Label == "" {
		acc.Label = local
	}

	if expiry := pick("expired", "expiry", "token.expiry"); expiry != "" {
		if t, perr := parseTime(expiry); perr == nil {
			acc.Expiry = t
		}
	}
	if acc.Expiry.IsZero() {
		ts := gjson.GetBytes(raw, "timestamp").Int()
		expiresIn := gjson.GetBytes(raw, "expires_in").Int()
		if ts > 0 && expiresIn > 0 {
			acc.Expiry = time.UnixMilli(ts + expiresIn*1000)
		}
	}
	if lr := pick("last_refresh", "last_refresh_at"); lr != "" {
		if t, perr := parseTime(lr); perr == nil {
			acc.LastRefreshAt = t
		}
	}
	return acc, nil
}

func parseTime(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, timeLayout} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errBadTimestamp
}

// Write applies update to the current file bytes and atomically replaces
// the file. The updater receives the raw JSON and returns the new raw
// JSON; returning the input unchanged is a valid no-op. Writes to the same
// file are serialized; the rename is the commit point.
func (s *Store) Write(key string, update func(raw []byte) ([]byte, error)) error {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	path := s.pathFor(key)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &errors.ErrAccountNotFound{Key: key}
		}
		return &errors.ErrIO{Path: path, Err: err}
	}

	updated, err := update(raw)
	if err != nil {
		return err
	}
	if !gjson.ValidBytes(updated) {
		return &errors.ErrIO{Path: path, Err: errInvalidJSON}
	}

	tmp, err := os.CreateTemp(s.dir, "."+key+"-*.tmp")
	if err != nil {
		return &errors.ErrIO{Path: path, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(updated); err != nil {
		tmp.Close()
		return &errors.ErrIO{Path: tmpName, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &errors.ErrIO{Path: tmpName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &errors.ErrIO{Path: tmpName, Err: err}
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return &errors.ErrIO{Path: tmpName, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &errors.ErrIO{Path: path, Err: err}
	}
	return nil
}

// Create writes a brand-new credential file. Fails if the key exists.
func (s *Store) Create(key string, raw []byte) error {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	path := s.pathFor(key)
	if _, err := os.Stat(path); err == nil {
		return &errors.ErrIO{Path: path, Err: os.ErrExist}
	}
	if !gjson.ValidBytes(raw) {
		return &errors.ErrIO{Path: path, Err: errInvalidJSON}
	}
	return os.WriteFile(path, raw, 0o600)
}

// Delete removes the credential file and forgets runtime state.
func (s *Store) Delete(key string) error {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	path := s.pathFor(key)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return &errors.ErrAccountNotFound{Key: key}
		}
		return &errors.ErrIO{Path: path, Err: err}
	}
	s.stateMu.Lock()
	delete(s.state, key)
	s.stateMu.Unlock()
	return nil
}

// DeleteAll removes every known credential file and returns the count.
func (s *Store) DeleteAll() (int, error) {
	accounts, err := s.List("")
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, acc := range accounts {
		if err := s.Delete(acc.Key); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// SetDisabled flips the disabled flag inside the file.
func (s *Store) SetDisabled(key string, disabled bool) error {
	return s.Write(key, func(raw []byte) ([]byte, error) {
		return sjson.SetBytes(raw, "disabled", disabled)
	})
}

// SaveTokens persists a refreshed token set. The refresh token is only
// rewritten when the provider rotated it. last_refresh is always stamped,
// including after failed refreshes (the caller passes the old tokens then).
func (s *Store) SaveTokens(key, accessToken, refreshToken string, expiry, lastRefresh time.Time) error {
	return s.Write(key, func(raw []byte) ([]byte, error) {
		var err error
		if accessToken != "" {
			raw, err = setTokenField(raw, "access_token", accessToken)
			if err != nil {
				return nil, err
			}
		}
		if refreshToken != "" {
			raw, err = setTokenField(raw, "refresh_token", refreshToken)
			if err != nil {
				return nil, err
			}
		}
		if !expiry.IsZero() {
			raw, err = setTokenField(raw, "expired", expiry.UTC().Format(timeLayout))
			if err != nil {
				return nil, err
			}
		}
		return sjson.SetBytes(raw, "last_refresh", lastRefresh.UTC().Format(timeLayout))
	})
}

// setTokenField updates a field at the top level and, when the file nests
// OAuth data under "token", mirrors it there so both layouts stay coherent.
func setTokenField(raw []byte, field, value string) ([]byte, error) {
	updated, err := sjson.SetBytes(raw, field, value)
	if err != nil {
		return nil, err
	}
	nestedField := field
	if field == "expired" {
		nestedField = "expiry"
	}
	if gjson.GetBytes(updated, "token."+nestedField).Exists() {
		return sjson.SetBytes(updated, "token."+nestedField, value)
	}
	return updated, nil
}

// SetStatus records a runtime status transition for the account.
func (s *Store) SetStatus(key string, status models.AccountStatus, lastError string) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	st := s.state[key]
	st.status = status
	st.lastError = lastError
	s.state[key] = st
}

// SetCooldown opens a Retry-After window for the account.
func (s *Store) SetCooldown(key string, until time.Time) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	st := s.state[key]
	st.status = models.StatusCooling
	st.cooldownUntil = until
	s.state[key] = st
}
