package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quotio/quotiod/internal/models"
)

const (
	githubDeviceCodeURL  = "https://github.com/login/device/code"
	githubAccessTokenURL = "https://github.com/login/oauth/access_token"
	githubUserURL        = "https://api.github.com/user"
	// the VS Code Copilot extension's public client id
	githubCopilotClientID = "Iv1.b507a08c87ecfe98"
)

type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// startCopilotFlow requests a GitHub device code and polls for the grant
// in the background. The URL handed back carries the user code as a
// fragment so the client can display it.
func (m *Manager) startCopilotFlow(ctx context.Context, f *flow) (string, error) {
	device, err := m.requestDeviceCode(ctx)
	if err != nil {
		return "", err
	}

	go m.pollDeviceGrant(ctx, f, device)

	return fmt.Sprintf("%s#code=%s", device.VerificationURI, device.UserCode), nil
}

func (m *Manager) requestDeviceCode(ctx context.Context) (*deviceCodeResponse, error) {
	body, _ := json.Marshal(map[string]string{
		"client_id": githubCopilotClientID,
		"scope":     "read:user",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, githubDeviceCodeURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("device code request failed with status %d: %s", resp.StatusCode, payload)
	}
	var parsed deviceCodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

func (m *Manager) pollDeviceGrant(ctx context.Context, f *flow, device *deviceCodeResponse) {
	interval := time.Duration(device.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.complete(f, "", nil, fmt.Errorf("login timed out"))
			return
		case <-ticker.C:
		}

		token, done, err := m.checkDeviceGrant(ctx, device.DeviceCode)
		if err != nil {
			m.complete(f, "", nil, err)
			return
		}
		if !done {
			continue
		}

		login, err := m.fetchGitHubLogin(ctx, token)
		if err != nil {
			m.complete(f, "", nil, err)
			return
		}
		raw, _ := json.MarshalIndent(map[string]any{
			"type": "copilot",
			// the GitHub OAuth token is long-lived; the short-lived
			// Copilot token gets filled in by the refresher
			"refresh_token": token,
			"email":         login,
		}, "", "  ")
		m.complete(f, accountKeyFor(models.ProviderCopilot, login), raw, nil)
		return
	}
}

// checkDeviceGrant returns done=false while the user has not finished the
// browser side yet.
func (m *Manager) checkDeviceGrant(ctx context.Context, deviceCode string) (string, bool, error) {
	body, _ := json.Marshal(map[string]string{
		"client_id":   githubCopilotClientID,
		"device_code": deviceCode,
		"grant_type":  "urn:ietf:params:oauth:grant-type:device_code",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, githubAccessTokenURL, bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	var parsed struct {
		AccessToken string `json:"access_token"`
		Error       string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", false, err
	}
	switch parsed.Error {
	case "":
		return parsed.AccessToken, parsed.AccessToken != "", nil
	case "authorization_pending", "slow_down":
		return "", false, nil
	default:
		return "", false, fmt.Errorf("github device flow: %s", parsed.Error)
	}
}

func (m *Manager) fetchGitHubLogin(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, githubUserURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "token "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var parsed struct {
		Login string `json:"login"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if parsed.Login == "" {
		return "", fmt.Errorf("github user reply carried no login")
	}
	return parsed.Login, nil
}
