package refresh

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/quotio/quotiod/internal/errors"
	"github.com/quotio/quotiod/internal/httpx"
	"github.com/quotio/quotiod/internal/models"
)

// CopilotStrategy exchanges a long-lived GitHub OAuth token for a
// short-lived Copilot session token. The credential file stores the GitHub
// token under refresh_token; the Copilot token is what goes out as the
// access token.
type CopilotStrategy struct {
	Client *httpx.Client
}

type copilotTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	RefreshIn int    `json:"refresh_in"`
}

// Refresh performs the GitHub -> Copilot token exchange.
func (s *CopilotStrategy) Refresh(ctx context.Context, acc *models.Account) (*TokenUpdate, error) {
	githubToken := acc.RefreshToken
	if githubToken == "" {
		return nil, &errors.ErrRefresh{Kind: errors.KindNoRefreshToken}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, copilotTokenExchangeURL, nil)
	if err != nil {
		return nil, &errors.ErrRefresh{Kind: errors.KindNetwork, Err: err}
	}
	req.Header.Set("Authorization", "token "+githubToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Editor-Version", "vscode/1.96.0")
	req.Header.Set("Editor-Plugin-Version", "copilot/1.250.0")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, &errors.ErrRefresh{Kind: errors.KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, &errors.ErrRefresh{Kind: errors.KindNetwork, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(resp.StatusCode, body)
	}

	var parsed copilotTokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &errors.ErrRefresh{Kind: errors.KindDecode, Err: err}
	}
	if parsed.Token == "" {
		return nil, &errors.ErrRefresh{Kind: errors.KindDecode, Err: errEmptyAccessToken}
	}
	update := &TokenUpdate{AccessToken: parsed.Token}
	if parsed.ExpiresAt > 0 {
		update.Expiry = time.Unix(parsed.ExpiresAt, 0)
	}
	return update, nil
}
