package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/quotio/quotiod/internal/errors"
	"github.com/quotio/quotiod/internal/httpx"
	"github.com/quotio/quotiod/internal/models"
)

// tokenResponse is the common OAuth token reply shape.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Account      struct {
		EmailAddress string `json:"email_address"`
	} `json:"account"`
}

func classifyHTTPError(status int, body []byte) error {
	kind := errors.KindHTTP4xx
	if status >= 500 {
		kind = errors.KindHTTP5xx
	}
	return &errors.ErrRefresh{Kind: kind, StatusCode: status, Body: string(body)}
}

// GoogleStrategy refreshes Google OIDC credentials (gemini, antigravity)
// through x/oauth2, using the client id/secret stored in the credential file.
type GoogleStrategy struct {
	Client *httpx.Client
}

// Refresh exchanges the refresh token at the Google token endpoint.
func (g *GoogleStrategy) Refresh(ctx context.Context, acc *models.Account) (*TokenUpdate, error) {
	if acc.RefreshToken == "" {
		return nil, &errors.ErrRefresh{Kind: errors.KindNoRefreshToken}
	}
	if acc.ClientID == "" || acc.ClientSecret == "" {
		return nil, &errors.ErrRefresh{Kind: errors.KindMissingClientCredentials}
	}

	conf := &oauth2.Config{
		ClientID:     acc.ClientID,
		ClientSecret: acc.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: googleTokenURL},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.Client.HTTPClient())
	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: acc.RefreshToken})
	token, err := src.Token()
	if err != nil {
		var retrieve *oauth2.RetrieveError
		if stderrors.As(err, &retrieve) {
			return nil, classifyHTTPError(retrieve.Response.StatusCode, retrieve.Body)
		}
		return nil, &errors.ErrRefresh{Kind: errors.KindNetwork, Err: err}
	}
	update := &TokenUpdate{
		AccessToken: token.AccessToken,
		Expiry:      token.Expiry,
	}
	if token.RefreshToken != "" && token.RefreshToken != acc.RefreshToken {
		update.RefreshToken = token.RefreshToken
	}
	return update, nil
}

// OAuthJSONStrategy posts a JSON refresh_token grant (claude, glm, warp,
// codex style).
type OAuthJSONStrategy struct {
	Client   *httpx.Client
	TokenURL string
	ClientID string
}

// Refresh performs the JSON-body token exchange.
func (s *OAuthJSONStrategy) Refresh(ctx context.Context, acc *models.Account) (*TokenUpdate, error) {
	if acc.RefreshToken == "" {
		return nil, &errors.ErrRefresh{Kind: errors.KindNoRefreshToken}
	}
	payload := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": acc.RefreshToken,
		"client_id":     s.ClientID,
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.TokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, &errors.ErrRefresh{Kind: errors.KindNetwork, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return doTokenRequest(s.Client, req, acc.RefreshToken)
}

// OAuthFormStrategy posts an application/x-www-form-urlencoded
// refresh_token grant (qwen, iflow, kimi style).
type OAuthFormStrategy struct {
	Client   *httpx.Client
	TokenURL string
	ClientID string
}

// Refresh performs the form-body token exchange.
func (s *OAuthFormStrategy) Refresh(ctx context.Context, acc *models.Account) (*TokenUpdate, error) {
	if acc.RefreshToken == "" {
		return nil, &errors.ErrRefresh{Kind: errors.KindNoRefreshToken}
	}
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", acc.RefreshToken)
	data.Set("client_id", s.ClientID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, &errors.ErrRefresh{Kind: errors.KindNetwork, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return doTokenRequest(s.Client, req, acc.RefreshToken)
}

func doTokenRequest(client *httpx.Client, req *http.Request, oldRefreshToken string) (*TokenUpdate, error) {
	resp, err := client.Do(req)
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

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &errors.ErrRefresh{Kind: errors.KindDecode, Err: err}
	}
	if parsed.AccessToken == "" {
		return nil, &errors.ErrRefresh{Kind: errors.KindDecode, Err: errEmptyAccessToken}
	}
	update := &TokenUpdate{AccessToken: parsed.AccessToken}
	if parsed.ExpiresIn > 0 {
		update.Expiry = time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	}
	if parsed.RefreshToken != "" && parsed.RefreshToken != oldRefreshToken {
		update.RefreshToken = parsed.RefreshToken
	}
	return update, nil
}

// apiKeyStrategy covers opaque API keys: nothing to refresh, the stored
// token is the token.
type apiKeyStrategy struct{}

func (apiKeyStrategy) Refresh(ctx context.Context, acc *models.Account) (*TokenUpdate, error) {
	if acc.AccessToken == "" {
		return nil, &errors.ErrRefresh{Kind: errors.KindExpired}
	}
	return &TokenUpdate{AccessToken: acc.AccessToken}, nil
}
