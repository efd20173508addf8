package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/quotio/quotiod/internal/errors"
	"github.com/quotio/quotiod/internal/httpx"
	"github.com/quotio/quotiod/internal/models"
)

var errEmptyAccessToken = stderrors.New("response carried no access token")

// KiroStrategy refreshes Kiro credentials. Two flavors exist in the wild:
// "social" accounts hit the Kiro desktop refresh endpoint with just the
// refresh token; IdC accounts go through the AWS SSO/OIDC token endpoint
// for their region with registered client credentials. The credential
// file's auth_method field picks the path.
type KiroStrategy struct {
	Client *httpx.Client
}

// Refresh dispatches on the account's auth method.
func (s *KiroStrategy) Refresh(ctx context.Context, acc *models.Account) (*TokenUpdate, error) {
	if acc.RefreshToken == "" {
		return nil, &errors.ErrRefresh{Kind: errors.KindNoRefreshToken}
	}
	if gjson.GetBytes(acc.Raw, "auth_method").String() == "idc" {
		return s.refreshIdC(ctx, acc)
	}
	return s.refreshSocial(ctx, acc)
}

func (s *KiroStrategy) refreshSocial(ctx context.Context, acc *models.Account) (*TokenUpdate, error) {
	payload, _ := json.Marshal(map[string]string{"refreshToken": acc.RefreshToken})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, kiroSocialRefreshURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &errors.ErrRefresh{Kind: errors.KindNetwork, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

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

	var parsed struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    int64  `json:"expiresIn"`
	}
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
	if parsed.RefreshToken != "" && parsed.RefreshToken != acc.RefreshToken {
		update.RefreshToken = parsed.RefreshToken
	}
	return update, nil
}

func (s *KiroStrategy) refreshIdC(ctx context.Context, acc *models.Account) (*TokenUpdate, error) {
	if acc.ClientID == "" || acc.ClientSecret == "" {
		return nil, &errors.ErrRefresh{Kind: errors.KindMissingClientCredentials}
	}
	region := gjson.GetBytes(acc.Raw, "region").String()
	if region == "" {
		region = "us-east-1"
	}

	payload, _ := json.Marshal(map[string]string{
		"clientId":     acc.ClientID,
		"clientSecret": acc.ClientSecret,
		"grantType":    "refresh_token",
		"refreshToken": acc.RefreshToken,
	})
	endpoint := fmt.Sprintf("https://oidc.%s.amazonaws.com/token", region)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &errors.ErrRefresh{Kind: errors.KindNetwork, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

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

	var parsed struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    int64  `json:"expiresIn"`
	}
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
	if parsed.RefreshToken != "" && parsed.RefreshToken != acc.RefreshToken {
		update.RefreshToken = parsed.RefreshToken
	}
	return update, nil
}
