package fetcher

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/quotio/quotiod/internal/errors"
	"github.com/quotio/quotiod/internal/httpx"
	"github.com/quotio/quotiod/internal/models"
)

const warpGraphQLBaseURL = "https://app.warp.dev"

const warpLimitQuery = `query GetRequestLimitInfo {
  user {
    user {
      requestLimitInfo {
        requestsUsedSinceLastRefresh
        requestLimit
        nextRefreshTime
        isUnlimited
      }
    }
  }
}`

// WarpFetcher reads the AI request allowance through Warp's GraphQL API.
type WarpFetcher struct {
	Client *httpx.Client
}

// Provider implements Fetcher.
func (f *WarpFetcher) Provider() models.Provider {
	return models.ProviderWarp
}

// Fetch implements Fetcher.
func (f *WarpFetcher) Fetch(ctx context.Context, acc *models.Account) (*models.QuotaSnapshot, error) {
	url := baseURLOr(acc.BaseURL, warpGraphQLBaseURL) + "/graphql/v2"
	body, _ := json.Marshal(map[string]any{
		"query":         warpLimitQuery,
		"operationName": "GetRequestLimitInfo",
	})
	payload, err := doJSON(ctx, f.Client, http.MethodPost, url, body, bearer(acc.AccessToken))
	if err != nil {
		return nil, err
	}

	info := gjson.GetBytes(payload, "data.user.user.requestLimitInfo")
	if !info.Exists() {
		return nil, &errors.ErrNoQuotaData{Provider: string(models.ProviderWarp)}
	}
	if info.Get("isUnlimited").Bool() {
		return &models.QuotaSnapshot{
			Models:    []models.ModelQuota{{Name: "warp-requests", PercentRemaining: 100}},
			PlanLabel: "unlimited",
		}, nil
	}
	mq := models.NewModelQuota("warp-requests",
		info.Get("requestsUsedSinceLastRefresh").Int(),
		info.Get("requestLimit").Int(),
		rfc3339Ptr(info.Get("nextRefreshTime").String()))
	return &models.QuotaSnapshot{Models: []models.ModelQuota{mq}}, nil
}
