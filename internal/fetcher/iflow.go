package fetcher

import (
	"context"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/quotio/quotiod/internal/errors"
	"github.com/quotio/quotiod/internal/httpx"
	"github.com/quotio/quotiod/internal/models"
)

const iflowPlatformBaseURL = "https://platform.iflow.cn"

// IFlowFetcher reads the OpenAPI usage counters.
type IFlowFetcher struct {
	Client *httpx.Client
}

// Provider implements Fetcher.
func (f *IFlowFetcher) Provider() models.Provider {
	return models.ProviderIFlow
}

// Fetch implements Fetcher.
func (f *IFlowFetcher) Fetch(ctx context.Context, acc *models.Account) (*models.QuotaSnapshot, error) {
	url := baseURLOr(acc.BaseURL, iflowPlatformBaseURL) + "/api/openapi/usage"
	payload, err := doJSON(ctx, f.Client, http.MethodGet, url, nil, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+acc.AccessToken)
		req.Header.Set("Origin", iflowPlatformBaseURL)
	})
	if err != nil {
		return nil, err
	}

	data := gjson.GetBytes(payload, "data")
	limit := data.Get("limit")
	remaining := data.Get("remaining")
	if !limit.Exists() || !remaining.Exists() {
		return nil, &errors.ErrNoQuotaData{Provider: string(models.ProviderIFlow)}
	}
	used := limit.Int() - remaining.Int()
	if used < 0 {
		used = 0
	}
	mq := models.NewModelQuota("iflow-requests", used, limit.Int(), rfc3339Ptr(data.Get("reset_at").String()))
	return &models.QuotaSnapshot{Models: []models.ModelQuota{mq}}, nil
}
