package fetcher

import (
	"context"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/quotio/quotiod/internal/errors"
	"github.com/quotio/quotiod/internal/httpx"
	"github.com/quotio/quotiod/internal/models"
)

const qwenPortalBaseURL = "https://chat.qwen.ai"

// QwenFetcher reads the daily call allowance from the Qwen portal.
type QwenFetcher struct {
	Client *httpx.Client
}

// Provider implements Fetcher.
func (f *QwenFetcher) Provider() models.Provider {
	return models.ProviderQwen
}

// Fetch implements Fetcher.
func (f *QwenFetcher) Fetch(ctx context.Context, acc *models.Account) (*models.QuotaSnapshot, error) {
	url := baseURLOr(acc.BaseURL, qwenPortalBaseURL) + "/api/v1/quota"
	payload, err := doJSON(ctx, f.Client, http.MethodGet, url, nil, bearer(acc.AccessToken))
	if err != nil {
		return nil, err
	}

	data := gjson.GetBytes(payload, "data")
	used := data.Get("used")
	total := data.Get("total")
	if !used.Exists() || !total.Exists() {
		return nil, &errors.ErrNoQuotaData{Provider: string(models.ProviderQwen)}
	}
	mq := models.NewModelQuota("qwen-daily", used.Int(), total.Int(), rfc3339Ptr(data.Get("reset_time").String()))
	return &models.QuotaSnapshot{
		Models:    []models.ModelQuota{mq},
		PlanLabel: data.Get("plan").String(),
	}, nil
}
