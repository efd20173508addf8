package fetcher

import (
	"context"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/quotio/quotiod/internal/errors"
	"github.com/quotio/quotiod/internal/httpx"
	"github.com/quotio/quotiod/internal/models"
)

const (
	antigravityBaseURL   = "https://cloudcode-pa.googleapis.com"
	antigravityUserAgent = "antigravity/1.11.5 windows/amd64"
)

// AntigravityFetcher asks Cloud Code for the available model list, which
// carries per-model remaining fractions.
type AntigravityFetcher struct {
	Client *httpx.Client
}

// Provider implements Fetcher.
func (f *AntigravityFetcher) Provider() models.Provider {
	return models.ProviderAntigravity
}

// Fetch implements Fetcher.
func (f *AntigravityFetcher) Fetch(ctx context.Context, acc *models.Account) (*models.QuotaSnapshot, error) {
	url := baseURLOr(acc.BaseURL, antigravityBaseURL) + "/v1internal:fetchAvailableModels"
	body := []byte("{}")
	if acc.ProjectID != "" {
		body = []byte(`{"projectId":"` + acc.ProjectID + `"}`)
	}
	payload, err := doJSON(ctx, f.Client, http.MethodPost, url, body, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+acc.AccessToken)
		req.Header.Set("User-Agent", antigravityUserAgent)
	})
	if err != nil {
		return nil, err
	}

	snapshot := &models.QuotaSnapshot{}
	gjson.GetBytes(payload, "models").ForEach(func(key, record gjson.Result) bool {
		info := record.Get("quotaInfo")
		if !info.Exists() {
			return true
		}
		remaining := info.Get("remainingFraction")
		if !remaining.Exists() {
			return true
		}
		name := record.Get("model").String()
		if name == "" {
			name = key.String()
		}
		snapshot.Models = append(snapshot.Models, models.ModelQuota{
			Name:             name,
			PercentRemaining: models.ClampPercent(remaining.Float() * 100),
			ResetAt:          rfc3339Ptr(info.Get("resetTime").String()),
		})
		return true
	})
	if len(snapshot.Models) == 0 {
		return nil, &errors.ErrNoQuotaData{Provider: string(models.ProviderAntigravity)}
	}
	return snapshot, nil
}
