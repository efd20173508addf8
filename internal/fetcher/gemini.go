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

const geminiQuotaBaseURL = "https://cloudcode-pa.googleapis.com"

// GeminiFetcher reads the Gemini CLI user-quota buckets for the account's
// project.
type GeminiFetcher struct {
	Client *httpx.Client
}

// Provider implements Fetcher.
func (f *GeminiFetcher) Provider() models.Provider {
	return models.ProviderGemini
}

// Fetch implements Fetcher.
func (f *GeminiFetcher) Fetch(ctx context.Context, acc *models.Account) (*models.QuotaSnapshot, error) {
	if acc.ProjectID == "" {
		return nil, &errors.ErrNoQuotaData{Provider: string(models.ProviderGemini)}
	}
	url := baseURLOr(acc.BaseURL, geminiQuotaBaseURL) + "/v1internal:retrieveUserQuota"
	body, _ := json.Marshal(map[string]string{"project": acc.ProjectID})
	payload, err := doJSON(ctx, f.Client, http.MethodPost, url, body, bearer(acc.AccessToken))
	if err != nil {
		return nil, err
	}

	snapshot := &models.QuotaSnapshot{}
	for _, bucket := range gjson.GetBytes(payload, "buckets").Array() {
		name := bucket.Get("modelId").String()
		remaining := bucket.Get("remainingFraction")
		if name == "" || !remaining.Exists() {
			continue
		}
		snapshot.Models = append(snapshot.Models, models.ModelQuota{
			Name:             name,
			PercentRemaining: models.ClampPercent(remaining.Float() * 100),
			ResetAt:          rfc3339Ptr(bucket.Get("resetTime").String()),
		})
	}
	if len(snapshot.Models) == 0 {
		return nil, &errors.ErrNoQuotaData{Provider: string(models.ProviderGemini)}
	}
	return snapshot, nil
}
