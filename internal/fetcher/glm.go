package fetcher

import (
	"context"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/quotio/quotiod/internal/errors"
	"github.com/quotio/quotiod/internal/httpx"
	"github.com/quotio/quotiod/internal/models"
)

const glmAPIBaseURL = "https://open.bigmodel.cn"

// GLMFetcher reads the coding-plan usage counters from the BigModel
// platform.
type GLMFetcher struct {
	Client *httpx.Client
}

// Provider implements Fetcher.
func (f *GLMFetcher) Provider() models.Provider {
	return models.ProviderGLM
}

// Fetch implements Fetcher.
func (f *GLMFetcher) Fetch(ctx context.Context, acc *models.Account) (*models.QuotaSnapshot, error) {
	url := baseURLOr(acc.BaseURL, glmAPIBaseURL) + "/api/coding/usage"
	payload, err := doJSON(ctx, f.Client, http.MethodGet, url, nil, bearer(acc.AccessToken))
	if err != nil {
		return nil, err
	}

	data := gjson.GetBytes(payload, "data")
	snapshot := &models.QuotaSnapshot{PlanLabel: data.Get("plan_name").String()}
	for _, window := range data.Get("windows").Array() {
		name := window.Get("name").String()
		if name == "" {
			continue
		}
		percentUsed := window.Get("percent_used")
		if !percentUsed.Exists() {
			continue
		}
		snapshot.Models = append(snapshot.Models, models.ModelQuota{
			Name:             "glm-" + name,
			PercentRemaining: models.ClampPercent(100 - percentUsed.Float()),
			ResetAt:          rfc3339Ptr(window.Get("reset_at").String()),
		})
	}
	if len(snapshot.Models) == 0 {
		return nil, &errors.ErrNoQuotaData{Provider: string(models.ProviderGLM)}
	}
	return snapshot, nil
}
