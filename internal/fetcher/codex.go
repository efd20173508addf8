package fetcher

import (
	"context"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/quotio/quotiod/internal/errors"
	"github.com/quotio/quotiod/internal/httpx"
	"github.com/quotio/quotiod/internal/models"
)

const codexUsageBaseURL = "https://chatgpt.com"

// CodexFetcher reads the ChatGPT usage endpoint. The reply carries two
// rolling windows; they surface as the "codex-session" and "codex-weekly"
// quotas.
type CodexFetcher struct {
	Client *httpx.Client
}

// Provider implements Fetcher.
func (f *CodexFetcher) Provider() models.Provider {
	return models.ProviderCodex
}

// Fetch implements Fetcher.
func (f *CodexFetcher) Fetch(ctx context.Context, acc *models.Account) (*models.QuotaSnapshot, error) {
	url := baseURLOr(acc.BaseURL, codexUsageBaseURL) + "/backend-api/wham/usage"
	payload, err := doJSON(ctx, f.Client, http.MethodGet, url, nil, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+acc.AccessToken)
		req.Header.Set("ChatGPT-Account-Id", acc.AccountID)
		req.Header.Set("OAI-Language", "en-US")
	})
	if err != nil {
		return nil, err
	}

	snapshot := &models.QuotaSnapshot{
		PlanLabel: gjson.GetBytes(payload, "plan_type").String(),
	}
	if mq, ok := codexWindow(payload, "rate_limit.primary_window", "codex-session"); ok {
		snapshot.Models = append(snapshot.Models, mq)
	}
	if mq, ok := codexWindow(payload, "rate_limit.secondary_window", "codex-weekly"); ok {
		snapshot.Models = append(snapshot.Models, mq)
	}
	if len(snapshot.Models) == 0 {
		return nil, &errors.ErrNoQuotaData{Provider: string(models.ProviderCodex)}
	}
	return snapshot, nil
}

func codexWindow(payload []byte, path, name string) (models.ModelQuota, bool) {
	window := gjson.GetBytes(payload, path)
	if !window.Exists() {
		return models.ModelQuota{}, false
	}
	usedPercent := window.Get("used_percent")
	if !usedPercent.Exists() {
		return models.ModelQuota{}, false
	}
	return models.ModelQuota{
		Name:             name,
		PercentRemaining: models.ClampPercent(100 - usedPercent.Float()),
		ResetAt:          unixTimePtr(window.Get("reset_at").Int()),
	}, true
}
