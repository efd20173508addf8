package fetcher

import (
	"context"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/quotio/quotiod/internal/errors"
	"github.com/quotio/quotiod/internal/httpx"
	"github.com/quotio/quotiod/internal/models"
)

const claudeUsageBaseURL = "https://api.anthropic.com"

// ClaudeFetcher reads the OAuth usage endpoint. Anthropic reports grouped
// utilization for the five-hour rate window and the seven-day window;
// both become distinct quotas with stable names.
type ClaudeFetcher struct {
	Client *httpx.Client
}

// Provider implements Fetcher.
func (f *ClaudeFetcher) Provider() models.Provider {
	return models.ProviderClaude
}

// Fetch implements Fetcher.
func (f *ClaudeFetcher) Fetch(ctx context.Context, acc *models.Account) (*models.QuotaSnapshot, error) {
	url := baseURLOr(acc.BaseURL, claudeUsageBaseURL) + "/api/oauth/usage"
	payload, err := doJSON(ctx, f.Client, http.MethodGet, url, nil, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+acc.AccessToken)
		req.Header.Set("anthropic-beta", "oauth-2025-04-20")
	})
	if err != nil {
		return nil, err
	}

	snapshot := &models.QuotaSnapshot{
		PlanLabel: gjson.GetBytes(payload, "account.plan").String(),
	}
	windows := []struct {
		path string
		name string
	}{
		{"five_hour", "claude-5h"},
		{"seven_day", "claude-weekly"},
		{"seven_day_opus", "claude-weekly-opus"},
	}
	for _, w := range windows {
		window := gjson.GetBytes(payload, w.path)
		if !window.Exists() {
			continue
		}
		utilization := window.Get("utilization")
		if !utilization.Exists() {
			continue
		}
		snapshot.Models = append(snapshot.Models, models.ModelQuota{
			Name:             w.name,
			PercentRemaining: models.ClampPercent(100 - utilization.Float()),
			ResetAt:          rfc3339Ptr(window.Get("resets_at").String()),
		})
	}
	if len(snapshot.Models) == 0 {
		return nil, &errors.ErrNoQuotaData{Provider: string(models.ProviderClaude)}
	}
	return snapshot, nil
}
