package fetcher

import (
	"context"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/quotio/quotiod/internal/errors"
	"github.com/quotio/quotiod/internal/httpx"
	"github.com/quotio/quotiod/internal/models"
)

const copilotAPIBaseURL = "https://api.github.com"

// CopilotFetcher reads the Copilot entitlement snapshots (chat,
// completions, premium interactions) for the signed-in GitHub user.
// The exchange token from the refresher is NOT valid here; this endpoint
// wants the long-lived GitHub OAuth token, which the credential file keeps
// in refresh_token.
type CopilotFetcher struct {
	Client *httpx.Client
}

// Provider implements Fetcher.
func (f *CopilotFetcher) Provider() models.Provider {
	return models.ProviderCopilot
}

// Fetch implements Fetcher.
func (f *CopilotFetcher) Fetch(ctx context.Context, acc *models.Account) (*models.QuotaSnapshot, error) {
	url := baseURLOr(acc.BaseURL, copilotAPIBaseURL) + "/copilot_internal/user"
	payload, err := doJSON(ctx, f.Client, http.MethodGet, url, nil, func(req *http.Request) {
		req.Header.Set("Authorization", "token "+acc.RefreshToken)
		req.Header.Set("Editor-Version", "vscode/1.96.0")
	})
	if err != nil {
		return nil, err
	}

	snapshot := &models.QuotaSnapshot{
		PlanLabel: gjson.GetBytes(payload, "copilot_plan").String(),
	}
	resetAt := rfc3339Ptr(gjson.GetBytes(payload, "quota_reset_date").String())
	gjson.GetBytes(payload, "quota_snapshots").ForEach(func(key, value gjson.Result) bool {
		if value.Get("unlimited").Bool() {
			return true
		}
		percent := value.Get("percent_remaining")
		if !percent.Exists() {
			return true
		}
		mq := models.ModelQuota{
			Name:             "copilot-" + key.String(),
			PercentRemaining: models.ClampPercent(percent.Float()),
			ResetAt:          resetAt,
		}
		if value.Get("entitlement").Exists() && value.Get("remaining").Exists() {
			limit := value.Get("entitlement").Int()
			remaining := value.Get("remaining").Int()
			mq = models.NewModelQuota("copilot-"+key.String(), limit-remaining, limit, resetAt)
		}
		snapshot.Models = append(snapshot.Models, mq)
		return true
	})
	if len(snapshot.Models) == 0 {
		return nil, &errors.ErrNoQuotaData{Provider: string(models.ProviderCopilot)}
	}
	return snapshot, nil
}
