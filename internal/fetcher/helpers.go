package fetcher

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quotio/quotiod/internal/errors"
	"github.com/quotio/quotiod/internal/httpx"
	"github.com/quotio/quotiod/pkg/headers"
)

func stdAs(err error, target any) bool {
	return stderrors.As(err, target)
}

// doJSON issues one provider request and returns the body, converting
// non-2xx replies into ErrHTTPStatus so the registry can react to
// 401/403/429 uniformly.
func doJSON(ctx context.Context, client *httpx.Client, method, url string, body []byte, decorate func(*http.Request)) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if decorate != nil {
		decorate(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &errors.ErrHTTPStatus{
			StatusCode: resp.StatusCode,
			Body:       summarize(payload),
			RetryAfter: headers.RetryAfterSeconds(resp.Header),
		}
	}
	return payload, nil
}

func summarize(payload []byte) string {
	const max = 512
	trimmed := strings.TrimSpace(string(payload))
	if len(trimmed) > max {
		return trimmed[:max] + "...(truncated)"
	}
	return trimmed
}

func bearer(token string) func(*http.Request) {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// baseURLOr returns the account's base URL override or the default.
// Remote mode reduces to this: the tunnel endpoint lands in base_url.
func baseURLOr(override, def string) string {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSuffix(strings.TrimSpace(override), "/")
	}
	return def
}

func unixTimePtr(seconds int64) *time.Time {
	if seconds <= 0 {
		return nil
	}
	t := time.Unix(seconds, 0).UTC()
	return &t
}

func rfc3339Ptr(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
