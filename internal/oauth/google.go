package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/quotio/quotiod/internal/models"
)

// Public OAuth client of the Gemini CLI; the resulting credential file
// carries it so later refreshes work offline.
const (
	googleOAuthClientID     = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	googleOAuthClientSecret = "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"
	googleAuthURL           = "https://accounts.google.com/o/oauth2/auth"
	googleTokenURL          = "https://oauth2.googleapis.com/token"
	googleUserInfoURL       = "https://www.googleapis.com/oauth2/v1/userinfo?alt=json"
)

var googleScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// startGoogleFlow binds a loopback callback, returns the consent URL, and
// finishes the exchange in the background once the browser redirects.
func (m *Manager) startGoogleFlow(ctx context.Context, f *flow, projectID string) (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	port := listener.Addr().(*net.TCPAddr).Port

	conf := &oauth2.Config{
		ClientID:     googleOAuthClientID,
		ClientSecret: googleOAuthClientSecret,
		RedirectURL:  fmt.Sprintf("http://127.0.0.1:%d/oauth/callback", port),
		Scopes:       googleScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  googleAuthURL,
			TokenURL: googleTokenURL,
		},
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	code := make(chan string, 1)
	router.GET("/oauth/callback", func(c *gin.Context) {
		if errMsg := c.Query("error"); errMsg != "" {
			c.String(http.StatusBadRequest, "Login failed: %s. You can close this tab.", errMsg)
			code <- ""
			return
		}
		if c.Query("state") != f.state {
			c.String(http.StatusBadRequest, "State mismatch. You can close this tab.")
			code <- ""
			return
		}
		c.String(http.StatusOK, "Login complete. You can close this tab and return to Quotio.")
		code <- c.Query("code")
	})

	server := &http.Server{Handler: router}
	go func() {
		if serr := server.Serve(listener); serr != nil && serr != http.ErrServerClosed {
			log.Debugf("oauth callback server: %v", serr)
		}
	}()

	go func() {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()

		var authCode string
		select {
		case <-ctx.Done():
			m.complete(f, "", nil, fmt.Errorf("login timed out"))
			return
		case authCode = <-code:
		}
		if authCode == "" {
			m.complete(f, "", nil, fmt.Errorf("authorization was denied"))
			return
		}

		exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, m.client.HTTPClient())
		token, err := conf.Exchange(exchangeCtx, authCode)
		if err != nil {
			m.complete(f, "", nil, err)
			return
		}

		email, err := m.fetchGoogleEmail(ctx, token.AccessToken)
		if err != nil {
			m.complete(f, "", nil, err)
			return
		}

		raw, key := googleCredentialFile(f.provider, email, projectID, token)
		m.complete(f, key, raw, nil)
	}()

	return conf.AuthCodeURL(f.state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

func (m *Manager) fetchGoogleEmail(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleUserInfoURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := m.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var parsed struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if parsed.Email == "" {
		return "", fmt.Errorf("userinfo reply carried no email")
	}
	return parsed.Email, nil
}

func googleCredentialFile(provider models.Provider, email, projectID string, token *oauth2.Token) ([]byte, string) {
	payload := map[string]any{
		"type":  string(provider),
		"email": email,
		"token": map[string]any{
			"access_token":  token.AccessToken,
			"refresh_token": token.RefreshToken,
			"client_id":     googleOAuthClientID,
			"client_secret": googleOAuthClientSecret,
			"token_uri":     googleTokenURL,
			"expiry":        token.Expiry.UTC().Format(time.RFC3339Nano),
		},
	}
	if projectID != "" {
		payload["project_id"] = projectID
	}
	raw, _ := json.MarshalIndent(payload, "", "  ")
	return raw, accountKeyFor(provider, email)
}
