package cli

import "time"

// oauthPollInterval paces the login polling loop.
const oauthPollInterval = 2 * time.Second

func newTimer() *time.Timer {
	return time.NewTimer(oauthPollInterval)
}
