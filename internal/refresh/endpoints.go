package refresh

// Token endpoints and public OAuth client identifiers per provider.
// These match what the corresponding CLI tools ship with.
const (
	claudeTokenURL = "https://console.anthropic.com/v1/oauth/token"
	claudeClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"

	qwenTokenURL = "https://chat.qwen.ai/api/v1/oauth2/token"
	qwenClientID = "f0304373b74a44d2b584a3fb70ca9e56"

	iflowTokenURL = "https://iflow.cn/oauth/token"
	iflowClientID = "10009311001"

	kimiTokenURL = "https://auth.kimi.com/oauth/token"
	kimiClientID = "17e5f671-d194-4dfb-9706-5516cb48c098"

	glmTokenURL = "https://open.bigmodel.cn/api/paas/v4/oauth/token"
	glmClientID = "glm-coding-cli"

	warpTokenURL = "https://app.warp.dev/oauth/token"
	warpClientID = "warp-terminal"

	codexTokenURL = "https://auth.openai.com/oauth/token"
	codexClientID = "app_EMoamEEZ73f0CkXaXp7hrann"

	googleTokenURL = "https://oauth2.googleapis.com/token"

	copilotTokenExchangeURL = "https://api.github.com/copilot_internal/v2/token"

	kiroSocialRefreshURL = "https://prod.us-east-1.auth.desktop.kiro.dev/refreshToken"
)
