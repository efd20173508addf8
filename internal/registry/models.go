// Package registry holds the static model catalog per provider, backing
// the auth.models RPC. The lists mirror what each vendor's CLI exposes;
// they change rarely and a stale entry is harmless.
package registry

import "github.com/quotio/quotiod/internal/models"

// ModelInfo is one selectable model.
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var providerModels = map[models.Provider][]ModelInfo{
	models.ProviderClaude: {
		{ID: "claude-opus-4-5", Name: "Claude Opus 4.5"},
		{ID: "claude-sonnet-4-5", Name: "Claude Sonnet 4.5"},
		{ID: "claude-haiku-4-5", Name: "Claude Haiku 4.5"},
	},
	models.ProviderCodex: {
		{ID: "gpt-5.2-codex", Name: "GPT-5.2 Codex"},
		{ID: "gpt-5.1-codex-mini", Name: "GPT-5.1 Codex Mini"},
	},
	models.ProviderGemini: {
		{ID: "gemini-3-pro-preview", Name: "Gemini 3 Pro"},
		{ID: "gemini-3-flash-preview", Name: "Gemini 3 Flash"},
		{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro"},
	},
	models.ProviderAntigravity: {
		{ID: "gemini-3-pro-preview", Name: "Gemini 3 Pro"},
		{ID: "gemini-claude-sonnet-4-5", Name: "Claude Sonnet 4.5 (Antigravity)"},
	},
	models.ProviderQwen: {
		{ID: "qwen3-coder-plus", Name: "Qwen3 Coder Plus"},
		{ID: "qwen3-coder-flash", Name: "Qwen3 Coder Flash"},
	},
	models.ProviderIFlow: {
		{ID: "tstars2.0", Name: "TStars 2.0"},
		{ID: "qwen3-max", Name: "Qwen3 Max (iFlow)"},
	},
	models.ProviderCopilot: {
		{ID: "gpt-5.1", Name: "GPT-5.1 (Copilot)"},
		{ID: "claude-sonnet-4-5", Name: "Claude Sonnet 4.5 (Copilot)"},
	},
	models.ProviderWarp: {
		{ID: "auto", Name: "Warp Auto"},
	},
	models.ProviderKimi: {
		{ID: "kimi-k2-thinking", Name: "Kimi K2 Thinking"},
		{ID: "kimi-k2-turbo", Name: "Kimi K2 Turbo"},
	},
	models.ProviderGLM: {
		{ID: "glm-4.7", Name: "GLM-4.7"},
		{ID: "glm-4.6-air", Name: "GLM-4.6 Air"},
	},
}

// ModelsFor returns the catalog entry for a provider; unknown providers
// yield an empty list.
func ModelsFor(p models.Provider) []ModelInfo {
	out := make([]ModelInfo, len(providerModels[p]))
	copy(out, providerModels[p])
	return out
}
