package core

import "strings"

const (
	// PlaceholderModel is the sentinel the editor writes before a real
	// model name is known.
	PlaceholderModel = "default"

	// FallbackModel is used when neither the turn nor the conversation
	// carries a usable model name.
	FallbackModel = "unknown"

	// FallbackProvider is used when no prefix rule matches the model.
	FallbackProvider = "unknown"
)

// providerPrefixes maps a case-insensitive model-name prefix to a
// provider ID. First match wins.
var providerPrefixes = []struct {
	prefix   string
	provider string
}{
	{"claude", "anthropic"},
	{"anthropic", "anthropic"},
	{"gpt", "openai"},
	{"o1", "openai"},
	{"o3", "openai"},
	{"o4", "openai"},
	{"codex", "openai"},
	{"gemini", "google"},
	{"deepseek", "deepseek"},
	{"grok", "xai"},
	{"kimi", "moonshot"},
	{"composer", "cursor"},
	{"cursor", "cursor"},
}

// ResolveModel picks the effective model for a turn: the per-turn
// override first, then the conversation default, then FallbackModel.
// Placeholder values are treated as absent.
func ResolveModel(turnModel, conversationModel string) string {
	for _, m := range []string{turnModel, conversationModel} {
		m = strings.TrimSpace(m)
		if m != "" && !strings.EqualFold(m, PlaceholderModel) {
			return m
		}
	}
	return FallbackModel
}

// ProviderForModel resolves a provider ID from a model name by
// case-insensitive prefix matching.
func ProviderForModel(model string) string {
	lower := strings.ToLower(strings.TrimSpace(model))
	for _, p := range providerPrefixes {
		if strings.HasPrefix(lower, p.prefix) {
			return p.provider
		}
	}
	return FallbackProvider
}
