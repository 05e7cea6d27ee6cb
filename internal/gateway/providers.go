package gateway

import (
	"sort"
	"strings"
)

// providerEnvNames maps normalized provider ids to the env var the gateway
// reads the API key from. Providers outside this table get a generic name.
var providerEnvNames = map[string]string{
	"openai":      "OPENAI_API_KEY",
	"google":      "GEMINI_API_KEY",
	"moonshot":    "MOONSHOT_API_KEY",
	"kimi-coding": "KIMI_API_KEY",
	"xai":         "XAI_API_KEY",
	"anthropic":   "ANTHROPIC_API_KEY",
	"openrouter":  "OPENROUTER_API_KEY",
	"azure":       "AZURE_OPENAI_API_KEY",
	"zai":         "ZAI_API_KEY",
	"xiaomi":      "XIAOMI_API_KEY",
	"minimax":     "MINIMAX_API_KEY",
}

// authChoices maps normalized provider ids to the onboarding CLI's
// --auth-choice value and the flag carrying the key. Providers missing here
// fall back to --auth-choice skip.
var authChoices = map[string]struct{ Choice, Flag string }{
	"openai":      {"openai-api-key", "--openai-api-key"},
	"google":      {"gemini-api-key", "--gemini-api-key"},
	"moonshot":    {"moonshot-api-key", "--moonshot-api-key"},
	"kimi-coding": {"kimi-code-api-key", "--kimi-code-api-key"},
	"xai":         {"xai-api-key", "--xai-api-key"},
	"anthropic":   {"anthropic-api-key", "--anthropic-api-key"},
	"openrouter":  {"openrouter-api-key", "--openrouter-api-key"},
	"zai":         {"zai-api-key", "--zai-api-key"},
	"xiaomi":      {"xiaomi-api-key", "--xiaomi-api-key"},
	"minimax":     {"minimax-api", "--minimax-api-key"},
}

// NormalizeAuthProvider folds provider aliases onto their canonical id.
func NormalizeAuthProvider(provider string) string {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	// openai-codex models still authenticate with the OpenAI API key.
	case "openai-codex":
		return "openai"
	case "kimi-code":
		return "kimi-coding"
	default:
		return strings.ToLower(strings.TrimSpace(provider))
	}
}

// ProviderEnvName returns the .env variable holding a provider's API key.
func ProviderEnvName(provider string) (string, bool) {
	id := NormalizeAuthProvider(provider)
	if name, ok := providerEnvNames[id]; ok {
		return name, true
	}
	return genericProviderEnvName(id)
}

func genericProviderEnvName(provider string) (string, bool) {
	var b strings.Builder
	for _, ch := range provider {
		switch {
		case ch >= 'a' && ch <= 'z':
			b.WriteRune(ch - ('a' - 'A'))
		case (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9'):
			b.WriteRune(ch)
		default:
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		return "", false
	}
	return name + "_API_KEY", true
}

// AuthChoice returns the onboarding auth flags for a provider.
func AuthChoice(provider string) (choice, flag string, ok bool) {
	entry, ok := authChoices[NormalizeAuthProvider(provider)]
	return entry.Choice, entry.Flag, ok
}

// ProviderFromModelKey extracts the provider half of a provider/model key.
func ProviderFromModelKey(model string) (string, bool) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 {
		return "", false
	}
	provider := strings.TrimSpace(parts[0])
	if provider == "" || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return provider, true
}

// NormalizeModelKey rewrites known legacy model ids so old configs keep
// working. Example: moonshot/kimi-2.5 -> moonshot/kimi-k2.5.
func NormalizeModelKey(raw string) string {
	trimmed := strings.TrimSpace(raw)
	switch strings.ToLower(trimmed) {
	case "moonshot/kimi-2.5", "moonshot/kimi2.5":
		return "moonshot/kimi-k2.5"
	}
	return trimmed
}

// ProvidersFromModelChain lists every normalized provider referenced by the
// chain, sorted and deduplicated.
func ProvidersFromModelChain(chain ModelChain) []string {
	set := map[string]struct{}{}
	if p, ok := ProviderFromModelKey(chain.Primary); ok {
		set[NormalizeAuthProvider(p)] = struct{}{}
	}
	for _, f := range chain.Fallbacks {
		if p, ok := ProviderFromModelKey(f); ok {
			set[NormalizeAuthProvider(p)] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// NormalizeFallbacks trims, normalizes, and deduplicates fallback model
// keys, preserving order and dropping empties.
func NormalizeFallbacks(fallbacks []string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, item := range fallbacks {
		key := NormalizeModelKey(item)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
