package configurer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/clawdesk/clawdesk/internal/gateway"
	"github.com/clawdesk/clawdesk/internal/paths"
	"github.com/clawdesk/clawdesk/util"
)

// kimiRegionBaseURLs routes Kimi traffic to the regional Moonshot endpoint.
var kimiRegionBaseURLs = map[string]string{
	"cn":     "https://api.moonshot.cn/v1",
	"global": "https://api.moonshot.ai/v1",
}

// workspaceMemoryScaffold seeds the workspace memory index on first run.
const workspaceMemoryScaffold = "# MEMORY\n\n- Notes persisted by ClawDesk.\n"

// applyProviderKeys writes every provider API key into the gateway's .env
// file and flags chain providers that have no key. Key material never goes
// through CLI arguments here, only through the env file.
func (c *Configurer) applyProviderKeys(live paths.Paths, cfg gateway.ConfigInput, warnings *[]string) {
	updates := map[string]string{}
	var removals []string

	for provider, key := range cfg.ProviderAPIKeys {
		envName, ok := gateway.ProviderEnvName(provider)
		if !ok {
			*warnings = append(*warnings, fmt.Sprintf("Provider %q cannot be mapped to an API key variable; its key was not applied.", provider))
			continue
		}
		if value := strings.TrimSpace(key); value != "" {
			updates[envName] = sanitizeEnvValue(value)
		} else {
			removals = append(removals, envName)
		}
	}

	// Legacy single-key payloads bind the key to the primary provider.
	if legacy := strings.TrimSpace(cfg.APIKey); legacy != "" {
		provider := cfg.Provider
		if p, ok := gateway.ProviderFromModelKey(cfg.ModelChain.Primary); ok {
			provider = p
		}
		if envName, ok := gateway.ProviderEnvName(provider); ok {
			if _, already := updates[envName]; !already {
				updates[envName] = sanitizeEnvValue(legacy)
			}
		}
	}

	envPath := live.EnvFilePath()
	if err := upsertEnvFile(envPath, updates); err != nil {
		*warnings = append(*warnings, fmt.Sprintf("Failed to write provider keys to .env: %v", err))
	}
	if err := removeEnvKeys(envPath, removals); err != nil {
		*warnings = append(*warnings, fmt.Sprintf("Failed to clear provider keys from .env: %v", err))
	}

	for _, provider := range gateway.ProvidersFromModelChain(cfg.ModelChain) {
		envName, ok := gateway.ProviderEnvName(provider)
		if !ok {
			continue
		}
		if _, set := updates[envName]; !set {
			*warnings = append(*warnings, fmt.Sprintf("Model chain references provider %q but no API key was supplied for it.", provider))
		}
	}
}

// applyModelChain sets the primary model and rebuilds the fallback list via
// the gateway CLI. The primary set is mandatory; fallback failures degrade
// to warnings.
func (c *Configurer) applyModelChain(ctx context.Context, chain gateway.ModelChain, warnings *[]string) error {
	out, err := c.runCLI(ctx, []string{"models", "set", chain.Primary}, nil)
	if err != nil {
		return fmt.Errorf("set primary model: %w", err)
	}
	if out.Code != 0 {
		return fmt.Errorf("set primary model %q failed: %s", chain.Primary, strings.TrimSpace(out.Stderr))
	}

	if out, err := c.runCLI(ctx, []string{"models", "fallbacks", "clear"}, nil); err != nil || out.Code != 0 {
		*warnings = append(*warnings, "Failed to clear model fallbacks; the previous fallback list may persist.")
	}
	for _, fallback := range chain.Fallbacks {
		if fallback == chain.Primary {
			continue
		}
		if out, err := c.runCLI(ctx, []string{"models", "fallbacks", "add", fallback}, nil); err != nil || out.Code != 0 {
			*warnings = append(*warnings, fmt.Sprintf("Failed to register fallback model %q.", fallback))
		}
	}
	return nil
}

// applyKimiRegionBaseURL pins the Moonshot base URL for the selected region
// on every Kimi-family provider in the chain. kimi-coding rides the same
// Moonshot endpoints, so it re-points moonshot as well.
func (c *Configurer) applyKimiRegionBaseURL(ctx context.Context, cfg gateway.ConfigInput, warnings *[]string) {
	region, ok := normalizeKimiRegion(cfg.KimiRegion)
	if !ok {
		return
	}
	baseURL := kimiRegionBaseURLs[region]

	targets := map[string]bool{}
	for _, provider := range gateway.ProvidersFromModelChain(cfg.ModelChain) {
		switch provider {
		case "moonshot":
			targets["moonshot"] = true
		case "kimi-coding":
			targets["kimi-coding"] = true
			targets["moonshot"] = true
		}
	}
	for _, provider := range []string{"moonshot", "kimi-coding"} {
		if !targets[provider] {
			continue
		}
		path := fmt.Sprintf("models.providers.%s.baseUrl", provider)
		if out, err := c.runCLI(ctx, []string{"config", "set", path, baseURL}, nil); err != nil || out.Code != 0 {
			*warnings = append(*warnings, fmt.Sprintf("Failed to set %s for region %q.", path, region))
		}
	}
}

// applyFeatureToggles handles the session memory hook, the workspace memory
// scaffold, and the optional skills environment scan. All best-effort.
func (c *Configurer) applyFeatureToggles(ctx context.Context, live paths.Paths, cfg gateway.ConfigInput, warnings *[]string) {
	hookAction := "disable"
	if cfg.EnableSessionMemoryHook {
		hookAction = "enable"
	}
	if out, err := c.runCLI(ctx, []string{"hooks", hookAction, "session-memory"}, nil); err != nil || out.Code != 0 {
		*warnings = append(*warnings, fmt.Sprintf("Failed to %s the session-memory hook.", hookAction))
	}

	if cfg.EnableWorkspaceMemory {
		memoryDir := filepath.Join(live.GatewayHome(), "workspace", "memory")
		if err := os.MkdirAll(memoryDir, 0o750); err != nil {
			*warnings = append(*warnings, fmt.Sprintf("Failed to create workspace memory directory: %v", err))
		} else {
			indexPath := filepath.Join(live.GatewayHome(), "workspace", "MEMORY.md")
			if !util.FileExists(indexPath) {
				if err := os.WriteFile(indexPath, []byte(workspaceMemoryScaffold), 0o640); err != nil {
					*warnings = append(*warnings, fmt.Sprintf("Failed to seed workspace memory index: %v", err))
				}
			}
		}
	}

	if cfg.EnableSkillsScan {
		if out, err := c.runCLI(ctx, []string{"skills", "check"}, nil); err != nil || out.Code != 0 {
			*warnings = append(*warnings, "Skills environment scan reported problems; run 'openclaw skills check' for details.")
		} else {
			log.Debug("Skills environment scan passed.")
		}
	}
}
