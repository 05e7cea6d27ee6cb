// Package configurer drives the gateway's own non-interactive onboarding
// CLI and the follow-up configuration calls: model chain, provider keys,
// feature toggles, skills, channel integrations, and ACL hardening.
package configurer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/clawdesk/clawdesk/internal/cmdrunner"
	"github.com/clawdesk/clawdesk/internal/gateway"
	"github.com/clawdesk/clawdesk/internal/paths"
	"github.com/clawdesk/clawdesk/internal/statestore"
	"github.com/clawdesk/clawdesk/util"
)

// ErrNotConfigured is returned by read operations before configure has ever
// produced a config file.
var ErrNotConfigured = errors.New("config file not found")

// cliLogLimit bounds gateway CLI output snapshots in the log.
const cliLogLimit = 2000

// Result reports a configuration pass. Sub-step failures that do not
// invalidate the primary config write are collected as warnings.
type Result struct {
	ConfigPath string   `json:"config_path"`
	Warnings   []string `json:"warnings"`
}

// Configurer owns the gateway's config file content (read-modify-write,
// never fully regenerated once set).
type Configurer struct {
	runner cmdrunner.Runner
	base   paths.Paths
	store  *statestore.Store
}

func New(runner cmdrunner.Runner, base paths.Paths, store *statestore.Store) *Configurer {
	return &Configurer{runner: runner, base: base, store: store}
}

func (c *Configurer) livePaths() paths.Paths {
	return c.store.ResolvePaths(c.base)
}

// Configure runs the full configuration pipeline. The onboarding call is
// the only hard failure point; everything after it degrades to warnings
// because the primary config write already succeeded.
func (c *Configurer) Configure(ctx context.Context, cfg gateway.ConfigInput) (Result, error) {
	if err := cfg.Normalize(); err != nil {
		return Result{}, err
	}
	if err := c.validatePayload(cfg); err != nil {
		return Result{}, err
	}
	cfg.ModelChain.Primary = gateway.NormalizeModelKey(cfg.ModelChain.Primary)
	cfg.ModelChain.Fallbacks = gateway.NormalizeFallbacks(cfg.ModelChain.Fallbacks)

	installDir, err := paths.Normalize(cfg.InstallDir)
	if err != nil {
		return Result{}, err
	}
	live := c.base.WithGatewayHome(installDir)
	if err := live.EnsureDirs(); err != nil {
		return Result{}, err
	}

	var warnings []string

	if err := c.runOnboard(ctx, live, cfg, &warnings); err != nil {
		return Result{}, err
	}
	c.applyProviderKeys(live, cfg, &warnings)
	if err := c.applyModelChain(ctx, cfg.ModelChain, &warnings); err != nil {
		return Result{}, err
	}
	c.applyKimiRegionBaseURL(ctx, cfg, &warnings)
	c.applyFeatureToggles(ctx, live, cfg, &warnings)
	c.applySelectedSkills(ctx, live, cfg, &warnings)
	c.applyChannelIntegrations(ctx, cfg, &warnings)

	configPath := live.ConfigPath()
	warnings = append(warnings, c.hardenACL(ctx, configPath)...)
	if util.FileExists(live.EnvFilePath()) {
		warnings = append(warnings, c.hardenACL(ctx, live.EnvFilePath())...)
	}

	if err := c.store.SaveLastConfig(cfg); err != nil {
		return Result{}, err
	}
	log.Infof("Configuration updated via OpenClaw CLI: %s", configPath)

	if len(warnings) == 0 {
		warnings = append(warnings, "No warnings")
	}
	return Result{ConfigPath: configPath, Warnings: warnings}, nil
}

// SwitchModel applies a new model chain from the maintenance surface and
// keeps the persisted last config in sync.
func (c *Configurer) SwitchModel(ctx context.Context, primary string, fallbacks []string) (Result, error) {
	if strings.TrimSpace(primary) == "" {
		return Result{}, errors.New("primary model cannot be empty")
	}
	chain := gateway.ModelChain{
		Primary:   gateway.NormalizeModelKey(primary),
		Fallbacks: gateway.NormalizeFallbacks(fallbacks),
	}
	var warnings []string
	if err := c.applyModelChain(ctx, chain, &warnings); err != nil {
		return Result{}, err
	}

	if last, err := c.store.LoadLastConfig(); err == nil && last != nil {
		last.ModelChain = chain
		if provider, ok := gateway.ProviderFromModelKey(chain.Primary); ok {
			last.Provider = provider
		}
		if err := c.store.SaveLastConfig(*last); err != nil {
			return Result{}, err
		}
	}
	log.Info("Model chain switched from maintenance page.")
	return Result{ConfigPath: c.livePaths().ConfigPath(), Warnings: warnings}, nil
}

// UpdateProviderAPIKey upserts one provider's key in .env, or clears it
// when key is empty, without disturbing other providers' entries.
func (c *Configurer) UpdateProviderAPIKey(_ context.Context, provider, key string) (string, error) {
	providerID := gateway.NormalizeAuthProvider(provider)
	envName, ok := gateway.ProviderEnvName(providerID)
	if !ok {
		return "", fmt.Errorf("provider %q cannot be mapped to an API key environment variable", provider)
	}

	envPath := c.livePaths().EnvFilePath()
	value := strings.TrimSpace(key)
	if value != "" {
		if err := upsertEnvFile(envPath, map[string]string{envName: sanitizeEnvValue(value)}); err != nil {
			return "", err
		}
	} else {
		if err := removeEnvKeys(envPath, []string{envName}); err != nil {
			return "", err
		}
	}

	if last, err := c.store.LoadLastConfig(); err == nil && last != nil {
		if value != "" {
			last.ProviderAPIKeys[providerID] = value
			if gateway.NormalizeAuthProvider(last.Provider) == providerID {
				last.APIKey = value
			}
		} else {
			delete(last.ProviderAPIKeys, providerID)
			if gateway.NormalizeAuthProvider(last.Provider) == providerID {
				last.APIKey = ""
			}
		}
		if err := c.store.SaveLastConfig(*last); err != nil {
			return "", err
		}
	}

	log.Infof("Provider API key updated for provider %q via maintenance.", providerID)
	return fmt.Sprintf("Updated key for provider '%s'", providerID), nil
}

// ReadCurrentConfig parses the gateway's own config schema into the
// installer's view, filling gaps from the persisted last config.
func (c *Configurer) ReadCurrentConfig() (gateway.FileConfig, error) {
	live := c.livePaths()
	path := live.ConfigPath()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return gateway.FileConfig{}, fmt.Errorf("%w: %s", ErrNotConfigured, path)
		}
		return gateway.FileConfig{}, err
	}

	// Backward compatible: a config written by an old installer build
	// already matches the installer schema.
	var legacy gateway.FileConfig
	if err := json.Unmarshal(raw, &legacy); err == nil && legacy.Provider != "" && legacy.ModelChain.Primary != "" {
		return legacy, nil
	}

	var root map[string]interface{}
	if err := json.Unmarshal(raw, &root); err != nil {
		return gateway.FileConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}

	last := gateway.DefaultConfigInput()
	if stored, err := c.store.LoadLastConfig(); err == nil && stored != nil {
		last = *stored
	}
	install, _ := c.store.LoadInstallState()

	primary, ok := jsonString(root, "agents", "defaults", "model", "primary")
	if !ok {
		primary, ok = jsonString(root, "agents", "defaults", "model")
	}
	if !ok {
		primary = last.ModelChain.Primary
	}
	fallbacks, ok := jsonStringSlice(root, "agents", "defaults", "model", "fallbacks")
	if !ok {
		fallbacks = last.ModelChain.Fallbacks
	}
	primary = gateway.NormalizeModelKey(primary)
	fallbacks = gateway.NormalizeFallbacks(fallbacks)

	provider := last.Provider
	if p, ok := gateway.ProviderFromModelKey(primary); ok {
		provider = p
	}
	if strings.TrimSpace(provider) == "" {
		provider = "unknown"
	}

	port := last.Port
	if v, ok := jsonNumber(root, "gateway", "port"); ok && v > 0 && v <= 65535 {
		port = uint16(v)
	}
	if port == 0 {
		port = 28789
	}

	bindAddress := last.BindAddress
	if mode, ok := jsonString(root, "gateway", "bind"); ok {
		switch mode {
		case "lan":
			bindAddress = "0.0.0.0"
		case "loopback":
			bindAddress = "127.0.0.1"
		}
	}
	if strings.TrimSpace(bindAddress) == "" {
		bindAddress = "127.0.0.1"
	}

	apiKey := providerKeyForPayload(last, gateway.NormalizeAuthProvider(provider))
	if apiKey == "" {
		apiKey = strings.TrimSpace(last.APIKey)
	}

	updatedAt, ok := jsonString(root, "meta", "lastTouchedAt")
	if !ok {
		updatedAt = time.Now().Format(time.RFC3339)
	}

	installDir := live.GatewayHome()
	if install != nil {
		installDir = install.InstallDir
	}
	launchArgs := strings.TrimSpace(last.LaunchArgs)
	if launchArgs == "" {
		launchArgs = "gateway"
	}

	return gateway.FileConfig{
		Provider:    provider,
		ModelChain:  gateway.ModelChain{Primary: primary, Fallbacks: fallbacks},
		APIKey:      apiKey,
		BaseURL:     optionalNonEmpty(last.BaseURL),
		Proxy:       optionalNonEmpty(last.Proxy),
		BindAddress: bindAddress,
		Port:        port,
		InstallDir:  installDir,
		LaunchArgs:  launchArgs,
		UpdatedAt:   updatedAt,
	}, nil
}

// ReloadConfig validates the config file exists and reports; the gateway
// picks the content up on its next restart.
func (c *Configurer) ReloadConfig() (string, error) {
	if !util.FileExists(c.livePaths().ConfigPath()) {
		return "", ErrNotConfigured
	}
	log.Info("Reload config requested.")
	return "Configuration reloaded. If the process is running, restart for full effect.", nil
}

// runCLI invokes the gateway CLI with the persisted command path (validated
// and with fallbacks), the config/state env contract, and optional proxy.
func (c *Configurer) runCLI(ctx context.Context, args []string, proxy *string) (cmdrunner.Output, error) {
	install, err := c.store.LoadInstallState()
	if err != nil {
		return cmdrunner.Output{}, err
	}
	if install == nil {
		return cmdrunner.Output{}, errors.New("install state not found, run install first")
	}
	command, err := gateway.ResolveCommand(ctx, c.runner, install.CommandPath)
	if err != nil {
		return cmdrunner.Output{}, err
	}

	live := c.livePaths()
	env := []string{
		"OPENCLAW_CONFIG_PATH=" + live.ConfigPath(),
		"OPENCLAW_STATE_DIR=" + live.GatewayHome(),
	}
	if p := optionalNonEmpty(proxy); p != nil {
		env = append(env, "HTTP_PROXY="+*p, "HTTPS_PROXY="+*p, "ALL_PROXY="+*p)
	}

	log.Infof("openclaw cli: %s %s", command, strings.Join(maskSensitiveArgs(args), " "))

	exe, fullArgs, err := gateway.Invocation(c.runner, command, args)
	if err != nil {
		return cmdrunner.Output{}, err
	}
	out, err := c.runner.Run(ctx, cmdrunner.Command{
		Path: exe, Args: fullArgs, Env: env, Timeout: 10 * time.Minute,
	})
	if err != nil {
		return out, err
	}
	logCLIResult(out)
	return out, nil
}

func (c *Configurer) validatePayload(cfg gateway.ConfigInput) error {
	if strings.TrimSpace(cfg.InstallDir) == "" {
		return errors.New("install directory is required")
	}
	installDir, err := paths.Normalize(cfg.InstallDir)
	if err != nil {
		return err
	}
	if paths.IsUserProfileGatewayDir(installDir) {
		return fmt.Errorf("unsafe install directory %s: choose a folder isolated from the user-profile gateway install", installDir)
	}
	provider, err := resolveProvider(cfg)
	if err != nil {
		return err
	}
	if strings.TrimSpace(provider) == "" {
		return errors.New("provider is required")
	}
	if strings.TrimSpace(cfg.ModelChain.Primary) == "" {
		return errors.New("primary model is required")
	}
	if cfg.Port == 0 {
		return errors.New("port must be within 1-65535")
	}
	if strings.TrimSpace(cfg.BindAddress) == "" {
		return errors.New("bind address cannot be empty")
	}
	if u := optionalNonEmpty(cfg.BaseURL); u != nil {
		if _, err := url.ParseRequestURI(*u); err != nil {
			return errors.New("base_url is not a valid URL")
		}
	}
	if p := optionalNonEmpty(cfg.Proxy); p != nil {
		if _, err := url.ParseRequestURI(*p); err != nil {
			return errors.New("proxy is not a valid URL")
		}
	}
	if _, ok := normalizeKimiRegion(cfg.KimiRegion); !ok {
		return errors.New("kimi_region must be cn|global")
	}
	if cfg.EnableTelegramChannel && strings.TrimSpace(cfg.TelegramBotToken) == "" {
		return errors.New("telegram bot token is required when the Telegram channel is enabled")
	}
	switch strings.TrimSpace(cfg.OnboardingFlow) {
	case "quickstart", "advanced", "manual":
	default:
		return errors.New("onboarding_flow must be quickstart|advanced|manual")
	}
	switch strings.TrimSpace(cfg.OnboardingMode) {
	case "local", "remote":
	default:
		return errors.New("onboarding_mode must be local|remote")
	}
	switch strings.TrimSpace(cfg.NodeManager) {
	case "npm", "pnpm", "bun":
	default:
		return errors.New("node_manager must be npm|pnpm|bun")
	}
	if strings.TrimSpace(cfg.OnboardingMode) == "remote" {
		remote := optionalNonEmpty(cfg.RemoteURL)
		if remote == nil {
			return errors.New("remote_url is required when onboarding_mode is remote")
		}
		if _, err := url.ParseRequestURI(*remote); err != nil {
			return errors.New("remote_url is not a valid URL")
		}
	}
	return nil
}

func resolveProvider(cfg gateway.ConfigInput) (string, error) {
	if provider, ok := gateway.ProviderFromModelKey(cfg.ModelChain.Primary); ok {
		return provider, nil
	}
	provider := strings.TrimSpace(cfg.Provider)
	if provider == "" {
		return "", errors.New("provider is required")
	}
	return provider, nil
}

// providerKeyForPayload finds a payload key for provider, honoring aliases.
func providerKeyForPayload(cfg gateway.ConfigInput, provider string) string {
	normalized := gateway.NormalizeAuthProvider(provider)
	for _, key := range []string{normalized, provider} {
		if v := strings.TrimSpace(cfg.ProviderAPIKeys[key]); v != "" {
			return v
		}
	}
	switch normalized {
	case "openai":
		return strings.TrimSpace(cfg.ProviderAPIKeys["openai-codex"])
	case "kimi-coding":
		return strings.TrimSpace(cfg.ProviderAPIKeys["kimi-code"])
	}
	return ""
}

func optionalNonEmpty(value *string) *string {
	if value == nil {
		return nil
	}
	s := strings.TrimSpace(*value)
	if s == "" {
		return nil
	}
	return &s
}

func sanitizeEnvValue(raw string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(raw)
}

func normalizeKimiRegion(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "cn":
		return "cn", true
	case "global":
		return "global", true
	default:
		return "", false
	}
}

func generateGatewayToken(length int) string {
	var b strings.Builder
	for b.Len() < length {
		b.WriteString(strings.ReplaceAll(uuid.New().String(), "-", ""))
	}
	return b.String()[:length]
}

func logCLIResult(out cmdrunner.Output) {
	if out.Code == 0 {
		return
	}
	if strings.TrimSpace(out.Stderr) != "" {
		log.Warnf("openclaw cli stderr: %s", cmdrunner.Truncate(out.Stderr, cliLogLimit))
	} else if strings.TrimSpace(out.Stdout) != "" {
		log.Warnf("openclaw cli stdout: %s", cmdrunner.Truncate(out.Stdout, cliLogLimit))
	}
}
