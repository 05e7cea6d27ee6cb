package configurer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/clawdesk/clawdesk/internal/cmdrunner"
	"github.com/clawdesk/clawdesk/internal/gateway"
	"github.com/clawdesk/clawdesk/internal/paths"
)

// gatewayTokenLength matches the gateway's expected token format.
const gatewayTokenLength = 40

// transientGatewayMarkers identify the gateway's abnormal-close failure mode
// during onboarding. The close happens when onboarding restarts the gateway
// mid-handshake; a reduced manual pass completes the config write.
var transientGatewayMarkers = []string{"gateway closed (1006"}

// onboardRetryStripFlags are removed from the original argument list before
// the reduced retry appends its own replacements.
var onboardRetryStripFlags = map[string]bool{
	"--install-daemon":    true,
	"--no-install-daemon": true,
	"--skip-health":       true,
	"--skip-channels":     true,
	"--skip-skills":       true,
}

// runOnboard executes the gateway's non-interactive onboarding, which writes
// the primary config file. On the known transient gateway-close failure it
// retries once with a reduced manual flow.
func (c *Configurer) runOnboard(ctx context.Context, live paths.Paths, cfg gateway.ConfigInput, warnings *[]string) error {
	args := c.buildOnboardArgs(ctx, live, cfg, warnings)

	out, err := c.runCLI(ctx, args, cfg.Proxy)
	if err != nil {
		return fmt.Errorf("run onboarding: %w", err)
	}
	if out.Code == 0 {
		return nil
	}

	combined := out.Stdout + "\n" + out.Stderr
	if !isTransientGatewayClose(combined) {
		return fmt.Errorf("onboarding failed (exit %d): %s", out.Code, cmdrunner.Truncate(combined, cliLogLimit))
	}

	log.Warn("Onboarding hit a transient gateway close, retrying with a reduced manual flow.")
	retryArgs := reducedOnboardArgs(args)
	retryOut, err := c.runCLI(ctx, retryArgs, cfg.Proxy)
	if err != nil {
		return fmt.Errorf("run onboarding retry: %w", err)
	}
	if retryOut.Code != 0 {
		return fmt.Errorf("onboarding retry failed (exit %d): %s", retryOut.Code,
			cmdrunner.Truncate(retryOut.Stdout+"\n"+retryOut.Stderr, cliLogLimit))
	}
	*warnings = append(*warnings, "Onboarding required a reduced retry after a transient gateway restart; daemon install and health check were skipped.")
	return nil
}

func (c *Configurer) buildOnboardArgs(ctx context.Context, live paths.Paths, cfg gateway.ConfigInput, warnings *[]string) []string {
	bindMode := "loopback"
	switch strings.TrimSpace(cfg.BindAddress) {
	case "", "127.0.0.1", "localhost", "::1":
	default:
		bindMode = "lan"
	}

	args := []string{
		"onboard",
		"--non-interactive",
		"--accept-risk",
		"--flow", cfg.OnboardingFlow,
		"--mode", cfg.OnboardingMode,
		"--skip-ui",
		"--gateway-port", fmt.Sprintf("%d", cfg.Port),
		"--gateway-bind", bindMode,
		"--gateway-auth", "token",
		"--gateway-token", c.gatewayToken(live),
		"--workspace", filepath.Join(live.GatewayHome(), "workspace"),
		"--node-manager", cfg.NodeManager,
	}

	if cfg.SkipChannels {
		args = append(args, "--skip-channels")
	}
	if cfg.SkipSkills {
		args = append(args, "--skip-skills")
	}

	skipHealth := cfg.SkipHealth
	if cfg.InstallDaemon {
		if cmdrunner.IsAdmin(ctx, c.runner) {
			args = append(args, "--install-daemon")
		} else {
			args = append(args, "--no-install-daemon")
			// Daemon install without elevation would stall inside the
			// onboarding health wait, so it is skipped as well.
			skipHealth = true
			*warnings = append(*warnings, "Daemon install requires administrator rights; continuing without a daemon.")
		}
	} else {
		args = append(args, "--no-install-daemon")
	}
	if skipHealth {
		args = append(args, "--skip-health")
	}

	if cfg.OnboardingMode == "remote" {
		if remote := optionalNonEmpty(cfg.RemoteURL); remote != nil {
			args = append(args, "--remote-url", *remote)
		}
		if token := optionalNonEmpty(cfg.RemoteToken); token != nil {
			args = append(args, "--remote-token", *token)
		}
	}

	provider := gateway.NormalizeAuthProvider(cfg.Provider)
	if p, ok := gateway.ProviderFromModelKey(cfg.ModelChain.Primary); ok {
		provider = gateway.NormalizeAuthProvider(p)
	}
	key := providerKeyForPayload(cfg, provider)
	if key == "" {
		key = strings.TrimSpace(cfg.APIKey)
	}
	switch {
	case key == "":
		args = append(args, "--auth-choice", "skip")
	default:
		choice, flag, ok := gateway.AuthChoice(provider)
		if !ok {
			*warnings = append(*warnings, fmt.Sprintf("Provider %q has no onboarding auth mapping; the API key is applied via .env only.", provider))
			args = append(args, "--auth-choice", "skip")
		} else {
			args = append(args, "--auth-choice", choice, flag, key)
		}
	}
	return args
}

// gatewayToken reuses the token from an existing config when the gateway is
// already in token auth mode, so reconfiguration never invalidates paired
// clients. Otherwise a fresh token is generated.
func (c *Configurer) gatewayToken(live paths.Paths) string {
	raw, err := os.ReadFile(live.ConfigPath())
	if err == nil {
		var root map[string]interface{}
		if json.Unmarshal(raw, &root) == nil {
			mode, _ := jsonString(root, "gateway", "auth", "mode")
			token, _ := jsonString(root, "gateway", "auth", "token")
			if mode == "token" && strings.TrimSpace(token) != "" {
				return token
			}
		}
	}
	return generateGatewayToken(gatewayTokenLength)
}

// reducedOnboardArgs rewrites the original onboarding invocation into the
// minimal manual pass used after a transient gateway close.
func reducedOnboardArgs(args []string) []string {
	out := make([]string, 0, len(args)+6)
	for i := 0; i < len(args); i++ {
		if onboardRetryStripFlags[args[i]] {
			continue
		}
		if args[i] == "--flow" {
			i++ // drop the value too
			continue
		}
		out = append(out, args[i])
	}
	return append(out,
		"--flow", "manual",
		"--no-install-daemon",
		"--skip-health",
		"--skip-channels",
		"--skip-skills",
	)
}

func isTransientGatewayClose(output string) bool {
	lower := strings.ToLower(output)
	for _, marker := range transientGatewayMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return strings.Contains(lower, "gateway closed") && strings.Contains(lower, "1006")
}

// secretValueFlags name CLI flags whose next argument is a credential and
// must never reach the log.
var secretValueFlags = map[string]bool{
	"--openai-api-key":    true,
	"--gemini-api-key":    true,
	"--moonshot-api-key":  true,
	"--kimi-code-api-key": true,
	"--xai-api-key":       true,
	"--anthropic-api-key": true,
	"--openrouter-api-key": true,
	"--zai-api-key":        true,
	"--xiaomi-api-key":     true,
	"--minimax-api-key":    true,
	"--token":              true,
	"--remote-token":       true,
	"--gateway-token":      true,
	"--gateway-password":   true,
	"--access-token":       true,
	"--app-token":          true,
	"--bot-token":          true,
	"--password":           true,
}

// maskSensitiveArgs replaces credential values with a placeholder for
// logging. It also masks `config set <secret path> <value>` invocations.
func maskSensitiveArgs(args []string) []string {
	masked := make([]string, len(args))
	copy(masked, args)
	for i := 0; i < len(masked); i++ {
		if secretValueFlags[strings.ToLower(masked[i])] && i+1 < len(masked) {
			masked[i+1] = "******"
			i++
			continue
		}
		if strings.Contains(strings.ToLower(masked[i]), "appsecret") && i+1 < len(masked) {
			masked[i+1] = "******"
			i++
		}
	}
	return masked
}
