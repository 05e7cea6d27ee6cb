package configurer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/clawdesk/clawdesk/internal/gateway"
)

// pairingFailureMarkers are strings the pairing command prints on failure
// even when its exit code is zero.
var pairingFailureMarkers = []string{
	"failed to start cli:",
	"no pending pairing request found",
}

// applyChannelIntegrations wires the optional chat channels. Channel
// problems never fail the configure pass; the gateway works without them.
func (c *Configurer) applyChannelIntegrations(ctx context.Context, cfg gateway.ConfigInput, warnings *[]string) {
	if cfg.SkipChannels {
		return
	}
	if cfg.EnableFeishuChannel {
		c.configureFeishu(ctx, cfg, warnings)
	}
	if cfg.EnableTelegramChannel {
		c.configureTelegram(ctx, cfg, warnings)
	}
}

func (c *Configurer) configureFeishu(ctx context.Context, cfg gateway.ConfigInput, warnings *[]string) {
	if out, err := c.runCLI(ctx, []string{"plugins", "enable", "feishu"}, nil); err != nil || out.Code != 0 {
		*warnings = append(*warnings, "Failed to enable the Feishu plugin.")
	}

	if err := c.addChannelWithRetry(ctx, "feishu", []string{"channels", "add", "--channel", "feishu"}); err != nil {
		*warnings = append(*warnings, fmt.Sprintf("Failed to register the Feishu channel: %v", err))
		return
	}

	settings := [][2]string{
		{"channels.feishu.enabled", "true"},
		{"channels.feishu.appId", cfg.FeishuAppID},
		{"channels.feishu.appSecret", cfg.FeishuAppSecret},
		{"channels.feishu.domain", "feishu"},
		{"channels.feishu.connectionMode", "websocket"},
	}
	for _, kv := range settings {
		if out, err := c.runCLI(ctx, []string{"config", "set", kv[0], kv[1]}, nil); err != nil || out.Code != 0 {
			*warnings = append(*warnings, fmt.Sprintf("Failed to set %s for the Feishu channel.", kv[0]))
		}
	}

	// The Feishu websocket client only picks up credentials on startup.
	if out, err := c.runCLI(ctx, []string{"gateway", "restart"}, nil); err != nil || out.Code != 0 {
		*warnings = append(*warnings, "Feishu is configured but the gateway restart failed; restart it manually to connect.")
	}
}

func (c *Configurer) configureTelegram(ctx context.Context, cfg gateway.ConfigInput, warnings *[]string) {
	token := strings.TrimSpace(cfg.TelegramBotToken)
	if token == "" {
		*warnings = append(*warnings, "Telegram channel enabled without a bot token; skipped.")
		return
	}
	if err := c.addChannelWithRetry(ctx, "telegram", []string{"channels", "add", "--channel", "telegram", "--token", token}); err != nil {
		*warnings = append(*warnings, fmt.Sprintf("Failed to register the Telegram channel: %v", err))
		return
	}
	if strings.TrimSpace(cfg.TelegramPairCode) != "" {
		*warnings = append(*warnings, "Telegram pairing is completed separately once the gateway is running; use the pairing action with your code.")
	}
}

// addChannelWithRetry runs a channels-add command and, when the gateway
// reports the channel plugin as unknown, enables the plugin and retries
// after a gateway restart.
func (c *Configurer) addChannelWithRetry(ctx context.Context, channel string, args []string) error {
	out, err := c.runCLI(ctx, args, nil)
	if err != nil {
		return err
	}
	if out.Code == 0 {
		return nil
	}
	if !isUnknownChannel(out.Stdout + "\n" + out.Stderr) {
		return fmt.Errorf("exit %d: %s", out.Code, strings.TrimSpace(out.Stderr))
	}

	log.Infof("Channel %q not yet known to the gateway, enabling its plugin and retrying.", channel)
	if out, err := c.runCLI(ctx, []string{"plugins", "enable", channel}, nil); err != nil || out.Code != 0 {
		return fmt.Errorf("enable %s plugin failed", channel)
	}
	if out, err := c.runCLI(ctx, []string{"gateway", "restart"}, nil); err != nil || out.Code != 0 {
		log.Warnf("gateway restart after enabling %s plugin failed", channel)
	}

	retry, err := c.runCLI(ctx, args, nil)
	if err != nil {
		return err
	}
	if retry.Code != 0 {
		return fmt.Errorf("exit %d after plugin enable: %s", retry.Code, strings.TrimSpace(retry.Stderr))
	}
	return nil
}

// SetupTelegramPair approves a pending Telegram pairing request by code.
// Older gateways without the pairing command fall back to re-adding the
// channel with the code as the account.
func (c *Configurer) SetupTelegramPair(ctx context.Context, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", errors.New("pairing code cannot be empty")
	}

	out, err := c.runCLI(ctx, []string{"pairing", "approve", "telegram", code}, nil)
	if err != nil {
		return "", err
	}
	combined := out.Stdout + "\n" + out.Stderr

	if out.Code != 0 && isUnknownChannel(combined) {
		if innerOut, err := c.runCLI(ctx, []string{"plugins", "enable", "telegram"}, nil); err != nil || innerOut.Code != 0 {
			return "", errors.New("telegram plugin could not be enabled for pairing")
		}
		out, err = c.runCLI(ctx, []string{"pairing", "approve", "telegram", code}, nil)
		if err != nil {
			return "", err
		}
		combined = out.Stdout + "\n" + out.Stderr
	}

	if out.Code != 0 && isUnknownPairingCommand(combined) {
		return c.legacyTelegramPair(ctx, code)
	}
	if out.Code != 0 {
		return "", fmt.Errorf("pairing approve failed (exit %d): %s", out.Code, strings.TrimSpace(combined))
	}
	if marker, found := pairingOutputError(combined); found {
		return "", fmt.Errorf("pairing approve reported an error: %s", marker)
	}
	log.Info("Telegram pairing approved.")
	return "Telegram pairing approved.", nil
}

// legacyTelegramPair re-adds the channel with --account for gateways that
// predate the pairing command. The bot token comes from the last applied
// configuration.
func (c *Configurer) legacyTelegramPair(ctx context.Context, code string) (string, error) {
	last, err := c.store.LoadLastConfig()
	if err != nil || last == nil || strings.TrimSpace(last.TelegramBotToken) == "" {
		return "", errors.New("this gateway version needs the Telegram bot token for pairing, but none is stored; reconfigure first")
	}
	out, err := c.runCLI(ctx, []string{
		"channels", "add", "--channel", "telegram",
		"--token", strings.TrimSpace(last.TelegramBotToken),
		"--account", code,
	}, nil)
	if err != nil {
		return "", err
	}
	if out.Code != 0 {
		return "", fmt.Errorf("legacy telegram pairing failed (exit %d): %s", out.Code, strings.TrimSpace(out.Stderr))
	}
	return "Telegram pairing applied via channel re-registration.", nil
}

func isUnknownChannel(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "unknown channel")
}

func isUnknownPairingCommand(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "unknown command") && strings.Contains(lower, "pairing")
}

// pairingOutputError scans pairing output for failure text the CLI prints
// without a failing exit code.
func pairingOutputError(output string) (string, bool) {
	lower := strings.ToLower(output)
	for _, marker := range pairingFailureMarkers {
		if strings.Contains(lower, marker) {
			return marker, true
		}
	}
	if strings.Contains(lower, "pairing") && strings.Contains(lower, "error") {
		return "pairing error", true
	}
	return "", false
}
