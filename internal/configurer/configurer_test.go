package configurer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawdesk/clawdesk/internal/cmdrunner"
	"github.com/clawdesk/clawdesk/internal/gateway"
	"github.com/clawdesk/clawdesk/util"
)

func TestValidatePayload(t *testing.T) {
	c, _, _ := newTestConfigurer(t, &cmdrunner.FakeRunner{})

	valid := baseConfig(t)
	require.NoError(t, valid.Normalize())
	assert.NoError(t, c.validatePayload(valid))

	cases := []struct {
		name   string
		mutate func(*gateway.ConfigInput)
	}{
		{"empty install dir", func(cfg *gateway.ConfigInput) { cfg.InstallDir = "  " }},
		{"unsafe install dir", func(cfg *gateway.ConfigInput) {
			home, err := os.UserHomeDir()
			require.NoError(t, err)
			cfg.InstallDir = filepath.Join(home, ".openclaw")
		}},
		{"zero port", func(cfg *gateway.ConfigInput) { cfg.Port = 0 }},
		{"empty bind", func(cfg *gateway.ConfigInput) { cfg.BindAddress = " " }},
		{"bad base url", func(cfg *gateway.ConfigInput) { u := "not a url"; cfg.BaseURL = &u }},
		{"bad proxy", func(cfg *gateway.ConfigInput) { u := "::::"; cfg.Proxy = &u }},
		{"bad kimi region", func(cfg *gateway.ConfigInput) { cfg.KimiRegion = "eu" }},
		{"bad flow", func(cfg *gateway.ConfigInput) { cfg.OnboardingFlow = "express" }},
		{"bad mode", func(cfg *gateway.ConfigInput) { cfg.OnboardingMode = "cloud" }},
		{"bad node manager", func(cfg *gateway.ConfigInput) { cfg.NodeManager = "yarn" }},
		{"remote without url", func(cfg *gateway.ConfigInput) { cfg.OnboardingMode = "remote"; cfg.RemoteURL = nil }},
		{"telegram without token", func(cfg *gateway.ConfigInput) { cfg.EnableTelegramChannel = true; cfg.TelegramBotToken = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig(t)
			require.NoError(t, cfg.Normalize())
			tc.mutate(&cfg)
			assert.Error(t, c.validatePayload(cfg))
		})
	}
}

func TestUpdateProviderAPIKeyUpsertsAndClears(t *testing.T) {
	c, _, base := newTestConfigurer(t, &cmdrunner.FakeRunner{})

	_, err := c.UpdateProviderAPIKey(context.Background(), "openai-codex", "sk-new")
	require.NoError(t, err)

	raw, err := os.ReadFile(base.EnvFilePath())
	require.NoError(t, err)
	assert.Contains(t, string(raw), "OPENAI_API_KEY=sk-new")

	_, err = c.UpdateProviderAPIKey(context.Background(), "openai", "")
	require.NoError(t, err)
	raw, err = os.ReadFile(base.EnvFilePath())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "OPENAI_API_KEY")
}

func TestUpdateProviderAPIKeyUnmappableProvider(t *testing.T) {
	c, _, _ := newTestConfigurer(t, &cmdrunner.FakeRunner{})
	_, err := c.UpdateProviderAPIKey(context.Background(), "***", "key")
	assert.Error(t, err)
}

func TestReadCurrentConfigNotConfigured(t *testing.T) {
	c, _, _ := newTestConfigurer(t, &cmdrunner.FakeRunner{})
	_, err := c.ReadCurrentConfig()
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestReadCurrentConfigLegacySchema(t *testing.T) {
	c, _, base := newTestConfigurer(t, &cmdrunner.FakeRunner{})
	legacy := gateway.FileConfig{
		Provider:    "anthropic",
		ModelChain:  gateway.ModelChain{Primary: "anthropic/claude"},
		BindAddress: "127.0.0.1",
		Port:        29001,
		InstallDir:  base.GatewayHome(),
		LaunchArgs:  "gateway",
		UpdatedAt:   "2026-08-01T00:00:00Z",
	}
	require.NoError(t, util.WriteJson(base.ConfigPath(), legacy))

	got, err := c.ReadCurrentConfig()
	require.NoError(t, err)
	assert.Equal(t, legacy, got)
}

func TestReadCurrentConfigGatewaySchema(t *testing.T) {
	c, _, base := newTestConfigurer(t, &cmdrunner.FakeRunner{})
	require.NoError(t, util.WriteJson(base.ConfigPath(), map[string]interface{}{
		"agents": map[string]interface{}{
			"defaults": map[string]interface{}{
				"model": map[string]interface{}{
					"primary":   "moonshot/kimi-2.5",
					"fallbacks": []string{"openai/gpt-5.2"},
				},
			},
		},
		"gateway": map[string]interface{}{
			"port": 29500,
			"bind": "lan",
		},
		"meta": map[string]interface{}{"lastTouchedAt": "2026-08-20T10:00:00Z"},
	}))

	got, err := c.ReadCurrentConfig()
	require.NoError(t, err)
	// legacy model id is normalized on read
	assert.Equal(t, "moonshot/kimi-k2.5", got.ModelChain.Primary)
	assert.Equal(t, []string{"openai/gpt-5.2"}, got.ModelChain.Fallbacks)
	assert.Equal(t, "moonshot", got.Provider)
	assert.Equal(t, uint16(29500), got.Port)
	assert.Equal(t, "0.0.0.0", got.BindAddress)
	assert.Equal(t, "2026-08-20T10:00:00Z", got.UpdatedAt)
}

func TestReadCurrentConfigPlainModelString(t *testing.T) {
	c, _, base := newTestConfigurer(t, &cmdrunner.FakeRunner{})
	require.NoError(t, util.WriteJson(base.ConfigPath(), map[string]interface{}{
		"agents": map[string]interface{}{
			"defaults": map[string]interface{}{"model": "openai/gpt-5.2"},
		},
		"gateway": map[string]interface{}{"bind": "loopback"},
	}))

	got, err := c.ReadCurrentConfig()
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-5.2", got.ModelChain.Primary)
	assert.Equal(t, "127.0.0.1", got.BindAddress)
	assert.Equal(t, uint16(28789), got.Port)
}

func TestProviderKeyForPayloadAliases(t *testing.T) {
	cfg := gateway.DefaultConfigInput()
	cfg.ProviderAPIKeys = map[string]string{"openai-codex": "sk-codex"}
	assert.Equal(t, "sk-codex", providerKeyForPayload(cfg, "openai"))

	cfg.ProviderAPIKeys = map[string]string{"kimi-code": "kc-1"}
	assert.Equal(t, "kc-1", providerKeyForPayload(cfg, "kimi-coding"))

	cfg.ProviderAPIKeys = map[string]string{}
	assert.Equal(t, "", providerKeyForPayload(cfg, "openai"))
}
