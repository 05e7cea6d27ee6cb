package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelChainValidate(t *testing.T) {
	assert.NoError(t, ModelChain{Primary: "openai/gpt-5.2"}.Validate())
	assert.Error(t, ModelChain{}.Validate())
	assert.Error(t, ModelChain{Primary: "openai"}.Validate())
	assert.Error(t, ModelChain{Primary: "openai/"}.Validate())
	assert.Error(t, ModelChain{
		Primary:   "openai/gpt-5.2",
		Fallbacks: []string{"openai/gpt-5.2"},
	}.Validate())
}

func TestConfigInputNormalizeDefaults(t *testing.T) {
	cfg := ConfigInput{}
	require.NoError(t, cfg.Normalize())

	assert.Equal(t, uint16(28789), cfg.Port)
	assert.Equal(t, "127.0.0.1", cfg.BindAddress)
	assert.Equal(t, SourceNpm, cfg.SourceMethod)
	assert.Equal(t, "gateway", cfg.LaunchArgs)
	assert.Equal(t, "quickstart", cfg.OnboardingFlow)
	assert.Equal(t, "local", cfg.OnboardingMode)
	assert.Equal(t, "npm", cfg.NodeManager)
	assert.Equal(t, "cn", cfg.KimiRegion)
	assert.NotNil(t, cfg.ProviderAPIKeys)
	assert.NotEmpty(t, cfg.ModelChain.Primary)
}

func TestConfigInputNormalizeKeepsExplicitValues(t *testing.T) {
	cfg := ConfigInput{
		Port:        31000,
		BindAddress: "0.0.0.0",
		ModelChain:  ModelChain{Primary: "anthropic/claude"},
	}
	require.NoError(t, cfg.Normalize())
	assert.Equal(t, uint16(31000), cfg.Port)
	assert.Equal(t, "0.0.0.0", cfg.BindAddress)
	assert.Equal(t, "anthropic/claude", cfg.ModelChain.Primary)
}

func TestConfigInputNormalizeRejectsBadChain(t *testing.T) {
	cfg := ConfigInput{ModelChain: ModelChain{Primary: "nodelimiter"}}
	assert.Error(t, cfg.Normalize())
}
