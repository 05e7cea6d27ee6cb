// Package gateway holds the shared data model for the managed OpenClaw
// gateway: the installer's input config, persisted install state, and the
// result shapes handed to the presentation layer.
package gateway

import (
	"fmt"
	"strings"
)

// SourceMethod selects how the gateway package is acquired.
type SourceMethod string

const (
	SourceNpm    SourceMethod = "npm"
	SourceBun    SourceMethod = "bun"
	SourceGit    SourceMethod = "git"
	SourceBinary SourceMethod = "binary"
)

// ModelChain is the ordered model preference: primary plus fallbacks.
type ModelChain struct {
	Primary   string   `json:"primary"`
	Fallbacks []string `json:"fallbacks"`
}

// Validate enforces the provider/model shape of the primary entry and keeps
// the primary out of the fallback list.
func (m ModelChain) Validate() error {
	if m.Primary == "" {
		return fmt.Errorf("model chain primary is required")
	}
	parts := strings.SplitN(m.Primary, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("model chain primary %q must be provider/model", m.Primary)
	}
	for _, f := range m.Fallbacks {
		if f == m.Primary {
			return fmt.Errorf("model chain fallback %q duplicates the primary", f)
		}
	}
	return nil
}

// ConfigInput is the full configuration payload collected by the wizard.
// Optional string fields use pointers so "absent" and "empty" stay distinct.
type ConfigInput struct {
	InstallDir       string            `json:"install_dir"`
	Provider         string            `json:"provider"`
	ModelChain       ModelChain        `json:"model_chain"`
	APIKey           string            `json:"api_key"`
	ProviderAPIKeys  map[string]string `json:"provider_api_keys"`
	SelectedSkills   []string          `json:"selected_skills"`
	BaseURL          *string           `json:"base_url,omitempty"`
	Proxy            *string           `json:"proxy,omitempty"`
	Port             uint16            `json:"port"`
	BindAddress      string            `json:"bind_address"`
	SourceMethod     SourceMethod      `json:"source_method"`
	SourceURL        *string           `json:"source_url,omitempty"`
	LaunchArgs       string            `json:"launch_args"`
	OnboardingMode   string            `json:"onboarding_mode"`
	OnboardingFlow   string            `json:"onboarding_flow"`
	InstallDaemon    bool              `json:"install_daemon"`
	NodeManager      string            `json:"node_manager"`
	SkipChannels     bool              `json:"skip_channels"`
	SkipSkills       bool              `json:"skip_skills"`
	SkipHealth       bool              `json:"skip_health"`
	RemoteURL        *string           `json:"remote_url,omitempty"`
	RemoteToken      *string           `json:"remote_token,omitempty"`
	EnableSkillsScan bool              `json:"enable_skills_scan"`

	EnableSessionMemoryHook bool   `json:"enable_session_memory_hook"`
	EnableWorkspaceMemory   bool   `json:"enable_workspace_memory"`
	KimiRegion              string `json:"kimi_region"`

	EnableFeishuChannel   bool   `json:"enable_feishu_channel"`
	FeishuAppID           string `json:"feishu_app_id"`
	FeishuAppSecret       string `json:"feishu_app_secret"`
	EnableTelegramChannel bool   `json:"enable_telegram_channel"`
	TelegramBotToken      string `json:"telegram_bot_token"`
	TelegramPairCode      string `json:"telegram_pair_code"`

	AutoOpenDashboard bool `json:"auto_open_dashboard"`
}

// DefaultConfigInput returns the wizard defaults. The install dir is
// isolated from any pre-existing user-profile gateway install, and the port
// avoids the gateway's own default.
func DefaultConfigInput() ConfigInput {
	return ConfigInput{
		InstallDir: `%LOCALAPPDATA%\clawdesk\openclaw`,
		Provider:   "openai",
		ModelChain: ModelChain{Primary: "openai/gpt-5.2"},
		ProviderAPIKeys:  map[string]string{},
		SelectedSkills:   []string{"healthcheck", "skill-creator"},
		Port:             28789,
		BindAddress:      "127.0.0.1",
		SourceMethod:     SourceNpm,
		LaunchArgs:       "gateway",
		OnboardingMode:   "local",
		OnboardingFlow:   "quickstart",
		InstallDaemon:    true,
		NodeManager:      "npm",
		SkipHealth:       true,
		EnableSkillsScan: true,

		EnableSessionMemoryHook: true,
		EnableWorkspaceMemory:   true,
		KimiRegion:              "cn",

		AutoOpenDashboard: true,
	}
}

// Normalize fills defaults for empty fields and validates the result.
// Every boundary that accepts a ConfigInput calls this before trusting it.
func (c *ConfigInput) Normalize() error {
	def := DefaultConfigInput()
	if strings.TrimSpace(c.InstallDir) == "" {
		c.InstallDir = def.InstallDir
	}
	if c.Provider == "" {
		c.Provider = def.Provider
	}
	if c.ModelChain.Primary == "" {
		c.ModelChain = def.ModelChain
	}
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.BindAddress == "" {
		c.BindAddress = def.BindAddress
	}
	if c.SourceMethod == "" {
		c.SourceMethod = def.SourceMethod
	}
	if c.LaunchArgs == "" {
		c.LaunchArgs = def.LaunchArgs
	}
	if c.OnboardingMode == "" {
		c.OnboardingMode = def.OnboardingMode
	}
	if c.OnboardingFlow == "" {
		c.OnboardingFlow = def.OnboardingFlow
	}
	if c.NodeManager == "" {
		c.NodeManager = def.NodeManager
	}
	if c.KimiRegion == "" {
		c.KimiRegion = def.KimiRegion
	}
	if c.ProviderAPIKeys == nil {
		c.ProviderAPIKeys = map[string]string{}
	}
	return c.ModelChain.Validate()
}

// InstallState is the persisted record of a completed install.
type InstallState struct {
	Method      SourceMethod `json:"method"`
	InstallDir  string       `json:"install_dir"`
	SourceURL   *string      `json:"source_url,omitempty"`
	CommandPath string       `json:"command_path"`
	Version     string       `json:"version"`
	LaunchArgs  string       `json:"launch_args"`
}

// InstallLockInfo is the read-only view of the install lock.
type InstallLockInfo struct {
	Installed   bool    `json:"installed"`
	InstallDir  *string `json:"install_dir,omitempty"`
	Version     *string `json:"version,omitempty"`
	CommandPath *string `json:"command_path,omitempty"`
}

// FileConfig is the installer's own view of the last applied configuration,
// persisted alongside the install state.
type FileConfig struct {
	Provider    string     `json:"provider"`
	ModelChain  ModelChain `json:"model_chain"`
	APIKey      string     `json:"api_key"`
	BaseURL     *string    `json:"base_url,omitempty"`
	Proxy       *string    `json:"proxy,omitempty"`
	BindAddress string     `json:"bind_address"`
	Port        uint16     `json:"port"`
	InstallDir  string     `json:"install_dir"`
	LaunchArgs  string     `json:"launch_args"`
	UpdatedAt   string     `json:"updated_at"`
}

// SkillCatalogItem describes one installable gateway skill.
type SkillCatalogItem struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Eligible    bool   `json:"eligible"`
	Bundled     bool   `json:"bundled"`
	Source      string `json:"source"`
}
