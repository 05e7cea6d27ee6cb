package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawdesk/clawdesk/internal/configurer"
	"github.com/clawdesk/clawdesk/internal/gateway"
	"github.com/clawdesk/clawdesk/internal/installer"
)

type fakeInstaller struct {
	result installer.Result
	err    error
	// hook runs before returning, standing in for the reinstall's side
	// effects on the gateway home.
	hook func()
}

func (f *fakeInstaller) InstallForUpgrade(context.Context, gateway.ConfigInput) (installer.Result, error) {
	if f.hook != nil {
		f.hook()
	}
	return f.result, f.err
}

type fakeReconfigurer struct {
	result configurer.Result
	err    error
}

func (f *fakeReconfigurer) Configure(context.Context, gateway.ConfigInput) (configurer.Result, error) {
	return f.result, f.err
}

func upgradeFixture(t *testing.T) string {
	t.Helper()
	installDir := filepath.Join(t.TempDir(), "installed")
	writeFile(t, filepath.Join(installDir, "openclaw.json"), "stable")
	return installDir
}

func TestUpgradeRollsBackOnInstallFailure(t *testing.T) {
	m, store, _ := newTestManager(t)
	installDir := upgradeFixture(t)
	require.NoError(t, store.SaveInstallState(gateway.InstallState{
		Method: gateway.SourceNpm, InstallDir: installDir, Version: "2.0.0",
	}))

	configPath := filepath.Join(installDir, "openclaw.json")
	inst := &fakeInstaller{
		err:  errors.New("registry unreachable"),
		hook: func() { writeFile(t, configPath, "broken") },
	}

	result, err := m.Upgrade(context.Background(), inst, &fakeReconfigurer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry unreachable")
	assert.True(t, result.RolledBack)
	assert.True(t, strings.HasPrefix(result.BackupID, "pre-upgrade-"))
	assert.Equal(t, "2.0.0", result.OldVersion)

	raw, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, "stable", string(raw))
}

func TestUpgradeRollsBackOnReconfigureFailure(t *testing.T) {
	m, store, _ := newTestManager(t)
	installDir := upgradeFixture(t)
	require.NoError(t, store.SaveInstallState(gateway.InstallState{
		Method: gateway.SourceNpm, InstallDir: installDir, Version: "2.0.0",
	}))
	require.NoError(t, store.SaveLastConfig(gateway.DefaultConfigInput()))

	configPath := filepath.Join(installDir, "openclaw.json")
	inst := &fakeInstaller{
		result: installer.Result{Version: "2.1.0"},
		hook:   func() { writeFile(t, configPath, "half-configured") },
	}

	result, err := m.Upgrade(context.Background(), inst, &fakeReconfigurer{err: errors.New("onboarding failed")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reapply configuration")
	assert.True(t, result.RolledBack)
	assert.Equal(t, "2.1.0", result.NewVersion)

	raw, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, "stable", string(raw))
}

func TestUpgradeSuccessCarriesWarnings(t *testing.T) {
	m, store, _ := newTestManager(t)
	installDir := upgradeFixture(t)
	require.NoError(t, store.SaveInstallState(gateway.InstallState{
		Method: gateway.SourceNpm, InstallDir: installDir, Version: "2.0.0",
	}))
	require.NoError(t, store.SaveLastConfig(gateway.DefaultConfigInput()))

	inst := &fakeInstaller{result: installer.Result{Version: "2.1.0"}}
	reconf := &fakeReconfigurer{result: configurer.Result{Warnings: []string{"skill weather not eligible"}}}

	result, err := m.Upgrade(context.Background(), inst, reconf)
	require.NoError(t, err)
	assert.True(t, result.Updated)
	assert.False(t, result.RolledBack)
	assert.Equal(t, []string{"skill weather not eligible"}, result.Warnings)
}
