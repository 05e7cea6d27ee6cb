package installer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawdesk/clawdesk/internal/cmdrunner"
	"github.com/clawdesk/clawdesk/internal/gateway"
	"github.com/clawdesk/clawdesk/internal/paths"
	"github.com/clawdesk/clawdesk/internal/statestore"
)

func newTestInstaller(t *testing.T, runner cmdrunner.Runner) (*Installer, *statestore.Store, paths.Paths) {
	t.Helper()
	base := paths.New(t.TempDir(), "")
	store := statestore.New(base)
	return New(runner, base, store), store, base
}

func TestInstallRefusesWhenLocked(t *testing.T) {
	inst, store, _ := newTestInstaller(t, &cmdrunner.FakeRunner{})
	require.NoError(t, store.SaveInstallState(gateway.InstallState{
		Method:     gateway.SourceNpm,
		InstallDir: filepath.Join(t.TempDir(), "openclaw"),
		Version:    "2.0.0",
	}))

	cfg := gateway.DefaultConfigInput()
	cfg.InstallDir = filepath.Join(t.TempDir(), "elsewhere")
	_, err := inst.Install(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrAlreadyInstalled)
}

func TestInstallRefusesUserProfileGatewayDir(t *testing.T) {
	inst, _, _ := newTestInstaller(t, &cmdrunner.FakeRunner{})
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg := gateway.DefaultConfigInput()
	cfg.InstallDir = filepath.Join(home, ".openclaw")
	_, err = inst.Install(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsafe install directory")
}

func npmFailureRunner(t *testing.T, stderrByAttempt []string) (*cmdrunner.FakeRunner, *int, *[][]string) {
	t.Helper()
	attempts := 0
	var envs [][]string
	runner := &cmdrunner.FakeRunner{
		Paths: map[string]string{"npm": "/usr/bin/npm"},
		Handler: func(cmd cmdrunner.Command) (cmdrunner.Output, error) {
			if cmd.Path != "/usr/bin/npm" {
				return cmdrunner.Output{}, nil
			}
			attempts++
			envs = append(envs, cmd.Env)
			if attempts <= len(stderrByAttempt) {
				return cmdrunner.Output{Code: 1, Stderr: stderrByAttempt[attempts-1]}, nil
			}
			return cmdrunner.Output{}, nil
		},
	}
	return runner, &attempts, &envs
}

const gitFetchStderr = "npm error code 128\nfatal: unable to access 'https://github.com/openclaw/libsignal-node.git/': could not connect to server"

func TestInstallFromNpmSucceedsViaLastMirror(t *testing.T) {
	runner, attempts, envs := npmFailureRunner(t, []string{gitFetchStderr, gitFetchStderr})
	inst, _, _ := newTestInstaller(t, runner)

	err := inst.installFromNpm(context.Background(), t.TempDir(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, *attempts)

	// the winning attempt was forced through the second mirror
	joined := strings.Join((*envs)[2], "\n")
	assert.Contains(t, joined, "gh.llkk.cc")
	assert.Contains(t, strings.Join((*envs)[1], "\n"), "gitclone.com")
	assert.NotContains(t, strings.Join((*envs)[0], "\n"), "gitclone.com")
}

func TestInstallFromNpmStopsOnNonGitFailure(t *testing.T) {
	runner, attempts, _ := npmFailureRunner(t, []string{
		"ENOSPC: no space left on device",
		gitFetchStderr,
		gitFetchStderr,
	})
	inst, _, _ := newTestInstaller(t, runner)

	err := inst.installFromNpm(context.Background(), t.TempDir(), nil)
	require.Error(t, err)
	assert.Equal(t, 1, *attempts)
	assert.Contains(t, err.Error(), "ENOSPC")
}

func TestInstallFromNpmExhaustsAllRoutes(t *testing.T) {
	runner, attempts, _ := npmFailureRunner(t, []string{gitFetchStderr, gitFetchStderr, gitFetchStderr})
	inst, _, _ := newTestInstaller(t, runner)

	err := inst.installFromNpm(context.Background(), t.TempDir(), nil)
	require.Error(t, err)
	assert.Equal(t, 3, *attempts)
	assert.Contains(t, err.Error(), "mirror retries")
	// every route's failure is part of the diagnostics
	assert.Contains(t, err.Error(), "direct-github")
	assert.Contains(t, err.Error(), "gitclone.com")
	assert.Contains(t, err.Error(), "gh.llkk.cc")
}

func TestUninstallRemovesManagedDirs(t *testing.T) {
	inst, store, base := newTestInstaller(t, &cmdrunner.FakeRunner{})
	require.NoError(t, base.EnsureDirs())
	require.NoError(t, store.SaveInstallState(gateway.InstallState{
		Method:     gateway.SourceNpm,
		InstallDir: base.GatewayHome(),
		Version:    "2.0.0",
	}))

	result, err := inst.Uninstall(context.Background(), func() error { return nil })
	require.NoError(t, err)
	assert.True(t, result.StoppedProcess)
	assert.Contains(t, result.RemovedPaths, base.GatewayHome())
	assert.Contains(t, result.RemovedPaths, base.StateDir())

	state, err := store.LoadInstallState()
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestUninstallStopFailureIsWarning(t *testing.T) {
	inst, _, _ := newTestInstaller(t, &cmdrunner.FakeRunner{})
	result, err := inst.Uninstall(context.Background(), func() error { return assert.AnError })
	require.NoError(t, err)
	assert.False(t, result.StoppedProcess)
	assert.NotEmpty(t, result.Warnings)
}
