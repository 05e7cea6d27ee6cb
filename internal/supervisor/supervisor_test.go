package supervisor

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawdesk/clawdesk/internal/cmdrunner"
	"github.com/clawdesk/clawdesk/internal/gateway"
	"github.com/clawdesk/clawdesk/internal/health"
	"github.com/clawdesk/clawdesk/internal/paths"
	"github.com/clawdesk/clawdesk/internal/statestore"
)

type staticConfig struct {
	cfg gateway.FileConfig
	err error
}

func (s staticConfig) ReadCurrentConfig() (gateway.FileConfig, error) {
	return s.cfg, s.err
}

type staticProber struct {
	result health.Result
	err    error
}

func (s staticProber) Probe(context.Context, string, uint16) (health.Result, error) {
	return s.result, s.err
}

func newTestSupervisor(t *testing.T, config ConfigReader, prober HealthProber) (*Supervisor, *statestore.Store, paths.Paths) {
	t.Helper()
	base := paths.New(t.TempDir(), "")
	store := statestore.New(base)
	require.NoError(t, base.EnsureDirs())
	s := New(&cmdrunner.FakeRunner{}, base, store, config, prober)
	return s, store, base
}

func TestBuildGatewayArgs(t *testing.T) {
	cfg := gateway.FileConfig{LaunchArgs: "gateway", Port: 28789, BindAddress: "127.0.0.1"}
	args := buildGatewayArgs(cfg)
	assert.Equal(t, []string{"gateway", "--port", "28789", "--bind", "loopback", "--allow-unconfigured"}, args)
}

func TestBuildGatewayArgsReplacesServe(t *testing.T) {
	cfg := gateway.FileConfig{LaunchArgs: "serve --verbose", Port: 29000, BindAddress: "0.0.0.0"}
	args := buildGatewayArgs(cfg)
	assert.Equal(t, "gateway", args[0])
	assert.NotContains(t, args, "serve")
	assert.Contains(t, strings.Join(args, " "), "--bind lan")
}

func TestBuildGatewayArgsKeepsUserOverrides(t *testing.T) {
	cfg := gateway.FileConfig{LaunchArgs: "gateway --port 30000", Port: 28789, BindAddress: "127.0.0.1"}
	args := buildGatewayArgs(cfg)
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "--port 30000")
	assert.NotContains(t, joined, "28789")
}

func TestBuildGatewayArgsPrependsGateway(t *testing.T) {
	cfg := gateway.FileConfig{LaunchArgs: "--verbose", Port: 28789, BindAddress: "127.0.0.1"}
	args := buildGatewayArgs(cfg)
	assert.Equal(t, "gateway", args[0])
	assert.Contains(t, args, "--verbose")
}

func TestBindModeFromAddress(t *testing.T) {
	assert.Equal(t, "lan", bindModeFromAddress("0.0.0.0"))
	assert.Equal(t, "loopback", bindModeFromAddress("127.0.0.1"))
	assert.Equal(t, "loopback", bindModeFromAddress(""))
}

func TestStopWithoutPidIsNoOp(t *testing.T) {
	s, _, _ := newTestSupervisor(t, staticConfig{}, staticProber{})
	result, err := s.Stop(context.Background())
	require.NoError(t, err)
	assert.Nil(t, result.Pid)
	assert.Contains(t, result.Message, "not running")
}

func TestStartRequiresInstallState(t *testing.T) {
	s, _, _ := newTestSupervisor(t, staticConfig{}, staticProber{})
	_, err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrNotInstalled)
}

func TestStartSpawnsAndTracksPid(t *testing.T) {
	cfg := gateway.FileConfig{
		Provider:    "openai",
		ModelChain:  gateway.ModelChain{Primary: "openai/gpt-5.2"},
		BindAddress: "127.0.0.1",
		Port:        28789,
		LaunchArgs:  "gateway",
	}
	s, store, base := newTestSupervisor(t, staticConfig{cfg: cfg}, staticProber{})
	require.NoError(t, store.SaveInstallState(gateway.InstallState{
		InstallDir:  base.GatewayHome(),
		CommandPath: "openclaw",
	}))

	var spawnedArgs []string
	s.spawn = func(exe string, args []string, dir string, env []string) (int32, error) {
		spawnedArgs = args
		assert.Contains(t, strings.Join(env, " "), "OPENCLAW_CONFIG_PATH=")
		return 4242, nil
	}

	result, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Running)
	require.NotNil(t, result.Pid)
	assert.Equal(t, int32(4242), *result.Pid)
	assert.Contains(t, strings.Join(spawnedArgs, " "), "--allow-unconfigured")

	raw, err := os.ReadFile(base.PidFile())
	require.NoError(t, err)
	assert.Equal(t, "4242", string(raw))

	prefs, err := store.LoadRunPrefs()
	require.NoError(t, err)
	assert.True(t, prefs.KeepRunning)
}

func TestStartFailsWhenSpawnFails(t *testing.T) {
	cfg := gateway.FileConfig{BindAddress: "127.0.0.1", Port: 28789, LaunchArgs: "gateway"}
	s, store, base := newTestSupervisor(t, staticConfig{cfg: cfg}, staticProber{})
	require.NoError(t, store.SaveInstallState(gateway.InstallState{
		InstallDir:  base.GatewayHome(),
		CommandPath: "openclaw",
	}))
	s.spawn = func(string, []string, string, []string) (int32, error) {
		return 0, errors.New("boom")
	}

	_, err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spawn gateway")
}

func TestEndDisablesKeepRunning(t *testing.T) {
	s, store, _ := newTestSupervisor(t, staticConfig{err: errors.New("no config")}, staticProber{})

	_, err := s.End(context.Background())
	require.NoError(t, err)

	prefs, err := store.LoadRunPrefs()
	require.NoError(t, err)
	assert.False(t, prefs.KeepRunning)
}

func TestRuntimeEnvIncludesProviderKeys(t *testing.T) {
	s, store, _ := newTestSupervisor(t, staticConfig{}, staticProber{})
	last := gateway.DefaultConfigInput()
	last.ProviderAPIKeys = map[string]string{"openai": "sk-env", "google": " "}
	require.NoError(t, store.SaveLastConfig(last))

	proxy := "http://127.0.0.1:7890"
	env := s.runtimeEnv(gateway.FileConfig{Proxy: &proxy})
	joined := strings.Join(env, "\n")
	assert.Contains(t, joined, "OPENAI_API_KEY=sk-env")
	assert.NotContains(t, joined, "GEMINI_API_KEY")
	assert.Contains(t, joined, "HTTP_PROXY=http://127.0.0.1:7890")
	assert.Contains(t, joined, "ALL_PROXY=http://127.0.0.1:7890")
}

func TestStatusSelfHealsStalePidRecord(t *testing.T) {
	s, _, base := newTestSupervisor(t,
		staticConfig{err: errors.New("no config")},
		staticProber{err: errors.New("unreachable")})
	// a recorded PID that no live process owns
	require.NoError(t, os.WriteFile(base.PidFile(), []byte("2147483646"), 0o640))

	status, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Running)
	assert.Nil(t, status.Pid)
	assert.NoFileExists(t, base.PidFile())
}

func TestReadPidRejectsGarbage(t *testing.T) {
	s, _, base := newTestSupervisor(t, staticConfig{}, staticProber{})
	require.NoError(t, os.WriteFile(base.PidFile(), []byte("not-a-pid"), 0o640))
	_, ok := s.readPid()
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(base.PidFile(), []byte("-5"), 0o640))
	_, ok = s.readPid()
	assert.False(t, ok)
}
