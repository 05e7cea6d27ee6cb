package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout(t *testing.T) {
	root := t.TempDir()
	p := New(root, "")

	assert.Equal(t, root, p.DataRoot())
	assert.Equal(t, filepath.Join(root, "logs"), p.LogsDir())
	assert.Equal(t, filepath.Join(root, "backups"), p.BackupsDir())
	assert.Equal(t, filepath.Join(root, "state"), p.StateDir())
	assert.Equal(t, filepath.Join(root, "openclaw"), p.GatewayHome())
	assert.Equal(t, filepath.Join(root, "openclaw", "openclaw.json"), p.ConfigPath())
	assert.Equal(t, filepath.Join(root, "openclaw", ".env"), p.EnvFilePath())
	assert.Equal(t, filepath.Join(root, "run", "openclaw.pid"), p.PidFile())
}

func TestWithGatewayHome(t *testing.T) {
	p := New(t.TempDir(), "")
	home := filepath.Join(t.TempDir(), "custom")

	moved := p.WithGatewayHome(home)
	assert.Equal(t, home, moved.GatewayHome())
	assert.Equal(t, p.DataRoot(), moved.DataRoot())
	// the original is unchanged
	assert.NotEqual(t, home, p.GatewayHome())
}

func TestEnsureDirs(t *testing.T) {
	p := New(t.TempDir(), "")
	require.NoError(t, p.EnsureDirs())
	for _, dir := range []string{p.LogsDir(), p.BackupsDir(), p.StateDir(), p.RunDir(), p.GatewayHome()} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir(), dir)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("CLAWDESK_TEST_VALUE", "expanded")
	assert.Equal(t, `expanded\sub`, ExpandEnv(`%CLAWDESK_TEST_VALUE%\sub`))
	assert.Equal(t, `\sub`, ExpandEnv(`%CLAWDESK_TEST_UNSET%\sub`))
	assert.Equal(t, "no-vars", ExpandEnv("no-vars"))
}

func TestNormalize(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := Normalize("~")
	require.NoError(t, err)
	assert.Equal(t, home, got)

	got, err = Normalize("~/gateway")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "gateway"), got)

	_, err = Normalize("   ")
	assert.Error(t, err)

	t.Setenv("CLAWDESK_TEST_DIR", filepath.Join(home, "data"))
	got, err = Normalize("%CLAWDESK_TEST_DIR%")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data"), got)
}

func TestIsUserProfileGatewayDir(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	for _, name := range []string{".openclaw", ".clawdbot", ".moldbot", ".moltbot"} {
		assert.True(t, IsUserProfileGatewayDir(filepath.Join(home, name)), name)
		// trailing separators do not defeat the check
		assert.True(t, IsUserProfileGatewayDir(filepath.Join(home, name)+string(filepath.Separator)), name)
	}
	assert.False(t, IsUserProfileGatewayDir(filepath.Join(home, "projects", ".openclaw")))
	assert.False(t, IsUserProfileGatewayDir(filepath.Join(home, "openclaw")))
}
