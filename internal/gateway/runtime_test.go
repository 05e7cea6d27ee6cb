package gateway

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawdesk/clawdesk/internal/cmdrunner"
)

func TestResolveCommandPrefersPersisted(t *testing.T) {
	runner := &cmdrunner.FakeRunner{
		Handler: func(cmd cmdrunner.Command) (cmdrunner.Output, error) {
			return cmdrunner.Output{Stdout: "2.1.0"}, nil
		},
	}
	command, err := ResolveCommand(context.Background(), runner, `"C:\tools\openclaw.cmd"`)
	require.NoError(t, err)
	assert.Equal(t, `C:\tools\openclaw.cmd`, command)
}

func TestResolveCommandFallsBackToGlobal(t *testing.T) {
	runner := &cmdrunner.FakeRunner{
		Paths: map[string]string{"openclaw": "/usr/local/bin/openclaw"},
		Handler: func(cmd cmdrunner.Command) (cmdrunner.Output, error) {
			if cmd.Path == "/stale/openclaw" {
				return cmdrunner.Output{Code: 1}, nil
			}
			return cmdrunner.Output{}, nil
		},
	}
	command, err := ResolveCommand(context.Background(), runner, "/stale/openclaw")
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/openclaw", command)
}

func TestResolveCommandFallsBackToNpx(t *testing.T) {
	runner := &cmdrunner.FakeRunner{
		Paths: map[string]string{"npx": "/usr/bin/npx"},
		Handler: func(cmd cmdrunner.Command) (cmdrunner.Output, error) {
			// only npx --yes openclaw --version succeeds
			if strings.Contains(cmd.Path, "npx") {
				return cmdrunner.Output{}, nil
			}
			return cmdrunner.Output{Code: 1}, nil
		},
	}
	command, err := ResolveCommand(context.Background(), runner, "")
	require.NoError(t, err)
	assert.Equal(t, "npx", command)
}

func TestResolveCommandNothingUsable(t *testing.T) {
	runner := &cmdrunner.FakeRunner{
		Handler: func(cmd cmdrunner.Command) (cmdrunner.Output, error) {
			return cmdrunner.Output{Code: 1}, nil
		},
	}
	_, err := ResolveCommand(context.Background(), runner, "")
	assert.ErrorIs(t, err, ErrNoUsableCommand)
}

func TestInvocationExpandsNpx(t *testing.T) {
	runner := &cmdrunner.FakeRunner{Paths: map[string]string{"npx": "/usr/bin/npx"}}

	path, args, err := Invocation(runner, "npx", []string{"--version"})
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/npx", path)
	assert.Equal(t, []string{"--yes", "openclaw", "--version"}, args)

	path, args, err = Invocation(runner, "/opt/openclaw", []string{"status"})
	require.NoError(t, err)
	assert.Equal(t, "/opt/openclaw", path)
	assert.Equal(t, []string{"status"}, args)
}
