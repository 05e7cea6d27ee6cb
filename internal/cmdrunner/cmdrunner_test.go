package cmdrunner

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellCommandRewritesBatchScripts(t *testing.T) {
	for _, ext := range []string{".cmd", ".bat", ".CMD"} {
		path, args := ShellCommand(`C:\tools\npx`+ext, []string{"--yes", "openclaw"})
		assert.Equal(t, "cmd", path)
		assert.Equal(t, []string{"/D", "/C", `C:\tools\npx` + ext, "--yes", "openclaw"}, args)
	}
}

func TestShellCommandRewritesPowerShellScripts(t *testing.T) {
	path, args := ShellCommand(`C:\tools\openclaw.ps1`, []string{"gateway"})
	assert.Equal(t, "powershell", path)
	assert.Equal(t, []string{
		"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass",
		"-File", `C:\tools\openclaw.ps1`, "gateway",
	}, args)
}

func TestShellCommandPassesThroughPlainExecutables(t *testing.T) {
	for _, target := range []string{"node", "openclaw.exe", "/usr/local/bin/openclaw"} {
		path, args := ShellCommand(target, []string{"--version"})
		assert.Equal(t, target, path)
		assert.Equal(t, []string{"--version"}, args)
	}
}

func TestExecutableRankPrefersNativeBinaries(t *testing.T) {
	assert.Less(t, executableRank("openclaw.exe"), executableRank("openclaw.cmd"))
	assert.Less(t, executableRank("openclaw.cmd"), executableRank("openclaw.bat"))
	assert.Less(t, executableRank("openclaw"), executableRank("openclaw.ps1"))
}

func TestOutputCombinedPrefersStderr(t *testing.T) {
	assert.Equal(t, "boom", Output{Stdout: "ok", Stderr: "boom"}.Combined())
	assert.Equal(t, "ok", Output{Stdout: "ok", Stderr: "  \n"}.Combined())
	assert.Equal(t, "", Output{}.Combined())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("  short  ", 10))
	assert.Equal(t, "abc... [truncated]", Truncate("abcdef", 3))
	// rune-based, not byte-based
	assert.Equal(t, "héé... [truncated]", Truncate("hééllo", 3))
}

func TestDecodeLossyReplacesInvalidUTF8(t *testing.T) {
	assert.Equal(t, "plain", decodeLossy([]byte("plain")))
	decoded := decodeLossy([]byte{0x68, 0x69, 0xff, 0xfe})
	assert.True(t, strings.HasPrefix(decoded, "hi"))
	assert.Contains(t, decoded, "�")
}

func TestFakeRunnerRecordsCalls(t *testing.T) {
	runner := &FakeRunner{
		Handler: func(cmd Command) (Output, error) {
			return Output{Stdout: cmd.Path}, nil
		},
		Paths: map[string]string{"node": "/usr/bin/node"},
	}

	out, err := runner.Run(context.Background(), Command{Path: "node", Args: []string{"--version"}})
	require.NoError(t, err)
	assert.Equal(t, "node", out.Stdout)

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"--version"}, calls[0].Args)

	p, ok := runner.LookPath("node")
	assert.True(t, ok)
	assert.Equal(t, "/usr/bin/node", p)
	_, ok = runner.LookPath("bun")
	assert.False(t, ok)
}
