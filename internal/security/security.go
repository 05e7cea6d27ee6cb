// Package security scans the gateway installation for credential exposure
// and suspicious scripts, producing a scored report.
package security

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/clawdesk/clawdesk/internal/cmdrunner"
	"github.com/clawdesk/clawdesk/internal/paths"
	"github.com/clawdesk/clawdesk/internal/statestore"
	"github.com/clawdesk/clawdesk/util"
)

// Severity levels and their score deductions.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

var severityDeductions = map[string]int{
	SeverityLow:    5,
	SeverityMedium: 15,
	SeverityHigh:   35,
}

// scriptDeduction applies per suspicious script file.
const scriptDeduction = 20

// Detection patterns. Kept as package vars so the signature set is visible
// and adjustable in one place.
var (
	plaintextKeyPattern = regexp.MustCompile(`"api_key"\s*:\s*"[^"]+"`)
	envSecretPattern    = regexp.MustCompile(`^[A-Z0-9_]*(API_KEY|TOKEN)[A-Z0-9_]*\s*=\s*.+`)
	scriptThreatPattern = regexp.MustCompile(`(?i)(invoke-expression|downloadstring|frombase64string|powershell\s+-enc)`)

	// ACL grants that expose a credential file to every local account.
	broadACLMarkers = []string{`everyone:(r)`, `builtin\users:(r)`}

	scriptExtensions = map[string]bool{".ps1": true, ".bat": true, ".cmd": true, ".vbs": true, ".js": true}
)

// Finding is one detected issue. The deduction defaults to the severity's
// standard value; script findings carry their own.
type Finding struct {
	Severity  string `json:"severity"`
	Message   string `json:"message"`
	Path      string `json:"path,omitempty"`
	deduction int
}

// Report carries all findings and the resulting 0-100 score.
type Report struct {
	Score     int       `json:"score"`
	Findings  []Finding `json:"findings"`
	ScannedAt time.Time `json:"scanned_at"`
}

// Scanner inspects the live installation.
type Scanner struct {
	runner cmdrunner.Runner
	base   paths.Paths
	store  *statestore.Store
}

func NewScanner(runner cmdrunner.Runner, base paths.Paths, store *statestore.Store) *Scanner {
	return &Scanner{runner: runner, base: base, store: store}
}

// Scan runs every check and scores the result. Checks never fail the scan;
// an unreadable target simply contributes no finding.
func (s *Scanner) Scan(ctx context.Context) Report {
	live := s.store.ResolvePaths(s.base)
	var findings []Finding

	findings = append(findings, s.checkConfigSecrets(live.ConfigPath())...)
	findings = append(findings, s.checkEnvSecrets(live.EnvFilePath())...)
	findings = append(findings, s.checkFileACLs(ctx, live.ConfigPath(), live.EnvFilePath())...)
	findings = append(findings, s.checkScripts(live)...)

	score := 100
	for _, f := range findings {
		deduction := f.deduction
		if deduction == 0 {
			deduction = severityDeductions[f.Severity]
		}
		score -= deduction
	}
	if score < 0 {
		score = 0
	}
	log.Infof("Security scan finished: score=%d findings=%d", score, len(findings))
	return Report{Score: score, Findings: findings, ScannedAt: time.Now()}
}

// checkConfigSecrets flags plaintext API keys inside the gateway config.
// Keys belong in .env (with hardened ACLs), not in the config file.
func (s *Scanner) checkConfigSecrets(configPath string) []Finding {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return []Finding{{
			Severity: SeverityLow,
			Message:  "Gateway config file is missing; the gateway is not fully configured.",
			Path:     configPath,
		}}
	}
	if plaintextKeyPattern.Match(raw) {
		return []Finding{{
			Severity: SeverityMedium,
			Message:  "Gateway config contains a plaintext API key; move credentials to the .env file.",
			Path:     configPath,
		}}
	}
	return nil
}

// checkEnvSecrets flags credential entries in .env. Their presence is
// expected but still lowers the score since the file is plaintext at rest.
func (s *Scanner) checkEnvSecrets(envPath string) []Finding {
	raw, err := os.ReadFile(envPath)
	if err != nil {
		return nil
	}
	for _, line := range strings.Split(strings.ReplaceAll(string(raw), "\r\n", "\n"), "\n") {
		if envSecretPattern.MatchString(strings.TrimSpace(line)) {
			return []Finding{{
				Severity: SeverityMedium,
				Message:  "Plaintext credentials are stored in the .env file; ensure its permissions stay restricted.",
				Path:     envPath,
			}}
		}
	}
	return nil
}

// checkFileACLs asks icacls whether credential files are readable by broad
// groups. Non-Windows hosts and icacls failures contribute nothing.
func (s *Scanner) checkFileACLs(ctx context.Context, files ...string) []Finding {
	var findings []Finding
	for _, path := range files {
		if !util.FileExists(path) {
			continue
		}
		out, err := s.runner.Run(ctx, cmdrunner.Command{
			Path:    "icacls",
			Args:    []string{path},
			Timeout: 30 * time.Second,
		})
		if err != nil || out.Code != 0 {
			continue
		}
		acl := strings.ToLower(out.Stdout)
		for _, marker := range broadACLMarkers {
			if strings.Contains(acl, marker) {
				findings = append(findings, Finding{
					Severity: SeverityHigh,
					Message:  "Credential file is readable by all local users; restrict its ACL.",
					Path:     path,
				})
				break
			}
		}
	}
	return findings
}

// checkScripts looks for download-and-execute patterns in scripts under the
// gateway home and the install directory.
func (s *Scanner) checkScripts(live paths.Paths) []Finding {
	roots := []string{live.GatewayHome()}
	if state, err := s.store.LoadInstallState(); err == nil && state != nil && state.InstallDir != live.GatewayHome() {
		roots = append(roots, state.InstallDir)
	}

	var findings []Finding
	seen := map[string]bool{}
	for _, root := range roots {
		if !util.DirExists(root) {
			continue
		}
		_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() || seen[path] {
				return nil
			}
			if !scriptExtensions[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			seen[path] = true
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			if scriptThreatPattern.Match(raw) {
				findings = append(findings, Finding{
					Severity:  SeverityHigh,
					Message:   "Suspicious script contains a download-and-execute pattern.",
					Path:      path,
					deduction: scriptDeduction,
				})
			}
			return nil
		})
	}
	return findings
}
