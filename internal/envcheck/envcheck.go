// Package envcheck probes the host environment before anything mutates it,
// and installs missing dependency tooling through the OS package managers.
package envcheck

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	goversion "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"

	"github.com/clawdesk/clawdesk/internal/cmdrunner"
	"github.com/clawdesk/clawdesk/internal/ports"
)

// MinNodeMajor is the lowest Node.js major version the gateway supports.
const MinNodeMajor = 22

// probeEndpoints are known-good outbound targets; the first success wins.
var probeEndpoints = []string{
	"https://docs.openclaw.ai",
	"https://registry.npmjs.org",
}

// DependencyStatus reports a single external tool's presence.
type DependencyStatus struct {
	Name  string  `json:"name"`
	Found bool    `json:"found"`
	Path  *string `json:"path,omitempty"`
}

// Snapshot is the ephemeral result of a full environment probe. It is never
// persisted.
type Snapshot struct {
	OS            string             `json:"os"`
	IsWindows     bool               `json:"is_windows"`
	IsAdmin       bool               `json:"is_admin"`
	NetworkOK     bool               `json:"network_ok"`
	NetworkDetail string             `json:"network_detail"`
	Dependencies  []DependencyStatus `json:"dependencies"`
	PortStatus    ports.Status       `json:"port_status"`
}

// InstallEnvResult summarizes a dependency-install pass.
type InstallEnvResult struct {
	Installed []string `json:"installed"`
	Skipped   []string `json:"skipped"`
	Warnings  []string `json:"warnings"`
}

// Probe checks preconditions and installs missing tooling. Side-effect-free
// except for InstallMissing.
type Probe struct {
	runner     cmdrunner.Runner
	httpClient *http.Client
	endpoints  []string
}

func NewProbe(runner cmdrunner.Runner) *Probe {
	return &Probe{
		runner:     runner,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		endpoints:  probeEndpoints,
	}
}

// Check gathers the full environment snapshot. Safe to call repeatedly.
func (p *Probe) Check(ctx context.Context, port uint16) Snapshot {
	networkOK, networkDetail := p.checkNetwork(ctx)
	return Snapshot{
		OS:            p.osIdentity(ctx),
		IsWindows:     runtime.GOOS == "windows",
		IsAdmin:       cmdrunner.IsAdmin(ctx, p.runner),
		NetworkOK:     networkOK,
		NetworkDetail: networkDetail,
		Dependencies:  p.dependencyStatus(ctx),
		PortStatus:    ports.Check(port),
	}
}

func (p *Probe) osIdentity(ctx context.Context) string {
	if runtime.GOOS != "windows" {
		return runtime.GOOS
	}
	out, err := p.runner.Run(ctx, cmdrunner.Command{
		Path: "cmd", Args: []string{"/C", "ver"}, Timeout: 10 * time.Second,
	})
	if err != nil || strings.TrimSpace(out.Stdout) == "" {
		return "Windows"
	}
	return strings.TrimSpace(out.Stdout)
}

func (p *Probe) dependencyStatus(ctx context.Context) []DependencyStatus {
	deps := make([]DependencyStatus, 0, 7)
	for _, name := range []string{"git", "node", "npm", "bun", "winget", "choco"} {
		status := DependencyStatus{Name: name}
		if path, ok := p.runner.LookPath(name); ok {
			status.Found = true
			status.Path = &path
		}
		deps = append(deps, status)
	}
	deps = append(deps, DependencyStatus{Name: "vcredist", Found: p.hasVCRuntime(ctx)})
	return deps
}

func (p *Probe) checkNetwork(ctx context.Context) (bool, string) {
	var detail string
	operation := func() error {
		for _, endpoint := range p.endpoints {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				detail = fmt.Sprintf("build request: %v", err)
				continue
			}
			req.Header.Set("User-Agent", "clawdesk/"+runtime.GOOS)
			resp, err := p.httpClient.Do(req)
			if err != nil {
				detail = fmt.Sprintf("network check failed: %v", err)
				continue
			}
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				detail = fmt.Sprintf("%s reachable", endpoint)
				return nil
			}
			detail = fmt.Sprintf("%s answered HTTP %d", endpoint, resp.StatusCode)
		}
		return fmt.Errorf("no endpoint reachable: %s", detail)
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond
	expBackoff.MaxElapsedTime = 15 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return false, detail
	}
	return true, detail
}

// hasVCRuntime checks the VC++ runtime registration in the registry.
func (p *Probe) hasVCRuntime(ctx context.Context) bool {
	if runtime.GOOS != "windows" {
		return true
	}
	keys := []string{
		`HKLM\SOFTWARE\Microsoft\VisualStudio\14.0\VC\Runtimes\x64`,
		`HKLM\SOFTWARE\WOW6432Node\Microsoft\VisualStudio\14.0\VC\Runtimes\x64`,
	}
	for _, key := range keys {
		out, err := p.runner.Run(ctx, cmdrunner.Command{
			Path: "reg", Args: []string{"query", key, "/v", "Installed"}, Timeout: 10 * time.Second,
		})
		if err == nil && out.Code == 0 && strings.Contains(out.Stdout, "0x1") {
			return true
		}
	}
	return false
}

// NodeMajorVersion parses `node --version`. Returns 0 when node is missing
// or unparsable.
func (p *Probe) NodeMajorVersion(ctx context.Context) int {
	out, err := p.runner.Run(ctx, cmdrunner.Command{
		Path: "node", Args: []string{"--version"}, Timeout: 15 * time.Second,
	})
	if err != nil || out.Code != 0 {
		return 0
	}
	raw := strings.TrimPrefix(strings.TrimSpace(out.Stdout), "v")
	v, err := goversion.NewVersion(raw)
	if err != nil {
		return 0
	}
	return v.Segments()[0]
}

// InstallMissing installs the dependency tooling the gateway needs. Install
// failures become warnings so the pipeline can proceed: the gateway's own
// bootstrap can self-heal partial coverage.
func (p *Probe) InstallMissing(ctx context.Context, _ uint16) InstallEnvResult {
	var result InstallEnvResult

	deps := p.dependencyStatus(ctx)
	found := map[string]bool{}
	for _, d := range deps {
		found[d.Name] = d.Found
	}
	nodeMajor := p.NodeMajorVersion(ctx)
	nodeSupported := nodeMajor >= MinNodeMajor

	switch {
	case found["git"]:
		result.Skipped = append(result.Skipped, "git")
	case found["winget"]:
		p.packageInstall(ctx, &result, "git", "winget", "install", "--id", "Git.Git", "-e",
			"--source", "winget", "--accept-package-agreements", "--accept-source-agreements")
	case found["choco"]:
		p.packageInstall(ctx, &result, "git", "choco", "install", "git", "-y")
	default:
		result.Warnings = append(result.Warnings, "Neither winget nor choco found. Install Git manually.")
	}

	nodeArgsWinget := []string{"install", "--id", "OpenJS.NodeJS.LTS", "-e", "--source", "winget",
		"--accept-package-agreements", "--accept-source-agreements"}
	switch {
	case found["bun"] || (found["node"] && found["npm"] && nodeSupported):
		result.Skipped = append(result.Skipped, "node-or-bun")
	case found["node"] && found["npm"] && !nodeSupported:
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"Node.js major version %d detected, the gateway requires Node.js %d+; trying upgrade.",
			nodeMajor, MinNodeMajor))
		switch {
		case found["winget"]:
			p.packageInstall(ctx, &result, "nodejs-lts", "winget", nodeArgsWinget...)
		case found["choco"]:
			p.packageInstall(ctx, &result, "nodejs-lts", "choco", "upgrade", "nodejs-lts", "-y")
		default:
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Node.js is below %d and no winget/choco is available for auto-upgrade.", MinNodeMajor))
		}
	case found["winget"]:
		p.packageInstall(ctx, &result, "nodejs-lts", "winget", nodeArgsWinget...)
	case found["choco"]:
		p.packageInstall(ctx, &result, "nodejs-lts", "choco", "install", "nodejs-lts", "-y")
	default:
		result.Warnings = append(result.Warnings, "Neither winget nor choco found. Install Node.js or Bun manually.")
	}

	switch {
	case found["vcredist"]:
		result.Skipped = append(result.Skipped, "vcredist")
	case found["winget"]:
		p.packageInstall(ctx, &result, "vcredist", "winget", "install", "--id",
			"Microsoft.VCRedist.2015+.x64", "-e", "--source", "winget",
			"--accept-package-agreements", "--accept-source-agreements")
	default:
		result.Warnings = append(result.Warnings,
			"Visual C++ runtime not detected; install Microsoft VC++ Redistributable x64.")
	}

	if len(result.Warnings) == 0 {
		log.Info("Environment dependency installation completed successfully.")
	} else {
		log.Warnf("Environment installation warnings: %s", strings.Join(result.Warnings, " | "))
	}
	return result
}

func (p *Probe) packageInstall(ctx context.Context, result *InstallEnvResult, label, tool string, args ...string) {
	out, err := p.runner.Run(ctx, cmdrunner.Command{
		Path: tool, Args: args, Timeout: 15 * time.Minute,
	})
	switch {
	case err != nil:
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s install failed: %v", label, err))
	case out.Code != 0:
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s install failed: %s",
			label, cmdrunner.Truncate(out.Combined(), 2000)))
	default:
		result.Installed = append(result.Installed, label)
	}
}
