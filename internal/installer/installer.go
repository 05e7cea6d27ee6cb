// Package installer performs the isolated, idempotent install of the
// OpenClaw gateway into a target directory, with ordered network-route
// fallback when GitHub-hosted sub-dependencies are unreachable.
package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/clawdesk/clawdesk/internal/cmdrunner"
	"github.com/clawdesk/clawdesk/internal/gateway"
	"github.com/clawdesk/clawdesk/internal/paths"
	"github.com/clawdesk/clawdesk/internal/statestore"
	"github.com/clawdesk/clawdesk/util"
)

// ErrAlreadyInstalled is returned when the install lock exists. Reinstall
// requires an explicit uninstall first.
var ErrAlreadyInstalled = errors.New("already installed")

const defaultGitSource = "https://github.com/openclaw/openclaw.git"

// installLogLimit bounds command output snapshots written to the log.
const installLogLimit = 2800

// Result reports a completed install.
type Result struct {
	Method      string `json:"method"`
	InstallDir  string `json:"install_dir"`
	Version     string `json:"version"`
	CommandPath string `json:"command_path"`
}

// UninstallResult reports what an uninstall managed to remove.
type UninstallResult struct {
	StoppedProcess bool     `json:"stopped_process"`
	RemovedPaths   []string `json:"removed_paths"`
	Warnings       []string `json:"warnings"`
}

// Installer owns the install/uninstall lifecycle of the gateway package.
type Installer struct {
	runner     cmdrunner.Runner
	paths      paths.Paths
	store      *statestore.Store
	httpClient *http.Client
}

func New(runner cmdrunner.Runner, p paths.Paths, store *statestore.Store) *Installer {
	return &Installer{
		runner:     runner,
		paths:      p,
		store:      store,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

// Install performs a fresh install. Fails with ErrAlreadyInstalled when the
// install lock exists.
func (i *Installer) Install(ctx context.Context, cfg gateway.ConfigInput) (Result, error) {
	return i.install(ctx, cfg, false)
}

// InstallForUpgrade reinstalls over an existing install. Only the upgrade
// flow is allowed to bypass the install lock.
func (i *Installer) InstallForUpgrade(ctx context.Context, cfg gateway.ConfigInput) (Result, error) {
	return i.install(ctx, cfg, true)
}

func (i *Installer) install(ctx context.Context, cfg gateway.ConfigInput, allowReinstall bool) (Result, error) {
	if err := cfg.Normalize(); err != nil {
		return Result{}, err
	}
	if !allowReinstall {
		existing, err := i.store.LoadInstallState()
		if err != nil {
			return Result{}, err
		}
		if existing != nil {
			return Result{}, fmt.Errorf("%w: OpenClaw is already installed at %s (version %s); uninstall first",
				ErrAlreadyInstalled, existing.InstallDir, existing.Version)
		}
	}

	installDir, err := paths.Normalize(cfg.InstallDir)
	if err != nil {
		return Result{}, err
	}
	if paths.IsUserProfileGatewayDir(installDir) {
		return Result{}, fmt.Errorf(
			"unsafe install directory %s: it would overwrite an existing user-profile gateway install; choose a different folder",
			installDir)
	}
	if err := i.paths.EnsureDirs(); err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(installDir, 0o750); err != nil {
		return Result{}, fmt.Errorf("create install dir: %w", err)
	}

	baseEnv := proxyEnv(cfg.Proxy)

	switch cfg.SourceMethod {
	case gateway.SourceNpm:
		err = i.installFromNpm(ctx, installDir, baseEnv)
	case gateway.SourceBun:
		err = i.installFromBun(ctx, installDir, baseEnv)
	case gateway.SourceGit:
		err = i.installFromGit(ctx, installDir, cfg, baseEnv)
	case gateway.SourceBinary:
		err = i.installFromBinary(ctx, installDir, cfg)
	default:
		err = fmt.Errorf("unknown source method %q", cfg.SourceMethod)
	}
	if err != nil {
		return Result{}, err
	}

	commandPath := i.resolveCommandPath(ctx, installDir, cfg.SourceMethod)
	version := i.detectVersion(ctx, commandPath)

	state := gateway.InstallState{
		Method:      cfg.SourceMethod,
		InstallDir:  installDir,
		SourceURL:   cfg.SourceURL,
		CommandPath: commandPath,
		Version:     version,
		LaunchArgs:  cfg.LaunchArgs,
	}
	if err := i.store.SaveInstallState(state); err != nil {
		return Result{}, err
	}
	log.Infof("OpenClaw installed using %s at %s", cfg.SourceMethod, installDir)

	return Result{
		Method:      string(cfg.SourceMethod),
		InstallDir:  installDir,
		Version:     version,
		CommandPath: commandPath,
	}, nil
}

func (i *Installer) installFromNpm(ctx context.Context, installDir string, baseEnv []string) error {
	npmExe, ok := i.runner.LookPath("npm")
	if !ok {
		return errors.New("npm not found, install Node.js first")
	}
	if err := ensureLocalPackageJSON(installDir); err != nil {
		return err
	}

	// Never install globally: a global install can overwrite an existing
	// gateway the user already depends on.
	args := []string{
		"--prefix", installDir, "install", "openclaw@latest",
		"--no-audit", "--no-fund", "--loglevel", "error",
	}
	log.Infof("Installing OpenClaw locally: npm --prefix %q install openclaw@latest", installDir)

	var attemptErrs error
	var lastOut cmdrunner.Output
	for _, attempt := range npmInstallRoutes(baseEnv) {
		log.Infof("npm install attempt: %s", attempt.Label)
		out, err := i.runner.Run(ctx, cmdrunner.Command{
			Path: npmExe, Args: args, Env: attempt.Env, Timeout: 20 * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("start npm executable %s: %w", npmExe, err)
		}
		logCommandOutput(fmt.Sprintf("npm install openclaw@latest (local) [%s]", attempt.Label), out)
		if out.Code == 0 {
			return nil
		}
		lastOut = out
		attemptErrs = multierror.Append(attemptErrs, fmt.Errorf("route %s: exit %d: %s",
			attempt.Label, out.Code, cmdrunner.Truncate(out.Combined(), 400)))
		if !isGitFetchFailure(out) {
			break
		}
		log.Warnf("npm install attempt %q failed with a git transport/auth issue; trying next fallback route", attempt.Label)
	}

	// A usable pre-existing global install still satisfies the pipeline.
	if global, ok := i.runner.LookPath("openclaw"); ok && i.commandIsUsable(ctx, global) {
		log.Warnf("npm local install failed, falling back to existing openclaw binary: %s", global)
		return nil
	}

	if isGitFetchFailure(lastOut) {
		return fmt.Errorf(
			"npm install failed after mirror retries: git dependencies from GitHub are unreachable or unauthorized on the current network; configure an HTTP(S) proxy or allow access to github.com / gitclone.com / gh.llkk.cc: %w",
			attemptErrs)
	}
	return fmt.Errorf("npm install openclaw@latest (local) failed: %w", attemptErrs)
}

func (i *Installer) installFromBun(ctx context.Context, installDir string, baseEnv []string) error {
	bunExe, ok := i.runner.LookPath("bun")
	if !ok {
		return errors.New("bun not found")
	}
	out, err := i.runner.Run(ctx, cmdrunner.Command{
		Path: bunExe, Args: []string{"add", "--cwd", installDir, "openclaw@latest"},
		Env: baseEnv, Timeout: 20 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("start bun executable %s: %w", bunExe, err)
	}
	logCommandOutput("bun add openclaw@latest", out)
	if out.Code != 0 {
		return fmt.Errorf("bun add openclaw@latest: exit %d: %s", out.Code,
			cmdrunner.Truncate(out.Combined(), installLogLimit))
	}
	return nil
}

func (i *Installer) installFromGit(ctx context.Context, installDir string, cfg gateway.ConfigInput, baseEnv []string) error {
	gitExe, ok := i.runner.LookPath("git")
	if !ok {
		return errors.New("git not found")
	}
	gitURL := defaultGitSource
	if cfg.SourceURL != nil && strings.TrimSpace(*cfg.SourceURL) != "" {
		gitURL = strings.TrimSpace(*cfg.SourceURL)
	}

	if util.DirExists(filepath.Join(installDir, ".git")) {
		out, err := i.runner.Run(ctx, cmdrunner.Command{
			Path: gitExe, Args: []string{"-C", installDir, "pull", "--ff-only"},
			Env: baseEnv, Timeout: 20 * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("start git executable %s: %w", gitExe, err)
		}
		logCommandOutput("git pull --ff-only", out)
		if out.Code != 0 {
			return fmt.Errorf("git pull: exit %d: %s", out.Code, cmdrunner.Truncate(out.Combined(), installLogLimit))
		}
	} else {
		out, err := i.runner.Run(ctx, cmdrunner.Command{
			Path: gitExe, Args: []string{"clone", gitURL, installDir},
			Env: baseEnv, Timeout: 20 * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("start git executable %s: %w", gitExe, err)
		}
		logCommandOutput("git clone", out)
		if out.Code != 0 {
			return fmt.Errorf("git clone: exit %d: %s", out.Code, cmdrunner.Truncate(out.Combined(), installLogLimit))
		}
	}

	if util.FileExists(filepath.Join(installDir, "package.json")) {
		if npmExe, ok := i.runner.LookPath("npm"); ok {
			out, err := i.runner.Run(ctx, cmdrunner.Command{
				Path: npmExe, Args: []string{"install", "--prefix", installDir},
				Env: baseEnv, Timeout: 20 * time.Minute,
			})
			if err != nil {
				return fmt.Errorf("start npm executable %s: %w", npmExe, err)
			}
			logCommandOutput("npm install --prefix", out)
			if out.Code != 0 {
				return fmt.Errorf("npm install: exit %d: %s", out.Code, cmdrunner.Truncate(out.Combined(), installLogLimit))
			}
		}
	}
	return nil
}

func (i *Installer) installFromBinary(ctx context.Context, installDir string, cfg gateway.ConfigInput) error {
	if cfg.SourceURL == nil || strings.TrimSpace(*cfg.SourceURL) == "" {
		return errors.New("binary source_url is required")
	}
	client := i.httpClient
	if cfg.Proxy != nil && strings.TrimSpace(*cfg.Proxy) != "" {
		proxyURL, err := url.Parse(strings.TrimSpace(*cfg.Proxy))
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Timeout:   i.httpClient.Timeout,
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSpace(*cfg.SourceURL), nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("binary download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("binary download failed: HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("binary download read: %w", err)
	}
	target := filepath.Join(installDir, "openclaw.exe")
	if err := util.WriteBytesAtomic(installDir, "openclaw.exe", target, body); err != nil {
		return err
	}
	log.Info("Binary download complete.")
	return nil
}

// resolveCommandPath finds a runnable gateway command, preferring the local
// shim under the install dir. Every candidate is validated by running
// --version: a broken cached wrapper script must never be persisted.
func (i *Installer) resolveCommandPath(ctx context.Context, installDir string, method gateway.SourceMethod) string {
	binDir := filepath.Join(installDir, "node_modules", ".bin")

	var candidates []string
	switch method {
	case gateway.SourceBinary:
		return filepath.Join(installDir, "openclaw.exe")
	case gateway.SourceGit:
		candidates = []string{
			filepath.Join(installDir, "openclaw.exe"),
			filepath.Join(binDir, "openclaw.cmd"),
			filepath.Join(binDir, "openclaw"),
		}
	case gateway.SourceBun:
		candidates = []string{
			filepath.Join(installDir, "openclaw.cmd"),
			filepath.Join(installDir, "openclaw"),
			filepath.Join(binDir, "openclaw.cmd"),
			filepath.Join(binDir, "openclaw"),
		}
	default: // npm
		candidates = []string{
			filepath.Join(binDir, "openclaw.cmd"),
			filepath.Join(binDir, "openclaw"),
			filepath.Join(binDir, "openclaw.ps1"),
			filepath.Join(installDir, "openclaw.exe"),
		}
	}

	if method == gateway.SourceBun {
		if global, ok := i.resolveGlobal(ctx); ok {
			return global
		}
	}
	for _, candidate := range candidates {
		if !util.FileExists(candidate) {
			continue
		}
		if i.commandIsUsable(ctx, candidate) {
			return candidate
		}
		log.Warnf("Detected unusable OpenClaw command candidate: %s", candidate)
	}
	if method != gateway.SourceBun {
		if global, ok := i.resolveGlobal(ctx); ok {
			return global
		}
	}
	if local, ok := i.resolveGatewayHomeShim(ctx, installDir); ok {
		return local
	}
	return "npx"
}

func (i *Installer) resolveGlobal(ctx context.Context) (string, bool) {
	global, ok := i.runner.LookPath("openclaw")
	if !ok {
		return "", false
	}
	if !i.commandIsUsable(ctx, global) {
		return "", false
	}
	return global, true
}

func (i *Installer) resolveGatewayHomeShim(ctx context.Context, home string) (string, bool) {
	for _, name := range []string{"openclaw.cmd", "openclaw", "openclaw.exe"} {
		candidate := filepath.Join(home, name)
		if util.FileExists(candidate) && i.commandIsUsable(ctx, candidate) {
			return candidate, true
		}
	}
	return "", false
}

func (i *Installer) commandIsUsable(ctx context.Context, commandPath string) bool {
	if strings.EqualFold(commandPath, "npx") {
		npxExe, ok := i.runner.LookPath("npx")
		if !ok {
			return false
		}
		out, err := i.runner.Run(ctx, cmdrunner.Command{
			Path: npxExe, Args: []string{"--yes", "openclaw", "--version"}, Timeout: 2 * time.Minute,
		})
		return err == nil && out.Code == 0
	}
	out, err := i.runner.Run(ctx, cmdrunner.Command{
		Path: commandPath, Args: []string{"--version"}, Timeout: 2 * time.Minute,
	})
	return err == nil && out.Code == 0
}

func (i *Installer) detectVersion(ctx context.Context, commandPath string) string {
	var out cmdrunner.Output
	var err error
	if strings.EqualFold(commandPath, "npx") {
		npxExe, ok := i.runner.LookPath("npx")
		if !ok {
			return "unknown"
		}
		out, err = i.runner.Run(ctx, cmdrunner.Command{
			Path: npxExe, Args: []string{"--yes", "openclaw", "--version"}, Timeout: 2 * time.Minute,
		})
	} else {
		out, err = i.runner.Run(ctx, cmdrunner.Command{
			Path: commandPath, Args: []string{"--version"}, Timeout: 2 * time.Minute,
		})
	}
	if err != nil || out.Code != 0 {
		return "unknown"
	}
	return firstLineOrUnknown(out.Stdout)
}

// Uninstall stops the gateway via stop, removes the managed directories,
// and clears installer state. Failures downgrade to warnings so the rest of
// the teardown still runs.
func (i *Installer) Uninstall(_ context.Context, stop func() error) (UninstallResult, error) {
	log.Info("OpenClaw uninstall started.")
	var result UninstallResult

	if err := stop(); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("failed to stop running process: %v", err))
	} else {
		result.StoppedProcess = true
	}

	// Never touch a global gateway install: it may be unrelated to us.
	targets := map[string]struct{}{
		i.paths.GatewayHome(): {},
		i.paths.RunDir():      {},
		i.paths.StateDir():    {},
	}
	if state, err := i.store.LoadInstallState(); err == nil && state != nil {
		if dir, err := paths.Normalize(state.InstallDir); err == nil {
			targets[dir] = struct{}{}
		}
	}

	for target := range targets {
		if !util.DirExists(target) {
			continue
		}
		if err := os.RemoveAll(target); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("failed to remove directory %s: %v", target, err))
		} else {
			result.RemovedPaths = append(result.RemovedPaths, target)
		}
	}

	result.Warnings = append(result.Warnings, i.store.ClearAll()...)
	return result, nil
}

func ensureLocalPackageJSON(installDir string) error {
	path := filepath.Join(installDir, "package.json")
	if util.FileExists(path) {
		return nil
	}
	// Minimal package.json so `npm --prefix <dir> install` is deterministic.
	content := "{\n  \"name\": \"clawdesk-local\",\n  \"private\": true\n}\n"
	return os.WriteFile(path, []byte(content), 0o640)
}

func proxyEnv(proxy *string) []string {
	if proxy == nil || strings.TrimSpace(*proxy) == "" {
		return nil
	}
	p := strings.TrimSpace(*proxy)
	return []string{"HTTP_PROXY=" + p, "HTTPS_PROXY=" + p, "ALL_PROXY=" + p}
}

func logCommandOutput(op string, out cmdrunner.Output) {
	log.Infof("%s finished with code=%d", op, out.Code)
	if strings.TrimSpace(out.Stdout) != "" {
		log.Infof("%s stdout: %s", op, cmdrunner.Truncate(out.Stdout, installLogLimit))
	}
	if strings.TrimSpace(out.Stderr) != "" {
		log.Warnf("%s stderr: %s", op, cmdrunner.Truncate(out.Stderr, installLogLimit))
	}
}

func firstLineOrUnknown(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			return s
		}
	}
	return "unknown"
}
