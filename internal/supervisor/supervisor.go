// Package supervisor owns the gateway process lifecycle: detached start,
// graceful-then-forced stop, PID tracking with stale-record self-heal, and
// the status view combined with a health probe.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"

	"github.com/clawdesk/clawdesk/internal/cmdrunner"
	"github.com/clawdesk/clawdesk/internal/gateway"
	"github.com/clawdesk/clawdesk/internal/health"
	"github.com/clawdesk/clawdesk/internal/paths"
	"github.com/clawdesk/clawdesk/internal/ports"
	"github.com/clawdesk/clawdesk/internal/statestore"
	"github.com/clawdesk/clawdesk/util"
)

// ErrAlreadyRunning is returned by Start when a live PID record exists.
var ErrAlreadyRunning = errors.New("gateway already running")

// ErrNotInstalled is returned when no install state exists yet.
var ErrNotInstalled = errors.New("install state not found, run install first")

// autostartInterval throttles status-triggered restarts so a broken config
// cannot cause a spawn storm.
const autostartInterval = 20 * time.Second

// expectedProcessNames are the executables a tracked PID may legitimately
// resolve to. Anything else means the PID was recycled by another program.
var expectedProcessNames = []string{"openclaw", "node", "bun", "npx", "cmd", "powershell"}

// ControlResult reports a start/stop/restart outcome.
type ControlResult struct {
	Running bool   `json:"running"`
	Pid     *int32 `json:"pid,omitempty"`
	Message string `json:"message"`
}

// Status is the combined liveness + health view.
type Status struct {
	Running      bool          `json:"running"`
	Pid          *int32        `json:"pid,omitempty"`
	Version      string        `json:"version"`
	Provider     string        `json:"provider"`
	CurrentModel string        `json:"current_model"`
	Port         uint16        `json:"port"`
	Health       health.Result `json:"health"`
}

// ConfigReader supplies the current effective gateway configuration.
type ConfigReader interface {
	ReadCurrentConfig() (gateway.FileConfig, error)
}

// HealthProber abstracts the readiness probe for tests.
type HealthProber interface {
	Probe(ctx context.Context, host string, port uint16) (health.Result, error)
}

// Supervisor tracks exactly one gateway process through run/openclaw.pid.
type Supervisor struct {
	runner cmdrunner.Runner
	paths  paths.Paths
	store  *statestore.Store
	config ConfigReader
	prober HealthProber

	// spawn launches the detached child and returns its PID. Replaced in
	// tests.
	spawn func(exe string, args []string, dir string, env []string) (int32, error)

	mu            sync.Mutex
	lastAutostart time.Time
}

func New(runner cmdrunner.Runner, p paths.Paths, store *statestore.Store, config ConfigReader, prober HealthProber) *Supervisor {
	s := &Supervisor{
		runner: runner,
		paths:  p,
		store:  store,
		config: config,
		prober: prober,
	}
	s.spawn = s.spawnDetached
	return s
}

// Start launches the gateway detached with no window. Idempotency guard:
// a live tracked PID fails with ErrAlreadyRunning.
func (s *Supervisor) Start(ctx context.Context) (ControlResult, error) {
	if err := s.paths.EnsureDirs(); err != nil {
		return ControlResult{}, err
	}
	if pid, ok := s.runningPid(); ok {
		return ControlResult{Running: true, Pid: &pid},
			fmt.Errorf("%w (PID %d)", ErrAlreadyRunning, pid)
	}

	install, err := s.store.LoadInstallState()
	if err != nil {
		return ControlResult{}, err
	}
	if install == nil {
		return ControlResult{}, ErrNotInstalled
	}
	cfg, err := s.config.ReadCurrentConfig()
	if err != nil {
		return ControlResult{}, fmt.Errorf("read current config: %w", err)
	}

	runtimeCommand, err := gateway.ResolveCommand(ctx, s.runner, install.CommandPath)
	if err != nil {
		return ControlResult{}, err
	}
	exe, args, err := gateway.Invocation(s.runner, runtimeCommand, buildGatewayArgs(cfg))
	if err != nil {
		return ControlResult{}, err
	}
	exe, args = cmdrunner.ShellCommand(exe, args)

	pid, err := s.spawn(exe, args, install.InstallDir, s.runtimeEnv(cfg))
	if err != nil {
		return ControlResult{}, fmt.Errorf("spawn gateway: %w", err)
	}
	if err := s.writePid(pid); err != nil {
		return ControlResult{}, err
	}
	// Once started, keep it running until the user explicitly ends it.
	if err := s.store.SetKeepRunning(true); err != nil {
		log.Warnf("failed to persist keep-running preference: %v", err)
	}
	log.Infof("OpenClaw process started at PID %d (command: %s).", pid, runtimeCommand)

	return ControlResult{Running: true, Pid: &pid, Message: "OpenClaw process started."}, nil
}

// Stop terminates the tracked process, escalating from graceful terminate
// to kill, and clears the PID record on every path. A missing record is a
// successful no-op.
func (s *Supervisor) Stop(_ context.Context) (ControlResult, error) {
	pid, ok := s.readPid()
	if !ok {
		return ControlResult{Message: "Process is not running."}, nil
	}

	err := ports.KillTree(pid)
	s.removePid()
	if err != nil {
		return ControlResult{}, fmt.Errorf("stop process PID %d: %w", pid, err)
	}
	log.Infof("OpenClaw process stopped, PID %d.", pid)
	return ControlResult{Pid: &pid, Message: "Process stopped."}, nil
}

// End is the user-intent variant of Stop: it records keep-running=false and
// also sweeps any untracked listener on the configured port, since manual
// starts outside the supervisor are possible.
func (s *Supervisor) End(ctx context.Context) (ControlResult, error) {
	if err := s.store.SetKeepRunning(false); err != nil {
		log.Warnf("failed to persist keep-running preference: %v", err)
	}
	result, err := s.Stop(ctx)
	if err != nil {
		return result, err
	}

	if cfg, cfgErr := s.config.ReadCurrentConfig(); cfgErr == nil {
		if status := ports.Check(cfg.Port); status.InUse && status.Pid != nil {
			log.Warnf("Sweeping orphaned gateway listener on port %d (PID %d).", cfg.Port, *status.Pid)
			if killErr := ports.KillTree(*status.Pid); killErr != nil {
				log.Warnf("failed to sweep orphan on port %d: %v", cfg.Port, killErr)
			}
		}
	}

	result.Message = "OpenClaw ended by user. It will stay stopped until you click Start again."
	return result, nil
}

// Restart composes Stop (tolerating already-stopped) and Start.
func (s *Supervisor) Restart(ctx context.Context) (ControlResult, error) {
	if _, err := s.Stop(ctx); err != nil {
		log.Warnf("restart: stop failed: %v", err)
	}
	return s.Start(ctx)
}

// Status combines PID liveness with a health probe and, when keep-running
// is set and install+config exist, auto-restarts the gateway (throttled).
func (s *Supervisor) Status(ctx context.Context) (Status, error) {
	prefs, err := s.store.LoadRunPrefs()
	if err != nil {
		prefs = statestore.RunPrefs{KeepRunning: true}
	}

	cfg, cfgErr := s.config.ReadCurrentConfig()
	if cfgErr != nil {
		cfg = gateway.FileConfig{
			Provider:    "unknown",
			ModelChain:  gateway.ModelChain{Primary: "unknown"},
			BindAddress: "127.0.0.1",
			Port:        28789,
			LaunchArgs:  "gateway",
		}
	}
	install, err := s.store.LoadInstallState()
	if err != nil {
		return Status{}, err
	}

	pid, alive := s.runningPid()
	healthResult := s.probe(ctx, cfg)
	running := alive || healthResult.OK

	if !running && prefs.KeepRunning && s.shouldAttemptAutostart() {
		if install != nil && cfgErr == nil && util.FileExists(s.store.ResolvePaths(s.paths).ConfigPath()) {
			if _, err := s.Start(ctx); err != nil {
				log.Warnf("Auto-start OpenClaw failed: %v", err)
			} else {
				pid, alive = s.runningPid()
				healthResult = s.probe(ctx, cfg)
				running = alive || healthResult.OK
			}
		}
	}

	version := "unknown"
	if install != nil && strings.TrimSpace(install.Version) != "" && install.Version != "unknown" {
		version = install.Version
	} else if detected, ok := s.detectGlobalVersion(ctx); ok {
		version = detected
	}

	status := Status{
		Running:      running,
		Version:      version,
		Provider:     cfg.Provider,
		CurrentModel: cfg.ModelChain.Primary,
		Port:         cfg.Port,
		Health:       healthResult,
	}
	if alive {
		status.Pid = &pid
	}
	return status, nil
}

// ClearCache resets the gateway's cache directory.
func (s *Supervisor) ClearCache() (string, error) {
	return s.resetDirs("cache")
}

// ClearSessions resets the gateway's session and memory directories.
func (s *Supervisor) ClearSessions() (string, error) {
	if _, err := s.resetDirs("sessions", "memory"); err != nil {
		return "", err
	}
	log.Info("Session and memory directories reset.")
	return "sessions,memory", nil
}

func (s *Supervisor) resetDirs(names ...string) (string, error) {
	home := s.store.ResolvePaths(s.paths).GatewayHome()
	var last string
	for _, name := range names {
		dir := filepath.Join(home, name)
		if err := os.RemoveAll(dir); err != nil {
			return "", fmt.Errorf("reset %s: %w", name, err)
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return "", fmt.Errorf("recreate %s: %w", name, err)
		}
		last = dir
	}
	return last, nil
}

func (s *Supervisor) probe(ctx context.Context, cfg gateway.FileConfig) health.Result {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	host := cfg.BindAddress
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	result, err := s.prober.Probe(probeCtx, host, cfg.Port)
	if err != nil {
		return health.Result{}
	}
	return result
}

func (s *Supervisor) shouldAttemptAutostart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.lastAutostart) < autostartInterval {
		return false
	}
	s.lastAutostart = time.Now()
	return true
}

// runningPid returns the tracked PID if the process is alive and still
// looks like ours; a stale record self-heals by deletion.
func (s *Supervisor) runningPid() (int32, bool) {
	pid, ok := s.readPid()
	if !ok {
		return 0, false
	}
	if s.processMatches(pid) {
		return pid, true
	}
	s.removePid()
	return 0, false
}

func (s *Supervisor) processMatches(pid int32) bool {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return false
	}
	if running, err := proc.IsRunning(); err != nil || !running {
		return false
	}
	name, err := proc.Name()
	if err != nil {
		// Liveness without identity is the best some platforms offer.
		return true
	}
	lower := strings.ToLower(name)
	for _, expected := range expectedProcessNames {
		if strings.Contains(lower, expected) {
			return true
		}
	}
	return false
}

func (s *Supervisor) detectGlobalVersion(ctx context.Context) (string, bool) {
	cmd, ok := s.runner.LookPath("openclaw")
	if !ok {
		return "", false
	}
	out, err := s.runner.Run(ctx, cmdrunner.Command{
		Path: cmd, Args: []string{"--version"}, Timeout: 2 * time.Minute,
	})
	if err != nil || out.Code != 0 {
		return "", false
	}
	for _, line := range strings.Split(out.Stdout, "\n") {
		if v := strings.TrimSpace(line); v != "" {
			return v, true
		}
	}
	return "", false
}

// runtimeEnv builds the child environment: the config-path and state-dir
// contract plus proxy and provider key variables.
func (s *Supervisor) runtimeEnv(cfg gateway.FileConfig) []string {
	live := s.store.ResolvePaths(s.paths)
	env := []string{
		"OPENCLAW_CONFIG_PATH=" + live.ConfigPath(),
		"OPENCLAW_STATE_DIR=" + live.GatewayHome(),
	}
	if cfg.Proxy != nil && strings.TrimSpace(*cfg.Proxy) != "" {
		proxy := strings.TrimSpace(*cfg.Proxy)
		env = append(env, "HTTP_PROXY="+proxy, "HTTPS_PROXY="+proxy, "ALL_PROXY="+proxy)
	}

	providerEnv := map[string]string{}
	if last, err := s.store.LoadLastConfig(); err == nil && last != nil {
		for provider, key := range last.ProviderAPIKeys {
			value := strings.TrimSpace(key)
			if value == "" {
				continue
			}
			if name, ok := gateway.ProviderEnvName(provider); ok {
				providerEnv[name] = value
			}
		}
	}
	// Old single-key payloads bind the key to the primary provider.
	if strings.TrimSpace(cfg.APIKey) != "" {
		if name, ok := gateway.ProviderEnvName(cfg.Provider); ok {
			if _, exists := providerEnv[name]; !exists {
				providerEnv[name] = cfg.APIKey
			}
		}
	}
	names := make([]string, 0, len(providerEnv))
	for name := range providerEnv {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		env = append(env, name+"="+providerEnv[name])
	}
	return env
}

func (s *Supervisor) writePid(pid int32) error {
	return os.WriteFile(s.paths.PidFile(), []byte(strconv.Itoa(int(pid))), 0o640)
}

func (s *Supervisor) readPid() (int32, bool) {
	raw, err := os.ReadFile(s.paths.PidFile())
	if err != nil {
		return 0, false
	}
	pid, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 32)
	if err != nil || pid <= 0 {
		return 0, false
	}
	return int32(pid), true
}

func (s *Supervisor) removePid() {
	_ = os.Remove(s.paths.PidFile())
}

// buildGatewayArgs normalizes the launch arguments: the gateway subcommand
// is enforced, and port/bind/--allow-unconfigured are filled in unless the
// user overrode them.
func buildGatewayArgs(cfg gateway.FileConfig) []string {
	args := strings.Fields(cfg.LaunchArgs)
	if len(args) == 0 || strings.EqualFold(args[0], "serve") {
		args = []string{"gateway"}
	} else if !strings.EqualFold(args[0], "gateway") {
		args = append([]string{"gateway"}, args...)
	}
	if !hasArg(args, "--port") {
		args = append(args, "--port", strconv.Itoa(int(cfg.Port)))
	}
	if !hasArg(args, "--bind") {
		args = append(args, "--bind", bindModeFromAddress(cfg.BindAddress))
	}
	if !hasArg(args, "--allow-unconfigured") {
		args = append(args, "--allow-unconfigured")
	}
	return args
}

func bindModeFromAddress(address string) string {
	if strings.TrimSpace(address) == "0.0.0.0" {
		return "lan"
	}
	return "loopback"
}

func hasArg(args []string, name string) bool {
	for _, item := range args {
		if strings.EqualFold(item, name) {
			return true
		}
	}
	return false
}
