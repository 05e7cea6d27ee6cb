// Package ops is the installer's operation surface: one method per action
// the UI or CLI can request, bound to a single explicit context of stores
// and services. Mutating operations are serialized so install, upgrade, and
// uninstall can never interleave.
package ops

import (
	"context"
	"sync"

	"github.com/clawdesk/clawdesk/internal/backup"
	"github.com/clawdesk/clawdesk/internal/cmdrunner"
	"github.com/clawdesk/clawdesk/internal/configurer"
	"github.com/clawdesk/clawdesk/internal/envcheck"
	"github.com/clawdesk/clawdesk/internal/gateway"
	"github.com/clawdesk/clawdesk/internal/health"
	"github.com/clawdesk/clawdesk/internal/installer"
	"github.com/clawdesk/clawdesk/internal/logstore"
	"github.com/clawdesk/clawdesk/internal/paths"
	"github.com/clawdesk/clawdesk/internal/ports"
	"github.com/clawdesk/clawdesk/internal/security"
	"github.com/clawdesk/clawdesk/internal/statestore"
	"github.com/clawdesk/clawdesk/internal/supervisor"
)

// Manager wires every service to a shared path layout and state store.
type Manager struct {
	// mu serializes mutating operations. Read-only queries run unlocked.
	mu sync.Mutex

	paths      paths.Paths
	store      *statestore.Store
	probe      *envcheck.Probe
	installer  *installer.Installer
	configurer *configurer.Configurer
	supervisor *supervisor.Supervisor
	backups    *backup.Manager
	scanner    *security.Scanner
	logs       *logstore.Store
}

// New assembles the full operation surface on top of one Paths layout.
func New(base paths.Paths) *Manager {
	runner := cmdrunner.NewExecRunner()
	store := statestore.New(base)
	conf := configurer.New(runner, base, store)
	return &Manager{
		paths:      base,
		store:      store,
		probe:      envcheck.NewProbe(runner),
		installer:  installer.New(runner, base, store),
		configurer: conf,
		supervisor: supervisor.New(runner, base, store, conf, health.NewProber()),
		backups:    backup.NewManager(base, store),
		scanner:    security.NewScanner(runner, base, store),
		logs:       logstore.New(base),
	}
}

// CheckEnv reports host readiness for an install.
func (m *Manager) CheckEnv(ctx context.Context, port uint16) envcheck.Snapshot {
	return m.probe.Check(ctx, port)
}

// InstallEnv installs the missing host dependencies via winget or choco.
func (m *Manager) InstallEnv(ctx context.Context, port uint16) envcheck.InstallEnvResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.probe.InstallMissing(ctx, port)
}

// ReleasePort terminates whatever process tree is holding the port.
func (m *Manager) ReleasePort(_ context.Context, port uint16) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ports.Release(port)
}

// InstallLockInfo reports whether an install is recorded and where.
func (m *Manager) InstallLockInfo() (gateway.InstallLockInfo, error) {
	return m.store.LockInfo()
}

// Install performs a fresh gateway install.
func (m *Manager) Install(ctx context.Context, cfg gateway.ConfigInput) (installer.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.installer.Install(ctx, cfg)
}

// Uninstall stops the gateway and removes the install plus all records.
func (m *Manager) Uninstall(ctx context.Context) (installer.UninstallResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.installer.Uninstall(ctx, func() error {
		_, err := m.supervisor.End(ctx)
		return err
	})
}

// Configure applies a full configuration payload.
func (m *Manager) Configure(ctx context.Context, cfg gateway.ConfigInput) (configurer.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configurer.Configure(ctx, cfg)
}

// CurrentConfig reads the effective gateway configuration.
func (m *Manager) CurrentConfig() (gateway.FileConfig, error) {
	return m.configurer.ReadCurrentConfig()
}

// UpdateProviderAPIKey upserts or clears one provider's key.
func (m *Manager) UpdateProviderAPIKey(ctx context.Context, provider, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configurer.UpdateProviderAPIKey(ctx, provider, key)
}

// SwitchModel changes the model chain without a full reconfigure.
func (m *Manager) SwitchModel(ctx context.Context, primary string, fallbacks []string) (configurer.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configurer.SwitchModel(ctx, primary, fallbacks)
}

// ReloadConfig revalidates the config file.
func (m *Manager) ReloadConfig() (string, error) {
	return m.configurer.ReloadConfig()
}

// Start launches the gateway.
func (m *Manager) Start(ctx context.Context) (supervisor.ControlResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supervisor.Start(ctx)
}

// Stop halts the gateway but keeps autostart armed.
func (m *Manager) Stop(ctx context.Context) (supervisor.ControlResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supervisor.Stop(ctx)
}

// End halts the gateway and disarms autostart until the next Start.
func (m *Manager) End(ctx context.Context) (supervisor.ControlResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supervisor.End(ctx)
}

// Restart stops and relaunches the gateway.
func (m *Manager) Restart(ctx context.Context) (supervisor.ControlResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supervisor.Restart(ctx)
}

// Status reports liveness, health, and the effective model.
func (m *Manager) Status(ctx context.Context) (supervisor.Status, error) {
	return m.supervisor.Status(ctx)
}

// HealthCheck probes the gateway at host:port. An empty host or zero port
// falls back to the current configuration.
func (m *Manager) HealthCheck(ctx context.Context, host string, port uint16) (health.Result, error) {
	if host == "" || port == 0 {
		cfg, err := m.configurer.ReadCurrentConfig()
		if err != nil {
			return health.Result{}, err
		}
		if host == "" {
			host = cfg.BindAddress
		}
		if port == 0 {
			port = cfg.Port
		}
	}
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return health.NewProber().Probe(ctx, host, port)
}

// Backup snapshots the gateway home and installer state.
func (m *Manager) Backup(prefix string) (backup.Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backups.Create(prefix)
}

// ListBackups enumerates stored backups, newest first.
func (m *Manager) ListBackups() ([]backup.Info, error) {
	return m.backups.List()
}

// Rollback restores a named backup, stopping the gateway first. The result
// carries both the restored backup and the automatic pre-rollback snapshot.
func (m *Manager) Rollback(ctx context.Context, id string) (backup.RollbackResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.supervisor.Stop(ctx); err != nil {
		return backup.RollbackResult{}, err
	}
	return m.backups.Rollback(id)
}

// Upgrade reinstalls the latest gateway behind a pre-upgrade snapshot.
func (m *Manager) Upgrade(ctx context.Context) (backup.UpgradeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.supervisor.Stop(ctx); err != nil {
		return backup.UpgradeResult{}, err
	}
	return m.backups.Upgrade(ctx, m.installer, m.configurer)
}

// SecurityCheck scans the installation for credential exposure.
func (m *Manager) SecurityCheck(ctx context.Context) security.Report {
	return m.scanner.Scan(ctx)
}

// ListLogs enumerates the installer's log files.
func (m *Manager) ListLogs() ([]logstore.Entry, error) {
	return m.logs.List()
}

// ReadLog tails a named log file.
func (m *Manager) ReadLog(name string, maxLines int) ([]string, error) {
	return m.logs.Read(name, maxLines)
}

// ExportLog copies a log file to a user-chosen destination.
func (m *Manager) ExportLog(name, destination string) (string, error) {
	return m.logs.Export(name, destination)
}

// LogsDirPath returns the log directory.
func (m *Manager) LogsDirPath() string {
	return m.logs.LogsDirPath()
}

// ClearCache wipes the gateway's cache directory.
func (m *Manager) ClearCache() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supervisor.ClearCache()
}

// ClearSessions wipes stored gateway sessions.
func (m *Manager) ClearSessions() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supervisor.ClearSessions()
}

// ListSkillCatalog enumerates installable skills for the wizard.
func (m *Manager) ListSkillCatalog(ctx context.Context) []gateway.SkillCatalogItem {
	return m.configurer.ListSkillCatalog(ctx)
}

// SetupTelegramPair approves a Telegram pairing code.
func (m *Manager) SetupTelegramPair(ctx context.Context, code string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configurer.SetupTelegramPair(ctx, code)
}
