package backup

import (
	"context"
	"errors"
	"fmt"

	goversion "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"

	"github.com/clawdesk/clawdesk/internal/configurer"
	"github.com/clawdesk/clawdesk/internal/gateway"
	"github.com/clawdesk/clawdesk/internal/installer"
)

// GatewayInstaller reinstalls the gateway package over an existing install.
type GatewayInstaller interface {
	InstallForUpgrade(ctx context.Context, cfg gateway.ConfigInput) (installer.Result, error)
}

// Reconfigurer reapplies the persisted configuration after a reinstall.
type Reconfigurer interface {
	Configure(ctx context.Context, cfg gateway.ConfigInput) (configurer.Result, error)
}

// UpgradeResult reports an upgrade attempt. RolledBack means the pre-upgrade
// snapshot was restored after a failure.
type UpgradeResult struct {
	OldVersion string   `json:"old_version"`
	NewVersion string   `json:"new_version"`
	Updated    bool     `json:"updated"`
	RolledBack bool     `json:"rolled_back"`
	BackupID   string   `json:"backup_id"`
	Warnings   []string `json:"warnings"`
}

// Upgrade reinstalls the latest gateway package behind a pre-upgrade
// snapshot: any failure after the snapshot restores it before returning.
// The caller is expected to have stopped the gateway first.
func (m *Manager) Upgrade(ctx context.Context, inst GatewayInstaller, reconf Reconfigurer) (UpgradeResult, error) {
	state, err := m.store.LoadInstallState()
	if err != nil {
		return UpgradeResult{}, err
	}
	if state == nil {
		return UpgradeResult{}, errors.New("install state not found, run install first")
	}
	lastCfg, err := m.store.LoadLastConfig()
	if err != nil {
		return UpgradeResult{}, err
	}

	snapshot, err := m.Create("pre-upgrade")
	if err != nil {
		return UpgradeResult{}, fmt.Errorf("pre-upgrade snapshot: %w", err)
	}
	result := UpgradeResult{OldVersion: state.Version, BackupID: snapshot.ID}

	cfg := gateway.DefaultConfigInput()
	if lastCfg != nil {
		cfg = *lastCfg
	}
	cfg.InstallDir = state.InstallDir
	cfg.SourceMethod = state.Method
	cfg.SourceURL = state.SourceURL

	installed, err := inst.InstallForUpgrade(ctx, cfg)
	if err != nil {
		return m.rollbackUpgrade(result, snapshot, fmt.Errorf("upgrade install: %w", err))
	}
	result.NewVersion = installed.Version
	result.Updated = versionAdvanced(state.Version, installed.Version)

	if lastCfg != nil {
		confResult, err := reconf.Configure(ctx, cfg)
		if err != nil {
			return m.rollbackUpgrade(result, snapshot, fmt.Errorf("reapply configuration: %w", err))
		}
		result.Warnings = confResult.Warnings
	} else {
		result.Warnings = append(result.Warnings, "No stored configuration to reapply; run configure after the upgrade.")
	}

	log.Infof("Upgrade finished: %s -> %s (updated=%v)", result.OldVersion, result.NewVersion, result.Updated)
	return result, nil
}

func (m *Manager) rollbackUpgrade(result UpgradeResult, snapshot Info, cause error) (UpgradeResult, error) {
	log.Warnf("Upgrade failed, restoring pre-upgrade snapshot %s: %v", snapshot.ID, cause)
	if err := m.restore(snapshot); err != nil {
		return result, fmt.Errorf("%v; snapshot restore also failed: %w", cause, err)
	}
	result.RolledBack = true
	return result, cause
}

// versionAdvanced compares semantic versions, falling back to plain
// inequality when either side does not parse.
func versionAdvanced(oldVersion, newVersion string) bool {
	oldV, errOld := goversion.NewVersion(oldVersion)
	newV, errNew := goversion.NewVersion(newVersion)
	if errOld != nil || errNew != nil {
		return oldVersion != newVersion && newVersion != ""
	}
	return newV.GreaterThan(oldV)
}
