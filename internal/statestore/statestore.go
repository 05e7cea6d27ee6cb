// Package statestore persists installer-owned state under the state/
// directory: the install lock, the last applied configuration, and run
// preferences. Writes are atomic so a crash never leaves a torn file.
package statestore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/clawdesk/clawdesk/internal/gateway"
	"github.com/clawdesk/clawdesk/internal/paths"
	"github.com/clawdesk/clawdesk/util"
)

// RunPrefs controls background supervision behavior. keep_running stays
// true until the user explicitly ends the gateway.
type RunPrefs struct {
	KeepRunning bool `json:"keep_running"`
}

// Store reads and writes the installer's persisted records.
type Store struct {
	paths paths.Paths
}

func New(p paths.Paths) *Store {
	return &Store{paths: p}
}

func (s *Store) installStatePath() string {
	return filepath.Join(s.paths.StateDir(), "install-lock.json")
}

func (s *Store) lastConfigPath() string {
	return filepath.Join(s.paths.StateDir(), "last_config.json")
}

func (s *Store) runPrefsPath() string {
	return filepath.Join(s.paths.StateDir(), "run_prefs.json")
}

// SaveInstallState records a completed install. This is the install lock:
// its presence blocks further installs until an explicit uninstall.
func (s *Store) SaveInstallState(state gateway.InstallState) error {
	if err := s.paths.EnsureDirs(); err != nil {
		return err
	}
	return util.WriteJson(s.installStatePath(), state)
}

// LoadInstallState returns nil when no install is recorded.
func (s *Store) LoadInstallState() (*gateway.InstallState, error) {
	path := s.installStatePath()
	if !util.FileExists(path) {
		return nil, nil
	}
	var state gateway.InstallState
	if err := util.ReadJson(path, &state); err != nil {
		return nil, fmt.Errorf("read install state: %w", err)
	}
	return &state, nil
}

func (s *Store) ClearInstallState() error {
	return util.RemoveFile(s.installStatePath())
}

// LockInfo is the read-only install lock view for the presentation layer.
func (s *Store) LockInfo() (gateway.InstallLockInfo, error) {
	state, err := s.LoadInstallState()
	if err != nil {
		return gateway.InstallLockInfo{}, err
	}
	if state == nil {
		return gateway.InstallLockInfo{Installed: false}, nil
	}
	return gateway.InstallLockInfo{
		Installed:   true,
		InstallDir:  &state.InstallDir,
		Version:     &state.Version,
		CommandPath: &state.CommandPath,
	}, nil
}

func (s *Store) SaveLastConfig(cfg gateway.ConfigInput) error {
	if err := s.paths.EnsureDirs(); err != nil {
		return err
	}
	return util.WriteJson(s.lastConfigPath(), cfg)
}

// LoadLastConfig returns nil when configure has never completed.
func (s *Store) LoadLastConfig() (*gateway.ConfigInput, error) {
	path := s.lastConfigPath()
	if !util.FileExists(path) {
		return nil, nil
	}
	var cfg gateway.ConfigInput
	if err := util.ReadJson(path, &cfg); err != nil {
		return nil, fmt.Errorf("read last config: %w", err)
	}
	return &cfg, nil
}

func (s *Store) ClearLastConfig() error {
	return util.RemoveFile(s.lastConfigPath())
}

// LoadRunPrefs falls back to keep-running=true when no record exists.
func (s *Store) LoadRunPrefs() (RunPrefs, error) {
	path := s.runPrefsPath()
	if !util.FileExists(path) {
		return RunPrefs{KeepRunning: true}, nil
	}
	var prefs RunPrefs
	if err := util.ReadJson(path, &prefs); err != nil {
		return RunPrefs{}, fmt.Errorf("read run prefs: %w", err)
	}
	return prefs, nil
}

func (s *Store) SaveRunPrefs(prefs RunPrefs) error {
	if err := s.paths.EnsureDirs(); err != nil {
		return err
	}
	return util.WriteJson(s.runPrefsPath(), prefs)
}

func (s *Store) SetKeepRunning(value bool) error {
	prefs, err := s.LoadRunPrefs()
	if err != nil {
		return err
	}
	prefs.KeepRunning = value
	return s.SaveRunPrefs(prefs)
}

// ClearAll removes every persisted record. Used by uninstall.
func (s *Store) ClearAll() []string {
	var warnings []string
	for _, path := range []string{s.installStatePath(), s.lastConfigPath(), s.runPrefsPath()} {
		if err := util.RemoveFile(path); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to remove %s: %v", filepath.Base(path), err))
		}
	}
	return warnings
}

// ResolvePaths binds the directory layout to the recorded install: once an
// install exists, the gateway home is the install directory itself.
func (s *Store) ResolvePaths(base paths.Paths) paths.Paths {
	if state, err := s.LoadInstallState(); err == nil && state != nil && state.InstallDir != "" {
		return base.WithGatewayHome(state.InstallDir)
	}
	return base
}

// StateDirEmpty reports whether the state dir holds no records.
func (s *Store) StateDirEmpty() bool {
	entries, err := os.ReadDir(s.paths.StateDir())
	return err == nil && len(entries) == 0
}
