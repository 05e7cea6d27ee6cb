// Package paths owns the on-disk layout of the installer and of the managed
// OpenClaw gateway. All directories are derived from a single Paths value
// constructed at process start; nothing in this package reads mutable
// process-global state after construction.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

const (
	// DataDirEnv overrides the installer-private data root.
	DataDirEnv = "CLAWDESK_DATA_DIR"
	// GatewayHomeEnv overrides the managed gateway state directory.
	GatewayHomeEnv = "CLAWDESK_GATEWAY_HOME"
)

// Paths resolves every directory the installer touches. The zero value is
// not usable; construct with New.
type Paths struct {
	dataRoot    string
	gatewayHome string
}

// New builds a Paths rooted at dataRoot, with the gateway state directory at
// gatewayHome. Empty arguments fall back to the environment overrides and
// then to the per-user defaults.
func New(dataRoot, gatewayHome string) Paths {
	if dataRoot == "" {
		dataRoot = strings.TrimSpace(os.Getenv(DataDirEnv))
	}
	if dataRoot == "" {
		dataRoot = defaultDataRoot()
	}
	if gatewayHome == "" {
		gatewayHome = strings.TrimSpace(os.Getenv(GatewayHomeEnv))
	}
	if gatewayHome == "" {
		gatewayHome = filepath.Join(dataRoot, "openclaw")
	}
	return Paths{dataRoot: dataRoot, gatewayHome: gatewayHome}
}

// WithGatewayHome returns a copy pointing at a different gateway state
// directory. Used when the install directory is chosen by the user.
func (p Paths) WithGatewayHome(home string) Paths {
	out := p
	out.gatewayHome = home
	return out
}

func (p Paths) DataRoot() string    { return p.dataRoot }
func (p Paths) LogsDir() string     { return filepath.Join(p.dataRoot, "logs") }
func (p Paths) BackupsDir() string  { return filepath.Join(p.dataRoot, "backups") }
func (p Paths) StateDir() string    { return filepath.Join(p.dataRoot, "state") }
func (p Paths) RunDir() string      { return filepath.Join(p.dataRoot, "run") }
func (p Paths) GatewayHome() string { return p.gatewayHome }

// ConfigPath is the gateway's own config file inside its state directory.
func (p Paths) ConfigPath() string {
	return filepath.Join(p.gatewayHome, "openclaw.json")
}

// EnvFilePath is the gateway's secrets file.
func (p Paths) EnvFilePath() string {
	return filepath.Join(p.gatewayHome, ".env")
}

// PidFile is the supervisor-owned process record.
func (p Paths) PidFile() string {
	return filepath.Join(p.RunDir(), "openclaw.pid")
}

// EnsureDirs creates the full installer directory tree.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{
		p.dataRoot,
		p.LogsDir(),
		p.BackupsDir(),
		p.StateDir(),
		p.RunDir(),
		p.gatewayHome,
	} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	return nil
}

func defaultDataRoot() string {
	base, err := os.UserCacheDir()
	if runtime.GOOS == "windows" {
		// UserCacheDir is %LocalAppData% on Windows, which is where the
		// installer keeps its private state.
		if err == nil {
			return filepath.Join(base, "clawdesk")
		}
	}
	if home, herr := os.UserHomeDir(); herr == nil {
		return filepath.Join(home, ".clawdesk")
	}
	return filepath.Join(os.TempDir(), "clawdesk")
}

var envVarPattern = regexp.MustCompile(`%([A-Za-z0-9_]+)%`)

// ExpandEnv substitutes Windows-style %VAR% references using the current
// environment. Unset variables expand to the empty string.
func ExpandEnv(raw string) string {
	return envVarPattern.ReplaceAllStringFunc(raw, func(match string) string {
		key := strings.Trim(match, "%")
		return os.Getenv(key)
	})
}

// Normalize expands %VAR% references and a leading ~ and returns a cleaned
// absolute-ish path. User-supplied paths must pass through here before use.
func Normalize(raw string) (string, error) {
	expanded := strings.TrimSpace(ExpandEnv(raw))
	if expanded == "" {
		return "", fmt.Errorf("path is empty after expansion: %q", raw)
	}
	if expanded == "~" || strings.HasPrefix(expanded, "~/") || strings.HasPrefix(expanded, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		tail := strings.TrimLeft(expanded[1:], `/\`)
		if tail == "" {
			return home, nil
		}
		expanded = filepath.Join(home, tail)
	}
	return filepath.Clean(expanded), nil
}

// IsUserProfileGatewayDir reports whether path is the classic per-user
// OpenClaw state directory (or one of its legacy aliases). The installer
// must never manage that directory: it can belong to an unrelated install.
func IsUserProfileGatewayDir(path string) bool {
	home, err := os.UserHomeDir()
	if err != nil {
		return false
	}
	needle := canonical(path)
	for _, name := range []string{".openclaw", ".clawdbot", ".moldbot", ".moltbot"} {
		if needle == canonical(filepath.Join(home, name)) {
			return true
		}
	}
	return false
}

func canonical(p string) string {
	s := strings.ReplaceAll(filepath.Clean(p), "/", string(filepath.Separator))
	s = strings.TrimRight(s, string(filepath.Separator))
	return strings.ToLower(s)
}
