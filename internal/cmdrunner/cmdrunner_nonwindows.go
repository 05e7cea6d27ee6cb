//go:build !windows

package cmdrunner

import (
	"context"
	"os"
	"os/exec"
	"syscall"
)

func hideWindow(cmd *exec.Cmd) {}

func fallbackSearchDirs() []string {
	return nil
}

// DetachedAttrs returns candidate process attributes for launching a
// long-lived child detached from the installer.
func DetachedAttrs() []*syscall.SysProcAttr {
	return []*syscall.SysProcAttr{{Setsid: true}}
}

// IsAdmin reports whether the current process runs with root privileges.
func IsAdmin(_ context.Context, _ Runner) bool {
	return os.Geteuid() == 0
}
