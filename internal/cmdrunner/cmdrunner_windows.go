//go:build windows

package cmdrunner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/windows"
)

func hideWindow(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NO_WINDOW,
	}
}

// fallbackSearchDirs lists directories probed when PATH misses a command.
// GUI-launched processes often inherit a PATH without the npm shim dir.
func fallbackSearchDirs() []string {
	var dirs []string
	if appData := os.Getenv("APPDATA"); appData != "" {
		dirs = append(dirs, filepath.Join(appData, "npm"))
	}
	for _, env := range []string{"ProgramFiles", "ProgramFiles(x86)"} {
		if pf := os.Getenv(env); pf != "" {
			dirs = append(dirs, filepath.Join(pf, "nodejs"))
		}
	}
	return dirs
}

// DetachedAttrs returns candidate process attributes for launching a
// long-lived child detached from the installer, most isolated first. Job
// objects can deny breakaway, hence the second candidate.
func DetachedAttrs() []*syscall.SysProcAttr {
	const flags = windows.DETACHED_PROCESS | windows.CREATE_NO_WINDOW
	return []*syscall.SysProcAttr{
		{HideWindow: true, CreationFlags: flags | windows.CREATE_BREAKAWAY_FROM_JOB},
		{HideWindow: true, CreationFlags: flags},
	}
}

// IsAdmin reports whether the current process runs elevated. `net session`
// requires administrator rights and fails fast without them.
func IsAdmin(ctx context.Context, runner Runner) bool {
	out, err := runner.Run(ctx, Command{
		Path:    "net",
		Args:    []string{"session"},
		Timeout: 10 * time.Second,
	})
	return err == nil && out.Code == 0
}
