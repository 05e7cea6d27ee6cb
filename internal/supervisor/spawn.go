package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/clawdesk/clawdesk/internal/cmdrunner"
)

// spawnDetached launches the gateway fire-and-forget: no window, no held
// handle, stdout/stderr appended to the log files. Job objects can deny the
// most isolated creation flags, so every candidate attribute set is tried.
func (s *Supervisor) spawnDetached(exe string, args []string, dir string, env []string) (int32, error) {
	stdout, err := appendLog(filepath.Join(s.paths.LogsDir(), "openclaw-stdout.log"))
	if err != nil {
		return 0, err
	}
	stderr, err := appendLog(filepath.Join(s.paths.LogsDir(), "openclaw-stderr.log"))
	if err != nil {
		_ = stdout.Close()
		return 0, err
	}
	defer func() {
		_ = stdout.Close()
		_ = stderr.Close()
	}()

	var spawnErrs error
	for i, attr := range cmdrunner.DetachedAttrs() {
		cmd := exec.Command(exe, args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(), env...)
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		cmd.SysProcAttr = attr

		if err := cmd.Start(); err != nil {
			spawnErrs = multierror.Append(spawnErrs, err)
			if i == 0 {
				log.Warnf("gateway spawn with isolated flags failed, retrying with reduced flags: %v", err)
			}
			continue
		}
		pid := int32(cmd.Process.Pid)
		// Fire-and-forget: drop the handle, liveness is polled on demand.
		if err := cmd.Process.Release(); err != nil {
			log.Warnf("release gateway process handle: %v", err)
		}
		return pid, nil
	}
	return 0, fmt.Errorf("all spawn attempts failed: %w", spawnErrs)
}

func appendLog(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
}
