// Package cmdrunner executes external commands for the installer. All
// components talk to the Runner interface so tests never spawn processes.
package cmdrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
)

// ErrTimeout is returned when a command exceeds its deadline and was killed.
var ErrTimeout = errors.New("command timed out")

// DefaultTimeout bounds commands that do not set their own.
const DefaultTimeout = 10 * time.Minute

// Command describes a single external invocation.
type Command struct {
	Path string
	Args []string
	Dir  string
	// Env entries are appended to the inherited environment.
	Env     []string
	Timeout time.Duration
}

// Output is the captured result of a finished command.
type Output struct {
	Code   int
	Stdout string
	Stderr string
}

// Combined returns stderr if present, otherwise stdout. Used for log
// snapshots of failed commands.
func (o Output) Combined() string {
	if strings.TrimSpace(o.Stderr) != "" {
		return o.Stderr
	}
	return o.Stdout
}

// Runner executes external commands and resolves command names.
type Runner interface {
	// Run executes cmd to completion. A non-zero exit code is not an
	// error; err is reserved for spawn failures and timeouts.
	Run(ctx context.Context, cmd Command) (Output, error)
	// LookPath resolves name to an absolute executable path.
	LookPath(name string) (string, bool)
}

// ExecRunner runs commands with os/exec, hiding console windows and routing
// .cmd/.bat/.ps1 targets through their interpreters.
type ExecRunner struct{}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Output, error) {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	path, args := shellIndirection(cmd.Path, cmd.Args)

	execCmd := exec.CommandContext(runCtx, path, args...)
	execCmd.Dir = cmd.Dir
	execCmd.Env = append(os.Environ(), cmd.Env...)
	hideWindow(execCmd)

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	err := execCmd.Run()
	out := Output{
		Stdout: decodeLossy(stdout.Bytes()),
		Stderr: decodeLossy(stderr.Bytes()),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return out, fmt.Errorf("%w after %s: %s %s", ErrTimeout, timeout, cmd.Path, strings.Join(cmd.Args, " "))
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.Code = exitErr.ExitCode()
			return out, nil
		}
		return out, fmt.Errorf("run %s: %w", cmd.Path, err)
	}
	return out, nil
}

func (r *ExecRunner) LookPath(name string) (string, bool) {
	if p, err := exec.LookPath(name); err == nil {
		return p, true
	}
	for _, dir := range fallbackSearchDirs() {
		if p, ok := probeExecutable(dir, name); ok {
			log.Debugf("resolved %s outside PATH: %s", name, p)
			return p, true
		}
	}
	return "", false
}

// executableRank orders candidate file extensions from most to least
// preferred when several shims exist for the same command.
func executableRank(path string) int {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".exe":
		return 0
	case ".cmd":
		return 1
	case ".bat":
		return 2
	case ".com":
		return 3
	case ".ps1":
		return 5
	default:
		return 4
	}
}

func probeExecutable(dir, name string) (string, bool) {
	best := ""
	bestRank := int(^uint(0) >> 1)
	for _, ext := range []string{"", ".exe", ".cmd", ".bat", ".com", ".ps1"} {
		candidate := filepath.Join(dir, name+ext)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if rank := executableRank(candidate); rank < bestRank {
			best, bestRank = candidate, rank
		}
	}
	return best, best != ""
}

// ShellCommand rewrites a script target through its interpreter. Exposed
// for callers that spawn long-lived processes with os/exec directly.
func ShellCommand(path string, args []string) (string, []string) {
	return shellIndirection(path, args)
}

// shellIndirection rewrites script targets so Windows batch and PowerShell
// shims run under their interpreters instead of being exec'd directly.
func shellIndirection(path string, args []string) (string, []string) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cmd", ".bat":
		return "cmd", append([]string{"/D", "/C", path}, args...)
	case ".ps1":
		return "powershell", append([]string{
			"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-File", path,
		}, args...)
	default:
		return path, args
	}
}

// decodeLossy replaces invalid UTF-8 so captured output is always safe to
// log and serialize.
func decodeLossy(bs []byte) string {
	if utf8.Valid(bs) {
		return string(bs)
	}
	return strings.ToValidUTF8(string(bs), "�")
}

// Truncate shortens s to max runes, appending a marker when trimmed.
func Truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "... [truncated]"
}
