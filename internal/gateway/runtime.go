package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/clawdesk/clawdesk/internal/cmdrunner"
)

// ErrNoUsableCommand is returned when neither the persisted command, a PATH
// install, nor npx can run the gateway CLI.
var ErrNoUsableCommand = errors.New("no usable openclaw command found")

// ResolveCommand returns a runnable gateway command, starting from the
// persisted preference and falling back to a PATH install and then npx.
// The special return value "npx" means callers must expand via Invocation.
func ResolveCommand(ctx context.Context, runner cmdrunner.Runner, preferred string) (string, error) {
	preferred = strings.Trim(strings.TrimSpace(preferred), `"`)
	if preferred != "" && CommandUsable(ctx, runner, preferred) {
		return preferred, nil
	}
	if preferred != "" {
		log.Warnf("Configured OpenClaw command is not usable: %s", preferred)
	}

	if global, ok := runner.LookPath("openclaw"); ok {
		if !strings.EqualFold(global, preferred) && CommandUsable(ctx, runner, global) {
			log.Warnf("Falling back to global OpenClaw command from PATH: %s", global)
			return global, nil
		}
	}

	if CommandUsable(ctx, runner, "npx") {
		log.Warn("Falling back to npx openclaw.")
		return "npx", nil
	}

	return "", ErrNoUsableCommand
}

// CommandUsable validates a candidate by running --version. A stale or
// broken wrapper script fails here and is excluded.
func CommandUsable(ctx context.Context, runner cmdrunner.Runner, command string) bool {
	path, args, err := Invocation(runner, command, []string{"--version"})
	if err != nil {
		return false
	}
	out, err := runner.Run(ctx, cmdrunner.Command{Path: path, Args: args, Timeout: 2 * time.Minute})
	return err == nil && out.Code == 0
}

// Invocation expands the "npx" pseudo-command into a real npx call and
// passes every other command through unchanged.
func Invocation(runner cmdrunner.Runner, command string, args []string) (string, []string, error) {
	if !strings.EqualFold(command, "npx") {
		return command, args, nil
	}
	npxExe, ok := runner.LookPath("npx")
	if !ok {
		return "", nil, errors.New("npx not found, install Node.js first")
	}
	return npxExe, append([]string{"--yes", "openclaw"}, args...), nil
}
