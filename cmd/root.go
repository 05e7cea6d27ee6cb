// Package cmd implements the clawdesk command line: the background service
// hosting the installer API, plus direct maintenance commands.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clawdesk/clawdesk/internal/ops"
	"github.com/clawdesk/clawdesk/internal/paths"
	"github.com/clawdesk/clawdesk/util"
	"github.com/clawdesk/clawdesk/version"
)

const defaultAPIAddr = "127.0.0.1:28710"

var (
	dataDir  string
	logLevel string
	logFile  string
	apiAddr  string

	rootCmd = &cobra.Command{
		Use:          "clawdesk",
		Short:        "ClawDesk manages a local OpenClaw gateway install",
		Version:      version.Version(),
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			util.SetFlagsFromEnvVars(cmd.Root())
		},
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "installer data directory (default: per-user app data)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "sets the log level")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", `log destination; "console" logs to stderr (default: <data-dir>/logs/clawdesk.log)`)
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api-addr", defaultAPIAddr, "address the installer API listens on")

	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(
		checkEnvCmd, installEnvCmd, releasePortCmd,
		installCmd, uninstallCmd, upgradeCmd, lockCmd,
		configureCmd, showConfigCmd, reloadConfigCmd, switchModelCmd, updateKeyCmd,
		startCmd, stopCmd, endCmd, restartCmd, statusCmd, healthCmd,
		backupCmd, backupsCmd, rollbackCmd,
		securityCmd, logsCmd, skillsCmd, pairCmd,
		clearCacheCmd, clearSessionsCmd,
	)
}

// setupEnv initializes logging and builds the operation surface. Called by
// every command's RunE.
func setupEnv() (*ops.Manager, error) {
	base := paths.New(dataDir, "")
	if err := base.EnsureDirs(); err != nil {
		return nil, err
	}
	target := logFile
	if target == "" {
		target = filepath.Join(base.LogsDir(), "clawdesk.log")
	}
	if err := util.InitLog(logLevel, target); err != nil {
		return nil, fmt.Errorf("init log: %w", err)
	}
	return ops.New(base), nil
}

// commandCtx returns a context cancelled on SIGINT/SIGTERM.
func commandCtx() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// printJSON renders a result for scripting and for the desktop shell.
func printJSON(cmd *cobra.Command, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(out))
	return nil
}
