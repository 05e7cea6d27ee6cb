package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/clawdesk/clawdesk/internal/gateway"
	"github.com/clawdesk/clawdesk/internal/ops"
	"github.com/clawdesk/clawdesk/internal/supervisor"
	"github.com/clawdesk/clawdesk/util"
)

var (
	checkPort      uint16
	configFilePath string
	backupPrefix   string
	modelFallbacks []string
	logTailLines   int
	exportDest     string
	healthHost     string
	healthPort     uint16
)

func init() {
	checkEnvCmd.Flags().Uint16Var(&checkPort, "port", 28789, "gateway port to check for conflicts")
	installEnvCmd.Flags().Uint16Var(&checkPort, "port", 28789, "gateway port to check for conflicts")

	installCmd.Flags().StringVarP(&configFilePath, "file", "f", "", "JSON file with the install payload (default: built-in defaults)")
	configureCmd.Flags().StringVarP(&configFilePath, "file", "f", "", "JSON file with the configuration payload")
	_ = configureCmd.MarkFlagRequired("file")

	healthCmd.Flags().StringVar(&healthHost, "host", "", "host to probe (default: the configured bind address)")
	healthCmd.Flags().Uint16Var(&healthPort, "port", 0, "port to probe (default: the configured gateway port)")

	backupCmd.Flags().StringVar(&backupPrefix, "prefix", "manual", "backup file name prefix")
	switchModelCmd.Flags().StringSliceVar(&modelFallbacks, "fallback", nil, "fallback model key, repeatable")
	readLogCmd.Flags().IntVarP(&logTailLines, "lines", "n", 0, "number of lines from the end (default 500)")
	exportLogCmd.Flags().StringVarP(&exportDest, "dest", "d", "", "destination path, %VAR% references are expanded")
	_ = exportLogCmd.MarkFlagRequired("dest")

	logsCmd.AddCommand(readLogCmd, exportLogCmd, logsDirCmd)
}

// loadPayload reads a ConfigInput JSON payload from --file, or returns the
// defaults when the flag is optional and unset.
func loadPayload() (gateway.ConfigInput, error) {
	cfg := gateway.DefaultConfigInput()
	if configFilePath == "" {
		return cfg, nil
	}
	if err := util.ReadJson(configFilePath, &cfg); err != nil {
		return gateway.ConfigInput{}, fmt.Errorf("read payload %s: %w", configFilePath, err)
	}
	return cfg, nil
}

var checkEnvCmd = &cobra.Command{
	Use:   "check-env",
	Short: "Check host dependencies, network, and port availability",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := setupEnv()
		if err != nil {
			return err
		}
		ctx, cancel := commandCtx()
		defer cancel()
		return printJSON(cmd, m.CheckEnv(ctx, checkPort))
	},
}

var installEnvCmd = &cobra.Command{
	Use:   "install-env",
	Short: "Install missing host dependencies via winget or choco",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := setupEnv()
		if err != nil {
			return err
		}
		ctx, cancel := commandCtx()
		defer cancel()
		return printJSON(cmd, m.InstallEnv(ctx, checkPort))
	},
}

var releasePortCmd = &cobra.Command{
	Use:   "release-port <port>",
	Short: "Terminate the process tree holding a TCP port",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil || port == 0 {
			return fmt.Errorf("invalid port %q", args[0])
		}
		m, err := setupEnv()
		if err != nil {
			return err
		}
		ctx, cancel := commandCtx()
		defer cancel()
		message, err := m.ReleasePort(ctx, uint16(port))
		if err != nil {
			return err
		}
		cmd.Println(message)
		return nil
	},
}

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Show the install lock",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := setupEnv()
		if err != nil {
			return err
		}
		info, err := m.InstallLockInfo()
		if err != nil {
			return err
		}
		return printJSON(cmd, info)
	},
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the OpenClaw gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadPayload()
		if err != nil {
			return err
		}
		m, err := setupEnv()
		if err != nil {
			return err
		}
		ctx, cancel := commandCtx()
		defer cancel()
		result, err := m.Install(ctx, cfg)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop the gateway and remove the install",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := setupEnv()
		if err != nil {
			return err
		}
		ctx, cancel := commandCtx()
		defer cancel()
		result, err := m.Uninstall(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	},
}

var upgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Upgrade the gateway behind a pre-upgrade backup",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := setupEnv()
		if err != nil {
			return err
		}
		ctx, cancel := commandCtx()
		defer cancel()
		result, upgradeErr := m.Upgrade(ctx)
		if err := printJSON(cmd, result); err != nil {
			return err
		}
		return upgradeErr
	},
}

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Apply a full configuration payload",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadPayload()
		if err != nil {
			return err
		}
		m, err := setupEnv()
		if err != nil {
			return err
		}
		ctx, cancel := commandCtx()
		defer cancel()
		result, err := m.Configure(ctx, cfg)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	},
}

var showConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective gateway configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := setupEnv()
		if err != nil {
			return err
		}
		cfg, err := m.CurrentConfig()
		if err != nil {
			return err
		}
		return printJSON(cmd, cfg)
	},
}

var reloadConfigCmd = &cobra.Command{
	Use:   "reload-config",
	Short: "Revalidate the gateway configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := setupEnv()
		if err != nil {
			return err
		}
		message, err := m.ReloadConfig()
		if err != nil {
			return err
		}
		cmd.Println(message)
		return nil
	},
}

var switchModelCmd = &cobra.Command{
	Use:   "switch-model <provider/model>",
	Short: "Switch the primary model and rebuild fallbacks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := setupEnv()
		if err != nil {
			return err
		}
		ctx, cancel := commandCtx()
		defer cancel()
		result, err := m.SwitchModel(ctx, args[0], modelFallbacks)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	},
}

var updateKeyCmd = &cobra.Command{
	Use:   "update-key <provider>",
	Short: "Set or clear a provider API key (key read from stdin env CLAWDESK_API_KEY)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Key material stays out of argv and shell history.
		key, ok := os.LookupEnv("CLAWDESK_API_KEY")
		if !ok {
			return errors.New("set CLAWDESK_API_KEY with the key value, or set it empty to clear")
		}
		m, err := setupEnv()
		if err != nil {
			return err
		}
		ctx, cancel := commandCtx()
		defer cancel()
		message, err := m.UpdateProviderAPIKey(ctx, args[0], key)
		if err != nil {
			return err
		}
		cmd.Println(message)
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway process",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd, func(m *ops.Manager, ctx context.Context) (supervisor.ControlResult, error) {
			return m.Start(ctx)
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the gateway process",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd, func(m *ops.Manager, ctx context.Context) (supervisor.ControlResult, error) {
			return m.Stop(ctx)
		})
	},
}

var endCmd = &cobra.Command{
	Use:   "end",
	Short: "Stop the gateway and disable autostart",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd, func(m *ops.Manager, ctx context.Context) (supervisor.ControlResult, error) {
			return m.End(ctx)
		})
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the gateway process",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd, func(m *ops.Manager, ctx context.Context) (supervisor.ControlResult, error) {
			return m.Restart(ctx)
		})
	},
}

func runControl(cmd *cobra.Command, call func(*ops.Manager, context.Context) (supervisor.ControlResult, error)) error {
	m, err := setupEnv()
	if err != nil {
		return err
	}
	ctx, cancel := commandCtx()
	defer cancel()
	result, err := call(m, ctx)
	if err != nil {
		return err
	}
	return printJSON(cmd, result)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway liveness, health, and the effective model",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := setupEnv()
		if err != nil {
			return err
		}
		ctx, cancel := commandCtx()
		defer cancel()
		status, err := m.Status(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, status)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the running gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := setupEnv()
		if err != nil {
			return err
		}
		ctx, cancel := commandCtx()
		defer cancel()
		result, err := m.HealthCheck(ctx, healthHost, healthPort)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the gateway home and installer state",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := setupEnv()
		if err != nil {
			return err
		}
		info, err := m.Backup(backupPrefix)
		if err != nil {
			return err
		}
		return printJSON(cmd, info)
	},
}

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List stored backups, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := setupEnv()
		if err != nil {
			return err
		}
		infos, err := m.ListBackups()
		if err != nil {
			return err
		}
		return printJSON(cmd, infos)
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <backup-id>",
	Short: "Restore a backup (a pre-rollback snapshot is taken first)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := setupEnv()
		if err != nil {
			return err
		}
		ctx, cancel := commandCtx()
		defer cancel()
		info, err := m.Rollback(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, info)
	},
}

var securityCmd = &cobra.Command{
	Use:   "security",
	Short: "Scan the installation for credential exposure",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := setupEnv()
		if err != nil {
			return err
		}
		ctx, cancel := commandCtx()
		defer cancel()
		return printJSON(cmd, m.SecurityCheck(ctx))
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "List installer log files",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := setupEnv()
		if err != nil {
			return err
		}
		entries, err := m.ListLogs()
		if err != nil {
			return err
		}
		return printJSON(cmd, entries)
	},
}

var readLogCmd = &cobra.Command{
	Use:   "read <name>",
	Short: "Tail a log file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := setupEnv()
		if err != nil {
			return err
		}
		lines, err := m.ReadLog(args[0], logTailLines)
		if err != nil {
			return err
		}
		for _, line := range lines {
			cmd.Println(line)
		}
		return nil
	},
}

var exportLogCmd = &cobra.Command{
	Use:   "export <name>",
	Short: "Copy a log file to a destination path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := setupEnv()
		if err != nil {
			return err
		}
		dest, err := m.ExportLog(args[0], exportDest)
		if err != nil {
			return err
		}
		cmd.Println(dest)
		return nil
	},
}

var logsDirCmd = &cobra.Command{
	Use:   "dir",
	Short: "Print the log directory path",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := setupEnv()
		if err != nil {
			return err
		}
		cmd.Println(m.LogsDirPath())
		return nil
	},
}

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "List the installable skill catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := setupEnv()
		if err != nil {
			return err
		}
		ctx, cancel := commandCtx()
		defer cancel()
		return printJSON(cmd, m.ListSkillCatalog(ctx))
	},
}

var pairCmd = &cobra.Command{
	Use:   "pair-telegram <code>",
	Short: "Approve a Telegram pairing code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := setupEnv()
		if err != nil {
			return err
		}
		ctx, cancel := commandCtx()
		defer cancel()
		message, err := m.SetupTelegramPair(ctx, args[0])
		if err != nil {
			return err
		}
		cmd.Println(message)
		return nil
	},
}

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Wipe the gateway cache directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := setupEnv()
		if err != nil {
			return err
		}
		message, err := m.ClearCache()
		if err != nil {
			return err
		}
		cmd.Println(message)
		return nil
	},
}

var clearSessionsCmd = &cobra.Command{
	Use:   "clear-sessions",
	Short: "Wipe stored gateway sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := setupEnv()
		if err != nil {
			return err
		}
		message, err := m.ClearSessions()
		if err != nil {
			return err
		}
		cmd.Println(message)
		return nil
	},
}
