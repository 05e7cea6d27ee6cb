package cmd

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/kardianos/service"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/clawdesk/clawdesk/api"
)

var serviceName string

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the ClawDesk background service",
}

func init() {
	defaultServiceName := "clawdesk"
	if runtime.GOOS == "windows" {
		defaultServiceName = "ClawDesk"
	}
	rootCmd.PersistentFlags().StringVarP(&serviceName, "service", "s", defaultServiceName, "ClawDesk system service name")

	serviceCmd.AddCommand(runCmd, svcStartCmd, svcStopCmd, svcRestartCmd, svcStatusCmd, svcInstallCmd, svcUninstallCmd)
}

// program adapts the API server to the service manager lifecycle.
type program struct {
	ctx    context.Context
	cancel context.CancelFunc
	server *api.Server
}

func newProgram(ctx context.Context, cancel context.CancelFunc) *program {
	return &program{ctx: ctx, cancel: cancel}
}

func (p *program) Start(service.Service) error {
	manager, err := setupEnv()
	if err != nil {
		return err
	}
	p.server = api.NewServer(manager, apiAddr)
	go func() {
		if err := p.server.Serve(); err != nil {
			log.Errorf("API server stopped: %v", err)
			p.cancel()
		}
	}()
	log.Infof("ClawDesk service started, version %s", rootCmd.Version)
	return nil
}

func (p *program) Stop(service.Service) error {
	if p.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.server.Shutdown(shutdownCtx); err != nil {
			log.Warnf("API server shutdown: %v", err)
		}
	}
	p.cancel()
	log.Info("ClawDesk service stopped")
	return nil
}

func newSVCConfig() *service.Config {
	config := &service.Config{
		Name:        serviceName,
		DisplayName: "ClawDesk",
		Description: "ClawDesk OpenClaw gateway installer and supervisor",
		Option:      make(service.KeyValue),
		Arguments:   []string{"service", "run", "--api-addr", apiAddr, "--log-level", logLevel},
	}
	if dataDir != "" {
		config.Arguments = append(config.Arguments, "--data-dir", dataDir)
	}
	if logFile != "" {
		config.Arguments = append(config.Arguments, "--log-file", logFile)
	}
	return config
}

func newSVC(prg *program, conf *service.Config) (service.Service, error) {
	return service.New(prg, conf)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the service in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandCtx()
		defer cancel()

		s, err := newSVC(newProgram(ctx, cancel), newSVCConfig())
		if err != nil {
			return err
		}
		return s.Run()
	},
}

var svcStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the installed service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serviceControl(cmd, "start")
	},
}

var svcStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the installed service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serviceControl(cmd, "stop")
	},
}

var svcRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the installed service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serviceControl(cmd, "restart")
	},
}

var svcInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the service with the system service manager",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serviceControl(cmd, "install")
	},
}

var svcUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the service from the system service manager",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serviceControl(cmd, "uninstall")
	},
}

var svcStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the service state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandCtx()
		defer cancel()
		s, err := newSVC(newProgram(ctx, cancel), newSVCConfig())
		if err != nil {
			return err
		}
		status, err := s.Status()
		if err != nil {
			return err
		}
		switch status {
		case service.StatusRunning:
			cmd.Println("running")
		case service.StatusStopped:
			cmd.Println("stopped")
		default:
			cmd.Println("unknown")
		}
		return nil
	},
}

func serviceControl(cmd *cobra.Command, action string) error {
	ctx, cancel := commandCtx()
	defer cancel()
	s, err := newSVC(newProgram(ctx, cancel), newSVCConfig())
	if err != nil {
		return err
	}
	if err := service.Control(s, action); err != nil {
		return fmt.Errorf("service %s: %w", action, err)
	}
	cmd.Printf("service %s: done\n", action)
	return nil
}
